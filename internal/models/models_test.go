package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in      string
		want    Category
		wantErr bool
	}{
		{"security", CategorySecurity, false},
		{" Latency-Degradation ", CategoryLatencyDegradation, false},
		{"resource-exhaustion", CategoryResourceExhaustion, false},
		{"infrastructure-cascade", CategoryInfrastructureCascade, false},
		{"weather", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseCategory(tt.in)
		if tt.wantErr {
			require.Error(t, err, tt.in)
			assert.True(t, IsValidationError(err))
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestSeverityRoundTrip(t *testing.T) {
	for _, s := range []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical} {
		data, err := json.Marshal(s)
		require.NoError(t, err)

		var back Severity
		require.NoError(t, json.Unmarshal(data, &back))
		assert.Equal(t, s, back)
	}

	var s Severity
	assert.Error(t, json.Unmarshal([]byte(`"apocalyptic"`), &s))
}

func TestLifecycleStateTerminal(t *testing.T) {
	terminal := []LifecycleState{StateResolved, StateEscalatedOpen, StateAbandoned}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), s)
	}
	open := []LifecycleState{StatePending, StateAnalyzing, StateDeciding, StateExecuting, StateEscalating}
	for _, s := range open {
		assert.False(t, s.Terminal(), s)
	}
}

func TestFindingValidate(t *testing.T) {
	valid := Finding{Role: "diagnosis", Confidence: 0.5, Action: "restart-service"}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Finding)
	}{
		{"missing role", func(f *Finding) { f.Role = "" }},
		{"missing action", func(f *Finding) { f.Action = "" }},
		{"confidence below zero", func(f *Finding) { f.Confidence = -0.01 }},
		{"confidence above one", func(f *Finding) { f.Confidence = 1.01 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := valid
			tt.mutate(&f)
			err := f.Validate()
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
		})
	}

	boundary := valid
	boundary.Confidence = 0
	assert.NoError(t, boundary.Validate())
	boundary.Confidence = 1
	assert.NoError(t, boundary.Validate())
}

func TestDispatchFailureError(t *testing.T) {
	f := &DispatchFailure{Role: "prediction", Round: 2, Kind: FailureTimeout}
	assert.Contains(t, f.Error(), "prediction")
	assert.Contains(t, f.Error(), "timeout")
	assert.Nil(t, f.Unwrap())
}
