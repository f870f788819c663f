package harness

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moolen/quorum/internal/breaker"
	"github.com/moolen/quorum/internal/models"
	"github.com/moolen/quorum/internal/provider"
)

func newTestHarness(t *testing.T, desc models.AgentDescriptor) (*Harness, *provider.MockProvider, *breaker.Breaker) {
	t.Helper()
	mock := provider.NewMockProvider()
	brk := breaker.New(desc.Role, breaker.DefaultFailureThreshold, breaker.DefaultCooldown)
	return New(desc, mock, brk), mock, brk
}

func testIncident() models.Incident {
	return models.Incident{
		ID:          "inc-test",
		Category:    models.CategoryLatencyDegradation,
		Severity:    models.SeverityHigh,
		Description: "p99 latency above SLO",
		OpenedAt:    time.Now(),
		State:       models.StateAnalyzing,
	}
}

func TestDispatchSuccess(t *testing.T) {
	desc := models.AgentDescriptor{Role: "diagnosis", Timeout: time.Second}
	h, mock, brk := newTestHarness(t, desc)
	mock.ScriptFinding("diagnosis", 0.92, "restart-service")

	finding, err := h.Dispatch(context.Background(), testIncident(), 1)
	require.NoError(t, err)

	assert.Equal(t, "diagnosis", finding.Role)
	assert.Equal(t, 0.92, finding.Confidence)
	assert.Equal(t, "restart-service", finding.Action)
	assert.Equal(t, 1, finding.Round)
	assert.False(t, finding.ProducedAt.IsZero())
	assert.Equal(t, breaker.Closed, brk.State())
}

func TestDispatchTimeout(t *testing.T) {
	desc := models.AgentDescriptor{Role: "prediction", Timeout: 20 * time.Millisecond}
	h, mock, _ := newTestHarness(t, desc)
	mock.Script("prediction", provider.MockResponse{
		Finding: &provider.RawFinding{Confidence: 0.8, Action: "scale-up"},
		Delay:   time.Second,
	})

	_, err := h.Dispatch(context.Background(), testIncident(), 1)
	require.Error(t, err)

	var failure *models.DispatchFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, models.FailureTimeout, failure.Kind)
	assert.Equal(t, "prediction", failure.Role)
	assert.Equal(t, 1, mock.Calls("prediction"), "timeouts must not be retried")
}

func TestDispatchProviderErrorRetried(t *testing.T) {
	desc := models.AgentDescriptor{Role: "detection", Timeout: time.Second, MaxRetries: 2}
	h, mock, _ := newTestHarness(t, desc)
	mock.Script("detection",
		provider.MockResponse{Err: errors.New("rate limited")},
		provider.MockResponse{Err: errors.New("rate limited")},
		provider.MockResponse{Finding: &provider.RawFinding{Confidence: 0.7, Action: "isolate-host"}},
	)

	finding, err := h.Dispatch(context.Background(), testIncident(), 1)
	require.NoError(t, err)
	assert.Equal(t, "isolate-host", finding.Action)
	assert.Equal(t, 3, mock.Calls("detection"))
}

func TestDispatchProviderErrorExhausted(t *testing.T) {
	desc := models.AgentDescriptor{Role: "detection", Timeout: time.Second, MaxRetries: 1}
	h, mock, _ := newTestHarness(t, desc)
	mock.Script("detection", provider.MockResponse{Err: errors.New("upstream unavailable")})

	_, err := h.Dispatch(context.Background(), testIncident(), 2)
	require.Error(t, err)

	var failure *models.DispatchFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, models.FailureProviderError, failure.Kind)
	assert.Equal(t, 2, failure.Round)
	assert.Equal(t, 2, mock.Calls("detection"))
}

func TestDispatchInvalidOutput(t *testing.T) {
	tests := []struct {
		name    string
		finding provider.RawFinding
	}{
		{
			name:    "confidence above one",
			finding: provider.RawFinding{Confidence: 1.3, Action: "restart-service"},
		},
		{
			name:    "negative confidence",
			finding: provider.RawFinding{Confidence: -0.1, Action: "restart-service"},
		},
		{
			name:    "missing action",
			finding: provider.RawFinding{Confidence: 0.5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc := models.AgentDescriptor{Role: "resolution", Timeout: time.Second}
			h, mock, _ := newTestHarness(t, desc)
			raw := tt.finding
			mock.Script("resolution", provider.MockResponse{Finding: &raw})

			_, err := h.Dispatch(context.Background(), testIncident(), 1)
			require.Error(t, err)

			var failure *models.DispatchFailure
			require.ErrorAs(t, err, &failure)
			assert.Equal(t, models.FailureInvalidOutput, failure.Kind)
		})
	}
}

func TestDispatchFailuresTripBreaker(t *testing.T) {
	desc := models.AgentDescriptor{Role: "communication", Timeout: time.Second}
	mock := provider.NewMockProvider()
	brk := breaker.New(desc.Role, 3, time.Minute)
	h := New(desc, mock, brk)
	mock.Script("communication", provider.MockResponse{Err: errors.New("boom")})

	for i := 0; i < 3; i++ {
		_, err := h.Dispatch(context.Background(), testIncident(), 1)
		require.Error(t, err)
	}
	assert.Equal(t, breaker.Open, brk.State())
	assert.False(t, brk.Allow())
}

func TestDispatchEngineCancelSparesBreaker(t *testing.T) {
	desc := models.AgentDescriptor{Role: "prediction", Timeout: time.Second}
	mock := provider.NewMockProvider()
	brk := breaker.New(desc.Role, 3, time.Minute)
	h := New(desc, mock, brk)
	mock.Script("prediction", provider.MockResponse{
		Finding: &provider.RawFinding{Confidence: 0.8, Action: "scale-up"},
		Delay:   time.Minute,
	})

	// The engine cancelling a round (shutdown, overall incident timeout)
	// must not count against the agent's consecutive-failure counter.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 3; i++ {
		_, err := h.Dispatch(ctx, testIncident(), 1)
		require.Error(t, err)
	}
	assert.Equal(t, breaker.Closed, brk.State())
	assert.True(t, brk.Allow())

	// A genuine per-call timeout still counts.
	mock.Script("prediction", provider.MockResponse{
		Finding: &provider.RawFinding{Confidence: 0.8, Action: "scale-up"},
		Delay:   time.Minute,
	})
	h2 := New(models.AgentDescriptor{Role: "prediction", Timeout: 10 * time.Millisecond}, mock, brk)
	_, err := h2.Dispatch(context.Background(), testIncident(), 1)
	require.Error(t, err)
	assert.Equal(t, 1, brk.FailureCount())
}

func TestDispatchSuccessResetsBreaker(t *testing.T) {
	desc := models.AgentDescriptor{Role: "diagnosis", Timeout: time.Second}
	mock := provider.NewMockProvider()
	brk := breaker.New(desc.Role, 3, time.Minute)
	h := New(desc, mock, brk)
	mock.Script("diagnosis",
		provider.MockResponse{Err: errors.New("boom")},
		provider.MockResponse{Err: errors.New("boom")},
		provider.MockResponse{Finding: &provider.RawFinding{Confidence: 0.6, Action: "rollback-deploy"}},
		provider.MockResponse{Err: errors.New("boom")},
	)

	_, err := h.Dispatch(context.Background(), testIncident(), 1)
	require.Error(t, err)
	_, err = h.Dispatch(context.Background(), testIncident(), 1)
	require.Error(t, err)

	_, err = h.Dispatch(context.Background(), testIncident(), 1)
	require.NoError(t, err)
	assert.Equal(t, breaker.Closed, brk.State())

	// A single failure after reset must not trip a threshold of 3.
	_, err = h.Dispatch(context.Background(), testIncident(), 2)
	require.Error(t, err)
	assert.Equal(t, breaker.Closed, brk.State())
}
