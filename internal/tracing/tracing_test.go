package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name        string
		cfg         Config
		expectError bool
	}{
		{
			name: "disabled provider",
			cfg:  Config{Enabled: false},
		},
		{
			name: "enabled without endpoint",
			cfg:  Config{Enabled: true},

			expectError: true,
		},
		{
			name: "insecure skip verify",
			cfg: Config{
				Enabled:     true,
				Endpoint:    "localhost:4317",
				TLSInsecure: true,
			},
		},
		{
			name: "missing CA certificate",
			cfg: Config{
				Enabled:   true,
				Endpoint:  "localhost:4317",
				TLSCAPath: "/does/not/exist/ca.crt",
			},
			expectError: true,
		},
		{
			name: "plaintext connection",
			cfg: Config{
				Enabled:  true,
				Endpoint: "localhost:4317",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewProvider(tt.cfg)
			if tt.expectError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.cfg.Enabled, provider.IsEnabled())
			assert.NotNil(t, provider.Tracer("test"))
			assert.NoError(t, provider.Start(context.Background()))
		})
	}
}

func TestDisabledProviderStopIsNoop(t *testing.T) {
	provider, err := NewProvider(Config{})
	require.NoError(t, err)
	assert.NoError(t, provider.Stop(context.Background()))
}
