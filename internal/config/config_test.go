package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moolen/quorum/internal/models"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.Agents, 5)
	assert.Len(t, cfg.Categories, 4)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quorum.yaml")
	content := `server:
  api_port: 9999
incident:
  overall_timeout: 2m
  max_rounds: 2
breaker:
  cooldown: 45s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.APIPort)
	assert.Equal(t, 2*time.Minute, cfg.Incident.OverallTimeout)
	assert.Equal(t, 45*time.Second, cfg.Breaker.Cooldown)
	// Untouched sections keep their defaults.
	assert.Equal(t, "quorum.db", cfg.Ledger.Path)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Len(t, cfg.Agents, 5)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "weights do not sum to one",
			mutate: func(c *Config) { c.Categories["security"].Weights["detection"] = 0.5 },
		},
		{
			name: "threshold above one",
			mutate: func(c *Config) {
				cat := c.Categories["security"]
				cat.Threshold = 1.5
				c.Categories["security"] = cat
			},
		},
		{
			name: "weight for unknown role",
			mutate: func(c *Config) {
				c.Categories["security"].Weights["oracle"] = 0.10
				delete(c.Categories["security"].Weights, "communication")
			},
		},
		{
			name:   "too few agents",
			mutate: func(c *Config) { c.Agents = c.Agents[:3] },
		},
		{
			name: "duplicate agent role",
			mutate: func(c *Config) {
				c.Agents[1].Role = c.Agents[0].Role
			},
		},
		{
			name:   "non-positive agent timeout",
			mutate: func(c *Config) { c.Agents[0].Timeout = 0 },
		},
		{
			name:   "quorum fraction above one",
			mutate: func(c *Config) { c.Consensus.QuorumFraction = 1.2 },
		},
		{
			name:   "zero max rounds",
			mutate: func(c *Config) { c.Incident.MaxRounds = 0 },
		},
		{
			name:   "more than two rounds",
			mutate: func(c *Config) { c.Incident.MaxRounds = 3 },
		},
		{
			name:   "tracing enabled without endpoint",
			mutate: func(c *Config) { c.Tracing.Enabled = true },
		},
		{
			name:   "empty ledger path",
			mutate: func(c *Config) { c.Ledger.Path = "" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)

			var cfgErr *ConfigError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestMaxAgentTimeout(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 30*time.Second, cfg.MaxAgentTimeout())
}

func TestPolicyStoreUpdate(t *testing.T) {
	store := NewPolicyStore(DefaultConfig().Categories)

	threshold, ok := store.Threshold(models.CategorySecurity)
	require.True(t, ok)
	assert.Equal(t, 0.95, threshold)
	assert.False(t, store.Allowed(models.CategorySecurity, "isolate-host"))
	assert.True(t, store.Allowed(models.CategoryLatencyDegradation, "scale-up"))

	store.Update(map[string]CategoryConfig{
		"security": {
			Threshold:   0.90,
			Weights:     map[string]float64{"detection": 1.0},
			AutoActions: []string{"isolate-host"},
		},
	})

	threshold, ok = store.Threshold(models.CategorySecurity)
	require.True(t, ok)
	assert.Equal(t, 0.90, threshold)
	assert.True(t, store.Allowed(models.CategorySecurity, "isolate-host"))

	_, ok = store.Threshold(models.CategoryLatencyDegradation)
	assert.False(t, ok, "update replaces the whole policy")
}

func TestPolicyStoreWeightsCopied(t *testing.T) {
	store := NewPolicyStore(DefaultConfig().Categories)

	weights := store.Weights(models.CategorySecurity)
	require.NotNil(t, weights)
	weights["detection"] = 99

	fresh := store.Weights(models.CategorySecurity)
	assert.Equal(t, 0.30, fresh["detection"], "callers must not mutate the store")
}

func TestWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quorum.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  api_port: 8090\n"), 0600))

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(WatcherConfig{FilePath: path, DebounceMillis: 50}, func(cfg *Config) error {
		select {
		case reloaded <- cfg:
		default:
		}
		return nil
	})
	require.NoError(t, err)

	ctx := t.Context()
	require.NoError(t, w.Start(ctx))
	defer func() { require.NoError(t, w.Stop(context.Background())) }()

	require.NoError(t, os.WriteFile(path, []byte("server:\n  api_port: 9001\n"), 0600))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 9001, cfg.Server.APIPort)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}
