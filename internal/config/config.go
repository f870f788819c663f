// Package config loads and validates the engine configuration from YAML and
// keeps the hot-reloadable decision policy (thresholds and playbooks) in a
// live store.
package config

import (
	"fmt"
	"math"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// weightSumTolerance absorbs floating point noise when checking that a
// category's weights sum to 1.0.
const weightSumTolerance = 1e-6

// Config holds all configuration for the engine.
type Config struct {
	Server      ServerConfig              `koanf:"server"`
	Ledger      LedgerConfig              `koanf:"ledger"`
	Escalations EscalationsConfig         `koanf:"escalations"`
	Tracing     TracingConfig             `koanf:"tracing"`
	Incident    IncidentConfig            `koanf:"incident"`
	Consensus   ConsensusConfig           `koanf:"consensus"`
	Breaker     BreakerConfig             `koanf:"breaker"`
	Provider    ProviderConfig            `koanf:"provider"`
	Agents      []AgentConfig             `koanf:"agents"`
	Categories  map[string]CategoryConfig `koanf:"categories"`
}

// ServerConfig holds the HTTP intake server settings.
type ServerConfig struct {
	// APIPort is the port the intake API listens on.
	APIPort int `koanf:"api_port"`
}

// LedgerConfig holds the incident ledger settings.
type LedgerConfig struct {
	// Path is the SQLite database path; ":memory:" for ephemeral use.
	Path string `koanf:"path"`
}

// EscalationsConfig holds the escalation log settings.
type EscalationsConfig struct {
	// Path is the JSONL escalation log path; empty disables the log.
	Path string `koanf:"path"`
}

// TracingConfig holds the OpenTelemetry export settings.
type TracingConfig struct {
	Enabled bool `koanf:"enabled"`

	// Endpoint is the OTLP gRPC endpoint.
	Endpoint string `koanf:"endpoint"`

	// TLSCAPath is the CA certificate for endpoint verification. Empty
	// with Insecure false uses the system roots.
	TLSCAPath string `koanf:"tls_ca"`

	// Insecure disables TLS entirely.
	Insecure bool `koanf:"tls_insecure"`
}

// IncidentConfig bounds one incident's lifecycle.
type IncidentConfig struct {
	// OverallTimeout is the wall-clock budget for the whole incident.
	OverallTimeout time.Duration `koanf:"overall_timeout"`

	// MaxRounds caps the number of analysis rounds per incident; at most 2.
	MaxRounds int `koanf:"max_rounds"`

	// RetryMargin is how close to the threshold a below-threshold decision
	// must be to earn another round.
	RetryMargin float64 `koanf:"retry_margin"`

	// ExecutionTimeout bounds one autonomous remediation attempt.
	ExecutionTimeout time.Duration `koanf:"execution_timeout"`
}

// ConsensusConfig holds the engine-wide quorum settings.
type ConsensusConfig struct {
	// QuorumFraction is the minimum combined static weight of responders.
	QuorumFraction float64 `koanf:"quorum_fraction"`

	// MinResponders is the minimum number of valid findings per round.
	MinResponders int `koanf:"min_responders"`
}

// BreakerConfig holds the shared circuit breaker settings.
type BreakerConfig struct {
	FailureThreshold int           `koanf:"failure_threshold"`
	Cooldown         time.Duration `koanf:"cooldown"`
}

// ProviderConfig holds the analysis provider settings.
type ProviderConfig struct {
	Model     string `koanf:"model"`
	MaxTokens int    `koanf:"max_tokens"`
}

// AgentConfig describes one analysis agent.
type AgentConfig struct {
	Role       string        `koanf:"role"`
	Timeout    time.Duration `koanf:"timeout"`
	MaxRetries int           `koanf:"max_retries"`
}

// CategoryConfig holds the per-category decision policy: the consensus
// threshold, the static trust weights, and the autonomous action allow-list.
type CategoryConfig struct {
	Threshold   float64            `koanf:"threshold"`
	Weights     map[string]float64 `koanf:"weights"`
	AutoActions []string           `koanf:"auto_actions"`
}

// DefaultConfig returns the built-in configuration: five agents and the four
// standard incident categories.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{APIPort: 8090},
		Ledger: LedgerConfig{Path: "quorum.db"},
		Incident: IncidentConfig{
			OverallTimeout:   5 * time.Minute,
			MaxRounds:        2,
			RetryMargin:      0.10,
			ExecutionTimeout: 60 * time.Second,
		},
		Consensus: ConsensusConfig{
			QuorumFraction: 0.5,
			MinResponders:  2,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			Cooldown:         30 * time.Second,
		},
		Provider: ProviderConfig{
			Model:     "claude-sonnet-4-5-20250929",
			MaxTokens: 1024,
		},
		Agents: []AgentConfig{
			{Role: "detection", Timeout: 20 * time.Second, MaxRetries: 1},
			{Role: "diagnosis", Timeout: 30 * time.Second, MaxRetries: 1},
			{Role: "prediction", Timeout: 20 * time.Second, MaxRetries: 1},
			{Role: "resolution", Timeout: 30 * time.Second, MaxRetries: 1},
			{Role: "communication", Timeout: 15 * time.Second, MaxRetries: 1},
		},
		Categories: map[string]CategoryConfig{
			"infrastructure-cascade": {
				Threshold: 0.85,
				Weights: map[string]float64{
					"detection": 0.20, "diagnosis": 0.30, "prediction": 0.25,
					"resolution": 0.15, "communication": 0.10,
				},
				AutoActions: []string{"restart-service", "rollback-deploy"},
			},
			"resource-exhaustion": {
				Threshold: 0.80,
				Weights: map[string]float64{
					"detection": 0.15, "diagnosis": 0.30, "prediction": 0.20,
					"resolution": 0.25, "communication": 0.10,
				},
				AutoActions: []string{"scale-up", "restart-service"},
			},
			"security": {
				Threshold: 0.95,
				Weights: map[string]float64{
					"detection": 0.30, "diagnosis": 0.30, "prediction": 0.15,
					"resolution": 0.15, "communication": 0.10,
				},
				// Security incidents always go to a human.
				AutoActions: nil,
			},
			"latency-degradation": {
				Threshold: 0.85,
				Weights: map[string]float64{
					"detection": 0.15, "diagnosis": 0.30, "prediction": 0.20,
					"resolution": 0.25, "communication": 0.10,
				},
				AutoActions: []string{"restart-service", "scale-up", "rollback-deploy"},
			},
		},
	}
}

// Load reads a YAML config file over the defaults and validates the result.
// An empty path returns the validated defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		k := koanf.New(".")
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config from %q: %w", path, err)
		}
		if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
			return nil, fmt.Errorf("failed to parse config from %q: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.APIPort < 1 || c.Server.APIPort > 65535 {
		return NewConfigError("server.api_port must be between 1 and 65535")
	}
	if c.Ledger.Path == "" {
		return NewConfigError("ledger.path must not be empty")
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return NewConfigError("tracing.endpoint must be set when tracing is enabled")
	}

	if c.Incident.OverallTimeout <= 0 {
		return NewConfigError("incident.overall_timeout must be positive")
	}
	if c.Incident.MaxRounds < 1 || c.Incident.MaxRounds > 2 {
		return NewConfigError("incident.max_rounds must be 1 or 2")
	}
	if c.Incident.RetryMargin < 0 || c.Incident.RetryMargin >= 1 {
		return NewConfigError("incident.retry_margin must be in [0, 1)")
	}
	if c.Incident.ExecutionTimeout <= 0 {
		return NewConfigError("incident.execution_timeout must be positive")
	}

	if c.Consensus.QuorumFraction <= 0 || c.Consensus.QuorumFraction > 1 {
		return NewConfigError("consensus.quorum_fraction must be in (0, 1]")
	}
	if c.Consensus.MinResponders < 1 {
		return NewConfigError("consensus.min_responders must be at least 1")
	}

	if c.Breaker.FailureThreshold < 1 {
		return NewConfigError("breaker.failure_threshold must be at least 1")
	}
	if c.Breaker.Cooldown <= 0 {
		return NewConfigError("breaker.cooldown must be positive")
	}

	if len(c.Agents) < 4 || len(c.Agents) > 5 {
		return NewConfigError("between 4 and 5 agents must be configured")
	}
	roles := make(map[string]bool, len(c.Agents))
	for _, agent := range c.Agents {
		if agent.Role == "" {
			return NewConfigError("agent role must not be empty")
		}
		if roles[agent.Role] {
			return NewConfigError(fmt.Sprintf("duplicate agent role %q", agent.Role))
		}
		roles[agent.Role] = true
		if agent.Timeout <= 0 {
			return NewConfigError(fmt.Sprintf("agent %q timeout must be positive", agent.Role))
		}
		if agent.MaxRetries < 0 {
			return NewConfigError(fmt.Sprintf("agent %q max_retries must not be negative", agent.Role))
		}
	}

	if len(c.Categories) == 0 {
		return NewConfigError("at least one incident category must be configured")
	}
	for name, cat := range c.Categories {
		if cat.Threshold <= 0 || cat.Threshold > 1 {
			return NewConfigError(fmt.Sprintf("category %q threshold must be in (0, 1]", name))
		}
		sum := 0.0
		for role, w := range cat.Weights {
			if !roles[role] {
				return NewConfigError(fmt.Sprintf("category %q references unknown agent role %q", name, role))
			}
			if w <= 0 {
				return NewConfigError(fmt.Sprintf("category %q weight for %q must be positive", name, role))
			}
			sum += w
		}
		if math.Abs(sum-1.0) > weightSumTolerance {
			return NewConfigError(fmt.Sprintf("category %q weights sum to %.6f, must sum to 1.0", name, sum))
		}
	}

	return nil
}

// AgentDescriptorFor returns the agent config for a role, if configured.
func (c *Config) AgentDescriptorFor(role string) (AgentConfig, bool) {
	for _, agent := range c.Agents {
		if agent.Role == role {
			return agent, true
		}
	}
	return AgentConfig{}, false
}

// MaxAgentTimeout returns the largest per-agent timeout. One analysis round
// is bounded by this value.
func (c *Config) MaxAgentTimeout() time.Duration {
	var max time.Duration
	for _, agent := range c.Agents {
		if agent.Timeout > max {
			max = agent.Timeout
		}
	}
	return max
}

// ConfigError represents a configuration error.
type ConfigError struct {
	message string
}

// NewConfigError creates a new configuration error.
func NewConfigError(message string) *ConfigError {
	return &ConfigError{message: message}
}

// Error returns the error message.
func (e *ConfigError) Error() string {
	return e.message
}
