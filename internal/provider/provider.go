// Package provider implements the analysis provider abstraction backing the
// agents. The engine depends only on this contract: given incident context,
// return a raw finding or fail within the caller's deadline.
package provider

import (
	"context"

	"github.com/moolen/quorum/internal/models"
)

// Request carries the read-only incident context for one analysis call.
type Request struct {
	// Role is the analysis role being invoked (e.g. "diagnosis").
	Role string

	// Incident is an immutable snapshot of the incident under analysis.
	Incident models.Incident

	// Round is the 1-based consensus round number.
	Round int
}

// RawFinding is the provider's unvalidated output. Validation against the
// strict finding schema happens at the agent harness boundary, never here.
type RawFinding struct {
	Confidence float64 `json:"confidence"`
	Action     string  `json:"action"`
	Evidence   string  `json:"evidence"`
}

// Provider is the abstract reasoning/analysis capability behind each agent.
type Provider interface {
	// Analyze runs one analysis call. Implementations must respect the
	// context deadline.
	Analyze(ctx context.Context, req Request) (*RawFinding, error)

	// Name returns the provider name for logging and display.
	Name() string
}

// Config contains common configuration for providers.
type Config struct {
	// Model is the model identifier.
	Model string

	// MaxTokens is the maximum number of tokens to generate.
	MaxTokens int
}

// DefaultConfig returns sensible defaults for incident analysis.
func DefaultConfig() Config {
	return Config{
		Model:     "claude-sonnet-4-5-20250929",
		MaxTokens: 1024,
	}
}
