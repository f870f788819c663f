// Package models defines the core domain types shared across the quorum
// engine: incidents, findings, consensus decisions, and the event types
// recorded in the incident ledger.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Category classifies an incident. The weight table and consensus threshold
// are selected per category.
type Category string

const (
	CategoryInfrastructureCascade Category = "infrastructure-cascade"
	CategoryResourceExhaustion    Category = "resource-exhaustion"
	CategorySecurity              Category = "security"
	CategoryLatencyDegradation    Category = "latency-degradation"
)

// ParseCategory converts a string into a known Category.
func ParseCategory(s string) (Category, error) {
	switch Category(strings.ToLower(strings.TrimSpace(s))) {
	case CategoryInfrastructureCascade:
		return CategoryInfrastructureCascade, nil
	case CategoryResourceExhaustion:
		return CategoryResourceExhaustion, nil
	case CategorySecurity:
		return CategorySecurity, nil
	case CategoryLatencyDegradation:
		return CategoryLatencyDegradation, nil
	default:
		return "", NewValidationError("unknown incident category: %q", s)
	}
}

// Severity is the ordered incident severity scale.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the lowercase severity name.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSeverity converts a string into a Severity.
func ParseSeverity(v string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "low":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	case "critical":
		return SeverityCritical, nil
	default:
		return 0, NewValidationError("unknown severity: %q", v)
	}
}

// LifecycleState is the resolution driver state machine position of an
// incident. Terminal states are never left once entered.
type LifecycleState string

const (
	StatePending       LifecycleState = "pending"
	StateAnalyzing     LifecycleState = "analyzing"
	StateDeciding      LifecycleState = "deciding"
	StateExecuting     LifecycleState = "executing"
	StateEscalating    LifecycleState = "escalating"
	StateResolved      LifecycleState = "resolved"
	StateEscalatedOpen LifecycleState = "escalated_open"
	StateAbandoned     LifecycleState = "abandoned"
)

// Terminal reports whether the state is a terminal lifecycle state.
func (s LifecycleState) Terminal() bool {
	switch s {
	case StateResolved, StateEscalatedOpen, StateAbandoned:
		return true
	}
	return false
}

// Alert is the opaque inbound payload accepted by the intake API.
type Alert struct {
	Category    string `json:"category" yaml:"category"`
	Severity    string `json:"severity" yaml:"severity"`
	Description string `json:"description" yaml:"description"`
	Evidence    string `json:"evidence" yaml:"evidence"`
}

// Incident is a snapshot of one incident's identity, attributes, and
// lifecycle position. The authoritative record is the ledger; snapshots are
// reconstructed from it by replay.
type Incident struct {
	// ID is the unique incident identifier, immutable once created.
	ID string `json:"id"`

	Category Category `json:"category"`
	Severity Severity `json:"severity"`

	// Description and Evidence carry the inbound alert payload verbatim.
	Description string `json:"description"`
	Evidence    string `json:"evidence,omitempty"`

	OpenedAt time.Time      `json:"opened_at"`
	State    LifecycleState `json:"state"`

	// Round is the current (or last completed) analysis round, 1-based.
	// Zero before the first round starts.
	Round int `json:"round"`

	// Findings accumulates every finding recorded across all rounds.
	Findings []Finding `json:"findings,omitempty"`

	// Decision is the most recent consensus decision, superseded by each
	// new round's decision.
	Decision *ConsensusDecision `json:"decision,omitempty"`
}

// AgentDescriptor is the static configuration of one analysis agent.
// Descriptors are fixed at configuration time; runtime adaptation happens by
// excluding an agent from a round, never by changing its weight.
type AgentDescriptor struct {
	// Role is the agent's fixed role name (e.g. "detection", "diagnosis").
	Role string

	// Timeout is the per-call deadline for one dispatch.
	Timeout time.Duration

	// MaxRetries is the number of provider-error retries within one
	// dispatch. Timeouts and invalid output are never retried.
	MaxRetries int
}
