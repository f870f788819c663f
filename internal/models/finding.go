package models

import "time"

// Finding is one agent's independent analysis output for a single round.
// Findings are immutable once emitted and are permanently attached to the
// round they were produced in.
type Finding struct {
	// Role is the producing agent's role name.
	Role string `json:"role"`

	// Confidence is the agent's self-assessed confidence in [0,1].
	Confidence float64 `json:"confidence"`

	// Action is the recommended remediation action token.
	Action string `json:"action"`

	// Evidence is the free-form supporting evidence payload.
	Evidence string `json:"evidence,omitempty"`

	// Round is the 1-based analysis round this finding belongs to.
	Round int `json:"round"`

	ProducedAt time.Time `json:"produced_at"`
}

// Validate enforces the strict finding schema at the harness boundary.
// Anything that fails here must be treated as an invalid-output dispatch
// failure, never as a low-confidence finding.
func (f Finding) Validate() error {
	if f.Role == "" {
		return NewValidationError("finding is missing the producing role")
	}
	if f.Confidence < 0 || f.Confidence > 1 {
		return NewValidationError("finding confidence %v is outside [0,1]", f.Confidence)
	}
	if f.Action == "" {
		return NewValidationError("finding is missing a recommended action")
	}
	return nil
}

// Contribution records one agent's share of a consensus decision: the
// finding it produced together with its static and renormalized weights.
type Contribution struct {
	Role               string  `json:"role"`
	StaticWeight       float64 `json:"static_weight"`
	RenormalizedWeight float64 `json:"renormalized_weight"`
	Finding            Finding `json:"finding"`
}

// ConsensusDecision is the consensus engine's single aggregated output for
// one round. It is immutable; a later round's decision supersedes it but
// never mutates it.
type ConsensusDecision struct {
	Round int `json:"round"`

	// WeightedConfidence is the renormalized-weight-averaged confidence.
	WeightedConfidence float64 `json:"weighted_confidence"`

	// Action is the winning recommended action after the weighted vote.
	Action string `json:"action"`

	// AutonomousEligible is true when WeightedConfidence meets or exceeds
	// the per-category threshold (boundary-inclusive).
	AutonomousEligible bool `json:"autonomous_eligible"`

	// Contributors lists every responding agent with its weights and
	// finding, so the decision can be audited after the fact.
	Contributors []Contribution `json:"contributors"`

	ComputedAt time.Time `json:"computed_at"`
}
