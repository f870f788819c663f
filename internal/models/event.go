package models

import "time"

// EventType identifies a ledger/telemetry event.
type EventType string

const (
	// EventIncidentOpened is recorded when an alert is accepted and an
	// incident is created.
	EventIncidentOpened EventType = "incident_opened"
	// EventRoundStarted is recorded when a consensus round fans out.
	EventRoundStarted EventType = "round_started"
	// EventFindingRecorded is recorded for every valid agent finding.
	EventFindingRecorded EventType = "finding_recorded"
	// EventDispatchFailed is recorded for every failed agent dispatch.
	// Telemetry-only detail; the failure itself is handled locally.
	EventDispatchFailed EventType = "dispatch_failed"
	// EventConsensusReached is recorded when the consensus engine produces
	// a decision for a round.
	EventConsensusReached EventType = "consensus_reached"
	// EventActionExecuted is recorded after an autonomous remediation
	// attempt, successful or not.
	EventActionExecuted EventType = "action_executed"
	// EventEscalated is recorded when the incident is handed to a human.
	EventEscalated EventType = "escalated"
	// EventResolved is recorded when an autonomous remediation succeeds.
	EventResolved EventType = "resolved"
	// EventAbandoned is recorded when the overall incident timeout fires.
	EventAbandoned EventType = "abandoned"
)

// Event is one immutable entry in an incident's history. Every state
// transition, finding, and consensus decision is recorded as an event; the
// full incident is reconstructable by replaying its events in order.
type Event struct {
	// ID is a unique event identifier.
	ID string `json:"id"`

	// IncidentID is the incident this event belongs to.
	IncidentID string `json:"incident_id"`

	Type EventType `json:"type"`

	// Round is the analysis round the event belongs to, zero for
	// round-independent events such as incident_opened.
	Round int `json:"round,omitempty"`

	// State is the lifecycle state the incident entered with this event,
	// if the event represents a transition.
	State LifecycleState `json:"state,omitempty"`

	// Incident carries the initial snapshot on incident_opened.
	Incident *Incident `json:"incident,omitempty"`

	// Finding is set on finding_recorded.
	Finding *Finding `json:"finding,omitempty"`

	// Decision is set on consensus_reached.
	Decision *ConsensusDecision `json:"decision,omitempty"`

	// Reason carries human-readable context for escalations, failures,
	// and abandonment.
	Reason string `json:"reason,omitempty"`

	// Action is set on action_executed.
	Action string `json:"action,omitempty"`

	// Success is set on action_executed.
	Success bool `json:"success,omitempty"`

	RecordedAt time.Time `json:"recorded_at"`
}
