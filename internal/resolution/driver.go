// Package resolution drives an incident from a consensus decision to a
// terminal state: autonomous execution, escalation to a human, or another
// analysis round.
package resolution

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/moolen/quorum/internal/bus"
	"github.com/moolen/quorum/internal/ledger"
	"github.com/moolen/quorum/internal/logging"
	"github.com/moolen/quorum/internal/metrics"
	"github.com/moolen/quorum/internal/models"
)

// Escalation reason codes recorded in metrics and the escalation log.
const (
	ReasonInsufficientQuorum = "insufficient_quorum"
	ReasonLowConfidence      = "low_confidence"
	ReasonActionNotAllowed   = "action_not_allowed"
	ReasonActionFailed       = "action_failed"
	ReasonSecurityPolicy     = "security_policy"
	ReasonAbandoned          = "abandoned"
)

// DefaultExecutionTimeout bounds one autonomous remediation attempt.
const DefaultExecutionTimeout = 60 * time.Second

// ActionPolicy answers whether an action may run autonomously for a
// category. Playbook is the static file-backed implementation; the config
// package provides a hot-reloadable one.
type ActionPolicy interface {
	Allowed(category models.Category, action string) bool
}

// Driver owns the decision half of the incident lifecycle. Given a round's
// consensus outcome it either executes the agreed action, escalates, or asks
// the caller for another round. All driver-side state transitions are
// appended to the ledger and mirrored onto the telemetry bus.
type Driver struct {
	store            *ledger.Store
	events           *bus.Bus
	executor         Executor
	playbook         ActionPolicy
	escalations      *EscalationLog
	executionTimeout time.Duration
	logger           *logging.Logger

	// now is the clock, overridable in tests.
	now func() time.Time
}

// NewDriver creates a resolution driver. escalations may be nil to disable
// the JSONL escalation log.
func NewDriver(store *ledger.Store, events *bus.Bus, executor Executor, playbook ActionPolicy, escalations *EscalationLog, executionTimeout time.Duration) *Driver {
	if executionTimeout <= 0 {
		executionTimeout = DefaultExecutionTimeout
	}
	return &Driver{
		store:            store,
		events:           events,
		executor:         executor,
		playbook:         playbook,
		escalations:      escalations,
		executionTimeout: executionTimeout,
		logger:           logging.GetLogger("resolution"),
		now:              time.Now,
	}
}

// Drive resolves one round's consensus outcome. inc is the incident snapshot
// after the round, version the ledger head the caller observed, decision the
// round's consensus decision (nil when consensusErr is set), and canRetry
// whether the caller has round budget left for another analysis round.
//
// The returned state is terminal (Resolved or EscalatedOpen) except when the
// driver requests another round, in which case it returns StateAnalyzing and
// the caller re-enters the analysis loop.
func (d *Driver) Drive(ctx context.Context, inc *models.Incident, version int, decision *models.ConsensusDecision, consensusErr error, canRetry bool) (models.LifecycleState, int, error) {
	logger := d.logger.WithField("incident_id", inc.ID)

	if consensusErr != nil {
		var qerr *models.QuorumError
		if errors.As(consensusErr, &qerr) {
			logger.Warn("round %d failed quorum: %v", qerr.Round, qerr)
			return d.escalate(ctx, inc, version, decision, ReasonInsufficientQuorum, consensusErr.Error())
		}
		return models.StatePending, version, consensusErr
	}

	if !decision.AutonomousEligible {
		if canRetry {
			logger.Info("round %d below threshold (%.3f), retrying", decision.Round, decision.WeightedConfidence)
			return models.StateAnalyzing, version, nil
		}
		return d.escalate(ctx, inc, version, decision, ReasonLowConfidence,
			"weighted confidence below the autonomous threshold with no round budget left")
	}

	if !d.playbook.Allowed(inc.Category, decision.Action) {
		reason := ReasonActionNotAllowed
		if inc.Category == models.CategorySecurity {
			reason = ReasonSecurityPolicy
		}
		return d.escalate(ctx, inc, version, decision, reason,
			"action "+decision.Action+" is not on the autonomous playbook for category "+string(inc.Category))
	}

	return d.execute(ctx, inc, version, decision)
}

// execute runs the agreed action once. A failed or timed-out execution is
// never retried; it always escalates with the action's failure attached.
func (d *Driver) execute(ctx context.Context, inc *models.Incident, version int, decision *models.ConsensusDecision) (models.LifecycleState, int, error) {
	start := d.now()

	execCtx, cancel := context.WithTimeout(ctx, d.executionTimeout)
	execErr := d.executor.Execute(execCtx, *inc, decision.Action)
	cancel()
	elapsed := d.now().Sub(start)

	executed := models.Event{
		ID:         uuid.NewString(),
		IncidentID: inc.ID,
		Type:       models.EventActionExecuted,
		Round:      decision.Round,
		State:      models.StateExecuting,
		Action:     decision.Action,
		Success:    execErr == nil,
		RecordedAt: d.now().UTC(),
	}
	if execErr != nil {
		executed.Reason = execErr.Error()
	}
	version, err := d.append(ctx, inc.ID, version, executed)
	if err != nil {
		return models.StateExecuting, version, err
	}

	if execErr != nil {
		actionErr := &models.ActionExecutionError{
			IncidentID: inc.ID,
			Action:     decision.Action,
			Elapsed:    elapsed,
			Err:        execErr,
		}
		d.logger.ErrorWithErr("remediation failed, escalating", actionErr)
		return d.escalate(ctx, inc, version, decision, ReasonActionFailed, actionErr.Error())
	}

	version, err = d.append(ctx, inc.ID, version, models.Event{
		ID:         uuid.NewString(),
		IncidentID: inc.ID,
		Type:       models.EventResolved,
		Round:      decision.Round,
		State:      models.StateResolved,
		Action:     decision.Action,
		RecordedAt: d.now().UTC(),
	})
	if err != nil {
		return models.StateExecuting, version, err
	}

	metrics.ObserveTerminalState(string(models.StateResolved))
	d.logger.InfoWithFields("incident resolved autonomously",
		logging.Field("incident_id", inc.ID),
		logging.Field("action", decision.Action),
		logging.Field("round", decision.Round),
		logging.Field("elapsed", elapsed.Round(time.Millisecond)),
	)
	return models.StateResolved, version, nil
}

// Abandon terminates an incident whose overall budget expired. Like an
// escalation it produces a human-actionable record carrying whatever partial
// findings the rounds collected.
func (d *Driver) Abandon(ctx context.Context, inc *models.Incident, version int, detail string) (int, error) {
	version, err := d.append(ctx, inc.ID, version, models.Event{
		ID:         uuid.NewString(),
		IncidentID: inc.ID,
		Type:       models.EventAbandoned,
		Round:      inc.Round,
		State:      models.StateAbandoned,
		Reason:     detail,
		RecordedAt: d.now().UTC(),
	})
	if err != nil {
		return version, err
	}

	if d.escalations != nil {
		rec := EscalationRecord{
			Timestamp:  d.now().UTC(),
			IncidentID: inc.ID,
			Category:   inc.Category,
			Severity:   inc.Severity.String(),
			Round:      inc.Round,
			Reason:     ReasonAbandoned,
			Detail:     detail,
			Decision:   inc.Decision,
			Findings:   inc.Findings,
		}
		if err := d.escalations.Record(rec); err != nil {
			d.logger.ErrorWithErr("failed to write escalation record", err)
		}
	}

	metrics.ObserveEscalation(ReasonAbandoned)
	metrics.ObserveTerminalState(string(models.StateAbandoned))
	d.logger.WarnWithFields("incident abandoned",
		logging.Field("incident_id", inc.ID),
		logging.Field("reason", detail),
		logging.Field("findings", len(inc.Findings)),
	)
	return version, nil
}

// escalate hands the incident to a human: ledger event, escalation log
// record, metrics, telemetry.
func (d *Driver) escalate(ctx context.Context, inc *models.Incident, version int, decision *models.ConsensusDecision, reason, detail string) (models.LifecycleState, int, error) {
	round := inc.Round
	if decision != nil {
		round = decision.Round
	}

	version, err := d.append(ctx, inc.ID, version, models.Event{
		ID:         uuid.NewString(),
		IncidentID: inc.ID,
		Type:       models.EventEscalated,
		Round:      round,
		State:      models.StateEscalatedOpen,
		Reason:     reason + ": " + detail,
		RecordedAt: d.now().UTC(),
	})
	if err != nil {
		return models.StateEscalating, version, err
	}

	if d.escalations != nil {
		rec := EscalationRecord{
			Timestamp:  d.now().UTC(),
			IncidentID: inc.ID,
			Category:   inc.Category,
			Severity:   inc.Severity.String(),
			Round:      round,
			Reason:     reason,
			Detail:     detail,
			Decision:   decision,
			Findings:   inc.Findings,
		}
		if err := d.escalations.Record(rec); err != nil {
			d.logger.ErrorWithErr("failed to write escalation record", err)
		}
	}

	metrics.ObserveEscalation(reason)
	metrics.ObserveTerminalState(string(models.StateEscalatedOpen))
	d.logger.WarnWithFields("incident escalated to a human",
		logging.Field("incident_id", inc.ID),
		logging.Field("reason", reason),
		logging.Field("round", round),
	)
	return models.StateEscalatedOpen, version, nil
}

// append writes a ledger event and mirrors it onto the telemetry bus.
func (d *Driver) append(ctx context.Context, incidentID string, version int, ev models.Event) (int, error) {
	next, err := d.store.Append(ctx, incidentID, version, ev)
	if err != nil {
		return version, err
	}
	if d.events != nil {
		d.events.Publish(ev)
	}
	return next, nil
}
