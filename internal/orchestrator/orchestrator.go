// Package orchestrator owns the incident lifecycle: it accepts alerts, runs
// bounded analysis rounds across the agent fleet, and hands each round's
// consensus outcome to the resolution driver.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/moolen/quorum/internal/bus"
	"github.com/moolen/quorum/internal/config"
	"github.com/moolen/quorum/internal/consensus"
	"github.com/moolen/quorum/internal/harness"
	"github.com/moolen/quorum/internal/ledger"
	"github.com/moolen/quorum/internal/logging"
	"github.com/moolen/quorum/internal/metrics"
	"github.com/moolen/quorum/internal/models"
	"github.com/moolen/quorum/internal/resolution"
)

// Options bounds every incident the orchestrator runs.
type Options struct {
	// OverallTimeout is the wall-clock budget per incident. When it fires
	// the incident is abandoned with whatever findings exist.
	OverallTimeout time.Duration

	// MaxRounds caps the number of analysis rounds per incident.
	MaxRounds int

	// RetryMargin is how close a below-threshold weighted confidence must
	// come to the threshold to earn another round.
	RetryMargin float64

	// QuorumFraction and MinResponders parameterize the consensus quorum.
	QuorumFraction float64
	MinResponders  int
}

// recordTimeout bounds the ledger bookkeeping that must outlive an expired
// incident context: fan-in results and the abandonment record.
const recordTimeout = 5 * time.Second

// Orchestrator fans alerts out to the agent fleet and drives each incident
// to a terminal state. It implements lifecycle.Component; incidents opened
// after Stop are rejected.
type Orchestrator struct {
	opts      Options
	harnesses []*harness.Harness
	engine    *consensus.Engine
	driver    *resolution.Driver
	store     *ledger.Store
	events    *bus.Bus
	policy    *config.PolicyStore
	logger    *logging.Logger
	tracer    trace.Tracer

	mu      sync.Mutex
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// now is the clock, overridable in tests.
	now func() time.Time
}

// New creates an orchestrator over the given agent harnesses.
func New(opts Options, harnesses []*harness.Harness, engine *consensus.Engine, driver *resolution.Driver, store *ledger.Store, events *bus.Bus, policy *config.PolicyStore) *Orchestrator {
	if opts.MaxRounds < 1 {
		opts.MaxRounds = 1
	}
	return &Orchestrator{
		opts:      opts,
		harnesses: harnesses,
		engine:    engine,
		driver:    driver,
		store:     store,
		events:    events,
		policy:    policy,
		logger:    logging.GetLogger("orchestrator"),
		tracer:    otel.Tracer("orchestrator"),
		now:       time.Now,
	}
}

// Start implements lifecycle.Component.
func (o *Orchestrator) Start(_ context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	// Incident runs outlive the startup context; they are bounded by their
	// own overall timeout and cancelled on Stop.
	o.baseCtx, o.cancel = context.WithCancel(context.Background())
	o.logger.Info("orchestrator started with %d agents, max %d rounds", len(o.harnesses), o.opts.MaxRounds)
	return nil
}

// Stop implements lifecycle.Component. In-flight incidents are cancelled and
// their runs awaited within the context deadline.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for in-flight incidents: %w", ctx.Err())
	}
}

// Name implements lifecycle.Component.
func (o *Orchestrator) Name() string {
	return "orchestrator"
}

// OpenIncident validates an alert, opens the incident in the ledger, and
// starts its resolution run in the background. The incident ID is returned
// synchronously so the caller can poll for the outcome.
func (o *Orchestrator) OpenIncident(ctx context.Context, alert models.Alert) (string, error) {
	category, err := models.ParseCategory(alert.Category)
	if err != nil {
		return "", err
	}
	severity, err := models.ParseSeverity(alert.Severity)
	if err != nil {
		return "", err
	}
	if alert.Description == "" {
		return "", models.NewValidationError("alert description must not be empty")
	}
	if _, ok := o.policy.Threshold(category); !ok {
		return "", models.NewValidationError("no policy configured for category %q", category)
	}

	o.mu.Lock()
	baseCtx := o.baseCtx
	o.mu.Unlock()
	if baseCtx == nil || baseCtx.Err() != nil {
		return "", errors.New("orchestrator is not running")
	}

	inc := &models.Incident{
		ID:          uuid.NewString(),
		Category:    category,
		Severity:    severity,
		Description: alert.Description,
		Evidence:    alert.Evidence,
		OpenedAt:    o.now().UTC(),
		State:       models.StatePending,
	}

	version, err := o.append(ctx, inc.ID, 0, models.Event{
		ID:         uuid.NewString(),
		IncidentID: inc.ID,
		Type:       models.EventIncidentOpened,
		State:      models.StatePending,
		Incident:   inc,
		RecordedAt: o.now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to open incident: %w", err)
	}

	o.logger.InfoWithFields("incident opened",
		logging.Field("incident_id", inc.ID),
		logging.Field("category", category),
		logging.Field("severity", severity.String()),
	)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(baseCtx, inc, version)
	}()
	return inc.ID, nil
}

// run drives one incident to a terminal state.
func (o *Orchestrator) run(ctx context.Context, inc *models.Incident, version int) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.OverallTimeout)
	defer cancel()

	ctx, span := o.tracer.Start(ctx, "incident.run", trace.WithAttributes(
		attribute.String("incident.id", inc.ID),
		attribute.String("incident.category", string(inc.Category)),
	))
	defer span.End()

	logger := o.logger.WithField("incident_id", inc.ID)

	for round := 1; round <= o.opts.MaxRounds; round++ {
		state, newVersion, err := o.runRound(ctx, inc, version, round)
		version = newVersion
		if err != nil {
			if isCanceled(err) {
				reason := "overall incident timeout elapsed"
				if errors.Is(ctx.Err(), context.Canceled) {
					reason = "engine shutdown"
				}
				o.abandon(inc, version, reason)
				return
			}
			logger.ErrorWithErr("incident run failed", err)
			o.abandon(inc, version, "internal error: "+err.Error())
			return
		}
		if state != models.StateAnalyzing {
			span.SetAttributes(attribute.String("incident.final_state", string(state)))
			return
		}
		// Driver asked for another round.
	}

	// The loop only falls through when the driver requested a retry on the
	// final round, which canRetry prevents.
	logger.Error("round budget exhausted without a terminal state")
	o.abandon(inc, version, "round budget exhausted")
}

// runRound executes one analysis round: fan-out, ledger bookkeeping,
// consensus, and the resolution drive.
func (o *Orchestrator) runRound(ctx context.Context, inc *models.Incident, version, round int) (models.LifecycleState, int, error) {
	ctx, span := o.tracer.Start(ctx, "incident.round", trace.WithAttributes(
		attribute.Int("round", round),
	))
	defer span.End()

	version, err := o.append(ctx, inc.ID, version, models.Event{
		ID:         uuid.NewString(),
		IncidentID: inc.ID,
		Type:       models.EventRoundStarted,
		Round:      round,
		State:      models.StateAnalyzing,
		RecordedAt: o.now().UTC(),
	})
	if err != nil {
		return models.StateAnalyzing, version, err
	}
	inc.State = models.StateAnalyzing
	inc.Round = round
	metrics.ObserveRound()

	findings, failures := o.fanOut(ctx, *inc, round)

	// Ledger writes are serialized after fan-in; the round owns the stream
	// and nothing else writes to this incident concurrently. The bookkeeping
	// runs on a detached context so partial findings reach the ledger even
	// when the overall budget expired mid-round.
	recordCtx, cancelRecord := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancelRecord()
	for _, failure := range failures {
		version, err = o.append(recordCtx, inc.ID, version, models.Event{
			ID:         uuid.NewString(),
			IncidentID: inc.ID,
			Type:       models.EventDispatchFailed,
			Round:      round,
			Reason:     failure.Error(),
			RecordedAt: o.now().UTC(),
		})
		if err != nil {
			return models.StateAnalyzing, version, err
		}
	}
	for i := range findings {
		f := findings[i]
		version, err = o.append(recordCtx, inc.ID, version, models.Event{
			ID:         uuid.NewString(),
			IncidentID: inc.ID,
			Type:       models.EventFindingRecorded,
			Round:      round,
			Finding:    &f,
			RecordedAt: o.now().UTC(),
		})
		if err != nil {
			return models.StateAnalyzing, version, err
		}
		inc.Findings = append(inc.Findings, f)
	}

	// With the partial findings recorded, an expired budget abandons the
	// incident.
	if ctx.Err() != nil {
		return models.StateAnalyzing, version, ctx.Err()
	}

	threshold, _ := o.policy.Threshold(inc.Category)
	policy := consensus.Policy{
		Threshold:      threshold,
		QuorumFraction: o.opts.QuorumFraction,
		MinResponders:  o.opts.MinResponders,
	}
	decision, consErr := o.engine.Decide(round, findings, o.policy.Weights(inc.Category), policy)
	if consErr != nil {
		var qerr *models.QuorumError
		if !errors.As(consErr, &qerr) {
			return models.StateAnalyzing, version, consErr
		}
	}

	if decision != nil {
		version, err = o.append(ctx, inc.ID, version, models.Event{
			ID:         uuid.NewString(),
			IncidentID: inc.ID,
			Type:       models.EventConsensusReached,
			Round:      round,
			State:      models.StateDeciding,
			Decision:   decision,
			RecordedAt: o.now().UTC(),
		})
		if err != nil {
			return models.StateAnalyzing, version, err
		}
		inc.State = models.StateDeciding
		inc.Decision = decision
	}

	canRetry := round < o.opts.MaxRounds &&
		decision != nil &&
		!decision.AutonomousEligible &&
		threshold-decision.WeightedConfidence <= o.opts.RetryMargin &&
		ctx.Err() == nil

	return o.driver.Drive(ctx, inc, version, decision, consErr, canRetry)
}

// fanOut dispatches the round to every agent whose breaker admits it and
// collects findings and failures. The round is bounded by the slowest
// agent's own deadline, so no extra round timer is needed.
func (o *Orchestrator) fanOut(ctx context.Context, snapshot models.Incident, round int) ([]models.Finding, []*models.DispatchFailure) {
	var (
		mu       sync.Mutex
		findings []models.Finding
		failures []*models.DispatchFailure
	)

	var g errgroup.Group
	for _, h := range o.harnesses {
		h := h
		if !h.Breaker().Allow() {
			o.logger.Debug("skipping %s in round %d: breaker open", h.Role(), round)
			continue
		}
		g.Go(func() error {
			finding, err := h.Dispatch(ctx, snapshot, round)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				var failure *models.DispatchFailure
				if errors.As(err, &failure) {
					failures = append(failures, failure)
				} else {
					failures = append(failures, &models.DispatchFailure{
						Role:  h.Role(),
						Round: round,
						Kind:  models.FailureProviderError,
						Err:   err,
					})
				}
				return nil
			}
			findings = append(findings, finding)
			return nil
		})
	}
	_ = g.Wait()

	return findings, failures
}

// abandon terminates the incident on budget exhaustion. The driver records
// it best-effort on a fresh context since the incident's own is already dead.
func (o *Orchestrator) abandon(inc *models.Incident, version int, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if _, err := o.driver.Abandon(ctx, inc, version, reason); err != nil {
		o.logger.ErrorWithErr("failed to record abandonment", err)
	}
}

// append writes a ledger event and mirrors it onto the telemetry bus.
func (o *Orchestrator) append(ctx context.Context, incidentID string, version int, ev models.Event) (int, error) {
	next, err := o.store.Append(ctx, incidentID, version, ev)
	if err != nil {
		return version, err
	}
	o.events.Publish(ev)
	return next, nil
}

func isCanceled(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
