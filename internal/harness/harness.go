// Package harness wraps one agent's analysis capability with a bounded
// deadline and converts every outcome (success, timeout, provider error,
// malformed output) into either a valid finding or a dispatch failure.
package harness

import (
	"context"
	"errors"
	"time"

	"github.com/moolen/quorum/internal/breaker"
	"github.com/moolen/quorum/internal/logging"
	"github.com/moolen/quorum/internal/metrics"
	"github.com/moolen/quorum/internal/models"
	"github.com/moolen/quorum/internal/provider"
)

// Harness executes dispatches for a single agent role. Each Dispatch call is
// independent; harnesses share no mutable state beyond the role's breaker.
type Harness struct {
	desc     models.AgentDescriptor
	provider provider.Provider
	breaker  *breaker.Breaker
	logger   *logging.Logger

	// now is the clock, overridable in tests.
	now func() time.Time
}

// New creates a harness for one agent descriptor.
func New(desc models.AgentDescriptor, prov provider.Provider, brk *breaker.Breaker) *Harness {
	return &Harness{
		desc:     desc,
		provider: prov,
		breaker:  brk,
		logger:   logging.GetLogger("harness").WithField("role", desc.Role),
		now:      time.Now,
	}
}

// Role returns the agent's role name.
func (h *Harness) Role() string {
	return h.desc.Role
}

// Breaker returns the agent's circuit breaker.
func (h *Harness) Breaker() *breaker.Breaker {
	return h.breaker
}

// Dispatch invokes the agent's analysis capability once with the descriptor's
// per-call deadline. A malformed confidence or missing action is an
// invalid-output failure, never a low-confidence finding: that rule prevents
// a misbehaving agent from silently skewing consensus. The outcome is always
// reported to the role's circuit breaker.
func (h *Harness) Dispatch(ctx context.Context, snapshot models.Incident, round int) (models.Finding, error) {
	start := h.now()

	callCtx, cancel := context.WithTimeout(ctx, h.desc.Timeout)
	defer cancel()

	raw, err := h.analyzeWithRetry(callCtx, snapshot, round)
	if err != nil {
		failure := h.classify(err, round)
		// An expired parent context means the engine cancelled the round
		// (shutdown or overall incident timeout). That is not the agent's
		// fault and must not count toward its breaker.
		if ctx.Err() == nil {
			h.breaker.RecordFailure()
		}
		metrics.ObserveDispatch(h.desc.Role, h.now().Sub(start), metrics.OutcomeFailure)
		h.logger.Debug("dispatch failed in round %d: %v", round, failure)
		return models.Finding{}, failure
	}

	finding := models.Finding{
		Role:       h.desc.Role,
		Confidence: raw.Confidence,
		Action:     raw.Action,
		Evidence:   raw.Evidence,
		Round:      round,
		ProducedAt: h.now(),
	}

	if err := finding.Validate(); err != nil {
		failure := &models.DispatchFailure{
			Role:  h.desc.Role,
			Round: round,
			Kind:  models.FailureInvalidOutput,
			Err:   err,
		}
		h.breaker.RecordFailure()
		metrics.ObserveDispatch(h.desc.Role, h.now().Sub(start), metrics.OutcomeFailure)
		h.logger.Warn("agent produced invalid output in round %d: %v", round, err)
		return models.Finding{}, failure
	}

	h.breaker.RecordSuccess()
	metrics.ObserveDispatch(h.desc.Role, h.now().Sub(start), metrics.OutcomeSuccess)
	return finding, nil
}

// analyzeWithRetry retries provider errors up to MaxRetries within the call
// deadline. Timeouts are never retried: the deadline is the round's latency
// bound.
func (h *Harness) analyzeWithRetry(ctx context.Context, snapshot models.Incident, round int) (*provider.RawFinding, error) {
	req := provider.Request{
		Role:     h.desc.Role,
		Incident: snapshot,
		Round:    round,
	}

	var lastErr error
	for attempt := 0; attempt <= h.desc.MaxRetries; attempt++ {
		raw, err := h.provider.Analyze(ctx, req)
		if err == nil {
			return raw, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < h.desc.MaxRetries {
			h.logger.Debug("provider error on attempt %d, retrying: %v", attempt+1, err)
		}
	}
	return nil, lastErr
}

// classify maps a provider-level error onto a dispatch failure kind.
func (h *Harness) classify(err error, round int) *models.DispatchFailure {
	kind := models.FailureProviderError
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		kind = models.FailureTimeout
	}
	return &models.DispatchFailure{
		Role:  h.desc.Role,
		Round: round,
		Kind:  kind,
		Err:   err,
	}
}
