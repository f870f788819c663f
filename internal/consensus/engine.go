// Package consensus implements the weighted consensus computation over the
// findings of one analysis round.
//
// With N responding agents the weighted vote tolerates up to floor((N-1)/3)
// agents producing arbitrary (Byzantine) findings, provided the weight tables
// keep any minority of that size below half of the renormalized weight. The
// default tables satisfy this for the four and five agent fleets.
package consensus

import (
	"sort"
	"time"

	"github.com/moolen/quorum/internal/logging"
	"github.com/moolen/quorum/internal/metrics"
	"github.com/moolen/quorum/internal/models"
)

// DefaultMinResponders is the minimum number of valid findings a round needs
// before a decision may be attempted.
const DefaultMinResponders = 2

// Policy parameterizes one consensus computation. Threshold comes from the
// incident's category; the quorum settings are engine-wide.
type Policy struct {
	// Threshold is the autonomous-eligibility bar for the weighted
	// confidence. Meeting the threshold exactly qualifies.
	Threshold float64

	// QuorumFraction is the minimum combined static weight of the
	// responding agents, measured before renormalization.
	QuorumFraction float64

	// MinResponders is the minimum number of valid findings.
	MinResponders int
}

// Engine aggregates per-round findings into a single consensus decision.
// It is stateless; all inputs arrive per call.
type Engine struct {
	logger *logging.Logger

	// now is the clock, overridable in tests.
	now func() time.Time
}

// NewEngine creates a consensus engine.
func NewEngine() *Engine {
	return &Engine{
		logger: logging.GetLogger("consensus"),
		now:    time.Now,
	}
}

// Decide computes the consensus decision for one round. weights maps each
// role to its static trust weight for the incident's category. Findings whose
// role has no configured weight are ignored. Returns a QuorumError when the
// responding agents cannot form a quorum.
func (e *Engine) Decide(round int, findings []models.Finding, weights map[string]float64, pol Policy) (*models.ConsensusDecision, error) {
	if pol.MinResponders <= 0 {
		pol.MinResponders = DefaultMinResponders
	}

	contributors := make([]models.Contribution, 0, len(findings))
	combined := 0.0
	for _, f := range findings {
		w, ok := weights[f.Role]
		if !ok {
			e.logger.Warn("ignoring finding from role %q: no weight configured", f.Role)
			continue
		}
		contributors = append(contributors, models.Contribution{
			Role:         f.Role,
			StaticWeight: w,
			Finding:      f,
		})
		combined += w
	}

	if len(contributors) < pol.MinResponders || combined < pol.QuorumFraction {
		return nil, &models.QuorumError{
			Round:          round,
			Responders:     len(contributors),
			CombinedWeight: combined,
			QuorumFraction: pol.QuorumFraction,
			MinResponders:  pol.MinResponders,
		}
	}

	// Renormalize over the responders so their weights sum to 1. Silent and
	// circuit-broken agents lose their vote instead of dragging the weighted
	// confidence toward zero.
	weighted := 0.0
	for i := range contributors {
		contributors[i].RenormalizedWeight = contributors[i].StaticWeight / combined
		weighted += contributors[i].RenormalizedWeight * contributors[i].Finding.Confidence
	}

	action := e.voteAction(contributors)

	sort.Slice(contributors, func(i, j int) bool {
		return contributors[i].Role < contributors[j].Role
	})

	decision := &models.ConsensusDecision{
		Round:              round,
		WeightedConfidence: weighted,
		Action:             action,
		AutonomousEligible: weighted >= pol.Threshold,
		Contributors:       contributors,
		ComputedAt:         e.now(),
	}

	metrics.ObserveConsensus(weighted)
	e.logger.InfoWithFields("consensus computed",
		logging.Field("round", round),
		logging.Field("responders", len(contributors)),
		logging.Field("weighted_confidence", weighted),
		logging.Field("action", action),
		logging.Field("autonomous_eligible", decision.AutonomousEligible),
	)
	return decision, nil
}

// voteAction runs the weighted action vote over the contributors. Each
// renormalized weight counts toward the agent's recommended action. Ties
// break first on the highest single finding confidence backing the action,
// then on the greater static weight behind it.
func (e *Engine) voteAction(contributors []models.Contribution) string {
	type tally struct {
		weight        float64
		maxConfidence float64
		maxStatic     float64
	}
	tallies := make(map[string]*tally)
	for _, c := range contributors {
		tl := tallies[c.Finding.Action]
		if tl == nil {
			tl = &tally{}
			tallies[c.Finding.Action] = tl
		}
		tl.weight += c.RenormalizedWeight
		if c.Finding.Confidence > tl.maxConfidence {
			tl.maxConfidence = c.Finding.Confidence
		}
		if c.StaticWeight > tl.maxStatic {
			tl.maxStatic = c.StaticWeight
		}
	}

	actions := make([]string, 0, len(tallies))
	for action := range tallies {
		actions = append(actions, action)
	}
	// Lexical order makes the final fallback deterministic regardless of
	// map iteration order.
	sort.Strings(actions)

	// Weight sums are compared with a tolerance so that two blocs holding
	// an exact tie are not separated by floating point rounding.
	const eps = 1e-9
	var winner string
	var best *tally
	for _, action := range actions {
		tl := tallies[action]
		switch {
		case best == nil || tl.weight > best.weight+eps:
		case tl.weight < best.weight-eps:
			continue
		case tl.maxConfidence > best.maxConfidence+eps:
		case tl.maxConfidence < best.maxConfidence-eps:
			continue
		case tl.maxStatic > best.maxStatic+eps:
		default:
			continue
		}
		winner = action
		best = tl
	}
	return winner
}
