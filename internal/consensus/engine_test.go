package consensus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moolen/quorum/internal/models"
)

var fiveAgentWeights = map[string]float64{
	"detection":     0.15,
	"diagnosis":     0.30,
	"prediction":    0.20,
	"resolution":    0.25,
	"communication": 0.10,
}

func finding(role string, confidence float64, action string) models.Finding {
	return models.Finding{
		Role:       role,
		Confidence: confidence,
		Action:     action,
		Round:      1,
		ProducedAt: time.Now(),
	}
}

func defaultPolicy() Policy {
	return Policy{Threshold: 0.85, QuorumFraction: 0.5, MinResponders: 2}
}

func TestDecideAllRespond(t *testing.T) {
	e := NewEngine()
	findings := []models.Finding{
		finding("detection", 0.9, "restart-service"),
		finding("diagnosis", 0.85, "restart-service"),
		finding("prediction", 0.8, "restart-service"),
		finding("resolution", 0.95, "restart-service"),
		finding("communication", 0.9, "restart-service"),
	}

	dec, err := e.Decide(1, findings, fiveAgentWeights, defaultPolicy())
	require.NoError(t, err)

	assert.Equal(t, "restart-service", dec.Action)
	assert.Len(t, dec.Contributors, 5)

	sum := 0.0
	for _, c := range dec.Contributors {
		sum += c.RenormalizedWeight
	}
	assert.InDelta(t, 1.0, sum, 1e-9, "renormalized weights must sum to 1")

	// 0.15*0.9 + 0.30*0.85 + 0.20*0.8 + 0.25*0.95 + 0.10*0.9
	assert.InDelta(t, 0.8775, dec.WeightedConfidence, 1e-9)
	assert.True(t, dec.AutonomousEligible)
}

func TestDecideRenormalizationAfterDropout(t *testing.T) {
	e := NewEngine()
	weights := map[string]float64{
		"detection":  0.2,
		"diagnosis":  0.4,
		"prediction": 0.3,
		"resolution": 0.1,
	}
	// diagnosis (0.4) is silent.
	findings := []models.Finding{
		finding("detection", 0.9, "scale-up"),
		finding("prediction", 0.9, "scale-up"),
		finding("resolution", 0.9, "scale-up"),
	}

	dec, err := e.Decide(1, findings, weights, Policy{Threshold: 0.85, QuorumFraction: 0.5, MinResponders: 2})
	require.NoError(t, err)

	byRole := make(map[string]models.Contribution)
	for _, c := range dec.Contributors {
		byRole[c.Role] = c
	}
	assert.InDelta(t, 0.2/0.6, byRole["detection"].RenormalizedWeight, 1e-9)
	assert.InDelta(t, 0.3/0.6, byRole["prediction"].RenormalizedWeight, 1e-9)
	assert.InDelta(t, 0.1/0.6, byRole["resolution"].RenormalizedWeight, 1e-9)
}

func TestDecideInsufficientResponders(t *testing.T) {
	e := NewEngine()
	findings := []models.Finding{
		finding("diagnosis", 0.99, "restart-service"),
	}

	_, err := e.Decide(1, findings, fiveAgentWeights, defaultPolicy())
	require.Error(t, err)

	var qerr *models.QuorumError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, 1, qerr.Responders)
	assert.Equal(t, 2, qerr.MinResponders)
}

func TestDecideInsufficientCombinedWeight(t *testing.T) {
	e := NewEngine()
	// detection + communication carry 0.25 combined static weight.
	findings := []models.Finding{
		finding("detection", 0.95, "restart-service"),
		finding("communication", 0.95, "restart-service"),
	}

	_, err := e.Decide(1, findings, fiveAgentWeights, defaultPolicy())
	require.Error(t, err)

	var qerr *models.QuorumError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, 2, qerr.Responders)
	assert.InDelta(t, 0.25, qerr.CombinedWeight, 1e-9)
}

func TestDecideThresholdBoundaryInclusive(t *testing.T) {
	e := NewEngine()
	weights := map[string]float64{"detection": 0.5, "diagnosis": 0.5}
	findings := []models.Finding{
		finding("detection", 0.85, "restart-service"),
		finding("diagnosis", 0.85, "restart-service"),
	}

	dec, err := e.Decide(1, findings, weights, Policy{Threshold: 0.85, QuorumFraction: 0.5, MinResponders: 2})
	require.NoError(t, err)
	assert.InDelta(t, 0.85, dec.WeightedConfidence, 1e-9)
	assert.True(t, dec.AutonomousEligible, "weighted confidence equal to the threshold qualifies")
}

func TestDecideBelowThreshold(t *testing.T) {
	e := NewEngine()
	weights := map[string]float64{"detection": 0.5, "diagnosis": 0.5}
	findings := []models.Finding{
		finding("detection", 0.6, "restart-service"),
		finding("diagnosis", 0.7, "restart-service"),
	}

	dec, err := e.Decide(1, findings, weights, Policy{Threshold: 0.85, QuorumFraction: 0.5, MinResponders: 2})
	require.NoError(t, err)
	assert.False(t, dec.AutonomousEligible)
}

func TestDecideHighConfidenceQuorum(t *testing.T) {
	e := NewEngine()
	weights := map[string]float64{
		"detection":  0.25,
		"diagnosis":  0.25,
		"prediction": 0.25,
		"resolution": 0.25,
	}
	findings := []models.Finding{
		finding("detection", 0.9, "rollback-deploy"),
		finding("diagnosis", 0.85, "rollback-deploy"),
		finding("prediction", 0.8, "rollback-deploy"),
		finding("resolution", 0.95, "rollback-deploy"),
	}

	dec, err := e.Decide(1, findings, weights, Policy{Threshold: 0.70, QuorumFraction: 0.5, MinResponders: 2})
	require.NoError(t, err)
	assert.InDelta(t, 0.875, dec.WeightedConfidence, 1e-9)
	assert.True(t, dec.AutonomousEligible)
}

func TestVoteActionWeightedMajority(t *testing.T) {
	e := NewEngine()
	findings := []models.Finding{
		finding("detection", 0.9, "restart-service"),
		finding("diagnosis", 0.9, "rollback-deploy"),
		finding("prediction", 0.9, "rollback-deploy"),
		finding("resolution", 0.9, "restart-service"),
		finding("communication", 0.9, "restart-service"),
	}
	// restart-service: 0.15+0.25+0.10 = 0.50; rollback-deploy: 0.30+0.20 = 0.50.
	// Dead even, so the tie-break applies; raise one rollback confidence.
	findings[1].Confidence = 0.95

	dec, err := e.Decide(1, findings, fiveAgentWeights, Policy{Threshold: 0.99, QuorumFraction: 0.5, MinResponders: 2})
	require.NoError(t, err)
	assert.Equal(t, "rollback-deploy", dec.Action, "tie breaks on the highest single finding confidence")
}

func TestVoteActionTieBreakStaticWeight(t *testing.T) {
	e := NewEngine()
	weights := map[string]float64{"detection": 0.2, "diagnosis": 0.5, "prediction": 0.3}
	findings := []models.Finding{
		finding("detection", 0.8, "scale-up"),
		finding("prediction", 0.8, "scale-up"),
		finding("diagnosis", 0.8, "restart-service"),
	}
	// scale-up and restart-service each carry renormalized weight 0.5 and
	// identical max confidence; the diagnosis agent's greater static weight
	// decides.
	dec, err := e.Decide(1, findings, weights, Policy{Threshold: 0.99, QuorumFraction: 0.5, MinResponders: 2})
	require.NoError(t, err)
	assert.Equal(t, "restart-service", dec.Action)
}

func TestDecideToleratesByzantineMinority(t *testing.T) {
	e := NewEngine()
	// Five agents tolerate floor((5-1)/3) = 1 adversarial member. The
	// diagnosis agent pushes a harmful action at full confidence; the honest
	// majority still carries the vote and its weighted confidence.
	findings := []models.Finding{
		finding("detection", 0.9, "restart-service"),
		finding("diagnosis", 1.0, "wipe-database"),
		finding("prediction", 0.9, "restart-service"),
		finding("resolution", 0.9, "restart-service"),
		finding("communication", 0.9, "restart-service"),
	}

	dec, err := e.Decide(1, findings, fiveAgentWeights, defaultPolicy())
	require.NoError(t, err)
	assert.Equal(t, "restart-service", dec.Action,
		"a single adversarial agent must not flip the action vote")

	// restart-service holds 0.70 of the renormalized weight against the
	// adversary's 0.30.
	var honest float64
	for _, c := range dec.Contributors {
		if c.Finding.Action == "restart-service" {
			honest += c.RenormalizedWeight
		}
	}
	assert.InDelta(t, 0.70, honest, 1e-9)
}

func TestDecideIgnoresUnknownRole(t *testing.T) {
	e := NewEngine()
	weights := map[string]float64{"detection": 0.5, "diagnosis": 0.5}
	findings := []models.Finding{
		finding("detection", 0.9, "restart-service"),
		finding("diagnosis", 0.9, "restart-service"),
		finding("intruder", 1.0, "do-nothing"),
	}

	dec, err := e.Decide(1, findings, weights, Policy{Threshold: 0.85, QuorumFraction: 0.5, MinResponders: 2})
	require.NoError(t, err)
	assert.Len(t, dec.Contributors, 2)
	assert.Equal(t, "restart-service", dec.Action)
}

func TestContributorsSortedByRole(t *testing.T) {
	e := NewEngine()
	findings := []models.Finding{
		finding("resolution", 0.9, "restart-service"),
		finding("detection", 0.9, "restart-service"),
		finding("diagnosis", 0.9, "restart-service"),
	}

	dec, err := e.Decide(1, findings, fiveAgentWeights, defaultPolicy())
	require.NoError(t, err)

	roles := make([]string, 0, len(dec.Contributors))
	for _, c := range dec.Contributors {
		roles = append(roles, c.Role)
	}
	assert.Equal(t, []string{"detection", "diagnosis", "resolution"}, roles)
}
