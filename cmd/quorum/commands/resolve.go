package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/moolen/quorum/internal/breaker"
	"github.com/moolen/quorum/internal/bus"
	"github.com/moolen/quorum/internal/config"
	"github.com/moolen/quorum/internal/consensus"
	"github.com/moolen/quorum/internal/harness"
	"github.com/moolen/quorum/internal/ledger"
	"github.com/moolen/quorum/internal/logging"
	"github.com/moolen/quorum/internal/models"
	"github.com/moolen/quorum/internal/orchestrator"
	"github.com/moolen/quorum/internal/provider"
	"github.com/moolen/quorum/internal/resolution"
)

var (
	resolveConfigPath  string
	resolveAlertFile   string
	resolveCategory    string
	resolveSeverity    string
	resolveDescription string
	resolveEvidence    string
	resolveMock        bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve a single alert and print the outcome",
	Long: `Run one alert through the full consensus pipeline with an ephemeral
in-memory ledger and print the terminal incident snapshot as JSON.`,
	Run: runResolve,
}

func init() {
	resolveCmd.Flags().StringVar(&resolveConfigPath, "config", "",
		"Path to the YAML config file (built-in defaults when empty)")
	resolveCmd.Flags().StringVar(&resolveAlertFile, "file", "",
		"Path to a YAML or JSON alert file; individual flags override its fields")
	resolveCmd.Flags().StringVar(&resolveCategory, "category", "", "Incident category")
	resolveCmd.Flags().StringVar(&resolveSeverity, "severity", "", "Incident severity")
	resolveCmd.Flags().StringVar(&resolveDescription, "description", "", "Incident description")
	resolveCmd.Flags().StringVar(&resolveEvidence, "evidence", "", "Supporting evidence payload")
	resolveCmd.Flags().BoolVar(&resolveMock, "mock", false,
		"Use the scripted mock analysis provider instead of the Anthropic API")
}

// buildAlert assembles the alert from --file and the individual flags. Flags
// take precedence over file fields; YAML parsing covers JSON files too.
func buildAlert() (models.Alert, error) {
	var alert models.Alert
	if resolveAlertFile != "" {
		data, err := os.ReadFile(resolveAlertFile)
		if err != nil {
			return alert, err
		}
		if err := yaml.Unmarshal(data, &alert); err != nil {
			return alert, fmt.Errorf("failed to parse alert file %q: %w", resolveAlertFile, err)
		}
	}
	if resolveCategory != "" {
		alert.Category = resolveCategory
	}
	if resolveSeverity != "" {
		alert.Severity = resolveSeverity
	}
	if resolveDescription != "" {
		alert.Description = resolveDescription
	}
	if resolveEvidence != "" {
		alert.Evidence = resolveEvidence
	}
	if alert.Severity == "" {
		alert.Severity = "high"
	}
	return alert, nil
}

func runResolve(cmd *cobra.Command, args []string) {
	if err := setupLog(logLevelFlags); err != nil {
		HandleError(err, "Failed to setup logging")
	}
	logger := logging.GetLogger("resolve")

	cfg, err := config.Load(resolveConfigPath)
	HandleError(err, "Configuration error")

	store, err := ledger.Open(":memory:")
	HandleError(err, "Ledger error")
	defer store.Close()

	events := bus.New(bus.DefaultBufferSize)
	defer events.Close()
	policy := config.NewPolicyStore(cfg.Categories)
	breakers := breaker.NewRegistry(cfg.Breaker.FailureThreshold, cfg.Breaker.Cooldown)

	var prov provider.Provider
	if resolveMock {
		mock := provider.NewMockProvider()
		for _, agent := range cfg.Agents {
			mock.ScriptFinding(agent.Role, 0.9, "restart-service")
		}
		prov = mock
	} else {
		prov = provider.NewAnthropicProvider(provider.Config{
			Model:     cfg.Provider.Model,
			MaxTokens: cfg.Provider.MaxTokens,
		})
	}

	harnesses := make([]*harness.Harness, 0, len(cfg.Agents))
	for _, agent := range cfg.Agents {
		desc := models.AgentDescriptor{
			Role:       agent.Role,
			Timeout:    agent.Timeout,
			MaxRetries: agent.MaxRetries,
		}
		harnesses = append(harnesses, harness.New(desc, prov, breakers.Get(agent.Role)))
	}

	driver := resolution.NewDriver(store, events, resolution.NewLogExecutor(), policy, nil, cfg.Incident.ExecutionTimeout)
	orch := orchestrator.New(orchestrator.Options{
		OverallTimeout: cfg.Incident.OverallTimeout,
		MaxRounds:      cfg.Incident.MaxRounds,
		RetryMargin:    cfg.Incident.RetryMargin,
		QuorumFraction: cfg.Consensus.QuorumFraction,
		MinResponders:  cfg.Consensus.MinResponders,
	}, harnesses, consensus.NewEngine(), driver, store, events, policy)

	ctx := context.Background()
	HandleError(orch.Start(ctx), "Startup error")

	alert, err := buildAlert()
	HandleError(err, "Alert error")

	id, err := orch.OpenIncident(ctx, alert)
	HandleError(err, "Alert rejected")
	logger.Info("incident %s opened, waiting for terminal state", id)

	inc, err := waitForTerminal(ctx, store, id, cfg.Incident.OverallTimeout+10*time.Second)
	HandleError(err, "Resolution error")

	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	HandleError(orch.Stop(stopCtx), "Shutdown error")

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	HandleError(encoder.Encode(inc), "Output error")
}

// waitForTerminal polls the ledger until the incident terminates.
func waitForTerminal(ctx context.Context, store *ledger.Store, id string, budget time.Duration) (*models.Incident, error) {
	deadline := time.Now().Add(budget)
	for time.Now().Before(deadline) {
		inc, err := store.Snapshot(ctx, id)
		if err == nil && inc.State.Terminal() {
			return inc, nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return nil, fmt.Errorf("incident %s did not reach a terminal state within %s", id, budget)
}
