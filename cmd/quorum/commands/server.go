package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/moolen/quorum/internal/breaker"
	"github.com/moolen/quorum/internal/bus"
	"github.com/moolen/quorum/internal/config"
	"github.com/moolen/quorum/internal/consensus"
	"github.com/moolen/quorum/internal/harness"
	"github.com/moolen/quorum/internal/intake"
	"github.com/moolen/quorum/internal/ledger"
	"github.com/moolen/quorum/internal/lifecycle"
	"github.com/moolen/quorum/internal/logging"
	"github.com/moolen/quorum/internal/metrics"
	"github.com/moolen/quorum/internal/models"
	"github.com/moolen/quorum/internal/orchestrator"
	"github.com/moolen/quorum/internal/provider"
	"github.com/moolen/quorum/internal/resolution"
	"github.com/moolen/quorum/internal/tracing"
)

var (
	configPath   string
	mockProvider bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the quorum engine",
	Long: `Start the quorum engine: the alert intake API, the agent fleet, and
the consensus-driven resolution loop.`,
	Run: runServer,
}

func init() {
	serverCmd.Flags().StringVar(&configPath, "config", "",
		"Path to the YAML config file (built-in defaults when empty)")
	serverCmd.Flags().BoolVar(&mockProvider, "mock", false,
		"Use the scripted mock analysis provider instead of the Anthropic API")
}

func runServer(cmd *cobra.Command, args []string) {
	if err := setupLog(logLevelFlags); err != nil {
		HandleError(err, "Failed to setup logging")
	}
	logger := logging.GetLogger("server")
	logger.Info("starting quorum v%s", Version)

	cfg, err := config.Load(configPath)
	HandleError(err, "Configuration error")

	HandleError(metrics.Register(prometheus.DefaultRegisterer), "Metrics registration error")

	store, err := ledger.Open(cfg.Ledger.Path)
	HandleError(err, "Ledger error")
	defer store.Close()

	var escalations *resolution.EscalationLog
	if cfg.Escalations.Path != "" {
		escalations, err = resolution.NewEscalationLog(cfg.Escalations.Path)
		HandleError(err, "Escalation log error")
		defer escalations.Close()
	}

	tracingProvider, err := tracing.NewProvider(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		TLSCAPath:   cfg.Tracing.TLSCAPath,
		TLSInsecure: cfg.Tracing.Insecure,
	})
	HandleError(err, "Tracing error")

	events := bus.New(bus.DefaultBufferSize)
	defer events.Close()
	policy := config.NewPolicyStore(cfg.Categories)
	breakers := breaker.NewRegistry(cfg.Breaker.FailureThreshold, cfg.Breaker.Cooldown)

	prov := buildProvider(cfg)
	harnesses := make([]*harness.Harness, 0, len(cfg.Agents))
	for _, agent := range cfg.Agents {
		desc := models.AgentDescriptor{
			Role:       agent.Role,
			Timeout:    agent.Timeout,
			MaxRetries: agent.MaxRetries,
		}
		harnesses = append(harnesses, harness.New(desc, prov, breakers.Get(agent.Role)))
	}

	driver := resolution.NewDriver(store, events, resolution.NewLogExecutor(), policy, escalations, cfg.Incident.ExecutionTimeout)
	orch := orchestrator.New(orchestrator.Options{
		OverallTimeout: cfg.Incident.OverallTimeout,
		MaxRounds:      cfg.Incident.MaxRounds,
		RetryMargin:    cfg.Incident.RetryMargin,
		QuorumFraction: cfg.Consensus.QuorumFraction,
		MinResponders:  cfg.Consensus.MinResponders,
	}, harnesses, consensus.NewEngine(), driver, store, events, policy)

	api := intake.NewServer(cfg.Server.APIPort, orch, store, prometheus.DefaultGatherer)

	manager := lifecycle.NewManager()
	HandleError(manager.Register(tracingProvider), "Lifecycle error")
	HandleError(manager.Register(orch, tracingProvider), "Lifecycle error")
	HandleError(manager.Register(api, orch), "Lifecycle error")

	if configPath != "" {
		watcher, err := config.NewWatcher(config.WatcherConfig{FilePath: configPath}, func(next *config.Config) error {
			policy.Update(next.Categories)
			logger.Info("decision policy reloaded")
			return nil
		})
		HandleError(err, "Config watcher error")
		HandleError(manager.Register(watcher), "Lifecycle error")
	}

	ctx := context.Background()
	HandleError(manager.Start(ctx), "Startup error")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal %s, shutting down", sig)

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	HandleError(manager.Stop(shutdownCtx), "Shutdown error")
	logger.Info("shutdown complete")
}

// buildProvider selects the analysis provider backing the agents.
func buildProvider(cfg *config.Config) provider.Provider {
	if mockProvider {
		return scriptedMock(cfg)
	}
	return provider.NewAnthropicProvider(provider.Config{
		Model:     cfg.Provider.Model,
		MaxTokens: cfg.Provider.MaxTokens,
	})
}

// scriptedMock backs every agent with deterministic high-confidence
// findings. Useful for demos and for exercising the full pipeline without
// an API key.
func scriptedMock(cfg *config.Config) *provider.MockProvider {
	mock := provider.NewMockProvider()
	for _, agent := range cfg.Agents {
		mock.ScriptFinding(agent.Role, 0.9, "restart-service")
	}
	return mock
}
