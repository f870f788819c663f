package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/moolen/quorum/internal/logging"
)

const Version = "0.1.0"

var (
	logLevelFlags []string // supports multiple --log-level flags
)

var rootCmd = &cobra.Command{
	Use:   "quorum",
	Short: "Quorum - Byzantine-tolerant incident resolution engine",
	Long: `Quorum accepts operational alerts and resolves them through weighted
consensus across a fleet of independent analysis agents. Incidents whose
consensus clears the configured threshold are remediated autonomously;
everything else is escalated to a human with the full analysis attached.`,
	Version: Version,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Supports per-package log levels: --log-level debug --log-level consensus=debug
	rootCmd.PersistentFlags().StringSliceVar(&logLevelFlags, "log-level",
		[]string{"info"},
		"Log level for packages. Use a bare level for the default, or 'package=level' for overrides.\n"+
			"Examples: --log-level debug (all), --log-level orchestrator=debug --log-level ledger=warn")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(resolveCmd)
}

// HandleError prints the error and exits.
func HandleError(err error, msg string) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
		os.Exit(1)
	}
}

// setupLog initializes logging from the parsed --log-level flags and
// LOG_LEVEL_* environment variables. CLI flags win over env vars.
func setupLog(flags []string) error {
	defaultLevel, packageLevels, err := parseLogLevelFlags(flags)
	if err != nil {
		return err
	}
	return logging.Initialize(defaultLevel, packageLevels)
}

// parseLogLevelFlags merges LOG_LEVEL_* env vars (lower priority) with CLI
// flags. Env format: LOG_LEVEL_CONSENSUS=debug sets package "consensus".
func parseLogLevelFlags(flags []string) (string, map[string]string, error) {
	result := make(map[string]string)

	for _, envPair := range os.Environ() {
		if !strings.HasPrefix(envPair, "LOG_LEVEL_") {
			continue
		}
		parts := strings.SplitN(envPair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		result[envKeyToPackageName(parts[0])] = parts[1]
	}

	for _, flag := range flags {
		if !strings.Contains(flag, "=") {
			result["default"] = flag
			continue
		}
		parts := strings.SplitN(flag, "=", 2)
		if len(parts) == 2 {
			result[parts[0]] = parts[1]
		}
	}

	defaultLevel := "info"
	if level, exists := result["default"]; exists {
		defaultLevel = level
		delete(result, "default")
	}

	if err := validateLogLevel(defaultLevel); err != nil {
		return "", nil, err
	}
	for pkg, level := range result {
		if err := validateLogLevel(level); err != nil {
			return "", nil, fmt.Errorf("invalid log level for package %q: %v", pkg, err)
		}
	}
	return defaultLevel, result, nil
}

// envKeyToPackageName converts LOG_LEVEL_CONFIG_WATCHER to config.watcher.
func envKeyToPackageName(envKey string) string {
	name := strings.TrimPrefix(envKey, "LOG_LEVEL_")
	return strings.ToLower(strings.ReplaceAll(name, "_", "."))
}

func validateLogLevel(level string) error {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "error", "fatal":
		return nil
	}
	return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error, fatal)", level)
}
