package resolution

import (
	"context"

	"github.com/moolen/quorum/internal/logging"
	"github.com/moolen/quorum/internal/models"
)

// Executor carries out one remediation action against the environment.
// Implementations must respect the context deadline; the driver never retries
// a failed execution.
type Executor interface {
	// Execute runs the action for the incident.
	Execute(ctx context.Context, incident models.Incident, action string) error

	// Name returns the executor name for logging and display.
	Name() string
}

// LogExecutor is the default executor: it records the action without
// touching any real system. Deployments wire a real executor in its place.
type LogExecutor struct {
	logger *logging.Logger
}

// NewLogExecutor creates a log-only executor.
func NewLogExecutor() *LogExecutor {
	return &LogExecutor{logger: logging.GetLogger("executor")}
}

// Execute implements Executor.Execute.
func (e *LogExecutor) Execute(_ context.Context, incident models.Incident, action string) error {
	e.logger.InfoWithFields("executing remediation action",
		logging.Field("incident_id", incident.ID),
		logging.Field("action", action),
	)
	return nil
}

// Name implements Executor.Name.
func (e *LogExecutor) Name() string {
	return "log"
}
