package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/moolen/quorum/internal/logging"
)

// DefaultShutdownTimeout is the per-component grace period on Stop.
const DefaultShutdownTimeout = 30 * time.Second

// Manager starts registered components in dependency order and stops them in
// reverse start order. A failed start rolls back everything already started.
type Manager struct {
	mu              sync.Mutex
	components      []Component
	dependencies    map[Component][]Component
	started         []Component
	shutdownTimeout time.Duration
	logger          *logging.Logger
}

// NewManager creates a lifecycle manager.
func NewManager() *Manager {
	return &Manager{
		dependencies:    make(map[Component][]Component),
		shutdownTimeout: DefaultShutdownTimeout,
		logger:          logging.GetLogger("lifecycle"),
	}
}

// SetShutdownTimeout overrides the per-component grace period.
func (m *Manager) SetShutdownTimeout(timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownTimeout = timeout
}

// Register adds a component. Dependencies must already be registered; the
// component starts after them and stops before them.
func (m *Manager) Register(component Component, dependsOn ...Component) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if component == nil {
		return errors.New("cannot register nil component")
	}
	if component.Name() == "" {
		return errors.New("component must have a non-empty name")
	}
	for _, c := range m.components {
		if c == component {
			return fmt.Errorf("component %s is already registered", component.Name())
		}
	}
	for _, dep := range dependsOn {
		if !m.isRegistered(dep) {
			return fmt.Errorf("dependency %s of %s is not registered", dep.Name(), component.Name())
		}
	}

	m.components = append(m.components, component)
	m.dependencies[component] = dependsOn
	return nil
}

func (m *Manager) isRegistered(component Component) bool {
	for _, c := range m.components {
		if c == component {
			return true
		}
	}
	return false
}

// Start starts all components in dependency order. On failure the already
// started components are stopped in reverse order before returning.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.started = nil
	for _, component := range m.topologicalOrder() {
		m.logger.Info("starting %s", component.Name())
		begin := time.Now()

		if err := component.Start(ctx); err != nil {
			m.logger.ErrorWithErr("failed to start "+component.Name(), err)
			m.rollback()
			return fmt.Errorf("failed to start %s: %w", component.Name(), err)
		}

		m.started = append(m.started, component)
		m.logger.Info("%s started (%dms)", component.Name(), time.Since(begin).Milliseconds())
	}

	m.logger.Info("all components started")
	return nil
}

// Stop stops started components in reverse start order, each with its own
// grace period. Stop errors are logged, not returned; one slow component
// must not keep the rest from shutting down.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.started) - 1; i >= 0; i-- {
		component := m.started[i]
		m.logger.Info("stopping %s", component.Name())

		stopCtx, cancel := context.WithTimeout(ctx, m.shutdownTimeout)
		err := component.Stop(stopCtx)
		cancel()

		if err != nil {
			m.logger.ErrorWithErr("error stopping "+component.Name(), err)
		}
	}
	m.started = nil

	m.logger.Info("all components stopped")
	return nil
}

// rollback stops components started during a failed Start, newest first.
func (m *Manager) rollback() {
	for i := len(m.started) - 1; i >= 0; i-- {
		component := m.started[i]
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := component.Stop(ctx); err != nil {
			m.logger.Warn("error stopping %s during rollback: %v", component.Name(), err)
		}
		cancel()
	}
	m.started = nil
}

// topologicalOrder returns components with dependencies before dependents.
// Registration order is preserved among independent components.
func (m *Manager) topologicalOrder() []Component {
	visited := make(map[Component]bool)
	var sorted []Component

	var visit func(Component)
	visit = func(c Component) {
		if visited[c] {
			return
		}
		visited[c] = true
		for _, dep := range m.dependencies[c] {
			visit(dep)
		}
		sorted = append(sorted, c)
	}

	for _, c := range m.components {
		visit(c)
	}
	return sorted
}
