// Package lifecycle starts and stops the engine's long-running components in
// dependency order.
package lifecycle

import "context"

// Component is a long-running part of the engine managed by the Manager.
type Component interface {
	// Start initializes and starts the component. Must be safe to call
	// once per process; returns an error if initialization fails.
	Start(ctx context.Context) error

	// Stop gracefully stops the component, finishing in-flight work within
	// the context deadline.
	Stop(ctx context.Context) error

	// Name returns the component name for logging. Must be non-empty.
	Name() string
}
