package breaker

import (
	"sync"
	"time"
)

// Registry holds one breaker per agent role. It is the only cross-incident
// shared mutable state in the engine and is injected into the orchestrator
// rather than accessed globally. The registry lock guards only the map;
// each breaker serializes its own updates.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker

	failureThreshold int
	cooldown         time.Duration
}

// NewRegistry creates a registry whose breakers share the given settings.
func NewRegistry(failureThreshold int, cooldown time.Duration) *Registry {
	return &Registry{
		breakers:         make(map[string]*Breaker),
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
	}
}

// Get returns the breaker for a role, creating it on first use.
func (r *Registry) Get(role string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[role]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[role]; ok {
		return b
	}
	b = New(role, r.failureThreshold, r.cooldown)
	r.breakers[role] = b
	return b
}

// States returns a snapshot of all breaker states by role.
func (r *Registry) States() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]State, len(r.breakers))
	for role, b := range r.breakers {
		out[role] = b.State()
	}
	return out
}
