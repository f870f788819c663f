package config

import (
	"sync"

	"github.com/moolen/quorum/internal/models"
)

// PolicyStore holds the live per-category decision policy. The rest of the
// engine reads through it so a config hot-reload takes effect on the next
// round without restarting in-flight incidents.
type PolicyStore struct {
	mu         sync.RWMutex
	categories map[string]CategoryConfig
}

// NewPolicyStore creates a store seeded from the given categories.
func NewPolicyStore(categories map[string]CategoryConfig) *PolicyStore {
	s := &PolicyStore{}
	s.Update(categories)
	return s
}

// Update atomically replaces the policy. Called by the config watcher after
// a successful reload.
func (s *PolicyStore) Update(categories map[string]CategoryConfig) {
	copied := make(map[string]CategoryConfig, len(categories))
	for name, cat := range categories {
		weights := make(map[string]float64, len(cat.Weights))
		for role, w := range cat.Weights {
			weights[role] = w
		}
		copied[name] = CategoryConfig{
			Threshold:   cat.Threshold,
			Weights:     weights,
			AutoActions: append([]string(nil), cat.AutoActions...),
		}
	}

	s.mu.Lock()
	s.categories = copied
	s.mu.Unlock()
}

// Threshold returns the consensus threshold for a category.
func (s *PolicyStore) Threshold(category models.Category) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cat, ok := s.categories[string(category)]
	return cat.Threshold, ok
}

// Weights returns a copy of the static trust weights for a category.
func (s *PolicyStore) Weights(category models.Category) map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cat, ok := s.categories[string(category)]
	if !ok {
		return nil
	}
	weights := make(map[string]float64, len(cat.Weights))
	for role, w := range cat.Weights {
		weights[role] = w
	}
	return weights
}

// Allowed reports whether the action may run autonomously for the category.
func (s *PolicyStore) Allowed(category models.Category, action string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cat, ok := s.categories[string(category)]
	if !ok {
		return false
	}
	for _, a := range cat.AutoActions {
		if a == action {
			return true
		}
	}
	return false
}
