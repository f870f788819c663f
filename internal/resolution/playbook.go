package resolution

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/moolen/quorum/internal/models"
)

// Playbook is the per-category allow-list of remediation actions the engine
// may execute autonomously. An eligible decision whose action is not listed
// for the incident's category escalates instead of executing.
type Playbook struct {
	// Categories maps a category name to its playbook entry.
	Categories map[string]CategoryPlaybook `yaml:"categories"`
}

// CategoryPlaybook holds the autonomous action allow-list for one category.
type CategoryPlaybook struct {
	AutoActions []string `yaml:"auto_actions"`
}

// LoadPlaybook reads a playbook from a YAML file.
func LoadPlaybook(path string) (*Playbook, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- playbook path is operator configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read playbook: %w", err)
	}
	var pb Playbook
	if err := yaml.Unmarshal(data, &pb); err != nil {
		return nil, fmt.Errorf("failed to parse playbook: %w", err)
	}
	return &pb, nil
}

// Allowed reports whether the action may run autonomously for the category.
// An unknown category allows nothing.
func (p *Playbook) Allowed(category models.Category, action string) bool {
	if p == nil {
		return false
	}
	entry, ok := p.Categories[string(category)]
	if !ok {
		return false
	}
	for _, a := range entry.AutoActions {
		if a == action {
			return true
		}
	}
	return false
}
