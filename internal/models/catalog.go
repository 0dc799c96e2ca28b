package models

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TestDefinition describes one assignable test from the catalog file.
type TestDefinition struct {
	ID              string   `yaml:"id"`
	Name            string   `yaml:"name"`
	Description     string   `yaml:"description,omitempty"`
	AttemptsAllowed int      `yaml:"attempts_allowed"`
	DurationMinutes int      `yaml:"duration_minutes,omitempty"`
	Tags            []string `yaml:"tags,omitempty"`
}

// TestCatalog holds all tests administrators can assign.
type TestCatalog struct {
	Tests []TestDefinition `yaml:"tests"`
}

// LoadTestCatalog reads and parses the tests.yaml catalog file.
func LoadTestCatalog(path string) (*TestCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read test catalog: %w", err)
	}

	var catalog TestCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to unmarshal test catalog YAML: %w", err)
	}

	for i := range catalog.Tests {
		if catalog.Tests[i].AttemptsAllowed <= 0 {
			catalog.Tests[i].AttemptsAllowed = 1
		}
	}

	return &catalog, nil
}

// Find returns the test with the given id, or nil if the catalog has none.
func (c *TestCatalog) Find(id string) *TestDefinition {
	for i := range c.Tests {
		if c.Tests[i].ID == id {
			return &c.Tests[i]
		}
	}
	return nil
}
