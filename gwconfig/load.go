package gwconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and parses the YAML configuration file at path, then runs
// Validate against the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("gwconfig: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("gwconfig: parse %q: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("gwconfig: %q failed validation: %w", path, err)
	}
	return &cfg, nil
}
