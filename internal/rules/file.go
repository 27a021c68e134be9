package rules

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type ruleFile struct {
	Rules []Definition `yaml:"rules"`
}

// LoadFile reads extra rule definitions from a YAML document of the form
// `rules: [{id, name, severity, pattern, languages, ...}]`.
func LoadFile(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, nil
	}
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	return f.Rules, nil
}

// Load builds the built-in catalog, extended with rules from extraPath when set.
func Load(extraPath string) (*Catalog, error) {
	defs := Builtin()
	if strings.TrimSpace(extraPath) != "" {
		extra, err := LoadFile(extraPath)
		if err != nil {
			return nil, err
		}
		defs = append(defs, extra...)
	}
	return NewCatalog(defs)
}
