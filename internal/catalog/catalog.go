// Package catalog loads the module/parameter catalog and the hardware output
// catalog that command validation and routing are checked against.
package catalog

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed modules.yml
var defaultModulesYAML []byte

//go:embed outputs.yml
var defaultOutputsYAML []byte

// LoadModules reads a module catalog from path.
// An empty path selects the embedded default catalog.
func LoadModules(path string) (*Modules, error) {
	data := defaultModulesYAML
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read module catalog: %w", err)
		}
		data = raw
	}
	return ParseModules(data)
}

// LoadOutputs reads a hardware output catalog from path.
// An empty path selects the embedded default catalog.
func LoadOutputs(path string) (*Outputs, error) {
	data := defaultOutputsYAML
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read output catalog: %w", err)
		}
		data = raw
	}
	return ParseOutputs(data)
}

// ParseModules decodes a module catalog document.
func ParseModules(data []byte) (*Modules, error) {
	var doc modulesDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse module catalog: %w", err)
	}
	return NewModules(doc.Series, doc.WithoutCV)
}

// ParseOutputs decodes a hardware output catalog document.
func ParseOutputs(data []byte) (*Outputs, error) {
	var doc outputsDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse output catalog: %w", err)
	}
	return NewOutputs(doc.Families)
}

type modulesDocument struct {
	Series    map[string]map[string][]string `yaml:"series"`
	WithoutCV []string                       `yaml:"modules_without_cv"`
}

type outputsDocument struct {
	Families []Family `yaml:"families"`
}
