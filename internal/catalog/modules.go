package catalog

import (
	"fmt"
	"sort"
	"strings"
)

// Modules is an immutable set of module.parameter pairs plus the modules that
// have no native CV inputs. Safe for concurrent use.
type Modules struct {
	parameters map[string]struct{} // "module.parameter"
	modules    map[string]struct{}
	withoutCV  map[string]struct{}
}

// NewModules builds a catalog from series → module → parameters.
// Module names must be lowercase alphanumeric.
func NewModules(series map[string]map[string][]string, withoutCV []string) (*Modules, error) {
	m := &Modules{
		parameters: make(map[string]struct{}),
		modules:    make(map[string]struct{}),
		withoutCV:  make(map[string]struct{}, len(withoutCV)),
	}

	for seriesName, modules := range series {
		for module, params := range modules {
			if !isModuleName(module) {
				return nil, fmt.Errorf("series '%s': invalid module name '%s' (must be lowercase alphanumeric)", seriesName, module)
			}
			m.modules[module] = struct{}{}
			for _, param := range params {
				if param == "" {
					return nil, fmt.Errorf("module '%s': empty parameter name", module)
				}
				m.parameters[module+"."+param] = struct{}{}
			}
		}
	}

	for _, module := range withoutCV {
		if !isModuleName(module) {
			return nil, fmt.Errorf("modules_without_cv: invalid module name '%s'", module)
		}
		m.withoutCV[module] = struct{}{}
	}

	return m, nil
}

// HasParameter reports whether module.parameter is a known CV destination.
func (m *Modules) HasParameter(module, parameter string) bool {
	_, ok := m.parameters[module+"."+parameter]
	return ok
}

// LacksNativeCV reports whether the module may only be addressed via inputJack#N.
func (m *Modules) LacksNativeCV(module string) bool {
	_, ok := m.withoutCV[module]
	return ok
}

// Len returns the number of module.parameter pairs.
func (m *Modules) Len() int {
	return len(m.parameters)
}

// WithoutCVCount returns the number of modules flagged as lacking native CV.
func (m *Modules) WithoutCVCount() int {
	return len(m.withoutCV)
}

// Parameters returns every module.parameter pair, sorted.
func (m *Modules) Parameters() []string {
	out := make([]string, 0, len(m.parameters))
	for p := range m.parameters {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func isModuleName(s string) bool {
	if s == "" {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) < 0
}
