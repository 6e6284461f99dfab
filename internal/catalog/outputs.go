package catalog

import (
	"fmt"
	"strconv"
	"strings"
)

// FamilyKind determines how outputs of a family are addressed.
type FamilyKind string

const (
	// FamilySingle outputs are addressed as prefix#N (fixed-count CV or gate outputs)
	FamilySingle FamilyKind = "single"

	// FamilyMulti outputs are addressed as prefix#U.out#C (multi-unit, multi-channel)
	FamilyMulti FamilyKind = "multi"
)

// Family describes one group of hardware outputs.
type Family struct {
	Name     string     `yaml:"name"`
	Kind     FamilyKind `yaml:"kind"`
	Prefix   string     `yaml:"prefix"`
	Count    int        `yaml:"count,omitempty"`    // single: valid N is 1..Count
	Units    int        `yaml:"units,omitempty"`    // multi: valid U is 1..Units
	Channels int        `yaml:"channels,omitempty"` // multi: valid C is 1..Channels
}

// Validate checks a family definition.
func (f *Family) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("output family: name is required")
	}
	if !isModuleName(f.Prefix) {
		return fmt.Errorf("output family '%s': invalid prefix '%s'", f.Name, f.Prefix)
	}
	switch f.Kind {
	case FamilySingle:
		if f.Count < 1 {
			return fmt.Errorf("output family '%s': count must be >= 1", f.Name)
		}
	case FamilyMulti:
		if f.Units < 1 || f.Channels < 1 {
			return fmt.Errorf("output family '%s': units and channels must be >= 1", f.Name)
		}
	default:
		return fmt.Errorf("output family '%s': invalid kind '%s' (must be 'single' or 'multi')", f.Name, f.Kind)
	}
	return nil
}

// Outputs is the immutable hardware output catalog. Safe for concurrent use.
type Outputs struct {
	families []Family
	byPrefix map[string]Family
}

// NewOutputs validates the families and builds the catalog.
func NewOutputs(families []Family) (*Outputs, error) {
	o := &Outputs{
		families: make([]Family, 0, len(families)),
		byPrefix: make(map[string]Family, len(families)),
	}
	for _, f := range families {
		if err := f.Validate(); err != nil {
			return nil, err
		}
		if _, dup := o.byPrefix[f.Prefix]; dup {
			return nil, fmt.Errorf("duplicate output prefix '%s'", f.Prefix)
		}
		o.families = append(o.families, f)
		o.byPrefix[f.Prefix] = f
	}
	return o, nil
}

// Valid reports whether id names an output in the catalog.
func (o *Outputs) Valid(id string) bool {
	prefix, rest, ok := strings.Cut(id, "#")
	if !ok {
		return false
	}
	f, ok := o.byPrefix[prefix]
	if !ok {
		return false
	}

	switch f.Kind {
	case FamilySingle:
		return inRange(rest, f.Count)
	case FamilyMulti:
		unit, channel, ok := strings.Cut(rest, ".out#")
		return ok && inRange(unit, f.Units) && inRange(channel, f.Channels)
	}
	return false
}

// All enumerates every valid output identifier in catalog order.
func (o *Outputs) All() []string {
	var out []string
	for _, f := range o.families {
		switch f.Kind {
		case FamilySingle:
			for n := 1; n <= f.Count; n++ {
				out = append(out, fmt.Sprintf("%s#%d", f.Prefix, n))
			}
		case FamilyMulti:
			for u := 1; u <= f.Units; u++ {
				for c := 1; c <= f.Channels; c++ {
					out = append(out, fmt.Sprintf("%s#%d.out#%d", f.Prefix, u, c))
				}
			}
		}
	}
	return out
}

// Families returns the family definitions.
func (o *Outputs) Families() []Family {
	return append([]Family(nil), o.families...)
}

// inRange accepts canonical decimal integers 1..max (no sign, no leading zero).
func inRange(s string, max int) bool {
	if s == "" || s[0] == '0' || len(s) > 4 {
		return false
	}
	n, err := strconv.Atoi(s)
	if err != nil || s[0] == '+' || s[0] == '-' {
		return false
	}
	return n >= 1 && n <= max
}
