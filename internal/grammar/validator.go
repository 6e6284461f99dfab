package grammar

import (
	"fmt"
	"strconv"
	"strings"
)

// Validator checks chat text against the grammar and a catalog snapshot.
// It has no side effects and is safe for concurrent use.
type Validator struct {
	catalog Catalog
}

// NewValidator creates a validator over the given catalog.
func NewValidator(catalog Catalog) *Validator {
	return &Validator{catalog: catalog}
}

// Validate parses raw as module#instance.parameter: value.
func (v *Validator) Validate(raw string) Result {
	// Cheap checks first: most chat lines are not commands.
	if len(raw) < MinCommandLength || len(raw) > MaxCommandLength {
		return invalid(ReasonMalformed)
	}
	if !strings.Contains(raw, "#") || !strings.Contains(raw, ".") || !strings.Contains(raw, ":") {
		return invalid(ReasonMalformed)
	}

	s := scanner{in: raw}
	head, ok := s.variable()
	if !ok || !s.consume(':') {
		return invalid(ReasonMalformed)
	}
	s.skipSpace()
	value, overflow, ok := s.number()
	if !ok || !s.done() {
		return invalid(ReasonMalformed)
	}

	target, reason := v.resolve(head)
	if reason != ReasonNone {
		return invalid(reason)
	}
	if overflow || value > MaxValue {
		return invalid(ReasonOutOfRange)
	}

	return Result{Command: &ValidatedCommand{
		ModuleName:         target.ModuleName,
		Instance:           target.Instance,
		Parameter:          target.Parameter,
		Value:              value,
		FullVariable:       target.FullVariable,
		IsInputJack:        target.IsInputJack,
		IsComplexParameter: !target.IsInputJack && strings.Contains(target.Parameter, "#"),
		JackNumber:         head.jack,
		DotNotation: DotNotation{
			Module:        target.ModuleName,
			InstanceIndex: target.Instance,
			CVInput:       target.Parameter,
			Value:         value,
		},
	}}
}

// ParseVariable parses a routing target (the command grammar without the
// trailing value) and applies the same catalog and fallback rules.
func (v *Validator) ParseVariable(raw string) (Variable, error) {
	s := scanner{in: raw}
	head, ok := s.variable()
	if !ok || !s.done() {
		return Variable{}, fmt.Errorf("%w: %q", ErrMalformed, raw)
	}

	target, reason := v.resolve(head)
	if reason != ReasonNone {
		return Variable{}, fmt.Errorf("%w: %q", reason.Err(), raw)
	}
	return target, nil
}

// ValidateForRouting reports whether raw may be assigned to a hardware output.
func (v *Validator) ValidateForRouting(raw string) error {
	_, err := v.ParseVariable(raw)
	return err
}

func (v *Validator) resolve(h head) (Variable, Reason) {
	target := Variable{
		ModuleName:  h.module,
		Instance:    h.instance,
		Parameter:   h.parameter,
		IsInputJack: h.jack > 0,
	}

	if !target.IsInputJack {
		if h.jackPrefix {
			// inputJack#0, inputJack#x and friends
			return Variable{}, ReasonUnknownVariable
		}
		if !v.catalog.HasParameter(h.module, h.parameter) {
			if v.catalog.LacksNativeCV(h.module) {
				return Variable{}, ReasonNoNativeCV
			}
			return Variable{}, ReasonUnknownVariable
		}
	}

	target.FullVariable = h.module + "#" + strconv.Itoa(h.instance) + "." + h.parameter
	return target, ReasonNone
}
