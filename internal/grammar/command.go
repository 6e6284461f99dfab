// Package grammar parses chat text into validated CV commands.
//
// A command has the shape
//
//	module#instance.parameter: value
//
// and is accepted only when module.parameter exists in the catalog (or the
// parameter is the inputJack#N fallback) and the value is within 0-127.
// Parsing is a single pass over the input without regular expressions.
package grammar

import (
	"errors"
	"fmt"
)

// Limits of the chat command grammar.
const (
	MinCommandLength = 5
	MaxCommandLength = 100
	MaxValue         = 127

	// InputJackPrefix is the universal fallback parameter usable on any module.
	InputJackPrefix = "inputJack#"
)

// Rejection errors. ErrNoNativeCV wraps ErrUnknownVariable.
var (
	ErrMalformed       = errors.New("malformed command")
	ErrOutOfRange      = errors.New("value out of range")
	ErrUnknownVariable = errors.New("unknown module/parameter")
	ErrNoNativeCV      = fmt.Errorf("%w: module has no native CV inputs", ErrUnknownVariable)
)

// Reason classifies why a command was rejected.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonMalformed
	ReasonOutOfRange
	ReasonUnknownVariable
	ReasonNoNativeCV
)

// String returns the reason's wire name.
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonMalformed:
		return "malformed"
	case ReasonOutOfRange:
		return "out_of_range"
	case ReasonUnknownVariable:
		return "unknown_variable"
	case ReasonNoNativeCV:
		return "no_native_cv"
	default:
		return "unknown"
	}
}

// Err returns the sentinel error for the reason, or nil for ReasonNone.
func (r Reason) Err() error {
	switch r {
	case ReasonNone:
		return nil
	case ReasonOutOfRange:
		return ErrOutOfRange
	case ReasonUnknownVariable:
		return ErrUnknownVariable
	case ReasonNoNativeCV:
		return ErrNoNativeCV
	default:
		return ErrMalformed
	}
}

// Catalog answers module/parameter membership questions.
type Catalog interface {
	HasParameter(module, parameter string) bool
	LacksNativeCV(module string) bool
}

// DotNotation is the structured view of a command for downstream consumers.
type DotNotation struct {
	Module        string `json:"module"`
	InstanceIndex int    `json:"instanceIndex"`
	CVInput       string `json:"cvInput"`
	Value         int    `json:"value"`
}

// ValidatedCommand is a successfully parsed and validated chat command.
// It is created once per message and never mutated.
type ValidatedCommand struct {
	ModuleName         string      `json:"moduleName"`
	Instance           int         `json:"instance"`
	Parameter          string      `json:"parameter"`
	Value              int         `json:"value"`
	FullVariable       string      `json:"fullVariable"`
	IsInputJack        bool        `json:"isInputJack"`
	IsComplexParameter bool        `json:"isComplexParameter"`
	JackNumber         int         `json:"jackNumber,omitempty"` // Set when IsInputJack
	DotNotation        DotNotation `json:"dotNotation"`
}

// ModuleInstance returns the module#instance key used for jack sequencing.
func (c *ValidatedCommand) ModuleInstance() string {
	return fmt.Sprintf("%s#%d", c.ModuleName, c.Instance)
}

// Voltage scales the raw value to 0-1V.
func (c *ValidatedCommand) Voltage() float64 {
	return float64(c.Value) / float64(MaxValue)
}

// Result is either a valid command or a rejection reason.
type Result struct {
	Command *ValidatedCommand
	Reason  Reason
}

// Valid reports whether the result holds a command.
func (r Result) Valid() bool {
	return r.Command != nil
}

// Err returns nil for a valid result and the rejection error otherwise.
func (r Result) Err() error {
	if r.Command != nil {
		return nil
	}
	if r.Reason == ReasonNone {
		return ErrMalformed
	}
	return r.Reason.Err()
}

func invalid(reason Reason) Result {
	return Result{Reason: reason}
}

// Variable is a validated routing target: a command without its value.
type Variable struct {
	ModuleName   string
	Instance     int
	Parameter    string
	FullVariable string
	IsInputJack  bool
}

// String returns the normalised module#instance.parameter form.
func (v Variable) String() string {
	return v.FullVariable
}
