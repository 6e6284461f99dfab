package coordination

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType names one of the four coordination channels.
type EventType string

const (
	// EventParameterUpdate announces a CV command accepted by the source instance
	EventParameterUpdate EventType = "parameter_update"

	// EventRoutingChange announces a route added or removed by an administrator
	EventRoutingChange EventType = "routing_change"

	// EventSystemBroadcast carries deployment-wide overlay actions
	EventSystemBroadcast EventType = "system_broadcast"

	// EventAdminCommand records an admin action for peers
	EventAdminCommand EventType = "admin_command"
)

var eventTypes = []EventType{
	EventParameterUpdate,
	EventRoutingChange,
	EventSystemBroadcast,
	EventAdminCommand,
}

// Validate checks that the event type is one of the defined values.
func (t EventType) Validate() error {
	for _, known := range eventTypes {
		if t == known {
			return nil
		}
	}
	return fmt.Errorf("invalid event type: %q", string(t))
}

// Payload is the type-specific body of an Event. It is implemented only by
// ParameterUpdate, RoutingChange, SystemBroadcast and AdminCommand.
type Payload interface {
	EventType() EventType
	Validate() error
	sealed()
}

// ParameterUpdate is published for every command an instance admits.
type ParameterUpdate struct {
	Variable string `json:"variable"`        // module#instance.parameter
	Value    int    `json:"value"`           // Raw value 0-127
	User     string `json:"user"`            // Chat user who issued the command
	Route    string `json:"route,omitempty"` // Hardware output the value was sent to
}

// EventType implements Payload.
func (ParameterUpdate) EventType() EventType { return EventParameterUpdate }

// Validate implements Payload.
func (p ParameterUpdate) Validate() error {
	if p.Variable == "" {
		return fmt.Errorf("parameter update: variable is required")
	}
	if p.Value < 0 || p.Value > 127 {
		return fmt.Errorf("parameter update: value %d out of range 0-127", p.Value)
	}
	return nil
}

func (ParameterUpdate) sealed() {}

// RoutingAction is the kind of routing mutation.
type RoutingAction string

const (
	RoutingAdd    RoutingAction = "add"
	RoutingRemove RoutingAction = "remove"
)

// RoutingChange is published after a route mutation has been persisted.
type RoutingChange struct {
	Action   RoutingAction `json:"action"`
	Output   string        `json:"output"`
	Variable string        `json:"variable,omitempty"` // Empty for removals
	Admin    string        `json:"admin"`
}

// EventType implements Payload.
func (RoutingChange) EventType() EventType { return EventRoutingChange }

// Validate implements Payload.
func (r RoutingChange) Validate() error {
	if r.Output == "" {
		return fmt.Errorf("routing change: output is required")
	}
	switch r.Action {
	case RoutingAdd:
		if r.Variable == "" {
			return fmt.Errorf("routing change: variable is required for add")
		}
	case RoutingRemove:
	default:
		return fmt.Errorf("routing change: invalid action %q (must be 'add' or 'remove')", string(r.Action))
	}
	return nil
}

func (RoutingChange) sealed() {}

// BroadcastAction is a deployment-wide overlay action.
type BroadcastAction string

const (
	BroadcastClearAll      BroadcastAction = "clear_all"
	BroadcastOverlayToggle BroadcastAction = "overlay_toggle"
	BroadcastEmergencyStop BroadcastAction = "emergency_stop"
)

// SystemBroadcast asks every instance to apply an overlay-level action.
type SystemBroadcast struct {
	Action  BroadcastAction `json:"action"`
	Enabled *bool           `json:"enabled,omitempty"` // Set for overlay_toggle
	Admin   string          `json:"admin,omitempty"`
	Message string          `json:"message,omitempty"`
}

// EventType implements Payload.
func (SystemBroadcast) EventType() EventType { return EventSystemBroadcast }

// Validate implements Payload.
func (s SystemBroadcast) Validate() error {
	switch s.Action {
	case BroadcastClearAll, BroadcastEmergencyStop:
	case BroadcastOverlayToggle:
		if s.Enabled == nil {
			return fmt.Errorf("system broadcast: overlay_toggle requires enabled")
		}
	default:
		return fmt.Errorf("system broadcast: invalid action %q", string(s.Action))
	}
	return nil
}

func (SystemBroadcast) sealed() {}

// AdminCommand records an admin action for peer instances.
type AdminCommand struct {
	Command string `json:"command"`
	Admin   string `json:"admin"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// EventType implements Payload.
func (AdminCommand) EventType() EventType { return EventAdminCommand }

// Validate implements Payload.
func (a AdminCommand) Validate() error {
	if a.Command == "" {
		return fmt.Errorf("admin command: command is required")
	}
	return nil
}

func (AdminCommand) sealed() {}

// Event is the envelope shared by all coordination channels.
type Event struct {
	Timestamp      int64           `json:"timestamp"`       // Unix milliseconds at publish time
	Type           EventType       `json:"type"`            // Determines the payload variant
	SourceInstance string          `json:"source_instance"` // Identity of the publishing process
	Data           json.RawMessage `json:"data"`            // Encoded payload

	payload Payload
}

// Payload returns the decoded payload. It is nil for events that were not
// produced by NewEvent or UnmarshalEvent.
func (e *Event) Payload() Payload {
	return e.payload
}

// Time returns the publish timestamp.
func (e *Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Bool returns a pointer to v, for the optional Enabled fields.
func Bool(v bool) *bool {
	return &v
}
