package coordination

import (
	"encoding/json"
	"fmt"
	"time"
)

// NewEvent wraps a payload in an envelope stamped with the source identity.
// The payload is validated before encoding.
func NewEvent(source string, p Payload, now time.Time) (*Event, error) {
	if source == "" {
		return nil, fmt.Errorf("source instance cannot be empty")
	}
	if p == nil {
		return nil, fmt.Errorf("payload cannot be nil")
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}

	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", p.EventType(), err)
	}

	return &Event{
		Timestamp:      now.UnixMilli(),
		Type:           p.EventType(),
		SourceInstance: source,
		Data:           data,
		payload:        p,
	}, nil
}

// MarshalEvent encodes an event envelope for publishing.
func MarshalEvent(e *Event) ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEvent decodes an envelope and its payload variant.
// Unknown event types and invalid payloads are rejected.
func UnmarshalEvent(raw []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event envelope: %w", err)
	}
	if err := e.Type.Validate(); err != nil {
		return nil, err
	}
	if e.SourceInstance == "" {
		return nil, fmt.Errorf("event has no source_instance")
	}

	p, err := decodePayload(e.Type, e.Data)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", e.Type, err)
	}
	e.payload = p

	return &e, nil
}

func decodePayload(t EventType, data json.RawMessage) (Payload, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%s event has no data", t)
	}

	switch t {
	case EventParameterUpdate:
		var p ParameterUpdate
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal parameter_update: %w", err)
		}
		return p, nil
	case EventRoutingChange:
		var p RoutingChange
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal routing_change: %w", err)
		}
		return p, nil
	case EventSystemBroadcast:
		var p SystemBroadcast
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal system_broadcast: %w", err)
		}
		return p, nil
	case EventAdminCommand:
		var p AdminCommand
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal admin_command: %w", err)
		}
		return p, nil
	}

	return nil, fmt.Errorf("invalid event type: %q", string(t))
}
