package coordination

import "fmt"

// Redis key pattern helpers
//
// Instances of one deployment share a namespace; the instance identity is
// carried inside events, never in key names.
//
// Key pattern: patchbay:{namespace}:{entity}
// Channel pattern: patchbay:{namespace}:{event_type}

// Channel returns the Pub/Sub channel for an event type.
// Pattern: patchbay:{namespace}:{event_type}
func Channel(namespace string, t EventType) string {
	return fmt.Sprintf("patchbay:%s:%s", namespace, t)
}

// Channels returns the four coordination channels for a namespace.
func Channels(namespace string) []string {
	channels := make([]string, 0, len(eventTypes))
	for _, t := range eventTypes {
		channels = append(channels, Channel(namespace, t))
	}
	return channels
}

// RoutingTableKey returns the Redis hash holding output → variable routes.
// Pattern: patchbay:{namespace}:routing_table
func RoutingTableKey(namespace string) string {
	return fmt.Sprintf("patchbay:%s:routing_table", namespace)
}

// CooldownKey returns the Redis key storing a user's last accepted command time.
// Pattern: patchbay:{namespace}:cooldown:{user}
func CooldownKey(namespace, user string) string {
	return fmt.Sprintf("patchbay:%s:cooldown:%s", namespace, user)
}

// ActiveVariablesKey returns the Redis hash of variable → last value.
// Pattern: patchbay:{namespace}:active_variables
func ActiveVariablesKey(namespace string) string {
	return fmt.Sprintf("patchbay:%s:active_variables", namespace)
}

// SystemStateKey returns the Redis hash holding overlay flag and last command.
// Pattern: patchbay:{namespace}:system_state
func SystemStateKey(namespace string) string {
	return fmt.Sprintf("patchbay:%s:system_state", namespace)
}

// ActiveOrderKey returns the sorted set ordering active variables by last use.
// Pattern: patchbay:{namespace}:active_order
func ActiveOrderKey(namespace string) string {
	return fmt.Sprintf("patchbay:%s:active_order", namespace)
}
