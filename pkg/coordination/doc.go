// Package coordination carries state changes between concurrently running
// patchbay instances over Redis Pub/Sub.
//
// # Overview
//
// Every instance admits chat commands on its own. When one instance accepts a
// command, changes a route, or executes an admin action, it publishes an Event
// so that its peers can update their overlays and routing replicas. Peer events
// are already-admitted facts: they are applied locally and never re-enter
// validation or rate limiting.
//
// # Event Model
//
// Events are a closed tagged union. The Payload interface can only be satisfied
// by the four variants defined here:
//
//   - ParameterUpdate: an accepted CV command (variable, value, user)
//   - RoutingChange: a route was added or removed by an administrator
//   - SystemBroadcast: clear_all, overlay_toggle or emergency_stop
//   - AdminCommand: audit trail of admin actions
//
// On the wire an event is a single JSON envelope:
//
//	{"timestamp": 1700000000000, "type": "parameter_update",
//	 "source_instance": "studio-a-1f2e3d4c", "data": {...}}
//
// # Self-Origin Filtering
//
// Redis delivers a publish to every subscriber, including the publisher's own
// subscription. A Subscription therefore compares each event's source_instance
// with the local identity and discards matches. There is no transport-level
// exclusion.
//
// # Delivery
//
// Coordination is best-effort and at-most-once. Publish failures are returned
// by Publish and logged and swallowed by PublishAsync. Slow subscribers may miss
// events. Nothing is persisted.
//
// # Redis Schema
//
// All keys and channels are namespaced by deployment namespace so that several
// independent deployments can share a Redis server:
//
//	Channels:          patchbay:{namespace}:{event_type}
//	Routing table:     patchbay:{namespace}:routing_table
//	User cooldowns:    patchbay:{namespace}:cooldown:{user}
//	Active variables:  patchbay:{namespace}:active_variables
//	System state:      patchbay:{namespace}:system_state
package coordination
