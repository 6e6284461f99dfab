package coordination

import (
	"context"
	"log"
)

// Handler applies peer events to local state. Implementations must not feed
// events back through admission: they were admitted by the source instance.
type Handler interface {
	OnParameterUpdate(ctx context.Context, e *Event, p ParameterUpdate)
	OnRoutingChange(ctx context.Context, e *Event, p RoutingChange)
	OnSystemBroadcast(ctx context.Context, e *Event, p SystemBroadcast)
	OnAdminCommand(ctx context.Context, e *Event, p AdminCommand)
}

// Apply routes a decoded event to the matching handler method.
func Apply(ctx context.Context, e *Event, h Handler) {
	switch p := e.Payload().(type) {
	case ParameterUpdate:
		h.OnParameterUpdate(ctx, e, p)
	case RoutingChange:
		h.OnRoutingChange(ctx, e, p)
	case SystemBroadcast:
		h.OnSystemBroadcast(ctx, e, p)
	case AdminCommand:
		h.OnAdminCommand(ctx, e, p)
	default:
		log.Printf("[Coordination] Dropping event %s from %s: no decoded payload", e.Type, e.SourceInstance)
	}
}

// Dispatch applies every event from the subscription until the context is
// cancelled or the subscription closes. Subscription errors are logged; the
// loop keeps running in degraded mode.
func Dispatch(ctx context.Context, sub *Subscription, h Handler) error {
	events := sub.Events()
	errs := sub.Errors()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return ctx.Err()
			}
			Apply(ctx, event, h)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Printf("[Coordination] Subscription error: %v", err)
		}
	}
}
