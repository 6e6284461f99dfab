package pipeline

import (
	"context"
	"log"

	"github.com/dyluth/patchbay/internal/grammar"
	"github.com/dyluth/patchbay/internal/overlay"
	"github.com/dyluth/patchbay/pkg/coordination"
)

// Coordinator applies peer events to this instance. Events were admitted by
// their source instance, so nothing here validates or rate limits them.
type Coordinator struct {
	p *Pipeline
}

var _ coordination.Handler = (*Coordinator)(nil)

// Coordinator returns the peer event handler bound to this pipeline.
func (p *Pipeline) Coordinator() *Coordinator {
	return &Coordinator{p: p}
}

// OnParameterUpdate mirrors a peer's accepted command on the local overlay.
func (c *Coordinator) OnParameterUpdate(_ context.Context, e *coordination.Event, u coordination.ParameterUpdate) {
	log.Printf("[Coordination] Remote parameter update from %s: %s = %d by %s", e.SourceInstance, u.Variable, u.Value, u.User)
	c.p.broadcast(overlay.MessageCVUpdate, CVUpdate{
		Variable: u.Variable,
		Value:    u.Value,
		Voltage:  float64(u.Value) / float64(grammar.MaxValue),
		Route:    u.Route,
		User:     u.User,
		Remote:   true,
	})
}

// OnRoutingChange updates the local routing replica. The source instance has
// already persisted the change.
func (c *Coordinator) OnRoutingChange(_ context.Context, e *coordination.Event, r coordination.RoutingChange) {
	log.Printf("[Coordination] Routing change from %s: %s %s %s", e.SourceInstance, r.Action, r.Output, r.Variable)
	c.p.routes.ApplyRemote(r)
	c.p.broadcast(overlay.MessageRoutingChange, map[string]any{
		"action":   r.Action,
		"output":   r.Output,
		"variable": r.Variable,
		"admin":    r.Admin,
		"remote":   true,
	})
}

// OnSystemBroadcast applies a deployment-wide overlay action.
func (c *Coordinator) OnSystemBroadcast(_ context.Context, e *coordination.Event, b coordination.SystemBroadcast) {
	log.Printf("[Coordination] System broadcast from %s: %s", e.SourceInstance, b.Action)
	switch b.Action {
	case coordination.BroadcastClearAll:
		c.p.broadcast(overlay.MessageClearAll, map[string]any{"remote": true})
	case coordination.BroadcastOverlayToggle:
		enabled := b.Enabled != nil && *b.Enabled
		if c.p.overlay != nil {
			c.p.overlay.SetEnabled(enabled)
		}
		c.p.broadcast(overlay.MessageOverlayToggle, map[string]any{"enabled": enabled, "remote": true})
	case coordination.BroadcastEmergencyStop:
		c.p.broadcast(overlay.MessageEmergencyStop, map[string]any{"message": b.Message, "remote": true})
	}
}

// OnAdminCommand syncs admin actions that change shared overlay state.
func (c *Coordinator) OnAdminCommand(_ context.Context, e *coordination.Event, a coordination.AdminCommand) {
	log.Printf("[Coordination] Remote admin command from %s: %s by %s", e.SourceInstance, a.Command, a.Admin)
	switch a.Command {
	case grammar.AdminClear.String(), grammar.AdminOverlay.String():
		c.p.broadcast(overlay.MessageAdminSync, map[string]any{
			"command": a.Command,
			"admin":   a.Admin,
			"enabled": a.Enabled,
			"remote":  true,
		})
	}
}
