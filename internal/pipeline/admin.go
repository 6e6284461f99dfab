package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/dyluth/patchbay/internal/grammar"
	"github.com/dyluth/patchbay/internal/overlay"
	"github.com/dyluth/patchbay/internal/routing"
	"github.com/dyluth/patchbay/pkg/coordination"
)

const emergencyStopMessage = "Emergency stop activated - all CV output halted"

// InstanceInfo identifies the instance that handled an admin command.
type InstanceInfo struct {
	Identity  string    `json:"identity"`
	Namespace string    `json:"namespace"`
	Timestamp time.Time `json:"timestamp"`
}

// AdminResult reports an admin console command back to the caller.
type AdminResult struct {
	Kind    grammar.AdminKind
	Message string
	Route   *routing.Route  // AdminAssignRoute
	Routes  []routing.Route // AdminListRoutes
	Stats   *Stats          // AdminStats, AdminRateLimitStats
	Info    *InstanceInfo   // AdminInstances
	Err     error           // routing.ErrInvalidOutput, routing.ErrInvalidVariable or routing.ErrPersistence
}

func (p *Pipeline) handleAdmin(ctx context.Context, admin string, cmd grammar.AdminCommand) AdminResult {
	res := AdminResult{Kind: cmd.Kind}

	switch cmd.Kind {
	case grammar.AdminAssignRoute:
		route, err := p.routes.AddRoute(ctx, cmd.Output, cmd.Variable)
		if err != nil {
			res.Err = err
			res.Message = fmt.Sprintf("route %s → %s rejected: %v", cmd.Output, cmd.Variable, err)
			break
		}
		res.Route = &route
		res.Message = fmt.Sprintf("added route %s → %s", route.Output, route.Variable)
		p.routeChanged(coordination.RoutingChange{
			Action:   coordination.RoutingAdd,
			Output:   route.Output,
			Variable: route.Variable,
			Admin:    admin,
		})

	case grammar.AdminRemoveRoute:
		removed, err := p.routes.RemoveRoute(ctx, cmd.Output)
		if err != nil {
			res.Err = err
			res.Message = fmt.Sprintf("remove %s failed: %v", cmd.Output, err)
			break
		}
		if !removed {
			res.Message = fmt.Sprintf("no route found for %s", cmd.Output)
			break
		}
		res.Message = fmt.Sprintf("removed route for %s", cmd.Output)
		p.routeChanged(coordination.RoutingChange{
			Action: coordination.RoutingRemove,
			Output: cmd.Output,
			Admin:  admin,
		})

	case grammar.AdminListRoutes:
		res.Routes = p.routes.ListRoutes()
		res.Message = fmt.Sprintf("%d routes", len(res.Routes))
		p.showRouting(admin, true)

	case grammar.AdminOverlay:
		p.setOverlay(ctx, admin, cmd.Enabled)
		res.Message = fmt.Sprintf("overlay %s", onOff(cmd.Enabled))

	case grammar.AdminClear:
		p.clearActive(ctx)
		p.broadcast(overlay.MessageClearAll, nil)
		p.publish(coordination.SystemBroadcast{Action: coordination.BroadcastClearAll, Admin: admin})
		p.publish(coordination.AdminCommand{Command: cmd.Kind.String(), Admin: admin})
		res.Message = "variables cleared"

	case grammar.AdminEmergencyStop:
		p.clearActive(ctx)
		p.broadcast(overlay.MessageClearAll, nil)
		p.broadcast(overlay.MessageEmergencyStop, map[string]any{"message": emergencyStopMessage})
		p.publish(coordination.SystemBroadcast{
			Action:  coordination.BroadcastEmergencyStop,
			Admin:   admin,
			Message: emergencyStopMessage,
		})
		res.Message = emergencyStopMessage

	case grammar.AdminStats, grammar.AdminRateLimitStats:
		stats := p.Stats()
		res.Stats = &stats
		res.Message = fmt.Sprintf("%d processed, %d accepted, %d rate limiter checks",
			stats.Processed, stats.Accepted, stats.Limiter.TotalRequests)

	case grammar.AdminRateLimitReset:
		p.limiter.ResetStats()
		p.limiter.EmergencyOverride()
		res.Message = "rate limiter buckets refilled"

	case grammar.AdminInstances:
		res.Info = &InstanceInfo{Identity: p.instance, Namespace: p.namespace, Timestamp: time.Now()}
		res.Message = fmt.Sprintf("instance %s in namespace %s", p.instance, p.namespace)
	}

	log.Printf("[Admin] %s: %s", admin, res.Message)
	if res.Err == nil {
		p.logEvent("admin_command", map[string]interface{}{
			"admin":   admin,
			"command": cmd.Kind.String(),
		})
	}
	return res
}

// routeChanged propagates a persisted route mutation to hardware, the overlay
// and peers.
func (p *Pipeline) routeChanged(change coordination.RoutingChange) {
	add := change.Action == coordination.RoutingAdd
	if err := p.sink.SendRoute(add, change.Output, change.Variable); err != nil {
		log.Printf("[Admin] Failed to send routing update for %s: %v", change.Output, err)
	}
	p.broadcast(overlay.MessageRoutingUpdate, change)
	p.publish(change)
}

func (p *Pipeline) setOverlay(ctx context.Context, admin string, enabled bool) {
	if p.overlay != nil {
		p.overlay.SetEnabled(enabled)
	}
	if p.state != nil {
		if err := p.state.SetOverlayEnabled(ctx, enabled); err != nil {
			log.Printf("[Admin] Failed to persist overlay state: %v", err)
		}
	}
	p.broadcast(overlay.MessageOverlayToggle, map[string]any{"enabled": enabled})
	p.publish(coordination.SystemBroadcast{
		Action:  coordination.BroadcastOverlayToggle,
		Enabled: coordination.Bool(enabled),
		Admin:   admin,
	})
	p.publish(coordination.AdminCommand{
		Command: grammar.AdminOverlay.String(),
		Admin:   admin,
		Enabled: coordination.Bool(enabled),
	})
}

func (p *Pipeline) clearActive(ctx context.Context) {
	if p.state == nil {
		return
	}
	if err := p.state.Clear(ctx); err != nil {
		log.Printf("[Admin] Failed to clear active variables: %v", err)
	}
}

func (p *Pipeline) broadcast(t overlay.MessageType, data any) {
	if p.overlay != nil {
		p.overlay.Broadcast(t, data)
	}
}

func (p *Pipeline) publish(payload coordination.Payload) {
	if p.bus != nil {
		p.bus.PublishAsync(payload)
	}
}

func onOff(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}
