// Package pipeline admits chat commands: validate, sequence-check, rate limit,
// route, then dispatch to hardware. Accepted commands fan out to the overlay,
// peer instances, the active-variable projection and analytics without
// blocking the caller.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dyluth/patchbay/internal/analytics"
	"github.com/dyluth/patchbay/internal/grammar"
	"github.com/dyluth/patchbay/internal/hardware"
	"github.com/dyluth/patchbay/internal/overlay"
	"github.com/dyluth/patchbay/internal/ratelimit"
	"github.com/dyluth/patchbay/internal/routing"
	"github.com/dyluth/patchbay/internal/state"
	"github.com/dyluth/patchbay/pkg/coordination"
)

// Rejection errors. Only admin routing errors are ever shown to chat users;
// these are for logs and statistics.
var (
	ErrMalformedCommand  = errors.New("malformed command")
	ErrUnknownVariable   = errors.New("unknown variable")
	ErrOutOfRange        = errors.New("value out of range")
	ErrSequenceViolation = errors.New("input jack sequence violation")
	ErrRateLimited       = errors.New("rate limited")
	ErrRoutingMissing    = errors.New("no route for variable")
)

// sideEffectTimeout bounds each fire-and-forget write.
const sideEffectTimeout = 2 * time.Second

// Publisher sends coordination events to peer instances.
type Publisher interface {
	PublishAsync(p coordination.Payload)
}

// Overlay pushes messages to connected overlay clients.
type Overlay interface {
	Broadcast(t overlay.MessageType, data any)
	SetEnabled(enabled bool)
}

// StateStore persists the active-variable projection.
type StateStore interface {
	Record(ctx context.Context, v state.ActiveVariable) error
	Clear(ctx context.Context) error
	SetOverlayEnabled(ctx context.Context, enabled bool) error
}

// Analytics receives one record per accepted command and one chat message
// per inbound line.
type Analytics interface {
	Record(rec analytics.Record) bool
	RecordMessage(msg analytics.ChatMessage) bool
}

// Observer records per-message outcomes and latency.
type Observer interface {
	ObserveCommand(outcome string, elapsed time.Duration)
}

// Deps are the pipeline's collaborators. Validator, Limiter, Routes and Sink
// are required; the rest may be nil.
type Deps struct {
	Validator *grammar.Validator
	Jacks     *grammar.JackSequence // Created if nil
	Limiter   *ratelimit.Limiter
	Routes    *routing.Table
	Sink      hardware.Sink
	Bus       Publisher
	Overlay   Overlay
	State     StateStore
	Analytics Analytics
	Metrics   Observer
	Instance  string // Identity used in structured logs
	Namespace string
}

// Message is one inbound chat line.
type Message struct {
	User    string
	Channel string
	Text    string
	IsAdmin bool
}

// Outcome describes what happened to a message.
type Outcome struct {
	Accepted bool
	Err      error // Nil when accepted, for routing displays, and for successful admin commands
	Command  *grammar.ValidatedCommand
	Decision ratelimit.Decision
	Route    string
	Admin    *AdminResult // Set when the message was an admin console command
	Display  bool         // Set when the message requested the routing display
	Latency  time.Duration
}

// Label names the outcome for metrics.
func (o Outcome) Label() string {
	switch {
	case o.Admin != nil:
		return "admin"
	case o.Display:
		return "routing_display"
	case o.Accepted:
		return "accepted"
	case errors.Is(o.Err, ErrUnknownVariable):
		return "unknown_variable"
	case errors.Is(o.Err, ErrOutOfRange):
		return "out_of_range"
	case errors.Is(o.Err, ErrSequenceViolation):
		return "sequence_violation"
	case errors.Is(o.Err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(o.Err, ErrRoutingMissing):
		return "routing_missing"
	default:
		return "malformed"
	}
}

// CVUpdate is the overlay payload for an accepted or peer-admitted command.
type CVUpdate struct {
	Variable    string               `json:"variable"`
	Value       int                  `json:"value"`
	Voltage     float64              `json:"cvVoltage"`
	Route       string               `json:"route,omitempty"`
	User        string               `json:"username"`
	DotNotation *grammar.DotNotation `json:"dotNotation,omitempty"`
	IsInputJack bool                 `json:"isInputJack,omitempty"`
	Remote      bool                 `json:"remote,omitempty"`
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Processed     uint64          `json:"processed"`
	Accepted      uint64          `json:"accepted"`
	Rejected      uint64          `json:"rejected"`
	AdminCommands uint64          `json:"admin_commands"`
	Routes        int             `json:"routes"`
	JackInstances int             `json:"jack_instances"`
	Limiter       ratelimit.Stats `json:"limiter"`
}

// Pipeline processes chat messages. Safe for concurrent use.
type Pipeline struct {
	validator *grammar.Validator
	jacks     *grammar.JackSequence
	limiter   *ratelimit.Limiter
	routes    *routing.Table
	sink      hardware.Sink
	bus       Publisher
	overlay   Overlay
	state     StateStore
	analytics Analytics
	metrics   Observer
	instance  string
	namespace string

	wg sync.WaitGroup

	processed atomic.Uint64
	accepted  atomic.Uint64
	rejected  atomic.Uint64
	admin     atomic.Uint64
}

// New creates a pipeline. Returns an error if a required dependency is missing.
func New(d Deps) (*Pipeline, error) {
	switch {
	case d.Validator == nil:
		return nil, fmt.Errorf("validator is required")
	case d.Limiter == nil:
		return nil, fmt.Errorf("rate limiter is required")
	case d.Routes == nil:
		return nil, fmt.Errorf("routing table is required")
	case d.Sink == nil:
		return nil, fmt.Errorf("hardware sink is required")
	}
	if d.Jacks == nil {
		d.Jacks = grammar.NewJackSequence()
	}

	return &Pipeline{
		validator: d.Validator,
		jacks:     d.Jacks,
		limiter:   d.Limiter,
		routes:    d.Routes,
		sink:      d.Sink,
		bus:       d.Bus,
		overlay:   d.Overlay,
		state:     d.State,
		analytics: d.Analytics,
		metrics:   d.Metrics,
		instance:  d.Instance,
		namespace: d.Namespace,
	}, nil
}

// HandleMessage runs one chat message through admission. Rejections are
// reported in the Outcome; nothing is returned to the chat user.
func (p *Pipeline) HandleMessage(ctx context.Context, msg Message) (out Outcome) {
	start := time.Now()
	defer func() {
		out.Latency = time.Since(start)
		p.count(out)
		if p.metrics != nil {
			p.metrics.ObserveCommand(out.Label(), out.Latency)
		}
		if p.analytics != nil {
			p.recordMessage(msg, out)
		}
	}()

	text := strings.TrimSpace(msg.Text)

	if msg.IsAdmin {
		if cmd, ok := grammar.ParseAdminCommand(text); ok {
			res := p.handleAdmin(ctx, msg.User, cmd)
			return Outcome{Admin: &res, Err: res.Err}
		}
	}

	if grammar.IsRoutingDisplay(text) {
		p.showRouting(msg.User, msg.IsAdmin)
		return Outcome{Display: true}
	}

	result := p.validator.Validate(text)
	if !result.Valid() {
		return Outcome{Err: rejection(result)}
	}
	cmd := result.Command

	if cmd.IsInputJack && !p.jacks.Accept(cmd.ModuleInstance(), cmd.JackNumber) {
		log.Printf("[Pipeline] %s: inputJack must be claimed sequentially (%s)", msg.User, cmd.FullVariable)
		return Outcome{Command: cmd, Err: ErrSequenceViolation}
	}

	decision := p.limiter.Check(ctx, msg.User, cmd.FullVariable, msg.IsAdmin)
	if decision.IsDegraded() {
		log.Printf("[Pipeline] Rate limiter degraded for %s: %v", msg.User, decision.Degraded)
	}
	if !decision.Allowed {
		log.Printf("[Pipeline] Rate limited: %s - %s (tier %s)", msg.User, decision.Reason, decision.Tier)
		return Outcome{Command: cmd, Decision: decision, Err: fmt.Errorf("%w: %s", ErrRateLimited, decision.Reason)}
	}

	route, ok := p.routes.OutputFor(cmd.FullVariable)
	if !ok {
		log.Printf("[Pipeline] No routing for %s, command ignored", cmd.FullVariable)
		return Outcome{Command: cmd, Decision: decision, Err: ErrRoutingMissing}
	}

	p.dispatch(msg.User, cmd, route, time.Since(start))

	return Outcome{Accepted: true, Command: cmd, Decision: decision, Route: route}
}

func (p *Pipeline) recordMessage(msg Message, out Outcome) {
	var commandType string
	switch {
	case out.Admin != nil:
		commandType = "admin"
	case out.Display:
		commandType = "display"
	case out.Command != nil:
		commandType = "cv"
	}
	p.analytics.RecordMessage(analytics.ChatMessage{
		User:           msg.User,
		Channel:        msg.Channel,
		Text:           msg.Text,
		IsCommand:      commandType != "",
		CommandType:    commandType,
		ProcessingTime: out.Latency,
	})
}

func rejection(r grammar.Result) error {
	switch r.Reason {
	case grammar.ReasonOutOfRange:
		return ErrOutOfRange
	case grammar.ReasonUnknownVariable, grammar.ReasonNoNativeCV:
		return fmt.Errorf("%w: %w", ErrUnknownVariable, r.Err())
	default:
		return ErrMalformedCommand
	}
}

// dispatch sends an admitted command to hardware and fans it out.
func (p *Pipeline) dispatch(user string, cmd *grammar.ValidatedCommand, route string, elapsed time.Duration) {
	voltage := cmd.Voltage()

	err := p.sink.SendCV(hardware.CV{
		Route:     route,
		Voltage:   voltage,
		Module:    cmd.ModuleName,
		Instance:  cmd.Instance,
		Parameter: cmd.Parameter,
		Value:     cmd.Value,
	})
	if err != nil {
		log.Printf("[Pipeline] Hardware send failed for %s: %v", cmd.FullVariable, err)
	}

	dot := cmd.DotNotation
	if p.overlay != nil {
		p.overlay.Broadcast(overlay.MessageCVUpdate, CVUpdate{
			Variable:    cmd.FullVariable,
			Value:       cmd.Value,
			Voltage:     voltage,
			Route:       route,
			User:        user,
			DotNotation: &dot,
			IsInputJack: cmd.IsInputJack,
		})
	}

	if p.bus != nil {
		p.bus.PublishAsync(coordination.ParameterUpdate{
			Variable: cmd.FullVariable,
			Value:    cmd.Value,
			User:     user,
			Route:    route,
		})
	}

	now := time.Now()
	if p.state != nil {
		active := state.ActiveVariable{
			Variable:  cmd.FullVariable,
			Value:     cmd.Value,
			Voltage:   voltage,
			User:      user,
			Route:     route,
			Timestamp: now.UnixMilli(),
		}
		p.async("state record", func(ctx context.Context) error {
			return p.state.Record(ctx, active)
		})
	}

	if p.analytics != nil {
		p.analytics.Record(analytics.Record{
			User:           user,
			Variable:       cmd.FullVariable,
			Value:          cmd.Value,
			ProcessingTime: elapsed,
			Success:        err == nil,
			Timestamp:      now,
		})
	}

	p.logEvent("cv_command", map[string]interface{}{
		"user":     user,
		"variable": cmd.FullVariable,
		"value":    cmd.Value,
		"voltage":  fmt.Sprintf("%.3f", voltage),
		"route":    route,
	})
}

// showRouting pushes the temporary routing display to the overlay.
func (p *Pipeline) showRouting(user string, isAdmin bool) {
	if p.overlay == nil {
		return
	}
	p.overlay.Broadcast(overlay.MessageRoutingDisplay, map[string]any{
		"routes":      p.routes.ListRoutes(),
		"requestedBy": user,
		"isAdmin":     isAdmin,
		"duration":    routingDisplayDuration.Milliseconds(),
	})
	log.Printf("[Pipeline] Routing display requested by %s", user)
}

const routingDisplayDuration = 10 * time.Second

// SyncRoutes sends every route to the hardware sink. Called at startup so the
// patch host matches the stored table. Returns the number of routes sent.
func (p *Pipeline) SyncRoutes() int {
	sent := 0
	for _, r := range p.routes.ListRoutes() {
		if err := p.sink.SendRoute(true, r.Output, r.Variable); err != nil {
			log.Printf("[Pipeline] Failed to sync route %s → %s: %v", r.Output, r.Variable, err)
			continue
		}
		sent++
	}
	log.Printf("[Pipeline] Sent %d existing routes to hardware", sent)
	return sent
}

// Stats returns a snapshot of pipeline and limiter counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Processed:     p.processed.Load(),
		Accepted:      p.accepted.Load(),
		Rejected:      p.rejected.Load(),
		AdminCommands: p.admin.Load(),
		Routes:        p.routes.Len(),
		JackInstances: p.jacks.Len(),
		Limiter:       p.limiter.Stats(),
	}
}

// Wait blocks until in-flight side effects have finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) count(out Outcome) {
	p.processed.Add(1)
	switch {
	case out.Admin != nil:
		p.admin.Add(1)
	case out.Accepted:
		p.accepted.Add(1)
	case out.Err != nil:
		p.rejected.Add(1)
	}
}

// async runs fn in the background with its own deadline. Errors are logged.
func (p *Pipeline) async(name string, fn func(ctx context.Context) error) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			log.Printf("[Pipeline] %s failed: %v", name, err)
		}
	}()
}

// logEvent logs a structured event in JSON format.
func (p *Pipeline) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "pipeline"
	data["event_type"] = eventType
	data["instance"] = p.instance

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Pipeline] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
