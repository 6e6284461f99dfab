// Package routing maps hardware outputs to the variables they carry.
//
// The table is an in-memory replica of a durable Store. Every local mutation
// is written to the store before the replica changes, so a call that returns
// nil has been persisted. Reads never wait on a store write.
package routing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/dyluth/patchbay/internal/grammar"
	"github.com/dyluth/patchbay/pkg/coordination"
)

var (
	ErrInvalidOutput   = errors.New("invalid hardware output")
	ErrInvalidVariable = errors.New("invalid routing variable")
	ErrPersistence     = errors.New("routing table persistence failed")
)

// Route assigns one hardware output to one variable.
type Route struct {
	Output   string `json:"output"`
	Variable string `json:"variable"`
}

// Store persists routes one output at a time. Several instances may share a
// store, so writes touch only the named output.
type Store interface {
	Load(ctx context.Context) ([]Route, error)
	Put(ctx context.Context, r Route) error
	Delete(ctx context.Context, output string) error
}

// OutputCatalog reports whether a hardware output identifier exists.
type OutputCatalog interface {
	Valid(id string) bool
}

// VariableParser validates and normalises a routing variable.
type VariableParser interface {
	ParseVariable(raw string) (grammar.Variable, error)
}

// Table is the routing table. Safe for concurrent use.
type Table struct {
	outputs   OutputCatalog
	variables VariableParser
	store     Store

	writeMu sync.Mutex // serialises mutations, held across store writes

	mu     sync.RWMutex
	routes []Route
	byOut  map[string]int    // output → index in routes
	byVar  map[string]string // variable → first output carrying it
}

// NewTable creates an empty table. Call Load to populate it from the store.
func NewTable(outputs OutputCatalog, variables VariableParser, store Store) *Table {
	t := &Table{outputs: outputs, variables: variables, store: store}
	t.replace(nil)
	return t
}

// Load replaces the replica with the stored table. Entries that no longer
// validate against the catalogs are skipped and logged.
func (t *Table) Load(ctx context.Context) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	stored, err := t.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	routes := make([]Route, 0, len(stored))
	for _, r := range stored {
		normalized, err := t.validate(r.Output, r.Variable)
		if err != nil {
			log.Printf("[Routing] Skipping stored route %s → %s: %v", r.Output, r.Variable, err)
			continue
		}
		routes = append(routes, normalized)
	}

	t.mu.Lock()
	t.replace(routes)
	t.mu.Unlock()

	log.Printf("[Routing] Loaded %d routes", len(routes))
	return nil
}

// AddRoute assigns variable to output, overwriting any existing route for
// output. Re-adding an identical route is a no-op.
func (t *Table) AddRoute(ctx context.Context, output, variable string) (Route, error) {
	route, err := t.validate(output, variable)
	if err != nil {
		return Route{}, err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.RLock()
	next, changed := withRoute(t.routes, t.byOut, route)
	t.mu.RUnlock()
	if !changed {
		return route, nil
	}

	if err := t.store.Put(ctx, route); err != nil {
		return Route{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	t.mu.Lock()
	t.replace(next)
	t.mu.Unlock()
	return route, nil
}

// RemoveRoute deletes the route for output. Returns false if there was none.
func (t *Table) RemoveRoute(ctx context.Context, output string) (bool, error) {
	output = normalizeOutput(output)

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.RLock()
	next, removed := withoutRoute(t.routes, t.byOut, output)
	t.mu.RUnlock()
	if !removed {
		return false, nil
	}

	if err := t.store.Delete(ctx, output); err != nil {
		return false, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	t.mu.Lock()
	t.replace(next)
	t.mu.Unlock()
	return true, nil
}

// ApplyRemote applies a change already persisted by a peer instance to the
// local replica only.
func (t *Table) ApplyRemote(change coordination.RoutingChange) {
	output := normalizeOutput(change.Output)

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	if change.Action == coordination.RoutingAdd {
		next, changed := withRoute(t.routes, t.byOut, Route{Output: output, Variable: change.Variable})
		if changed {
			t.replace(next)
		}
		return
	}
	if next, removed := withoutRoute(t.routes, t.byOut, output); removed {
		t.replace(next)
	}
}

// GetRoute returns the variable routed to output.
func (t *Table) GetRoute(output string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i, ok := t.byOut[normalizeOutput(output)]
	if !ok {
		return "", false
	}
	return t.routes[i].Variable, true
}

// OutputFor returns the first output (in table order) carrying variable.
func (t *Table) OutputFor(variable string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out, ok := t.byVar[variable]
	return out, ok
}

// ListRoutes returns a snapshot of all routes in table order.
func (t *Table) ListRoutes() []Route {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Route, len(t.routes))
	copy(out, t.routes)
	return out
}

// Len returns the number of routes.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.routes)
}

func (t *Table) validate(output, variable string) (Route, error) {
	output = normalizeOutput(output)
	if !t.outputs.Valid(output) {
		return Route{}, fmt.Errorf("%w: %q", ErrInvalidOutput, output)
	}
	v, err := t.variables.ParseVariable(strings.TrimSpace(variable))
	if err != nil {
		return Route{}, fmt.Errorf("%w: %v", ErrInvalidVariable, err)
	}
	return Route{Output: output, Variable: v.FullVariable}, nil
}

// replace installs routes and rebuilds the indexes. Caller holds t.mu for
// writing (or owns t exclusively).
func (t *Table) replace(routes []Route) {
	t.routes = routes
	t.byOut = make(map[string]int, len(routes))
	t.byVar = make(map[string]string, len(routes))
	for i, r := range routes {
		t.byOut[r.Output] = i
		if _, ok := t.byVar[r.Variable]; !ok {
			t.byVar[r.Variable] = r.Output
		}
	}
}

// withRoute returns a copy of routes with r set. An overwrite keeps the
// output's position.
func withRoute(routes []Route, byOut map[string]int, r Route) ([]Route, bool) {
	if i, ok := byOut[r.Output]; ok {
		if routes[i].Variable == r.Variable {
			return routes, false
		}
		next := make([]Route, len(routes))
		copy(next, routes)
		next[i] = r
		return next, true
	}
	next := make([]Route, len(routes), len(routes)+1)
	copy(next, routes)
	return append(next, r), true
}

func withoutRoute(routes []Route, byOut map[string]int, output string) ([]Route, bool) {
	i, ok := byOut[output]
	if !ok {
		return routes, false
	}
	next := make([]Route, 0, len(routes)-1)
	next = append(next, routes[:i]...)
	return append(next, routes[i+1:]...), true
}

func normalizeOutput(output string) string {
	return strings.ToLower(strings.TrimSpace(output))
}
