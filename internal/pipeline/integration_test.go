//go:build integration

package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/patchbay/internal/catalog"
	"github.com/dyluth/patchbay/internal/grammar"
	"github.com/dyluth/patchbay/internal/hardware"
	"github.com/dyluth/patchbay/internal/overlay"
	"github.com/dyluth/patchbay/internal/ratelimit"
	"github.com/dyluth/patchbay/internal/routing"
	"github.com/dyluth/patchbay/internal/state"
	"github.com/dyluth/patchbay/internal/testutil"
	"github.com/dyluth/patchbay/pkg/coordination"
)

const testNamespace = "e2e"

type node struct {
	p       *Pipeline
	routes  *routing.Table
	sink    *hardware.LogSink
	overlay *fakeOverlay
	bus     *coordination.Bus
}

// startNode wires one instance against the shared Redis, subscribed to peers.
func startNode(ctx context.Context, t *testing.T, rdb *redis.Client, identity string) *node {
	t.Helper()

	modules, err := catalog.LoadModules("")
	require.NoError(t, err)
	outputs, err := catalog.LoadOutputs("")
	require.NoError(t, err)
	validator := grammar.NewValidator(modules)

	bus, err := coordination.NewBus(rdb, testNamespace, identity)
	require.NoError(t, err)

	n := &node{
		routes:  routing.NewTable(outputs, validator, routing.NewRedisStore(rdb, testNamespace)),
		sink:    hardware.NewLogSink(),
		overlay: &fakeOverlay{enabled: true},
		bus:     bus,
	}
	require.NoError(t, n.routes.Load(ctx))

	n.p, err = New(Deps{
		Validator: validator,
		Limiter:   ratelimit.New(ratelimit.DefaultConfig(), ratelimit.NewRedisCooldownStore(rdb, testNamespace)),
		Routes:    n.routes,
		Sink:      n.sink,
		Bus:       bus,
		Overlay:   n.overlay,
		State:     state.NewStore(rdb, testNamespace, 0),
		Instance:  identity,
	})
	require.NoError(t, err)

	sub, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { sub.Close() })
	go coordination.Dispatch(ctx, sub, n.p.Coordinator())

	return n
}

func TestIntegration_TwoInstances(t *testing.T) {
	env := testutil.StartRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := startNode(ctx, t, env.Client, "instance-a")
	b := startNode(ctx, t, env.NewClient(t), "instance-b")

	// Give both subscriptions time to register.
	time.Sleep(200 * time.Millisecond)

	t.Run("route added on one instance reaches the other", func(t *testing.T) {
		out := a.p.HandleMessage(ctx, Message{User: "admin", Text: "es9out#1 → doorway#1.threshold", IsAdmin: true})
		require.NoError(t, out.Err)

		require.Eventually(t, func() bool {
			v, ok := b.routes.GetRoute("es9out#1")
			return ok && v == "doorway#1.threshold"
		}, 5*time.Second, 20*time.Millisecond)

		// Persisted for instances started later.
		c := startNode(ctx, t, env.NewClient(t), "instance-c")
		v, ok := c.routes.GetRoute("es9out#1")
		assert.True(t, ok)
		assert.Equal(t, "doorway#1.threshold", v)
	})

	t.Run("accepted command is mirrored but not re-dispatched", func(t *testing.T) {
		out := a.p.HandleMessage(ctx, Message{User: "viewer1", Text: "doorway#1.threshold: 64"})
		require.True(t, out.Accepted, "rejected: %v", out.Err)

		require.Eventually(t, func() bool {
			data, ok := b.overlay.last(overlay.MessageCVUpdate)
			return ok && data.(CVUpdate).Remote && data.(CVUpdate).Value == 64
		}, 5*time.Second, 20*time.Millisecond)

		assert.Len(t, a.sink.Sent(), 1)
		assert.Empty(t, b.sink.Sent())

		// Instance A never applies its own echo.
		assert.Eventually(t, func() bool { return a.bus.Stats().SelfFiltered > 0 }, 5*time.Second, 20*time.Millisecond)
		_, remote := a.overlay.last(overlay.MessageRoutingChange)
		assert.False(t, remote)
	})

	t.Run("user cooldown is shared across instances", func(t *testing.T) {
		out := a.p.HandleMessage(ctx, Message{User: "viewer2", Text: "doorway#1.threshold: 10"})
		require.True(t, out.Accepted)

		out = b.p.HandleMessage(ctx, Message{User: "viewer2", Text: "doorway#1.threshold: 11"})
		assert.ErrorIs(t, out.Err, ErrRateLimited)
		assert.Equal(t, ratelimit.ReasonUserCooldown, out.Decision.Reason)
	})

	t.Run("active variables are shared", func(t *testing.T) {
		a.p.Wait()
		snapshot, err := state.NewStore(env.Client, testNamespace, 0).Snapshot(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, snapshot.Variables)
		assert.Equal(t, "doorway#1.threshold", snapshot.Variables[0].Variable)
		assert.Equal(t, 10, snapshot.Variables[0].Value)
	})
}
