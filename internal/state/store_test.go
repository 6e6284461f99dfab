package state

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/patchbay/pkg/coordination"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T, maxActive int) (*Store, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewStore(rdb, "test-ns", maxActive), mr
}

func TestStore_RecordAndSnapshot(t *testing.T) {
	store, _ := setupTestStore(t, 0)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, ActiveVariable{Variable: "doorway#1.threshold", Value: 89, User: "a", Timestamp: 1000}))
	require.NoError(t, store.Record(ctx, ActiveVariable{Variable: "topogram#1.gain", Value: 10, User: "b", Timestamp: 2000}))
	require.NoError(t, store.Record(ctx, ActiveVariable{Variable: "doorway#1.threshold", Value: 90, User: "c", Timestamp: 3000}))

	full, err := store.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, full.Variables, 2)
	assert.Equal(t, "doorway#1.threshold", full.Variables[0].Variable)
	assert.Equal(t, 90, full.Variables[0].Value)
	assert.Equal(t, "topogram#1.gain", full.Variables[1].Variable)

	require.NotNil(t, full.LastCommand)
	assert.Equal(t, "c", full.LastCommand.User)
	assert.True(t, full.OverlayEnabled)
}

func TestStore_Cap(t *testing.T) {
	store, mr := setupTestStore(t, 3)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, store.Record(ctx, ActiveVariable{
			Variable:  fmt.Sprintf("dsg3#%d.frequency", i),
			Value:     i,
			Timestamp: int64(i * 1000),
		}))
	}

	active, err := store.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 3)
	assert.Equal(t, "dsg3#5.frequency", active[0].Variable)
	assert.Equal(t, "dsg3#3.frequency", active[2].Variable)

	assert.Equal(t, "", mr.HGet(coordination.ActiveVariablesKey("test-ns"), "dsg3#1.frequency"))
}

func TestStore_Clear(t *testing.T) {
	store, _ := setupTestStore(t, 0)
	ctx := context.Background()

	require.NoError(t, store.SetOverlayEnabled(ctx, false))
	require.NoError(t, store.Record(ctx, ActiveVariable{Variable: "doorway#1.threshold", Value: 1}))
	require.NoError(t, store.Clear(ctx))

	full, err := store.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, full.Variables)
	assert.Nil(t, full.LastCommand)
	assert.False(t, full.OverlayEnabled, "clear keeps the overlay flag")
}

func TestStore_OverlayFlag(t *testing.T) {
	store, _ := setupTestStore(t, 0)
	ctx := context.Background()

	enabled, err := store.OverlayEnabled(ctx)
	require.NoError(t, err)
	assert.True(t, enabled)

	require.NoError(t, store.SetOverlayEnabled(ctx, false))
	enabled, err = store.OverlayEnabled(ctx)
	require.NoError(t, err)
	assert.False(t, enabled)

	require.NoError(t, store.SetOverlayEnabled(ctx, true))
	enabled, err = store.OverlayEnabled(ctx)
	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestStore_RedisDown(t *testing.T) {
	store, mr := setupTestStore(t, 0)
	mr.Close()

	err := store.Record(context.Background(), ActiveVariable{Variable: "doorway#1.threshold"})
	assert.Error(t, err)
	_, err = store.Snapshot(context.Background())
	assert.Error(t, err)
}
