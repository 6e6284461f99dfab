// Package state keeps the shared projection of recently changed variables
// that overlays render on connect.
//
// Redis layout (all under patchbay:{namespace}):
//
//	active_variables  hash   variable → JSON ActiveVariable
//	active_order      zset   variable scored by last update (unix ms)
//	system_state      hash   last_command (JSON), overlay_enabled ("1"/"0")
//
// The projection is capped; the least recently updated variables are dropped
// first.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dyluth/patchbay/pkg/coordination"
	"github.com/redis/go-redis/v9"
)

// DefaultMaxActive is the default cap on tracked variables.
const DefaultMaxActive = 100

const (
	fieldLastCommand    = "last_command"
	fieldOverlayEnabled = "overlay_enabled"
)

// ActiveVariable is the last accepted value of one variable.
type ActiveVariable struct {
	Variable  string  `json:"variable"`
	Value     int     `json:"value"`
	Voltage   float64 `json:"voltage"`
	User      string  `json:"user"`
	Route     string  `json:"route,omitempty"`
	Timestamp int64   `json:"timestamp"` // unix ms
}

// FullState is the snapshot sent to a newly connected overlay.
type FullState struct {
	Variables      []ActiveVariable `json:"variables"`
	LastCommand    *ActiveVariable  `json:"lastCommand,omitempty"`
	OverlayEnabled bool             `json:"overlayEnabled"`
}

// Store reads and writes the projection. Safe for concurrent use.
type Store struct {
	rdb       *redis.Client
	namespace string
	maxActive int
}

// NewStore creates a store. maxActive <= 0 selects DefaultMaxActive.
func NewStore(rdb *redis.Client, namespace string, maxActive int) *Store {
	if maxActive <= 0 {
		maxActive = DefaultMaxActive
	}
	return &Store{rdb: rdb, namespace: namespace, maxActive: maxActive}
}

// Record stores v as the latest value of its variable and as the last command,
// then trims the projection to the cap.
func (s *Store) Record(ctx context.Context, v ActiveVariable) error {
	if v.Timestamp == 0 {
		v.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal active variable: %w", err)
	}

	varsKey := coordination.ActiveVariablesKey(s.namespace)
	orderKey := coordination.ActiveOrderKey(s.namespace)

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, varsKey, v.Variable, data)
		pipe.ZAdd(ctx, orderKey, redis.Z{Score: float64(v.Timestamp), Member: v.Variable})
		pipe.HSet(ctx, coordination.SystemStateKey(s.namespace), fieldLastCommand, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record %s: %w", v.Variable, err)
	}

	return s.trim(ctx)
}

// trim drops the oldest variables beyond the cap.
func (s *Store) trim(ctx context.Context) error {
	orderKey := coordination.ActiveOrderKey(s.namespace)

	count, err := s.rdb.ZCard(ctx, orderKey).Result()
	if err != nil {
		return fmt.Errorf("failed to count active variables: %w", err)
	}
	excess := count - int64(s.maxActive)
	if excess <= 0 {
		return nil
	}

	oldest, err := s.rdb.ZRange(ctx, orderKey, 0, excess-1).Result()
	if err != nil {
		return fmt.Errorf("failed to read oldest active variables: %w", err)
	}
	if len(oldest) == 0 {
		return nil
	}

	members := make([]interface{}, len(oldest))
	for i, v := range oldest {
		members[i] = v
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, orderKey, members...)
		pipe.HDel(ctx, coordination.ActiveVariablesKey(s.namespace), oldest...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to trim active variables: %w", err)
	}
	return nil
}

// Active returns tracked variables, most recently updated first.
func (s *Store) Active(ctx context.Context) ([]ActiveVariable, error) {
	names, err := s.rdb.ZRevRange(ctx, coordination.ActiveOrderKey(s.namespace), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read active order: %w", err)
	}
	if len(names) == 0 {
		return []ActiveVariable{}, nil
	}

	values, err := s.rdb.HMGet(ctx, coordination.ActiveVariablesKey(s.namespace), names...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read active variables: %w", err)
	}

	active := make([]ActiveVariable, 0, len(values))
	for i, raw := range values {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var v ActiveVariable
		if err := json.Unmarshal([]byte(str), &v); err != nil {
			return nil, fmt.Errorf("failed to unmarshal active variable %s: %w", names[i], err)
		}
		active = append(active, v)
	}
	return active, nil
}

// Snapshot returns the full state for a new overlay client.
func (s *Store) Snapshot(ctx context.Context) (*FullState, error) {
	active, err := s.Active(ctx)
	if err != nil {
		return nil, err
	}

	sys, err := s.rdb.HGetAll(ctx, coordination.SystemStateKey(s.namespace)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read system state: %w", err)
	}

	full := &FullState{Variables: active, OverlayEnabled: sys[fieldOverlayEnabled] != "0"}
	if raw, ok := sys[fieldLastCommand]; ok {
		var last ActiveVariable
		if err := json.Unmarshal([]byte(raw), &last); err != nil {
			return nil, fmt.Errorf("failed to unmarshal last command: %w", err)
		}
		full.LastCommand = &last
	}
	return full, nil
}

// Clear removes every tracked variable and the last command. The overlay
// flag is kept.
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, coordination.ActiveVariablesKey(s.namespace), coordination.ActiveOrderKey(s.namespace))
		pipe.HDel(ctx, coordination.SystemStateKey(s.namespace), fieldLastCommand)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to clear active state: %w", err)
	}
	return nil
}

// SetOverlayEnabled persists the overlay flag.
func (s *Store) SetOverlayEnabled(ctx context.Context, enabled bool) error {
	value := "0"
	if enabled {
		value = "1"
	}
	if err := s.rdb.HSet(ctx, coordination.SystemStateKey(s.namespace), fieldOverlayEnabled, value).Err(); err != nil {
		return fmt.Errorf("failed to set overlay flag: %w", err)
	}
	return nil
}

// OverlayEnabled reads the overlay flag. Defaults to true when unset.
func (s *Store) OverlayEnabled(ctx context.Context) (bool, error) {
	value, err := s.rdb.HGet(ctx, coordination.SystemStateKey(s.namespace), fieldOverlayEnabled).Result()
	if err != nil {
		if coordination.IsNotFound(err) {
			return true, nil
		}
		return false, fmt.Errorf("failed to read overlay flag: %w", err)
	}
	return value != "0", nil
}
