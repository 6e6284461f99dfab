package routing

import (
	"context"
	"fmt"
	"sort"

	"github.com/dyluth/patchbay/pkg/coordination"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the table in the hash patchbay:{namespace}:routing_table,
// one field per output.
type RedisStore struct {
	rdb *redis.Client
	key string
}

// NewRedisStore creates a store for the namespace.
func NewRedisStore(rdb *redis.Client, namespace string) *RedisStore {
	return &RedisStore{rdb: rdb, key: coordination.RoutingTableKey(namespace)}
}

// Load reads every route. Redis hashes carry no order, so routes are returned
// sorted by output.
func (s *RedisStore) Load(ctx context.Context) ([]Route, error) {
	hash, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read routing table: %w", err)
	}

	routes := make([]Route, 0, len(hash))
	for output, variable := range hash {
		routes = append(routes, Route{Output: output, Variable: variable})
	}
	sort.Slice(routes, func(i, j int) bool { return routes[i].Output < routes[j].Output })
	return routes, nil
}

// Put sets the variable for one output.
func (s *RedisStore) Put(ctx context.Context, r Route) error {
	if err := s.rdb.HSet(ctx, s.key, r.Output, r.Variable).Err(); err != nil {
		return fmt.Errorf("failed to write route %s: %w", r.Output, err)
	}
	return nil
}

// Delete removes one output.
func (s *RedisStore) Delete(ctx context.Context, output string) error {
	if err := s.rdb.HDel(ctx, s.key, output).Err(); err != nil {
		return fmt.Errorf("failed to delete route %s: %w", output, err)
	}
	return nil
}
