//go:build integration

// Package testutil starts real dependencies for integration tests.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// RedisEnvironment is a Redis container plus a connected client.
type RedisEnvironment struct {
	URL    string
	Client *redis.Client
}

// StartRedis starts a Redis container for the test and returns a connected
// client. The container and client are cleaned up when the test ends.
func StartRedis(t *testing.T) *RedisEnvironment {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
	}

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "Failed to start Redis container")
	t.Cleanup(func() {
		if err := redisC.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate Redis container: %v", err)
		}
	})

	host, err := redisC.Host(ctx)
	require.NoError(t, err, "Failed to get container host")
	port, err := redisC.MappedPort(ctx, "6379")
	require.NoError(t, err, "Failed to get container port")

	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)

	client := redis.NewClient(opts)
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Ping(ctx).Err(), "Redis not accessible")

	return &RedisEnvironment{URL: url, Client: client}
}

// NewClient opens an additional client on the same server, as a second
// instance would.
func (e *RedisEnvironment) NewClient(t *testing.T) *redis.Client {
	t.Helper()
	opts, err := redis.ParseURL(e.URL)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { client.Close() })
	return client
}

