package coordination

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultPublishTimeout bounds a fire-and-forget publish.
const DefaultPublishTimeout = 2 * time.Second

// Bus publishes and receives coordination events for one instance.
// All channels are namespaced; the identity is used for self-origin filtering.
// The bus is thread-safe and can be used concurrently from multiple goroutines.
type Bus struct {
	rdb       *redis.Client
	namespace string
	identity  string
	now       func() time.Time

	published       atomic.Int64
	publishFailures atomic.Int64
	received        atomic.Int64
	selfFiltered    atomic.Int64
	decodeErrors    atomic.Int64
}

// BusStats is a snapshot of bus counters.
type BusStats struct {
	Published       int64 `json:"published"`
	PublishFailures int64 `json:"publish_failures"`
	Received        int64 `json:"received"`
	SelfFiltered    int64 `json:"self_filtered"`
	DecodeErrors    int64 `json:"decode_errors"`
}

// NewBus creates a coordination bus on an existing Redis client.
// The client is shared with the caller and is not closed by the bus.
//
// Parameters:
//   - rdb: Redis client used for PUBLISH and SUBSCRIBE
//   - namespace: deployment namespace shared by all peer instances
//   - identity: unique identity of this process
func NewBus(rdb *redis.Client, namespace, identity string) (*Bus, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}
	if identity == "" {
		return nil, fmt.Errorf("instance identity cannot be empty")
	}

	return &Bus{
		rdb:       rdb,
		namespace: namespace,
		identity:  identity,
		now:       time.Now,
	}, nil
}

// Identity returns the local instance identity.
func (b *Bus) Identity() string {
	return b.identity
}

// Namespace returns the deployment namespace.
func (b *Bus) Namespace() string {
	return b.namespace
}

// Publish wraps the payload in an envelope and publishes it on the channel
// for its event type. Returns an error if validation, encoding or the Redis
// PUBLISH fails.
func (b *Bus) Publish(ctx context.Context, p Payload) error {
	event, err := NewEvent(b.identity, p, b.now())
	if err != nil {
		b.publishFailures.Add(1)
		return err
	}

	raw, err := MarshalEvent(event)
	if err != nil {
		b.publishFailures.Add(1)
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	channel := Channel(b.namespace, event.Type)
	if err := b.rdb.Publish(ctx, channel, raw).Err(); err != nil {
		b.publishFailures.Add(1)
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}

	b.published.Add(1)
	return nil
}

// PublishAsync publishes without blocking the caller. Failures are logged and
// counted, never returned.
func (b *Bus) PublishAsync(p Payload) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultPublishTimeout)
		defer cancel()

		if err := b.Publish(ctx, p); err != nil {
			log.Printf("[Coordination] Publish failed (continuing without coordination): %v", err)
		}
	}()
}

// Stats returns a snapshot of the bus counters.
func (b *Bus) Stats() BusStats {
	return BusStats{
		Published:       b.published.Load(),
		PublishFailures: b.publishFailures.Load(),
		Received:        b.received.Load(),
		SelfFiltered:    b.selfFiltered.Load(),
		DecodeErrors:    b.decodeErrors.Load(),
	}
}

// Subscription represents an active subscription to all coordination channels.
// Caller must call Close() when done to clean up resources.
// Events published by this instance never appear on Events().
type Subscription struct {
	events <-chan *Event
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of peer events.
// The channel will be closed when the subscription is closed or the context is cancelled.
func (s *Subscription) Events() <-chan *Event {
	return s.events
}

// Errors returns the channel of subscription errors.
// Errors are non-fatal; the offending message is skipped.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription. Implements io.Closer.
// Safe to call multiple times - subsequent calls are no-ops.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// Subscribe subscribes to the four coordination channels of the namespace.
// It waits for Redis to confirm the subscription before returning, so events
// published after Subscribe returns are observed.
//
// Events are delivered on a buffered channel (size 64). If the subscriber is
// too slow, Redis may drop messages (at-most-once delivery).
func (b *Bus) Subscribe(ctx context.Context) (*Subscription, error) {
	pubsub := b.rdb.Subscribe(ctx, Channels(b.namespace)...)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to coordination channels: %w", err)
	}

	eventsChan := make(chan *Event, 64)
	errorsChan := make(chan error, 16)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				event, err := UnmarshalEvent([]byte(msg.Payload))
				if err != nil {
					b.decodeErrors.Add(1)
					select {
					case errorsChan <- fmt.Errorf("failed to decode event on %s: %w", msg.Channel, err):
					case <-subCtx.Done():
						return
					default:
						// Error channel full, drop the error rather than stall delivery
					}
					continue
				}

				// Redis has no self-exclusion; drop our own echoes here.
				if event.SourceInstance == b.identity {
					b.selfFiltered.Add(1)
					continue
				}

				b.received.Add(1)
				select {
				case eventsChan <- event:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error (redis.Nil).
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
