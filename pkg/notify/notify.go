// Package notify delivers governance events to external channels. The core
// contract is fire-and-forget: approval requests surface to humans through
// the notifier, and a notifier failure never blocks the kernel.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/wardenlabs/warden/pkg/contracts"
)

// ErrRateLimited is returned when the outbound limiter rejects a delivery.
var ErrRateLimited = errors.New("notify: rate limited")

// Notifier delivers one event to one named channel.
type Notifier interface {
	Notify(ctx context.Context, channel string, ev contracts.Event) error
}

const keyPrefix = "warden:notify:"

// RedisNotifier pushes JSON-encoded events onto per-channel Redis lists,
// consumed by external delivery workers. Outbound volume is capped by a
// token-bucket limiter so an event storm cannot flood the broker.
type RedisNotifier struct {
	client  *redis.Client
	limiter *rate.Limiter
}

// NewRedisNotifier connects to Redis at addr. The default limiter allows
// 10 deliveries per second with a burst of 20.
func NewRedisNotifier(addr, password string, db int) *RedisNotifier {
	return FromClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}))
}

// FromClient wraps an existing client. Tests use this with miniredis.
func FromClient(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(10), 20),
	}
}

// WithLimiter replaces the outbound limiter.
func (n *RedisNotifier) WithLimiter(l *rate.Limiter) *RedisNotifier {
	n.limiter = l
	return n
}

// Notify pushes the event to the channel's list. Deliveries beyond the
// rate limit fail with ErrRateLimited; the caller decides whether to drop.
func (n *RedisNotifier) Notify(ctx context.Context, channel string, ev contracts.Event) error {
	if !n.limiter.Allow() {
		return ErrRateLimited
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", ev.ID, err)
	}
	if err := n.client.LPush(ctx, keyPrefix+channel, payload).Err(); err != nil {
		return fmt.Errorf("push to channel %s: %w", channel, err)
	}
	return nil
}

// Close releases the underlying client.
func (n *RedisNotifier) Close() error { return n.client.Close() }
