package redisclient

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

//go:embed scripts/rate_limit.lua
var rateLimitScript string

// idempotencyPending marks a key whose first request is still in flight.
const idempotencyPending = "__pending__"

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
	limitScript   *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseLockScript),
		limitScript:   redis.NewScript(rateLimitScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Ping checks Redis connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// LockKey names a distributed lock
func LockKey(name string) string {
	return "lock:" + name
}

// IdempotencyKey names a stored request outcome
func IdempotencyKey(key string) string {
	return "idempotency:" + key
}

// ProductKey names a cached product
func ProductKey(productID int64) string {
	return fmt.Sprintf("product:%d", productID)
}

// RateLimitKey names a rate limit counter
func RateLimitKey(scope, id string) string {
	return fmt.Sprintf("ratelimit:%s:%s", scope, id)
}

// NotificationChannel is the pub/sub channel for a user's live notifications
func NotificationChannel(userID int64) string {
	return fmt.Sprintf("notifications:%d", userID)
}

// AcquireLock takes a distributed lock and returns the token needed to
// release it. ok is false if someone else holds the lock.
func (c *Client) AcquireLock(ctx context.Context, name string, ttl time.Duration) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = c.rdb.SetNX(ctx, LockKey(name), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return token, ok, nil
}

// ReleaseLock releases a lock only if it is still held with token
func (c *Client) ReleaseLock(ctx context.Context, name, token string) error {
	if err := c.releaseScript.Run(ctx, c.rdb, []string{LockKey(name)}, token).Err(); err != nil {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}

// Allow counts a hit against a fixed window and reports whether it is
// within limit.
func (c *Client) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	result, err := c.limitScript.Run(ctx, c.rdb, []string{key}, limit, int(window.Seconds())).Int64()
	if err != nil {
		return false, fmt.Errorf("rate limit script failed: %w", err)
	}
	return result == 1, nil
}

// BeginIdempotent claims an idempotency key. If the key was already used,
// the stored response is returned; inFlight is set when the first request
// has not finished yet.
func (c *Client) BeginIdempotent(ctx context.Context, key string, ttl time.Duration) (stored []byte, inFlight bool, err error) {
	claimed, err := c.rdb.SetNX(ctx, IdempotencyKey(key), idempotencyPending, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if claimed {
		return nil, false, nil
	}

	val, err := c.rdb.Get(ctx, IdempotencyKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		// expired between the two calls
		return c.BeginIdempotent(ctx, key, ttl)
	}
	if err != nil {
		return nil, false, err
	}
	if string(val) == idempotencyPending {
		return nil, true, nil
	}
	return val, false, nil
}

// FinishIdempotent stores the response for a claimed key
func (c *Client) FinishIdempotent(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, IdempotencyKey(key), response, ttl).Err()
}

// AbortIdempotent frees a claimed key so the request can be retried
func (c *Client) AbortIdempotent(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, IdempotencyKey(key)).Err()
}

// GetJSON decodes a cached value into dest. found is false on a miss.
func (c *Client) GetJSON(ctx context.Context, key string, dest interface{}) (found bool, err error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return true, nil
}

// SetJSON caches value as JSON with TTL
func (c *Client) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, raw, ttl).Err()
}

// Delete removes keys
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

// Publish sends payload on a pub/sub channel
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	return c.rdb.Publish(ctx, channel, payload).Err()
}

// Subscribe subscribes to pub/sub channels. Callers must close the result.
func (c *Client) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return c.rdb.Subscribe(ctx, channels...)
}

// PSubscribe subscribes to channel patterns. Callers must close the result.
func (c *Client) PSubscribe(ctx context.Context, patterns ...string) *redis.PubSub {
	return c.rdb.PSubscribe(ctx, patterns...)
}
