package redisclient

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "lock:checkout:7", LockKey("checkout:7"))
	assert.Equal(t, "idempotency:abc", IdempotencyKey("abc"))
	assert.Equal(t, "product:42", ProductKey(42))
	assert.Equal(t, "ratelimit:login:a@b.c", RateLimitKey("login", "a@b.c"))
	assert.Equal(t, "notifications:9", NotificationChannel(9))
}

func TestScriptsEmbedded(t *testing.T) {
	assert.Contains(t, releaseLockScript, "DEL")
	assert.Contains(t, rateLimitScript, "INCR")
}

func testClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("Integration test - requires redis")
	}
	c, err := NewClient(addr, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestLockReleaseRequiresToken(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	name := "test:" + uuid.NewString()

	token, ok, err := c.AcquireLock(ctx, name, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = c.AcquireLock(ctx, name, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.ReleaseLock(ctx, name, "someone-else"))
	_, ok, _ = c.AcquireLock(ctx, name, time.Minute)
	assert.False(t, ok)

	require.NoError(t, c.ReleaseLock(ctx, name, token))
	_, ok, err = c.AcquireLock(ctx, name, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIdempotentReplay(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	key := uuid.NewString()

	stored, inFlight, err := c.BeginIdempotent(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, stored)
	assert.False(t, inFlight)

	_, inFlight, err = c.BeginIdempotent(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, inFlight)

	require.NoError(t, c.FinishIdempotent(ctx, key, []byte(`{"id":1}`), time.Minute))
	stored, _, err = c.BeginIdempotent(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1}`, string(stored))
}

func TestAllowWindow(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	key := RateLimitKey("test", uuid.NewString())

	for i := 0; i < 3; i++ {
		ok, err := c.Allow(ctx, key, 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := c.Allow(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}
