package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadline/shopfront-backend/pkg/config"
)

func TestFixedWindowAllow(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	allowed, count, err := client.FixedWindowAllow(ctx, "payment_intent:user-1", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.EqualValues(t, 1, count)
	assert.Equal(t, map[string]time.Duration{"sf:rate_limit:payment_intent:user-1": time.Minute}, mock.ttl)

	allowed, count, err = client.FixedWindowAllow(ctx, "payment_intent:user-1", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.EqualValues(t, 2, count)

	allowed, count, err = client.FixedWindowAllow(ctx, "payment_intent:user-1", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.EqualValues(t, 3, count)

	allowed, _, err = client.FixedWindowAllow(ctx, "payment_intent:user-2", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed, "scopes count separately")

	_, _, err = client.FixedWindowAllow(ctx, "payment_intent:user-1", 2, 0)
	assert.Error(t, err)
}

func TestLockLease(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	ok, err := client.AcquireLock(ctx, "cron:prod:intent-expiry", "owner-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = client.AcquireLock(ctx, "cron:prod:intent-expiry", "owner-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "held lease cannot be taken")

	ok, err = client.ExtendLock(ctx, "cron:prod:intent-expiry", "owner-b", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok, "only the owner extends")

	ok, err = client.ExtendLock(ctx, "cron:prod:intent-expiry", "owner-a", 2*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2*time.Minute, mock.ttl["sf:lock:cron:prod:intent-expiry"])

	ok, err = client.ReleaseLock(ctx, "cron:prod:intent-expiry", "owner-b")
	require.NoError(t, err)
	assert.False(t, ok, "only the owner releases")
	assert.Contains(t, mock.data, "sf:lock:cron:prod:intent-expiry")

	ok, err = client.ReleaseLock(ctx, "cron:prod:intent-expiry", "owner-a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotContains(t, mock.data, "sf:lock:cron:prod:intent-expiry")
}

func TestSetNXAndDelRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMockCmdable()}

	key := client.IdempotencyKey("orders:create", "abc")
	set, err := client.SetNX(ctx, key, "payload", time.Hour)
	require.NoError(t, err)
	require.True(t, set)

	set, err = client.SetNX(ctx, key, "other", time.Hour)
	require.NoError(t, err)
	assert.False(t, set)

	value, err := client.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "payload", value)

	require.NoError(t, client.Del(ctx, key))
	_, err = client.Get(ctx, key)
	assert.ErrorIs(t, err, redis.Nil)
}

func TestUninitializedClient(t *testing.T) {
	ctx := context.Background()
	var client *Client
	assert.ErrorIs(t, client.Ping(ctx), errNotInitialized)
	_, err := client.AcquireLock(ctx, "cron", "owner", time.Minute)
	assert.ErrorIs(t, err, errNotInitialized)
	_, _, err = (&Client{}).FixedWindowAllow(ctx, "scope", 1, time.Minute)
	assert.ErrorIs(t, err, errNotInitialized)
	assert.NoError(t, client.Close())
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	assert.Equal(t, "sf:idempotency:scope:id", client.IdempotencyKey("scope", "id"))
	assert.Equal(t, "sf:rate_limit:scope", client.RateLimitKey("scope"))
	assert.Equal(t, "sf:lock:cron-worker", client.LockKey("cron-worker"))
	assert.Equal(t, "sf:idempotency:scope", client.IdempotencyKey(" scope ", ""), "empty parts are skipped")
}

func TestOptionsFromConfig(t *testing.T) {
	_, err := optionsFromConfig(config.RedisConfig{})
	assert.Error(t, err)

	opts, err := optionsFromConfig(config.RedisConfig{
		URL:         "redis://:secret@cache.internal:6380/3",
		DB:          7,
		PoolSize:    20,
		DialTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", opts.Addr)
	assert.Equal(t, 3, opts.DB, "url database wins")
	assert.Equal(t, 20, opts.PoolSize)
	assert.Equal(t, 2*time.Second, opts.DialTimeout)

	opts, err = optionsFromConfig(config.RedisConfig{Address: "localhost:6379", DB: 2})
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 2, opts.DB)
}

// mockCmdable emulates the commands and scripts the client sends.
type mockCmdable struct {
	data map[string]string
	ttl  map[string]time.Duration
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{data: map[string]string{}, ttl: map[string]time.Duration{}}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(_ context.Context, key string, value any, ttl time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	m.ttl[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, key := range keys {
		if _, ok := m.data[key]; ok {
			n++
		}
		delete(m.data, key)
		delete(m.ttl, key)
	}
	return redis.NewIntResult(n, nil)
}

func (m *mockCmdable) Eval(_ context.Context, script string, keys []string, args ...any) *redis.Cmd {
	key := keys[0]
	switch script {
	case fixedWindowScript:
		var count int64
		fmt.Sscan(m.data[key], &count)
		count++
		m.data[key] = fmt.Sprint(count)
		if count == 1 {
			m.ttl[key] = time.Duration(args[0].(int64)) * time.Millisecond
		}
		return redis.NewCmdResult(count, nil)
	case releaseLockScript:
		if m.data[key] != args[0] {
			return redis.NewCmdResult(int64(0), nil)
		}
		delete(m.data, key)
		delete(m.ttl, key)
		return redis.NewCmdResult(int64(1), nil)
	case extendLockScript:
		if m.data[key] != args[0] {
			return redis.NewCmdResult(int64(0), nil)
		}
		m.ttl[key] = time.Duration(args[1].(int64)) * time.Millisecond
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(nil, fmt.Errorf("unexpected script"))
}
