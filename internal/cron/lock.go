package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const defaultLeaseTTL = 2 * time.Minute

// ErrLeaseLost reports that a lease expired or was taken over mid-run.
var ErrLeaseLost = errors.New("cron lease lost")

// Locker hands out per-job leases shared by all cron-worker replicas.
type Locker interface {
	// TryLock returns nil when another replica holds the job's lease.
	TryLock(ctx context.Context, job string) (Lease, error)
}

// Lease is one replica's claim on a job run.
type Lease interface {
	Extend(ctx context.Context) error
	Release(ctx context.Context) error
	TTL() time.Duration
}

type leaseStore interface {
	AcquireLock(ctx context.Context, name, token string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name, token string) (bool, error)
	ExtendLock(ctx context.Context, name, token string, ttl time.Duration) (bool, error)
}

// RedisLocker issues leases named cron:<env>:<job>.
type RedisLocker struct {
	store leaseStore
	env   string
	ttl   time.Duration
}

// NewRedisLocker builds a locker scoped to env.
func NewRedisLocker(store leaseStore, env string, ttl time.Duration) (*RedisLocker, error) {
	if store == nil {
		return nil, errors.New("redis client required for cron leases")
	}
	if env == "" {
		return nil, errors.New("environment is required for cron leases")
	}
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	return &RedisLocker{store: store, env: env, ttl: ttl}, nil
}

func (l *RedisLocker) TryLock(ctx context.Context, job string) (Lease, error) {
	lease := &redisLease{store: l.store, name: fmt.Sprintf("cron:%s:%s", l.env, job), token: uuid.NewString(), ttl: l.ttl}
	ok, err := l.store.AcquireLock(ctx, lease.name, lease.token, l.ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", lease.name, err)
	}
	if !ok {
		return nil, nil
	}
	return lease, nil
}

type redisLease struct {
	store leaseStore
	name  string
	token string
	ttl   time.Duration
}

func (l *redisLease) TTL() time.Duration { return l.ttl }

func (l *redisLease) Extend(ctx context.Context) error {
	ok, err := l.store.ExtendLock(ctx, l.name, l.token, l.ttl)
	if err != nil {
		return fmt.Errorf("extend %s: %w", l.name, err)
	}
	if !ok {
		return ErrLeaseLost
	}
	return nil
}

// Release is a no-op once the lease has expired or changed hands.
func (l *redisLease) Release(ctx context.Context) error {
	if _, err := l.store.ReleaseLock(ctx, l.name, l.token); err != nil {
		return fmt.Errorf("release %s: %w", l.name, err)
	}
	return nil
}
