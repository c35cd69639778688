// Package lock provides the mutual-exclusion boundary around reference
// minting: an in-process mutex set for single-instance deployments and a
// Redis lease for several instances sharing one store.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ============================================================
// In-process
// ============================================================

// Local serialises holders of the same key within one process.
type Local struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewLocal creates an in-process locker.
func NewLocal() *Local {
	return &Local{locks: make(map[string]chan struct{})}
}

// Lock blocks until key is free or ctx is done.
func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	l.mu.Unlock()

	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() { once.Do(func() { <-ch }) }, nil
}

// ============================================================
// Redis
// ============================================================

// ErrNotAcquired is returned when the lease could not be taken before the
// wait budget ran out.
var ErrNotAcquired = errors.New("lock not acquired")

// releaseScript deletes the key only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a single-instance Redis lease (SET NX PX). The TTL bounds how
// long a crashed holder can block others; holders must finish well within it.
type Redis struct {
	client  redis.UniversalClient
	ttl     time.Duration
	wait    time.Duration
	backoff time.Duration
	logger  *zap.Logger
}

// RedisOptions tunes the lease.
type RedisOptions struct {
	TTL     time.Duration // lease lifetime, default 2m
	Wait    time.Duration // how long Lock keeps trying, default 30s
	Backoff time.Duration // pause between attempts, default 50ms
}

// NewRedis creates a Redis locker.
func NewRedis(client redis.UniversalClient, opts RedisOptions, logger *zap.Logger) *Redis {
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Minute
	}
	if opts.Wait <= 0 {
		opts.Wait = 30 * time.Second
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 50 * time.Millisecond
	}
	return &Redis{client: client, ttl: opts.TTL, wait: opts.Wait, backoff: opts.Backoff, logger: logger}
}

// NewRedisClient parses a redis:// URL and checks connectivity.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// Lock takes the lease for key, retrying until the wait budget or ctx runs out.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	key = "lock:" + key

	deadline := time.Now().Add(r.wait)
	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrNotAcquired, key)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.backoff):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil {
				r.logger.Warn("failed to release redis lock; it will expire", zap.String("key", key), zap.Error(err))
			}
		})
	}, nil
}
