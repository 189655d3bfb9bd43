package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lease guards a cycle across processes. Acquire reports false when another
// holder owns the lease; the returned release func is only valid when true.
type Lease interface {
	Acquire(ctx context.Context) (release func(), ok bool, err error)
}

// localLease is used when no redis is configured. The in-process flag is the
// only guard.
type localLease struct{}

func (localLease) Acquire(context.Context) (func(), bool, error) {
	return func() {}, true, nil
}

const leaseKey = "managed-wealth:worker:lease"

// releaseScript deletes the lease only while it still holds our token, so an
// expired lease taken over by another process is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease is a SET NX PX lease shared by every worker process pointed at
// the same redis.
type RedisLease struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

// NewRedisLease creates a RedisLease. ttl should exceed the longest expected
// cycle.
func NewRedisLease(rdb *redis.Client, ttl time.Duration) *RedisLease {
	return &RedisLease{rdb: rdb, key: leaseKey, ttl: ttl}
}

// NewRedisLeaseFromURL parses a redis:// URL and pings the server.
func NewRedisLeaseFromURL(ctx context.Context, url string, ttl time.Duration) (*RedisLease, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("worker.NewRedisLeaseFromURL: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("worker.NewRedisLeaseFromURL: ping: %w", err)
	}
	return NewRedisLease(rdb, ttl), nil
}

func (l *RedisLease) Acquire(ctx context.Context) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("worker.RedisLease.Acquire: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// The cycle's ctx may already be cancelled at shutdown.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(rctx, l.rdb, []string{l.key}, token).Err()
	}
	return release, true, nil
}

// Close closes the redis client.
func (l *RedisLease) Close() error { return l.rdb.Close() }
