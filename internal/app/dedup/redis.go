package dedup

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "innervoice:dedup:"

// RedisConfig selects the shared guard backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type setNXer interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.BoolCmd
}

// RedisGuard shares the suppression window between replicas.
// The window is the key TTL, so expiry is handled by the server.
type RedisGuard struct {
	rdb    setNXer
	closer func() error
	window time.Duration
}

// NewRedisGuard connects to redis and verifies the connection.
func NewRedisGuard(ctx context.Context, cfg RedisConfig, window time.Duration) (*RedisGuard, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	g := newRedisGuard(rdb, window)
	g.closer = rdb.Close
	return g, nil
}

func newRedisGuard(rdb setNXer, window time.Duration) *RedisGuard {
	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisGuard{rdb: rdb, window: window}
}

// ShouldProcess implements Guard with a single SET NX.
func (g *RedisGuard) ShouldProcess(ctx context.Context, fingerprint string, now time.Time) (bool, error) {
	ok, err := g.rdb.SetNX(ctx, keyPrefix+fingerprint, now.UnixMilli(), g.window).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Close releases the connection pool.
func (g *RedisGuard) Close() error {
	if g.closer == nil {
		return nil
	}
	return g.closer()
}
