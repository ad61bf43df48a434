package repo

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// pingTimeout bounds the startup reachability check.
const pingTimeout = 500 * time.Millisecond

// RedisClient is the Redis connection used to mirror relay status. Traffic is
// one periodic pipelined writer plus occasional reads, so the pool is small
// and operations fail fast rather than stall the publisher.
type RedisClient struct {
	*redis.Client
	log *zap.Logger
}

// NewRedisClient builds a client for addr. It does not connect; call Ping.
func NewRedisClient(log *zap.Logger, addr string, db int) *RedisClient {
	return &RedisClient{
		Client: redis.NewClient(&redis.Options{
			Addr:         addr,
			DB:           db,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
			PoolSize:     4,
			MinIdleConns: 1,
			MaxRetries:   1,
		}),
		log: log.Named("redis").With(zap.String("addr", addr), zap.Int("db", db)),
	}
}

// Ping reports whether Redis answers within pingTimeout. An unreachable
// server is not fatal: publishing keeps retrying on its own schedule.
func (c *RedisClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	start := time.Now()
	err := c.Client.Ping(ctx).Err()
	rtt := time.Since(start)
	if err != nil {
		c.log.Warn("unreachable; status will be mirrored once it answers", zap.Duration("rtt", rtt), zap.Error(err))
		return err
	}
	c.log.Info("reachable", zap.Duration("rtt", rtt))
	return nil
}
