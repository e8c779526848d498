// Package redisstore wraps the Redis operations used by the zone store.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/mohammed-shakir/dggs-query/internal/metrics"
)

type Option func(*redis.Options)

func WithPoolSize(n int) Option {
	return func(o *redis.Options) { o.PoolSize = n }
}

func WithMinIdleConns(n int) Option {
	return func(o *redis.Options) { o.MinIdleConns = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.ReadTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.WriteTimeout = d }
}

type Client struct {
	rdb *redis.Client
}

func New(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     64,
		MinIdleConns: 4,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, f := range opts {
		f(ro)
	}

	rdb := redis.NewClient(ro)

	start := time.Now()
	err := rdb.Ping(ctx).Err()
	metrics.ObserveStoreOp("ping", err, time.Since(start).Seconds())
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// Ping reports whether the server answers; used by readiness checks.
func (c *Client) Ping(ctx context.Context) error {
	start := time.Now()
	err := c.rdb.Ping(ctx).Err()
	metrics.ObserveStoreOp("ping", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// MGet returns a map of found keys to their values
func (c *Client) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	start := time.Now()
	if len(keys) == 0 {
		metrics.ObserveStoreOp("mget", nil, time.Since(start).Seconds())
		return map[string][]byte{}, nil
	}

	vals, err := c.rdb.MGet(ctx, keys...).Result()
	metrics.ObserveStoreOp("mget", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis MGET %d keys: %w", len(keys), err)
	}

	out := make(map[string][]byte, len(vals))
	for i, v := range vals {
		switch t := v.(type) {
		case nil:
			// missing key
		case string:
			out[keys[i]] = []byte(t)
		case []byte:
			out[keys[i]] = t
		default:
			out[keys[i]] = fmt.Append(nil, t)
		}
	}
	return out, nil
}

func (c *Client) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.rdb.Set(ctx, key, val, ttl).Err()
	metrics.ObserveStoreOp("set", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis SET %q: %w", key, err)
	}
	return nil
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	start := time.Now()
	err := c.rdb.Del(ctx, keys...).Err()
	metrics.ObserveStoreOp("del", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis DEL %d keys: %w", len(keys), err)
	}
	return nil
}

// Incr bumps a counter and returns the new value.
func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	start := time.Now()
	n, err := c.rdb.Incr(ctx, key).Result()
	metrics.ObserveStoreOp("incr", err, time.Since(start).Seconds())
	if err != nil {
		return 0, fmt.Errorf("redis INCR %q: %w", key, err)
	}
	return n, nil
}

// Get returns the value of key and false when it is missing.
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.ObserveStoreOp("get", nil, time.Since(start).Seconds())
		return nil, false, nil
	}
	metrics.ObserveStoreOp("get", err, time.Since(start).Seconds())
	if err != nil {
		return nil, false, fmt.Errorf("redis GET %q: %w", key, err)
	}
	return b, true, nil
}

// Index adds zone members to a lexicographic sorted set and feature ids to a
// per-zone set in one pipeline.
func (c *Client) Index(ctx context.Context, zset string, members map[string][]string, setKey func(member string) string) error {
	start := time.Now()
	if len(members) == 0 {
		metrics.ObserveStoreOp("index", nil, time.Since(start).Seconds())
		return nil
	}
	_, err := c.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		zs := make([]redis.Z, 0, len(members))
		for m, ids := range members {
			zs = append(zs, redis.Z{Score: 0, Member: m})
			if len(ids) == 0 {
				continue
			}
			vals := make([]any, len(ids))
			for i, id := range ids {
				vals[i] = id
			}
			p.SAdd(ctx, setKey(m), vals...)
		}
		p.ZAdd(ctx, zset, zs...)
		return nil
	})
	metrics.ObserveStoreOp("index", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis index %d members into %q: %w", len(members), zset, err)
	}
	return nil
}

// RangeByLex returns the members of zset between min and max, using the
// ZRANGEBYLEX bound syntax ("[a", "(b", "-", "+").
func (c *Client) RangeByLex(ctx context.Context, zset, minLex, maxLex string) ([]string, error) {
	start := time.Now()
	out, err := c.rdb.ZRangeByLex(ctx, zset, &redis.ZRangeBy{Min: minLex, Max: maxLex}).Result()
	metrics.ObserveStoreOp("zrangebylex", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis ZRANGEBYLEX %q %s %s: %w", zset, minLex, maxLex, err)
	}
	return out, nil
}

// Members returns the members of a set, sorted by Redis' own order.
func (c *Client) Members(ctx context.Context, key string) ([]string, error) {
	start := time.Now()
	out, err := c.rdb.SMembers(ctx, key).Result()
	metrics.ObserveStoreOp("smembers", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis SMEMBERS %q: %w", key, err)
	}
	return out, nil
}

// AddMembers adds members to a plain set.
func (c *Client) AddMembers(ctx context.Context, key string, members ...string) error {
	start := time.Now()
	vals := make([]any, len(members))
	for i, m := range members {
		vals[i] = m
	}
	err := c.rdb.SAdd(ctx, key, vals...).Err()
	metrics.ObserveStoreOp("sadd", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis SADD %q: %w", key, err)
	}
	return nil
}

// Union returns the union of the given sets.
func (c *Client) Union(ctx context.Context, keys ...string) ([]string, error) {
	start := time.Now()
	if len(keys) == 0 {
		metrics.ObserveStoreOp("sunion", nil, time.Since(start).Seconds())
		return nil, nil
	}
	out, err := c.rdb.SUnion(ctx, keys...).Result()
	metrics.ObserveStoreOp("sunion", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis SUNION %d keys: %w", len(keys), err)
	}
	return out, nil
}

// Cards returns the cardinality of each set, in order.
func (c *Client) Cards(ctx context.Context, keys []string) ([]int64, error) {
	start := time.Now()
	if len(keys) == 0 {
		metrics.ObserveStoreOp("scard", nil, time.Since(start).Seconds())
		return nil, nil
	}
	cmds := make([]*redis.IntCmd, len(keys))
	_, err := c.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = p.SCard(ctx, k)
		}
		return nil
	})
	metrics.ObserveStoreOp("scard", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis SCARD %d keys: %w", len(keys), err)
	}
	out := make([]int64, len(keys))
	for i, cmd := range cmds {
		out[i] = cmd.Val()
	}
	return out, nil
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}

func (c *Client) MSetWithTTL(
	ctx context.Context,
	kv map[string][]byte,
	ttl time.Duration,
) error {
	start := time.Now()
	if len(kv) == 0 {
		metrics.ObserveStoreOp("mset", nil, time.Since(start).Seconds())
		return nil
	}

	_, err := c.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for k, v := range kv {
			if err := p.Set(ctx, k, v, ttl).Err(); err != nil {
				return fmt.Errorf("redis MSET pipeline SET %q: %w", k, err)
			}
		}
		return nil
	})

	metrics.ObserveStoreOp("mset", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis MSET %d keys (pipeline): %w", len(kv), err)
	}
	return nil
}
