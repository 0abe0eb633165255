package kvs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection settings.
type Config struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
}

const (
	connectAttempts = 3
	writeAttempts   = 3
	retryBase       = 100 * time.Millisecond
)

// RedisStore implements Store on a Redis backend.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedis connects to Redis and verifies the connection, retrying up to
// three times with exponential backoff before giving up.
func NewRedis(ctx context.Context, cfg Config) (*RedisStore, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	})

	var err error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
		err = rdb.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			return &RedisStore{rdb: rdb}, nil
		}
		if attempt < connectAttempts {
			delay := retryBase << (attempt - 1)
			slog.Warn("Redis ping failed, retrying",
				"addr", cfg.Addr, "attempt", attempt, "delay", delay, "error", err)
			select {
			case <-ctx.Done():
				_ = rdb.Close()
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	_ = rdb.Close()
	return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
}

// withRetry runs fn up to writeAttempts times, backing off between transient
// failures. Context errors and redis.Nil are returned immediately.
func (s *RedisStore) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= writeAttempts; attempt++ {
		err = fn()
		if err == nil || !isTransient(err) {
			return err
		}
		if attempt < writeAttempts {
			delay := retryBase << (attempt - 1)
			slog.Warn("KVS operation failed, retrying",
				"op", op, "attempt", attempt, "delay", delay, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, writeAttempts, err)
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, redis.Nil) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get %s: %w", key, err)
	}
	return val, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.withRetry(ctx, "set "+key, func() error {
		return s.rdb.Set(ctx, key, value, ttl).Err()
	})
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.withRetry(ctx, "del", func() error {
		return s.rdb.Del(ctx, keys...).Err()
	})
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.withRetry(ctx, "expire "+key, func() error {
		return s.rdb.Expire(ctx, key, ttl).Err()
	})
}

func (s *RedisStore) RPush(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	return s.withRetry(ctx, "rpush "+key, func() error {
		return s.rdb.RPush(ctx, key, toAny(values)...).Err()
	})
}

func (s *RedisStore) RPushCapped(ctx context.Context, key string, maxLen int64, ttl time.Duration, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	return s.withRetry(ctx, "rpush capped "+key, func() error {
		pipe := s.rdb.Pipeline()
		pipe.RPush(ctx, key, toAny(values)...)
		if maxLen > 0 {
			pipe.LTrim(ctx, key, -maxLen, -1)
		}
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		_, err := pipe.Exec(ctx)
		return err
	})
}

func (s *RedisStore) LPop(ctx context.Context, key string) (string, error) {
	val, err := s.rdb.LPop(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to lpop %s: %w", key, err)
	}
	return val, nil
}

func (s *RedisStore) BLPop(ctx context.Context, timeout time.Duration, keys ...string) (string, string, error) {
	res, err := s.rdb.BLPop(ctx, timeout, keys...).Result()
	if errors.Is(err, redis.Nil) {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to blpop: %w", err)
	}
	if len(res) != 2 {
		return "", "", fmt.Errorf("unexpected blpop reply of %d elements", len(res))
	}
	return res[0], res[1], nil
}

func (s *RedisStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vals, err := s.rdb.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to lrange %s: %w", key, err)
	}
	return vals, nil
}

func (s *RedisStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	return s.withRetry(ctx, "ltrim "+key, func() error {
		return s.rdb.LTrim(ctx, key, start, stop).Err()
	})
}

func (s *RedisStore) LLen(ctx context.Context, key string) (int64, error) {
	n, err := s.rdb.LLen(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to llen %s: %w", key, err)
	}
	return n, nil
}

func (s *RedisStore) LRem(ctx context.Context, key string, count int64, value string) error {
	return s.withRetry(ctx, "lrem "+key, func() error {
		return s.rdb.LRem(ctx, key, count, value).Err()
	})
}

func (s *RedisStore) HSet(ctx context.Context, key, field, value string) error {
	return s.withRetry(ctx, "hset "+key, func() error {
		return s.rdb.HSet(ctx, key, field, value).Err()
	})
}

func (s *RedisStore) HGet(ctx context.Context, key, field string) (string, error) {
	val, err := s.rdb.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to hget %s %s: %w", key, field, err)
	}
	return val, nil
}

func (s *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	vals, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to hgetall %s: %w", key, err)
	}
	return vals, nil
}

func (s *RedisStore) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return s.withRetry(ctx, "hdel "+key, func() error {
		return s.rdb.HDel(ctx, key, fields...).Err()
	})
}

func (s *RedisStore) Publish(ctx context.Context, channel, payload string) error {
	return s.withRetry(ctx, "publish "+channel, func() error {
		return s.rdb.Publish(ctx, channel, payload).Err()
	})
}

func (s *RedisStore) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	ps := s.rdb.Subscribe(ctx, channels...)
	// Wait for the subscription confirmation so callers never miss
	// messages published after Subscribe returns.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	sub := &redisSubscription{ps: ps, msgs: make(chan Message, 64)}
	go sub.pump()
	return sub, nil
}

func (s *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	iter := s.rdb.Scan(ctx, 0, pattern, 200).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan keys %s: %w", pattern, err)
	}
	return out, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

type redisSubscription struct {
	ps   *redis.PubSub
	msgs chan Message
}

func (s *redisSubscription) pump() {
	defer close(s.msgs)
	for m := range s.ps.Channel() {
		s.msgs <- Message{Channel: m.Channel, Payload: m.Payload}
	}
}

func (s *redisSubscription) Messages() <-chan Message { return s.msgs }

func (s *redisSubscription) Close() error { return s.ps.Close() }

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
