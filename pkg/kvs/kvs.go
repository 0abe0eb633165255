// Package kvs provides the key-value store abstraction the runtime is built
// on: bounded lists, hashes, scalar keys with TTL, blocking pops, and
// pub/sub fan-out. The production backend is Redis; an in-memory backend
// serves tests and single-process development.
package kvs

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key, field, or blocking pop yields nothing.
var ErrNotFound = errors.New("kvs: not found")

// ErrClosed is returned by operations on a closed store or subscription.
var ErrClosed = errors.New("kvs: closed")

// Message is one pub/sub delivery.
type Message struct {
	Channel string
	Payload string
}

// Subscription is a live pub/sub registration. Messages delivered after
// Close are discarded.
type Subscription interface {
	// Messages returns the delivery channel. It is closed when the
	// subscription closes.
	Messages() <-chan Message
	Close() error
}

// Store is the full KVS surface used by the runtime. All operations are safe
// for concurrent use. Write operations retry transient backend failures
// internally with exponential backoff up to three attempts; errors that
// survive are permanent.
type Store interface {
	// Scalar keys.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Lists.
	RPush(ctx context.Context, key string, values ...string) error
	// RPushCapped appends values, trims the list to its newest maxLen
	// entries, and refreshes the TTL, pipelined where the backend allows.
	RPushCapped(ctx context.Context, key string, maxLen int64, ttl time.Duration, values ...string) error
	LPop(ctx context.Context, key string) (string, error)
	// BLPop waits up to timeout for a value on any of the given keys,
	// scanning them in order. It returns the key that produced the value.
	// ErrNotFound signals an empty timeout expiry.
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) (key, value string, err error)
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LTrim(ctx context.Context, key string, start, stop int64) error
	LLen(ctx context.Context, key string) (int64, error)
	LRem(ctx context.Context, key string, count int64, value string) error

	// Hashes.
	HSet(ctx context.Context, key, field, value string) error
	HGet(ctx context.Context, key, field string) (string, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key string, fields ...string) error

	// Pub/sub.
	Publish(ctx context.Context, channel, payload string) error
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)

	// Keys returns all keys matching a glob pattern. Intended for
	// maintenance paths, not hot paths.
	Keys(ctx context.Context, pattern string) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}
