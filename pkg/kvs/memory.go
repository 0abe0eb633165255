package kvs

import (
	"context"
	"path"
	"sync"
	"time"
)

// MemoryStore implements Store entirely in process memory. It backs unit
// tests and single-node development runs; semantics mirror the Redis
// backend including TTL expiry, capped pushes, and blocking pops.
type MemoryStore struct {
	mu      sync.Mutex
	strings map[string]string
	lists   map[string][]string
	hashes  map[string]map[string]string
	expiry  map[string]time.Time
	subs    map[string][]*memorySubscription
	signal  chan struct{}
	closed  bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		strings: make(map[string]string),
		lists:   make(map[string][]string),
		hashes:  make(map[string]map[string]string),
		expiry:  make(map[string]time.Time),
		subs:    make(map[string][]*memorySubscription),
		signal:  make(chan struct{}),
	}
}

// purge drops the key if its TTL has lapsed. Callers hold mu.
func (s *MemoryStore) purge(key string) {
	if exp, ok := s.expiry[key]; ok && time.Now().After(exp) {
		delete(s.strings, key)
		delete(s.lists, key)
		delete(s.hashes, key)
		delete(s.expiry, key)
	}
}

// broadcast wakes every blocked pop. Callers hold mu.
func (s *MemoryStore) broadcast() {
	close(s.signal)
	s.signal = make(chan struct{})
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(key)
	val, ok := s.strings[key]
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strings[key] = value
	if ttl > 0 {
		s.expiry[key] = time.Now().Add(ttl)
	} else {
		delete(s.expiry, key)
	}
	return nil
}

func (s *MemoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.strings, key)
		delete(s.lists, key)
		delete(s.hashes, key)
		delete(s.expiry, key)
	}
	return nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(key)
	if _, ok := s.strings[key]; !ok {
		if _, ok := s.lists[key]; !ok {
			if _, ok := s.hashes[key]; !ok {
				return nil
			}
		}
	}
	s.expiry[key] = time.Now().Add(ttl)
	return nil
}

func (s *MemoryStore) RPush(_ context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(key)
	s.lists[key] = append(s.lists[key], values...)
	s.broadcast()
	return nil
}

func (s *MemoryStore) RPushCapped(_ context.Context, key string, maxLen int64, ttl time.Duration, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(key)
	list := append(s.lists[key], values...)
	if maxLen > 0 && int64(len(list)) > maxLen {
		list = list[int64(len(list))-maxLen:]
	}
	s.lists[key] = list
	if ttl > 0 {
		s.expiry[key] = time.Now().Add(ttl)
	}
	s.broadcast()
	return nil
}

func (s *MemoryStore) LPop(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(key)
	vals := s.lists[key]
	if len(vals) == 0 {
		return "", ErrNotFound
	}
	v := vals[0]
	if len(vals) == 1 {
		delete(s.lists, key)
	} else {
		s.lists[key] = vals[1:]
	}
	return v, nil
}

func (s *MemoryStore) BLPop(ctx context.Context, timeout time.Duration, keys ...string) (string, string, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return "", "", ErrClosed
		}
		for _, k := range keys {
			s.purge(k)
			vals := s.lists[k]
			if len(vals) == 0 {
				continue
			}
			v := vals[0]
			if len(vals) == 1 {
				delete(s.lists, k)
			} else {
				s.lists[k] = vals[1:]
			}
			s.mu.Unlock()
			return k, v, nil
		}
		sig := s.signal
		s.mu.Unlock()

		var timer *time.Timer
		var expired <-chan time.Time
		if timeout > 0 {
			remain := time.Until(deadline)
			if remain <= 0 {
				return "", "", ErrNotFound
			}
			timer = time.NewTimer(remain)
			expired = timer.C
		}
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return "", "", ctx.Err()
		case <-expired:
			return "", "", ErrNotFound
		case <-sig:
			if timer != nil {
				timer.Stop()
			}
		}
	}
}

func (s *MemoryStore) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(key)
	vals := s.lists[key]
	lo, hi, ok := rangeBounds(int64(len(vals)), start, stop)
	if !ok {
		return nil, nil
	}
	out := make([]string, hi-lo+1)
	copy(out, vals[lo:hi+1])
	return out, nil
}

func (s *MemoryStore) LTrim(_ context.Context, key string, start, stop int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(key)
	vals := s.lists[key]
	lo, hi, ok := rangeBounds(int64(len(vals)), start, stop)
	if !ok {
		delete(s.lists, key)
		return nil
	}
	kept := make([]string, hi-lo+1)
	copy(kept, vals[lo:hi+1])
	s.lists[key] = kept
	return nil
}

func (s *MemoryStore) LLen(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(key)
	return int64(len(s.lists[key])), nil
}

func (s *MemoryStore) LRem(_ context.Context, key string, count int64, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(key)
	vals := s.lists[key]
	var kept []string
	removed := int64(0)
	for _, v := range vals {
		if v == value && (count == 0 || removed < count) {
			removed++
			continue
		}
		kept = append(kept, v)
	}
	if len(kept) == 0 {
		delete(s.lists, key)
	} else {
		s.lists[key] = kept
	}
	return nil
}

func (s *MemoryStore) HSet(_ context.Context, key, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(key)
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string)
		s.hashes[key] = h
	}
	h[field] = value
	return nil
}

func (s *MemoryStore) HGet(_ context.Context, key, field string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(key)
	val, ok := s.hashes[key][field]
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

func (s *MemoryStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(key)
	out := make(map[string]string, len(s.hashes[key]))
	for f, v := range s.hashes[key] {
		out[f] = v
	}
	return out, nil
}

func (s *MemoryStore) HDel(_ context.Context, key string, fields ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(key)
	h := s.hashes[key]
	for _, f := range fields {
		delete(h, f)
	}
	if len(h) == 0 {
		delete(s.hashes, key)
	}
	return nil
}

func (s *MemoryStore) Publish(_ context.Context, channel, payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, sub := range s.subs[channel] {
		select {
		case sub.msgs <- Message{Channel: channel, Payload: payload}:
		default:
			// Slow consumer: drop rather than block the publisher.
		}
	}
	return nil
}

func (s *MemoryStore) Subscribe(_ context.Context, channels ...string) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	sub := &memorySubscription{
		store:    s,
		channels: channels,
		msgs:     make(chan Message, 64),
	}
	for _, ch := range channels {
		s.subs[ch] = append(s.subs[ch], sub)
	}
	return sub, nil
}

func (s *MemoryStore) Keys(_ context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.expiry {
		s.purge(key)
	}
	seen := make(map[string]struct{})
	var out []string
	collect := func(key string) {
		if _, dup := seen[key]; dup {
			return
		}
		if ok, _ := path.Match(pattern, key); ok {
			seen[key] = struct{}{}
			out = append(out, key)
		}
	}
	for key := range s.strings {
		collect(key)
	}
	for key := range s.lists {
		collect(key)
	}
	for key := range s.hashes {
		collect(key)
	}
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, subs := range s.subs {
		for _, sub := range subs {
			sub.closeLocked()
		}
	}
	s.subs = make(map[string][]*memorySubscription)
	s.broadcast()
	return nil
}

type memorySubscription struct {
	store    *MemoryStore
	channels []string
	msgs     chan Message
	closed   bool
}

func (sub *memorySubscription) Messages() <-chan Message { return sub.msgs }

func (sub *memorySubscription) Close() error {
	sub.store.mu.Lock()
	defer sub.store.mu.Unlock()
	if sub.closed {
		return nil
	}
	for _, ch := range sub.channels {
		subs := sub.store.subs[ch]
		for i, st := range subs {
			if st == sub {
				sub.store.subs[ch] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	sub.closeLocked()
	return nil
}

// closeLocked finalizes the subscription. Callers hold the store mutex, so
// no publish can race the channel close.
func (sub *memorySubscription) closeLocked() {
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.msgs)
}

// rangeBounds normalizes Redis-style inclusive range indices against a list
// of length n. ok is false when the range selects nothing.
func rangeBounds(n, start, stop int64) (lo, hi int64, ok bool) {
	if start < 0 {
		start = n + start
		if start < 0 {
			start = 0
		}
	}
	if stop < 0 {
		stop = n + stop
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n || stop < 0 {
		return 0, 0, false
	}
	return start, stop, true
}
