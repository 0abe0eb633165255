// Package session holds process-wide per-chat state: the roster cache of
// live agents and the broker that parks tool invocations waiting for user
// input. Both are constructed once at startup and drained on shutdown.
package session

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/troupehq/troupe/pkg/models"
)

// DefaultCacheLimit is the roster ceiling before cleanup kicks in.
const DefaultCacheLimit = 1000

// Member is one live agent in a chat's roster. Implemented by agent.Agent.
type Member interface {
	ID() string
	Role() models.Role
	Stop()
}

type rosterEntry struct {
	members []Member
	seq     uint64
}

// Cache maps chat IDs to their live agent rosters so the API layer can
// signal a running session without holding agent pointers itself.
//
// Cleanup triggers at 80% of the limit and evicts a fifth of the entries,
// largest rosters first. That heuristic (size, not recency) matches the
// memory pressure the cache exists to relieve.
type Cache struct {
	mu      sync.Mutex
	limit   int
	nextSeq uint64
	entries map[string]*rosterEntry
}

// NewCache returns a roster cache. limit <= 0 selects DefaultCacheLimit.
func NewCache(limit int) *Cache {
	if limit <= 0 {
		limit = DefaultCacheLimit
	}
	return &Cache{
		limit:   limit,
		entries: make(map[string]*rosterEntry),
	}
}

// Put records the roster for a chat, replacing any previous one.
func (c *Cache) Put(chatID string, members []Member) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextSeq++
	c.entries[chatID] = &rosterEntry{members: members, seq: c.nextSeq}

	if len(c.entries) >= c.limit*8/10 {
		c.cleanupLocked(chatID)
	}
}

// Get returns the roster for a chat, if one is cached.
func (c *Cache) Get(chatID string) ([]Member, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[chatID]
	if !ok {
		return nil, false
	}
	return e.members, true
}

// Delete drops a chat's roster without stopping its members.
func (c *Cache) Delete(chatID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, chatID)
}

// Len reports the number of cached rosters.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Drain stops every cached member and empties the cache. Called once at
// process shutdown.
func (c *Cache) Drain() {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]*rosterEntry)
	c.mu.Unlock()

	for _, e := range entries {
		for _, m := range e.members {
			m.Stop()
		}
	}
}

// cleanupLocked evicts a fifth of the entries. The roster that was just
// stored is exempt so a Put always survives its own cleanup.
func (c *Cache) cleanupLocked(keep string) {
	type candidate struct {
		chatID string
		size   int
		seq    uint64
	}
	candidates := make([]candidate, 0, len(c.entries))
	for chatID, e := range c.entries {
		if chatID == keep {
			continue
		}
		candidates = append(candidates, candidate{chatID: chatID, size: len(e.members), seq: e.seq})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].size != candidates[j].size {
			return candidates[i].size > candidates[j].size
		}
		return candidates[i].seq < candidates[j].seq
	})

	evict := len(c.entries) / 5
	if evict < 1 {
		evict = 1
	}
	if evict > len(candidates) {
		evict = len(candidates)
	}
	for _, cand := range candidates[:evict] {
		delete(c.entries, cand.chatID)
	}
	slog.Debug("Agent cache cleanup", "evicted", evict, "remaining", len(c.entries))
}
