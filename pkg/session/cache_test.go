package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/troupehq/troupe/pkg/models"
)

type fakeMember struct {
	mu      sync.Mutex
	id      string
	role    models.Role
	stopped bool
}

func (m *fakeMember) ID() string        { return m.id }
func (m *fakeMember) Role() models.Role { return m.role }
func (m *fakeMember) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}

func (m *fakeMember) isStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

func roster(n int) []Member {
	members := make([]Member, n)
	for i := range members {
		members[i] = &fakeMember{id: fmt.Sprintf("a%d", i), role: models.RoleGeneral}
	}
	return members
}

func TestCachePutGetDelete(t *testing.T) {
	c := NewCache(0)
	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Put("c1", roster(2))
	got, ok := c.Get("c1")
	require.True(t, ok)
	assert.Len(t, got, 2)

	c.Put("c1", roster(3))
	got, _ = c.Get("c1")
	assert.Len(t, got, 3, "put replaces the previous roster")

	c.Delete("c1")
	_, ok = c.Get("c1")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCacheCleanupEvictsLargestRosters(t *testing.T) {
	c := NewCache(10) // cleanup threshold 8

	c.Put("big", roster(5))
	for i := 0; i < 6; i++ {
		c.Put(fmt.Sprintf("small%d", i), roster(1))
	}
	require.Equal(t, 7, c.Len())

	// The eighth put crosses the threshold and evicts 20% (one entry),
	// picking the largest roster.
	c.Put("trigger", roster(1))
	assert.Equal(t, 7, c.Len())
	_, ok := c.Get("big")
	assert.False(t, ok, "largest roster evicted first")
	_, ok = c.Get("trigger")
	assert.True(t, ok, "a put survives its own cleanup")
}

func TestCacheCleanupSparesFreshPut(t *testing.T) {
	c := NewCache(10)

	for i := 0; i < 7; i++ {
		c.Put(fmt.Sprintf("s%d", i), roster(1))
	}
	c.Put("huge", roster(9))

	_, ok := c.Get("huge")
	assert.True(t, ok, "the entry that triggered cleanup is exempt")
	assert.Equal(t, 7, c.Len())
}

func TestCacheDrainStopsMembers(t *testing.T) {
	c := NewCache(0)
	a := &fakeMember{id: "a", role: models.RolePlanner}
	b := &fakeMember{id: "b", role: models.RoleResearcher}
	c.Put("c1", []Member{a})
	c.Put("c2", []Member{b})

	c.Drain()
	assert.True(t, a.isStopped())
	assert.True(t, b.isStopped())
	assert.Equal(t, 0, c.Len())
}
