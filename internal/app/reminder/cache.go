package reminder

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	domain "herald/internal/domain/reminder"
)

const (
	defaultCacheSize = 512
	defaultCacheTTL  = 300 * time.Second
)

type cacheKey struct {
	OwnerID     string
	EnabledOnly bool
	Type        domain.Type
}

type cacheEntry struct {
	reminders   []domain.Reminder
	populatedAt time.Time
}

// listCache holds List results per query key. Entries older than ttl are
// treated as absent. A zero ttl disables caching.
type listCache struct {
	entries *lru.Cache[cacheKey, cacheEntry]
	ttl     time.Duration
	// generation advances on every invalidation so that a List racing with a
	// write does not repopulate the cache with rows read before the write.
	generation atomic.Uint64
}

func newListCache(size int, ttl time.Duration) *listCache {
	if size <= 0 {
		size = defaultCacheSize
	}
	entries, err := lru.New[cacheKey, cacheEntry](size)
	if err != nil {
		// lru.New only errors on non-positive size which we guard above.
		panic(err)
	}
	return &listCache{entries: entries, ttl: ttl}
}

func (c *listCache) get(key cacheKey, now time.Time) ([]domain.Reminder, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	entry, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	if now.Sub(entry.populatedAt) >= c.ttl {
		c.entries.Remove(key)
		return nil, false
	}
	return cloneReminders(entry.reminders), true
}

func (c *listCache) put(key cacheKey, reminders []domain.Reminder, now time.Time, generation uint64) {
	if c.ttl <= 0 || c.generation.Load() != generation {
		return
	}
	c.entries.Add(key, cacheEntry{reminders: cloneReminders(reminders), populatedAt: now})
}

func (c *listCache) invalidateOwner(ownerID string) {
	c.generation.Add(1)
	for _, key := range c.entries.Keys() {
		if key.OwnerID == ownerID {
			c.entries.Remove(key)
		}
	}
}

func (c *listCache) purge() {
	c.generation.Add(1)
	c.entries.Purge()
}

func (c *listCache) len() int {
	return c.entries.Len()
}

func cloneReminders(in []domain.Reminder) []domain.Reminder {
	if in == nil {
		return nil
	}
	out := make([]domain.Reminder, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}
