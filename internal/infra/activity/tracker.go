package activity

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Tracker remembers the last activity instant per owner. It is safe for
// concurrent use.
type Tracker struct {
	mu   sync.RWMutex
	last map[string]time.Time
	now  func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock injects the time source used by Touch.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{last: make(map[string]time.Time), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// Touch records activity for owner at the current instant.
func (t *Tracker) Touch(ownerID string) {
	t.Record(ownerID, t.now())
}

// Record records activity at a specific instant. Older instants never move
// the marker backwards.
func (t *Tracker) Record(ownerID string, at time.Time) {
	if ownerID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if current, ok := t.last[ownerID]; ok && !at.After(current) {
		return
	}
	t.last[ownerID] = at
}

func (t *Tracker) LastActivity(_ context.Context, ownerID string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	at, ok := t.last[ownerID]
	return at, ok
}

// Owners lists every owner seen so far.
func (t *Tracker) Owners(context.Context) ([]string, error) {
	t.mu.RLock()
	owners := make([]string, 0, len(t.last))
	for owner := range t.last {
		owners = append(owners, owner)
	}
	t.mu.RUnlock()
	sort.Strings(owners)
	return owners, nil
}
