package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"herald/internal/app/reminder"
)

// Initiator decides whether to open a conversation with an owner.
type Initiator interface {
	ShouldInitiate(ctx context.Context, ownerID string, now time.Time) (message string, ok bool)
}

// IdleConfig tunes IdleInitiator.
type IdleConfig struct {
	IdleThreshold time.Duration
	// QuietHours is [start, end) in local hours; equal values disable it.
	QuietHours [2]int
	Location   *time.Location
}

// IdleInitiator reaches out after a stretch of inactivity, outside quiet
// hours, at most once per idle threshold per owner.
type IdleInitiator struct {
	activity reminder.ActivitySource
	cfg      IdleConfig

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewIdleInitiator builds an IdleInitiator. A zero threshold defaults to six
// hours.
func NewIdleInitiator(activity reminder.ActivitySource, cfg IdleConfig) *IdleInitiator {
	if cfg.IdleThreshold <= 0 {
		cfg.IdleThreshold = 6 * time.Hour
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &IdleInitiator{
		activity: activity,
		cfg:      cfg,
		lastSent: make(map[string]time.Time),
	}
}

func (i *IdleInitiator) ShouldInitiate(ctx context.Context, ownerID string, now time.Time) (string, bool) {
	if i.activity == nil {
		return "", false
	}
	if inQuietHours(now.In(i.cfg.Location).Hour(), i.cfg.QuietHours) {
		return "", false
	}
	last, ok := i.activity.LastActivity(ctx, ownerID)
	if !ok {
		return "", false
	}
	idle := now.Sub(last)
	if idle < i.cfg.IdleThreshold {
		return "", false
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if sent, ok := i.lastSent[ownerID]; ok && now.Sub(sent) < i.cfg.IdleThreshold {
		return "", false
	}
	i.lastSent[ownerID] = now
	return fmt.Sprintf("It has been %s since we last talked. Anything I can help with?", describeIdle(idle)), true
}

func inQuietHours(hour int, quiet [2]int) bool {
	start, end := quiet[0], quiet[1]
	switch {
	case start == end:
		return false
	case start < end:
		return hour >= start && hour < end
	default:
		return hour >= start || hour < end
	}
}

func describeIdle(idle time.Duration) string {
	hours := int(idle.Hours())
	if hours >= 48 {
		return fmt.Sprintf("%d days", hours/24)
	}
	if hours == 1 {
		return "an hour"
	}
	return fmt.Sprintf("%d hours", hours)
}
