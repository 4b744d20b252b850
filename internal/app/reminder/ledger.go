package reminder

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"herald/internal/app/notification"
	domain "herald/internal/domain/reminder"
	"herald/internal/shared/logging"
	id "herald/internal/shared/utils/id"
)

const (
	defaultPendingWindow = 24 * time.Hour
	defaultPendingLimit  = 10
	defaultHistoryLimit  = 50
)

// LedgerConfig tunes the pending lookup.
type LedgerConfig struct {
	PendingWindow time.Duration
}

// Ledger records confirmations and answers which notifications still await
// one.
type Ledger struct {
	store         *Store
	broadcaster   Broadcaster
	pendingWindow time.Duration

	now     func() time.Time
	logger  logging.Logger
	metrics Metrics
}

func NewLedger(store *Store, broadcaster Broadcaster, cfg LedgerConfig, opts ...Option) *Ledger {
	o := resolveOptions("ConfirmationLedger", opts)
	if cfg.PendingWindow <= 0 {
		cfg.PendingWindow = defaultPendingWindow
	}
	return &Ledger{
		store:         store,
		broadcaster:   broadcaster,
		pendingWindow: cfg.PendingWindow,
		now:           o.now,
		logger:        o.logger,
		metrics:       o.metrics,
	}
}

// Confirm acknowledges the reminder's latest notification. One-shot
// reminders are disabled; repeating reminders restart their count.
func (l *Ledger) Confirm(ctx context.Context, reminderID int64) bool {
	r, err := l.store.Get(ctx, reminderID)
	if err != nil {
		l.logger.Warn("confirm reminder %d: %v", reminderID, err)
		l.metrics.ObserveConfirmation("error")
		return false
	}
	if r == nil {
		l.metrics.ObserveConfirmation("not_found")
		return false
	}

	if l.alreadyConfirmed(ctx, r) {
		l.metrics.ObserveConfirmation("duplicate")
		l.logger.Debug("reminder %d already confirmed, nothing to record", r.ID)
		return true
	}

	now := l.now()
	triggeredAt := now
	if r.LastTriggered != nil {
		triggeredAt = *r.LastTriggered
	}
	record := domain.ConfirmationRecord{
		ID:          id.NewConfirmationID(),
		ReminderID:  r.ID,
		OwnerID:     r.OwnerID,
		Content:     r.Content,
		TriggeredAt: triggeredAt,
		ConfirmedAt: now,
	}

	var (
		patch   domain.Patch
		outcome string
	)
	if r.EffectiveRepeat() {
		reset := 0
		patch.TriggerCount = &reset
		r.TriggerCount = 0
		outcome = "reset"
	} else {
		if r.MisconfiguredRepeat() {
			l.logger.Warn("reminder %d has repeat enabled without an interval, disabling on confirm", r.ID)
		}
		disabled := false
		patch.Enabled = &disabled
		r.Enabled = false
		outcome = "disabled"
	}
	confirmed, err := l.store.Confirm(ctx, record, patch)
	if err != nil || !confirmed {
		l.logger.Warn("confirm reminder %d: nothing recorded: %v", r.ID, err)
		l.metrics.ObserveConfirmation("error")
		return false
	}

	if l.broadcaster != nil {
		notice := domain.ChangeNotice{
			ReminderID:   r.ID,
			OwnerID:      r.OwnerID,
			Action:       "confirmed",
			Title:        r.DisplayTitle(),
			Enabled:      r.Enabled,
			TriggerCount: r.TriggerCount,
		}
		l.broadcaster.Broadcast(ctx, notification.NewEvent(notification.EventReminderUpdated, notice, now))
	}
	l.metrics.ObserveConfirmation(outcome)
	l.logger.Info("confirmed reminder %d for %s (%s)", r.ID, r.OwnerID, outcome)
	return true
}

// alreadyConfirmed reports whether r is a disabled one-shot reminder whose
// latest trigger is already covered by a confirmation record.
func (l *Ledger) alreadyConfirmed(ctx context.Context, r *domain.Reminder) bool {
	if r.Enabled || r.EffectiveRepeat() {
		return false
	}
	latest, err := l.store.LatestConfirmations(ctx, []int64{r.ID})
	if err != nil {
		l.logger.Debug("confirm reminder %d: latest confirmation lookup: %v", r.ID, err)
		return false
	}
	triggeredAt, ok := latest[r.ID]
	if !ok {
		return false
	}
	return r.LastTriggered == nil || !triggeredAt.Before(*r.LastTriggered)
}

// Pending returns notified reminders within the recent window that have no
// confirmation at or after their latest trigger, newest trigger first.
func (l *Ledger) Pending(ctx context.Context, ownerID string, limit int) []domain.Reminder {
	if limit <= 0 {
		limit = defaultPendingLimit
	}
	reminders, err := l.store.List(ctx, domain.ListQuery{OwnerID: ownerID, EnabledOnly: true})
	if err != nil {
		l.logger.Warn("pending for %s: %v", ownerID, err)
		return nil
	}

	cutoff := l.now().Add(-l.pendingWindow)
	candidates := make([]domain.Reminder, 0, len(reminders))
	ids := make([]int64, 0, len(reminders))
	for _, r := range reminders {
		if r.LastTriggered == nil || r.LastTriggered.Before(cutoff) {
			continue
		}
		candidates = append(candidates, r)
		ids = append(ids, r.ID)
	}
	if len(candidates) == 0 {
		return nil
	}

	latest, err := l.store.LatestConfirmations(ctx, ids)
	if err != nil {
		l.logger.Warn("pending for %s: %v", ownerID, err)
		return nil
	}

	pending := candidates[:0]
	for _, r := range candidates {
		if confirmedAt, ok := latest[r.ID]; ok && !confirmedAt.Before(*r.LastTriggered) {
			continue
		}
		pending = append(pending, r)
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].LastTriggered.After(*pending[j].LastTriggered)
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending
}

// History returns the owner's confirmations newest first, joined with the
// reminder's current title and type where the reminder still exists.
func (l *Ledger) History(ctx context.Context, ownerID string, limit int) []domain.HistoryEntry {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	records, err := l.store.Confirmations(ctx, ownerID, limit)
	if err != nil {
		l.logger.Warn("history for %s: %v", ownerID, err)
		return nil
	}

	byID := make(map[int64]domain.Reminder)
	if reminders, err := l.store.List(ctx, domain.ListQuery{OwnerID: ownerID}); err != nil {
		l.logger.Debug("history join for %s: %v", ownerID, err)
	} else {
		for _, r := range reminders {
			byID[r.ID] = r
		}
	}

	entries := make([]domain.HistoryEntry, 0, len(records))
	for _, record := range records {
		entry := domain.HistoryEntry{ConfirmationRecord: record}
		if r, ok := byID[record.ReminderID]; ok {
			entry.Title = r.DisplayTitle()
			entry.Type = r.Type
		}
		entries = append(entries, entry)
	}
	return entries
}

// FormatPending renders pending reminders as a short block suitable for
// prefixing a conversational reply. It returns "" for an empty list.
func FormatPending(reminders []domain.Reminder) string {
	if len(reminders) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You have %d reminder(s) awaiting confirmation:\n", len(reminders))
	for _, r := range reminders {
		fmt.Fprintf(&b, "- [#%d] %s", r.ID, r.DisplayTitle())
		if r.TriggerCount > 1 {
			fmt.Fprintf(&b, " (sent %d times)", r.TriggerCount)
		}
		if r.LastTriggered != nil {
			fmt.Fprintf(&b, ", last sent %s", r.LastTriggered.Format("2006-01-02 15:04"))
		}
		b.WriteByte('\n')
	}
	return b.String()
}
