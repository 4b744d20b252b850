package reminder

import (
	"context"
	"time"

	"herald/internal/app/notification"
	domain "herald/internal/domain/reminder"
	"herald/internal/shared/logging"
)

// Notification describes one completed notify.
type Notification struct {
	Reminder   domain.Reminder
	Escalation domain.Escalation
	NotifiedAt time.Time
	Delivery   notification.BroadcastResult
}

// Notifier performs the notify step: it advances the trigger count and
// pushes a reminder event. It never records a confirmation.
type Notifier struct {
	store       *Store
	broadcaster Broadcaster

	now     func() time.Time
	logger  logging.Logger
	metrics Metrics
}

func NewNotifier(store *Store, broadcaster Broadcaster, opts ...Option) *Notifier {
	o := resolveOptions("ReminderNotifier", opts)
	return &Notifier{
		store:       store,
		broadcaster: broadcaster,
		now:         o.now,
		logger:      o.logger,
		metrics:     o.metrics,
	}
}

// Notify marks the reminder triggered and broadcasts it. It reports false
// when the reminder does not exist or could not be updated.
func (n *Notifier) Notify(ctx context.Context, id int64) (Notification, bool) {
	r, err := n.store.Get(ctx, id)
	if err != nil {
		n.logger.Warn("notify reminder %d: %v", id, err)
		return Notification{}, false
	}
	if r == nil {
		n.logger.Debug("notify reminder %d: not found", id)
		return Notification{}, false
	}

	now := n.now()
	count := r.TriggerCount + 1
	updated, err := n.store.Update(ctx, id, domain.Patch{TriggerCount: &count, LastTriggered: &now})
	if err != nil {
		n.logger.Warn("notify reminder %d: %v", id, err)
		return Notification{}, false
	}
	if !updated {
		n.logger.Debug("notify reminder %d: deleted before update", id)
		return Notification{}, false
	}
	r.TriggerCount = count
	r.LastTriggered = &now
	r.UpdatedAt = now

	escalation := domain.EscalationFor(count)
	result := Notification{Reminder: *r, Escalation: escalation, NotifiedAt: now}
	if n.broadcaster != nil {
		notice := domain.Notice{
			ReminderID:   r.ID,
			Type:         r.Type,
			Title:        r.DisplayTitle(),
			Content:      r.Content,
			Priority:     r.Priority,
			Tier:         escalation.Tier,
			Escalation:   escalation.Text,
			TriggerCount: count,
			NotifiedAt:   now,
		}
		result.Delivery = n.broadcaster.Broadcast(ctx, notification.NewEvent(notification.EventReminder, notice, now))
	}
	n.metrics.ObserveNotification(escalation.Tier.String())
	n.logger.Info("notified reminder %d for %s (count=%d tier=%s delivered=%d/%d)",
		r.ID, r.OwnerID, count, escalation.Tier, result.Delivery.Delivered, result.Delivery.Attempted)
	return result, true
}
