package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "herald/internal/domain/reminder"
	herrors "herald/internal/shared/errors"
	"herald/internal/shared/logging"
)

const (
	// triggerGuard suppresses any re-trigger shortly after a notify.
	triggerGuard         = 10 * time.Second
	defaultRetryInterval = 300 * time.Second
)

type reminderLister interface {
	List(ctx context.Context, query domain.ListQuery) ([]domain.Reminder, error)
}

// EvaluatorConfig tunes re-notification windows.
type EvaluatorConfig struct {
	// RetryInterval is how long an unconfirmed one-shot reminder waits
	// before it is sent again.
	RetryInterval time.Duration
}

// Evaluator decides which enabled reminders are due right now.
type Evaluator struct {
	store         reminderLister
	retryInterval time.Duration

	activity ActivitySource
	weather  WeatherProvider
	location *time.Location
	now      func() time.Time
	logger   logging.Logger
	metrics  Metrics
}

func NewEvaluator(store reminderLister, cfg EvaluatorConfig, opts ...Option) *Evaluator {
	o := resolveOptions("ReminderEvaluator", opts)
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	return &Evaluator{
		store:         store,
		retryInterval: cfg.RetryInterval,
		activity:      o.activity,
		weather:       o.weather,
		location:      o.location,
		now:           o.now,
		logger:        o.logger,
		metrics:       o.metrics,
	}
}

// Due returns the owner's reminders of the given type that should be
// notified now, in store order. Store failures yield an empty result.
func (e *Evaluator) Due(ctx context.Context, ownerID string, reminderType domain.Type) []domain.Reminder {
	started := time.Now()
	defer func() {
		e.metrics.ObserveEvaluation(string(reminderType), time.Since(started))
	}()

	reminders, err := e.store.List(ctx, domain.ListQuery{OwnerID: ownerID, EnabledOnly: true, Type: reminderType})
	if err != nil {
		e.logger.Warn("evaluate %s reminders for %s: %v", reminderType, ownerID, err)
		return nil
	}

	now := e.now()
	var due []domain.Reminder
	for _, r := range reminders {
		ok, err := e.isDue(ctx, r, now)
		if err != nil {
			e.logger.Warn("skipping reminder: %v", err)
			continue
		}
		if ok {
			due = append(due, r)
		}
	}
	return due
}

func (e *Evaluator) isDue(ctx context.Context, r domain.Reminder, now time.Time) (bool, error) {
	if !r.Enabled {
		return false, nil
	}
	if r.ConditionErr != nil {
		return false, &herrors.MalformedConditionError{ReminderID: r.ID, Type: string(r.Type), Err: r.ConditionErr}
	}
	if r.Condition == nil || r.Condition.Kind() != r.Type {
		return false, &herrors.MalformedConditionError{ReminderID: r.ID, Type: string(r.Type), Err: errors.New("condition does not match reminder type")}
	}
	if r.MisconfiguredRepeat() {
		e.logger.Warn("%v", &herrors.ConfigurationError{ReminderID: r.ID, Reason: "repeat enabled without an interval, treating as one-shot"})
	}
	if r.LastTriggered != nil && now.Sub(*r.LastTriggered) < triggerGuard {
		return false, nil
	}

	switch cond := r.Condition.(type) {
	case domain.TimeCondition:
		if now.Before(cond.At) {
			return false, nil
		}
		if cond.SnoozeUntil != nil && now.Before(*cond.SnoozeUntil) {
			return false, nil
		}
		return e.windowElapsed(r, now, e.retryInterval), nil

	case domain.BehaviorCondition:
		if e.activity == nil {
			return false, nil
		}
		last, known := e.activity.LastActivity(ctx, r.OwnerID)
		if !known {
			return false, nil
		}
		threshold := cond.Threshold()
		if now.Sub(last) < threshold {
			return false, nil
		}
		return e.windowElapsed(r, now, threshold), nil

	case domain.WeatherCondition:
		if e.weather == nil {
			return false, nil
		}
		current, err := e.weather.Current(ctx, cond.Location)
		if err != nil {
			e.logger.Warn("weather lookup for reminder %d at %s: %v", r.ID, cond.Location, err)
			return false, nil
		}
		if !strings.EqualFold(strings.TrimSpace(current), strings.TrimSpace(cond.Condition)) {
			return false, nil
		}
		return e.windowElapsed(r, now, e.retryInterval), nil

	case domain.HabitCondition:
		slot, err := cond.SlotOn(now.In(e.location))
		if err != nil {
			return false, &herrors.MalformedConditionError{ReminderID: r.ID, Type: string(r.Type), Err: err}
		}
		if now.Before(slot) {
			return false, nil
		}
		return r.LastTriggered == nil || r.LastTriggered.Before(slot), nil

	default:
		return false, &herrors.MalformedConditionError{ReminderID: r.ID, Type: string(r.Type), Err: fmt.Errorf("unsupported condition %T", cond)}
	}
}

// windowElapsed gates re-notification: repeating reminders wait their repeat
// interval, one-shot reminders wait retry until they are confirmed.
func (e *Evaluator) windowElapsed(r domain.Reminder, now time.Time, retry time.Duration) bool {
	if r.LastTriggered == nil {
		return true
	}
	since := now.Sub(*r.LastTriggered)
	if r.EffectiveRepeat() {
		return since >= r.RepeatInterval
	}
	return since >= retry
}
