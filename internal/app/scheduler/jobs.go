package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"herald/internal/app/notification"
	domain "herald/internal/domain/reminder"
	"herald/internal/shared/logging"
)

// Job ids of the reminder jobs.
const (
	JobTimeReminders      = "time_reminders"
	JobBehaviorReminders  = "behavior_reminders"
	JobConditionReminders = "condition_reminders"
	JobDailyMaintenance   = "daily_maintenance"
	JobConversationCheck  = "conversation_check"
)

// ReminderService is the slice of the reminder service the jobs drive.
type ReminderService interface {
	Owners(ctx context.Context) ([]string, error)
	NotifyDue(ctx context.Context, ownerID string, reminderType domain.Type) int
	Maintain(ctx context.Context, retention time.Duration) (int64, error)
}

// OwnerLister contributes owners to the conversation check.
type OwnerLister interface {
	Owners(ctx context.Context) ([]string, error)
}

// Broadcaster pushes proactive messages to live channels.
type Broadcaster interface {
	Broadcast(ctx context.Context, event notification.Event) notification.BroadcastResult
}

// ProactiveMessage is the payload of a proactive_message event.
type ProactiveMessage struct {
	OwnerID string `json:"owner_id"`
	Message string `json:"message"`
}

// JobsConfig holds schedules and knobs for the reminder jobs. Empty schedules
// disable the corresponding job.
type JobsConfig struct {
	TimeSchedule         string
	BehaviorSchedule     string
	ConditionSchedule    string
	MaintenanceHour      int
	ConversationSchedule string
	Retention            time.Duration
	Now                  func() time.Time
}

// ReminderJobs builds the job set. initiator and broadcaster may be nil, in
// which case the conversation check is omitted.
func ReminderJobs(svc ReminderService, initiator Initiator, broadcaster Broadcaster, cfg JobsConfig, extraOwners ...OwnerLister) []Job {
	logger := logging.NewComponentLogger("ReminderJobs")
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	var jobs []Job
	if cfg.TimeSchedule != "" {
		jobs = append(jobs, Job{
			ID:       JobTimeReminders,
			Name:     "Evaluate time reminders",
			Schedule: cfg.TimeSchedule,
			Run:      evaluateJob(svc, logger, domain.TypeTime),
		})
	}
	if cfg.BehaviorSchedule != "" {
		jobs = append(jobs, Job{
			ID:       JobBehaviorReminders,
			Name:     "Evaluate behavior reminders",
			Schedule: cfg.BehaviorSchedule,
			Run:      evaluateJob(svc, logger, domain.TypeBehavior),
		})
	}
	if cfg.ConditionSchedule != "" {
		jobs = append(jobs, Job{
			ID:       JobConditionReminders,
			Name:     "Evaluate weather and habit reminders",
			Schedule: cfg.ConditionSchedule,
			Run:      evaluateJob(svc, logger, domain.TypeWeather, domain.TypeHabit),
		})
	}
	if cfg.MaintenanceHour >= 0 && cfg.MaintenanceHour <= 23 {
		retention := cfg.Retention
		jobs = append(jobs, Job{
			ID:       JobDailyMaintenance,
			Name:     "Daily maintenance",
			Schedule: fmt.Sprintf("0 %d * * *", cfg.MaintenanceHour),
			Run: func(ctx context.Context) error {
				if retention <= 0 {
					return errors.New("retention must be positive")
				}
				_, err := svc.Maintain(ctx, retention)
				return err
			},
		})
	}
	if cfg.ConversationSchedule != "" && initiator != nil && broadcaster != nil {
		listers := append([]OwnerLister{svc}, extraOwners...)
		jobs = append(jobs, Job{
			ID:       JobConversationCheck,
			Name:     "Proactive conversation check",
			Schedule: cfg.ConversationSchedule,
			Run:      conversationJob(listers, initiator, broadcaster, now, logger),
		})
	}
	return jobs
}

func evaluateJob(svc ReminderService, logger logging.Logger, types ...domain.Type) func(context.Context) error {
	return func(ctx context.Context) error {
		owners, err := svc.Owners(ctx)
		if err != nil {
			return fmt.Errorf("list owners: %w", err)
		}
		sent := 0
		for _, owner := range owners {
			for _, t := range types {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				sent += svc.NotifyDue(ctx, owner, t)
			}
		}
		if sent > 0 {
			logger.Info("sent %d %v reminder(s) across %d owner(s)", sent, types, len(owners))
		}
		return nil
	}
}

func conversationJob(listers []OwnerLister, initiator Initiator, broadcaster Broadcaster, clock func() time.Time, logger logging.Logger) func(context.Context) error {
	return func(ctx context.Context) error {
		owners, err := unionOwners(ctx, listers)
		if err != nil {
			return err
		}
		for _, owner := range owners {
			now := clock()
			message, ok := initiator.ShouldInitiate(ctx, owner, now)
			if !ok {
				continue
			}
			result := broadcaster.Broadcast(ctx, notification.NewEvent(
				notification.EventProactiveMessage,
				ProactiveMessage{OwnerID: owner, Message: message},
				now,
			))
			logger.Info("proactive message for %s delivered to %d/%d channel(s)", owner, result.Delivered, result.Attempted)
		}
		return nil
	}
}

func unionOwners(ctx context.Context, listers []OwnerLister) ([]string, error) {
	seen := make(map[string]struct{})
	var errs []error
	for _, lister := range listers {
		if lister == nil {
			continue
		}
		owners, err := lister.Owners(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, owner := range owners {
			seen[owner] = struct{}{}
		}
	}
	if len(seen) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	out := make([]string, 0, len(seen))
	for owner := range seen {
		out = append(out, owner)
	}
	sort.Strings(out)
	return out, nil
}
