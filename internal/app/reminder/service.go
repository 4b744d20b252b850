package reminder

import (
	"context"
	"time"

	"herald/internal/app/notification"
	domain "herald/internal/domain/reminder"
	"herald/internal/shared/logging"
)

// Config groups the tunables of every component.
type Config struct {
	Store     StoreConfig
	Evaluator EvaluatorConfig
	Ledger    LedgerConfig
}

// Service is the single entry point the transport and scheduler use. It wires
// one Store, Evaluator, Notifier and Ledger around a repository.
type Service struct {
	store     *Store
	evaluator *Evaluator
	notifier  *Notifier
	ledger    *Ledger

	broadcaster Broadcaster
	now         func() time.Time
	logger      logging.Logger
}

func NewService(repo domain.Repository, broadcaster Broadcaster, cfg Config, opts ...Option) *Service {
	o := resolveOptions("ReminderService", opts)
	store := NewStore(repo, cfg.Store, opts...)
	return &Service{
		store:       store,
		evaluator:   NewEvaluator(store, cfg.Evaluator, opts...),
		notifier:    NewNotifier(store, broadcaster, opts...),
		ledger:      NewLedger(store, broadcaster, cfg.Ledger, opts...),
		broadcaster: broadcaster,
		now:         o.now,
		logger:      o.logger,
	}
}

func (s *Service) Store() *Store { return s.store }

// Create stores a new reminder and announces it.
func (s *Service) Create(ctx context.Context, params CreateParams) (*domain.Reminder, error) {
	r, err := s.store.Create(ctx, params)
	if err != nil {
		return nil, err
	}
	s.announce(ctx, notification.EventReminderCreated, *r, "created")
	return r, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*domain.Reminder, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, query domain.ListQuery) ([]domain.Reminder, error) {
	return s.store.List(ctx, query)
}

// Update applies patch and returns the updated reminder, or nil when the id
// does not exist.
func (s *Service) Update(ctx context.Context, id int64, patch domain.Patch) (*domain.Reminder, error) {
	ok, err := s.store.Update(ctx, id, patch)
	if err != nil || !ok {
		return nil, err
	}
	r, err := s.store.Get(ctx, id)
	if err != nil || r == nil {
		return r, err
	}
	s.announce(ctx, notification.EventReminderUpdated, *r, "updated")
	return r, nil
}

// Delete removes the reminder and announces it. It reports false when the id
// does not exist.
func (s *Service) Delete(ctx context.Context, id int64) (bool, error) {
	existing, err := s.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	ok, err := s.store.Delete(ctx, id)
	if err != nil || !ok {
		return ok, err
	}
	if existing != nil {
		existing.Enabled = false
		s.announce(ctx, notification.EventReminderDeleted, *existing, "deleted")
	}
	return true, nil
}

func (s *Service) Due(ctx context.Context, ownerID string, reminderType domain.Type) []domain.Reminder {
	return s.evaluator.Due(ctx, ownerID, reminderType)
}

func (s *Service) Notify(ctx context.Context, id int64) (Notification, bool) {
	return s.notifier.Notify(ctx, id)
}

// NotifyDue evaluates the owner's reminders of the given type and notifies
// each due one. It returns how many notifications were sent.
func (s *Service) NotifyDue(ctx context.Context, ownerID string, reminderType domain.Type) int {
	sent := 0
	for _, r := range s.evaluator.Due(ctx, ownerID, reminderType) {
		if ctx.Err() != nil {
			break
		}
		if _, ok := s.notifier.Notify(ctx, r.ID); ok {
			sent++
		}
	}
	return sent
}

func (s *Service) Confirm(ctx context.Context, id int64) bool {
	return s.ledger.Confirm(ctx, id)
}

func (s *Service) Pending(ctx context.Context, ownerID string, limit int) []domain.Reminder {
	return s.ledger.Pending(ctx, ownerID, limit)
}

func (s *Service) History(ctx context.Context, ownerID string, limit int) []domain.HistoryEntry {
	return s.ledger.History(ctx, ownerID, limit)
}

func (s *Service) Owners(ctx context.Context) ([]string, error) {
	return s.store.Owners(ctx)
}

// Maintain prunes disabled one-shot reminders older than retention and clears
// the cache.
func (s *Service) Maintain(ctx context.Context, retention time.Duration) (int64, error) {
	removed, err := s.store.PruneDisabled(ctx, s.now().Add(-retention))
	s.store.Purge()
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Info("pruned %d disabled reminders", removed)
	}
	return removed, nil
}

func (s *Service) announce(ctx context.Context, eventType notification.EventType, r domain.Reminder, action string) {
	if s.broadcaster == nil {
		return
	}
	notice := domain.ChangeNotice{
		ReminderID:   r.ID,
		OwnerID:      r.OwnerID,
		Action:       action,
		Title:        r.DisplayTitle(),
		Enabled:      r.Enabled,
		TriggerCount: r.TriggerCount,
	}
	s.broadcaster.Broadcast(ctx, notification.NewEvent(eventType, notice, s.now()))
}
