package reminder

import (
	"context"
	"errors"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	domain "herald/internal/domain/reminder"
	herrors "herald/internal/shared/errors"
	"herald/internal/shared/logging"
)

const defaultReadAttempts = 3

// StoreConfig tunes the Store read cache.
type StoreConfig struct {
	CacheTTL  time.Duration
	CacheSize int
	// ReadAttempts bounds how often a transient read failure is tried.
	ReadAttempts int
}

// CreateParams holds the fields accepted when creating a reminder.
type CreateParams struct {
	OwnerID        string
	Type           domain.Type
	Condition      domain.TriggerCondition
	Content        string
	Title          string
	Priority       int // zero means highest priority
	Repeat         bool
	RepeatInterval time.Duration
	TaskID         string
}

// Store is the durable collection of reminders fronted by a per-query cache.
// Every failure is logged here and returned as a *errors.PersistenceError.
type Store struct {
	repo         domain.Repository
	cache        *listCache
	readAttempts int

	now        func() time.Time
	logger     logging.Logger
	metrics    Metrics
	newBackoff func() backoff.BackOff
}

// NewStore wraps repo with caching, retries and validation.
func NewStore(repo domain.Repository, cfg StoreConfig, opts ...Option) *Store {
	o := resolveOptions("ReminderStore", opts)
	if cfg.ReadAttempts <= 0 {
		cfg.ReadAttempts = defaultReadAttempts
	}
	return &Store{
		repo:         repo,
		cache:        newListCache(cfg.CacheSize, cfg.CacheTTL),
		readAttempts: cfg.ReadAttempts,
		now:          o.now,
		logger:       o.logger,
		metrics:      o.metrics,
		newBackoff:   o.newBackoff,
	}
}

// Create validates params and inserts a new enabled reminder.
func (s *Store) Create(ctx context.Context, params CreateParams) (*domain.Reminder, error) {
	if err := validateCreate(&params); err != nil {
		return nil, err
	}
	payload, err := domain.MarshalCondition(params.Condition)
	if err != nil {
		return nil, herrors.NewValidationError("trigger_condition", "%v", err)
	}

	now := s.now()
	r := domain.Reminder{
		OwnerID:        params.OwnerID,
		Type:           params.Type,
		Condition:      params.Condition,
		Content:        params.Content,
		Title:          params.Title,
		Priority:       params.Priority,
		Repeat:         params.Repeat,
		RepeatInterval: params.RepeatInterval,
		Enabled:        true,
		TaskID:         params.TaskID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if r.MisconfiguredRepeat() {
		s.logger.Warn("reminder for %s has repeat enabled without an interval, treating as one-shot", r.OwnerID)
	}

	id, err := s.repo.Insert(ctx, r, payload)
	if err != nil {
		return nil, s.fail("create", err)
	}
	r.ID = id
	s.cache.invalidateOwner(r.OwnerID)
	s.logger.Debug("created reminder %d for %s (%s)", id, r.OwnerID, r.Type)
	return &r, nil
}

// List returns the owner's reminders ordered enabled first, then priority,
// then newest. The result is a private copy.
func (s *Store) List(ctx context.Context, query domain.ListQuery) ([]domain.Reminder, error) {
	key := cacheKey{OwnerID: query.OwnerID, EnabledOnly: query.EnabledOnly, Type: query.Type}
	if cached, ok := s.cache.get(key, s.now()); ok {
		s.metrics.ObserveCache(true)
		return cached, nil
	}
	s.metrics.ObserveCache(false)

	generation := s.cache.generation.Load()
	var reminders []domain.Reminder
	err := s.retryRead(ctx, "list", func() error {
		var err error
		reminders, err = s.repo.List(ctx, query)
		return err
	})
	if err != nil {
		return nil, s.fail("list", err)
	}
	s.cache.put(key, reminders, s.now(), generation)
	return reminders, nil
}

// Get returns the reminder or nil when it does not exist. Get bypasses the
// cache.
func (s *Store) Get(ctx context.Context, id int64) (*domain.Reminder, error) {
	var r *domain.Reminder
	err := s.retryRead(ctx, "get", func() error {
		var err error
		r, err = s.repo.Get(ctx, id)
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, s.fail("get", err)
	}
	return r, nil
}

// Update applies patch. It reports false when the id does not exist.
func (s *Store) Update(ctx context.Context, id int64, patch domain.Patch) (bool, error) {
	encoded, err := encodePatch(patch)
	if err != nil {
		return false, err
	}

	owner, err := s.repo.Update(ctx, id, encoded, s.now())
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, s.fail("update", err)
	}
	s.cache.invalidateOwner(owner)
	return true, nil
}

// Delete removes the reminder. It reports false when the id does not exist.
func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	owner, err := s.repo.Delete(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, s.fail("delete", err)
	}
	s.cache.invalidateOwner(owner)
	return true, nil
}

// Owners lists owners with at least one enabled reminder.
func (s *Store) Owners(ctx context.Context) ([]string, error) {
	var owners []string
	err := s.retryRead(ctx, "owners", func() error {
		var err error
		owners, err = s.repo.Owners(ctx)
		return err
	})
	if err != nil {
		return nil, s.fail("owners", err)
	}
	return owners, nil
}

// PruneDisabled deletes disabled one-shot reminders untouched since before.
func (s *Store) PruneDisabled(ctx context.Context, before time.Time) (int64, error) {
	removed, err := s.repo.PruneDisabled(ctx, before)
	if err != nil {
		return 0, s.fail("prune", err)
	}
	if removed > 0 {
		s.Purge()
	}
	return removed, nil
}

// Purge drops every cache entry.
func (s *Store) Purge() {
	s.cache.purge()
}

// Confirm persists record together with patch on record.ReminderID. Either
// both land or neither does. It reports false when the reminder is gone.
func (s *Store) Confirm(ctx context.Context, record domain.ConfirmationRecord, patch domain.Patch) (bool, error) {
	encoded, err := encodePatch(patch)
	if err != nil {
		return false, err
	}
	owner, err := s.repo.Confirm(ctx, record, encoded, s.now())
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, s.fail("confirm", err)
	}
	s.cache.invalidateOwner(owner)
	return true, nil
}

// Confirmations returns an owner's confirmation records, newest first.
func (s *Store) Confirmations(ctx context.Context, ownerID string, limit int) ([]domain.ConfirmationRecord, error) {
	var records []domain.ConfirmationRecord
	err := s.retryRead(ctx, "list confirmations", func() error {
		var err error
		records, err = s.repo.ListConfirmations(ctx, ownerID, limit)
		return err
	})
	if err != nil {
		return nil, s.fail("list confirmations", err)
	}
	return records, nil
}

// LatestConfirmations maps reminder ids to their newest confirmed trigger.
func (s *Store) LatestConfirmations(ctx context.Context, ids []int64) (map[int64]time.Time, error) {
	if len(ids) == 0 {
		return map[int64]time.Time{}, nil
	}
	var latest map[int64]time.Time
	err := s.retryRead(ctx, "latest confirmations", func() error {
		var err error
		latest, err = s.repo.LatestConfirmations(ctx, ids)
		return err
	})
	if err != nil {
		return nil, s.fail("latest confirmations", err)
	}
	return latest, nil
}

func (s *Store) retryRead(ctx context.Context, op string, fn func() error) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrNotFound) || !herrors.IsTransient(err) {
			return backoff.Permanent(err)
		}
		if attempt < s.readAttempts {
			s.logger.Debug("%s attempt %d failed, retrying: %v", op, attempt, err)
		}
		return err
	}
	policy := backoff.WithMaxRetries(s.newBackoff(), uint64(s.readAttempts-1))
	return backoff.Retry(operation, backoff.WithContext(policy, ctx))
}

func (s *Store) fail(op string, err error) error {
	wrapped := herrors.NewPersistenceError(op, err)
	s.logger.Error("%v", wrapped)
	return wrapped
}

func encodePatch(patch domain.Patch) (domain.EncodedPatch, error) {
	if err := validatePatch(patch); err != nil {
		return domain.EncodedPatch{}, err
	}
	encoded := domain.EncodedPatch{Patch: patch}
	if patch.Condition != nil {
		payload, err := domain.MarshalCondition(patch.Condition)
		if err != nil {
			return domain.EncodedPatch{}, herrors.NewValidationError("trigger_condition", "%v", err)
		}
		kind := patch.Condition.Kind()
		encoded.Type = &kind
		encoded.ConditionJSON = payload
	}
	return encoded, nil
}

func validateCreate(params *CreateParams) error {
	params.OwnerID = strings.TrimSpace(params.OwnerID)
	if params.OwnerID == "" {
		return herrors.NewValidationError("owner_id", "must not be empty")
	}
	if !params.Type.IsValid() {
		return herrors.NewValidationError("type", "unknown reminder type %q", params.Type)
	}
	if params.Condition == nil {
		return herrors.NewValidationError("trigger_condition", "is required")
	}
	if params.Condition.Kind() != params.Type {
		return herrors.NewValidationError("trigger_condition", "%s condition does not match type %s", params.Condition.Kind(), params.Type)
	}
	if strings.TrimSpace(params.Content) == "" {
		return herrors.NewValidationError("content", "must not be empty")
	}
	if params.Priority == 0 {
		params.Priority = domain.HighestPriority
	}
	if err := validatePriority(params.Priority); err != nil {
		return err
	}
	return validateInterval(params.RepeatInterval)
}

func validatePatch(patch domain.Patch) error {
	if patch.Content != nil && strings.TrimSpace(*patch.Content) == "" {
		return herrors.NewValidationError("content", "must not be empty")
	}
	if patch.Priority != nil {
		if err := validatePriority(*patch.Priority); err != nil {
			return err
		}
	}
	if patch.RepeatInterval != nil {
		if err := validateInterval(*patch.RepeatInterval); err != nil {
			return err
		}
	}
	if patch.TriggerCount != nil && *patch.TriggerCount < 0 {
		return herrors.NewValidationError("trigger_count", "must not be negative")
	}
	return nil
}

// validateInterval keeps intervals representable in the seconds column the
// SQL adapters persist.
func validateInterval(interval time.Duration) error {
	if interval < 0 {
		return herrors.NewValidationError("repeat_interval", "must not be negative")
	}
	if interval%time.Second != 0 {
		return herrors.NewValidationError("repeat_interval", "must be a whole number of seconds")
	}
	return nil
}

func validatePriority(priority int) error {
	if priority < domain.HighestPriority || priority > domain.LowestPriority {
		return herrors.NewValidationError("priority", "must be between %d and %d", domain.HighestPriority, domain.LowestPriority)
	}
	return nil
}
