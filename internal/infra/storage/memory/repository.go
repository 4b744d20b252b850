// Package memory provides a map-backed reminder repository for development
// and tests. Conditions are kept in their serialized form and decoded on
// every read, like the SQL adapters.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	domain "herald/internal/domain/reminder"
)

type row struct {
	reminder  domain.Reminder
	condition []byte
}

// Repository implements domain.Repository in memory.
type Repository struct {
	mu            sync.RWMutex
	nextID        int64
	rows          map[int64]row
	confirmations []domain.ConfirmationRecord
}

func New() *Repository {
	return &Repository{rows: make(map[int64]row)}
}

func (r *Repository) Insert(ctx context.Context, reminder domain.Reminder, condition []byte) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	reminder.ID = r.nextID
	reminder.Condition = nil
	reminder.ConditionErr = nil
	reminder.ConditionRaw = nil
	r.rows[reminder.ID] = row{reminder: reminder.Clone(), condition: append([]byte(nil), condition...)}
	return reminder.ID, nil
}

func (r *Repository) Get(ctx context.Context, id int64) (*domain.Reminder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := materialize(stored)
	return &out, nil
}

func (r *Repository) List(ctx context.Context, q domain.ListQuery) ([]domain.Reminder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]domain.Reminder, 0, len(r.rows))
	for _, stored := range r.rows {
		rem := stored.reminder
		if rem.OwnerID != q.OwnerID {
			continue
		}
		if q.EnabledOnly && !rem.Enabled {
			continue
		}
		if q.Type != "" && rem.Type != q.Type {
			continue
		}
		out = append(out, materialize(stored))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Enabled != b.Enabled {
			return a.Enabled
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	return out, nil
}

func (r *Repository) Update(ctx context.Context, id int64, patch domain.EncodedPatch, updatedAt time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applyLocked(id, patch, updatedAt)
}

// applyLocked must be called with r.mu held for writing.
func (r *Repository) applyLocked(id int64, patch domain.EncodedPatch, updatedAt time.Time) (string, error) {
	stored, ok := r.rows[id]
	if !ok {
		return "", domain.ErrNotFound
	}
	rem := &stored.reminder
	if patch.Title != nil {
		rem.Title = *patch.Title
	}
	if patch.Content != nil {
		rem.Content = *patch.Content
	}
	if patch.Priority != nil {
		rem.Priority = *patch.Priority
	}
	if patch.ConditionJSON != nil {
		stored.condition = append([]byte(nil), patch.ConditionJSON...)
		if patch.Type != nil {
			rem.Type = *patch.Type
		}
	}
	if patch.Repeat != nil {
		rem.Repeat = *patch.Repeat
	}
	if patch.RepeatInterval != nil {
		rem.RepeatInterval = *patch.RepeatInterval
	}
	if patch.Enabled != nil {
		rem.Enabled = *patch.Enabled
	}
	if patch.LastTriggered != nil {
		ts := *patch.LastTriggered
		rem.LastTriggered = &ts
	}
	if patch.TriggerCount != nil {
		rem.TriggerCount = *patch.TriggerCount
	}
	if patch.TaskID != nil {
		rem.TaskID = *patch.TaskID
	}
	rem.UpdatedAt = updatedAt
	r.rows[id] = stored
	return rem.OwnerID, nil
}

func (r *Repository) Delete(ctx context.Context, id int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.rows[id]
	if !ok {
		return "", domain.ErrNotFound
	}
	delete(r.rows, id)
	return stored.reminder.OwnerID, nil
}

func (r *Repository) Owners(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	seen := make(map[string]struct{})
	for _, stored := range r.rows {
		if stored.reminder.Enabled {
			seen[stored.reminder.OwnerID] = struct{}{}
		}
	}
	r.mu.RUnlock()

	owners := make([]string, 0, len(seen))
	for owner := range seen {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	return owners, nil
}

func (r *Repository) PruneDisabled(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int64
	for id, stored := range r.rows {
		rem := stored.reminder
		if !rem.Enabled && !rem.EffectiveRepeat() && rem.UpdatedAt.Before(before) {
			delete(r.rows, id)
			removed++
		}
	}
	return removed, nil
}

func (r *Repository) Confirm(ctx context.Context, record domain.ConfirmationRecord, patch domain.EncodedPatch, updatedAt time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, err := r.applyLocked(record.ReminderID, patch, updatedAt)
	if err != nil {
		return "", err
	}
	r.confirmations = append(r.confirmations, record)
	return owner, nil
}

func (r *Repository) ListConfirmations(ctx context.Context, ownerID string, limit int) ([]domain.ConfirmationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]domain.ConfirmationRecord, 0)
	for i := len(r.confirmations) - 1; i >= 0; i-- {
		if r.confirmations[i].OwnerID == ownerID {
			out = append(out, r.confirmations[i])
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ConfirmedAt.After(out[j].ConfirmedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Repository) LatestConfirmations(ctx context.Context, reminderIDs []int64) (map[int64]time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	wanted := make(map[int64]struct{}, len(reminderIDs))
	for _, id := range reminderIDs {
		wanted[id] = struct{}{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	latest := make(map[int64]time.Time)
	for _, record := range r.confirmations {
		if _, ok := wanted[record.ReminderID]; !ok {
			continue
		}
		if current, ok := latest[record.ReminderID]; !ok || record.TriggeredAt.After(current) {
			latest[record.ReminderID] = record.TriggeredAt
		}
	}
	return latest, nil
}

func materialize(stored row) domain.Reminder {
	out := stored.reminder.Clone()
	domain.DecodeInto(&out, stored.condition)
	return out
}

var _ domain.Repository = (*Repository)(nil)
