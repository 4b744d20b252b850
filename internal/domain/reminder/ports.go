package reminder

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by repositories for a missing reminder id.
var ErrNotFound = errors.New("reminder not found")

// Repository is the persistence port for reminders and confirmation records.
// Implementations decode conditions with DecodeInto on every read.
type Repository interface {
	// Insert stores r (ID is ignored) with its serialized condition and
	// returns the assigned id.
	Insert(ctx context.Context, r Reminder, condition []byte) (int64, error)
	Get(ctx context.Context, id int64) (*Reminder, error)
	// List orders by enabled first, priority ascending, newest created first.
	List(ctx context.Context, q ListQuery) ([]Reminder, error)
	// Update applies patch and returns the owner of the updated reminder.
	Update(ctx context.Context, id int64, patch EncodedPatch, updatedAt time.Time) (string, error)
	// Delete removes the reminder and returns its owner.
	Delete(ctx context.Context, id int64) (string, error)
	// Owners lists distinct owners with at least one enabled reminder.
	Owners(ctx context.Context) ([]string, error)
	// PruneDisabled deletes disabled non-repeat reminders last updated
	// before the cutoff and returns how many were removed.
	PruneDisabled(ctx context.Context, before time.Time) (int64, error)

	// Confirm stores record and applies patch to record.ReminderID as one
	// unit: either both persist or neither does. It returns the owner and
	// ErrNotFound when the reminder no longer exists.
	Confirm(ctx context.Context, record ConfirmationRecord, patch EncodedPatch, updatedAt time.Time) (string, error)
	// ListConfirmations returns an owner's records, newest confirmed first.
	ListConfirmations(ctx context.Context, ownerID string, limit int) ([]ConfirmationRecord, error)
	// LatestConfirmations maps each reminder id to the greatest TriggeredAt
	// among its records. Ids without records are absent from the map.
	LatestConfirmations(ctx context.Context, reminderIDs []int64) (map[int64]time.Time, error)
}
