package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "herald/internal/domain/reminder"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "herald.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo, err := New(db)
	require.NoError(t, err)
	require.NoError(t, repo.EnsureSchema(context.Background()))
	require.NoError(t, repo.EnsureSchema(context.Background()), "schema creation is idempotent")
	return repo
}

func insert(t *testing.T, repo *Repository, rem domain.Reminder, condition string) int64 {
	t.Helper()
	if rem.CreatedAt.IsZero() {
		rem.CreatedAt = base
	}
	rem.UpdatedAt = rem.CreatedAt
	id, err := repo.Insert(context.Background(), rem, []byte(condition))
	require.NoError(t, err)
	return id
}

func TestRepository_InsertGetRoundTrip(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	id := insert(t, repo, domain.Reminder{
		OwnerID: "alice", Type: domain.TypeHabit, Content: "read", Title: "Read",
		Priority: 2, Repeat: true, RepeatInterval: 2 * time.Hour, Enabled: true, TaskID: "t-1",
	}, `{"pattern":"read","time_of_day":"21:00"}`)

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.OwnerID)
	assert.Equal(t, domain.HabitCondition{Pattern: "read", TimeOfDay: "21:00"}, got.Condition)
	assert.Equal(t, 2*time.Hour, got.RepeatInterval)
	assert.True(t, got.Repeat)
	assert.True(t, got.Enabled)
	assert.Nil(t, got.LastTriggered)
	assert.True(t, got.CreatedAt.Equal(base))
	assert.Equal(t, "t-1", got.TaskID)

	_, err = repo.Get(ctx, id+100)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRepository_ListOrderingAndFilters(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	at := `{"at":"2026-03-02T10:00:00Z"}`

	low := insert(t, repo, domain.Reminder{OwnerID: "alice", Type: domain.TypeTime, Content: "low", Priority: 5, Enabled: true}, at)
	older := insert(t, repo, domain.Reminder{OwnerID: "alice", Type: domain.TypeTime, Content: "older", Priority: 1, Enabled: true}, at)
	newer := insert(t, repo, domain.Reminder{OwnerID: "alice", Type: domain.TypeTime, Content: "newer", Priority: 1, Enabled: true, CreatedAt: base.Add(time.Minute)}, at)
	off := insert(t, repo, domain.Reminder{OwnerID: "alice", Type: domain.TypeBehavior, Content: "off", Priority: 1}, `{"inactive_hours":1}`)
	insert(t, repo, domain.Reminder{OwnerID: "bob", Type: domain.TypeTime, Content: "bob", Priority: 1, Enabled: true}, at)
	broken := insert(t, repo, domain.Reminder{OwnerID: "carol", Type: domain.TypeTime, Content: "broken", Priority: 1, Enabled: true}, `{"at":"soon"}`)

	all, err := repo.List(ctx, domain.ListQuery{OwnerID: "alice"})
	require.NoError(t, err)
	ids := make([]int64, 0, len(all))
	for _, r := range all {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []int64{newer, older, low, off}, ids)

	enabled, err := repo.List(ctx, domain.ListQuery{OwnerID: "alice", EnabledOnly: true, Type: domain.TypeTime})
	require.NoError(t, err)
	assert.Len(t, enabled, 3)

	carol, err := repo.List(ctx, domain.ListQuery{OwnerID: "carol"})
	require.NoError(t, err)
	require.Len(t, carol, 1)
	assert.Equal(t, broken, carol[0].ID)
	assert.Error(t, carol[0].ConditionErr)

	owners, err := repo.Owners(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol"}, owners)
}

func TestRepository_UpdateDeletePrune(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	id := insert(t, repo, domain.Reminder{OwnerID: "alice", Type: domain.TypeTime, Content: "x", Priority: 1, Enabled: true}, `{"at":"2026-03-02T10:00:00Z"}`)
	repeating := insert(t, repo, domain.Reminder{OwnerID: "alice", Type: domain.TypeTime, Content: "y", Priority: 1, Repeat: true, RepeatInterval: time.Minute}, `{"at":"2026-03-02T10:00:00Z"}`)

	count := 3
	disabled := false
	triggered := base.Add(time.Hour)
	weather := domain.TypeWeather
	owner, err := repo.Update(ctx, id, domain.EncodedPatch{
		Patch:         domain.Patch{TriggerCount: &count, Enabled: &disabled, LastTriggered: &triggered},
		Type:          &weather,
		ConditionJSON: []byte(`{"condition":"snow","location":"Oslo"}`),
	}, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, got.TriggerCount)
	assert.False(t, got.Enabled)
	require.NotNil(t, got.LastTriggered)
	assert.True(t, got.LastTriggered.Equal(triggered))
	assert.Equal(t, domain.TypeWeather, got.Type)
	assert.Equal(t, domain.WeatherCondition{Condition: "snow", Location: "Oslo"}, got.Condition)

	_, err = repo.Update(ctx, 999, domain.EncodedPatch{}, base)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	removed, err := repo.PruneDisabled(ctx, base.Add(3*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)
	_, err = repo.Get(ctx, repeating)
	assert.NoError(t, err, "repeating reminders survive pruning")

	owner, err = repo.Delete(ctx, repeating)
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)
	_, err = repo.Delete(ctx, repeating)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRepository_Confirmations(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	const cond = `{"at":"2026-03-02T10:00:00Z"}`
	first := insert(t, repo, domain.Reminder{OwnerID: "alice", Type: domain.TypeTime, Content: "a", Enabled: true, Repeat: true, RepeatInterval: time.Hour, TriggerCount: 2}, cond)
	second := insert(t, repo, domain.Reminder{OwnerID: "bob", Type: domain.TypeTime, Content: "c", Enabled: true}, cond)

	reset := 0
	disabled := false
	records := []struct {
		rec   domain.ConfirmationRecord
		patch domain.Patch
	}{
		{domain.ConfirmationRecord{ID: "confirm-a", ReminderID: first, OwnerID: "alice", Content: "a", TriggeredAt: base, ConfirmedAt: base.Add(time.Minute)}, domain.Patch{TriggerCount: &reset}},
		{domain.ConfirmationRecord{ID: "confirm-b", ReminderID: first, OwnerID: "alice", Content: "a", TriggeredAt: base.Add(time.Hour), ConfirmedAt: base.Add(2 * time.Hour)}, domain.Patch{TriggerCount: &reset}},
		{domain.ConfirmationRecord{ID: "confirm-c", ReminderID: second, OwnerID: "bob", Content: "c", TriggeredAt: base, ConfirmedAt: base}, domain.Patch{Enabled: &disabled}},
	}
	for _, r := range records {
		owner, err := repo.Confirm(ctx, r.rec, domain.EncodedPatch{Patch: r.patch}, r.rec.ConfirmedAt)
		require.NoError(t, err)
		assert.Equal(t, r.rec.OwnerID, owner)
	}

	got, err := repo.Get(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, 0, got.TriggerCount)
	got, err = repo.Get(ctx, second)
	require.NoError(t, err)
	assert.False(t, got.Enabled)

	history, err := repo.ListConfirmations(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "confirm-b", history[0].ID)
	assert.True(t, history[0].ConfirmedAt.Equal(base.Add(2*time.Hour)))

	limited, err := repo.ListConfirmations(ctx, "alice", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	latest, err := repo.LatestConfirmations(ctx, []int64{first, second, 99})
	require.NoError(t, err)
	assert.Len(t, latest, 2)
	assert.True(t, latest[first].Equal(base.Add(time.Hour)))
	assert.True(t, latest[second].Equal(base))
}

func TestRepository_ConfirmRollsBackWhenReminderMissing(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	disabled := false
	_, err := repo.Confirm(ctx,
		domain.ConfirmationRecord{ID: "confirm-x", ReminderID: 42, OwnerID: "alice", TriggeredAt: base, ConfirmedAt: base},
		domain.EncodedPatch{Patch: domain.Patch{Enabled: &disabled}}, base)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	history, err := repo.ListConfirmations(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}
