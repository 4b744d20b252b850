package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "herald/internal/domain/reminder"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

const atTen = `{"at":"2026-03-02T10:00:00Z"}`

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

func TestInsertAssignsIDsAndDecodesOnRead(t *testing.T) {
	repo := New()
	ctx := context.Background()

	first := insert(t, repo, domain.Reminder{ID: 42, OwnerID: "alice", Type: domain.TypeTime, Content: "call", Enabled: true}, atTen)
	second := insert(t, repo, domain.Reminder{OwnerID: "alice", Type: domain.TypeBehavior, Content: "stretch", Enabled: true}, `{"inactive_hours":2}`)
	assert.EqualValues(t, 1, first, "caller supplied ids are ignored")
	assert.EqualValues(t, 2, second)

	got, err := repo.Get(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, domain.TimeCondition{At: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}, got.Condition)
	assert.NoError(t, got.ConditionErr)

	_, err = repo.Get(ctx, 99)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestReadsReturnCopies(t *testing.T) {
	repo := New()
	ctx := context.Background()
	id := insert(t, repo, domain.Reminder{OwnerID: "alice", Type: domain.TypeTime, Content: "call", Enabled: true}, atTen)

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	got.Content = "changed"
	got.Enabled = false

	again, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "call", again.Content)
	assert.True(t, again.Enabled)
}

func TestListOrderingAndFilters(t *testing.T) {
	repo := New()
	ctx := context.Background()

	low := insert(t, repo, domain.Reminder{OwnerID: "alice", Type: domain.TypeTime, Content: "low", Priority: 5, Enabled: true}, atTen)
	older := insert(t, repo, domain.Reminder{OwnerID: "alice", Type: domain.TypeTime, Content: "older", Priority: 1, Enabled: true}, atTen)
	newer := insert(t, repo, domain.Reminder{OwnerID: "alice", Type: domain.TypeTime, Content: "newer", Priority: 1, Enabled: true, CreatedAt: base.Add(time.Minute)}, atTen)
	off := insert(t, repo, domain.Reminder{OwnerID: "alice", Type: domain.TypeBehavior, Content: "off", Priority: 1}, `{"inactive_hours":1}`)
	insert(t, repo, domain.Reminder{OwnerID: "bob", Type: domain.TypeTime, Content: "bob", Enabled: true}, atTen)
	broken := insert(t, repo, domain.Reminder{OwnerID: "carol", Type: domain.TypeTime, Content: "broken", Enabled: true}, `{"at":"soon"}`)

	all, err := repo.List(ctx, domain.ListQuery{OwnerID: "alice"})
	require.NoError(t, err)
	ids := make([]int64, 0, len(all))
	for _, r := range all {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []int64{newer, older, low, off}, ids)

	timeOnly, err := repo.List(ctx, domain.ListQuery{OwnerID: "alice", EnabledOnly: true, Type: domain.TypeTime})
	require.NoError(t, err)
	assert.Len(t, timeOnly, 3)

	behavior, err := repo.List(ctx, domain.ListQuery{OwnerID: "alice", EnabledOnly: true, Type: domain.TypeBehavior})
	require.NoError(t, err)
	assert.Empty(t, behavior)

	carol, err := repo.List(ctx, domain.ListQuery{OwnerID: "carol"})
	require.NoError(t, err)
	require.Len(t, carol, 1)
	assert.Equal(t, broken, carol[0].ID)
	assert.Error(t, carol[0].ConditionErr)
	assert.Equal(t, []byte(`{"at":"soon"}`), carol[0].ConditionRaw)
}

func TestUpdateAppliesOnlySetFields(t *testing.T) {
	repo := New()
	ctx := context.Background()
	id := insert(t, repo, domain.Reminder{OwnerID: "alice", Type: domain.TypeTime, Content: "call", Title: "Call", Priority: 3, Enabled: true}, atTen)

	title := "Call mum"
	habit := domain.TypeHabit
	owner, err := repo.Update(ctx, id, domain.EncodedPatch{
		Patch: domain.Patch{Title: &title},
		Type:  &habit,
	}, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Call mum", got.Title)
	assert.Equal(t, "call", got.Content)
	assert.Equal(t, 3, got.Priority)
	assert.Equal(t, domain.TypeTime, got.Type, "type only changes together with a condition")
	assert.True(t, got.UpdatedAt.Equal(base.Add(time.Hour)))

	owner, err = repo.Update(ctx, id, domain.EncodedPatch{
		Type:          &habit,
		ConditionJSON: []byte(`{"pattern":"water","time_of_day":"08:30"}`),
	}, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)

	got, err = repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.TypeHabit, got.Type)
	assert.Equal(t, domain.HabitCondition{Pattern: "water", TimeOfDay: "08:30"}, got.Condition)

	_, err = repo.Update(ctx, 999, domain.EncodedPatch{}, base)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestDeleteOwnersAndPrune(t *testing.T) {
	repo := New()
	ctx := context.Background()

	stale := insert(t, repo, domain.Reminder{OwnerID: "alice", Type: domain.TypeTime, Content: "done"}, atTen)
	fresh := insert(t, repo, domain.Reminder{OwnerID: "alice", Type: domain.TypeTime, Content: "recent", CreatedAt: base.Add(48 * time.Hour)}, atTen)
	repeating := insert(t, repo, domain.Reminder{OwnerID: "bob", Type: domain.TypeTime, Content: "loop", Repeat: true, RepeatInterval: time.Hour}, atTen)
	misconfigured := insert(t, repo, domain.Reminder{OwnerID: "bob", Type: domain.TypeTime, Content: "flag only", Repeat: true}, atTen)
	insert(t, repo, domain.Reminder{OwnerID: "carol", Type: domain.TypeTime, Content: "live", Enabled: true}, atTen)

	owners, err := repo.Owners(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, owners, "only owners with enabled reminders")

	removed, err := repo.PruneDisabled(ctx, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)

	for _, id := range []int64{stale, misconfigured} {
		_, err := repo.Get(ctx, id)
		assert.True(t, errors.Is(err, domain.ErrNotFound), "id %d should be pruned", id)
	}
	for _, id := range []int64{fresh, repeating} {
		_, err := repo.Get(ctx, id)
		assert.NoError(t, err, "id %d should survive", id)
	}

	owner, err := repo.Delete(ctx, repeating)
	require.NoError(t, err)
	assert.Equal(t, "bob", owner)
	_, err = repo.Delete(ctx, repeating)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestConfirmations(t *testing.T) {
	repo := New()
	ctx := context.Background()

	first := insert(t, repo, domain.Reminder{OwnerID: "alice", Type: domain.TypeTime, Content: "a", Enabled: true, Repeat: true, RepeatInterval: time.Hour}, atTen)
	second := insert(t, repo, domain.Reminder{OwnerID: "alice", Type: domain.TypeTime, Content: "b", Enabled: true}, atTen)
	third := insert(t, repo, domain.Reminder{OwnerID: "bob", Type: domain.TypeTime, Content: "c", Enabled: true}, atTen)

	reset := 0
	disabled := false
	confirm := func(recordID string, reminderID int64, owner string, triggered, confirmed time.Time, patch domain.Patch) {
		t.Helper()
		got, err := repo.Confirm(ctx, domain.ConfirmationRecord{
			ID: recordID, ReminderID: reminderID, OwnerID: owner, TriggeredAt: triggered, ConfirmedAt: confirmed,
		}, domain.EncodedPatch{Patch: patch}, confirmed)
		require.NoError(t, err)
		assert.Equal(t, owner, got)
	}
	confirm("confirm-a", first, "alice", base.Add(time.Hour), base.Add(time.Minute), domain.Patch{TriggerCount: &reset})
	confirm("confirm-b", first, "alice", base, base.Add(3*time.Hour), domain.Patch{TriggerCount: &reset})
	confirm("confirm-c", second, "alice", base, base.Add(2*time.Hour), domain.Patch{Enabled: &disabled})
	confirm("confirm-d", third, "bob", base, base, domain.Patch{Enabled: &disabled})

	got, err := repo.Get(ctx, second)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.True(t, got.UpdatedAt.Equal(base.Add(2*time.Hour)))

	history, err := repo.ListConfirmations(ctx, "alice", 0)
	require.NoError(t, err)
	ids := make([]string, 0, len(history))
	for _, rec := range history {
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []string{"confirm-b", "confirm-c", "confirm-a"}, ids)

	limited, err := repo.ListConfirmations(ctx, "alice", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	none, err := repo.ListConfirmations(ctx, "dave", 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	latest, err := repo.LatestConfirmations(ctx, []int64{first, second, 99})
	require.NoError(t, err)
	assert.Len(t, latest, 2)
	assert.True(t, latest[first].Equal(base.Add(time.Hour)), "latest is by triggered time, not insertion order")
	assert.True(t, latest[second].Equal(base))
}

func TestConfirmMissingReminderStoresNothing(t *testing.T) {
	repo := New()
	ctx := context.Background()

	_, err := repo.Confirm(ctx, domain.ConfirmationRecord{ID: "confirm-x", ReminderID: 7, OwnerID: "alice", TriggeredAt: base, ConfirmedAt: base},
		domain.EncodedPatch{}, base)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	history, err := repo.ListConfirmations(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestCancelledContext(t *testing.T) {
	repo := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.Insert(ctx, domain.Reminder{OwnerID: "alice", Type: domain.TypeTime}, []byte(atTen))
	assert.ErrorIs(t, err, context.Canceled)
	_, err = repo.List(ctx, domain.ListQuery{OwnerID: "alice"})
	assert.ErrorIs(t, err, context.Canceled)
	_, err = repo.Owners(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
