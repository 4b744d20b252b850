package reminder

import (
	"context"
	"sync"
	"syscall"
	"testing"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"herald/internal/app/notification"
	domain "herald/internal/domain/reminder"
	"herald/internal/infra/storage/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []notification.Event
}

func (b *recordingBroadcaster) Broadcast(_ context.Context, event notification.Event) notification.BroadcastResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return notification.BroadcastResult{Attempted: 1, Delivered: 1}
}

func (b *recordingBroadcaster) ofType(eventType notification.EventType) []notification.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []notification.Event
	for _, event := range b.events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

type fakeActivity struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func (a *fakeActivity) set(owner string, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.last == nil {
		a.last = make(map[string]time.Time)
	}
	a.last[owner] = at
}

func (a *fakeActivity) LastActivity(_ context.Context, owner string) (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	at, ok := a.last[owner]
	return at, ok
}

type fakeWeather struct {
	current string
	err     error
}

func (w fakeWeather) Current(context.Context, string) (string, error) {
	return w.current, w.err
}

// flakyRepository counts reads and can fail the next N calls.
type flakyRepository struct {
	*memory.Repository

	mu        sync.Mutex
	listCalls int
	failReads int
	failErr   error
	failWrite error
}

func newFlakyRepository() *flakyRepository {
	return &flakyRepository{Repository: memory.New()}
}

func (r *flakyRepository) readFailure() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failReads > 0 {
		r.failReads--
		if r.failErr != nil {
			return r.failErr
		}
		return syscall.ECONNRESET
	}
	return nil
}

func (r *flakyRepository) List(ctx context.Context, q domain.ListQuery) ([]domain.Reminder, error) {
	r.mu.Lock()
	r.listCalls++
	r.mu.Unlock()
	if err := r.readFailure(); err != nil {
		return nil, err
	}
	return r.Repository.List(ctx, q)
}

func (r *flakyRepository) Get(ctx context.Context, id int64) (*domain.Reminder, error) {
	if err := r.readFailure(); err != nil {
		return nil, err
	}
	return r.Repository.Get(ctx, id)
}

func (r *flakyRepository) Update(ctx context.Context, id int64, patch domain.EncodedPatch, at time.Time) (string, error) {
	r.mu.Lock()
	err := r.failWrite
	r.mu.Unlock()
	if err != nil {
		return "", err
	}
	return r.Repository.Update(ctx, id, patch, at)
}

func (r *flakyRepository) Confirm(ctx context.Context, record domain.ConfirmationRecord, patch domain.EncodedPatch, at time.Time) (string, error) {
	r.mu.Lock()
	err := r.failWrite
	r.mu.Unlock()
	if err != nil {
		return "", err
	}
	return r.Repository.Confirm(ctx, record, patch, at)
}

func (r *flakyRepository) setFailWrite(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failWrite = err
}

func (r *flakyRepository) lists() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listCalls
}

type fixture struct {
	clock       *fakeClock
	repo        *flakyRepository
	broadcaster *recordingBroadcaster
	activity    *fakeActivity
	service     *Service
}

var fixtureStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, extra ...Option) *fixture {
	t.Helper()
	f := &fixture{
		clock:       newFakeClock(fixtureStart),
		repo:        newFlakyRepository(),
		broadcaster: &recordingBroadcaster{},
		activity:    &fakeActivity{},
	}
	opts := []Option{
		WithClock(f.clock.Now),
		WithActivitySource(f.activity),
		WithLocation(time.UTC),
		WithReadBackoff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
	}
	opts = append(opts, extra...)
	f.service = NewService(f.repo, f.broadcaster, Config{
		Store:     StoreConfig{CacheTTL: 300 * time.Second, CacheSize: 16},
		Evaluator: EvaluatorConfig{RetryInterval: 300 * time.Second},
		Ledger:    LedgerConfig{PendingWindow: 24 * time.Hour},
	}, opts...)
	return f
}

func (f *fixture) createTime(t *testing.T, owner string, at time.Time, repeat time.Duration) *domain.Reminder {
	t.Helper()
	r, err := f.service.Create(context.Background(), CreateParams{
		OwnerID:        owner,
		Type:           domain.TypeTime,
		Condition:      domain.TimeCondition{At: at},
		Content:        "stand up and stretch",
		Title:          "Stretch",
		Repeat:         repeat > 0,
		RepeatInterval: repeat,
	})
	if err != nil {
		t.Fatalf("create reminder: %v", err)
	}
	return r
}

func dueIDs(reminders []domain.Reminder) []int64 {
	ids := make([]int64, 0, len(reminders))
	for _, r := range reminders {
		ids = append(ids, r.ID)
	}
	return ids
}
