package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"herald/internal/shared/async"
	"herald/internal/shared/logging"
)

var schedulerEpoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// countingMetrics records job counters.
type countingMetrics struct {
	mu      sync.Mutex
	runs    map[string]int
	skipped map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{runs: map[string]int{}, skipped: map[string]int{}}
}

func (m *countingMetrics) ObserveJobRun(jobID, status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[jobID+"/"+status]++
}

func (m *countingMetrics) ObserveJobSkipped(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skipped[jobID]++
}

func (m *countingMetrics) count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[key]
}

func (m *countingMetrics) skips(jobID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.skipped[jobID]
}

func newTestScheduler(opts ...Option) *Scheduler {
	base := []Option{
		WithLogger(logging.Nop()),
		WithClock(func() time.Time { return schedulerEpoch }),
		WithLocation(time.UTC),
	}
	return New(append(base, opts...)...)
}

func statusOf(t *testing.T, s *Scheduler, jobID string) JobStatus {
	t.Helper()
	for _, st := range s.Status() {
		if st.ID == jobID {
			return st
		}
	}
	t.Fatalf("job %q not in status", jobID)
	return JobStatus{}
}

func noop(context.Context) error { return nil }

func TestScheduler_RegisterValidation(t *testing.T) {
	s := newTestScheduler()
	if err := s.Register(Job{ID: "", Schedule: "@hourly", Run: noop}); err == nil {
		t.Fatal("expected error for empty id")
	}
	if err := s.Register(Job{ID: "x", Schedule: "every now and then", Run: noop}); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
	if err := s.Register(Job{ID: "x", Schedule: "@hourly"}); err == nil {
		t.Fatal("expected error for missing run func")
	}
	if err := s.Register(Job{ID: "x", Schedule: "@every 1m", Run: noop}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Register(Job{ID: "x", Schedule: "0 3 * * *", Run: noop}); err == nil {
		t.Fatal("expected duplicate id error")
	}
	if got := statusOf(t, s, "x").Name; got != "x" {
		t.Fatalf("expected name to default to id, got %q", got)
	}
}

func TestScheduler_StartStopToggle(t *testing.T) {
	s := newTestScheduler()
	if err := s.Register(Job{ID: "minutely", Name: "Minutely", Schedule: "@every 1m", Run: noop}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Register(Job{ID: "nightly", Schedule: "0 3 * * *", Run: noop}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if !statusOf(t, s, "minutely").NextRun.IsZero() {
		t.Fatal("stopped scheduler must report zero next run")
	}

	// Next runs come from the cron entries, which tick on the wall clock.
	before := time.Now()
	s.Start()
	s.Start()
	if !s.Running() {
		t.Fatal("expected scheduler running")
	}
	if got := statusOf(t, s, "minutely").NextRun; !got.After(before) || got.After(time.Now().Add(time.Minute)) {
		t.Fatalf("minutely next run = %v", got)
	}
	nightly := statusOf(t, s, "nightly").NextRun
	if nightly.Hour() != 3 || nightly.Minute() != 0 || !nightly.After(before) || nightly.After(before.Add(24*time.Hour)) {
		t.Fatalf("nightly next run = %v", nightly)
	}

	s.Stop()
	if s.Running() || !statusOf(t, s, "nightly").NextRun.IsZero() {
		t.Fatal("expected stopped scheduler with zero next run")
	}

	s.Start()
	defer s.Stop()
	if statusOf(t, s, "nightly").NextRun.IsZero() {
		t.Fatal("restarted scheduler must report next run")
	}

	if err := s.Register(Job{ID: "late", Schedule: "@hourly", Run: noop}); err != nil {
		t.Fatalf("Register while running: %v", err)
	}
	if got := statusOf(t, s, "late").NextRun; got.Minute() != 0 || !got.After(before) || got.After(time.Now().Add(time.Hour)) {
		t.Fatalf("late next run = %v", got)
	}
}

func TestScheduler_NextRunComesFromCronEntry(t *testing.T) {
	var (
		mu    sync.Mutex
		clock = schedulerEpoch
	)
	// Every read of the injected clock moves it forward ten minutes.
	s := newTestScheduler(WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(10 * time.Minute)
		return clock
	}))
	if err := s.Register(Job{ID: "hourly", Schedule: "@every 1h", Run: noop}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	s.Start()
	defer s.Stop()

	first := statusOf(t, s, "hourly").NextRun
	time.Sleep(1100 * time.Millisecond)
	second := statusOf(t, s, "hourly").NextRun
	if first.IsZero() || !first.Equal(second) {
		t.Fatalf("next run moved between ticks: %v then %v", first, second)
	}
	if until := time.Until(first); until <= 0 || until > time.Hour {
		t.Fatalf("next run %v is not within the next hour", first)
	}
}

func TestScheduler_RunNowRecordsOutcome(t *testing.T) {
	metrics := newCountingMetrics()
	s := newTestScheduler(WithMetrics(metrics))
	boom := errors.New("boom")
	fail := true
	if err := s.Register(Job{ID: "job", Schedule: "@hourly", Run: func(context.Context) error {
		if fail {
			return boom
		}
		return nil
	}}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := s.RunNow(context.Background(), "job"); !errors.Is(err, boom) {
		t.Fatalf("expected job error, got %v", err)
	}
	st := statusOf(t, s, "job")
	if st.LastError != "boom" || !st.LastRun.Equal(schedulerEpoch) || st.Runs != 1 {
		t.Fatalf("unexpected status after failure: %+v", st)
	}

	fail = false
	if err := s.RunNow(context.Background(), "job"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if st := statusOf(t, s, "job"); st.LastError != "" || st.Runs != 2 {
		t.Fatalf("unexpected status after success: %+v", st)
	}
	if metrics.count("job/error") != 1 || metrics.count("job/success") != 1 {
		t.Fatalf("unexpected run metrics: %+v", metrics.runs)
	}

	if err := s.RunNow(context.Background(), "missing"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("expected ErrUnknownJob, got %v", err)
	}
}

func TestScheduler_RecoversPanickingJob(t *testing.T) {
	s := newTestScheduler()
	if err := s.Register(Job{ID: "panicky", Schedule: "@hourly", Run: func(context.Context) error {
		panic("nil map")
	}}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	err := s.RunNow(context.Background(), "panicky")
	var perr *async.PanicError
	if !errors.As(err, &perr) || perr.Value != "nil map" {
		t.Fatalf("expected panic to surface as *async.PanicError, got %v", err)
	}
	st := statusOf(t, s, "panicky")
	if st.Running || st.LastError == "" {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestScheduler_SkipsOverlappingRun(t *testing.T) {
	metrics := newCountingMetrics()
	s := newTestScheduler(WithMetrics(metrics))
	started := make(chan struct{})
	release := make(chan struct{})
	if err := s.Register(Job{ID: "slow", Schedule: "@hourly", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.RunNow(context.Background(), "slow") }()
	<-started

	if !statusOf(t, s, "slow").Running {
		t.Fatal("expected job reported as running")
	}
	if err := s.RunNow(context.Background(), "slow"); !errors.Is(err, ErrJobRunning) {
		t.Fatalf("expected ErrJobRunning, got %v", err)
	}
	if metrics.skips("slow") != 1 || statusOf(t, s, "slow").Skipped != 1 {
		t.Fatal("expected one skipped tick")
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
	if st := statusOf(t, s, "slow"); st.Running || st.Runs != 1 {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestScheduler_TicksAndStopLetsRunFinish(t *testing.T) {
	s := New(WithLogger(logging.Nop()), WithLocation(time.UTC))
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	finished := make(chan error, 1)
	if err := s.Register(Job{ID: "tick", Schedule: "@every 1s", Run: func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
			return nil
		}
		<-release
		finished <- ctx.Err()
		return nil
	}}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	s.Start()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		s.Stop()
		t.Fatal("job never ticked")
	}

	s.Stop()
	close(release)
	select {
	case err := <-finished:
		if err != nil {
			t.Fatalf("in-flight run saw cancelled context: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight run did not finish after Stop")
	}
}
