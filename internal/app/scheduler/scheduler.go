package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"herald/internal/shared/async"
	"herald/internal/shared/logging"
	"herald/internal/shared/utils/id"
)

var (
	// ErrUnknownJob is returned by RunNow for an unregistered job id.
	ErrUnknownJob = errors.New("scheduler: unknown job")
	// ErrJobRunning is returned when a run is skipped because the previous
	// invocation of the same job has not finished.
	ErrJobRunning = errors.New("scheduler: job already running")
)

const tracerName = "herald/scheduler"

// Job is a named unit of periodic work.
type Job struct {
	ID       string
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// JobStatus is a point-in-time view of a registered job.
type JobStatus struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule"`
	NextRun   time.Time `json:"next_run"`
	Running   bool      `json:"running"`
	LastRun   time.Time `json:"last_run"`
	LastError string    `json:"last_error,omitempty"`
	Runs      int64     `json:"runs"`
	Skipped   int64     `json:"skipped"`
}

// Metrics receives job execution counters.
type Metrics interface {
	ObserveJobRun(jobID, status string, took time.Duration)
	ObserveJobSkipped(jobID string)
}

type nopMetrics struct{}

func (nopMetrics) ObserveJobRun(string, string, time.Duration) {}
func (nopMetrics) ObserveJobSkipped(string)                    {}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger overrides the component logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Scheduler) {
		if !logging.IsNil(logger) {
			s.logger = logger
		}
	}
}

// WithMetrics installs job counters.
func WithMetrics(metrics Metrics) Option {
	return func(s *Scheduler) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

// WithClock injects the time source stamped on LastRun. Next runs always
// follow the cron entries, which tick on the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocation sets the zone cron expressions are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithTracer overrides the global OpenTelemetry tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Scheduler) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithBaseContext sets the parent context of scheduled runs. Cancelling it
// cancels in-flight runs; Stop never does.
func WithBaseContext(ctx context.Context) Option {
	return func(s *Scheduler) {
		if ctx != nil {
			s.baseCtx = ctx
		}
	}
}

type jobState struct {
	job      Job
	schedule cron.Schedule
	entryID  cron.EntryID
	active   atomic.Bool

	mu      sync.Mutex
	lastRun time.Time
	lastErr error
	runs    int64
	skipped int64
}

// Scheduler runs registered jobs on cron schedules. Each job id runs at most
// once at a time; a tick that finds the previous run still active is skipped.
type Scheduler struct {
	mu       sync.Mutex
	cron     *cron.Cron
	parser   cron.Parser
	jobs     map[string]*jobState
	order    []string
	started  bool
	baseCtx  context.Context
	location *time.Location
	now      func() time.Time
	logger   logging.Logger
	metrics  Metrics
	tracer   trace.Tracer
}

// New creates a stopped scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		jobs:     make(map[string]*jobState),
		baseCtx:  context.Background(),
		location: time.Local,
		now:      time.Now,
		logger:   logging.NewComponentLogger("Scheduler"),
		metrics:  nopMetrics{},
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Register adds a job. It may be called while the scheduler is running.
func (s *Scheduler) Register(job Job) error {
	if job.ID == "" {
		return fmt.Errorf("scheduler: job id is required")
	}
	if job.Run == nil {
		return fmt.Errorf("scheduler: job %q has no run function", job.ID)
	}
	schedule, err := s.parser.Parse(job.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: job %q: invalid schedule %q: %w", job.ID, job.Schedule, err)
	}
	if job.Name == "" {
		job.Name = job.ID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("scheduler: job %q already registered", job.ID)
	}
	st := &jobState{job: job, schedule: schedule}
	s.jobs[job.ID] = st
	s.order = append(s.order, job.ID)
	if s.started {
		s.addEntry(st)
	}
	s.logger.Info("Scheduler: registered job %q (schedule=%s)", job.ID, job.Schedule)
	return nil
}

// Start begins ticking every registered job. Starting a running scheduler is
// a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.cron = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.location),
		cron.WithLogger(logging.CronLogger(s.logger)),
		cron.WithChain(cron.Recover(logging.CronLogger(s.logger))),
	)
	for _, jobID := range s.order {
		s.addEntry(s.jobs[jobID])
	}
	s.cron.Start()
	s.started = true
	s.logger.Info("Scheduler: started with %d job(s)", len(s.order))
}

// Stop halts new ticks. Runs already in progress finish on their own.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.cron.Stop()
	s.cron = nil
	s.started = false
	for _, st := range s.jobs {
		st.entryID = 0
	}
	s.logger.Info("Scheduler: stopped")
}

// Running reports whether ticks are active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Status lists registered jobs in registration order. NextRun is the
// instant the running cron entry will fire; it is zero while stopped.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	states := make([]*jobState, 0, len(s.order))
	for _, jobID := range s.order {
		states = append(states, s.jobs[jobID])
	}
	next := make(map[string]time.Time, len(states))
	if s.started {
		for _, st := range states {
			at := s.cron.Entry(st.entryID).Next
			if at.IsZero() {
				at = st.schedule.Next(s.now().In(s.location))
			}
			next[st.job.ID] = at
		}
	}
	s.mu.Unlock()

	out := make([]JobStatus, 0, len(states))
	for _, st := range states {
		status := JobStatus{
			ID:       st.job.ID,
			Name:     st.job.Name,
			Schedule: st.job.Schedule,
			NextRun:  next[st.job.ID],
			Running:  st.active.Load(),
		}
		st.mu.Lock()
		status.LastRun = st.lastRun
		if st.lastErr != nil {
			status.LastError = st.lastErr.Error()
		}
		status.Runs = st.runs
		status.Skipped = st.skipped
		st.mu.Unlock()
		out = append(out, status)
	}
	return out
}

// JobIDs returns the registered ids sorted alphabetically.
func (s *Scheduler) JobIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := append([]string(nil), s.order...)
	sort.Strings(ids)
	return ids
}

// RunNow executes a job immediately through the same reentrancy guard as
// scheduled ticks and returns the job's error.
func (s *Scheduler) RunNow(ctx context.Context, jobID string) error {
	s.mu.Lock()
	st, ok := s.jobs[jobID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	return s.run(ctx, st, "manual")
}

// addEntry must be called with s.mu held and s.cron set.
func (s *Scheduler) addEntry(st *jobState) {
	st.entryID = s.cron.Schedule(st.schedule, cron.FuncJob(func() {
		_ = s.run(s.baseCtx, st, "tick")
	}))
}

func (s *Scheduler) run(ctx context.Context, st *jobState, trigger string) error {
	jobID := st.job.ID
	if !st.active.CompareAndSwap(false, true) {
		st.mu.Lock()
		st.skipped++
		st.mu.Unlock()
		s.metrics.ObserveJobSkipped(jobID)
		s.logger.Warn("Scheduler: job %q still running, skipping %s", jobID, trigger)
		return ErrJobRunning
	}
	defer st.active.Store(false)

	runID := id.NewRunID()
	ctx, span := s.tracer.Start(ctx, "scheduler.job."+jobID, trace.WithAttributes(
		attribute.String("job.id", jobID),
		attribute.String("job.trigger", trigger),
		attribute.String("job.run_id", runID),
	))
	defer span.End()

	startedAt := s.now()
	began := time.Now()
	err := s.invoke(ctx, st)
	took := time.Since(began)

	st.mu.Lock()
	st.lastRun = startedAt
	st.lastErr = err
	st.runs++
	st.mu.Unlock()

	status := "success"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("Scheduler: job %q run %s failed after %s: %v", jobID, runID, took, err)
	} else {
		s.logger.Debug("Scheduler: job %q run %s finished in %s", jobID, runID, took)
	}
	s.metrics.ObserveJobRun(jobID, status, took)
	return err
}

func (s *Scheduler) invoke(ctx context.Context, st *jobState) error {
	return async.Call(s.logger, "Scheduler: job "+st.job.ID, func() error {
		return st.job.Run(ctx)
	})
}
