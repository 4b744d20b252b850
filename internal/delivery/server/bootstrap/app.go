package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"herald/internal/app/notification"
	"herald/internal/app/reminder"
	"herald/internal/app/scheduler"
	serverHTTP "herald/internal/delivery/server/http"
	domain "herald/internal/domain/reminder"
	"herald/internal/infra/activity"
	"herald/internal/infra/observability"
	"herald/internal/shared/config"
	"herald/internal/shared/logging"
)

// App is the fully wired herald process: one reminder service shared by the
// HTTP transport and the periodic scheduler.
type App struct {
	Config     config.Config
	Service    *reminder.Service
	Dispatcher *notification.Dispatcher
	Hub        *serverHTTP.WebSocketHub
	Scheduler  *scheduler.Scheduler
	Activity   *activity.Tracker
	Metrics    *observability.Metrics
	Handler    http.Handler
	Degraded   *DegradedComponents

	closers []func()
	logger  logging.Logger
}

type buildOptions struct {
	registry *prometheus.Registry
	weather  reminder.WeatherProvider
	version  string
	now      func() time.Time
}

// Option customizes Build.
type Option func(*buildOptions)

// WithRegistry collects metrics into reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *buildOptions) { o.registry = reg }
}

// WithWeatherProvider enables weather reminders.
func WithWeatherProvider(provider reminder.WeatherProvider) Option {
	return func(o *buildOptions) { o.weather = provider }
}

func WithVersion(version string) Option {
	return func(o *buildOptions) { o.version = version }
}

func WithClock(now func() time.Time) Option {
	return func(o *buildOptions) { o.now = now }
}

// Build wires every component from cfg. Storage failures abort; a job that
// cannot be registered leaves the scheduler degraded.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	options := buildOptions{version: "dev", now: time.Now}
	for _, opt := range opts {
		opt(&options)
	}
	logger := logging.NewComponentLogger("Bootstrap")
	app := &App{
		Config:   cfg,
		Degraded: NewDegradedComponents(),
		logger:   logger,
	}

	location, err := cfg.Scheduler.Location()
	if err != nil {
		return nil, fmt.Errorf("scheduler timezone: %w", err)
	}

	var (
		repo     domain.Repository
		registry = options.registry
	)
	stages := []Stage{
		{
			Name: "storage", Required: true,
			Init: func() error {
				opened, closeRepo, err := OpenRepository(ctx, cfg.Storage, logger)
				if err != nil {
					return err
				}
				app.closers = append(app.closers, closeRepo)
				if cfg.Storage.EnsureSchema {
					if err := EnsureSchema(ctx, opened); err != nil {
						return err
					}
				}
				repo = opened
				return nil
			},
		},
		{
			Name: "metrics", Required: true,
			Init: func() error {
				if registry == nil {
					registry = prometheus.NewRegistry()
					registry.MustRegister(
						collectors.NewGoCollector(),
						collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
					)
				}
				app.Metrics = observability.MustNewMetrics(registry)
				return nil
			},
		},
	}
	if err := RunStages(stages, app.Degraded, logger); err != nil {
		app.Close()
		return nil, err
	}

	app.Activity = activity.NewTracker(activity.WithClock(options.now))
	app.Hub = serverHTTP.NewWebSocketHub(cfg.Server.WebSocketWriteWait(), cfg.Server.AllowedOrigins, nil)
	app.Dispatcher = notification.NewDispatcher(app.Hub, notification.WithMetrics(app.Metrics))

	serviceOpts := []reminder.Option{
		reminder.WithClock(options.now),
		reminder.WithMetrics(app.Metrics),
		reminder.WithActivitySource(app.Activity),
		reminder.WithLocation(location),
	}
	if options.weather != nil {
		serviceOpts = append(serviceOpts, reminder.WithWeatherProvider(options.weather))
	}
	app.Service = reminder.NewService(repo, app.Dispatcher, reminder.Config{
		Store: reminder.StoreConfig{
			CacheTTL:  cfg.Reminders.CacheTTL(),
			CacheSize: cfg.Reminders.CacheSize,
		},
		Evaluator: reminder.EvaluatorConfig{RetryInterval: cfg.Reminders.RetryInterval()},
		Ledger:    reminder.LedgerConfig{PendingWindow: cfg.Reminders.PendingWindow()},
	}, serviceOpts...)

	app.Scheduler = scheduler.New(
		scheduler.WithMetrics(app.Metrics),
		scheduler.WithClock(options.now),
		scheduler.WithLocation(location),
	)
	schedulerStage := Stage{
		Name: "scheduler", Required: false,
		Init: func() error {
			initiator := scheduler.NewIdleInitiator(app.Activity, scheduler.IdleConfig{
				IdleThreshold: time.Duration(cfg.Scheduler.ConversationIdleHours * float64(time.Hour)),
				QuietHours:    cfg.Scheduler.QuietHours,
				Location:      location,
			})
			jobs := scheduler.ReminderJobs(app.Service, initiator, app.Dispatcher, scheduler.JobsConfig{
				TimeSchedule:         cfg.Scheduler.TimeReminders,
				BehaviorSchedule:     cfg.Scheduler.BehaviorReminders,
				ConditionSchedule:    cfg.Scheduler.ConditionReminders,
				MaintenanceHour:      cfg.Scheduler.MaintenanceHour,
				ConversationSchedule: cfg.Scheduler.ConversationCheck,
				Retention:            cfg.Reminders.Retention(),
				Now:                  options.now,
			}, app.Activity)
			var errs []error
			for _, job := range jobs {
				if err := app.Scheduler.Register(job); err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		},
	}
	if err := RunStages([]Stage{schedulerStage}, app.Degraded, logger); err != nil {
		app.Close()
		return nil, err
	}

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		metricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
	}
	app.Handler = serverHTTP.NewRouter(serverHTTP.RouterDeps{
		Reminders:      app.Service,
		Scheduler:      app.Scheduler,
		Activity:       app.Activity,
		Hub:            app.Hub,
		Channels:       app.Dispatcher,
		Metrics:        app.Metrics,
		MetricsHandler: metricsHandler,
	}, serverHTTP.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimit: serverHTTP.RateLimitConfig{
			RequestsPerSecond: cfg.Server.RateLimitRPS,
			Burst:             cfg.Server.RateLimitBurst,
		},
		DefaultOwner: cfg.Reminders.DefaultOwner,
		PendingLimit: cfg.Reminders.PendingLimit,
		MetricsPath:  cfg.Metrics.Path,
		Version:      options.version,
		Debug:        logging.ParseLevel(cfg.Logging.Level) == slog.LevelDebug,
	})

	if !app.Degraded.IsEmpty() {
		logger.Warn("[Bootstrap] Starting in degraded mode: %v", app.Degraded.Map())
	}
	return app, nil
}

// Run listens on the configured address and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Config.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.Config.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the scheduler and the HTTP server on ln until ctx is cancelled,
// then shuts both down gracefully.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           a.Handler,
		ReadHeaderTimeout: a.Config.Server.ReadHeaderTimeout(),
		IdleTimeout:       120 * time.Second,
	}

	if a.Config.Scheduler.Enabled {
		a.Scheduler.Start()
	}
	defer a.Scheduler.Stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		a.logger.Info("Server listening on %s", ln.Addr())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		a.logger.Info("Shutting down server...")
		timeout := a.Config.Server.ShutdownTimeout()
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		a.Hub.Close()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}
	a.logger.Info("Server stopped")
	return nil
}

// Close releases storage handles. It is safe to call more than once.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
