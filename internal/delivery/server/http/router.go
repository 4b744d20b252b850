package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"herald/internal/app/reminder"
	"herald/internal/app/scheduler"
	domain "herald/internal/domain/reminder"
	"herald/internal/shared/logging"
)

// ReminderService is the reminder API the handlers call.
type ReminderService interface {
	Create(ctx context.Context, params reminder.CreateParams) (*domain.Reminder, error)
	Get(ctx context.Context, id int64) (*domain.Reminder, error)
	List(ctx context.Context, query domain.ListQuery) ([]domain.Reminder, error)
	Update(ctx context.Context, id int64, patch domain.Patch) (*domain.Reminder, error)
	Delete(ctx context.Context, id int64) (bool, error)
	Notify(ctx context.Context, id int64) (reminder.Notification, bool)
	Confirm(ctx context.Context, id int64) bool
	Pending(ctx context.Context, ownerID string, limit int) []domain.Reminder
	History(ctx context.Context, ownerID string, limit int) []domain.HistoryEntry
}

// SchedulerControl is the operator surface of the periodic scheduler.
type SchedulerControl interface {
	Start()
	Stop()
	Running() bool
	Status() []scheduler.JobStatus
	JobIDs() []string
	RunNow(ctx context.Context, jobID string) error
}

// ActivityRecorder is touched for every API call with the resolved owner.
type ActivityRecorder interface {
	Touch(ownerID string)
}

// Channels is the live channel registry that the websocket hub feeds.
type Channels interface {
	ChannelRegistry
	Len() int
}

// RouterConfig carries transport settings.
type RouterConfig struct {
	AllowedOrigins []string
	RateLimit      RateLimitConfig
	DefaultOwner   string
	PendingLimit   int
	MetricsPath    string
	Version        string
	Debug          bool
}

// RouterDeps are the collaborators wired by bootstrap.
type RouterDeps struct {
	Reminders      ReminderService
	Scheduler      SchedulerControl
	Activity       ActivityRecorder
	Hub            *WebSocketHub
	Channels       Channels
	Metrics        HTTPMetrics
	MetricsHandler http.Handler
	Logger         logging.Logger
}

type handler struct {
	reminders ReminderService
	scheduler SchedulerControl
	channels  Channels
	logger    logging.Logger
	version   string
	startedAt time.Time

	pendingLimit int
}

// NewRouter builds the gin engine with every API route.
func NewRouter(deps RouterDeps, cfg RouterConfig) *gin.Engine {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	logger := deps.Logger
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("HTTPServer")
	}
	if cfg.DefaultOwner == "" {
		cfg.DefaultOwner = "default"
	}
	if cfg.PendingLimit <= 0 {
		cfg.PendingLimit = defaultPendingLimit
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(logger, deps.Metrics))
	engine.Use(cors.New(corsConfig(cfg.AllowedOrigins)))

	h := &handler{
		reminders: deps.Reminders,
		scheduler: deps.Scheduler,
		channels:  deps.Channels,
		logger:    logger,
		version:   cfg.Version,
		startedAt: time.Now(),

		pendingLimit: cfg.PendingLimit,
	}

	api := engine.Group("/api")
	api.Use(ownerMiddleware(cfg.DefaultOwner, deps.Activity))
	api.Use(rateLimitMiddleware(cfg.RateLimit))

	api.GET("/health", h.health)

	reminders := api.Group("/reminders")
	{
		reminders.POST("", h.createReminder)
		reminders.GET("", h.listReminders)
		reminders.GET("/pending", h.pendingReminders)
		reminders.GET("/history", h.confirmationHistory)
		reminders.GET("/:id", h.getReminder)
		reminders.PATCH("/:id", h.updateReminder)
		reminders.DELETE("/:id", h.deleteReminder)
		reminders.POST("/:id/confirm", h.confirmReminder)
		reminders.POST("/:id/notify", h.notifyReminder)
	}

	api.POST("/messages", h.postMessage)

	if deps.Scheduler != nil {
		sched := api.Group("/scheduler")
		{
			sched.GET("/status", h.schedulerStatus)
			sched.POST("/start", h.startScheduler)
			sched.POST("/stop", h.stopScheduler)
			sched.POST("/jobs/:id/run", h.runJob)
		}
	}

	if deps.Hub != nil && deps.Channels != nil {
		api.GET("/ws", deps.Hub.Handler(deps.Channels))
	}

	if deps.MetricsHandler != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		engine.GET(path, gin.WrapH(deps.MetricsHandler))
	}

	engine.NoRoute(func(c *gin.Context) {
		respondError(c, http.StatusNotFound, "route not found")
	})
	return engine
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", ownerHeader}
	cfg.AllowWebSockets = true
	allowAll := len(origins) == 0
	for _, origin := range origins {
		if origin == "*" {
			allowAll = true
		}
	}
	if allowAll {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}
