package reminder

import (
	"context"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"herald/internal/app/notification"
	"herald/internal/shared/logging"
)

// ActivitySource reports the last observed activity of an owner. ok is false
// when nothing is known about the owner.
type ActivitySource interface {
	LastActivity(ctx context.Context, ownerID string) (at time.Time, ok bool)
}

// WeatherProvider reports the current weather condition at a location.
type WeatherProvider interface {
	Current(ctx context.Context, location string) (string, error)
}

// Broadcaster pushes an event to every live channel.
type Broadcaster interface {
	Broadcast(ctx context.Context, event notification.Event) notification.BroadcastResult
}

// Metrics receives reminder lifecycle counters.
type Metrics interface {
	ObserveNotification(tier string)
	ObserveConfirmation(outcome string)
	ObserveCache(hit bool)
	ObserveEvaluation(reminderType string, took time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) ObserveNotification(string)              {}
func (nopMetrics) ObserveConfirmation(string)              {}
func (nopMetrics) ObserveCache(bool)                       {}
func (nopMetrics) ObserveEvaluation(string, time.Duration) {}

// Option configures the components of this package.
type Option func(*options)

type options struct {
	now        func() time.Time
	logger     logging.Logger
	metrics    Metrics
	activity   ActivitySource
	weather    WeatherProvider
	newBackoff func() backoff.BackOff
	location   *time.Location
}

func resolveOptions(component string, opts []Option) options {
	o := options{
		now:     time.Now,
		logger:  logging.NewComponentLogger(component),
		metrics: nopMetrics{},
		newBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 50 * time.Millisecond
			b.MaxElapsedTime = 2 * time.Second
			return b
		},
		location: time.Local,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func WithLogger(logger logging.Logger) Option {
	return func(o *options) {
		if !logging.IsNil(logger) {
			o.logger = logger
		}
	}
}

func WithMetrics(metrics Metrics) Option {
	return func(o *options) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

func WithActivitySource(source ActivitySource) Option {
	return func(o *options) { o.activity = source }
}

func WithWeatherProvider(provider WeatherProvider) Option {
	return func(o *options) { o.weather = provider }
}

// WithReadBackoff replaces the backoff policy used for read retries.
func WithReadBackoff(factory func() backoff.BackOff) Option {
	return func(o *options) {
		if factory != nil {
			o.newBackoff = factory
		}
	}
}

// WithLocation sets the zone used for habit time-of-day evaluation.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.location = loc
		}
	}
}
