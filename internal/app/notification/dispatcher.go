package notification

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"herald/internal/shared/async"
	herrors "herald/internal/shared/errors"
	"herald/internal/shared/logging"
)

const defaultSendConcurrency = 8

// Metrics receives delivery counters. Implementations must be nil-safe.
type Metrics interface {
	ObserveDelivery(eventType string, delivered bool)
	SetActiveChannels(n int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveDelivery(string, bool) {}
func (nopMetrics) SetActiveChannels(int)        {}

// Dispatcher maintains the set of live channels and fans events out to them.
// A channel whose send fails is dropped after the pass.
type Dispatcher struct {
	mu      sync.RWMutex
	handles map[Handle]struct{}

	sink        Sink
	logger      logging.Logger
	metrics     Metrics
	concurrency int
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithLogger(logger logging.Logger) Option {
	return func(d *Dispatcher) { d.logger = logging.OrNop(logger) }
}

func WithMetrics(metrics Metrics) Option {
	return func(d *Dispatcher) {
		if metrics != nil {
			d.metrics = metrics
		}
	}
}

// WithConcurrency bounds the number of sends in flight during one broadcast.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// NewDispatcher creates a dispatcher that delivers through sink.
func NewDispatcher(sink Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		handles:     make(map[Handle]struct{}),
		sink:        sink,
		logger:      logging.NewComponentLogger("Dispatcher"),
		metrics:     nopMetrics{},
		concurrency: defaultSendConcurrency,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Connect registers a live channel. Connecting twice is a no-op.
func (d *Dispatcher) Connect(handle Handle) {
	d.mu.Lock()
	d.handles[handle] = struct{}{}
	n := len(d.handles)
	d.mu.Unlock()

	d.metrics.SetActiveChannels(n)
	d.logger.Debug("channel %s connected (%d live)", handle, n)
}

// Disconnect removes a channel; unknown handles are ignored.
func (d *Dispatcher) Disconnect(handle Handle) {
	d.mu.Lock()
	_, existed := d.handles[handle]
	delete(d.handles, handle)
	n := len(d.handles)
	d.mu.Unlock()

	if existed {
		d.metrics.SetActiveChannels(n)
		d.logger.Debug("channel %s disconnected (%d live)", handle, n)
	}
}

// Connected returns the live handles in a stable order.
func (d *Dispatcher) Connected() []Handle {
	d.mu.RLock()
	out := make([]Handle, 0, len(d.handles))
	for handle := range d.handles {
		out = append(out, handle)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of live channels.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handles)
}

// Broadcast sends event to every channel live at the start of the call. A
// failure on one channel never prevents delivery to the others.
func (d *Dispatcher) Broadcast(ctx context.Context, event Event) BroadcastResult {
	handles := d.Connected()
	result := BroadcastResult{Attempted: len(handles)}
	if len(handles) == 0 || d.sink == nil {
		return result
	}

	var (
		mu       sync.Mutex
		failures []*herrors.DeliveryError
	)
	group := new(errgroup.Group)
	group.SetLimit(d.concurrency)
	for _, handle := range handles {
		handle := handle
		group.Go(func() error {
			err := d.send(ctx, handle, event)
			d.metrics.ObserveDelivery(string(event.Type), err == nil)
			if err != nil {
				mu.Lock()
				failures = append(failures, &herrors.DeliveryError{Handle: string(handle), Err: err})
				mu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()

	result.Delivered = result.Attempted - len(failures)
	if len(failures) == 0 {
		return result
	}

	sort.Slice(failures, func(i, j int) bool { return failures[i].Handle < failures[j].Handle })
	d.mu.Lock()
	for _, failure := range failures {
		handle := Handle(failure.Handle)
		delete(d.handles, handle)
		result.Failed = append(result.Failed, handle)
		result.Errors = append(result.Errors, failure)
	}
	n := len(d.handles)
	d.mu.Unlock()

	d.metrics.SetActiveChannels(n)
	for _, failure := range failures {
		d.logger.Warn("dropping channel after %s event: %v", event.Type, failure)
	}
	return result
}

func (d *Dispatcher) send(ctx context.Context, handle Handle, event Event) error {
	return async.Call(d.logger, "sink send to "+string(handle), func() error {
		return d.sink.Send(ctx, handle, event)
	})
}
