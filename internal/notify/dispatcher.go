package notify

import (
	"context"
	"errors"
	"time"

	"github.com/roomdesk/api/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrQueueFull is returned by Dispatcher.Publish when the buffer is full and
// the event was dropped.
var ErrQueueFull = errors.New("notify: event queue full")

const defaultSinkTimeout = 5 * time.Second

// Sink is a named destination fed by a Dispatcher.
type Sink struct {
	Name      string
	Publisher Publisher
}

// Dispatcher decouples publishers from slow observers: Publish only enqueues,
// and Run fans every queued event out to all sinks concurrently.
type Dispatcher struct {
	sinks       []Sink
	queue       chan Event
	logger      *zap.Logger
	metrics     *metrics.Recorder
	sinkTimeout time.Duration
}

// NewDispatcher creates a Dispatcher buffering up to buffer events.
func NewDispatcher(logger *zap.Logger, rec *metrics.Recorder, buffer int, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	return &Dispatcher{
		sinks:       sinks,
		queue:       make(chan Event, buffer),
		logger:      logger,
		metrics:     rec,
		sinkTimeout: defaultSinkTimeout,
	}
}

// Publish enqueues event without blocking.
func (d *Dispatcher) Publish(ctx context.Context, event Event) error {
	select {
	case d.queue <- event:
		return nil
	default:
		d.logger.Warn("dropping change event, queue full",
			zap.String("kind", event.Kind),
			zap.String("order_id", event.OrderID),
		)
		return ErrQueueFull
	}
}

// Run delivers queued events until ctx is cancelled, then flushes what is
// already queued. Call it in its own goroutine.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case event := <-d.queue:
			d.deliver(ctx, event)
		case <-ctx.Done():
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	ctx := context.Background()
	for {
		select {
		case event := <-d.queue:
			d.deliver(ctx, event)
		default:
			return
		}
	}
}

// deliver sends event to every sink; one failing sink does not stop the others.
func (d *Dispatcher) deliver(ctx context.Context, event Event) {
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	for _, sink := range d.sinks {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(gctx, d.sinkTimeout)
			defer cancel()

			err := sink.Publisher.Publish(sctx, event)
			d.metrics.EventPublished(sctx, sink.Name, err)
			if err != nil {
				d.logger.Warn("publish change event",
					zap.String("sink", sink.Name),
					zap.String("kind", event.Kind),
					zap.String("order_id", event.OrderID),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}
