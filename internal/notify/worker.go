package notify

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recorder is the storage surface the worker writes through.
type Recorder interface {
	Insert(ctx context.Context, e Event) error
}

type queued struct {
	event Event
	due   time.Time
}

// Worker persists events asynchronously. Events arrive on a bounded
// in-process channel and are written after a short delay, so a slow or
// failing database never stalls the delivery path. Write failures are
// logged and counted, never retried and never surfaced to the sender.
type Worker struct {
	recorder Recorder
	delay    time.Duration
	events   chan queued
	stopped  chan struct{}

	persistedCounter metric.Int64Counter
	errorCounter     metric.Int64Counter
	droppedCounter   metric.Int64Counter
}

// NewWorker builds a worker with the given queue capacity and write delay.
func NewWorker(recorder Recorder, queueSize int, delay time.Duration) *Worker {
	meter := otel.Meter("notify-worker")
	persisted, _ := meter.Int64Counter("notify_persisted_total",
		metric.WithDescription("Total notification events persisted"))
	errs, _ := meter.Int64Counter("notify_persist_errors_total",
		metric.WithDescription("Total notification persistence failures"))
	dropped, _ := meter.Int64Counter("notify_dropped_total",
		metric.WithDescription("Total notification events dropped due to a full queue"))

	return &Worker{
		recorder:         recorder,
		delay:            delay,
		events:           make(chan queued, queueSize),
		stopped:          make(chan struct{}),
		persistedCounter: persisted,
		errorCounter:     errs,
		droppedCounter:   dropped,
	}
}

// Enqueue schedules an event for persistence. It never blocks: when the
// queue is full the event is dropped and counted.
func (w *Worker) Enqueue(e Event) bool {
	select {
	case w.events <- queued{event: e, due: time.Now().Add(w.delay)}:
		return true
	default:
		w.droppedCounter.Add(context.Background(), 1)
		slog.Warn("Notify queue full, dropping event", "notifyId", e.NotifyID, "receiver", e.ReceiverID)
		return false
	}
}

// Start runs the worker until ctx is cancelled. Cancellation drains events
// already queued (without their remaining delay) before the worker stops.
func (w *Worker) Start(ctx context.Context) {
	go func() {
		defer close(w.stopped)
		for {
			select {
			case <-ctx.Done():
				w.drain()
				return
			case q := <-w.events:
				select {
				case <-time.After(time.Until(q.due)):
				case <-ctx.Done():
				}
				w.write(q.event)
			}
		}
	}()
}

// Wait blocks until the worker has stopped and drained.
func (w *Worker) Wait() {
	<-w.stopped
}

func (w *Worker) drain() {
	for {
		select {
		case q := <-w.events:
			w.write(q.event)
		default:
			return
		}
	}
}

func (w *Worker) write(e Event) {
	// Shutdown must not cancel in-flight writes, hence the fresh context.
	ctx := context.Background()
	if err := w.recorder.Insert(ctx, e); err != nil {
		w.errorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("receiver", e.ReceiverID),
		))
		slog.Error("Failed to persist notify event", "error", err, "notifyId", e.NotifyID)
		return
	}
	w.persistedCounter.Add(ctx, 1)
	slog.Debug("Persisted notify event", "notifyId", e.NotifyID, "receiver", e.ReceiverID)
}
