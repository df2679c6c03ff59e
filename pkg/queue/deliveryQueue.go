// Package queue buffers notifications produced while the transport session
// is not ready.
package queue

import (
	"context"
	"log/slog"
	"time"
)

// QueuedNotification is a rendered notification waiting for delivery.
type QueuedNotification struct {
	EventID    string
	Text       string
	EnqueuedAt time.Time
}

// Sender delivers a single queued notification.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, text string) error

func (f SenderFunc) Send(ctx context.Context, text string) error { return f(ctx, text) }

// DrainResult summarises one drain pass.
type DrainResult struct {
	Sent   int
	Failed int
}

// DeliveryQueue is an in-memory FIFO. It is not safe for concurrent use;
// the relay processor owns it and only touches it from its event loop.
type DeliveryQueue struct {
	items   []QueuedNotification
	maxSize int
	delay   time.Duration
	sleep   func(context.Context, time.Duration) error
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a DeliveryQueue.
type Option func(*DeliveryQueue)

// WithMaxSize bounds the queue. When full, Enqueue drops the oldest entry.
// Zero means unbounded.
func WithMaxSize(n int) Option {
	return func(q *DeliveryQueue) { q.maxSize = n }
}

// WithSleepFunc overrides the pause between drained messages.
func WithSleepFunc(fn func(context.Context, time.Duration) error) Option {
	return func(q *DeliveryQueue) { q.sleep = fn }
}

// WithClock overrides the enqueue timestamp source.
func WithClock(now func() time.Time) Option {
	return func(q *DeliveryQueue) { q.now = now }
}

// New creates a queue that waits delay between messages while draining.
func New(delay time.Duration, logger *slog.Logger, opts ...Option) *DeliveryQueue {
	q := &DeliveryQueue{
		delay:  delay,
		sleep:  Sleep,
		now:    time.Now,
		logger: logger.With("component", "delivery_queue"),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends a notification. It returns the entry evicted to make room,
// if any.
func (q *DeliveryQueue) Enqueue(eventID, text string) (dropped *QueuedNotification) {
	if q.maxSize > 0 && len(q.items) >= q.maxSize {
		oldest := q.items[0]
		q.items = q.items[1:]
		dropped = &oldest
		q.logger.Warn("queue full, dropping oldest notification",
			"event_id", oldest.EventID,
			"max_size", q.maxSize,
		)
	}
	q.items = append(q.items, QueuedNotification{
		EventID:    eventID,
		Text:       text,
		EnqueuedAt: q.now(),
	})
	return dropped
}

// Len returns the number of queued notifications.
func (q *DeliveryQueue) Len() int {
	return len(q.items)
}

// Items returns a copy of the queued notifications, oldest first.
func (q *DeliveryQueue) Items() []QueuedNotification {
	out := make([]QueuedNotification, len(q.items))
	copy(out, q.items)
	return out
}

// Drain sends every queued notification oldest first, pausing between
// messages. Failed sends are logged and not retried. The queue is cleared
// once the pass completes, whatever the outcome.
func (q *DeliveryQueue) Drain(ctx context.Context, sender Sender) DrainResult {
	items := q.items
	q.items = nil

	var result DrainResult
	if len(items) == 0 {
		return result
	}

	q.logger.Info("draining queued notifications", "count", len(items))
	for i, item := range items {
		if i > 0 {
			if err := q.sleep(ctx, q.delay); err != nil {
				q.logger.Warn("drain interrupted, discarding remaining notifications",
					"remaining", len(items)-i,
					"error", err,
				)
				result.Failed += len(items) - i
				break
			}
		}
		if err := sender.Send(ctx, item.Text); err != nil {
			result.Failed++
			q.logger.Error("failed to deliver queued notification",
				"event_id", item.EventID,
				"queued_for", q.now().Sub(item.EnqueuedAt).String(),
				"error", err,
			)
			continue
		}
		result.Sent++
	}

	q.logger.Info("queue drained", "sent", result.Sent, "failed", result.Failed)
	return result
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
