package processor

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoff-tech/payment-relay/pkg/metrics"
	"github.com/zoff-tech/payment-relay/pkg/queue"
	"github.com/zoff-tech/payment-relay/pkg/session"
	"github.com/zoff-tech/payment-relay/schema"
)

var (
	errNotReady   = errors.New("session not ready")
	errSendFailed = errors.New("send failed")
)

func (p *RelayProcessor) onChangeDetected(ctx context.Context, event schema.ChangeEvent) {
	ctx, span := p.tracer.Start(ctx, "HandleChangeEvent", trace.WithAttributes(
		attribute.String("payment.id", event.ID),
		attribute.Bool("relay.server_running", p.serverRunning),
	))
	defer span.End()

	if !p.serverRunning {
		p.logger.Debug("server paused, skipping payment", "payment_id", event.ID)
		p.metrics.Notifications.WithLabelValues(metrics.ResultSkipped).Inc()
		return
	}

	text, err := p.formatter.Format(event)
	if err != nil {
		p.logger.Error("failed to render notification", "payment_id", event.ID, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.metrics.Notifications.WithLabelValues(metrics.ResultFailed).Inc()
		return
	}

	switch p.session.Send(ctx, p.destination, text) {
	case session.SendSuccess:
		p.logger.Info("payment notification sent", "payment_id", event.ID)
		p.metrics.Notifications.WithLabelValues(metrics.ResultSent).Inc()
	case session.SendQueued:
		if dropped := p.queue.Enqueue(event.ID, text); dropped != nil {
			p.metrics.Notifications.WithLabelValues(metrics.ResultDropped).Inc()
		}
		p.logger.Info("session not ready, payment notification queued",
			"payment_id", event.ID,
			"queue_depth", p.queue.Len(),
		)
		p.metrics.Notifications.WithLabelValues(metrics.ResultQueued).Inc()
		p.metrics.QueueDepth.Set(float64(p.queue.Len()))
	case session.SendFailed:
		span.SetStatus(codes.Error, "send failed")
		p.metrics.Notifications.WithLabelValues(metrics.ResultFailed).Inc()
	}
}

// drainQueue flushes notifications buffered while the session was down. It
// blocks the loop until every entry has been attempted.
func (p *RelayProcessor) drainQueue(ctx context.Context) {
	if p.queue.Len() == 0 {
		return
	}
	ctx, span := p.tracer.Start(ctx, "DrainQueue", trace.WithAttributes(
		attribute.Int("queue.depth", p.queue.Len()),
	))
	defer span.End()

	result := p.queue.Drain(ctx, queue.SenderFunc(func(ctx context.Context, text string) error {
		switch p.session.Send(ctx, p.destination, text) {
		case session.SendSuccess:
			return nil
		case session.SendQueued:
			return errNotReady
		default:
			return errSendFailed
		}
	}))

	span.SetAttributes(
		attribute.Int("queue.sent", result.Sent),
		attribute.Int("queue.failed", result.Failed),
	)
	p.metrics.Notifications.WithLabelValues(metrics.ResultSent).Add(float64(result.Sent))
	p.metrics.Notifications.WithLabelValues(metrics.ResultFailed).Add(float64(result.Failed))
	p.metrics.QueueDepth.Set(float64(p.queue.Len()))
}
