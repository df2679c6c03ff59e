package processor

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoff-tech/payment-relay/pkg/command"
	"github.com/zoff-tech/payment-relay/pkg/session"
	"github.com/zoff-tech/payment-relay/pkg/store"
	"github.com/zoff-tech/payment-relay/pkg/transport"
	"github.com/zoff-tech/payment-relay/schema"
)

func (p *RelayProcessor) onInboundMessage(ctx context.Context, msg transport.Message) {
	if p.destination == "" || msg.From != p.destination {
		p.logger.Debug("ignoring message from foreign origin", "from", msg.From)
		return
	}

	cmd := command.Parse(msg.Body)
	if cmd.Kind == command.NoMatch {
		return
	}

	ctx, span := p.tracer.Start(ctx, "HandleCommand", trace.WithAttributes(
		attribute.String("command.kind", cmd.Kind.String()),
		attribute.String("payment.id", cmd.ID),
		attribute.Bool("message.is_self", msg.IsSelf),
	))
	defer span.End()

	p.logger.Info("command received", "command", cmd.Kind.String(), "payment_id", cmd.ID, "author", actor(msg))
	p.metrics.Commands.WithLabelValues(cmd.Kind.String()).Inc()

	reply := p.dispatch(ctx, cmd, msg)
	if reply == "" {
		return
	}
	if result := p.session.Send(ctx, p.destination, reply); result != session.SendSuccess {
		span.SetStatus(codes.Error, "reply not delivered")
		p.logger.Warn("reply not delivered", "command", cmd.Kind.String(), "result", result.String())
	}
}

func (p *RelayProcessor) dispatch(ctx context.Context, cmd command.Command, msg transport.Message) string {
	switch cmd.Kind {
	case command.StatusCheck:
		return p.handleStatusCheck(ctx, cmd.ID)
	case command.Approve:
		return p.handleReview(ctx, cmd.ID, schema.StatusApproved, actor(msg))
	case command.Reject:
		return p.handleReview(ctx, cmd.ID, schema.StatusRejected, actor(msg))
	case command.StartServer:
		return p.handleStart()
	case command.QueryStatus:
		return serverStatusReply(p.status())
	case command.Help:
		return helpReply
	case command.Ping:
		return pongReply
	}
	return ""
}

// actor names who issued a command: the group member when known, else the
// chat itself.
func actor(msg transport.Message) string {
	if msg.Author != "" {
		return msg.Author
	}
	return msg.From
}

func (p *RelayProcessor) handleStatusCheck(ctx context.Context, id string) string {
	record, err := p.repo.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return notFoundReply(id)
	}
	if err != nil {
		p.storeFailed(ctx, "check the status of", id, err)
		return apologyReply("check the status of", id)
	}
	return statusReport(p.formatter, record)
}

func (p *RelayProcessor) handleReview(ctx context.Context, id string, target schema.Status, by string) string {
	verb := "approve"
	if target == schema.StatusRejected {
		verb = "reject"
	}

	record, err := p.repo.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return notFoundReply(id)
	}
	if err != nil {
		p.storeFailed(ctx, verb, id, err)
		return apologyReply(verb, id)
	}

	current := record.EffectiveStatus()
	if current == target {
		return alreadyReply(id, target)
	}
	if current != schema.StatusPending {
		p.logger.Warn("refusing review of finalised payment", "payment_id", id, "status", current, "requested", target)
		return refusalReply(id, current, target)
	}

	now := p.now()
	if err := p.repo.Update(ctx, id, schema.NewReviewUpdate(target, now)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFoundReply(id)
		}
		p.storeFailed(ctx, verb, id, err)
		return apologyReply(verb, id)
	}

	p.logger.Info("payment reviewed", "payment_id", id, "status", target, "by", by)
	return confirmationReply(p.formatter, record, target, by, now)
}

func (p *RelayProcessor) handleStart() string {
	if p.serverRunning {
		return alreadyRunningReply
	}
	p.serverRunning = true
	p.logger.Info("server started by command")
	return startedReply
}

func (p *RelayProcessor) storeFailed(ctx context.Context, operation, id string, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	p.logger.Error("store operation failed", "operation", operation, "payment_id", id, "error", err)
}
