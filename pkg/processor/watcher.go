package processor

import (
	"context"

	"github.com/zoff-tech/payment-relay/schema"
)

// watch keeps a store subscription open, feeding added payments to the loop.
// A failed subscription is retried after resubscribeDelay, indefinitely.
func (p *RelayProcessor) watch(ctx context.Context) {
	handler := func(event schema.ChangeEvent) {
		select {
		case p.changes <- event:
		case <-ctx.Done():
		}
	}

	for {
		err := p.repo.Subscribe(ctx, handler)
		if ctx.Err() != nil {
			return
		}
		p.logger.Error("payment subscription failed",
			"error", err,
			"retry_in", p.resubscribeDelay.String(),
		)
		if err := p.sleep(ctx, p.resubscribeDelay); err != nil {
			return
		}
		p.metrics.Resubscribes.Inc()
		p.logger.Info("resubscribing to payment changes")
	}
}
