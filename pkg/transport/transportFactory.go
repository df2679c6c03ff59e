package transport

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zoff-tech/payment-relay/pkg/config"
)

// NewTransport builds the transport named by cfg.Type. No connection is
// opened until Connect is called.
func NewTransport(ctx context.Context, cfg *config.TransportSettings, logger *slog.Logger) (Transport, error) {
	switch cfg.Type {
	case "rabbitmq":
		return NewRabbitMqTransport(ctx, cfg, logger)
	case "gcp-pubsub":
		return NewPubSubTransport(ctx, cfg, logger)
	case "kafka":
		return NewKafkaTransport(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", cfg.Type)
	}
}
