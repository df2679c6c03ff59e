package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoff-tech/payment-relay/pkg/config"
)

const (
	appID        = "payment-relay"
	headerTo     = "to"
	headerFrom   = "from"
	headerAuthor = "author"
	headerIsSelf = "is_self"
)

type RabbitMQTransportCreator func(ctx context.Context, settings *config.TransportSettings, logger *slog.Logger) (Transport, error)

var NewRabbitMqTransport RabbitMQTransportCreator = func(ctx context.Context, settings *config.TransportSettings, logger *slog.Logger) (Transport, error) {
	if settings.PoolSize <= 0 {
		return nil, errors.New("poolSize must be greater than 0")
	}
	return &rabbitMqTransport{
		hub:      newHub(logger),
		settings: settings,
		logger:   logger,
	}, nil
}

type rabbitMqTransport struct {
	hub
	settings    *config.TransportSettings
	logger      *slog.Logger
	mu          sync.Mutex
	connection  amqpConnection
	consumer    amqpChannel
	channelPool chan *pooledChannel
	stopConsume context.CancelFunc
}

func (r *rabbitMqTransport) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.teardownLocked()

	connection, err := newConnection(r.settings)
	if err != nil {
		return err
	}
	gen := r.nextSession()
	r.connection = connection
	r.emit(Signal{Type: SignalAuthenticated})

	go r.watchConnection(gen, connection.NotifyClose(make(chan *amqp.Error, 1)))

	if err := r.initializeLocked(gen); err != nil {
		r.teardownLocked()
		return err
	}

	r.logger.Info("RabbitMQ session ready", "exchange", r.settings.Exchange, "queue", r.settings.InboundQueue)
	r.emit(Signal{Type: SignalReady})
	return nil
}

// initializeLocked declares the topology, starts the inbound consumer and
// fills the publishing channel pool.
func (r *rabbitMqTransport) initializeLocked(gen uint64) error {
	channel, err := r.connection.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	r.consumer = channel

	// ExchangeDeclare is idempotent and has no effect if the exchange is already in place
	if err := channel.ExchangeDeclare(r.settings.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	queue, err := channel.QueueDeclare(r.settings.InboundQueue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := channel.QueueBind(queue.Name, r.settings.InboundRoutingKey, r.settings.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	deliveries, err := channel.Consume(queue.Name, appID, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume: %w", err)
	}

	consumeCtx, cancel := context.WithCancel(context.Background())
	r.stopConsume = cancel
	go r.consume(consumeCtx, gen, deliveries)

	return r.initPoolLocked()
}

func (r *rabbitMqTransport) watchConnection(gen uint64, notifyClose chan *amqp.Error) {
	// A graceful Close closes the channel without sending.
	err, ok := <-notifyClose
	if !ok || err == nil {
		return
	}
	r.logger.Warn("RabbitMQ connection closed", "error", err)
	r.emitFor(gen, Signal{Type: SignalDisconnected, Detail: err.Error()})
}

func (r *rabbitMqTransport) consume(ctx context.Context, gen uint64, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			r.deliver(ctx, gen, messageFromDelivery(d))
		}
	}
}

func messageFromDelivery(d amqp.Delivery) Message {
	msg := Message{
		ID:         d.MessageId,
		From:       headerString(d.Headers, headerFrom),
		Author:     headerString(d.Headers, headerAuthor),
		Body:       string(d.Body),
		IsSelf:     d.AppId == appID,
		ReceivedAt: d.Timestamp,
	}
	if v, ok := d.Headers[headerIsSelf].(bool); ok {
		msg.IsSelf = v
	}
	if msg.From == "" {
		msg.From = d.ReplyTo
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now()
	}
	return msg
}

func headerString(headers amqp.Table, key string) string {
	switch v := headers[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	}
	return ""
}

func (r *rabbitMqTransport) Send(ctx context.Context, destination, text string) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "Send",
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("rabbitmq"),
			semconv.MessagingDestinationKindKey.String("topic"),
			semconv.MessagingDestinationKey.String(r.settings.Exchange),
			semconv.MessagingRabbitmqRoutingKeyKey.String(destination),
		),
	)
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.connection == nil || r.connection.IsClosed() {
		span.RecordError(ErrNotConnected)
		return ErrNotConnected
	}

	// Inject the trace context into the message headers
	traceHeaders := make(map[string]string)
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(traceHeaders))

	headers := amqp.Table{headerTo: destination}
	for k, v := range traceHeaders {
		headers[k] = v
	}

	pooledChan, err := r.getChannel()
	if err != nil {
		span.RecordError(err)
		return err
	}
	defer r.releaseChannel(pooledChan)

	err = pooledChan.channel.Publish(
		r.settings.Exchange, destination, false, false,
		amqp.Publishing{
			ContentType: "text/plain",
			Body:        []byte(text),
			Headers:     headers,
			MessageId:   uuid.NewString(),
			AppId:       appID,
			Timestamp:   time.Now(),
		},
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to publish: %w", err)
	}

	span.SetAttributes(
		attribute.Int("messaging.message_payload_size_bytes", len(text)),
	)
	return nil
}

func (r *rabbitMqTransport) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Invalidate the session so watchers stay quiet during shutdown.
	r.nextSession()
	return r.teardownLocked()
}

func (r *rabbitMqTransport) teardownLocked() error {
	if r.stopConsume != nil {
		r.stopConsume()
		r.stopConsume = nil
	}
	if r.channelPool != nil {
		close(r.channelPool)
		for pooledChan := range r.channelPool {
			pooledChan.channel.Close()
		}
		r.channelPool = nil
	}
	if r.consumer != nil {
		r.consumer.Close()
		r.consumer = nil
	}
	var err error
	if r.connection != nil {
		if !r.connection.IsClosed() {
			err = r.connection.Close()
		}
		r.connection = nil
	}
	return err
}
