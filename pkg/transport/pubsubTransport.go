package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/zoff-tech/payment-relay/pkg/config"
)

// PubSubTransportCreator defines a function type for creating Pub/Sub transports.
type PubSubTransportCreator func(ctx context.Context, settings *config.TransportSettings, logger *slog.Logger, opts ...option.ClientOption) (Transport, error)

// NewPubSubTransport is the default implementation of PubSubTransportCreator.
var NewPubSubTransport PubSubTransportCreator = func(ctx context.Context, settings *config.TransportSettings, logger *slog.Logger, opts ...option.ClientOption) (Transport, error) {
	if settings.ProjectID == "" {
		return nil, errors.New("projectID is required")
	}
	return &pubSubTransport{
		hub:      newHub(logger),
		settings: settings,
		logger:   logger,
		opts:     opts,
	}, nil
}

type pubSubTransport struct {
	hub
	settings    *config.TransportSettings
	logger      *slog.Logger
	opts        []option.ClientOption
	mu          sync.Mutex
	client      *pubsub.Client
	topic       *pubsub.Topic
	stopReceive context.CancelFunc
	received    sync.WaitGroup
}

func (p *pubSubTransport) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.teardownLocked()

	client, err := pubsub.NewClient(ctx, p.settings.ProjectID, p.opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to Pub/Sub: %w", err)
	}
	gen := p.nextSession()
	p.client = client
	p.emit(Signal{Type: SignalAuthenticated})

	topic := client.Topic(p.settings.Topic)
	if ok, err := topic.Exists(ctx); err != nil || !ok {
		p.teardownLocked()
		if err == nil {
			err = fmt.Errorf("topic %s does not exist", p.settings.Topic)
		}
		return err
	}
	p.topic = topic

	sub := client.Subscription(p.settings.Subscription)
	if ok, err := sub.Exists(ctx); err != nil || !ok {
		p.teardownLocked()
		if err == nil {
			err = fmt.Errorf("subscription %s does not exist", p.settings.Subscription)
		}
		return err
	}
	sub.ReceiveSettings.NumGoroutines = 1

	receiveCtx, cancel := context.WithCancel(context.Background())
	p.stopReceive = cancel
	p.received.Add(1)
	go p.receive(receiveCtx, gen, sub)

	p.logger.Info("Pub/Sub session ready", "topic", p.settings.Topic, "subscription", p.settings.Subscription)
	p.emit(Signal{Type: SignalReady})
	return nil
}

func (p *pubSubTransport) receive(ctx context.Context, gen uint64, sub *pubsub.Subscription) {
	defer p.received.Done()
	err := sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		p.deliver(ctx, gen, messageFromPubSub(m))
		m.Ack()
	})
	if err != nil && ctx.Err() == nil {
		p.logger.Warn("Pub/Sub receive stopped", "error", err)
		p.emitFor(gen, Signal{Type: SignalDisconnected, Detail: err.Error()})
	}
}

func messageFromPubSub(m *pubsub.Message) Message {
	msg := Message{
		ID:         m.ID,
		From:       m.Attributes[headerFrom],
		Author:     m.Attributes[headerAuthor],
		Body:       string(m.Data),
		IsSelf:     m.Attributes[headerIsSelf] == "true",
		ReceivedAt: m.PublishTime,
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now()
	}
	return msg
}

func (p *pubSubTransport) Send(ctx context.Context, destination, text string) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "Send",
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("pubsub"),
			semconv.MessagingDestinationKindKey.String("topic"),
			semconv.MessagingDestinationKey.String(p.settings.Topic),
		),
	)
	defer span.End()

	p.mu.Lock()
	topic := p.topic
	p.mu.Unlock()
	if topic == nil {
		span.RecordError(ErrNotConnected)
		return ErrNotConnected
	}

	// Inject the trace context into the message attributes
	attributes := make(map[string]string)
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(attributes))
	attributes[headerTo] = destination
	attributes["message_id"] = uuid.NewString()

	res := topic.Publish(ctx, &pubsub.Message{
		Data:       []byte(text),
		Attributes: attributes,
	})
	if _, err := res.Get(ctx); err != nil { // wait for server ack
		span.RecordError(err)
		return fmt.Errorf("failed to publish: %w", err)
	}

	span.SetAttributes(
		attribute.Int("messaging.message_payload_size_bytes", len(text)),
	)
	return nil
}

// Destinations lists the project's topics as group destinations.
func (p *pubSubTransport) Destinations(ctx context.Context) ([]Destination, error) {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		return nil, ErrNotConnected
	}

	var destinations []Destination
	it := client.Topics(ctx)
	for {
		topic, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list topics: %w", err)
		}
		destinations = append(destinations, Destination{ID: topic.ID(), Name: topic.String(), IsGroup: true})
	}
	return destinations, nil
}

func (p *pubSubTransport) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextSession()
	return p.teardownLocked()
}

func (p *pubSubTransport) teardownLocked() error {
	if p.stopReceive != nil {
		p.stopReceive()
		p.stopReceive = nil
		p.received.Wait()
	}
	if p.topic != nil {
		p.topic.Stop()
		p.topic = nil
	}
	var err error
	if p.client != nil {
		err = p.client.Close()
		p.client = nil
	}
	return err
}
