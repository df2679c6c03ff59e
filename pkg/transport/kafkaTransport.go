package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoff-tech/payment-relay/pkg/config"
)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var kafkaDialer = &kafka.Dialer{
	Timeout:   10 * time.Second,
	DualStack: false,
}

// probeKafka checks that at least one broker accepts connections.
var probeKafka = func(ctx context.Context, brokers []string) error {
	var errs []error
	for _, broker := range brokers {
		conn, err := kafkaDialer.DialContext(ctx, "tcp", broker)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		return conn.Close()
	}
	return errors.Join(errs...)
}

var newKafkaWriter = func(settings *config.TransportSettings) kafkaWriter {
	return &kafka.Writer{
		Addr:         kafka.TCP(settings.Brokers...),
		Topic:        settings.Topic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  5,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
	}
}

var newKafkaReader = func(settings *config.TransportSettings) kafkaReader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     settings.Brokers,
		Topic:       settings.InboundTopic,
		GroupID:     settings.GroupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     1 * time.Second,
		Dialer:      kafkaDialer,
		StartOffset: kafka.LastOffset,
	})
}

type KafkaTransportCreator func(ctx context.Context, settings *config.TransportSettings, logger *slog.Logger) (Transport, error)

var NewKafkaTransport KafkaTransportCreator = func(ctx context.Context, settings *config.TransportSettings, logger *slog.Logger) (Transport, error) {
	if len(settings.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	return &kafkaTransport{
		hub:      newHub(logger),
		settings: settings,
		logger:   logger,
	}, nil
}

type kafkaTransport struct {
	hub
	settings *config.TransportSettings
	logger   *slog.Logger
	mu       sync.Mutex
	writer   kafkaWriter
	reader   kafkaReader
	stopRead context.CancelFunc
	reading  sync.WaitGroup
}

func (k *kafkaTransport) Connect(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.teardownLocked()

	if err := probeKafka(ctx, k.settings.Brokers); err != nil {
		return fmt.Errorf("failed to connect to Kafka: %w", err)
	}
	gen := k.nextSession()
	k.emit(Signal{Type: SignalAuthenticated})

	k.writer = newKafkaWriter(k.settings)
	k.reader = newKafkaReader(k.settings)

	readCtx, cancel := context.WithCancel(context.Background())
	k.stopRead = cancel
	k.reading.Add(1)
	go k.read(readCtx, gen, k.reader)

	k.logger.Info("Kafka session ready", "topic", k.settings.Topic, "inbound_topic", k.settings.InboundTopic)
	k.emit(Signal{Type: SignalReady})
	return nil
}

func (k *kafkaTransport) read(ctx context.Context, gen uint64, reader kafkaReader) {
	defer k.reading.Done()
	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				k.logger.Warn("Kafka reader stopped", "error", err)
				k.emitFor(gen, Signal{Type: SignalDisconnected, Detail: err.Error()})
			}
			return
		}
		k.deliver(ctx, gen, messageFromKafka(m))
		if err := reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			k.logger.Warn("failed to commit Kafka offset", "error", err, "offset", m.Offset)
		}
	}
}

func kafkaHeader(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func messageFromKafka(m kafka.Message) Message {
	msg := Message{
		ID:         kafkaHeader(m.Headers, "message_id"),
		From:       kafkaHeader(m.Headers, headerFrom),
		Author:     kafkaHeader(m.Headers, headerAuthor),
		Body:       string(m.Value),
		IsSelf:     kafkaHeader(m.Headers, headerIsSelf) == "true",
		ReceivedAt: m.Time,
	}
	if msg.ID == "" {
		msg.ID = fmt.Sprintf("%s/%d/%d", m.Topic, m.Partition, m.Offset)
	}
	if msg.From == "" {
		msg.From = string(m.Key)
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now()
	}
	return msg
}

func (k *kafkaTransport) Send(ctx context.Context, destination, text string) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "Send",
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("kafka"),
			semconv.MessagingDestinationKindKey.String("topic"),
			semconv.MessagingDestinationKey.String(k.settings.Topic),
			semconv.MessagingKafkaMessageKeyKey.String(destination),
		),
	)
	defer span.End()

	k.mu.Lock()
	writer := k.writer
	k.mu.Unlock()
	if writer == nil {
		span.RecordError(ErrNotConnected)
		return ErrNotConnected
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	headers := []kafka.Header{
		{Key: headerTo, Value: []byte(destination)},
		{Key: "message_id", Value: []byte(uuid.NewString())},
	}
	for key, value := range carrier {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(value)})
	}

	err := writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(destination),
		Value:   []byte(text),
		Headers: headers,
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to write message: %w", err)
	}

	span.SetAttributes(
		attribute.Int("messaging.message_payload_size_bytes", len(text)),
	)
	return nil
}

func (k *kafkaTransport) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.nextSession()
	return k.teardownLocked()
}

func (k *kafkaTransport) teardownLocked() error {
	if k.stopRead != nil {
		k.stopRead()
		k.stopRead = nil
		k.reading.Wait()
	}
	var errs []error
	if k.reader != nil {
		errs = append(errs, k.reader.Close())
		k.reader = nil
	}
	if k.writer != nil {
		errs = append(errs, k.writer.Close())
		k.writer = nil
	}
	return errors.Join(errs...)
}
