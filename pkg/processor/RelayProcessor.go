// Package processor hosts the relay controller: a single event loop that
// owns the transport session, the running flag and the delivery queue.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoff-tech/payment-relay/pkg/config"
	"github.com/zoff-tech/payment-relay/pkg/formatter"
	"github.com/zoff-tech/payment-relay/pkg/metrics"
	"github.com/zoff-tech/payment-relay/pkg/queue"
	"github.com/zoff-tech/payment-relay/pkg/session"
	"github.com/zoff-tech/payment-relay/pkg/store"
	"github.com/zoff-tech/payment-relay/pkg/telemetry"
	"github.com/zoff-tech/payment-relay/pkg/transport"
	"github.com/zoff-tech/payment-relay/schema"
)

// ErrStopped is returned by Snapshot once the loop has exited.
var ErrStopped = errors.New("relay processor stopped")

// Status is a point-in-time view of the controller, taken on the loop.
type Status struct {
	ServerRunning     bool   `json:"serverRunning"`
	SessionState      string `json:"sessionState"`
	Ready             bool   `json:"ready"`
	Failed            bool   `json:"failed"`
	ReconnectAttempts int    `json:"reconnectAttempts"`
	QueueDepth        int    `json:"queueDepth"`
	Destination       string `json:"destination"`
}

// RelayProcessor forwards new payments to the destination chat and executes
// the review commands posted back from it.
type RelayProcessor struct {
	transport transport.Transport
	repo      store.PaymentRepository
	session   *session.Session
	formatter *formatter.Formatter
	queue     *queue.DeliveryQueue
	metrics   *metrics.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer

	destination      string
	serverRunning    bool
	resubscribeDelay time.Duration

	changes chan schema.ChangeEvent
	calls   chan func()
	done    chan struct{}
	failed  atomic.Bool

	now       func() time.Time
	sleep     func(context.Context, time.Duration) error
	afterFunc func(time.Duration, func())
}

// Option configures a RelayProcessor.
type Option func(*RelayProcessor)

// WithMetrics records relay activity on m. Without it metrics are discarded.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *RelayProcessor) { p.metrics = m }
}

// WithClock overrides the time source for review timestamps and rendering.
func WithClock(now func() time.Time) Option {
	return func(p *RelayProcessor) { p.now = now }
}

// WithSleepFunc overrides every pause: drain pacing, connect retries and
// resubscribe backoff.
func WithSleepFunc(fn func(context.Context, time.Duration) error) Option {
	return func(p *RelayProcessor) { p.sleep = fn }
}

// WithAfterFunc overrides how reconnect timers are armed.
func WithAfterFunc(fn func(time.Duration, func())) Option {
	return func(p *RelayProcessor) { p.afterFunc = fn }
}

// NewRelayProcessor wires the controller. Nothing runs until Start and Run.
func NewRelayProcessor(tr transport.Transport, repo store.PaymentRepository, cfg config.RelaySettings, logger *slog.Logger, opts ...Option) (*RelayProcessor, error) {
	p := &RelayProcessor{
		transport:        tr,
		repo:             repo,
		logger:           logger.With("component", "relay"),
		tracer:           otel.Tracer(telemetry.TracerName),
		destination:      cfg.Destination,
		serverRunning:    !cfg.StartPaused,
		resubscribeDelay: cfg.ResubscribeDelay,
		changes:          make(chan schema.ChangeEvent, 16),
		calls:            make(chan func(), 16),
		done:             make(chan struct{}),
		now:              time.Now,
		sleep:            queue.Sleep,
		afterFunc: func(d time.Duration, fn func()) {
			time.AfterFunc(d, fn)
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = metrics.NewNop()
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	p.formatter, err = formatter.New(
		formatter.WithTemplateFile(cfg.TemplateFile),
		formatter.WithLocation(loc),
		formatter.WithClock(p.now),
	)
	if err != nil {
		return nil, err
	}

	p.queue = queue.New(cfg.DrainDelay, logger,
		queue.WithMaxSize(cfg.QueueMaxSize),
		queue.WithSleepFunc(p.sleep),
		queue.WithClock(p.now),
	)
	p.session = session.New(tr, cfg, logger,
		session.WithScheduler(p.schedule),
		session.WithSleepFunc(p.sleep),
		session.WithMetrics(p.metrics),
	)

	if p.destination == "" {
		p.logger.Warn("no destination configured; notifications will fail until one is set")
	}
	return p, nil
}

// Start opens the first transport session, retrying a bounded number of
// times. A returned error is a fatal startup failure.
func (p *RelayProcessor) Start(ctx context.Context) error {
	return p.session.Connect(ctx)
}

// Run processes events until ctx is cancelled. It starts the store watcher
// and is the only goroutine that touches session, queue and running flag.
func (p *RelayProcessor) Run(ctx context.Context) error {
	defer close(p.done)

	go p.watch(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-p.changes:
			p.onChangeDetected(ctx, event)
		case sig := <-p.transport.Signals():
			p.onSignal(ctx, sig)
		case msg := <-p.transport.Messages():
			p.onInboundMessage(ctx, msg)
		case fn := <-p.calls:
			fn()
		}
	}
}

// Close ends the transport session. Call it after Run has returned.
func (p *RelayProcessor) Close() error {
	return p.session.Close()
}

// Healthy reports false once the session has given up reconnecting. It is
// safe to call from any goroutine.
func (p *RelayProcessor) Healthy() bool {
	return !p.failed.Load()
}

// Snapshot returns the controller status as seen from the loop.
func (p *RelayProcessor) Snapshot(ctx context.Context) (Status, error) {
	result := make(chan Status, 1)
	fn := func() { result <- p.status() }

	select {
	case p.calls <- fn:
	case <-p.done:
		return Status{}, ErrStopped
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}

	select {
	case s := <-result:
		return s, nil
	case <-p.done:
		return Status{}, ErrStopped
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

func (p *RelayProcessor) status() Status {
	return Status{
		ServerRunning:     p.serverRunning,
		SessionState:      p.session.State().String(),
		Ready:             p.session.Ready(),
		Failed:            p.session.Failed(),
		ReconnectAttempts: p.session.ReconnectAttempts(),
		QueueDepth:        p.queue.Len(),
		Destination:       p.destination,
	}
}

// schedule arms a timer whose callback runs on the loop.
func (p *RelayProcessor) schedule(d time.Duration, fn func()) {
	p.afterFunc(d, func() {
		select {
		case p.calls <- fn:
		case <-p.done:
		}
	})
}

func (p *RelayProcessor) onSignal(ctx context.Context, sig transport.Signal) {
	tr := p.session.Handle(ctx, sig)
	p.failed.Store(p.session.Failed())

	if tr.Entered(session.Ready) {
		p.drainQueue(ctx)
		p.logDestinations(ctx)
	}
}

func (p *RelayProcessor) logDestinations(ctx context.Context) {
	lister, ok := p.transport.(transport.DestinationLister)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	destinations, err := lister.Destinations(ctx)
	if err != nil {
		p.logger.Warn("could not list destinations", "error", err)
		return
	}
	for _, d := range destinations {
		if d.IsGroup {
			p.logger.Info("available group", "id", d.ID, "name", d.Name)
		}
	}
}
