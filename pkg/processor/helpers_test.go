package processor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zoff-tech/payment-relay/pkg/config"
	"github.com/zoff-tech/payment-relay/pkg/logging"
	"github.com/zoff-tech/payment-relay/pkg/metrics"
	"github.com/zoff-tech/payment-relay/pkg/store"
	"github.com/zoff-tech/payment-relay/pkg/transport"
	"github.com/zoff-tech/payment-relay/schema"
)

var fixedNow = time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)

// --- Transport fake ---

type sentMessage struct {
	Destination string
	Text        string
}

type fakeTransport struct {
	mu           sync.Mutex
	signals      chan transport.Signal
	messages     chan transport.Message
	sent         []sentMessage
	sendErr      error
	connects     int
	listed       int
	destinations []transport.Destination
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		signals:  make(chan transport.Signal, 8),
		messages: make(chan transport.Message, 8),
	}
}

func (f *fakeTransport) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return nil
}

func (f *fakeTransport) Send(_ context.Context, destination, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentMessage{Destination: destination, Text: text})
	return nil
}

func (f *fakeTransport) Signals() <-chan transport.Signal   { return f.signals }
func (f *fakeTransport) Messages() <-chan transport.Message { return f.messages }
func (f *fakeTransport) Close() error                       { return nil }

func (f *fakeTransport) Destinations(context.Context) ([]transport.Destination, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listed++
	return f.destinations, nil
}

func (f *fakeTransport) Sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func (f *fakeTransport) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

// --- Repository mock ---

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) Subscribe(ctx context.Context, handler store.ChangeHandler) error {
	return m.Called(ctx, handler).Error(0)
}

func (m *mockRepository) Get(ctx context.Context, id string) (*schema.PaymentRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schema.PaymentRecord), args.Error(1)
}

func (m *mockRepository) Update(ctx context.Context, id string, update schema.PaymentUpdate) error {
	return m.Called(ctx, id, update).Error(0)
}

func (m *mockRepository) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// --- Timing fakes ---

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

type timerRecorder struct {
	mu      sync.Mutex
	delays  []time.Duration
	pending []func()
}

func (r *timerRecorder) afterFunc(d time.Duration, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	r.pending = append(r.pending, fn)
}

func (r *timerRecorder) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func (r *timerRecorder) fire(t *testing.T) {
	t.Helper()
	r.mu.Lock()
	require.NotEmpty(t, r.pending, "no timer armed")
	fn := r.pending[0]
	r.pending = r.pending[1:]
	r.mu.Unlock()
	fn()
}

// --- Processor under test ---

type harness struct {
	p         *RelayProcessor
	transport *fakeTransport
	repo      *mockRepository
	sleeps    *sleepRecorder
	timers    *timerRecorder
	metrics   *metrics.Metrics
}

func testRelaySettings() config.RelaySettings {
	return config.RelaySettings{
		Destination:          "ops",
		ConnectAttempts:      3,
		ConnectRetryDelay:    5 * time.Second,
		MaxReconnectAttempts: 5,
		ReconnectDelay:       5 * time.Second,
		DrainDelay:           time.Second,
		ResubscribeDelay:     10 * time.Second,
		Timezone:             "UTC",
	}
}

func newHarness(t *testing.T, mutate ...func(*config.RelaySettings)) *harness {
	t.Helper()
	cfg := testRelaySettings()
	for _, m := range mutate {
		m(&cfg)
	}
	h := &harness{
		transport: newFakeTransport(),
		repo:      new(mockRepository),
		sleeps:    &sleepRecorder{},
		timers:    &timerRecorder{},
		metrics:   metrics.NewNop(),
	}
	p, err := NewRelayProcessor(h.transport, h.repo, cfg, logging.Discard(),
		WithMetrics(h.metrics),
		WithClock(func() time.Time { return fixedNow }),
		WithSleepFunc(h.sleeps.sleep),
		WithAfterFunc(h.timers.afterFunc),
	)
	require.NoError(t, err)
	h.p = p
	return h
}

func (h *harness) ready(ctx context.Context) {
	h.p.onSignal(ctx, transport.Signal{Type: transport.SignalReady})
}

func (h *harness) command(ctx context.Context, body string) {
	h.p.onInboundMessage(ctx, transport.Message{From: "ops", Author: "alice", Body: body})
}

func (h *harness) lastReply(t *testing.T) string {
	t.Helper()
	sent := h.transport.Sent()
	require.NotEmpty(t, sent, "no reply sent")
	return sent[len(sent)-1].Text
}
