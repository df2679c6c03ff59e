// Package session tracks the lifecycle of a transport connection and
// drives bounded reconnects.
//
// A Session is not safe for concurrent use. The relay processor owns it and
// feeds it transport signals from a single goroutine; reconnect timers are
// handed to the owner through the ScheduleFunc so they run on that same
// goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zoff-tech/payment-relay/pkg/config"
	"github.com/zoff-tech/payment-relay/pkg/metrics"
	"github.com/zoff-tech/payment-relay/pkg/transport"
)

// State is the connection state of a chat session.
type State int

const (
	Disconnected State = iota
	Connecting
	Authenticated
	Ready
	Reconnecting
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Authenticated:
		return "authenticated"
	case Ready:
		return "ready"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// SendResult reports the outcome of a single Send.
type SendResult int

const (
	SendSuccess SendResult = iota
	SendQueued
	SendFailed
)

func (r SendResult) String() string {
	switch r {
	case SendSuccess:
		return "success"
	case SendQueued:
		return "queued"
	case SendFailed:
		return "failed"
	}
	return fmt.Sprintf("result(%d)", int(r))
}

// ErrNoDestination is logged when a send is attempted without a configured
// destination.
var ErrNoDestination = errors.New("session: no destination configured")

// ScheduleFunc runs fn after d.
type ScheduleFunc func(d time.Duration, fn func())

// Transition describes the effect of one signal.
type Transition struct {
	From State
	To   State
}

// Entered reports whether the transition moved the session into s.
func (t Transition) Entered(s State) bool {
	return t.From != s && t.To == s
}

// Session owns the transport connection and its reconnect policy.
type Session struct {
	transport transport.Transport
	logger    *slog.Logger
	metrics   *metrics.Metrics

	state             State
	reconnectAttempts int

	maxReconnectAttempts int
	reconnectDelay       time.Duration
	connectAttempts      int
	connectRetryDelay    time.Duration

	schedule ScheduleFunc
	sleep    func(context.Context, time.Duration) error
}

// Option configures a Session.
type Option func(*Session)

// WithScheduler sets how reconnect attempts are deferred.
func WithScheduler(fn ScheduleFunc) Option {
	return func(s *Session) { s.schedule = fn }
}

// WithSleepFunc overrides the pause between bootstrap connect attempts.
func WithSleepFunc(fn func(context.Context, time.Duration) error) Option {
	return func(s *Session) { s.sleep = fn }
}

// WithMetrics publishes session state and reconnect attempts on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// New returns a disconnected session over tr.
func New(tr transport.Transport, cfg config.RelaySettings, logger *slog.Logger, opts ...Option) *Session {
	s := &Session{
		transport:            tr,
		logger:               logger.With("component", "session"),
		state:                Disconnected,
		maxReconnectAttempts: cfg.MaxReconnectAttempts,
		reconnectDelay:       cfg.ReconnectDelay,
		connectAttempts:      max(cfg.ConnectAttempts, 1),
		connectRetryDelay:    cfg.ConnectRetryDelay,
		schedule: func(d time.Duration, fn func()) {
			time.AfterFunc(d, fn)
		},
		sleep: sleepCtx,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.observe()
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Session) State() State           { return s.state }
func (s *Session) Ready() bool            { return s.state == Ready }
func (s *Session) Failed() bool           { return s.state == Failed }
func (s *Session) ReconnectAttempts() int { return s.reconnectAttempts }

// Connect opens the first session, retrying a fixed number of times. It is a
// no-op when a session is already established or being established.
func (s *Session) Connect(ctx context.Context) error {
	switch s.state {
	case Connecting, Authenticated, Ready, Reconnecting:
		return nil
	}

	var err error
	for attempt := 1; attempt <= s.connectAttempts; attempt++ {
		s.setState(Connecting)
		if err = s.transport.Connect(ctx); err == nil {
			return nil
		}
		s.setState(Disconnected)
		s.logger.Warn("connect attempt failed", "attempt", attempt, "max_attempts", s.connectAttempts, "error", err)

		if attempt < s.connectAttempts {
			if serr := s.sleep(ctx, s.connectRetryDelay); serr != nil {
				return serr
			}
		}
	}
	return fmt.Errorf("connect failed after %d attempts: %w", s.connectAttempts, err)
}

// Handle applies a transport signal and returns the resulting transition.
func (s *Session) Handle(ctx context.Context, sig transport.Signal) Transition {
	from := s.state
	if from == Failed {
		s.logger.Debug("ignoring signal in failed state", "signal", sig.Type)
		return Transition{From: from, To: from}
	}

	switch sig.Type {
	case transport.SignalQRChallenge:
		s.logger.Info("scan the QR code to link the session", "qr", sig.Detail)
	case transport.SignalAuthenticated:
		s.setState(Authenticated)
	case transport.SignalAuthFailure:
		s.logger.Error("transport authentication failed", "reason", sig.Detail)
	case transport.SignalReady:
		s.reconnectAttempts = 0
		s.setState(Ready)
		s.logger.Info("session ready")
	case transport.SignalDisconnected:
		if from == Reconnecting {
			s.logger.Debug("already reconnecting", "reason", sig.Detail)
			break
		}
		s.disconnected(ctx, sig.Detail)
	default:
		s.logger.Warn("unknown transport signal", "signal", sig.Type)
	}
	return Transition{From: from, To: s.state}
}

func (s *Session) disconnected(ctx context.Context, reason string) {
	s.setState(Disconnected)
	s.logger.Warn("session disconnected", "reason", reason)

	if s.reconnectAttempts >= s.maxReconnectAttempts {
		s.setState(Failed)
		s.logger.Error("giving up on transport session", "reconnect_attempts", s.reconnectAttempts)
		return
	}

	s.reconnectAttempts++
	s.setState(Reconnecting)
	s.logger.Info("scheduling reconnect", "attempt", s.reconnectAttempts, "max_attempts", s.maxReconnectAttempts, "delay", s.reconnectDelay)
	s.schedule(s.reconnectDelay, func() { s.reconnect(ctx) })
}

func (s *Session) reconnect(ctx context.Context) {
	if s.state != Reconnecting || ctx.Err() != nil {
		return
	}
	s.setState(Connecting)
	if err := s.transport.Connect(ctx); err != nil {
		s.disconnected(ctx, err.Error())
	}
}

// Send delivers text while Ready. Otherwise it reports SendQueued so the
// caller can buffer the message.
func (s *Session) Send(ctx context.Context, destination, text string) SendResult {
	if s.state != Ready {
		return SendQueued
	}
	if destination == "" {
		s.logger.Error("cannot send", "error", ErrNoDestination)
		return SendFailed
	}
	if err := s.transport.Send(ctx, destination, text); err != nil {
		s.logger.Error("send failed", "destination", destination, "error", err)
		return SendFailed
	}
	return SendSuccess
}

// Close ends the transport session.
func (s *Session) Close() error {
	s.setState(Disconnected)
	return s.transport.Close()
}

func (s *Session) setState(state State) {
	if s.state != state {
		s.logger.Debug("session state change", "from", s.state, "to", state)
	}
	s.state = state
	s.observe()
}

func (s *Session) observe() {
	if s.metrics == nil {
		return
	}
	s.metrics.SessionState.Set(float64(s.state))
	s.metrics.ReconnectAttempts.Set(float64(s.reconnectAttempts))
	if s.state == Failed {
		s.metrics.SessionFailed.Set(1)
	} else {
		s.metrics.SessionFailed.Set(0)
	}
}
