// Package transport connects the relay to the messaging channel that
// carries notifications out and operator commands back in.
//
// A Transport reports its lifecycle asynchronously on Signals and inbound
// traffic on Messages. Connect only starts a session; readiness is announced
// by a SignalReady on the channel, and loss of the session by
// SignalDisconnected. Reconnecting is the caller's job.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// ErrNotConnected is returned by Send when no session is open.
var ErrNotConnected = errors.New("transport: not connected")

// SignalType names a lifecycle event.
type SignalType string

const (
	SignalQRChallenge   SignalType = "qr_challenge"
	SignalAuthenticated SignalType = "authenticated"
	SignalAuthFailure   SignalType = "auth_failure"
	SignalReady         SignalType = "ready"
	SignalDisconnected  SignalType = "disconnected"
)

// Signal is a lifecycle event. Detail carries the QR payload, the auth
// failure reason or the disconnect reason.
type Signal struct {
	Type   SignalType
	Detail string
}

// Message is an inbound chat message.
type Message struct {
	ID         string
	From       string // chat the message was posted in
	Author     string // member who wrote it, for group chats
	Body       string
	IsSelf     bool
	ReceivedAt time.Time
}

// Destination is a chat the transport can deliver to.
type Destination struct {
	ID      string
	Name    string
	IsGroup bool
}

// Transport is a session-oriented connection to the messaging channel.
type Transport interface {
	// Connect opens a new session, replacing any previous one.
	Connect(ctx context.Context) error
	// Send delivers text to destination.
	Send(ctx context.Context, destination, text string) error
	// Signals streams lifecycle events.
	Signals() <-chan Signal
	// Messages streams inbound chat messages.
	Messages() <-chan Message
	// Close ends the session and releases resources.
	Close() error
}

// DestinationLister is implemented by transports that can enumerate the
// group chats visible to the session.
type DestinationLister interface {
	Destinations(ctx context.Context) ([]Destination, error)
}

const tracerName = "payment-relay"

const (
	signalBuffer  = 32
	messageBuffer = 128
)

// hub carries the channels shared by every transport implementation and a
// session generation used to drop events from superseded sessions.
type hub struct {
	signals    chan Signal
	messages   chan Message
	generation atomic.Uint64
	logger     *slog.Logger
}

func newHub(logger *slog.Logger) hub {
	return hub{
		signals:  make(chan Signal, signalBuffer),
		messages: make(chan Message, messageBuffer),
		logger:   logger,
	}
}

func (h *hub) Signals() <-chan Signal   { return h.signals }
func (h *hub) Messages() <-chan Message { return h.messages }

// nextSession starts a new generation and returns it.
func (h *hub) nextSession() uint64 {
	return h.generation.Add(1)
}

func (h *hub) current(gen uint64) bool {
	return h.generation.Load() == gen
}

func (h *hub) emit(sig Signal) {
	h.signals <- sig
}

// emitFor publishes sig only if gen is still the live session.
func (h *hub) emitFor(gen uint64, sig Signal) {
	if !h.current(gen) {
		h.logger.Debug("dropping signal from stale session", "signal", sig.Type, "detail", sig.Detail)
		return
	}
	h.emit(sig)
}

func (h *hub) deliver(ctx context.Context, gen uint64, msg Message) {
	if !h.current(gen) {
		return
	}
	select {
	case h.messages <- msg:
	case <-ctx.Done():
	}
}
