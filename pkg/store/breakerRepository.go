package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/zoff-tech/payment-relay/schema"
)

// ErrUnavailable is returned while the circuit breaker is open.
var ErrUnavailable = errors.New("payment store unavailable")

// BreakerRepository guards Get and Update with a circuit breaker so a failing
// store answers operator commands immediately instead of timing out each
// time. Subscribe has its own retry loop and is passed through.
type BreakerRepository struct {
	next   PaymentRepository
	get    *gobreaker.CircuitBreaker[*schema.PaymentRecord]
	update *gobreaker.CircuitBreaker[struct{}]
}

func breakerSettings(name string, logger *slog.Logger) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("store circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	}
}

// NewBreakerRepository wraps next so repeated store failures fail fast.
func NewBreakerRepository(next PaymentRepository, logger *slog.Logger) *BreakerRepository {
	return &BreakerRepository{
		next:   next,
		get:    gobreaker.NewCircuitBreaker[*schema.PaymentRecord](breakerSettings("store-get", logger)),
		update: gobreaker.NewCircuitBreaker[struct{}](breakerSettings("store-update", logger)),
	}
}

func (b *BreakerRepository) Subscribe(ctx context.Context, handler ChangeHandler) error {
	return b.next.Subscribe(ctx, handler)
}

func (b *BreakerRepository) Get(ctx context.Context, id string) (*schema.PaymentRecord, error) {
	record, err := b.get.Execute(func() (*schema.PaymentRecord, error) {
		return b.next.Get(ctx, id)
	})
	return record, mapBreakerError(err)
}

func (b *BreakerRepository) Update(ctx context.Context, id string, update schema.PaymentUpdate) error {
	_, err := b.update.Execute(func() (struct{}, error) {
		return struct{}{}, b.next.Update(ctx, id, update)
	})
	return mapBreakerError(err)
}

func (b *BreakerRepository) Close(ctx context.Context) error {
	return b.next.Close(ctx)
}

func mapBreakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}
