package store

import (
	"context"
	"errors"

	"github.com/zoff-tech/payment-relay/schema"
)

// ErrNotFound is returned when no payment document has the requested id.
var ErrNotFound = errors.New("payment not found")

// ChangeHandler receives each newly added payment document.
type ChangeHandler func(event schema.ChangeEvent)

// PaymentRepository defines the store operations the relay needs.
type PaymentRepository interface {
	// Subscribe delivers added documents to handler until ctx is cancelled
	// or the subscription fails. It always returns a non-nil error.
	Subscribe(ctx context.Context, handler ChangeHandler) error
	// Get reads a payment document by id.
	Get(ctx context.Context, id string) (*schema.PaymentRecord, error)
	// Update applies a review update to a payment document.
	Update(ctx context.Context, id string, update schema.PaymentUpdate) error
	// Close releases the underlying connection.
	Close(ctx context.Context) error
}
