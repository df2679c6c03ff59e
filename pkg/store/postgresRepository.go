package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"

	"github.com/zoff-tech/payment-relay/pkg/telemetry"
	"github.com/zoff-tech/payment-relay/schema"
)

// PaymentsChannel is the NOTIFY channel a trigger on the payments table
// publishes new ids to.
const PaymentsChannel = "payments_added"

const listenerPingInterval = 90 * time.Second

type notificationListener interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

var newListener = func(dsn string) notificationListener {
	return pq.NewListener(dsn, 10*time.Second, time.Minute, nil)
}

type PostgresRepository struct {
	db  *sql.DB
	dsn string
}

func NewPostgresRepository(db *sql.DB, dsn string) *PostgresRepository {
	return &PostgresRepository{db: db, dsn: dsn}
}

// Subscribe listens for ids on PaymentsChannel and loads each document. A
// document that cannot be loaded is logged and skipped so the listener keeps
// receiving notifications.
func (p *PostgresRepository) Subscribe(ctx context.Context, handler ChangeHandler) error {
	listener := newListener(p.dsn)
	defer listener.Close()

	if err := listener.Listen(PaymentsChannel); err != nil {
		return fmt.Errorf("listen %s: %w", PaymentsChannel, err)
	}

	ping := time.NewTicker(listenerPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-listener.NotificationChannel():
			if !ok {
				return errors.New("listener closed")
			}
			// nil signals a re-established connection
			if n == nil {
				continue
			}
			fields, err := p.loadFields(ctx, n.Extra)
			var partial *partialDocumentError
			switch {
			case errors.Is(err, ErrNotFound):
				continue
			case errors.As(err, &partial):
				slog.Warn("payment document partially decoded", "payment_id", n.Extra, "error", partial.err)
			case err != nil:
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slog.Error("load notified payment", "payment_id", n.Extra, "error", err)
				continue
			}
			handler(schema.NewChangeEvent(n.Extra, fields))
		case <-ping.C:
			if err := listener.Ping(); err != nil {
				return fmt.Errorf("listener ping: %w", err)
			}
		}
	}
}

// partialDocumentError reports fields of a loaded document that were dropped.
type partialDocumentError struct {
	id  string
	err error
}

func (e *partialDocumentError) Error() string {
	return fmt.Sprintf("decode payment %s: %v", e.id, e.err)
}

func (e *partialDocumentError) Unwrap() error { return e.err }

// loadFields returns the decoded fields alongside a *partialDocumentError
// when part of the document was unusable.
func (p *PostgresRepository) loadFields(ctx context.Context, id string) (schema.PaymentFields, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx, `SELECT doc FROM payments WHERE id=$1`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return schema.PaymentFields{}, ErrNotFound
	}
	if err != nil {
		return schema.PaymentFields{}, err
	}
	return decodeJSONDocument(id, doc)
}

func decodeJSONDocument(id string, doc []byte) (schema.PaymentFields, error) {
	if len(doc) == 0 {
		return schema.PaymentFields{}, nil
	}
	fields, err := schema.DecodePaymentFieldsJSON(doc)
	if err != nil {
		return fields, &partialDocumentError{id: id, err: err}
	}
	return fields, nil
}

func (p *PostgresRepository) Get(ctx context.Context, id string) (*schema.PaymentRecord, error) {
	tracer := otel.Tracer(telemetry.TracerName)
	ctx, span := tracer.Start(ctx, "GetPayment")
	defer span.End()

	startTime := time.Now()

	var (
		doc        []byte
		status     sql.NullString
		needsCheck sql.NullBool
		reviewed   sql.NullTime
		approved   sql.NullTime
		rejected   sql.NullTime
	)
	err := p.db.QueryRowContext(ctx,
		`SELECT doc, status, needs_manual_verification, reviewed_at, approved_at, rejected_at FROM payments WHERE id=$1`, id).
		Scan(&doc, &status, &needsCheck, &reviewed, &approved, &rejected)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	record := &schema.PaymentRecord{
		ID:                      id,
		Status:                  schema.Status(status.String),
		NeedsManualVerification: needsCheck.Bool,
		ReviewedAt:              timePtr(reviewed),
		ApprovedAt:              timePtr(approved),
		RejectedAt:              timePtr(rejected),
	}
	fields, err := decodeJSONDocument(id, doc)
	if err != nil {
		slog.Warn("payment document partially decoded", "payment_id", id, "error", err)
	}
	record.PaymentFields = fields

	recordDBCall(span, "postgresql", "GetPayment", 1, time.Since(startTime))
	return record, nil
}

func (p *PostgresRepository) Update(ctx context.Context, id string, update schema.PaymentUpdate) error {
	return p.withTransaction(ctx, "UpdatePayment", func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE payments SET status=$1, needs_manual_verification=$2, reviewed_at=$3, approved_at=COALESCE($4, approved_at), rejected_at=COALESCE($5, rejected_at) WHERE id=$6`,
			string(update.Status), update.NeedsManualVerification, update.ReviewedAt, update.ApprovedAt, update.RejectedAt, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (p *PostgresRepository) Close(context.Context) error {
	return p.db.Close()
}

func (p *PostgresRepository) withTransaction(ctx context.Context, spanName string, fn func(ctx context.Context, tx *sql.Tx) error) (err error) {
	tracer := otel.Tracer(telemetry.TracerName)
	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()

	startTime := time.Now()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	if err = fn(ctx, tx); err != nil {
		if !errors.Is(err, ErrNotFound) {
			span.RecordError(err)
		}
		return err
	}

	recordDBCall(span, "postgresql", spanName, 1, time.Since(startTime))
	return nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
