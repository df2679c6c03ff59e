package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/spanner"
	"go.opentelemetry.io/otel"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"

	"github.com/zoff-tech/payment-relay/pkg/telemetry"
	"github.com/zoff-tech/payment-relay/schema"
)

var paymentColumns = []string{"Id", "Doc", "Status", "NeedsManualVerification", "ReviewedAt", "ApprovedAt", "RejectedAt"}

// SpannerRepository stores each payment as a row whose Doc column holds the
// JSON document. New rows are discovered by polling CreatedAt.
type SpannerRepository struct {
	client       *spanner.Client
	table        string
	pollInterval time.Duration

	mu    sync.Mutex
	since time.Time
}

func NewSpannerRepository(client *spanner.Client, table string, pollInterval time.Duration) *SpannerRepository {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &SpannerRepository{
		client:       client,
		table:        table,
		pollInterval: pollInterval,
	}
}

// Subscribe polls for rows created after the subscription first started.
func (s *SpannerRepository) Subscribe(ctx context.Context, handler ChangeHandler) error {
	s.mu.Lock()
	if s.since.IsZero() {
		s.since = time.Now().UTC()
	}
	s.mu.Unlock()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		if err := s.poll(ctx, handler); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *SpannerRepository) poll(ctx context.Context, handler ChangeHandler) error {
	s.mu.Lock()
	since := s.since
	s.mu.Unlock()

	stmt := spanner.Statement{
		SQL: fmt.Sprintf(`SELECT Id, Doc, CreatedAt FROM %s
              WHERE CreatedAt > @since
              ORDER BY CreatedAt`, s.table),
		Params: map[string]interface{}{
			"since": since,
		},
	}

	iter := s.client.Single().Query(ctx, stmt)
	defer iter.Stop()

	for {
		row, err := iter.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return fmt.Errorf("poll %s: %w", s.table, err)
		}

		var (
			id        string
			doc       spanner.NullString
			createdAt time.Time
		)
		if err := row.Columns(&id, &doc, &createdAt); err != nil {
			return err
		}

		handler(schema.NewChangeEvent(id, decodeDocument(id, doc)))

		s.mu.Lock()
		s.since = createdAt
		s.mu.Unlock()
	}
}

func (s *SpannerRepository) Get(ctx context.Context, id string) (*schema.PaymentRecord, error) {
	tracer := otel.Tracer(telemetry.TracerName)
	ctx, span := tracer.Start(ctx, "GetPayment")
	defer span.End()

	startTime := time.Now()

	row, err := s.client.Single().ReadRow(ctx, s.table, spanner.Key{id}, paymentColumns)
	if spanner.ErrCode(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var (
		rowID      string
		doc        spanner.NullString
		status     spanner.NullString
		needsCheck spanner.NullBool
		reviewed   spanner.NullTime
		approved   spanner.NullTime
		rejected   spanner.NullTime
	)
	if err := row.Columns(&rowID, &doc, &status, &needsCheck, &reviewed, &approved, &rejected); err != nil {
		span.RecordError(err)
		return nil, err
	}

	record := &schema.PaymentRecord{
		ID:                      rowID,
		Status:                  schema.Status(status.StringVal),
		NeedsManualVerification: needsCheck.Bool,
		ReviewedAt:              spannerTimePtr(reviewed),
		ApprovedAt:              spannerTimePtr(approved),
		RejectedAt:              spannerTimePtr(rejected),
	}
	record.PaymentFields = decodeDocument(id, doc)

	recordDBCall(span, "spanner", "ReadRow", 1, time.Since(startTime))
	return record, nil
}

func (s *SpannerRepository) Update(ctx context.Context, id string, update schema.PaymentUpdate) error {
	tracer := otel.Tracer(telemetry.TracerName)
	ctx, span := tracer.Start(ctx, "UpdatePayment")
	defer span.End()

	startTime := time.Now()

	columns := []string{"Id", "Status", "NeedsManualVerification", "ReviewedAt"}
	values := []interface{}{id, string(update.Status), update.NeedsManualVerification, update.ReviewedAt}
	if update.ApprovedAt != nil {
		columns = append(columns, "ApprovedAt")
		values = append(values, *update.ApprovedAt)
	}
	if update.RejectedAt != nil {
		columns = append(columns, "RejectedAt")
		values = append(values, *update.RejectedAt)
	}

	_, err := s.client.Apply(ctx, []*spanner.Mutation{spanner.Update(s.table, columns, values)})
	if spanner.ErrCode(err) == codes.NotFound {
		return ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return err
	}

	recordDBCall(span, "spanner", "Update", 1, time.Since(startTime))
	return nil
}

func (s *SpannerRepository) Close(context.Context) error {
	s.client.Close()
	return nil
}

// decodeDocument keeps whatever part of a JSON document decodes.
func decodeDocument(id string, doc spanner.NullString) schema.PaymentFields {
	if !doc.Valid {
		return schema.PaymentFields{}
	}
	fields, err := schema.DecodePaymentFieldsJSON([]byte(doc.StringVal))
	if err != nil {
		slog.Warn("payment document partially decoded", "payment_id", id, "error", err)
	}
	return fields
}

func spannerTimePtr(t spanner.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
