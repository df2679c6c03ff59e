package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"

	"github.com/zoff-tech/payment-relay/pkg/telemetry"
	"github.com/zoff-tech/payment-relay/schema"
)

// MongoRepository reads payments from a MongoDB collection and watches it
// through a change stream.
type MongoRepository struct {
	client     *mongo.Client
	database   string
	collection string

	mu          sync.Mutex
	resumeToken bson.Raw
}

// NewMongoRepository returns a repository over database.collection.
func NewMongoRepository(client *mongo.Client, database, collection string) *MongoRepository {
	return &MongoRepository{
		client:     client,
		database:   database,
		collection: collection,
	}
}

func (m *MongoRepository) coll() *mongo.Collection {
	return m.client.Database(m.database).Collection(m.collection,
		options.Collection().SetRegistry(schema.BSONRegistry))
}

// changeDocument is the part of a change stream event the relay reads.
type changeDocument struct {
	DocumentKey struct {
		ID any `bson:"_id"`
	} `bson:"documentKey"`
	FullDocument bson.Raw `bson:"fullDocument"`
}

// Subscribe watches the collection for inserts. A resubscribe resumes after
// the last delivered event. Documents that only partly decode are still
// delivered; events without a usable id are skipped.
func (m *MongoRepository) Subscribe(ctx context.Context, handler ChangeHandler) error {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "operationType", Value: "insert"}}}},
	}
	opts := options.ChangeStream()
	if token := m.lastToken(); token != nil {
		opts.SetResumeAfter(token)
	}

	stream, err := m.coll().Watch(ctx, pipeline, opts)
	if err != nil {
		return fmt.Errorf("open change stream: %w", err)
	}
	defer stream.Close(context.Background())

	for stream.Next(ctx) {
		event, err := changeEventFromRaw(stream.Current)
		switch {
		case event.ID == "":
			slog.Warn("skipping undecodable change event", "error", err)
		case err != nil:
			slog.Warn("payment document partially decoded", "payment_id", event.ID, "error", err)
			handler(event)
		default:
			handler(event)
		}
		m.saveToken(stream.ResumeToken())
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("change stream: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return errors.New("change stream closed")
}

func (m *MongoRepository) lastToken() bson.Raw {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resumeToken
}

func (m *MongoRepository) saveToken(token bson.Raw) {
	if token == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resumeToken = append(bson.Raw(nil), token...)
}

// changeEventFromRaw returns the event with every field that decoded. A
// non-nil error with a non-empty event ID means the payment was only partly
// read.
func changeEventFromRaw(raw bson.Raw) (schema.ChangeEvent, error) {
	var change changeDocument
	if err := bson.Unmarshal(raw, &change); err != nil {
		return schema.ChangeEvent{}, fmt.Errorf("decode change event: %w", err)
	}
	var (
		fields schema.PaymentFields
		err    error
	)
	if len(change.FullDocument) > 0 {
		fields, err = schema.DecodePaymentFieldsBSON(change.FullDocument)
	}
	return schema.NewChangeEvent(idString(change.DocumentKey.ID), fields), err
}

func idString(id any) string {
	switch v := id.(type) {
	case primitive.ObjectID:
		return v.Hex()
	case string:
		return v
	case nil:
		return ""
	}
	return fmt.Sprint(id)
}

// idFilter matches either a string id or its ObjectID form.
func idFilter(id string) bson.M {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.M{"_id": bson.M{"$in": bson.A{id, oid}}}
	}
	return bson.M{"_id": id}
}

func (m *MongoRepository) Get(ctx context.Context, id string) (*schema.PaymentRecord, error) {
	tracer := otel.Tracer(telemetry.TracerName)
	ctx, span := tracer.Start(ctx, "GetPayment")
	defer span.End()

	startTime := time.Now()

	var record schema.PaymentRecord
	err := m.coll().FindOne(ctx, idFilter(id)).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	record.ID = id

	recordDBCall(span, "mongodb", "findOne", 1, time.Since(startTime))
	return &record, nil
}

func (m *MongoRepository) Update(ctx context.Context, id string, update schema.PaymentUpdate) error {
	tracer := otel.Tracer(telemetry.TracerName)
	ctx, span := tracer.Start(ctx, "UpdatePayment")
	defer span.End()

	startTime := time.Now()

	set := bson.M{
		"status":                  update.Status,
		"needsManualVerification": update.NeedsManualVerification,
		"reviewedAt":              update.ReviewedAt,
	}
	if update.ApprovedAt != nil {
		set["approvedAt"] = *update.ApprovedAt
	}
	if update.RejectedAt != nil {
		set["rejectedAt"] = *update.RejectedAt
	}

	res, err := m.coll().UpdateOne(ctx, idFilter(id), bson.M{"$set": set})
	if err != nil {
		span.RecordError(err)
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}

	recordDBCall(span, "mongodb", "updateOne", int(res.ModifiedCount), time.Since(startTime))
	return nil
}

func (m *MongoRepository) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
