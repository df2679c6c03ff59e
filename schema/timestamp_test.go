package schema

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestTimestamp_BSONSecondsDocument(t *testing.T) {
	data, err := bson.Marshal(bson.M{
		"fullName":  "Jane",
		"createdAt": bson.M{"_seconds": int64(1700000000), "_nanoseconds": int64(500)},
	})
	require.NoError(t, err)

	var fields PaymentFields
	require.NoError(t, bson.Unmarshal(data, &fields))
	require.NotNil(t, fields.CreatedAt)
	assert.Equal(t, int64(1700000000), fields.CreatedAt.Seconds)
	assert.Equal(t, int64(500), fields.CreatedAt.Nanoseconds)
	assert.Equal(t, "Jane", fields.FullName)
}

func TestTimestamp_BSONDate(t *testing.T) {
	at := time.Date(2025, 5, 6, 7, 8, 9, 0, time.UTC)
	data, err := bson.Marshal(bson.M{"createdAt": primitive.NewDateTimeFromTime(at)})
	require.NoError(t, err)

	var fields PaymentFields
	require.NoError(t, bson.Unmarshal(data, &fields))
	require.NotNil(t, fields.CreatedAt)
	assert.True(t, at.Equal(fields.CreatedAt.Time()))
}

func TestTimestamp_BSONScalarForms(t *testing.T) {
	tests := []struct {
		name      string
		value     any
		wantSecs  int64
		wantNanos int64
	}{
		{"int32 seconds", int32(1700000000), 1700000000, 0},
		{"int64 seconds", int64(1700000001), 1700000001, 0},
		{"double seconds", 1700000002.5, 1700000002, 500000000},
		{"rfc3339 string", "2023-11-14T22:13:23Z", 1700000003, 0},
		{"rfc3339 with fraction", "2023-11-14T22:13:23.25Z", 1700000003, 250000000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := bson.Marshal(bson.M{"createdAt": tt.value})
			require.NoError(t, err)

			var fields PaymentFields
			require.NoError(t, bson.Unmarshal(data, &fields))
			require.NotNil(t, fields.CreatedAt)
			assert.Equal(t, tt.wantSecs, fields.CreatedAt.Seconds)
			assert.Equal(t, tt.wantNanos, fields.CreatedAt.Nanoseconds)
		})
	}
}

func TestTimestamp_BSONRejectsUnparsableString(t *testing.T) {
	data, err := bson.Marshal(bson.M{"createdAt": "yesterday"})
	require.NoError(t, err)

	var fields PaymentFields
	assert.Error(t, bson.Unmarshal(data, &fields))
}

func TestTimestamp_JSONForms(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int64
	}{
		{"underscore document", `{"_seconds": 1700000000, "_nanoseconds": 0}`, 1700000000},
		{"plain document", `{"seconds": 1700000001}`, 1700000001},
		{"number", `1700000002`, 1700000002},
		{"rfc3339", `"2023-11-14T22:13:23Z"`, 1700000003},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ts Timestamp
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &ts))
			assert.Equal(t, tt.want, ts.Seconds)
		})
	}
}

func TestPaymentRecord_JSONPromotesFields(t *testing.T) {
	raw := `{"id":"P1","status":"approved","fullName":"Jane","orderTotal":"Rs 25.00"}`

	var record PaymentRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &record))
	assert.Equal(t, "P1", record.ID)
	assert.Equal(t, StatusApproved, record.EffectiveStatus())
	assert.Equal(t, "Jane", record.FullName)
	assert.Equal(t, "Rs 25.00", record.OrderTotal)
}

func TestPaymentRecord_EffectiveStatusDefaultsToPending(t *testing.T) {
	assert.Equal(t, StatusPending, (&PaymentRecord{}).EffectiveStatus())
}

func TestNewReviewUpdate(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	approved := NewReviewUpdate(StatusApproved, now)
	assert.Equal(t, StatusApproved, approved.Status)
	assert.False(t, approved.NeedsManualVerification)
	assert.Equal(t, now, approved.ReviewedAt)
	require.NotNil(t, approved.ApprovedAt)
	assert.Nil(t, approved.RejectedAt)

	rejected := NewReviewUpdate(StatusRejected, now)
	require.NotNil(t, rejected.RejectedAt)
	assert.Nil(t, rejected.ApprovedAt)
}
