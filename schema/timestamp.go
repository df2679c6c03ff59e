package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// Timestamp is a seconds-based creation time. Documents written by the
// checkout client carry {_seconds, _nanoseconds}; documents written by
// backend jobs carry a native date.
type Timestamp struct {
	Seconds     int64 `bson:"_seconds" json:"_seconds"`
	Nanoseconds int64 `bson:"_nanoseconds" json:"_nanoseconds"`
}

// Time converts the timestamp to a time.Time in UTC.
func (t Timestamp) Time() time.Time {
	return time.Unix(t.Seconds, t.Nanoseconds).UTC()
}

// IsZero reports whether no seconds were recorded.
func (t *Timestamp) IsZero() bool {
	return t == nil || (t.Seconds == 0 && t.Nanoseconds == 0)
}

type secondsDoc struct {
	Seconds      int64 `bson:"_seconds" json:"_seconds"`
	Nanoseconds  int64 `bson:"_nanoseconds" json:"_nanoseconds"`
	PlainSeconds int64 `bson:"seconds" json:"seconds"`
	PlainNanos   int64 `bson:"nanoseconds" json:"nanoseconds"`
}

func (d secondsDoc) timestamp() Timestamp {
	if d.Seconds == 0 && d.Nanoseconds == 0 {
		return Timestamp{Seconds: d.PlainSeconds, Nanoseconds: d.PlainNanos}
	}
	return Timestamp{Seconds: d.Seconds, Nanoseconds: d.Nanoseconds}
}

// UnmarshalBSONValue accepts an embedded seconds document, a BSON date, a
// number of seconds or an RFC 3339 string.
func (t *Timestamp) UnmarshalBSONValue(typ bsontype.Type, data []byte) error {
	raw := bson.RawValue{Type: typ, Value: data}
	switch typ {
	case bsontype.Int32:
		*t = Timestamp{Seconds: int64(raw.Int32())}
		return nil
	case bsontype.Int64:
		*t = Timestamp{Seconds: raw.Int64()}
		return nil
	case bsontype.Double:
		*t = fromFloatSeconds(raw.Double())
		return nil
	case bsontype.String:
		at, err := time.Parse(time.RFC3339Nano, raw.StringValue())
		if err != nil {
			return fmt.Errorf("decode timestamp string: %w", err)
		}
		*t = Timestamp{Seconds: at.Unix(), Nanoseconds: int64(at.Nanosecond())}
		return nil
	case bsontype.DateTime:
		ms, ok := raw.DateTimeOK()
		if !ok {
			return fmt.Errorf("invalid date value for timestamp")
		}
		at := time.UnixMilli(ms)
		*t = Timestamp{Seconds: at.Unix(), Nanoseconds: int64(at.Nanosecond())}
		return nil
	case bsontype.EmbeddedDocument:
		var doc secondsDoc
		if err := raw.Unmarshal(&doc); err != nil {
			return fmt.Errorf("decode timestamp document: %w", err)
		}
		*t = doc.timestamp()
		return nil
	case bsontype.Null, bsontype.Undefined:
		*t = Timestamp{}
		return nil
	default:
		return fmt.Errorf("unsupported bson type %s for timestamp", typ)
	}
}

// UnmarshalJSON accepts a seconds document, a number of seconds or an
// RFC 3339 string.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = Timestamp{}
		return nil
	}
	switch data[0] {
	case '{':
		var doc secondsDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("decode timestamp document: %w", err)
		}
		*t = doc.timestamp()
	case '"':
		var at time.Time
		if err := json.Unmarshal(data, &at); err != nil {
			return fmt.Errorf("decode timestamp string: %w", err)
		}
		*t = Timestamp{Seconds: at.Unix(), Nanoseconds: int64(at.Nanosecond())}
	default:
		var seconds float64
		if err := json.Unmarshal(data, &seconds); err != nil {
			return fmt.Errorf("decode timestamp seconds: %w", err)
		}
		*t = fromFloatSeconds(seconds)
	}
	return nil
}

func fromFloatSeconds(seconds float64) Timestamp {
	whole := math.Floor(seconds)
	return Timestamp{Seconds: int64(whole), Nanoseconds: int64(math.Round((seconds - whole) * 1e9))}
}
