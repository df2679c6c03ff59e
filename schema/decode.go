package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// BSONRegistry decodes payment documents written by loosely typed clients:
// numbers and booleans stored where a string is expected keep their text
// form instead of failing the whole document.
var BSONRegistry = newBSONRegistry()

func newBSONRegistry() *bsoncodec.Registry {
	reg := bson.NewRegistry()
	reg.RegisterTypeDecoder(reflect.TypeOf(""), bsoncodec.ValueDecoderFunc(decodeLooseString))
	return reg
}

func decodeLooseString(_ bsoncodec.DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
	if !val.CanSet() || val.Kind() != reflect.String {
		return bsoncodec.ValueDecoderError{Name: "decodeLooseString", Kinds: []reflect.Kind{reflect.String}, Received: val}
	}

	var (
		s   string
		err error
	)
	switch vr.Type() {
	case bsontype.String:
		s, err = vr.ReadString()
	case bsontype.Int32:
		var i int32
		i, err = vr.ReadInt32()
		s = strconv.FormatInt(int64(i), 10)
	case bsontype.Int64:
		var i int64
		i, err = vr.ReadInt64()
		s = strconv.FormatInt(i, 10)
	case bsontype.Double:
		var f float64
		f, err = vr.ReadDouble()
		s = strconv.FormatFloat(f, 'f', -1, 64)
	case bsontype.Decimal128:
		d, derr := vr.ReadDecimal128()
		s, err = d.String(), derr
	case bsontype.Boolean:
		var b bool
		b, err = vr.ReadBoolean()
		s = strconv.FormatBool(b)
	case bsontype.Symbol:
		s, err = vr.ReadSymbol()
	case bsontype.Null:
		err = vr.ReadNull()
	case bsontype.Undefined:
		err = vr.ReadUndefined()
	default:
		return fmt.Errorf("cannot decode %s into a string", vr.Type())
	}
	if err != nil {
		return err
	}
	val.SetString(s)
	return nil
}

// UnmarshalBSON decodes data into v using BSONRegistry.
func UnmarshalBSON(data []byte, v any) error {
	dec, err := bson.NewDecoder(bsonrw.NewBSONDocumentReader(data))
	if err != nil {
		return err
	}
	if err := dec.SetRegistry(BSONRegistry); err != nil {
		return err
	}
	return dec.Decode(v)
}

// DecodePaymentFieldsBSON decodes a payment document. When some keys hold
// values of an unusable type the remaining keys are still decoded; the
// returned error names the keys that were dropped.
func DecodePaymentFieldsBSON(raw bson.Raw) (PaymentFields, error) {
	var fields PaymentFields
	if err := UnmarshalBSON(raw, &fields); err == nil {
		return fields, nil
	}

	elems, err := raw.Elements()
	if err != nil {
		return PaymentFields{}, fmt.Errorf("decode payment document: %w", err)
	}
	fields = PaymentFields{}
	var errs []error
	for _, elem := range elems {
		doc, err := bson.Marshal(bson.D{{Key: elem.Key(), Value: elem.Value()}})
		if err == nil {
			// a failed decode can leave a pointer field allocated
			var scratch PaymentFields
			if err = UnmarshalBSON(doc, &scratch); err == nil {
				err = UnmarshalBSON(doc, &fields)
			}
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("field %s: %w", elem.Key(), err))
		}
	}
	return fields, errors.Join(errs...)
}

// DecodePaymentFieldsJSON is the JSON counterpart of DecodePaymentFieldsBSON.
// Scalars stored where a string is expected keep their literal text.
func DecodePaymentFieldsJSON(data []byte) (PaymentFields, error) {
	var fields PaymentFields
	if err := json.Unmarshal(data, &fields); err == nil {
		return fields, nil
	}

	var elems map[string]json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return PaymentFields{}, fmt.Errorf("decode payment document: %w", err)
	}
	fields = PaymentFields{}
	var errs []error
	for key, value := range elems {
		if err := decodeJSONField(&fields, key, value); err != nil {
			errs = append(errs, fmt.Errorf("field %s: %w", key, err))
		}
	}
	return fields, errors.Join(errs...)
}

func decodeJSONField(fields *PaymentFields, key string, value json.RawMessage) error {
	doc, err := json.Marshal(map[string]json.RawMessage{key: value})
	if err != nil {
		return err
	}
	err = applyJSON(fields, doc)
	if err == nil {
		return nil
	}

	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 || bytes.ContainsAny(trimmed[:1], `"{[`) || bytes.Equal(trimmed, []byte("null")) {
		return err
	}
	quoted, qerr := json.Marshal(map[string]string{key: string(trimmed)})
	if qerr != nil {
		return err
	}
	if applyJSON(fields, quoted) == nil {
		return nil
	}
	return err
}

// applyJSON decodes doc into fields only if it decodes cleanly.
func applyJSON(fields *PaymentFields, doc []byte) error {
	var scratch PaymentFields
	if err := json.Unmarshal(doc, &scratch); err != nil {
		return err
	}
	return json.Unmarshal(doc, fields)
}
