package itemdb

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/andreyvit/itemdb/record"
)

// literal kinds, the first field of every encoded literal
const (
	litNone uint8 = iota
	litBool
	litInt
	litFloat
	litString
	litBytes
	litUUID
	litTime
	litList
)

// normalizeLiteral converts v to the canonical Go type it reads back as:
// integers become int64, floats float64. Lists are passed through.
func normalizeLiteral(v any) (any, error) {
	switch v := v.(type) {
	case nil, bool, int64, float64, string, uuid.UUID, *ValueList:
		return v, nil
	case []byte:
		return append([]byte(nil), v...), nil
	case time.Time:
		return v.UTC(), nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint:
		if uint64(v) > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d overflows int64", ErrUnsupportedValue, v)
		}
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d overflows int64", ErrUnsupportedValue, v)
		}
		return int64(v), nil
	case float32:
		return float64(v), nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
}

func encodeLiteral(v any) (*record.Record, error) {
	r := record.New()
	var err error
	switch v := v.(type) {
	case nil:
		r.MustAppend(record.TagByte, litNone)
		err = r.Append(record.TagNone, nil)
	case bool:
		r.MustAppend(record.TagByte, litBool)
		err = r.Append(record.TagBoolean, v)
	case int64:
		r.MustAppend(record.TagByte, litInt)
		err = r.Append(record.TagLong, v)
	case float64:
		r.MustAppend(record.TagByte, litFloat)
		err = r.Append(record.TagDouble, v)
	case string:
		r.MustAppend(record.TagByte, litString)
		err = r.Append(record.TagString, v)
	case []byte:
		r.MustAppend(record.TagByte, litBytes)
		err = r.Append(record.TagString, v)
	case uuid.UUID:
		r.MustAppend(record.TagByte, litUUID)
		err = r.Append(record.TagUUID, v)
	case time.Time:
		r.MustAppend(record.TagByte, litTime)
		err = r.Append(record.TagLong, v.UnixNano())
	case *ValueList:
		elems := record.New()
		for _, e := range v.items {
			lit, err := encodeLiteral(e)
			if err != nil {
				return nil, err
			}
			elems.MustAppend(record.TagRecord, lit)
		}
		r.MustAppend(record.TagByte, litList)
		err = r.Append(record.TagRecord, elems)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func decodeLiteral(r *record.Record) (any, error) {
	if r.Len() != 2 {
		return nil, fmt.Errorf("literal record has %d fields", r.Len())
	}
	kind, ok := r.Value(0).(uint8)
	if !ok {
		return nil, fmt.Errorf("literal kind is %T", r.Value(0))
	}
	payload := r.Value(1)
	switch kind {
	case litNone:
		return nil, nil
	case litBool:
		return payload.(bool), nil
	case litInt:
		return payload.(int64), nil
	case litFloat:
		return payload.(float64), nil
	case litString:
		s, ok := payload.(string)
		if !ok {
			return nil, fmt.Errorf("string literal holds %T", payload)
		}
		return s, nil
	case litBytes:
		b, ok := payload.([]byte)
		if !ok {
			return nil, fmt.Errorf("bytes literal holds %T", payload)
		}
		return b, nil
	case litUUID:
		return payload.(uuid.UUID), nil
	case litTime:
		return time.Unix(0, payload.(int64)).UTC(), nil
	case litList:
		elems := payload.(*record.Record)
		list := &ValueList{items: make([]any, elems.Len())}
		for i := range list.items {
			sub, ok := elems.Value(i).(*record.Record)
			if !ok {
				return nil, fmt.Errorf("list element %d is %T", i, elems.Value(i))
			}
			e, err := decodeLiteral(sub)
			if err != nil {
				return nil, err
			}
			list.items[i] = e
		}
		return list, nil
	}
	return nil, fmt.Errorf("unknown literal kind %d", kind)
}
