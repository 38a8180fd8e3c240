package record

import (
	"encoding/binary"
	"math"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Append adds a field. The value is normalized to the tag's canonical Go
// type (the type Read produces): integers become int32/int16/uint8/int64,
// integers assigned to DOUBLE are widened, floats assigned to integer tags
// are truncated, and HASH fields given a string or []byte store its digest.
//
// Length budgets are checked here, so an oversized value never reaches Write.
func (r *Record) Append(t Tag, v any) error {
	nv, n, err := normalize(t, v)
	if err != nil {
		return err
	}
	r.fields = append(r.fields, field{tag: t, value: nv, set: true})
	r.size += n
	return nil
}

// MustAppend is Append that panics on error, for values known to be valid.
func (r *Record) MustAppend(t Tag, v any) *Record {
	if err := r.Append(t, v); err != nil {
		panic(err)
	}
	return r
}

// Write encodes the record into buf, which must be exactly Size bytes.
func (r *Record) Write(buf []byte) error {
	if len(buf) < r.size {
		return overflowErr(TagRecord, r.size, len(buf))
	}
	if len(buf) != r.size {
		return ErrPartialWrite
	}
	if r.size == 0 {
		return nil
	}
	out := r.Encode(buf[:0])
	if len(out) != r.size || &out[0] != &buf[0] {
		panic("record: size mismatch")
	}
	return nil
}

// Encode appends the encoded record to dst.
func (r *Record) Encode(dst []byte) []byte {
	for _, f := range r.fields {
		if !f.set {
			panic("record: encoding an incomplete record")
		}
		dst = appendField(dst, f.tag, f.value)
	}
	return dst
}

// Bytes returns the encoded record.
func (r *Record) Bytes() []byte {
	return r.Encode(make([]byte, 0, r.size))
}

func normalize(t Tag, v any) (any, int, error) {
	switch t {
	case TagNone:
		if v != nil {
			return nil, 0, typeErr(t, v)
		}
		return nil, 1, nil
	case TagTrue, TagFalse:
		if b, ok := v.(bool); !ok || b != (t == TagTrue) {
			return nil, 0, typeErr(t, v)
		}
		return t == TagTrue, 1, nil
	case TagKeyword:
		return normKeyword(t, v)
	case TagSymbol:
		return normSymbol(t, v)
	case TagUUID:
		id, ok := v.(uuid.UUID)
		if !ok {
			return nil, 0, typeErr(t, v)
		}
		return id, 16, nil
	case TagUUIDOrNone:
		if v == nil {
			return nil, 1, nil
		}
		id, ok := v.(uuid.UUID)
		if !ok {
			return nil, 0, typeErr(t, v)
		}
		return id, 17, nil
	case TagUUIDOrKeyword, TagUUIDOrSymbol:
		if v == nil {
			return nil, 1, nil
		}
		if id, ok := v.(uuid.UUID); ok {
			return id, 17, nil
		}
		var nv any
		var n int
		var err error
		if t == TagUUIDOrKeyword {
			nv, n, err = normKeyword(t, v)
		} else {
			nv, n, err = normSymbol(t, v)
		}
		if err != nil || nv == nil {
			return nv, 1, err
		}
		return nv, n + 1, nil
	case TagString:
		return normString(t, v)
	case TagStringOrNone:
		if v == nil {
			return nil, 1, nil
		}
		nv, n, err := normString(t, v)
		return nv, n + 1, err
	case TagHash:
		switch v := v.(type) {
		case uint32:
			return v, 4, nil
		case string:
			return HashString(v), 4, nil
		case []byte:
			return Hash32(v), 4, nil
		}
		i, ok := intValue(v)
		if !ok {
			return nil, 0, typeErr(t, v)
		}
		if i < math.MinInt32 || i > math.MaxUint32 {
			return nil, 0, overflowErr(t, 8, 4)
		}
		return uint32(i), 4, nil
	case TagInt:
		i, err := intOrTruncated(t, v, math.MinInt32, math.MaxInt32)
		return int32(i), 4, err
	case TagShort:
		i, err := intOrTruncated(t, v, math.MinInt16, math.MaxInt16)
		return int16(i), 2, err
	case TagByte:
		if s, ok := v.(string); ok && len(s) == 1 {
			return s[0], 1, nil
		}
		i, err := intOrTruncated(t, v, math.MinInt8, math.MaxUint8)
		return uint8(i), 1, err
	case TagBoolean:
		if v == nil {
			return nil, 1, nil
		}
		b, ok := v.(bool)
		if !ok {
			return nil, 0, typeErr(t, v)
		}
		return b, 1, nil
	case TagLong:
		if u, ok := v.(uint64); ok {
			return int64(u), 8, nil
		}
		i, err := intOrTruncated(t, v, math.MinInt64, math.MaxInt64)
		return i, 8, err
	case TagDouble:
		if f, ok := floatValue(v); ok {
			return f, 8, nil
		}
		if u, ok := v.(uint64); ok {
			return float64(u), 8, nil
		}
		if i, ok := intValue(v); ok {
			return float64(i), 8, nil
		}
		return nil, 0, typeErr(t, v)
	case TagRecord:
		sub, ok := v.(*Record)
		if !ok || sub == nil {
			return nil, 0, typeErr(t, v)
		}
		if !sub.Complete() {
			return nil, 0, typeErr(t, v)
		}
		n := 8 + len(sub.fields) + sub.size
		if n > math.MaxUint32 {
			return nil, 0, overflowErr(t, n, math.MaxUint32)
		}
		return sub, n, nil
	default:
		return nil, 0, typeErr(t, v)
	}
}

func normKeyword(t Tag, v any) (any, int, error) {
	switch v := v.(type) {
	case nil:
		return nil, 1, nil
	case string:
		if !utf8.ValidString(v) {
			return nil, 0, typeErr(t, v)
		}
		if len(v) > MaxKeywordLen {
			return nil, 0, overflowErr(t, len(v), MaxKeywordLen)
		}
		if v == "" {
			return nil, 1, nil
		}
		return v, 1 + len(v), nil
	case []byte:
		if len(v) > MaxKeywordLen {
			return nil, 0, overflowErr(t, len(v), MaxKeywordLen)
		}
		if len(v) == 0 {
			return nil, 1, nil
		}
		return clone(v), 1 + len(v), nil
	}
	return nil, 0, typeErr(t, v)
}

func normSymbol(t Tag, v any) (any, int, error) {
	if v == nil {
		return nil, 1, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, 0, typeErr(t, v)
	}
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return nil, 0, typeErr(t, v)
		}
	}
	if len(s) > MaxSymbolLen {
		return nil, 0, overflowErr(t, len(s), MaxSymbolLen)
	}
	if s == "" {
		return nil, 1, nil
	}
	return s, 1 + len(s), nil
}

func normString(t Tag, v any) (any, int, error) {
	switch v := v.(type) {
	case string:
		if !utf8.ValidString(v) {
			return nil, 0, typeErr(t, v)
		}
		if len(v) >= math.MaxInt32 {
			return nil, 0, overflowErr(t, len(v), math.MaxInt32-1)
		}
		return v, 4 + len(v), nil
	case []byte:
		if len(v) >= math.MaxInt32 {
			return nil, 0, overflowErr(t, len(v), math.MaxInt32-1)
		}
		return clone(v), 4 + len(v), nil
	}
	return nil, 0, typeErr(t, v)
}

func intValue(v any) (int64, bool) {
	switch v := v.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		return int64(v), v <= math.MaxInt64
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		return int64(v), v <= math.MaxInt64
	}
	return 0, false
}

func floatValue(v any) (float64, bool) {
	switch v := v.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	}
	return 0, false
}

func intOrTruncated(t Tag, v any, lo, hi int64) (int64, error) {
	if f, ok := floatValue(v); ok {
		f = math.Trunc(f)
		if math.IsNaN(f) || f < float64(lo) || f > float64(hi) {
			return 0, overflowErr(t, 8, int(hi))
		}
		return int64(f), nil
	}
	i, ok := intValue(v)
	if !ok {
		if _, isUint := v.(uint64); isUint {
			return 0, overflowErr(t, 8, int(hi))
		}
		if _, isUint := v.(uint); isUint {
			return 0, overflowErr(t, 8, int(hi))
		}
		return 0, typeErr(t, v)
	}
	if i < lo || i > hi {
		return 0, overflowErr(t, 8, int(hi))
	}
	return i, nil
}

func appendField(dst []byte, t Tag, v any) []byte {
	switch t {
	case TagNone, TagTrue, TagFalse:
		return append(dst, byte(t))
	case TagKeyword:
		return appendKeyword(dst, v)
	case TagSymbol:
		return appendSymbol(dst, v)
	case TagUUID:
		id := v.(uuid.UUID)
		return append(dst, id[:]...)
	case TagUUIDOrNone, TagUUIDOrKeyword, TagUUIDOrSymbol:
		switch v := v.(type) {
		case nil:
			return append(dst, byte(TagNone))
		case uuid.UUID:
			dst = append(dst, byte(TagUUID))
			return append(dst, v[:]...)
		}
		if t == TagUUIDOrKeyword {
			return appendKeyword(append(dst, byte(TagKeyword)), v)
		}
		return appendSymbol(append(dst, byte(TagSymbol)), v)
	case TagString:
		return appendString(dst, v)
	case TagStringOrNone:
		if v == nil {
			return append(dst, byte(TagNone))
		}
		return appendString(append(dst, byte(TagString)), v)
	case TagHash:
		return binary.BigEndian.AppendUint32(dst, v.(uint32))
	case TagInt:
		return binary.BigEndian.AppendUint32(dst, uint32(v.(int32)))
	case TagShort:
		return binary.BigEndian.AppendUint16(dst, uint16(v.(int16)))
	case TagByte:
		return append(dst, v.(uint8))
	case TagBoolean:
		switch v {
		case true:
			return append(dst, byte(TagTrue))
		case false:
			return append(dst, byte(TagFalse))
		}
		return append(dst, byte(TagNone))
	case TagLong:
		return binary.BigEndian.AppendUint64(dst, uint64(v.(int64)))
	case TagDouble:
		return binary.BigEndian.AppendUint64(dst, math.Float64bits(v.(float64)))
	case TagRecord:
		sub := v.(*Record)
		n := len(sub.fields)
		dst = binary.BigEndian.AppendUint32(dst, uint32(4+n+sub.size))
		dst = binary.BigEndian.AppendUint32(dst, uint32(n))
		for _, f := range sub.fields {
			dst = append(dst, byte(f.tag))
		}
		return sub.Encode(dst)
	}
	panic("record: unknown tag " + t.String())
}

func appendKeyword(dst []byte, v any) []byte {
	switch v := v.(type) {
	case string:
		dst = append(dst, byte(int8(len(v))))
		return append(dst, v...)
	case []byte:
		dst = append(dst, byte(-int8(len(v))))
		return append(dst, v...)
	}
	return append(dst, 0)
}

func appendSymbol(dst []byte, v any) []byte {
	s, _ := v.(string)
	dst = append(dst, byte(len(s)))
	return append(dst, s...)
}

func appendString(dst []byte, v any) []byte {
	switch v := v.(type) {
	case string:
		dst = binary.BigEndian.AppendUint32(dst, uint32(int32(len(v)+1)))
		return append(dst, v...)
	case []byte:
		dst = binary.BigEndian.AppendUint32(dst, uint32(-int32(len(v)+1)))
		return append(dst, v...)
	}
	panic("record: invalid string value")
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
