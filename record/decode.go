package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/google/uuid"
)

var errInvalidUTF8 = errors.New("invalid UTF-8")

// Read decodes fields from data, continuing where the previous call
// stopped. A field cut off at the end of data is buffered and completed by
// the next call. Bytes past the last field are ignored; Size reports how
// many bytes the decoded fields occupied.
func (r *Record) Read(data []byte) error {
	if len(r.pending) > 0 {
		r.pending = append(r.pending, data...)
		if len(r.pending) < r.need {
			return nil
		}
		data, r.pending = r.pending, nil
	}
	off := 0
	for r.pos < len(r.fields) && off < len(data) {
		f := &r.fields[r.pos]
		v, n, need, err := decodeField(f.tag, data[off:])
		if err != nil {
			return dataErrf(data, off, err, "field %d (%v)", r.pos, f.tag)
		}
		if n == 0 {
			r.need = need
			break
		}
		f.value, f.set = v, true
		r.size += n
		r.need = 0
		r.pos++
		off += n
	}
	if r.pos < len(r.fields) && off < len(data) {
		r.pending = clone(data[off:])
	}
	return nil
}

// Pending returns the minimum number of bytes the next Read must supply to
// finish the field in progress, or zero if no field is in progress.
func (r *Record) Pending() int {
	if len(r.pending) == 0 {
		return 0
	}
	return r.need - len(r.pending)
}

// decodeField decodes one field from the start of b. When b is too short it
// returns n == 0 and need, a lower bound on the bytes the field occupies.
func decodeField(t Tag, b []byte) (v any, n int, need int, err error) {
	if len(b) == 0 {
		return nil, 0, 1, nil
	}
	switch t {
	case TagNone, TagTrue, TagFalse:
		if b[0] != byte(t) {
			return nil, 0, 0, fmt.Errorf("expected %v byte, got %d", t, b[0])
		}
		switch t {
		case TagTrue:
			return true, 1, 0, nil
		case TagFalse:
			return false, 1, 0, nil
		}
		return nil, 1, 0, nil
	case TagKeyword:
		return decodeKeyword(b)
	case TagSymbol:
		return decodeSymbol(b)
	case TagUUID:
		if len(b) < 16 {
			return nil, 0, 16, nil
		}
		return uuid.UUID(b[:16]), 16, 0, nil
	case TagUUIDOrNone, TagUUIDOrKeyword, TagUUIDOrSymbol:
		switch d := Tag(b[0]); {
		case d == TagNone:
			return nil, 1, 0, nil
		case d == TagUUID:
			if len(b) < 17 {
				return nil, 0, 17, nil
			}
			return uuid.UUID(b[1:17]), 17, 0, nil
		case d == TagKeyword && t == TagUUIDOrKeyword:
			return shifted(decodeKeyword(b[1:]))
		case d == TagSymbol && t == TagUUIDOrSymbol:
			return shifted(decodeSymbol(b[1:]))
		default:
			return nil, 0, 0, fmt.Errorf("invalid %v discriminator %d", t, b[0])
		}
	case TagString:
		return decodeString(b)
	case TagStringOrNone:
		switch Tag(b[0]) {
		case TagNone:
			return nil, 1, 0, nil
		case TagString:
			return shifted(decodeString(b[1:]))
		default:
			return nil, 0, 0, fmt.Errorf("invalid %v discriminator %d", t, b[0])
		}
	case TagHash:
		if len(b) < 4 {
			return nil, 0, 4, nil
		}
		return binary.BigEndian.Uint32(b), 4, 0, nil
	case TagInt:
		if len(b) < 4 {
			return nil, 0, 4, nil
		}
		return int32(binary.BigEndian.Uint32(b)), 4, 0, nil
	case TagShort:
		if len(b) < 2 {
			return nil, 0, 2, nil
		}
		return int16(binary.BigEndian.Uint16(b)), 2, 0, nil
	case TagByte:
		return b[0], 1, 0, nil
	case TagBoolean:
		switch Tag(b[0]) {
		case TagNone:
			return nil, 1, 0, nil
		case TagTrue:
			return true, 1, 0, nil
		case TagFalse:
			return false, 1, 0, nil
		default:
			return nil, 0, 0, fmt.Errorf("invalid boolean byte %d", b[0])
		}
	case TagLong:
		if len(b) < 8 {
			return nil, 0, 8, nil
		}
		return int64(binary.BigEndian.Uint64(b)), 8, 0, nil
	case TagDouble:
		if len(b) < 8 {
			return nil, 0, 8, nil
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b)), 8, 0, nil
	case TagRecord:
		return decodeNested(b)
	}
	return nil, 0, 0, fmt.Errorf("unknown tag %d", uint8(t))
}

func shifted(v any, n, need int, err error) (any, int, int, error) {
	if n > 0 {
		n++
	}
	return v, n, need + 1, err
}

func decodeKeyword(b []byte) (any, int, int, error) {
	if len(b) == 0 {
		return nil, 0, 1, nil
	}
	size := int(int8(b[0]))
	if size == 0 {
		return nil, 1, 0, nil
	}
	raw := size < 0
	if raw {
		size = -size
	}
	if len(b) < 1+size {
		return nil, 0, 1 + size, nil
	}
	data := b[1 : 1+size]
	if raw {
		return clone(data), 1 + size, 0, nil
	}
	if !utf8.Valid(data) {
		return nil, 0, 0, errInvalidUTF8
	}
	return string(data), 1 + size, 0, nil
}

func decodeSymbol(b []byte) (any, int, int, error) {
	if len(b) == 0 {
		return nil, 0, 1, nil
	}
	size := int(b[0])
	if size == 0 {
		return nil, 1, 0, nil
	}
	if len(b) < 1+size {
		return nil, 0, 1 + size, nil
	}
	return string(b[1 : 1+size]), 1 + size, 0, nil
}

func decodeString(b []byte) (any, int, int, error) {
	if len(b) < 4 {
		return nil, 0, 4, nil
	}
	l := int64(int32(binary.BigEndian.Uint32(b)))
	if l == 0 {
		return nil, 0, 0, errors.New("zero string length")
	}
	raw := l < 0
	if raw {
		l = -l
	}
	size := int(l - 1)
	if len(b) < 4+size {
		return nil, 0, 4 + size, nil
	}
	data := b[4 : 4+size]
	if raw {
		return clone(data), 4 + size, 0, nil
	}
	if !utf8.Valid(data) {
		return nil, 0, 0, errInvalidUTF8
	}
	return string(data), 4 + size, 0, nil
}

func decodeNested(b []byte) (any, int, int, error) {
	if len(b) < 8 {
		return nil, 0, 8, nil
	}
	total := 4 + int(binary.BigEndian.Uint32(b))
	count := int(binary.BigEndian.Uint32(b[4:]))
	if total < 8 || count > total-8 {
		return nil, 0, 0, fmt.Errorf("nested record of %d bytes cannot hold %d fields", total, count)
	}
	if len(b) < total {
		return nil, 0, total, nil
	}
	tags := make([]Tag, count)
	for i, c := range b[8 : 8+count] {
		tags[i] = Tag(c)
		if !tags[i].valid() {
			return nil, 0, 0, fmt.Errorf("nested field %d has unknown tag %d", i, c)
		}
	}
	sub := NewReader(tags...)
	payload := b[8+count : total]
	if err := sub.Read(payload); err != nil {
		return nil, 0, 0, err
	}
	if !sub.Complete() || sub.size != len(payload) {
		return nil, 0, 0, fmt.Errorf("nested record length mismatch: %d of %d bytes used", sub.size, len(payload))
	}
	return sub, total, 0, nil
}
