// Package record implements the self-describing tagged binary encoding used
// for every key and value the item store writes.
//
// A Record is an ordered list of (tag, value) fields. Writers append fields
// and the exact encoded size is maintained incrementally, so Write can check
// the destination up front. Readers are built from a list of tags and are
// fed bytes with Read; a field cut off in the middle is buffered and decoding
// resumes with the next chunk.
//
// # Wire format
//
// Multi-byte integers are big-endian.
//
//   - NONE, TRUE, FALSE: a single tag byte.
//   - KEYWORD: length byte (signed; negative means raw bytes, zero means
//     none) followed by at most 127 bytes.
//   - SYMBOL: unsigned length byte (zero means none), at most 255 ASCII bytes.
//   - UUID: 16 bytes.
//   - UUID_OR_NONE, UUID_OR_KEYWORD, UUID_OR_SYMBOL: a discriminator tag
//     byte, then the selected encoding.
//   - STRING: int32 length n+1 (negated for raw bytes), then n bytes.
//   - STRING_OR_NONE: discriminator, then STRING.
//   - HASH, INT: 4 bytes. SHORT: 2 bytes. BYTE: 1 byte. LONG, DOUBLE: 8 bytes.
//   - BOOLEAN: TRUE, FALSE or NONE tag byte.
//   - RECORD: uint32 length, uint32 field count, one tag byte per field,
//     then the nested fields. Nested records carry their own tag list, so
//     they decode without an external schema.
package record

import (
	"fmt"
	"strings"
)

// Tag identifies the encoding of a single field.
type Tag uint8

const (
	TagNone Tag = iota
	TagTrue
	TagFalse
	TagKeyword
	TagSymbol
	TagUUID
	TagUUIDOrNone
	TagUUIDOrKeyword
	TagUUIDOrSymbol
	TagString
	TagStringOrNone
	TagHash
	TagInt
	TagShort
	TagByte
	TagBoolean
	TagLong
	TagDouble
	TagRecord

	tagCount
)

const (
	MaxKeywordLen = 127
	MaxSymbolLen  = 255
)

var tagNames = [...]string{
	TagNone:          "NONE",
	TagTrue:          "TRUE",
	TagFalse:         "FALSE",
	TagKeyword:       "KEYWORD",
	TagSymbol:        "SYMBOL",
	TagUUID:          "UUID",
	TagUUIDOrNone:    "UUID_OR_NONE",
	TagUUIDOrKeyword: "UUID_OR_KEYWORD",
	TagUUIDOrSymbol:  "UUID_OR_SYMBOL",
	TagString:        "STRING",
	TagStringOrNone:  "STRING_OR_NONE",
	TagHash:          "HASH",
	TagInt:           "INT",
	TagShort:         "SHORT",
	TagByte:          "BYTE",
	TagBoolean:       "BOOLEAN",
	TagLong:          "LONG",
	TagDouble:        "DOUBLE",
	TagRecord:        "RECORD",
}

func (t Tag) String() string {
	if t < tagCount {
		return tagNames[t]
	}
	return fmt.Sprintf("Tag(%d)", uint8(t))
}

func (t Tag) valid() bool {
	return t < tagCount
}

type field struct {
	tag   Tag
	value any
	set   bool
}

// Record is an ordered sequence of tagged fields. The zero value is an empty
// record ready for appending.
type Record struct {
	fields []field
	size   int

	// read state
	pos     int
	pending []byte
	need    int
}

// New returns an empty record for writing.
func New() *Record {
	return &Record{}
}

// NewReader returns a record that expects the given field tags and is
// filled by Read.
func NewReader(tags ...Tag) *Record {
	r := &Record{fields: make([]field, len(tags))}
	for i, t := range tags {
		if !t.valid() {
			panic(fmt.Errorf("record: invalid tag %d", uint8(t)))
		}
		r.fields[i].tag = t
	}
	return r
}

// Of builds a record from alternating tag, value arguments.
func Of(pairs ...any) (*Record, error) {
	if len(pairs)%2 != 0 {
		return nil, fmt.Errorf("%w: odd number of arguments (%d)", ErrType, len(pairs))
	}
	r := New()
	for i := 0; i < len(pairs); i += 2 {
		t, ok := pairs[i].(Tag)
		if !ok {
			return nil, fmt.Errorf("%w: argument %d is %T, wanted Tag", ErrType, i, pairs[i])
		}
		if err := r.Append(t, pairs[i+1]); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Decode reads a complete record with the given tags from data.
func Decode(data []byte, tags ...Tag) (*Record, error) {
	r := NewReader(tags...)
	if err := r.Read(data); err != nil {
		return nil, err
	}
	if !r.Complete() {
		return nil, dataErrf(data, len(data), nil, "truncated record: %d of %d fields decoded", r.pos, len(r.fields))
	}
	return r, nil
}

// Size is the exact number of bytes Write will produce.
func (r *Record) Size() int {
	return r.size
}

func (r *Record) Len() int {
	return len(r.fields)
}

func (r *Record) Tag(i int) Tag {
	return r.fields[i].tag
}

func (r *Record) Tags() []Tag {
	tags := make([]Tag, len(r.fields))
	for i, f := range r.fields {
		tags[i] = f.tag
	}
	return tags
}

// Value returns the i-th value; a negative index counts from the end.
func (r *Record) Value(i int) any {
	if i < 0 {
		i += len(r.fields)
	}
	return r.fields[i].value
}

func (r *Record) Values() []any {
	values := make([]any, len(r.fields))
	for i, f := range r.fields {
		values[i] = f.value
	}
	return values
}

// IsSet tells whether the i-th field has been appended or decoded.
func (r *Record) IsSet(i int) bool {
	return r.fields[i].set
}

// Complete reports whether every field has a value.
func (r *Record) Complete() bool {
	for _, f := range r.fields {
		if !f.set {
			return false
		}
	}
	return true
}

// Contains tells whether any decoded or appended value equals v.
func (r *Record) Contains(v any) bool {
	for _, f := range r.fields {
		if f.set && equalValues(f.value, v) {
			return true
		}
	}
	return false
}

// Reset clears all values so the record can decode another buffer with the
// same tags.
func (r *Record) Reset() {
	for i := range r.fields {
		r.fields[i].value = nil
		r.fields[i].set = false
	}
	r.size = 0
	r.pos = 0
	r.pending = nil
	r.need = 0
}

func (r *Record) String() string {
	var buf strings.Builder
	buf.WriteString("Record(")
	for i, f := range r.fields {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(f.tag.String())
		buf.WriteByte('=')
		if !f.set {
			buf.WriteString("<unset>")
		} else {
			fmt.Fprintf(&buf, "%v", f.value)
		}
	}
	buf.WriteByte(')')
	return buf.String()
}

func equalValues(a, b any) bool {
	if ab, ok := a.([]byte); ok {
		bb, ok := b.([]byte)
		return ok && string(ab) == string(bb)
	}
	if ar, ok := a.(*Record); ok {
		br, ok := b.(*Record)
		return ok && ar.Equal(br)
	}
	if _, ok := b.([]byte); ok {
		return false
	}
	if _, ok := b.(*Record); ok {
		return false
	}
	return a == b
}

// Equal compares tags and values field by field.
func (r *Record) Equal(another *Record) bool {
	if r == nil || another == nil {
		return r == another
	}
	if len(r.fields) != len(another.fields) {
		return false
	}
	for i, f := range r.fields {
		g := another.fields[i]
		if f.tag != g.tag || f.set != g.set || !equalValues(f.value, g.value) {
			return false
		}
	}
	return true
}
