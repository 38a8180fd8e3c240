package itemdb

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreyvit/itemdb/record"
)

func TestNormalizeLiteral(t *testing.T) {
	tests := []struct {
		in  any
		out any
	}{
		{nil, nil},
		{true, true},
		{42, int64(42)},
		{int8(-3), int64(-3)},
		{int16(300), int64(300)},
		{int32(-70000), int64(-70000)},
		{uint8(200), int64(200)},
		{uint16(65535), int64(65535)},
		{uint32(math.MaxUint32), int64(math.MaxUint32)},
		{uint(7), int64(7)},
		{uint64(math.MaxInt64), int64(math.MaxInt64)},
		{float32(1.5), 1.5},
		{2.25, 2.25},
		{"s", "s"},
		{[]byte{1, 2}, []byte{1, 2}},
	}
	for _, tt := range tests {
		got, err := normalizeLiteral(tt.in)
		if assert.NoError(t, err, "%T", tt.in) {
			assert.Equal(t, tt.out, got, "%T", tt.in)
		}
	}

	_, err := normalizeLiteral(uint64(math.MaxInt64) + 1)
	assert.ErrorIs(t, err, ErrUnsupportedValue)
	_, err = normalizeLiteral(map[string]int{})
	assert.ErrorIs(t, err, ErrUnsupportedValue)

	local := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	got := must(normalizeLiteral(local)).(time.Time)
	assert.Equal(t, time.UTC, got.Location())
	assert.True(t, got.Equal(local))
}

func TestNormalizeLiteral_CopiesBytes(t *testing.T) {
	b := []byte{1, 2, 3}
	got := must(normalizeLiteral(b)).([]byte)
	b[0] = 9
	assert.Equal(t, []byte{1, 2, 3}, got)
}

// Every literal kind reads back as its canonical type after a commit and a
// reload in a fresh view.
func TestLiterals_SurviveCommit(t *testing.T) {
	s := setup(t, testSchema)
	w := openView(t, s, "w")
	n := newNote(t, w, "n", nil)

	stamp := time.Date(2023, 11, 5, 8, 30, 15, 123456789, time.UTC)
	uid := uuid.New()
	values := map[string]any{
		"none":  nil,
		"bool":  false,
		"int":   -12,
		"float": 0.5,
		"str":   "héllo",
		"empty": "",
		"bytes": []byte{0, 255},
		"uuid":  uid,
		"time":  stamp,
		"list":  must(NewValueList(1, "a", must(NewValueList(true)))),
	}
	for name, val := range values {
		require.NoError(t, n.SetValue(name, val), name)
	}
	commit(t, w)

	r := openView(t, s, "r")
	item := must(r.Find(n.ID()))
	assert.Nil(t, get(t, item, "none"))
	assert.True(t, item.Has("none"))
	assert.Equal(t, false, get(t, item, "bool"))
	assert.Equal(t, int64(-12), get(t, item, "int"))
	assert.Equal(t, 0.5, get(t, item, "float"))
	assert.Equal(t, "héllo", get(t, item, "str"))
	assert.Equal(t, "", get(t, item, "empty"))
	assert.Equal(t, []byte{0, 255}, get(t, item, "bytes"))
	assert.Equal(t, uid, get(t, item, "uuid"))
	assert.True(t, stamp.Equal(get(t, item, "time").(time.Time)))
	assert.True(t, values["list"].(*ValueList).Equal(get(t, item, "list").(*ValueList)))
}

func TestDecodeLiteral_Malformed(t *testing.T) {
	_, err := decodeLiteral(record.New().MustAppend(record.TagByte, litInt))
	assert.Error(t, err)

	_, err = decodeLiteral(record.New().MustAppend(record.TagByte, uint8(99)).MustAppend(record.TagNone, nil))
	assert.ErrorContains(t, err, "unknown literal kind")

	_, err = decodeLiteral(record.New().MustAppend(record.TagString, "x").MustAppend(record.TagNone, nil))
	assert.ErrorContains(t, err, "literal kind")
}
