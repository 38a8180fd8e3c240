package itemdb

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestVersionedKey_Layout(t *testing.T) {
	id := mustID("00112233-4455-6677-8899-aabbccddeeff")
	deepEqual(t, versionedKey(id, 1), x("00112233 44556677 8899aabb ccddeeff fffffffe"))
	deepEqual(t, historyKey(2, id), x("00000002 00112233 44556677 8899aabb ccddeeff"))

	gotID, v, err := decodeVersionedKey(versionedKey(id, 77))
	if err != nil || gotID != id || v != 77 {
		t.Fatalf("decodeVersionedKey = %v, %d, %v", gotID, v, err)
	}
	a, b, v, err := decodePairKey(pairKey(id, uuid.Nil, 5))
	if err != nil || a != id || b != uuid.Nil || v != 5 {
		t.Fatalf("decodePairKey = %v, %v, %d, %v", a, b, v, err)
	}
	v, gotID, err = decodeHistoryKey(historyKey(9, id))
	if err != nil || gotID != id || v != 9 {
		t.Fatalf("decodeHistoryKey = %d, %v, %v", v, gotID, err)
	}
}

func TestVersionedKey_NewerSortsFirst(t *testing.T) {
	id := uuid.New()
	if bytes.Compare(versionedKey(id, 2), versionedKey(id, 1)) >= 0 {
		t.Fatalf("version 2 does not sort before version 1")
	}
	if bytes.Compare(versionedKey(id, 0xFFFFFFFE), versionedKey(id, 0)) >= 0 {
		t.Fatalf("max version does not sort before version 0")
	}
}

func TestDecodeKey_Errors(t *testing.T) {
	_, _, err := decodeVersionedKey(x("0011"))
	var de *DataError
	if !errors.As(err, &de) {
		t.Fatalf("short key err = %v, wanted *DataError", err)
	}
	_, _, err = decodeVersionedKey(append(versionedKey(uuid.New(), 1), 0))
	if !errors.As(err, &de) {
		t.Fatalf("long key err = %v, wanted *DataError", err)
	}
}

func TestAttrID_Stable(t *testing.T) {
	if AttrID("title") != AttrID("title") {
		t.Fatalf("AttrID is not deterministic")
	}
	if AttrID("title") == AttrID("body") {
		t.Fatalf("AttrID collision")
	}
	if AttrID("title").Version() != 5 {
		t.Fatalf("AttrID version = %d, wanted 5", AttrID("title").Version())
	}
}

// A lookup at version v finds the newest record at or below v, and never a
// record of a neighboring prefix.
func TestFindVersioned(t *testing.T) {
	s := setup(t, testSchema)
	a := mustID("00000000-0000-0000-0000-00000000000a")
	b := mustID("00000000-0000-0000-0000-00000000000b")

	ensure(s.withTx(context.Background(), true, "test", func(tx *storeTx) error {
		ensure(tx.put(itemsBucket, versionedKey(a, 1), []byte("a1")))
		ensure(tx.put(itemsBucket, versionedKey(a, 3), []byte("a3")))
		ensure(tx.put(itemsBucket, versionedKey(b, 2), []byte("b2")))
		return nil
	}))

	type result struct {
		data    string
		version uint32
		ok      bool
	}
	lookup := func(id uuid.UUID, v uint32) result {
		var r result
		ensure(s.withTx(context.Background(), false, "test", func(tx *storeTx) error {
			data, found, ok, err := findVersioned(tx, itemsBucket, id[:], v)
			r = result{string(data), found, ok}
			return err
		}))
		return r
	}

	deepEqual(t, lookup(a, 0), result{})
	deepEqual(t, lookup(a, 1), result{"a1", 1, true})
	deepEqual(t, lookup(a, 2), result{"a1", 1, true})
	deepEqual(t, lookup(a, 3), result{"a3", 3, true})
	deepEqual(t, lookup(a, 100), result{"a3", 3, true})
	deepEqual(t, lookup(b, 1), result{})
	deepEqual(t, lookup(b, 5), result{"b2", 2, true})
	deepEqual(t, lookup(mustID("00000000-0000-0000-0000-00000000000c"), 5), result{})
}
