package itemdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/andreyvit/itemdb/record"
)

const (
	itemsBucket    = "items"
	valuesBucket   = "values"
	refsBucket     = "refs"
	versionsBucket = "versions"
	historyBucket  = "history"
	kindsBucket    = "kinds"
	parentsBucket  = "parents"
	metaBucket     = "meta"
)

var allBuckets = []string{
	itemsBucket, valuesBucket, refsBucket, versionsBucket,
	historyBucket, kindsBucket, parentsBucket, metaBucket,
}

const (
	metaKey       = "store"
	formatVersion = 1
)

type storeMeta struct {
	Root    uuid.UUID `msgpack:"root"`
	Format  int       `msgpack:"fmt"`
	Created time.Time `msgpack:"ct"`
}

// CommitInfo describes one committed version.
type CommitInfo struct {
	Version uint32    `msgpack:"v"`
	Time    time.Time `msgpack:"t"`
	View    string    `msgpack:"view"`
	Items   int       `msgpack:"n"`
	Bytes   int       `msgpack:"b"`
}

// findVersioned positions the transaction's cursor at the newest record of
// prefix whose version is at most version. A seek can land on a record of an
// unrelated prefix, so the prefix is confirmed before reporting a hit.
func findVersioned(tx *storeTx, bucket string, prefix []byte, version uint32) ([]byte, uint32, bool, error) {
	c, err := tx.cursor(bucket)
	if err != nil {
		return nil, 0, false, err
	}
	kb := keyBuilder{Buf: make([]byte, 0, len(prefix)+versionLen)}
	kb.Buf = append(kb.Buf, prefix...)
	seek := kb.AppendInvVersion(version).Bytes()

	k, v := c.Seek(seek)
	if k == nil || len(k) != len(prefix)+versionLen || !bytes.HasPrefix(k, prefix) {
		return nil, 0, false, nil
	}
	return v, ^binary.BigEndian.Uint32(k[len(prefix):]), true, nil
}

// findRecord is findVersioned plus decoding; absence is reported as a nil
// record, not an error.
func findRecord(tx *storeTx, bucket string, prefix []byte, version uint32, tags ...record.Tag) (*record.Record, uint32, error) {
	data, found, ok, err := findVersioned(tx, bucket, prefix, version)
	if err != nil || !ok {
		return nil, 0, err
	}
	rec, err := record.Decode(data, tags...)
	if err != nil {
		return nil, 0, fmt.Errorf("%s/%x@%d: %w", bucket, prefix, found, err)
	}
	return rec, found, nil
}

func putRecord(tx *storeTx, bucket string, key []byte, rec *record.Record) error {
	return tx.put(bucket, key, rec.Bytes())
}

// --- items ---

type itemRecord struct {
	ID      uuid.UUID
	Version uint32
	Kind    uuid.UUID
	Parent  uuid.UUID
	Name    string
	Status  Status
	Values  []string
	Refs    []string
}

var itemRecordTags = []record.Tag{
	record.TagUUIDOrNone,   // kind
	record.TagUUIDOrNone,   // parent
	record.TagStringOrNone, // name
	record.TagInt,          // status
	record.TagRecord,       // value names
	record.TagRecord,       // ref names
}

func optID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}

func optString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func namesRecord(names []string) *record.Record {
	r := record.New()
	for _, n := range names {
		r.MustAppend(record.TagString, n)
	}
	return r
}

func recordNames(r *record.Record) ([]string, error) {
	names := make([]string, r.Len())
	for i := range names {
		s, ok := r.Value(i).(string)
		if !ok {
			return nil, fmt.Errorf("attribute name %d is %T", i, r.Value(i))
		}
		names[i] = s
	}
	return names, nil
}

func (ir *itemRecord) encode() (*record.Record, error) {
	return record.Of(
		record.TagUUIDOrNone, optID(ir.Kind),
		record.TagUUIDOrNone, optID(ir.Parent),
		record.TagStringOrNone, optString(ir.Name),
		record.TagInt, int32(ir.Status),
		record.TagRecord, namesRecord(ir.Values),
		record.TagRecord, namesRecord(ir.Refs),
	)
}

func decodeItemRecord(id uuid.UUID, version uint32, rec *record.Record) (*itemRecord, error) {
	ir := &itemRecord{ID: id, Version: version}
	if v, ok := rec.Value(0).(uuid.UUID); ok {
		ir.Kind = v
	}
	if v, ok := rec.Value(1).(uuid.UUID); ok {
		ir.Parent = v
	}
	if v, ok := rec.Value(2).(string); ok {
		ir.Name = v
	}
	ir.Status = Status(uint32(rec.Value(3).(int32)))
	var err error
	if ir.Values, err = recordNames(rec.Value(4).(*record.Record)); err != nil {
		return nil, err
	}
	if ir.Refs, err = recordNames(rec.Value(5).(*record.Record)); err != nil {
		return nil, err
	}
	return ir, nil
}

func findItemRecord(tx *storeTx, id uuid.UUID, version uint32) (*itemRecord, error) {
	rec, found, err := findRecord(tx, itemsBucket, id[:], version, itemRecordTags...)
	if err != nil || rec == nil {
		return nil, err
	}
	return decodeItemRecord(id, found, rec)
}

func putItemRecord(tx *storeTx, ir *itemRecord) error {
	rec, err := ir.encode()
	if err != nil {
		return err
	}
	return putRecord(tx, itemsBucket, versionedKey(ir.ID, ir.Version), rec)
}

// --- values ---

func putValue(tx *storeTx, item uuid.UUID, name string, version uint32, flags ValueFlags, lit *record.Record) error {
	rec, err := record.Of(
		record.TagByte, uint8(flags&persistentValueFlags),
		record.TagRecord, lit,
	)
	if err != nil {
		return err
	}
	return putRecord(tx, valuesBucket, pairKey(item, AttrID(name), version), rec)
}

func findValue(tx *storeTx, item uuid.UUID, name string, version uint32) (any, ValueFlags, bool, error) {
	rec, _, err := findRecord(tx, valuesBucket, pairPrefix(item, AttrID(name)), version, record.TagByte, record.TagRecord)
	if err != nil || rec == nil {
		return nil, 0, false, err
	}
	v, err := decodeLiteral(rec.Value(1).(*record.Record))
	if err != nil {
		return nil, 0, false, itemErrf(nil, name, err, "decoding value of %v", item)
	}
	return v, ValueFlags(rec.Value(0).(uint8)), true, nil
}

// --- refs ---

type refEntry struct {
	Name   string
	Flags  ValueFlags
	Target uuid.UUID
}

func putRefs(tx *storeTx, id uuid.UUID, version uint32, entries []refEntry) error {
	triples := record.New()
	for _, e := range entries {
		triples.MustAppend(record.TagString, e.Name)
		triples.MustAppend(record.TagByte, uint8(e.Flags&persistentValueFlags))
		triples.MustAppend(record.TagUUIDOrNone, optID(e.Target))
	}
	rec := record.New().MustAppend(record.TagRecord, triples)
	return putRecord(tx, refsBucket, versionedKey(id, version), rec)
}

func findRefs(tx *storeTx, id uuid.UUID, version uint32) ([]refEntry, error) {
	rec, _, err := findRecord(tx, refsBucket, id[:], version, record.TagRecord)
	if err != nil || rec == nil {
		return nil, err
	}
	triples := rec.Value(0).(*record.Record)
	if triples.Len()%3 != 0 {
		return nil, idErr(id, fmt.Errorf("refs record has %d fields", triples.Len()))
	}
	entries := make([]refEntry, 0, triples.Len()/3)
	for i := 0; i < triples.Len(); i += 3 {
		name, ok1 := triples.Value(i).(string)
		flags, ok2 := triples.Value(i + 1).(uint8)
		if !ok1 || !ok2 {
			return nil, idErr(id, fmt.Errorf("malformed refs record %v", triples))
		}
		e := refEntry{Name: name, Flags: ValueFlags(flags)}
		if t, ok := triples.Value(i + 2).(uuid.UUID); ok {
			e.Target = t
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// --- versions ---

func currentVersion(tx *storeTx, root uuid.UUID) (uint32, error) {
	data, err := tx.get(versionsBucket, root[:])
	if err != nil || data == nil {
		return 0, err
	}
	if len(data) != versionLen {
		return 0, dataErrf(data, 0, nil, "invalid version record")
	}
	return ^binary.BigEndian.Uint32(data), nil
}

func setCurrentVersion(tx *storeTx, root uuid.UUID, version uint32) error {
	return tx.put(versionsBucket, root[:], binary.BigEndian.AppendUint32(nil, ^version))
}

func putCommitInfo(tx *storeTx, root uuid.UUID, info *CommitInfo) error {
	data, err := msgpack.Marshal(info)
	if err != nil {
		return err
	}
	return tx.put(versionsBucket, versionedKey(root, info.Version), data)
}

func getCommitInfo(tx *storeTx, root uuid.UUID, version uint32) (*CommitInfo, error) {
	data, err := tx.get(versionsBucket, versionedKey(root, version))
	if err != nil || data == nil {
		return nil, err
	}
	info := new(CommitInfo)
	if err := msgpack.Unmarshal(data, info); err != nil {
		return nil, dataErrf(data, 0, err, "commit info %d", version)
	}
	return info, nil
}

// --- history ---

type historyEntry struct {
	Version uint32
	ID      uuid.UUID
	Status  Status
	Dirty   Status
}

var historyTags = []record.Tag{record.TagInt, record.TagInt}

func putHistory(tx *storeTx, e historyEntry) error {
	rec, err := record.Of(record.TagInt, int32(e.Status), record.TagInt, int32(e.Dirty))
	if err != nil {
		return err
	}
	return putRecord(tx, historyBucket, historyKey(e.Version, e.ID), rec)
}

// applyHistory calls fn for every item change with fromVersion < version <=
// toVersion, in version order.
func applyHistory(tx *storeTx, fromVersion, toVersion uint32, fn func(e historyEntry) error) error {
	if toVersion <= fromVersion {
		return nil
	}
	c, err := tx.cursor(historyBucket)
	if err != nil {
		return err
	}
	for k, val := range fromKey(historyVersionPrefix(fromVersion + 1)).entries(c) {
		version, id, err := decodeHistoryKey(k)
		if err != nil {
			return err
		}
		if version > toVersion {
			break
		}
		rec, err := record.Decode(val, historyTags...)
		if err != nil {
			return err
		}
		e := historyEntry{
			Version: version,
			ID:      id,
			Status:  Status(uint32(rec.Value(0).(int32))),
			Dirty:   Status(uint32(rec.Value(1).(int32))),
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// --- kinds and parents secondary indexes ---

var indexTags = []record.Tag{record.TagStringOrNone, record.TagBoolean}

func putIndexEntry(tx *storeTx, bucket string, owner, id uuid.UUID, version uint32, name string, live bool) error {
	rec, err := record.Of(record.TagStringOrNone, optString(name), record.TagBoolean, live)
	if err != nil {
		return err
	}
	return putRecord(tx, bucket, pairKey(owner, id, version), rec)
}

// scanIndex reports, for every item ever filed under owner, the newest
// index entry visible at version.
func scanIndex(tx *storeTx, bucket string, owner uuid.UUID, version uint32, fn func(id uuid.UUID, name string, live bool) error) error {
	c, err := tx.cursor(bucket)
	if err != nil {
		return err
	}
	var decided uuid.UUID
	var haveDecided bool
	for k, val := range prefixRange(owner[:]).entries(c) {
		_, id, v, err := decodePairKey(k)
		if err != nil {
			return err
		}
		if (haveDecided && id == decided) || v > version {
			continue
		}
		decided, haveDecided = id, true
		rec, err := record.Decode(val, indexTags...)
		if err != nil {
			return err
		}
		name, _ := rec.Value(0).(string)
		live, _ := rec.Value(1).(bool)
		if err := fn(id, name, live); err != nil {
			return err
		}
	}
	return nil
}

// findIndexEntry returns the entry for (owner, id) visible at version.
func findIndexEntry(tx *storeTx, bucket string, owner, id uuid.UUID, version uint32) (string, bool, error) {
	rec, _, err := findRecord(tx, bucket, pairPrefix(owner, id), version, indexTags...)
	if err != nil || rec == nil {
		return "", false, err
	}
	name, _ := rec.Value(0).(string)
	live, _ := rec.Value(1).(bool)
	return name, live, nil
}

// --- meta ---

func loadMeta(tx *storeTx) (*storeMeta, error) {
	data, err := tx.get(metaBucket, []byte(metaKey))
	if err != nil || data == nil {
		return nil, err
	}
	meta := new(storeMeta)
	if err := msgpack.Unmarshal(data, meta); err != nil {
		return nil, dataErrf(data, 0, err, "store meta")
	}
	return meta, nil
}

func saveMeta(tx *storeTx, meta *storeMeta) error {
	data, err := msgpack.Marshal(meta)
	if err != nil {
		return err
	}
	return tx.put(metaBucket, []byte(metaKey), data)
}
