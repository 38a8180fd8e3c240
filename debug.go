package itemdb

import (
	"context"
	"fmt"
	"strings"

	"github.com/andreyvit/itemdb/record"
)

type DumpFlags uint64

const (
	DumpContainerHeaders = DumpFlags(1 << iota)
	DumpRows
	DumpStats

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the raw contents of every container, for tests and
// debugging.
func (s *Store) Dump(ctx context.Context, f DumpFlags) (string, error) {
	var buf strings.Builder
	err := s.withTx(ctx, false, "dump", func(tx *storeTx) error {
		buf.Reset()
		for _, name := range allBuckets {
			if err := dumpContainer(&buf, tx, name, f); err != nil {
				return err
			}
		}
		return nil
	})
	return buf.String(), err
}

func dumpContainer(w *strings.Builder, tx *storeTx, name string, f DumpFlags) error {
	b := tx.bucket(name)
	bs := b.Stats()
	if f.Contains(DumpContainerHeaders) {
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "%s (%d rows)\n", name, bs.KeyN)
	}
	if f.Contains(DumpStats) {
		fmt.Fprintf(w, "%s.stats: data_size = %d, total_alloc = %d\n", name, bs.LeafInuse, bs.TotalAlloc())
	}
	if !f.Contains(DumpRows) {
		return nil
	}
	if f.Contains(DumpStats) {
		fmt.Fprintln(w, dumpSep2)
	}
	c, err := b.Cursor()
	if err != nil {
		return err
	}
	var rowPos int
	for k, v := c.First(); k != nil; k, v = c.Next() {
		rowPos++
		fmt.Fprintf(w, "%s.%d: %s = %s\n", name, rowPos, dumpKey(name, k), dumpValue(name, v))
	}
	return nil
}

func dumpKey(bucket string, k []byte) string {
	switch bucket {
	case itemsBucket, refsBucket:
		if id, v, err := decodeVersionedKey(k); err == nil {
			return fmt.Sprintf("%v@%d", id, v)
		}
	case valuesBucket, kindsBucket, parentsBucket:
		if a, b, v, err := decodePairKey(k); err == nil {
			return fmt.Sprintf("%v/%v@%d", a, b, v)
		}
	case historyBucket:
		if v, id, err := decodeHistoryKey(k); err == nil {
			return fmt.Sprintf("%d/%v", v, id)
		}
	case metaBucket:
		return string(k)
	}
	return hexstr(k)
}

func dumpValue(bucket string, v []byte) string {
	var tags []record.Tag
	switch bucket {
	case itemsBucket:
		tags = itemRecordTags
	case valuesBucket:
		tags = []record.Tag{record.TagByte, record.TagRecord}
	case refsBucket:
		tags = []record.Tag{record.TagRecord}
	case historyBucket:
		tags = historyTags
	case kindsBucket, parentsBucket:
		tags = indexTags
	default:
		return hexstr(v)
	}
	rec, err := record.Decode(v, tags...)
	if err != nil {
		return "** ERROR: " + err.Error()
	}
	return rec.String()
}
