package itemdb

import (
	"bytes"
	"iter"
)

// keyRange selects the keys of a bucket that carry prefix and fall between
// lower and upper. Nil bounds are open. Bounds are inclusive unless the
// matching excl flag is set.
type keyRange struct {
	prefix    []byte
	lower     []byte
	upper     []byte
	lowerExcl bool
	upperExcl bool
}

func prefixRange(p []byte) keyRange { return keyRange{prefix: p} }

func fromKey(lower []byte) keyRange { return keyRange{lower: lower} }

// entries walks the range with c in ascending key order. Keys and values
// are only valid until the next step.
func (r keyRange) entries(c storageCursor) iter.Seq2[[]byte, []byte] {
	r.checkBounds()
	return func(yield func(k, v []byte) bool) {
		for k, v := r.seek(c); k != nil; k, v = c.Next() {
			if r.prefix != nil && !bytes.HasPrefix(k, r.prefix) {
				return
			}
			if r.aboveUpper(k) {
				return
			}
			// only an excluded lower bound itself can show up here
			if r.belowLower(k) {
				continue
			}
			if !yield(k, v) {
				return
			}
		}
	}
}

func (r keyRange) seek(c storageCursor) ([]byte, []byte) {
	switch {
	case r.lower != nil:
		return c.Seek(r.lower)
	case r.prefix != nil:
		return c.Seek(r.prefix)
	default:
		return c.First()
	}
}

func (r keyRange) belowLower(k []byte) bool {
	if r.lower == nil {
		return false
	}
	cmp := bytes.Compare(k, r.lower)
	return cmp < 0 || (cmp == 0 && r.lowerExcl)
}

func (r keyRange) aboveUpper(k []byte) bool {
	if r.upper == nil {
		return false
	}
	cmp := bytes.Compare(k, r.upper)
	return cmp > 0 || (cmp == 0 && r.upperExcl)
}

func (r keyRange) checkBounds() {
	if r.prefix == nil {
		return
	}
	if r.lower != nil && !bytes.HasPrefix(r.lower, r.prefix) {
		panic("keyRange: lower bound outside prefix")
	}
	if r.upper != nil && !bytes.HasPrefix(r.upper, r.prefix) {
		panic("keyRange: upper bound outside prefix")
	}
}
