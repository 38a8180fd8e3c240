package itemdb

import (
	"slices"
)

// ValueFlags are per-attribute bits kept by a Values container.
type ValueFlags uint8

const (
	ValueReadOnly ValueFlags = 1 << iota
	ValueIndexed
	ValueToIndex
	ValueDirty
	ValueTransient

	persistentValueFlags = ValueReadOnly | ValueIndexed
)

// Values is an insertion-ordered attribute map owned by one item. An item
// has two: literal values and references to other items (*ItemRef).
//
// The flags table is only allocated once a flag is set on some key.
type Values struct {
	owner *Item
	refs  bool
	keys  []string
	m     map[string]any
	flags map[string]ValueFlags
}

func newValues(owner *Item, refs bool) *Values {
	return &Values{owner: owner, refs: refs, m: make(map[string]any)}
}

// Owner is nil for detached copies.
func (vs *Values) Owner() *Item {
	return vs.owner
}

func (vs *Values) Len() int {
	return len(vs.keys)
}

func (vs *Values) Keys() []string {
	return slices.Clone(vs.keys)
}

func (vs *Values) Has(name string) bool {
	_, ok := vs.m[name]
	return ok
}

// Get returns the raw stored value: a literal, or an *ItemRef in a
// references container.
func (vs *Values) Get(name string) (any, bool) {
	v, ok := vs.m[name]
	return v, ok
}

func (vs *Values) GetDefault(name string, def any) any {
	if v, ok := vs.m[name]; ok {
		return v
	}
	return def
}

// Item resolves a reference value to its item.
func (vs *Values) Item(name string) (*Item, error) {
	v, ok := vs.m[name]
	if !ok {
		return nil, itemErrf(vs.owner, name, ErrNoSuchAttribute, "")
	}
	ref, ok := v.(*ItemRef)
	if !ok {
		if v == nil {
			return nil, nil
		}
		return nil, itemErrf(vs.owner, name, ErrUnsupportedValue, "not a reference: %T", v)
	}
	return ref.Resolve()
}

func (vs *Values) Flags(name string) ValueFlags {
	return vs.flags[name]
}

func (vs *Values) SetFlag(name string, f ValueFlags) {
	if vs.flags == nil {
		vs.flags = make(map[string]ValueFlags)
	}
	vs.flags[name] |= f
}

func (vs *Values) ClearFlag(name string, f ValueFlags) {
	if vs.flags == nil {
		return
	}
	if nf := vs.flags[name] &^ f; nf == 0 {
		delete(vs.flags, name)
	} else {
		vs.flags[name] = nf
	}
}

// DirtyKeys lists the keys marked ValueDirty, in insertion order.
func (vs *Values) DirtyKeys() []string {
	var keys []string
	for _, k := range vs.keys {
		if vs.flags[k]&ValueDirty != 0 {
			keys = append(keys, k)
		}
	}
	for k, f := range vs.flags {
		if f&ValueDirty != 0 && !vs.Has(k) {
			keys = append(keys, k)
		}
	}
	return keys
}

// Copy returns a detached shallow copy without flags.
func (vs *Values) Copy() *Values {
	c := &Values{refs: vs.refs, keys: slices.Clone(vs.keys), m: make(map[string]any, len(vs.m))}
	for k, v := range vs.m {
		c.m[k] = v
	}
	return c
}

// store replaces a value without dirtying. The previous value, if owned,
// is detached first.
func (vs *Values) store(name string, v any) {
	old, exists := vs.m[name]
	if exists {
		if o, ok := old.(Owned); ok && o != v {
			o.setOwner(nil, "")
		}
	} else {
		vs.keys = append(vs.keys, name)
	}
	if o, ok := v.(Owned); ok {
		o.setOwner(vs.owner, name)
	}
	vs.m[name] = v
}

func (vs *Values) remove(name string) bool {
	old, exists := vs.m[name]
	if !exists {
		return false
	}
	if o, ok := old.(Owned); ok {
		o.setOwner(nil, "")
	}
	delete(vs.m, name)
	if i := slices.Index(vs.keys, name); i >= 0 {
		vs.keys = slices.Delete(vs.keys, i, i+1)
	}
	return true
}

func (vs *Values) clear() {
	for _, v := range vs.m {
		if o, ok := v.(Owned); ok {
			o.setOwner(nil, "")
		}
	}
	vs.keys = nil
	vs.m = make(map[string]any)
	vs.flags = nil
}

func (vs *Values) clearDirty() {
	for k, f := range vs.flags {
		if f&ValueDirty != 0 {
			vs.ClearFlag(k, ValueDirty)
		}
	}
}

// Owned is implemented by values that know which item attribute holds them.
type Owned interface {
	Owner() (*Item, string)
	setOwner(item *Item, attr string)
}

// ValueList is a list literal. Mutating a list that is stored in an item
// marks the holding attribute dirty.
type ValueList struct {
	owner *Item
	attr  string
	items []any
}

var _ Owned = (*ValueList)(nil)

// NewValueList builds a list; elements are normalized like item values.
func NewValueList(elems ...any) (*ValueList, error) {
	l := &ValueList{items: make([]any, 0, len(elems))}
	for _, e := range elems {
		ne, err := normalizeListElem(e)
		if err != nil {
			return nil, err
		}
		l.items = append(l.items, ne)
	}
	return l, nil
}

func normalizeListElem(e any) (any, error) {
	ne, err := normalizeLiteral(e)
	if err != nil {
		return nil, err
	}
	if sub, ok := ne.(*ValueList); ok {
		return sub.Clone(), nil
	}
	return ne, nil
}

func (l *ValueList) Owner() (*Item, string) {
	return l.owner, l.attr
}

func (l *ValueList) setOwner(item *Item, attr string) {
	l.owner, l.attr = item, attr
}

func (l *ValueList) Len() int {
	return len(l.items)
}

func (l *ValueList) At(i int) any {
	return l.items[i]
}

func (l *ValueList) Values() []any {
	return slices.Clone(l.items)
}

// Clone returns an unowned copy.
func (l *ValueList) Clone() *ValueList {
	return &ValueList{items: slices.Clone(l.items)}
}

func (l *ValueList) Append(elems ...any) error {
	return l.mutate(OpAdd, func(items []any) ([]any, error) {
		for _, e := range elems {
			ne, err := normalizeListElem(e)
			if err != nil {
				return nil, err
			}
			items = append(items, ne)
		}
		return items, nil
	})
}

func (l *ValueList) Set(i int, e any) error {
	return l.mutate(OpSet, func(items []any) ([]any, error) {
		ne, err := normalizeListElem(e)
		if err != nil {
			return nil, err
		}
		items[i] = ne
		return items, nil
	})
}

func (l *ValueList) RemoveAt(i int) error {
	return l.mutate(OpRemove, func(items []any) ([]any, error) {
		return slices.Delete(items, i, i+1), nil
	})
}

// mutate applies f to a copy of the elements. An owned list only takes the
// result once the owner accepted it as dirty, so a refused or invalid
// change leaves the list intact.
func (l *ValueList) mutate(op Op, f func(items []any) ([]any, error)) error {
	next, err := f(slices.Clone(l.items))
	if err != nil {
		return err
	}
	if l.owner == nil {
		l.items = next
		return nil
	}
	item, attr := l.owner, l.attr
	candidate := &ValueList{items: next, owner: item, attr: attr}
	if err := item.setDirty(VDirty, attr, item.values, candidate, false); err != nil {
		return err
	}
	l.items = next
	return item.fireChanges(op, attr)
}

func (l *ValueList) Equal(another *ValueList) bool {
	if l == nil || another == nil {
		return l == another
	}
	return slices.EqualFunc(l.items, another.items, literalEqual)
}

func literalEqual(a, b any) bool {
	switch a := a.(type) {
	case []byte:
		bb, ok := b.([]byte)
		return ok && string(a) == string(bb)
	case *ValueList:
		bl, ok := b.(*ValueList)
		return ok && a.Equal(bl)
	}
	if _, ok := b.([]byte); ok {
		return false
	}
	if _, ok := b.(*ValueList); ok {
		return false
	}
	return a == b
}
