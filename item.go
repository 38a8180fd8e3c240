package itemdb

import (
	"errors"
	"fmt"
	"strings"
	"weak"

	"github.com/google/uuid"
)

// Item is a versioned node of the persistent graph.
//
// An item holds its own ItemRef strongly, and other items only through
// refs, so the view's registry is the single owner of loaded items.
type Item struct {
	ref        *ItemRef
	status     Status
	version    uint32
	lastAccess uint64
	name       string
	kindID     uuid.UUID
	kind       *Kind
	parent     *ItemRef // nil for items directly under the view
	values     *Values
	refs       *Values

	// as last loaded or committed, for index maintenance
	savedName   string
	savedParent uuid.UUID
	savedKind   uuid.UUID
}

func (item *Item) ID() uuid.UUID         { return item.ref.id }
func (item *Item) Ref() *ItemRef         { return item.ref }
func (item *Item) View() *View           { return item.ref.view }
func (item *Item) Status() Status        { return item.status }

// Version is the store version the item was last loaded or committed at,
// 0 for a new item. Versions are 32-bit, matching the 4-byte inverted
// version suffix of every stored key.
func (item *Item) Version() uint32 { return item.version }

func (item *Item) LastAccess() uint64    { return item.lastAccess }
func (item *Item) Name() string          { return item.name }
func (item *Item) Kind() *Kind           { return item.kind }
func (item *Item) KindID() uuid.UUID     { return item.kindID }
func (item *Item) Values() *Values       { return item.values }
func (item *Item) References() *Values   { return item.refs }
func (item *Item) IsNew() bool           { return item.status&StatusNew != 0 }
func (item *Item) IsDeleted() bool       { return item.status&StatusDeleted != 0 }
func (item *Item) IsStale() bool         { return item.status&StatusStale != 0 }
func (item *Item) IsDirty() bool         { return item.status&Dirty != 0 }
func (item *Item) IsPinned() bool        { return item.status&StatusPinned != 0 }
func (item *Item) IsSchema() bool        { return item.status&StatusSchema != 0 }
func (item *Item) IsDeferred() bool      { return item.status&StatusDeferred != 0 }
func (item *Item) SetSysMonOnly(on bool) { item.setStatus(StatusSysMonOnly, on) }

func (item *Item) String() string {
	if item == nil {
		return "<nil item>"
	}
	if item.name != "" {
		return fmt.Sprintf("<%s %s %s>", item.kind, item.name, item.ID())
	}
	return fmt.Sprintf("<%s %s>", item.kind, item.ID())
}

func (item *Item) setStatus(f Status, on bool) {
	if on {
		item.status |= f
	} else {
		item.status &^= f
	}
}

// Pin keeps the item loaded across refreshes that change it.
func (item *Item) Pin()   { item.status |= StatusPinned }
func (item *Item) Unpin() { item.status &^= StatusPinned }

func (item *Item) checkLive() error {
	if item.status&StatusStale != 0 {
		return itemErrf(item, "", ErrStaleItem, "")
	}
	if item.status&StatusDeleted != 0 {
		return itemErrf(item, "", ErrDeleted, "")
	}
	return nil
}

func (item *Item) touch() {
	item.lastAccess = nextAccess()
}

// Get reads an attribute: a literal, the resolved *Item of a reference, or
// the kind's declared default. A stale item reports ErrStaleItem.
func (item *Item) Get(name string) (any, error) {
	if item.status&StatusStale != 0 {
		return nil, itemErrf(item, name, ErrStaleItem, "")
	}
	item.touch()
	name, attr := item.kind.resolve(name)
	if v, ok := item.values.Get(name); ok {
		return v, nil
	}
	if v, ok := item.refs.Get(name); ok {
		if v == nil {
			return nil, nil
		}
		return v.(*ItemRef).Resolve()
	}
	if attr != nil && attr.HasDefault {
		return attr.Default, nil
	}
	return nil, itemErrf(item, name, ErrNoSuchAttribute, "")
}

// GetDefault is Get with a fallback for missing attributes.
func (item *Item) GetDefault(name string, def any) (any, error) {
	v, err := item.Get(name)
	if errors.Is(err, ErrNoSuchAttribute) {
		return def, nil
	}
	return v, err
}

func (item *Item) Has(name string) bool {
	name, _ = item.kind.resolve(name)
	return item.values.Has(name) || item.refs.Has(name)
}

// localValue looks at the item's own containers only.
func (item *Item) localValue(name string) (any, bool, error) {
	if v, ok := item.values.Get(name); ok {
		return v, true, nil
	}
	if v, ok := item.refs.Get(name); ok {
		if v == nil {
			return nil, true, nil
		}
		target, err := v.(*ItemRef).Resolve()
		return target, true, err
	}
	return nil, false, nil
}

// AttributeAspect returns a schema-declared aspect of an attribute of this
// item's kind, or def when the kind doesn't declare it.
func (item *Item) AttributeAspect(name string, aspect Aspect, def any) any {
	_, attr := item.kind.resolve(name)
	if attr == nil {
		return def
	}
	if v, ok := attr.aspect(aspect); ok {
		return v
	}
	return def
}

// Set stores v in the values or references container, as declared by the
// kind; undeclared *Item and *ItemRef values go to references.
func (item *Item) Set(name string, v any) error {
	_, attr := item.kind.resolve(name)
	switch t := v.(type) {
	case *Item:
		return item.SetRef(name, t)
	case *ItemRef:
		target, err := t.Resolve()
		if err != nil {
			return err
		}
		return item.SetRef(name, target)
	}
	if attr != nil && attr.Storage == StoreRef && v == nil {
		return item.SetRef(name, nil)
	}
	return item.SetValue(name, v)
}

// SetValue stores a literal. Integers are stored as int64 and floats as
// float64; a *ValueList owned by another attribute is copied.
func (item *Item) SetValue(name string, v any) error {
	if err := item.checkLive(); err != nil {
		return err
	}
	name, attr := item.kind.resolve(name)
	nv, err := normalizeLiteral(v)
	if err != nil {
		return itemErrf(item, name, err, "")
	}
	if list, ok := nv.(*ValueList); ok {
		if owner, ownerAttr := list.Owner(); owner != nil && (owner != item || ownerAttr != name) {
			nv = list.Clone()
		}
	}
	if item.values.Flags(name)&ValueReadOnly != 0 {
		return itemErrf(item, name, ErrReadOnly, "")
	}
	if err := item.setDirty(VDirty, name, item.values, nv, false); err != nil {
		return err
	}
	item.values.store(name, nv)
	if err := item.scheduleReindex(name, attr); err != nil {
		return err
	}
	return item.fireChanges(OpSet, name)
}

// SetRef points a reference attribute at target, or clears it with nil.
func (item *Item) SetRef(name string, target *Item) error {
	if err := item.checkLive(); err != nil {
		return err
	}
	name, attr := item.kind.resolve(name)
	var ref *ItemRef
	if target != nil {
		ref = item.View().Ref(target.ID())
	}
	if item.refs.Flags(name)&ValueReadOnly != 0 {
		return itemErrf(item, name, ErrReadOnly, "")
	}
	var stored any
	if ref != nil {
		stored = ref
	}
	if err := item.setDirty(RDirty, name, item.refs, stored, false); err != nil {
		return err
	}
	item.refs.store(name, stored)
	if err := item.scheduleReindex(name, attr); err != nil {
		return err
	}
	return item.fireChanges(OpSet, name)
}

// Remove deletes an attribute from whichever container holds it.
func (item *Item) Remove(name string) error {
	if err := item.checkLive(); err != nil {
		return err
	}
	name, _ = item.kind.resolve(name)
	vals, dirty := item.values, VDirty
	if !vals.Has(name) {
		vals, dirty = item.refs, RDirty
		if !vals.Has(name) {
			return itemErrf(item, name, ErrNoSuchAttribute, "")
		}
	}
	if vals.Flags(name)&ValueReadOnly != 0 {
		return itemErrf(item, name, ErrReadOnly, "")
	}
	if err := item.setDirty(dirty, name, vals, nil, false); err != nil {
		return err
	}
	vals.remove(name)
	return item.fireChanges(OpRemove, name)
}

// SetTransient marks a value that is never persisted.
func (item *Item) SetTransient(name string, on bool) {
	if on {
		item.values.SetFlag(name, ValueTransient)
	} else {
		item.values.ClearFlag(name, ValueTransient)
	}
}

// SetReadOnly protects an attribute against Set and Remove.
func (item *Item) SetReadOnly(name string, on bool) {
	vals := item.values
	if item.refs.Has(name) {
		vals = item.refs
	}
	if on {
		vals.SetFlag(name, ValueReadOnly)
	} else {
		vals.ClearFlag(name, ValueReadOnly)
	}
}

// setDirty marks the item as changed. It runs before the change is applied
// so that a refusal leaves the containers untouched. When attr is set, vals
// is the container receiving newValue.
func (item *Item) setDirty(dirty Status, attr string, vals *Values, newValue any, fire bool) error {
	if item.status&StatusNoDirty != 0 {
		return nil
	}
	view := item.View()
	if dirty&VRDirty != 0 && view.status&ViewCommitLock != 0 {
		return itemErrf(item, attr, ErrChangeDuringCommit, "")
	}
	if dirty&VRDirty != 0 && attr != "" && view.status&ViewVerify != 0 {
		if a := item.kind.Attribute(attr); a != nil {
			if err := a.verify(newValue); err != nil {
				return &VerificationError{ID: item.ID(), Item: item.name, Attr: attr, Value: newValue, Msg: err.Error()}
			}
		}
	}

	if vals != nil && attr != "" {
		vals.SetFlag(attr, ValueDirty)
	}
	item.touch()
	view.status |= ViewFDirty

	newlyDirty := item.status&Dirty == 0
	item.status |= dirty | FDirty
	if newlyDirty && view.status&ViewLoading == 0 {
		if !view.logItem(item) {
			newlyDirty = false
		}
	}
	if view.verbose && newlyDirty {
		view.logger.Debug("db: DIRTY", idAttr("item", item.ID()), "dirty", dirty.String())
	}

	if fire {
		return item.fireChanges(OpSet, attr)
	}
	return nil
}

// fireChanges delivers a change in a fixed order: system monitors,
// after-change hooks, user monitors, then watchers.
func (item *Item) fireChanges(op Op, attr string) error {
	view := item.View()
	chg := &Change{item: item, op: op, attr: attr}

	if err := view.invokeMonitors(chg, true); err != nil {
		return err
	}
	if view.status&ViewLoading == 0 {
		if a := item.kind.Attribute(attr); a != nil {
			for i, hook := range a.AfterChange {
				if err := view.afterChange(hook, chg, i); err != nil {
					return err
				}
			}
		}
	}
	if item.status&StatusSysMonOnly != 0 {
		return nil
	}
	if err := view.invokeMonitors(chg, false); err != nil {
		return err
	}
	if item.status&StatusWatched != 0 {
		return view.invokeWatchers(chg)
	}
	return nil
}

func (item *Item) scheduleReindex(name string, attr *Attribute) error {
	vals := item.values
	if item.refs.Has(name) {
		vals = item.refs
	}
	if (attr == nil || !attr.Indexed) && vals.Flags(name)&ValueIndexed == 0 {
		return nil
	}
	return item.View().reindex(item, name)
}

// --- parent, children, paths ---

// Parent returns the parent item, or nil for items directly under the view.
func (item *Item) Parent() (*Item, error) {
	if item.parent == nil {
		return nil, nil
	}
	return item.parent.Resolve()
}

func (item *Item) ParentID() uuid.UUID {
	if item.parent == nil {
		return item.View().ID()
	}
	return item.parent.id
}

// SetParent moves the item; nil moves it to the top level of the view.
func (item *Item) SetParent(parent *Item) error {
	return item.Move(parent, item.name)
}

func (item *Item) SetName(name string) error {
	var parent *Item
	if item.parent != nil {
		var err error
		if parent, err = item.parent.Resolve(); err != nil {
			return err
		}
	}
	return item.Move(parent, name)
}

// Move changes parent and name together. The new parent registers the item
// as its child before the stored parent link changes.
func (item *Item) Move(parent *Item, name string) error {
	if err := item.checkLive(); err != nil {
		return err
	}
	view := item.View()
	var pref *ItemRef
	if parent != nil {
		if parent.View() != view {
			return itemErrf(item, "", nil, "cannot move under an item of another view")
		}
		if err := parent.checkLive(); err != nil {
			return err
		}
		for p := parent; p != nil; {
			if p == item {
				return itemErrf(item, "", nil, "cannot move under its own descendant %v", parent)
			}
			next, err := p.Parent()
			if err != nil {
				return err
			}
			p = next
		}
		pref = parent.ref
	}
	if pref.Equal(item.parent) && name == item.name {
		return nil
	}
	if err := item.setDirty(NDirty, "", nil, nil, false); err != nil {
		return err
	}
	if old := item.parent; old != nil && !old.Equal(pref) {
		if oldParent := old.Cached(); oldParent != nil && oldParent.status&StatusStale == 0 {
			if err := oldParent.removeChild(item); err != nil {
				return err
			}
		}
	}
	if parent != nil && !pref.Equal(item.parent) {
		if err := parent.addChild(item); err != nil {
			return err
		}
	}
	item.parent = pref
	item.name = name
	view.forgetRootName()
	return item.fireChanges(OpMove, "")
}

func (item *Item) addChild(child *Item) error {
	return item.setDirty(CDirty, "", nil, nil, false)
}

func (item *Item) removeChild(child *Item) error {
	return item.setDirty(CDirty, "", nil, nil, false)
}

// Root walks up the parent chain to the top-level ancestor.
func (item *Item) Root() (*Item, error) {
	p := item
	for p.parent != nil {
		next, err := p.parent.Resolve()
		if err != nil {
			return nil, err
		}
		p = next
	}
	if p.status&StatusStale != 0 {
		return p.View().Find(p.ID())
	}
	return p, nil
}

// Path is the slash-separated chain of names from the top level.
func (item *Item) Path() (string, error) {
	var names []string
	for p := item; p != nil; {
		names = append(names, p.name)
		next, err := p.Parent()
		if err != nil {
			return "", err
		}
		p = next
	}
	var buf strings.Builder
	for i := len(names) - 1; i >= 0; i-- {
		buf.WriteByte('/')
		buf.WriteString(names[i])
	}
	return buf.String(), nil
}

func (item *Item) Children() ([]*Item, error) {
	return item.View().children(item.ID())
}

// Child finds a direct child by name.
func (item *Item) Child(name string) (*Item, error) {
	children, err := item.Children()
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		if c.name == name {
			return c, nil
		}
	}
	return nil, itemErrf(item, "", ErrNotFound, "no child named %q", name)
}

// SetKind changes the item's kind.
func (item *Item) SetKind(kind *Kind) error {
	if err := item.checkLive(); err != nil {
		return err
	}
	if kind == item.kind {
		return nil
	}
	view := item.View()
	if kind != nil {
		if err := view.ensureKindItem(kind); err != nil {
			return err
		}
	}
	if err := item.setDirty(KDirty, "", nil, nil, false); err != nil {
		return err
	}
	item.kind = kind
	item.kindID = uuid.Nil
	if kind != nil {
		item.kindID = kind.ID
	}
	return item.fireChanges(OpKind, "")
}

func (item *Item) bind(ref *ItemRef) {
	item.ref = ref
	ref.item = weak.Make(item)
}
