package itemdb

import (
	"errors"
	"runtime"
	"weak"

	"github.com/google/uuid"
)

// ItemRef addresses an item of a view by identifier without keeping it
// alive. A view hands out at most one live ItemRef per identifier, so refs
// can be compared by pointer as well as with Equal.
type ItemRef struct {
	id   uuid.UUID
	view *View
	item weak.Pointer[Item]
}

// Ref returns the view's reference for id, creating it if no live one
// exists.
func (v *View) Ref(id uuid.UUID) *ItemRef {
	v.refsMu.Lock()
	defer v.refsMu.Unlock()
	if wp, ok := v.refs[id]; ok {
		if ref := wp.Value(); ref != nil {
			return ref
		}
	}
	ref := &ItemRef{id: id, view: v}
	v.refs[id] = weak.Make(ref)
	runtime.AddCleanup(ref, v.dropRef, id)
	return ref
}

// dropRef runs after a ref has been collected. A newer ref may have been
// registered under the same id in the meantime.
func (v *View) dropRef(id uuid.UUID) {
	v.refsMu.Lock()
	defer v.refsMu.Unlock()
	if wp, ok := v.refs[id]; ok && wp.Value() == nil {
		delete(v.refs, id)
	}
}

func (v *View) liveRefCount() int {
	v.refsMu.Lock()
	defer v.refsMu.Unlock()
	n := 0
	for _, wp := range v.refs {
		if wp.Value() != nil {
			n++
		}
	}
	return n
}

func (r *ItemRef) ID() uuid.UUID {
	return r.id
}

func (r *ItemRef) View() *View {
	return r.view
}

// Resolve returns the live item, loading it through the view when the
// cached item is gone or stale. A missing item yields ErrNotFound.
func (r *ItemRef) Resolve() (*Item, error) {
	if item := r.item.Value(); item != nil && item.status&StatusStale == 0 {
		return item, nil
	}
	item, err := r.view.Find(r.id)
	if err != nil {
		return nil, err
	}
	r.item = weak.Make(item)
	return item, nil
}

// ResolveNoError is Resolve that reports a missing item as (nil, nil).
func (r *ItemRef) ResolveNoError() (*Item, error) {
	item, err := r.Resolve()
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return item, err
}

// Cached returns the resolved item if it is still live, without loading.
func (r *ItemRef) Cached() *Item {
	return r.item.Value()
}

func (r *ItemRef) Equal(another *ItemRef) bool {
	if r == nil || another == nil {
		return r == another
	}
	return r.id == another.id
}

func (r *ItemRef) Hash() uint32 {
	return HashID(r.id)
}

func (r *ItemRef) String() string {
	return "<ref " + r.id.String() + ">"
}
