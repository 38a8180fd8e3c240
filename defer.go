package itemdb

import (
	"context"

	"github.com/google/uuid"
)

// deferScope is a nestable deferral context. Calls queued while it is
// active are replayed in order when the outermost scope exits.
type deferScope struct {
	depth int
	queue []func() error
}

func (s *deferScope) push(f func() error) {
	s.queue = append(s.queue, f)
}

// run executes body inside the scope. The queue is replayed even when body
// fails, and the first replay error stops the rest. If body panics, the
// queue is abandoned.
func (v *View) run(flag ViewStatus, s *deferScope, body func() error, exit func()) (err error) {
	s.depth++
	v.status |= flag
	completed := false
	defer func() {
		s.depth--
		if s.depth > 0 {
			return
		}
		v.status &^= flag
		queue := s.queue
		s.queue = nil
		if exit != nil {
			exit()
		}
		if !completed {
			return
		}
		for _, f := range queue {
			if e := f(); e != nil {
				if err == nil {
					err = e
				}
				return
			}
		}
	}()
	err = body()
	completed = true
	return err
}

// DeferIndexing postpones reindexing of indexed attributes until fn
// returns.
func (v *View) DeferIndexing(fn func() error) error {
	return v.run(ViewDeferIndex, &v.indexing, fn, nil)
}

// DeferNotifications postpones monitor and watcher calls until fn returns.
func (v *View) DeferNotifications(fn func() error) error {
	return v.run(ViewDeferNotif, &v.notifications, fn, nil)
}

// DeferObservers postpones after-change hooks until fn returns. With
// discardDuplicates, a hook queued again for the same item and attribute is
// only called once, at its first position, with the latest change. Nested
// scopes must agree on the policy.
func (v *View) DeferObservers(discardDuplicates bool, fn func() error) error {
	flag, other := ViewDeferObsA, ViewDeferObsD
	if discardDuplicates {
		flag, other = ViewDeferObsD, ViewDeferObsA
	}
	if v.status&other != 0 {
		return ErrDeferMismatch
	}
	if v.observers.depth == 0 && discardDuplicates {
		v.obsSeen = make(map[observerKey]*queuedChange)
	}
	return v.run(flag, &v.observers, fn, func() { v.obsSeen = nil })
}

// DeferCommit turns Commit calls made inside fn into a single commit when
// the outermost DeferCommit returns.
func (v *View) DeferCommit(ctx context.Context, fn func() error) error {
	if v.commits.depth == 0 {
		v.commitPending = false
	}
	v.commits.depth++
	v.status |= ViewDeferCommit
	err := func() error {
		defer func() {
			v.commits.depth--
			if v.commits.depth == 0 {
				v.status &^= ViewDeferCommit
			}
		}()
		return fn()
	}()
	if v.commits.depth > 0 || !v.commitPending {
		return err
	}
	v.commitPending = false
	if cerr := v.Commit(ctx); err == nil {
		err = cerr
	}
	return err
}

type observerKey struct {
	attr string
	item uuid.UUID
	hook int
}

type queuedChange struct {
	chg *Change
}

func (v *View) afterChange(hook Hook, chg *Change, idx int) error {
	switch {
	case v.status&ViewDeferObsD != 0:
		key := observerKey{chg.attr, chg.item.ID(), idx}
		if slot := v.obsSeen[key]; slot != nil {
			slot.chg = chg
			return nil
		}
		slot := &queuedChange{chg: chg}
		v.obsSeen[key] = slot
		v.observers.push(func() error { return hook(slot.chg) })
		return nil
	case v.status&ViewDeferObsA != 0:
		v.observers.push(func() error { return hook(chg) })
		return nil
	case v.status&ViewDeferNotif != 0:
		v.notifications.push(func() error { return hook(chg) })
		return nil
	}
	return hook(chg)
}

// reindex hands an indexed attribute change to the indexer, now or at the
// end of the indexing deferral.
func (v *View) reindex(item *Item, attr string) error {
	if v.indexer == nil {
		return nil
	}
	vals := item.values
	if item.refs.Has(attr) {
		vals = item.refs
	}
	if v.status&ViewDeferIndex != 0 {
		if vals.Flags(attr)&ValueToIndex != 0 {
			return nil
		}
		vals.SetFlag(attr, ValueToIndex)
		v.indexing.push(func() error {
			vals.ClearFlag(attr, ValueToIndex)
			if item.status&(StatusDeleted|StatusStale) != 0 {
				return nil
			}
			return v.indexer(item, attr)
		})
		return nil
	}
	return v.indexer(item, attr)
}
