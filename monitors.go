package itemdb

import (
	"slices"
)

// Monitor is a view-wide change listener for one operation on one
// attribute. OpNone and an empty Attr act as wildcards.
type Monitor struct {
	Op   Op
	Attr string
	// System monitors run before after-change hooks and also see items
	// marked SYSMONONLY.
	System bool
	// Item, if set, is the item the monitor belongs to; the monitor is
	// skipped while that item is being deferred or deleted.
	Item *Item
	Fn   func(chg *Change) error
}

type monitorKey struct {
	op   Op
	attr string
}

func (v *View) AddMonitor(m *Monitor) {
	key := monitorKey{m.Op, m.Attr}
	v.monitors[key] = append(v.monitors[key], m)
}

func (v *View) RemoveMonitor(m *Monitor) {
	key := monitorKey{m.Op, m.Attr}
	list := v.monitors[key]
	if i := slices.Index(list, m); i >= 0 {
		list = slices.Delete(list, i, i+1)
	}
	if len(list) == 0 {
		delete(v.monitors, key)
	} else {
		v.monitors[key] = list
	}
}

func (v *View) matchingMonitors(chg *Change, system bool) []*Monitor {
	var result []*Monitor
	keys := []monitorKey{{chg.op, chg.attr}, {chg.op, ""}, {OpNone, chg.attr}, {OpNone, ""}}
	for i, key := range keys {
		if slices.Contains(keys[:i], key) {
			continue
		}
		for _, m := range v.monitors[key] {
			if m.System == system {
				result = append(result, m)
			}
		}
	}
	return result
}

func (v *View) invokeMonitors(chg *Change, system bool) error {
	if len(v.monitors) == 0 {
		return nil
	}
	for _, m := range v.matchingMonitors(chg, system) {
		if m.Item != nil && m.Item.status&(StatusDeferred|StatusDeleting|StatusDeleted) != 0 {
			continue
		}
		if err := v.notify(m.Fn, chg); err != nil {
			return err
		}
	}
	return nil
}

// notify calls fn now, or queues it while notifications are deferred.
func (v *View) notify(fn func(chg *Change) error, chg *Change) error {
	if v.status&ViewDeferNotif != 0 {
		v.notifications.push(func() error { return fn(chg) })
		return nil
	}
	prev := v.status & ViewMonitoring
	v.status |= ViewMonitoring
	defer func() { v.status = v.status&^ViewMonitoring | prev }()
	return fn(chg)
}

type watcher struct {
	attr string
	fn   func(chg *Change) error
}

// Watch calls fn for changes of one item, or of one of its attributes when
// attr is not empty. The returned function cancels the watch.
func (v *View) Watch(item *Item, attr string, fn func(chg *Change) error) (cancel func()) {
	id := item.ID()
	w := &watcher{attr, fn}
	v.watchers[id] = append(v.watchers[id], w)
	item.status |= StatusWatched
	return func() {
		list := v.watchers[id]
		if i := slices.Index(list, w); i >= 0 {
			list = slices.Delete(list, i, i+1)
		}
		if len(list) == 0 {
			delete(v.watchers, id)
			if cur := v.registry[id]; cur != nil {
				cur.status &^= StatusWatched
			}
			item.status &^= StatusWatched
		} else {
			v.watchers[id] = list
		}
	}
}

func (v *View) invokeWatchers(chg *Change) error {
	for _, w := range slices.Clone(v.watchers[chg.item.ID()]) {
		if w.attr != "" && w.attr != chg.attr {
			continue
		}
		if err := v.notify(w.fn, chg); err != nil {
			return err
		}
	}
	return nil
}
