package itemdb

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trace collects labelled change notifications.
type trace []string

func (tr *trace) fn(label string) func(chg *Change) error {
	return func(chg *Change) error {
		*tr = append(*tr, label+":"+chg.Op().String()+":"+chg.Attr())
		return nil
	}
}

func hookedSchema(tr *trace) (*Schema, *Kind) {
	k := &Kind{Name: "Hooked", Attributes: []*Attribute{
		{Name: "a", AfterChange: []Hook{func(chg *Change) error {
			*tr = append(*tr, "hook:"+chg.Op().String()+":"+chg.Attr())
			return nil
		}}},
	}}
	return NewSchema(k), k
}

func TestMonitors_DeliveryOrder(t *testing.T) {
	var tr trace
	schema, kind := hookedSchema(&tr)
	s := setup(t, schema)
	v := openView(t, s, "v")
	item := must(v.NewItem("i", nil, kind))

	v.AddMonitor(&Monitor{Attr: "a", Fn: tr.fn("user")})
	v.AddMonitor(&Monitor{Attr: "a", System: true, Fn: tr.fn("system")})
	cancel := v.Watch(item, "", tr.fn("watch"))
	defer cancel()

	require.NoError(t, item.SetValue("a", 1))
	assert.Equal(t, trace{"system:set:a", "hook:set:a", "user:set:a", "watch:set:a"}, tr)
}

func TestMonitors_Matching(t *testing.T) {
	s := setup(t, testSchema)
	v := openView(t, s, "v")
	n := newNote(t, v, "n", nil)

	var tr trace
	exact := &Monitor{Op: OpSet, Attr: "title", Fn: tr.fn("exact")}
	anyOp := &Monitor{Attr: "title", Fn: tr.fn("anyop")}
	anyAttr := &Monitor{Op: OpRemove, Fn: tr.fn("anyattr")}
	all := &Monitor{Fn: tr.fn("all")}
	for _, m := range []*Monitor{exact, anyOp, anyAttr, all} {
		v.AddMonitor(m)
	}

	require.NoError(t, n.SetValue("title", "t"))
	assert.Equal(t, trace{"exact:set:title", "anyop:set:title", "all:set:title"}, tr)

	tr = nil
	require.NoError(t, n.Remove("title"))
	assert.Equal(t, trace{"anyattr:remove:title", "anyop:remove:title", "all:remove:title"}, tr)

	tr = nil
	v.RemoveMonitor(anyOp)
	v.RemoveMonitor(all)
	require.NoError(t, n.SetValue("body", "b"))
	require.NoError(t, n.SetValue("title", "t"))
	assert.Equal(t, trace{"exact:set:title"}, tr)

	v.RemoveMonitor(exact)
	v.RemoveMonitor(anyAttr)
	assert.Empty(t, v.monitors)
}

func TestMonitors_SysMonOnlySkipsUserMonitors(t *testing.T) {
	s := setup(t, testSchema)
	v := openView(t, s, "v")
	n := newNote(t, v, "n", nil)

	var tr trace
	v.AddMonitor(&Monitor{Fn: tr.fn("user")})
	v.AddMonitor(&Monitor{System: true, Fn: tr.fn("system")})
	v.Watch(n, "", tr.fn("watch"))

	n.SetSysMonOnly(true)
	require.NoError(t, n.SetValue("title", "t"))
	assert.Equal(t, trace{"system:set:title"}, tr)

	n.SetSysMonOnly(false)
	tr = nil
	require.NoError(t, n.SetValue("title", "u"))
	assert.Equal(t, trace{"system:set:title", "user:set:title", "watch:set:title"}, tr)
}

func TestMonitors_SkippedForDeferredOwner(t *testing.T) {
	s := setup(t, testSchema)
	v := openView(t, s, "v")
	owner := newNote(t, v, "owner", nil)
	n := newNote(t, v, "n", nil)

	var tr trace
	v.AddMonitor(&Monitor{Item: owner, Fn: tr.fn("owned")})
	v.AddMonitor(&Monitor{Fn: tr.fn("free")})

	v.DeferDelete()
	require.NoError(t, owner.Delete())
	assert.True(t, owner.IsDeferred())
	require.NoError(t, n.SetValue("title", "t"))
	assert.Equal(t, trace{"free:set:title"}, tr)

	v.CancelDelete()
	tr = nil
	require.NoError(t, n.SetValue("title", "u"))
	assert.Equal(t, trace{"owned:set:title", "free:set:title"}, tr)
}

func TestMonitors_ErrorStopsDelivery(t *testing.T) {
	s := setup(t, testSchema)
	v := openView(t, s, "v")
	n := newNote(t, v, "n", nil)

	boom := errors.New("boom")
	var tr trace
	v.AddMonitor(&Monitor{Fn: func(chg *Change) error { return boom }})
	v.Watch(n, "", tr.fn("watch"))

	assert.ErrorIs(t, n.SetValue("title", "t"), boom)
	assert.Empty(t, tr)
	assert.Equal(t, "t", get(t, n, "title"), "the change itself is kept")
}

func TestMonitors_MonitoringFlagDuringCall(t *testing.T) {
	s := setup(t, testSchema)
	v := openView(t, s, "v")
	n := newNote(t, v, "n", nil)

	var during bool
	v.AddMonitor(&Monitor{Fn: func(chg *Change) error {
		during = v.Status().Has(ViewMonitoring)
		return nil
	}})
	require.NoError(t, n.SetValue("title", "t"))
	assert.True(t, during)
	assert.False(t, v.Status().Has(ViewMonitoring))
}

func TestWatch_AttributeFilterAndCancel(t *testing.T) {
	s := setup(t, testSchema)
	v := openView(t, s, "v")
	n := newNote(t, v, "n", nil)

	var tr trace
	cancelTitle := v.Watch(n, "title", tr.fn("title"))
	cancelAll := v.Watch(n, "", tr.fn("all"))
	assert.True(t, n.Status().Has(StatusWatched))

	require.NoError(t, n.SetValue("title", "t"))
	require.NoError(t, n.SetValue("body", "b"))
	assert.Equal(t, trace{"title:set:title", "all:set:title", "all:set:body"}, tr)

	cancelTitle()
	assert.True(t, n.Status().Has(StatusWatched))
	cancelAll()
	assert.False(t, n.Status().Has(StatusWatched))

	tr = nil
	require.NoError(t, n.SetValue("title", "u"))
	assert.Empty(t, tr)
}

func TestWatch_SurvivesReload(t *testing.T) {
	s := setup(t, testSchema)
	w := openView(t, s, "w")
	n := newNote(t, w, "n", nil)
	commit(t, w)

	r := openView(t, s, "r")
	rn := must(r.Find(n.ID()))
	var tr trace
	r.Watch(rn, "", tr.fn("watch"))

	require.NoError(t, n.SetValue("title", "theirs"))
	commit(t, w)
	require.NoError(t, r.Refresh(ctx()))

	again := must(r.Find(n.ID()))
	assert.True(t, again.Status().Has(StatusWatched))
	require.NoError(t, again.SetValue("title", "mine"))
	assert.Equal(t, trace{"watch:set:title"}, tr)
}
