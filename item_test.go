package itemdb

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItem_GetFallsBackToKindDefaults(t *testing.T) {
	s := setup(t, testSchema)
	v := openView(t, s, "v")
	n := newNote(t, v, "n", nil)

	assert.Equal(t, "", get(t, n, "body"))
	assert.Equal(t, int64(3), get(t, n, "priority"))
	assert.False(t, n.Has("priority"))

	_, err := n.Get("nope")
	assert.ErrorIs(t, err, ErrNoSuchAttribute)
	_, err = n.Get("owner")
	assert.ErrorIs(t, err, ErrNoSuchAttribute)
	assert.Equal(t, 1, must(n.GetDefault("nope", 1)))

	require.NoError(t, n.SetValue("priority", 1))
	assert.Equal(t, int64(1), get(t, n, "priority"))
	assert.True(t, n.Has("priority"))

	assert.Equal(t, int64(3), n.AttributeAspect("priority", AspectDefault, nil))
	assert.Equal(t, true, n.AttributeAspect("subject", AspectRequired, false))
	assert.Equal(t, List, n.AttributeAspect("tags", AspectCardinality, nil))
	assert.Equal(t, "d", n.AttributeAspect("undeclared", AspectIndexed, "d"))
	assert.Equal(t, "d", n.AttributeAspect("title", AspectDefault, "d"))
}

func TestItem_RedirectedAttribute(t *testing.T) {
	s := setup(t, testSchema)
	v := openView(t, s, "v")
	n := newNote(t, v, "n", nil)

	require.NoError(t, n.Set("subject", "via subject"))
	assert.Equal(t, "via subject", get(t, n, "title"))
	assert.Equal(t, "via subject", get(t, n, "subject"))
	assert.True(t, n.Has("subject"))
	assert.Equal(t, []string{"title"}, n.Values().Keys())
}

func TestItem_SetRoutesReferences(t *testing.T) {
	s := setup(t, testSchema)
	v := openView(t, s, "v")
	a := newNote(t, v, "a", nil)
	b := newNote(t, v, "b", nil)

	require.NoError(t, a.Set("template", b))
	require.NoError(t, a.Set("peer", b.Ref()))
	require.NoError(t, a.Set("owner", nil))
	require.NoError(t, a.Set("title", "x"))

	assert.Equal(t, []string{"template", "peer", "owner"}, a.References().Keys())
	assert.Equal(t, []string{"title"}, a.Values().Keys())
	assert.Same(t, b, get(t, a, "template"))
	assert.Same(t, b, get(t, a, "peer"))
	assert.Nil(t, get(t, a, "owner"))
	assert.True(t, a.Status().Has(RDirty|VDirty))

	commit(t, v)
	r := openView(t, s, "r")
	ra := must(r.Find(a.ID()))
	rb := get(t, ra, "template").(*Item)
	assert.Equal(t, b.ID(), rb.ID())
	assert.Same(t, r, rb.View())
	assert.Nil(t, get(t, ra, "owner"))
}

func TestItem_ChangeDuringCommitLeavesValuesUntouched(t *testing.T) {
	s := setup(t, testSchema)
	v := openView(t, s, "v")
	n := newNote(t, v, "n", nil)
	other := newNote(t, v, "other", nil)
	require.NoError(t, n.SetValue("title", "before"))
	require.NoError(t, n.SetValue("tags", must(NewValueList("a"))))
	commit(t, v)

	v.status |= ViewCommitLock
	err := n.SetValue("title", "after")
	assert.ErrorIs(t, err, ErrChangeDuringCommit)
	assert.ErrorIs(t, n.SetRef("template", other), ErrChangeDuringCommit)
	assert.ErrorIs(t, n.Remove("title"), ErrChangeDuringCommit)
	tags := get(t, n, "tags").(*ValueList)
	assert.ErrorIs(t, tags.Append("b"), ErrChangeDuringCommit)
	_, err = v.NewItem("late", nil, noteKind)
	assert.ErrorIs(t, err, ErrChangeDuringCommit)
	v.status &^= ViewCommitLock

	assert.Equal(t, "before", get(t, n, "title"))
	assert.Equal(t, []any{"a"}, tags.Values())
	assert.False(t, n.References().Has("template"))
	assert.False(t, n.IsDirty())
	assert.Empty(t, n.Values().DirtyKeys())
	assert.False(t, v.IsDirty())
}

func TestItem_VerifyAssignments(t *testing.T) {
	s := setup(t, testSchema)
	v := openView(t, s, "v")
	n := newNote(t, v, "n", nil)
	other := newNote(t, v, "other", nil)
	v.SetVerify(true)

	var verr *VerificationError
	err := n.SetValue("tags", "not a list")
	require.True(t, errors.As(err, &verr), "err = %v", err)
	assert.Equal(t, "tags", verr.Attr)
	assert.Equal(t, n.ID(), verr.ID)
	assert.False(t, n.Has("tags"))

	err = n.SetValue("title", nil)
	require.True(t, errors.As(err, &verr), "err = %v", err)
	assert.Contains(t, verr.Error(), "required")

	err = n.SetValue("template", "x")
	require.True(t, errors.As(err, &verr), "err = %v", err)
	assert.Contains(t, verr.Error(), "storage mismatch")

	require.NoError(t, n.SetValue("tags", must(NewValueList("ok"))))
	require.NoError(t, n.SetRef("template", other))
	require.NoError(t, n.SetRef("template", nil))
	require.NoError(t, n.SetValue("undeclared", 1))

	v.SetVerify(false)
	require.NoError(t, n.SetValue("tags", "anything goes"))
}

func TestItem_AttributeVerifyHook(t *testing.T) {
	strict := &Kind{Name: "Strict", Attributes: []*Attribute{{
		Name: "size",
		Verify: func(v any) error {
			if n, ok := v.(int64); ok && n < 0 {
				return errors.New("negative size")
			}
			return nil
		},
	}}}
	s := setup(t, NewSchema(strict))
	s.opts.Verify = true
	v := openView(t, s, "v")
	item := must(v.NewItem("s", nil, strict))

	var verr *VerificationError
	require.True(t, errors.As(item.SetValue("size", -1), &verr))
	assert.Equal(t, "negative size", verr.Msg)
	assert.Equal(t, int64(-1), verr.Value)
	require.NoError(t, item.SetValue("size", 10))
}

func TestItem_ReadOnly(t *testing.T) {
	s := setup(t, testSchema)
	v := openView(t, s, "v")
	a := newNote(t, v, "a", nil)
	b := newNote(t, v, "b", nil)
	require.NoError(t, a.SetValue("title", "fixed"))
	require.NoError(t, a.SetRef("owner", b))

	a.SetReadOnly("title", true)
	a.SetReadOnly("owner", true)
	assert.ErrorIs(t, a.SetValue("title", "changed"), ErrReadOnly)
	assert.ErrorIs(t, a.Remove("title"), ErrReadOnly)
	assert.ErrorIs(t, a.SetRef("owner", nil), ErrReadOnly)
	assert.Equal(t, "fixed", get(t, a, "title"))

	commit(t, v)
	r := openView(t, s, "r")
	ra := must(r.Find(a.ID()))
	assert.Equal(t, ValueReadOnly, ra.Values().Flags("title")&ValueReadOnly)
	assert.ErrorIs(t, ra.SetValue("title", "changed"), ErrReadOnly)

	a.SetReadOnly("title", false)
	require.NoError(t, a.SetValue("title", "changed"))
}

func TestItem_TransientValuesAreNotSaved(t *testing.T) {
	s := setup(t, testSchema)
	v := openView(t, s, "v")
	n := newNote(t, v, "n", nil)
	require.NoError(t, n.SetValue("title", "kept"))
	require.NoError(t, n.SetValue("scratch", 42))
	n.SetTransient("scratch", true)
	commit(t, v)

	assert.Equal(t, int64(42), get(t, n, "scratch"))
	r := openView(t, s, "r")
	rn := must(r.Find(n.ID()))
	assert.Equal(t, "kept", get(t, rn, "title"))
	assert.False(t, rn.Has("scratch"))
}

func TestItem_StaleItemRefusesAccess(t *testing.T) {
	s := setup(t, testSchema)
	w := openView(t, s, "w")
	n := newNote(t, w, "n", nil)
	commit(t, w)

	r := openView(t, s, "r")
	rn := must(r.Find(n.ID()))

	require.NoError(t, n.SetValue("title", "new"))
	commit(t, w)
	require.NoError(t, r.Refresh(ctx()))

	require.True(t, rn.IsStale())
	_, err := rn.Get("title")
	assert.ErrorIs(t, err, ErrStaleItem)
	assert.ErrorIs(t, rn.SetValue("title", "x"), ErrStaleItem)
	assert.ErrorIs(t, rn.Delete(), ErrStaleItem)
	_, err = rn.FindInheritedValues([]string{"title"}, nil)
	assert.ErrorIs(t, err, ErrStaleItem)

	fresh := must(r.Find(n.ID()))
	assert.Equal(t, "new", get(t, fresh, "title"))
}

func TestItem_Tree(t *testing.T) {
	s := setup(t, testSchema)
	v := openView(t, s, "v")
	docs := must(v.NewItem("docs", nil, folderKind))
	a := newNote(t, v, "a", docs)
	b := newNote(t, v, "b", docs)
	sub := newNote(t, v, "sub", a)

	assert.Equal(t, "/docs/a/sub", must(sub.Path()))
	assert.Same(t, docs, must(sub.Root()))
	assert.Same(t, a, must(sub.Parent()))
	assert.Nil(t, must(docs.Parent()))
	assert.Equal(t, v.ID(), docs.ParentID())
	assert.Equal(t, []string{"a", "b"}, itemNames(must(docs.Children())))
	assert.Same(t, b, must(docs.Child("b")))
	_, err := docs.Child("zzz")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []string{"Schema", "docs"}, itemNames(must(v.Roots())))
	assert.Same(t, sub, must(v.FindPath("/docs/a/sub")))

	commit(t, v)

	r := openView(t, s, "r")
	rsub := must(r.FindPath("docs/a/sub"))
	assert.Equal(t, sub.ID(), rsub.ID())
	assert.Equal(t, []string{"Schema", "docs"}, itemNames(must(r.Roots())))
	assert.Equal(t, []string{"a", "b"}, itemNames(must(must(r.FindRoot("docs")).Children())))
	assert.Equal(t, docs.ID(), must(rsub.Root()).ID())
	got, err := r.Get("/docs/b")
	require.NoError(t, err)
	assert.Equal(t, b.ID(), got.(*Item).ID())
	_, err = r.FindPath("docs/nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.FindPath("")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestItem_MoveAndRename(t *testing.T) {
	s := setup(t, testSchema)
	v := openView(t, s, "v")
	docs := must(v.NewItem("docs", nil, folderKind))
	a := newNote(t, v, "a", docs)
	b := newNote(t, v, "b", docs)
	sub := newNote(t, v, "sub", a)
	commit(t, v)

	var moves []string
	v.AddMonitor(&Monitor{Op: OpMove, Fn: func(chg *Change) error {
		moves = append(moves, chg.Item().Name())
		return nil
	}})

	require.NoError(t, b.Move(a, "b2"))
	assert.True(t, b.Status().Has(NDirty))
	assert.True(t, a.Status().Has(CDirty))
	assert.True(t, docs.Status().Has(CDirty))
	assert.Equal(t, []string{"a"}, itemNames(must(docs.Children())))
	assert.Equal(t, []string{"b2", "sub"}, itemNames(must(a.Children())))

	require.NoError(t, a.SetName("alpha"))
	assert.Equal(t, "/docs/alpha/sub", must(sub.Path()))
	assert.Equal(t, []string{"b2", "alpha"}, moves)

	err := docs.Move(sub, "loop")
	assert.ErrorContains(t, err, "own descendant")
	assert.ErrorContains(t, docs.SetParent(docs), "own descendant")

	require.NoError(t, sub.SetParent(nil))
	assert.Equal(t, "/sub", must(sub.Path()))
	commit(t, v)

	r := openView(t, s, "r")
	assert.Equal(t, []string{"Schema", "docs", "sub"}, itemNames(must(r.Roots())))
	assert.Equal(t, b.ID(), must(r.FindPath("docs/alpha/b2")).ID())
	assert.Equal(t, []string{"b2"}, itemNames(must(must(r.FindPath("docs/alpha")).Children())))
	_, err = r.FindPath("docs/a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestItem_SetKind(t *testing.T) {
	s := setup(t, testSchema)
	v := openView(t, s, "v")
	plain := must(v.NewItem("plain", nil, nil))
	assert.Nil(t, plain.Kind())
	assert.Equal(t, uuid.Nil, plain.KindID())
	commit(t, v)

	require.NoError(t, plain.SetKind(folderKind))
	assert.True(t, plain.Status().Has(KDirty))
	assert.Equal(t, folderKind.ID, plain.KindID())
	assert.Equal(t, []string{"plain"}, itemNames(must(v.QueryItems(folderKind))))
	commit(t, v)

	r := openView(t, s, "r")
	rp := must(r.Find(plain.ID()))
	assert.Same(t, folderKind, rp.Kind())
	assert.Equal(t, []string{"plain"}, itemNames(must(r.QueryItems(folderKind))))

	require.NoError(t, plain.SetKind(noteKind))
	commit(t, v)
	require.NoError(t, r.Refresh(ctx()))
	assert.Empty(t, must(r.QueryItems(folderKind)))
	assert.Equal(t, []string{"plain"}, itemNames(must(r.QueryItems(noteKind))))
}

func TestItem_KindMustBelongToSchema(t *testing.T) {
	s := setup(t, testSchema)
	v := openView(t, s, "v")
	stranger := &Kind{Name: "Stranger", ID: uuid.New()}
	_, err := v.NewItem("x", nil, stranger)
	assert.ErrorContains(t, err, "not in the store schema")

	id := uuid.New()
	_, err = v.NewItemWithID(id, "x", nil, noteKind)
	require.NoError(t, err)
	_, err = v.NewItemWithID(id, "y", nil, noteKind)
	assert.ErrorContains(t, err, "already exists")
}

func TestItem_TouchAdvancesLastAccess(t *testing.T) {
	s := setup(t, testSchema)
	v := openView(t, s, "v")
	a := newNote(t, v, "a", nil)
	b := newNote(t, v, "b", nil)
	assert.Less(t, a.LastAccess(), b.LastAccess())
	get(t, a, "body")
	assert.Greater(t, a.LastAccess(), b.LastAccess())
}
