package itemdb

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValues_KeepInsertionOrder(t *testing.T) {
	s := setup(t, testSchema)
	v := openView(t, s, "v")
	n := newNote(t, v, "n", nil)

	require.NoError(t, n.SetValue("title", "t"))
	require.NoError(t, n.SetValue("body", "b"))
	require.NoError(t, n.SetValue("priority", 7))
	require.NoError(t, n.SetValue("title", "t2"))

	vals := n.Values()
	assert.Same(t, n, vals.Owner())
	assert.Equal(t, 3, vals.Len())
	assert.Equal(t, []string{"title", "body", "priority"}, vals.Keys())
	assert.Equal(t, "t2", vals.GetDefault("title", nil))
	assert.Equal(t, "zz", vals.GetDefault("missing", "zz"))
	assert.Equal(t, []string{"title", "body", "priority"}, vals.DirtyKeys())

	require.NoError(t, n.Remove("body"))
	assert.Equal(t, []string{"title", "priority"}, vals.Keys())
	assert.ElementsMatch(t, []string{"title", "priority", "body"}, vals.DirtyKeys())
}

func TestValues_Flags(t *testing.T) {
	s := setup(t, testSchema)
	v := openView(t, s, "v")
	vals := newNote(t, v, "n", nil).Values()

	assert.Nil(t, vals.flags)
	assert.Zero(t, vals.Flags("a"))
	vals.ClearFlag("a", ValueReadOnly)
	assert.Nil(t, vals.flags, "clearing does not allocate")

	vals.SetFlag("a", ValueReadOnly|ValueIndexed)
	assert.Equal(t, ValueReadOnly|ValueIndexed, vals.Flags("a"))
	vals.ClearFlag("a", ValueReadOnly)
	assert.Equal(t, ValueIndexed, vals.Flags("a"))
	vals.ClearFlag("a", ValueIndexed)
	assert.NotContains(t, vals.flags, "a")
}

func TestValues_CopyIsDetached(t *testing.T) {
	s := setup(t, testSchema)
	v := openView(t, s, "v")
	n := newNote(t, v, "n", nil)
	require.NoError(t, n.SetValue("title", "t"))

	c := n.Values().Copy()
	assert.Nil(t, c.Owner())
	assert.Equal(t, []string{"title"}, c.Keys())
	assert.Empty(t, c.DirtyKeys())

	c.store("extra", int64(1))
	assert.False(t, n.Has("extra"))
}

func TestValues_ItemResolvesReferences(t *testing.T) {
	s := setup(t, testSchema)
	v := openView(t, s, "v")
	a := newNote(t, v, "a", nil)
	b := newNote(t, v, "b", nil)
	require.NoError(t, a.SetRef("owner", b))
	require.NoError(t, a.SetValue("title", "t"))

	target, err := a.References().Item("owner")
	require.NoError(t, err)
	assert.Same(t, b, target)

	_, err = a.References().Item("template")
	assert.ErrorIs(t, err, ErrNoSuchAttribute)
	_, err = a.Values().Item("title")
	assert.ErrorIs(t, err, ErrUnsupportedValue)

	require.NoError(t, a.SetRef("owner", nil))
	target, err = a.References().Item("owner")
	assert.NoError(t, err)
	assert.Nil(t, target)
}

func TestValueList_Ownership(t *testing.T) {
	s := setup(t, testSchema)
	v := openView(t, s, "v")
	n := newNote(t, v, "n", nil)

	l := must(NewValueList(1, "two", 3.5))
	assert.Equal(t, []any{int64(1), "two", 3.5}, l.Values())
	owner, _ := l.Owner()
	assert.Nil(t, owner)

	require.NoError(t, n.SetValue("tags", l))
	owner, attr := l.Owner()
	assert.Same(t, n, owner)
	assert.Equal(t, "tags", attr)

	// the same list under another attribute is copied
	require.NoError(t, n.SetValue("labels", l))
	other := must(n.Get("labels")).(*ValueList)
	assert.NotSame(t, l, other)
	assert.True(t, l.Equal(other))
	owner, attr = other.Owner()
	assert.Same(t, n, owner)
	assert.Equal(t, "labels", attr)

	c := l.Clone()
	owner, _ = c.Owner()
	assert.Nil(t, owner)
	require.NoError(t, c.Append("free"))
	assert.Equal(t, 3, l.Len())

	// replacing the value detaches the old list
	require.NoError(t, n.SetValue("tags", must(NewValueList("x"))))
	owner, _ = l.Owner()
	assert.Nil(t, owner)
}

func TestValueList_MutationDirtiesOwner(t *testing.T) {
	s := setup(t, testSchema)
	v := openView(t, s, "v")
	n := newNote(t, v, "n", nil)
	require.NoError(t, n.SetValue("tags", must(NewValueList("a"))))
	commit(t, v)
	assert.False(t, n.IsDirty())
	assert.Empty(t, n.Values().DirtyKeys())

	var ops []Op
	v.AddMonitor(&Monitor{Attr: "tags", Fn: func(chg *Change) error {
		ops = append(ops, chg.Op())
		return nil
	}})

	l := must(n.Get("tags")).(*ValueList)
	require.NoError(t, l.Append("b", "c"))
	require.NoError(t, l.Set(0, "A"))
	require.NoError(t, l.RemoveAt(1))
	assert.Equal(t, []any{"A", "c"}, l.Values())
	assert.Equal(t, "c", l.At(1))
	assert.True(t, n.IsDirty())
	assert.Equal(t, []string{"tags"}, n.Values().DirtyKeys())
	assert.Equal(t, []Op{OpAdd, OpSet, OpRemove}, ops)

	commit(t, v)
	r := openView(t, s, "r")
	got := must(must(r.Find(n.ID())).Get("tags")).(*ValueList)
	assert.Equal(t, []any{"A", "c"}, got.Values())
}

func TestValueList_InPlaceChangesAreVerified(t *testing.T) {
	labelled := &Kind{Name: "Labelled", Attributes: []*Attribute{{
		Name:        "labels",
		Cardinality: List,
		Verify: func(v any) error {
			l, ok := v.(*ValueList)
			if !ok {
				return nil
			}
			for _, e := range l.Values() {
				if _, ok := e.(string); !ok {
					return fmt.Errorf("label %v is not a string", e)
				}
			}
			return nil
		},
	}}}
	s := setup(t, NewSchema(labelled))
	v := openView(t, s, "v")
	v.SetVerify(true)
	item := must(v.NewItem("i", nil, labelled))
	require.NoError(t, item.SetValue("labels", must(NewValueList("ok"))))
	assert.Error(t, item.SetValue("labels", must(NewValueList("ok", int64(5)))))

	l := get(t, item, "labels").(*ValueList)
	var verr *VerificationError
	require.True(t, errors.As(l.Append(int64(42)), &verr))
	assert.Equal(t, "labels", verr.Attr)
	require.True(t, errors.As(l.Set(0, int64(1)), &verr))
	assert.Equal(t, []any{"ok"}, l.Values())

	require.NoError(t, l.Append("fine"))
	require.NoError(t, l.RemoveAt(0))
	assert.Equal(t, []any{"fine"}, l.Values())
}

func TestValueList_NestedListsAreCopied(t *testing.T) {
	inner := must(NewValueList(1))
	outer := must(NewValueList(inner, "x"))
	require.NoError(t, inner.Append(2))

	sub := outer.At(0).(*ValueList)
	assert.Equal(t, []any{int64(1)}, sub.Values())
	assert.False(t, outer.Equal(must(NewValueList(inner, "x"))))
	assert.True(t, outer.Equal(must(NewValueList(must(NewValueList(1)), "x"))))

	_, err := NewValueList(struct{}{})
	assert.ErrorIs(t, err, ErrUnsupportedValue)
}
