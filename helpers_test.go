package itemdb

import (
	"context"
	"encoding/hex"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var (
	noteKind = &Kind{
		Name:        "Note",
		InheritFrom: "template",
		Attributes: []*Attribute{
			{Name: "title", Required: true},
			{Name: "body", HasDefault: true, Default: ""},
			{Name: "tags", Cardinality: List},
			{Name: "priority", HasDefault: true, Default: int64(3)},
			{Name: "template", Storage: StoreRef},
			{Name: "owner", Storage: StoreRef, NoInherit: true},
			{Name: "subject", Redirect: "title"},
			{Name: "stamp", Indexed: true},
		},
	}
	folderKind = &Kind{Name: "Folder"}
	testSchema = NewSchema(noteKind, folderKind)
)

func init() {
	slog.SetLogLoggerLevel(slog.LevelDebug)
}

// setup opens a store in a temp file, or in memory under -short.
func setup(t testing.TB, schema *Schema) *Store {
	t.Helper()
	opt := Options{IsTesting: true, Verbose: true, Schema: schema}
	if testing.Short() {
		return setupMem(t, schema)
	}

	dbFile := must(os.CreateTemp("", "itemdb_test_*.db"))
	t.Logf("DB: %s", dbFile.Name())
	dbFile.Close()

	s := must(Open(dbFile.Name(), opt))
	t.Cleanup(func() {
		ensure(s.Close())
		os.Remove(dbFile.Name())
	})
	return s
}

// setupMem always uses the in-memory storage, for tests that inject
// deadlocks.
func setupMem(t testing.TB, schema *Schema) *Store {
	t.Helper()
	s := must(Open("", Options{IsTesting: true, Verbose: true, InMemory: true, Schema: schema}))
	t.Cleanup(func() { ensure(s.Close()) })
	return s
}

func openView(t testing.TB, s *Store, name string) *View {
	t.Helper()
	v, err := s.NewView(name)
	require.NoError(t, err)
	t.Cleanup(v.Close)
	return v
}

func newNote(t testing.TB, v *View, name string, parent *Item) *Item {
	t.Helper()
	item, err := v.NewItem(name, parent, noteKind)
	require.NoError(t, err)
	return item
}

func commit(t testing.TB, v *View) {
	t.Helper()
	require.NoError(t, v.Commit(context.Background()))
}

func get(t testing.TB, item *Item, name string) any {
	t.Helper()
	val, err := item.Get(name)
	require.NoError(t, err)
	return val
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func x(data string) []byte {
	data = strings.ReplaceAll(data, " ", "")
	return must(hex.DecodeString(data))
}

func mustID(s string) uuid.UUID {
	return uuid.MustParse(s)
}

func itemNames(items []*Item) []string {
	result := make([]string, len(items))
	for i, item := range items {
		result[i] = item.Name()
	}
	return result
}

func assertPanics(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	fn()
}

func mustPut(t *testing.T, buck storageBucket, k, v []byte) {
	t.Helper()
	if err := buck.Put(k, v); err != nil {
		t.Fatalf("Put(%x) failed: %v", k, err)
	}
}

func ctx() context.Context {
	return context.Background()
}
