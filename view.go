package itemdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"weak"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// View is one session's consistent picture of the store at a version. A
// view and the items it loads belong to a single goroutine; only ItemRef
// registration is safe to use concurrently.
type View struct {
	store   *Store
	name    string
	id      uuid.UUID
	version uint32
	status  ViewStatus
	logger  *slog.Logger
	verbose bool

	// tx is the read transaction of the outermost load in progress.
	tx *storeTx

	registry  map[uuid.UUID]*Item
	deleted   map[uuid.UUID]*Item
	instances *lru.Cache[uuid.UUID, *Item]
	rootNames map[string]uuid.UUID

	refsMu sync.Mutex
	refs   map[uuid.UUID]weak.Pointer[ItemRef]

	log    []*Item
	logged map[*Item]struct{}

	monitors map[monitorKey][]*Monitor
	watchers map[uuid.UUID][]*watcher

	indexing      deferScope
	notifications deferScope
	observers     deferScope
	obsSeen       map[observerKey]*queuedChange
	commits       deferScope
	commitPending bool
	deleteQueue   []*Item
	indexer       func(item *Item, attr string) error
}

func newView(s *Store, name string, version uint32) (*View, error) {
	instances, err := lru.New[uuid.UUID, *Item](s.opts.InstanceCacheSize)
	if err != nil {
		return nil, err
	}
	v := &View{
		store:     s,
		name:      name,
		id:        s.root,
		version:   version,
		status:    ViewOpen,
		logger:    s.logger.With("view", name),
		verbose:   s.verbose,
		registry:  make(map[uuid.UUID]*Item),
		deleted:   make(map[uuid.UUID]*Item),
		instances: instances,
		refs:      make(map[uuid.UUID]weak.Pointer[ItemRef]),
		logged:    make(map[*Item]struct{}),
		monitors:  make(map[monitorKey][]*Monitor),
		watchers:  make(map[uuid.UUID][]*watcher),
	}
	if s.opts.Verify {
		v.status |= ViewVerify
	}
	return v, nil
}

func (v *View) Name() string       { return v.name }
func (v *View) ID() uuid.UUID      { return v.id }
func (v *View) Version() uint32    { return v.version }
func (v *View) Status() ViewStatus { return v.status }
func (v *View) Store() *Store      { return v.store }
func (v *View) IsOpen() bool       { return v.status&ViewOpen != 0 }

// IsDirty reports whether the view has uncommitted changes.
func (v *View) IsDirty() bool { return len(v.log) > 0 }

// LoadedCount is the number of items currently registered in the view.
func (v *View) LoadedCount() int { return len(v.registry) }

func (v *View) String() string {
	return fmt.Sprintf("<view %s@%d>", v.name, v.version)
}

// SetVerify turns schema verification of assignments on or off.
func (v *View) SetVerify(on bool) {
	if on {
		v.status |= ViewVerify
	} else {
		v.status &^= ViewVerify
	}
}

// SetIndexer installs the callback that maintains external indexes for
// indexed attributes.
func (v *View) SetIndexer(fn func(item *Item, attr string) error) {
	v.indexer = fn
}

// Close discards everything the view holds. Uncommitted changes are lost.
func (v *View) Close() {
	if v.status&ViewOpen == 0 {
		return
	}
	for _, item := range v.registry {
		item.status |= StatusStale
	}
	v.status &^= ViewOpen
	v.registry = nil
	v.deleted = nil
	v.instances.Purge()
	v.log = nil
	v.logged = nil
	v.deleteQueue = nil
}

func (v *View) checkOpen() error {
	if v.status&ViewOpen == 0 {
		return ErrViewClosed
	}
	return nil
}

// read runs fn in the view's current read transaction, or in a new one if
// none is active. Only the call that started the transaction retries on a
// deadlock; nested reads pass it up.
func (v *View) read(op string, fn func(tx *storeTx) error) error {
	if v.tx != nil {
		return fn(v.tx)
	}
	return v.store.withTx(context.Background(), false, op, func(tx *storeTx) error {
		v.tx = tx
		defer func() { v.tx = nil }()
		return fn(tx)
	})
}

// --- lookup ---

// Get looks up an object by key: a uuid.UUID, an *ItemRef or a path string.
// The view's own identifier returns the view itself.
func (v *View) Get(key any) (any, error) {
	switch k := key.(type) {
	case uuid.UUID:
		if k == v.id {
			return v, nil
		}
		return v.Find(k)
	case *ItemRef:
		return k.Resolve()
	case string:
		if id, err := uuid.Parse(k); err == nil {
			return v.Get(id)
		}
		return v.FindPath(k)
	default:
		return nil, fmt.Errorf("%w: lookup key %T", ErrUnsupportedValue, key)
	}
}

// Find returns the item with the given identifier, loading it if needed.
func (v *View) Find(id uuid.UUID) (*Item, error) {
	if err := v.checkOpen(); err != nil {
		return nil, err
	}
	if item := v.registry[id]; item != nil {
		return item, nil
	}
	if v.deleted[id] != nil {
		return nil, idErr(id, ErrNotFound)
	}
	item, err := v.load(id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, idErr(id, ErrNotFound)
	}
	return item, nil
}

type loadedValue struct {
	name  string
	value any
	flags ValueFlags
}

func (v *View) load(id uuid.UUID) (*Item, error) {
	var ir *itemRecord
	var vals []loadedValue
	var refs []refEntry
	err := v.read("load", func(tx *storeTx) error {
		var err error
		vals, refs = vals[:0], nil
		ir, err = findItemRecord(tx, id, v.version)
		if err != nil || ir == nil || ir.Status&StatusDeleted != 0 {
			return err
		}
		for _, name := range ir.Values {
			value, flags, found, err := findValue(tx, id, name, ir.Version)
			if err != nil {
				return err
			}
			if !found {
				return idErr(id, fmt.Errorf("value %q missing at version %d", name, ir.Version))
			}
			vals = append(vals, loadedValue{name, value, flags})
		}
		if len(ir.Refs) > 0 {
			refs, err = findRefs(tx, id, ir.Version)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if ir == nil || ir.Status&StatusDeleted != 0 {
		return nil, nil
	}

	item, ok := v.instances.Get(id)
	if ok {
		v.instances.Remove(id)
	} else {
		item = &Item{}
	}
	v.fill(item, ir, vals, refs)
	v.registry[id] = item
	v.store.metrics.loads.Inc()
	if v.verbose {
		v.logger.Debug("db: LOAD", idAttr("item", id), slog.Int("version", int(ir.Version)), slog.Bool("reused", ok))
	}
	return item, nil
}

// fill (re)initializes an item from its stored state. The item object may
// be a previously unloaded instance, so everything is overwritten.
func (v *View) fill(item *Item, ir *itemRecord, vals []loadedValue, refs []refEntry) {
	v.status |= ViewLoading
	defer func() { v.status &^= ViewLoading }()

	item.bind(v.Ref(ir.ID))
	item.status = ir.Status&SaveMask | item.status&(StatusPinned|StatusWatched)
	item.version = ir.Version
	item.name = ir.Name
	item.kindID = ir.Kind
	item.kind = v.store.schema.KindByID(ir.Kind)
	item.parent = nil
	if ir.Parent != uuid.Nil && ir.Parent != v.id {
		item.parent = v.Ref(ir.Parent)
	}
	item.values = newValues(item, false)
	for _, lv := range vals {
		item.values.store(lv.name, lv.value)
		if lv.flags != 0 {
			item.values.SetFlag(lv.name, lv.flags)
		}
	}
	item.refs = newValues(item, true)
	for _, e := range refs {
		var ref any
		if e.Target != uuid.Nil {
			ref = v.Ref(e.Target)
		}
		item.refs.store(e.Name, ref)
		if e.Flags != 0 {
			item.refs.SetFlag(e.Name, e.Flags)
		}
	}
	item.savedName = ir.Name
	item.savedParent = ir.Parent
	item.savedKind = ir.Kind
	item.touch()
}

// unload drops an item from the registry and marks it stale. The object is
// kept in the instance cache so that a reload refills it in place.
func (v *View) unload(item *Item) {
	id := item.ID()
	delete(v.registry, id)
	delete(v.deleted, id)
	item.status |= StatusStale
	item.status &^= Dirty | FDirty
	item.values.clear()
	item.refs.clear()
	v.instances.Add(id, item)
}

// NewItem creates an item with a fresh identifier. A nil parent places it
// at the top level of the view.
func (v *View) NewItem(name string, parent *Item, kind *Kind) (*Item, error) {
	return v.NewItemWithID(uuid.New(), name, parent, kind)
}

func (v *View) NewItemWithID(id uuid.UUID, name string, parent *Item, kind *Kind) (*Item, error) {
	if err := v.checkOpen(); err != nil {
		return nil, err
	}
	if v.status&ViewCommitLock != 0 {
		return nil, idErr(id, ErrChangeDuringCommit)
	}
	if v.registry[id] != nil {
		return nil, idErr(id, fmt.Errorf("item already exists"))
	}
	if kind != nil {
		if v.store.schema.KindByID(kind.ID) != kind {
			return nil, idErr(id, fmt.Errorf("kind %v is not in the store schema", kind))
		}
		if err := v.ensureKindItem(kind); err != nil {
			return nil, err
		}
	}
	return v.newItem(id, name, parent, kind, 0)
}

func (v *View) newItem(id uuid.UUID, name string, parent *Item, kind *Kind, extra Status) (*Item, error) {
	if parent != nil {
		if err := parent.checkLive(); err != nil {
			return nil, err
		}
	}
	item := &Item{status: StatusRaw, name: name, kind: kind}
	item.bind(v.Ref(id))
	item.values = newValues(item, false)
	item.refs = newValues(item, true)
	if kind != nil {
		item.kindID = kind.ID
	}
	if parent != nil {
		item.parent = parent.ref
		if err := parent.addChild(item); err != nil {
			return nil, err
		}
	}
	v.registry[id] = item
	item.status = StatusNew | extra
	dirty := NDirty
	if kind != nil {
		dirty |= KDirty
	}
	if err := item.setDirty(dirty, "", nil, nil, false); err != nil {
		delete(v.registry, id)
		return nil, err
	}
	if parent == nil {
		v.forgetRootName()
	}
	return item, nil
}

const schemaRootName = "Schema"

var schemaRootID = uuid.NewSHA1(kindNamespace, []byte(schemaRootName))

// ensureKindItem materializes the schema item of a kind, so that items can
// refer to their kind by identifier.
func (v *View) ensureKindItem(kind *Kind) error {
	if _, err := v.Find(kind.ID); err == nil {
		return nil
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	root, err := v.Find(schemaRootID)
	if errors.Is(err, ErrNotFound) {
		root, err = v.newItem(schemaRootID, schemaRootName, nil, nil, StatusSchema|StatusContainer)
	}
	if err != nil {
		return err
	}
	_, err = v.newItem(kind.ID, kind.Name, root, nil, StatusSchema)
	return err
}

// children lists the live children of parent: the stored ones, minus those
// moved away or deleted in this view, plus those moved in or created here.
func (v *View) children(parent uuid.UUID) ([]*Item, error) {
	if err := v.checkOpen(); err != nil {
		return nil, err
	}
	var ids []uuid.UUID
	err := v.read("children", func(tx *storeTx) error {
		ids = ids[:0]
		return scanIndex(tx, parentsBucket, parent, v.version, func(id uuid.UUID, name string, live bool) error {
			if live {
				ids = append(ids, id)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[uuid.UUID]bool, len(ids))
	var result []*Item
	for _, id := range ids {
		if v.deleted[id] != nil {
			continue
		}
		item, err := v.Find(id)
		if errors.Is(err, ErrNotFound) {
			continue
		} else if err != nil {
			return nil, err
		}
		seen[id] = true
		if item.ParentID() == parent {
			result = append(result, item)
		}
	}
	for id, item := range v.registry {
		if !seen[id] && item.ParentID() == parent {
			result = append(result, item)
		}
	}
	slices.SortFunc(result, func(a, b *Item) int {
		if c := strings.Compare(a.name, b.name); c != 0 {
			return c
		}
		return slices.Compare(a.ref.id[:], b.ref.id[:])
	})
	return result, nil
}

// Roots lists the top-level items.
func (v *View) Roots() ([]*Item, error) {
	return v.children(v.id)
}

// FindRoot finds a top-level item by name. Lookups are cached until the
// next structural change.
func (v *View) FindRoot(name string) (*Item, error) {
	if id, ok := v.rootNames[name]; ok {
		if item, err := v.Find(id); err == nil && item.parent == nil && item.name == name {
			return item, nil
		}
	}
	roots, err := v.Roots()
	if err != nil {
		return nil, err
	}
	for _, item := range roots {
		if item.name == name {
			if v.rootNames == nil {
				v.rootNames = make(map[string]uuid.UUID)
			}
			v.rootNames[name] = item.ID()
			return item, nil
		}
	}
	return nil, fmt.Errorf("root %q: %w", name, ErrNotFound)
}

func (v *View) forgetRootName() {
	v.rootNames = nil
}

// FindPath resolves a slash-separated path of names, starting at the top
// level. A leading slash is optional.
func (v *View) FindPath(path string) (*Item, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, fmt.Errorf("empty path: %w", ErrNotFound)
	}
	first, rest, _ := strings.Cut(path, "/")
	item, err := v.FindRoot(first)
	if err != nil {
		return nil, err
	}
	for rest != "" {
		var name string
		name, rest, _ = strings.Cut(rest, "/")
		if item, err = item.Child(name); err != nil {
			return nil, err
		}
	}
	return item, nil
}

// QueryItems returns all live items of a kind visible in this view.
func (v *View) QueryItems(kind *Kind) ([]*Item, error) {
	if err := v.checkOpen(); err != nil {
		return nil, err
	}
	var ids []uuid.UUID
	err := v.read("query", func(tx *storeTx) error {
		ids = ids[:0]
		return scanIndex(tx, kindsBucket, kind.ID, v.version, func(id uuid.UUID, _ string, live bool) error {
			if live {
				ids = append(ids, id)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	seen := make(map[uuid.UUID]bool, len(ids))
	var result []*Item
	for _, id := range ids {
		if v.deleted[id] != nil {
			continue
		}
		item, err := v.Find(id)
		if errors.Is(err, ErrNotFound) {
			continue
		} else if err != nil {
			return nil, err
		}
		seen[id] = true
		if item.kindID == kind.ID {
			result = append(result, item)
		}
	}
	for id, item := range v.registry {
		if !seen[id] && item.kindID == kind.ID {
			result = append(result, item)
		}
	}
	slices.SortFunc(result, func(a, b *Item) int {
		return slices.Compare(a.ref.id[:], b.ref.id[:])
	})
	return result, nil
}

// --- dirty log ---

// logItem records an item as changed. It reports false when the item is
// already logged.
func (v *View) logItem(item *Item) bool {
	if _, ok := v.logged[item]; ok {
		return false
	}
	v.logged[item] = struct{}{}
	v.log = append(v.log, item)
	return true
}

func (v *View) unlogItem(item *Item) {
	if _, ok := v.logged[item]; !ok {
		return
	}
	delete(v.logged, item)
	if i := slices.Index(v.log, item); i >= 0 {
		v.log = slices.Delete(v.log, i, i+1)
	}
}

// MapChanges calls fn for every changed item with its dirty bits and changed
// attribute names. With freshOnly, only items changed since the previous
// freshOnly call are reported, and their fresh bit is cleared.
func (v *View) MapChanges(freshOnly bool, fn func(item *Item, dirty Status, attrs []string) error) error {
	for _, item := range slices.Clone(v.log) {
		if freshOnly && item.status&FDirty == 0 {
			continue
		}
		attrs := append(item.values.DirtyKeys(), item.refs.DirtyKeys()...)
		if err := fn(item, item.status&(Dirty|StatusDeleted|StatusNew), attrs); err != nil {
			return err
		}
		if freshOnly {
			item.status &^= FDirty
		}
	}
	if freshOnly {
		v.status &^= ViewFDirty
	}
	return nil
}

// Cancel discards all uncommitted changes. Changed items are reloaded from
// the view's version; new items disappear.
func (v *View) Cancel() error {
	if err := v.checkOpen(); err != nil {
		return err
	}
	v.CancelDelete()
	var reload []uuid.UUID
	for _, item := range v.log {
		id := item.ID()
		if item.status&StatusNew != 0 {
			delete(v.registry, id)
			delete(v.deleted, id)
			item.status |= StatusStale
			item.status &^= Dirty | FDirty
			continue
		}
		v.unload(item)
		reload = append(reload, id)
	}
	v.log = nil
	v.logged = make(map[*Item]struct{})
	v.status &^= ViewFDirty
	v.forgetRootName()
	for _, id := range reload {
		if _, err := v.Find(id); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}

// --- history ---

// MapHistory calls fn for each item change committed after fromVersion up to
// and including toVersion, in version order.
func (v *View) MapHistory(ctx context.Context, fromVersion, toVersion uint32, fn func(id uuid.UUID, version uint32, status, dirty Status) error) error {
	var entries []historyEntry
	err := v.store.withTx(ctx, false, "history", func(tx *storeTx) error {
		entries = entries[:0]
		return applyHistory(tx, fromVersion, toVersion, func(e historyEntry) error {
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := fn(e.ID, e.Version, e.Status, e.Dirty); err != nil {
			return err
		}
	}
	return nil
}

// Refresh moves the view to the latest committed version.
func (v *View) Refresh(ctx context.Context) error {
	return v.refresh(ctx, 0, true)
}

// RefreshTo moves the view to the given version, which may be older.
func (v *View) RefreshTo(ctx context.Context, version uint32) error {
	return v.refresh(ctx, version, false)
}

// refresh unloads every loaded item changed between the view's version and
// the target one; pinned items are reloaded right away. A locally changed
// item that was also changed in that range is a conflict, detected before
// anything is unloaded.
func (v *View) refresh(ctx context.Context, target uint32, latest bool) error {
	if err := v.checkOpen(); err != nil {
		return err
	}
	var changed []historyEntry
	err := v.store.withTx(ctx, false, "refresh", func(tx *storeTx) error {
		changed = changed[:0]
		if latest {
			cur, err := currentVersion(tx, v.store.root)
			if err != nil {
				return err
			}
			target = cur
		}
		from, to := v.version, target
		if to < from {
			from, to = to, from
		}
		return applyHistory(tx, from, to, func(e historyEntry) error {
			changed = append(changed, e)
			return nil
		})
	})
	if err != nil {
		return err
	}
	if target == v.version {
		return nil
	}
	v.logger.Debug(fmt.Sprintf("refreshing view from version %d to %d", v.version, target))

	for _, e := range changed {
		item := v.registry[e.ID]
		if item == nil {
			item = v.deleted[e.ID]
		}
		if item != nil && item.status&Dirty != 0 && item.status&StatusNew == 0 {
			return itemErrf(item, "", ErrConflict, "changed in version %d", e.Version)
		}
	}

	v.version = target
	var reload []uuid.UUID
	for _, e := range changed {
		item := v.registry[e.ID]
		if item == nil || item.status&StatusNew != 0 {
			continue
		}
		if item.status&StatusPinned != 0 {
			reload = append(reload, e.ID)
		}
		v.unload(item)
	}
	v.forgetRootName()
	for _, id := range reload {
		if _, err := v.Find(id); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}
