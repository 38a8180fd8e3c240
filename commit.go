package itemdb

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Commit writes every changed item as a new store version.
//
// The view is first refreshed to the latest version under the store's commit
// lock, so the new version always directly follows the one the changes were
// checked against. While the items are saved, value and reference changes
// are refused with ErrChangeDuringCommit. On failure nothing is written and
// the changes stay pending.
func (v *View) Commit(ctx context.Context) error {
	if err := v.checkOpen(); err != nil {
		return err
	}
	if v.status&ViewDeferCommit != 0 {
		v.commitPending = true
		return nil
	}
	if v.status&ViewCommitting != 0 {
		return fmt.Errorf("%v: commit already in progress", v)
	}
	v.status |= ViewCommitting
	defer func() { v.status &^= ViewCommitting }()

	start := time.Now()
	lock, err := v.lockAtLatest(ctx)
	if err != nil {
		return err
	}
	defer lock.Put()

	if len(v.log) == 0 {
		return nil
	}

	v.status |= ViewCommitLock
	defer func() { v.status &^= ViewCommitLock }()

	items := slices.Clone(v.log)
	newVersion := v.version + 1
	var written int
	err = v.store.withTx(ctx, true, "commit", func(tx *storeTx) error {
		for _, item := range items {
			if err := v.saveItem(tx, item, newVersion); err != nil {
				return err
			}
		}
		if err := setCurrentVersion(tx, v.store.root, newVersion); err != nil {
			return err
		}
		info := &CommitInfo{
			Version: newVersion,
			Time:    time.Now().UTC(),
			View:    v.name,
			Items:   len(items),
			Bytes:   tx.written,
		}
		if err := putCommitInfo(tx, v.store.root, info); err != nil {
			return err
		}
		written = tx.written
		return nil
	})
	if err != nil {
		return fmt.Errorf("%v: commit: %w", v, err)
	}

	v.version = newVersion
	for _, item := range items {
		v.clearCommitted(item, newVersion)
	}
	v.log = nil
	v.logged = make(map[*Item]struct{})
	v.status &^= ViewFDirty

	elapsed := time.Since(start)
	v.store.metrics.commits.Inc()
	v.store.metrics.committedItems.Add(float64(len(items)))
	v.store.metrics.commitDuration.Observe(elapsed.Seconds())
	v.logger.Info(fmt.Sprintf("committed %d items (%d kbytes) in %s", len(items), (written+1023)/1024, elapsed.Round(time.Millisecond)), slog.Int("version", int(newVersion)))
	return nil
}

// lockAtLatest refreshes the view and takes the commit lock, repeating until
// no other commit slipped in between.
func (v *View) lockAtLatest(ctx context.Context) (*Lock, error) {
	for {
		if err := v.Refresh(ctx); err != nil {
			return nil, err
		}
		lock, err := v.store.acquireLock(ctx)
		if err != nil {
			return nil, err
		}
		latest, err := v.store.Version()
		if err != nil {
			lock.Put()
			return nil, err
		}
		if latest == v.version {
			return lock, nil
		}
		lock.Put()
	}
}

func (v *View) saveItem(tx *storeTx, item *Item, version uint32) error {
	id := item.ID()
	parentID := item.ParentID()
	ir := &itemRecord{
		ID:      id,
		Version: version,
		Kind:    item.kindID,
		Parent:  parentID,
		Name:    item.name,
		Status:  item.status & SaveMask,
	}

	if item.status&StatusDeleted != 0 {
		if err := putItemRecord(tx, ir); err != nil {
			return err
		}
		if item.savedKind != uuid.Nil {
			if err := putIndexEntry(tx, kindsBucket, item.savedKind, id, version, item.savedName, false); err != nil {
				return err
			}
		}
		if item.savedParent != uuid.Nil {
			if err := putIndexEntry(tx, parentsBucket, item.savedParent, id, version, item.savedName, false); err != nil {
				return err
			}
		}
	} else {
		for _, name := range item.values.DirtyKeys() {
			value, ok := item.values.Get(name)
			if !ok || item.values.Flags(name)&ValueTransient != 0 {
				continue
			}
			lit, err := encodeLiteral(value)
			if err != nil {
				return itemErrf(item, name, err, "")
			}
			if err := putValue(tx, id, name, version, item.values.Flags(name), lit); err != nil {
				return err
			}
		}
		for _, name := range item.values.keys {
			if item.values.Flags(name)&ValueTransient == 0 {
				ir.Values = append(ir.Values, name)
			}
		}

		if item.status&(RDirty|StatusNew) != 0 {
			entries := make([]refEntry, 0, item.refs.Len())
			for _, name := range item.refs.keys {
				flags := item.refs.Flags(name)
				if flags&ValueTransient != 0 {
					continue
				}
				e := refEntry{Name: name, Flags: flags}
				if ref, ok := item.refs.m[name].(*ItemRef); ok {
					e.Target = ref.id
				}
				entries = append(entries, e)
			}
			if len(entries) > 0 || item.status&StatusNew == 0 {
				if err := putRefs(tx, id, version, entries); err != nil {
					return err
				}
			}
		}
		for _, name := range item.refs.keys {
			if item.refs.Flags(name)&ValueTransient == 0 {
				ir.Refs = append(ir.Refs, name)
			}
		}

		if err := putItemRecord(tx, ir); err != nil {
			return err
		}

		if item.kindID != item.savedKind {
			if item.savedKind != uuid.Nil {
				if err := putIndexEntry(tx, kindsBucket, item.savedKind, id, version, item.savedName, false); err != nil {
					return err
				}
			}
			if item.kindID != uuid.Nil {
				if err := putIndexEntry(tx, kindsBucket, item.kindID, id, version, item.name, true); err != nil {
					return err
				}
			}
		}
		if parentID != item.savedParent || item.name != item.savedName {
			if item.savedParent != uuid.Nil && item.savedParent != parentID {
				if err := putIndexEntry(tx, parentsBucket, item.savedParent, id, version, item.savedName, false); err != nil {
					return err
				}
			}
			if err := putIndexEntry(tx, parentsBucket, parentID, id, version, item.name, true); err != nil {
				return err
			}
		}
	}

	if v.verbose {
		v.logger.Debug("db: SAVE", idAttr("item", id), hexAttr("key", versionedKey(id, version)), slog.String("status", ir.Status.String()), slog.String("dirty", (item.status&Dirty).String()))
	}
	return putHistory(tx, historyEntry{
		Version: version,
		ID:      id,
		Status:  ir.Status,
		Dirty:   item.status & Dirty,
	})
}

func (v *View) clearCommitted(item *Item, version uint32) {
	id := item.ID()
	if item.status&StatusDeleted != 0 {
		delete(v.deleted, id)
		v.instances.Remove(id)
		item.status &^= Dirty | FDirty
		return
	}
	item.version = version
	item.status &^= Dirty | FDirty | StatusNew | StatusMerged
	item.values.clearDirty()
	item.refs.clearDirty()
	item.savedName = item.name
	item.savedParent = item.ParentID()
	item.savedKind = item.kindID
}

// CommitInfo describes a committed version, or returns nil if there is no
// such version.
func (s *Store) CommitInfo(ctx context.Context, version uint32) (*CommitInfo, error) {
	var info *CommitInfo
	err := s.withTx(ctx, false, "commit-info", func(tx *storeTx) error {
		var err error
		info, err = getCommitInfo(tx, s.root, version)
		return err
	})
	return info, err
}
