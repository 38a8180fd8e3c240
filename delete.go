package itemdb

// Delete removes the item and its children. While the view defers deletes,
// the item is only flagged DEFERRED and queued for EffectDelete.
func (item *Item) Delete() error {
	if item.status&(StatusDeleted|StatusDeleting) != 0 {
		return nil
	}
	if item.status&StatusStale != 0 {
		return itemErrf(item, "", ErrStaleItem, "")
	}
	v := item.View()
	if v.status&ViewDeferDelete != 0 {
		if item.status&StatusDeferred == 0 {
			item.status |= StatusDeferred
			// delete is the only deferred operation, so the item is the whole entry
			v.deleteQueue = append(v.deleteQueue, item)
		}
		return nil
	}
	return item.delete()
}

func (item *Item) delete() error {
	v := item.View()
	item.status |= StatusDeleting
	defer func() { item.status &^= StatusDeleting }()

	if k := item.kind; k != nil && k.OnDelete != nil {
		if err := k.OnDelete(item); err != nil {
			return err
		}
	}

	children, err := item.Children()
	if err != nil {
		return err
	}
	for _, child := range children {
		if child.status&(StatusDeleted|StatusDeleting) != 0 {
			continue
		}
		child.status &^= StatusDeferred
		if err := child.delete(); err != nil {
			return err
		}
	}

	if err := item.setDirty(NDirty, "", nil, nil, false); err != nil {
		return err
	}
	if item.parent != nil {
		if parent := item.parent.Cached(); parent != nil && parent.status&(StatusStale|StatusDeleting|StatusDeleted) == 0 {
			if err := parent.removeChild(item); err != nil {
				return err
			}
		}
	} else {
		v.forgetRootName()
	}

	id := item.ID()
	item.status |= StatusDeleted
	item.status &^= StatusDeferred
	delete(v.registry, id)
	if item.status&StatusNew != 0 {
		v.unlogItem(item)
	} else {
		v.deleted[id] = item
	}
	if v.verbose {
		v.logger.Debug("db: DELETE", idAttr("item", id))
	}
	return item.fireChanges(OpDelete, "")
}

// DeferDelete makes Item.Delete queue items until EffectDelete or
// CancelDelete.
func (v *View) DeferDelete() {
	v.status |= ViewDeferDelete
}

// IsDeferringDelete reports whether deletes are being queued.
func (v *View) IsDeferringDelete() bool {
	return v.status&ViewDeferDelete != 0
}

// EffectDelete leaves deferred-delete mode and deletes the queued items.
// Ordinary items go first and schema items last, so that delete hooks of
// ordinary items still see the schema. Queued items keep their DEFERRED
// flag until their turn comes; if a delete fails, the flag is cleared on
// every queued item left.
func (v *View) EffectDelete() error {
	queue := v.deleteQueue
	v.deleteQueue = nil
	v.status &^= ViewDeferDelete

	for pass := range 2 {
		for _, item := range queue {
			if item.status&StatusDeleted != 0 {
				continue
			}
			if pass == 0 && item.status&StatusSchema != 0 {
				continue
			}
			item.status &^= StatusDeferred
			if err := item.delete(); err != nil {
				for _, rest := range queue {
					rest.status &^= StatusDeferred
				}
				return err
			}
		}
	}
	return nil
}

// CancelDelete leaves deferred-delete mode and forgets the queue.
func (v *View) CancelDelete() {
	for _, item := range v.deleteQueue {
		item.status &^= StatusDeferred
	}
	v.deleteQueue = nil
	v.status &^= ViewDeferDelete
}
