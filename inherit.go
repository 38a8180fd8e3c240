package itemdb

import (
	"github.com/google/uuid"
)

// FindInheritedValues returns the values of the given attributes, looking
// first at the item itself and then along its kind's InheritFrom chain.
// Attributes not found anywhere, or declared NoInherit, get the matching
// entry of defaults (nil when defaults is shorter). A chain that loops back
// on itself ends at the repeated item.
func (item *Item) FindInheritedValues(names []string, defaults []any) ([]any, error) {
	if item.status&StatusStale != 0 {
		return nil, itemErrf(item, "", ErrStaleItem, "")
	}
	results := make([]any, len(names))
	found := make([]bool, len(names))
	visited := make(map[uuid.UUID]bool)
	if err := item.findInherited(names, results, found, visited, true); err != nil {
		return nil, err
	}
	for i := range names {
		if !found[i] && i < len(defaults) {
			results[i] = defaults[i]
		}
	}
	return results, nil
}

func (item *Item) findInherited(names []string, results []any, found []bool, visited map[uuid.UUID]bool, self bool) error {
	visited[item.ID()] = true
	missing := false
	for i, name := range names {
		if found[i] {
			continue
		}
		name, attr := item.kind.resolve(name)
		if !self && attr != nil && attr.NoInherit {
			continue
		}
		v, ok, err := item.localValue(name)
		if err != nil {
			return err
		}
		if ok {
			results[i], found[i] = v, true
		} else {
			missing = true
		}
	}
	if !missing || item.kind == nil || item.kind.InheritFrom == "" {
		return nil
	}
	raw, ok := item.refs.Get(item.kind.InheritFrom)
	if !ok || raw == nil {
		return nil
	}
	ref := raw.(*ItemRef)
	if visited[ref.id] {
		return nil
	}
	next, err := ref.ResolveNoError()
	if err != nil || next == nil {
		return err
	}
	return next.findInherited(names, results, found, visited, false)
}
