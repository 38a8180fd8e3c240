package itemdb

import (
	"fmt"
)

type Op int

const (
	OpNone Op = iota
	OpSet
	OpRemove
	OpAdd
	OpDelete
	OpMove
	OpKind
)

// Change describes one attribute change delivered to monitors, watchers
// and after-change hooks.
type Change struct {
	item *Item
	op   Op
	attr string
}

func (chg *Change) Item() *Item {
	return chg.item
}
func (chg *Change) Op() Op {
	return chg.op
}
func (chg *Change) Attr() string {
	return chg.attr
}

func (chg *Change) String() string {
	return fmt.Sprintf("%v %s.%s", chg.op, chg.item, chg.attr)
}

func (v Op) String() string {
	switch v {
	case OpNone:
		return "none"
	case OpSet:
		return "set"
	case OpRemove:
		return "remove"
	case OpAdd:
		return "add"
	case OpDelete:
		return "delete"
	case OpMove:
		return "move"
	case OpKind:
		return "kind"
	default:
		return fmt.Sprintf("invalid op %d", int(v))
	}
}
