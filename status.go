package itemdb

import (
	"strings"
	"sync/atomic"
)

// Status is the item status word.
type Status uint32

const (
	StatusRaw Status = 1 << iota
	StatusNew
	StatusDeleted
	StatusDeleting
	StatusStale
	StatusPinned
	StatusDeferred
	StatusDeferring
	StatusWatched
	StatusSysMonOnly
	StatusSchema
	StatusContainer
	StatusNoDirty
	StatusMerged
	StatusMutating

	// VDirty: a value changed.
	VDirty
	// NDirty: name or parent changed.
	NDirty
	// CDirty: children changed.
	CDirty
	// RDirty: a reference changed.
	RDirty
	// ADirty: access control changed.
	ADirty
	// KDirty: kind changed.
	KDirty
	// FDirty: dirty since the last MapChanges(freshOnly).
	FDirty

	VRDirty = VDirty | RDirty
	Dirty   = VDirty | NDirty | CDirty | RDirty | ADirty | KDirty

	// SaveMask selects the status bits persisted with an item.
	SaveMask = StatusDeleted | StatusSchema | StatusContainer | StatusSysMonOnly
)

var statusNames = []struct {
	s    Status
	name string
}{
	{StatusRaw, "RAW"}, {StatusNew, "NEW"}, {StatusDeleted, "DELETED"},
	{StatusDeleting, "DELETING"}, {StatusStale, "STALE"}, {StatusPinned, "PINNED"},
	{StatusDeferred, "DEFERRED"}, {StatusDeferring, "DEFERRING"}, {StatusWatched, "WATCHED"},
	{StatusSysMonOnly, "SYSMONONLY"}, {StatusSchema, "SCHEMA"}, {StatusContainer, "CONTAINER"},
	{StatusNoDirty, "NODIRTY"}, {StatusMerged, "MERGED"}, {StatusMutating, "MUTATING"},
	{VDirty, "VDIRTY"}, {NDirty, "NDIRTY"}, {CDirty, "CDIRTY"}, {RDirty, "RDIRTY"},
	{ADirty, "ADIRTY"}, {KDirty, "KDIRTY"}, {FDirty, "FDIRTY"},
}

func (s Status) Has(f Status) bool {
	return s&f == f
}

func (s Status) HasAny(f Status) bool {
	return s&f != 0
}

func (s Status) String() string {
	if s == 0 {
		return "0"
	}
	var parts []string
	for _, n := range statusNames {
		if s&n.s != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// ViewStatus is the view status word.
type ViewStatus uint32

const (
	ViewOpen ViewStatus = 1 << iota
	ViewLoading
	ViewCommitting
	ViewCommitLock
	ViewVerify
	ViewFDirty
	ViewDeferDelete
	ViewDeferIndex
	ViewDeferNotif
	// ViewDeferObsD: observer deferral discarding duplicates.
	ViewDeferObsD
	// ViewDeferObsA: observer deferral keeping all calls.
	ViewDeferObsA
	ViewDeferCommit
	ViewMonitoring
)

func (s ViewStatus) Has(f ViewStatus) bool {
	return s&f == f
}

func (s ViewStatus) HasAny(f ViewStatus) bool {
	return s&f != 0
}

var accessCounter atomic.Uint64

// nextAccess bumps the process-wide access stamp. An external cache manager
// can compare Item.LastAccess values to pick eviction candidates.
func nextAccess() uint64 {
	return accessCounter.Add(1)
}
