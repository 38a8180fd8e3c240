package itemdb

import (
	"github.com/google/uuid"
)

const (
	idLen      = 16
	versionLen = 4
)

var (
	// attrNamespace derives the identifiers of attribute names, which
	// address value records.
	attrNamespace = uuid.MustParse("2bb3c4a6-6f58-5c3e-9a8e-0d8c35f1b0a4")

	// kindNamespace derives identifiers of kinds that don't declare one.
	kindNamespace = uuid.MustParse("8e1b3d42-95f0-5a8f-b1a7-4c6b0f6f2c11")
)

// AttrID is the stable identifier of an attribute name.
func AttrID(name string) uuid.UUID {
	return uuid.NewSHA1(attrNamespace, []byte(name))
}

// item, refs:  id ^v
func versionedKey(id uuid.UUID, version uint32) []byte {
	kb := newKeyBuilder(idLen + versionLen)
	return kb.AppendID(id).AppendInvVersion(version).Bytes()
}

// values, kinds, parents:  a b ^v
func pairKey(a, b uuid.UUID, version uint32) []byte {
	kb := newKeyBuilder(2*idLen + versionLen)
	return kb.AppendID(a).AppendID(b).AppendInvVersion(version).Bytes()
}

func pairPrefix(a, b uuid.UUID) []byte {
	kb := newKeyBuilder(2 * idLen)
	return kb.AppendID(a).AppendID(b).Bytes()
}

// history:  v id
func historyKey(version uint32, id uuid.UUID) []byte {
	kb := newKeyBuilder(versionLen + idLen)
	return kb.AppendUint32(version).AppendID(id).Bytes()
}

func historyVersionPrefix(version uint32) []byte {
	kb := newKeyBuilder(versionLen)
	return kb.AppendUint32(version).Bytes()
}

func decodeVersionedKey(key []byte) (uuid.UUID, uint32, error) {
	d := makeKeyDecoder(key)
	id, err := d.ID()
	if err != nil {
		return uuid.Nil, 0, err
	}
	v, err := d.InvVersion()
	if err != nil {
		return uuid.Nil, 0, err
	}
	return id, v, d.End()
}

func decodePairKey(key []byte) (uuid.UUID, uuid.UUID, uint32, error) {
	d := makeKeyDecoder(key)
	a, err := d.ID()
	if err != nil {
		return uuid.Nil, uuid.Nil, 0, err
	}
	b, err := d.ID()
	if err != nil {
		return uuid.Nil, uuid.Nil, 0, err
	}
	v, err := d.InvVersion()
	if err != nil {
		return uuid.Nil, uuid.Nil, 0, err
	}
	return a, b, v, d.End()
}

func decodeHistoryKey(key []byte) (uint32, uuid.UUID, error) {
	d := makeKeyDecoder(key)
	v, err := d.Uint32()
	if err != nil {
		return 0, uuid.Nil, err
	}
	id, err := d.ID()
	if err != nil {
		return 0, uuid.Nil, err
	}
	return v, id, d.End()
}
