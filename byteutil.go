package itemdb

import (
	"encoding/binary"

	"github.com/google/uuid"
)

func ensureCapacity(buf []byte, minCap int) []byte {
	c := cap(buf)
	if minCap > c {
		if c < 16 {
			c = 16
		}
		for minCap > c {
			c <<= 1
		}
		old := buf
		buf = make([]byte, len(old), c)
		copy(buf, old)
	}
	return buf
}

func grow(buf []byte, n int) (int, []byte) {
	off := len(buf)
	newLen := off + n
	buf = ensureCapacity(buf, newLen)
	return off, buf[:newLen]
}

// keyBuilder assembles fixed-width big-endian keys.
type keyBuilder struct {
	Buf []byte
}

func newKeyBuilder(n int) keyBuilder {
	return keyBuilder{Buf: make([]byte, 0, n)}
}

func (kb *keyBuilder) Grow(n int) (off int) {
	off, kb.Buf = grow(kb.Buf, n)
	return
}

func (kb *keyBuilder) AppendID(id uuid.UUID) *keyBuilder {
	off := kb.Grow(idLen)
	copy(kb.Buf[off:], id[:])
	return kb
}

func (kb *keyBuilder) AppendUint32(v uint32) *keyBuilder {
	off := kb.Grow(4)
	binary.BigEndian.PutUint32(kb.Buf[off:], v)
	return kb
}

// AppendInvVersion appends the bitwise-inverted version, so that newer
// versions of the same prefix sort first.
func (kb *keyBuilder) AppendInvVersion(v uint32) *keyBuilder {
	return kb.AppendUint32(^v)
}

func (kb *keyBuilder) Bytes() []byte {
	return kb.Buf
}

type keyDecoder struct {
	Orig []byte
	Buf  []byte
}

func makeKeyDecoder(buf []byte) keyDecoder {
	return keyDecoder{buf, buf}
}

func (d *keyDecoder) Off() int {
	return len(d.Orig) - len(d.Buf)
}

func (d *keyDecoder) Raw(n int) ([]byte, error) {
	if len(d.Buf) < n {
		return nil, dataErrf(d.Orig, d.Off(), nil, "not enough data: %d bytes remaining, %d wanted", len(d.Buf), n)
	}
	v := d.Buf[:n]
	d.Buf = d.Buf[n:]
	return v, nil
}

func (d *keyDecoder) ID() (uuid.UUID, error) {
	raw, err := d.Raw(idLen)
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.UUID(raw), nil
}

func (d *keyDecoder) Uint32() (uint32, error) {
	raw, err := d.Raw(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(raw), nil
}

func (d *keyDecoder) InvVersion() (uint32, error) {
	v, err := d.Uint32()
	return ^v, err
}

func (d *keyDecoder) End() error {
	if len(d.Buf) != 0 {
		return dataErrf(d.Orig, d.Off(), nil, "%d trailing bytes", len(d.Buf))
	}
	return nil
}
