package itemdb

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrNoSuchAttribute    = errors.New("no such attribute")
	ErrStaleItem          = errors.New("stale item")
	ErrChangeDuringCommit = errors.New("change during commit")
	ErrViewClosed         = errors.New("view closed")
	ErrConflict           = errors.New("conflicting change committed by another view")
	ErrDeferMismatch      = errors.New("nested observer deferral with a different duplicate policy")
	ErrUnsupportedValue   = errors.New("unsupported value type")
	ErrReadOnly           = errors.New("read-only attribute")
	ErrDeleted            = errors.New("item deleted")
)

type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x", e.Msg, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s: (%d) %x", e.Msg, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x...%x", e.Msg, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s: (%d) %x...%x", e.Msg, n, p, s)
		}
	}
}

// ItemError reports a failure concerning a particular item and, optionally,
// one of its attributes.
type ItemError struct {
	ID   uuid.UUID
	Name string
	Attr string
	Msg  string
	Err  error
}

func itemErrf(item *Item, attr string, err error, format string, args ...any) error {
	e := &ItemError{Attr: attr, Err: err}
	if item != nil {
		e.ID, e.Name = item.ID(), item.name
	}
	if format != "" {
		e.Msg = fmt.Sprintf(format, args...)
	}
	return e
}

func idErr(id uuid.UUID, err error) error {
	return &ItemError{ID: id, Err: err}
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

func (e *ItemError) Error() string {
	var buf strings.Builder
	buf.WriteString("item ")
	buf.WriteString(e.ID.String())
	if e.Name != "" {
		buf.WriteString(" (")
		buf.WriteString(e.Name)
		buf.WriteByte(')')
	}
	if e.Attr != "" {
		buf.WriteByte('.')
		buf.WriteString(e.Attr)
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
		if e.Err != nil {
			buf.WriteString(": ")
			buf.WriteString(e.Err.Error())
		}
	} else if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// VerificationError means a value assigned to an attribute did not match
// the attribute's declaration in the item's kind.
type VerificationError struct {
	ID    uuid.UUID
	Item  string
	Attr  string
	Value any
	Msg   string
}

func (e *VerificationError) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = "does not match schema"
	}
	return fmt.Sprintf("assignment %s.%s = %#v %s (item %v)", e.Item, e.Attr, e.Value, msg, e.ID)
}
