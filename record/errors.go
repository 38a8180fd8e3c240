package record

import (
	"errors"
	"fmt"
)

var (
	// ErrOverflow means a value does not fit its tag's length budget, or a
	// destination buffer is smaller than the record.
	ErrOverflow = errors.New("record overflow")

	// ErrPartialWrite is returned by Write when the destination is not
	// exactly Size bytes long.
	ErrPartialWrite = errors.New("partial record write not supported")

	// ErrType means a Go value cannot be encoded under the requested tag.
	ErrType = errors.New("invalid record value")
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
			return fmt.Sprintf("%s at %d: %v: (%d) %x", e.Msg, e.Off, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s at %d: (%d) %x", e.Msg, e.Off, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s at %d: %v: (%d) %x...%x", e.Msg, e.Off, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s at %d: (%d) %x...%x", e.Msg, e.Off, n, p, s)
		}
	}
}

func typeErr(t Tag, v any) error {
	return fmt.Errorf("%w: cannot encode %T as %v", ErrType, v, t)
}

func overflowErr(t Tag, n, limit int) error {
	return fmt.Errorf("%w: %v of %d bytes exceeds %d", ErrOverflow, t, n, limit)
}
