package itemdb

import (
	"encoding/hex"
	"log/slog"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}

// HashID folds an identifier into 32 bits for in-memory hash tables.
func HashID(id uuid.UUID) uint32 {
	h := xxhash.Sum64(id[:])
	return uint32(h>>32) ^ uint32(h)
}

func hexstr(b []byte) string {
	if b == nil {
		return "<nil>"
	}
	if len(b) == 0 {
		return "<empty>"
	}
	return hex.EncodeToString(b)
}

func hexAttr(key string, b []byte) slog.Attr {
	return slog.String(key, hexstr(b))
}

func idAttr(key string, id uuid.UUID) slog.Attr {
	return slog.String(key, id.String())
}
