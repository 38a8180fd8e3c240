package record

import "github.com/spaolacci/murmur3"

// Hash32 is the digest stored by HASH fields.
func Hash32(data []byte) uint32 {
	return murmur3.Sum32(data)
}

// HashString is Hash32 over the UTF-8 bytes of s.
func HashString(s string) uint32 {
	return murmur3.Sum32([]byte(s))
}
