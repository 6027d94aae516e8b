package wire

import "github.com/cespare/xxhash/v2"

// StableHash32 hashes s the same way on every platform and in every process,
// which makes it usable as an identifier on the wire.
func StableHash32(s string) uint32 {
	h := xxhash.Sum64String(s)
	return uint32(h ^ (h >> 32))
}

// StableHash16 folds StableHash32 into 16 bits.
func StableHash16(s string) uint16 {
	h := StableHash32(s)
	return uint16(h ^ (h >> 16))
}
