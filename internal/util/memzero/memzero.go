package memzero

import "crypto/subtle"

// Zero overwrites b with zeros in a constant-time friendly way. Superseded
// key material must pass through here before being dropped; garbage
// collection alone is not enough to bound the exposure window.
func Zero(b []byte) {
	if len(b) == 0 {
		return
	}
	zero := make([]byte, len(b))
	subtle.ConstantTimeCopy(1, b, zero)
}

// Zero32 overwrites a fixed-size key array.
func Zero32(b *[32]byte) {
	Zero(b[:])
}

// Map zeroes every value of a key-number map and clears the map.
func Map[K comparable](m map[K][]byte) {
	for k, v := range m {
		Zero(v)
		delete(m, k)
	}
}
