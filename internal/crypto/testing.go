package crypto

import (
	"crypto/sha256"
	"encoding/binary"
)

// NewDeterministicProvider returns a Provider whose random source is a
// counter-mode SHA-256 stream seeded from seed. Two providers with the same
// seed generate identical key material, which protocol tests rely on for
// reproducibility. Never use outside tests.
func NewDeterministicProvider(seed []byte) Provider {
	return &provider{rand: &ctrReader{seed: sha256.Sum256(seed)}}
}

// ctrReader hashes seed||counter to produce an unbounded byte stream.
type ctrReader struct {
	seed    [32]byte
	counter uint64
	buf     []byte
}

func (r *ctrReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if len(r.buf) == 0 {
			var block [40]byte
			copy(block[:32], r.seed[:])
			binary.BigEndian.PutUint64(block[32:], r.counter)
			r.counter++
			sum := sha256.Sum256(block[:])
			r.buf = sum[:]
		}
		c := copy(p[n:], r.buf)
		r.buf = r.buf[c:]
		n += c
	}
	return n, nil
}
