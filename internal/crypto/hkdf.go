package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKey expands secret into length bytes using HKDF-SHA-256. The info
// string scopes the output: the same secret expanded under different info
// strings yields independent keys, which is what prevents key reuse across
// conversations and chain positions.
func (p *provider) DeriveKey(secret, salt []byte, info string, length int) ([]byte, error) {
	if len(salt) == 0 {
		salt = make([]byte, sha256.Size)
	}
	reader := hkdf.New(sha256.New, secret, salt, []byte(info))
	key := make([]byte, length)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}
