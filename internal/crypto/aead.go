package crypto

import (
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeyBytes is the size of every symmetric key in the subsystem.
	KeyBytes = chacha20poly1305.KeySize

	// NonceBytes is the XChaCha20-Poly1305 nonce size. The extended nonce
	// makes per-message random nonces collision-safe.
	NonceBytes = chacha20poly1305.NonceSizeX
)

var (
	errBadKeySize   = errors.New("aead key must be 32 bytes")
	errBadNonceSize = errors.New("aead nonce must be 24 bytes")
)

// AEADSeal encrypts plaintext with XChaCha20-Poly1305.
func (p *provider) AEADSeal(key, nonce, plaintext, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errBadKeySize
	}
	if len(nonce) != NonceBytes {
		return nil, errBadNonceSize
	}
	return aead.Seal(nil, nonce, plaintext, additionalData), nil
}

// AEADOpen decrypts and authenticates ciphertext. The nonce length is
// checked here because the nonce arrives off the wire and a wrong length
// panics inside chacha20poly1305. The error from Open is returned as-is;
// callers map it to their own taxonomy.
func (p *provider) AEADOpen(key, nonce, ciphertext, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errBadKeySize
	}
	if len(nonce) != NonceBytes {
		return nil, errBadNonceSize
	}
	return aead.Open(nil, nonce, ciphertext, additionalData)
}

// NewNonce returns a fresh random 24-byte nonce.
func (p *provider) NewNonce() ([]byte, error) {
	nonce := make([]byte, NonceBytes)
	if _, err := io.ReadFull(p.rand, nonce); err != nil {
		return nil, err
	}
	return nonce, nil
}
