package crypto

import (
	"bytes"
	"crypto/rand"
	"io"

	"sotto/internal/domain"
	"sotto/internal/util/memzero"
)

// Provider abstracts the platform cryptographic engine. The protocol layers
// call only through this interface, so a deterministic fake can stand in for
// the real engine in tests.
type Provider interface {
	// GenerateKeyAgreementPair returns a fresh clamped X25519 pair.
	GenerateKeyAgreementPair() (domain.X25519Private, domain.X25519Public, error)

	// GenerateSigningPair returns a fresh Ed25519 pair.
	GenerateSigningPair() (domain.Ed25519Private, domain.Ed25519Public, error)

	// Sign signs msg with the identity signing key.
	Sign(priv domain.Ed25519Private, msg []byte) []byte

	// Verify reports whether sig is a valid signature over msg.
	Verify(pub domain.Ed25519Public, msg, sig []byte) bool

	// DeriveSecret computes the X25519 shared secret.
	DeriveSecret(priv domain.X25519Private, pub domain.X25519Public) ([32]byte, error)

	// DeriveKey expands secret into length bytes bound to the info string.
	DeriveKey(secret, salt []byte, info string, length int) ([]byte, error)

	// AEADSeal and AEADOpen perform authenticated encryption with an
	// XChaCha20-Poly1305 key and 24-byte nonce.
	AEADSeal(key, nonce, plaintext, additionalData []byte) ([]byte, error)
	AEADOpen(key, nonce, ciphertext, additionalData []byte) ([]byte, error)

	// NewNonce returns a fresh random AEAD nonce.
	NewNonce() ([]byte, error)

	// RandomBytes returns n bytes from the provider's random source.
	RandomBytes(n int) ([]byte, error)
}

// provider is the default implementation on golang.org/x/crypto.
type provider struct {
	rand io.Reader
}

// NewProvider returns the default provider backed by crypto/rand.
func NewProvider() Provider {
	return &provider{rand: rand.Reader}
}

func (p *provider) RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(p.rand, b); err != nil {
		return nil, err
	}
	return b, nil
}

// SelfTest exercises the provider end to end. Initialisation fails closed on
// any error: the subsystem never runs in a degraded no-encryption mode.
func SelfTest(p Provider) error {
	if p == nil {
		return domain.ErrProviderUnavailable
	}
	aPriv, aPub, err := p.GenerateKeyAgreementPair()
	if err != nil {
		return domain.ErrProviderUnavailable
	}
	bPriv, bPub, err := p.GenerateKeyAgreementPair()
	if err != nil {
		return domain.ErrProviderUnavailable
	}
	ab, err := p.DeriveSecret(aPriv, bPub)
	if err != nil {
		return domain.ErrProviderUnavailable
	}
	ba, err := p.DeriveSecret(bPriv, aPub)
	if err != nil || ab != ba {
		return domain.ErrProviderUnavailable
	}
	defer memzero.Zero32(&ab)
	defer memzero.Zero32(&ba)

	sPriv, sPub, err := p.GenerateSigningPair()
	if err != nil {
		return domain.ErrProviderUnavailable
	}
	probe := []byte("sotto provider self-test")
	if !p.Verify(sPub, probe, p.Sign(sPriv, probe)) {
		return domain.ErrProviderUnavailable
	}

	key, err := p.DeriveKey(ab[:], nil, "sotto/self-test", KeyBytes)
	if err != nil {
		return domain.ErrProviderUnavailable
	}
	defer memzero.Zero(key)
	nonce, err := p.NewNonce()
	if err != nil {
		return domain.ErrProviderUnavailable
	}
	ct, err := p.AEADSeal(key, nonce, probe, nil)
	if err != nil {
		return domain.ErrProviderUnavailable
	}
	pt, err := p.AEADOpen(key, nonce, ct, nil)
	if err != nil || !bytes.Equal(pt, probe) {
		return domain.ErrProviderUnavailable
	}
	return nil
}
