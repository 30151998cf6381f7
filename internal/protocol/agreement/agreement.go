package agreement

import (
	"encoding/binary"
	"fmt"

	"sotto/internal/crypto"
	"sotto/internal/domain"
	"sotto/internal/util/memzero"
)

// SignedPreKeyPayload returns the byte string the identity key signs: the
// pre-key public half followed by the big-endian creation timestamp.
func SignedPreKeyPayload(pub domain.X25519Public, createdAt int64) []byte {
	out := make([]byte, 0, 40)
	out = append(out, pub[:]...)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(createdAt))
	return append(out, ts[:]...)
}

// VerifyBundle checks the signed pre-key signature of a fetched bundle.
// Verification failure aborts establishment; unverified keys are never used.
func VerifyBundle(p crypto.Provider, b domain.PreKeyBundle) error {
	payload := SignedPreKeyPayload(b.SignedPreKey, b.SignedPreKeyCreatedAt)
	if !p.Verify(b.SigningKey, payload, b.SignedPreKeySignature) {
		return fmt.Errorf("bundle for %q: %w", b.ParticipantID, domain.ErrUntrustedKeyMaterial)
	}
	return nil
}

// InitiatorSecret derives the shared secret with one participant from this
// device's signed pre-key private half and the participant's published
// publics. It returns the consumed one-time pre-key id, if any.
func InitiatorSecret(
	p crypto.Provider,
	ourSPKPriv domain.X25519Private,
	bundle domain.PreKeyBundle,
) ([]byte, domain.OneTimePreKeyID, error) {
	dh1, err := p.DeriveSecret(ourSPKPriv, bundle.IdentityKey)
	if err != nil {
		return nil, "", err
	}
	dh2, err := p.DeriveSecret(ourSPKPriv, bundle.SignedPreKey)
	if err != nil {
		return nil, "", err
	}

	secret := make([]byte, 0, 3*32)
	secret = append(secret, dh1[:]...)
	secret = append(secret, dh2[:]...)
	memzero.Zero32(&dh1)
	memzero.Zero32(&dh2)

	var opkID domain.OneTimePreKeyID
	if len(bundle.OneTimePreKeys) > 0 {
		opk := bundle.OneTimePreKeys[0]
		dh3, err := p.DeriveSecret(ourSPKPriv, opk.Pub)
		if err != nil {
			memzero.Zero(secret)
			return nil, "", err
		}
		secret = append(secret, dh3[:]...)
		memzero.Zero32(&dh3)
		opkID = opk.ID
	}
	return secret, opkID, nil
}

// ResponderSecret recomputes the initiator's shared secret from the private
// halves this device holds. senderPreKeyPub is the initiator's signed
// pre-key public carried in the key-exchange message.
func ResponderSecret(
	p crypto.Provider,
	ourIdentityPriv domain.X25519Private,
	ourSPKPriv domain.X25519Private,
	ourOPKPriv *domain.X25519Private,
	senderPreKeyPub domain.X25519Public,
) ([]byte, error) {
	dh1, err := p.DeriveSecret(ourIdentityPriv, senderPreKeyPub)
	if err != nil {
		return nil, err
	}
	dh2, err := p.DeriveSecret(ourSPKPriv, senderPreKeyPub)
	if err != nil {
		return nil, err
	}

	secret := make([]byte, 0, 3*32)
	secret = append(secret, dh1[:]...)
	secret = append(secret, dh2[:]...)
	memzero.Zero32(&dh1)
	memzero.Zero32(&dh2)

	if ourOPKPriv != nil {
		dh3, err := p.DeriveSecret(*ourOPKPriv, senderPreKeyPub)
		if err != nil {
			memzero.Zero(secret)
			return nil, err
		}
		secret = append(secret, dh3[:]...)
		memzero.Zero32(&dh3)
	}
	return secret, nil
}

// SessionRootKey derives the conversation root key from a shared secret.
// The conversation-scoped info string prevents key reuse across
// conversations that happen to share participants.
func SessionRootKey(p crypto.Provider, secret []byte, conv domain.ConversationID) ([]byte, error) {
	return p.DeriveKey(secret, nil, "sotto/session|"+conv.String(), crypto.KeyBytes)
}

// WrapKey derives the key under which the session root key is encrypted to
// one participant over the key-exchange channel.
func WrapKey(p crypto.Provider, secret []byte, conv domain.ConversationID) ([]byte, error) {
	return p.DeriveKey(secret, nil, "sotto/wrap|"+conv.String(), crypto.KeyBytes)
}
