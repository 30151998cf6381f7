package agreement_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sotto/internal/crypto"
	"sotto/internal/domain"
	"sotto/internal/protocol/agreement"
)

type party struct {
	idPriv   domain.X25519Private
	idPub    domain.X25519Public
	signPriv domain.Ed25519Private
	signPub  domain.Ed25519Public
	spkPriv  domain.X25519Private
	spkPub   domain.X25519Public
	opkPriv  domain.X25519Private
	opkPub   domain.X25519Public
}

func makeParty(t *testing.T, p crypto.Provider) party {
	t.Helper()
	var pt party
	var err error
	pt.idPriv, pt.idPub, err = p.GenerateKeyAgreementPair()
	require.NoError(t, err)
	pt.signPriv, pt.signPub, err = p.GenerateSigningPair()
	require.NoError(t, err)
	pt.spkPriv, pt.spkPub, err = p.GenerateKeyAgreementPair()
	require.NoError(t, err)
	pt.opkPriv, pt.opkPub, err = p.GenerateKeyAgreementPair()
	require.NoError(t, err)
	return pt
}

func bundleFor(p crypto.Provider, pt party, withOPK bool) domain.PreKeyBundle {
	const createdAt = int64(1700000000)
	b := domain.PreKeyBundle{
		ParticipantID:         "bob",
		IdentityKey:           pt.idPub,
		SigningKey:            pt.signPub,
		SignedPreKeyID:        "spk-1",
		SignedPreKey:          pt.spkPub,
		SignedPreKeyCreatedAt: createdAt,
	}
	b.SignedPreKeySignature = p.Sign(pt.signPriv, agreement.SignedPreKeyPayload(pt.spkPub, createdAt))
	if withOPK {
		b.OneTimePreKeys = []domain.OneTimePreKeyPublic{{ID: "opk-1", Pub: pt.opkPub}}
	}
	return b
}

func TestVerifyBundle(t *testing.T) {
	p := crypto.NewProvider()
	bob := makeParty(t, p)
	b := bundleFor(p, bob, false)

	require.NoError(t, agreement.VerifyBundle(p, b))

	b.SignedPreKeySignature[3] ^= 0x01
	err := agreement.VerifyBundle(p, b)
	assert.ErrorIs(t, err, domain.ErrUntrustedKeyMaterial)
}

func TestVerifyBundle_TimestampCovered(t *testing.T) {
	p := crypto.NewProvider()
	bob := makeParty(t, p)
	b := bundleFor(p, bob, false)

	// A re-dated pre-key must fail verification.
	b.SignedPreKeyCreatedAt++
	err := agreement.VerifyBundle(p, b)
	assert.ErrorIs(t, err, domain.ErrUntrustedKeyMaterial)
}

func TestSharedSecret_BothSidesAgree(t *testing.T) {
	for _, withOPK := range []bool{true, false} {
		name := "with one-time pre-key"
		if !withOPK {
			name = "signed pre-key only"
		}
		t.Run(name, func(t *testing.T) {
			p := crypto.NewProvider()
			alice := makeParty(t, p)
			bob := makeParty(t, p)
			b := bundleFor(p, bob, withOPK)

			initiatorSecret, opkID, err := agreement.InitiatorSecret(p, alice.spkPriv, b)
			require.NoError(t, err)
			if withOPK {
				assert.Equal(t, domain.OneTimePreKeyID("opk-1"), opkID)
			} else {
				assert.Empty(t, opkID)
			}

			var opkPriv *domain.X25519Private
			if withOPK {
				opkPriv = &bob.opkPriv
			}
			responderSecret, err := agreement.ResponderSecret(p, bob.idPriv, bob.spkPriv, opkPriv, alice.spkPub)
			require.NoError(t, err)
			assert.Equal(t, initiatorSecret, responderSecret)

			// Wrap keys derived from the secrets agree too.
			wa, err := agreement.WrapKey(p, initiatorSecret, "conv-1")
			require.NoError(t, err)
			wb, err := agreement.WrapKey(p, responderSecret, "conv-1")
			require.NoError(t, err)
			assert.Equal(t, wa, wb)
		})
	}
}

func TestSessionRootKey_ScopedPerConversation(t *testing.T) {
	p := crypto.NewProvider()
	secret := []byte("shared secret shared secret 1234")

	k1, err := agreement.SessionRootKey(p, secret, "conv-1")
	require.NoError(t, err)
	k2, err := agreement.SessionRootKey(p, secret, "conv-2")
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)

	wrap, err := agreement.WrapKey(p, secret, "conv-1")
	require.NoError(t, err)
	assert.NotEqual(t, k1, wrap)
}
