package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sotto/internal/crypto"
	"sotto/internal/directory"
	"sotto/internal/domain"
	"sotto/internal/protocol/ratchet"
	identitysvc "sotto/internal/services/identity"
	sessionsvc "sotto/internal/services/session"
	"sotto/internal/store"
)

type device struct {
	id       domain.ParticipantID
	store    *store.FileStore
	identity *identitysvc.Service
	sessions *sessionsvc.Service
}

// newDevice provisions a device with identity, signed pre-key and a
// published bundle against the shared directory and exchange.
func newDevice(
	t *testing.T,
	pid domain.ParticipantID,
	dir *directory.Memory,
	ex *directory.MemoryExchange,
	cfg domain.Config,
) *device {
	t.Helper()
	ctx := context.Background()

	fs, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	p := crypto.NewProvider()

	ids, err := identitysvc.New(p, fs, dir, pid, cfg)
	require.NoError(t, err)
	_, err = ids.EnsureDevice(ctx)
	require.NoError(t, err)
	_, err = ids.EnsureIdentity(ctx)
	require.NoError(t, err)
	_, err = ids.EnsureSignedPreKey(ctx)
	require.NoError(t, err)
	_, err = ids.ReplenishOneTimePreKeys(ctx, cfg.OneTimePreKeyPoolSize)
	require.NoError(t, err)
	_, err = ids.PublishBundle(ctx)
	require.NoError(t, err)

	return &device{
		id:       pid,
		store:    fs,
		identity: ids,
		sessions: sessionsvc.New(p, fs, dir, ex, pid, cfg),
	}
}

func TestEstablishAndAccept_SharedRootKey(t *testing.T) {
	ctx := context.Background()
	dir := directory.NewMemory()
	ex := directory.NewMemoryExchange()
	cfg := domain.DefaultConfig()

	alice := newDevice(t, "alice", dir, ex, cfg)
	bob := newDevice(t, "bob", dir, ex, cfg)

	aRec, err := alice.sessions.Establish(ctx, "conv-1", []domain.ParticipantID{"bob"})
	require.NoError(t, err)

	msgs := ex.Drain("bob")
	require.Len(t, msgs, 1)
	bRec, err := bob.sessions.Accept(ctx, msgs[0])
	require.NoError(t, err)

	assert.Equal(t, aRec.Info.SessionKey, bRec.Info.SessionKey)
	assert.Equal(t, aRec.Info.KeyID, bRec.Info.KeyID)

	// A key derived from A's sending chain resolves on B's receiving
	// chain for A, and vice versa.
	aSt, bSt := ratchet.Clone(&aRec.Ratchet), ratchet.Clone(&bRec.Ratchet)
	n, sendKey, err := ratchet.NextSendingKey(&aSt, true)
	require.NoError(t, err)
	recvKey, err := ratchet.ReceivingKey(&bSt, "alice", n, 10, true)
	require.NoError(t, err)
	assert.Equal(t, sendKey, recvKey)

	n, sendKey, err = ratchet.NextSendingKey(&bSt, true)
	require.NoError(t, err)
	recvKey, err = ratchet.ReceivingKey(&aSt, "bob", n, 10, true)
	require.NoError(t, err)
	assert.Equal(t, sendKey, recvKey)
}

func TestAccept_MalformedNonceRefused(t *testing.T) {
	ctx := context.Background()
	dir := directory.NewMemory()
	ex := directory.NewMemoryExchange()
	cfg := domain.DefaultConfig()

	alice := newDevice(t, "alice", dir, ex, cfg)
	bob := newDevice(t, "bob", dir, ex, cfg)

	_, err := alice.sessions.Establish(ctx, "conv-1", []domain.ParticipantID{"bob"})
	require.NoError(t, err)
	msgs := ex.Drain("bob")
	require.Len(t, msgs, 1)

	// A wrapped key with a truncated nonce is refused, not a crash.
	bad := msgs[0]
	bad.Nonce = bad.Nonce[:8]
	_, err = bob.sessions.Accept(ctx, bad)
	assert.ErrorIs(t, err, domain.ErrUntrustedKeyMaterial)

	// The intact original still installs.
	_, err = bob.sessions.Accept(ctx, msgs[0])
	require.NoError(t, err)
}

func TestEstablish_UntrustedBundleAborts(t *testing.T) {
	ctx := context.Background()
	dir := directory.NewMemory()
	ex := directory.NewMemoryExchange()
	cfg := domain.DefaultConfig()

	alice := newDevice(t, "alice", dir, ex, cfg)
	bob := newDevice(t, "bob", dir, ex, cfg)
	_ = bob

	// Republish bob's bundle with a corrupted signature.
	b, err := dir.Fetch(ctx, "bob")
	require.NoError(t, err)
	b.SignedPreKeySignature[0] ^= 0x01
	require.NoError(t, dir.Publish(ctx, b))

	_, err = alice.sessions.Establish(ctx, "conv-1", []domain.ParticipantID{"bob"})
	assert.ErrorIs(t, err, domain.ErrUntrustedKeyMaterial)
	_, ok := alice.sessions.Active("conv-1")
	assert.False(t, ok)
}

func TestEstablish_RotationSupersedes(t *testing.T) {
	ctx := context.Background()
	dir := directory.NewMemory()
	ex := directory.NewMemoryExchange()
	cfg := domain.DefaultConfig()

	alice := newDevice(t, "alice", dir, ex, cfg)
	newDevice(t, "bob", dir, ex, cfg)

	first, err := alice.sessions.Establish(ctx, "conv-1", []domain.ParticipantID{"bob"})
	require.NoError(t, err)
	firstKeyID := first.Info.KeyID

	time.Sleep(5 * time.Millisecond) // establishedAt has millisecond granularity
	second, err := alice.sessions.Establish(ctx, "conv-1", []domain.ParticipantID{"bob"})
	require.NoError(t, err)
	require.NotEqual(t, firstKeyID, second.Info.KeyID)

	active, ok := alice.sessions.Active("conv-1")
	require.True(t, ok)
	assert.Equal(t, second.Info.KeyID, active.Info.KeyID)

	// The superseded record stays resolvable for late envelopes.
	old, err := alice.sessions.Resolve("conv-1", firstKeyID)
	require.NoError(t, err)
	assert.Equal(t, firstKeyID, old.Info.KeyID)
	assert.NotZero(t, old.SupersededAt)
}

func TestResolve_UnknownKeyID(t *testing.T) {
	dir := directory.NewMemory()
	ex := directory.NewMemoryExchange()
	alice := newDevice(t, "alice", dir, ex, domain.DefaultConfig())

	_, err := alice.sessions.Resolve("conv-1", "no-such-key")
	assert.ErrorIs(t, err, domain.ErrSessionKeyMissing)
}

func TestAccept_ConsumedOneTimePreKeyRefused(t *testing.T) {
	ctx := context.Background()
	dir := directory.NewMemory()
	ex := directory.NewMemoryExchange()
	cfg := domain.DefaultConfig()

	alice := newDevice(t, "alice", dir, ex, cfg)
	bob := newDevice(t, "bob", dir, ex, cfg)

	_, err := alice.sessions.Establish(ctx, "conv-1", []domain.ParticipantID{"bob"})
	require.NoError(t, err)
	msgs := ex.Drain("bob")
	require.Len(t, msgs, 1)
	require.NotEmpty(t, msgs[0].OneTimePreKeyID)

	_, err = bob.sessions.Accept(ctx, msgs[0])
	require.NoError(t, err)

	// Replaying the same key-exchange message must not double-consume.
	_, err = bob.sessions.Accept(ctx, msgs[0])
	assert.ErrorIs(t, err, domain.ErrOneTimePreKeyConsumed)
}

func TestEstablish_FallsBackToSignedPreKeyOnly(t *testing.T) {
	ctx := context.Background()
	dir := directory.NewMemory()
	ex := directory.NewMemoryExchange()
	cfg := domain.DefaultConfig()
	cfg.OneTimePreKeyPoolSize = 1

	alice := newDevice(t, "alice", dir, ex, cfg)
	bob := newDevice(t, "bob", dir, ex, cfg)

	// First establishment consumes the only one-time pre-key.
	_, err := alice.sessions.Establish(ctx, "conv-1", []domain.ParticipantID{"bob"})
	require.NoError(t, err)
	first := ex.Drain("bob")
	require.Len(t, first, 1)
	assert.NotEmpty(t, first[0].OneTimePreKeyID)

	// Second establishment finds an empty pool and proceeds without one.
	_, err = alice.sessions.Establish(ctx, "conv-2", []domain.ParticipantID{"bob"})
	require.NoError(t, err)
	second := ex.Drain("bob")
	require.Len(t, second, 1)
	assert.Empty(t, second[0].OneTimePreKeyID)

	_, err = bob.sessions.Accept(ctx, second[0])
	require.NoError(t, err)
}

func TestFlushExpired_WipesSupersededState(t *testing.T) {
	ctx := context.Background()
	dir := directory.NewMemory()
	ex := directory.NewMemoryExchange()
	cfg := domain.DefaultConfig()

	alice := newDevice(t, "alice", dir, ex, cfg)
	newDevice(t, "bob", dir, ex, cfg)

	first, err := alice.sessions.Establish(ctx, "conv-1", []domain.ParticipantID{"bob"})
	require.NoError(t, err)
	firstKeyID := first.Info.KeyID
	time.Sleep(5 * time.Millisecond)
	_, err = alice.sessions.Establish(ctx, "conv-1", []domain.ParticipantID{"bob"})
	require.NoError(t, err)

	// A flush dated beyond the retention window drops the old record.
	alice.sessions.FlushExpired(time.Now().Add(cfg.MaxMessageAge + time.Hour))
	_, err = alice.sessions.Resolve("conv-1", firstKeyID)
	assert.ErrorIs(t, err, domain.ErrSessionKeyMissing)
}
