package message_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sotto/internal/crypto"
	"sotto/internal/directory"
	"sotto/internal/domain"
	identitysvc "sotto/internal/services/identity"
	messagesvc "sotto/internal/services/message"
	sessionsvc "sotto/internal/services/session"
	"sotto/internal/store"
)

type device struct {
	id       domain.ParticipantID
	sessions *sessionsvc.Service
	messages *messagesvc.Service
}

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
	dev, err := ids.EnsureDevice(ctx)
	require.NoError(t, err)
	_, err = ids.EnsureIdentity(ctx)
	require.NoError(t, err)
	_, err = ids.EnsureSignedPreKey(ctx)
	require.NoError(t, err)
	_, err = ids.ReplenishOneTimePreKeys(ctx, cfg.OneTimePreKeyPoolSize)
	require.NoError(t, err)
	_, err = ids.PublishBundle(ctx)
	require.NoError(t, err)

	sessions := sessionsvc.New(p, fs, dir, ex, pid, cfg)
	return &device{
		id:       pid,
		sessions: sessions,
		messages: messagesvc.New(p, sessions, pid, dev.DeviceID, cfg, nil),
	}
}

// pair establishes conv between a fresh alice and bob.
func pair(t *testing.T, cfg domain.Config, conv domain.ConversationID) (alice, bob *device) {
	t.Helper()
	ctx := context.Background()
	dir := directory.NewMemory()
	ex := directory.NewMemoryExchange()

	alice = newDevice(t, "alice", dir, ex, cfg)
	bob = newDevice(t, "bob", dir, ex, cfg)

	_, err := alice.sessions.Establish(ctx, conv, []domain.ParticipantID{"bob"})
	require.NoError(t, err)
	msgs := ex.Drain("bob")
	require.Len(t, msgs, 1)
	_, err = bob.sessions.Accept(ctx, msgs[0])
	require.NoError(t, err)
	return alice, bob
}

func plain(content string) domain.PlaintextMessage {
	return domain.PlaintextMessage{
		Content:   content,
		Type:      "text",
		Timestamp: 1700000000000,
		MessageID: "msg-" + content,
	}
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	ctx := context.Background()
	alice, bob := pair(t, domain.DefaultConfig(), "conv-1")

	want := plain("hello")
	env, err := alice.messages.Encrypt(ctx, "conv-1", want)
	require.NoError(t, err)
	assert.NotEqual(t, []byte("hello"), env.Ciphertext)

	got, err := bob.messages.Decrypt(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestEncrypt_NoSession(t *testing.T) {
	ctx := context.Background()
	dir := directory.NewMemory()
	ex := directory.NewMemoryExchange()
	alice := newDevice(t, "alice", dir, ex, domain.DefaultConfig())

	_, err := alice.messages.Encrypt(ctx, "conv-none", plain("x"))
	assert.ErrorIs(t, err, domain.ErrSessionKeyMissing)
}

func TestDecrypt_TamperedCiphertext(t *testing.T) {
	ctx := context.Background()
	alice, bob := pair(t, domain.DefaultConfig(), "conv-1")

	env, err := alice.messages.Encrypt(ctx, "conv-1", plain("hello"))
	require.NoError(t, err)

	// Flip one bit at several positions, including inside the auth tag.
	for _, pos := range []int{0, len(env.Ciphertext) / 2, len(env.Ciphertext) - 1} {
		tampered := env
		tampered.Ciphertext = append([]byte(nil), env.Ciphertext...)
		tampered.Ciphertext[pos] ^= 0x01
		_, err := bob.messages.Decrypt(ctx, tampered)
		assert.ErrorIs(t, err, domain.ErrTamperedOrMisrouted, "bit flip at %d", pos)
	}

	// The genuine envelope still decrypts: failures burned no key number.
	got, err := bob.messages.Decrypt(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Content)
}

func TestDecrypt_MalformedNonce(t *testing.T) {
	ctx := context.Background()
	alice, bob := pair(t, domain.DefaultConfig(), "conv-1")

	env, err := alice.messages.Encrypt(ctx, "conv-1", plain("hello"))
	require.NoError(t, err)

	// A hostile envelope with a wrong-length nonce is an error, not a
	// crash, and leaves the chain untouched.
	for _, n := range []int{0, 8, 12} {
		truncated := env
		truncated.Nonce = env.Nonce[:n]
		_, err := bob.messages.Decrypt(ctx, truncated)
		assert.ErrorIs(t, err, domain.ErrTamperedOrMisrouted, "nonce length %d", n)
	}

	got, err := bob.messages.Decrypt(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Content)
}

func TestDecrypt_HeaderSwapFailsAuthentication(t *testing.T) {
	ctx := context.Background()
	alice, bob := pair(t, domain.DefaultConfig(), "conv-1")

	env, err := alice.messages.Encrypt(ctx, "conv-1", plain("hello"))
	require.NoError(t, err)

	misrouted := env
	misrouted.SenderID = "mallory"
	_, err = bob.messages.Decrypt(ctx, misrouted)
	assert.ErrorIs(t, err, domain.ErrTamperedOrMisrouted)
}

func TestDecrypt_ReplayRejected(t *testing.T) {
	ctx := context.Background()
	alice, bob := pair(t, domain.DefaultConfig(), "conv-1")

	env, err := alice.messages.Encrypt(ctx, "conv-1", plain("hello"))
	require.NoError(t, err)
	_, err = bob.messages.Decrypt(ctx, env)
	require.NoError(t, err)

	_, err = bob.messages.Decrypt(ctx, env)
	assert.ErrorIs(t, err, domain.ErrDuplicateKeyNumber)
}

func TestDecrypt_OutOfOrderWithinWindow(t *testing.T) {
	ctx := context.Background()
	alice, bob := pair(t, domain.DefaultConfig(), "conv-1")

	contents := []string{"zero", "one", "two"}
	envs := make([]domain.Envelope, len(contents))
	for i, c := range contents {
		env, err := alice.messages.Encrypt(ctx, "conv-1", plain(c))
		require.NoError(t, err)
		envs[i] = env
	}

	for _, i := range []int{2, 0, 1} {
		got, err := bob.messages.Decrypt(ctx, envs[i])
		require.NoError(t, err, "envelope %d", i)
		assert.Equal(t, contents[i], got.Content)
	}
}

func TestDecrypt_SkipWindowBound(t *testing.T) {
	ctx := context.Background()
	cfg := domain.DefaultConfig()
	cfg.MaxSkipWindow = 2
	alice, bob := pair(t, cfg, "conv-1")

	var last domain.Envelope
	for i := 0; i < 5; i++ {
		env, err := alice.messages.Encrypt(ctx, "conv-1", plain("x"))
		require.NoError(t, err)
		last = env
	}
	// Key number 4 with window 2 exceeds the bound; conversation survives.
	_, err := bob.messages.Decrypt(ctx, last)
	assert.ErrorIs(t, err, domain.ErrMaxSkipWindowExceeded)
}

func TestEncrypt_NonceUniqueness(t *testing.T) {
	if testing.Short() {
		t.Skip("10k envelopes")
	}
	ctx := context.Background()
	alice, _ := pair(t, domain.DefaultConfig(), "conv-1")

	const n = 10000
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		env, err := alice.messages.Encrypt(ctx, "conv-1", plain("same plaintext"))
		require.NoError(t, err)
		_, dup := seen[string(env.Nonce)]
		require.False(t, dup, "nonce reused at envelope %d", i)
		seen[string(env.Nonce)] = struct{}{}
	}
}

func TestEnvelope_WireShapeRoundTrips(t *testing.T) {
	env := domain.Envelope{
		ConversationID: "conv-1",
		KeyID:          "key-1",
		KeyNumber:      7,
		Nonce:          []byte{1, 2, 3},
		Ciphertext:     []byte{4, 5, 6},
		SenderID:       "alice",
		SenderDeviceID: "dev-1",
		Timestamp:      1700000000000,
	}
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	for _, field := range []string{
		`"conversationId"`, `"keyId"`, `"keyNumber"`, `"nonce"`,
		`"ciphertext"`, `"senderId"`, `"senderDeviceId"`, `"timestamp"`,
	} {
		assert.Contains(t, string(raw), field)
	}

	var back domain.Envelope
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, env, back)

	again, err := json.Marshal(back)
	require.NoError(t, err)
	assert.Equal(t, raw, again)
}
