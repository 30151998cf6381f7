package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sotto/internal/domain"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	mk, err := NewMasterKey()
	require.NoError(t, err)
	require.NoError(t, s.SaveDeviceIdentity(domain.DeviceIdentity{
		DeviceID:  "dev-1",
		MasterKey: mk,
	}))
	return s
}

func TestDeviceIdentity_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	_, found, err := s.LoadDeviceIdentity()
	require.NoError(t, err)
	assert.False(t, found)

	mk, err := NewMasterKey()
	require.NoError(t, err)
	want := domain.DeviceIdentity{DeviceID: "dev-42", MasterKey: mk}
	require.NoError(t, s.SaveDeviceIdentity(want))

	// Fresh store instance against the same directory.
	s2, err := NewFileStore(dir)
	require.NoError(t, err)
	got, found, err := s2.LoadDeviceIdentity()
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, want, got)
}

func TestIdentityKeyPair_SealedOnDisk(t *testing.T) {
	s := newTestStore(t)

	kp := domain.IdentityKeyPair{}
	copy(kp.DHPriv[:], []byte("private-key-material-which-must"))
	copy(kp.DHPub[:], []byte("public-half"))
	require.NoError(t, s.SaveIdentityKeyPair(kp))

	got, found, err := s.LoadIdentityKeyPair()
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, kp, got)

	// The file on disk must not contain the raw private bytes.
	raw, err := os.ReadFile(filepath.Join(s.dir, idFile))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "private-key-material-which-must")
}

func TestSealedBlob_MalformedNonceRefused(t *testing.T) {
	mk, err := NewMasterKey()
	require.NoError(t, err)

	blob, err := seal(mk, []byte("payload"))
	require.NoError(t, err)

	pt, err := open(mk, blob)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), pt)

	// A tampered blob with a truncated nonce is rejected, not a crash.
	var env sealedBlob
	require.NoError(t, json.Unmarshal(blob, &env))
	env.Nonce = env.Nonce[:8]
	bad, err := json.Marshal(env)
	require.NoError(t, err)
	_, err = open(mk, bad)
	assert.Error(t, err)
}

func TestSignedPreKey_CurrentSelectionAndPrune(t *testing.T) {
	s := newTestStore(t)

	oldKey := domain.SignedPreKey{ID: "spk-old", CreatedAt: 100}
	newKey := domain.SignedPreKey{ID: "spk-new", CreatedAt: 200}
	require.NoError(t, s.SaveSignedPreKey(oldKey))
	require.NoError(t, s.SaveSignedPreKey(newKey))
	require.NoError(t, s.SetCurrentSignedPreKeyID("spk-new"))

	cur, found, err := s.CurrentSignedPreKey()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, domain.SignedPreKeyID("spk-new"), cur.ID)

	require.NoError(t, s.PruneSignedPreKeys(150))
	_, found, err = s.LoadSignedPreKey("spk-old")
	require.NoError(t, err)
	assert.False(t, found)

	// Current key survives pruning regardless of age.
	require.NoError(t, s.PruneSignedPreKeys(500))
	_, found, err = s.LoadSignedPreKey("spk-new")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestSetCurrentSignedPreKeyID_Unknown(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.SetCurrentSignedPreKeyID("spk-missing"))
}

func TestOneTimePreKey_ConsumedExactlyOnce(t *testing.T) {
	s := newTestStore(t)

	k := domain.OneTimePreKey{ID: "opk-1"}
	copy(k.Priv[:], []byte("one-time-private"))
	require.NoError(t, s.SaveOneTimePreKeys([]domain.OneTimePreKey{k}))

	n, err := s.UnusedOneTimePreKeyCount()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.ConsumeOneTimePreKey("opk-1")
	require.NoError(t, err)
	assert.Equal(t, k.Priv, got.Priv)

	// Second consumption is refused.
	_, err = s.ConsumeOneTimePreKey("opk-1")
	assert.ErrorIs(t, err, domain.ErrOneTimePreKeyConsumed)

	n, err = s.UnusedOneTimePreKeyCount()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	publics, err := s.ListOneTimePreKeyPublics()
	require.NoError(t, err)
	assert.Empty(t, publics)
}

func TestPreKeyBundle_Cache(t *testing.T) {
	s := newTestStore(t)

	b := domain.PreKeyBundle{ParticipantID: "alice", SignedPreKeyID: "spk-1"}
	require.NoError(t, s.SavePreKeyBundle(b))

	got, found, err := s.LoadPreKeyBundle()
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, b.ParticipantID, got.ParticipantID)
}
