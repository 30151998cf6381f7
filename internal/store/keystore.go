package store

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"sotto/internal/domain"
	"sotto/internal/util/memzero"
)

const (
	deviceFile   = "device.json"
	idFile       = "identity.enc"
	spkFile      = "signed_prekeys.enc"
	opkFile      = "onetime_prekeys.enc"
	bundleFile   = "bundle.json"
	storeDirPer  = 0o700
	storeFilePer = 0o600
)

// signedPreKeyFileShape holds every signed pre-key plus the current selection.
type signedPreKeyFileShape struct {
	Current domain.SignedPreKeyID                         `json:"current"`
	Keys    map[domain.SignedPreKeyID]domain.SignedPreKey `json:"keys"`
}

// FileStore is the file-backed key material store.
type FileStore struct {
	dir string

	mu     sync.Mutex
	master [32]byte
	loaded bool
}

// NewFileStore returns a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, storeDirPer); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// ---------- Device identity ----------

// LoadDeviceIdentity reads the per-install device record.
func (s *FileStore) LoadDeviceIdentity() (domain.DeviceIdentity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadDeviceLocked()
}

// SaveDeviceIdentity writes the device record. The master key inside it
// protects every sealed file from then on.
func (s *FileStore) SaveDeviceIdentity(id domain.DeviceIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeJSON(filepath.Join(s.dir, deviceFile), id, storeFilePer); err != nil {
		return err
	}
	s.master = id.MasterKey
	s.loaded = true
	return nil
}

func (s *FileStore) loadDeviceLocked() (domain.DeviceIdentity, bool, error) {
	var id domain.DeviceIdentity
	found, err := readJSON(filepath.Join(s.dir, deviceFile), &id)
	if err != nil || !found {
		return domain.DeviceIdentity{}, false, err
	}
	s.master = id.MasterKey
	s.loaded = true
	return id, true, nil
}

func (s *FileStore) masterLocked() ([32]byte, error) {
	if s.loaded {
		return s.master, nil
	}
	_, found, err := s.loadDeviceLocked()
	if err != nil {
		return [32]byte{}, err
	}
	if !found {
		return [32]byte{}, errors.New("store: no device identity; initialise first")
	}
	return s.master, nil
}

// NewMasterKey returns 32 fresh random bytes for a first-run device record.
func NewMasterKey() ([32]byte, error) {
	var mk [32]byte
	if _, err := rand.Read(mk[:]); err != nil {
		return mk, err
	}
	return mk, nil
}

// ---------- Identity key pair ----------

func (s *FileStore) LoadIdentityKeyPair() (domain.IdentityKeyPair, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kp domain.IdentityKeyPair
	found, err := s.readSealedLocked(idFile, &kp)
	return kp, found, err
}

func (s *FileStore) SaveIdentityKeyPair(kp domain.IdentityKeyPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeSealedLocked(idFile, kp)
}

// ---------- Signed pre-keys ----------

func (s *FileStore) SaveSignedPreKey(spk domain.SignedPreKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	shape, err := s.loadSignedLocked()
	if err != nil {
		return err
	}
	shape.Keys[spk.ID] = spk
	return s.writeSealedLocked(spkFile, shape)
}

func (s *FileStore) LoadSignedPreKey(id domain.SignedPreKeyID) (domain.SignedPreKey, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shape, err := s.loadSignedLocked()
	if err != nil {
		return domain.SignedPreKey{}, false, err
	}
	spk, ok := shape.Keys[id]
	return spk, ok, nil
}

func (s *FileStore) CurrentSignedPreKey() (domain.SignedPreKey, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shape, err := s.loadSignedLocked()
	if err != nil {
		return domain.SignedPreKey{}, false, err
	}
	if shape.Current == "" {
		return domain.SignedPreKey{}, false, nil
	}
	spk, ok := shape.Keys[shape.Current]
	return spk, ok, nil
}

func (s *FileStore) SetCurrentSignedPreKeyID(id domain.SignedPreKeyID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	shape, err := s.loadSignedLocked()
	if err != nil {
		return err
	}
	if _, ok := shape.Keys[id]; !ok {
		return fmt.Errorf("store: unknown signed pre-key %q", id)
	}
	shape.Current = id
	return s.writeSealedLocked(spkFile, shape)
}

// PruneSignedPreKeys drops superseded signed pre-keys created before
// keepAfter. The current key always survives; pruned private halves are
// wiped before the record is dropped.
func (s *FileStore) PruneSignedPreKeys(keepAfter int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	shape, err := s.loadSignedLocked()
	if err != nil {
		return err
	}
	changed := false
	for id, spk := range shape.Keys {
		if id == shape.Current || spk.CreatedAt >= keepAfter {
			continue
		}
		memzero.Zero(spk.Priv[:])
		delete(shape.Keys, id)
		changed = true
	}
	if !changed {
		return nil
	}
	return s.writeSealedLocked(spkFile, shape)
}

func (s *FileStore) loadSignedLocked() (signedPreKeyFileShape, error) {
	shape := signedPreKeyFileShape{Keys: map[domain.SignedPreKeyID]domain.SignedPreKey{}}
	if _, err := s.readSealedLocked(spkFile, &shape); err != nil {
		return shape, err
	}
	if shape.Keys == nil {
		shape.Keys = map[domain.SignedPreKeyID]domain.SignedPreKey{}
	}
	return shape, nil
}

// ---------- One-time pre-keys ----------

func (s *FileStore) SaveOneTimePreKeys(keys []domain.OneTimePreKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pool, err := s.loadOneTimeLocked()
	if err != nil {
		return err
	}
	for _, k := range keys {
		pool[k.ID] = k
	}
	return s.writeSealedLocked(opkFile, pool)
}

// ConsumeOneTimePreKey hands out the private half exactly once. The record
// stays behind with the private half wiped so a replayed establishment
// attempt is refused rather than silently double-consumed.
func (s *FileStore) ConsumeOneTimePreKey(id domain.OneTimePreKeyID) (domain.OneTimePreKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pool, err := s.loadOneTimeLocked()
	if err != nil {
		return domain.OneTimePreKey{}, err
	}
	k, ok := pool[id]
	if !ok {
		return domain.OneTimePreKey{}, fmt.Errorf("store: unknown one-time pre-key %q", id)
	}
	if k.Used {
		return domain.OneTimePreKey{}, domain.ErrOneTimePreKeyConsumed
	}
	out := k
	memzero.Zero(k.Priv[:])
	k.Used = true
	pool[id] = k
	if err := s.writeSealedLocked(opkFile, pool); err != nil {
		return domain.OneTimePreKey{}, err
	}
	return out, nil
}

func (s *FileStore) UnusedOneTimePreKeyCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pool, err := s.loadOneTimeLocked()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, k := range pool {
		if !k.Used {
			n++
		}
	}
	return n, nil
}

func (s *FileStore) ListOneTimePreKeyPublics() ([]domain.OneTimePreKeyPublic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pool, err := s.loadOneTimeLocked()
	if err != nil {
		return nil, err
	}
	out := make([]domain.OneTimePreKeyPublic, 0, len(pool))
	for _, k := range pool {
		if k.Used {
			continue
		}
		out = append(out, domain.OneTimePreKeyPublic{ID: k.ID, Pub: k.Pub})
	}
	return out, nil
}

func (s *FileStore) loadOneTimeLocked() (map[domain.OneTimePreKeyID]domain.OneTimePreKey, error) {
	pool := map[domain.OneTimePreKeyID]domain.OneTimePreKey{}
	if _, err := s.readSealedLocked(opkFile, &pool); err != nil {
		return nil, err
	}
	return pool, nil
}

// ---------- Bundle cache (public material only) ----------

func (s *FileStore) SavePreKeyBundle(b domain.PreKeyBundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(filepath.Join(s.dir, bundleFile), b, storeFilePer)
}

func (s *FileStore) LoadPreKeyBundle() (domain.PreKeyBundle, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b domain.PreKeyBundle
	found, err := readJSON(filepath.Join(s.dir, bundleFile), &b)
	return b, found, err
}

// ---------- helpers ----------

func (s *FileStore) readSealedLocked(name string, v any) (bool, error) {
	blob, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	mk, err := s.masterLocked()
	if err != nil {
		return false, err
	}
	raw, err := open(mk, blob)
	if err != nil {
		return false, fmt.Errorf("unseal %s: %w", name, err)
	}
	defer memzero.Zero(raw)
	return true, json.Unmarshal(raw, v)
}

func (s *FileStore) writeSealedLocked(name string, v any) error {
	mk, err := s.masterLocked()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	blob, err := seal(mk, raw)
	memzero.Zero(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, name), blob, storeFilePer)
}

func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, json.Unmarshal(data, v)
}

func writeJSON(path string, v any, mode os.FileMode) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, mode)
}

// Compile-time assertion that FileStore implements domain.KeyMaterialStore.
var _ domain.KeyMaterialStore = (*FileStore)(nil)
