package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"sotto/internal/crypto"
	"sotto/internal/domain"
	"sotto/internal/protocol/agreement"
)

// Service owns key material generation and publication for one device.
type Service struct {
	provider    crypto.Provider
	store       domain.KeyMaterialStore
	directory   domain.Directory
	participant domain.ParticipantID
	cfg         domain.Config
	log         *logrus.Entry
}

// New returns the identity service. It fails closed: a missing or broken
// cryptographic provider aborts construction, never a degraded mode.
func New(
	provider crypto.Provider,
	store domain.KeyMaterialStore,
	directory domain.Directory,
	participant domain.ParticipantID,
	cfg domain.Config,
) (*Service, error) {
	if err := crypto.SelfTest(provider); err != nil {
		return nil, err
	}
	return &Service{
		provider:    provider,
		store:       store,
		directory:   directory,
		participant: participant,
		cfg:         cfg,
		log: logrus.WithFields(logrus.Fields{
			"component":   "identity",
			"participant": participant,
		}),
	}, nil
}

// EnsureDevice loads the per-install device record, creating it on first
// run. The master key inside it never leaves the store directory.
func (s *Service) EnsureDevice(ctx context.Context) (domain.DeviceIdentity, error) {
	dev, found, err := s.store.LoadDeviceIdentity()
	if err != nil {
		return domain.DeviceIdentity{}, err
	}
	if found {
		return dev, nil
	}

	mk, err := s.provider.RandomBytes(crypto.KeyBytes)
	if err != nil {
		return domain.DeviceIdentity{}, err
	}
	dev = domain.DeviceIdentity{DeviceID: domain.DeviceID(uuid.NewString())}
	copy(dev.MasterKey[:], mk)
	if err := s.store.SaveDeviceIdentity(dev); err != nil {
		return domain.DeviceIdentity{}, err
	}
	s.log.WithField("device_id", dev.DeviceID).Info("created device identity")
	return dev, nil
}

// EnsureIdentity loads the long-term identity key pair, generating it once.
// Exactly one identity exists per device.
func (s *Service) EnsureIdentity(ctx context.Context) (domain.IdentityKeyPair, error) {
	kp, found, err := s.store.LoadIdentityKeyPair()
	if err != nil {
		return domain.IdentityKeyPair{}, err
	}
	if found {
		return kp, nil
	}

	kp.DHPriv, kp.DHPub, err = s.provider.GenerateKeyAgreementPair()
	if err != nil {
		return domain.IdentityKeyPair{}, err
	}
	kp.SignPriv, kp.SignPub, err = s.provider.GenerateSigningPair()
	if err != nil {
		return domain.IdentityKeyPair{}, err
	}
	if err := s.store.SaveIdentityKeyPair(kp); err != nil {
		return domain.IdentityKeyPair{}, err
	}
	s.log.WithField("fingerprint", crypto.Fingerprint(kp.DHPub.Slice())).
		Info("generated identity key pair")
	return kp, nil
}

// EnsureSignedPreKey returns the current signed pre-key, generating and
// signing a fresh one when none exists or the current one has outlived the
// rotation interval. Prior keys stay in the store for in-flight handshakes
// until pruned.
func (s *Service) EnsureSignedPreKey(ctx context.Context) (domain.SignedPreKey, error) {
	cur, found, err := s.store.CurrentSignedPreKey()
	if err != nil {
		return domain.SignedPreKey{}, err
	}
	now := time.Now()
	if found && now.Sub(time.Unix(cur.CreatedAt, 0)) < s.cfg.RotationInterval {
		return cur, nil
	}

	id, err := s.EnsureIdentity(ctx)
	if err != nil {
		return domain.SignedPreKey{}, err
	}
	priv, pub, err := s.provider.GenerateKeyAgreementPair()
	if err != nil {
		return domain.SignedPreKey{}, err
	}
	spk := domain.SignedPreKey{
		ID:        domain.SignedPreKeyID("spk-" + uuid.NewString()),
		Pub:       pub,
		Priv:      priv,
		CreatedAt: now.Unix(),
	}
	spk.Signature = s.provider.Sign(id.SignPriv, agreement.SignedPreKeyPayload(pub, spk.CreatedAt))

	if err := s.store.SaveSignedPreKey(spk); err != nil {
		return domain.SignedPreKey{}, err
	}
	if err := s.store.SetCurrentSignedPreKeyID(spk.ID); err != nil {
		return domain.SignedPreKey{}, err
	}
	s.log.WithFields(logrus.Fields{
		"signed_pre_key_id": spk.ID,
		"fingerprint":       crypto.Fingerprint(pub.Slice()),
	}).Info("rotated signed pre-key")
	return spk, nil
}

// ReplenishOneTimePreKeys generates count fresh one-time pairs, stores the
// private halves and returns only the public halves for publication.
func (s *Service) ReplenishOneTimePreKeys(ctx context.Context, count int) ([]domain.OneTimePreKeyPublic, error) {
	if count <= 0 {
		return nil, nil
	}
	pairs := make([]domain.OneTimePreKey, 0, count)
	publics := make([]domain.OneTimePreKeyPublic, 0, count)
	for i := 0; i < count; i++ {
		priv, pub, err := s.provider.GenerateKeyAgreementPair()
		if err != nil {
			return nil, err
		}
		k := domain.OneTimePreKey{
			ID:   domain.OneTimePreKeyID("opk-" + uuid.NewString()),
			Pub:  pub,
			Priv: priv,
		}
		pairs = append(pairs, k)
		publics = append(publics, domain.OneTimePreKeyPublic{ID: k.ID, Pub: k.Pub})
	}
	if err := s.store.SaveOneTimePreKeys(pairs); err != nil {
		return nil, err
	}
	s.log.WithField("count", count).Debug("replenished one-time pre-key pool")
	return publics, nil
}

// PublishBundle assembles the public bundle from the store, caches it and
// uploads it to the directory.
func (s *Service) PublishBundle(ctx context.Context) (domain.PreKeyBundle, error) {
	dev, err := s.EnsureDevice(ctx)
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	id, err := s.EnsureIdentity(ctx)
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	spk, err := s.EnsureSignedPreKey(ctx)
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	oneTime, err := s.store.ListOneTimePreKeyPublics()
	if err != nil {
		return domain.PreKeyBundle{}, err
	}

	b := domain.PreKeyBundle{
		ParticipantID:         s.participant,
		DeviceID:              dev.DeviceID,
		IdentityKey:           id.DHPub,
		SigningKey:            id.SignPub,
		SignedPreKeyID:        spk.ID,
		SignedPreKey:          spk.Pub,
		SignedPreKeySignature: spk.Signature,
		SignedPreKeyCreatedAt: spk.CreatedAt,
		OneTimePreKeys:        oneTime,
	}
	if err := s.store.SavePreKeyBundle(b); err != nil {
		return domain.PreKeyBundle{}, err
	}
	if err := s.directory.Publish(ctx, b); err != nil {
		return domain.PreKeyBundle{}, fmt.Errorf("publish bundle: %w", err)
	}
	s.log.WithField("one_time_count", len(oneTime)).Info("published pre-key bundle")
	return b, nil
}

// PoolSize reports how many unused one-time pre-keys remain.
func (s *Service) PoolSize() (int, error) {
	return s.store.UnusedOneTimePreKeyCount()
}

// PruneSignedPreKeys drops superseded signed pre-keys older than
// MaxMessageAge; anything still in flight beyond that window is gone anyway.
func (s *Service) PruneSignedPreKeys() error {
	cutoff := time.Now().Add(-s.cfg.MaxMessageAge).Unix()
	return s.store.PruneSignedPreKeys(cutoff)
}
