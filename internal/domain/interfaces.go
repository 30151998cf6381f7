package domain

import "context"

// KeyMaterialStore is the exclusive owner of long-lived private key material.
// No other component holds raw private key bytes beyond the duration of one
// operation.
type KeyMaterialStore interface {
	// Device identity
	LoadDeviceIdentity() (DeviceIdentity, bool, error)
	SaveDeviceIdentity(DeviceIdentity) error

	// Long-term identity key pair
	LoadIdentityKeyPair() (IdentityKeyPair, bool, error)
	SaveIdentityKeyPair(IdentityKeyPair) error

	// Signed pre-keys
	SaveSignedPreKey(SignedPreKey) error
	LoadSignedPreKey(SignedPreKeyID) (SignedPreKey, bool, error)
	CurrentSignedPreKey() (SignedPreKey, bool, error)
	SetCurrentSignedPreKeyID(SignedPreKeyID) error
	PruneSignedPreKeys(keepAfter int64) error

	// One-time pre-keys
	SaveOneTimePreKeys([]OneTimePreKey) error
	ConsumeOneTimePreKey(OneTimePreKeyID) (OneTimePreKey, error)
	UnusedOneTimePreKeyCount() (int, error)
	ListOneTimePreKeyPublics() ([]OneTimePreKeyPublic, error)

	// Published bundle cache
	SavePreKeyBundle(PreKeyBundle) error
	LoadPreKeyBundle() (PreKeyBundle, bool, error)
}

// Directory is the external key directory collaborator. Publish uploads this
// device's public bundle; Fetch retrieves a participant's bundle before
// session establishment.
type Directory interface {
	Publish(ctx context.Context, bundle PreKeyBundle) error
	Fetch(ctx context.Context, participant ParticipantID) (PreKeyBundle, error)
}

// KeyExchange delivers wrapped session keys through the messaging transport
// collaborator. Delivery guarantees are the transport's concern.
type KeyExchange interface {
	Send(ctx context.Context, to ParticipantID, msg KeyExchangeMessage) error
}
