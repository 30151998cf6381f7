package domain

// X25519Public is a Curve25519 key-agreement public key.
type X25519Public [32]byte

// Slice returns the key as a []byte.
func (p X25519Public) Slice() []byte { return p[:] }

// X25519Private is a Curve25519 key-agreement private key.
type X25519Private [32]byte

// Slice returns the key as a []byte.
func (k X25519Private) Slice() []byte { return k[:] }

// Ed25519Public is an Ed25519 signing public key.
type Ed25519Public [32]byte

// Slice returns the key as a []byte.
func (p Ed25519Public) Slice() []byte { return p[:] }

// Ed25519Private is an Ed25519 signing private key.
type Ed25519Private [64]byte

// Slice returns the key as a []byte.
func (k Ed25519Private) Slice() []byte { return k[:] }

// DeviceIdentity is the per-install record created once and kept for the
// lifetime of the device. MasterKey wraps every secret the store writes to
// disk and is never transmitted.
type DeviceIdentity struct {
	DeviceID  DeviceID `json:"device_id"`
	MasterKey [32]byte `json:"master_key"`
}

// IdentityKeyPair is the device's long-term identity. The Ed25519 half signs
// pre-keys; the X25519 half participates in session key agreement. Exactly
// one exists per device and the private halves never leave the key material
// store.
type IdentityKeyPair struct {
	DHPub    X25519Public   `json:"dh_pub"`
	DHPriv   X25519Private  `json:"dh_priv"`
	SignPub  Ed25519Public  `json:"sign_pub"`
	SignPriv Ed25519Private `json:"sign_priv"`
}

// SignedPreKey is the medium-term key-agreement pair. Signature covers the
// public half concatenated with the big-endian creation timestamp, signed by
// the identity signing key.
type SignedPreKey struct {
	ID        SignedPreKeyID `json:"id"`
	Pub       X25519Public   `json:"pub"`
	Priv      X25519Private  `json:"priv"`
	Signature []byte         `json:"signature"`
	CreatedAt int64          `json:"created_at"`
}

// OneTimePreKey is a single-use key-agreement pair. Used flips to true when
// an incoming establishment consumes it; a consumed key is never handed out
// again.
type OneTimePreKey struct {
	ID   OneTimePreKeyID `json:"id"`
	Pub  X25519Public    `json:"pub"`
	Priv X25519Private   `json:"priv"`
	Used bool            `json:"used"`
}

// OneTimePreKeyPublic is the public half published to the directory.
type OneTimePreKeyPublic struct {
	ID  OneTimePreKeyID `json:"id"`
	Pub X25519Public    `json:"pub"`
}

// PreKeyBundle is the public key material a participant publishes to the
// directory and peers fetch before establishing a session.
type PreKeyBundle struct {
	ParticipantID         ParticipantID         `json:"participantId"`
	DeviceID              DeviceID              `json:"deviceId"`
	IdentityKey           X25519Public          `json:"identityPublicKey"`
	SigningKey            Ed25519Public         `json:"signingPublicKey"`
	SignedPreKeyID        SignedPreKeyID        `json:"signedPreKeyId"`
	SignedPreKey          X25519Public          `json:"signedPreKeyPublic"`
	SignedPreKeySignature []byte                `json:"signature"`
	SignedPreKeyCreatedAt int64                 `json:"timestamp"`
	OneTimePreKeys        []OneTimePreKeyPublic `json:"oneTimePreKeyPublics,omitempty"`
}
