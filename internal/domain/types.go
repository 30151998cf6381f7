package domain

// ConversationID identifies one conversation between participants.
type ConversationID string

// String returns the string form of the conversation identifier.
func (id ConversationID) String() string { return string(id) }

// ParticipantID identifies a user known to the key directory.
type ParticipantID string

// String returns the string form of the participant identifier.
func (id ParticipantID) String() string { return string(id) }

// DeviceID identifies one device install of a participant.
type DeviceID string

// String returns the string form of the device identifier.
func (id DeviceID) String() string { return string(id) }

// SessionKeyID identifies one session root key generation. Rotation mints a
// new SessionKeyID; envelopes carry it so late arrivals can be matched to
// superseded state.
type SessionKeyID string

// String returns the string form of the session key identifier.
func (id SessionKeyID) String() string { return string(id) }

// SignedPreKeyID uniquely identifies a signed pre-key.
type SignedPreKeyID string

// String returns the string form of the identifier.
func (id SignedPreKeyID) String() string { return string(id) }

// OneTimePreKeyID uniquely identifies a one-time pre-key.
type OneTimePreKeyID string

// String returns the string form of the identifier.
func (id OneTimePreKeyID) String() string { return string(id) }

// Fingerprint is a short identifier for public keys presented to users and
// written to logs in place of raw key bytes.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }
