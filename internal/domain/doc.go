// Package domain defines the shared types, identifiers, configuration and
// collaborator interfaces of the sotto end-to-end encryption subsystem.
//
// Contents
//
//   - Fixed-size key types (X25519Public, X25519Private, Ed25519Public,
//     Ed25519Private) with Slice helpers
//   - Key material records (DeviceIdentity, IdentityKeyPair, SignedPreKey,
//     OneTimePreKey) and the published PreKeyBundle
//   - Per-conversation session and ratchet state (SessionInfo, RatchetState)
//   - The message Envelope and the plaintext contract consumed from the UI
//     collaborator
//   - Sentinel errors for every failure kind the subsystem reports
//   - Interfaces for the key material store and the external directory and
//     key-exchange collaborators
//
// The package has no behaviour of its own; all protocol logic lives in
// internal/protocol and internal/services.
package domain
