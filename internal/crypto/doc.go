// Package crypto exposes the primitives used by sotto behind a small
// Provider interface so the protocol logic stays provider-agnostic.
//
// Contents
//
//   - Provider: key generation, signing, verification, key agreement, key
//     derivation and authenticated encryption
//   - The default implementation on golang.org/x/crypto (X25519,
//     XChaCha20-Poly1305, HKDF) and crypto/ed25519
//   - A deterministic provider for reproducible protocol tests
//   - Short public-key fingerprints for display and logging (Fingerprint)
//
// # Notes
//
// All functions operate on the fixed-size array types defined in
// internal/domain to avoid accidental reallocations. Callers should treat
// returned secrets as sensitive and wipe them with memzero when done.
package crypto
