package domain

import "errors"

var (
	// ErrProviderUnavailable is returned when no cryptographic provider is
	// present or its self-test fails. It is fatal: the subsystem refuses to
	// initialise rather than run without encryption.
	ErrProviderUnavailable = errors.New("cryptographic provider unavailable")

	// ErrUntrustedKeyMaterial is returned when a signed pre-key signature
	// does not verify against the participant's identity key. Establishment
	// aborts and is never retried with the unverified keys.
	ErrUntrustedKeyMaterial = errors.New("untrusted key material: signed pre-key signature verification failed")

	// ErrSessionKeyMissing is returned when no session state matches an
	// envelope's conversation and key id. Callers may re-establish and retry.
	ErrSessionKeyMissing = errors.New("session key missing for conversation")

	// ErrDuplicateKeyNumber is returned when a message key number has
	// already been consumed. The message is dropped; the session survives.
	ErrDuplicateKeyNumber = errors.New("duplicate key number: message already consumed")

	// ErrTamperedOrMisrouted is returned when authenticated decryption
	// fails. The message is discarded whole, never partially trusted.
	ErrTamperedOrMisrouted = errors.New("authentication failed: envelope tampered or misrouted")

	// ErrMaxSkipWindowExceeded is returned when a key number is too far
	// ahead of the receiving chain to derive without unbounded memory use.
	ErrMaxSkipWindowExceeded = errors.New("key number gap exceeds maximum skip window")

	// ErrOneTimePreKeyConsumed is returned when an incoming establishment
	// names a one-time pre-key that was already used. The caller falls back
	// to the signed pre-key only.
	ErrOneTimePreKeyConsumed = errors.New("one-time pre-key already consumed")
)
