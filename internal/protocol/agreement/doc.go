// Package agreement implements the asynchronous key-agreement handshake
// used to establish a conversation session against a participant's published
// pre-key bundle, without the participant being online.
//
// The initiator verifies the bundle's signed pre-key signature, runs X25519
// between its own signed pre-key and the participant's identity, signed
// pre-key and (when available) one-time pre-key publics, and expands the
// concatenated shared secrets through HKDF under a conversation-scoped info
// string. The responder recomputes the same secrets from the private halves
// it holds. Both ends arrive at the same wrapping key, under which the
// session root key travels through the key-exchange channel.
package agreement
