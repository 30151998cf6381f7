// Package ratchet implements the symmetric-chain forward-secrecy ratchet.
//
// Each device derives its sending chain from the session root key, labelled
// with its own participant id, and one receiving chain per peer it hears
// from, labelled with the sender's id. Every holder of the root key derives
// the same chain for a given sender, so conversations with more than two
// participants work without pairwise sessions. Every chain step is a one-way
// HKDF derivation: the message key
// and the next chain key come out, the old chain key is wiped. Compromise of
// one message key therefore exposes neither earlier nor later messages.
//
// Out-of-order delivery is handled by deriving and caching message keys for
// skipped numbers, bounded by a configurable window so adversarial key
// numbers cannot grow memory without limit. Replays of consumed key numbers
// are rejected without touching chain state.
//
// There is no per-message Diffie-Hellman step; post-compromise recovery
// comes from session rotation re-running establishment.
package ratchet
