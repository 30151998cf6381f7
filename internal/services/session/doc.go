// Package session owns per-conversation session and ratchet state.
//
// Establish runs the key-agreement handshake against fetched bundles and
// distributes the wrapped root key; Accept is the receiving side. Rotation
// never mutates a session: the old record is superseded and retained, with
// its ratchet state, until in-flight envelopes have had their chance to
// arrive, then flushed and wiped. Racing establishments for one conversation
// resolve last-writer-wins on the establishment timestamp.
package session
