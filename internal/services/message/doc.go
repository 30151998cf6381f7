// Package message is the envelope cipher: authenticated encryption and
// decryption of single messages under the current ratchet keys, packaged as
// self-contained envelopes carrying the session key id and sender metadata.
package message
