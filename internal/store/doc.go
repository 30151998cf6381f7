// Package store persists the device's long-lived key material on disk.
//
// Layout under the store directory:
//
//	device.json          device id + master key (0600, never transmitted)
//	identity.enc         long-term identity key pair, sealed
//	signed_prekeys.enc   signed pre-key pairs + current selection, sealed
//	onetime_prekeys.enc  one-time pre-key pool with used flags, sealed
//	bundle.json          cache of the last published public bundle
//
// Sealed files are encrypted with XChaCha20-Poly1305 under a per-file key
// derived from the device master key and a random salt. The store is the
// exclusive owner of private key bytes; everything else works with copies
// that callers wipe after use.
package store
