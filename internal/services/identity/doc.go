// Package identity manages the device's key material lifecycle: the
// per-install device record, the long-term identity key pair, the signed
// pre-key and the one-time pre-key pool, plus publication of the public
// halves to the key directory.
package identity
