package domain

import "time"

// Config holds the recognised runtime options of the subsystem.
type Config struct {
	// RotationInterval bounds the age of a session root key.
	RotationInterval time.Duration

	// MaxMessageAge bounds how long skipped message keys and superseded
	// session state are retained before being flushed and wiped.
	MaxMessageAge time.Duration

	// OneTimePreKeyPoolSize is the target size of the published pool.
	OneTimePreKeyPoolSize int

	// OneTimePreKeyLowWater triggers replenishment when the unused pool
	// drops below it.
	OneTimePreKeyLowWater int

	// MaxSkipWindow bounds how many receiving-chain steps may be derived
	// ahead for out-of-order delivery.
	MaxSkipWindow int

	// MessageCountCeiling bounds how many messages a session key may
	// protect before rotation.
	MessageCountCeiling uint64

	// PerfectForwardSecrecy controls whether chain keys advance per
	// message. Disabling it is a conscious, logged degradation.
	PerfectForwardSecrecy bool
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		RotationInterval:      24 * time.Hour,
		MaxMessageAge:         7 * 24 * time.Hour,
		OneTimePreKeyPoolSize: 10,
		OneTimePreKeyLowWater: 5,
		MaxSkipWindow:         1000,
		MessageCountCeiling:   1000,
		PerfectForwardSecrecy: true,
	}
}
