// Package rotation runs the background maintenance loop: rotating session
// keys past their age or message-count limits, topping up the one-time
// pre-key pool and flushing expired key material.
package rotation
