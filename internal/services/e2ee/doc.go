// Package e2ee is the client-facing entry point of the encryption
// subsystem. It wires the identity, session and message services together,
// serialises all session access behind one lock and feeds the rotation
// scheduler. Callers talk to this package only; the services underneath
// assume the caller holds that lock.
package e2ee
