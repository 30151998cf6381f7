// Package commands defines the sotto CLI and wires dependencies for
// subcommands.
//
// Commands
//
//   - init         Provision the device: identity, signed pre-key, pool
//   - fingerprint  Print the identity fingerprint
//   - publish      Upload the pre-key bundle to a directory
//   - maintain     Rotate and replenish published key material
//   - demo         Run a two-party conversation in-process
//
// # Implementation
//
// The root command builds the store and identity service before any
// subcommand runs. Session state is in-memory and per-process, so the CLI
// only manages key material; the demo command shows the full message path.
package commands
