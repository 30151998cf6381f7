// Package directory provides clients for the external key directory and the
// key-exchange channel.
//
// HTTPDirectory talks JSON to a remote directory service. Memory and
// MemoryExchange are in-process implementations used by tests and the CLI
// demo; they model the directory's serve-once semantics for one-time
// pre-keys.
package directory
