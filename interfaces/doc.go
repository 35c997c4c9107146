// Package interfaces defines the shared domain types, error taxonomy, and
// storage contracts used across the key provider.
//
// The package is intentionally free of business logic so that every component
// (key store, peer synchronization, HTTP handlers, storage backends) can
// depend on it without import cycles.
//
// Core types:
//   - KeyID: 128-bit key identifier, hex-encoded on the wire
//   - KeyRecord: a distributed key with its consumption and replication state
//   - SyncMessage: signed peer-to-peer synchronization envelope
//   - CapabilityDescriptor: the provider's static capability advertisement
//   - KeyBackend: pluggable persistence for key records
package interfaces
