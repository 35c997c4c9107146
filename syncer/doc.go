// Package syncer implements the peer synchronization engine: the messenger
// that signs, encrypts, transmits, and verifies sync messages, and the
// scheduler that drives the heartbeat and key replication cycles.
//
// Every message carries an HMAC-SHA256 signature under the per-peer shared
// secret and a timestamp bounded by the replay window. Key material crossing
// the wire is additionally sealed with AES-256-GCM keyed from the same
// shared secret via HKDF.
//
// Replication is best-effort and asynchronous: transport failures retry with
// exponential backoff, eventually demote the peer to Offline, and are never
// surfaced to the HTTP client whose request created the key.
package syncer
