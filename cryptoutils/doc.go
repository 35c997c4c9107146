// Package cryptoutils provides the cryptographic primitives of the peer
// synchronization protocol: HMAC-SHA256 message signing, authenticated
// payload encryption keyed from per-peer shared secrets, and zeroization of
// secret buffers.
//
// Payload encryption is AES-256-GCM with a key derived from the peer shared
// secret via HKDF-SHA256. Messages are encrypted first and signed over the
// ciphertext form, so a message is never transmitted half-signed or
// half-encrypted.
package cryptoutils
