package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// keySyncInfo is the HKDF context label for key_sync payload encryption.
// Changing it invalidates all in-flight messages between peers.
const keySyncInfo = "skip/keysync/v1"

const gcmNonceSize = 12

// deriveSealKey derives the 32-byte AES key for payload encryption from a
// peer shared secret.
func deriveSealKey(sharedSecret []byte) ([]byte, error) {
	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, sharedSecret, nil, []byte(keySyncInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive payload key: %w", err)
	}
	return key, nil
}

// SealPayload encrypts plaintext with AES-256-GCM under a key derived from
// the shared secret. The random nonce is prefixed to the ciphertext.
func SealPayload(sharedSecret, plaintext []byte) ([]byte, error) {
	key, err := deriveSealKey(sharedSecret)
	if err != nil {
		return nil, err
	}
	defer Zeroize(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aesGCM.Seal(nonce, nonce, plaintext, nil), nil
}

// OpenPayload decrypts data produced by SealPayload. Authentication failure
// and truncated input both return an error without partial plaintext.
func OpenPayload(sharedSecret, sealed []byte) ([]byte, error) {
	if len(sealed) < gcmNonceSize {
		return nil, errors.New("sealed payload too short")
	}

	key, err := deriveSealKey(sharedSecret)
	if err != nil {
		return nil, err
	}
	defer Zeroize(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := aesGCM.Open(nil, sealed[:gcmNonceSize], sealed[gcmNonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt payload: %w", err)
	}

	return plaintext, nil
}
