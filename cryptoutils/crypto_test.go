package cryptoutils

import (
	"bytes"
	"testing"
	"time"

	"github.com/quiin/skip-key-provider/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMessage() *interfaces.SyncMessage {
	return &interfaces.SyncMessage{
		MessageID:  "5d41402abc4b2a76b9719d911017c592",
		SenderID:   "KP_Alpha",
		ReceiverID: "KP_Beta",
		Type:       interfaces.MessageTypeHeartbeat,
		Timestamp:  time.Now().Unix(),
		Payload:    "eyJzdGF0dXMiOiJvbmxpbmUifQ==",
	}
}

func TestSignAndVerifyMessage(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")

	msg := testMessage()
	msg.Signature = SignMessage(msg, secret)

	assert.Len(t, msg.Signature, 64) // hex SHA-256
	assert.True(t, VerifyMessage(msg, secret))
}

func TestVerifyMessage_TamperedFields(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")

	tests := []struct {
		name   string
		mutate func(m *interfaces.SyncMessage)
	}{
		{"payload changed", func(m *interfaces.SyncMessage) { m.Payload = "dGFtcGVyZWQ=" }},
		{"sender changed", func(m *interfaces.SyncMessage) { m.SenderID = "KP_Evil" }},
		{"receiver changed", func(m *interfaces.SyncMessage) { m.ReceiverID = "KP_Other" }},
		{"type changed", func(m *interfaces.SyncMessage) { m.Type = interfaces.MessageTypeKeySync }},
		{"timestamp changed", func(m *interfaces.SyncMessage) { m.Timestamp++ }},
		{"signature stripped", func(m *interfaces.SyncMessage) { m.Signature = "" }},
		{"signature not hex", func(m *interfaces.SyncMessage) { m.Signature = "zz" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := testMessage()
			msg.Signature = SignMessage(msg, secret)
			tt.mutate(msg)
			assert.False(t, VerifyMessage(msg, secret))
		})
	}
}

func TestVerifyMessage_WrongSecret(t *testing.T) {
	msg := testMessage()
	msg.Signature = SignMessage(msg, []byte("0123456789abcdef0123456789abcdef"))
	assert.False(t, VerifyMessage(msg, []byte("fedcba9876543210fedcba9876543210")))
}

func TestSealAndOpenPayload(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	plaintext := []byte(`{"keyId":"abc","key":"00ff"}`)

	sealed, err := SealPayload(secret, plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, sealed)

	opened, err := OpenPayload(secret, sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestSealPayload_FreshNonce(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")

	a, err := SealPayload(secret, []byte("same plaintext"))
	require.NoError(t, err)
	b, err := SealPayload(secret, []byte("same plaintext"))
	require.NoError(t, err)

	assert.False(t, bytes.Equal(a, b), "two seals of the same plaintext must differ")
}

func TestOpenPayload_Failures(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")

	sealed, err := SealPayload(secret, []byte("payload"))
	require.NoError(t, err)

	t.Run("wrong secret", func(t *testing.T) {
		_, err := OpenPayload([]byte("fedcba9876543210fedcba9876543210"), sealed)
		assert.Error(t, err)
	})

	t.Run("flipped ciphertext bit", func(t *testing.T) {
		tampered := append([]byte{}, sealed...)
		tampered[len(tampered)-1] ^= 0x01
		_, err := OpenPayload(secret, tampered)
		assert.Error(t, err)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := OpenPayload(secret, sealed[:8])
		assert.Error(t, err)
	})
}

func TestZeroize(t *testing.T) {
	buf := []byte{0xde, 0xad, 0xbe, 0xef}
	Zeroize(buf)
	assert.Equal(t, []byte{0, 0, 0, 0}, buf)

	Zeroize(nil) // must not panic
}
