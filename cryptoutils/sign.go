package cryptoutils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/quiin/skip-key-provider/interfaces"
)

// SignMessage computes the hex-encoded HMAC-SHA256 signature of msg under the
// shared secret. The signature covers every field except the signature
// itself, with the payload in its transmitted form.
func SignMessage(msg *interfaces.SyncMessage, sharedSecret []byte) string {
	mac := hmac.New(sha256.New, sharedSecret)
	mac.Write(msg.SigningBytes())
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyMessage checks msg's signature against the shared secret in constant
// time. An empty signature never verifies.
func VerifyMessage(msg *interfaces.SyncMessage, sharedSecret []byte) bool {
	if msg.Signature == "" {
		return false
	}

	got, err := hex.DecodeString(msg.Signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, sharedSecret)
	mac.Write(msg.SigningBytes())
	return hmac.Equal(got, mac.Sum(nil))
}
