package cryptoutils

import "crypto/subtle"

// Zeroize overwrites b with zeros. Key material must be zeroized on every
// exit path of the call that owns it, after its single permitted use.
func Zeroize(b []byte) {
	if len(b) == 0 {
		return
	}
	zero := make([]byte, len(b))
	subtle.ConstantTimeCopy(1, b, zero)
}
