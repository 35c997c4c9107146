// Package entropy produces cryptographically secure random strings for the
// entropy endpoint and the key generator.
package entropy

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/quiin/skip-key-provider/interfaces"
)

// Provider draws from a cryptographically secure random source. The zero
// value reads from crypto/rand; tests may substitute the reader.
type Provider struct {
	// Reader is the random source. Nil means crypto/rand.Reader.
	Reader io.Reader
}

// NewProvider returns a provider backed by the operating system CSPRNG.
func NewProvider() *Provider {
	return &Provider{}
}

// Bytes returns ceil(minEntropyBits/8) random bytes. A failure to read the
// random source is the one fatal-for-the-request infrastructure error in the
// core and surfaces as ErrRngUnavailable.
func (p *Provider) Bytes(minEntropyBits int) ([]byte, error) {
	if minEntropyBits <= 0 {
		return nil, fmt.Errorf("%w: entropy bits must be positive", interfaces.ErrValidation)
	}

	reader := p.Reader
	if reader == nil {
		reader = rand.Reader
	}

	buf := make([]byte, (minEntropyBits+7)/8)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrRngUnavailable, err)
	}

	return buf, nil
}

// Generate returns the uppercase hex encoding of Bytes(minEntropyBits),
// matching the wire format of the entropy endpoint.
func (p *Provider) Generate(minEntropyBits int) (string, error) {
	buf, err := p.Bytes(minEntropyBits)
	if err != nil {
		return "", err
	}

	return strings.ToUpper(hex.EncodeToString(buf)), nil
}
