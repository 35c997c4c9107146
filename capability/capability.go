// Package capability exposes the provider's static capability descriptor and
// authorizes remote system identifiers against the configured allow-list.
package capability

import (
	"path"

	"github.com/quiin/skip-key-provider/config"
	"github.com/quiin/skip-key-provider/interfaces"
)

// Registry validates remote system identifiers against the configured glob
// patterns and serves the capability descriptor. Immutable after
// construction; Authorize has no side effects and is safe for concurrent use.
type Registry struct {
	descriptor interfaces.CapabilityDescriptor
}

// NewRegistry derives the registry from the immutable configuration.
func NewRegistry(cfg *config.Config) *Registry {
	return &Registry{descriptor: cfg.Capabilities()}
}

// Describe returns the static capability descriptor.
func (r *Registry) Describe() interfaces.CapabilityDescriptor {
	return r.descriptor
}

// Authorize reports whether remoteSystemID matches any configured pattern.
// Patterns support '*' (any run), '?' (single character) and '[...]'
// character classes; a pattern without metacharacters is a case-sensitive
// exact match. Malformed patterns never match.
func (r *Registry) Authorize(remoteSystemID string) bool {
	if remoteSystemID == "" {
		return false
	}

	for _, pattern := range r.descriptor.RemoteSystemIDs {
		if ok, err := path.Match(pattern, remoteSystemID); err == nil && ok {
			return true
		}
	}

	return false
}
