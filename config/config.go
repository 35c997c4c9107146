// Package config loads and validates the immutable key provider
// configuration. A single Config value is constructed at startup and passed
// explicitly to every component constructor; nothing reads configuration
// after that point.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/quiin/skip-key-provider/interfaces"
)

// Defaults applied by Load for fields absent from the configuration file.
const (
	DefaultAlgorithm      = "TLS_DHE_PSK_WITH_AES_256_CBC_SHA384"
	DefaultKeySizeBits    = 256
	MinKeySizeBits        = 128
	MaxKeySizeBits        = 512
	DefaultEntropyBits    = 256
	MaxEntropyBits        = 8192
	DefaultKeyTTL         = time.Hour
	DefaultSweepInterval  = time.Minute
	DefaultHeartbeatEvery = 10 * time.Second
	DefaultSyncEvery      = 30 * time.Second
	DefaultSyncTimeout    = 10 * time.Second
	DefaultMaxRetries     = 3
	DefaultMissedLimit    = 3
	DefaultReplayWindow   = 5 * time.Minute
	DefaultStorageURI     = "memory://"

	// MinSharedSecretBytes is the minimum peer shared secret length.
	MinSharedSecretBytes = 32
)

// PeerConfig describes one peer key provider this instance synchronizes with.
type PeerConfig struct {
	// SystemID is the peer's unique system identifier.
	SystemID string `json:"systemId"`

	// Endpoint is the peer's host (the TLS-terminating proxy in front of
	// it), without scheme or port.
	Endpoint string `json:"endpoint"`

	// Port is the peer's sync port.
	Port int `json:"port"`

	// SharedSecret is the pre-shared secret for this peer, distinct per
	// peer, at least MinSharedSecretBytes long.
	SharedSecret string `json:"sharedSecret"`
}

// Config is the full immutable configuration of one key provider core.
// Interval and duration fields are expressed in seconds in the JSON file.
type Config struct {
	LocalSystemID   string   `json:"localSystemId"`
	RemoteSystemIDs []string `json:"remoteSystemIds"`
	Algorithm       string   `json:"algorithm"`

	DefaultKeySizeBits int `json:"defaultKeySize"`
	MinKeySizeBits     int `json:"minKeySize"`
	MaxKeySizeBits     int `json:"maxKeySize"`
	DefaultEntropyBits int `json:"defaultEntropyBits"`

	KeyTTLSeconds        int `json:"keyExpirySeconds"`
	SweepIntervalSeconds int `json:"sweepIntervalSeconds"`

	HeartbeatIntervalSeconds int `json:"heartbeatIntervalSeconds"`
	SyncIntervalSeconds      int `json:"syncIntervalSeconds"`
	SyncTimeoutSeconds       int `json:"syncTimeoutSeconds"`
	MaxRetries               int `json:"maxRetryAttempts"`
	MissedThreshold          int `json:"missedHeartbeatThreshold"`
	ReplayWindowSeconds      int `json:"replayWindowSeconds"`

	StorageURI interfaces.KeyBackendLocation `json:"storageUri"`

	Peers []PeerConfig `json:"peers"`
}

// Load reads a JSON configuration file, applies defaults, and validates the
// result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Algorithm == "" {
		c.Algorithm = DefaultAlgorithm
	}
	if c.DefaultKeySizeBits == 0 {
		c.DefaultKeySizeBits = DefaultKeySizeBits
	}
	if c.MinKeySizeBits == 0 {
		c.MinKeySizeBits = MinKeySizeBits
	}
	if c.MaxKeySizeBits == 0 {
		c.MaxKeySizeBits = MaxKeySizeBits
	}
	if c.DefaultEntropyBits == 0 {
		c.DefaultEntropyBits = DefaultEntropyBits
	}
	if c.KeyTTLSeconds == 0 {
		c.KeyTTLSeconds = int(DefaultKeyTTL / time.Second)
	}
	if c.SweepIntervalSeconds == 0 {
		c.SweepIntervalSeconds = int(DefaultSweepInterval / time.Second)
	}
	if c.HeartbeatIntervalSeconds == 0 {
		c.HeartbeatIntervalSeconds = int(DefaultHeartbeatEvery / time.Second)
	}
	if c.SyncIntervalSeconds == 0 {
		c.SyncIntervalSeconds = int(DefaultSyncEvery / time.Second)
	}
	if c.SyncTimeoutSeconds == 0 {
		c.SyncTimeoutSeconds = int(DefaultSyncTimeout / time.Second)
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.MissedThreshold == 0 {
		c.MissedThreshold = DefaultMissedLimit
	}
	if c.ReplayWindowSeconds == 0 {
		c.ReplayWindowSeconds = int(DefaultReplayWindow / time.Second)
	}
	if c.StorageURI == "" {
		c.StorageURI = DefaultStorageURI
	}
}

// Validate checks the configuration for internal consistency. It is called
// by Load but exported so programmatically constructed configs can be checked
// the same way.
func (c *Config) Validate() error {
	if c.LocalSystemID == "" {
		return fmt.Errorf("%w: localSystemId must not be empty", interfaces.ErrValidation)
	}
	if len(c.RemoteSystemIDs) == 0 {
		return fmt.Errorf("%w: remoteSystemIds must contain at least one pattern", interfaces.ErrValidation)
	}
	if c.MinKeySizeBits > c.MaxKeySizeBits {
		return fmt.Errorf("%w: minKeySize %d exceeds maxKeySize %d", interfaces.ErrValidation, c.MinKeySizeBits, c.MaxKeySizeBits)
	}
	if c.DefaultKeySizeBits < c.MinKeySizeBits || c.DefaultKeySizeBits > c.MaxKeySizeBits {
		return fmt.Errorf("%w: defaultKeySize %d outside [%d, %d]", interfaces.ErrValidation, c.DefaultKeySizeBits, c.MinKeySizeBits, c.MaxKeySizeBits)
	}
	if c.DefaultKeySizeBits%8 != 0 {
		return fmt.Errorf("%w: defaultKeySize must be a multiple of 8", interfaces.ErrValidation)
	}

	seen := make(map[string]bool, len(c.Peers))
	for _, peer := range c.Peers {
		if peer.SystemID == "" {
			return fmt.Errorf("%w: peer with empty systemId", interfaces.ErrValidation)
		}
		if seen[peer.SystemID] {
			return fmt.Errorf("%w: duplicate peer %q", interfaces.ErrValidation, peer.SystemID)
		}
		seen[peer.SystemID] = true

		if peer.SystemID == c.LocalSystemID {
			return fmt.Errorf("%w: peer %q is the local system", interfaces.ErrValidation, peer.SystemID)
		}
		if peer.Endpoint == "" || peer.Port <= 0 || peer.Port > 65535 {
			return fmt.Errorf("%w: peer %q has invalid endpoint", interfaces.ErrValidation, peer.SystemID)
		}
		if len(peer.SharedSecret) < MinSharedSecretBytes {
			return fmt.Errorf("%w: peer %q shared secret shorter than %d bytes", interfaces.ErrValidation, peer.SystemID, MinSharedSecretBytes)
		}
	}

	return nil
}

// KeyTTL returns the key expiry as a duration.
func (c *Config) KeyTTL() time.Duration {
	return time.Duration(c.KeyTTLSeconds) * time.Second
}

// SweepInterval returns how often the expiry sweep runs.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// HeartbeatInterval returns the heartbeat cycle period.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
}

// SyncInterval returns the key replication cycle period.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalSeconds) * time.Second
}

// SyncTimeout returns the per-call sync transport timeout.
func (c *Config) SyncTimeout() time.Duration {
	return time.Duration(c.SyncTimeoutSeconds) * time.Second
}

// ReplayWindow returns the accepted clock skew for sync messages.
func (c *Config) ReplayWindow() time.Duration {
	return time.Duration(c.ReplayWindowSeconds) * time.Second
}

// Capabilities derives the static capability descriptor advertised on the
// capabilities endpoint.
func (c *Config) Capabilities() interfaces.CapabilityDescriptor {
	ids := make([]string, len(c.RemoteSystemIDs))
	copy(ids, c.RemoteSystemIDs)

	return interfaces.CapabilityDescriptor{
		Entropy:         true,
		Key:             true,
		Algorithm:       c.Algorithm,
		LocalSystemID:   c.LocalSystemID,
		RemoteSystemIDs: ids,
	}
}
