package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/quiin/skip-key-provider/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `{
		"localSystemId": "KP_QuIIN_Server",
		"remoteSystemIds": ["KP_*_Test"]
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultAlgorithm, cfg.Algorithm)
	assert.Equal(t, 256, cfg.DefaultKeySizeBits)
	assert.Equal(t, 128, cfg.MinKeySizeBits)
	assert.Equal(t, 512, cfg.MaxKeySizeBits)
	assert.Equal(t, time.Hour, cfg.KeyTTL())
	assert.Equal(t, time.Minute, cfg.SweepInterval())
	assert.Equal(t, 10*time.Second, cfg.HeartbeatInterval())
	assert.Equal(t, 30*time.Second, cfg.SyncInterval())
	assert.Equal(t, 10*time.Second, cfg.SyncTimeout())
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 3, cfg.MissedThreshold)
	assert.Equal(t, 5*time.Minute, cfg.ReplayWindow())
	assert.Equal(t, interfaces.KeyBackendLocation("memory://"), cfg.StorageURI)
	assert.Empty(t, cfg.Peers)
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `{
		"localSystemId": "KP_A",
		"remoteSystemIds": ["KP_Alpha_Test", "KP_?_Prod"],
		"defaultKeySize": 384,
		"keyExpirySeconds": 7200,
		"heartbeatIntervalSeconds": 5,
		"storageUri": "file:///var/lib/skip/keys",
		"peers": [{
			"systemId": "KP_B",
			"endpoint": "kp-b.internal",
			"port": 8080,
			"sharedSecret": "`+strings.Repeat("x", MinSharedSecretBytes)+`"
		}]
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 384, cfg.DefaultKeySizeBits)
	assert.Equal(t, 2*time.Hour, cfg.KeyTTL())
	assert.Equal(t, 5*time.Second, cfg.HeartbeatInterval())
	require.Len(t, cfg.Peers, 1)
	assert.Equal(t, "KP_B", cfg.Peers[0].SystemID)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}

func TestLoad_MalformedJSON(t *testing.T) {
	_, err := Load(writeConfig(t, "{not json"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	secret := strings.Repeat("x", MinSharedSecretBytes)

	base := func() *Config {
		return &Config{
			LocalSystemID:      "KP_A",
			RemoteSystemIDs:    []string{"KP_*_Test"},
			DefaultKeySizeBits: 256,
			MinKeySizeBits:     128,
			MaxKeySizeBits:     512,
			Peers: []PeerConfig{{
				SystemID:     "KP_B",
				Endpoint:     "kp-b.internal",
				Port:         8080,
				SharedSecret: secret,
			}},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty local system", func(c *Config) { c.LocalSystemID = "" }},
		{"no remote system patterns", func(c *Config) { c.RemoteSystemIDs = nil }},
		{"min above max", func(c *Config) { c.MinKeySizeBits = 1024 }},
		{"default outside range", func(c *Config) { c.DefaultKeySizeBits = 64 }},
		{"default not multiple of 8", func(c *Config) { c.DefaultKeySizeBits = 257 }},
		{"peer without system id", func(c *Config) { c.Peers[0].SystemID = "" }},
		{"duplicate peer", func(c *Config) { c.Peers = append(c.Peers, c.Peers[0]) }},
		{"peer is local system", func(c *Config) { c.Peers[0].SystemID = "KP_A" }},
		{"peer without endpoint", func(c *Config) { c.Peers[0].Endpoint = "" }},
		{"peer port out of range", func(c *Config) { c.Peers[0].Port = 70000 }},
		{"short shared secret", func(c *Config) { c.Peers[0].SharedSecret = "short" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			require.NoError(t, cfg.Validate())

			tt.mutate(cfg)
			err := cfg.Validate()
			assert.ErrorIs(t, err, interfaces.ErrValidation)
		})
	}
}

func TestCapabilities(t *testing.T) {
	cfg := &Config{
		LocalSystemID:   "KP_A",
		RemoteSystemIDs: []string{"KP_*_Test"},
		Algorithm:       DefaultAlgorithm,
	}

	desc := cfg.Capabilities()
	assert.True(t, desc.Entropy)
	assert.True(t, desc.Key)
	assert.Equal(t, "KP_A", desc.LocalSystemID)
	assert.Equal(t, []string{"KP_*_Test"}, desc.RemoteSystemIDs)

	// The descriptor must not alias the config slice.
	desc.RemoteSystemIDs[0] = "mutated"
	assert.Equal(t, "KP_*_Test", cfg.RemoteSystemIDs[0])
}
