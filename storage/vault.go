package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/quiin/skip-key-provider/interfaces"
)

// VaultBackend stores key records in HashiCorp Vault using the KV v2 engine.
// Vault's own sealing and audit trail make it the preferred durable backend
// for production deployments.
type VaultBackend struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultBackend creates a Vault backend.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - mountPath: KV v2 mount path (e.g. "secret")
//   - dataPath: path within the mount (e.g. "skip/keys")
//   - token: Vault token; empty falls back to the VAULT_TOKEN environment
func NewVaultBackend(address, mountPath, dataPath, token string, log *slog.Logger) (*VaultBackend, error) {
	cfg := api.DefaultConfig()
	cfg.Address = address
	cfg.Timeout = 30 * time.Second

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	mountPath = strings.Trim(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return &VaultBackend{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", address, mountPath, dataPath),
	}, nil
}

func (b *VaultBackend) dataPathFor(id interfaces.KeyID) string {
	return fmt.Sprintf("%s/data/%s/%s", b.mountPath, b.dataPath, id.String())
}

func (b *VaultBackend) metadataPathFor(id interfaces.KeyID) string {
	return fmt.Sprintf("%s/metadata/%s/%s", b.mountPath, b.dataPath, id.String())
}

// Put stores or overwrites the record for its key ID.
func (b *VaultBackend) Put(ctx context.Context, record *interfaces.KeyRecord) error {
	data, err := encodeRecord(record)
	if err != nil {
		return err
	}

	// KV v2 payload format
	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"record": string(data),
		},
	}

	if _, err := b.client.Logical().WriteWithContext(ctx, b.dataPathFor(record.KeyID), secretData); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStorageUnavailable, err)
	}

	b.log.Debug("Stored key record in Vault",
		slog.String("keyId", record.KeyID.String()))
	return nil
}

// Get retrieves a record by key ID.
func (b *VaultBackend) Get(ctx context.Context, id interfaces.KeyID) (*interfaces.KeyRecord, error) {
	secret, err := b.client.Logical().ReadWithContext(ctx, b.dataPathFor(id))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStorageUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, interfaces.ErrNotFound
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid data format in Vault response")
	}

	encoded, ok := data["record"].(string)
	if !ok {
		return nil, fmt.Errorf("record key not found in Vault data")
	}

	return decodeRecord([]byte(encoded))
}

// Delete destroys all versions of the record so key material cannot be
// recovered from Vault's version history.
func (b *VaultBackend) Delete(ctx context.Context, id interfaces.KeyID) error {
	if _, err := b.client.Logical().DeleteWithContext(ctx, b.metadataPathFor(id)); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStorageUnavailable, err)
	}
	return nil
}

// List returns the IDs of all stored records.
func (b *VaultBackend) List(ctx context.Context) ([]interfaces.KeyID, error) {
	listPath := fmt.Sprintf("%s/metadata/%s", b.mountPath, b.dataPath)
	secret, err := b.client.Logical().ListWithContext(ctx, listPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStorageUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}

	keys, ok := secret.Data["keys"].([]interface{})
	if !ok {
		return nil, nil
	}

	ids := make([]interfaces.KeyID, 0, len(keys))
	for _, key := range keys {
		name, ok := key.(string)
		if !ok {
			continue
		}
		id, err := interfaces.ParseKeyID(name)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}

	return ids, nil
}

// Available checks that Vault is initialized and unsealed.
func (b *VaultBackend) Available(ctx context.Context) bool {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := b.client.Sys().HealthWithContext(healthCtx)
	if err != nil {
		b.log.Debug("Vault health check failed", "err", err)
		return false
	}

	if !health.Initialized || health.Sealed {
		b.log.Debug("Vault is not available",
			slog.Bool("initialized", health.Initialized),
			slog.Bool("sealed", health.Sealed))
		return false
	}

	return true
}

// Name returns a backend identifier including the mount and path.
func (b *VaultBackend) Name() string {
	return fmt.Sprintf("vault-%s-%s", b.mountPath, strings.ReplaceAll(b.dataPath, "/", "-"))
}

// LocationURI returns the URI this backend was created from.
func (b *VaultBackend) LocationURI() string {
	return b.locationURI
}
