package keystore

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/quiin/skip-key-provider/capability"
	"github.com/quiin/skip-key-provider/config"
	"github.com/quiin/skip-key-provider/entropy"
	"github.com/quiin/skip-key-provider/interfaces"
	"github.com/quiin/skip-key-provider/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		LocalSystemID:        "KP_QuIIN_Server",
		RemoteSystemIDs:      []string{"KP_*_Test", "KP_QuIIN_Client"},
		Algorithm:            config.DefaultAlgorithm,
		DefaultKeySizeBits:   256,
		MinKeySizeBits:       128,
		MaxKeySizeBits:       512,
		KeyTTLSeconds:        3600,
		SweepIntervalSeconds: 60,
	}
}

func newTestStore(t *testing.T) (*Store, *storage.MemoryBackend) {
	t.Helper()

	cfg := testConfig()
	backend := storage.NewMemoryBackend()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := New(context.Background(), cfg, capability.NewRegistry(cfg), entropy.NewProvider(), backend, log)
	require.NoError(t, err)
	return store, backend
}

func TestGenerate(t *testing.T) {
	store, _ := newTestStore(t)

	id, material, err := store.Generate(context.Background(), "KP_Alpha_Test", 256)
	require.NoError(t, err)
	assert.Len(t, id.String(), 32)
	assert.Len(t, material, 32)
}

func TestGenerate_Validation(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		remote   string
		sizeBits int
		wantErr  error
	}{
		{"unauthorized remote", "KP_Alpha_Prod", 256, interfaces.ErrUnauthorized},
		{"empty remote", "", 256, interfaces.ErrValidation},
		{"size below minimum and not multiple of 8", "KP_Alpha_Test", 100, interfaces.ErrValidation},
		{"size below minimum", "KP_Alpha_Test", 64, interfaces.ErrValidation},
		{"size above maximum", "KP_Alpha_Test", 1024, interfaces.ErrValidation},
		{"size not multiple of 8", "KP_Alpha_Test", 250, interfaces.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := store.Generate(ctx, tt.remote, tt.sizeBits)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRetrieve_ExactlyOnce(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id, material, err := store.Generate(ctx, "KP_Alpha_Test", 256)
	require.NoError(t, err)

	got, err := store.Retrieve(ctx, id.String(), "KP_Alpha_Test")
	require.NoError(t, err)
	assert.Equal(t, material, got)

	_, err = store.Retrieve(ctx, id.String(), "KP_Alpha_Test")
	assert.ErrorIs(t, err, interfaces.ErrAlreadyConsumed)
}

func TestRetrieve_Concurrent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id, _, err := store.Generate(ctx, "KP_Alpha_Test", 256)
	require.NoError(t, err)

	const attempts = 16
	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Retrieve(ctx, id.String(), "KP_Alpha_Test")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, interfaces.ErrAlreadyConsumed)
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one concurrent retrieval must win")
}

func TestRetrieve_Errors(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id, _, err := store.Generate(ctx, "KP_Alpha_Test", 256)
	require.NoError(t, err)

	tests := []struct {
		name    string
		keyID   string
		remote  string
		wantErr error
	}{
		{"malformed key id", "nope", "KP_Alpha_Test", interfaces.ErrNotFound},
		{"unknown key id", "00000000000000000000000000000000", "KP_Alpha_Test", interfaces.ErrNotFound},
		{"unauthorized requester", id.String(), "KP_Alpha_Prod", interfaces.ErrUnauthorized},
		{"wrong bound system", id.String(), "KP_QuIIN_Client", interfaces.ErrUnauthorized},
		{"missing requester", id.String(), "", interfaces.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Retrieve(ctx, tt.keyID, tt.remote)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRetrieve_ZeroizesStoredMaterial(t *testing.T) {
	store, backend := newTestStore(t)
	ctx := context.Background()

	id, _, err := store.Generate(ctx, "KP_Alpha_Test", 256)
	require.NoError(t, err)

	_, err = store.Retrieve(ctx, id.String(), "KP_Alpha_Test")
	require.NoError(t, err)

	// The persisted tombstone must not contain material.
	stored, err := backend.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, stored.IsConsumed())
	assert.Empty(t, stored.Material)
}

func TestInsertSynced(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	record := &interfaces.KeyRecord{
		KeyID:          interfaces.NewKeyID(),
		Material:       []byte("0123456789abcdef0123456789abcdef"),
		RemoteSystemID: "KP_Alpha_Test",
		SizeBits:       256,
		CreatedAt:      time.Now().UTC(),
	}

	require.NoError(t, store.InsertSynced(ctx, record, "KP_Peer_B"))

	// Never replicated back to the sender.
	for _, pending := range store.PendingFor("KP_Peer_B") {
		assert.NotEqual(t, record.KeyID, pending.KeyID)
	}

	// Idempotent on duplicate delivery.
	require.NoError(t, store.InsertSynced(ctx, record, "KP_Peer_B"))

	got, err := store.Retrieve(ctx, record.KeyID.String(), "KP_Alpha_Test")
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789abcdef0123456789abcdef"), got)
}

func TestInsertSynced_Unauthorized(t *testing.T) {
	store, _ := newTestStore(t)

	record := &interfaces.KeyRecord{
		KeyID:          interfaces.NewKeyID(),
		Material:       []byte("0123456789abcdef0123456789abcdef"),
		RemoteSystemID: "KP_Alpha_Prod",
		SizeBits:       256,
		CreatedAt:      time.Now().UTC(),
	}

	err := store.InsertSynced(context.Background(), record, "KP_Peer_B")
	assert.ErrorIs(t, err, interfaces.ErrUnauthorized)
	assert.Zero(t, store.Count())
}

func TestPendingForAndMarkSynced(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id, _, err := store.Generate(ctx, "KP_Alpha_Test", 256)
	require.NoError(t, err)

	pending := store.PendingFor("KP_Peer_B")
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].KeyID)

	require.NoError(t, store.MarkSynced(ctx, id, "KP_Peer_B"))
	assert.Empty(t, store.PendingFor("KP_Peer_B"))

	// Still pending for a different peer.
	assert.Len(t, store.PendingFor("KP_Peer_C"), 1)
}

func TestPendingFor_SkipsConsumed(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id, _, err := store.Generate(ctx, "KP_Alpha_Test", 256)
	require.NoError(t, err)

	_, err = store.Retrieve(ctx, id.String(), "KP_Alpha_Test")
	require.NoError(t, err)

	assert.Empty(t, store.PendingFor("KP_Peer_B"))
}

func TestSweep(t *testing.T) {
	store, backend := newTestStore(t)
	ctx := context.Background()

	fresh, _, err := store.Generate(ctx, "KP_Alpha_Test", 256)
	require.NoError(t, err)

	// Plant an expired record directly in the index.
	expired := &interfaces.KeyRecord{
		KeyID:          interfaces.NewKeyID(),
		Material:       []byte("old material"),
		RemoteSystemID: "KP_Alpha_Test",
		SizeBits:       256,
		CreatedAt:      time.Now().Add(-2 * time.Hour),
	}
	require.NoError(t, backend.Put(ctx, expired))
	store.mu.Lock()
	store.records[expired.KeyID] = expired
	store.mu.Unlock()

	removed, err := store.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = backend.Get(ctx, expired.KeyID)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	// The fresh key survives.
	_, err = store.Retrieve(ctx, fresh.String(), "KP_Alpha_Test")
	assert.NoError(t, err)
}

func TestReloadFromBackend(t *testing.T) {
	cfg := testConfig()
	backend := storage.NewMemoryBackend()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	first, err := New(ctx, cfg, capability.NewRegistry(cfg), entropy.NewProvider(), backend, log)
	require.NoError(t, err)

	id, material, err := first.Generate(ctx, "KP_Alpha_Test", 256)
	require.NoError(t, err)

	// A new store over the same backend sees the key.
	second, err := New(ctx, cfg, capability.NewRegistry(cfg), entropy.NewProvider(), backend, log)
	require.NoError(t, err)

	got, err := second.Retrieve(ctx, id.String(), "KP_Alpha_Test")
	require.NoError(t, err)
	assert.Equal(t, material, got)
}
