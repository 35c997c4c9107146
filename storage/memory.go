package storage

import (
	"context"
	"sync"

	"github.com/quiin/skip-key-provider/interfaces"
)

// MemoryBackend keeps key records in process memory. It is the default
// backend and the one used in tests. Records are stored in their encoded
// form so the memory backend exercises the same codec as durable backends.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[interfaces.KeyID][]byte
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[interfaces.KeyID][]byte)}
}

// Put stores or overwrites the record for its key ID.
func (b *MemoryBackend) Put(ctx context.Context, record *interfaces.KeyRecord) error {
	data, err := encodeRecord(record)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[record.KeyID] = data
	return nil
}

// Get retrieves a record by key ID.
func (b *MemoryBackend) Get(ctx context.Context, id interfaces.KeyID) (*interfaces.KeyRecord, error) {
	b.mu.RLock()
	data, ok := b.records[id]
	b.mu.RUnlock()

	if !ok {
		return nil, interfaces.ErrNotFound
	}

	return decodeRecord(data)
}

// Delete removes a record. Deleting an absent record is not an error.
func (b *MemoryBackend) Delete(ctx context.Context, id interfaces.KeyID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.records, id)
	return nil
}

// List returns the IDs of all stored records.
func (b *MemoryBackend) List(ctx context.Context) ([]interfaces.KeyID, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]interfaces.KeyID, 0, len(b.records))
	for id := range b.records {
		ids = append(ids, id)
	}
	return ids, nil
}

// Available always reports true for the in-memory backend.
func (b *MemoryBackend) Available(ctx context.Context) bool {
	return true
}

// Name returns the backend type name.
func (b *MemoryBackend) Name() string {
	return "memory"
}

// LocationURI returns the URI this backend was created from.
func (b *MemoryBackend) LocationURI() string {
	return "memory://"
}
