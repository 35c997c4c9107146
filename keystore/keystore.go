// Package keystore owns the key record lifecycle: generation, at-most-once
// retrieval with mandatory zeroization, replication bookkeeping, and expiry
// cleanup.
package keystore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quiin/skip-key-provider/config"
	"github.com/quiin/skip-key-provider/entropy"
	"github.com/quiin/skip-key-provider/interfaces"
	"github.com/quiin/skip-key-provider/metrics"
)

// Authorizer validates remote system identifiers. Implemented by
// capability.Registry.
type Authorizer interface {
	Authorize(remoteSystemID string) bool
}

// Store is the authoritative key store. The record index lives in memory so
// consume-on-read is a per-record compare-and-set with no lock held across
// I/O; the configured backend provides durability and is kept in step on
// every state change.
type Store struct {
	cfg        *config.Config
	authorizer Authorizer
	entropy    *entropy.Provider
	backend    interfaces.KeyBackend
	log        *slog.Logger

	// mu guards the index map only, never a network or disk operation.
	mu      sync.RWMutex
	records map[interfaces.KeyID]*interfaces.KeyRecord
}

// New creates a key store and reloads any records the backend already holds,
// so a restart does not lose undelivered keys on durable backends.
func New(ctx context.Context, cfg *config.Config, authorizer Authorizer, provider *entropy.Provider, backend interfaces.KeyBackend, log *slog.Logger) (*Store, error) {
	s := &Store{
		cfg:        cfg,
		authorizer: authorizer,
		entropy:    provider,
		backend:    backend,
		log:        log,
		records:    make(map[interfaces.KeyID]*interfaces.KeyRecord),
	}

	ids, err := backend.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list existing key records: %w", err)
	}

	for _, id := range ids {
		record, err := backend.Get(ctx, id)
		if err != nil {
			log.Warn("Skipping unreadable key record",
				slog.String("keyId", id.String()),
				"err", err)
			continue
		}
		s.records[record.KeyID] = record
	}

	if len(s.records) > 0 {
		log.Info("Reloaded key records from storage",
			slog.Int("count", len(s.records)),
			slog.String("backend", backend.Name()))
	}

	return s, nil
}

// Generate creates a new key for remoteSystemID and returns its ID together
// with a copy of the material. The caller owns the copy and must zeroize it
// once the response has been serialized; the store retains the original for
// later retrieval and peer replication.
func (s *Store) Generate(ctx context.Context, remoteSystemID string, sizeBits int) (interfaces.KeyID, []byte, error) {
	if remoteSystemID == "" {
		return interfaces.KeyID{}, nil, fmt.Errorf("%w: remoteSystemID is required", interfaces.ErrValidation)
	}
	if !s.authorizer.Authorize(remoteSystemID) {
		return interfaces.KeyID{}, nil, fmt.Errorf("%w: %q", interfaces.ErrUnauthorized, remoteSystemID)
	}
	if err := s.validateSize(sizeBits); err != nil {
		return interfaces.KeyID{}, nil, err
	}

	material, err := s.entropy.Bytes(sizeBits)
	if err != nil {
		return interfaces.KeyID{}, nil, err
	}

	// The ID is drawn independently of the material so a leaked ID can
	// never be used to reconstruct the key.
	record := &interfaces.KeyRecord{
		KeyID:          interfaces.NewKeyID(),
		Material:       material,
		RemoteSystemID: remoteSystemID,
		SizeBits:       sizeBits,
		CreatedAt:      time.Now().UTC(),
	}

	s.mu.Lock()
	s.records[record.KeyID] = record
	s.mu.Unlock()

	if err := s.backend.Put(ctx, record); err != nil {
		s.mu.Lock()
		delete(s.records, record.KeyID)
		s.mu.Unlock()
		record.ZeroizeMaterial()
		return interfaces.KeyID{}, nil, fmt.Errorf("%w: %v", interfaces.ErrStorageUnavailable, err)
	}

	metrics.KeysGenerated.Inc()
	s.log.Info("Generated key",
		slog.String("keyId", record.KeyID.String()),
		slog.String("remoteSystemId", remoteSystemID),
		slog.Int("sizeBits", sizeBits))

	out := make([]byte, len(material))
	copy(out, material)
	return record.KeyID, out, nil
}

// Retrieve returns the key material for keyID exactly once. The record is
// atomically marked consumed and its stored material zeroized; the returned
// copy must be zeroized by the caller after the response has been fully
// serialized. Concurrent retrievals of the same key succeed at most once.
func (s *Store) Retrieve(ctx context.Context, keyID, remoteSystemID string) ([]byte, error) {
	if remoteSystemID == "" {
		return nil, fmt.Errorf("%w: remoteSystemID is required", interfaces.ErrValidation)
	}

	id, err := interfaces.ParseKeyID(keyID)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	record := s.records[id]
	s.mu.RUnlock()

	if record == nil {
		return nil, interfaces.ErrNotFound
	}
	if record.IsConsumed() {
		return nil, interfaces.ErrAlreadyConsumed
	}
	if !s.authorizer.Authorize(remoteSystemID) {
		return nil, fmt.Errorf("%w: %q", interfaces.ErrUnauthorized, remoteSystemID)
	}
	if record.RemoteSystemID != remoteSystemID {
		return nil, fmt.Errorf("%w: key is not bound to %q", interfaces.ErrUnauthorized, remoteSystemID)
	}

	// Exactly one concurrent caller wins the consume; the stored material
	// is wiped under the record lock so an in-flight replication snapshot
	// can no longer observe it.
	out, ok := record.ConsumeMaterial()
	if !ok {
		return nil, interfaces.ErrAlreadyConsumed
	}

	// Persist the tombstone so the consumption survives a restart. The
	// consume already happened; a storage failure here must not leak the
	// material back, so it is logged and the retrieval still succeeds.
	if err := s.backend.Put(ctx, record); err != nil {
		s.log.Error("Failed to persist consumed key tombstone",
			slog.String("keyId", id.String()),
			"err", err)
	}

	metrics.KeysRetrieved.Inc()
	s.log.Info("Key retrieved and zeroized",
		slog.String("keyId", id.String()),
		slog.String("remoteSystemId", remoteSystemID))

	return out, nil
}

// InsertSynced stores a key received from a peer. The material is copied;
// the caller remains responsible for zeroizing its own buffer. Re-inserting
// an already known key is a no-op so replication stays idempotent.
func (s *Store) InsertSynced(ctx context.Context, record *interfaces.KeyRecord, fromPeer string) error {
	if err := s.validateSize(record.SizeBits); err != nil {
		return err
	}
	if !s.authorizer.Authorize(record.RemoteSystemID) {
		return fmt.Errorf("%w: %q", interfaces.ErrUnauthorized, record.RemoteSystemID)
	}

	s.mu.Lock()
	if _, exists := s.records[record.KeyID]; exists {
		s.mu.Unlock()
		return nil
	}

	material := make([]byte, len(record.Material))
	copy(material, record.Material)

	stored := &interfaces.KeyRecord{
		KeyID:          record.KeyID,
		Material:       material,
		RemoteSystemID: record.RemoteSystemID,
		SizeBits:       record.SizeBits,
		CreatedAt:      record.CreatedAt,
	}
	// The sender already holds the key; never echo it back.
	stored.MarkSynced(fromPeer)
	s.records[stored.KeyID] = stored
	s.mu.Unlock()

	if err := s.backend.Put(ctx, stored); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStorageUnavailable, err)
	}

	metrics.KeysReceived.Inc()
	s.log.Info("Stored key from peer",
		slog.String("keyId", stored.KeyID.String()),
		slog.String("peer", fromPeer))
	return nil
}

// PendingFor returns the records that still need replication to peerID:
// unconsumed and not yet marked synced to it.
func (s *Store) PendingFor(peerID string) []*interfaces.KeyRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []*interfaces.KeyRecord
	for _, record := range s.records {
		if record.IsConsumed() || record.SyncedTo(peerID) {
			continue
		}
		pending = append(pending, record)
	}
	return pending
}

// MarkSynced records that peerID now holds the key and persists the change.
func (s *Store) MarkSynced(ctx context.Context, id interfaces.KeyID, peerID string) error {
	s.mu.RLock()
	record := s.records[id]
	s.mu.RUnlock()

	if record == nil {
		return interfaces.ErrNotFound
	}

	record.MarkSynced(peerID)
	if err := s.backend.Put(ctx, record); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStorageUnavailable, err)
	}
	return nil
}

// Sweep deletes records older than the configured TTL regardless of
// consumption state and returns how many were removed. It runs off the
// request path.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.cfg.KeyTTL())

	s.mu.Lock()
	var expired []*interfaces.KeyRecord
	for id, record := range s.records {
		if record.CreatedAt.Before(cutoff) {
			expired = append(expired, record)
			delete(s.records, id)
		}
	}
	s.mu.Unlock()

	var firstErr error
	for _, record := range expired {
		record.ZeroizeMaterial()

		if err := s.backend.Delete(ctx, record.KeyID); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if len(expired) > 0 {
		metrics.KeysSwept.Add(float64(len(expired)))
		s.log.Info("Swept expired keys", slog.Int("count", len(expired)))
	}

	return len(expired), firstErr
}

// Count returns the number of records currently indexed, for the health
// endpoint.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Available reports whether the durable backend is reachable.
func (s *Store) Available(ctx context.Context) bool {
	return s.backend.Available(ctx)
}

// BackendName returns the storage backend type for the health endpoint.
func (s *Store) BackendName() string {
	return s.backend.Name()
}

func (s *Store) validateSize(sizeBits int) error {
	if sizeBits < s.cfg.MinKeySizeBits || sizeBits > s.cfg.MaxKeySizeBits {
		return fmt.Errorf("%w: key size must be between %d and %d bits", interfaces.ErrValidation, s.cfg.MinKeySizeBits, s.cfg.MaxKeySizeBits)
	}
	if sizeBits%8 != 0 {
		return fmt.Errorf("%w: key size must be a multiple of 8", interfaces.ErrValidation)
	}
	return nil
}
