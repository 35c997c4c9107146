package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/quiin/skip-key-provider/interfaces"
)

// FileBackend stores key records on the local filesystem, one JSON file per
// record. Records may contain unconsumed key material, so files are created
// owner-readable only.
type FileBackend struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates a file backend rooted at baseDir, creating the
// directory if needed.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}

	return &FileBackend{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

func (b *FileBackend) recordPath(id interfaces.KeyID) string {
	return filepath.Join(b.baseDir, id.String()+".json")
}

// Put stores or overwrites the record for its key ID.
func (b *FileBackend) Put(ctx context.Context, record *interfaces.KeyRecord) error {
	data, err := encodeRecord(record)
	if err != nil {
		return err
	}

	path := b.recordPath(record.KeyID)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write key record: %w", err)
	}

	b.log.Debug("Stored key record",
		slog.String("keyId", record.KeyID.String()),
		slog.String("path", path))
	return nil
}

// Get retrieves a record by key ID.
func (b *FileBackend) Get(ctx context.Context, id interfaces.KeyID) (*interfaces.KeyRecord, error) {
	data, err := os.ReadFile(b.recordPath(id))
	if os.IsNotExist(err) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key record: %w", err)
	}

	return decodeRecord(data)
}

// Delete removes a record file. Deleting an absent record is not an error.
func (b *FileBackend) Delete(ctx context.Context, id interfaces.KeyID) error {
	err := os.Remove(b.recordPath(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete key record: %w", err)
	}
	return nil
}

// List returns the IDs of all stored records, skipping files that do not
// look like record files.
func (b *FileBackend) List(ctx context.Context) ([]interfaces.KeyID, error) {
	entries, err := os.ReadDir(b.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list key directory: %w", err)
	}

	ids := make([]interfaces.KeyID, 0, len(entries))
	for _, entry := range entries {
		name := strings.TrimSuffix(entry.Name(), ".json")
		if entry.IsDir() || name == entry.Name() {
			continue
		}

		id, err := interfaces.ParseKeyID(name)
		if err != nil {
			b.log.Warn("Skipping unrecognized file in key directory",
				slog.String("file", entry.Name()))
			continue
		}
		ids = append(ids, id)
	}

	return ids, nil
}

// Available reports whether the base directory is accessible.
func (b *FileBackend) Available(ctx context.Context) bool {
	info, err := os.Stat(b.baseDir)
	return err == nil && info.IsDir()
}

// Name returns the backend type name.
func (b *FileBackend) Name() string {
	return "file"
}

// LocationURI returns the URI this backend was created from.
func (b *FileBackend) LocationURI() string {
	return b.locationURI
}
