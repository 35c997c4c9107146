package interfaces

import "context"

// KeyBackendLocation is a URI identifying a key storage backend, for example
// "memory://", "file:///var/lib/skip/keys", "s3://bucket/prefix?region=..."
// or "vault://host:8200/secret/skip".
type KeyBackendLocation string

// KeyBackend persists key records. The key store layers the consume-on-read
// and replication bookkeeping on top; backends only provide durable CRUD.
//
// Delete must actually destroy the stored record: zeroization of consumed and
// expired keys depends on it, which is why append-only or content-addressed
// stores cannot implement this interface.
type KeyBackend interface {
	// Put stores or overwrites the record for its key ID.
	Put(ctx context.Context, record *KeyRecord) error

	// Get retrieves a record by key ID. Returns ErrNotFound if absent.
	Get(ctx context.Context, id KeyID) (*KeyRecord, error)

	// Delete removes a record. Deleting an absent record is not an error.
	Delete(ctx context.Context, id KeyID) error

	// List returns the IDs of all stored records.
	List(ctx context.Context) ([]KeyID, error)

	// Available reports whether the backend is reachable and healthy.
	Available(ctx context.Context) bool

	// Name returns a short backend type name for logging.
	Name() string

	// LocationURI returns the URI this backend was created from, with
	// credentials redacted.
	LocationURI() string
}
