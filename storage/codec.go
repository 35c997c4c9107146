package storage

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quiin/skip-key-provider/cryptoutils"
	"github.com/quiin/skip-key-provider/interfaces"
)

// storedKey is the stable persistence form of a key record. Material is hex
// so stored blobs stay greppable during incident response without being
// mistaken for printable secrets.
type storedKey struct {
	KeyID          string    `json:"keyId"`
	KeyMaterial    string    `json:"keyMaterial,omitempty"`
	RemoteSystemID string    `json:"remoteSystemId"`
	SizeBits       int       `json:"sizeBits"`
	CreatedAt      time.Time `json:"createdAt"`
	Consumed       bool      `json:"consumed"`
	SyncedPeers    []string  `json:"syncedPeers,omitempty"`
}

// encodeRecord serializes a record snapshot for storage. The material is
// read through the record's synchronized accessor so encoding a record that
// is concurrently consumed yields either the full material or the tombstone,
// never a torn buffer.
func encodeRecord(record *interfaces.KeyRecord) ([]byte, error) {
	material, consumed := record.MaterialSnapshot()
	defer cryptoutils.Zeroize(material)

	stored := storedKey{
		KeyID:          record.KeyID.String(),
		KeyMaterial:    hex.EncodeToString(material),
		RemoteSystemID: record.RemoteSystemID,
		SizeBits:       record.SizeBits,
		CreatedAt:      record.CreatedAt.UTC(),
		Consumed:       consumed,
		SyncedPeers:    record.SyncedPeers(),
	}

	return json.Marshal(stored)
}

// decodeRecord reconstructs a record from its storage form.
func decodeRecord(data []byte) (*interfaces.KeyRecord, error) {
	var stored storedKey
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to decode stored key record: %w", err)
	}

	id, err := interfaces.ParseKeyID(stored.KeyID)
	if err != nil {
		return nil, fmt.Errorf("stored record has invalid key ID %q: %w", stored.KeyID, err)
	}

	material, err := hex.DecodeString(stored.KeyMaterial)
	if err != nil {
		return nil, fmt.Errorf("stored record has invalid key material: %w", err)
	}

	record := &interfaces.KeyRecord{
		KeyID:          id,
		Material:       material,
		RemoteSystemID: stored.RemoteSystemID,
		SizeBits:       stored.SizeBits,
		CreatedAt:      stored.CreatedAt,
	}
	record.SetConsumed(stored.Consumed)
	for _, peer := range stored.SyncedPeers {
		record.MarkSynced(peer)
	}

	return record, nil
}
