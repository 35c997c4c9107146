package interfaces

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
)

// KeyID is a 16-byte (128-bit) key identifier. It is generated independently
// of the key material so a leaked identifier never reveals anything about the
// key itself. The canonical wire and storage form is 32 lowercase hex
// characters.
type KeyID [16]byte

// NewKeyID returns a fresh random key identifier.
func NewKeyID() KeyID {
	return KeyID(uuid.New())
}

// ParseKeyID parses the canonical 32-hex-char form. Returns ErrNotFound for
// malformed input so callers do not have to distinguish a bad identifier from
// an unknown one.
func ParseKeyID(source string) (KeyID, error) {
	if len(source) != 32 {
		return KeyID{}, fmt.Errorf("%w: key ID must be 32 hex characters", ErrNotFound)
	}

	raw, err := hex.DecodeString(strings.ToLower(source))
	if err != nil {
		return KeyID{}, fmt.Errorf("%w: key ID is not valid hex", ErrNotFound)
	}

	var id KeyID
	copy(id[:], raw)
	return id, nil
}

// String returns the canonical hex representation.
func (id KeyID) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns the raw 16-byte identifier.
func (id KeyID) Bytes() []byte {
	return id[:]
}

// Equal compares two key identifiers.
func (id KeyID) Equal(other KeyID) bool {
	return bytes.Equal(id[:], other[:])
}

// MarshalJSON encodes the identifier as its canonical hex string.
func (id KeyID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON decodes the canonical hex string form.
func (id *KeyID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	parsed, err := ParseKeyID(s)
	if err != nil {
		return err
	}

	*id = parsed
	return nil
}

// KeyRecord is a single distributed key and its lifecycle state. Records are
// always handled by pointer; the consumption flag, the material buffer, and
// the synced-peer set carry their own synchronization so unrelated keys never
// contend on a shared lock.
//
// Material may be assigned directly only while the record is still private to
// its constructor. Once a record is shared, all material access goes through
// MaterialCopy, ConsumeMaterial, and ZeroizeMaterial, which serialize against
// each other on the record's lock.
type KeyRecord struct {
	KeyID          KeyID
	Material       []byte
	RemoteSystemID string
	SizeBits       int
	CreatedAt      time.Time

	consumed atomic.Bool

	mu          sync.Mutex
	syncedPeers map[string]bool
}

// Consume atomically transitions the record from unconsumed to consumed.
// Returns false if the record was already consumed; of any number of
// concurrent callers exactly one observes true.
func (r *KeyRecord) Consume() bool {
	return r.consumed.CompareAndSwap(false, true)
}

// IsConsumed reports whether the key has already been retrieved.
func (r *KeyRecord) IsConsumed() bool {
	return r.consumed.Load()
}

// SetConsumed restores the consumption flag, used when records are loaded
// back from a storage backend.
func (r *KeyRecord) SetConsumed(consumed bool) {
	r.consumed.Store(consumed)
}

// MaterialCopy returns a copy of the key material, or nil once the record is
// consumed or its material has been wiped. Safe to call concurrently with
// ConsumeMaterial and ZeroizeMaterial; the caller owns the returned buffer
// and is responsible for zeroizing it.
func (r *KeyRecord) MaterialCopy() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.consumed.Load() || len(r.Material) == 0 {
		return nil
	}

	out := make([]byte, len(r.Material))
	copy(out, r.Material)
	return out
}

// ConsumeMaterial atomically consumes the record and takes its material:
// exactly one of any number of concurrent callers receives the copy, and the
// stored buffer is zeroized before the lock is released so no later reader
// can observe it.
func (r *KeyRecord) ConsumeMaterial() ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.consumed.CompareAndSwap(false, true) {
		return nil, false
	}

	out := make([]byte, len(r.Material))
	copy(out, r.Material)
	wipe(r.Material)
	r.Material = nil
	return out, true
}

// MaterialSnapshot returns the material copy and the consumption flag read
// under one lock, so persistence never observes a consumed record that still
// carries material or a half-wiped buffer.
func (r *KeyRecord) MaterialSnapshot() (material []byte, consumed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.consumed.Load() {
		return nil, true
	}
	if len(r.Material) == 0 {
		return nil, false
	}

	material = make([]byte, len(r.Material))
	copy(material, r.Material)
	return material, false
}

// ZeroizeMaterial wipes the stored material without touching the consumption
// flag, used when a record is expired or rolled back.
func (r *KeyRecord) ZeroizeMaterial() {
	r.mu.Lock()
	defer r.mu.Unlock()

	wipe(r.Material)
	r.Material = nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// MarkSynced records that peerID holds a copy of this key.
func (r *KeyRecord) MarkSynced(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.syncedPeers == nil {
		r.syncedPeers = make(map[string]bool)
	}
	r.syncedPeers[peerID] = true
}

// SyncedTo reports whether peerID already holds a copy of this key.
func (r *KeyRecord) SyncedTo(peerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.syncedPeers[peerID]
}

// SyncedPeers returns a copy of the set of peers holding this key.
func (r *KeyRecord) SyncedPeers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.syncedPeers))
	for peer := range r.syncedPeers {
		out = append(out, peer)
	}
	return out
}

// PeerStatus is the liveness state of a configured peer key provider.
type PeerStatus int

const (
	// PeerUnknown means no heartbeat has been observed yet.
	PeerUnknown PeerStatus = iota
	// PeerOnline means the peer answered within the liveness window.
	PeerOnline
	// PeerOffline means sends to the peer failed repeatedly.
	PeerOffline
)

// String returns the lowercase status name used on the status endpoint.
func (s PeerStatus) String() string {
	switch s {
	case PeerOnline:
		return "online"
	case PeerOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the status as its string name.
func (s PeerStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes the string name form. Unrecognized names decode as
// PeerUnknown.
func (s *PeerStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}

	switch name {
	case "online":
		*s = PeerOnline
	case "offline":
		*s = PeerOffline
	default:
		*s = PeerUnknown
	}
	return nil
}

// MessageType discriminates synchronization messages.
type MessageType string

const (
	// MessageTypeHeartbeat is a periodic liveness probe.
	MessageTypeHeartbeat MessageType = "heartbeat"
	// MessageTypeKeySync carries an encrypted key record to a peer.
	MessageTypeKeySync MessageType = "key_sync"
	// MessageTypeCapabilityExchange shares the sender's capability
	// descriptor for diagnostics.
	MessageTypeCapabilityExchange MessageType = "capability_exchange"
)

// SyncMessage is the signed envelope exchanged between peer key providers.
// Payload is base64: ciphertext for key_sync, plain JSON for other types.
// Timestamp is integer unix seconds and doubles as the replay defense.
type SyncMessage struct {
	MessageID  string      `json:"messageId"`
	SenderID   string      `json:"senderId"`
	ReceiverID string      `json:"receiverId"`
	Type       MessageType `json:"type"`
	Timestamp  int64       `json:"timestamp"`
	Payload    string      `json:"payload"`
	Signature  string      `json:"signature,omitempty"`
}

// SigningBytes returns the canonical byte string covered by the signature:
// every field except the signature itself, in fixed order, pipe-separated.
// The payload is covered in its transmitted (possibly encrypted) form.
func (m *SyncMessage) SigningBytes() []byte {
	var b strings.Builder
	b.WriteString(m.MessageID)
	b.WriteByte('|')
	b.WriteString(m.SenderID)
	b.WriteByte('|')
	b.WriteString(m.ReceiverID)
	b.WriteByte('|')
	b.WriteString(string(m.Type))
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(m.Timestamp, 10))
	b.WriteByte('|')
	b.WriteString(m.Payload)
	return []byte(b.String())
}

// KeySyncPayload is the plaintext carried (encrypted) by key_sync messages.
type KeySyncPayload struct {
	KeyID          string `json:"keyId"`
	Key            string `json:"key"` // hex-encoded key material
	RemoteSystemID string `json:"remoteSystemId"`
	SizeBits       int    `json:"sizeBits"`
}

// HeartbeatPayload is the plaintext carried by heartbeat messages.
type HeartbeatPayload struct {
	Status string `json:"status"`
}

// CapabilityDescriptor advertises what this provider offers and which remote
// systems it serves. Immutable after startup; derived from configuration.
type CapabilityDescriptor struct {
	Entropy         bool     `json:"entropy"`
	Key             bool     `json:"key"`
	Algorithm       string   `json:"algorithm"`
	LocalSystemID   string   `json:"localSystemID"`
	RemoteSystemIDs []string `json:"remoteSystemID"`
}
