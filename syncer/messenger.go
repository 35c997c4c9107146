package syncer

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/quiin/skip-key-provider/common"
	"github.com/quiin/skip-key-provider/config"
	"github.com/quiin/skip-key-provider/cryptoutils"
	"github.com/quiin/skip-key-provider/interfaces"
	"github.com/quiin/skip-key-provider/keystore"
	"github.com/quiin/skip-key-provider/metrics"
	"github.com/quiin/skip-key-provider/peers"
)

const syncPath = "/sync"

// Messenger builds, signs, delivers, and verifies sync messages. It owns the
// outbound HTTP client; inbound messages arrive through Receive via the HTTP
// server's sync handler.
type Messenger struct {
	cfg      *config.Config
	store    *keystore.Store
	registry *peers.Registry
	client   *resty.Client
	log      *slog.Logger
}

// NewMessenger creates a messenger for the given peer registry. The client
// retries transient transport failures and server-side errors with
// exponential backoff; MaxRetries counts the retries after the first attempt.
func NewMessenger(cfg *config.Config, store *keystore.Store, registry *peers.Registry, log *slog.Logger) *Messenger {
	client := resty.New().
		SetTimeout(cfg.SyncTimeout()).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(5*time.Second).
		SetHeader("User-Agent", common.PackageName+"/"+common.Version).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})

	return &Messenger{
		cfg:      cfg,
		store:    store,
		registry: registry,
		client:   client,
		log:      log,
	}
}

// NewHeartbeat builds a signed heartbeat message for peer.
func (m *Messenger) NewHeartbeat(peer *peers.Peer) (*interfaces.SyncMessage, error) {
	plain, err := json.Marshal(interfaces.HeartbeatPayload{Status: "online"})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal heartbeat payload: %w", err)
	}
	return m.newMessage(peer, interfaces.MessageTypeHeartbeat, plain), nil
}

// NewCapabilityExchange builds a signed capability exchange message carrying
// this provider's descriptor.
func (m *Messenger) NewCapabilityExchange(peer *peers.Peer, desc interfaces.CapabilityDescriptor) (*interfaces.SyncMessage, error) {
	plain, err := json.Marshal(desc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal capability descriptor: %w", err)
	}
	return m.newMessage(peer, interfaces.MessageTypeCapabilityExchange, plain), nil
}

// NewKeySync builds a signed key_sync message for one record. The plaintext
// payload exists only transiently inside this call; the returned message
// carries it sealed under the peer's shared secret.
//
// The material is read through the record's synchronized accessor: a record
// consumed since the replication snapshot was taken yields
// ErrAlreadyConsumed instead of a message, so consumed keys are never
// propagated.
func (m *Messenger) NewKeySync(peer *peers.Peer, record *interfaces.KeyRecord) (*interfaces.SyncMessage, error) {
	material := record.MaterialCopy()
	if material == nil {
		return nil, fmt.Errorf("%w: key %s", interfaces.ErrAlreadyConsumed, record.KeyID)
	}
	defer cryptoutils.Zeroize(material)

	payload := interfaces.KeySyncPayload{
		KeyID:          record.KeyID.String(),
		Key:            hex.EncodeToString(material),
		RemoteSystemID: record.RemoteSystemID,
		SizeBits:       record.SizeBits,
	}

	plain, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key sync payload: %w", err)
	}
	defer cryptoutils.Zeroize(plain)

	sealed, err := cryptoutils.SealPayload(peer.SharedSecret, plain)
	if err != nil {
		return nil, fmt.Errorf("failed to seal key sync payload: %w", err)
	}

	return m.newMessage(peer, interfaces.MessageTypeKeySync, sealed), nil
}

// newMessage assembles the envelope and signs it over the encoded payload.
func (m *Messenger) newMessage(peer *peers.Peer, typ interfaces.MessageType, payload []byte) *interfaces.SyncMessage {
	msg := &interfaces.SyncMessage{
		MessageID:  uuid.New().String(),
		SenderID:   m.cfg.LocalSystemID,
		ReceiverID: peer.SystemID,
		Type:       typ,
		Timestamp:  time.Now().Unix(),
		Payload:    base64.StdEncoding.EncodeToString(payload),
	}
	msg.Signature = cryptoutils.SignMessage(msg, peer.SharedSecret)
	return msg
}

// Send delivers one message to peer, serializing with other sends to the
// same peer, and records the outcome in the registry. A delivery that
// exhausts all retries returns ErrPeerUnreachable.
func (m *Messenger) Send(ctx context.Context, peer *peers.Peer, msg *interfaces.SyncMessage) error {
	unlock := peer.LockSend()
	defer unlock()

	resp, err := m.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-SKIP-Sender", m.cfg.LocalSystemID).
		SetBody(msg).
		Post(peer.URL() + syncPath)

	if err != nil || !resp.IsSuccess() {
		m.registry.RecordFailure(peer)
		metrics.SyncSendFailures.WithLabelValues(string(msg.Type)).Inc()

		if err != nil {
			return fmt.Errorf("%w: %s: %v", interfaces.ErrPeerUnreachable, peer.SystemID, err)
		}
		return fmt.Errorf("%w: %s answered %d", interfaces.ErrPeerUnreachable, peer.SystemID, resp.StatusCode())
	}

	m.registry.RecordSuccess(peer, msg.Type == interfaces.MessageTypeHeartbeat)
	metrics.SyncMessagesSent.WithLabelValues(string(msg.Type)).Inc()
	return nil
}

// Receive validates and dispatches one inbound sync message. Order of the
// checks is fixed: sender lookup, signature, replay window, then payload.
// An unknown sender is reported as a signature failure so probes cannot
// enumerate configured peers.
func (m *Messenger) Receive(ctx context.Context, msg *interfaces.SyncMessage) error {
	peer, ok := m.registry.Get(msg.SenderID)
	if !ok {
		metrics.SyncMessagesRejected.WithLabelValues("unknown_sender").Inc()
		m.log.Warn("Dropped message from unknown sender", slog.String("senderId", msg.SenderID))
		return interfaces.ErrInvalidSignature
	}

	if !cryptoutils.VerifyMessage(msg, peer.SharedSecret) {
		metrics.SyncMessagesRejected.WithLabelValues("bad_signature").Inc()
		m.log.Warn("Dropped message with invalid signature",
			slog.String("senderId", msg.SenderID),
			slog.String("messageId", msg.MessageID))
		return interfaces.ErrInvalidSignature
	}

	if msg.ReceiverID != m.cfg.LocalSystemID {
		metrics.SyncMessagesRejected.WithLabelValues("wrong_receiver").Inc()
		return fmt.Errorf("%w: message addressed to %q", interfaces.ErrValidation, msg.ReceiverID)
	}

	skew := time.Since(time.Unix(msg.Timestamp, 0))
	if skew > m.cfg.ReplayWindow() || skew < -m.cfg.ReplayWindow() {
		metrics.SyncMessagesRejected.WithLabelValues("replay").Inc()
		m.log.Warn("Dropped message outside replay window",
			slog.String("senderId", msg.SenderID),
			slog.String("messageId", msg.MessageID),
			slog.Int64("timestamp", msg.Timestamp))
		return interfaces.ErrReplayRejected
	}

	payload, err := base64.StdEncoding.DecodeString(msg.Payload)
	if err != nil {
		metrics.SyncMessagesRejected.WithLabelValues("bad_payload").Inc()
		return fmt.Errorf("%w: payload is not valid base64", interfaces.ErrValidation)
	}

	switch msg.Type {
	case interfaces.MessageTypeHeartbeat:
		err = m.receiveHeartbeat(peer, payload)
	case interfaces.MessageTypeKeySync:
		err = m.receiveKeySync(ctx, peer, payload)
	case interfaces.MessageTypeCapabilityExchange:
		err = m.receiveCapabilities(peer, payload)
	default:
		metrics.SyncMessagesRejected.WithLabelValues("unknown_type").Inc()
		return fmt.Errorf("%w: %q", interfaces.ErrUnknownMessageType, msg.Type)
	}

	if err != nil {
		metrics.SyncMessagesRejected.WithLabelValues("bad_payload").Inc()
		return err
	}

	metrics.SyncMessagesReceived.WithLabelValues(string(msg.Type)).Inc()
	return nil
}

func (m *Messenger) receiveHeartbeat(peer *peers.Peer, payload []byte) error {
	var hb interfaces.HeartbeatPayload
	if err := json.Unmarshal(payload, &hb); err != nil {
		return fmt.Errorf("%w: malformed heartbeat payload", interfaces.ErrValidation)
	}

	m.registry.RecordSuccess(peer, true)
	m.log.Debug("Received heartbeat", slog.String("peer", peer.SystemID))
	return nil
}

func (m *Messenger) receiveKeySync(ctx context.Context, peer *peers.Peer, sealed []byte) error {
	plain, err := cryptoutils.OpenPayload(peer.SharedSecret, sealed)
	if err != nil {
		return fmt.Errorf("%w: key sync payload does not decrypt", interfaces.ErrValidation)
	}
	defer cryptoutils.Zeroize(plain)

	var payload interfaces.KeySyncPayload
	if err := json.Unmarshal(plain, &payload); err != nil {
		return fmt.Errorf("%w: malformed key sync payload", interfaces.ErrValidation)
	}

	keyID, err := interfaces.ParseKeyID(payload.KeyID)
	if err != nil {
		return fmt.Errorf("%w: malformed key ID in key sync payload", interfaces.ErrValidation)
	}

	material, err := hex.DecodeString(payload.Key)
	if err != nil || len(material) == 0 {
		return fmt.Errorf("%w: malformed key material in key sync payload", interfaces.ErrValidation)
	}
	defer cryptoutils.Zeroize(material)

	record := &interfaces.KeyRecord{
		KeyID:          keyID,
		Material:       material,
		RemoteSystemID: payload.RemoteSystemID,
		SizeBits:       payload.SizeBits,
		CreatedAt:      time.Now(),
	}

	if err := m.store.InsertSynced(ctx, record, peer.SystemID); err != nil {
		return err
	}

	m.registry.RecordSuccess(peer, false)
	return nil
}

func (m *Messenger) receiveCapabilities(peer *peers.Peer, payload []byte) error {
	var desc interfaces.CapabilityDescriptor
	if err := json.Unmarshal(payload, &desc); err != nil {
		return fmt.Errorf("%w: malformed capability payload", interfaces.ErrValidation)
	}

	m.registry.MergeCapabilities(peer, &desc)
	m.registry.RecordSuccess(peer, false)
	m.log.Info("Received peer capabilities",
		slog.String("peer", peer.SystemID),
		slog.String("algorithm", desc.Algorithm))
	return nil
}
