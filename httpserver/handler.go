package httpserver

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/quiin/skip-key-provider/capability"
	"github.com/quiin/skip-key-provider/config"
	"github.com/quiin/skip-key-provider/cryptoutils"
	"github.com/quiin/skip-key-provider/entropy"
	"github.com/quiin/skip-key-provider/interfaces"
	"github.com/quiin/skip-key-provider/keystore"
	"github.com/quiin/skip-key-provider/peers"
	"github.com/quiin/skip-key-provider/syncer"
)

// maxBodySize is the maximum allowed request body size (1MB).
const maxBodySize = 1024 * 1024

// Handler processes the key provider's HTTP requests. It is stateless;
// all state lives in the store, the peer registry, and the messenger.
type Handler struct {
	cfg       *config.Config
	store     *keystore.Store
	provider  *entropy.Provider
	caps      *capability.Registry
	registry  *peers.Registry
	messenger *syncer.Messenger
	log       *slog.Logger
}

// NewHandler creates a request handler wired to the key provider core.
func NewHandler(cfg *config.Config, store *keystore.Store, provider *entropy.Provider, caps *capability.Registry, registry *peers.Registry, messenger *syncer.Messenger, log *slog.Logger) *Handler {
	return &Handler{
		cfg:       cfg,
		store:     store,
		provider:  provider,
		caps:      caps,
		registry:  registry,
		messenger: messenger,
		log:       log,
	}
}

type keyResponse struct {
	KeyID string `json:"keyId"`
	Key   string `json:"key"`
}

type entropyResponse struct {
	RandomStr  string `json:"randomStr"`
	MinEntropy int    `json:"minentropy"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HandleCapabilities serves GET /capabilities.
func (h *Handler) HandleCapabilities(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.caps.Describe())
}

// HandleNewKey serves GET /key: generates a key for the requesting remote
// system and returns it exactly once, as part of this response.
//
// Query parameters: remoteSystemID (required), size in bits (optional,
// defaults to the configured key size).
func (h *Handler) HandleNewKey(w http.ResponseWriter, r *http.Request) {
	remoteSystemID := r.URL.Query().Get("remoteSystemID")

	sizeBits := h.cfg.DefaultKeySizeBits
	if raw := r.URL.Query().Get("size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, interfaces.ErrValidation, "size must be an integer")
			return
		}
		sizeBits = parsed
	}

	id, material, err := h.store.Generate(r.Context(), remoteSystemID, sizeBits)
	if err != nil {
		h.writeError(w, err, "key generation rejected")
		return
	}

	h.writeKey(w, id, material)
}

// HandleKeyByID serves GET /key/{keyId}: the one-shot retrieval of a key
// created here or received from a peer. A consumed or unknown key and a
// malformed identifier are indistinguishable on the wire.
func (h *Handler) HandleKeyByID(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "keyId")
	remoteSystemID := r.URL.Query().Get("remoteSystemID")

	material, err := h.store.Retrieve(r.Context(), keyID, remoteSystemID)
	if err != nil {
		h.writeError(w, err, "key retrieval rejected")
		return
	}

	id, _ := interfaces.ParseKeyID(keyID)
	h.writeKey(w, id, material)
}

// writeKey serializes the one copy of the key material the caller will ever
// see and zeroizes the buffer afterwards.
func (h *Handler) writeKey(w http.ResponseWriter, id interfaces.KeyID, material []byte) {
	resp := keyResponse{
		KeyID: id.String(),
		Key:   hex.EncodeToString(material),
	}
	cryptoutils.Zeroize(material)

	h.writeJSON(w, http.StatusOK, resp)
}

// HandleEntropy serves GET /entropy. minentropy (bits, optional) defaults
// to the configured entropy size.
func (h *Handler) HandleEntropy(w http.ResponseWriter, r *http.Request) {
	bits := h.cfg.DefaultEntropyBits
	if raw := r.URL.Query().Get("minentropy"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, interfaces.ErrValidation, "minentropy must be an integer")
			return
		}
		bits = parsed
	}

	if bits > config.MaxEntropyBits {
		h.writeError(w, interfaces.ErrValidation, "minentropy too large")
		return
	}

	random, err := h.provider.Generate(bits)
	if err != nil {
		h.writeError(w, err, "entropy request failed")
		return
	}

	h.writeJSON(w, http.StatusOK, entropyResponse{RandomStr: random, MinEntropy: bits})
}

// HandleSync serves POST /sync, the inbound half of peer synchronization.
// Every rejection is a plain 400; the reason is logged server-side only.
func (h *Handler) HandleSync(w http.ResponseWriter, r *http.Request) {
	var msg interfaces.SyncMessage
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := decoder.Decode(&msg); err != nil {
		h.writeError(w, interfaces.ErrValidation, "malformed sync message")
		return
	}

	if err := h.messenger.Receive(r.Context(), &msg); err != nil {
		h.writeError(w, err, "sync message rejected")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleSyncStatus serves GET /status/sync with the per-peer liveness
// summary.
func (h *Handler) HandleSyncStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"localSystemID": h.cfg.LocalSystemID,
		"peers":         h.registry.Snapshot(),
	})
}

// HandleHealth serves GET /status/health. Reports degraded with 503 when
// the storage backend stops answering.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	state := "healthy"
	if !h.store.Available(r.Context()) {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}

	h.writeJSON(w, status, map[string]any{
		"status":  state,
		"storage": h.store.BackendName(),
		"keys":    h.store.Count(),
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error("Failed to write response", slog.String("err", err.Error()))
	}
}

// writeError maps domain errors to wire responses. Client-side problems are
// 400, degraded service dependencies are 503, anything unrecognized is 500.
func (h *Handler) writeError(w http.ResponseWriter, err error, logMsg string) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, interfaces.ErrValidation),
		errors.Is(err, interfaces.ErrUnauthorized),
		errors.Is(err, interfaces.ErrNotFound),
		errors.Is(err, interfaces.ErrAlreadyConsumed),
		errors.Is(err, interfaces.ErrInvalidSignature),
		errors.Is(err, interfaces.ErrReplayRejected),
		errors.Is(err, interfaces.ErrUnknownMessageType):
		status = http.StatusBadRequest
	case errors.Is(err, interfaces.ErrRngUnavailable),
		errors.Is(err, interfaces.ErrStorageUnavailable):
		status = http.StatusServiceUnavailable
	}

	h.log.Info(logMsg, slog.Int("status", status), slog.String("err", err.Error()))

	// The wire response carries only the sentinel, never the detail.
	h.writeJSON(w, status, errorResponse{Error: sentinelMessage(err)})
}

func sentinelMessage(err error) string {
	// A consumed key answers exactly like an unknown one.
	if errors.Is(err, interfaces.ErrAlreadyConsumed) {
		return interfaces.ErrNotFound.Error()
	}

	for _, sentinel := range []error{
		interfaces.ErrValidation,
		interfaces.ErrUnauthorized,
		interfaces.ErrNotFound,
		interfaces.ErrInvalidSignature,
		interfaces.ErrReplayRejected,
		interfaces.ErrUnknownMessageType,
		interfaces.ErrRngUnavailable,
		interfaces.ErrStorageUnavailable,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "internal error"
}
