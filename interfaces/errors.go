package interfaces

import "errors"

// Error taxonomy for the key provider core. Request handlers map these to
// HTTP status codes; synchronization errors are logged but never surfaced to
// the client whose request triggered them.
var (
	// ErrValidation indicates a missing or malformed request parameter.
	ErrValidation = errors.New("validation error")

	// ErrUnauthorized indicates a remote system ID no configured pattern
	// matches.
	ErrUnauthorized = errors.New("remote system not authorized")

	// ErrNotFound indicates an unknown (or malformed) key identifier.
	ErrNotFound = errors.New("key not found")

	// ErrAlreadyConsumed indicates a key that was already retrieved once.
	// On the wire it is indistinguishable from ErrNotFound.
	ErrAlreadyConsumed = errors.New("key already consumed")

	// ErrInvalidSignature indicates a sync message whose HMAC does not
	// verify against the sender's registered shared secret, or whose
	// sender is not a configured peer.
	ErrInvalidSignature = errors.New("invalid message signature")

	// ErrReplayRejected indicates a sync message whose timestamp falls
	// outside the replay window.
	ErrReplayRejected = errors.New("message timestamp outside replay window")

	// ErrUnknownMessageType indicates a sync message of an unsupported type.
	ErrUnknownMessageType = errors.New("unknown message type")

	// ErrRngUnavailable indicates the secure random source could not be
	// read. Reported as a service-level 503, never a crash.
	ErrRngUnavailable = errors.New("secure random source unavailable")

	// ErrPeerUnreachable indicates a peer could not be reached after all
	// retries. Transient and never propagated to HTTP clients.
	ErrPeerUnreachable = errors.New("peer unreachable")

	// ErrStorageUnavailable indicates the key storage backend is down.
	ErrStorageUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI indicates a storage location URI that could
	// not be parsed or carries an unsupported scheme.
	ErrInvalidLocationURI = errors.New("invalid storage location URI")
)
