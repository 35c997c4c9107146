// Package httpserver exposes the key provider's HTTP/JSON API behind the
// TLS-terminating proxy: key generation and one-shot retrieval, entropy,
// capability discovery, the peer sync endpoint, and status reporting.
//
// All responses are application/json. Domain errors map to 400, service
// degradation (random source, storage backend) to 503; details behind a
// rejection are logged but never echoed back to the caller.
package httpserver
