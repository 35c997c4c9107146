package storage

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/quiin/skip-key-provider/interfaces"
)

// Factory creates key storage backends from location URIs.
type Factory struct {
	log *slog.Logger
}

// NewFactory creates a backend factory.
func NewFactory(log *slog.Logger) *Factory {
	return &Factory{log: log}
}

// BackendFor creates a storage backend from a location URI.
//
// Supported schemes:
//   - memory:// - in-process storage (default, not durable)
//   - file:///var/lib/skip/keys - local filesystem
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=...&endpoint=... - S3
//   - vault://host:8200/mount/data/path?token=...&tls=true - Vault KV v2
func (f *Factory) BackendFor(location interfaces.KeyBackendLocation) (interfaces.KeyBackend, error) {
	u, err := url.Parse(string(location))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "memory":
		return NewMemoryBackend(), nil
	case "file":
		return f.createFileBackend(u)
	case "s3":
		return f.createS3Backend(u)
	case "vault":
		return f.createVaultBackend(u)
	default:
		return nil, fmt.Errorf("%w: unsupported backend scheme %q", interfaces.ErrInvalidLocationURI, u.Scheme)
	}
}

// createFileBackend handles file:///absolute/path and file://./relative/path.
func (f *Factory) createFileBackend(u *url.URL) (interfaces.KeyBackend, error) {
	path := u.Path
	if u.Host != "" {
		path = u.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI", interfaces.ErrInvalidLocationURI)
	}

	return NewFileBackend(path, f.log)
}

// createS3Backend handles s3://[key:secret@]bucket/prefix?region=...
func (f *Factory) createS3Backend(u *url.URL) (interfaces.KeyBackend, error) {
	bucketName := u.Host
	if bucketName == "" {
		return nil, fmt.Errorf("%w: missing bucket in S3 URI", interfaces.ErrInvalidLocationURI)
	}

	prefix := strings.TrimPrefix(u.Path, "/")

	query := u.Query()
	region := query.Get("region")
	if region == "" {
		region = "us-east-1"
	}
	endpoint := query.Get("endpoint")

	var accessKey, secretKey string
	if u.User != nil {
		accessKey = u.User.Username()
		secretKey, _ = u.User.Password()
	}

	return NewS3Backend(bucketName, prefix, region, endpoint, accessKey, secretKey, f.log)
}

// createVaultBackend handles vault://host:port/mount/data/path?token=...
// The first path segment is the KV v2 mount, the rest is the data path.
// tls=true selects https toward the Vault server.
func (f *Factory) createVaultBackend(u *url.URL) (interfaces.KeyBackend, error) {
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host in Vault URI", interfaces.ErrInvalidLocationURI)
	}

	segments := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if len(segments) < 2 || segments[0] == "" || segments[1] == "" {
		return nil, fmt.Errorf("%w: Vault URI path must be /mount/data-path", interfaces.ErrInvalidLocationURI)
	}

	query := u.Query()
	scheme := "http"
	if query.Get("tls") == "true" {
		scheme = "https"
	}

	address := fmt.Sprintf("%s://%s", scheme, u.Host)
	return NewVaultBackend(address, segments[0], segments[1], query.Get("token"), f.log)
}
