// Package storage implements the key record persistence backends and the
// factory that creates them from location URIs.
//
// Supported backends:
//   - memory:// - in-process map, the default and the test backend
//   - file://   - local filesystem, one JSON file per key record
//   - s3://     - Amazon S3 or compatible object storage
//   - vault://  - HashiCorp Vault KV v2
//
// Every backend supports Delete because zeroization of consumed and expired
// keys requires destroying the stored record; append-only and
// content-addressed stores are deliberately not supported.
//
// Backends persist records via a stable JSON encoding (see codec.go). The key
// store layers consume-on-read atomicity on top; backends only provide CRUD.
package storage
