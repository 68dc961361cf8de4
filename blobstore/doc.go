// Package blobstore provides storage for opaque blobs such as manifest
// snapshots and values too large for a key-value row.
//
// Store is the interface for reading and writing blobs by name.
// Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - MemoryStore: in-process map, for tests
//   - LocalStore: local filesystem with atomic rename
//   - s3.Store: Amazon S3 with CRC32C-checked uploads
//   - minio.Store: MinIO and other S3-compatible services
package blobstore
