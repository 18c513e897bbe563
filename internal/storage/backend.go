// Package storage defines the Backend interface for blob storage.
package storage

import (
	"context"
	"io"
)

// Backend is the interface for blob storage backends.
// Implementations handle raw object I/O (S3/MinIO, local filesystem).
// Node metadata and inline text content live in postgres.Store.
type Backend interface {
	// GetObject retrieves an object by key, returning its content and size.
	GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error)

	// PutObject uploads content to the given key.
	PutObject(ctx context.Context, key string, body io.Reader, size int64) error

	// DeleteObject removes an object by key. Deleting a missing object is
	// not an error.
	DeleteObject(ctx context.Context, key string) error

	// ObjectExists checks if an object exists at the given key.
	ObjectExists(ctx context.Context, key string) (bool, error)

	// Type returns the backend type identifier ("s3", "local").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}
