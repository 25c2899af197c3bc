// Package storage defines the blob store abstraction used for raw HTML
// snapshots. Implementations live in the gcs, local, and memory subpackages.
package storage

import (
	"context"
	"io"
)

// BlobStore writes an object and returns a stable URI for it.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// NoOpStore discards everything. Useful when snapshots are disabled.
type NoOpStore struct{}

// PutObject does nothing and returns an empty URI.
func (NoOpStore) PutObject(_ context.Context, _ string, _ string, _ io.Reader) (string, error) {
	return "", nil
}
