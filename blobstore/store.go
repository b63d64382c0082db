package blobstore

import (
	"context"
	"errors"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`. The default maps to `os.ErrNotExist`.
// Any other error is treated as transient by callers.
var ErrNotFound = os.ErrNotExist

// Store is an abstraction for accessing immutable cache entry blobs.
//
// Keys are lowercase hex cache fingerprints. Blobs are written once
// and never mutated; a Put for an existing key may overwrite with
// identical bytes or be a no-op.
type Store interface {
	// Get returns the blob stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores data under key. Put must be atomic from a reader's
	// point of view: a concurrent Get never observes partial bytes.
	Put(ctx context.Context, key string, data []byte) error
	// Delete removes the blob. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// IsNotFound reports whether err represents a definitive miss rather
// than a transient backend failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
