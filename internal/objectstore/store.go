// Package objectstore implements the object-store collaborator contract
// from spec.md §6: content-addressed Put/Get/List/Delete over immutable
// partition files, backed by either the local filesystem (single-node/dev)
// or an S3-compatible bucket.
package objectstore

import (
	"context"
	"io"

	"github.com/zeebo/errs"
)

// ErrObjectStore is the general-purpose error class for object store
// operations.
var ErrObjectStore = errs.Class("objectstore")

// ErrNotFound is returned by Get/Delete when key does not exist.
var ErrNotFound = errs.Class("objectstore: not found")

// ErrExists is returned by Put when key already exists; partitions are
// immutable and the system never overwrites a key, per spec.md §6.
var ErrExists = errs.Class("objectstore: already exists")

// Range requests a byte range [Offset, Offset+Length) from Get. A zero-value
// Range requests the whole object.
type Range struct {
	Offset int64
	Length int64
}

// Store is the abstract object store contract every backend satisfies. It
// must be read-after-write consistent for newly put keys (spec.md §6); the
// system relies on this to register a partition only after its upload is
// acknowledged.
type Store interface {
	// Put uploads data under key. It fails with ErrExists if key is already
	// present, since partitions are immutable once written.
	Put(ctx context.Context, key string, data io.Reader, size int64) error
	// Get returns a reader over key, optionally restricted to r. Callers
	// must Close the returned reader.
	Get(ctx context.Context, key string, r *Range) (io.ReadCloser, error)
	// List returns every key with the given prefix, in lexicographic order.
	List(ctx context.Context, prefix string) ([]string, error)
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
