// Package clusterfs abstracts the cluster-visible storage that published
// stores live on.
//
// Names are slash-separated paths relative to the root of the file system.
// Implementations must be safe for concurrent use, including by multiple
// processes on different machines.
//
// # Built-in Implementations
//
//   - Local: a shared directory (NFS, a mounted volume, or a plain local dir)
//   - Memory: in-process, for tests
//   - s3.FS: Amazon S3, optionally with a DynamoDB claim ledger
//   - minio.FS: MinIO and other S3-compatible servers
//
// # Atomicity
//
// Put makes a complete object visible under its name, never a partial one.
// Move never overwrites: the first mover wins and everyone else gets
// ErrExists. Publishing relies on both.
package clusterfs

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
)

var (
	// ErrNotFound is returned when a name does not exist. It is os.ErrNotExist
	// so that errors.Is works with plain file system errors too.
	ErrNotFound = os.ErrNotExist

	// ErrExists is returned by Move when the destination already exists.
	ErrExists = os.ErrExist
)

type FS interface {
	// Exists reports whether name exists.
	Exists(ctx context.Context, name string) (bool, error)

	// Open opens name for reading.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// Put writes the content of r under name, replacing any existing object.
	// Readers observe either the previous object or the complete new one.
	Put(ctx context.Context, name string, r io.Reader) error

	// Move atomically renames from to to. Returns ErrExists, leaving from
	// in place, if to already exists.
	Move(ctx context.Context, from, to string) error

	// Remove deletes name. Removing a missing name is not an error.
	Remove(ctx context.Context, name string) error

	// List returns the sorted names starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Join joins name elements with slashes.
func Join(elem ...string) string {
	var parts []string
	for _, e := range elem {
		e = strings.Trim(e, "/")
		if e != "" {
			parts = append(parts, e)
		}
	}
	return strings.Join(parts, "/")
}

// IsNotFound reports whether err means a missing name.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
