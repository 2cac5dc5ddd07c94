// Package store provides a simple, goroutine safe, key-value interface
// used by the bagit package for every touch of a bag's backing
// filesystem. Unlike a plain os.File, values are addressed by a
// slash-separated relative path, so a single store can represent an
// entire bag directory tree (tag files at the root, payload nested
// under "data/").
//
// Probably the most important implementation is FileSystem. Memory is
// useful for tests.
package store

import (
	"io"
)

// ReadAtCloser is a stream that supports both random access reads and
// closing. Open returns this instead of a plain io.ReadCloser so callers
// can wrap it for hashing or range reads without re-reading from the start.
type ReadAtCloser interface {
	io.ReaderAt
	io.Closer
}

// Store defines the directory-tree based key-value store the Bag engine
// is built on. Keys are root-relative, forward-slash paths, e.g.
// "data/images/page-1.tif" or "bagit.txt". Items are immutable once
// stored, but may be deleted and then replaced with a new value.
type Store interface {
	// List returns every key currently present in the store.
	List() ([]string, error)

	// ListPrefix returns every key beginning with the given prefix,
	// which need not fall on a path-segment boundary.
	ListPrefix(prefix string) ([]string, error)

	// Open returns a reader for the given key, along with its size. The
	// key must exist.
	Open(key string) (ReadAtCloser, int64, error)

	// Create returns a writer that will (re)create the given key. Any
	// missing parent directories are created as needed. FileSystem
	// replaces the previous contents, if any, only once the writer is
	// Closed; Memory replaces the entry as soon as Create returns.
	Create(key string) (io.WriteCloser, error)

	// Delete removes the given key. It is not an error to delete a key
	// which does not exist.
	Delete(key string) error

	// Exists reports whether key currently has contents.
	Exists(key string) (bool, error)
}

// DirPruner is an optional capability a Store may implement to clean up
// now-empty directories after a deletion. store.Memory has no real
// directories to prune and so does not implement it; callers should
// type-assert before calling.
type DirPruner interface {
	PruneEmptyDirs(key, stopAt string) error
}
