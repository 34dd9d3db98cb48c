// Package vfs provides the storage contract consumed by the virtual
// filesystem layer and the stream capabilities a storage backend composes.
package vfs

import (
	"io"
	"io/fs"
	"time"
)

// Storage is the interface a mounted storage backend exposes to the
// surrounding filesystem layer.
type Storage interface {
	// ID returns a stable key identifying the mount. It is used for
	// caching and deduplication across sessions and never contains secrets.
	ID() string

	// Stat returns metadata for path. The second result is false when no
	// metadata could be obtained; lookups never fail hard.
	Stat(path string) (fs.FileInfo, bool)

	// Unlink removes the file or directory at path and reports whether the
	// path is gone afterwards.
	Unlink(path string) (bool, error)

	// HasUpdated reports whether path may have changed after since.
	HasUpdated(path string, since time.Time) (bool, error)

	// OpenFile opens path with the specified flags and mode.
	OpenFile(path string, flag int, perm fs.FileMode) (File, error)

	// ReadDir lists the immediate children of path, without the "." and
	// ".." pseudo-entries.
	ReadDir(path string) ([]fs.FileInfo, error)

	// Mkdir creates a directory.
	Mkdir(path string, perm fs.FileMode) error

	// Rmdir removes a directory and its contents.
	Rmdir(path string) (bool, error)
}

// File is the stream capability set of an open file or directory:
// read, write, seek, close and directory enumeration.
type File interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer

	// Stat returns file information.
	Stat() (fs.FileInfo, error)

	// Readdir reads up to n directory entries. If n <= 0, all remaining
	// entries are returned.
	Readdir(n int) ([]fs.FileInfo, error)
}
