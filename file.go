package smbstore

import (
	"io"
	"io/fs"
	"path"
	"time"

	"github.com/absfs/smbstore/vfs"
)

var _ vfs.File = (*File)(nil)

// File represents an open file or directory on an SMB share. It holds its
// pooled connection until Close.
type File struct {
	pool    *connectionPool
	conn    *pooledConn
	file    SMBFile
	path    string
	offset  int64
	entries []fs.FileInfo
	dirPos  int
}

// Read reads up to len(p) bytes into p.
func (f *File) Read(p []byte) (n int, err error) {
	if f.file == nil {
		return 0, fs.ErrClosed
	}

	n, err = f.file.Read(p)
	if err != nil && err != io.EOF {
		return n, wrapPathError("read", f.path, err)
	}

	f.offset += int64(n)
	return n, err
}

// Write writes len(p) bytes from p to the file.
func (f *File) Write(p []byte) (n int, err error) {
	if f.file == nil {
		return 0, fs.ErrClosed
	}

	n, err = f.file.Write(p)
	if err != nil {
		return n, wrapPathError("write", f.path, err)
	}

	f.offset += int64(n)
	return n, nil
}

// Seek sets the offset for the next Read or Write on the file.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if f.file == nil {
		return 0, fs.ErrClosed
	}

	newOffset, err := f.file.Seek(offset, whence)
	if err != nil {
		return 0, wrapPathError("seek", f.path, err)
	}

	f.offset = newOffset
	return newOffset, nil
}

// Close closes the file and returns its connection to the pool.
func (f *File) Close() error {
	if f.file == nil {
		return nil
	}

	err := f.file.Close()
	f.file = nil

	if f.conn != nil {
		f.pool.put(f.conn)
		f.conn = nil
	}

	return wrapPathError("close", f.path, err)
}

// Stat returns file information.
func (f *File) Stat() (fs.FileInfo, error) {
	if f.file == nil {
		return nil, fs.ErrClosed
	}

	stat, err := f.file.Stat()
	if err != nil {
		return nil, wrapPathError("stat", f.path, err)
	}

	return &fileInfo{stat: stat, name: path.Base(f.path)}, nil
}

// Readdir reads the contents of the directory, skipping "." and "..".
func (f *File) Readdir(n int) ([]fs.FileInfo, error) {
	if f.file == nil {
		return nil, fs.ErrClosed
	}

	// Read all entries on first call
	if f.entries == nil {
		raw, err := f.file.Readdir(-1)
		if err != nil {
			return nil, wrapPathError("readdir", f.path, err)
		}
		f.entries = withoutDotEntries(raw)
		f.dirPos = 0
	}

	if f.dirPos >= len(f.entries) {
		if n <= 0 {
			return nil, nil
		}
		return nil, io.EOF
	}

	end := len(f.entries)
	if n > 0 && f.dirPos+n < end {
		end = f.dirPos + n
	}

	entries := f.entries[f.dirPos:end]
	f.dirPos = end
	return entries, nil
}

// withoutDotEntries drops the self and parent pseudo-entries.
func withoutDotEntries(raw []fs.FileInfo) []fs.FileInfo {
	out := make([]fs.FileInfo, 0, len(raw))
	for _, e := range raw {
		if e.Name() == "." || e.Name() == ".." {
			continue
		}
		out = append(out, &fileInfo{stat: e, name: e.Name()})
	}
	return out
}

// fileInfo implements fs.FileInfo for SMB files. A non-zero mtime replaces
// the modification time reported by the server.
type fileInfo struct {
	stat  fs.FileInfo
	name  string
	mtime time.Time
}

func (fi *fileInfo) Name() string {
	return fi.name
}

func (fi *fileInfo) Size() int64 {
	return fi.stat.Size()
}

func (fi *fileInfo) Mode() fs.FileMode {
	return fi.stat.Mode()
}

func (fi *fileInfo) ModTime() time.Time {
	if !fi.mtime.IsZero() {
		return fi.mtime
	}
	return fi.stat.ModTime()
}

func (fi *fileInfo) IsDir() bool {
	return fi.stat.IsDir()
}

func (fi *fileInfo) Sys() any {
	return fi.stat.Sys()
}

// withModTime returns info with its modification time replaced by mtime.
func withModTime(info fs.FileInfo, mtime time.Time) fs.FileInfo {
	return &fileInfo{stat: info, name: info.Name(), mtime: mtime}
}
