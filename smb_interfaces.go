package smbstore

import (
	"fmt"
	"io/fs"
	"time"
)

// Endpoint identifies one authenticated share connection. It is decoded from
// a transport URL.
type Endpoint struct {
	Host     string
	Port     int
	Share    string
	User     string
	Password string
	Domain   string
}

// String returns the endpoint without its password. Used as pool key and in
// log records.
func (e Endpoint) String() string {
	login := e.User
	if e.Domain != "" {
		login = e.Domain + `\` + e.User
	}
	return fmt.Sprintf("%s@%s:%d/%s", login, e.Host, e.Port, e.Share)
}

// SMBSession abstracts an SMB session for testability.
// This interface wraps the go-smb2 Session type.
type SMBSession interface {
	// Mount mounts a share and returns an SMBShare interface.
	Mount(shareName string) (SMBShare, error)
	// Logoff ends the session.
	Logoff() error
}

// SMBShare abstracts an SMB share for testability.
// This interface wraps the go-smb2 Share type.
type SMBShare interface {
	// OpenFile opens a file with the specified flags and permissions.
	OpenFile(name string, flag int, perm fs.FileMode) (SMBFile, error)
	// Stat returns file info for the specified path.
	Stat(name string) (fs.FileInfo, error)
	// Mkdir creates a directory.
	Mkdir(name string, perm fs.FileMode) error
	// Remove removes a file or empty directory.
	Remove(name string) error
	// Umount unmounts the share.
	Umount() error
}

// SMBFile abstracts an SMB file handle for testability.
// This interface wraps the go-smb2 File type.
type SMBFile interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Seek(offset int64, whence int) (int64, error)
	Close() error
	Stat() (fs.FileInfo, error)
	Readdir(n int) ([]fs.FileInfo, error)
}

// ConnectionFactory creates SMB connections for the connection pool.
// This abstraction allows injection of mock connections for testing.
type ConnectionFactory interface {
	// CreateConnection dials the endpoint, authenticates and mounts its share.
	CreateConnection(ep Endpoint, timeout time.Duration) (SMBSession, SMBShare, error)
}
