package smbstore

import (
	"errors"
	"io/fs"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/absfs/smbstore/vfs"
)

// logComponent tags every log record written by the adapter.
const logComponent = "files_external"

// Ensure Storage implements vfs.Storage.
var _ vfs.Storage = (*Storage)(nil)

// Storage exposes one SMB share (or a subtree of it) as a vfs.Storage.
// Each operation resolves its path to a credentialed transport URL and
// calls the transport inside an error shield.
type Storage struct {
	config    *MountConfig
	transport Transport
	log       logrus.FieldLogger
	metrics   *metrics
	quiet     bool
}

// New creates a Storage backed by real go-smb2 connections.
func New(config *MountConfig) (*Storage, error) {
	return NewWithFactory(config, &RealConnectionFactory{})
}

// NewWithFactory creates a Storage whose transport dials through factory.
func NewWithFactory(config *MountConfig, factory ConnectionFactory) (*Storage, error) {
	cfg, err := prepared(config)
	if err != nil {
		return nil, err
	}
	return newStorage(cfg, newSMBTransport(cfg, factory, loggerFor(cfg))), nil
}

// NewWithTransport creates a Storage driving the given transport.
func NewWithTransport(config *MountConfig, transport Transport) (*Storage, error) {
	cfg, err := prepared(config)
	if err != nil {
		return nil, err
	}
	return newStorage(cfg, transport), nil
}

// NewFromParams creates a Storage from a key/value parameter map, see
// NewConfig.
func NewFromParams(params map[string]any) (*Storage, error) {
	cfg, err := NewConfig(params)
	if err != nil {
		return nil, err
	}
	return New(cfg)
}

// prepared returns a validated, normalised copy of config.
func prepared(config *MountConfig) (*MountConfig, error) {
	if config == nil {
		return nil, ErrInvalidConfig
	}
	cfg := *config
	if err := cfg.prepare(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loggerFor(cfg *MountConfig) logrus.FieldLogger {
	if cfg.Logger != nil {
		return cfg.Logger
	}
	return logrus.StandardLogger()
}

func newStorage(cfg *MountConfig, transport Transport) *Storage {
	return &Storage{
		config:    cfg,
		transport: transport,
		log:       loggerFor(cfg),
		metrics:   newMetrics(cfg.Metrics),
	}
}

// ID returns the identity key of the mount:
//
//	smb::user@host/share/root
//
// It depends only on user, host, share and root and never contains the
// password.
func (s *Storage) ID() string {
	return "smb::" + s.config.User + "@" + s.config.Host + s.config.Share + s.config.Root
}

// URL returns the credentialed transport URL for path. The result carries
// the password and must not be logged.
func (s *Storage) URL(path string) string {
	return buildURL(s.config, canonicalPath(path))
}

// url builds the URL of an already canonical path.
func (s *Storage) url(p string) string {
	return buildURL(s.config, p)
}

// Silenced returns a view of s whose calls ignore transport diagnostics
// instead of turning them into errors or log records. Calls that hit a
// diagnostic yield no result.
func (s *Storage) Silenced() *Storage {
	c := *s
	c.quiet = true
	return &c
}

// shield returns the error shield settings for calls made through s.
func (s *Storage) shield() shield {
	return shield{suppress: s.quiet, scrub: s.scrub}
}

// isShareRoot reports whether the canonical path p addresses the root of
// the share itself.
func (s *Storage) isShareRoot(p string) bool {
	return p == "" && s.config.Root == separator
}

var urlUserinfo = regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9+.-]*://)[^@/\s]*@`)

// scrub removes credential material from a message before it is logged or
// returned.
func (s *Storage) scrub(msg string) string {
	msg = urlUserinfo.ReplaceAllString(msg, "${1}***@")
	if pw := s.config.Password; pw != "" {
		msg = strings.ReplaceAll(msg, pw, "***")
		msg = strings.ReplaceAll(msg, url.QueryEscape(pw), "***")
		msg = strings.ReplaceAll(msg, url.PathEscape(pw), "***")
	}
	return msg
}

func (s *Storage) logger(op, path string) *logrus.Entry {
	return s.log.WithFields(logrus.Fields{
		"component": logComponent,
		"op":        op,
		"path":      path,
	})
}

// logFailure reports a failed transport call. Suppressed diagnostics are
// never logged; a missing target is only worth a debug line.
func (s *Storage) logFailure(op, path string, err error) {
	switch {
	case err == nil, errors.Is(err, ErrDiagnosticSuppressed):
	case isNotExist(err):
		s.logger(op, path).Debug(s.scrub(err.Error()))
	default:
		s.logger(op, path).Error(s.scrub(err.Error()))
	}
}

// Filemtime returns the modification time reported by the transport.
func (s *Storage) Filemtime(path string) (time.Time, error) {
	p := canonicalPath(path)
	info, err := s.lookup(p)
	if err != nil {
		return time.Time{}, wrapPathError("filemtime", path, err)
	}
	return info.ModTime(), nil
}

// lookup fetches metadata for a canonical path inside its own shield. A
// degenerate empty answer becomes ErrEmptyResult.
func (s *Storage) lookup(p string) (fs.FileInfo, error) {
	u := s.url(p)
	return shielded(s.shield(), func(*scope) (fs.FileInfo, error) {
		info, err := s.transport.Stat(u)
		if err == nil && info == nil {
			err = ErrEmptyResult
		}
		return info, err
	})
}

// FileExists reports whether path exists. Suppressed diagnostics and
// empty answers count as "does not exist".
func (s *Storage) FileExists(path string) (bool, error) {
	return s.exists(canonicalPath(path))
}

func (s *Storage) exists(p string) (bool, error) {
	_, err := s.lookup(p)
	switch {
	case err == nil:
		return true, nil
	case isNotExist(err), errors.Is(err, ErrEmptyResult), errors.Is(err, ErrDiagnosticSuppressed):
		return false, nil
	default:
		return false, err
	}
}

// IsDir reports whether path is a directory. A missing path is not one.
func (s *Storage) IsDir(path string) (bool, error) {
	info, err := s.lookup(canonicalPath(path))
	switch {
	case err == nil:
		return info.IsDir(), nil
	case isNotExist(err), errors.Is(err, ErrEmptyResult), errors.Is(err, ErrDiagnosticSuppressed):
		return false, nil
	default:
		return false, wrapPathError("is_dir", path, err)
	}
}

// OpenFile opens path through the transport.
func (s *Storage) OpenFile(path string, flag int, perm fs.FileMode) (vfs.File, error) {
	u := s.url(canonicalPath(path))
	var opened vfs.File
	f, err := shielded(s.shield(), func(*scope) (vfs.File, error) {
		f, err := s.transport.OpenFile(u, flag, perm)
		opened = f
		return f, err
	})
	if err != nil {
		// A diagnostic may have been raised after the file was opened.
		if opened != nil {
			opened.Close()
		}
		return nil, wrapPathError("open", path, err)
	}
	return f, nil
}

// Open opens path for reading.
func (s *Storage) Open(path string) (vfs.File, error) {
	return s.OpenFile(path, os.O_RDONLY, 0)
}

// ReadDir lists the immediate children of path.
func (s *Storage) ReadDir(path string) ([]fs.FileInfo, error) {
	u := s.url(canonicalPath(path))
	entries, err := shielded(s.shield(), func(*scope) ([]fs.FileInfo, error) {
		return s.transport.ReadDir(u)
	})
	if err != nil {
		return nil, wrapPathError("readdir", path, err)
	}
	return entries, nil
}

// Mkdir creates a directory.
func (s *Storage) Mkdir(path string, perm fs.FileMode) error {
	u := s.url(canonicalPath(path))
	_, err := shielded(s.shield(), func(*scope) (struct{}, error) {
		return struct{}{}, s.transport.Mkdir(u, perm)
	})
	return wrapPathError("mkdir", path, err)
}

// Rmdir removes a directory and its contents through the transport's
// directory removal.
func (s *Storage) Rmdir(path string) (bool, error) {
	u := s.url(canonicalPath(path))
	_, err := shielded(s.shield(), func(*scope) (struct{}, error) {
		return struct{}{}, s.transport.RemoveDir(u)
	})
	s.transport.Invalidate(u)
	if err != nil {
		if errors.Is(err, ErrDiagnosticSuppressed) {
			return false, nil
		}
		return false, wrapPathError("rmdir", path, err)
	}
	return true, nil
}

// Close releases the transport's connections.
func (s *Storage) Close() error {
	return s.transport.Close()
}
