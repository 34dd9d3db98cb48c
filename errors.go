package smbstore

import (
	"errors"
	"fmt"
	"io/fs"
)

var (
	// ErrInvalidConfig indicates the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionClosed indicates the connection has been closed.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrPoolExhausted indicates all connections in the pool are in use.
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// ErrInvalidPath indicates the path is invalid.
	ErrInvalidPath = errors.New("invalid path")

	// ErrInvalidURL indicates a transport URL could not be parsed.
	ErrInvalidURL = errors.New("invalid transport url")

	// ErrNotDirectory indicates the path is not a directory.
	ErrNotDirectory = errors.New("not a directory")

	// ErrEmptyResult indicates the transport answered without metadata,
	// which is how a failed connection shows up on some servers.
	ErrEmptyResult = errors.New("transport returned no metadata")

	// ErrDiagnosticSuppressed is returned by shielded calls made through a
	// silenced Storage when the transport reported a diagnostic. It is not
	// a failure: callers treat it as "no result" and never log it.
	ErrDiagnosticSuppressed = errors.New("diagnostic suppressed")
)

// ConfigurationError reports a missing or invalid mount parameter.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("smb mount: missing required parameter %q", e.Key)
	}
	return fmt.Sprintf("smb mount: parameter %q %s", e.Key, e.Reason)
}

// Is lets errors.Is(err, ErrInvalidConfig) match configuration errors.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// TransportError wraps a non-fatal diagnostic raised by the transport while
// a shielded call was running. Message is the transport's own, already
// redacted text; the mount's credentials are never added to it.
type TransportError struct {
	Message string
	Code    int
	File    string
	Line    int
	Err     error
}

func (e *TransportError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("smb transport: %s (code %#x)", e.Message, e.Code)
	}
	return "smb transport: " + e.Message
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// newTransportError builds a TransportError from an intercepted diagnostic.
func newTransportError(d Diagnostic, scrub func(string) string, cause error) *TransportError {
	return &TransportError{
		Message: scrub(d.Message),
		Code:    d.Code,
		File:    d.File,
		Line:    d.Line,
		Err:     cause,
	}
}

// PathError records an error and the operation and path that caused it.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PathError) Unwrap() error {
	return e.Err
}

// wrapPathError wraps an error with operation and path information.
func wrapPathError(op, path string, err error) error {
	if err == nil {
		return nil
	}

	// If it's already a PathError for the same path, don't double-wrap
	var pe *PathError
	if errors.As(err, &pe) && pe.Path == path {
		return err
	}

	return &PathError{
		Op:   op,
		Path: path,
		Err:  err,
	}
}

// convertError converts common errors to fs package errors.
func convertError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, fs.ErrExist) ||
		errors.Is(err, fs.ErrPermission) ||
		errors.Is(err, fs.ErrInvalid) ||
		errors.Is(err, fs.ErrClosed) {
		return err
	}

	switch {
	case errors.Is(err, ErrConnectionClosed):
		return fs.ErrClosed
	case errors.Is(err, ErrInvalidPath):
		return fs.ErrInvalid
	}

	return err
}

// isNotExist reports whether err means the target does not exist.
func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// netError interface for network errors.
type netError interface {
	Timeout() bool
	Temporary() bool
}

// isRetryable returns true if the error indicates a transient failure
// that might succeed if retried.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var netErr netError
	if errors.As(err, &netErr) {
		if netErr.Temporary() || netErr.Timeout() {
			return true
		}
	}

	switch {
	case errors.Is(err, ErrConnectionClosed):
		return true
	case errors.Is(err, ErrPoolExhausted):
		return true
	}

	return false
}
