package smbstore

import (
	"errors"
	"io/fs"
	"time"
)

// epoch is the share time reported when no child could be examined.
var epoch = time.Unix(0, 0)

// Stat returns metadata for path, or false when none could be obtained.
//
// The root of a share has no meaningful modification time on most servers,
// so when path is the share root its mtime is replaced by ShareMTime. Any
// transport failure is logged and turns into "no result"; Stat never
// returns an error.
func (s *Storage) Stat(path string) (fs.FileInfo, bool) {
	p := canonicalPath(path)
	info, err := shielded(s.shield(), func(sc *scope) (fs.FileInfo, error) {
		info, err := s.transport.Stat(s.url(p))
		if err != nil || info == nil {
			return nil, err
		}
		if s.isShareRoot(p) {
			info = withModTime(info, s.shareMTime(sc))
		}
		return info, nil
	})
	s.metrics.observe("stat", err)

	if err != nil {
		s.logFailure("stat", path, err)
	}
	if info == nil {
		s.metrics.degraded.Inc()
		return nil, false
	}
	return info, true
}

// ShareMTime returns the best guess for the modification time of the share
// root: the latest mtime among its immediate children, or the Unix epoch if
// the root is empty or cannot be listed.
func (s *Storage) ShareMTime() time.Time {
	mtime, _ := shielded(s.shield(), func(sc *scope) (time.Time, error) {
		return s.shareMTime(sc), nil
	})
	if mtime.IsZero() {
		return epoch
	}
	return mtime
}

// shareMTime runs inside an existing shield. Failures of the listing or of
// a single child lookup are logged and skipped; their diagnostics are
// removed from sc so they do not fail the enclosing call.
func (s *Storage) shareMTime(sc *scope) time.Time {
	latest := epoch

	m := sc.mark()
	entries, err := s.transport.ReadDir(s.url(""))
	if diags := sc.rewind(m); err != nil || len(diags) > 0 {
		s.logSkipped("readdir", "", diags, err)
		return latest
	}

	for _, e := range entries {
		name := e.Name()
		if name == "." || name == ".." {
			continue
		}

		m := sc.mark()
		info, err := s.transport.Stat(s.url(canonicalPath(name)))
		if diags := sc.rewind(m); err != nil || len(diags) > 0 || info == nil {
			s.logSkipped("stat", name, diags, err)
			continue
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
	}
	return latest
}

// logSkipped logs a lookup that shareMTime had to skip, honouring the
// suppressed mode of the shield.
func (s *Storage) logSkipped(op, path string, diags []Diagnostic, err error) {
	if s.quiet && len(diags) > 0 {
		return
	}
	if len(diags) > 0 {
		err = newTransportError(diags[0], s.scrub, err)
	}
	s.logFailure(op, path, err)
}

// HasUpdated reports whether path may have changed after since.
//
// The share root has no trustworthy change signal, so it always reports
// true. For any other path it reports whether the transport's mtime is
// strictly after since. Transport errors are returned to the caller.
func (s *Storage) HasUpdated(path string, since time.Time) (bool, error) {
	p := canonicalPath(path)
	if s.isShareRoot(p) {
		s.metrics.observe("has_updated", nil)
		return true, nil
	}

	info, err := s.lookup(p)
	s.metrics.observe("has_updated", err)
	if err != nil {
		if errors.Is(err, ErrDiagnosticSuppressed) {
			return false, nil
		}
		return false, wrapPathError("has_updated", path, err)
	}
	return info.ModTime().After(since), nil
}
