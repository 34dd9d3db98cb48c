package smbstore

import (
	"errors"
)

// Unlink removes the file or directory at path and reports whether the
// path is gone afterwards.
//
// Directories are handed to Rmdir. For files the transport's answer to the
// removal is not trusted, since servers are known to report failure for
// removals that succeeded: after the request the cached metadata is dropped
// and the result is whatever a fresh existence check says. The existence
// check uses the same URL as the removal, and only a not-found answer
// counts as removed: an empty answer is reported as ErrEmptyResult, and a
// silenced diagnostic yields false.
func (s *Storage) Unlink(path string) (bool, error) {
	p := canonicalPath(path)

	dir, err := s.IsDir(path)
	if err != nil {
		s.metrics.observe("unlink", err)
		return false, err
	}
	if dir {
		ok, err := s.Rmdir(path)
		s.metrics.observe("unlink", err)
		return ok, err
	}

	u := s.url(p)
	_, removeErr := shielded(s.shield(), func(*scope) (struct{}, error) {
		return struct{}{}, s.transport.Remove(u)
	})
	s.transport.Invalidate(u)

	removed, err := s.gone(p)
	s.metrics.observe("unlink", err)
	if err != nil {
		if errors.Is(err, ErrDiagnosticSuppressed) {
			return false, nil
		}
		return false, wrapPathError("unlink", path, err)
	}

	reported := removeErr == nil || isNotExist(removeErr)
	if removed != reported {
		s.metrics.overridden.Inc()
		s.logger("unlink", path).WithField("removed", removed).
			Debugf("removal verified independently of transport result: %s", s.scrub(errString(removeErr)))
	}
	return removed, nil
}

// gone reports whether p is absent. Only a not-found answer counts as
// absent; an empty or suppressed answer is returned as an error.
func (s *Storage) gone(p string) (bool, error) {
	_, err := s.lookup(p)
	switch {
	case err == nil:
		return false, nil
	case isNotExist(err):
		return true, nil
	default:
		return false, err
	}
}

func errString(err error) string {
	if err == nil || errors.Is(err, ErrDiagnosticSuppressed) {
		return "no error"
	}
	return err.Error()
}
