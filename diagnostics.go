package smbstore

import (
	"runtime"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// Diagnostic is a non-fatal problem reported by a transport while it serves
// a call, such as a server error status or a failed connection attempt.
// Message must not contain credentials.
type Diagnostic struct {
	Code    int
	Message string
	File    string
	Line    int
}

// DiagnosticHandler receives diagnostics reported through ReportDiagnostic.
type DiagnosticHandler func(Diagnostic)

var (
	// diagnosticHandler is the process-wide handler. Shielded calls swap it
	// for the duration of the call.
	diagnosticHandler atomic.Pointer[DiagnosticHandler]

	// shieldMu serialises shielded regions, since each one replaces the
	// process-wide handler.
	shieldMu sync.Mutex
)

func init() {
	swapHandler(logDiagnostic)
}

// logDiagnostic is the handler in effect outside shielded calls.
func logDiagnostic(d Diagnostic) {
	log.WithFields(log.Fields{
		"component": logComponent,
		"code":      d.Code,
		"source":    d.File,
		"line":      d.Line,
	}).Warn(d.Message)
}

// SetDiagnosticHandler installs h as the process-wide diagnostic handler and
// returns the previous one. A nil h restores the logging handler. It waits
// for any shielded call in progress, so the call's restore cannot undo it.
func SetDiagnosticHandler(h DiagnosticHandler) DiagnosticHandler {
	shieldMu.Lock()
	defer shieldMu.Unlock()
	return swapHandler(h)
}

func swapHandler(h DiagnosticHandler) DiagnosticHandler {
	if h == nil {
		h = logDiagnostic
	}
	prev := diagnosticHandler.Swap(&h)
	if prev == nil {
		return nil
	}
	return *prev
}

// ReportDiagnostic is called by transports to report a non-fatal problem.
// The source location of the caller is attached to the diagnostic.
func ReportDiagnostic(code int, message string) {
	_, file, line, _ := runtime.Caller(1)
	d := Diagnostic{Code: code, Message: message, File: file, Line: line}
	if h := diagnosticHandler.Load(); h != nil {
		(*h)(d)
	}
}

// scope collects the diagnostics intercepted during one shielded call.
type scope struct {
	mu     sync.Mutex
	caught []Diagnostic
}

func (sc *scope) record(d Diagnostic) {
	sc.mu.Lock()
	sc.caught = append(sc.caught, d)
	sc.mu.Unlock()
}

// mark returns a position that rewind can later cut back to.
func (sc *scope) mark() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.caught)
}

// rewind removes and returns the diagnostics recorded after m.
func (sc *scope) rewind(m int) []Diagnostic {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if m >= len(sc.caught) {
		return nil
	}
	out := append([]Diagnostic(nil), sc.caught[m:]...)
	sc.caught = sc.caught[:m]
	return out
}

func (sc *scope) first() (Diagnostic, bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if len(sc.caught) == 0 {
		return Diagnostic{}, false
	}
	return sc.caught[0], true
}

// shield describes how a shielded call treats intercepted diagnostics.
type shield struct {
	suppress bool
	scrub    func(string) string
}

// shielded runs op with the process-wide diagnostic handler replaced by one
// that records into a fresh scope. The previous handler is restored on every
// exit path, panics included. If a diagnostic was intercepted the result of
// op is discarded: a suppressing shield returns ErrDiagnosticSuppressed,
// otherwise the first diagnostic is returned as a *TransportError.
func shielded[T any](sh shield, op func(sc *scope) (T, error)) (T, error) {
	shieldMu.Lock()
	defer shieldMu.Unlock()

	sc := &scope{}
	prev := swapHandler(sc.record)
	defer swapHandler(prev)

	v, err := op(sc)
	if d, ok := sc.first(); ok {
		var zero T
		if sh.suppress {
			return zero, ErrDiagnosticSuppressed
		}
		scrub := sh.scrub
		if scrub == nil {
			scrub = func(s string) string { return s }
		}
		return zero, newTransportError(d, scrub, err)
	}
	return v, err
}
