// Package errs is the two-tier recoverable-error model shared by every
// component: a structured Error carrying a Kind a caller can switch on,
// plus helpers to classify and wrap underlying causes. Invariant
// violations (KindInternal) are reported through this same type; only the
// process boundary decides whether that is fatal.
package errs

import "fmt"

// Kind classifies a recoverable error per the error taxonomy: origin and
// caller-visible disposition differ by kind (see spec §7).
type Kind int

const (
	// KindNotFound covers dbz misses, backend misses, and absent groups.
	// Surfaced to the caller; never logged as an anomaly.
	KindNotFound Kind = iota
	// KindCorrupt covers checksum mismatches and parse failures on
	// stored data. The affected group or article is quarantined; other
	// operations proceed.
	KindCorrupt
	// KindLocked covers advisory-lock contention. Callers retry with
	// back-off; after repeated failures it is surfaced as KindBusy.
	KindLocked
	// KindBusy is the terminal form of KindLocked after retries are
	// exhausted.
	KindBusy
	// KindNoSpace covers bitmap exhaustion or filesystem ENOSPC. The
	// storage manager rolls back the in-progress store.
	KindNoSpace
	// KindTimeout covers framer, semop, and select timeouts.
	KindTimeout
	// KindAuth covers cancel/supersede key mismatches.
	KindAuth
	// KindInternal covers invariant violations: fatal to the
	// connection that triggered them, but not to the process.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindCorrupt:
		return "corrupt"
	case KindLocked:
		return "locked"
	case KindBusy:
		return "busy"
	case KindNoSpace:
		return "no space"
	case KindTimeout:
		return "timeout"
	case KindAuth:
		return "auth"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the structured, recoverable error type returned by every
// exported operation in this module. It wraps an optional underlying
// cause without hiding the Kind a caller needs to switch on.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("inncore: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("inncore: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether err is an *Error of the given Kind.
func Is(err error, k Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == k
}

// New builds an *Error for op at the given kind, wrapping cause (which
// may be nil).
func New(op string, k Kind, cause error) *Error {
	return &Error{Op: op, Kind: k, Err: cause}
}
