// Package logx provides the pair of named loggers (error, warning) that
// every long-lived component in this module carries, following the
// teacher's MsgConn pattern of per-component log.Logger fields defaulting
// to stderr and overridable by functional option.
package logx

import (
	"io"
	"log"
	"os"
)

// Loggers bundles the error and warning severities a component logs at.
// Info-level chatter is intentionally not included: the teacher's own
// components only ever logged errors and warnings.
type Loggers struct {
	Error   *log.Logger
	Warning *log.Logger
}

// New builds a Loggers pair writing to w (os.Stderr if w is nil), with the
// given component prefix.
func New(w io.Writer, prefix string) *Loggers {
	if w == nil {
		w = os.Stderr
	}
	if prefix != "" {
		prefix = prefix + ": "
	}
	return &Loggers{
		Error:   log.New(w, prefix, log.LstdFlags),
		Warning: log.New(w, prefix, log.LstdFlags),
	}
}

// Default is the package-wide fallback used by components that have not
// been given an explicit Loggers via their OptLogger.
func Default(prefix string) *Loggers {
	return New(os.Stderr, prefix)
}
