// Package artio defines the small shared vocabulary (What) that every
// storage backend and the StorageManager facade use to describe which
// part of an article a Retrieve call wants, kept in its own leaf
// package so backend packages need not import the facade package.
package artio

// What selects which part of an article Retrieve returns.
type What int

const (
	// All returns the full wire-format article.
	All What = iota
	// Head returns the header lines, CRLF-terminated, without the blank
	// line that separates them from the body.
	Head
	// Body returns the bytes after the blank line.
	Body
	// Stat probes existence only; no bytes are returned.
	Stat
)

// Answer is a backend-specific response to a Probe question (spec
// §4.C2's probe(token, question) side channel), kept as an opaque
// text payload since the set of questions a backend answers is its
// own business, not the facade's.
type Answer struct {
	Text string
}
