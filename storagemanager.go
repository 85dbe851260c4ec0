// Package inncore is the top-level facade over the storage, overview,
// and history subsystem: the StorageManager (C2) dispatches by token to
// pluggable backends, and SystemContext bundles the process-wide
// resources (config, backends, overview, history) that the teacher
// keeps as module-level singletons (innconf, secrets, dirf) but which
// are threaded explicitly here per spec §9's Design Notes.
package inncore

import (
	"io"
	"time"

	"github.com/InterNetNews/inncore/artio"
	"github.com/InterNetNews/inncore/errs"
	"github.com/InterNetNews/inncore/token"
)

// What selects which part of an article Retrieve returns; re-exported
// from artio, the shared vocabulary every backend package also uses.
type What = artio.What

const (
	All  = artio.All
	Head = artio.Head
	Body = artio.Body
	Stat = artio.Stat
)

// Answer carries a backend-specific response to a Probe question;
// re-exported from artio for the same reason What is.
type Answer = artio.Answer

// Backend is the capability table entry every storage backend
// implements; StorageManager dispatches to one of these by the first
// byte of a Token, per spec §4.C2.
type Backend interface {
	Store(article []byte, class uint8, arrived time.Time) (token.Token, error)
	Retrieve(t token.Token, what What) ([]byte, error)
	Cancel(t token.Token) error
	Next(fn func(t token.Token, path string) error) error
	Probe(t token.Token, question string) (Answer, error)
}

// StorageManager dispatches store/retrieve/cancel/next calls to the
// registered backend selected by Token.Type, following spec §4.C2's
// capability-table model (no inheritance, O(1) dispatch, backends
// loaded at startup per configuration).
type StorageManager struct {
	backends map[uint8]Backend
}

// NewStorageManager creates a StorageManager with no backends
// registered; call Register for each backend type this process serves.
func NewStorageManager() *StorageManager {
	return &StorageManager{backends: make(map[uint8]Backend)}
}

// Register installs backend under typ, the Token.Type byte it owns.
// Registration is expected to happen once at startup, not concurrently
// with dispatch.
func (sm *StorageManager) Register(typ uint8, backend Backend) {
	sm.backends[typ] = backend
}

func (sm *StorageManager) backendFor(typ uint8) (Backend, error) {
	b, ok := sm.backends[typ]
	if !ok {
		return nil, errs.New("storagemanager", errs.KindInternal, errUninit)
	}
	return b, nil
}

var errUninit = uninitError{}

type uninitError struct{}

func (uninitError) Error() string { return "backend not initialized" }

// Store dispatches to the backend registered for typ.
func (sm *StorageManager) Store(typ uint8, article []byte, class uint8, arrived time.Time) (token.Token, error) {
	b, err := sm.backendFor(typ)
	if err != nil {
		return token.Token{}, err
	}
	return b.Store(article, class, arrived)
}

// Retrieve dispatches by t.Type to the owning backend. A null token
// always reports KindNotFound without touching any backend.
func (sm *StorageManager) Retrieve(t token.Token, what What) ([]byte, error) {
	if t.IsNull() {
		return nil, errs.New("storagemanager.Retrieve", errs.KindNotFound, nil)
	}
	b, err := sm.backendFor(t.Type)
	if err != nil {
		return nil, err
	}
	return b.Retrieve(t, what)
}

// Cancel dispatches by t.Type to the owning backend. Cancelling an
// already-cancelled token returns KindNotFound, not a fatal error (spec
// §4.C2).
func (sm *StorageManager) Cancel(t token.Token) error {
	if t.IsNull() {
		return errs.New("storagemanager.Cancel", errs.KindNotFound, nil)
	}
	b, err := sm.backendFor(t.Type)
	if err != nil {
		return err
	}
	return b.Cancel(t)
}

// Probe dispatches by t.Type to the owning backend's side channel for
// questions that fall outside store/retrieve/cancel, per spec §4.C2.
func (sm *StorageManager) Probe(t token.Token, question string) (Answer, error) {
	if t.IsNull() {
		return Answer{}, errs.New("storagemanager.Probe", errs.KindNotFound, nil)
	}
	b, err := sm.backendFor(t.Type)
	if err != nil {
		return Answer{}, err
	}
	return b.Probe(t, question)
}

// Next enumerates all stored articles across every registered backend;
// order is backend-defined and not guaranteed stable across concurrent
// modification, per spec §4.C2.
func (sm *StorageManager) Next(fn func(t token.Token, path string) error) error {
	for _, b := range sm.backends {
		if err := b.Next(fn); err != nil {
			return err
		}
	}
	return nil
}

// ArticleWriter is the narrow interface used by callers that already
// have an io.Reader of wire-format bytes and want Store without first
// materializing the whole article; StorageManager.Store takes []byte
// directly since every backend in this module reads the full article
// before writing (O_EXCL then one Write), matching timehash.c and
// buffindexed's all-at-once block append.
type ArticleWriter interface {
	io.Writer
}
