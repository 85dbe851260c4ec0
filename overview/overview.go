// Package overview is the facade described in spec §4.C5: it sits in
// front of whichever overview backend a group uses (today, only
// buffindexed implements the Backend interface below) and adds an
// LRU cache of recently read overview lines, keyed by (group, article
// number), following the teacher's valuelocmap.go in-memory index
// idiom adapted to a read-through cache instead of a location map.
package overview

import (
	"container/list"
	"sync"

	"github.com/InterNetNews/inncore/buffindexed"
	"github.com/InterNetNews/inncore/errs"
	"github.com/InterNetNews/inncore/token"
)

// Backend is the capability every overview storage implementation
// must provide; buffindexed.Backend satisfies it.
type Backend interface {
	GroupAdd(name string, stats buffindexed.Stats) error
	GroupStats(name string) (buffindexed.Stats, error)
	Add(group string, num int64, overviewLine []byte, tok token.Token) error
	Cancel(group string, num int64) error
	ExpireGroup(group string, isExpired func(num int64, tok token.Token) bool) (int, error)
	Search(group string, lo, hi int64) (*buffindexed.Search, error)
	Token(group string, num int64) (token.Token, error)
}

type cacheKey struct {
	group string
	num   int64
}

// Store wraps a Backend with a bounded LRU cache of recently served
// overview lines, per spec §4.C5's overcachesize parameter.
type Store struct {
	backend Backend

	mu       sync.Mutex
	capacity int
	ll       *list.List
	index    map[cacheKey]*list.Element
}

type cacheEntry struct {
	key  cacheKey
	line []byte
}

// Option configures a Store at New time.
type Option func(*Store)

// OptCacheSize sets the maximum number of cached overview lines
// (spec's overcachesize); zero disables caching.
func OptCacheSize(n int) Option {
	return func(s *Store) { s.capacity = n }
}

// New wraps backend with a cache, default capacity 10000 entries.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:  backend,
		capacity: 10000,
		ll:       list.New(),
		index:    make(map[cacheKey]*list.Element),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// GroupAdd registers a newsgroup with the backend, per spec's
// group_add(name, stats) operation.
func (s *Store) GroupAdd(name string, stats buffindexed.Stats) error {
	return s.backend.GroupAdd(name, stats)
}

// GroupStats returns a group's (low, high, count, flag), per spec's
// group_stats(name) operation.
func (s *Store) GroupStats(name string) (buffindexed.Stats, error) {
	return s.backend.GroupStats(name)
}

// Add stores an overview line for (group, num) and caches the new line
// under that key, replacing any stale entry, per spec's add(...)
// operation.
func (s *Store) Add(group string, num int64, overviewLine []byte, tok token.Token) error {
	if err := s.backend.Add(group, num, overviewLine, tok); err != nil {
		return err
	}
	s.put(group, num, overviewLine)
	return nil
}

// Cancel removes (group, num) from both the backend and the cache.
func (s *Store) Cancel(group string, num int64) error {
	if err := s.backend.Cancel(group, num); err != nil {
		return err
	}
	s.evict(group, num)
	return nil
}

// ExpireGroup removes the entries for which isExpired returns true,
// clearing the whole group's cache entries since expiry
// runs infrequently and a full cache scan isn't worth optimizing.
func (s *Store) ExpireGroup(group string, isExpired func(num int64, tok token.Token) bool) (int, error) {
	n, err := s.backend.ExpireGroup(group, isExpired)
	s.evictGroup(group)
	return n, err
}

// Line returns the overview text for (group, num), preferring the
// cache and otherwise reading it through a one-article Search.
func (s *Store) Line(group string, num int64) ([]byte, error) {
	if line, ok := s.get(group, num); ok {
		return line, nil
	}
	sr, err := s.backend.Search(group, num, num)
	if err != nil {
		return nil, err
	}
	defer sr.Close()
	rec, err := sr.Next()
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errs.New("overview.Line", errs.KindNotFound, nil)
	}
	s.put(group, num, rec.Line)
	return rec.Line, nil
}

// Token returns just the storage token for (group, num), without
// reading the overview line itself, per spec §4.C5's token(name,
// number) operation — useful for STAT and bare token lookups that
// don't need the overview text.
func (s *Store) Token(group string, num int64) (token.Token, error) {
	return s.backend.Token(group, num)
}

// Search opens an iterator over [lo, hi], per spec's
// search_open/search_next/search_close triple. Results are not
// individually cached since a scan typically reads a whole range once.
func (s *Store) Search(group string, lo, hi int64) (*buffindexed.Search, error) {
	return s.backend.Search(group, lo, hi)
}

func (s *Store) get(group string, num int64) ([]byte, bool) {
	if s.capacity <= 0 {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.index[cacheKey{group, num}]
	if !ok {
		return nil, false
	}
	s.ll.MoveToFront(el)
	return el.Value.(*cacheEntry).line, true
}

func (s *Store) put(group string, num int64, line []byte) {
	if s.capacity <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := cacheKey{group, num}
	if el, ok := s.index[key]; ok {
		el.Value.(*cacheEntry).line = line
		s.ll.MoveToFront(el)
		return
	}
	el := s.ll.PushFront(&cacheEntry{key: key, line: line})
	s.index[key] = el
	for s.ll.Len() > s.capacity {
		back := s.ll.Back()
		if back == nil {
			break
		}
		s.ll.Remove(back)
		delete(s.index, back.Value.(*cacheEntry).key)
	}
}

func (s *Store) evict(group string, num int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := cacheKey{group, num}
	if el, ok := s.index[key]; ok {
		s.ll.Remove(el)
		delete(s.index, key)
	}
}

func (s *Store) evictGroup(group string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, el := range s.index {
		if key.group == group {
			s.ll.Remove(el)
			delete(s.index, key)
		}
	}
}
