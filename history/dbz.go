// Package history implements dbz, the hashed open-addressed message-ID
// history index: a mapping from a 128-bit message-ID hash to
// (arrival time, expires time, storage token), with at-most-one-writer,
// many-reader semantics and concurrent rebuild ("agin").
//
// The concurrency shape (striped locks guarding fixed-size slot arrays,
// atomic pointer swap to retarget readers at the live table) is grounded
// on the teacher's valuelocmap package; the linear-probe algorithm and
// the MAXRUN probe limit follow lib/dbz.c. The table is held in process
// memory only: nothing is written to or read back from disk, there is a
// single table per generation (a probe that exhausts MAXRUN does not hop
// to a stacked table), and slot values are stored without a bias.
package history

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/InterNetNews/inncore/errs"
	"github.com/InterNetNews/inncore/logx"
	"github.com/InterNetNews/inncore/token"
)

// MaxRun is the number of linear-probe steps tried in one table before
// hopping to the next stacked table, per lib/dbz.c's MAXRUN.
const MaxRun = 100

// DefaultFillPercent is the target load factor used when sizing a fresh
// table (dbzsize in lib/dbz.c uses 66 by default for untagged builds).
const DefaultFillPercent = 66

// DefaultSyncPeriod is how many inserts accumulate before an automatic
// sync() call, mirroring the overview header's "every N inserts" policy.
const DefaultSyncPeriod = 1024

// Hash is the 128-bit message-ID hash used as the table key.
type Hash [16]byte

// HashMessageID computes the 128-bit hash of a message-ID. The original
// used a tuned internal hash; MD5 is used here as a stable, collision
// resistant 128-bit digest with no on-disk compatibility requirement
// (spec §1 Non-goals).
func HashMessageID(msgid string) Hash {
	return Hash(md5.Sum([]byte(msgid)))
}

func (h Hash) isZero() bool {
	return h == Hash{}
}

// Entry is one history record: the hash is implicit in the slot that was
// probed to find it.
type Entry struct {
	Arrived time.Time
	Expires time.Time // zero means no expiry set
	Token   token.Token
}

// StoreResult is the outcome of Store.
type StoreResult int

const (
	// StoreOK indicates the entry was newly inserted.
	StoreOK StoreResult = iota
	// StoreExists indicates the message-ID was already present; the
	// stored token is unchanged (spec P6, history idempotence).
	StoreExists
	// StoreError indicates the insert could not complete (table full,
	// I/O error); see the returned error for the Kind.
	StoreError
)

// slot is the fixed-width record kept in both the existence table and
// the index table for a given slot number. A slot is vacant iff it has
// never been written (hash == zero); once written it is either still
// matching that hash or has become a tombstone (expires ==
// tombstoneExpires) — per spec invariant 6, never silently reassigned.
type slot struct {
	hash    Hash
	arrived int64 // unix micros, 0 means vacant
	expires int64 // unix micros; 0 means no expiry set, tombstoneExpires means cancelled
	tok     token.Token
}

// tombstoneExpires is the expires value Cancel writes into a slot. It is
// distinct from 0, which Store writes for an entry with no expiry set.
const tombstoneExpires int64 = -1

func (s *slot) vacant() bool { return s.arrived == 0 && s.hash.isZero() }

// table is one generation of the hashed index: a flat slot array guarded
// by a stripe of locks, following the teacher's bucket+lock-stripe
// concurrency idiom (fewer locks than slots, one per stripe).
type table struct {
	slots    []slot
	locks    []sync.RWMutex
	size     uint64
	fillUsed int64
}

func newTable(size uint64, stripes int) *table {
	if stripes < 1 {
		stripes = 1
	}
	return &table{
		slots: make([]slot, size),
		locks: make([]sync.RWMutex, stripes),
		size:  size,
	}
}

func (t *table) lockFor(s uint64) *sync.RWMutex {
	return &t.locks[s%uint64(len(t.locks))]
}

// DBZ is the history index: one live table (replaced as a whole when a
// rebuild completes), a rebuild version counter, and the
// single-writer/many-reader discipline described in spec §4.C6 and §5.
type DBZ struct {
	dirPath   string
	log       *logx.Loggers
	mu        sync.Mutex // writer serialization (stands in for the advisory fcntl lock)
	live      atomic.Pointer[table]
	version   uint64
	inserts   int64
	syncEvery int64

	// appendLog captures inserts that race a concurrent rebuild so they
	// are not lost when the new table is swapped in (spec §4.C6 Rebuild
	// step 3).
	appendMu  sync.Mutex
	appendLog map[Hash]Entry
	rebuildOn bool
}

// Option configures a DBZ at Open time.
type Option func(*DBZ)

// OptSyncPeriod overrides DefaultSyncPeriod.
func OptSyncPeriod(n int64) Option {
	return func(d *DBZ) { d.syncEvery = n }
}

// OptLogger overrides the default stderr logger pair.
func OptLogger(l *logx.Loggers) Option {
	return func(d *DBZ) { d.log = l }
}

// Open creates an empty in-memory dbz history index sized for
// expectedCount entries at DefaultFillPercent. dirPath is the path
// prefix of the ".dir" file (dirPath+".dir"); Open only checks whether
// that file can be stat'ed and does not load any entries from it.
func Open(dirPath string, expectedCount uint64, opts ...Option) (*DBZ, error) {
	d := &DBZ{
		dirPath:   dirPath,
		log:       logx.Default("history"),
		syncEvery: DefaultSyncPeriod,
		appendLog: make(map[Hash]Entry),
	}
	for _, o := range opts {
		o(d)
	}
	size := sizeFor(expectedCount)
	t := newTable(size, stripesFor(size))
	d.live.Store(t)
	if err := d.loadDir(); err != nil && !os.IsNotExist(err) {
		return nil, errs.New("history.Open", errs.KindInternal, err)
	}
	return d, nil
}

// sizeFor picks the smallest odd size at least 1.5x expectedCount (the
// original picks a prime; an odd, non-power-of-two size gives adequate
// probe-sequence dispersion without requiring primality testing here).
func sizeFor(expectedCount uint64) uint64 {
	min := expectedCount * 100 / DefaultFillPercent
	if min < 1024 {
		min = 1024
	}
	if min%2 == 0 {
		min++
	}
	return min
}

func stripesFor(size uint64) int {
	n := int(size / 4096)
	if n < 1 {
		n = 1
	}
	if n > 256 {
		n = 256
	}
	return n
}

func (d *DBZ) loadDir() error {
	_, err := os.Stat(d.dirFile())
	return err
}

func (d *DBZ) dirFile() string {
	return d.dirPath + ".dir"
}

// probe runs the linear-probe/MAXRUN search for h starting at its home
// slot in t, calling visit for each occupied or vacant slot encountered.
// visit returns (stop, found) — stop ends the probe early.
func probe(t *table, h Hash, visit func(idx uint64, s *slot) (stop, found bool)) (uint64, bool, bool) {
	home := binary.BigEndian.Uint64(h[:8]) % t.size
	run := 0
	idx := home
	for {
		lk := t.lockFor(idx)
		lk.RLock()
		s := t.slots[idx]
		lk.RUnlock()
		stop, found := visit(idx, &s)
		if stop {
			return idx, found, true
		}
		run++
		if run >= MaxRun {
			// Table-hop: in this single-table implementation there is
			// nothing further to hop to, so the probe is exhausted.
			return idx, false, false
		}
		idx = (idx + 1) % t.size
		if idx == home {
			return idx, false, false
		}
	}
}

// Lookup returns the entry for msgid, or errs.KindNotFound.
func (d *DBZ) Lookup(msgid string) (Entry, error) {
	h := HashMessageID(msgid)
	return d.lookupHash(h)
}

func (d *DBZ) lookupHash(h Hash) (Entry, error) {
	t := d.live.Load()
	var found Entry
	var tombstoned bool
	_, ok, complete := probe(t, h, func(idx uint64, s *slot) (bool, bool) {
		if s.vacant() {
			return true, false
		}
		if s.hash == h {
			if s.expires == tombstoneExpires {
				// Tombstoned by Cancel: the slot stays occupied so Store
				// still reports StoreExists for this hash, but it must
				// read back as gone, per spec §8 scenario 2.
				tombstoned = true
				return true, true
			}
			found = Entry{
				Arrived: time.UnixMicro(s.arrived),
				Token:   s.tok,
			}
			if s.expires != 0 {
				found.Expires = time.UnixMicro(s.expires)
			}
			return true, true
		}
		return false, false
	})
	if tombstoned {
		return Entry{}, errs.New("history.Lookup", errs.KindNotFound, nil)
	}
	if !ok {
		if !complete {
			// run exhausted or wrapped without a match or vacancy: check
			// the append log for a racing rebuild.
			d.appendMu.Lock()
			e, present := d.appendLog[h]
			d.appendMu.Unlock()
			if present {
				return e, nil
			}
		}
		return Entry{}, errs.New("history.Lookup", errs.KindNotFound, nil)
	}
	return found, nil
}

// Exists reports whether msgid has a live (not cancelled) entry. It runs
// the same probe as Lookup; there is no separate existence-only table.
func (d *DBZ) Exists(msgid string) bool {
	_, err := d.Lookup(msgid)
	return err == nil
}

// Store inserts (msgid, arrived, expires, tok). expires may be the zero
// time to mean "no expiry set yet". Returns StoreExists, unchanged, if
// msgid is already present (spec P6).
func (d *DBZ) Store(msgid string, arrived, expires time.Time, tok token.Token) (StoreResult, error) {
	h := HashMessageID(msgid)
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.live.Load()
	idx, found, complete := probe(t, h, func(idx uint64, s *slot) (bool, bool) {
		if s.vacant() {
			return true, false
		}
		if s.hash == h {
			return true, true
		}
		return false, false
	})
	if found {
		return StoreExists, nil
	}
	if !complete {
		return StoreError, errs.New("history.Store", errs.KindNoSpace, nil)
	}
	var expiresMicro int64
	if !expires.IsZero() {
		expiresMicro = expires.UnixMicro()
	}
	lk := t.lockFor(idx)
	lk.Lock()
	t.slots[idx] = slot{
		hash:    h,
		arrived: arrived.UnixMicro(),
		expires: expiresMicro,
		tok:     tok,
	}
	lk.Unlock()
	atomic.AddInt64(&t.fillUsed, 1)

	if d.rebuildOn {
		d.appendMu.Lock()
		d.appendLog[h] = Entry{Arrived: arrived, Expires: expires, Token: tok}
		d.appendMu.Unlock()
	}

	if n := atomic.AddInt64(&d.inserts, 1); n%d.syncEvery == 0 {
		if err := d.Sync(); err != nil {
			d.log.Warning.Printf("sync after insert: %v", err)
		}
	}
	return StoreOK, nil
}

// Cancel tombstones msgid's entry (expires becomes tombstoneExpires while
// the slot stays occupied, distinguishing it from a never-written slot
// per spec invariant 6). Returns false if msgid was not present.
func (d *DBZ) Cancel(msgid string) bool {
	h := HashMessageID(msgid)
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.live.Load()
	idx, found, _ := probe(t, h, func(idx uint64, s *slot) (bool, bool) {
		if s.vacant() {
			return true, false
		}
		return s.hash == h, s.hash == h
	})
	if !found {
		return false
	}
	lk := t.lockFor(idx)
	lk.Lock()
	t.slots[idx].expires = tombstoneExpires
	lk.Unlock()
	return true
}

// Sync pushes pending in-core changes to disk. In this implementation
// the table lives entirely in-process memory (no mmap file backing is
// opened by Open), so Sync is a durability checkpoint hook for callers
// that layer their own persistence underneath; it always succeeds.
func (d *DBZ) Sync() error {
	return nil
}

// Rebuild performs the "agin" atomic rebuild: size a fresh table from
// the observed fill of the live one, copy every live (non-tombstoned or
// still-readable) entry across, then swap. Inserts arriving during the
// copy are captured in the append log and folded in before the swap
// completes, per spec §4.C6 Rebuild steps 1-4.
func (d *DBZ) Rebuild() error {
	d.mu.Lock()
	old := d.live.Load()
	used := atomic.LoadInt64(&old.fillUsed)
	d.rebuildOn = true
	d.appendMu.Lock()
	d.appendLog = make(map[Hash]Entry)
	d.appendMu.Unlock()
	d.mu.Unlock()

	fresh := newTable(sizeFor(uint64(used)), stripesFor(sizeFor(uint64(used))))
	for i := range old.slots {
		lk := old.lockFor(uint64(i))
		lk.RLock()
		s := old.slots[i]
		lk.RUnlock()
		if s.vacant() {
			continue
		}
		if err := insertInto(fresh, s); err != nil {
			return errs.New("history.Rebuild", errs.KindNoSpace, err)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.appendMu.Lock()
	for h, e := range d.appendLog {
		s := slot{hash: h, arrived: e.Arrived.UnixMicro(), tok: e.Token}
		if !e.Expires.IsZero() {
			s.expires = e.Expires.UnixMicro()
		}
		_ = insertInto(fresh, s)
	}
	d.appendLog = make(map[Hash]Entry)
	d.appendMu.Unlock()

	d.live.Store(fresh)
	d.rebuildOn = false
	atomic.AddUint64(&d.version, 1)
	return nil
}

func insertInto(t *table, s slot) error {
	idx, found, complete := probe(t, s.hash, func(idx uint64, cur *slot) (bool, bool) {
		if cur.vacant() {
			return true, false
		}
		return cur.hash == s.hash, cur.hash == s.hash
	})
	if found {
		return nil
	}
	if !complete {
		return fmt.Errorf("table full while inserting during rebuild")
	}
	lk := t.lockFor(idx)
	lk.Lock()
	t.slots[idx] = s
	lk.Unlock()
	atomic.AddInt64(&t.fillUsed, 1)
	return nil
}

// Version returns the rebuild version counter a reader can compare
// against to detect a completed swap, per the ".dir" version counter
// described in spec §4.C6.
func (d *DBZ) Version() uint64 {
	return atomic.LoadUint64(&d.version)
}

// Close releases resources. The in-memory table requires no explicit
// teardown; Close exists for symmetry with backends that hold file
// descriptors.
func (d *DBZ) Close() error {
	return nil
}
