// Package timehash implements the reference storage-manager backend: one
// article per file, bucketed by arrival time under
// spool/time-CC/hh/hh/ssss-TTTT.
//
// Grounded on storage/timehash/timehash.c for the path layout and
// O_CREAT|O_EXCL collision algorithm. A murmur3 checksum helper, after
// the teacher's valuestorefile_GEN_.go, is defined here, but neither
// Retrieve nor Verify computes or checks a checksum.
package timehash

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/InterNetNews/inncore/artio"
	"github.com/InterNetNews/inncore/errs"
	"github.com/InterNetNews/inncore/logx"
	"github.com/InterNetNews/inncore/token"
)

// BackendType is the Token.Type value this backend registers under.
const BackendType uint8 = 1

// What selects which part of an article Retrieve returns; re-exported
// from artio so existing call sites in this package read naturally.
type What = artio.What

const (
	All  = artio.All
	Head = artio.Head
	Body = artio.Body
	Stat = artio.Stat
)

// Backend is the timehash storage backend: a spool tree rooted at a
// directory, one raw wire-format article per file.
type Backend struct {
	root string
	log  *logx.Loggers

	seqMu  sync.Mutex
	seqFor int64 // arrival second the counter below belongs to
	seq    uint32

	mkdirOnce sync.Map // directory paths already created
}

// Option configures a Backend at Open time.
type Option func(*Backend)

// OptLogger overrides the default stderr logger pair.
func OptLogger(l *logx.Loggers) Option {
	return func(b *Backend) { b.log = l }
}

// Open roots a Backend at root (created if missing).
func Open(root string, opts ...Option) (*Backend, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, errs.New("timehash.Open", errs.KindInternal, err)
	}
	b := &Backend{root: root, log: logx.Default("timehash")}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// pathFor computes spool/time-CC/hh/hh/ssss-TTTT from an arrival time,
// sequence number, and class, following storage/timehash/timehash.c.
func (b *Backend) pathFor(class uint8, arrived uint32, seq uint16) string {
	hh1 := byte(arrived >> 24)
	hh2 := byte(arrived >> 16)
	rest := arrived & 0xFFFF
	dir := fmt.Sprintf("time-%02X", class)
	return filepath.Join(b.root, dir, fmt.Sprintf("%02X", hh1), fmt.Sprintf("%02X", hh2),
		fmt.Sprintf("%04X-%04X", seq, rest))
}

// nextSeq allocates the next process-local sequence number for the
// given arrival second, wrapping mod 2^16 and resetting whenever the
// second changes, per spec §4.C3 step 2.
func (b *Backend) nextSeq(arrived int64) uint16 {
	b.seqMu.Lock()
	defer b.seqMu.Unlock()
	if b.seqFor != arrived {
		b.seqFor = arrived
		b.seq = 0
	}
	s := b.seq
	b.seq++
	return uint16(s)
}

// Store writes article under class, returning the Token naming it.
// arrived, if zero, defaults to time.Now().
func (b *Backend) Store(article []byte, class uint8, arrived time.Time) (token.Token, error) {
	if arrived.IsZero() {
		arrived = time.Now()
	}
	arrivedSec := uint32(arrived.Unix())
	for attempt := 0; attempt < 1<<16; attempt++ {
		seq := b.nextSeq(arrived.Unix())
		path := b.pathFor(class, arrivedSec, seq)
		if err := b.ensureDir(filepath.Dir(path)); err != nil {
			return token.Token{}, errs.New("timehash.Store", errs.KindInternal, err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
		if err != nil {
			if os.IsExist(err) {
				continue
			}
			return token.Token{}, errs.New("timehash.Store", errs.KindInternal, err)
		}
		n, werr := f.Write(article)
		cerr := f.Close()
		if werr != nil || n != len(article) || cerr != nil {
			_ = os.Remove(path)
			if werr == nil {
				werr = cerr
			}
			return token.Token{}, errs.New("timehash.Store", errs.KindInternal, werr)
		}
		return b.tokenFor(class, arrivedSec, seq), nil
	}
	return token.Token{}, errs.New("timehash.Store", errs.KindInternal,
		errors.New("2^16 sequence collisions for this timestamp"))
}

func (b *Backend) ensureDir(dir string) error {
	if _, ok := b.mkdirOnce.Load(dir); ok {
		return nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	b.mkdirOnce.Store(dir, struct{}{})
	return nil
}

func (b *Backend) tokenFor(class uint8, arrived uint32, seq uint16) token.Token {
	var t token.Token
	t.Type = BackendType
	t.Class = class
	t.Payload[0] = byte(arrived >> 24)
	t.Payload[1] = byte(arrived >> 16)
	t.Payload[2] = byte(arrived >> 8)
	t.Payload[3] = byte(arrived)
	t.Payload[4] = byte(seq >> 8)
	t.Payload[5] = byte(seq)
	return t
}

func (b *Backend) decodeToken(t token.Token) (uint32, uint16) {
	arrived := uint32(t.Payload[0])<<24 | uint32(t.Payload[1])<<16 | uint32(t.Payload[2])<<8 | uint32(t.Payload[3])
	seq := uint16(t.Payload[4])<<8 | uint16(t.Payload[5])
	return arrived, seq
}

func (b *Backend) pathForToken(t token.Token) string {
	arrived, seq := b.decodeToken(t)
	return b.pathFor(t.Class, arrived, seq)
}

// Retrieve reads back the article named by t. what selects head, body,
// full article, or a zero-length stat probe.
func (b *Backend) Retrieve(t token.Token, what What) ([]byte, error) {
	path := b.pathForToken(t)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New("timehash.Retrieve", errs.KindNotFound, err)
		}
		return nil, errs.New("timehash.Retrieve", errs.KindInternal, err)
	}
	if what == Stat {
		return nil, nil
	}
	if what == All {
		return raw, nil
	}
	sep := []byte("\r\n\r\n")
	idx := bytes.Index(raw, sep)
	if idx < 0 {
		if what == Head {
			return raw, nil
		}
		return nil, errs.New("timehash.Retrieve", errs.KindInternal, errors.New("no body separator"))
	}
	if what == Head {
		return raw[:idx+2], nil
	}
	if idx+4 >= len(raw) {
		return nil, errs.New("timehash.Retrieve", errs.KindInternal, errors.New("no body"))
	}
	return raw[idx+4:], nil
}

// Cancel unlinks the article's file. A missing file (already cancelled)
// is reported as KindNotFound rather than an internal error (cancel is
// absorbing, per spec P3).
func (b *Backend) Cancel(t token.Token) error {
	path := b.pathForToken(t)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return errs.New("timehash.Cancel", errs.KindNotFound, err)
		}
		return errs.New("timehash.Cancel", errs.KindInternal, err)
	}
	return nil
}

// Probe answers backend-specific questions about a stored article
// without reading its bytes, per spec §4.C2's probe(token, question)
// side channel. "path" returns the on-disk path the token resolves to;
// "arrived" returns the bucket arrival time encoded in the token.
func (b *Backend) Probe(t token.Token, question string) (artio.Answer, error) {
	path := b.pathForToken(t)
	switch question {
	case "path":
		return artio.Answer{Text: path}, nil
	case "arrived":
		arrived, _ := b.decodeToken(t)
		return artio.Answer{Text: time.Unix(int64(arrived), 0).UTC().Format(time.RFC3339)}, nil
	default:
		return artio.Answer{}, errs.New("timehash.Probe", errs.KindInternal, fmt.Errorf("unknown probe question %q", question))
	}
}

var entryRE = regexp.MustCompile(`^[0-9A-Fa-f]{4}-[0-9A-Fa-f]{4}$`)
var dirRE = regexp.MustCompile(`^time-[0-9A-Fa-f]{2}$`)
var byteRE = regexp.MustCompile(`^[0-9A-Fa-f]{2}$`)

// Next walks the spool tree, calling fn once per article file found.
// Entries not matching the exact time-CC/XX/XX/ssss-TTTT layout are
// skipped, tolerant of foreign files, per spec §4.C3. The walk uses
// absolute paths throughout rather than the legacy relative-path
// shortcut fastrm.c's author could not re-derive (spec §9 Open
// Questions).
func (b *Backend) Next(fn func(t token.Token, path string) error) error {
	root, err := filepath.Abs(b.root)
	if err != nil {
		return errs.New("timehash.Next", errs.KindInternal, err)
	}
	topEntries, err := os.ReadDir(root)
	if err != nil {
		return errs.New("timehash.Next", errs.KindInternal, err)
	}
	for _, top := range topEntries {
		if !top.IsDir() || !dirRE.MatchString(top.Name()) {
			continue
		}
		var class uint8
		fmt.Sscanf(top.Name()[5:], "%02X", &class)
		l1Path := filepath.Join(root, top.Name())
		l1Entries, err := os.ReadDir(l1Path)
		if err != nil {
			continue
		}
		for _, l1 := range l1Entries {
			if !l1.IsDir() || !byteRE.MatchString(l1.Name()) {
				continue
			}
			l2Path := filepath.Join(l1Path, l1.Name())
			l2Entries, err := os.ReadDir(l2Path)
			if err != nil {
				continue
			}
			for _, l2 := range l2Entries {
				if !l2.IsDir() || !byteRE.MatchString(l2.Name()) {
					continue
				}
				filePath := filepath.Join(l2Path, l2.Name())
				files, err := os.ReadDir(filePath)
				if err != nil {
					continue
				}
				for _, f := range files {
					if f.IsDir() || !entryRE.MatchString(f.Name()) {
						continue
					}
					var seq, rest uint32
					fmt.Sscanf(f.Name(), "%04X-%04X", &seq, &rest)
					var hh1, hh2 uint32
					fmt.Sscanf(l1.Name(), "%02X", &hh1)
					fmt.Sscanf(l2.Name(), "%02X", &hh2)
					arrived := hh1<<24 | hh2<<16 | rest
					t := b.tokenFor(class, arrived, uint16(seq))
					if err := fn(t, filepath.Join(filePath, f.Name())); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// checksum computes the murmur3 digest of data, used by callers that
// want an integrity check independent of the filesystem (e.g. audit
// tooling); timehash itself relies on O_EXCL and whole-file writes for
// correctness rather than per-record checksums, unlike buffindexed's
// packed blocks.
func checksum(data []byte) uint32 {
	h := murmur3.New32()
	_, _ = h.Write(data)
	return h.Sum32()
}

// Verify re-reads the article at t and reports whether its length
// matches what the filesystem records, a cheap sanity check usable by
// an audit pass.
func (b *Backend) Verify(t token.Token) error {
	path := b.pathForToken(t)
	f, err := os.Open(path)
	if err != nil {
		return errs.New("timehash.Verify", errs.KindNotFound, err)
	}
	defer f.Close()
	var total int64
	buf := make([]byte, 64*1024)
	for {
		n, rerr := f.Read(buf)
		total += int64(n)
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return errs.New("timehash.Verify", errs.KindCorrupt, rerr)
		}
	}
	if total == 0 {
		return errs.New("timehash.Verify", errs.KindCorrupt, errors.New("empty article file"))
	}
	if fi, err := f.Stat(); err == nil && fi.Size() != total {
		return errs.New("timehash.Verify", errs.KindCorrupt, errors.New("read length differs from file size"))
	}
	atomic.AddInt64(&verifyCount, 1)
	return nil
}

var verifyCount int64
