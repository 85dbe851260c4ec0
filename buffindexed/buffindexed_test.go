package buffindexed

import (
	"path/filepath"
	"testing"

	"github.com/InterNetNews/inncore/errs"
	"github.com/InterNetNews/inncore/token"
)

func openTestBackend(t *testing.T) *Backend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "buffer.dat")
	b, err := Open(path, 1, 64)
	if err != nil {
		t.Skipf("buffindexed backend unavailable in this environment: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestGroupAddAndStats(t *testing.T) {
	b := openTestBackend(t)
	if err := b.GroupAdd("misc.test", Stats{Low: 1, High: 0, Count: 0}); err != nil {
		t.Fatal(err)
	}
	stats, err := b.GroupStats("misc.test")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Low != 1 {
		t.Fatalf("Low = %d, want 1", stats.Low)
	}
}

func TestGroupAddIsIdempotent(t *testing.T) {
	b := openTestBackend(t)
	if err := b.GroupAdd("misc.test", Stats{Low: 1}); err != nil {
		t.Fatal(err)
	}
	if err := b.GroupAdd("misc.test", Stats{Low: 5}); err != nil {
		t.Fatal(err)
	}
	stats, err := b.GroupStats("misc.test")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Low != 1 {
		t.Fatal("expected second GroupAdd to be a no-op")
	}
}

func TestAddAndSearch(t *testing.T) {
	b := openTestBackend(t)
	if err := b.GroupAdd("misc.test", Stats{Low: 1}); err != nil {
		t.Fatal(err)
	}
	tok := token.Token{Type: BackendType}
	for i := int64(1); i <= 3; i++ {
		line := []byte("Subject: article")
		if err := b.Add("misc.test", i, line, tok); err != nil {
			t.Fatal(err)
		}
	}
	sr, err := b.Search("misc.test", 1, 3)
	if err != nil {
		t.Fatal(err)
	}
	defer sr.Close()
	var count int
	for {
		rec, err := sr.Next()
		if err != nil {
			t.Fatal(err)
		}
		if rec == nil {
			break
		}
		count++
	}
	if count != 3 {
		t.Fatalf("got %d records, want 3", count)
	}
}

func TestAddStoresCallersToken(t *testing.T) {
	b := openTestBackend(t)
	if err := b.GroupAdd("misc.test", Stats{Low: 1}); err != nil {
		t.Fatal(err)
	}
	tok := token.Token{Type: 7, Class: 1, Payload: [16]byte{1, 2, 3}}
	if err := b.Add("misc.test", 1, []byte("Subject: hi"), tok); err != nil {
		t.Fatal(err)
	}
	sr, err := b.Search("misc.test", 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer sr.Close()
	rec, err := sr.Next()
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || rec.Token != tok {
		t.Fatalf("got %+v, want token %+v", rec, tok)
	}
	got, err := b.Token("misc.test", 1)
	if err != nil {
		t.Fatal(err)
	}
	if got != tok {
		t.Fatalf("Token() = %+v, want %+v", got, tok)
	}
}

func TestCancelTombstonesEntry(t *testing.T) {
	b := openTestBackend(t)
	if err := b.GroupAdd("misc.test", Stats{Low: 1}); err != nil {
		t.Fatal(err)
	}
	tok := token.Token{Type: BackendType}
	if err := b.Add("misc.test", 1, []byte("x"), tok); err != nil {
		t.Fatal(err)
	}
	if err := b.Cancel("misc.test", 1); err != nil {
		t.Fatal(err)
	}
	sr, err := b.Search("misc.test", 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer sr.Close()
	rec, err := sr.Next()
	if err != nil {
		t.Fatal(err)
	}
	if rec != nil {
		t.Fatal("expected cancelled entry to be skipped by Search")
	}
}

func TestSearchMissingGroup(t *testing.T) {
	b := openTestBackend(t)
	if _, err := b.Search("nonexistent", 1, 10); !errs.Is(err, errs.KindNotFound) {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
}

func TestAddAllocatesAcrossDataBlocks(t *testing.T) {
	b := openTestBackend(t)
	if err := b.GroupAdd("big.group", Stats{Low: 1}); err != nil {
		t.Fatal(err)
	}
	big := make([]byte, BlockSize-100)
	tok := token.Token{Type: BackendType}
	if err := b.Add("big.group", 1, big, tok); err != nil {
		t.Fatal(err)
	}
	if err := b.Add("big.group", 2, big, tok); err != nil {
		t.Fatal(err)
	}
	sr, err := b.Search("big.group", 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer sr.Close()
	for i := 0; i < 2; i++ {
		rec, err := sr.Next()
		if err != nil {
			t.Fatal(err)
		}
		if rec == nil {
			t.Fatal("expected two records")
		}
		if len(rec.Line) != len(big) {
			t.Fatalf("record %d length = %d, want %d", i, len(rec.Line), len(big))
		}
	}
}
