package overview

import (
	"path/filepath"
	"testing"

	"github.com/InterNetNews/inncore/buffindexed"
	"github.com/InterNetNews/inncore/token"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "buffer.dat")
	b, err := buffindexed.Open(path, 1, 64)
	if err != nil {
		t.Skipf("buffindexed backend unavailable in this environment: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return New(b, OptCacheSize(16))
}

func TestAddThenLineServesFromCache(t *testing.T) {
	s := openTestStore(t)
	if err := s.GroupAdd("misc.test", buffindexed.Stats{Low: 1}); err != nil {
		t.Fatal(err)
	}
	tok := token.Token{Type: 1}
	if err := s.Add("misc.test", 1, []byte("Subject: hi"), tok); err != nil {
		t.Fatal(err)
	}
	line, err := s.Line("misc.test", 1)
	if err != nil {
		t.Fatal(err)
	}
	if string(line) != "Subject: hi" {
		t.Fatalf("got %q", line)
	}
}

func TestCancelEvictsCache(t *testing.T) {
	s := openTestStore(t)
	if err := s.GroupAdd("misc.test", buffindexed.Stats{Low: 1}); err != nil {
		t.Fatal(err)
	}
	tok := token.Token{Type: 1}
	if err := s.Add("misc.test", 1, []byte("x"), tok); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Line("misc.test", 1); err != nil {
		t.Fatal(err)
	}
	if err := s.Cancel("misc.test", 1); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Line("misc.test", 1); err == nil {
		t.Fatal("expected Line to fail after cancel")
	}
}

func TestToken(t *testing.T) {
	s := openTestStore(t)
	if err := s.GroupAdd("misc.test", buffindexed.Stats{Low: 1}); err != nil {
		t.Fatal(err)
	}
	tok := token.Token{Type: 1, Payload: [16]byte{9}}
	if err := s.Add("misc.test", 1, []byte("Subject: hi"), tok); err != nil {
		t.Fatal(err)
	}
	got, err := s.Token("misc.test", 1)
	if err != nil {
		t.Fatal(err)
	}
	if got != tok {
		t.Fatalf("got %+v, want %+v", got, tok)
	}
	if _, err := s.Token("misc.test", 2); err == nil {
		t.Fatal("expected an error for a number with no stored token")
	}
}

func TestCacheEvictsOldestOverCapacity(t *testing.T) {
	s := openTestStore(t)
	if err := s.GroupAdd("misc.test", buffindexed.Stats{Low: 1}); err != nil {
		t.Fatal(err)
	}
	tok := token.Token{Type: 1}
	for i := int64(1); i <= 20; i++ {
		if err := s.Add("misc.test", i, []byte("line"), tok); err != nil {
			t.Fatal(err)
		}
	}
	s.mu.Lock()
	n := s.ll.Len()
	s.mu.Unlock()
	if n > 16 {
		t.Fatalf("cache length = %d, want <= 16", n)
	}
	if _, ok := s.get("misc.test", 1); ok {
		t.Fatal("oldest entry (1) should have been evicted")
	}
	if _, ok := s.get("misc.test", 20); !ok {
		t.Fatal("newest entry (20) should still be cached")
	}
}
