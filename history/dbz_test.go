package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/InterNetNews/inncore/errs"
	"github.com/InterNetNews/inncore/token"
)

func openTestDBZ(t *testing.T) *DBZ {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "history"), 100)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestStoreAndLookup(t *testing.T) {
	d := openTestDBZ(t)
	now := time.Now()
	tok := token.Token{Type: 1}
	res, err := d.Store("<a@b>", now, time.Time{}, tok)
	if err != nil {
		t.Fatal(err)
	}
	if res != StoreOK {
		t.Fatalf("got %v, want StoreOK", res)
	}
	entry, err := d.Lookup("<a@b>")
	if err != nil {
		t.Fatal(err)
	}
	if entry.Token != tok {
		t.Fatalf("got token %+v, want %+v", entry.Token, tok)
	}
	if !entry.Expires.IsZero() {
		t.Fatalf("expected zero Expires, got %v", entry.Expires)
	}
}

func TestStoreDuplicateReturnsExists(t *testing.T) {
	d := openTestDBZ(t)
	now := time.Now()
	tok := token.Token{Type: 1}
	if _, err := d.Store("<dup@b>", now, time.Time{}, tok); err != nil {
		t.Fatal(err)
	}
	res, err := d.Store("<dup@b>", now, time.Time{}, token.Token{Type: 2})
	if err != nil {
		t.Fatal(err)
	}
	if res != StoreExists {
		t.Fatalf("got %v, want StoreExists", res)
	}
	entry, err := d.Lookup("<dup@b>")
	if err != nil {
		t.Fatal(err)
	}
	if entry.Token != tok {
		t.Fatal("expected original token to remain unchanged")
	}
}

func TestLookupMissing(t *testing.T) {
	d := openTestDBZ(t)
	if _, err := d.Lookup("<missing@b>"); !errs.Is(err, errs.KindNotFound) {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
	if d.Exists("<missing@b>") {
		t.Fatal("Exists should be false for an absent message-id")
	}
}

func TestCancelTombstonesWithoutRemovingSlot(t *testing.T) {
	d := openTestDBZ(t)
	tok := token.Token{Type: 1}
	if _, err := d.Store("<c@b>", time.Now(), time.Time{}, tok); err != nil {
		t.Fatal(err)
	}
	if !d.Cancel("<c@b>") {
		t.Fatal("expected Cancel to find the entry")
	}
	if _, err := d.Lookup("<c@b>"); !errs.Is(err, errs.KindNotFound) {
		t.Fatalf("expected KindNotFound after cancel, got %v", err)
	}
	if d.Exists("<c@b>") {
		t.Fatal("Exists should be false for a cancelled message-id")
	}
	// The slot must stay occupied (not reopened as vacant): re-storing the
	// same message-id still reports StoreExists rather than re-inserting,
	// per spec P6 idempotence.
	res, err := d.Store("<c@b>", time.Now(), time.Time{}, token.Token{Type: 2})
	if err != nil {
		t.Fatal(err)
	}
	if res != StoreExists {
		t.Fatalf("got %v, want StoreExists for a re-stored cancelled message-id", res)
	}
}

func TestCancelMissingReturnsFalse(t *testing.T) {
	d := openTestDBZ(t)
	if d.Cancel("<nope@b>") {
		t.Fatal("expected Cancel on a missing message-id to return false")
	}
}

func TestRebuildPreservesEntries(t *testing.T) {
	d := openTestDBZ(t)
	tok := token.Token{Type: 3}
	if _, err := d.Store("<r@b>", time.Now(), time.Time{}, tok); err != nil {
		t.Fatal(err)
	}
	v0 := d.Version()
	if err := d.Rebuild(); err != nil {
		t.Fatal(err)
	}
	if d.Version() != v0+1 {
		t.Fatalf("version = %d, want %d", d.Version(), v0+1)
	}
	entry, err := d.Lookup("<r@b>")
	if err != nil {
		t.Fatal(err)
	}
	if entry.Token != tok {
		t.Fatal("token should survive rebuild")
	}
}
