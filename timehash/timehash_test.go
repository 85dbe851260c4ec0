package timehash

import (
	"bytes"
	"testing"
	"time"

	"github.com/InterNetNews/inncore/errs"
	"github.com/InterNetNews/inncore/token"
)

func TestStoreRetrieveRoundTrip(t *testing.T) {
	b, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	article := []byte("Subject: hi\r\nFrom: a@b\r\n\r\nbody text\r\n")
	tok, err := b.Store(article, 0, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	got, err := b.Retrieve(tok, All)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, article) {
		t.Fatalf("got %q, want %q", got, article)
	}
}

func TestProbePath(t *testing.T) {
	b, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	article := []byte("Subject: hi\r\n\r\nbody\r\n")
	tok, err := b.Store(article, 0, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	ans, err := b.Probe(tok, "path")
	if err != nil {
		t.Fatal(err)
	}
	if ans.Text != b.pathForToken(tok) {
		t.Fatalf("got %q, want %q", ans.Text, b.pathForToken(tok))
	}
	if _, err := b.Probe(tok, "nonsense"); err == nil {
		t.Fatal("expected an error for an unknown probe question")
	}
}

func TestRetrieveHeadBody(t *testing.T) {
	b, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	article := []byte("Subject: hi\r\n\r\nbody\r\n")
	tok, err := b.Store(article, 0, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	head, err := b.Retrieve(tok, Head)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(head, []byte("Subject: hi\r\n")) {
		t.Fatalf("unexpected head: %q", head)
	}
	body, err := b.Retrieve(tok, Body)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(body, []byte("body\r\n")) {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	b, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	tok, err := b.Store([]byte("x\r\n\r\ny\r\n"), 0, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Cancel(tok); err != nil {
		t.Fatal(err)
	}
	if err := b.Cancel(tok); !errs.Is(err, errs.KindNotFound) {
		t.Fatalf("second cancel should report KindNotFound, got %v", err)
	}
	if _, err := b.Retrieve(tok, All); !errs.Is(err, errs.KindNotFound) {
		t.Fatalf("expected KindNotFound after cancel, got %v", err)
	}
}

func TestStoreDistinctSequenceForSameSecond(t *testing.T) {
	b, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	t1, err := b.Store([]byte("one\r\n\r\nbody\r\n"), 0, now)
	if err != nil {
		t.Fatal(err)
	}
	t2, err := b.Store([]byte("two\r\n\r\nbody\r\n"), 0, now)
	if err != nil {
		t.Fatal(err)
	}
	if t1 == t2 {
		t.Fatal("expected distinct tokens for two stores in the same second")
	}
}

func TestNextEnumeratesStoredArticles(t *testing.T) {
	b, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	want, err := b.Store([]byte("a\r\n\r\nb\r\n"), 0, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	err = b.Next(func(tok token.Token, path string) error {
		if tok == want {
			found = true
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected Next to visit the stored article")
	}
}
