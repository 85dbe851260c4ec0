package errs

import (
	"errors"
	"testing"
)

func TestIsMatchesKind(t *testing.T) {
	cause := errors.New("boom")
	err := New("op", KindNotFound, cause)
	if !Is(err, KindNotFound) {
		t.Fatal("expected Is to match KindNotFound")
	}
	if Is(err, KindCorrupt) {
		t.Fatal("expected Is not to match KindCorrupt")
	}
}

func TestIsRejectsPlainErrors(t *testing.T) {
	if Is(errors.New("plain"), KindNotFound) {
		t.Fatal("plain error should never match a Kind")
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := New("op", KindInternal, cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to see through Unwrap to cause")
	}
}

func TestErrorStringIncludesKindAndOp(t *testing.T) {
	err := New("widget.Frob", KindBusy, nil)
	s := err.Error()
	if s == "" {
		t.Fatal("expected non-empty error string")
	}
	if !contains(s, "widget.Frob") || !contains(s, "busy") {
		t.Fatalf("error string %q missing op or kind", s)
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
