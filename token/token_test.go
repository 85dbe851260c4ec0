package token

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tok := Token{Type: 1, Class: 2}
	copy(tok.Payload[:], []byte{0xAB, 0xCD, 0xEF})
	s := tok.Encode()
	if len(s) != 38 {
		t.Fatalf("encoded length = %d, want 38", len(s))
	}
	if s[0] != '@' || s[len(s)-1] != '@' {
		t.Fatalf("encoded form missing @ delimiters: %q", s)
	}
	got, err := DecodeToken(s)
	if err != nil {
		t.Fatal(err)
	}
	if got != tok {
		t.Fatalf("got %+v, want %+v", got, tok)
	}
}

func TestDecodeTokenRejectsBadLength(t *testing.T) {
	if _, err := DecodeToken("@ABCD@"); err == nil {
		t.Fatal("expected error for short token")
	}
}

func TestDecodeTokenRejectsMissingDelimiters(t *testing.T) {
	if _, err := DecodeToken("not-a-token"); err == nil {
		t.Fatal("expected error for malformed token")
	}
}

func TestIsNull(t *testing.T) {
	if !NullToken.IsNull() {
		t.Fatal("NullToken should be null")
	}
	var z Token
	if !z.IsNull() {
		t.Fatal("zero Token should be null")
	}
	nz := Token{Type: 1}
	if nz.IsNull() {
		t.Fatal("non-zero Token should not be null")
	}
}

func TestLessOrdering(t *testing.T) {
	a := Token{Type: 1}
	b := Token{Type: 2}
	if !a.Less(b) {
		t.Fatal("expected a < b by Type byte")
	}
	if b.Less(a) {
		t.Fatal("expected b not < a")
	}
}
