package config

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseScalarsAndLists(t *testing.T) {
	src := `
# a comment
server: news.example.com;
port: 119;
acl: ["trusted.example.com", "other.example.com"];
`
	b, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	server, ok := b.Get("server")
	if !ok || server != "news.example.com" {
		t.Fatalf("server = %q, ok=%v", server, ok)
	}
	port, ok := b.Get("port")
	if !ok || port != "119" {
		t.Fatalf("port = %q, ok=%v", port, ok)
	}
	acl, ok := b.GetList("acl")
	if !ok || len(acl) != 2 || acl[0] != "trusted.example.com" {
		t.Fatalf("acl = %v, ok=%v", acl, ok)
	}
}

func TestParseNestedBlock(t *testing.T) {
	src := `
group peer1 {
	hostname: "peer.example.com";
}
`
	b, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Blocks) != 1 {
		t.Fatalf("got %d nested blocks, want 1", len(b.Blocks))
	}
	child := b.Blocks[0]
	if child.Name != "group" || child.Tag != "peer1" {
		t.Fatalf("got name=%q tag=%q", child.Name, child.Tag)
	}
	host, ok := child.Get("hostname")
	if !ok || host != "peer.example.com" {
		t.Fatalf("hostname = %q, ok=%v", host, ok)
	}
}

func TestParseUnterminatedBlockErrors(t *testing.T) {
	src := `group peer1 {
	hostname: "x";
`
	if _, err := Parse(strings.NewReader(src)); err == nil {
		t.Fatal("expected an error for an unterminated block")
	}
}

func TestValidateRequiredAndTypes(t *testing.T) {
	src := `port: notanumber;`
	b, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	schema := []Field{
		{Key: "server", Required: true, Kind: KindString},
		{Key: "port", Required: false, Kind: KindInt},
	}
	errs := Validate(b, schema, false)
	if len(errs) != 2 {
		t.Fatalf("got %d violations, want 2: %v", len(errs), errs)
	}
}

func TestValidateStrictRejectsUnknownKeys(t *testing.T) {
	src := `server: news.example.com; mystery: 1;`
	b, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	schema := []Field{{Key: "server", Required: true, Kind: KindString}}
	if errs := Validate(b, schema, false); len(errs) != 0 {
		t.Fatalf("permissive validate should ignore unknown keys, got %v", errs)
	}
	if errs := Validate(b, schema, true); len(errs) != 1 {
		t.Fatalf("strict validate should flag the unknown key, got %v", errs)
	}
}

func TestParseAcceptsNewlineAsStatementTerminator(t *testing.T) {
	src := `
server: news.example.com
port: 119
acl: [trusted.example.com, other.example.com]

group peer1 {
	hostname: peer.example.com
}
`
	b, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	server, ok := b.Get("server")
	if !ok || server != "news.example.com" {
		t.Fatalf("server = %q, ok=%v", server, ok)
	}
	acl, ok := b.GetList("acl")
	if !ok || len(acl) != 2 {
		t.Fatalf("acl = %v, ok=%v", acl, ok)
	}
	if len(b.Blocks) != 1 || b.Blocks[0].Tag != "peer1" {
		t.Fatalf("got blocks %+v", b.Blocks)
	}
}

func TestParseRejectsMissingTerminatorOnSameLine(t *testing.T) {
	src := `server: news.example.com port: 119;`
	if _, err := Parse(strings.NewReader(src)); err == nil {
		t.Fatal("expected an error for two statements on one line without ';'")
	}
}

func TestBlockStringRoundTrips(t *testing.T) {
	src := `
server: news.example.com;
port: 119;
acl: ["trusted.example.com", "other.example.com"];
group peer1 {
	hostname: "peer.example.com";
}
`
	orig, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	rendered := orig.String()
	reparsed, err := Parse(strings.NewReader(rendered))
	if err != nil {
		t.Fatalf("re-parsing rendered config failed: %v\nrendered:\n%s", err, rendered)
	}
	if !reflect.DeepEqual(orig, reparsed) {
		t.Fatalf("round trip mismatch:\noriginal: %+v\nreparsed: %+v\nrendered:\n%s", orig, reparsed, rendered)
	}
}

func TestBool(t *testing.T) {
	cases := map[string]bool{"true": true, "yes": true, "1": true, "false": false, "no": false, "": false}
	for in, want := range cases {
		if got := Bool(in); got != want {
			t.Fatalf("Bool(%q) = %v, want %v", in, got, want)
		}
	}
}
