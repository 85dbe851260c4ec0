// Package config implements the block-structured recursive parser
// described in spec §4.C10 for inn.conf-style files: "key: value;"
// pairs and "group [tag] { ... }" nested blocks, with typed,
// schema-driven validation. Grounded on the teacher's package.go
// option-struct-with-defaults idiom, generalized from compile-time
// struct tags to a runtime schema so both inn.conf and
// inn-secrets.conf can share one parser.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/InterNetNews/inncore/errs"
)

// Value is one parsed scalar or list value.
type Value struct {
	Scalar string
	List   []string
	IsList bool
}

// Block is one parsed "name [tag] { ... }" group, or the implicit
// top-level block of a file.
type Block struct {
	Name   string
	Tag    string
	Pairs  map[string]Value
	Blocks []*Block
}

// Get returns the scalar value of key, or ok=false if absent.
func (b *Block) Get(key string) (string, bool) {
	v, ok := b.Pairs[key]
	if !ok || v.IsList {
		return "", false
	}
	return v.Scalar, true
}

// GetList returns the list value of key, or ok=false if absent.
func (b *Block) GetList(key string) ([]string, bool) {
	v, ok := b.Pairs[key]
	if !ok || !v.IsList {
		return nil, false
	}
	return v.List, true
}

// String renders b back into config source text. Keys within a block
// are emitted in sorted order (Pairs is a map and carries no source
// order); child blocks keep their parsed order. Re-parsing the result
// yields a structurally equal Block, per spec P10.
func (b *Block) String() string {
	var sb strings.Builder
	_ = b.Write(&sb)
	return sb.String()
}

// Write serializes b's pairs and child blocks to w. The receiver's own
// Name/Tag are not written; callers serializing a child block as a
// standalone document should wrap the output themselves.
func (b *Block) Write(w io.Writer) error {
	return writeBlockBody(w, b, 0)
}

func writeBlockBody(w io.Writer, b *Block, depth int) error {
	indent := strings.Repeat("\t", depth)
	keys := make([]string, 0, len(b.Pairs))
	for k := range b.Pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := b.Pairs[k]
		var rendered string
		if v.IsList {
			items := make([]string, len(v.List))
			for i, item := range v.List {
				items[i] = quoteIfNeeded(item)
			}
			rendered = "[" + strings.Join(items, ", ") + "]"
		} else {
			rendered = quoteIfNeeded(v.Scalar)
		}
		if _, err := fmt.Fprintf(w, "%s%s: %s;\n", indent, k, rendered); err != nil {
			return err
		}
	}
	for _, child := range b.Blocks {
		header := child.Name
		if child.Tag != "" {
			header += " " + quoteIfNeeded(child.Tag)
		}
		if _, err := fmt.Fprintf(w, "%s%s {\n", indent, header); err != nil {
			return err
		}
		if err := writeBlockBody(w, child, depth+1); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s}\n", indent); err != nil {
			return err
		}
	}
	return nil
}

// quoteIfNeeded wraps s in a backslash-escaped quoted string unless
// every byte is a valid bare identifier byte, matching what the lexer
// will accept back as a single tokIdent without quoting.
func quoteIfNeeded(s string) string {
	needsQuote := s == ""
	for i := 0; i < len(s) && !needsQuote; i++ {
		if !isIdentByte(s[i]) {
			needsQuote = true
		}
	}
	if !needsQuote {
		return s
	}
	var sb strings.Builder
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' || c == '\\' {
			sb.WriteByte('\\')
		}
		sb.WriteByte(c)
	}
	sb.WriteByte('"')
	return sb.String()
}

// Parse reads a config file's top-level block from r.
func Parse(r io.Reader) (*Block, error) {
	data, err := io.ReadAll(bufio.NewReader(r))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	p := newLexer(string(data))
	root := &Block{Pairs: make(map[string]Value)}
	if err := parseBlockBody(p, root, false); err != nil {
		return nil, err
	}
	return root, nil
}

// ParseFile opens and parses path.
func ParseFile(path string) (*Block, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.New("config.ParseFile", errs.KindNotFound, err)
	}
	defer f.Close()
	b, err := Parse(f)
	if err != nil {
		return nil, errs.New("config.ParseFile", errs.KindInternal, err)
	}
	return b, nil
}

// token kinds produced by the lexer.
const (
	tokEOF = iota
	tokIdent
	tokString
	tokColon
	tokLBrace
	tokRBrace
	tokLBracket
	tokRBracket
	tokComma
	tokSemi
)

type token struct {
	kind int
	text string
	line int
}

type lexer struct {
	src     string
	pos     int
	line    int
	pending *token
}

func newLexer(src string) *lexer {
	return &lexer{src: src, line: 1}
}

func (l *lexer) skipSpaceAndComments() {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '\n' {
			l.line++
			l.pos++
			continue
		}
		if c == ' ' || c == '\t' || c == '\r' {
			l.pos++
			continue
		}
		if c == '#' {
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
			continue
		}
		break
	}
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '-' || c == '.' || c == '/' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// next returns the pending lookahead token if peek was called, else
// reads a fresh one from the source.
func (l *lexer) next() (token, error) {
	if l.pending != nil {
		tok := *l.pending
		l.pending = nil
		return tok, nil
	}
	return l.rawNext()
}

// peek returns the next token without consuming it, caching it for the
// following next() call. Used to decide whether a bare newline (rather
// than a literal ';') already terminated a statement, per spec §4.C10.
func (l *lexer) peek() (token, error) {
	if l.pending == nil {
		tok, err := l.rawNext()
		if err != nil {
			return token{}, err
		}
		l.pending = &tok
	}
	return *l.pending, nil
}

func (l *lexer) rawNext() (token, error) {
	l.skipSpaceAndComments()
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, line: l.line}, nil
	}
	c := l.src[l.pos]
	line := l.line
	switch c {
	case ':':
		l.pos++
		return token{kind: tokColon, line: line}, nil
	case '{':
		l.pos++
		return token{kind: tokLBrace, line: line}, nil
	case '}':
		l.pos++
		return token{kind: tokRBrace, line: line}, nil
	case '[':
		l.pos++
		return token{kind: tokLBracket, line: line}, nil
	case ']':
		l.pos++
		return token{kind: tokRBracket, line: line}, nil
	case ',':
		l.pos++
		return token{kind: tokComma, line: line}, nil
	case ';':
		l.pos++
		return token{kind: tokSemi, line: line}, nil
	case '"':
		return l.lexString(line)
	}
	if isIdentByte(c) {
		start := l.pos
		for l.pos < len(l.src) && isIdentByte(l.src[l.pos]) {
			l.pos++
		}
		return token{kind: tokIdent, text: l.src[start:l.pos], line: line}, nil
	}
	return token{}, fmt.Errorf("config: unexpected character %q at line %d", c, line)
}

func (l *lexer) lexString(line int) (token, error) {
	l.pos++ // opening quote
	var sb strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '"' {
			l.pos++
			return token{kind: tokString, text: sb.String(), line: line}, nil
		}
		if c == '\\' && l.pos+1 < len(l.src) {
			l.pos++
			sb.WriteByte(l.src[l.pos])
			l.pos++
			continue
		}
		if c == '\n' {
			l.line++
		}
		sb.WriteByte(c)
		l.pos++
	}
	return token{}, fmt.Errorf("config: unterminated string starting at line %d", line)
}

// parseBlockBody consumes key:value and nested-block statements until a
// "}" (nested) or EOF (top level).
func parseBlockBody(l *lexer, b *Block, nested bool) error {
	for {
		tok, err := l.next()
		if err != nil {
			return err
		}
		switch tok.kind {
		case tokEOF:
			if nested {
				return fmt.Errorf("config: unexpected EOF inside block opened before line %d", tok.line)
			}
			return nil
		case tokRBrace:
			if !nested {
				return fmt.Errorf("config: unexpected '}' at line %d", tok.line)
			}
			return nil
		case tokIdent:
			if err := parseStatement(l, b, tok); err != nil {
				return err
			}
		default:
			return fmt.Errorf("config: unexpected token at line %d", tok.line)
		}
	}
}

// parseStatement parses the remainder of one statement whose leading
// identifier (name) has already been consumed: either "name: value;",
// "name: [a, b];", or "name [tag] { ... }".
func parseStatement(l *lexer, b *Block, name token) error {
	tok, err := l.next()
	if err != nil {
		return err
	}
	switch tok.kind {
	case tokColon:
		return parseAssignment(l, b, name.text)
	case tokLBrace:
		child := &Block{Name: name.text, Pairs: make(map[string]Value)}
		if err := parseBlockBody(l, child, true); err != nil {
			return err
		}
		b.Blocks = append(b.Blocks, child)
		return nil
	case tokIdent, tokString:
		tag := tok.text
		brace, err := l.next()
		if err != nil {
			return err
		}
		if brace.kind != tokLBrace {
			return fmt.Errorf("config: expected '{' after %q %q at line %d", name.text, tag, brace.line)
		}
		child := &Block{Name: name.text, Tag: tag, Pairs: make(map[string]Value)}
		if err := parseBlockBody(l, child, true); err != nil {
			return err
		}
		b.Blocks = append(b.Blocks, child)
		return nil
	default:
		return fmt.Errorf("config: expected ':' or '{' after %q at line %d", name.text, tok.line)
	}
}

func parseAssignment(l *lexer, b *Block, key string) error {
	tok, err := l.next()
	if err != nil {
		return err
	}
	if tok.kind == tokLBracket {
		list, closeLine, err := parseList(l)
		if err != nil {
			return err
		}
		b.Pairs[key] = Value{List: list, IsList: true}
		return expectTerminator(l, closeLine)
	}
	if tok.kind != tokIdent && tok.kind != tokString {
		return fmt.Errorf("config: expected value for %q at line %d", key, tok.line)
	}
	b.Pairs[key] = Value{Scalar: tok.text}
	return expectTerminator(l, tok.line)
}

// parseList consumes "item, item, ...]" after the opening "[" has
// already been read, returning the items and the line the closing "]"
// appeared on (needed by expectTerminator to detect a following
// newline).
func parseList(l *lexer) ([]string, int, error) {
	var items []string
	for {
		tok, err := l.next()
		if err != nil {
			return nil, 0, err
		}
		switch tok.kind {
		case tokRBracket:
			return items, tok.line, nil
		case tokIdent, tokString:
			items = append(items, tok.text)
			sep, err := l.next()
			if err != nil {
				return nil, 0, err
			}
			if sep.kind == tokRBracket {
				return items, sep.line, nil
			}
			if sep.kind != tokComma {
				return nil, 0, fmt.Errorf("config: expected ',' or ']' at line %d", sep.line)
			}
		default:
			return nil, 0, fmt.Errorf("config: expected list item at line %d", tok.line)
		}
	}
}

// expectTerminator accepts the statement terminator following a value
// that ended on valueLine: a literal ';' (consumed), or an implicit
// terminator that is left unconsumed for the caller to see next —
// end of input, a block-closing '}', or a newline in the source
// before the next token. Per spec §4.C10, a bare newline is a synonym
// for ';'; only a same-line continuation without ';' is an error.
func expectTerminator(l *lexer, valueLine int) error {
	tok, err := l.peek()
	if err != nil {
		return err
	}
	switch tok.kind {
	case tokSemi:
		_, _ = l.next()
		return nil
	case tokEOF, tokRBrace:
		return nil
	}
	if tok.line > valueLine {
		return nil
	}
	return fmt.Errorf("config: expected ';' or newline at line %d", tok.line)
}

// Field describes one schema-validated parameter, per spec §4.C10's
// typed-schema validation requirement.
type Field struct {
	Key      string
	Required bool
	Kind     FieldKind
}

// FieldKind is the type a Field's value must parse as.
type FieldKind int

const (
	KindString FieldKind = iota
	KindInt
	KindBool
	KindStringList
)

// Validate checks b against schema, returning all violations found
// rather than stopping at the first (so a misconfigured inn.conf
// reports every problem in one pass). strict, when true, also rejects
// keys present in b but absent from schema.
func Validate(b *Block, schema []Field, strict bool) []error {
	var errsOut []error
	known := make(map[string]bool, len(schema))
	for _, f := range schema {
		known[f.Key] = true
		v, ok := b.Pairs[f.Key]
		if !ok {
			if f.Required {
				errsOut = append(errsOut, fmt.Errorf("config: missing required key %q", f.Key))
			}
			continue
		}
		switch f.Kind {
		case KindInt:
			if v.IsList {
				errsOut = append(errsOut, fmt.Errorf("config: key %q must be an integer", f.Key))
				continue
			}
			if _, err := strconv.ParseInt(v.Scalar, 10, 64); err != nil {
				errsOut = append(errsOut, fmt.Errorf("config: key %q is not an integer: %q", f.Key, v.Scalar))
			}
		case KindBool:
			if v.IsList {
				errsOut = append(errsOut, fmt.Errorf("config: key %q must be a boolean", f.Key))
				continue
			}
			switch strings.ToLower(v.Scalar) {
			case "true", "false", "yes", "no", "1", "0":
			default:
				errsOut = append(errsOut, fmt.Errorf("config: key %q is not a boolean: %q", f.Key, v.Scalar))
			}
		case KindStringList:
			if !v.IsList {
				errsOut = append(errsOut, fmt.Errorf("config: key %q must be a list", f.Key))
			}
		case KindString:
			if v.IsList {
				errsOut = append(errsOut, fmt.Errorf("config: key %q must be a scalar", f.Key))
			}
		}
	}
	if strict {
		for key := range b.Pairs {
			if !known[key] {
				errsOut = append(errsOut, fmt.Errorf("config: unknown key %q", key))
			}
		}
	}
	return errsOut
}

// Bool parses an inn.conf-style boolean value.
func Bool(s string) bool {
	switch strings.ToLower(s) {
	case "true", "yes", "1":
		return true
	default:
		return false
	}
}
