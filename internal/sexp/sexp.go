package sexp

import (
	"fmt"
	"strconv"
	"strings"

	"rattle/internal/ast"
)

// ---------------------------------------------------------------------------
// ParseError
// ---------------------------------------------------------------------------

// ParseError is returned when the reader cannot consume the input.  Remaining
// holds up to 100 characters of unconsumed input for the CLI error report.
type ParseError struct {
	Msg       string
	Pos       ast.Position
	Remaining string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d, col %d: %s", e.Pos.Line, e.Pos.Column, e.Msg)
}

// maxRemaining caps the unconsumed-input excerpt attached to a ParseError.
const maxRemaining = 100

// ---------------------------------------------------------------------------
// Reader
//
// The surface syntax is parenthesised tuples:
//
//	(do
//	  (assign x 5)             ; tagged construct
//	  (puts "hello")           ; implicit call
//	  (callm obj bar (:a 1)))  ; atom literal :a
//
// Atoms are :name, strings are double-quoted with the usual escapes,
// integers are decimal (optionally negative).  ; starts a line comment.
// ---------------------------------------------------------------------------

type reader struct {
	src  string
	pos  int
	line int
	col  int
}

// Parse reads every toplevel form in src.  Zero forms yield nil, one form is
// returned as-is, several are wrapped in a (do ...) node.
func Parse(src string) (ast.Value, error) {
	r := &reader{src: src, line: 1, col: 1}
	var forms []ast.Value
	for {
		r.skipSpace()
		if r.eof() {
			break
		}
		v, err := r.readValue()
		if err != nil {
			return nil, err
		}
		forms = append(forms, v)
	}
	switch len(forms) {
	case 0:
		return nil, nil
	case 1:
		return forms[0], nil
	default:
		return ast.New(append([]ast.Value{ast.Sym("do")}, forms...)...), nil
	}
}

func (r *reader) eof() bool {
	return r.pos >= len(r.src)
}

func (r *reader) peek() byte {
	return r.src[r.pos]
}

func (r *reader) advance() byte {
	c := r.src[r.pos]
	r.pos++
	if c == '\n' {
		r.line++
		r.col = 1
	} else {
		r.col++
	}
	return c
}

func (r *reader) here() ast.Position {
	return ast.Position{Line: r.line, Column: r.col}
}

func (r *reader) errorf(pos ast.Position, format string, args ...interface{}) *ParseError {
	rest := r.src[r.pos:]
	if len(rest) > maxRemaining {
		rest = rest[:maxRemaining]
	}
	return &ParseError{
		Msg:       fmt.Sprintf(format, args...),
		Pos:       pos,
		Remaining: rest,
	}
}

func (r *reader) skipSpace() {
	for !r.eof() {
		c := r.peek()
		if c == ';' {
			for !r.eof() && r.peek() != '\n' {
				r.advance()
			}
			continue
		}
		if c == ' ' || c == '\t' || c == '\r' || c == '\n' {
			r.advance()
			continue
		}
		return
	}
}

func isDelim(c byte) bool {
	return c == '(' || c == ')' || c == ';' ||
		c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

func (r *reader) readValue() (ast.Value, error) {
	pos := r.here()
	c := r.peek()
	switch {
	case c == '(':
		return r.readList()
	case c == ')':
		return nil, r.errorf(pos, "unexpected ')'")
	case c == '"':
		return r.readString()
	case c == ':':
		r.advance()
		name := r.readToken()
		if name == "" {
			return nil, r.errorf(pos, "empty atom")
		}
		return ast.Atom(name), nil
	default:
		tok := r.readToken()
		if tok == "" {
			return nil, r.errorf(pos, "unexpected character %q", c)
		}
		if looksNumeric(tok) {
			n, err := strconv.ParseInt(tok, 10, 64)
			if err != nil {
				return nil, r.errorf(pos, "bad integer literal %q", tok)
			}
			return ast.Int(n), nil
		}
		return ast.Sym(tok), nil
	}
}

func looksNumeric(tok string) bool {
	i := 0
	if tok[0] == '-' {
		if len(tok) == 1 {
			return false
		}
		i = 1
	}
	return tok[i] >= '0' && tok[i] <= '9'
}

func (r *reader) readToken() string {
	start := r.pos
	for !r.eof() && !isDelim(r.peek()) {
		r.advance()
	}
	return r.src[start:r.pos]
}

func (r *reader) readList() (ast.Value, error) {
	open := r.here()
	r.advance() // consume '('
	var elems []ast.Value
	for {
		r.skipSpace()
		if r.eof() {
			return nil, r.errorf(open, "unterminated list")
		}
		if r.peek() == ')' {
			r.advance()
			pos := open
			return ast.NewAt(&pos, elems...), nil
		}
		v, err := r.readValue()
		if err != nil {
			return nil, err
		}
		elems = append(elems, v)
	}
}

func (r *reader) readString() (ast.Value, error) {
	pos := r.here()
	r.advance() // consume opening quote
	var b strings.Builder
	for {
		if r.eof() {
			return nil, r.errorf(pos, "unterminated string literal")
		}
		c := r.advance()
		switch c {
		case '"':
			return ast.Str(b.String()), nil
		case '\\':
			if r.eof() {
				return nil, r.errorf(pos, "unterminated string literal")
			}
			e := r.advance()
			switch e {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '0':
				b.WriteByte(0)
			case '"', '\\':
				b.WriteByte(e)
			default:
				b.WriteByte(e)
			}
		default:
			b.WriteByte(c)
		}
	}
}
