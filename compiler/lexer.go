package compiler

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Lexer: Tokenizer for IMP source
// ---------------------------------------------------------------------------

// TokenSource supplies tokens with one token of lookahead. Current returns
// the lookahead token without consuming it; Advance consumes it and returns
// the new current token. The end of the stream is a TokenEOF token, and
// Advance keeps returning it once reached.
type TokenSource interface {
	Current() Token
	Advance() Token
}

// Lexer tokenizes IMP source code. It implements TokenSource.
type Lexer struct {
	name    string
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      rune // current character
	line    int  // line of ch (1-based)
	col     int  // column of ch (1-based)

	cur Token
}

// NewLexer creates a lexer over input. The name is used in token locations.
// The first token is read immediately.
func NewLexer(name, input string) *Lexer {
	l := &Lexer{
		name:  name,
		input: input,
		line:  1,
		col:   0,
	}
	l.readChar()
	l.cur = l.next()
	return l
}

// Current returns the lookahead token.
func (l *Lexer) Current() Token {
	return l.cur
}

// Advance consumes the lookahead token and returns the next one.
func (l *Lexer) Advance() Token {
	if l.cur.Kind != TokenEOF {
		l.cur = l.next()
	}
	return l.cur
}

// readChar reads the next character.
func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.col = 0
	}
	if l.readPos >= len(l.input) {
		l.ch = 0 // EOF
		l.pos = l.readPos
		l.col++
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	l.ch = r
	l.pos = l.readPos
	l.readPos += size
	l.col++
}

// peekChar returns the next character without consuming it.
func (l *Lexer) peekChar() rune {
	if l.readPos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPos:])
	return r
}

func (l *Lexer) location() Location {
	return Location{Name: l.name, Line: l.line, Column: l.col}
}

func (l *Lexer) atEOF() bool {
	return l.pos >= len(l.input)
}

// next scans one token.
func (l *Lexer) next() Token {
	l.skipWhitespaceAndComments()

	loc := l.location()
	simple := func(kind TokenKind) Token {
		l.readChar()
		return Token{Kind: kind, Loc: loc}
	}

	switch {
	case l.atEOF():
		return Token{Kind: TokenEOF, Loc: loc}
	case l.ch == '(':
		return simple(TokenLParen)
	case l.ch == ')':
		return simple(TokenRParen)
	case l.ch == '{':
		return simple(TokenLBrace)
	case l.ch == '}':
		return simple(TokenRBrace)
	case l.ch == ':':
		return simple(TokenColon)
	case l.ch == ',':
		return simple(TokenComma)
	case l.ch == ';':
		return simple(TokenSemi)
	case l.ch == '+':
		return simple(TokenPlus)
	case l.ch == '-':
		return simple(TokenSub)
	case l.ch == '*':
		return simple(TokenMul)
	case l.ch == '=':
		l.readChar()
		if l.ch == '=' {
			l.readChar()
			return Token{Kind: TokenEquals, Loc: loc}
		}
		return Token{Kind: TokenEqual, Loc: loc}
	case l.ch == '"':
		return l.readString(loc)
	case isDigit(l.ch):
		return l.readInt(loc)
	case isIdentStart(l.ch):
		return l.readIdentOrKeyword(loc)
	default:
		ch := l.ch
		l.readChar()
		return errorToken(loc, "unexpected character %q", ch)
	}
}

func errorToken(loc Location, format string, args ...any) Token {
	return Token{Kind: TokenError, Loc: loc, text: fmt.Sprintf(format, args...)}
}

// skipWhitespaceAndComments skips whitespace and // line comments.
func (l *Lexer) skipWhitespaceAndComments() {
	for {
		for !l.atEOF() && (l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r') {
			l.readChar()
		}
		if !l.atEOF() && l.ch == '/' && l.peekChar() == '/' {
			for !l.atEOF() && l.ch != '\n' {
				l.readChar()
			}
			continue
		}
		return
	}
}

// readString reads a double-quoted string literal.
func (l *Lexer) readString(loc Location) Token {
	l.readChar() // consume opening "

	var sb strings.Builder
	for {
		if l.atEOF() || l.ch == '\n' {
			return errorToken(loc, "unterminated string")
		}
		if l.ch == '"' {
			l.readChar()
			return Token{Kind: TokenString, Loc: loc, text: sb.String()}
		}
		if l.ch == '\\' {
			l.readChar()
			switch l.ch {
			case '"', '\\':
				sb.WriteRune(l.ch)
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			default:
				if l.atEOF() {
					return errorToken(loc, "unterminated string")
				}
				return errorToken(l.location(), "unknown escape sequence \\%c", l.ch)
			}
			l.readChar()
			continue
		}
		sb.WriteRune(l.ch)
		l.readChar()
	}
}

// readInt reads an unsigned decimal integer literal.
func (l *Lexer) readInt(loc Location) Token {
	start := l.pos
	var value uint64
	overflow := false
	for !l.atEOF() && isDigit(l.ch) {
		d := uint64(l.ch - '0')
		if value > (math.MaxUint64-d)/10 {
			overflow = true
		}
		value = value*10 + d
		l.readChar()
	}
	if overflow {
		return errorToken(loc, "integer literal %s overflows 64 bits", l.input[start:l.pos])
	}
	return Token{Kind: TokenInt, Loc: loc, value: value}
}

// readIdentOrKeyword reads an identifier or a reserved word.
func (l *Lexer) readIdentOrKeyword(loc Location) Token {
	start := l.pos
	for !l.atEOF() && (isIdentStart(l.ch) || isDigit(l.ch)) {
		l.readChar()
	}
	literal := l.input[start:l.pos]
	if kind, ok := keywords[literal]; ok {
		return Token{Kind: kind, Loc: loc}
	}
	return Token{Kind: TokenIdent, Loc: loc, text: literal}
}

// Helper functions

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func isIdentStart(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// Tokenize returns all tokens from the input, ending with EOF or the first
// ERROR token.
func Tokenize(name, input string) []Token {
	l := NewLexer(name, input)
	var tokens []Token
	for tok := l.Current(); ; tok = l.Advance() {
		tokens = append(tokens, tok)
		if tok.Kind == TokenEOF || tok.Kind == TokenError {
			break
		}
	}
	return tokens
}
