package compiler

import (
	"fmt"
	"strconv"
)

// ---------------------------------------------------------------------------
// Token kinds for the IMP lexer
// ---------------------------------------------------------------------------

// TokenKind identifies the lexical class of a token.
type TokenKind int

const (
	// Special tokens
	TokenEOF TokenKind = iota
	TokenError

	// Keywords
	TokenFunc
	TokenLet
	TokenReturn
	TokenWhile
	TokenIf
	TokenElse

	// Literals and names
	TokenIdent
	TokenString
	TokenInt

	// Delimiters
	TokenLParen
	TokenRParen
	TokenLBrace
	TokenRBrace
	TokenColon
	TokenComma
	TokenSemi

	// Operators
	TokenEqual  // =
	TokenEquals // ==
	TokenPlus
	TokenSub
	TokenMul
)

var tokenNames = map[TokenKind]string{
	TokenEOF:    "EOF",
	TokenError:  "ERROR",
	TokenFunc:   "FUNC",
	TokenLet:    "LET",
	TokenReturn: "RETURN",
	TokenWhile:  "WHILE",
	TokenIf:     "IF",
	TokenElse:   "ELSE",
	TokenIdent:  "IDENT",
	TokenString: "STRING",
	TokenInt:    "INT",
	TokenLParen: "LPAREN",
	TokenRParen: "RPAREN",
	TokenLBrace: "LBRACE",
	TokenRBrace: "RBRACE",
	TokenColon:  "COLON",
	TokenComma:  "COMMA",
	TokenSemi:   "SEMI",
	TokenEqual:  "EQUAL",
	TokenEquals: "EQUALS",
	TokenPlus:   "PLUS",
	TokenSub:    "SUB",
	TokenMul:    "MUL",
}

func (k TokenKind) String() string {
	if name, ok := tokenNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", int(k))
}

// Keywords mapped to their token kinds.
var keywords = map[string]TokenKind{
	"func":   TokenFunc,
	"let":    TokenLet,
	"return": TokenReturn,
	"while":  TokenWhile,
	"if":     TokenIf,
	"else":   TokenElse,
}

// Keywords returns the reserved words of the language.
func Keywords() []string {
	return []string{"func", "let", "return", "while", "if", "else"}
}

// ---------------------------------------------------------------------------
// Location
// ---------------------------------------------------------------------------

// Location is a position in a named source.
type Location struct {
	Name   string
	Line   int // 1-based
	Column int // 1-based
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d:%d", l.Name, l.Line, l.Column)
}

// ---------------------------------------------------------------------------
// Token
// ---------------------------------------------------------------------------

// Token is a lexical token. Depending on its kind it carries an identifier,
// a string literal, an integer, or (for TokenError) a lexer message.
type Token struct {
	Kind TokenKind
	Loc  Location

	text  string
	value uint64
}

// Is reports whether the token has the given kind.
func (t Token) Is(kind TokenKind) bool {
	return t.Kind == kind
}

// Ident returns the identifier name. The token must be an IDENT.
func (t Token) Ident() string {
	t.mustBe(TokenIdent)
	return t.text
}

// Str returns the decoded string literal. The token must be a STRING.
func (t Token) Str() string {
	t.mustBe(TokenString)
	return t.text
}

// Int returns the integer payload. The token must be an INT.
func (t Token) Int() uint64 {
	t.mustBe(TokenInt)
	return t.value
}

// Message returns the lexer diagnostic of an ERROR token.
func (t Token) Message() string {
	t.mustBe(TokenError)
	return t.text
}

func (t Token) mustBe(kind TokenKind) {
	if t.Kind != kind {
		panic(fmt.Sprintf("compiler: %s payload requested from %s token at %s", kind, t.Kind, t.Loc))
	}
}

func (t Token) String() string {
	switch t.Kind {
	case TokenIdent:
		return fmt.Sprintf("IDENT(%s)", t.text)
	case TokenString:
		return fmt.Sprintf("STRING(%s)", strconv.Quote(t.text))
	case TokenInt:
		return fmt.Sprintf("INT(%d)", t.value)
	case TokenError:
		return fmt.Sprintf("ERROR(%s)", t.text)
	}
	return t.Kind.String()
}
