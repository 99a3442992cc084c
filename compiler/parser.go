package compiler

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Parser: Recursive descent parser for IMP
// ---------------------------------------------------------------------------

// Parser builds an AST from a token source. Its only state is the token
// source's position; it never buffers more than the current token.
type Parser struct {
	tokens TokenSource
}

// NewParser creates a parser reading from the given token source.
func NewParser(tokens TokenSource) *Parser {
	return &Parser{tokens: tokens}
}

// ParseSource lexes and parses a whole source file.
func ParseSource(name, src string) (*Module, error) {
	m, err := NewParser(NewLexer(name, src)).ParseModule()
	if err != nil {
		return nil, err
	}
	m.Name = name
	return m, nil
}

// bailout carries the first syntax error up to the public entry point.
type bailout struct {
	err *SyntaxError
}

// recoverSyntaxError converts a bailout panic into an error return.
func (p *Parser) recoverSyntaxError(errp *error) {
	if r := recover(); r != nil {
		b, ok := r.(bailout)
		if !ok {
			panic(r)
		}
		*errp = b.err
	}
}

// error aborts parsing with a syntax error at loc.
func (p *Parser) error(loc Location, format string, args ...any) {
	panic(bailout{err: &SyntaxError{Loc: loc, Msg: fmt.Sprintf(format, args...)}})
}

// current returns the lookahead token, surfacing lexer errors.
func (p *Parser) current() Token {
	tok := p.tokens.Current()
	if tok.Kind == TokenError {
		p.error(tok.Loc, "%s", tok.Message())
	}
	return tok
}

// advance consumes the current token and returns the next one.
func (p *Parser) advance() Token {
	p.tokens.Advance()
	return p.current()
}

// expect advances to the next token and asserts that it has the given kind.
func (p *Parser) expect(kind TokenKind) Token {
	p.advance()
	return p.check(kind)
}

// check asserts that the current token has the given kind without
// advancing.
func (p *Parser) check(kind TokenKind) Token {
	tok := p.current()
	if tok.Kind != kind {
		p.error(tok.Loc, "unexpected %s, expecting %s", tok, kind)
	}
	return tok
}

// ---------------------------------------------------------------------------
// Top-level parsing
// ---------------------------------------------------------------------------

// ParseModule parses declarations and top-level statements until the end of
// the token stream.
func (p *Parser) ParseModule() (m *Module, err error) {
	defer p.recoverSyntaxError(&err)

	m = &Module{}
	for tok := p.current(); !tok.Is(TokenEOF); tok = p.current() {
		if tok.Is(TokenFunc) {
			m.Body = append(m.Body, p.parseDecl())
		} else {
			m.Body = append(m.Body, p.parseStmt())
		}
	}
	return m, nil
}

// ParseExpression parses a single expression that must span the whole
// token stream.
func (p *Parser) ParseExpression() (x Expr, err error) {
	defer p.recoverSyntaxError(&err)

	x = p.parseExpr()
	p.check(TokenEOF)
	return x, nil
}

// parseDecl parses a function declaration or a primitive binding.
func (p *Parser) parseDecl() TopLevel {
	loc := p.check(TokenFunc).Loc
	name := p.expect(TokenIdent).Ident()
	p.expect(TokenLParen)

	var params []Param
	for !p.advance().Is(TokenRParen) {
		ident := p.check(TokenIdent)
		p.expect(TokenColon)
		typ := p.expect(TokenIdent).Ident()
		params = append(params, Param{Loc: ident.Loc, Name: ident.Ident(), Type: typ})

		if !p.advance().Is(TokenComma) {
			break
		}
	}
	p.check(TokenRParen)

	p.expect(TokenColon)
	returnType := p.expect(TokenIdent).Ident()

	if p.advance().Is(TokenEqual) {
		primitive := p.expect(TokenString).Str()
		p.advance()
		return &ProtoDecl{
			Loc:        loc,
			Name:       name,
			Params:     params,
			ReturnType: returnType,
			Primitive:  primitive,
		}
	}

	return &FuncDecl{
		Loc:        loc,
		Name:       name,
		Params:     params,
		ReturnType: returnType,
		Body:       p.parseBlockStmt(),
	}
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// parseStmt parses a single statement.
func (p *Parser) parseStmt() Stmt {
	tok := p.current()
	switch tok.Kind {
	case TokenReturn:
		return p.parseReturnStmt()
	case TokenWhile:
		return p.parseWhileStmt()
	case TokenIf:
		return p.parseIfStmt()
	case TokenLet:
		return p.parseLetStmt()
	case TokenLBrace:
		return p.parseBlockStmt()
	default:
		stmt := &ExprStmt{Loc: tok.Loc, X: p.parseExpr()}
		p.check(TokenSemi)
		p.advance()
		return stmt
	}
}

// parseBlockStmt parses { stmt* }.
func (p *Parser) parseBlockStmt() *BlockStmt {
	block := &BlockStmt{Loc: p.check(TokenLBrace).Loc}
	p.advance()
	for !p.current().Is(TokenRBrace) {
		if p.current().Is(TokenEOF) {
			p.check(TokenRBrace)
		}
		block.Stmts = append(block.Stmts, p.parseStmt())
	}
	p.check(TokenRBrace)
	p.advance()
	return block
}

// parseReturnStmt parses return expr ;
func (p *Parser) parseReturnStmt() *ReturnStmt {
	loc := p.check(TokenReturn).Loc
	p.advance()
	x := p.parseExpr()
	p.check(TokenSemi)
	p.advance()
	return &ReturnStmt{Loc: loc, X: x}
}

// parseWhileStmt parses while ( expr ) stmt
func (p *Parser) parseWhileStmt() *WhileStmt {
	loc := p.check(TokenWhile).Loc
	cond := p.parseCondition()
	body := p.parseStmt()
	return &WhileStmt{Loc: loc, Cond: cond, Body: body}
}

// parseIfStmt parses if ( expr ) stmt [else stmt]
func (p *Parser) parseIfStmt() *IfStmt {
	loc := p.check(TokenIf).Loc
	cond := p.parseCondition()
	then := p.parseStmt()

	var els Stmt
	if p.current().Is(TokenElse) {
		p.advance()
		els = p.parseStmt()
	}
	return &IfStmt{Loc: loc, Cond: cond, Then: then, Else: els}
}

// parseCondition parses the parenthesised condition following while/if.
func (p *Parser) parseCondition() Expr {
	p.expect(TokenLParen)
	p.advance()
	cond := p.parseExpr()
	p.check(TokenRParen)
	p.advance()
	return cond
}

// parseLetStmt parses let name : type = expr ;
func (p *Parser) parseLetStmt() *LetStmt {
	loc := p.check(TokenLet).Loc
	ident := p.expect(TokenIdent)
	p.expect(TokenColon)
	typ := p.expect(TokenIdent).Ident()
	p.expect(TokenEqual)
	p.advance()
	init := p.parseExpr()
	p.check(TokenSemi)
	p.advance()
	return &LetStmt{
		Loc:     loc,
		Binding: Param{Loc: ident.Loc, Name: ident.Ident(), Type: typ},
		Init:    init,
	}
}

// ---------------------------------------------------------------------------
// Expressions (tightest binding first)
// ---------------------------------------------------------------------------

// parseExpr parses an expression. Equality binds loosest.
func (p *Parser) parseExpr() Expr {
	return p.parseEqualityExpr()
}

// parseTermExpr parses an identifier or an integer literal.
func (p *Parser) parseTermExpr() Expr {
	tok := p.current()
	switch tok.Kind {
	case TokenIdent:
		p.advance()
		return &RefExpr{Loc: tok.Loc, Name: tok.Ident()}
	case TokenInt:
		p.advance()
		return &IntExpr{Loc: tok.Loc, Value: tok.Int()}
	default:
		p.error(tok.Loc, "unexpected %s, expecting term", tok)
		return nil
	}
}

// parseCallExpr parses a term followed by any number of argument lists,
// applied left to right: f(x)(y) calls the result of f(x).
func (p *Parser) parseCallExpr() Expr {
	callee := p.parseTermExpr()
	for p.current().Is(TokenLParen) {
		loc := p.current().Loc
		var args []Expr
		for !p.advance().Is(TokenRParen) {
			args = append(args, p.parseExpr())
			if !p.current().Is(TokenComma) {
				break
			}
		}
		p.check(TokenRParen)
		p.advance()
		callee = &CallExpr{Loc: loc, Callee: callee, Args: args}
	}
	return callee
}

// parseMulExpr parses left-associative multiplication.
func (p *Parser) parseMulExpr() Expr {
	term := p.parseCallExpr()
	for p.current().Is(TokenMul) {
		loc := p.current().Loc
		p.advance()
		rhs := p.parseCallExpr()
		term = &BinaryExpr{Loc: loc, Op: OpMul, LHS: term, RHS: rhs}
	}
	return term
}

// parseAddSubExpr parses left-associative addition and subtraction.
func (p *Parser) parseAddSubExpr() Expr {
	term := p.parseMulExpr()
	for p.current().Is(TokenPlus) || p.current().Is(TokenSub) {
		tok := p.current()
		op := OpAdd
		if tok.Is(TokenSub) {
			op = OpSub
		}
		p.advance()
		rhs := p.parseMulExpr()
		term = &BinaryExpr{Loc: tok.Loc, Op: op, LHS: term, RHS: rhs}
	}
	return term
}

// parseEqualityExpr parses left-associative ==.
func (p *Parser) parseEqualityExpr() Expr {
	term := p.parseAddSubExpr()
	for p.current().Is(TokenEquals) {
		loc := p.current().Loc
		p.advance()
		rhs := p.parseAddSubExpr()
		term = &BinaryExpr{Loc: loc, Op: OpEquals, LHS: term, RHS: rhs}
	}
	return term
}
