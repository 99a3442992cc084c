package compiler

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// AST: Abstract Syntax Tree for IMP
// ---------------------------------------------------------------------------

// Node is the interface implemented by all AST nodes.
type Node interface {
	Pos() Location
	String() string
	node() // marker method
}

// Module is a parsed translation unit.
type Module struct {
	Name string
	Body []TopLevel
}

// TopLevel is a module-level item: a *ProtoDecl, a *FuncDecl, or a Stmt.
type TopLevel interface {
	Node
	topLevel() // marker method
}

// Param is a (name, type) pair. It is used for function parameters and for
// the binding of a let statement.
type Param struct {
	Loc  Location
	Name string
	Type string
}

func (p Param) String() string { return p.Name + ": " + p.Type }

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

// ProtoDecl binds a function signature to a host primitive. It has no body.
type ProtoDecl struct {
	Loc        Location
	Name       string
	Params     []Param
	ReturnType string
	Primitive  string
}

func (n *ProtoDecl) Pos() Location { return n.Loc }
func (n *ProtoDecl) node()         {}
func (n *ProtoDecl) topLevel()     {}

func (n *ProtoDecl) String() string {
	return fmt.Sprintf("ProtoDecl(%s, [%s], %s, %q)", n.Name, joinParams(n.Params), n.ReturnType, n.Primitive)
}

// FuncDecl is a function with a compiled body.
type FuncDecl struct {
	Loc        Location
	Name       string
	Params     []Param
	ReturnType string
	Body       *BlockStmt
}

func (n *FuncDecl) Pos() Location { return n.Loc }
func (n *FuncDecl) node()         {}
func (n *FuncDecl) topLevel()     {}

func (n *FuncDecl) String() string {
	return fmt.Sprintf("FuncDecl(%s, [%s], %s, %s)", n.Name, joinParams(n.Params), n.ReturnType, n.Body)
}

// Signature renders the declaration header as written in source.
func Signature(name string, params []Param, returnType string) string {
	return fmt.Sprintf("func %s(%s): %s", name, joinParams(params), returnType)
}

func joinParams(params []Param) string {
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = p.String()
	}
	return strings.Join(parts, ", ")
}

// ---------------------------------------------------------------------------
// Statement nodes
// ---------------------------------------------------------------------------

// Stmt is the interface for statement nodes. Statements may also appear at
// the top level of a module.
type Stmt interface {
	TopLevel
	stmt() // marker method
}

// ExprStmt evaluates an expression and discards its value.
type ExprStmt struct {
	Loc Location
	X   Expr
}

// ReturnStmt returns a value from the enclosing function.
type ReturnStmt struct {
	Loc Location
	X   Expr
}

// WhileStmt repeats Body while Cond is non-zero.
type WhileStmt struct {
	Loc  Location
	Cond Expr
	Body Stmt
}

// IfStmt runs Then when Cond is non-zero, Else (if present) otherwise.
type IfStmt struct {
	Loc  Location
	Cond Expr
	Then Stmt
	Else Stmt // nil when there is no else branch
}

// LetStmt introduces a local variable.
type LetStmt struct {
	Loc     Location
	Binding Param
	Init    Expr
}

// BlockStmt is a brace-delimited statement sequence.
type BlockStmt struct {
	Loc   Location
	Stmts []Stmt
}

func (n *ExprStmt) Pos() Location   { return n.Loc }
func (n *ReturnStmt) Pos() Location { return n.Loc }
func (n *WhileStmt) Pos() Location  { return n.Loc }
func (n *IfStmt) Pos() Location     { return n.Loc }
func (n *LetStmt) Pos() Location    { return n.Loc }
func (n *BlockStmt) Pos() Location  { return n.Loc }

func (n *ExprStmt) node()   {}
func (n *ReturnStmt) node() {}
func (n *WhileStmt) node()  {}
func (n *IfStmt) node()     {}
func (n *LetStmt) node()    {}
func (n *BlockStmt) node()  {}

func (n *ExprStmt) topLevel()   {}
func (n *ReturnStmt) topLevel() {}
func (n *WhileStmt) topLevel()  {}
func (n *IfStmt) topLevel()     {}
func (n *LetStmt) topLevel()    {}
func (n *BlockStmt) topLevel()  {}

func (n *ExprStmt) stmt()   {}
func (n *ReturnStmt) stmt() {}
func (n *WhileStmt) stmt()  {}
func (n *IfStmt) stmt()     {}
func (n *LetStmt) stmt()    {}
func (n *BlockStmt) stmt()  {}

func (n *ExprStmt) String() string   { return fmt.Sprintf("ExprStmt(%s)", n.X) }
func (n *ReturnStmt) String() string { return fmt.Sprintf("ReturnStmt(%s)", n.X) }
func (n *WhileStmt) String() string  { return fmt.Sprintf("WhileStmt(%s, %s)", n.Cond, n.Body) }
func (n *LetStmt) String() string    { return fmt.Sprintf("LetStmt(%s, %s)", n.Binding, n.Init) }

func (n *IfStmt) String() string {
	if n.Else == nil {
		return fmt.Sprintf("IfStmt(%s, %s)", n.Cond, n.Then)
	}
	return fmt.Sprintf("IfStmt(%s, %s, %s)", n.Cond, n.Then, n.Else)
}

func (n *BlockStmt) String() string {
	parts := make([]string, len(n.Stmts))
	for i, s := range n.Stmts {
		parts[i] = s.String()
	}
	return "BlockStmt([" + strings.Join(parts, ", ") + "])"
}

// ---------------------------------------------------------------------------
// Expression nodes
// ---------------------------------------------------------------------------

// Expr is the interface for expression nodes.
type Expr interface {
	Node
	expr() // marker method
}

// BinaryOp is the operator of a BinaryExpr.
type BinaryOp int

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpEquals
)

var binaryOpNames = [...]string{
	OpAdd:    "ADD",
	OpSub:    "SUB",
	OpMul:    "MUL",
	OpEquals: "EQUALS",
}

func (op BinaryOp) String() string {
	if int(op) < len(binaryOpNames) {
		return binaryOpNames[op]
	}
	return fmt.Sprintf("BinaryOp(%d)", int(op))
}

// RefExpr names a local, a parameter, or a declared function.
type RefExpr struct {
	Loc  Location
	Name string
}

// IntExpr is an unsigned integer literal.
type IntExpr struct {
	Loc   Location
	Value uint64
}

// CallExpr applies Callee to Args.
type CallExpr struct {
	Loc    Location
	Callee Expr
	Args   []Expr
}

// BinaryExpr is a binary arithmetic or comparison.
type BinaryExpr struct {
	Loc Location
	Op  BinaryOp
	LHS Expr
	RHS Expr
}

func (n *RefExpr) Pos() Location    { return n.Loc }
func (n *IntExpr) Pos() Location    { return n.Loc }
func (n *CallExpr) Pos() Location   { return n.Loc }
func (n *BinaryExpr) Pos() Location { return n.Loc }

func (n *RefExpr) node()    {}
func (n *IntExpr) node()    {}
func (n *CallExpr) node()   {}
func (n *BinaryExpr) node() {}

func (n *RefExpr) expr()    {}
func (n *IntExpr) expr()    {}
func (n *CallExpr) expr()   {}
func (n *BinaryExpr) expr() {}

func (n *RefExpr) String() string { return n.Name }
func (n *IntExpr) String() string { return fmt.Sprintf("%d", n.Value) }

func (n *CallExpr) String() string {
	callee := n.Callee.String()
	if _, ok := n.Callee.(*RefExpr); ok {
		callee = "RefExpr(" + callee + ")"
	}
	args := make([]string, len(n.Args))
	for i, a := range n.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("CallExpr(%s, [%s])", callee, strings.Join(args, ", "))
}

func (n *BinaryExpr) String() string {
	return fmt.Sprintf("BinaryExpr(%s, %s, %s)", n.Op, n.LHS, n.RHS)
}

// Dump renders a module one top-level item per line.
func Dump(m *Module) string {
	var sb strings.Builder
	for _, item := range m.Body {
		sb.WriteString(item.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}
