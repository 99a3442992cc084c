package compiler

import (
	"fmt"

	"github.com/chazu/imp/vm"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("imp.compiler")

// ---------------------------------------------------------------------------
// Codegen: Compile AST to bytecode
// ---------------------------------------------------------------------------

// Compiler lowers a parsed module to a single Program. The top-level
// statements become the entry code at address 0, terminated by STOP; each
// function body follows it and ends with an implicit "return 0".
type Compiler struct {
	builder *vm.Builder

	funcs  map[string]*vm.Label // function name -> entry label
	protos map[string]string    // declared name -> primitive name

	scopes []map[string]uint32 // local name -> frame slot, innermost last
	slots  uint32              // live slots in the current frame
	errors CompileErrors
}

// NewCompiler creates a new compiler.
func NewCompiler() *Compiler {
	return &Compiler{}
}

// Errors returns accumulated compilation errors.
func (c *Compiler) Errors() CompileErrors {
	return c.errors
}

func (c *Compiler) errorAt(loc Location, format string, args ...any) {
	c.errors = append(c.errors, &CompileError{Loc: loc, Msg: fmt.Sprintf(format, args...)})
}

// CompileModule generates bytecode for m. It assumes m passed Analyze;
// any name it cannot resolve is still reported as a CompileError.
func (c *Compiler) CompileModule(m *Module) (*vm.Program, error) {
	c.builder = vm.NewBuilder()
	c.funcs = make(map[string]*vm.Label)
	c.protos = make(map[string]string)
	c.errors = nil

	// Hoist declarations so that any function can be referenced anywhere.
	var funcs []*FuncDecl
	for _, item := range m.Body {
		switch d := item.(type) {
		case *FuncDecl:
			if _, dup := c.funcs[d.Name]; !dup {
				c.funcs[d.Name] = c.builder.NewLabel()
				funcs = append(funcs, d)
			}
		case *ProtoDecl:
			if _, dup := c.protos[d.Name]; !dup {
				c.protos[d.Name] = d.Primitive
				// Every binding is imported so that linking checks it.
				c.builder.Primitive(d.Primitive)
			}
		}
	}

	// Entry code.
	c.beginFrame(nil)
	for _, item := range m.Body {
		if stmt, ok := item.(Stmt); ok {
			c.compileStmt(stmt)
		}
	}
	c.builder.Emit(vm.OpStop)

	for _, fn := range funcs {
		c.compileFunc(fn)
	}

	if len(c.errors) > 0 {
		return nil, c.errors
	}
	prog, err := c.builder.Build()
	if err != nil {
		return nil, err
	}
	log.Debugf("compiled %s: %d bytes, %d functions, %d primitives", m.Name, prog.Len(), len(funcs), len(prog.Primitives()))
	return prog, nil
}

// compileFunc emits a function body at its entry label.
func (c *Compiler) compileFunc(fn *FuncDecl) {
	c.builder.Mark(c.funcs[fn.Name])
	c.beginFrame(fn.Params)
	c.compileStmt(fn.Body)

	// Falling off the end returns 0.
	c.builder.EmitInt64(vm.OpPushInt, 0)
	c.builder.Emit(vm.OpRet)
}

// beginFrame starts a new frame whose first slots are params.
func (c *Compiler) beginFrame(params []Param) {
	scope := make(map[string]uint32, len(params))
	for i, p := range params {
		scope[p.Name] = uint32(i)
	}
	c.scopes = []map[string]uint32{scope}
	c.slots = uint32(len(params))
}

// ---------------------------------------------------------------------------
// Scopes
// ---------------------------------------------------------------------------

// enterScope opens a lexical scope and returns the slot count to restore.
func (c *Compiler) enterScope() uint32 {
	c.scopes = append(c.scopes, map[string]uint32{})
	return c.slots
}

// exitScope closes the innermost scope, popping every local it declared.
func (c *Compiler) exitScope(mark uint32) {
	for ; c.slots > mark; c.slots-- {
		c.builder.Emit(vm.OpPop)
	}
	c.scopes = c.scopes[:len(c.scopes)-1]
}

func (c *Compiler) lookupLocal(name string) (uint32, bool) {
	for i := len(c.scopes) - 1; i >= 0; i-- {
		if slot, ok := c.scopes[i][name]; ok {
			return slot, true
		}
	}
	return 0, false
}

// ---------------------------------------------------------------------------
// Statement compilation
// ---------------------------------------------------------------------------

// compileScoped compiles a branch or loop body so that its locals are
// popped before control leaves it.
func (c *Compiler) compileScoped(stmt Stmt) {
	mark := c.enterScope()
	c.compileStmt(stmt)
	c.exitScope(mark)
}

func (c *Compiler) compileStmt(stmt Stmt) {
	switch s := stmt.(type) {
	case *ExprStmt:
		c.compileExpr(s.X)
		c.builder.Emit(vm.OpPop)

	case *ReturnStmt:
		c.compileExpr(s.X)
		c.builder.Emit(vm.OpRet)

	case *LetStmt:
		// The value stays on the stack as the new slot.
		c.compileExpr(s.Init)
		c.scopes[len(c.scopes)-1][s.Binding.Name] = c.slots
		c.slots++

	case *BlockStmt:
		mark := c.enterScope()
		for _, inner := range s.Stmts {
			c.compileStmt(inner)
		}
		c.exitScope(mark)

	case *WhileStmt:
		top := c.builder.NewLabel()
		end := c.builder.NewLabel()
		c.builder.Mark(top)
		c.compileExpr(s.Cond)
		c.builder.EmitLabel(vm.OpJumpFalse, end)
		c.compileScoped(s.Body)
		c.builder.EmitLabel(vm.OpJump, top)
		c.builder.Mark(end)

	case *IfStmt:
		elseL := c.builder.NewLabel()
		c.compileExpr(s.Cond)
		c.builder.EmitLabel(vm.OpJumpFalse, elseL)
		c.compileScoped(s.Then)
		if s.Else == nil {
			c.builder.Mark(elseL)
			return
		}
		end := c.builder.NewLabel()
		c.builder.EmitLabel(vm.OpJump, end)
		c.builder.Mark(elseL)
		c.compileScoped(s.Else)
		c.builder.Mark(end)

	default:
		c.errorAt(stmt.Pos(), "cannot compile statement %T", stmt)
	}
}

// ---------------------------------------------------------------------------
// Expression compilation
// ---------------------------------------------------------------------------

func (c *Compiler) compileExpr(expr Expr) {
	switch e := expr.(type) {
	case *IntExpr:
		// Literals above MaxInt64 wrap to their two's-complement value.
		c.builder.EmitInt64(vm.OpPushInt, int64(e.Value))

	case *RefExpr:
		c.compileRef(e)

	case *BinaryExpr:
		c.compileExpr(e.LHS)
		c.compileExpr(e.RHS)
		c.builder.Emit(binaryOpcode(e.Op))

	case *CallExpr:
		for _, arg := range e.Args {
			c.compileExpr(arg)
		}
		c.compileExpr(e.Callee)
		c.builder.EmitUint32(vm.OpCall, uint32(len(e.Args)))

	default:
		c.errorAt(expr.Pos(), "cannot compile expression %T", expr)
	}
}

// compileRef resolves a name: locals shadow functions, which shadow
// primitives.
func (c *Compiler) compileRef(ref *RefExpr) {
	if slot, ok := c.lookupLocal(ref.Name); ok {
		c.builder.EmitUint32(vm.OpPeek, slot)
		return
	}
	if label, ok := c.funcs[ref.Name]; ok {
		c.builder.EmitLabel(vm.OpPushFunc, label)
		return
	}
	if prim, ok := c.protos[ref.Name]; ok {
		c.builder.EmitUint32(vm.OpPushProto, c.builder.Primitive(prim))
		return
	}
	c.errorAt(ref.Loc, "undefined name %q", ref.Name)
}

func binaryOpcode(op BinaryOp) vm.Opcode {
	switch op {
	case OpAdd:
		return vm.OpAdd
	case OpSub:
		return vm.OpSub
	case OpMul:
		return vm.OpMul
	default:
		return vm.OpEquals
	}
}

// ---------------------------------------------------------------------------
// Entry points
// ---------------------------------------------------------------------------

// CompileAST analyzes and compiles an already parsed module.
func CompileAST(m *Module) (*vm.Program, error) {
	if _, err := Analyze(m); err != nil {
		return nil, err
	}
	return NewCompiler().CompileModule(m)
}

// Compile parses, analyzes and compiles IMP source. name is used in
// diagnostics.
func Compile(name, src string) (*vm.Program, error) {
	m, err := ParseSource(name, src)
	if err != nil {
		return nil, err
	}
	return CompileAST(m)
}
