package compiler

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Semantic Analyzer: Pre-codegen semantic checks
// ---------------------------------------------------------------------------

// SemanticAnalyzer checks a parsed module for name and declaration errors
// before code generation: duplicate declarations and parameters, references
// to undefined names, and direct calls with the wrong number of arguments.
type SemanticAnalyzer struct {
	errors   CompileErrors
	warnings CompileErrors

	decls  map[string]TopLevel   // *FuncDecl or *ProtoDecl
	scopes []map[string]Location // innermost last
}

// NewSemanticAnalyzer creates a new semantic analyzer.
func NewSemanticAnalyzer() *SemanticAnalyzer {
	return &SemanticAnalyzer{}
}

// Errors returns accumulated analysis errors.
func (s *SemanticAnalyzer) Errors() CompileErrors {
	return s.errors
}

// Warnings returns accumulated warnings. Warnings never fail compilation.
func (s *SemanticAnalyzer) Warnings() CompileErrors {
	return s.warnings
}

// errorAt records an error at the node's position.
func (s *SemanticAnalyzer) errorAt(loc Location, format string, args ...any) {
	s.errors = append(s.errors, &CompileError{Loc: loc, Msg: fmt.Sprintf(format, args...)})
}

// warnAt records a warning at the node's position.
func (s *SemanticAnalyzer) warnAt(loc Location, format string, args ...any) {
	s.warnings = append(s.warnings, &CompileError{Loc: loc, Msg: fmt.Sprintf(format, args...)})
}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

// Declarations returns the functions and primitives declared in m, keyed by
// name. When a name is declared twice the first declaration wins.
func Declarations(m *Module) map[string]TopLevel {
	decls := make(map[string]TopLevel)
	for _, item := range m.Body {
		name, _, ok := declInfo(item)
		if !ok {
			continue
		}
		if _, dup := decls[name]; !dup {
			decls[name] = item
		}
	}
	return decls
}

// declInfo returns the name and parameter list of a declaration.
func declInfo(item TopLevel) (string, []Param, bool) {
	switch d := item.(type) {
	case *FuncDecl:
		return d.Name, d.Params, true
	case *ProtoDecl:
		return d.Name, d.Params, true
	}
	return "", nil, false
}

// ---------------------------------------------------------------------------
// Module analysis
// ---------------------------------------------------------------------------

// AnalyzeModule analyzes every declaration and top-level statement of m.
func (s *SemanticAnalyzer) AnalyzeModule(m *Module) {
	s.decls = make(map[string]TopLevel)
	for _, item := range m.Body {
		name, params, ok := declInfo(item)
		if !ok {
			continue
		}
		if prev, dup := s.decls[name]; dup {
			s.errorAt(item.Pos(), "duplicate declaration of %q (previous declaration at %s)", name, prev.Pos())
		} else {
			s.decls[name] = item
		}
		s.checkParams(params)
	}

	// Top-level statements share one scope, the implicit entry function.
	s.scopes = []map[string]Location{{}}
	var entry []Stmt
	for _, item := range m.Body {
		if stmt, ok := item.(Stmt); ok {
			entry = append(entry, stmt)
			s.analyzeStmt(stmt)
		}
	}
	s.checkUnreachableCode(entry)

	for _, item := range m.Body {
		if fn, ok := item.(*FuncDecl); ok {
			s.analyzeFunc(fn)
		}
	}
}

func (s *SemanticAnalyzer) checkParams(params []Param) {
	seen := make(map[string]bool, len(params))
	for _, p := range params {
		if seen[p.Name] {
			s.errorAt(p.Loc, "duplicate parameter %q", p.Name)
		}
		seen[p.Name] = true
	}
}

func (s *SemanticAnalyzer) analyzeFunc(fn *FuncDecl) {
	params := make(map[string]Location, len(fn.Params))
	for _, p := range fn.Params {
		params[p.Name] = p.Loc
	}
	s.scopes = []map[string]Location{params}
	s.analyzeStmt(fn.Body)
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (s *SemanticAnalyzer) pushScope() {
	s.scopes = append(s.scopes, map[string]Location{})
}

func (s *SemanticAnalyzer) popScope() {
	s.scopes = s.scopes[:len(s.scopes)-1]
}

// analyzeScoped analyzes a branch or loop body in its own scope, so a bare
// let in an if arm does not leak into the enclosing block.
func (s *SemanticAnalyzer) analyzeScoped(stmt Stmt) {
	s.pushScope()
	s.analyzeStmt(stmt)
	s.popScope()
}

func (s *SemanticAnalyzer) analyzeStmt(stmt Stmt) {
	switch st := stmt.(type) {
	case *ExprStmt:
		s.analyzeExpr(st.X)
	case *ReturnStmt:
		s.analyzeExpr(st.X)
	case *WhileStmt:
		s.analyzeExpr(st.Cond)
		s.analyzeScoped(st.Body)
	case *IfStmt:
		s.analyzeExpr(st.Cond)
		s.analyzeScoped(st.Then)
		if st.Else != nil {
			s.analyzeScoped(st.Else)
		}
	case *LetStmt:
		// The initializer cannot see the name it defines.
		s.analyzeExpr(st.Init)
		s.scopes[len(s.scopes)-1][st.Binding.Name] = st.Binding.Loc
	case *BlockStmt:
		s.pushScope()
		for _, inner := range st.Stmts {
			s.analyzeStmt(inner)
		}
		s.checkUnreachableCode(st.Stmts)
		s.popScope()
	}
}

// checkUnreachableCode warns about statements following a return.
func (s *SemanticAnalyzer) checkUnreachableCode(stmts []Stmt) {
	for i, stmt := range stmts {
		if _, isReturn := stmt.(*ReturnStmt); isReturn && i < len(stmts)-1 {
			s.warnAt(stmts[i+1].Pos(), "unreachable code after return")
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (s *SemanticAnalyzer) isLocal(name string) bool {
	for i := len(s.scopes) - 1; i >= 0; i-- {
		if _, ok := s.scopes[i][name]; ok {
			return true
		}
	}
	return false
}

func (s *SemanticAnalyzer) analyzeExpr(expr Expr) {
	switch e := expr.(type) {
	case *RefExpr:
		if !s.isLocal(e.Name) && s.decls[e.Name] == nil {
			s.errorAt(e.Loc, "undefined name %q", e.Name)
		}
	case *IntExpr:
		// OK
	case *BinaryExpr:
		s.analyzeExpr(e.LHS)
		s.analyzeExpr(e.RHS)
	case *CallExpr:
		s.analyzeExpr(e.Callee)
		for _, arg := range e.Args {
			s.analyzeExpr(arg)
		}
		s.checkArity(e)
	}
}

// checkArity verifies direct calls of declared functions and primitives.
// Calls through locals or call results are only checked at run time.
func (s *SemanticAnalyzer) checkArity(call *CallExpr) {
	ref, ok := call.Callee.(*RefExpr)
	if !ok || s.isLocal(ref.Name) {
		return
	}
	decl := s.decls[ref.Name]
	if decl == nil {
		return
	}
	_, params, _ := declInfo(decl)
	if len(params) != len(call.Args) {
		s.errorAt(call.Loc, "%s expects %d argument(s), got %d", ref.Name, len(params), len(call.Args))
	}
}

// ---------------------------------------------------------------------------
// Integration with Compile function
// ---------------------------------------------------------------------------

// Analyze runs semantic analysis on m. It returns CompileErrors when any
// error was found, and the warnings either way.
func Analyze(m *Module) (warnings CompileErrors, err error) {
	analyzer := NewSemanticAnalyzer()
	analyzer.AnalyzeModule(m)
	if errs := analyzer.Errors(); len(errs) > 0 {
		return analyzer.Warnings(), errs
	}
	return analyzer.Warnings(), nil
}
