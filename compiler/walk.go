package compiler

// Inspect traverses the tree rooted at n in depth-first order, calling f for
// each node. When f returns false the children of that node are skipped.
// A *Module is traversed through its top-level items.
func Inspect(n Node, f func(Node) bool) {
	if n == nil || !f(n) {
		return
	}
	switch n := n.(type) {
	case *FuncDecl:
		if n.Body != nil {
			Inspect(n.Body, f)
		}
	case *ExprStmt:
		Inspect(n.X, f)
	case *ReturnStmt:
		Inspect(n.X, f)
	case *WhileStmt:
		Inspect(n.Cond, f)
		Inspect(n.Body, f)
	case *IfStmt:
		Inspect(n.Cond, f)
		Inspect(n.Then, f)
		if n.Else != nil {
			Inspect(n.Else, f)
		}
	case *LetStmt:
		Inspect(n.Init, f)
	case *BlockStmt:
		for _, s := range n.Stmts {
			Inspect(s, f)
		}
	case *CallExpr:
		Inspect(n.Callee, f)
		for _, a := range n.Args {
			Inspect(a, f)
		}
	case *BinaryExpr:
		Inspect(n.LHS, f)
		Inspect(n.RHS, f)
	}
}

// InspectModule calls Inspect on every top-level item of m.
func InspectModule(m *Module, f func(Node) bool) {
	for _, item := range m.Body {
		Inspect(item, f)
	}
}
