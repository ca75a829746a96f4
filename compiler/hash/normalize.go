package hash

import (
	"github.com/chazu/aurora/compiler"
)

// ---------------------------------------------------------------------------
// AST Normalization: compiler AST → frozen hashing AST
//
// Walks a function declaration and produces the frozen hashing AST with
// de Bruijn indices for parameters and locals. Names nothing binds stay
// as globals.
// ---------------------------------------------------------------------------

// scope tracks variables at one nesting level.
type scope struct {
	vars map[string]uint16 // variable name → slot index
	next uint16
}

type normalizer struct {
	scopes []scope // [0]=parameters, then one per block
}

// NormalizeFunction transforms a function declaration into a frozen
// HFunction.
func NormalizeFunction(decl *compiler.FunctionDecl) *HFunction {
	n := &normalizer{}
	n.push()
	types := make([]string, len(decl.Params))
	for i, p := range decl.Params {
		n.declare(p.Name)
		types[i] = p.Type
	}
	return &HFunction{
		Name:       decl.Name,
		ParamTypes: types,
		ReturnType: decl.ReturnType,
		Body:       n.stmts(decl.Body),
	}
}

func (n *normalizer) push() {
	n.scopes = append(n.scopes, scope{vars: make(map[string]uint16)})
}

func (n *normalizer) pop() {
	n.scopes = n.scopes[:len(n.scopes)-1]
}

func (n *normalizer) declare(name string) {
	top := &n.scopes[len(n.scopes)-1]
	top.vars[name] = top.next
	top.next++
}

func (n *normalizer) ref(name string) HNode {
	for i := len(n.scopes) - 1; i >= 0; i-- {
		if slot, ok := n.scopes[i].vars[name]; ok {
			return &HLocalRef{ScopeDepth: uint16(len(n.scopes) - 1 - i), SlotIndex: slot}
		}
	}
	return &HGlobalRef{Name: name}
}

func (n *normalizer) stmts(stmts []compiler.Stmt) []HNode {
	out := make([]HNode, 0, len(stmts))
	for _, s := range stmts {
		if h := n.stmt(s); h != nil {
			out = append(out, h)
		}
	}
	return out
}

func (n *normalizer) block(stmts []compiler.Stmt) []HNode {
	n.push()
	defer n.pop()
	return n.stmts(stmts)
}

func (n *normalizer) stmt(s compiler.Stmt) HNode {
	switch s := s.(type) {
	case *compiler.LetStmt:
		// The value is normalized before the name is in scope.
		v := n.expr(s.Value)
		n.declare(s.Name)
		return &HLet{Value: v}
	case *compiler.VarStmt:
		v := n.expr(s.Value)
		n.declare(s.Name)
		return &HLet{Mutable: true, Value: v}
	case *compiler.AssignStmt:
		return &HAssign{Target: n.ref(s.Name), Value: n.expr(s.Value)}
	case *compiler.ReturnStmt:
		if s.Value == nil {
			return &HReturn{}
		}
		return &HReturn{Value: n.expr(s.Value)}
	case *compiler.ExprStmt:
		return &HExprStmt{Expr: n.expr(s.Expr)}
	case *compiler.IfStmt:
		return &HIf{Cond: n.expr(s.Cond), Then: n.block(s.Then), Else: n.block(s.Else)}
	case *compiler.WhileStmt:
		return &HWhile{Cond: n.expr(s.Cond), Body: n.block(s.Body)}
	}
	// Nested declarations are not part of a function body.
	return nil
}

func (n *normalizer) expr(e compiler.Expr) HNode {
	switch e := e.(type) {
	case *compiler.IntLiteral:
		return &HIntLiteral{Value: e.Value}
	case *compiler.FloatLiteral:
		return &HFloatLiteral{Value: e.Value}
	case *compiler.StringLiteral:
		return &HStringLiteral{Value: e.Value}
	case *compiler.BoolLiteral:
		return &HBoolLiteral{Value: e.Value}
	case *compiler.Identifier:
		return n.ref(e.Name)
	case *compiler.BinaryExpr:
		return &HBinary{Op: byte(e.Op), Left: n.expr(e.Left), Right: n.expr(e.Right)}
	case *compiler.UnaryExpr:
		return &HUnary{Op: byte(e.Op), Operand: n.expr(e.Operand)}
	case *compiler.CallExpr:
		args := make([]HNode, len(e.Args))
		for i, a := range e.Args {
			args[i] = n.expr(a)
		}
		return &HCall{Name: e.Name, Args: args}
	}
	return &HNilLiteral{}
}
