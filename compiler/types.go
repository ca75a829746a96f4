package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Result kinds
// ---------------------------------------------------------------------------

// kind approximates what the interpreter produces for an expression. Native
// code holds every value as an int64 and converts the result back through
// the declared return type, so a function only lowers when each of its
// results, locals and call arguments keeps a single native-representable
// kind.
type kind uint8

const (
	kindUnknown kind = iota // no constraint yet, or resolved at run time
	kindInt
	kindBool
	kindVoid
	kindOther // float, string, nil or a mix of kinds
)

var kindNames = [...]string{
	kindUnknown: "Unknown",
	kindInt:     "Int",
	kindBool:    "Bool",
	kindVoid:    "Void",
	kindOther:   "Other",
}

func (k kind) String() string { return kindNames[k] }

func (k kind) concrete() bool {
	return k == kindInt || k == kindBool || k == kindVoid
}

func join(a, b kind) kind {
	switch {
	case a == kindUnknown:
		return b
	case b == kindUnknown, a == b:
		return a
	}
	return kindOther
}

func kindOfType(name string) (kind, bool) {
	switch name {
	case "Int":
		return kindInt, true
	case "Bool":
		return kindBool, true
	case "Void":
		return kindVoid, true
	}
	return kindOther, false
}

// typeEnv holds the result kind of every function lowered together.
type typeEnv struct {
	functions map[string]*FunctionDecl
	results   map[string]kind
	// settled is set once results reached their fixed point; annotations
	// then stand in for results that stayed Unknown.
	settled bool
}

// inferTypes computes result kinds for decls. Mutually recursive functions
// are resolved by iterating to a fixed point; every rule is monotone in
// the lattice Unknown < Int, Bool, Void < Other so the loop terminates.
func inferTypes(decls []*FunctionDecl) *typeEnv {
	env := &typeEnv{
		functions: make(map[string]*FunctionDecl, len(decls)),
		results:   make(map[string]kind, len(decls)),
	}
	for _, d := range decls {
		if _, dup := env.functions[d.Name]; !dup {
			env.functions[d.Name] = d
		}
	}
	for changed := true; changed; {
		changed = false
		for name, d := range env.functions {
			k := env.analyze(d).inferred()
			if k != env.results[name] {
				env.results[name] = k
				changed = true
			}
		}
	}
	env.settled = true
	return env
}

// result is the kind a caller of name observes.
func (env *typeEnv) result(name string) kind {
	k := env.results[name]
	if k == kindUnknown && env.settled {
		if declared, ok := kindOfType(env.functions[name].ReturnType); ok {
			return declared
		}
	}
	return k
}

type violation struct {
	node Node
	msg  string
}

// returnType picks the IR return type of decl and reports the first
// construct whose interpreted and native results could differ.
func (env *typeEnv) returnType(decl *FunctionDecl) (string, *violation) {
	fc := env.analyze(decl)
	if fc.err != nil {
		return "", fc.err
	}
	if fc.valueReturn != nil && fc.bareReturn != nil {
		return "", &violation{fc.bareReturn, "bare return in a function that returns a value"}
	}
	if decl.ReturnType == "" {
		switch fc.inferred() {
		case kindBool:
			return "Bool", nil
		case kindVoid:
			return "Void", nil
		}
		return "Int", nil
	}

	declared, ok := kindOfType(decl.ReturnType)
	if !ok {
		return "", &violation{decl, fmt.Sprintf("return type %s has no native representation", decl.ReturnType)}
	}
	if fc.valueReturn != nil {
		if declared == kindVoid {
			return "", &violation{fc.valueReturn, "returns a value from a function declared Void"}
		}
		if fc.returns.concrete() && fc.returns != declared {
			return "", &violation{fc.valueReturn, fmt.Sprintf("returns %s, declared %s", fc.returns, declared)}
		}
	}
	return decl.ReturnType, nil
}

// funcCheck walks one function body, tracking the kind of every local.
type funcCheck struct {
	env *typeEnv

	// scopes map names to their binding statement; nil is a parameter.
	scopes  []map[string]Stmt
	locals  map[Stmt]kind
	changed bool

	returns     kind
	valueReturn Node
	bareReturn  Node
	err         *violation
}

func (env *typeEnv) analyze(decl *FunctionDecl) *funcCheck {
	fc := &funcCheck{env: env, locals: make(map[Stmt]kind)}
	for {
		fc.changed = false
		fc.returns = kindUnknown
		fc.valueReturn, fc.bareReturn = nil, nil
		fc.scopes = []map[string]Stmt{{}}
		for _, p := range decl.Params {
			fc.scopes[0][p.Name] = nil
		}
		fc.stmts(decl.Body)
		if !fc.changed {
			return fc
		}
	}
}

func (fc *funcCheck) inferred() kind {
	if fc.valueReturn == nil {
		return kindVoid
	}
	return fc.returns
}

func (fc *funcCheck) fail(node Node, format string, args ...interface{}) {
	if fc.err == nil {
		fc.err = &violation{node, fmt.Sprintf(format, args...)}
	}
}

func (fc *funcCheck) lookup(name string) (Stmt, bool) {
	for i := len(fc.scopes) - 1; i >= 0; i-- {
		if s, ok := fc.scopes[i][name]; ok {
			return s, true
		}
	}
	return nil, false
}

func (fc *funcCheck) block(stmts []Stmt) {
	fc.scopes = append(fc.scopes, map[string]Stmt{})
	fc.stmts(stmts)
	fc.scopes = fc.scopes[:len(fc.scopes)-1]
}

func (fc *funcCheck) bind(s Stmt, name string, k kind) {
	old := fc.locals[s]
	if old.concrete() && k.concrete() && old != k {
		fc.fail(s, "%s holds both %s and %s", name, old, k)
	}
	if merged := join(old, k); merged != old {
		fc.locals[s] = merged
		fc.changed = true
	}
}

func (fc *funcCheck) stmts(stmts []Stmt) {
	for _, stmt := range stmts {
		switch s := stmt.(type) {
		case *LetStmt:
			fc.bind(s, s.Name, fc.value(s.Value))
			fc.scopes[len(fc.scopes)-1][s.Name] = s
		case *VarStmt:
			fc.bind(s, s.Name, fc.value(s.Value))
			fc.scopes[len(fc.scopes)-1][s.Name] = s
		case *AssignStmt:
			k := fc.value(s.Value)
			if target, ok := fc.lookup(s.Name); ok && target != nil {
				fc.bind(target, s.Name, k)
			}
		case *ReturnStmt:
			if s.Value == nil {
				fc.bareReturn = s
				continue
			}
			k := fc.value(s.Value)
			if fc.returns.concrete() && k.concrete() && fc.returns != k {
				fc.fail(s, "returns both %s and %s", fc.returns, k)
			}
			fc.returns = join(fc.returns, k)
			if fc.valueReturn == nil {
				fc.valueReturn = s
			}
		case *ExprStmt:
			fc.expr(s.Expr)
		case *IfStmt:
			fc.value(s.Cond)
			fc.block(s.Then)
			fc.block(s.Else)
		case *WhileStmt:
			fc.value(s.Cond)
			fc.block(s.Body)
		}
	}
}

// value is expr in a position that consumes its result.
func (fc *funcCheck) value(e Expr) kind {
	k := fc.expr(e)
	if k == kindVoid {
		fc.fail(e, "expression produces no value")
	}
	return k
}

func (fc *funcCheck) expr(expr Expr) kind {
	switch e := expr.(type) {
	case *IntLiteral:
		return kindInt
	case *BoolLiteral:
		return kindBool
	case *FloatLiteral, *StringLiteral, *NilLiteral:
		return kindOther

	case *Identifier:
		s, ok := fc.lookup(e.Name)
		if !ok {
			return kindUnknown
		}
		if s == nil {
			return kindInt
		}
		return fc.locals[s]

	case *UnaryExpr:
		k := fc.value(e.Operand)
		switch {
		case e.Op == OpNot:
			return kindBool
		case k == kindOther:
			return kindOther
		}
		return kindInt

	case *BinaryExpr:
		l, r := fc.value(e.Left), fc.value(e.Right)
		switch e.Op {
		case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
			return kindBool
		case OpAnd, OpOr, OpXor:
			switch {
			case l == kindOther || r == kindOther:
				return kindOther
			case l == kindBool && r == kindBool:
				return kindBool
			case l == kindInt || r == kindInt:
				return kindInt
			}
			return kindUnknown
		}
		if l == kindOther || r == kindOther {
			return kindOther
		}
		return kindInt

	case *CallExpr:
		for _, a := range e.Args {
			if fc.value(a) == kindBool {
				fc.fail(a, "Bool argument to %s has no native representation", e.Name)
			}
		}
		if _, ok := fc.env.functions[e.Name]; ok {
			k := fc.env.result(e.Name)
			if k == kindOther {
				fc.fail(e, "%s returns values with no native representation", e.Name)
			}
			return k
		}
		if _, ok := Builtins[e.Name]; ok {
			return kindVoid
		}
		return kindUnknown
	}
	return kindOther
}

// terminates reports whether stmts never complete normally.
func terminates(stmts []Stmt) bool {
	for _, stmt := range stmts {
		switch s := stmt.(type) {
		case *ReturnStmt:
			return true
		case *IfStmt:
			if terminates(s.Then) && terminates(s.Else) {
				return true
			}
		case *WhileStmt:
			if b, ok := s.Cond.(*BoolLiteral); ok && b.Value {
				return true
			}
		}
	}
	return false
}
