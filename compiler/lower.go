package compiler

import (
	"fmt"

	"github.com/chazu/aurora/ir"
)

// ---------------------------------------------------------------------------
// Lowering: AST to IR
// ---------------------------------------------------------------------------

// CompileError reports a construct the lowering pass cannot translate.
type CompileError struct {
	Function string
	Pos      Position
	Msg      string
}

func (e *CompileError) Error() string {
	if e.Function == "" {
		return fmt.Sprintf("compile error at %d:%d: %s", e.Pos.Line, e.Pos.Column, e.Msg)
	}
	return fmt.Sprintf("compile error in %s at %d:%d: %s", e.Function, e.Pos.Line, e.Pos.Column, e.Msg)
}

type bindingKind int

const (
	bindParam bindingKind = iota
	bindLet
	bindVar
)

type binding struct {
	kind    bindingKind
	operand ir.Operand // parameter register or let value
	slot    ir.Reg     // var stack slot
}

// Compiler lowers function declarations into an IR module.
type Compiler struct {
	moduleName string
	builder    *ir.Builder
	fnName     string
	scopes     []map[string]binding
	skipped    []Stmt
	types      *typeEnv
}

// NewCompiler creates a compiler producing modules with the given name.
func NewCompiler(moduleName string) *Compiler {
	return &Compiler{moduleName: moduleName}
}

// Skipped returns the top-level statements the last compilation ignored
// because they are not function declarations.
func (c *Compiler) Skipped() []Stmt {
	return c.skipped
}

// Compile lowers every top-level function declaration in stmts.
func (c *Compiler) Compile(stmts []Stmt) (*ir.Module, error) {
	var decls []*FunctionDecl
	for _, stmt := range stmts {
		if decl, ok := stmt.(*FunctionDecl); ok {
			decls = append(decls, decl)
		}
	}
	c.reset(decls)
	for _, stmt := range stmts {
		decl, ok := stmt.(*FunctionDecl)
		if !ok {
			c.skipped = append(c.skipped, stmt)
			continue
		}
		if err := c.compileFunction(decl); err != nil {
			return nil, err
		}
	}
	return c.builder.Module(), nil
}

// CompileFunction lowers a single function body under the given name. The
// helpers are lowered into the same module on a best-effort basis so the
// optimizer can inline them; a helper that fails to lower is left out.
// Calls to helpers are checked against what the helpers return.
func (c *Compiler) CompileFunction(name string, params []string, body []Stmt, helpers ...*FunctionDecl) (*ir.Module, error) {
	decl := &FunctionDecl{Name: name, Body: body}
	for _, p := range params {
		decl.Params = append(decl.Params, Param{Name: p})
	}
	return c.CompileDecl(decl, helpers...)
}

// CompileDecl is CompileFunction for a declaration, keeping its declared
// return type.
func (c *Compiler) CompileDecl(decl *FunctionDecl, helpers ...*FunctionDecl) (*ir.Module, error) {
	decls := []*FunctionDecl{decl}
	for _, h := range helpers {
		if h != nil && h.Name != decl.Name {
			decls = append(decls, h)
		}
	}
	c.reset(decls)
	if err := c.compileFunction(decl); err != nil {
		return nil, err
	}
	mod := c.builder.Module()
	for _, h := range decls[1:] {
		snapshot := len(mod.Functions)
		if err := c.compileFunction(h); err != nil {
			mod.Functions = mod.Functions[:snapshot]
			c.skipped = append(c.skipped, h)
		}
	}
	return mod, nil
}

func (c *Compiler) reset(decls []*FunctionDecl) {
	c.builder = ir.NewBuilder(c.moduleName)
	c.skipped = nil
	c.types = inferTypes(decls)
}

func (c *Compiler) compileFunction(decl *FunctionDecl) error {
	c.fnName = decl.Name
	c.scopes = []map[string]binding{{}}

	rt, v := c.types.returnType(decl)
	if v != nil {
		return c.errorAt(v.node, "%s", v.msg)
	}
	c.builder.CreateFunction(decl.Name, decl.ParamNames(), rt)
	fn := c.builder.Function()
	for i, p := range decl.Params {
		if _, dup := c.scopes[0][p.Name]; dup {
			return c.errorAt(decl, "duplicate parameter %s", p.Name)
		}
		c.scopes[0][p.Name] = binding{kind: bindParam, operand: ir.RegOp(fn.ParamReg(i))}
	}

	if err := c.lowerStatements(decl.Body); err != nil {
		return err
	}
	if !c.builder.IsTerminated() {
		// The interpreter yields nil when a body runs off its end; native
		// code has no such value.
		if rt != "Void" && !terminates(decl.Body) {
			return c.errorAt(decl, "missing return on some path")
		}
		c.builder.BuildReturn(nil)
	}
	return nil
}

func (c *Compiler) errorAt(node Node, format string, args ...interface{}) error {
	var pos Position
	if node != nil {
		pos = node.Span().Start
	}
	return &CompileError{Function: c.fnName, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// ---------------------------------------------------------------------------
// Scopes
// ---------------------------------------------------------------------------

func (c *Compiler) pushScope() {
	c.scopes = append(c.scopes, map[string]binding{})
}

func (c *Compiler) popScope() {
	c.scopes = c.scopes[:len(c.scopes)-1]
}

func (c *Compiler) lookup(name string) (binding, bool) {
	for i := len(c.scopes) - 1; i >= 0; i-- {
		if b, ok := c.scopes[i][name]; ok {
			return b, true
		}
	}
	return binding{}, false
}

func (c *Compiler) declare(name string, b binding) {
	c.scopes[len(c.scopes)-1][name] = b
}

// ---------------------------------------------------------------------------
// Statement lowering
// ---------------------------------------------------------------------------

func (c *Compiler) lowerStatements(stmts []Stmt) error {
	for _, stmt := range stmts {
		if c.builder.IsTerminated() {
			c.builder.SetCurrentBlock(c.builder.CreateBlock("dead"))
		}
		if err := c.lowerStmt(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) lowerBlock(stmts []Stmt) error {
	c.pushScope()
	defer c.popScope()
	return c.lowerStatements(stmts)
}

func (c *Compiler) lowerStmt(stmt Stmt) error {
	switch s := stmt.(type) {
	case *LetStmt:
		v, err := c.lowerExpr(s.Value)
		if err != nil {
			return err
		}
		c.declare(s.Name, binding{kind: bindLet, operand: v})
		return nil

	case *VarStmt:
		v, err := c.lowerExpr(s.Value)
		if err != nil {
			return err
		}
		slot := c.builder.NewReg()
		c.builder.EmitEntry(&ir.Alloca{Dest: slot, Type: slotType(s.Value)})
		c.builder.Emit(&ir.Store{Src: v, Addr: ir.RegOp(slot)})
		c.declare(s.Name, binding{kind: bindVar, slot: slot})
		return nil

	case *AssignStmt:
		b, ok := c.lookup(s.Name)
		if !ok {
			return c.errorAt(s, "assignment to undeclared name %s", s.Name)
		}
		switch b.kind {
		case bindParam:
			return c.errorAt(s, "cannot assign to parameter %s", s.Name)
		case bindLet:
			return c.errorAt(s, "cannot assign to immutable %s", s.Name)
		}
		v, err := c.lowerExpr(s.Value)
		if err != nil {
			return err
		}
		c.builder.Emit(&ir.Store{Src: v, Addr: ir.RegOp(b.slot)})
		return nil

	case *ReturnStmt:
		if s.Value == nil {
			c.builder.BuildReturn(nil)
			return nil
		}
		v, err := c.lowerExpr(s.Value)
		if err != nil {
			return err
		}
		c.builder.BuildReturn(&v)
		return nil

	case *ExprStmt:
		_, err := c.lowerExpr(s.Expr)
		return err

	case *IfStmt:
		return c.lowerIf(s)

	case *WhileStmt:
		return c.lowerWhile(s)

	case *FunctionDecl:
		return c.errorAt(s, "nested function %s is not supported", s.Name)
	}
	return c.errorAt(stmt, "unsupported statement %T", stmt)
}

func (c *Compiler) lowerIf(s *IfStmt) error {
	cond, err := c.lowerExpr(s.Cond)
	if err != nil {
		return err
	}
	thenB := c.builder.CreateBlock("then")
	elseB := c.builder.CreateBlock("else")
	merge := c.builder.CreateBlock("merge")
	c.builder.Terminate(&ir.CondBranch{Cond: cond, True: thenB, False: elseB})

	c.builder.SetCurrentBlock(thenB)
	if err := c.lowerBlock(s.Then); err != nil {
		return err
	}
	if !c.builder.IsTerminated() {
		c.builder.Terminate(&ir.Branch{Target: merge})
	}

	c.builder.SetCurrentBlock(elseB)
	if err := c.lowerBlock(s.Else); err != nil {
		return err
	}
	if !c.builder.IsTerminated() {
		c.builder.Terminate(&ir.Branch{Target: merge})
	}

	c.builder.SetCurrentBlock(merge)
	return nil
}

func (c *Compiler) lowerWhile(s *WhileStmt) error {
	condB := c.builder.CreateBlock("cond")
	body := c.builder.CreateBlock("body")
	exit := c.builder.CreateBlock("exit")
	c.builder.Terminate(&ir.Branch{Target: condB})

	c.builder.SetCurrentBlock(condB)
	cond, err := c.lowerExpr(s.Cond)
	if err != nil {
		return err
	}
	c.builder.Terminate(&ir.CondBranch{Cond: cond, True: body, False: exit})

	c.builder.SetCurrentBlock(body)
	if err := c.lowerBlock(s.Body); err != nil {
		return err
	}
	if !c.builder.IsTerminated() {
		c.builder.Terminate(&ir.Branch{Target: condB})
	}

	c.builder.SetCurrentBlock(exit)
	return nil
}

func slotType(init Expr) string {
	switch init.(type) {
	case *FloatLiteral:
		return "Float"
	case *BoolLiteral:
		return "Bool"
	case *StringLiteral:
		return "String"
	}
	return "Int"
}

// ---------------------------------------------------------------------------
// Expression lowering
// ---------------------------------------------------------------------------

var binaryOps = map[Operator]ir.BinaryOpCode{
	OpAdd: ir.OpAdd,
	OpSub: ir.OpSub,
	OpMul: ir.OpMul,
	OpDiv: ir.OpDiv,
	OpRem: ir.OpRem,
	OpEq:  ir.OpEq,
	OpNe:  ir.OpNe,
	OpLt:  ir.OpLt,
	OpLe:  ir.OpLe,
	OpGt:  ir.OpGt,
	OpGe:  ir.OpGe,
	OpAnd: ir.OpAnd,
	OpOr:  ir.OpOr,
	OpXor: ir.OpXor,
}

// BinaryOp returns the IR opcode for a binary operator.
func (op Operator) BinaryOp() (ir.BinaryOpCode, bool) {
	code, ok := binaryOps[op]
	return code, ok
}

func (c *Compiler) lowerExpr(expr Expr) (ir.Operand, error) {
	switch e := expr.(type) {
	case *IntLiteral:
		return ir.IntOp(e.Value), nil
	case *FloatLiteral:
		return ir.FloatOp(e.Value), nil
	case *StringLiteral:
		return ir.StringOp(e.Value), nil
	case *BoolLiteral:
		return ir.BoolOp(e.Value), nil
	case *NilLiteral:
		return ir.Undef(), c.errorAt(e, "nil has no compiled representation")

	case *Identifier:
		b, ok := c.lookup(e.Name)
		if !ok {
			return ir.Undef(), c.errorAt(e, "undefined name %s", e.Name)
		}
		if b.kind == bindVar {
			dest := c.builder.NewReg()
			c.builder.Emit(&ir.Load{Dest: dest, Addr: ir.RegOp(b.slot)})
			return ir.RegOp(dest), nil
		}
		return b.operand, nil

	case *BinaryExpr:
		op, ok := binaryOps[e.Op]
		if !ok {
			return ir.Undef(), c.errorAt(e, "unsupported binary operator %s", e.Op)
		}
		lhs, err := c.lowerExpr(e.Left)
		if err != nil {
			return ir.Undef(), err
		}
		rhs, err := c.lowerExpr(e.Right)
		if err != nil {
			return ir.Undef(), err
		}
		return c.builder.BuildBinary(op, lhs, rhs), nil

	case *UnaryExpr:
		src, err := c.lowerExpr(e.Operand)
		if err != nil {
			return ir.Undef(), err
		}
		switch e.Op {
		case OpNeg:
			return c.builder.BuildUnary(ir.OpNeg, src), nil
		case OpNot:
			return c.builder.BuildUnary(ir.OpNot, src), nil
		}
		return ir.Undef(), c.errorAt(e, "unsupported unary operator %s", e.Op)

	case *CallExpr:
		args := make([]ir.Operand, 0, len(e.Args))
		for _, a := range e.Args {
			v, err := c.lowerExpr(a)
			if err != nil {
				return ir.Undef(), err
			}
			args = append(args, v)
		}
		return c.builder.BuildCall(e.Name, args), nil
	}
	return ir.Undef(), c.errorAt(expr, "unsupported expression %T", expr)
}
