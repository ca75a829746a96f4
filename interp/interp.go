// Package interp is the tree-walking evaluator for the surface language and
// the hybrid dispatcher that moves hot functions onto native code.
package interp

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"

	"github.com/chazu/aurora/compiler"
	"github.com/chazu/aurora/ir"
	"github.com/chazu/aurora/native"
	"github.com/chazu/aurora/value"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("aurora.interp")

var (
	ErrUndefined = errors.New("undefined")
	ErrImmutable = errors.New("immutable binding")
	ErrArity     = errors.New("wrong number of arguments")
	ErrType      = errors.New("type mismatch")
)

// RuntimeError is an evaluation failure at a source position.
type RuntimeError struct {
	Function string
	Pos      compiler.Position
	Err      error
}

func (e *RuntimeError) Error() string {
	where := e.Function
	if where == "" {
		where = "top level"
	}
	return fmt.Sprintf("runtime error in %s at %d:%d: %s", where, e.Pos.Line, e.Pos.Column, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// Caller resolves calls made by interpreted code. depth is the nesting
// level of the callee; interpreted and native calls draw on the same
// native.MaxCallDepth budget.
type Caller interface {
	CallAt(depth int, name string, args []value.Value) (value.Value, error)
}

type builtin func(in *Interpreter, args []value.Value) (value.Value, error)

var builtins = map[string]builtin{
	"print": builtinPrint,
}

func builtinPrint(in *Interpreter, args []value.Value) (value.Value, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	in.outMu.Lock()
	defer in.outMu.Unlock()
	_, err := fmt.Fprintln(in.out, strings.Join(parts, " "))
	return value.Nil(), err
}

// Interpreter evaluates the functions of one program. Function bodies see
// only their parameters and locals. It is safe for concurrent use.
type Interpreter struct {
	functions map[string]*compiler.FunctionDecl
	decls     []*compiler.FunctionDecl
	top       []compiler.Stmt

	outMu  sync.Mutex
	out    io.Writer
	caller Caller
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithOutput redirects print.
func WithOutput(w io.Writer) Option {
	return func(in *Interpreter) { in.out = w }
}

// New prepares prog for evaluation.
func New(prog *compiler.Program, opts ...Option) (*Interpreter, error) {
	in := &Interpreter{
		functions: make(map[string]*compiler.FunctionDecl),
		out:       os.Stdout,
	}
	for _, stmt := range prog.Statements {
		decl, ok := stmt.(*compiler.FunctionDecl)
		if !ok {
			in.top = append(in.top, stmt)
			continue
		}
		if _, dup := in.functions[decl.Name]; dup {
			return nil, fmt.Errorf("interp: function %s defined twice", decl.Name)
		}
		in.functions[decl.Name] = decl
		in.decls = append(in.decls, decl)
	}
	in.caller = in
	for _, opt := range opts {
		opt(in)
	}
	return in, nil
}

// SetCaller routes calls made by interpreted code through c.
func (in *Interpreter) SetCaller(c Caller) {
	in.caller = c
}

func (in *Interpreter) Function(name string) (*compiler.FunctionDecl, bool) {
	decl, ok := in.functions[name]
	return decl, ok
}

// Functions returns the program's functions in source order.
func (in *Interpreter) Functions() []*compiler.FunctionDecl {
	return in.decls
}

// Call interprets name directly as an outermost call.
func (in *Interpreter) Call(name string, args []value.Value) (value.Value, error) {
	return in.InvokeAt(0, name, args)
}

// CallAt interprets name directly. It implements Caller.
func (in *Interpreter) CallAt(depth int, name string, args []value.Value) (value.Value, error) {
	return in.InvokeAt(depth, name, args)
}

// Invoke interprets one outermost call of name, which may be a builtin.
func (in *Interpreter) Invoke(name string, args []value.Value) (value.Value, error) {
	return in.InvokeAt(0, name, args)
}

// InvokeAt interprets a call nested depth calls deep. Past
// native.MaxCallDepth it fails with native.ErrCallDepth, as native code
// does. A self call in return position reuses the frame, matching the
// loop the optimizer makes of it.
func (in *Interpreter) InvokeAt(depth int, name string, args []value.Value) (value.Value, error) {
	decl, ok := in.functions[name]
	if !ok {
		if b, ok := builtins[name]; ok {
			return b(in, args)
		}
		return value.Nil(), fmt.Errorf("%w: function %s", ErrUndefined, name)
	}
	if depth > native.MaxCallDepth {
		return value.Nil(), fmt.Errorf("%w in %s", native.ErrCallDepth, name)
	}
	f := &frame{in: in, function: name, depth: depth + 1}
	for {
		if len(args) != len(decl.Params) {
			return value.Nil(), fmt.Errorf("%w: %s expects %d, got %d", ErrArity, name, len(decl.Params), len(args))
		}
		env := NewEnv(nil)
		for i, p := range decl.Params {
			env.Define(p.Name, args[i], false)
		}
		f.tail = nil
		v, _, err := f.block(decl.Body, env)
		if err != nil || f.tail == nil {
			return v, err
		}
		args = f.tail
	}
}

// Run evaluates the top-level statements that are not function
// declarations. A top-level return ends the run with its value.
func (in *Interpreter) Run() (value.Value, error) {
	f := &frame{in: in}
	v, _, err := f.block(in.top, NewEnv(nil))
	return v, err
}

// HasBuiltin reports whether name is a builtin not shadowed by the program.
func (in *Interpreter) HasBuiltin(name string) bool {
	_, user := in.functions[name]
	_, ok := builtins[name]
	return ok && !user
}

// frame is the evaluation state of one call.
type frame struct {
	in       *Interpreter
	function string
	// depth is the nesting level of the calls this frame makes.
	depth int
	// tail holds the arguments of a pending self call in return position.
	tail []value.Value
}

func (f *frame) fail(node compiler.Node, err error) error {
	var rt *RuntimeError
	if errors.As(err, &rt) {
		return err
	}
	return &RuntimeError{Function: f.function, Pos: node.Span().Start, Err: err}
}

// block runs stmts in a new scope and reports whether a return happened.
func (f *frame) block(stmts []compiler.Stmt, parent *Env) (value.Value, bool, error) {
	env := NewEnv(parent)
	for _, stmt := range stmts {
		v, returned, err := f.stmt(stmt, env)
		if err != nil || returned {
			return v, returned, err
		}
	}
	return value.Nil(), false, nil
}

func (f *frame) stmt(stmt compiler.Stmt, env *Env) (value.Value, bool, error) {
	switch s := stmt.(type) {
	case *compiler.LetStmt:
		v, err := f.expr(s.Value, env)
		if err != nil {
			return v, false, err
		}
		env.Define(s.Name, v, false)

	case *compiler.VarStmt:
		v, err := f.expr(s.Value, env)
		if err != nil {
			return v, false, err
		}
		env.Define(s.Name, v, true)

	case *compiler.AssignStmt:
		v, err := f.expr(s.Value, env)
		if err != nil {
			return v, false, err
		}
		if err := env.Assign(s.Name, v); err != nil {
			return value.Nil(), false, f.fail(s, err)
		}

	case *compiler.ReturnStmt:
		if s.Value == nil {
			return value.Nil(), true, nil
		}
		if call, ok := s.Value.(*compiler.CallExpr); ok && f.function != "" && call.Name == f.function {
			args, err := f.args(call, env)
			if err != nil {
				return value.Nil(), false, err
			}
			f.tail = args
			return value.Nil(), true, nil
		}
		v, err := f.expr(s.Value, env)
		return v, err == nil, err

	case *compiler.ExprStmt:
		_, err := f.expr(s.Expr, env)
		return value.Nil(), false, err

	case *compiler.IfStmt:
		cond, err := f.expr(s.Cond, env)
		if err != nil {
			return cond, false, err
		}
		if cond.Truthy() {
			return f.block(s.Then, env)
		}
		return f.block(s.Else, env)

	case *compiler.WhileStmt:
		for {
			cond, err := f.expr(s.Cond, env)
			if err != nil {
				return cond, false, err
			}
			if !cond.Truthy() {
				break
			}
			v, returned, err := f.block(s.Body, env)
			if err != nil || returned {
				return v, returned, err
			}
		}

	case *compiler.FunctionDecl:
		return value.Nil(), false, f.fail(s, fmt.Errorf("nested function %s is not supported", s.Name))

	default:
		return value.Nil(), false, f.fail(stmt, fmt.Errorf("unsupported statement %T", stmt))
	}
	return value.Nil(), false, nil
}

func (f *frame) expr(expr compiler.Expr, env *Env) (value.Value, error) {
	switch e := expr.(type) {
	case *compiler.IntLiteral:
		return value.Int(e.Value), nil
	case *compiler.FloatLiteral:
		return value.Float(e.Value), nil
	case *compiler.StringLiteral:
		return value.String(e.Value), nil
	case *compiler.BoolLiteral:
		return value.Bool(e.Value), nil
	case *compiler.NilLiteral:
		return value.Nil(), nil

	case *compiler.Identifier:
		v, ok := env.Lookup(e.Name)
		if !ok {
			return v, f.fail(e, fmt.Errorf("%w: name %s", ErrUndefined, e.Name))
		}
		return v, nil

	case *compiler.BinaryExpr:
		l, err := f.expr(e.Left, env)
		if err != nil {
			return l, err
		}
		r, err := f.expr(e.Right, env)
		if err != nil {
			return r, err
		}
		v, err := binary(e.Op, l, r)
		if err != nil {
			return v, f.fail(e, err)
		}
		return v, nil

	case *compiler.UnaryExpr:
		v, err := f.expr(e.Operand, env)
		if err != nil {
			return v, err
		}
		v, err = unary(e.Op, v)
		if err != nil {
			return v, f.fail(e, err)
		}
		return v, nil

	case *compiler.CallExpr:
		args, err := f.args(e, env)
		if err != nil {
			return value.Nil(), err
		}
		v, err := f.in.caller.CallAt(f.depth, e.Name, args)
		if err != nil {
			return v, f.fail(e, err)
		}
		return v, nil
	}
	return value.Nil(), f.fail(expr, fmt.Errorf("unsupported expression %T", expr))
}

func (f *frame) args(call *compiler.CallExpr, env *Env) ([]value.Value, error) {
	args := make([]value.Value, len(call.Args))
	for i, a := range call.Args {
		v, err := f.expr(a, env)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}

func isIntLike(v value.Value) bool {
	return v.Kind() == value.KindInt || v.Kind() == value.KindBool
}

func isNumeric(v value.Value) bool {
	return isIntLike(v) || v.Kind() == value.KindFloat
}

func asFloat(v value.Value) float64 {
	if v.Kind() == value.KindFloat {
		return v.Float()
	}
	return float64(v.Int())
}

// binary evaluates both operands eagerly. Integers and booleans follow the
// compiled code: && || and ^ are bitwise, and results of comparisons and of
// logic on two booleans are booleans.
func binary(op compiler.Operator, l, r value.Value) (value.Value, error) {
	code, ok := op.BinaryOp()
	if !ok {
		return value.Nil(), fmt.Errorf("%w: operator %s is not binary", ErrType, op)
	}

	switch {
	case isIntLike(l) && isIntLike(r):
		raw, err := ir.EvalInt(code, l.Int(), r.Int())
		if err != nil {
			return value.Nil(), err
		}
		switch {
		case code.IsComparison():
			return value.Bool(raw != 0), nil
		case l.Kind() == value.KindBool && r.Kind() == value.KindBool &&
			(code == ir.OpAnd || code == ir.OpOr || code == ir.OpXor):
			return value.Bool(raw != 0), nil
		}
		return value.Int(raw), nil

	case isNumeric(l) && isNumeric(r):
		return floatBinary(code, asFloat(l), asFloat(r))

	case l.Kind() == value.KindString && r.Kind() == value.KindString:
		a, b := l.Str(), r.Str()
		switch code {
		case ir.OpAdd:
			return value.String(a + b), nil
		case ir.OpLt:
			return value.Bool(a < b), nil
		case ir.OpLe:
			return value.Bool(a <= b), nil
		case ir.OpGt:
			return value.Bool(a > b), nil
		case ir.OpGe:
			return value.Bool(a >= b), nil
		}
	}

	switch code {
	case ir.OpEq:
		return value.Bool(l.Equal(r)), nil
	case ir.OpNe:
		return value.Bool(!l.Equal(r)), nil
	}
	return value.Nil(), fmt.Errorf("%w: %s %s %s", ErrType, l.Kind(), op, r.Kind())
}

func floatBinary(code ir.BinaryOpCode, a, b float64) (value.Value, error) {
	switch code {
	case ir.OpAdd:
		return value.Float(a + b), nil
	case ir.OpSub:
		return value.Float(a - b), nil
	case ir.OpMul:
		return value.Float(a * b), nil
	case ir.OpDiv:
		return value.Float(a / b), nil
	case ir.OpRem:
		return value.Float(math.Mod(a, b)), nil
	case ir.OpEq:
		return value.Bool(a == b), nil
	case ir.OpNe:
		return value.Bool(a != b), nil
	case ir.OpLt:
		return value.Bool(a < b), nil
	case ir.OpLe:
		return value.Bool(a <= b), nil
	case ir.OpGt:
		return value.Bool(a > b), nil
	case ir.OpGe:
		return value.Bool(a >= b), nil
	}
	return value.Nil(), fmt.Errorf("%w: %s on floats", ErrType, code)
}

func unary(op compiler.Operator, v value.Value) (value.Value, error) {
	switch op {
	case compiler.OpNot:
		return value.Bool(!v.Truthy()), nil
	case compiler.OpNeg:
		switch {
		case isIntLike(v):
			return value.Int(ir.EvalIntUnary(ir.OpNeg, v.Int())), nil
		case v.Kind() == value.KindFloat:
			return value.Float(-v.Float()), nil
		}
		return value.Nil(), fmt.Errorf("%w: -%s", ErrType, v.Kind())
	}
	return value.Nil(), fmt.Errorf("%w: operator %s is not unary", ErrType, op)
}
