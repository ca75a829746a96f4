package jit

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chazu/aurora/ir"
	"github.com/dave/jennifer/jen"
)

// AOTFileName is the file WriteAOTPackage writes into its directory.
const AOTFileName = "aot_functions.go"

// GenerateAOTPackage renders every cached function as Go source in package
// pkg. Each function becomes aot_<name> over int64 values. Functions maps
// source names to variadic wrappers, and callees outside the package go
// through the Call hook.
func (m *Manager) GenerateAOTPackage(pkg string) (string, error) {
	all := m.cache.All()
	local := make(map[string]*ir.Function, len(all))
	for _, cf := range all {
		if fn := cf.Module.Function(cf.Name); fn != nil {
			local[cf.Name] = fn
		}
	}

	f := jen.NewFile(pkg)
	f.HeaderComment("Code generated by aurora. DO NOT EDIT.")

	f.Comment("Call handles calls to functions without generated code.")
	f.Var().Id("Call").Func().Params(jen.Id("name").String(), jen.Id("args").Op("...").Int64()).Params(jen.Int64(), jen.Error())
	f.Line()
	f.Comment("ErrDivisionByZero is returned when div or rem has a zero divisor.")
	f.Var().Id("ErrDivisionByZero").Op("=").Qual("errors", "New").Call(jen.Lit("division by zero"))
	f.Line()
	f.Func().Id("call").Params(jen.Id("name").String(), jen.Id("args").Op("...").Int64()).Params(jen.Int64(), jen.Error()).Block(
		jen.If(jen.Id("Call").Op("==").Nil()).Block(
			jen.Return(jen.Lit(0), jen.Qual("fmt", "Errorf").Call(jen.Lit("no function %s"), jen.Id("name"))),
		),
		jen.Return(jen.Id("Call").Call(jen.Id("name"), jen.Id("args").Op("..."))),
	)
	f.Line()
	f.Func().Id("b2i").Params(jen.Id("b").Bool()).Int64().Block(
		jen.If(jen.Id("b")).Block(jen.Return(jen.Lit(1))),
		jen.Return(jen.Lit(0)),
	)
	f.Line()

	wrappers := jen.Dict{}
	for _, cf := range all {
		fn, ok := local[cf.Name]
		if !ok {
			continue
		}
		g := &aotGen{fn: fn, local: local}
		decl, err := g.function()
		if err != nil {
			return "", fmt.Errorf("jit: aot %s: %w", fn.Name, err)
		}
		f.Commentf("%s was compiled at %s.", fn.Name, cf.Timestamp.UTC().Format("2006-01-02T15:04:05Z"))
		f.Add(decl)
		f.Line()
		wrappers[jen.Lit(fn.Name)] = aotWrapper(fn)
	}

	f.Comment("Functions maps source function names to their generated code.")
	f.Var().Id("Functions").Op("=").Map(jen.String()).Func().
		Params(jen.Op("...").Int64()).Params(jen.Int64(), jen.Error()).
		Values(wrappers)

	var buf bytes.Buffer
	if err := f.Render(&buf); err != nil {
		return "", fmt.Errorf("jit: aot render: %w", err)
	}
	return buf.String(), nil
}

// WriteAOTPackage writes the generated package into dir.
func (m *Manager) WriteAOTPackage(dir, pkg string) error {
	src, err := m.GenerateAOTPackage(pkg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, AOTFileName), []byte(src), 0644); err != nil {
		return fmt.Errorf("failed to write AOT package: %w", err)
	}
	return nil
}

func aotName(name string) string { return "aot_" + name }

func paramName(i int) string { return fmt.Sprintf("p%d", i) }

// aotWrapper adapts aot_<name> to the uniform variadic signature.
func aotWrapper(fn *ir.Function) jen.Code {
	args := make([]jen.Code, len(fn.Params))
	for i := range fn.Params {
		args[i] = jen.Id("args").Index(jen.Lit(i))
	}
	return jen.Func().Params(jen.Id("args").Op("...").Int64()).Params(jen.Int64(), jen.Error()).Block(
		jen.If(jen.Len(jen.Id("args")).Op("!=").Lit(len(fn.Params))).Block(
			jen.Return(jen.Lit(0), jen.Qual("fmt", "Errorf").Call(
				jen.Lit(fmt.Sprintf("%s expects %d arguments, got %%d", fn.Name, len(fn.Params))),
				jen.Len(jen.Id("args")),
			)),
		),
		jen.Return(jen.Id(aotName(fn.Name)).Call(args...)),
	)
}

// ---------------------------------------------------------------------------
// Function bodies
// ---------------------------------------------------------------------------

// Registers live in r and stack slots in m. Blocks are laid out in reverse
// postorder and connected with goto; only branch targets get labels.
type aotGen struct {
	fn    *ir.Function
	local map[string]*ir.Function
	slots map[ir.Reg]int
}

func (g *aotGen) function() (jen.Code, error) {
	fn := g.fn
	g.slots = make(map[ir.Reg]int)
	targets := make(map[ir.BlockID]bool)
	hasMem, hasCall := false, false
	reachable := ir.Reachable(fn)
	for _, b := range fn.Blocks {
		for _, instr := range b.Instructions {
			switch in := instr.(type) {
			case *ir.Alloca:
				g.slots[in.Dest] = len(g.slots)
			case *ir.Load, *ir.Store:
				hasMem = hasMem || reachable[b.ID]
			case *ir.Call:
				hasCall = hasCall || reachable[b.ID]
			}
		}
		for _, s := range ir.Successors(b.Term) {
			targets[s] = true
		}
	}

	params := make([]jen.Code, len(fn.Params))
	for i := range fn.Params {
		params[i] = jen.Id(paramName(i))
	}

	var body []jen.Code
	if readsRegisters(fn, reachable) {
		body = append(body, jen.Var().Id("r").Index(jen.Lit(int(ir.MaxReg(fn))+1)).Int64())
	}
	if hasMem && len(g.slots) > 0 {
		body = append(body, jen.Var().Id("m").Index(jen.Lit(len(g.slots))).Int64())
	}
	if hasCall {
		body = append(body, jen.Var().Err().Error())
	}
	for i := range fn.Params {
		body = append(body, reg(fn.ParamReg(i)).Op("=").Id(paramName(i)))
	}

	for _, id := range ir.ReversePostorder(fn) {
		b := fn.Blocks[id]
		var stmts []jen.Code
		for _, instr := range b.Instructions {
			if _, ok := instr.(*ir.Phi); ok {
				continue
			}
			code, err := g.instruction(instr)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", b.Name(), err)
			}
			stmts = append(stmts, code...)
		}
		term, err := g.terminator(b)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		stmts = append(stmts, term...)
		if targets[id] {
			// A label prefixes the block's first statement.
			stmts[0] = jen.Id(b.Name()).Op(":").Add(stmts[0])
		}
		body = append(body, stmts...)
	}

	sig := jen.Func().Id(aotName(fn.Name))
	if len(params) > 0 {
		sig = sig.Params(jen.List(params...).Int64())
	} else {
		sig = sig.Params()
	}
	return sig.Params(jen.Int64(), jen.Error()).Block(body...), nil
}

// readsRegisters reports whether the generated body touches the register
// array. Stack slot addresses are resolved statically and do not count.
func readsRegisters(fn *ir.Function, reachable map[ir.BlockID]bool) bool {
	if len(fn.Params) > 0 {
		return true
	}
	for _, b := range fn.Blocks {
		if !reachable[b.ID] {
			continue
		}
		for _, instr := range b.Instructions {
			switch in := instr.(type) {
			case *ir.Alloca:
			case *ir.Store:
				if in.Src.IsReg() {
					return true
				}
			case *ir.Call:
				if in.Dest != ir.NoReg {
					return true
				}
				for _, a := range in.Args {
					if a.IsReg() {
						return true
					}
				}
			default:
				return true
			}
		}
		for _, u := range ir.TermUses(b.Term) {
			if u.IsReg() {
				return true
			}
		}
	}
	return false
}

func reg(r ir.Reg) *jen.Statement {
	return jen.Id("r").Index(jen.Lit(int(r)))
}

func (g *aotGen) operand(o ir.Operand) (*jen.Statement, error) {
	switch o.Kind {
	case ir.OperandRegister:
		return reg(o.Reg), nil
	case ir.OperandInt:
		return jen.Lit(o.Int), nil
	case ir.OperandBool:
		if o.Bool {
			return jen.Lit(int64(1)), nil
		}
		return jen.Lit(int64(0)), nil
	}
	return nil, fmt.Errorf("operand %s has no integer representation", o)
}

var aotOperators = map[ir.BinaryOpCode]string{
	ir.OpAdd: "+", ir.OpSub: "-", ir.OpMul: "*", ir.OpDiv: "/", ir.OpRem: "%",
	ir.OpAnd: "&", ir.OpOr: "|", ir.OpXor: "^",
	ir.OpEq: "==", ir.OpNe: "!=", ir.OpLt: "<", ir.OpLe: "<=", ir.OpGt: ">", ir.OpGe: ">=",
}

func (g *aotGen) instruction(instr ir.Instruction) ([]jen.Code, error) {
	switch in := instr.(type) {
	case *ir.BinaryOp:
		lhs, err := g.operand(in.LHS)
		if err != nil {
			return nil, err
		}
		rhs, err := g.operand(in.RHS)
		if err != nil {
			return nil, err
		}
		op, ok := aotOperators[in.Op]
		if !ok {
			return nil, fmt.Errorf("unsupported operator %s", in.Op)
		}
		expr := jen.Add(lhs).Op(op).Add(rhs)
		if in.Op.IsComparison() {
			expr = jen.Id("b2i").Call(expr)
		}
		assign := reg(in.Dest).Op("=").Add(expr)
		if in.Op == ir.OpDiv || in.Op == ir.OpRem {
			divisor, _ := g.operand(in.RHS)
			return []jen.Code{
				jen.If(divisor.Op("==").Lit(0)).Block(
					jen.Return(jen.Lit(0), jen.Id("ErrDivisionByZero")),
				),
				assign,
			}, nil
		}
		return []jen.Code{assign}, nil

	case *ir.UnaryOp:
		src, err := g.operand(in.Src)
		if err != nil {
			return nil, err
		}
		if in.Op == ir.OpNeg {
			return []jen.Code{reg(in.Dest).Op("=").Op("-").Add(src)}, nil
		}
		return []jen.Code{reg(in.Dest).Op("=").Id("b2i").Call(src.Op("==").Lit(0))}, nil

	case *ir.Call:
		args := make([]jen.Code, 0, len(in.Args)+1)
		var callee *jen.Statement
		if target, ok := g.local[in.Func]; ok && len(target.Params) == len(in.Args) {
			callee = jen.Id(aotName(in.Func))
		} else {
			callee = jen.Id("call")
			args = append(args, jen.Lit(in.Func))
		}
		for _, a := range in.Args {
			v, err := g.operand(a)
			if err != nil {
				return nil, err
			}
			args = append(args, v)
		}
		dest := jen.Id("_")
		if in.Dest != ir.NoReg {
			dest = reg(in.Dest)
		}
		return []jen.Code{
			jen.List(dest, jen.Err()).Op("=").Add(callee).Call(args...),
			jen.If(jen.Err().Op("!=").Nil()).Block(jen.Return(jen.Lit(0), jen.Err())),
		}, nil

	case *ir.Alloca:
		// Slots are static; the address register is never read directly.
		return nil, nil

	case *ir.Load:
		s, ok := g.slot(in.Addr)
		if !ok {
			return nil, fmt.Errorf("address %s is not a stack slot", in.Addr)
		}
		return []jen.Code{reg(in.Dest).Op("=").Id("m").Index(jen.Lit(s))}, nil

	case *ir.Store:
		s, ok := g.slot(in.Addr)
		if !ok {
			return nil, fmt.Errorf("address %s is not a stack slot", in.Addr)
		}
		src, err := g.operand(in.Src)
		if err != nil {
			return nil, err
		}
		return []jen.Code{jen.Id("m").Index(jen.Lit(s)).Op("=").Add(src)}, nil
	}
	return nil, fmt.Errorf("unsupported instruction %T", instr)
}

func (g *aotGen) slot(addr ir.Operand) (int, bool) {
	if !addr.IsReg() {
		return 0, false
	}
	s, ok := g.slots[addr.Reg]
	return s, ok
}

// edge returns the phi moves for the edge from -> to as one parallel
// assignment, or nil when there are none.
func (g *aotGen) edge(from, to ir.BlockID) (jen.Code, error) {
	var dests, srcs []jen.Code
	for _, instr := range g.fn.Blocks[to].Instructions {
		phi, ok := instr.(*ir.Phi)
		if !ok {
			continue
		}
		found := false
		for _, inc := range phi.Incoming {
			if inc.Block != from {
				continue
			}
			v, err := g.operand(inc.Value)
			if err != nil {
				return nil, err
			}
			dests = append(dests, reg(phi.Dest))
			srcs = append(srcs, v)
			found = true
			break
		}
		if !found {
			return nil, fmt.Errorf("phi %%%d has no value for predecessor %s", phi.Dest, g.fn.Blocks[from].Name())
		}
	}
	if len(dests) == 0 {
		return nil, nil
	}
	return jen.List(dests...).Op("=").List(srcs...), nil
}

func (g *aotGen) jump(from, to ir.BlockID) ([]jen.Code, error) {
	move, err := g.edge(from, to)
	if err != nil {
		return nil, err
	}
	var out []jen.Code
	if move != nil {
		out = append(out, move)
	}
	return append(out, jen.Goto().Id(g.fn.Blocks[to].Name())), nil
}

func (g *aotGen) terminator(b *ir.BasicBlock) ([]jen.Code, error) {
	switch t := b.Term.(type) {
	case *ir.Return:
		if !t.HasValue {
			return []jen.Code{jen.Return(jen.Lit(0), jen.Nil())}, nil
		}
		v, err := g.operand(t.Value)
		if err != nil {
			return nil, err
		}
		return []jen.Code{jen.Return(v, jen.Nil())}, nil

	case *ir.Branch:
		return g.jump(b.ID, t.Target)

	case *ir.CondBranch:
		cond, err := g.operand(t.Cond)
		if err != nil {
			return nil, err
		}
		onTrue, err := g.jump(b.ID, t.True)
		if err != nil {
			return nil, err
		}
		onFalse, err := g.jump(b.ID, t.False)
		if err != nil {
			return nil, err
		}
		return append([]jen.Code{jen.If(cond.Op("!=").Lit(0)).Block(onTrue...)}, onFalse...), nil
	}
	return []jen.Code{jen.Panic(jen.Lit("unreachable"))}, nil
}
