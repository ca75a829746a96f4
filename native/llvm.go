package native

import (
	"fmt"

	"github.com/chazu/aurora/ir"
	lir "github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	llvalue "github.com/llir/llvm/ir/value"
)

// GenerateLLVM renders m as LLVM IR text. Every function takes and returns
// i64; comparisons are widened with zext, stack slots become allocas and
// callees outside the module are declared from their first call site.
func GenerateLLVM(m *ir.Module) (string, error) {
	gen := &llvmGen{
		mod:   lir.NewModule(),
		funcs: make(map[string]*lir.Func),
	}

	for _, fn := range m.Functions {
		params := make([]*lir.Param, len(fn.Params))
		for i, p := range fn.Params {
			params[i] = lir.NewParam(p, types.I64)
		}
		gen.funcs[fn.Name] = gen.mod.NewFunc(fn.Name, types.I64, params...)
	}
	for _, fn := range m.Functions {
		if err := ir.Verify(fn); err != nil {
			return "", fmt.Errorf("native: llvm: %w", err)
		}
		if err := gen.function(fn); err != nil {
			return "", fmt.Errorf("native: llvm: %s: %w", fn.Name, err)
		}
	}
	return gen.mod.String(), nil
}

type llvmGen struct {
	mod   *lir.Module
	funcs map[string]*lir.Func
}

type llvmFunc struct {
	gen    *llvmGen
	fn     *ir.Function
	regs   map[ir.Reg]llvalue.Value
	blocks map[ir.BlockID]*lir.Block
	phis   map[ir.Reg]*lir.InstPhi
}

func (g *llvmGen) declare(name string, arity int) *lir.Func {
	if f, ok := g.funcs[name]; ok {
		return f
	}
	params := make([]*lir.Param, arity)
	for i := range params {
		params[i] = lir.NewParam("", types.I64)
	}
	f := g.mod.NewFunc(name, types.I64, params...)
	g.funcs[name] = f
	return f
}

func (g *llvmGen) function(fn *ir.Function) error {
	lf := g.funcs[fn.Name]
	f := &llvmFunc{
		gen:    g,
		fn:     fn,
		regs:   make(map[ir.Reg]llvalue.Value),
		blocks: make(map[ir.BlockID]*lir.Block),
		phis:   make(map[ir.Reg]*lir.InstPhi),
	}
	for i, p := range lf.Params {
		f.regs[fn.ParamReg(i)] = p
	}

	order := ir.ReversePostorder(fn)
	for _, id := range order {
		f.blocks[id] = lf.NewBlock(fn.Blocks[id].Name())
	}
	for _, id := range order {
		if err := f.block(fn.Blocks[id]); err != nil {
			return err
		}
	}

	// Incoming values may be defined after the phi, so they are filled in
	// once every block has been emitted.
	for _, id := range order {
		for _, instr := range fn.Blocks[id].Instructions {
			phi, ok := instr.(*ir.Phi)
			if !ok {
				continue
			}
			lp := f.phis[phi.Dest]
			lp.Incs = nil
			for _, inc := range phi.Incoming {
				pred, ok := f.blocks[inc.Block]
				if !ok {
					continue
				}
				v, err := f.operand(inc.Value)
				if err != nil {
					return err
				}
				lp.Incs = append(lp.Incs, lir.NewIncoming(v, pred))
			}
		}
	}
	return nil
}

func regName(r ir.Reg) string {
	return fmt.Sprintf("r.%d", r)
}

func (f *llvmFunc) operand(o ir.Operand) (llvalue.Value, error) {
	switch o.Kind {
	case ir.OperandRegister:
		v, ok := f.regs[o.Reg]
		if !ok {
			return nil, fmt.Errorf("register %%%d used before definition", o.Reg)
		}
		return v, nil
	case ir.OperandInt:
		return constant.NewInt(types.I64, o.Int), nil
	case ir.OperandBool:
		if o.Bool {
			return constant.NewInt(types.I64, 1), nil
		}
		return constant.NewInt(types.I64, 0), nil
	}
	return nil, fmt.Errorf("%w: operand %s", ErrUnsupportedValue, o)
}

var llvmPredicates = map[ir.BinaryOpCode]enum.IPred{
	ir.OpEq: enum.IPredEQ,
	ir.OpNe: enum.IPredNE,
	ir.OpLt: enum.IPredSLT,
	ir.OpLe: enum.IPredSLE,
	ir.OpGt: enum.IPredSGT,
	ir.OpGe: enum.IPredSGE,
}

func (f *llvmFunc) block(b *ir.BasicBlock) error {
	blk := f.blocks[b.ID]
	for _, instr := range b.Instructions {
		if err := f.instruction(blk, instr); err != nil {
			return fmt.Errorf("%s: %w", b.Name(), err)
		}
	}
	return f.terminator(blk, b.Term)
}

func (f *llvmFunc) instruction(blk *lir.Block, instr ir.Instruction) error {
	switch in := instr.(type) {
	case *ir.BinaryOp:
		x, err := f.operand(in.LHS)
		if err != nil {
			return err
		}
		y, err := f.operand(in.RHS)
		if err != nil {
			return err
		}
		var result llvalue.Named
		switch in.Op {
		case ir.OpAdd:
			result = blk.NewAdd(x, y)
		case ir.OpSub:
			result = blk.NewSub(x, y)
		case ir.OpMul:
			result = blk.NewMul(x, y)
		case ir.OpDiv:
			result = blk.NewSDiv(x, y)
		case ir.OpRem:
			result = blk.NewSRem(x, y)
		case ir.OpAnd:
			result = blk.NewAnd(x, y)
		case ir.OpOr:
			result = blk.NewOr(x, y)
		case ir.OpXor:
			result = blk.NewXor(x, y)
		default:
			pred, ok := llvmPredicates[in.Op]
			if !ok {
				return fmt.Errorf("unsupported operator %s", in.Op)
			}
			result = blk.NewZExt(blk.NewICmp(pred, x, y), types.I64)
		}
		result.SetName(regName(in.Dest))
		f.regs[in.Dest] = result

	case *ir.UnaryOp:
		x, err := f.operand(in.Src)
		if err != nil {
			return err
		}
		zero := constant.NewInt(types.I64, 0)
		var result llvalue.Named
		if in.Op == ir.OpNeg {
			result = blk.NewSub(zero, x)
		} else {
			result = blk.NewZExt(blk.NewICmp(enum.IPredEQ, x, zero), types.I64)
		}
		result.SetName(regName(in.Dest))
		f.regs[in.Dest] = result

	case *ir.Call:
		args := make([]llvalue.Value, len(in.Args))
		for i, a := range in.Args {
			v, err := f.operand(a)
			if err != nil {
				return err
			}
			args[i] = v
		}
		call := blk.NewCall(f.gen.declare(in.Func, len(args)), args...)
		if in.Dest != ir.NoReg {
			call.SetName(regName(in.Dest))
			f.regs[in.Dest] = call
		}

	case *ir.Alloca:
		slot := blk.NewAlloca(types.I64)
		slot.SetName(regName(in.Dest))
		f.regs[in.Dest] = slot

	case *ir.Load:
		ptr, err := f.operand(in.Addr)
		if err != nil {
			return err
		}
		load := blk.NewLoad(types.I64, ptr)
		load.SetName(regName(in.Dest))
		f.regs[in.Dest] = load

	case *ir.Store:
		src, err := f.operand(in.Src)
		if err != nil {
			return err
		}
		ptr, err := f.operand(in.Addr)
		if err != nil {
			return err
		}
		blk.NewStore(src, ptr)

	case *ir.Phi:
		// Placeholder incoming fixes the type; the real ones come later.
		phi := blk.NewPhi(lir.NewIncoming(constant.NewInt(types.I64, 0), blk))
		phi.SetName(regName(in.Dest))
		f.regs[in.Dest] = phi
		f.phis[in.Dest] = phi

	default:
		return fmt.Errorf("unsupported instruction %T", instr)
	}
	return nil
}

func (f *llvmFunc) terminator(blk *lir.Block, t ir.Terminator) error {
	switch tt := t.(type) {
	case *ir.Return:
		if !tt.HasValue {
			blk.NewRet(constant.NewInt(types.I64, 0))
			return nil
		}
		v, err := f.operand(tt.Value)
		if err != nil {
			return err
		}
		blk.NewRet(v)
	case *ir.Branch:
		blk.NewBr(f.blocks[tt.Target])
	case *ir.CondBranch:
		c, err := f.operand(tt.Cond)
		if err != nil {
			return err
		}
		cond := blk.NewICmp(enum.IPredNE, c, constant.NewInt(types.I64, 0))
		blk.NewCondBr(cond, f.blocks[tt.True], f.blocks[tt.False])
	default:
		blk.NewUnreachable()
	}
	return nil
}
