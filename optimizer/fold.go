package optimizer

import "github.com/chazu/aurora/ir"

// ---------------------------------------------------------------------------
// Constant folding
// ---------------------------------------------------------------------------

// ConstantFoldingPass evaluates operations whose operands are constants and
// substitutes the result for every use of the destination register.
// Division and remainder by zero are left in place so the error surfaces at
// run time.
type ConstantFoldingPass struct {
	Folded int
}

func (p *ConstantFoldingPass) Name() string { return "constant-folding" }

func (p *ConstantFoldingPass) Run(m *ir.Module) (bool, error) {
	p.Folded = 0
	changed := false
	for _, fn := range m.Functions {
		for foldFunction(fn, &p.Folded) {
			changed = true
		}
	}
	return changed, nil
}

// foldFunction makes one sweep over fn and reports whether it folded
// anything. Substitution reaches uses in every block, so repeated sweeps
// converge.
func foldFunction(fn *ir.Function, count *int) bool {
	changed := false
	for _, b := range fn.Blocks {
		kept := make([]ir.Instruction, 0, len(b.Instructions))
		for _, instr := range b.Instructions {
			dest, val, ok := foldInstruction(instr)
			if !ok {
				kept = append(kept, instr)
				continue
			}
			ir.ReplaceUses(fn, dest, val)
			*count++
			changed = true
		}
		b.Instructions = kept
	}
	return changed
}

// foldInstruction computes the constant result of instr, if it has one.
func foldInstruction(instr ir.Instruction) (ir.Reg, ir.Operand, bool) {
	switch in := instr.(type) {
	case *ir.BinaryOp:
		v, ok := foldBinary(in.Op, in.LHS, in.RHS)
		return in.Dest, v, ok
	case *ir.UnaryOp:
		switch {
		case in.Src.Kind == ir.OperandInt && in.Op == ir.OpNeg:
			return in.Dest, ir.IntOp(-in.Src.Int), true
		case in.Src.Kind == ir.OperandInt && in.Op == ir.OpNot:
			return in.Dest, ir.BoolOp(in.Src.Int == 0), true
		case in.Src.Kind == ir.OperandBool && in.Op == ir.OpNot:
			return in.Dest, ir.BoolOp(!in.Src.Bool), true
		}
	}
	return ir.NoReg, ir.Operand{}, false
}

func foldBinary(op ir.BinaryOpCode, lhs, rhs ir.Operand) (ir.Operand, bool) {
	switch {
	case lhs.Kind == ir.OperandInt && rhs.Kind == ir.OperandInt:
		v, err := ir.EvalInt(op, lhs.Int, rhs.Int)
		if err != nil {
			return ir.Operand{}, false
		}
		if op.IsComparison() {
			return ir.BoolOp(v != 0), true
		}
		return ir.IntOp(v), true

	case lhs.Kind == ir.OperandBool && rhs.Kind == ir.OperandBool:
		a, b := lhs.Bool, rhs.Bool
		switch op {
		case ir.OpAnd:
			return ir.BoolOp(a && b), true
		case ir.OpOr:
			return ir.BoolOp(a || b), true
		case ir.OpXor, ir.OpNe:
			return ir.BoolOp(a != b), true
		case ir.OpEq:
			return ir.BoolOp(a == b), true
		}
	}
	return ir.Operand{}, false
}
