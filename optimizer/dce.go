package optimizer

import "github.com/chazu/aurora/ir"

// ---------------------------------------------------------------------------
// Dead-code elimination
// ---------------------------------------------------------------------------

// DeadCodePass removes pure operations whose results are never read.
// Calls, memory operations and phis are always kept, as are divisions that
// may fault.
type DeadCodePass struct {
	Removed int
}

func (p *DeadCodePass) Name() string { return "dead-code-elimination" }

func (p *DeadCodePass) Run(m *ir.Module) (bool, error) {
	p.Removed = 0
	changed := false
	for _, fn := range m.Functions {
		for {
			n := eliminate(fn)
			if n == 0 {
				break
			}
			p.Removed += n
			changed = true
		}
	}
	return changed, nil
}

// eliminate drops one round of dead pure instructions from fn.
func eliminate(fn *ir.Function) int {
	live := liveRegisters(fn)
	removed := 0
	for _, b := range fn.Blocks {
		kept := make([]ir.Instruction, 0, len(b.Instructions))
		for _, instr := range b.Instructions {
			if dest, ok := pureDest(instr); ok && !live[dest] {
				removed++
				continue
			}
			kept = append(kept, instr)
		}
		b.Instructions = kept
	}
	return removed
}

// liveRegisters returns every register read by a terminator or by any
// instruction in the function.
func liveRegisters(fn *ir.Function) map[ir.Reg]bool {
	live := make(map[ir.Reg]bool)
	mark := func(ops []ir.Operand) {
		for _, o := range ops {
			if o.IsReg() {
				live[o.Reg] = true
			}
		}
	}
	for _, b := range fn.Blocks {
		for _, instr := range b.Instructions {
			mark(ir.Uses(instr))
		}
		mark(ir.TermUses(b.Term))
	}
	return live
}

// pureDest returns the destination of a side-effect-free instruction.
func pureDest(instr ir.Instruction) (ir.Reg, bool) {
	switch in := instr.(type) {
	case *ir.BinaryOp:
		if (in.Op == ir.OpDiv || in.Op == ir.OpRem) && !nonZeroImmediate(in.RHS) {
			return ir.NoReg, false
		}
		return in.Dest, true
	case *ir.UnaryOp:
		return in.Dest, true
	}
	return ir.NoReg, false
}

func nonZeroImmediate(o ir.Operand) bool {
	return o.Kind == ir.OperandInt && o.Int != 0
}
