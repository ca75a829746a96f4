package optimizer

import "github.com/chazu/aurora/ir"

// ---------------------------------------------------------------------------
// Inlining
// ---------------------------------------------------------------------------

// InliningPass replaces calls to small straight-line functions of the same
// module with a renumbered copy of the callee body.
type InliningPass struct {
	MaxInstructions int
	MaxBlocks       int
	Inlined         int

	tail *TailRecursionPass
}

func (p *InliningPass) Name() string { return "inlining" }

func (p *InliningPass) Run(m *ir.Module) (bool, error) {
	p.Inlined = 0
	for _, caller := range m.Functions {
		for _, b := range caller.Blocks {
			p.inlineBlock(m, caller, b)
		}
	}
	return p.Inlined > 0, nil
}

// candidate reports whether callee may be inlined into caller.
func (p *InliningPass) candidate(caller, callee *ir.Function, call *ir.Call) bool {
	if callee == nil || callee == caller || callee.Name == caller.Name {
		return false
	}
	if p.tail != nil && p.tail.IsTailRecursive(callee.Name) {
		return false
	}
	if len(callee.Params) != len(call.Args) {
		return false
	}
	if callee.InstructionCount() > p.MaxInstructions || len(callee.Blocks) > p.MaxBlocks {
		return false
	}
	entry := callee.Block(callee.Entry)
	if entry == nil {
		return false
	}
	ret, ok := entry.Term.(*ir.Return)
	if !ok || (!ret.HasValue && call.Dest != ir.NoReg) {
		return false
	}
	for _, instr := range entry.Instructions {
		switch in := instr.(type) {
		case *ir.BinaryOp, *ir.UnaryOp:
		case *ir.Call:
			// A callee calling the caller would re-expand on the next run.
			if in.Func == caller.Name {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func (p *InliningPass) inlineBlock(m *ir.Module, caller *ir.Function, b *ir.BasicBlock) {
	var out []ir.Instruction
	next := ir.MaxReg(caller) + 1

	for _, instr := range b.Instructions {
		call, ok := instr.(*ir.Call)
		if !ok {
			out = append(out, instr)
			continue
		}
		callee := m.Function(call.Func)
		if !p.candidate(caller, callee, call) {
			out = append(out, instr)
			continue
		}

		// Parameters map to the argument operands; every other callee
		// register gets a fresh caller register.
		subst := make(map[ir.Reg]ir.Operand)
		for i, arg := range call.Args {
			subst[callee.ParamReg(i)] = arg
		}
		remap := func(o ir.Operand) ir.Operand {
			if !o.IsReg() {
				return o
			}
			if v, ok := subst[o.Reg]; ok {
				return v
			}
			return o
		}

		entry := callee.Blocks[callee.Entry]
		for _, ci := range entry.Instructions {
			clone := ir.CloneInstruction(ci)
			ir.MapOperands(clone, remap)
			if d, ok := ir.Def(clone); ok {
				fresh := next
				next++
				subst[d] = ir.RegOp(fresh)
				setDest(clone, fresh)
			}
			out = append(out, clone)
		}

		// Instructions not yet visited are shared with the block, so the
		// substitution reaches them too.
		if call.Dest != ir.NoReg {
			ret := entry.Term.(*ir.Return)
			ir.ReplaceUses(caller, call.Dest, remap(ret.Value))
		}
		p.Inlined++
		log.Debugf("inlined %s into %s", callee.Name, caller.Name)
	}

	b.Instructions = out
}

func setDest(instr ir.Instruction, r ir.Reg) {
	switch in := instr.(type) {
	case *ir.BinaryOp:
		in.Dest = r
	case *ir.UnaryOp:
		in.Dest = r
	case *ir.Call:
		in.Dest = r
	case *ir.Load:
		in.Dest = r
	case *ir.Alloca:
		in.Dest = r
	case *ir.Phi:
		in.Dest = r
	}
}
