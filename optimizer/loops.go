package optimizer

import "github.com/chazu/aurora/ir"

// ---------------------------------------------------------------------------
// Tail call to loop
// ---------------------------------------------------------------------------

// TailCallToLoopPass rewrites self tail calls into branches. The entry
// block's body moves into a "tailrecurse" header that starts with one phi
// per parameter; each tail site feeds its arguments into those phis.
type TailCallToLoopPass struct {
	Converted int

	tail *TailRecursionPass
}

func (p *TailCallToLoopPass) Name() string { return "tail-call-to-loop" }

func (p *TailCallToLoopPass) Run(m *ir.Module) (bool, error) {
	p.Converted = 0
	for _, fn := range m.Functions {
		if p.tail != nil && !p.tail.IsTailRecursive(fn.Name) {
			continue
		}
		if convertTailCalls(fn) {
			p.Converted++
			log.Debugf("converted tail recursion in %s to a loop", fn.Name)
		}
	}
	return p.Converted > 0, nil
}

func convertTailCalls(fn *ir.Function) bool {
	usable := false
	for _, id := range tailSites(fn) {
		call := fn.Blocks[id].Instructions[len(fn.Blocks[id].Instructions)-1].(*ir.Call)
		if len(call.Args) == len(fn.Params) {
			usable = true
		}
	}
	if !usable {
		return false
	}

	entry := fn.Blocks[fn.Entry]
	header := fn.AddBlock(ir.NewBasicBlock(0, "tailrecurse"))
	hb := fn.Blocks[header]

	// Stack slots stay in the entry block; everything else moves.
	var slots []ir.Instruction
	for _, instr := range entry.Instructions {
		if _, ok := instr.(*ir.Alloca); ok {
			slots = append(slots, instr)
		} else {
			hb.Push(instr)
		}
	}
	hb.Term = entry.Term
	entry.Instructions = slots
	entry.Term = &ir.Branch{Target: header}

	// Edges that used to leave the entry now leave the header.
	for _, b := range fn.Blocks {
		for _, instr := range b.Instructions {
			if phi, ok := instr.(*ir.Phi); ok {
				for i := range phi.Incoming {
					if phi.Incoming[i].Block == fn.Entry {
						phi.Incoming[i].Block = header
					}
				}
			}
		}
	}

	// Each parameter is renamed to a phi merging the incoming value with the
	// tail-site arguments.
	next := ir.MaxReg(fn) + 1
	phis := make([]*ir.Phi, len(fn.Params))
	for i := range fn.Params {
		dest := next
		next++
		ir.ReplaceUses(fn, fn.ParamReg(i), ir.RegOp(dest))
		phis[i] = &ir.Phi{
			Dest:     dest,
			Incoming: []ir.PhiIncoming{{Value: ir.RegOp(fn.ParamReg(i)), Block: fn.Entry}},
		}
	}
	phiInstrs := make([]ir.Instruction, len(phis))
	for i, phi := range phis {
		phiInstrs[i] = phi
	}
	hb.Instructions = append(phiInstrs, hb.Instructions...)

	for _, id := range tailSites(fn) {
		b := fn.Blocks[id]
		call := b.Instructions[len(b.Instructions)-1].(*ir.Call)
		if len(call.Args) != len(fn.Params) {
			continue
		}
		b.Instructions = b.Instructions[:len(b.Instructions)-1]
		b.Term = &ir.Branch{Target: header}
		for i, arg := range call.Args {
			phis[i].Incoming = append(phis[i].Incoming, ir.PhiIncoming{Value: arg, Block: id})
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Loop detection
// ---------------------------------------------------------------------------

// LoopDetectionPass records the back edges of every function. It does not
// transform anything; unrolling is not performed.
type LoopDetectionPass struct {
	Loops []Loop
}

func (p *LoopDetectionPass) Name() string { return "loop-detection" }

func (p *LoopDetectionPass) Run(m *ir.Module) (bool, error) {
	p.Loops = nil
	for _, fn := range m.Functions {
		p.Loops = append(p.Loops, backEdges(fn)...)
	}
	return false, nil
}

// backEdges returns edges whose target is on the depth-first search stack.
func backEdges(fn *ir.Function) []Loop {
	const (
		unvisited = iota
		onStack
		done
	)
	state := make([]int, len(fn.Blocks))
	var loops []Loop
	var visit func(id ir.BlockID)
	visit = func(id ir.BlockID) {
		state[id] = onStack
		for _, s := range ir.Successors(fn.Blocks[id].Term) {
			if fn.Block(s) == nil {
				continue
			}
			switch state[s] {
			case unvisited:
				visit(s)
			case onStack:
				loops = append(loops, Loop{Function: fn.Name, Header: s, Latch: id})
			}
		}
		state[id] = done
	}
	if fn.Block(fn.Entry) != nil {
		visit(fn.Entry)
	}
	return loops
}
