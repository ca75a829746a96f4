package ir

// Def returns the register an instruction defines, if any.
func Def(instr Instruction) (Reg, bool) {
	switch in := instr.(type) {
	case *BinaryOp:
		return in.Dest, true
	case *UnaryOp:
		return in.Dest, true
	case *Call:
		return in.Dest, in.Dest != NoReg
	case *Load:
		return in.Dest, true
	case *Alloca:
		return in.Dest, true
	case *Phi:
		return in.Dest, true
	case *Store:
		return NoReg, false
	}
	return NoReg, false
}

// Uses returns the operands an instruction reads, in order.
func Uses(instr Instruction) []Operand {
	switch in := instr.(type) {
	case *BinaryOp:
		return []Operand{in.LHS, in.RHS}
	case *UnaryOp:
		return []Operand{in.Src}
	case *Call:
		return in.Args
	case *Load:
		return []Operand{in.Addr}
	case *Store:
		return []Operand{in.Src, in.Addr}
	case *Alloca:
		return nil
	case *Phi:
		ops := make([]Operand, len(in.Incoming))
		for i, inc := range in.Incoming {
			ops[i] = inc.Value
		}
		return ops
	}
	return nil
}

// TermUses returns the operands a terminator reads.
func TermUses(t Terminator) []Operand {
	switch tt := t.(type) {
	case *Return:
		if tt.HasValue {
			return []Operand{tt.Value}
		}
	case *CondBranch:
		return []Operand{tt.Cond}
	}
	return nil
}

// Successors returns the blocks a terminator may transfer control to.
func Successors(t Terminator) []BlockID {
	switch tt := t.(type) {
	case *Branch:
		return []BlockID{tt.Target}
	case *CondBranch:
		if tt.True == tt.False {
			return []BlockID{tt.True}
		}
		return []BlockID{tt.True, tt.False}
	}
	return nil
}

// MapOperands rewrites every operand read by instr through fn, in place.
func MapOperands(instr Instruction, fn func(Operand) Operand) {
	switch in := instr.(type) {
	case *BinaryOp:
		in.LHS = fn(in.LHS)
		in.RHS = fn(in.RHS)
	case *UnaryOp:
		in.Src = fn(in.Src)
	case *Call:
		for i := range in.Args {
			in.Args[i] = fn(in.Args[i])
		}
	case *Load:
		in.Addr = fn(in.Addr)
	case *Store:
		in.Src = fn(in.Src)
		in.Addr = fn(in.Addr)
	case *Phi:
		for i := range in.Incoming {
			in.Incoming[i].Value = fn(in.Incoming[i].Value)
		}
	case *Alloca:
	}
}

// MapTermOperands rewrites every operand read by t through fn, in place.
func MapTermOperands(t Terminator, fn func(Operand) Operand) {
	switch tt := t.(type) {
	case *Return:
		if tt.HasValue {
			tt.Value = fn(tt.Value)
		}
	case *CondBranch:
		tt.Cond = fn(tt.Cond)
	}
}

// ReplaceUses substitutes with for every read of reg in the function.
func ReplaceUses(fn *Function, reg Reg, with Operand) {
	sub := func(o Operand) Operand {
		if o.IsReg() && o.Reg == reg {
			return with
		}
		return o
	}
	for _, b := range fn.Blocks {
		for _, instr := range b.Instructions {
			MapOperands(instr, sub)
		}
		MapTermOperands(b.Term, sub)
	}
}

// MaxReg returns the highest register defined or used in the function,
// counting parameter registers.
func MaxReg(fn *Function) Reg {
	max := Reg(len(fn.Params))
	note := func(o Operand) {
		if o.IsReg() && o.Reg > max {
			max = o.Reg
		}
	}
	for _, b := range fn.Blocks {
		for _, instr := range b.Instructions {
			if d, ok := Def(instr); ok && d > max {
				max = d
			}
			for _, u := range Uses(instr) {
				note(u)
			}
		}
		for _, u := range TermUses(b.Term) {
			note(u)
		}
	}
	return max
}

// Reachable returns the set of blocks reachable from the entry block.
func Reachable(fn *Function) map[BlockID]bool {
	seen := make(map[BlockID]bool)
	if fn.Block(fn.Entry) == nil {
		return seen
	}
	stack := []BlockID{fn.Entry}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		b := fn.Block(id)
		if b == nil {
			continue
		}
		for _, s := range Successors(b.Term) {
			if !seen[s] && fn.Block(s) != nil {
				stack = append(stack, s)
			}
		}
	}
	return seen
}

// ReversePostorder returns the reachable blocks in reverse postorder, which
// places every block after its dominators.
func ReversePostorder(fn *Function) []BlockID {
	seen := make(map[BlockID]bool)
	var post []BlockID
	var visit func(id BlockID)
	visit = func(id BlockID) {
		if seen[id] || fn.Block(id) == nil {
			return
		}
		seen[id] = true
		for _, s := range Successors(fn.Blocks[id].Term) {
			visit(s)
		}
		post = append(post, id)
	}
	visit(fn.Entry)
	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post
}

// Predecessors maps each block to the blocks that branch to it.
func Predecessors(fn *Function) map[BlockID][]BlockID {
	preds := make(map[BlockID][]BlockID)
	for _, b := range fn.Blocks {
		for _, s := range Successors(b.Term) {
			preds[s] = append(preds[s], b.ID)
		}
	}
	return preds
}

// CloneInstruction returns a deep copy of instr.
func CloneInstruction(instr Instruction) Instruction {
	switch in := instr.(type) {
	case *BinaryOp:
		c := *in
		return &c
	case *UnaryOp:
		c := *in
		return &c
	case *Call:
		c := *in
		c.Args = append([]Operand(nil), in.Args...)
		return &c
	case *Load:
		c := *in
		return &c
	case *Store:
		c := *in
		return &c
	case *Alloca:
		c := *in
		return &c
	case *Phi:
		c := *in
		c.Incoming = append([]PhiIncoming(nil), in.Incoming...)
		return &c
	}
	return instr
}

// CloneTerminator returns a deep copy of t.
func CloneTerminator(t Terminator) Terminator {
	switch tt := t.(type) {
	case *Return:
		c := *tt
		return &c
	case *Branch:
		c := *tt
		return &c
	case *CondBranch:
		c := *tt
		return &c
	}
	return &Unreachable{}
}

// Clone returns a deep copy of fn.
func Clone(fn *Function) *Function {
	c := NewFunction(fn.Name, append([]string(nil), fn.Params...), fn.ReturnType)
	c.Entry = fn.Entry
	for _, b := range fn.Blocks {
		nb := NewBasicBlock(b.ID, b.Label)
		for _, instr := range b.Instructions {
			nb.Push(CloneInstruction(instr))
		}
		nb.Term = CloneTerminator(b.Term)
		c.Blocks = append(c.Blocks, nb)
	}
	return c
}
