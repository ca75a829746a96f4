package ir

// ---------------------------------------------------------------------------
// Builder: incremental construction of a Module
// ---------------------------------------------------------------------------

// Builder constructs IR one instruction at a time. It tracks the function
// and block currently being written and hands out virtual registers.
type Builder struct {
	module  *Module
	fn      *Function
	block   BlockID
	nextReg Reg
}

// NewBuilder creates a builder writing into a fresh module.
func NewBuilder(moduleName string) *Builder {
	return &Builder{
		module:  NewModule(moduleName),
		block:   -1,
		nextReg: 1,
	}
}

// Module returns the module under construction.
func (b *Builder) Module() *Module {
	return b.module
}

// Function returns the function currently being built, or nil.
func (b *Builder) Function() *Function {
	return b.fn
}

// CreateFunction appends a new function to the module, creates its entry
// block and selects it. Registers 1..len(params) are reserved for the
// parameters.
func (b *Builder) CreateFunction(name string, params []string, returnType string) *Function {
	fn := NewFunction(name, params, returnType)
	b.module.AddFunction(fn)
	b.fn = fn
	b.nextReg = 1
	for range params {
		b.nextReg++
	}
	entry := fn.AddBlock(NewBasicBlock(0, "entry"))
	fn.Entry = entry
	b.block = entry
	return fn
}

// CreateBlock appends a block to the current function without selecting it.
func (b *Builder) CreateBlock(label string) BlockID {
	b.requireFunction()
	return b.fn.AddBlock(NewBasicBlock(0, label))
}

// SetCurrentBlock selects the block subsequent instructions go into.
func (b *Builder) SetCurrentBlock(id BlockID) {
	b.requireFunction()
	if b.fn.Block(id) == nil {
		panic("ir: select of unknown block")
	}
	b.block = id
}

// CurrentBlock returns the selected block id, or -1 when none is selected.
func (b *Builder) CurrentBlock() BlockID {
	return b.block
}

// NewReg allocates a fresh virtual register.
func (b *Builder) NewReg() Reg {
	r := b.nextReg
	b.nextReg++
	return r
}

// Emit appends instr to the selected block.
func (b *Builder) Emit(instr Instruction) {
	b.current().Push(instr)
}

// EmitEntry prepends instr to the entry block of the current function. It
// is used for stack slots, which must dominate every use.
func (b *Builder) EmitEntry(instr Instruction) {
	b.requireFunction()
	entry := b.fn.Blocks[b.fn.Entry]
	entry.Instructions = append([]Instruction{instr}, entry.Instructions...)
}

// Terminate sets the selected block's terminator, replacing any previous one.
func (b *Builder) Terminate(t Terminator) {
	b.current().SetTerminator(t)
}

// IsTerminated reports whether the selected block already has a real
// terminator.
func (b *Builder) IsTerminated() bool {
	if b.fn == nil || b.fn.Block(b.block) == nil {
		return false
	}
	return b.fn.Blocks[b.block].IsTerminated()
}

// BuildBinary emits Dest = lhs op rhs into a fresh register.
func (b *Builder) BuildBinary(op BinaryOpCode, lhs, rhs Operand) Operand {
	dest := b.NewReg()
	b.Emit(&BinaryOp{Op: op, Dest: dest, LHS: lhs, RHS: rhs})
	return RegOp(dest)
}

// BuildUnary emits Dest = op src into a fresh register.
func (b *Builder) BuildUnary(op UnaryOpCode, src Operand) Operand {
	dest := b.NewReg()
	b.Emit(&UnaryOp{Op: op, Dest: dest, Src: src})
	return RegOp(dest)
}

func (b *Builder) BuildAdd(lhs, rhs Operand) Operand { return b.BuildBinary(OpAdd, lhs, rhs) }
func (b *Builder) BuildSub(lhs, rhs Operand) Operand { return b.BuildBinary(OpSub, lhs, rhs) }
func (b *Builder) BuildMul(lhs, rhs Operand) Operand { return b.BuildBinary(OpMul, lhs, rhs) }

// BuildCall emits a call whose result lands in a fresh register.
func (b *Builder) BuildCall(name string, args []Operand) Operand {
	dest := b.NewReg()
	b.Emit(&Call{Dest: dest, Func: name, Args: args})
	return RegOp(dest)
}

// BuildReturn terminates the selected block with a return. A nil value
// produces a bare return.
func (b *Builder) BuildReturn(v *Operand) {
	if v == nil {
		b.Terminate(&Return{})
		return
	}
	b.Terminate(ReturnValue(*v))
}

func (b *Builder) requireFunction() {
	if b.fn == nil {
		panic("ir: no active function")
	}
}

func (b *Builder) current() *BasicBlock {
	if b.fn == nil || b.fn.Block(b.block) == nil {
		panic("ir: emit with no active block")
	}
	return b.fn.Blocks[b.block]
}
