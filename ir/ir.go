// Package ir defines the control-flow-graph intermediate representation used
// by the adaptive compiler: modules of functions, each a list of basic blocks
// holding three-address instructions and exactly one terminator.
package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// BlockID identifies a basic block within a function. It is always the
// block's index in Function.Blocks.
type BlockID int

// Reg is a virtual register. Registers are allocated per function starting
// at 1; 0 is reserved as invalid.
type Reg int

// NoReg is the invalid register.
const NoReg Reg = 0

// ---------------------------------------------------------------------------
// Module / Function / BasicBlock
// ---------------------------------------------------------------------------

// Module is a named, ordered collection of functions.
type Module struct {
	Name      string
	Functions []*Function
}

// NewModule creates an empty module.
func NewModule(name string) *Module {
	return &Module{Name: name}
}

// AddFunction appends fn to the module.
func (m *Module) AddFunction(fn *Function) {
	m.Functions = append(m.Functions, fn)
}

// Function returns the function with the given name, or nil.
func (m *Module) Function(name string) *Function {
	for _, fn := range m.Functions {
		if fn.Name == name {
			return fn
		}
	}
	return nil
}

// Function is a single function in CFG form.
//
// Parameter i is bound to register i+1 when the function is entered.
type Function struct {
	Name       string
	Params     []string
	ReturnType string
	Entry      BlockID
	Blocks     []*BasicBlock
}

// NewFunction creates a function with no blocks.
func NewFunction(name string, params []string, returnType string) *Function {
	return &Function{
		Name:       name,
		Params:     params,
		ReturnType: returnType,
	}
}

// AddBlock appends a block, forcing its ID to match its index.
func (f *Function) AddBlock(b *BasicBlock) BlockID {
	id := BlockID(len(f.Blocks))
	b.ID = id
	f.Blocks = append(f.Blocks, b)
	return id
}

// Block returns the block with the given id, or nil if out of range.
func (f *Function) Block(id BlockID) *BasicBlock {
	if id < 0 || int(id) >= len(f.Blocks) {
		return nil
	}
	return f.Blocks[id]
}

// ParamReg returns the register holding parameter i.
func (f *Function) ParamReg(i int) Reg {
	return Reg(i + 1)
}

// InstructionCount returns the total number of instructions in all blocks.
func (f *Function) InstructionCount() int {
	n := 0
	for _, b := range f.Blocks {
		n += len(b.Instructions)
	}
	return n
}

// BasicBlock is a straight-line instruction sequence ending in one terminator.
type BasicBlock struct {
	ID           BlockID
	Label        string
	Instructions []Instruction
	Term         Terminator
}

// NewBasicBlock creates a block whose terminator is Unreachable until set.
func NewBasicBlock(id BlockID, label string) *BasicBlock {
	return &BasicBlock{
		ID:    id,
		Label: label,
		Term:  &Unreachable{},
	}
}

// Push appends an instruction.
func (b *BasicBlock) Push(instr Instruction) {
	b.Instructions = append(b.Instructions, instr)
}

// SetTerminator replaces the block's terminator.
func (b *BasicBlock) SetTerminator(t Terminator) {
	b.Term = t
}

// IsTerminated reports whether the terminator has been set to something
// other than Unreachable.
func (b *BasicBlock) IsTerminated() bool {
	if b.Term == nil {
		return false
	}
	_, unreachable := b.Term.(*Unreachable)
	return !unreachable
}

// Name returns the block's rendered name, e.g. "then1".
func (b *BasicBlock) Name() string {
	return b.Label + strconv.Itoa(int(b.ID))
}

// ---------------------------------------------------------------------------
// Operands
// ---------------------------------------------------------------------------

// OperandKind tags an Operand.
type OperandKind uint8

const (
	OperandUndef OperandKind = iota
	OperandRegister
	OperandInt
	OperandFloat
	OperandBool
	OperandString
)

// Operand is a register reference or an immediate. The zero value is Undef.
type Operand struct {
	Kind  OperandKind
	Reg   Reg
	Int   int64
	Float float64
	Bool  bool
	Str   string
}

// RegOp returns a register operand.
func RegOp(r Reg) Operand { return Operand{Kind: OperandRegister, Reg: r} }

// IntOp returns an integer immediate.
func IntOp(v int64) Operand { return Operand{Kind: OperandInt, Int: v} }

// FloatOp returns a float immediate.
func FloatOp(v float64) Operand { return Operand{Kind: OperandFloat, Float: v} }

// BoolOp returns a boolean immediate.
func BoolOp(v bool) Operand { return Operand{Kind: OperandBool, Bool: v} }

// StringOp returns a string immediate.
func StringOp(v string) Operand { return Operand{Kind: OperandString, Str: v} }

// Undef returns the undefined operand.
func Undef() Operand { return Operand{} }

// IsReg reports whether the operand is a register reference.
func (o Operand) IsReg() bool { return o.Kind == OperandRegister }

// IsImmediate reports whether the operand is a constant.
func (o Operand) IsImmediate() bool {
	return o.Kind != OperandRegister && o.Kind != OperandUndef
}

func (o Operand) String() string {
	switch o.Kind {
	case OperandRegister:
		return "%" + strconv.Itoa(int(o.Reg))
	case OperandInt:
		return strconv.FormatInt(o.Int, 10)
	case OperandFloat:
		s := strconv.FormatFloat(o.Float, 'g', -1, 64)
		if strings.ContainsAny(s, ".eIN") {
			return s
		}
		return s + ".0"
	case OperandBool:
		return strconv.FormatBool(o.Bool)
	case OperandString:
		return strconv.Quote(o.Str)
	default:
		return "undef"
	}
}

// ---------------------------------------------------------------------------
// Opcodes
// ---------------------------------------------------------------------------

// BinaryOpCode is the operator of a BinaryOp.
type BinaryOpCode uint8

const (
	OpAdd BinaryOpCode = iota
	OpSub
	OpMul
	OpDiv
	OpRem
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
	OpXor
)

var binaryOpNames = [...]string{
	OpAdd: "add",
	OpSub: "sub",
	OpMul: "mul",
	OpDiv: "div",
	OpRem: "rem",
	OpEq:  "eq",
	OpNe:  "ne",
	OpLt:  "lt",
	OpLe:  "le",
	OpGt:  "gt",
	OpGe:  "ge",
	OpAnd: "and",
	OpOr:  "or",
	OpXor: "xor",
}

func (op BinaryOpCode) String() string {
	if int(op) < len(binaryOpNames) {
		return binaryOpNames[op]
	}
	return fmt.Sprintf("binop(%d)", uint8(op))
}

// IsComparison reports whether op produces a boolean result.
func (op BinaryOpCode) IsComparison() bool {
	return op >= OpEq && op <= OpGe
}

// UnaryOpCode is the operator of a UnaryOp.
type UnaryOpCode uint8

const (
	OpNeg UnaryOpCode = iota
	OpNot
)

func (op UnaryOpCode) String() string {
	switch op {
	case OpNeg:
		return "neg"
	case OpNot:
		return "not"
	}
	return fmt.Sprintf("unop(%d)", uint8(op))
}

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

// Instruction is a straight-line three-address instruction. The set of
// implementations is closed; consumers switch over the concrete types.
type Instruction interface {
	instruction()
}

// BinaryOp computes Dest = LHS Op RHS.
type BinaryOp struct {
	Op   BinaryOpCode
	Dest Reg
	LHS  Operand
	RHS  Operand
}

// UnaryOp computes Dest = Op Src.
type UnaryOp struct {
	Op   UnaryOpCode
	Dest Reg
	Src  Operand
}

// Call invokes Func by name. Dest is NoReg when the result is discarded.
type Call struct {
	Dest Reg
	Func string
	Args []Operand
}

// Load reads the slot at Addr into Dest.
type Load struct {
	Dest Reg
	Addr Operand
}

// Store writes Src into the slot at Addr.
type Store struct {
	Src  Operand
	Addr Operand
}

// Alloca reserves a stack slot and puts its address in Dest.
type Alloca struct {
	Dest Reg
	Type string
}

// PhiIncoming is one (value, predecessor) pair of a Phi.
type PhiIncoming struct {
	Value Operand
	Block BlockID
}

// Phi selects a value depending on the predecessor block.
type Phi struct {
	Dest     Reg
	Incoming []PhiIncoming
}

func (*BinaryOp) instruction() {}
func (*UnaryOp) instruction()  {}
func (*Call) instruction()     {}
func (*Load) instruction()     {}
func (*Store) instruction()    {}
func (*Alloca) instruction()   {}
func (*Phi) instruction()      {}

// ---------------------------------------------------------------------------
// Terminators
// ---------------------------------------------------------------------------

// Terminator ends a basic block and transfers control. The set of
// implementations is closed.
type Terminator interface {
	terminator()
}

// Return leaves the function, optionally with a value.
type Return struct {
	Value    Operand
	HasValue bool
}

// Branch jumps unconditionally to Target.
type Branch struct {
	Target BlockID
}

// CondBranch jumps to True when Cond is non-zero, otherwise to False.
type CondBranch struct {
	Cond  Operand
	True  BlockID
	False BlockID
}

// Unreachable marks a block control never reaches.
type Unreachable struct{}

func (*Return) terminator()      {}
func (*Branch) terminator()      {}
func (*CondBranch) terminator()  {}
func (*Unreachable) terminator() {}

// ReturnValue builds a Return carrying v.
func ReturnValue(v Operand) *Return {
	return &Return{Value: v, HasValue: true}
}
