package ir

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("ir: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// ---------------------------------------------------------------------------
// Wire structs
// ---------------------------------------------------------------------------

// The in-memory IR uses interfaces, so it is flattened into tagged structs
// before encoding.

type wireModule struct {
	Name      string         `cbor:"1,keyasint"`
	Functions []wireFunction `cbor:"2,keyasint"`
}

type wireFunction struct {
	Name       string      `cbor:"1,keyasint"`
	Params     []string    `cbor:"2,keyasint,omitempty"`
	ReturnType string      `cbor:"3,keyasint"`
	Entry      int         `cbor:"4,keyasint"`
	Blocks     []wireBlock `cbor:"5,keyasint"`
}

type wireBlock struct {
	Label  string      `cbor:"1,keyasint"`
	Instrs []wireInstr `cbor:"2,keyasint,omitempty"`
	Term   wireTerm    `cbor:"3,keyasint"`
}

type wireOperand struct {
	Kind  uint8   `cbor:"1,keyasint"`
	Reg   int     `cbor:"2,keyasint,omitempty"`
	Int   int64   `cbor:"3,keyasint,omitempty"`
	Float float64 `cbor:"4,keyasint,omitempty"`
	Bool  bool    `cbor:"5,keyasint,omitempty"`
	Str   string  `cbor:"6,keyasint,omitempty"`
}

const (
	wireBinary uint8 = iota + 1
	wireUnary
	wireCall
	wireLoad
	wireStore
	wireAlloca
	wirePhi
)

type wireInstr struct {
	Tag    uint8         `cbor:"1,keyasint"`
	Op     uint8         `cbor:"2,keyasint,omitempty"`
	Dest   int           `cbor:"3,keyasint,omitempty"`
	Ops    []wireOperand `cbor:"4,keyasint,omitempty"`
	Name   string        `cbor:"5,keyasint,omitempty"`
	Blocks []int         `cbor:"6,keyasint,omitempty"`
}

const (
	wireUnreachable uint8 = iota
	wireReturn
	wireBranch
	wireCondBranch
)

type wireTerm struct {
	Tag    uint8        `cbor:"1,keyasint"`
	Value  *wireOperand `cbor:"2,keyasint,omitempty"`
	Target int          `cbor:"3,keyasint,omitempty"`
	Else   int          `cbor:"4,keyasint,omitempty"`
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

// MarshalModule serializes a module to canonical CBOR.
func MarshalModule(m *Module) ([]byte, error) {
	w := wireModule{Name: m.Name}
	for _, fn := range m.Functions {
		w.Functions = append(w.Functions, toWireFunction(fn))
	}
	return cborEncMode.Marshal(&w)
}

// UnmarshalModule deserializes a module encoded by MarshalModule.
func UnmarshalModule(data []byte) (*Module, error) {
	var w wireModule
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("ir: unmarshal module: %w", err)
	}
	m := NewModule(w.Name)
	for _, wf := range w.Functions {
		fn, err := fromWireFunction(wf)
		if err != nil {
			return nil, err
		}
		m.AddFunction(fn)
	}
	return m, nil
}

func toWireOperand(o Operand) wireOperand {
	return wireOperand{
		Kind:  uint8(o.Kind),
		Reg:   int(o.Reg),
		Int:   o.Int,
		Float: o.Float,
		Bool:  o.Bool,
		Str:   o.Str,
	}
}

func fromWireOperand(w wireOperand) Operand {
	return Operand{
		Kind:  OperandKind(w.Kind),
		Reg:   Reg(w.Reg),
		Int:   w.Int,
		Float: w.Float,
		Bool:  w.Bool,
		Str:   w.Str,
	}
}

func toWireFunction(fn *Function) wireFunction {
	wf := wireFunction{
		Name:       fn.Name,
		Params:     fn.Params,
		ReturnType: fn.ReturnType,
		Entry:      int(fn.Entry),
	}
	for _, b := range fn.Blocks {
		wb := wireBlock{Label: b.Label, Term: toWireTerm(b.Term)}
		for _, instr := range b.Instructions {
			wb.Instrs = append(wb.Instrs, toWireInstr(instr))
		}
		wf.Blocks = append(wf.Blocks, wb)
	}
	return wf
}

func toWireInstr(instr Instruction) wireInstr {
	switch in := instr.(type) {
	case *BinaryOp:
		return wireInstr{Tag: wireBinary, Op: uint8(in.Op), Dest: int(in.Dest),
			Ops: []wireOperand{toWireOperand(in.LHS), toWireOperand(in.RHS)}}
	case *UnaryOp:
		return wireInstr{Tag: wireUnary, Op: uint8(in.Op), Dest: int(in.Dest),
			Ops: []wireOperand{toWireOperand(in.Src)}}
	case *Call:
		w := wireInstr{Tag: wireCall, Dest: int(in.Dest), Name: in.Func}
		for _, a := range in.Args {
			w.Ops = append(w.Ops, toWireOperand(a))
		}
		return w
	case *Load:
		return wireInstr{Tag: wireLoad, Dest: int(in.Dest), Ops: []wireOperand{toWireOperand(in.Addr)}}
	case *Store:
		return wireInstr{Tag: wireStore, Ops: []wireOperand{toWireOperand(in.Src), toWireOperand(in.Addr)}}
	case *Alloca:
		return wireInstr{Tag: wireAlloca, Dest: int(in.Dest), Name: in.Type}
	case *Phi:
		w := wireInstr{Tag: wirePhi, Dest: int(in.Dest)}
		for _, inc := range in.Incoming {
			w.Ops = append(w.Ops, toWireOperand(inc.Value))
			w.Blocks = append(w.Blocks, int(inc.Block))
		}
		return w
	}
	return wireInstr{}
}

func toWireTerm(t Terminator) wireTerm {
	switch tt := t.(type) {
	case *Return:
		w := wireTerm{Tag: wireReturn}
		if tt.HasValue {
			op := toWireOperand(tt.Value)
			w.Value = &op
		}
		return w
	case *Branch:
		return wireTerm{Tag: wireBranch, Target: int(tt.Target)}
	case *CondBranch:
		op := toWireOperand(tt.Cond)
		return wireTerm{Tag: wireCondBranch, Value: &op, Target: int(tt.True), Else: int(tt.False)}
	}
	return wireTerm{Tag: wireUnreachable}
}

func fromWireFunction(wf wireFunction) (*Function, error) {
	fn := NewFunction(wf.Name, wf.Params, wf.ReturnType)
	fn.Entry = BlockID(wf.Entry)
	for _, wb := range wf.Blocks {
		b := NewBasicBlock(0, wb.Label)
		for _, wi := range wb.Instrs {
			instr, err := fromWireInstr(wi)
			if err != nil {
				return nil, fmt.Errorf("ir: function %s: %w", wf.Name, err)
			}
			b.Push(instr)
		}
		b.Term = fromWireTerm(wb.Term)
		fn.AddBlock(b)
	}
	return fn, nil
}

func fromWireInstr(w wireInstr) (Instruction, error) {
	ops := make([]Operand, len(w.Ops))
	for i, o := range w.Ops {
		ops[i] = fromWireOperand(o)
	}
	need := func(n int) error {
		if len(ops) != n {
			return fmt.Errorf("instruction tag %d: want %d operands, got %d", w.Tag, n, len(ops))
		}
		return nil
	}
	switch w.Tag {
	case wireBinary:
		if err := need(2); err != nil {
			return nil, err
		}
		return &BinaryOp{Op: BinaryOpCode(w.Op), Dest: Reg(w.Dest), LHS: ops[0], RHS: ops[1]}, nil
	case wireUnary:
		if err := need(1); err != nil {
			return nil, err
		}
		return &UnaryOp{Op: UnaryOpCode(w.Op), Dest: Reg(w.Dest), Src: ops[0]}, nil
	case wireCall:
		return &Call{Dest: Reg(w.Dest), Func: w.Name, Args: ops}, nil
	case wireLoad:
		if err := need(1); err != nil {
			return nil, err
		}
		return &Load{Dest: Reg(w.Dest), Addr: ops[0]}, nil
	case wireStore:
		if err := need(2); err != nil {
			return nil, err
		}
		return &Store{Src: ops[0], Addr: ops[1]}, nil
	case wireAlloca:
		return &Alloca{Dest: Reg(w.Dest), Type: w.Name}, nil
	case wirePhi:
		if len(w.Blocks) != len(ops) {
			return nil, fmt.Errorf("phi: %d values for %d blocks", len(ops), len(w.Blocks))
		}
		phi := &Phi{Dest: Reg(w.Dest)}
		for i := range ops {
			phi.Incoming = append(phi.Incoming, PhiIncoming{Value: ops[i], Block: BlockID(w.Blocks[i])})
		}
		return phi, nil
	}
	return nil, fmt.Errorf("unknown instruction tag %d", w.Tag)
}

func fromWireTerm(w wireTerm) Terminator {
	switch w.Tag {
	case wireReturn:
		if w.Value == nil {
			return &Return{}
		}
		return ReturnValue(fromWireOperand(*w.Value))
	case wireBranch:
		return &Branch{Target: BlockID(w.Target)}
	case wireCondBranch:
		var cond Operand
		if w.Value != nil {
			cond = fromWireOperand(*w.Value)
		}
		return &CondBranch{Cond: cond, True: BlockID(w.Target), False: BlockID(w.Else)}
	}
	return &Unreachable{}
}
