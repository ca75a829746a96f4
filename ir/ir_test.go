package ir

import (
	"strings"
	"testing"
)

// buildAbs builds:
//
//	define Int @abs(%1 x) {
//	  if x < 0 { return -x } return x
//	}
func buildAbs() *Module {
	b := NewBuilder("test")
	b.CreateFunction("abs", []string{"x"}, "Int")
	x := RegOp(1)
	cond := b.BuildBinary(OpLt, x, IntOp(0))
	neg := b.CreateBlock("neg")
	pos := b.CreateBlock("pos")
	b.Terminate(&CondBranch{Cond: cond, True: neg, False: pos})
	b.SetCurrentBlock(neg)
	n := b.BuildUnary(OpNeg, x)
	b.BuildReturn(&n)
	b.SetCurrentBlock(pos)
	b.BuildReturn(&x)
	return b.Module()
}

func TestBuilderRegisters(t *testing.T) {
	b := NewBuilder("m")
	b.CreateFunction("f", []string{"a", "b"}, "Int")
	if r := b.NewReg(); r != 3 {
		t.Errorf("first fresh register = %d, want 3", r)
	}
	b.CreateFunction("g", nil, "Int")
	if r := b.NewReg(); r != 1 {
		t.Errorf("register counter not reset: got %d", r)
	}
	if len(b.Module().Functions) != 2 {
		t.Errorf("got %d functions", len(b.Module().Functions))
	}
}

func TestBuilderBlocks(t *testing.T) {
	b := NewBuilder("m")
	fn := b.CreateFunction("f", nil, "Void")
	if b.CurrentBlock() != 0 || fn.Entry != 0 {
		t.Fatalf("entry not selected")
	}
	if b.IsTerminated() {
		t.Error("fresh block reported terminated")
	}
	id := b.CreateBlock("next")
	if id != 1 || fn.Blocks[1].ID != 1 {
		t.Errorf("block id = %d", id)
	}
	if b.CurrentBlock() != 0 {
		t.Error("CreateBlock must not change selection")
	}
	b.Terminate(&Branch{Target: id})
	if !b.IsTerminated() {
		t.Error("block should be terminated")
	}
	b.Terminate(&Return{})
	if _, ok := fn.Blocks[0].Term.(*Return); !ok {
		t.Error("Terminate should overwrite")
	}
}

func TestBuilderEmitWithoutFunctionPanics(t *testing.T) {
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic")
		}
		if !strings.Contains(r.(string), "no active block") {
			t.Errorf("panic message = %v", r)
		}
	}()
	NewBuilder("m").Emit(&Alloca{Dest: 1, Type: "Int"})
}

func TestBuilderEmitEntry(t *testing.T) {
	b := NewBuilder("m")
	fn := b.CreateFunction("f", nil, "Int")
	b.BuildAdd(IntOp(1), IntOp(2))
	body := b.CreateBlock("body")
	b.SetCurrentBlock(body)
	b.EmitEntry(&Alloca{Dest: b.NewReg(), Type: "Int"})
	if _, ok := fn.Blocks[0].Instructions[0].(*Alloca); !ok {
		t.Errorf("alloca not prepended to entry: %s", fn)
	}
	if len(fn.Blocks[body].Instructions) != 0 {
		t.Error("EmitEntry wrote into the current block")
	}
}

func TestFormat(t *testing.T) {
	got := buildAbs().String()
	want := `define Int @abs(%1 x) {
entry0:
  %2 = lt %1, 0
  br %2, neg1, pos2
neg1:
  %3 = neg %1
  ret %3
pos2:
  ret %1
}
`
	if got != want {
		t.Errorf("format mismatch:\n got:\n%s\nwant:\n%s", got, want)
	}
}

func TestFormatInstructions(t *testing.T) {
	fn := NewFunction("f", nil, "Int")
	fn.AddBlock(NewBasicBlock(0, "entry"))
	fn.AddBlock(NewBasicBlock(0, "loop"))
	tests := []struct {
		instr Instruction
		want  string
	}{
		{&Call{Dest: 5, Func: "f", Args: []Operand{RegOp(1), IntOp(2)}}, "%5 = call @f(%1, 2)"},
		{&Call{Func: "g"}, "call @g()"},
		{&Load{Dest: 6, Addr: RegOp(2)}, "%6 = load %2"},
		{&Store{Src: RegOp(1), Addr: RegOp(2)}, "store %1, %2"},
		{&Alloca{Dest: 2, Type: "Int"}, "%2 = alloca Int"},
		{&Phi{Dest: 7, Incoming: []PhiIncoming{{RegOp(1), 0}, {RegOp(6), 1}}}, "%7 = phi [%1, entry0], [%6, loop1]"},
		{&BinaryOp{Op: OpAdd, Dest: 3, LHS: FloatOp(2), RHS: StringOp("s")}, `%3 = add 2.0, "s"`},
		{&UnaryOp{Op: OpNot, Dest: 4, Src: BoolOp(true)}, "%4 = not true"},
	}
	for _, tt := range tests {
		if got := FormatInstruction(fn, tt.instr); got != tt.want {
			t.Errorf("got %q, want %q", got, tt.want)
		}
	}
	if got := FormatTerminator(fn, &Return{}); got != "ret void" {
		t.Errorf("got %q", got)
	}
	if got := FormatTerminator(fn, &Unreachable{}); got != "unreachable" {
		t.Errorf("got %q", got)
	}
}

func TestVerify(t *testing.T) {
	m := buildAbs()
	if err := Verify(m.Functions[0]); err != nil {
		t.Fatalf("valid function rejected: %v", err)
	}

	fn := NewFunction("bad", nil, "Int")
	fn.AddBlock(NewBasicBlock(0, "entry"))
	fn.Blocks[0].Push(&BinaryOp{Op: OpAdd, Dest: 1, LHS: RegOp(9), RHS: IntOp(1)})
	fn.Blocks[0].SetTerminator(&Branch{Target: 4})
	err := Verify(fn)
	if err == nil {
		t.Fatal("expected verify error")
	}
	ve, ok := err.(*VerifyError)
	if !ok {
		t.Fatalf("error type %T", err)
	}
	if len(ve.Problems) != 2 {
		t.Errorf("problems = %v", ve.Problems)
	}

	open := NewFunction("open", nil, "Void")
	open.AddBlock(NewBasicBlock(0, "entry"))
	if err := Verify(open); err == nil {
		t.Error("unterminated reachable block accepted")
	}
}

func TestVerifyPhiPlacement(t *testing.T) {
	fn := NewFunction("p", []string{"a"}, "Int")
	fn.AddBlock(NewBasicBlock(0, "entry"))
	fn.Blocks[0].Push(&BinaryOp{Op: OpAdd, Dest: 2, LHS: RegOp(1), RHS: IntOp(1)})
	fn.Blocks[0].Push(&Phi{Dest: 3, Incoming: []PhiIncoming{{RegOp(1), 0}}})
	fn.Blocks[0].SetTerminator(ReturnValue(RegOp(3)))
	if err := Verify(fn); err == nil || !strings.Contains(err.Error(), "phi") {
		t.Errorf("phi after non-phi accepted: %v", err)
	}
}

func TestAnalysisHelpers(t *testing.T) {
	fn := buildAbs().Functions[0]
	if got := MaxReg(fn); got != 3 {
		t.Errorf("MaxReg = %d", got)
	}
	if s := Successors(fn.Blocks[0].Term); len(s) != 2 {
		t.Errorf("successors = %v", s)
	}
	rpo := ReversePostorder(fn)
	if len(rpo) != 3 || rpo[0] != 0 {
		t.Errorf("rpo = %v", rpo)
	}

	c := Clone(fn)
	ReplaceUses(c, 1, IntOp(5))
	if strings.Contains(Format(c), "%1,") {
		t.Errorf("ReplaceUses left uses: %s", Format(c))
	}
	if !strings.Contains(Format(fn), "lt %1, 0") {
		t.Error("Clone shares state with the original")
	}
}

func TestWireRoundTrip(t *testing.T) {
	b := NewBuilder("wire")
	b.CreateFunction("loop", []string{"n"}, "Int")
	slot := b.NewReg()
	b.EmitEntry(&Alloca{Dest: slot, Type: "Int"})
	b.Emit(&Store{Src: RegOp(1), Addr: RegOp(slot)})
	head := b.CreateBlock("head")
	b.Terminate(&Branch{Target: head})
	b.SetCurrentBlock(head)
	phi := b.NewReg()
	b.Emit(&Phi{Dest: phi, Incoming: []PhiIncoming{{IntOp(0), 0}, {FloatOp(1.5), head}}})
	v := b.BuildCall("g", []Operand{RegOp(phi), StringOp("x"), BoolOp(false)})
	b.Emit(&Call{Func: "h"})
	b.Terminate(&CondBranch{Cond: v, True: head, False: head})
	m := b.Module()

	data, err := MarshalModule(m)
	if err != nil {
		t.Fatal(err)
	}
	again, err := MarshalModule(m)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(again) {
		t.Error("encoding is not deterministic")
	}
	got, err := UnmarshalModule(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.String() != m.String() {
		t.Errorf("round trip mismatch:\n%s\nvs\n%s", got, m)
	}
}
