package optimizer

import (
	"strings"
	"testing"

	"github.com/chazu/aurora/compiler"
	"github.com/chazu/aurora/ir"
)

func lower(t *testing.T, src string) *ir.Module {
	t.Helper()
	prog, err := compiler.Parse(src)
	if err != nil {
		t.Fatal(err)
	}
	mod, err := compiler.NewCompiler("opt").Compile(prog.Statements)
	if err != nil {
		t.Fatal(err)
	}
	return mod
}

func TestConstantFoldingReturn(t *testing.T) {
	mod := lower(t, `fn f() { return 10 + 20 }`)
	p := &ConstantFoldingPass{}
	changed, err := p.Run(mod)
	if err != nil {
		t.Fatal(err)
	}
	if !changed || p.Folded != 1 {
		t.Errorf("changed=%t folded=%d", changed, p.Folded)
	}
	fn := mod.Function("f")
	if n := fn.InstructionCount(); n != 0 {
		t.Errorf("%d instructions left:\n%s", n, fn)
	}
	ret := fn.Blocks[0].Term.(*ir.Return)
	if ret.Value.Kind != ir.OperandInt || ret.Value.Int != 30 {
		t.Errorf("return = %s", ret.Value)
	}
}

func TestConstantFoldingChainsAndIdempotence(t *testing.T) {
	mod := lower(t, `fn f(x) { let a = 2 * 3; let b = a - 1; let c = b < 10; if c { return x + b } return -a }`)
	p := &ConstantFoldingPass{}
	if _, err := p.Run(mod); err != nil {
		t.Fatal(err)
	}
	if p.Folded != 4 {
		t.Errorf("folded %d, want 4:\n%s", p.Folded, mod)
	}
	text := mod.String()
	if !strings.Contains(text, "add %1, 5") || !strings.Contains(text, "br true,") || !strings.Contains(text, "ret -6") {
		t.Errorf("unexpected folding result:\n%s", text)
	}

	changed, err := p.Run(mod)
	if err != nil {
		t.Fatal(err)
	}
	if changed || p.Folded != 0 || mod.String() != text {
		t.Errorf("second run changed the module:\n%s", mod)
	}
}

func TestConstantFoldingLeavesDivisionByZero(t *testing.T) {
	mod := lower(t, `fn f() { return 7 / 0 }`)
	p := &ConstantFoldingPass{}
	changed, _ := p.Run(mod)
	if changed {
		t.Errorf("division by zero was folded:\n%s", mod)
	}
	if !strings.Contains(mod.String(), "div 7, 0") {
		t.Errorf("division missing:\n%s", mod)
	}
}

func TestDeadCodeElimination(t *testing.T) {
	mod := lower(t, `fn f(x) { let unused = x * 2; let chain = unused + 1; let d = x / 0; print(x + 3); return x }`)
	p := &DeadCodePass{}
	changed, err := p.Run(mod)
	if err != nil {
		t.Fatal(err)
	}
	if !changed || p.Removed != 2 {
		t.Errorf("changed=%t removed=%d:\n%s", changed, p.Removed, mod)
	}
	text := mod.String()
	if strings.Contains(text, "mul") {
		t.Errorf("dead chain kept:\n%s", text)
	}
	for _, want := range []string{"div %1, 0", "add %1, 3", "call @print"} {
		if !strings.Contains(text, want) {
			t.Errorf("%q removed:\n%s", want, text)
		}
	}
}

func TestDeadCodeKeepsCrossBlockUses(t *testing.T) {
	mod := lower(t, `fn f(x) { let y = x * 2; if x > 0 { return y } return 0 }`)
	p := &DeadCodePass{}
	if _, err := p.Run(mod); err != nil {
		t.Fatal(err)
	}
	if p.Removed != 0 || !strings.Contains(mod.String(), "mul %1, 2") {
		t.Errorf("live cross-block value removed:\n%s", mod)
	}
}

func TestTailRecursionDetection(t *testing.T) {
	mod := lower(t, `
fn loop(n, acc) { if n == 0 { return acc } return loop(n - 1, acc + n) }
fn fib(n) { if n < 2 { return n } return fib(n - 1) + fib(n - 2) }`)
	p := NewTailRecursionPass()
	if _, err := p.Run(mod); err != nil {
		t.Fatal(err)
	}
	if !p.IsTailRecursive("loop") {
		t.Error("loop should be tail recursive")
	}
	if p.IsTailRecursive("fib") {
		t.Error("fib is not tail recursive")
	}
}

func TestInlining(t *testing.T) {
	mod := lower(t, `
fn sq(v) { return v * v }
fn big(v) { let a = v + 1; let b = a + 1; let c = b + 1; let d = c + 1; let e = d + 1; return e + 1 }
fn main(x) { let s = sq(x + 1); return s + big(x) }`)
	opt := New()
	report, err := opt.Optimize(mod)
	if err != nil {
		t.Fatal(err)
	}
	if report.Inlined != 1 {
		t.Errorf("inlined %d call sites, want 1", report.Inlined)
	}
	main := mod.Function("main")
	text := ir.Format(main)
	if strings.Contains(text, "@sq") {
		t.Errorf("sq not inlined:\n%s", text)
	}
	if !strings.Contains(text, "@big") {
		t.Errorf("big is over the size limit:\n%s", text)
	}
	if err := ir.Verify(main); err != nil {
		t.Errorf("inlined IR invalid: %v\n%s", err, text)
	}
	want := `define Int @main(%1 x) {
entry0:
  %2 = add %1, 1
  %6 = mul %2, %2
  %4 = call @big(%1)
  %5 = add %6, %4
  ret %5
}
`
	if text != want {
		t.Errorf("got:\n%s\nwant:\n%s", text, want)
	}
}

func TestInliningLimits(t *testing.T) {
	mod := lower(t, `
fn two(v) { if v > 0 { return 1 } return 2 }
fn main(x) { return two(x) }`)
	opt := New(WithInlineLimits(10, 5))
	report, err := opt.Optimize(mod)
	if err != nil {
		t.Fatal(err)
	}
	if report.Inlined != 0 {
		t.Errorf("branching callee inlined:\n%s", mod)
	}
}

func TestTailCallToLoop(t *testing.T) {
	mod := lower(t, `fn sum(n, acc) { if n == 0 { return acc } return sum(n - 1, acc + n) }`)
	report, err := New().Optimize(mod)
	if err != nil {
		t.Fatal(err)
	}
	if report.TailLoops != 1 || len(report.TailRecursive) != 1 || report.TailRecursive[0] != "sum" {
		t.Fatalf("report = %+v", report)
	}
	fn := mod.Function("sum")
	text := ir.Format(fn)
	if strings.Contains(text, "call @sum") {
		t.Errorf("tail call not removed:\n%s", text)
	}
	header := fn.Blocks[len(fn.Blocks)-1]
	if header.Label != "tailrecurse" {
		t.Fatalf("last block = %s", header.Label)
	}
	phis := 0
	for _, instr := range header.Instructions {
		if phi, ok := instr.(*ir.Phi); ok {
			phis++
			if len(phi.Incoming) != 2 {
				t.Errorf("phi has %d incoming values", len(phi.Incoming))
			}
		}
	}
	if phis != 2 {
		t.Errorf("header has %d phis:\n%s", phis, text)
	}
	if br, ok := fn.Blocks[fn.Entry].Term.(*ir.Branch); !ok || br.Target != header.ID {
		t.Errorf("entry must branch to the header:\n%s", text)
	}
	if len(report.Loops) != 1 || report.Loops[0].Header != header.ID {
		t.Errorf("loops = %+v", report.Loops)
	}
}

func TestLoopDetection(t *testing.T) {
	mod := lower(t, `fn count(n) { var i = 0; while i < n { i = i + 1 } return i }`)
	p := &LoopDetectionPass{}
	changed, err := p.Run(mod)
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("loop detection must not change the module")
	}
	if len(p.Loops) != 1 {
		t.Fatalf("loops = %+v", p.Loops)
	}
	fn := mod.Function("count")
	if fn.Blocks[p.Loops[0].Header].Label != "cond" || fn.Blocks[p.Loops[0].Latch].Label != "body" {
		t.Errorf("loop = %+v", p.Loops[0])
	}
}

func TestOptimizeReport(t *testing.T) {
	mod := lower(t, `fn f() { let dead = 1 + 2; return 10 + 20 }`)
	report, err := New().Optimize(mod)
	if err != nil {
		t.Fatal(err)
	}
	names := []string{}
	for _, p := range report.Passes {
		names = append(names, p.Name)
	}
	want := "tail-recursion,constant-folding,dead-code-elimination,inlining,tail-call-to-loop,loop-detection"
	if got := strings.Join(names, ","); got != want {
		t.Errorf("pipeline = %s", got)
	}
	if report.Folded != 2 || !report.Changed() {
		t.Errorf("report = %s", report)
	}
}
