package native

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/chazu/aurora/compiler"
	"github.com/chazu/aurora/ir"
	"github.com/chazu/aurora/optimizer"
	"github.com/chazu/aurora/value"
)

func module(t *testing.T, src string, optimize bool) *ir.Module {
	t.Helper()
	prog, err := compiler.Parse(src)
	if err != nil {
		t.Fatal(err)
	}
	mod, err := compiler.NewCompiler("native").Compile(prog.Statements)
	if err != nil {
		t.Fatal(err)
	}
	if optimize {
		if _, err := optimizer.New().Optimize(mod); err != nil {
			t.Fatal(err)
		}
	}
	return mod
}

func executor(t *testing.T, opts ...ExecutorOption) *Executor {
	t.Helper()
	e, err := NewExecutor(opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(e.Close)
	return e
}

func run(t *testing.T, e *Executor, name string, args ...int64) value.Value {
	t.Helper()
	vals := make([]value.Value, len(args))
	for i, a := range args {
		vals[i] = value.Int(a)
	}
	v, err := e.Execute(name, vals)
	if err != nil {
		t.Fatalf("%s%v: %v", name, args, err)
	}
	return v
}

func TestExecuteRecursive(t *testing.T) {
	mod := module(t, `fn fib(n) { if n < 2 { return n } return fib(n - 1) + fib(n - 2) }`, true)
	e := executor(t)
	if err := e.Compile("fib", mod); err != nil {
		t.Fatal(err)
	}
	for n, want := range map[int64]int64{0: 0, 1: 1, 2: 1, 10: 55, 20: 6765} {
		if got := run(t, e, "fib", n); !got.Equal(value.Int(want)) {
			t.Errorf("fib(%d) = %s, want %d", n, got, want)
		}
	}
}

func TestExecuteWhileLoop(t *testing.T) {
	mod := module(t, `fn total(n) { var i = 0; var s = 0; while i < n { i = i + 1; s = s + i } return s }`, true)
	e := executor(t)
	if err := e.Compile("total", mod); err != nil {
		t.Fatal(err)
	}
	if got := run(t, e, "total", 100); !got.Equal(value.Int(5050)) {
		t.Errorf("total(100) = %s", got)
	}
}

func TestExecuteTailLoopPhis(t *testing.T) {
	mod := module(t, `fn sum(n, acc) { if n == 0 { return acc } return sum(n - 1, acc + n) }`, true)
	if strings.Contains(mod.String(), "call @sum") {
		t.Fatalf("tail call not converted:\n%s", mod)
	}
	e := executor(t)
	if err := e.Compile("sum", mod); err != nil {
		t.Fatal(err)
	}
	// Deeper than MaxCallDepth, so this only succeeds as a loop.
	if got := run(t, e, "sum", 50000, 0); !got.Equal(value.Int(1250025000)) {
		t.Errorf("sum = %s", got)
	}
}

func TestPhiParallelCopy(t *testing.T) {
	// swap loop: both phis read the other's old value on the back edge.
	fn := ir.NewFunction("swap", []string{"a", "b", "n"}, "Int")
	entry := fn.AddBlock(ir.NewBasicBlock(0, "entry"))
	loop := fn.AddBlock(ir.NewBasicBlock(0, "loop"))
	exit := fn.AddBlock(ir.NewBasicBlock(0, "exit"))
	fn.Blocks[entry].Term = &ir.Branch{Target: loop}
	lb := fn.Blocks[loop]
	lb.Push(&ir.Phi{Dest: 4, Incoming: []ir.PhiIncoming{{Value: ir.RegOp(1), Block: entry}, {Value: ir.RegOp(5), Block: loop}}})
	lb.Push(&ir.Phi{Dest: 5, Incoming: []ir.PhiIncoming{{Value: ir.RegOp(2), Block: entry}, {Value: ir.RegOp(4), Block: loop}}})
	lb.Push(&ir.Phi{Dest: 6, Incoming: []ir.PhiIncoming{{Value: ir.RegOp(3), Block: entry}, {Value: ir.RegOp(7), Block: loop}}})
	lb.Push(&ir.BinaryOp{Op: ir.OpSub, Dest: 7, LHS: ir.RegOp(6), RHS: ir.IntOp(1)})
	lb.Push(&ir.BinaryOp{Op: ir.OpGt, Dest: 8, LHS: ir.RegOp(7), RHS: ir.IntOp(0)})
	lb.Term = &ir.CondBranch{Cond: ir.RegOp(8), True: loop, False: exit}
	fn.Blocks[exit].Term = ir.ReturnValue(ir.RegOp(4))

	mod := ir.NewModule("phi")
	mod.AddFunction(fn)
	e := executor(t)
	if err := e.Compile("swap", mod); err != nil {
		t.Fatal(err)
	}
	// n iterations perform n-1 swaps.
	if got := run(t, e, "swap", 1, 2, 2); !got.Equal(value.Int(2)) {
		t.Errorf("one swap = %s, want 2", got)
	}
	if got := run(t, e, "swap", 1, 2, 3); !got.Equal(value.Int(1)) {
		t.Errorf("two swaps = %s, want 1", got)
	}
}

func TestPhiInEntryRejected(t *testing.T) {
	fn := ir.NewFunction("bad", nil, "Int")
	entry := fn.AddBlock(ir.NewBasicBlock(0, "entry"))
	fn.Blocks[entry].Push(&ir.Phi{Dest: 1, Incoming: []ir.PhiIncoming{{Value: ir.IntOp(1), Block: entry}}})
	fn.Blocks[entry].Term = ir.ReturnValue(ir.RegOp(1))
	backend, err := NewBackend(NewContext())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := backend.Compile(fn); err == nil {
		t.Error("phi in the entry block was accepted")
	}
}

func TestReturnTypeConversion(t *testing.T) {
	var printed []int64
	caller := CallerFunc(func(name string, args []value.Value) (value.Value, error) {
		if name != "print" {
			return value.Nil(), errors.New("unexpected call to " + name)
		}
		printed = append(printed, args[0].Int())
		return value.Nil(), nil
	})
	mod := module(t, `
fn positive(x) -> Bool { return x > 0 }
fn show(x) { print(x * 2) }`, false)
	e := executor(t, WithCaller(caller))
	for _, name := range []string{"positive", "show"} {
		if err := e.Compile(name, mod); err != nil {
			t.Fatal(err)
		}
	}
	if got := run(t, e, "positive", 3); !got.Equal(value.Bool(true)) {
		t.Errorf("positive(3) = %s", got)
	}
	if got := run(t, e, "positive", -3); !got.Equal(value.Bool(false)) {
		t.Errorf("positive(-3) = %s", got)
	}
	if got := run(t, e, "show", 21); !got.IsNil() {
		t.Errorf("show returned %s", got)
	}
	if len(printed) != 1 || printed[0] != 42 {
		t.Errorf("printed %v", printed)
	}

	// Bool arguments use the 0/1 representation.
	v, err := e.Execute("positive", []value.Value{value.Bool(true)})
	if err != nil || !v.Equal(value.Bool(true)) {
		t.Errorf("positive(true) = %s, %v", v, err)
	}
}

func TestCallsResolveAtRunTime(t *testing.T) {
	mod := module(t, `fn outer(x) { return helper(x) + 1 }`, false)
	e := executor(t)
	if err := e.Compile("outer", mod); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Execute("outer", []value.Value{value.Int(1)}); !errors.Is(err, ErrNoNative) {
		t.Errorf("missing callee: %v", err)
	}

	e.SetFallback(CallerFunc(func(name string, args []value.Value) (value.Value, error) {
		return value.Int(args[0].Int() * 10), nil
	}))
	if got := run(t, e, "outer", 4); !got.Equal(value.Int(41)) {
		t.Errorf("outer(4) via fallback = %s", got)
	}

	helper := module(t, `fn helper(x) { return x * 100 }`, false)
	if err := e.Compile("helper", helper); err != nil {
		t.Fatal(err)
	}
	if got := run(t, e, "outer", 4); !got.Equal(value.Int(401)) {
		t.Errorf("outer(4) via native helper = %s", got)
	}
}

func TestDivisionByZeroAtRunTime(t *testing.T) {
	mod := module(t, `fn quot(a, b) { return a / b }`, true)
	e := executor(t)
	if err := e.Compile("quot", mod); err != nil {
		t.Fatal(err)
	}
	if got := run(t, e, "quot", -7, 2); !got.Equal(value.Int(-3)) {
		t.Errorf("quot(-7, 2) = %s", got)
	}
	if _, err := e.Execute("quot", []value.Value{value.Int(1), value.Int(0)}); !errors.Is(err, ir.ErrDivisionByZero) {
		t.Errorf("err = %v", err)
	}
	if st, _ := e.Stats("quot"); st.ExecutionCount != 1 {
		t.Errorf("failed calls counted: %+v", st)
	}
}

func TestCallDepthLimit(t *testing.T) {
	mod := module(t, `fn down(n) { return down(n + 1) + 1 }`, true)
	e := executor(t)
	if err := e.Compile("down", mod); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Execute("down", []value.Value{value.Int(0)}); !errors.Is(err, ErrCallDepth) {
		t.Errorf("err = %v", err)
	}
}

func TestUnsupportedValues(t *testing.T) {
	mod := module(t, `fn ratio() { return 1.5 }
fn inc(x) { return x + 1 }`, false)

	e := executor(t)
	err := e.Compile("ratio", mod)
	if !errors.Is(err, ErrUnsupportedValue) {
		t.Fatalf("float return compiled: %v", err)
	}
	if e.HasNative("ratio") {
		t.Error("failed compilation registered an entry point")
	}

	if err := e.Compile("inc", mod); err != nil {
		t.Fatal(err)
	}
	_, err = e.Execute("inc", []value.Value{value.String("x")})
	if !errors.Is(err, ErrUnsupportedValue) {
		t.Errorf("string argument: %v", err)
	}
	if _, err := e.Execute("inc", nil); err == nil {
		t.Error("arity mismatch accepted")
	}
}

func TestFallbackStub(t *testing.T) {
	mod := module(t, `fn ratio() { return 1.5 }`, false)
	calls := 0
	e := executor(t,
		WithFallbackPolicy(FallbackStub),
		WithCaller(CallerFunc(func(name string, args []value.Value) (value.Value, error) {
			calls++
			return value.Int(7), nil
		})))
	if err := e.Compile("ratio", mod); err != nil {
		t.Fatal(err)
	}
	if !e.HasNative("ratio") || !e.IsStub("ratio") {
		t.Fatal("stub not registered")
	}
	if got := run(t, e, "ratio"); !got.Equal(value.Int(7)) || calls != 1 {
		t.Errorf("stub returned %s after %d calls", got, calls)
	}
	if st, ok := e.Stats("ratio"); !ok || !st.Stubbed || st.ExecutionCount != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestDisabledAndCleared(t *testing.T) {
	mod := module(t, `fn one() { return 1 }`, false)
	e := executor(t)
	if err := e.Compile("one", mod); err != nil {
		t.Fatal(err)
	}
	e.SetEnabled(false)
	if _, err := e.Execute("one", nil); !errors.Is(err, ErrDisabled) {
		t.Errorf("disabled execute: %v", err)
	}
	if err := e.Compile("one", mod); !errors.Is(err, ErrDisabled) {
		t.Errorf("disabled compile: %v", err)
	}
	e.SetEnabled(true)
	run(t, e, "one")

	e.ClearCache()
	if e.HasNative("one") || len(e.AllStats()) != 0 {
		t.Error("cache not cleared")
	}
	if _, err := e.Execute("one", nil); !errors.Is(err, ErrNoNative) {
		t.Errorf("cleared execute: %v", err)
	}
}

func TestStatsAveraging(t *testing.T) {
	var st NativeStats
	for _, us := range []int64{10, 20, 31} {
		st.record(time.Duration(us) * time.Microsecond)
	}
	if st.ExecutionCount != 3 || st.TotalExecutionTimeUs != 61 || st.AvgExecutionTimeUs != 20 {
		t.Errorf("stats = %+v", st)
	}
}

func TestEngineClose(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatal(err)
	}
	ctx, backend := engine.Context(), engine.Backend()
	engine.Close()
	fn := module(t, `fn one() { return 1 }`, false).Function("one")
	if _, err := backend.Compile(fn); !errors.Is(err, ErrClosed) {
		t.Errorf("closed backend compiled: %v", err)
	}
	if err := ctx.Define(&Code{Name: "one"}); !errors.Is(err, ErrClosed) {
		t.Errorf("closed context accepted a symbol: %v", err)
	}
	engine.Close()
}

func TestExecutorClose(t *testing.T) {
	e, err := NewExecutor()
	if err != nil {
		t.Fatal(err)
	}
	e.Close()
	if _, err := e.Execute("x", nil); err == nil {
		t.Error("closed executor executed")
	}
	if e.HasNative("x") {
		t.Error("closed executor reports native code")
	}
}

func TestParseFallbackPolicy(t *testing.T) {
	for in, want := range map[string]FallbackPolicy{"": FallbackInterpret, "interpret": FallbackInterpret, "Stub": FallbackStub} {
		got, err := ParseFallbackPolicy(in)
		if err != nil || got != want {
			t.Errorf("ParseFallbackPolicy(%q) = %s, %v", in, got, err)
		}
	}
	if _, err := ParseFallbackPolicy("jit"); err == nil {
		t.Error("unknown policy accepted")
	}
}

func TestGenerateLLVM(t *testing.T) {
	mod := module(t, `
fn fib(n) { if n < 2 { return n } return fib(n - 1) + fib(n - 2) }
fn sum(n, acc) { if n == 0 { return acc } return sum(n - 1, acc + n) }
fn count(n) { var i = 0; while i < n { i = i + 1 } print(i); return i }`, true)
	text, err := GenerateLLVM(mod)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"define i64 @fib(i64 %n)",
		"icmp slt i64 %n, 2",
		"zext i1",
		"call i64 @fib(",
		"phi i64",
		"alloca i64",
		"store i64 0",
		"declare i64 @print(",
		"ret i64",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in:\n%s", want, text)
		}
	}
}

func TestGenerateLLVMRejectsFloats(t *testing.T) {
	mod := module(t, `fn ratio() { return 1.5 }`, false)
	if _, err := GenerateLLVM(mod); !errors.Is(err, ErrUnsupportedValue) {
		t.Errorf("err = %v", err)
	}
}

func TestRecompileKeepsStats(t *testing.T) {
	mod := module(t, `fn one() { return 1 }`, false)
	e := executor(t)
	if err := e.Compile("one", mod); err != nil {
		t.Fatal(err)
	}
	run(t, e, "one")
	run(t, e, "one")
	before, _ := e.Stats("one")

	if err := e.Compile("one", mod); err != nil {
		t.Fatal(err)
	}
	after, ok := e.Stats("one")
	if !ok || after.ExecutionCount != 2 {
		t.Errorf("recompile reset the counters: %+v", after)
	}
	if after.CompileTime < before.CompileTime {
		t.Errorf("compile time %s dropped below %s", after.CompileTime, before.CompileTime)
	}
	run(t, e, "one")
	if st, _ := e.Stats("one"); st.ExecutionCount != 3 {
		t.Errorf("stats = %+v", st)
	}
}

type depthRecorder struct {
	depths []int
}

func (r *depthRecorder) Call(name string, args []value.Value) (value.Value, error) {
	return r.CallAt(0, name, args)
}

func (r *depthRecorder) CallAt(depth int, name string, args []value.Value) (value.Value, error) {
	r.depths = append(r.depths, depth)
	return args[0], nil
}

func TestFallbackContinuesDepth(t *testing.T) {
	mod := module(t, `fn outer(x) { return helper(x) + 1 }`, false)
	rec := &depthRecorder{}
	e := executor(t, WithCaller(rec))
	if err := e.Compile("outer", mod); err != nil {
		t.Fatal(err)
	}
	v, err := e.ExecuteAt(5, "outer", []value.Value{value.Int(1)})
	if err != nil {
		t.Fatal(err)
	}
	if !value.Value.Equal(v, value.Int(2)) {
		t.Errorf("outer(1) = %s", v)
	}
	if len(rec.depths) != 1 || rec.depths[0] != 6 {
		t.Errorf("fallback depths = %v, want [6]", rec.depths)
	}

	if _, err := e.ExecuteAt(MaxCallDepth+1, "outer", []value.Value{value.Int(1)}); !errors.Is(err, ErrCallDepth) {
		t.Errorf("entry past the limit: %v", err)
	}
	if len(rec.depths) != 1 {
		t.Errorf("fallback reached past the limit: %v", rec.depths)
	}
}
