package interp

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/chazu/aurora/ir"
	"github.com/chazu/aurora/jit"
	"github.com/chazu/aurora/native"
	"github.com/chazu/aurora/telemetry"
	"github.com/chazu/aurora/value"
)

func dispatcher(t *testing.T, src string, jitOpts []jit.Option, opts ...DispatchOption) (*Dispatcher, *bytes.Buffer) {
	t.Helper()
	in, out := interpreter(t, src)
	exec, err := native.NewExecutor()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(exec.Close)
	return NewDispatcher(in, jit.New(nil, jitOpts...), exec, telemetry.NewCollector(), opts...), out
}

func compilationEvents(c *telemetry.Collector) int {
	n := 0
	for _, e := range c.Events() {
		if e.Kind == telemetry.EventCompilation {
			n++
		}
	}
	return n
}

func TestHotFunctionPromotedOnce(t *testing.T) {
	d, _ := dispatcher(t, `fn add() -> Int { return 10 + 20 }`, nil)
	for i := 0; i < 150; i++ {
		v, err := d.Call("add", nil)
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if !v.Equal(value.Int(30)) {
			t.Fatalf("call %d = %s", i, v)
		}
	}
	st := d.Stats()
	if st.Compilations != 1 || st.Interpreted != 100 || st.Native != 50 || st.CompileFailures != 0 {
		t.Errorf("stats %+v", st)
	}
	if n := compilationEvents(d.Telemetry()); n != 1 {
		t.Errorf("%d compilation events", n)
	}
	if ns, ok := d.Executor().Stats("add"); !ok || ns.ExecutionCount != 50 {
		t.Errorf("native stats %+v", ns)
	}
	if !d.JIT().IsCompiled("add") {
		t.Error("add not cached")
	}
	fs, _ := d.Telemetry().FunctionStats("add")
	if fs.TotalCalls != 100 {
		t.Errorf("telemetry saw %d interpreted calls", fs.TotalCalls)
	}
}

func TestPromotionDuringRecursion(t *testing.T) {
	d, _ := dispatcher(t, `fn fib(n) { if n < 2 { return n } return fib(n - 1) + fib(n - 2) }`, nil)
	v, err := d.Call("fib", ints(15))
	if err != nil {
		t.Fatal(err)
	}
	if !v.Equal(value.Int(610)) {
		t.Errorf("fib(15) = %s", v)
	}
	if !d.Executor().HasNative("fib") || d.Stats().Compilations != 1 {
		t.Errorf("fib not promoted: %+v", d.Stats())
	}
	before := d.Stats().Native
	v, err = d.Call("fib", ints(20))
	if err != nil || !v.Equal(value.Int(6765)) {
		t.Fatalf("fib(20) = %v, %v", v, err)
	}
	if d.Stats().Native != before+1 {
		t.Errorf("second call not native: %+v", d.Stats())
	}
}

func TestNativeCallsBackIntoInterpreter(t *testing.T) {
	d, out := dispatcher(t, `fn show(x) { print(x * 2); return x }`, []jit.Option{jit.WithThresholds(2, 1<<40)})
	for i := int64(1); i <= 3; i++ {
		if _, err := d.Call("show", ints(i)); err != nil {
			t.Fatal(err)
		}
	}
	if out.String() != "2\n4\n6\n" {
		t.Errorf("output %q", out.String())
	}
	if st := d.Stats(); st.Native != 1 || st.Interpreted != 2 {
		t.Errorf("stats %+v", st)
	}
}

func TestNonIntegerArgumentsInterpreted(t *testing.T) {
	d, _ := dispatcher(t, `fn twice(x) { return x + x }`, []jit.Option{jit.WithThresholds(1, 1<<40)})
	if _, err := d.Call("twice", ints(1)); err != nil {
		t.Fatal(err)
	}
	if !d.Executor().HasNative("twice") {
		t.Fatal("twice not compiled")
	}
	v, err := d.Call("twice", []value.Value{value.Float(1.25)})
	if err != nil || !v.Equal(value.Float(2.5)) {
		t.Errorf("twice(1.25) = %v, %v", v, err)
	}
	v, err = d.Call("twice", []value.Value{value.String("ab")})
	if err != nil || !v.Equal(value.String("abab")) {
		t.Errorf("twice(ab) = %v, %v", v, err)
	}
	if st := d.Stats(); st.Interpreted != 3 || st.Native != 0 {
		t.Errorf("stats %+v", st)
	}
}

func TestCompileFailureRetriedAfterBackoff(t *testing.T) {
	d, _ := dispatcher(t, `fn half(x) { return x / 2.0 }`,
		[]jit.Option{jit.WithThresholds(1, 1<<40)}, WithRetryBackoff(3))
	for i := 0; i < 4; i++ {
		v, err := d.Call("half", ints(3))
		if err != nil || !v.Equal(value.Float(1.5)) {
			t.Fatalf("half(3) = %v, %v", v, err)
		}
		want := uint64(1)
		if i == 3 {
			want = 2
		}
		if got := d.Stats().CompileFailures; got != want {
			t.Errorf("after call %d: %d failures, want %d", i+1, got, want)
		}
	}
	if d.Executor().HasNative("half") || d.Stats().Compilations != 0 {
		t.Error("half registered")
	}
	errs := 0
	for _, e := range d.Telemetry().Events() {
		if e.Kind == telemetry.EventError {
			errs++
		}
	}
	if errs != 2 {
		t.Errorf("%d error events", errs)
	}
}

func TestNativeRuntimeErrorsMatchInterpreter(t *testing.T) {
	d, _ := dispatcher(t, `fn quot(a, b) { return a / b }`, []jit.Option{jit.WithThresholds(2, 1<<40)})
	if _, err := d.Call("quot", ints(1, 0)); !errors.Is(err, ir.ErrDivisionByZero) {
		t.Fatalf("interpreted: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := d.Call("quot", ints(6, 3)); err != nil {
			t.Fatal(err)
		}
	}
	if !d.Executor().HasNative("quot") {
		t.Fatal("quot not compiled")
	}
	if _, err := d.Call("quot", ints(1, 0)); !errors.Is(err, ir.ErrDivisionByZero) {
		t.Errorf("native: %v", err)
	}
}

func TestDisabledExecutorStaysInterpreted(t *testing.T) {
	d, _ := dispatcher(t, `fn one() { return 1 }`, []jit.Option{jit.WithThresholds(1, 1<<40)})
	d.Executor().SetEnabled(false)
	for i := 0; i < 5; i++ {
		if _, err := d.Call("one", nil); err != nil {
			t.Fatal(err)
		}
	}
	if st := d.Stats(); st.Interpreted != 5 || st.Compilations != 0 || st.CompileFailures != 0 {
		t.Errorf("stats %+v", st)
	}
}

func TestConcurrentPromotion(t *testing.T) {
	d, _ := dispatcher(t, `fn add() { return 10 + 20 }`, nil)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if v, err := d.Call("add", nil); err != nil || !v.Equal(value.Int(30)) {
					t.Errorf("add() = %v, %v", v, err)
					return
				}
			}
		}()
	}
	wg.Wait()
	st := d.Stats()
	if st.Compilations != 1 {
		t.Errorf("%d compilations", st.Compilations)
	}
	if st.Interpreted+st.Native != 400 || st.Interpreted < 100 {
		t.Errorf("stats %+v", st)
	}
}

func TestPrecompile(t *testing.T) {
	d, _ := dispatcher(t, `
fn inc(x) { return x + 1 }
fn twice(x) { return inc(inc(x)) }
fn frac() { return 0.5 }`, nil)
	if err := d.Precompile(context.Background(), "inc", "twice"); err != nil {
		t.Fatal(err)
	}
	v, err := d.Call("twice", ints(5))
	if err != nil || !v.Equal(value.Int(7)) {
		t.Fatalf("twice(5) = %v, %v", v, err)
	}
	if st := d.Stats(); st.Native != 1 || st.Compilations != 2 {
		t.Errorf("stats %+v", st)
	}
	if err := d.Precompile(context.Background()); err == nil {
		t.Error("frac compiled")
	}
	if err := d.Precompile(context.Background(), "nope"); err == nil {
		t.Error("unknown function accepted")
	}
}

func TestResultsMatchAcrossPromotion(t *testing.T) {
	const src = `
fn pos(x) { return x > 0 }
fn clamp(x) { if x > 0 { return 1 } return 0 }
fn partial(x) { if x > 0 { return 1 } }
fn flip(x) { return !pos(x) }`
	plain, _ := interpreter(t, src)
	d, _ := dispatcher(t, src, []jit.Option{jit.WithThresholds(5, 1<<40)})

	for _, name := range []string{"pos", "clamp", "partial", "flip"} {
		for i := 0; i < 150; i++ {
			args := ints(int64(i%3) - 1)
			want, err := plain.Invoke(name, args)
			if err != nil {
				t.Fatal(err)
			}
			got, err := d.Call(name, args)
			if err != nil {
				t.Fatalf("%s%v call %d: %v", name, args, i, err)
			}
			if !got.Equal(want) || got.Kind() != want.Kind() {
				t.Fatalf("%s%v call %d = %s, interpreter gives %s", name, args, i, got, want)
			}
		}
	}
	for _, name := range []string{"pos", "clamp", "flip"} {
		if !d.Executor().HasNative(name) {
			t.Errorf("%s not promoted", name)
		}
	}
	if d.Executor().HasNative("partial") {
		t.Error("function without a return on every path promoted")
	}
}

func TestNonNativeCalleeKeepsCallerInterpreted(t *testing.T) {
	d, _ := dispatcher(t, `
fn g(x) { var i = 0; while i < x { i = i + 1 } return "hi" }
fn f(x) { return g(x) }`, nil)
	for i := 0; i < 150; i++ {
		v, err := d.Call("f", ints(3))
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if !v.Equal(value.String("hi")) {
			t.Fatalf("call %d = %s", i, v)
		}
	}
	if d.Executor().HasNative("f") || d.Executor().HasNative("g") {
		t.Error("string result compiled")
	}
	if st := d.Stats(); st.Native != 0 || st.CompileFailures == 0 {
		t.Errorf("stats %+v", st)
	}
}

func TestBoolArgumentsInterpreted(t *testing.T) {
	d, _ := dispatcher(t, `fn id(x) { return x }`, []jit.Option{jit.WithThresholds(1, 1<<40)})
	if _, err := d.Call("id", ints(1)); err != nil {
		t.Fatal(err)
	}
	if !d.Executor().HasNative("id") {
		t.Fatal("id not compiled")
	}
	v, err := d.Call("id", []value.Value{value.Bool(true)})
	if err != nil || !v.Equal(value.Bool(true)) || v.Kind() != value.KindBool {
		t.Errorf("id(true) = %v, %v", v, err)
	}
	if st := d.Stats(); st.Native != 0 {
		t.Errorf("stats %+v", st)
	}
}

func TestCallDepthSharedAcrossPromotion(t *testing.T) {
	const src = `
fn sum(n) { if n == 0 { return 0 } return n + sum(n - 1) }
fn loop(n, acc) { if n == 0 { return acc } return loop(n - 1, acc + n) }`

	interpreted := func() *Dispatcher {
		in, _ := interpreter(t, src)
		return NewDispatcher(in, nil, nil, nil)
	}
	precompiled := func() *Dispatcher {
		d, _ := dispatcher(t, src, nil)
		if err := d.Precompile(context.Background()); err != nil {
			t.Fatal(err)
		}
		return d
	}
	promoting := func() *Dispatcher {
		d, _ := dispatcher(t, src, nil)
		return d
	}

	for stage, build := range map[string]func() *Dispatcher{
		"interpreted": interpreted,
		"precompiled": precompiled,
		"promoting":   promoting,
	} {
		d := build()
		v, err := d.Call("sum", ints(native.MaxCallDepth))
		if err != nil || !v.Equal(value.Int(50005000)) {
			t.Errorf("%s: sum(%d) = %v, %v", stage, native.MaxCallDepth, v, err)
		}
		for _, n := range []int64{native.MaxCallDepth + 1, 20000} {
			if _, err := d.Call("sum", ints(n)); !errors.Is(err, native.ErrCallDepth) {
				t.Errorf("%s: sum(%d): %v", stage, n, err)
			}
		}
		v, err = d.Call("loop", ints(20000, 0))
		if err != nil || !v.Equal(value.Int(200010000)) {
			t.Errorf("%s: loop(20000, 0) = %v, %v", stage, v, err)
		}
	}
}
