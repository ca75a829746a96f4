package interp

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/chazu/aurora/compiler"
	"github.com/chazu/aurora/ir"
	"github.com/chazu/aurora/value"
)

func interpreter(t *testing.T, src string) (*Interpreter, *bytes.Buffer) {
	t.Helper()
	prog, err := compiler.Parse(src)
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	in, err := New(prog, WithOutput(&out))
	if err != nil {
		t.Fatal(err)
	}
	return in, &out
}

func ints(vs ...int64) []value.Value {
	out := make([]value.Value, len(vs))
	for i, v := range vs {
		out[i] = value.Int(v)
	}
	return out
}

func TestInvoke(t *testing.T) {
	in, _ := interpreter(t, `
fn fib(n) { if n < 2 { return n } return fib(n - 1) + fib(n - 2) }
fn total(n) { var s = 0; var i = 1; while i <= n { s = s + i; i = i + 1 } return s }
fn quot(a, b) { return a / b }
fn half(x) { return x / 2.0 }
fn greet(name) { return "hello " + name }
fn pos(x) { return x > 0 }
fn both(a, b) { return a && b }
fn bits(a, b) { return a && b }
fn none() { }`)
	cases := []struct {
		name string
		args []value.Value
		want value.Value
	}{
		{"fib", ints(20), value.Int(6765)},
		{"total", ints(100), value.Int(5050)},
		{"quot", ints(-7, 2), value.Int(-3)},
		{"half", ints(3), value.Float(1.5)},
		{"greet", []value.Value{value.String("aurora")}, value.String("hello aurora")},
		{"pos", ints(3), value.Bool(true)},
		{"both", []value.Value{value.Bool(true), value.Bool(false)}, value.Bool(false)},
		{"bits", ints(6, 3), value.Int(2)},
		{"none", nil, value.Nil()},
	}
	for _, c := range cases {
		got, err := in.Invoke(c.name, c.args)
		if err != nil {
			t.Errorf("%s: %v", c.name, err)
			continue
		}
		if !got.Equal(c.want) {
			t.Errorf("%s%v = %s (%s), want %s", c.name, c.args, got, got.Kind(), c.want)
		}
	}
}

func TestScopes(t *testing.T) {
	in, _ := interpreter(t, `
fn shadow(x) { var r = 0; if x > 0 { let r = 5; return r } return r }
fn inner(x) { if x > 0 { var y = 1 } return y }`)
	if v, _ := in.Invoke("shadow", ints(1)); !v.Equal(value.Int(5)) {
		t.Errorf("shadow(1) = %s", v)
	}
	if v, _ := in.Invoke("shadow", ints(0)); !v.Equal(value.Int(0)) {
		t.Errorf("shadow(0) = %s", v)
	}
	if _, err := in.Invoke("inner", ints(1)); !errors.Is(err, ErrUndefined) {
		t.Errorf("block local escaped: %v", err)
	}
}

func TestRuntimeErrors(t *testing.T) {
	in, _ := interpreter(t, `
fn quot(a, b) { return a / b }
fn caller(a) { return quot(a, 0) }
fn frozen() { let x = 1; x = 2; return x }
fn param(p) { p = 2; return p }
fn missing() { return nope(1) }
fn mixed() { return "a" - 1 }`)

	_, err := in.Invoke("caller", ints(4))
	if !errors.Is(err, ir.ErrDivisionByZero) {
		t.Fatalf("err = %v", err)
	}
	var rt *RuntimeError
	if !errors.As(err, &rt) || rt.Function != "quot" || rt.Pos.Line != 2 {
		t.Errorf("error not attributed to quot: %#v", rt)
	}

	checks := map[string]error{
		"frozen":  ErrImmutable,
		"param":   ErrImmutable,
		"missing": ErrUndefined,
		"mixed":   ErrType,
	}
	for name, want := range checks {
		if _, err := in.Invoke(name, nil); !errors.Is(err, want) {
			t.Errorf("%s: err = %v, want %v", name, err, want)
		}
	}
	if _, err := in.Invoke("quot", ints(1)); !errors.Is(err, ErrArity) {
		t.Errorf("arity: %v", err)
	}
	if _, err := in.Invoke("absent", nil); !errors.Is(err, ErrUndefined) {
		t.Errorf("absent: %v", err)
	}
}

func TestRunTopLevel(t *testing.T) {
	in, out := interpreter(t, `
fn sq(x) { return x * x }
let n = 4
print("square", n, sq(n))
print(1.5, true, nil)
return sq(n) + 1`)
	v, err := in.Run()
	if err != nil {
		t.Fatal(err)
	}
	if !v.Equal(value.Int(17)) {
		t.Errorf("run = %s", v)
	}
	want := "square 4 16\n1.5 true nil\n"
	if out.String() != want {
		t.Errorf("output %q, want %q", out.String(), want)
	}
	if len(in.Functions()) != 1 || !in.HasBuiltin("print") || in.HasBuiltin("sq") {
		t.Error("function table wrong")
	}
}

func TestTopLevelBindingsInvisibleToFunctions(t *testing.T) {
	in, _ := interpreter(t, `
let limit = 3
fn f() { return limit }
return f()`)
	_, err := in.Run()
	if !errors.Is(err, ErrUndefined) {
		t.Errorf("err = %v", err)
	}
}

func TestDuplicateFunction(t *testing.T) {
	prog, err := compiler.Parse(`fn f() { return 1 } fn f() { return 2 }`)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(prog); err == nil || !strings.Contains(err.Error(), "twice") {
		t.Errorf("err = %v", err)
	}
}

func TestEnv(t *testing.T) {
	outer := NewEnv(nil)
	outer.Define("a", value.Int(1), true)
	inner := NewEnv(outer)
	if err := inner.Assign("a", value.Int(2)); err != nil {
		t.Fatal(err)
	}
	if v, _ := outer.Lookup("a"); !v.Equal(value.Int(2)) {
		t.Errorf("assign through scope: %s", v)
	}
	inner.Define("a", value.Int(9), false)
	if err := inner.Assign("a", value.Int(3)); !errors.Is(err, ErrImmutable) {
		t.Errorf("err = %v", err)
	}
	if v, _ := outer.Lookup("a"); !v.Equal(value.Int(2)) {
		t.Errorf("shadowing leaked: %s", v)
	}
	if _, ok := inner.Lookup("b"); ok {
		t.Error("found undefined name")
	}
}
