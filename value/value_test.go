package value

import (
	"errors"
	"testing"
)

func TestTruthy(t *testing.T) {
	cases := []struct {
		v    Value
		want bool
	}{
		{Nil(), false},
		{Int(0), false},
		{Int(-1), true},
		{Float(0), false},
		{Float(0.5), true},
		{Bool(false), false},
		{Bool(true), true},
		{String(""), false},
		{String("x"), true},
	}
	for _, c := range cases {
		if got := c.v.Truthy(); got != c.want {
			t.Errorf("%s (%s).Truthy() = %t", c.v, c.v.Kind(), got)
		}
	}
}

func TestEqualComparesKinds(t *testing.T) {
	if Int(1).Equal(Bool(true)) {
		t.Error("Int(1) equals Bool(true)")
	}
	if !String("a").Equal(String("a")) || String("a").Equal(String("b")) {
		t.Error("string equality")
	}
	if !Nil().Equal(Value{}) {
		t.Error("zero Value is not nil")
	}
}

func TestString(t *testing.T) {
	for v, want := range map[Value]string{
		Nil():        "nil",
		Int(-42):     "-42",
		Float(2.5):   "2.5",
		Bool(true):   "true",
		String("hi"): "hi",
	} {
		if got := v.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}

func TestIntegerRepresentation(t *testing.T) {
	if v, err := ToInt64(Int(9)); err != nil || v != 9 {
		t.Errorf("ToInt64(Int) = %d, %v", v, err)
	}
	if v, err := ToInt64(Bool(true)); err != nil || v != 1 {
		t.Errorf("ToInt64(Bool) = %d, %v", v, err)
	}
	for _, v := range []Value{Nil(), Float(1), String("1")} {
		if _, err := ToInt64(v); !errors.Is(err, ErrNotInteger) {
			t.Errorf("ToInt64(%s) err = %v", v.Kind(), err)
		}
	}

	if got := FromInt64(5, "Int"); !got.Equal(Int(5)) {
		t.Errorf("FromInt64 Int = %s", got)
	}
	if got := FromInt64(2, "Bool"); !got.Equal(Bool(true)) {
		t.Errorf("FromInt64 Bool = %s", got)
	}
	if got := FromInt64(5, "Void"); !got.IsNil() {
		t.Errorf("FromInt64 Void = %s", got)
	}
	if got := FromInt64(5, ""); !got.IsNil() {
		t.Errorf("FromInt64 untyped = %s", got)
	}
}
