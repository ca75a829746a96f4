// Package value is the runtime value model shared by the interpreter and
// the native backend.
package value

import (
	"errors"
	"fmt"
	"strconv"
)

// Kind identifies the dynamic type of a Value.
type Kind uint8

const (
	KindNil Kind = iota
	KindInt
	KindFloat
	KindBool
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "Nil"
	case KindInt:
		return "Int"
	case KindFloat:
		return "Float"
	case KindBool:
		return "Bool"
	case KindString:
		return "String"
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is an immutable runtime value. The zero Value is nil.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
}

// ErrNotInteger is returned when a value has no 64-bit integer
// representation.
var ErrNotInteger = errors.New("value has no integer representation")

func Nil() Value            { return Value{} }
func Int(v int64) Value     { return Value{kind: KindInt, i: v} }
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }
func String(v string) Value { return Value{kind: KindString, s: v} }

func Bool(v bool) Value {
	if v {
		return Value{kind: KindBool, i: 1}
	}
	return Value{kind: KindBool}
}

func (v Value) Kind() Kind     { return v.kind }
func (v Value) IsNil() bool    { return v.kind == KindNil }
func (v Value) Int() int64     { return v.i }
func (v Value) Float() float64 { return v.f }
func (v Value) Bool() bool     { return v.kind == KindBool && v.i != 0 }
func (v Value) Str() string    { return v.s }

// Truthy reports whether v counts as true in a condition: false, nil, 0
// and the empty string are false.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNil:
		return false
	case KindInt, KindBool:
		return v.i != 0
	case KindFloat:
		return v.f != 0
	case KindString:
		return v.s != ""
	}
	return false
}

// Equal reports whether two values have the same kind and contents.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindFloat:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	}
	return v.i == o.i
}

func (v Value) String() string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.i != 0)
	case KindString:
		return v.s
	}
	return fmt.Sprintf("<%s>", v.kind)
}

// ToInt64 returns the uniform 64-bit representation used by compiled
// code. Booleans become 0 or 1.
func ToInt64(v Value) (int64, error) {
	switch v.kind {
	case KindInt, KindBool:
		return v.i, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrNotInteger, v.kind)
}

// FromInt64 converts a compiled-code result back to a Value according to
// the function's declared return type.
func FromInt64(raw int64, returnType string) Value {
	switch returnType {
	case "Bool":
		return Bool(raw != 0)
	case "Void", "":
		return Nil()
	}
	return Int(raw)
}
