package ir

import "errors"

// ErrDivisionByZero is returned when div or rem has a zero divisor.
var ErrDivisionByZero = errors.New("division by zero")

// EvalInt applies op to two 64-bit integers. Comparisons produce 0 or 1;
// and, or and xor are bitwise. Overflow wraps.
func EvalInt(op BinaryOpCode, a, b int64) (int64, error) {
	switch op {
	case OpAdd:
		return a + b, nil
	case OpSub:
		return a - b, nil
	case OpMul:
		return a * b, nil
	case OpDiv:
		if b == 0 {
			return 0, ErrDivisionByZero
		}
		return a / b, nil
	case OpRem:
		if b == 0 {
			return 0, ErrDivisionByZero
		}
		return a % b, nil
	case OpEq:
		return boolToInt(a == b), nil
	case OpNe:
		return boolToInt(a != b), nil
	case OpLt:
		return boolToInt(a < b), nil
	case OpLe:
		return boolToInt(a <= b), nil
	case OpGt:
		return boolToInt(a > b), nil
	case OpGe:
		return boolToInt(a >= b), nil
	case OpAnd:
		return a & b, nil
	case OpOr:
		return a | b, nil
	case OpXor:
		return a ^ b, nil
	}
	return 0, errors.New("unknown binary op " + op.String())
}

// EvalIntUnary applies op to a 64-bit integer. not yields 1 for zero and 0
// otherwise.
func EvalIntUnary(op UnaryOpCode, a int64) int64 {
	if op == OpNeg {
		return -a
	}
	return boolToInt(a == 0)
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
