package ir

import (
	"fmt"
	"strings"
)

// String renders the module in the textual diagnostics format.
func (m *Module) String() string {
	var sb strings.Builder
	for i, fn := range m.Functions {
		if i > 0 {
			sb.WriteByte('\n')
		}
		writeFunction(&sb, fn)
	}
	return sb.String()
}

// Format renders a single function.
func Format(fn *Function) string {
	var sb strings.Builder
	writeFunction(&sb, fn)
	return sb.String()
}

func (f *Function) String() string {
	return Format(f)
}

func writeFunction(sb *strings.Builder, fn *Function) {
	ret := fn.ReturnType
	if ret == "" {
		ret = "Void"
	}
	fmt.Fprintf(sb, "define %s @%s(", ret, fn.Name)
	for i, p := range fn.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(sb, "%%%d %s", fn.ParamReg(i), p)
	}
	sb.WriteString(") {\n")
	for _, b := range fn.Blocks {
		sb.WriteString(b.Name())
		sb.WriteString(":\n")
		for _, instr := range b.Instructions {
			sb.WriteString("  ")
			sb.WriteString(FormatInstruction(fn, instr))
			sb.WriteByte('\n')
		}
		sb.WriteString("  ")
		sb.WriteString(FormatTerminator(fn, b.Term))
		sb.WriteByte('\n')
	}
	sb.WriteString("}\n")
}

// FormatInstruction renders one instruction. fn is used to name phi
// predecessor blocks and may be nil.
func FormatInstruction(fn *Function, instr Instruction) string {
	switch in := instr.(type) {
	case *BinaryOp:
		return fmt.Sprintf("%%%d = %s %s, %s", in.Dest, in.Op, in.LHS, in.RHS)
	case *UnaryOp:
		return fmt.Sprintf("%%%d = %s %s", in.Dest, in.Op, in.Src)
	case *Call:
		args := make([]string, len(in.Args))
		for i, a := range in.Args {
			args[i] = a.String()
		}
		call := fmt.Sprintf("call @%s(%s)", in.Func, strings.Join(args, ", "))
		if in.Dest == NoReg {
			return call
		}
		return fmt.Sprintf("%%%d = %s", in.Dest, call)
	case *Load:
		return fmt.Sprintf("%%%d = load %s", in.Dest, in.Addr)
	case *Store:
		return fmt.Sprintf("store %s, %s", in.Src, in.Addr)
	case *Alloca:
		return fmt.Sprintf("%%%d = alloca %s", in.Dest, in.Type)
	case *Phi:
		incs := make([]string, len(in.Incoming))
		for i, inc := range in.Incoming {
			incs[i] = fmt.Sprintf("[%s, %s]", inc.Value, blockName(fn, inc.Block))
		}
		return fmt.Sprintf("%%%d = phi %s", in.Dest, strings.Join(incs, ", "))
	}
	return fmt.Sprintf("<unknown %T>", instr)
}

// FormatTerminator renders one terminator.
func FormatTerminator(fn *Function, t Terminator) string {
	switch tt := t.(type) {
	case *Return:
		if !tt.HasValue {
			return "ret void"
		}
		return "ret " + tt.Value.String()
	case *Branch:
		return "br " + blockName(fn, tt.Target)
	case *CondBranch:
		return fmt.Sprintf("br %s, %s, %s", tt.Cond, blockName(fn, tt.True), blockName(fn, tt.False))
	case *Unreachable, nil:
		return "unreachable"
	}
	return fmt.Sprintf("<unknown %T>", t)
}

func blockName(fn *Function, id BlockID) string {
	if fn != nil {
		if b := fn.Block(id); b != nil {
			return b.Name()
		}
	}
	return fmt.Sprintf("bb%d", id)
}
