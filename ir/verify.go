package ir

import (
	"fmt"
	"strings"
)

// VerifyError collects every structural problem found in a function.
type VerifyError struct {
	Function string
	Problems []string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("ir: invalid function %s: %s", e.Function, strings.Join(e.Problems, "; "))
}

// Verify checks the structural invariants of fn: block ids match their
// index, the entry and every branch target exist, reachable blocks are
// terminated, phis lead their block, and every register read is defined.
func Verify(fn *Function) error {
	v := &VerifyError{Function: fn.Name}
	add := func(format string, args ...interface{}) {
		v.Problems = append(v.Problems, fmt.Sprintf(format, args...))
	}

	for i, b := range fn.Blocks {
		if b == nil {
			add("block %d is nil", i)
			continue
		}
		if int(b.ID) != i {
			add("block %s has id %d at index %d", b.Label, b.ID, i)
		}
	}
	if len(v.Problems) > 0 {
		return v
	}
	if fn.Block(fn.Entry) == nil {
		add("entry block %d out of range", fn.Entry)
		return v
	}

	defined := make(map[Reg]bool)
	for i := range fn.Params {
		defined[fn.ParamReg(i)] = true
	}
	for _, b := range fn.Blocks {
		for _, instr := range b.Instructions {
			if d, ok := Def(instr); ok {
				if d <= NoReg {
					add("%s: invalid destination register %d", b.Name(), d)
				}
				defined[d] = true
			}
		}
	}

	reachable := Reachable(fn)
	for _, b := range fn.Blocks {
		for _, s := range Successors(b.Term) {
			if fn.Block(s) == nil {
				add("%s: branch to unknown block %d", b.Name(), s)
			}
		}
		if reachable[b.ID] && !b.IsTerminated() {
			add("%s: reachable block has no terminator", b.Name())
		}
		seenNonPhi := false
		for _, instr := range b.Instructions {
			if _, ok := instr.(*Phi); ok {
				if seenNonPhi {
					add("%s: phi after non-phi instruction", b.Name())
				}
			} else {
				seenNonPhi = true
			}
			for _, u := range Uses(instr) {
				if u.IsReg() && !defined[u.Reg] {
					add("%s: use of undefined register %%%d", b.Name(), u.Reg)
				}
			}
		}
		for _, u := range TermUses(b.Term) {
			if u.IsReg() && !defined[u.Reg] {
				add("%s: use of undefined register %%%d", b.Name(), u.Reg)
			}
		}
	}

	if len(v.Problems) > 0 {
		return v
	}
	return nil
}

// VerifyModule verifies every function of m and returns the first failure.
func VerifyModule(m *Module) error {
	for _, fn := range m.Functions {
		if err := Verify(fn); err != nil {
			return err
		}
	}
	return nil
}
