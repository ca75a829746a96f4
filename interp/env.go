package interp

import (
	"fmt"

	"github.com/chazu/aurora/value"
)

type slot struct {
	val     value.Value
	mutable bool
}

// Env is one lexical scope. Lookups walk outward through the parents.
type Env struct {
	parent *Env
	vars   map[string]*slot
}

// NewEnv creates a scope nested in parent, which may be nil.
func NewEnv(parent *Env) *Env {
	return &Env{parent: parent, vars: make(map[string]*slot)}
}

// Define binds name in this scope, shadowing outer bindings.
func (e *Env) Define(name string, v value.Value, mutable bool) {
	e.vars[name] = &slot{val: v, mutable: mutable}
}

func (e *Env) Lookup(name string) (value.Value, bool) {
	if s := e.find(name); s != nil {
		return s.val, true
	}
	return value.Nil(), false
}

// Assign updates the nearest binding of name, which must be mutable.
func (e *Env) Assign(name string, v value.Value) error {
	s := e.find(name)
	if s == nil {
		return fmt.Errorf("%w: assignment to undeclared name %s", ErrUndefined, name)
	}
	if !s.mutable {
		return fmt.Errorf("%w: cannot assign to %s", ErrImmutable, name)
	}
	s.val = v
	return nil
}

func (e *Env) find(name string) *slot {
	for env := e; env != nil; env = env.parent {
		if s, ok := env.vars[name]; ok {
			return s
		}
	}
	return nil
}
