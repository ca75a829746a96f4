package native

import (
	"errors"
	"fmt"
	"sync"

	"github.com/chazu/aurora/ir"
	"github.com/chazu/aurora/value"
)

// MaxCallDepth bounds nested calls so runaway recursion surfaces as an
// error instead of exhausting the goroutine stack. The interpreter counts
// against the same limit.
const MaxCallDepth = 10000

// ErrCallDepth is returned when calls nest deeper than MaxCallDepth.
var ErrCallDepth = errors.New("call depth exceeded")

// Code is one generated entry point. Every argument and the result use the
// uniform 64-bit representation.
type Code struct {
	Name       string
	Params     int
	ReturnType string
	// Stub entries have no generated body and delegate to the fallback.
	Stub bool

	backend *Backend
	nregs   int
	nslots  int
	entry   ir.BlockID
	blocks  []*nativeBlock
}

// Call runs the entry point with the given arguments.
func (c *Code) Call(args ...int64) (int64, error) {
	return c.run(args, 0)
}

func (c *Code) run(args []int64, depth int) (int64, error) {
	if len(args) != c.Params {
		return 0, fmt.Errorf("native: %s expects %d arguments, got %d", c.Name, c.Params, len(args))
	}
	if depth > MaxCallDepth {
		return 0, fmt.Errorf("%w in %s", ErrCallDepth, c.Name)
	}
	if c.Stub {
		return c.backend.callFallback(c.Name, args, depth)
	}

	f := &frame{
		regs:  make([]int64, c.nregs),
		mem:   make([]int64, c.nslots),
		depth: depth,
	}
	copy(f.regs[1:], args)

	id := c.entry
	for {
		b := c.blocks[id]
		for _, step := range b.steps {
			if err := step(f); err != nil {
				return 0, err
			}
		}
		next, ret, done, err := b.term(f)
		if err != nil {
			return 0, err
		}
		if done {
			return ret, nil
		}
		id = next
	}
}

// frame is the activation record of one native call.
type frame struct {
	regs  []int64
	mem   []int64
	depth int
}

type (
	operandFn func(f *frame) int64
	stepFn    func(f *frame) error
	termFn    func(f *frame) (next ir.BlockID, ret int64, done bool, err error)
)

type nativeBlock struct {
	steps []stepFn
	term  termFn
}

// ---------------------------------------------------------------------------
// Backend
// ---------------------------------------------------------------------------

// Backend generates executable code from IR functions. Calls in generated
// code are resolved by name against the backend's Context at call time.
type Backend struct {
	ctx *Context

	mu     sync.Mutex
	closed bool
}

// NewBackend creates a backend that resolves calls through ctx.
func NewBackend(ctx *Context) (*Backend, error) {
	if ctx == nil {
		return nil, errors.New("native: backend needs a context")
	}
	if ctx.isClosed() {
		return nil, ErrClosed
	}
	return &Backend{ctx: ctx}, nil
}

// Close releases the backend. Code generated earlier keeps running against
// the context until the context itself is closed.
func (b *Backend) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

// Stub returns an entry point that forwards every call to the fallback
// caller.
func (b *Backend) Stub(name string, params int, returnType string) *Code {
	return &Code{
		Name:       name,
		Params:     params,
		ReturnType: returnType,
		Stub:       true,
		backend:    b,
	}
}

// Compile verifies fn and generates code for it. The result is not
// registered; use Context.Define.
func (b *Backend) Compile(fn *ir.Function) (*Code, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	if err := ir.Verify(fn); err != nil {
		return nil, fmt.Errorf("native: %s: %w", fn.Name, err)
	}

	g := &generator{
		backend: b,
		fn:      fn,
		slots:   make(map[ir.Reg]int),
	}
	code, err := g.generate()
	if err != nil {
		return nil, fmt.Errorf("native: %s: %w", fn.Name, err)
	}
	return code, nil
}

// call resolves name at run time: native code first, the fallback caller
// otherwise.
func (b *Backend) call(name string, args []int64, depth int) (int64, error) {
	if code, ok := b.ctx.Lookup(name); ok && !code.Stub {
		return code.run(args, depth)
	}
	return b.callFallback(name, args, depth)
}

func (b *Backend) callFallback(name string, args []int64, depth int) (int64, error) {
	fallback := b.ctx.Fallback()
	if fallback == nil {
		return 0, fmt.Errorf("%w for %s", ErrNoNative, name)
	}
	vals := make([]value.Value, len(args))
	for i, a := range args {
		vals[i] = value.Int(a)
	}
	var result value.Value
	var err error
	if dc, ok := fallback.(DepthCaller); ok {
		result, err = dc.CallAt(depth, name, vals)
	} else {
		result, err = fallback.Call(name, vals)
	}
	if err != nil {
		return 0, err
	}
	if result.IsNil() {
		return 0, nil
	}
	raw, err := value.ToInt64(result)
	if err != nil {
		return 0, fmt.Errorf("%w: result of %s: %w", ErrUnsupportedValue, name, err)
	}
	return raw, nil
}

// ---------------------------------------------------------------------------
// Generator
// ---------------------------------------------------------------------------

type generator struct {
	backend *Backend
	fn      *ir.Function
	slots   map[ir.Reg]int
}

func (g *generator) generate() (*Code, error) {
	fn := g.fn
	code := &Code{
		Name:       fn.Name,
		Params:     len(fn.Params),
		ReturnType: fn.ReturnType,
		backend:    g.backend,
		nregs:      int(ir.MaxReg(fn)) + 1,
		entry:      fn.Entry,
		blocks:     make([]*nativeBlock, len(fn.Blocks)),
	}

	// Slots are assigned statically so every frame has the same layout.
	for _, b := range fn.Blocks {
		for _, instr := range b.Instructions {
			if a, ok := instr.(*ir.Alloca); ok {
				g.slots[a.Dest] = len(g.slots)
			}
		}
	}
	code.nslots = len(g.slots)

	for _, id := range ir.ReversePostorder(fn) {
		nb, err := g.block(fn.Blocks[id])
		if err != nil {
			return nil, err
		}
		code.blocks[id] = nb
	}
	return code, nil
}

func (g *generator) block(b *ir.BasicBlock) (*nativeBlock, error) {
	nb := &nativeBlock{}
	for _, instr := range b.Instructions {
		if phi, ok := instr.(*ir.Phi); ok {
			if b.ID == g.fn.Entry {
				return nil, fmt.Errorf("phi %%%d in entry block", phi.Dest)
			}
			continue // phis are resolved on the incoming edges
		}
		step, err := g.instruction(instr)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		nb.steps = append(nb.steps, step)
	}
	term, err := g.terminator(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	nb.term = term
	return nb, nil
}

func (g *generator) operand(o ir.Operand) (operandFn, error) {
	switch o.Kind {
	case ir.OperandRegister:
		r := int(o.Reg)
		if o.Reg == ir.NoReg {
			return nil, errors.New("use of the invalid register")
		}
		return func(f *frame) int64 { return f.regs[r] }, nil
	case ir.OperandInt:
		v := o.Int
		return func(*frame) int64 { return v }, nil
	case ir.OperandBool:
		var v int64
		if o.Bool {
			v = 1
		}
		return func(*frame) int64 { return v }, nil
	}
	return nil, fmt.Errorf("%w: operand %s", ErrUnsupportedValue, o)
}

func (g *generator) operands(ops []ir.Operand) ([]operandFn, error) {
	fns := make([]operandFn, len(ops))
	for i, o := range ops {
		fn, err := g.operand(o)
		if err != nil {
			return nil, err
		}
		fns[i] = fn
	}
	return fns, nil
}

func (g *generator) slot(addr ir.Operand) (int, error) {
	if addr.IsReg() {
		if s, ok := g.slots[addr.Reg]; ok {
			return s, nil
		}
	}
	return 0, fmt.Errorf("address %s is not a stack slot", addr)
}

func (g *generator) instruction(instr ir.Instruction) (stepFn, error) {
	name := g.fn.Name
	switch in := instr.(type) {
	case *ir.BinaryOp:
		lhs, err := g.operand(in.LHS)
		if err != nil {
			return nil, err
		}
		rhs, err := g.operand(in.RHS)
		if err != nil {
			return nil, err
		}
		op, dest := in.Op, int(in.Dest)
		return func(f *frame) error {
			v, err := ir.EvalInt(op, lhs(f), rhs(f))
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			f.regs[dest] = v
			return nil
		}, nil

	case *ir.UnaryOp:
		src, err := g.operand(in.Src)
		if err != nil {
			return nil, err
		}
		op, dest := in.Op, int(in.Dest)
		return func(f *frame) error {
			f.regs[dest] = ir.EvalIntUnary(op, src(f))
			return nil
		}, nil

	case *ir.Call:
		args, err := g.operands(in.Args)
		if err != nil {
			return nil, err
		}
		callee, dest := in.Func, int(in.Dest)
		backend := g.backend
		return func(f *frame) error {
			vals := make([]int64, len(args))
			for i, a := range args {
				vals[i] = a(f)
			}
			v, err := backend.call(callee, vals, f.depth+1)
			if err != nil {
				return err
			}
			if dest != int(ir.NoReg) {
				f.regs[dest] = v
			}
			return nil
		}, nil

	case *ir.Alloca:
		dest, s := int(in.Dest), int64(g.slots[in.Dest])
		return func(f *frame) error {
			f.regs[dest] = s
			return nil
		}, nil

	case *ir.Load:
		s, err := g.slot(in.Addr)
		if err != nil {
			return nil, err
		}
		dest := int(in.Dest)
		return func(f *frame) error {
			f.regs[dest] = f.mem[s]
			return nil
		}, nil

	case *ir.Store:
		s, err := g.slot(in.Addr)
		if err != nil {
			return nil, err
		}
		src, err := g.operand(in.Src)
		if err != nil {
			return nil, err
		}
		return func(f *frame) error {
			f.mem[s] = src(f)
			return nil
		}, nil
	}
	return nil, fmt.Errorf("unsupported instruction %T", instr)
}

// edge returns the parallel copy that feeds target's phis when control
// arrives from the block from.
func (g *generator) edge(from, to ir.BlockID) (func(f *frame), error) {
	var dests []int
	var srcs []operandFn
	for _, instr := range g.fn.Blocks[to].Instructions {
		phi, ok := instr.(*ir.Phi)
		if !ok {
			continue
		}
		found := false
		for _, inc := range phi.Incoming {
			if inc.Block != from {
				continue
			}
			src, err := g.operand(inc.Value)
			if err != nil {
				return nil, err
			}
			dests = append(dests, int(phi.Dest))
			srcs = append(srcs, src)
			found = true
			break
		}
		if !found {
			return nil, fmt.Errorf("phi %%%d has no value for predecessor %s",
				phi.Dest, g.fn.Blocks[from].Name())
		}
	}
	if len(dests) == 0 {
		return func(*frame) {}, nil
	}
	return func(f *frame) {
		vals := make([]int64, len(srcs))
		for i, src := range srcs {
			vals[i] = src(f)
		}
		for i, d := range dests {
			f.regs[d] = vals[i]
		}
	}, nil
}

func (g *generator) terminator(b *ir.BasicBlock) (termFn, error) {
	switch t := b.Term.(type) {
	case *ir.Return:
		if !t.HasValue {
			return func(*frame) (ir.BlockID, int64, bool, error) { return 0, 0, true, nil }, nil
		}
		v, err := g.operand(t.Value)
		if err != nil {
			return nil, err
		}
		return func(f *frame) (ir.BlockID, int64, bool, error) { return 0, v(f), true, nil }, nil

	case *ir.Branch:
		move, err := g.edge(b.ID, t.Target)
		if err != nil {
			return nil, err
		}
		target := t.Target
		return func(f *frame) (ir.BlockID, int64, bool, error) {
			move(f)
			return target, 0, false, nil
		}, nil

	case *ir.CondBranch:
		cond, err := g.operand(t.Cond)
		if err != nil {
			return nil, err
		}
		moveT, err := g.edge(b.ID, t.True)
		if err != nil {
			return nil, err
		}
		moveF, err := g.edge(b.ID, t.False)
		if err != nil {
			return nil, err
		}
		onTrue, onFalse := t.True, t.False
		return func(f *frame) (ir.BlockID, int64, bool, error) {
			if cond(f) != 0 {
				moveT(f)
				return onTrue, 0, false, nil
			}
			moveF(f)
			return onFalse, 0, false, nil
		}, nil

	case *ir.Unreachable:
		name, label := g.fn.Name, b.Name()
		return func(*frame) (ir.BlockID, int64, bool, error) {
			return 0, 0, false, fmt.Errorf("native: %s: reached unreachable block %s", name, label)
		}, nil
	}
	return nil, fmt.Errorf("unsupported terminator %T", b.Term)
}
