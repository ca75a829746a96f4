package native

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chazu/aurora/ir"
	"github.com/chazu/aurora/value"
)

// FallbackPolicy decides what Compile does when code generation fails.
type FallbackPolicy int

const (
	// FallbackInterpret returns the error and registers nothing; the
	// function stays interpreted.
	FallbackInterpret FallbackPolicy = iota
	// FallbackStub registers a stub that delegates to the fallback caller.
	FallbackStub
)

func (p FallbackPolicy) String() string {
	switch p {
	case FallbackInterpret:
		return "interpret"
	case FallbackStub:
		return "stub"
	}
	return fmt.Sprintf("FallbackPolicy(%d)", int(p))
}

// ParseFallbackPolicy parses "interpret" or "stub".
func ParseFallbackPolicy(s string) (FallbackPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "interpret":
		return FallbackInterpret, nil
	case "stub":
		return FallbackStub, nil
	}
	return 0, fmt.Errorf("unknown native fallback policy %q", s)
}

// Executor compiles functions into native entry points and runs them,
// keeping per-function execution statistics.
type Executor struct {
	engine *Engine
	policy FallbackPolicy

	mu      sync.RWMutex
	enabled bool
	stats   map[string]*NativeStats
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithFallbackPolicy selects what happens when code generation fails.
func WithFallbackPolicy(p FallbackPolicy) ExecutorOption {
	return func(e *Executor) { e.policy = p }
}

// WithCaller sets the caller used for callees without native code.
func WithCaller(c Caller) ExecutorOption {
	return func(e *Executor) { e.engine.Context().SetFallback(c) }
}

// NewExecutor creates an enabled executor with its own engine.
func NewExecutor(opts ...ExecutorOption) (*Executor, error) {
	engine, err := NewEngine()
	if err != nil {
		return nil, err
	}
	e := &Executor{
		engine:  engine,
		enabled: true,
		stats:   make(map[string]*NativeStats),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Policy returns the configured fallback policy.
func (e *Executor) Policy() FallbackPolicy { return e.policy }

// Compile generates native code for the function name in m and registers it,
// replacing any earlier entry. Execution statistics of an earlier entry are
// kept.
func (e *Executor) Compile(name string, m *ir.Module) error {
	if !e.Enabled() {
		return ErrDisabled
	}
	fn := m.Function(name)
	if fn == nil {
		return fmt.Errorf("native: function %s not found in module %s", name, m.Name)
	}

	ctx, backend, err := e.parts()
	if err != nil {
		return err
	}

	start := time.Now()
	code, err := backend.Compile(fn)
	elapsed := time.Since(start)
	if err != nil {
		log.Warningf("code generation for %s failed: %s", name, err)
		if e.policy != FallbackStub {
			return err
		}
		code = backend.Stub(name, len(fn.Params), fn.ReturnType)
		log.Infof("registered stub for %s", name)
	}
	if err := ctx.Define(code); err != nil {
		return err
	}

	// Counters survive recompilation; CompileTime accumulates.
	e.mu.Lock()
	st, ok := e.stats[name]
	if !ok {
		st = &NativeStats{}
		e.stats[name] = st
	}
	st.CompileTime += elapsed
	st.Stubbed = code.Stub
	e.mu.Unlock()
	log.Debugf("compiled %s in %s", name, elapsed)
	return nil
}

// Execute runs the native entry point for name as an outermost call.
func (e *Executor) Execute(name string, args []value.Value) (value.Value, error) {
	return e.ExecuteAt(0, name, args)
}

// ExecuteAt runs the native entry point for name nested depth calls deep.
func (e *Executor) ExecuteAt(depth int, name string, args []value.Value) (value.Value, error) {
	if !e.Enabled() {
		return value.Nil(), ErrDisabled
	}
	ctx, _, err := e.parts()
	if err != nil {
		return value.Nil(), err
	}
	code, ok := ctx.Lookup(name)
	if !ok {
		return value.Nil(), fmt.Errorf("%w for %s", ErrNoNative, name)
	}
	if len(args) != code.Params {
		return value.Nil(), fmt.Errorf("native: %s expects %d arguments, got %d", name, code.Params, len(args))
	}
	raw := make([]int64, len(args))
	for i, a := range args {
		v, err := value.ToInt64(a)
		if err != nil {
			return value.Nil(), fmt.Errorf("%w: argument %d of %s: %w", ErrUnsupportedValue, i, name, err)
		}
		raw[i] = v
	}

	start := time.Now()
	result, err := code.run(raw, depth)
	elapsed := time.Since(start)
	if err != nil {
		return value.Nil(), err
	}

	e.mu.Lock()
	st, ok := e.stats[name]
	if !ok {
		st = &NativeStats{Stubbed: code.Stub}
		e.stats[name] = st
	}
	st.record(elapsed)
	e.mu.Unlock()

	return value.FromInt64(result, code.ReturnType), nil
}

// HasNative reports whether an entry point, stub or not, is registered.
func (e *Executor) HasNative(name string) bool {
	ctx, _, err := e.parts()
	if err != nil {
		return false
	}
	_, ok := ctx.Lookup(name)
	return ok
}

// IsStub reports whether name is registered as a delegating stub.
func (e *Executor) IsStub(name string) bool {
	ctx, _, err := e.parts()
	if err != nil {
		return false
	}
	code, ok := ctx.Lookup(name)
	return ok && code.Stub
}

// Stats returns a copy of the statistics for name.
func (e *Executor) Stats(name string) (NativeStats, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.stats[name]
	if !ok {
		return NativeStats{}, false
	}
	return *st, true
}

// AllStats returns a copy of every function's statistics.
func (e *Executor) AllStats() map[string]NativeStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]NativeStats, len(e.stats))
	for name, st := range e.stats {
		out[name] = *st
	}
	return out
}

// Names returns the registered entry points in sorted order.
func (e *Executor) Names() []string {
	ctx, _, err := e.parts()
	if err != nil {
		return nil
	}
	names := ctx.Names()
	sort.Strings(names)
	return names
}

func (e *Executor) Enabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.enabled
}

// SetEnabled switches native compilation and execution on or off.
func (e *Executor) SetEnabled(enabled bool) {
	e.mu.Lock()
	e.enabled = enabled
	e.mu.Unlock()
}

// SetFallback sets the caller used by stubs and by calls to functions
// without native code.
func (e *Executor) SetFallback(c Caller) {
	if ctx, _, err := e.parts(); err == nil {
		ctx.SetFallback(c)
	}
}

// ClearCache drops every entry point and all statistics.
func (e *Executor) ClearCache() {
	if ctx, _, err := e.parts(); err == nil {
		ctx.Clear()
	}
	e.mu.Lock()
	e.stats = make(map[string]*NativeStats)
	e.mu.Unlock()
}

// Close releases the engine. The executor is unusable afterwards.
func (e *Executor) Close() {
	e.mu.Lock()
	engine := e.engine
	e.engine = nil
	e.enabled = false
	e.mu.Unlock()
	if engine != nil {
		engine.Close()
	}
}

func (e *Executor) parts() (*Context, *Backend, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.engine == nil {
		return nil, nil, ErrClosed
	}
	return e.engine.Context(), e.engine.Backend(), nil
}
