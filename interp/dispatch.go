package interp

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chazu/aurora/jit"
	"github.com/chazu/aurora/native"
	"github.com/chazu/aurora/telemetry"
	"github.com/chazu/aurora/value"
	"golang.org/x/sync/singleflight"
)

// DefaultRetryBackoffCalls is how many further interpreted calls a function
// needs after a failed compilation before it is tried again.
const DefaultRetryBackoffCalls = 100

// DispatchStats counts how calls were served.
type DispatchStats struct {
	Interpreted     uint64
	Native          uint64
	Compilations    uint64
	CompileFailures uint64
}

// Dispatcher runs each call natively when code is registered and
// interprets it otherwise, promoting functions that telemetry marks as hot.
// It is safe for concurrent use.
type Dispatcher struct {
	interp    *Interpreter
	jit       *jit.Manager
	exec      *native.Executor
	telemetry *telemetry.Collector

	retryBackoff uint64
	group        singleflight.Group

	mu      sync.Mutex
	retryAt map[string]uint64

	interpreted     uint64
	native          uint64
	compilations    uint64
	compileFailures uint64
}

// DispatchOption configures a Dispatcher.
type DispatchOption func(*Dispatcher)

// WithRetryBackoff sets the number of calls to wait after a failed
// compilation.
func WithRetryBackoff(calls uint64) DispatchOption {
	return func(d *Dispatcher) { d.retryBackoff = calls }
}

// NewDispatcher connects an interpreter to the JIT. Interpreted code and
// native callees without code of their own call back into the dispatcher.
// A nil collector gets a fresh one.
func NewDispatcher(in *Interpreter, m *jit.Manager, exec *native.Executor, tel *telemetry.Collector, opts ...DispatchOption) *Dispatcher {
	if tel == nil {
		tel = telemetry.NewCollector()
	}
	d := &Dispatcher{
		interp:       in,
		jit:          m,
		exec:         exec,
		telemetry:    tel,
		retryBackoff: DefaultRetryBackoffCalls,
		retryAt:      make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(d)
	}
	in.SetCaller(d)
	if exec != nil {
		exec.SetFallback(d)
	}
	return d
}

func (d *Dispatcher) Interpreter() *Interpreter       { return d.interp }
func (d *Dispatcher) Telemetry() *telemetry.Collector { return d.telemetry }
func (d *Dispatcher) Executor() *native.Executor      { return d.exec }
func (d *Dispatcher) JIT() *jit.Manager               { return d.jit }

// Call runs one outermost call of name.
func (d *Dispatcher) Call(name string, args []value.Value) (value.Value, error) {
	return d.CallAt(0, name, args)
}

// CallAt runs a call nested depth calls deep. Interpreted code and native
// fallbacks pass their own depth so both paths share one call budget.
func (d *Dispatcher) CallAt(depth int, name string, args []value.Value) (value.Value, error) {
	if d.nativeReady(name, args) {
		v, err := d.exec.ExecuteAt(depth, name, args)
		if err == nil {
			atomic.AddUint64(&d.native, 1)
			return v, nil
		}
		if !errors.Is(err, native.ErrNoNative) && !errors.Is(err, native.ErrDisabled) {
			return v, err
		}
		// Dropped or disabled after the check; interpret instead.
	}

	decl, ok := d.interp.Function(name)
	if !ok {
		return d.interp.InvokeAt(depth, name, args)
	}

	start := time.Now()
	v, err := d.interp.InvokeAt(depth, name, args)
	elapsed := time.Since(start)
	atomic.AddUint64(&d.interpreted, 1)
	if err != nil {
		d.telemetry.RecordError(name, err)
		return v, err
	}
	d.telemetry.RecordCall(name, elapsed)
	d.promote(decl.Name)
	return v, nil
}

// Run evaluates the program's top-level statements.
func (d *Dispatcher) Run() (value.Value, error) {
	return d.interp.Run()
}

// nativeReady reports whether name has real native code that accepts args.
// Native parameters are integers, so any other argument kind stays
// interpreted. Stubs delegate back to the dispatcher and are skipped.
func (d *Dispatcher) nativeReady(name string, args []value.Value) bool {
	if d.exec == nil || !d.exec.Enabled() {
		return false
	}
	if !d.exec.HasNative(name) || d.exec.IsStub(name) {
		return false
	}
	for _, a := range args {
		if a.Kind() != value.KindInt {
			return false
		}
	}
	return true
}

func (d *Dispatcher) promote(name string) {
	if d.jit == nil || d.exec == nil || !d.exec.Enabled() || d.exec.HasNative(name) {
		return
	}
	stats, ok := d.telemetry.FunctionStats(name)
	if !ok || !d.jit.ShouldCompile(stats) {
		return
	}
	d.mu.Lock()
	at, waiting := d.retryAt[name]
	d.mu.Unlock()
	if waiting && stats.TotalCalls < at {
		return
	}

	d.group.Do(name, func() (any, error) {
		if d.exec.HasNative(name) {
			return nil, nil
		}
		err := d.compile(name)
		d.mu.Lock()
		if err != nil {
			d.retryAt[name] = stats.TotalCalls + d.retryBackoff
		} else {
			delete(d.retryAt, name)
		}
		d.mu.Unlock()
		return nil, err
	})
}

func (d *Dispatcher) compile(name string) error {
	decl, ok := d.interp.Function(name)
	if !ok {
		return nil
	}
	req := jit.RequestFromDecl(decl, d.interp.Functions())
	if err := d.jit.RegisterDecl(d.exec, req.Decl, req.Helpers...); err != nil {
		atomic.AddUint64(&d.compileFailures, 1)
		d.telemetry.RecordError(name, err)
		log.Warningf("%s stays interpreted: %s", name, err)
		return err
	}
	atomic.AddUint64(&d.compilations, 1)
	d.telemetry.RecordCompilation(name, "hot_path")
	log.Infof("%s promoted to native code", name)
	return nil
}

// Precompile compiles and registers the named functions, or every function
// of the program when names is empty, without waiting for them to get hot.
func (d *Dispatcher) Precompile(ctx context.Context, names ...string) error {
	all := d.interp.Functions()
	var reqs []jit.Request
	if len(names) == 0 {
		for _, decl := range all {
			reqs = append(reqs, jit.RequestFromDecl(decl, all))
		}
	}
	for _, name := range names {
		decl, ok := d.interp.Function(name)
		if !ok {
			return errors.New("interp: precompile: unknown function " + name)
		}
		reqs = append(reqs, jit.RequestFromDecl(decl, all))
	}
	err := d.jit.CompileBatch(ctx, d.exec, reqs)
	for _, req := range reqs {
		if d.exec.HasNative(req.Decl.Name) {
			atomic.AddUint64(&d.compilations, 1)
			d.telemetry.RecordCompilation(req.Decl.Name, "precompile")
		} else {
			atomic.AddUint64(&d.compileFailures, 1)
		}
	}
	return err
}

func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{
		Interpreted:     atomic.LoadUint64(&d.interpreted),
		Native:          atomic.LoadUint64(&d.native),
		Compilations:    atomic.LoadUint64(&d.compilations),
		CompileFailures: atomic.LoadUint64(&d.compileFailures),
	}
}
