// Package jit decides which functions are hot enough to compile and drives
// them through lowering, optimization and native code generation, caching
// the results by function name.
package jit

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/chazu/aurora/compiler"
	"github.com/chazu/aurora/compiler/hash"
	"github.com/chazu/aurora/ir"
	"github.com/chazu/aurora/native"
	"github.com/chazu/aurora/optimizer"
	"github.com/chazu/aurora/telemetry"
	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"
)

var log = commonlog.GetLogger("aurora.jit")

// Default hot-path thresholds.
const (
	DefaultCallThreshold   = 100
	DefaultTimeThresholdUs = 1000
)

// Manager compiles hot functions and owns the cache of compiled artifacts.
type Manager struct {
	cache *Cache

	callThreshold   uint64
	timeThresholdUs uint64
	optOptions      []optimizer.Option
	compress        bool

	compiled        uint64
	failures        uint64
	compileTimeNano uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithThresholds sets the call count and average time (microseconds) at
// which a function becomes hot.
func WithThresholds(calls, avgUs uint64) Option {
	return func(m *Manager) {
		m.callThreshold = calls
		m.timeThresholdUs = avgUs
	}
}

// WithOptimizerOptions passes options to every optimizer run.
func WithOptimizerOptions(opts ...optimizer.Option) Option {
	return func(m *Manager) { m.optOptions = append(m.optOptions, opts...) }
}

// WithSnapshotCompression selects whether snapshots are gzip compressed.
func WithSnapshotCompression(compress bool) Option {
	return func(m *Manager) { m.compress = compress }
}

// New creates a manager that stores its results in cache. A nil cache gets
// a fresh one.
func New(cache *Cache, opts ...Option) *Manager {
	if cache == nil {
		cache = NewCache()
	}
	m := &Manager{
		cache:           cache,
		callThreshold:   DefaultCallThreshold,
		timeThresholdUs: DefaultTimeThresholdUs,
		compress:        true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Cache returns the manager's cache.
func (m *Manager) Cache() *Cache { return m.cache }

// ShouldCompile reports whether stats mark a function as hot.
func (m *Manager) ShouldCompile(stats telemetry.FunctionStats) bool {
	return stats.TotalCalls >= m.callThreshold || stats.AvgExecutionTimeUs >= m.timeThresholdUs
}

func (m *Manager) IsCompiled(name string) bool {
	return m.cache.Contains(name)
}

func (m *Manager) GetCompiled(name string) (*CompiledFunction, bool) {
	return m.cache.Get(name)
}

// All returns every cached function sorted by name.
func (m *Manager) All() []*CompiledFunction {
	return m.cache.All()
}

func (m *Manager) ClearCache() {
	m.cache.Clear()
}

// CompileFunction lowers, optimizes and generates LLVM IR for one function
// and caches the result. Helpers are other functions of the program; they
// are lowered only so that small ones can be inlined.
func (m *Manager) CompileFunction(name string, params []string, body []compiler.Stmt, helpers ...*compiler.FunctionDecl) (string, error) {
	return m.CompileDecl(declFor(name, params, body), helpers...)
}

// CompileDecl is CompileFunction for a declaration, keeping its declared
// return type.
func (m *Manager) CompileDecl(decl *compiler.FunctionDecl, helpers ...*compiler.FunctionDecl) (string, error) {
	cf, err := m.compile(decl, helpers)
	if err != nil {
		return "", err
	}
	atomic.AddUint64(&m.compiled, 1)
	m.cache.Put(cf)
	return cf.IRText, nil
}

// CompileAndRegister compiles a function, registers its native code with
// exec and caches it. Nothing is cached when registration fails.
func (m *Manager) CompileAndRegister(exec *native.Executor, name string, params []string, body []compiler.Stmt, helpers ...*compiler.FunctionDecl) error {
	return m.RegisterDecl(exec, declFor(name, params, body), helpers...)
}

// RegisterDecl is CompileAndRegister for a declaration.
func (m *Manager) RegisterDecl(exec *native.Executor, decl *compiler.FunctionDecl, helpers ...*compiler.FunctionDecl) error {
	cf, err := m.compile(decl, helpers)
	if err != nil {
		return err
	}
	if err := exec.Compile(decl.Name, cf.Module); err != nil {
		atomic.AddUint64(&m.failures, 1)
		return fmt.Errorf("jit: register %s: %w", decl.Name, err)
	}
	atomic.AddUint64(&m.compiled, 1)
	m.cache.Put(cf)
	log.Infof("compiled and registered %s", decl.Name)
	return nil
}

func declFor(name string, params []string, body []compiler.Stmt) *compiler.FunctionDecl {
	decl := &compiler.FunctionDecl{Name: name, Body: body}
	for _, p := range params {
		decl.Params = append(decl.Params, compiler.Param{Name: p})
	}
	return decl
}

// Request is one function to compile in a batch.
type Request struct {
	Decl    *compiler.FunctionDecl
	Helpers []*compiler.FunctionDecl
}

// RequestFromDecl builds a request for decl, offering every other function
// of the program as an inlining helper.
func RequestFromDecl(decl *compiler.FunctionDecl, program []*compiler.FunctionDecl) Request {
	req := Request{Decl: decl}
	for _, other := range program {
		if other != decl {
			req.Helpers = append(req.Helpers, other)
		}
	}
	return req
}

// CompileBatch compiles and registers reqs concurrently. Every request is
// attempted; the errors of the failed ones are joined.
func (m *Manager) CompileBatch(ctx context.Context, exec *native.Executor, reqs []Request) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	errs := make([]error, len(reqs))
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			errs[i] = m.RegisterDecl(exec, req.Decl, req.Helpers...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return errors.Join(errs...)
}

// compile builds decl and counts failures. Callers count a success once
// the result is cached or registered.
func (m *Manager) compile(decl *compiler.FunctionDecl, helpers []*compiler.FunctionDecl) (*CompiledFunction, error) {
	start := time.Now()
	cf, err := m.build(decl, helpers)
	elapsed := time.Since(start)
	atomic.AddUint64(&m.compileTimeNano, uint64(elapsed.Nanoseconds()))
	if err != nil {
		atomic.AddUint64(&m.failures, 1)
		log.Warningf("compilation of %s failed: %s", decl.Name, err)
		return nil, err
	}
	cf.CompileTime = elapsed
	log.Debugf("compiled %s in %s", decl.Name, elapsed)
	return cf, nil
}

func (m *Manager) build(decl *compiler.FunctionDecl, helpers []*compiler.FunctionDecl) (*CompiledFunction, error) {
	name := decl.Name
	mod, err := compiler.NewCompiler(name).CompileDecl(decl, helpers...)
	if err != nil {
		return nil, fmt.Errorf("jit: lower %s: %w", name, err)
	}
	report, err := optimizer.New(m.optOptions...).Optimize(mod)
	if err != nil {
		return nil, fmt.Errorf("jit: optimize %s: %w", name, err)
	}

	// Helpers were only needed for inlining; calls to them resolve by name
	// at run time.
	fn := mod.Function(name)
	if fn == nil {
		return nil, fmt.Errorf("jit: lower %s: function missing from module", name)
	}
	mod.Functions = []*ir.Function{fn}

	text, err := native.GenerateLLVM(mod)
	if err != nil {
		return nil, fmt.Errorf("jit: codegen %s: %w", name, err)
	}
	return &CompiledFunction{
		ID:              uuid.New(),
		Name:            name,
		IRText:          text,
		Module:          mod,
		Timestamp:       time.Now(),
		OptimizerReport: report,
		SourceHash:      hash.Fingerprint(decl, helpers),
	}, nil
}

// Stats holds manager statistics.
type Stats struct {
	Compiled         uint64
	Failures         uint64
	Cached           int
	TotalCompileTime time.Duration
}

func (m *Manager) Stats() Stats {
	return Stats{
		Compiled:         atomic.LoadUint64(&m.compiled),
		Failures:         atomic.LoadUint64(&m.failures),
		Cached:           m.cache.Len(),
		TotalCompileTime: time.Duration(atomic.LoadUint64(&m.compileTimeNano)),
	}
}
