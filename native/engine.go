// Package native turns optimized IR functions into in-process executable
// entry points. Every value in compiled code is a uniform 64-bit integer;
// booleans are 0 or 1.
package native

import (
	"errors"
	"sync"

	"github.com/chazu/aurora/value"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("aurora.native")

var (
	// ErrNoNative is returned when no native entry point is registered.
	ErrNoNative = errors.New("native: no native code")

	// ErrDisabled is returned while native execution is switched off.
	ErrDisabled = errors.New("native: execution disabled")

	// ErrUnsupportedValue is returned for values compiled code cannot
	// represent: floats, strings and undefined operands.
	ErrUnsupportedValue = errors.New("native: unsupported value")

	// ErrClosed is returned after the engine has been torn down.
	ErrClosed = errors.New("native: engine closed")
)

// Caller invokes a function by name. Compiled code uses it for callees that
// have no native entry point.
type Caller interface {
	Call(name string, args []value.Value) (value.Value, error)
}

// CallerFunc adapts a function to Caller.
type CallerFunc func(name string, args []value.Value) (value.Value, error)

func (f CallerFunc) Call(name string, args []value.Value) (value.Value, error) {
	return f(name, args)
}

// DepthCaller is a Caller that continues the call depth of native code, so
// a chain of native and interpreted calls stays within MaxCallDepth.
type DepthCaller interface {
	Caller
	CallAt(depth int, name string, args []value.Value) (value.Value, error)
}

// ---------------------------------------------------------------------------
// Context: symbol table of generated code
// ---------------------------------------------------------------------------

// Context holds every generated entry point by name. Compiled calls are
// resolved against it at call time.
type Context struct {
	mu       sync.RWMutex
	symbols  map[string]*Code
	fallback Caller
	closed   bool
}

// NewContext creates an empty context.
func NewContext() *Context {
	return &Context{symbols: make(map[string]*Code)}
}

// Lookup returns the entry point registered under name.
func (c *Context) Lookup(name string) (*Code, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	code, ok := c.symbols[name]
	return code, ok
}

// Define registers code under its name, replacing any previous entry.
func (c *Context) Define(code *Code) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.symbols[code.Name] = code
	return nil
}

// Names returns the registered symbol names.
func (c *Context) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.symbols))
	for name := range c.symbols {
		names = append(names, name)
	}
	return names
}

// Clear removes every symbol.
func (c *Context) Clear() {
	c.mu.Lock()
	c.symbols = make(map[string]*Code)
	c.mu.Unlock()
}

// SetFallback sets the caller used for callees without native code.
func (c *Context) SetFallback(caller Caller) {
	c.mu.Lock()
	c.fallback = caller
	c.mu.Unlock()
}

// Fallback returns the configured fallback caller, or nil.
func (c *Context) Fallback() Caller {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fallback
}

// Close drops every symbol. A closed context rejects new definitions.
func (c *Context) Close() {
	c.mu.Lock()
	c.symbols = nil
	c.fallback = nil
	c.closed = true
	c.mu.Unlock()
}

func (c *Context) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// ---------------------------------------------------------------------------
// Engine: owns the context and the backend built on it
// ---------------------------------------------------------------------------

// Engine owns a Context and the Backend that generates code into it. The
// backend must not outlive the context, so Close tears it down first.
type Engine struct {
	ctx     *Context
	backend *Backend
}

// NewEngine creates a context and a backend bound to it.
func NewEngine() (*Engine, error) {
	ctx := NewContext()
	backend, err := NewBackend(ctx)
	if err != nil {
		ctx.Close()
		return nil, err
	}
	return &Engine{ctx: ctx, backend: backend}, nil
}

func (e *Engine) Context() *Context { return e.ctx }
func (e *Engine) Backend() *Backend { return e.backend }

// Close shuts down the backend, then the context.
func (e *Engine) Close() {
	if e.backend != nil {
		e.backend.Close()
		e.backend = nil
	}
	if e.ctx != nil {
		e.ctx.Close()
		e.ctx = nil
	}
}
