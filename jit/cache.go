package jit

import (
	"sort"
	"sync"
	"time"

	"github.com/chazu/aurora/ir"
	"github.com/chazu/aurora/optimizer"
	"github.com/google/uuid"
)

// CompiledFunction is one cache entry. It is not modified after insertion.
type CompiledFunction struct {
	ID   uuid.UUID
	Name string
	// IRText is the LLVM IR text generated for the function.
	IRText string
	// Module holds the optimized IR the native code was generated from.
	Module          *ir.Module
	Timestamp       time.Time
	CompileTime     time.Duration
	OptimizerReport *optimizer.Report
	// SourceHash fingerprints the declaration and the helpers it reaches.
	SourceHash [32]byte
}

// Cache holds compiled functions by name. The last write for a name wins.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*CompiledFunction
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*CompiledFunction)}
}

func (c *Cache) Get(name string) (*CompiledFunction, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cf, ok := c.entries[name]
	return cf, ok
}

func (c *Cache) Put(cf *CompiledFunction) {
	c.mu.Lock()
	c.entries[cf.Name] = cf
	c.mu.Unlock()
}

func (c *Cache) Remove(name string) {
	c.mu.Lock()
	delete(c.entries, name)
	c.mu.Unlock()
}

func (c *Cache) Contains(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[name]
	return ok
}

// All returns every entry sorted by name.
func (c *Cache) All() []*CompiledFunction {
	c.mu.RLock()
	all := make([]*CompiledFunction, 0, len(c.entries))
	for _, cf := range c.entries {
		all = append(all, cf)
	}
	c.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all
}

func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*CompiledFunction)
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
