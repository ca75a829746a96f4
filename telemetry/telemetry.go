// Package telemetry aggregates per-function call counts and timings and
// keeps a bounded log of runtime events. The JIT reads the aggregates to
// decide which functions are hot.
package telemetry

import (
	"sort"
	"sync"
	"time"
)

// DefaultMaxEvents bounds the event log; the oldest events are dropped.
const DefaultMaxEvents = 10000

// EventKind identifies what an Event records.
type EventKind int

const (
	EventCall EventKind = iota
	EventCompilation
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventCall:
		return "call"
	case EventCompilation:
		return "compilation"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event is one recorded occurrence.
type Event struct {
	Time     time.Time
	Kind     EventKind
	Function string
	// DurationUs is set for calls.
	DurationUs uint64
	// Detail is the compilation reason or the error message.
	Detail string
}

// FunctionStats aggregates the calls of one function.
type FunctionStats struct {
	Name                 string
	TotalCalls           uint64
	TotalExecutionTimeUs uint64
	AvgExecutionTimeUs   uint64
}

// Summary describes the collected data at a glance.
type Summary struct {
	TotalEvents    int
	TotalFunctions int
	// MostCalled and Hottest are empty when nothing was recorded.
	MostCalled string
	Hottest    string
}

// Collector records calls, compilations and errors. It is safe for
// concurrent use.
type Collector struct {
	mu        sync.RWMutex
	enabled   bool
	maxEvents int
	events    []Event
	functions map[string]*FunctionStats
}

// Option configures a Collector.
type Option func(*Collector)

// WithMaxEvents bounds the event log. Zero or less keeps every event.
func WithMaxEvents(n int) Option {
	return func(c *Collector) { c.maxEvents = n }
}

// NewCollector creates an enabled collector.
func NewCollector(opts ...Option) *Collector {
	c := &Collector{
		enabled:   true,
		maxEvents: DefaultMaxEvents,
		functions: make(map[string]*FunctionStats),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Collector) Enable() {
	c.mu.Lock()
	c.enabled = true
	c.mu.Unlock()
}

func (c *Collector) Disable() {
	c.mu.Lock()
	c.enabled = false
	c.mu.Unlock()
}

func (c *Collector) Enabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// RecordCall adds one call of name that took d.
func (c *Collector) RecordCall(name string, d time.Duration) {
	us := uint64(d.Microseconds())
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	c.append(Event{Time: time.Now(), Kind: EventCall, Function: name, DurationUs: us})

	st, ok := c.functions[name]
	if !ok {
		st = &FunctionStats{Name: name}
		c.functions[name] = st
	}
	st.TotalCalls++
	st.TotalExecutionTimeUs += us
	st.AvgExecutionTimeUs = st.TotalExecutionTimeUs / st.TotalCalls
}

// RecordCompilation notes that name was compiled, e.g. because it became
// hot.
func (c *Collector) RecordCompilation(name, reason string) {
	c.record(Event{Time: time.Now(), Kind: EventCompilation, Function: name, Detail: reason})
}

// RecordError notes a failure attributed to name.
func (c *Collector) RecordError(name string, err error) {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	c.record(Event{Time: time.Now(), Kind: EventError, Function: name, Detail: detail})
}

func (c *Collector) record(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled {
		c.append(e)
	}
}

// append must be called with the lock held.
func (c *Collector) append(e Event) {
	c.events = append(c.events, e)
	if c.maxEvents > 0 && len(c.events) > c.maxEvents {
		n := copy(c.events, c.events[len(c.events)-c.maxEvents:])
		c.events = c.events[:n]
	}
}

// FunctionStats returns the aggregate for name.
func (c *Collector) FunctionStats(name string) (FunctionStats, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.functions[name]
	if !ok {
		return FunctionStats{Name: name}, false
	}
	return *st, true
}

// AllFunctionStats returns a copy of every aggregate, keyed by name.
func (c *Collector) AllFunctionStats() map[string]FunctionStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]FunctionStats, len(c.functions))
	for name, st := range c.functions {
		out[name] = *st
	}
	return out
}

// HotPaths returns the functions with at least minCalls calls or an
// average of at least minAvgUs microseconds, sorted by name.
func (c *Collector) HotPaths(minCalls, minAvgUs uint64) []FunctionStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var hot []FunctionStats
	for _, st := range c.functions {
		if st.TotalCalls >= minCalls || st.AvgExecutionTimeUs >= minAvgUs {
			hot = append(hot, *st)
		}
	}
	sort.Slice(hot, func(i, j int) bool { return hot[i].Name < hot[j].Name })
	return hot
}

// TopFunctions returns the n most called functions, most called first.
func (c *Collector) TopFunctions(n int) []FunctionStats {
	c.mu.RLock()
	all := make([]FunctionStats, 0, len(c.functions))
	for _, st := range c.functions {
		all = append(all, *st)
	}
	c.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].TotalCalls != all[j].TotalCalls {
			return all[i].TotalCalls > all[j].TotalCalls
		}
		return all[i].Name < all[j].Name
	})
	if n < 0 {
		n = 0
	}
	if n < len(all) {
		all = all[:n]
	}
	return all
}

// Events returns a copy of the event log, oldest first.
func (c *Collector) Events() []Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Event(nil), c.events...)
}

// Summary reports event and function counts plus the most called and the
// slowest function on average. Ties go to the name that sorts first.
func (c *Collector) Summary() Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Summary{TotalEvents: len(c.events), TotalFunctions: len(c.functions)}
	var mostCalls, hottestAvg uint64
	for name, st := range c.functions {
		if s.MostCalled == "" || st.TotalCalls > mostCalls || (st.TotalCalls == mostCalls && name < s.MostCalled) {
			s.MostCalled, mostCalls = name, st.TotalCalls
		}
		if s.Hottest == "" || st.AvgExecutionTimeUs > hottestAvg || (st.AvgExecutionTimeUs == hottestAvg && name < s.Hottest) {
			s.Hottest, hottestAvg = name, st.AvgExecutionTimeUs
		}
	}
	return s
}

// Reset clears every event and aggregate.
func (c *Collector) Reset() {
	c.mu.Lock()
	c.events = nil
	c.functions = make(map[string]*FunctionStats)
	c.mu.Unlock()
}
