// Package optimizer runs a fixed pipeline of IR transformations over a
// module: tail-recursion detection, constant folding, dead-code
// elimination, inlining, tail-call-to-loop conversion and loop detection.
package optimizer

import (
	"fmt"
	"sort"

	"github.com/chazu/aurora/ir"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("aurora.optimizer")

// Pass is one transformation over a module. Run mutates the module in
// place and reports whether anything changed.
type Pass interface {
	Name() string
	Run(m *ir.Module) (bool, error)
}

// Default inlining limits.
const (
	DefaultInlineMaxInstructions = 5
	DefaultInlineMaxBlocks       = 2
)

// PassResult records whether one pass changed the module.
type PassResult struct {
	Name    string
	Changed bool
}

// Loop is a back edge found by loop detection.
type Loop struct {
	Function string
	Header   ir.BlockID
	Latch    ir.BlockID
}

// Report summarizes one optimizer run.
type Report struct {
	Passes        []PassResult
	TailRecursive []string
	Folded        int
	Removed       int
	Inlined       int
	TailLoops     int
	Loops         []Loop
}

// Changed reports whether any pass changed the module.
func (r *Report) Changed() bool {
	for _, p := range r.Passes {
		if p.Changed {
			return true
		}
	}
	return false
}

func (r *Report) String() string {
	return fmt.Sprintf("folded=%d removed=%d inlined=%d tail-loops=%d loops=%d",
		r.Folded, r.Removed, r.Inlined, r.TailLoops, len(r.Loops))
}

// Optimizer owns the pass pipeline.
type Optimizer struct {
	inlineMaxInstructions int
	inlineMaxBlocks       int
	verify                bool

	tail   *TailRecursionPass
	fold   *ConstantFoldingPass
	dce    *DeadCodePass
	inline *InliningPass
	loop   *TailCallToLoopPass
	loops  *LoopDetectionPass
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithInlineLimits overrides the size limits for inlining candidates.
func WithInlineLimits(maxInstructions, maxBlocks int) Option {
	return func(o *Optimizer) {
		o.inlineMaxInstructions = maxInstructions
		o.inlineMaxBlocks = maxBlocks
	}
}

// WithVerify enables or disables IR verification after every changing pass.
func WithVerify(verify bool) Option {
	return func(o *Optimizer) {
		o.verify = verify
	}
}

// New creates an optimizer with the default pipeline.
func New(opts ...Option) *Optimizer {
	o := &Optimizer{
		inlineMaxInstructions: DefaultInlineMaxInstructions,
		inlineMaxBlocks:       DefaultInlineMaxBlocks,
		verify:                true,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.tail = NewTailRecursionPass()
	o.fold = &ConstantFoldingPass{}
	o.dce = &DeadCodePass{}
	o.inline = &InliningPass{
		MaxInstructions: o.inlineMaxInstructions,
		MaxBlocks:       o.inlineMaxBlocks,
		tail:            o.tail,
	}
	o.loop = &TailCallToLoopPass{tail: o.tail}
	o.loops = &LoopDetectionPass{}
	return o
}

// Passes returns the pipeline in execution order.
func (o *Optimizer) Passes() []Pass {
	return []Pass{o.tail, o.fold, o.dce, o.inline, o.loop, o.loops}
}

// TailRecursive reports whether the last run found name to be tail
// recursive.
func (o *Optimizer) TailRecursive(name string) bool {
	return o.tail.IsTailRecursive(name)
}

// Optimize runs every pass once, in order.
func (o *Optimizer) Optimize(m *ir.Module) (*Report, error) {
	report := &Report{}
	for _, pass := range o.Passes() {
		changed, err := pass.Run(m)
		if err != nil {
			return report, fmt.Errorf("optimizer: pass %s: %w", pass.Name(), err)
		}
		report.Passes = append(report.Passes, PassResult{Name: pass.Name(), Changed: changed})
		log.Debugf("%s: pass %s changed=%t", m.Name, pass.Name(), changed)
		if changed && o.verify {
			if err := ir.VerifyModule(m); err != nil {
				return report, fmt.Errorf("optimizer: pass %s produced invalid IR: %w", pass.Name(), err)
			}
		}
	}

	for name := range o.tail.Sites {
		report.TailRecursive = append(report.TailRecursive, name)
	}
	sort.Strings(report.TailRecursive)
	report.Folded = o.fold.Folded
	report.Removed = o.dce.Removed
	report.Inlined = o.inline.Inlined
	report.TailLoops = o.loop.Converted
	report.Loops = append(report.Loops, o.loops.Loops...)
	return report, nil
}
