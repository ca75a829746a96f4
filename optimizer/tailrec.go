package optimizer

import "github.com/chazu/aurora/ir"

// ---------------------------------------------------------------------------
// Tail-recursion detection
// ---------------------------------------------------------------------------

// TailRecursionPass finds blocks that end by returning the result of a call
// to the enclosing function.
type TailRecursionPass struct {
	// Sites maps a function name to its tail-call blocks.
	Sites map[string][]ir.BlockID
}

// NewTailRecursionPass creates an empty detector.
func NewTailRecursionPass() *TailRecursionPass {
	return &TailRecursionPass{Sites: make(map[string][]ir.BlockID)}
}

func (p *TailRecursionPass) Name() string { return "tail-recursion" }

// Run records tail sites. It never changes the module.
func (p *TailRecursionPass) Run(m *ir.Module) (bool, error) {
	p.Sites = make(map[string][]ir.BlockID)
	for _, fn := range m.Functions {
		if sites := tailSites(fn); len(sites) > 0 {
			p.Sites[fn.Name] = sites
		}
	}
	return false, nil
}

// IsTailRecursive reports whether name had at least one tail site.
func (p *TailRecursionPass) IsTailRecursive(name string) bool {
	_, ok := p.Sites[name]
	return ok
}

// tailSites returns the blocks of fn whose terminator returns register r
// and whose last instruction is a self call defining r.
func tailSites(fn *ir.Function) []ir.BlockID {
	var sites []ir.BlockID
	for _, b := range fn.Blocks {
		if isTailSite(fn, b) {
			sites = append(sites, b.ID)
		}
	}
	return sites
}

func isTailSite(fn *ir.Function, b *ir.BasicBlock) bool {
	ret, ok := b.Term.(*ir.Return)
	if !ok || !ret.HasValue || !ret.Value.IsReg() || len(b.Instructions) == 0 {
		return false
	}
	call, ok := b.Instructions[len(b.Instructions)-1].(*ir.Call)
	return ok && call.Func == fn.Name && call.Dest == ret.Value.Reg
}
