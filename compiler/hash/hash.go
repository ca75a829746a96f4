// Package hash computes content hashes of function declarations.
package hash

import (
	"crypto/sha256"
	"sort"

	"github.com/chazu/aurora/compiler"
)

// HashFunction computes the SHA-256 content hash of a function declaration.
//
// The hash is computed over a deterministic serialization of the
// function's normalized AST with de Bruijn variable indexing. Renaming
// parameters or locals does not change it; renaming the function does.
func HashFunction(decl *compiler.FunctionDecl) [32]byte {
	return sha256.Sum256(Serialize(NormalizeFunction(decl)))
}

// Fingerprint hashes decl together with every function among helpers it
// reaches through calls, directly or transitively. Helpers it never calls
// do not affect the result.
func Fingerprint(decl *compiler.FunctionDecl, helpers []*compiler.FunctionDecl) [32]byte {
	byName := make(map[string]*compiler.FunctionDecl, len(helpers))
	for _, h := range helpers {
		if h != nil && h.Name != decl.Name {
			byName[h.Name] = h
		}
	}

	root := NormalizeFunction(decl)
	reached := map[string]*HFunction{}
	queue := []*HFunction{root}
	for len(queue) > 0 {
		fn := queue[0]
		queue = queue[1:]
		for _, name := range callees(fn) {
			h, ok := byName[name]
			if !ok || reached[name] != nil {
				continue
			}
			reached[name] = NormalizeFunction(h)
			queue = append(queue, reached[name])
		}
	}

	names := make([]string, 0, len(reached))
	for name := range reached {
		names = append(names, name)
	}
	sort.Strings(names)

	sum := sha256.New()
	sum.Write(Serialize(root))
	for _, name := range names {
		sum.Write(Serialize(reached[name]))
	}
	var out [32]byte
	copy(out[:], sum.Sum(nil))
	return out
}

// callees returns the names fn calls, in first-call order.
func callees(fn *HFunction) []string {
	var names []string
	seen := map[string]bool{}
	var walk func(HNode)
	walkAll := func(nodes []HNode) {
		for _, n := range nodes {
			walk(n)
		}
	}
	walk = func(node HNode) {
		switch n := node.(type) {
		case *HCall:
			if !seen[n.Name] {
				seen[n.Name] = true
				names = append(names, n.Name)
			}
			walkAll(n.Args)
		case *HBinary:
			walk(n.Left)
			walk(n.Right)
		case *HUnary:
			walk(n.Operand)
		case *HLet:
			walk(n.Value)
		case *HAssign:
			walk(n.Value)
		case *HReturn:
			if n.Value != nil {
				walk(n.Value)
			}
		case *HExprStmt:
			walk(n.Expr)
		case *HIf:
			walk(n.Cond)
			walkAll(n.Then)
			walkAll(n.Else)
		case *HWhile:
			walk(n.Cond)
			walkAll(n.Body)
		}
	}
	walkAll(fn.Body)
	return names
}
