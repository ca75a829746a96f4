package hash

// ---------------------------------------------------------------------------
// Frozen hashing AST types.
//
// These are stripped-down parallels of compiler/ast.go with no Span/position
// data and de Bruijn indices instead of local names. Two functions with the
// same body, ignoring local names, produce identical hashing ASTs.
// ---------------------------------------------------------------------------

// HNode is the interface implemented by all hashing AST nodes.
type HNode interface {
	hnode() // marker method
}

type HIntLiteral struct{ Value int64 }
type HFloatLiteral struct{ Value float64 }
type HStringLiteral struct{ Value string }
type HBoolLiteral struct{ Value bool }
type HNilLiteral struct{}

// HLocalRef references a parameter or local by de Bruijn indices.
// ScopeDepth 0 = current scope, 1 = one enclosing scope up, etc.
type HLocalRef struct {
	ScopeDepth uint16
	SlotIndex  uint16
}

// HGlobalRef is a name no enclosing scope binds.
type HGlobalRef struct {
	Name string
}

type HBinary struct {
	Op          byte
	Left, Right HNode
}

type HUnary struct {
	Op      byte
	Operand HNode
}

// HCall keeps the callee by name; callees are hashed on their own.
type HCall struct {
	Name string
	Args []HNode
}

// HLet declares the next slot of the current scope.
type HLet struct {
	Mutable bool
	Value   HNode
}

type HAssign struct {
	Target HNode
	Value  HNode
}

// HReturn has a nil Value for a bare return.
type HReturn struct {
	Value HNode
}

type HExprStmt struct {
	Expr HNode
}

type HIf struct {
	Cond       HNode
	Then, Else []HNode
}

type HWhile struct {
	Cond HNode
	Body []HNode
}

// HFunction is the root of a normalized function declaration.
type HFunction struct {
	Name       string
	ParamTypes []string
	ReturnType string
	Body       []HNode
}

func (*HIntLiteral) hnode()    {}
func (*HFloatLiteral) hnode()  {}
func (*HStringLiteral) hnode() {}
func (*HBoolLiteral) hnode()   {}
func (*HNilLiteral) hnode()    {}
func (*HLocalRef) hnode()      {}
func (*HGlobalRef) hnode()     {}
func (*HBinary) hnode()        {}
func (*HUnary) hnode()         {}
func (*HCall) hnode()          {}
func (*HLet) hnode()           {}
func (*HAssign) hnode()        {}
func (*HReturn) hnode()        {}
func (*HExprStmt) hnode()      {}
func (*HIf) hnode()            {}
func (*HWhile) hnode()         {}
func (*HFunction) hnode()      {}
