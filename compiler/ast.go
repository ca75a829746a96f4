package compiler

// ---------------------------------------------------------------------------
// AST
// ---------------------------------------------------------------------------

// Position represents a source location.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number
}

// Span represents a range in source code.
type Span struct {
	Start Position
	End   Position
}

// MakeSpan creates a span from start and end positions.
func MakeSpan(start, end Position) Span {
	return Span{Start: start, End: end}
}

// Node is the interface implemented by all AST nodes.
type Node interface {
	Span() Span
	node() // marker method
}

// ---------------------------------------------------------------------------
// Expression nodes
// ---------------------------------------------------------------------------

// Expr is the interface for expression nodes.
type Expr interface {
	Node
	expr() // marker method
}

// IntLiteral represents an integer literal.
type IntLiteral struct {
	SpanVal Span
	Value   int64
}

// FloatLiteral represents a floating-point literal.
type FloatLiteral struct {
	SpanVal Span
	Value   float64
}

// StringLiteral represents a string literal.
type StringLiteral struct {
	SpanVal Span
	Value   string
}

// BoolLiteral represents true or false.
type BoolLiteral struct {
	SpanVal Span
	Value   bool
}

// NilLiteral represents nil.
type NilLiteral struct {
	SpanVal Span
}

// Identifier references a parameter or local binding.
type Identifier struct {
	SpanVal Span
	Name    string
}

// BinaryExpr represents `Left Op Right`.
type BinaryExpr struct {
	SpanVal Span
	Op      Operator
	Left    Expr
	Right   Expr
}

// UnaryExpr represents `-x` or `!x`.
type UnaryExpr struct {
	SpanVal Span
	Op      Operator
	Operand Expr
}

// CallExpr calls a named function.
type CallExpr struct {
	SpanVal Span
	Name    string
	Args    []Expr
}

func (n *IntLiteral) Span() Span    { return n.SpanVal }
func (n *FloatLiteral) Span() Span  { return n.SpanVal }
func (n *StringLiteral) Span() Span { return n.SpanVal }
func (n *BoolLiteral) Span() Span   { return n.SpanVal }
func (n *NilLiteral) Span() Span    { return n.SpanVal }
func (n *Identifier) Span() Span    { return n.SpanVal }
func (n *BinaryExpr) Span() Span    { return n.SpanVal }
func (n *UnaryExpr) Span() Span     { return n.SpanVal }
func (n *CallExpr) Span() Span      { return n.SpanVal }

func (n *IntLiteral) node()    {}
func (n *FloatLiteral) node()  {}
func (n *StringLiteral) node() {}
func (n *BoolLiteral) node()   {}
func (n *NilLiteral) node()    {}
func (n *Identifier) node()    {}
func (n *BinaryExpr) node()    {}
func (n *UnaryExpr) node()     {}
func (n *CallExpr) node()      {}

func (n *IntLiteral) expr()    {}
func (n *FloatLiteral) expr()  {}
func (n *StringLiteral) expr() {}
func (n *BoolLiteral) expr()   {}
func (n *NilLiteral) expr()    {}
func (n *Identifier) expr()    {}
func (n *BinaryExpr) expr()    {}
func (n *UnaryExpr) expr()     {}
func (n *CallExpr) expr()      {}

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

// Operator is a binary or unary operator of the surface language.
type Operator int

const (
	OpAdd Operator = iota
	OpSub
	OpMul
	OpDiv
	OpRem
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
	OpXor
	OpNeg
	OpNot
)

var operatorNames = [...]string{
	OpAdd: "+",
	OpSub: "-",
	OpMul: "*",
	OpDiv: "/",
	OpRem: "%",
	OpEq:  "==",
	OpNe:  "!=",
	OpLt:  "<",
	OpLe:  "<=",
	OpGt:  ">",
	OpGe:  ">=",
	OpAnd: "&&",
	OpOr:  "||",
	OpXor: "^",
	OpNeg: "-",
	OpNot: "!",
}

func (op Operator) String() string {
	if op >= 0 && int(op) < len(operatorNames) {
		return operatorNames[op]
	}
	return "?"
}

// ---------------------------------------------------------------------------
// Statement nodes
// ---------------------------------------------------------------------------

// Stmt is the interface for statement nodes.
type Stmt interface {
	Node
	stmt() // marker method
}

// LetStmt binds an immutable name.
type LetStmt struct {
	SpanVal Span
	Name    string
	Value   Expr
}

// VarStmt declares a mutable local.
type VarStmt struct {
	SpanVal Span
	Name    string
	Value   Expr
}

// AssignStmt assigns to an existing mutable local.
type AssignStmt struct {
	SpanVal Span
	Name    string
	Value   Expr
}

// ReturnStmt returns from the enclosing function. Value may be nil.
type ReturnStmt struct {
	SpanVal Span
	Value   Expr
}

// ExprStmt evaluates an expression for its side effects.
type ExprStmt struct {
	SpanVal Span
	Expr    Expr
}

// IfStmt is a two-armed conditional. Else may be empty.
type IfStmt struct {
	SpanVal Span
	Cond    Expr
	Then    []Stmt
	Else    []Stmt
}

// WhileStmt loops while Cond holds.
type WhileStmt struct {
	SpanVal Span
	Cond    Expr
	Body    []Stmt
}

// Param is a function parameter with an optional type annotation.
type Param struct {
	Name string
	Type string
}

// FunctionDecl declares a named function.
type FunctionDecl struct {
	SpanVal    Span
	Name       string
	Params     []Param
	ReturnType string // empty when not annotated
	Body       []Stmt
}

// ParamNames returns the parameter names in order.
func (n *FunctionDecl) ParamNames() []string {
	names := make([]string, len(n.Params))
	for i, p := range n.Params {
		names[i] = p.Name
	}
	return names
}

func (n *LetStmt) Span() Span      { return n.SpanVal }
func (n *VarStmt) Span() Span      { return n.SpanVal }
func (n *AssignStmt) Span() Span   { return n.SpanVal }
func (n *ReturnStmt) Span() Span   { return n.SpanVal }
func (n *ExprStmt) Span() Span     { return n.SpanVal }
func (n *IfStmt) Span() Span       { return n.SpanVal }
func (n *WhileStmt) Span() Span    { return n.SpanVal }
func (n *FunctionDecl) Span() Span { return n.SpanVal }

func (n *LetStmt) node()      {}
func (n *VarStmt) node()      {}
func (n *AssignStmt) node()   {}
func (n *ReturnStmt) node()   {}
func (n *ExprStmt) node()     {}
func (n *IfStmt) node()       {}
func (n *WhileStmt) node()    {}
func (n *FunctionDecl) node() {}

func (n *LetStmt) stmt()      {}
func (n *VarStmt) stmt()      {}
func (n *AssignStmt) stmt()   {}
func (n *ReturnStmt) stmt()   {}
func (n *ExprStmt) stmt()     {}
func (n *IfStmt) stmt()       {}
func (n *WhileStmt) stmt()    {}
func (n *FunctionDecl) stmt() {}

// Program is a parsed source file.
type Program struct {
	Statements []Stmt
}

// Functions returns the top-level function declarations in source order.
func (p *Program) Functions() []*FunctionDecl {
	var fns []*FunctionDecl
	for _, s := range p.Statements {
		if fd, ok := s.(*FunctionDecl); ok {
			fns = append(fns, fd)
		}
	}
	return fns
}
