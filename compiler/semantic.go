package compiler

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Semantic Analyzer: checks run before evaluation or lowering
// ---------------------------------------------------------------------------

// SemanticAnalyzer checks a program for undefined names, invalid
// assignments, unknown call targets and unreachable code. Messages prefixed
// with "warning:" do not prevent execution.
type SemanticAnalyzer struct {
	messages  []string
	functions map[string]int // name -> arity, -1 for variadic builtins
	scopes    []map[string]bindingKind
}

// Builtins are callable from any program without a declaration.
var Builtins = map[string]int{
	"print": -1,
}

// NewSemanticAnalyzer creates a new semantic analyzer.
func NewSemanticAnalyzer() *SemanticAnalyzer {
	s := &SemanticAnalyzer{functions: make(map[string]int)}
	for name, arity := range Builtins {
		s.functions[name] = arity
	}
	return s
}

// Messages returns accumulated errors and warnings.
func (s *SemanticAnalyzer) Messages() []string {
	return s.messages
}

// Errors returns only the messages that are not warnings.
func (s *SemanticAnalyzer) Errors() []string {
	var errs []string
	for _, m := range s.messages {
		if !strings.HasPrefix(m, "warning:") {
			errs = append(errs, m)
		}
	}
	return errs
}

func (s *SemanticAnalyzer) errorAt(node Node, format string, args ...interface{}) {
	pos := node.Span().Start
	msg := fmt.Sprintf("line %d, column %d: %s", pos.Line, pos.Column, fmt.Sprintf(format, args...))
	s.messages = append(s.messages, msg)
}

func (s *SemanticAnalyzer) warnAt(node Node, format string, args ...interface{}) {
	pos := node.Span().Start
	msg := fmt.Sprintf("warning: line %d, column %d: %s", pos.Line, pos.Column, fmt.Sprintf(format, args...))
	s.messages = append(s.messages, msg)
}

// AnalyzeProgram checks every statement of prog. Top-level statements
// outside functions share one scope.
func (s *SemanticAnalyzer) AnalyzeProgram(prog *Program) {
	for _, fd := range prog.Functions() {
		if _, dup := s.functions[fd.Name]; dup {
			s.errorAt(fd, "function %s redeclared", fd.Name)
			continue
		}
		s.functions[fd.Name] = len(fd.Params)
	}

	s.scopes = []map[string]bindingKind{{}}
	for _, stmt := range prog.Statements {
		if fd, ok := stmt.(*FunctionDecl); ok {
			s.analyzeFunction(fd)
			continue
		}
		s.analyzeStmt(stmt)
	}
	s.checkUnreachableCode(prog.Statements)
}

func (s *SemanticAnalyzer) analyzeFunction(fd *FunctionDecl) {
	outer := s.scopes
	s.scopes = []map[string]bindingKind{{}}
	for _, p := range fd.Params {
		s.scopes[0][p.Name] = bindParam
	}
	s.analyzeStatements(fd.Body)
	s.scopes = outer
}

func (s *SemanticAnalyzer) analyzeStatements(stmts []Stmt) {
	s.scopes = append(s.scopes, map[string]bindingKind{})
	for _, stmt := range stmts {
		s.analyzeStmt(stmt)
	}
	s.checkUnreachableCode(stmts)
	s.scopes = s.scopes[:len(s.scopes)-1]
}

func (s *SemanticAnalyzer) lookup(name string) (bindingKind, bool) {
	for i := len(s.scopes) - 1; i >= 0; i-- {
		if k, ok := s.scopes[i][name]; ok {
			return k, true
		}
	}
	return 0, false
}

func (s *SemanticAnalyzer) analyzeStmt(stmt Stmt) {
	switch st := stmt.(type) {
	case *LetStmt:
		s.analyzeExpr(st.Value)
		s.scopes[len(s.scopes)-1][st.Name] = bindLet
	case *VarStmt:
		s.analyzeExpr(st.Value)
		s.scopes[len(s.scopes)-1][st.Name] = bindVar
	case *AssignStmt:
		s.analyzeExpr(st.Value)
		s.checkAssignmentTarget(st)
	case *ReturnStmt:
		if st.Value != nil {
			s.analyzeExpr(st.Value)
		}
	case *ExprStmt:
		s.analyzeExpr(st.Expr)
	case *IfStmt:
		s.analyzeExpr(st.Cond)
		s.analyzeStatements(st.Then)
		s.analyzeStatements(st.Else)
	case *WhileStmt:
		s.analyzeExpr(st.Cond)
		s.analyzeStatements(st.Body)
	case *FunctionDecl:
		s.errorAt(st, "nested function %s is not supported", st.Name)
	}
}

func (s *SemanticAnalyzer) analyzeExpr(expr Expr) {
	switch e := expr.(type) {
	case *Identifier:
		if _, ok := s.lookup(e.Name); !ok {
			s.errorAt(e, "undefined name '%s'", e.Name)
		}
	case *BinaryExpr:
		s.analyzeExpr(e.Left)
		s.analyzeExpr(e.Right)
	case *UnaryExpr:
		s.analyzeExpr(e.Operand)
	case *CallExpr:
		for _, a := range e.Args {
			s.analyzeExpr(a)
		}
		arity, ok := s.functions[e.Name]
		switch {
		case !ok:
			s.warnAt(e, "call to unknown function '%s'", e.Name)
		case arity >= 0 && arity != len(e.Args):
			s.errorAt(e, "%s expects %d arguments, got %d", e.Name, arity, len(e.Args))
		}
	case *IntLiteral, *FloatLiteral, *StringLiteral, *BoolLiteral, *NilLiteral:
		// OK
	}
}

// checkAssignmentTarget rejects assignment to parameters, let bindings and
// undeclared names.
func (s *SemanticAnalyzer) checkAssignmentTarget(a *AssignStmt) {
	kind, ok := s.lookup(a.Name)
	switch {
	case !ok:
		s.errorAt(a, "assignment to undeclared name '%s'", a.Name)
	case kind == bindParam:
		s.errorAt(a, "cannot assign to parameter '%s'", a.Name)
	case kind == bindLet:
		s.errorAt(a, "cannot assign to immutable '%s'", a.Name)
	}
}

// checkUnreachableCode warns about statements following a return.
func (s *SemanticAnalyzer) checkUnreachableCode(stmts []Stmt) {
	for i, stmt := range stmts {
		if _, isReturn := stmt.(*ReturnStmt); isReturn && i < len(stmts)-1 {
			s.warnAt(stmts[i+1], "unreachable code after return")
			return // Only warn once
		}
	}
}

// Analyze runs semantic analysis on a program and returns its messages.
func Analyze(prog *Program) []string {
	analyzer := NewSemanticAnalyzer()
	analyzer.AnalyzeProgram(prog)
	return analyzer.Messages()
}
