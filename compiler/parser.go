package compiler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Parser: recursive descent
// ---------------------------------------------------------------------------

// Parser parses source code into an AST.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token
	errors    []string
}

// NewParser creates a new parser for the given input.
func NewParser(input string) *Parser {
	p := &Parser{lexer: NewLexer(input)}
	// Read two tokens to fill curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

// Parse parses a whole source file and returns the first error, if any.
func Parse(input string) (*Program, error) {
	p := NewParser(input)
	prog := p.ParseProgram()
	if errs := p.Errors(); len(errs) > 0 {
		return prog, errors.New("parse error: " + strings.Join(errs, "; "))
	}
	return prog, nil
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
}

func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

func (p *Parser) peekTokenIs(t TokenType) bool {
	return p.peekToken.Type == t
}

// expect advances if the current token matches, otherwise records an error.
func (p *Parser) expect(t TokenType) bool {
	if p.curTokenIs(t) {
		p.nextToken()
		return true
	}
	p.errorf("expected %s, got %s", t, p.curToken)
	return false
}

// errorf records a parse error.
func (p *Parser) errorf(format string, args ...interface{}) {
	msg := fmt.Sprintf("line %d:%d: %s", p.curToken.Pos.Line, p.curToken.Pos.Column, fmt.Sprintf(format, args...))
	p.errors = append(p.errors, msg)
}

// Errors returns accumulated parse errors.
func (p *Parser) Errors() []string {
	return p.errors
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// ParseProgram parses statements until EOF.
func (p *Parser) ParseProgram() *Program {
	prog := &Program{}
	for !p.curTokenIs(TokenEOF) {
		before := p.curToken
		stmt := p.ParseStatement()
		if stmt != nil {
			prog.Statements = append(prog.Statements, stmt)
		}
		// Resynchronize after an error that consumed nothing.
		if p.curToken == before {
			p.nextToken()
		}
	}
	return prog
}

// ParseStatement parses a single statement, including its optional
// trailing semicolon.
func (p *Parser) ParseStatement() Stmt {
	var stmt Stmt
	switch p.curToken.Type {
	case TokenFn:
		return p.parseFunctionDecl()
	case TokenIf:
		return p.parseIf()
	case TokenWhile:
		return p.parseWhile()
	case TokenLet:
		stmt = p.parseBinding(true)
	case TokenVar:
		stmt = p.parseBinding(false)
	case TokenReturn:
		stmt = p.parseReturn()
	case TokenIdentifier:
		if p.peekTokenIs(TokenAssign) {
			stmt = p.parseAssign()
		} else {
			stmt = p.parseExprStmt()
		}
	case TokenError:
		p.errorf("%s", p.curToken.Literal)
		p.nextToken()
		return nil
	default:
		stmt = p.parseExprStmt()
	}
	if p.curTokenIs(TokenSemicolon) {
		p.nextToken()
	}
	return stmt
}

// parseBlock parses `{ stmt* }`.
func (p *Parser) parseBlock() []Stmt {
	if !p.expect(TokenLBrace) {
		return nil
	}
	var stmts []Stmt
	for !p.curTokenIs(TokenRBrace) && !p.curTokenIs(TokenEOF) {
		before := p.curToken
		if s := p.ParseStatement(); s != nil {
			stmts = append(stmts, s)
		}
		if p.curToken == before {
			p.nextToken()
		}
	}
	p.expect(TokenRBrace)
	return stmts
}

func (p *Parser) parseFunctionDecl() Stmt {
	start := p.curToken.Pos
	p.nextToken() // fn

	if !p.curTokenIs(TokenIdentifier) {
		p.errorf("expected function name, got %s", p.curToken)
		return nil
	}
	decl := &FunctionDecl{Name: p.curToken.Literal}
	p.nextToken()

	if !p.expect(TokenLParen) {
		return nil
	}
	for !p.curTokenIs(TokenRParen) {
		if !p.curTokenIs(TokenIdentifier) {
			p.errorf("expected parameter name, got %s", p.curToken)
			return nil
		}
		param := Param{Name: p.curToken.Literal}
		p.nextToken()
		if p.curTokenIs(TokenColon) {
			p.nextToken()
			if !p.curTokenIs(TokenIdentifier) {
				p.errorf("expected parameter type, got %s", p.curToken)
				return nil
			}
			param.Type = p.curToken.Literal
			p.nextToken()
		}
		decl.Params = append(decl.Params, param)
		if p.curTokenIs(TokenComma) {
			p.nextToken()
		} else if !p.curTokenIs(TokenRParen) {
			p.errorf("expected , or ) in parameter list, got %s", p.curToken)
			return nil
		}
	}
	p.nextToken() // )

	if p.curTokenIs(TokenArrow) {
		p.nextToken()
		if !p.curTokenIs(TokenIdentifier) {
			p.errorf("expected return type, got %s", p.curToken)
			return nil
		}
		decl.ReturnType = p.curToken.Literal
		p.nextToken()
	}

	decl.Body = p.parseBlock()
	decl.SpanVal = MakeSpan(start, p.curToken.Pos)
	return decl
}

func (p *Parser) parseIf() Stmt {
	start := p.curToken.Pos
	p.nextToken() // if

	s := &IfStmt{Cond: p.ParseExpression()}
	if s.Cond == nil {
		return nil
	}
	s.Then = p.parseBlock()
	if p.curTokenIs(TokenElse) {
		p.nextToken()
		if p.curTokenIs(TokenIf) {
			if nested := p.parseIf(); nested != nil {
				s.Else = []Stmt{nested}
			}
		} else {
			s.Else = p.parseBlock()
		}
	}
	s.SpanVal = MakeSpan(start, p.curToken.Pos)
	return s
}

func (p *Parser) parseWhile() Stmt {
	start := p.curToken.Pos
	p.nextToken() // while

	s := &WhileStmt{Cond: p.ParseExpression()}
	if s.Cond == nil {
		return nil
	}
	s.Body = p.parseBlock()
	s.SpanVal = MakeSpan(start, p.curToken.Pos)
	return s
}

func (p *Parser) parseBinding(immutable bool) Stmt {
	start := p.curToken.Pos
	p.nextToken() // let / var

	if !p.curTokenIs(TokenIdentifier) {
		p.errorf("expected name, got %s", p.curToken)
		return nil
	}
	name := p.curToken.Literal
	p.nextToken()
	// Type annotations on bindings are accepted and ignored.
	if p.curTokenIs(TokenColon) {
		p.nextToken()
		p.expect(TokenIdentifier)
	}
	if !p.expect(TokenAssign) {
		return nil
	}
	value := p.ParseExpression()
	if value == nil {
		return nil
	}
	span := MakeSpan(start, value.Span().End)
	if immutable {
		return &LetStmt{SpanVal: span, Name: name, Value: value}
	}
	return &VarStmt{SpanVal: span, Name: name, Value: value}
}

func (p *Parser) parseAssign() Stmt {
	start := p.curToken.Pos
	name := p.curToken.Literal
	p.nextToken() // name
	p.nextToken() // =
	value := p.ParseExpression()
	if value == nil {
		return nil
	}
	return &AssignStmt{SpanVal: MakeSpan(start, value.Span().End), Name: name, Value: value}
}

func (p *Parser) parseReturn() Stmt {
	start := p.curToken.Pos
	p.nextToken() // return

	if p.curTokenIs(TokenSemicolon) || p.curTokenIs(TokenRBrace) || p.curTokenIs(TokenEOF) {
		return &ReturnStmt{SpanVal: MakeSpan(start, start)}
	}
	value := p.ParseExpression()
	if value == nil {
		return nil
	}
	return &ReturnStmt{SpanVal: MakeSpan(start, value.Span().End), Value: value}
}

func (p *Parser) parseExprStmt() Stmt {
	e := p.ParseExpression()
	if e == nil {
		return nil
	}
	return &ExprStmt{SpanVal: e.Span(), Expr: e}
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// binaryLevels lists operator precedence from loosest to tightest.
var binaryLevels = []map[TokenType]Operator{
	{TokenOrOr: OpOr},
	{TokenCaret: OpXor},
	{TokenAndAnd: OpAnd},
	{TokenEq: OpEq, TokenNe: OpNe},
	{TokenLt: OpLt, TokenLe: OpLe, TokenGt: OpGt, TokenGe: OpGe},
	{TokenPlus: OpAdd, TokenMinus: OpSub},
	{TokenStar: OpMul, TokenSlash: OpDiv, TokenPercent: OpRem},
}

// ParseExpression parses a single expression.
func (p *Parser) ParseExpression() Expr {
	return p.parseBinary(0)
}

func (p *Parser) parseBinary(level int) Expr {
	if level == len(binaryLevels) {
		return p.parseUnary()
	}
	left := p.parseBinary(level + 1)
	if left == nil {
		return nil
	}
	for {
		op, ok := binaryLevels[level][p.curToken.Type]
		if !ok {
			return left
		}
		p.nextToken()
		right := p.parseBinary(level + 1)
		if right == nil {
			return nil
		}
		left = &BinaryExpr{
			SpanVal: MakeSpan(left.Span().Start, right.Span().End),
			Op:      op,
			Left:    left,
			Right:   right,
		}
	}
}

func (p *Parser) parseUnary() Expr {
	start := p.curToken.Pos
	var op Operator
	switch p.curToken.Type {
	case TokenMinus:
		op = OpNeg
	case TokenBang:
		op = OpNot
	default:
		return p.parsePrimary()
	}
	p.nextToken()
	operand := p.parseUnary()
	if operand == nil {
		return nil
	}
	// Fold negative literals so they stay immediates.
	if op == OpNeg {
		switch lit := operand.(type) {
		case *IntLiteral:
			return &IntLiteral{SpanVal: MakeSpan(start, lit.SpanVal.End), Value: -lit.Value}
		case *FloatLiteral:
			return &FloatLiteral{SpanVal: MakeSpan(start, lit.SpanVal.End), Value: -lit.Value}
		}
	}
	return &UnaryExpr{SpanVal: MakeSpan(start, operand.Span().End), Op: op, Operand: operand}
}

func (p *Parser) parsePrimary() Expr {
	tok := p.curToken
	span := MakeSpan(tok.Pos, tok.Pos)
	switch tok.Type {
	case TokenInteger:
		p.nextToken()
		v, err := strconv.ParseInt(tok.Literal, 10, 64)
		if err != nil {
			p.errorf("invalid integer %s", tok.Literal)
			return nil
		}
		return &IntLiteral{SpanVal: span, Value: v}
	case TokenFloat:
		p.nextToken()
		v, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			p.errorf("invalid float %s", tok.Literal)
			return nil
		}
		return &FloatLiteral{SpanVal: span, Value: v}
	case TokenString:
		p.nextToken()
		return &StringLiteral{SpanVal: span, Value: tok.Literal}
	case TokenTrue, TokenFalse:
		p.nextToken()
		return &BoolLiteral{SpanVal: span, Value: tok.Type == TokenTrue}
	case TokenNil:
		p.nextToken()
		return &NilLiteral{SpanVal: span}
	case TokenIdentifier:
		p.nextToken()
		if p.curTokenIs(TokenLParen) {
			return p.parseCall(tok)
		}
		return &Identifier{SpanVal: span, Name: tok.Literal}
	case TokenLParen:
		p.nextToken()
		e := p.ParseExpression()
		if e == nil {
			return nil
		}
		if !p.expect(TokenRParen) {
			return nil
		}
		return e
	case TokenError:
		p.errorf("%s", tok.Literal)
		p.nextToken()
		return nil
	}
	p.errorf("unexpected %s", tok)
	return nil
}

func (p *Parser) parseCall(name Token) Expr {
	p.nextToken() // (
	call := &CallExpr{Name: name.Literal}
	for !p.curTokenIs(TokenRParen) {
		arg := p.ParseExpression()
		if arg == nil {
			return nil
		}
		call.Args = append(call.Args, arg)
		if p.curTokenIs(TokenComma) {
			p.nextToken()
		} else if !p.curTokenIs(TokenRParen) {
			p.errorf("expected , or ) in call, got %s", p.curToken)
			return nil
		}
	}
	call.SpanVal = MakeSpan(name.Pos, p.curToken.Pos)
	p.nextToken() // )
	return call
}
