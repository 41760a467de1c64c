package parser

import (
	"fmt"

	"github.com/fmistri/minicc/pkg/ast"
	"github.com/fmistri/minicc/pkg/lexer"
	"github.com/fmistri/minicc/pkg/symtab"
	"github.com/fmistri/minicc/pkg/types"
)

// Expression grammar, loosest to tightest:
//
//	expression  := assignment
//	assignment  := bitwise [ '=' assignment ]
//	bitwise     := equality { ('&'|'|'|'^') equality }
//	equality    := relational { ('=='|'!=') relational }
//	relational  := shift { ('<'|'>'|'<='|'>=') shift }
//	shift       := additive { ('<<'|'>>') additive }
//	additive    := multiplicative { ('+'|'-') multiplicative }
//	multiplicative := castexpr { ('*'|'/'|'%') castexpr }
//	castexpr    := '(' type ')' castexpr | unary
//	unary       := ('+'|'-'|'!'|'~'|'&'|'*') castexpr | postfix
//	postfix     := primary { '[' expression ']' | '(' args ')' }
//	primary     := IDENT | INT | CHAR | true | false | '(' expression ')'

func (p *Parser) parseExpression() ast.Expr {
	return p.parseAssignment()
}

func (p *Parser) parseAssignment() ast.Expr {
	left := p.parseBitwise()
	if left == nil {
		return nil
	}
	if !p.curTokenIs(lexer.TokenAssign) {
		return left
	}
	tok := p.curToken
	p.nextToken()
	right := p.parseAssignment()
	if right == nil {
		return nil
	}

	if !left.Lvalue() {
		p.addErrorAt(tok, "assignment target is not an lvalue")
	} else if left.Type().Const {
		p.addErrorAt(tok, "assignment to const value")
	}
	adaptLiteral(right, left.Type())
	if !types.Compatible(right.Type(), left.Type()) {
		p.addErrorAt(tok, fmt.Sprintf("cannot assign value of type %s to target of type %s",
			right.Type(), left.Type()))
	}

	return &ast.Assign{
		ExprInfo: ast.ExprInfo{Typ: left.Type().WithoutConst()},
		Tok:      tok,
		Target:   left,
		Value:    right,
	}
}

// binaryLevel parses a left-associative run of operators from the given set.
func (p *Parser) binaryLevel(ops map[lexer.TokenType]ast.BinaryOp, next func() ast.Expr) ast.Expr {
	left := next()
	if left == nil {
		return nil
	}
	for {
		op, ok := ops[p.curToken.Type]
		if !ok {
			return left
		}
		tok := p.curToken
		p.nextToken()
		right := next()
		if right == nil {
			return nil
		}
		left = p.typeBinary(tok, op, left, right)
	}
}

var bitwiseOps = map[lexer.TokenType]ast.BinaryOp{
	lexer.TokenAmpersand: ast.OpAnd,
	lexer.TokenPipe:      ast.OpOr,
	lexer.TokenCaret:     ast.OpXor,
}

var equalityOps = map[lexer.TokenType]ast.BinaryOp{
	lexer.TokenEq: ast.OpEq,
	lexer.TokenNe: ast.OpNe,
}

var relationalOps = map[lexer.TokenType]ast.BinaryOp{
	lexer.TokenLt: ast.OpLt,
	lexer.TokenGt: ast.OpGt,
	lexer.TokenLe: ast.OpLe,
	lexer.TokenGe: ast.OpGe,
}

var shiftOps = map[lexer.TokenType]ast.BinaryOp{
	lexer.TokenShl: ast.OpShl,
	lexer.TokenShr: ast.OpShr,
}

var additiveOps = map[lexer.TokenType]ast.BinaryOp{
	lexer.TokenPlus:  ast.OpAdd,
	lexer.TokenMinus: ast.OpSub,
}

var multiplicativeOps = map[lexer.TokenType]ast.BinaryOp{
	lexer.TokenStar:    ast.OpMul,
	lexer.TokenSlash:   ast.OpDiv,
	lexer.TokenPercent: ast.OpMod,
}

func (p *Parser) parseBitwise() ast.Expr {
	return p.binaryLevel(bitwiseOps, p.parseEquality)
}

func (p *Parser) parseEquality() ast.Expr {
	return p.binaryLevel(equalityOps, p.parseRelational)
}

func (p *Parser) parseRelational() ast.Expr {
	return p.binaryLevel(relationalOps, p.parseShift)
}

func (p *Parser) parseShift() ast.Expr {
	return p.binaryLevel(shiftOps, p.parseAdditive)
}

func (p *Parser) parseAdditive() ast.Expr {
	return p.binaryLevel(additiveOps, p.parseMultiplicative)
}

func (p *Parser) parseMultiplicative() ast.Expr {
	return p.binaryLevel(multiplicativeOps, p.parseCastExpr)
}

// adaptLiteral narrows an integer literal to the expected integer type when
// its value fits. Literals default to u32; this gives `i8 x = 10;` its
// obvious meaning while keeping every other conversion explicit.
func adaptLiteral(expr ast.Expr, want types.Type) {
	lit, ok := expr.(*ast.IntLit)
	if !ok || !want.IsInteger() {
		return
	}
	if size := want.Size(); size < 4 && lit.Value >= 1<<(8*size) {
		return
	}
	lit.Typ = want.WithoutConst()
}

// typeBinary checks the operand types of a binary expression and builds the
// node with its result type.
func (p *Parser) typeBinary(tok lexer.Token, op ast.BinaryOp, left, right ast.Expr) ast.Expr {
	adaptLiteral(left, right.Type())
	adaptLiteral(right, left.Type())
	lt, rt := left.Type(), right.Type()
	result := lt.WithoutConst()

	switch {
	case (op == ast.OpAdd || op == ast.OpSub) && lt.IsPointer() && rt.IsInteger():
		// pointer +/- integer keeps the pointer type; scaling happens
		// during lowering
		result = lt.WithoutConst()
	case op == ast.OpAdd && lt.IsInteger() && rt.IsPointer():
		result = rt.WithoutConst()
	case types.Compatible(lt, rt) && (lt.IsInteger() || (lt.IsPointer() && op.IsComparison())):
		if op.IsComparison() {
			result = types.Of(types.U32)
		}
	default:
		p.addErrorAt(tok, fmt.Sprintf("invalid operands to binary %s (%s and %s)", op, lt, rt))
	}

	return &ast.Binary{
		ExprInfo: ast.ExprInfo{Typ: result},
		Tok:      tok,
		Op:       op,
		Left:     left,
		Right:    right,
	}
}

func (p *Parser) parseCastExpr() ast.Expr {
	// A '(' followed by a type starts a cast.
	if p.curTokenIs(lexer.TokenLParen) && (p.peekToken.IsTypeSpecifier() || p.peekTokenIs(lexer.TokenConst)) {
		tok := p.curToken
		p.nextToken() // consume '('
		to, ok := p.parseType()
		if !ok {
			return nil
		}
		if !p.expect(lexer.TokenRParen) {
			return nil
		}
		x := p.parseCastExpr()
		if x == nil {
			return nil
		}
		if !types.Castable(to, x.Type()) {
			p.addErrorAt(tok, fmt.Sprintf("invalid cast from %s to %s", x.Type(), to))
		}
		return &ast.Cast{
			ExprInfo: ast.ExprInfo{Typ: to.WithoutConst()},
			Tok:      tok,
			To:       to,
			X:        x,
		}
	}
	return p.parseUnary()
}

var unaryOps = map[lexer.TokenType]ast.UnaryOp{
	lexer.TokenPlus:      ast.OpPlus,
	lexer.TokenMinus:     ast.OpNeg,
	lexer.TokenNot:       ast.OpNot,
	lexer.TokenTilde:     ast.OpBitNot,
	lexer.TokenAmpersand: ast.OpAddr,
	lexer.TokenStar:      ast.OpDeref,
}

func (p *Parser) parseUnary() ast.Expr {
	op, ok := unaryOps[p.curToken.Type]
	if !ok {
		return p.parsePostfix()
	}
	tok := p.curToken
	p.nextToken()
	x := p.parseCastExpr()
	if x == nil {
		return nil
	}
	return p.typeUnary(tok, op, x)
}

func (p *Parser) typeUnary(tok lexer.Token, op ast.UnaryOp, x ast.Expr) ast.Expr {
	info := ast.ExprInfo{Typ: x.Type().WithoutConst()}

	switch op {
	case ast.OpPlus, ast.OpNot, ast.OpBitNot:
		if !x.Type().IsInteger() {
			p.addErrorAt(tok, fmt.Sprintf("invalid operand to unary %s (%s)", op, x.Type()))
		}
	case ast.OpNeg:
		// Unary minus forces the operand into i32 arithmetic.
		if !x.Type().IsInteger() {
			p.addErrorAt(tok, fmt.Sprintf("invalid operand to unary %s (%s)", op, x.Type()))
		}
		info.Typ = types.Of(types.I32)
	case ast.OpDeref:
		if !x.Type().IsPointer() {
			p.addErrorAt(tok, fmt.Sprintf("cannot dereference non-pointer type %s", x.Type()))
		} else {
			info.Typ = x.Type().Deref().WithoutConst()
		}
		info.IsLvalue = true
	case ast.OpAddr:
		if !x.Lvalue() {
			p.addErrorAt(tok, "cannot take the address of a non-lvalue")
		}
		info.Typ = types.PointerTo(x.Type())
	}

	return &ast.Unary{ExprInfo: info, Tok: tok, Op: op, X: x}
}

func (p *Parser) parsePostfix() ast.Expr {
	x := p.parsePrimary()
	if x == nil {
		return nil
	}
	for {
		switch p.curToken.Type {
		case lexer.TokenLBracket:
			tok := p.curToken
			p.nextToken()
			idx := p.parseExpression()
			if idx == nil {
				return nil
			}
			if !p.expect(lexer.TokenRBracket) {
				return nil
			}
			if !x.Type().IsPointer() {
				p.addErrorAt(tok, fmt.Sprintf("cannot index non-pointer type %s", x.Type()))
			}
			if !idx.Type().IsInteger() {
				p.addErrorAt(tok, fmt.Sprintf("index must be an integer, got %s", idx.Type()))
			}
			elem := x.Type()
			if elem.IsPointer() {
				elem = elem.Deref()
			}
			x = &ast.Index{
				ExprInfo: ast.ExprInfo{Typ: elem.WithoutConst(), IsLvalue: true},
				Tok:      tok,
				Arr:      x,
				Idx:      idx,
			}
		case lexer.TokenLParen:
			ident, ok := x.(*ast.Ident)
			if !ok {
				p.addError("called object is not a function")
				return nil
			}
			x = p.parseCallTail(ident)
			if x == nil {
				return nil
			}
		default:
			return x
		}
	}
}

func (p *Parser) parseCallTail(callee *ast.Ident) ast.Expr {
	tok := p.curToken
	p.nextToken() // consume '('

	var args []ast.Expr
	for !p.curTokenIs(lexer.TokenRParen) {
		if len(args) > 0 && !p.expect(lexer.TokenComma) {
			return nil
		}
		arg := p.parseExpression()
		if arg == nil {
			return nil
		}
		args = append(args, arg)
	}
	p.nextToken() // consume ')'

	call := &ast.Call{Tok: tok, Name: callee.Name, Args: args}

	sym, ok := p.symbols.Resolve(callee.Name)
	if !ok || sym.Storage != symtab.Function {
		p.addErrorAt(callee.Tok, fmt.Sprintf("call to undeclared function '%s'", callee.Name))
		call.Typ = types.Of(types.U32)
		return call
	}
	call.Sym = sym
	call.Typ = sym.Type.WithoutConst()

	if len(args) != len(sym.Params) {
		p.addErrorAt(tok, fmt.Sprintf("function '%s' expects %d arguments, got %d",
			callee.Name, len(sym.Params), len(args)))
		return call
	}
	for i, arg := range args {
		adaptLiteral(arg, sym.Params[i])
		if !types.Compatible(arg.Type(), sym.Params[i]) {
			p.addErrorAt(tok, fmt.Sprintf("argument %d of '%s' must have type %s, got %s",
				i+1, callee.Name, sym.Params[i], arg.Type()))
		}
	}
	return call
}

func (p *Parser) parsePrimary() ast.Expr {
	switch p.curToken.Type {
	case lexer.TokenInt:
		tok := p.curToken
		p.nextToken()
		return &ast.IntLit{
			ExprInfo: ast.ExprInfo{Typ: types.Of(types.U32)},
			Tok:      tok,
			Value:    tok.Value,
		}
	case lexer.TokenChar:
		tok := p.curToken
		p.nextToken()
		return &ast.CharLit{
			ExprInfo: ast.ExprInfo{Typ: types.Of(types.U8)},
			Tok:      tok,
			Value:    tok.Value,
		}
	case lexer.TokenTrue, lexer.TokenFalse:
		tok := p.curToken
		p.nextToken()
		var value uint32
		if tok.Type == lexer.TokenTrue {
			value = 1
		}
		return &ast.IntLit{
			ExprInfo: ast.ExprInfo{Typ: types.Of(types.U32)},
			Tok:      tok,
			Value:    value,
		}
	case lexer.TokenIdent:
		tok := p.curToken
		p.nextToken()
		ident := &ast.Ident{Tok: tok, Name: tok.Literal}
		// A call resolves its own callee; only resolve variable uses here.
		if p.curTokenIs(lexer.TokenLParen) {
			return ident
		}
		sym, ok := p.symbols.Resolve(tok.Literal)
		if !ok {
			msg := fmt.Sprintf("undeclared identifier '%s'", tok.Literal)
			if suggestion := p.symbols.Suggest(tok.Literal); suggestion != "" {
				msg += fmt.Sprintf(" (did you mean '%s'?)", suggestion)
			}
			p.addErrorAt(tok, msg)
			ident.Typ = types.Of(types.U32)
			return ident
		}
		if sym.Storage == symtab.Function {
			p.addErrorAt(tok, fmt.Sprintf("function '%s' used as a value", tok.Literal))
		}
		ident.Sym = sym
		ident.Typ = sym.Type
		// Array names are pointer rvalues; everything else is assignable.
		ident.IsLvalue = !sym.IsArray
		return ident
	case lexer.TokenLParen:
		p.nextToken()
		expr := p.parseExpression()
		if expr == nil {
			return nil
		}
		if !p.expect(lexer.TokenRParen) {
			return nil
		}
		return expr
	default:
		p.addError(fmt.Sprintf("expected expression, got %s", p.curToken.Type))
		return nil
	}
}
