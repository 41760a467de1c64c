// Package parser implements a recursive descent parser with inline semantic
// analysis. It produces a fully typed AST; programs with scope or type errors
// are rejected with positioned diagnostics.
package parser

import (
	"fmt"

	"github.com/fmistri/minicc/pkg/ast"
	"github.com/fmistri/minicc/pkg/lexer"
	"github.com/fmistri/minicc/pkg/symtab"
	"github.com/fmistri/minicc/pkg/types"
)

// Parser parses source code into a typed AST
type Parser struct {
	l         *lexer.Lexer
	curToken  lexer.Token
	peekToken lexer.Token
	errors    []string

	symbols   *symtab.Table
	loopDepth int
	curFunc   *symtab.Symbol // function whose body is being parsed
}

// New creates a new Parser for the given lexer
func New(l *lexer.Lexer) *Parser {
	p := &Parser{
		l:       l,
		symbols: symtab.New(),
	}
	// Read two tokens to initialize curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.l.NextToken()
}

// Errors returns the list of parsing and semantic errors, including any
// lexical errors reported by the underlying lexer.
func (p *Parser) Errors() []string {
	return append(append([]string{}, p.l.Errors()...), p.errors...)
}

func (p *Parser) addError(msg string) {
	p.errors = append(p.errors, fmt.Sprintf("line %d, col %d: %s",
		p.curToken.Line, p.curToken.Column, msg))
}

func (p *Parser) addErrorAt(tok lexer.Token, msg string) {
	p.errors = append(p.errors, fmt.Sprintf("line %d, col %d: %s",
		tok.Line, tok.Column, msg))
}

func (p *Parser) curTokenIs(t lexer.TokenType) bool {
	return p.curToken.Type == t
}

func (p *Parser) peekTokenIs(t lexer.TokenType) bool {
	return p.peekToken.Type == t
}

func (p *Parser) expect(t lexer.TokenType) bool {
	if p.curTokenIs(t) {
		p.nextToken()
		return true
	}
	p.addError(fmt.Sprintf("expected %s, got %s", t, p.curToken.Type))
	return false
}

// ParseProgram parses a whole translation unit: a sequence of global
// variable, array, prototype and function declarations.
func (p *Parser) ParseProgram() *ast.Program {
	prog := &ast.Program{}

	for !p.curTokenIs(lexer.TokenEOF) {
		decl := p.parseTopLevel()
		if decl == nil {
			// Recover at the next plausible declaration start.
			p.skipToTopLevel()
			continue
		}
		prog.Decls = append(prog.Decls, decl)
	}
	return prog
}

// skipToTopLevel advances past the current construct after an error.
func (p *Parser) skipToTopLevel() {
	depth := 0
	for !p.curTokenIs(lexer.TokenEOF) {
		switch p.curToken.Type {
		case lexer.TokenLBrace:
			depth++
		case lexer.TokenRBrace:
			depth--
			if depth <= 0 {
				p.nextToken()
				return
			}
		case lexer.TokenSemicolon:
			if depth == 0 {
				p.nextToken()
				return
			}
		}
		p.nextToken()
	}
}

// parseType parses `[const] native [*...]`. Reports an error and returns
// false when the current token does not start a type.
func (p *Parser) parseType() (types.Type, bool) {
	t := types.Type{}
	if p.curTokenIs(lexer.TokenConst) {
		t.Const = true
		p.nextToken()
	}
	switch p.curToken.Type {
	case lexer.TokenU8:
		t.Native = types.U8
	case lexer.TokenU16:
		t.Native = types.U16
	case lexer.TokenU32:
		t.Native = types.U32
	case lexer.TokenI8:
		t.Native = types.I8
	case lexer.TokenI16:
		t.Native = types.I16
	case lexer.TokenI32:
		t.Native = types.I32
	case lexer.TokenVoid:
		t.Native = types.Void
	default:
		p.addError(fmt.Sprintf("expected type specifier, got %s", p.curToken.Type))
		return t, false
	}
	p.nextToken()
	for p.curTokenIs(lexer.TokenStar) {
		t.Pointer++
		p.nextToken()
	}
	return t, true
}

// curStartsType reports whether the current token can begin a type.
func (p *Parser) curStartsType() bool {
	return p.curToken.IsTypeSpecifier() || p.curTokenIs(lexer.TokenConst)
}

func (p *Parser) parseTopLevel() ast.Decl {
	if !p.curStartsType() {
		p.addError(fmt.Sprintf("expected declaration, got %s", p.curToken.Type))
		return nil
	}

	declTok := p.curToken
	typ, ok := p.parseType()
	if !ok {
		return nil
	}

	if !p.curTokenIs(lexer.TokenIdent) {
		p.addError(fmt.Sprintf("expected identifier, got %s", p.curToken.Type))
		return nil
	}
	nameTok := p.curToken
	name := p.curToken.Literal
	p.nextToken()

	if p.curTokenIs(lexer.TokenLParen) {
		return p.parseFuncDecl(declTok, typ, nameTok, name)
	}

	if typ.IsVoid() {
		p.addErrorAt(nameTok, fmt.Sprintf("variable '%s' declared void", name))
		return nil
	}

	if p.curTokenIs(lexer.TokenLBracket) {
		decl := p.parseArrayDeclTail(declTok, typ, nameTok, name)
		if decl == nil || !p.expect(lexer.TokenSemicolon) {
			return nil
		}
		return decl
	}

	decl := p.parseVarDeclTail(declTok, typ, nameTok, name)
	if decl == nil || !p.expect(lexer.TokenSemicolon) {
		return nil
	}
	return decl
}

// parseVarDeclTail handles `T name [= expr] ;` after the name has been read.
func (p *Parser) parseVarDeclTail(declTok lexer.Token, typ types.Type, nameTok lexer.Token, name string) *ast.VarDecl {
	decl := &ast.VarDecl{Tok: declTok, Typ: typ, Name: name}

	if p.curTokenIs(lexer.TokenAssign) {
		p.nextToken()
		init := p.parseExpression()
		if init == nil {
			return nil
		}
		adaptLiteral(init, typ)
		if !types.Compatible(init.Type(), typ) {
			p.addErrorAt(nameTok, fmt.Sprintf("cannot initialize '%s' of type %s with value of type %s",
				name, typ, init.Type()))
		}
		decl.Init = init
	} else if typ.Const {
		p.addErrorAt(nameTok, fmt.Sprintf("const variable '%s' requires an initializer", name))
	}

	sym := &symtab.Symbol{Name: name, Storage: p.storageClass(), Type: typ}
	if !p.symbols.Define(sym) {
		p.addErrorAt(nameTok, fmt.Sprintf("redeclaration of '%s'", name))
	}
	decl.Sym = sym
	return decl
}

// parseArrayDeclTail handles `T name [expr] ;` after the name has been read.
// The declared symbol has pointer type: the array name is a pointer value.
func (p *Parser) parseArrayDeclTail(declTok lexer.Token, typ types.Type, nameTok lexer.Token, name string) *ast.ArrayDecl {
	p.nextToken() // consume '['
	size := p.parseExpression()
	if size == nil {
		return nil
	}
	if !types.Compatible(size.Type(), types.Of(types.U32)) {
		p.addErrorAt(nameTok, fmt.Sprintf("array size must have type u32, got %s", size.Type()))
	}
	if p.curFunc == nil {
		if _, isLit := size.(*ast.IntLit); !isLit {
			p.addErrorAt(nameTok, fmt.Sprintf("global array '%s' requires a constant size", name))
		}
	}
	if !p.expect(lexer.TokenRBracket) {
		return nil
	}

	sym := &symtab.Symbol{
		Name:    name,
		Storage: p.storageClass(),
		Type:    types.PointerTo(typ),
		IsArray: true,
	}
	if !p.symbols.Define(sym) {
		p.addErrorAt(nameTok, fmt.Sprintf("redeclaration of '%s'", name))
	}
	return &ast.ArrayDecl{Tok: declTok, Typ: typ, Name: name, Size: size, Sym: sym}
}

func (p *Parser) storageClass() symtab.StorageClass {
	if p.curFunc == nil {
		return symtab.Global
	}
	return symtab.Local
}

func (p *Parser) parseFuncDecl(declTok lexer.Token, ret types.Type, nameTok lexer.Token, name string) ast.Decl {
	p.nextToken() // consume '('

	var params []ast.Param
	for !p.curTokenIs(lexer.TokenRParen) {
		if len(params) > 0 && !p.expect(lexer.TokenComma) {
			return nil
		}
		ptype, ok := p.parseType()
		if !ok {
			return nil
		}
		if ptype.IsVoid() {
			p.addError("parameter declared void")
		}
		if !p.curTokenIs(lexer.TokenIdent) {
			p.addError(fmt.Sprintf("expected parameter name, got %s", p.curToken.Type))
			return nil
		}
		params = append(params, ast.Param{Tok: p.curToken, Typ: ptype, Name: p.curToken.Literal})
		p.nextToken()
	}
	p.nextToken() // consume ')'

	if name == "init" {
		p.addErrorAt(nameTok, "'init' is a reserved function name")
	}
	if name == "main" && len(params) != 0 {
		p.addErrorAt(nameTok, "'main' cannot take parameters")
	}

	paramTypes := make([]types.Type, len(params))
	for i, param := range params {
		paramTypes[i] = param.Typ
	}

	sym, declared := p.symbols.Resolve(name)
	switch {
	case !declared:
		sym = &symtab.Symbol{Name: name, Storage: symtab.Function, Type: ret, Params: paramTypes}
		p.symbols.Define(sym)
	case sym.Storage != symtab.Function:
		p.addErrorAt(nameTok, fmt.Sprintf("redeclaration of '%s'", name))
	case !p.signatureMatches(sym, ret, paramTypes):
		p.addErrorAt(nameTok, fmt.Sprintf("conflicting declaration of function '%s'", name))
	}

	decl := &ast.FuncDecl{Tok: declTok, Ret: ret, Name: name, Params: params, Sym: sym}

	if p.curTokenIs(lexer.TokenSemicolon) {
		p.nextToken()
		return decl // prototype
	}

	if !p.curTokenIs(lexer.TokenLBrace) {
		p.addError(fmt.Sprintf("expected '{' or ';', got %s", p.curToken.Type))
		return nil
	}

	if sym.Defined {
		p.addErrorAt(nameTok, fmt.Sprintf("redefinition of function '%s'", name))
	}
	sym.Defined = true

	// Parameters live in the function's outermost scope.
	p.curFunc = sym
	p.symbols.Push()
	for i := range params {
		psym := &symtab.Symbol{Name: params[i].Name, Storage: symtab.Parameter, Type: params[i].Typ}
		if !p.symbols.Define(psym) {
			p.addErrorAt(params[i].Tok, fmt.Sprintf("duplicate parameter '%s'", params[i].Name))
		}
		params[i].Sym = psym
	}
	decl.Params = params

	decl.Body = p.parseBlock(false)
	p.symbols.Pop()
	p.curFunc = nil

	if decl.Body != nil && !ret.IsVoid() && !blockReturns(decl.Body) {
		p.addErrorAt(nameTok, fmt.Sprintf("function '%s' does not return on every path", name))
	}
	return decl
}

func (p *Parser) signatureMatches(sym *symtab.Symbol, ret types.Type, params []types.Type) bool {
	if !types.Compatible(sym.Type, ret) || len(sym.Params) != len(params) {
		return false
	}
	for i := range params {
		if !types.Compatible(sym.Params[i], params[i]) {
			return false
		}
	}
	return true
}

// parseBlock parses `{ ... }`. When ownScope is true the block pushes a new
// scope; function bodies reuse the parameter scope instead.
func (p *Parser) parseBlock(ownScope bool) *ast.Block {
	if !p.curTokenIs(lexer.TokenLBrace) {
		p.addError(fmt.Sprintf("expected '{', got %s", p.curToken.Type))
		return nil
	}
	p.nextToken() // consume '{'

	if ownScope {
		p.symbols.Push()
		defer p.symbols.Pop()
	}

	block := &ast.Block{}
	for !p.curTokenIs(lexer.TokenRBrace) && !p.curTokenIs(lexer.TokenEOF) {
		stmt := p.parseStatement()
		if stmt != nil {
			block.Stmts = append(block.Stmts, stmt)
		}
	}
	if !p.curTokenIs(lexer.TokenRBrace) {
		p.addError("expected '}'")
		return block
	}
	p.nextToken() // consume '}'
	return block
}

func (p *Parser) parseStatement() ast.Stmt {
	switch p.curToken.Type {
	case lexer.TokenReturn:
		return p.parseReturnStatement()
	case lexer.TokenBreak:
		tok := p.curToken
		if p.loopDepth == 0 {
			p.addError("'break' outside of a loop")
		}
		p.nextToken()
		if !p.expect(lexer.TokenSemicolon) {
			return nil
		}
		return &ast.Break{Tok: tok}
	case lexer.TokenContinue:
		tok := p.curToken
		if p.loopDepth == 0 {
			p.addError("'continue' outside of a loop")
		}
		p.nextToken()
		if !p.expect(lexer.TokenSemicolon) {
			return nil
		}
		return &ast.Continue{Tok: tok}
	case lexer.TokenIf:
		return p.parseIfStatement()
	case lexer.TokenWhile:
		return p.parseWhileStatement()
	case lexer.TokenFor:
		return p.parseForStatement()
	case lexer.TokenLBrace:
		return p.parseBlock(true)
	case lexer.TokenSemicolon:
		p.nextToken()
		return &ast.ExprStmt{}
	default:
		if p.curStartsType() {
			return p.parseDeclStatement()
		}
		return p.parseExprStatement()
	}
}

// parseDeclStatement parses a local variable or array declaration.
func (p *Parser) parseDeclStatement() ast.Stmt {
	declTok := p.curToken
	typ, ok := p.parseType()
	if !ok {
		p.skipStatement()
		return nil
	}
	if !p.curTokenIs(lexer.TokenIdent) {
		p.addError(fmt.Sprintf("expected identifier, got %s", p.curToken.Type))
		p.skipStatement()
		return nil
	}
	nameTok := p.curToken
	name := p.curToken.Literal
	p.nextToken()

	if typ.IsVoid() {
		p.addErrorAt(nameTok, fmt.Sprintf("variable '%s' declared void", name))
	}

	var decl ast.Stmt
	if p.curTokenIs(lexer.TokenLBracket) {
		if d := p.parseArrayDeclTail(declTok, typ, nameTok, name); d != nil {
			decl = d
		}
	} else {
		if d := p.parseVarDeclTail(declTok, typ, nameTok, name); d != nil {
			decl = d
		}
	}
	if decl == nil {
		p.skipStatement()
		return nil
	}
	if !p.expect(lexer.TokenSemicolon) {
		return nil
	}
	return decl
}

func (p *Parser) parseExprStatement() ast.Stmt {
	expr := p.parseExpression()
	if expr == nil {
		p.skipStatement()
		return nil
	}
	if !p.expect(lexer.TokenSemicolon) {
		return nil
	}
	return &ast.ExprStmt{X: expr}
}

// skipStatement recovers after an error by skipping to the next ';' or '}'.
func (p *Parser) skipStatement() {
	for !p.curTokenIs(lexer.TokenSemicolon) && !p.curTokenIs(lexer.TokenRBrace) && !p.curTokenIs(lexer.TokenEOF) {
		p.nextToken()
	}
	if p.curTokenIs(lexer.TokenSemicolon) {
		p.nextToken()
	}
}

func (p *Parser) parseReturnStatement() ast.Stmt {
	tok := p.curToken
	p.nextToken() // consume 'return'

	ret := &ast.Return{Tok: tok}
	if !p.curTokenIs(lexer.TokenSemicolon) {
		ret.X = p.parseExpression()
		if ret.X == nil {
			p.skipStatement()
			return nil
		}
	}
	if !p.expect(lexer.TokenSemicolon) {
		return nil
	}

	if p.curFunc != nil {
		if ret.X != nil {
			adaptLiteral(ret.X, p.curFunc.Type)
		}
		switch {
		case p.curFunc.Type.IsVoid() && ret.X != nil:
			p.addErrorAt(tok, "void function cannot return a value")
		case !p.curFunc.Type.IsVoid() && ret.X == nil:
			p.addErrorAt(tok, fmt.Sprintf("function must return a value of type %s", p.curFunc.Type))
		case ret.X != nil && !types.Compatible(ret.X.Type(), p.curFunc.Type):
			p.addErrorAt(tok, fmt.Sprintf("cannot return value of type %s from function returning %s",
				ret.X.Type(), p.curFunc.Type))
		}
	}
	return ret
}

func (p *Parser) parseCondition() ast.Expr {
	if !p.expect(lexer.TokenLParen) {
		return nil
	}
	cond := p.parseExpression()
	if cond == nil {
		return nil
	}
	if cond.Type().IsPointer() || cond.Type().IsInteger() {
		// Any scalar condition is fine.
	} else {
		p.addError(fmt.Sprintf("condition must be scalar, got %s", cond.Type()))
	}
	if !p.expect(lexer.TokenRParen) {
		return nil
	}
	return cond
}

func (p *Parser) parseIfStatement() ast.Stmt {
	p.nextToken() // consume 'if'
	cond := p.parseCondition()
	if cond == nil {
		p.skipStatement()
		return nil
	}
	then := p.parseBlock(true)
	if then == nil {
		return nil
	}
	stmt := &ast.If{Cond: cond, Then: then}
	if p.curTokenIs(lexer.TokenElse) {
		p.nextToken()
		stmt.Else = p.parseBlock(true)
	}
	return stmt
}

func (p *Parser) parseWhileStatement() ast.Stmt {
	p.nextToken() // consume 'while'
	cond := p.parseCondition()
	if cond == nil {
		p.skipStatement()
		return nil
	}
	p.loopDepth++
	body := p.parseBlock(true)
	p.loopDepth--
	if body == nil {
		return nil
	}
	return &ast.While{Cond: cond, Body: body}
}

func (p *Parser) parseForStatement() ast.Stmt {
	p.nextToken() // consume 'for'
	if !p.expect(lexer.TokenLParen) {
		p.skipStatement()
		return nil
	}

	// The init declaration's scope spans the whole loop.
	p.symbols.Push()
	defer p.symbols.Pop()

	stmt := &ast.For{}
	if !p.curTokenIs(lexer.TokenSemicolon) {
		if p.curStartsType() {
			stmt.Init = p.parseDeclStatement()
		} else {
			expr := p.parseExpression()
			if expr == nil || !p.expect(lexer.TokenSemicolon) {
				p.skipStatement()
				return nil
			}
			stmt.Init = &ast.ExprStmt{X: expr}
		}
	} else {
		p.nextToken()
	}

	if !p.curTokenIs(lexer.TokenSemicolon) {
		stmt.Cond = p.parseExpression()
		if stmt.Cond == nil {
			p.skipStatement()
			return nil
		}
	}
	if !p.expect(lexer.TokenSemicolon) {
		return nil
	}

	if !p.curTokenIs(lexer.TokenRParen) {
		stmt.Step = p.parseExpression()
		if stmt.Step == nil {
			p.skipStatement()
			return nil
		}
	}
	if !p.expect(lexer.TokenRParen) {
		return nil
	}

	p.loopDepth++
	stmt.Body = p.parseBlock(true)
	p.loopDepth--
	if stmt.Body == nil {
		return nil
	}
	return stmt
}

// blockReturns reports whether every control path through the block ends in
// a return statement. Loops are not assumed to execute.
func blockReturns(b *ast.Block) bool {
	for _, stmt := range b.Stmts {
		if stmtReturns(stmt) {
			return true
		}
	}
	return false
}

func stmtReturns(stmt ast.Stmt) bool {
	switch s := stmt.(type) {
	case *ast.Return:
		return true
	case *ast.Block:
		return blockReturns(s)
	case *ast.If:
		return s.Else != nil && blockReturns(s.Then) && blockReturns(s.Else)
	}
	return false
}
