// Copyright (c) 2024 The Falcon Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.
package ast

import (
	"io"
	"strconv"
	"strings"

	"github.com/mpsl-lang/mpsl/internal/diag"
	"github.com/mpsl-lang/mpsl/internal/lang"
	"github.com/mpsl-lang/mpsl/internal/token"
	"github.com/mpsl-lang/mpsl/internal/xutil"
)

// Parser is a recursive-descent parser with Pratt precedence climbing for
// expressions, built over internal/token's one-token-lookahead Lexer. It
// recovers from a syntax error by skipping to the next statement boundary
// so a single Parse call can collect more than one diagnostic on a
// best-effort basis.
type Parser struct {
	lex   *token.Lexer
	arena *xutil.Arena
	tok   token.Token
	errs  []*diag.Error
}

func NewParser(r io.Reader) *Parser {
	p := &Parser{lex: token.New(r), arena: xutil.NewArena()}
	p.advance()
	return p
}

// Arena returns the arena backing every node this parser produced; the
// caller (Program.compile) owns its lifetime from here on.
func (p *Parser) Arena() *xutil.Arena { return p.arena }

// Errors returns every syntax error collected during Parse, in source
// order; empty when parsing succeeded cleanly.
func (p *Parser) Errors() []*diag.Error { return p.errs }

func (p *Parser) advance() { p.tok = p.lex.Next() }

func (p *Parser) at(k token.Kind) bool { return p.tok.Kind == k }

func (p *Parser) errorf(kind diag.ErrorKind, format string, args ...interface{}) {
	p.errs = append(p.errs, diag.New(kind, p.tok.Pos, format, args...))
}

// expect consumes the current token if it matches k, else records a
// syntax error and leaves the cursor in place so recovery can proceed.
func (p *Parser) expect(k token.Kind) token.Token {
	cur := p.tok
	if cur.Kind != k {
		p.errorf(diag.SyntaxError, "expected %v, got %v %q", k, cur.Kind, cur.Lexeme)
		return cur
	}
	p.advance()
	return cur
}

// syncToStmtBoundary skips tokens until a ';', '}', or EOF so the parser
// can keep collecting diagnostics after one malformed statement.
func (p *Parser) syncToStmtBoundary() {
	for !p.at(token.Semicolon) && !p.at(token.RBrace) && !p.at(token.EOF) {
		p.advance()
	}
	if p.at(token.Semicolon) {
		p.advance()
	}
}

// Parse consumes the whole token stream and returns the translation unit.
// Parse never returns a nil *Program; check Errors() for failures.
func (p *Parser) Parse() *Program {
	prog := alloc[Program](p.arena)
	for !p.at(token.EOF) {
		if !p.at(token.KwType) {
			p.errorf(diag.SyntaxError, "expected function or global declaration, got %v", p.tok.Kind)
			p.syncToStmtBoundary()
			continue
		}
		typ := p.tok.Type
		typPos := p.tok.Pos
		p.advance()
		name := p.expect(token.Ident).Lexeme
		if p.at(token.LParen) {
			fn := p.parseFunctionRest(typ, name, typPos)
			prog.Functions = append(prog.Functions, fn)
			Link(prog, fn)
		} else {
			g := p.parseGlobalRest(typ, name, typPos, false)
			prog.Globals = append(prog.Globals, g)
			Link(prog, g)
		}
	}
	return prog
}

func (p *Parser) parseFunctionRest(retType lang.Type, name string, pos diag.Pos) *Function {
	fn := alloc[Function](p.arena)
	fn.P = pos
	fn.Name = name
	fn.RetType = retType
	fn.Params = p.parseParams()
	fn.Body = p.parseBlock()
	Link(fn, fn.Body)
	return fn
}

func (p *Parser) parseParams() []Param {
	p.expect(token.LParen)
	var params []Param
	if p.at(token.RParen) {
		p.advance()
		return params
	}
	for {
		if !p.at(token.KwType) {
			p.errorf(diag.SyntaxError, "expected parameter type, got %v", p.tok.Kind)
			break
		}
		t := p.tok.Type
		p.advance()
		pname := p.expect(token.Ident).Lexeme
		params = append(params, Param{Name: pname, Type: t})
		if p.at(token.Comma) {
			p.advance()
			continue
		}
		break
	}
	p.expect(token.RParen)
	return params
}

func (p *Parser) parseGlobalRest(t lang.Type, name string, pos diag.Pos, isConst bool) *VarDecl {
	decl := alloc[VarDecl](p.arena)
	decl.P = pos
	decl.Name = name
	decl.Type = t
	decl.Const = isConst
	decl.IsGlobal = true
	if p.at(token.Operator) && p.tok.Op == lang.OpAssign {
		p.advance()
		decl.Init = p.parseExpression()
		Link(decl, decl.Init)
	} else if isConst {
		p.errorf(diag.SyntaxError, "const declaration %q requires an initializer", name)
	} else {
		decl.Init = defaultValue(p.arena, t, pos)
	}
	p.expect(token.Semicolon)
	return decl
}

// defaultValue builds the zero-valued initializer for a var declared
// without one; a zero Const already carries a zeroed lane array, so only
// Type need be set.
func defaultValue(a *xutil.Arena, t lang.Type, pos diag.Pos) Expr {
	n := alloc[Imm](a)
	n.P = pos
	n.T = t
	n.Value = lang.Const{Type: t}
	return n
}

func (p *Parser) parseBlock() *Block {
	blk := alloc[Block](p.arena)
	blk.P = p.tok.Pos
	p.expect(token.LBrace)
	for !p.at(token.RBrace) && !p.at(token.EOF) {
		s := p.parseStatement()
		if s != nil {
			blk.Stmts = append(blk.Stmts, s)
			Link(blk, s)
		}
	}
	p.expect(token.RBrace)
	return blk
}

func (p *Parser) parseStatement() Stmt {
	switch p.tok.Kind {
	case token.KwReturn:
		return p.parseReturn()
	case token.KwIf:
		return p.parseIf()
	case token.KwFor:
		return p.parseFor()
	case token.KwWhile:
		return p.parseWhile()
	case token.KwDo:
		return p.parseDoWhile()
	case token.KwBreak:
		pos := p.tok.Pos
		p.advance()
		p.expect(token.Semicolon)
		n := alloc[Break](p.arena)
		n.P = pos
		return n
	case token.KwContinue:
		pos := p.tok.Pos
		p.advance()
		p.expect(token.Semicolon)
		n := alloc[Continue](p.arena)
		n.P = pos
		return n
	case token.KwConst:
		pos := p.tok.Pos
		p.advance()
		if !p.at(token.KwType) {
			p.errorf(diag.SyntaxError, "expected type after const")
			p.syncToStmtBoundary()
			return nil
		}
		t := p.tok.Type
		p.advance()
		name := p.expect(token.Ident).Lexeme
		return p.parseLocalVarRest(t, name, pos, true)
	case token.KwType:
		t := p.tok.Type
		pos := p.tok.Pos
		p.advance()
		name := p.expect(token.Ident).Lexeme
		return p.parseLocalVarRest(t, name, pos, false)
	case token.LBrace:
		return p.parseBlock()
	default:
		return p.parseExprStatement()
	}
}

func (p *Parser) parseLocalVarRest(t lang.Type, name string, pos diag.Pos, isConst bool) Stmt {
	decl := alloc[VarDecl](p.arena)
	decl.P = pos
	decl.Name = name
	decl.Type = t
	decl.Const = isConst
	if p.at(token.Operator) && p.tok.Op == lang.OpAssign {
		p.advance()
		decl.Init = p.parseExpression()
		Link(decl, decl.Init)
	} else if isConst {
		p.errorf(diag.SyntaxError, "const declaration %q requires an initializer", name)
	} else {
		decl.Init = defaultValue(p.arena, t, pos)
	}
	p.expect(token.Semicolon)
	return decl
}

func (p *Parser) parseReturn() Stmt {
	pos := p.tok.Pos
	p.advance()
	n := alloc[Return](p.arena)
	n.P = pos
	if !p.at(token.Semicolon) {
		n.Value = p.parseExpression()
		Link(n, n.Value)
	}
	p.expect(token.Semicolon)
	return n
}

func (p *Parser) parseIf() Stmt {
	pos := p.tok.Pos
	p.advance()
	n := alloc[If](p.arena)
	n.P = pos
	p.expect(token.LParen)
	n.Cond = p.parseExpression()
	p.expect(token.RParen)
	n.Then = p.parseBlock()
	Link(n, n.Cond, n.Then)
	if p.at(token.KwElse) {
		p.advance()
		if p.at(token.KwIf) {
			n.Else = p.parseIf()
		} else {
			n.Else = p.parseBlock()
		}
		Link(n, n.Else)
	}
	return n
}

func (p *Parser) parseFor() Stmt {
	pos := p.tok.Pos
	p.advance()
	n := alloc[For](p.arena)
	n.P = pos
	p.expect(token.LParen)
	if !p.at(token.Semicolon) {
		n.Init = p.parseStatementNoTerminatorConsume()
	} else {
		p.advance()
	}
	if !p.at(token.Semicolon) {
		n.Cond = p.parseExpression()
	}
	p.expect(token.Semicolon)
	if !p.at(token.RParen) {
		n.Post = p.parseExprStatementNoTerminator()
	}
	p.expect(token.RParen)
	n.Body = p.parseBlock()
	Link(n, n.Init, n.Cond, n.Post, n.Body)
	return n
}

// parseStatementNoTerminatorConsume parses a for-loop init clause, which is
// a local var decl or expression statement, consuming its own trailing ';'.
func (p *Parser) parseStatementNoTerminatorConsume() Stmt {
	if p.at(token.KwType) {
		t := p.tok.Type
		pos := p.tok.Pos
		p.advance()
		name := p.expect(token.Ident).Lexeme
		return p.parseLocalVarRest(t, name, pos, false)
	}
	return p.parseExprStatement()
}

func (p *Parser) parseExprStatementNoTerminator() Stmt {
	pos := p.tok.Pos
	n := alloc[ExprStmt](p.arena)
	n.P = pos
	n.X = p.parseExpression()
	Link(n, n.X)
	return n
}

func (p *Parser) parseWhile() Stmt {
	pos := p.tok.Pos
	p.advance()
	n := alloc[While](p.arena)
	n.P = pos
	p.expect(token.LParen)
	n.Cond = p.parseExpression()
	p.expect(token.RParen)
	n.Body = p.parseBlock()
	Link(n, n.Cond, n.Body)
	return n
}

func (p *Parser) parseDoWhile() Stmt {
	pos := p.tok.Pos
	p.advance()
	n := alloc[DoWhile](p.arena)
	n.P = pos
	n.Body = p.parseBlock()
	p.expect(token.KwWhile)
	p.expect(token.LParen)
	n.Cond = p.parseExpression()
	p.expect(token.RParen)
	p.expect(token.Semicolon)
	Link(n, n.Body, n.Cond)
	return n
}

func (p *Parser) parseExprStatement() Stmt {
	n := p.parseExprStatementNoTerminator()
	p.expect(token.Semicolon)
	return n
}

// -----------------------------------------------------------------------
// Expressions: Pratt precedence climbing driven by lang's static operator
// table, rather than one parse function per precedence level.

func (p *Parser) parseExpression() Expr { return p.parseAssignment() }

func (p *Parser) parseAssignment() Expr {
	left := p.parseTernary()
	if p.at(token.Operator) {
		info := lang.Operator(p.tok.Op)
		if info.Category == lang.CatAssign && info.Op != lang.OpQuestion {
			op := p.tok.Op
			pos := p.tok.Pos
			p.advance()
			right := p.parseAssignment()
			n := alloc[Assign](p.arena)
			n.P = pos
			n.Op = op
			n.Left = left
			n.Right = right
			Link(n, left, right)
			return n
		}
	}
	return left
}

func (p *Parser) parseTernary() Expr {
	cond := p.parseBinary(2)
	if p.at(token.Question) {
		pos := p.tok.Pos
		p.advance()
		then := p.parseAssignment()
		p.expect(token.Colon)
		els := p.parseTernary()
		n := alloc[Ternary](p.arena)
		n.P = pos
		n.Cond = cond
		n.Then = then
		n.Else = els
		Link(n, cond, then, els)
		return n
	}
	return cond
}

// parseBinary implements precedence climbing: it consumes a left operand
// then any run of binary operators whose precedence is >= minPrec,
// recursing with that operator's own precedence + 1 (our whole table is
// left-associative) to bind the right operand.
func (p *Parser) parseBinary(minPrec int) Expr {
	left := p.parseUnary()
	for p.at(token.Operator) {
		info := lang.Operator(p.tok.Op)
		if info.Arity != 2 || info.Category == lang.CatAssign || info.Prec < minPrec {
			break
		}
		op := p.tok.Op
		pos := p.tok.Pos
		p.advance()
		right := p.parseBinary(info.Prec + 1)
		n := alloc[Binary](p.arena)
		n.P = pos
		n.Op = op
		n.Left = left
		n.Right = right
		Link(n, left, right)
		left = n
	}
	return left
}

func (p *Parser) parseUnary() Expr {
	if p.at(token.Operator) {
		switch p.tok.Op {
		case lang.OpSub, lang.OpLogNot, lang.OpBitNot:
			op := p.tok.Op
			pos := p.tok.Pos
			p.advance()
			operand := p.parseUnary()
			n := alloc[Unary](p.arena)
			n.P = pos
			if op == lang.OpSub {
				op = lang.OpNeg
			}
			n.Op = op
			n.Operand = operand
			Link(n, operand)
			return n
		case lang.OpInc, lang.OpDec:
			op := p.tok.Op
			pos := p.tok.Pos
			p.advance()
			operand := p.parseUnary()
			n := alloc[Unary](p.arena)
			n.P = pos
			n.Op = op
			n.Operand = operand
			Link(n, operand)
			return n
		}
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() Expr {
	e := p.parsePrimary()
	for {
		switch {
		case p.at(token.Operator) && (p.tok.Op == lang.OpInc || p.tok.Op == lang.OpDec):
			op := p.tok.Op
			pos := p.tok.Pos
			p.advance()
			n := alloc[Unary](p.arena)
			n.P = pos
			n.Op = op
			n.Operand = e
			n.Postfix = true
			Link(n, e)
			e = n
		case p.at(token.Dot):
			pos := p.tok.Pos
			p.advance()
			mask := p.expect(token.Ident).Lexeme
			n := alloc[Swizzle](p.arena)
			n.P = pos
			n.Operand = e
			n.Mask = mask
			Link(n, e)
			e = n
		case p.at(token.LBracket):
			pos := p.tok.Pos
			p.advance()
			idx := p.parseExpression()
			p.expect(token.RBracket)
			n := alloc[Index](p.arena)
			n.P = pos
			n.Operand = e
			n.Idx = idx
			Link(n, e, idx)
			e = n
		default:
			return e
		}
	}
}

func (p *Parser) parsePrimary() Expr {
	tok := p.tok
	switch tok.Kind {
	case token.LitInt:
		p.advance()
		v, err := strconv.ParseInt(tok.Lexeme, 10, 64)
		if err != nil {
			p.errorf(diag.SyntaxError, "invalid integer literal %q", tok.Lexeme)
		}
		n := alloc[Imm](p.arena)
		n.P = tok.Pos
		n.T = lang.TInt
		n.Value = lang.ConstInt(int32(v))
		return n
	case token.LitHexInt:
		p.advance()
		v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(tok.Lexeme), "0x"), 16, 32)
		if err != nil {
			p.errorf(diag.SyntaxError, "invalid hex literal %q", tok.Lexeme)
		}
		n := alloc[Imm](p.arena)
		n.P = tok.Pos
		n.T = lang.TInt
		n.Value = lang.ConstInt(int32(uint32(v)))
		return n
	case token.LitFloat:
		p.advance()
		lit := strings.TrimSuffix(strings.TrimSuffix(tok.Lexeme, "f"), "F")
		v, err := strconv.ParseFloat(lit, 32)
		if err != nil {
			p.errorf(diag.SyntaxError, "invalid float literal %q", tok.Lexeme)
		}
		n := alloc[Imm](p.arena)
		n.P = tok.Pos
		n.T = lang.TFloat
		n.Value = lang.ConstFloat(float32(v))
		return n
	case token.LitDouble:
		p.advance()
		v, err := strconv.ParseFloat(tok.Lexeme, 64)
		if err != nil {
			p.errorf(diag.SyntaxError, "invalid double literal %q", tok.Lexeme)
		}
		n := alloc[Imm](p.arena)
		n.P = tok.Pos
		n.T = lang.TDouble
		n.Value = lang.ConstDouble(v)
		return n
	case token.KwTrue, token.KwFalse:
		p.advance()
		n := alloc[Imm](p.arena)
		n.P = tok.Pos
		n.T = lang.TBool
		n.Value = lang.ConstBool(tok.Kind == token.KwTrue)
		return n
	case token.Ident:
		p.advance()
		if p.at(token.LParen) {
			return p.parseCall(tok.Lexeme, tok.Pos)
		}
		n := alloc[Symbol](p.arena)
		n.P = tok.Pos
		n.Name = tok.Lexeme
		return n
	case token.LParen:
		p.advance()
		e := p.parseExpression()
		p.expect(token.RParen)
		return e
	default:
		p.errorf(diag.SyntaxError, "unexpected token %v %q in expression", tok.Kind, tok.Lexeme)
		p.advance()
		n := alloc[Imm](p.arena)
		n.P = tok.Pos
		n.T = lang.TInt
		return n
	}
}

func (p *Parser) parseCall(name string, pos diag.Pos) Expr {
	p.expect(token.LParen)
	n := alloc[Call](p.arena)
	n.P = pos
	n.Callee = name
	if !p.at(token.RParen) {
		for {
			arg := p.parseAssignment()
			n.Args = append(n.Args, arg)
			if p.at(token.Comma) {
				p.advance()
				continue
			}
			break
		}
	}
	p.expect(token.RParen)
	Link(n, toNodes(n.Args)...)
	return n
}

func toNodes(exprs []Expr) []Node {
	out := make([]Node, len(exprs))
	for i, e := range exprs {
		out[i] = e
	}
	return out
}
