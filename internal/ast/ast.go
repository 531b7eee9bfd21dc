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

// Package ast holds the MPSL abstract syntax tree: arena allocated tagged
// nodes, built by a Pratt-precedence recursive descent parser, plus an
// AstWalker visitor that dispatches over every node kind in one place.
package ast

import (
	"fmt"

	"github.com/mpsl-lang/mpsl/internal/diag"
	"github.com/mpsl-lang/mpsl/internal/lang"
)

// Node is any AST node: every node carries a type (void for statements),
// a source position and a parent link.
type Node interface {
	fmt.Stringer
	Pos() diag.Pos
	Parent() Node
	setParent(Node)
}

// Expr is a node that yields a value and therefore carries a Type.
type Expr interface {
	Node
	Type() lang.Type
	SetType(lang.Type)
}

type base struct {
	P      diag.Pos
	parent Node
}

func (b *base) Pos() diag.Pos   { return b.P }
func (b *base) Parent() Node    { return b.parent }
func (b *base) setParent(n Node) { b.parent = n }

type exprBase struct {
	base
	T lang.Type
}

func (e *exprBase) Type() lang.Type     { return e.T }
func (e *exprBase) SetType(t lang.Type) { e.T = t }

// -----------------------------------------------------------------------
// Expressions

// Imm is a literal constant.
type Imm struct {
	exprBase
	Value lang.Const
}

func (n *Imm) String() string { return fmt.Sprintf("Imm{%v}", n.Value) }

// Symbol is a reference to a variable, layout member, or function by name;
// resolved to a concrete storage kind during sema.
type Symbol struct {
	exprBase
	Name string
}

func (n *Symbol) String() string { return fmt.Sprintf("Symbol{%s}", n.Name) }

// Unary is a prefix operator expression: -, !, ~, ++, --.
type Unary struct {
	exprBase
	Op      lang.Op
	Operand Expr
	Postfix bool // true for x++ / x--
}

func (n *Unary) String() string { return fmt.Sprintf("Unary{%v,postfix=%v}", n.Op, n.Postfix) }

// Binary is an infix operator expression, including compound assignment.
type Binary struct {
	exprBase
	Op          lang.Op
	Left, Right Expr
}

func (n *Binary) String() string { return fmt.Sprintf("Binary{%v}", n.Op) }

// Ternary is the `cond ? then : else` expression.
type Ternary struct {
	exprBase
	Cond, Then, Else Expr
}

func (n *Ternary) String() string { return "Ternary" }

// Call is a function or intrinsic invocation.
type Call struct {
	exprBase
	Callee string
	Args   []Expr
}

func (n *Call) String() string { return fmt.Sprintf("Call{%s}", n.Callee) }

// Cast is an implicit or explicit conversion inserted by sema: no implicit
// conversion crosses scalar kinds without an inserted Cast node marking it.
type Cast struct {
	exprBase
	Operand Expr
}

func (n *Cast) String() string { return fmt.Sprintf("Cast{->%v}", n.T) }

// Index is `expr[i]`, used for indexing a vector by a dynamic lane index.
type Index struct {
	exprBase
	Operand Expr
	Idx     Expr
}

func (n *Index) String() string { return "Index" }

// Swizzle is `expr.mask`, a lane permutation/selection.
type Swizzle struct {
	exprBase
	Operand Expr
	Mask    string
	Lanes   []int // resolved lane indices, one per mask character
}

func (n *Swizzle) String() string { return fmt.Sprintf("Swizzle{%s}", n.Mask) }

// Assign is `lhs = rhs` or a compound-assign form; it both performs the
// store and yields the assigned value.
type Assign struct {
	exprBase
	Op          lang.Op // OpAssign or one of the OpXAssign forms
	Left, Right Expr
}

func (n *Assign) String() string { return fmt.Sprintf("Assign{%v}", n.Op) }

// -----------------------------------------------------------------------
// Statements / declarations

// Stmt is any node appearing in a statement position; it yields no value.
type Stmt interface {
	Node
}

// Block is a `{ ... }` sequence of statements introducing a new scope.
type Block struct {
	base
	Stmts []Stmt
}

func (n *Block) String() string { return "Block" }

// VarDecl declares a local (or file-scope `const`) variable with an
// initializer; a file-scope const must initialize with a foldable
// constant expression.
type VarDecl struct {
	base
	Name    string
	Type    lang.Type
	Init    Expr
	Const   bool
	IsGlobal bool
}

func (n *VarDecl) String() string { return fmt.Sprintf("VarDecl{%s,const=%v}", n.Name, n.Const) }

// Param is one function parameter: a name plus declared type.
type Param struct {
	Name string
	Type lang.Type
}

// Function is a top-level function declaration:
// `function := type IDENT '(' [params] ')' block`.
type Function struct {
	base
	Name    string
	Params  []Param
	RetType lang.Type
	Body    *Block
}

func (n *Function) String() string { return fmt.Sprintf("Function{%s}", n.Name) }

// Return is a `return expr;` or bare `return;` statement.
type Return struct {
	base
	Value Expr // nil for a bare return from a void function
}

func (n *Return) String() string { return "Return" }

// If is an `if (cond) then [else else]` statement; Else may be nil, a
// *Block, or another *If (else-if chaining).
type If struct {
	base
	Cond Expr
	Then *Block
	Else Stmt
}

func (n *If) String() string { return "If" }

// For is a C-style `for (init; cond; post) body` loop.
type For struct {
	base
	Init Stmt
	Cond Expr
	Post Stmt
	Body *Block
}

func (n *For) String() string { return "For" }

// While is a `while (cond) body` loop.
type While struct {
	base
	Cond Expr
	Body *Block
}

func (n *While) String() string { return "While" }

// DoWhile is a `do body while (cond);` loop: the condition is checked
// after the first iteration, so the body always runs at least once.
type DoWhile struct {
	base
	Body *Block
	Cond Expr
}

func (n *DoWhile) String() string { return "DoWhile" }

// Break/Continue are loop control statements.
type Break struct{ base }

func (n *Break) String() string { return "Break" }

type Continue struct{ base }

func (n *Continue) String() string { return "Continue" }

// ExprStmt wraps a bare expression used as a statement (e.g. `x = 1;`
// or a call for side effects).
type ExprStmt struct {
	base
	X Expr
}

func (n *ExprStmt) String() string { return "ExprStmt" }

// Program is the translation unit root: an ordered list of top-level
// functions and global variable declarations, matching the unit grammar
// `unit := {function | globalVarDecl}*`.
type Program struct {
	base
	Functions []*Function
	Globals   []*VarDecl
}

func (n *Program) String() string { return "Program" }

// Link sets parent pointers for n's direct children. Call bottom-up as
// nodes are constructed so Parent() is always valid post-parse.
func Link(parent Node, children ...Node) {
	for _, c := range children {
		if c != nil && !isNilNode(c) {
			c.setParent(parent)
		}
	}
}

func isNilNode(n Node) bool {
	switch v := n.(type) {
	case *Block:
		return v == nil
	case *Function:
		return v == nil
	case *If:
		return v == nil
	}
	return false
}
