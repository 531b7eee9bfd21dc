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
package sema

import (
	"github.com/samber/lo"

	"github.com/mpsl-lang/mpsl/internal/ast"
	"github.com/mpsl-lang/mpsl/internal/diag"
	"github.com/mpsl-lang/mpsl/internal/lang"
)

// LayoutMember is the subset of a host Layout member sema needs: enough to
// register a Variable symbol bound to a frame offset.
type LayoutMember struct {
	Name   string
	Type   lang.Type
	Offset int
}

// Layout is implemented by the root package's Layout type. Kept as a
// narrow interface here so internal/sema never imports the public facade
// package (it is the other way around).
type Layout interface {
	Members() []LayoutMember
}

// RetMemberName is the reserved write-only layout member the program's
// return value is stored into.
const RetMemberName = "@ret"

const maxRecursionDepth = 256

// Checker runs a two-walk analysis over one parsed Program: the first walk
// resolves declarations and builds scopes, the second typechecks every
// expression and statement against the resolved symbols.
type Checker struct {
	st        *SymbolTable
	layout    Layout
	progType  lang.Type // declared program return type (= main's RetType)
	curFunc   *ast.Function
	funcDepth int
	errs      []*diag.Error
}

// NewChecker builds a symbol table pre-populated with MPSL's built-in
// type names, plus one Variable symbol per layout member (bound to its
// frame offset and RO/WO access). Operators and math/pack intrinsics are
// not entered as symbols.
func NewChecker(layout Layout) *Checker {
	c := &Checker{st: NewSymbolTable(), layout: layout}
	c.registerBuiltinTypes()
	if layout != nil {
		for _, m := range layout.Members() {
			typ := m.Type
			if m.Name == RetMemberName {
				typ = typ.WithAccess(lang.AccessWO)
			}
			c.st.Declare(&Symbol{
				Name: m.Name, Kind: SymVariable, Type: typ,
				Storage: StorageMember, Offset: m.Offset,
			})
		}
	}
	return c
}

func (c *Checker) registerBuiltinTypes() {
	for _, name := range []string{"bool", "int", "float", "double", "void"} {
		c.st.Declare(&Symbol{Name: name, Kind: SymTypename})
	}
}

func (c *Checker) errorf(kind diag.ErrorKind, pos diag.Pos, format string, args ...interface{}) {
	c.errs = append(c.errs, diag.New(kind, pos, format, args...))
}

// Check runs symbol collection then type/use checking over prog, mutating
// it in place (inserting Cast nodes, resolving Swizzle.Lanes) and returns
// every error collected. An empty slice means prog is well-typed.
func (c *Checker) Check(prog *ast.Program) []*diag.Error {
	c.collectGlobals(prog)
	c.collectFunctions(prog)

	var main *ast.Function
	for _, fn := range prog.Functions {
		if fn.Name == "main" {
			main = fn
		}
	}
	if main == nil {
		c.errorf(diag.NoSymbol, diag.Pos{}, "program has no main function")
	} else if len(main.Params) != 0 {
		c.errorf(diag.InvalidArgument, main.Pos(), "main must take zero parameters")
	} else {
		c.progType = main.RetType
	}

	for _, fn := range prog.Functions {
		c.checkFunction(fn)
	}
	return c.errs
}

func (c *Checker) collectGlobals(prog *ast.Program) {
	for _, g := range prog.Globals {
		if g.Const && g.Init != nil {
			c.typeExprInto(&g.Init)
		}
		c.st.Declare(&Symbol{Name: g.Name, Kind: SymVariable, Type: g.Type, Storage: StorageGlobal})
	}
}

func (c *Checker) collectFunctions(prog *ast.Program) {
	for _, fn := range prog.Functions {
		params := lo.Map(fn.Params, func(p ast.Param, _ int) lang.Type { return p.Type })
		sig := &FuncSig{Name: fn.Name, Params: params, RetType: fn.RetType}
		if _, collided := c.st.Declare(&Symbol{Name: fn.Name, Kind: SymFunction, Funcs: []*FuncSig{sig}}); collided {
			c.errorf(diag.SymbolCollision, fn.Pos(), "function %q collides with a non-function symbol", fn.Name)
		}
	}
}

func (c *Checker) checkFunction(fn *ast.Function) {
	c.curFunc = fn
	c.funcDepth++
	if c.funcDepth > maxRecursionDepth {
		c.errorf(diag.RecursionLimit, fn.Pos(), "function nesting too deep")
		c.funcDepth--
		return
	}
	c.st.Push()
	for _, p := range fn.Params {
		c.st.Declare(&Symbol{Name: p.Name, Kind: SymVariable, Type: p.Type, Storage: StorageLocal})
	}
	c.checkBlock(fn.Body)
	c.st.Pop()
	c.funcDepth--

	if !fn.RetType.IsVoid() && !terminates(fn.Body.Stmts) {
		c.errorf(diag.ReturnedNoValue, fn.Pos(), "function %q does not return a value on every path", fn.Name)
	}
	if fn.Name == "main" && c.layout != nil {
		if _, ok := c.st.Lookup(RetMemberName); !ok {
			c.errorf(diag.InvalidState, fn.Pos(), "layout has no %s member for main's return value", RetMemberName)
		}
	}
}

// terminates reports whether stmts is guaranteed to end in a return on
// every reachable path, via the same structural (not full dataflow)
// analysis Go's spec uses for "terminating statements".
func terminates(stmts []ast.Stmt) bool {
	if len(stmts) == 0 {
		return false
	}
	last := stmts[len(stmts)-1]
	switch s := last.(type) {
	case *ast.Return:
		return true
	case *ast.Block:
		return terminates(s.Stmts)
	case *ast.If:
		if s.Else == nil {
			return false
		}
		thenOk := terminates(s.Then.Stmts)
		var elseOk bool
		switch e := s.Else.(type) {
		case *ast.Block:
			elseOk = terminates(e.Stmts)
		case *ast.If:
			elseOk = terminates([]ast.Stmt{e})
		}
		return thenOk && elseOk
	default:
		return false
	}
}

func (c *Checker) checkBlock(b *ast.Block) {
	c.st.Push()
	for _, s := range b.Stmts {
		c.checkStmt(s)
	}
	c.st.Pop()
}

func (c *Checker) checkStmt(s ast.Stmt) {
	switch n := s.(type) {
	case *ast.VarDecl:
		if n.Init != nil {
			c.typeExprInto(&n.Init)
			if !lang.CanImplicitlyConvert(n.Init.Type(), n.Type) {
				c.errorf(diag.TypeError, n.Pos(), "cannot initialize %q of type %v with %v", n.Name, n.Type, n.Init.Type())
			} else if !n.Init.Type().Equal(n.Type) {
				n.Init = insertCast(n.Init, n.Type)
			}
		}
		c.st.Declare(&Symbol{Name: n.Name, Kind: SymVariable, Type: n.Type, Storage: StorageLocal})
	case *ast.Return:
		var vt lang.Type = lang.TVoid
		if n.Value != nil {
			c.typeExprInto(&n.Value)
			vt = n.Value.Type()
		}
		want := c.curFunc.RetType
		if want.IsVoid() {
			if n.Value != nil {
				c.errorf(diag.TypeError, n.Pos(), "void function must not return a value")
			}
			return
		}
		if n.Value == nil {
			c.errorf(diag.ReturnedNoValue, n.Pos(), "missing return value for %v", want)
			return
		}
		if !lang.CanImplicitlyConvert(vt, want) {
			c.errorf(diag.TypeError, n.Pos(), "cannot return %v from function declared %v", vt, want)
		} else if !vt.Equal(want) {
			n.Value = insertCast(n.Value, want)
		}
	case *ast.If:
		c.typeExprInto(&n.Cond)
		c.requireBool(n.Cond)
		c.checkBlock(n.Then)
		if n.Else != nil {
			c.checkStmt(n.Else)
		}
	case *ast.For:
		c.st.Push()
		if n.Init != nil {
			c.checkStmt(n.Init)
		}
		if n.Cond != nil {
			c.typeExprInto(&n.Cond)
			c.requireBool(n.Cond)
		}
		if n.Post != nil {
			c.checkStmt(n.Post)
		}
		c.checkBlock(n.Body)
		c.st.Pop()
	case *ast.While:
		c.typeExprInto(&n.Cond)
		c.requireBool(n.Cond)
		c.checkBlock(n.Body)
	case *ast.DoWhile:
		c.checkBlock(n.Body)
		c.typeExprInto(&n.Cond)
		c.requireBool(n.Cond)
	case *ast.Block:
		c.checkBlock(n)
	case *ast.ExprStmt:
		c.typeExprInto(&n.X)
	case *ast.Break, *ast.Continue:
		// nothing to type
	default:
		c.errorf(diag.InvalidState, s.Pos(), "unhandled statement kind %T", s)
	}
}

func (c *Checker) requireBool(e ast.Expr) {
	if e.Type().Scalar != lang.Bool || e.Type().IsVector() {
		c.errorf(diag.TypeError, e.Pos(), "condition must be bool, got %v", e.Type())
	}
}

// typeExprInto types *slot in place, replacing it with the result of
// typeExpr (which may wrap it in an inserted Cast).
func (c *Checker) typeExprInto(slot *ast.Expr) {
	*slot = c.typeExpr(*slot)
}

func insertCast(e ast.Expr, to lang.Type) ast.Expr {
	c := &ast.Cast{Operand: e}
	c.SetType(to)
	ast.Link(c, e)
	return c
}

func (c *Checker) typeExpr(e ast.Expr) ast.Expr {
	switch n := e.(type) {
	case *ast.Imm:
		return n
	case *ast.Symbol:
		sym, ok := c.st.Lookup(n.Name)
		if !ok || sym.Kind != SymVariable {
			c.errorf(diag.NoSymbol, n.Pos(), "undefined variable %q", n.Name)
			n.SetType(lang.TInt)
			return n
		}
		if sym.Type.IsWriteOnly() {
			c.errorf(diag.WriteOnlyRead, n.Pos(), "read of write-only field %q", n.Name)
		}
		n.SetType(sym.Type)
		return n
	case *ast.Unary:
		c.typeExprInto(&n.Operand)
		t := n.Operand.Type()
		switch n.Op {
		case lang.OpLogNot:
			c.requireBool(n.Operand)
		case lang.OpInc, lang.OpDec:
			c.checkLValue(n.Operand)
		}
		n.SetType(t.WithAccess(0))
		return n
	case *ast.Binary:
		c.typeExprInto(&n.Left)
		c.typeExprInto(&n.Right)
		c.typeBinary(n)
		return n
	case *ast.Ternary:
		c.typeExprInto(&n.Cond)
		c.requireBool(n.Cond)
		c.typeExprInto(&n.Then)
		c.typeExprInto(&n.Else)
		rt, ok := unify(n.Then.Type(), n.Else.Type())
		if !ok {
			c.errorf(diag.TypeError, n.Pos(), "ternary branches have incompatible types %v / %v", n.Then.Type(), n.Else.Type())
			rt = n.Then.Type()
		}
		if !n.Then.Type().Equal(rt) {
			n.Then = insertCast(n.Then, rt)
		}
		if !n.Else.Type().Equal(rt) {
			n.Else = insertCast(n.Else, rt)
		}
		n.SetType(rt)
		return n
	case *ast.Assign:
		c.typeExprInto(&n.Right)
		c.checkLValue(n.Left)
		c.typeExprInto(&n.Left)
		want := n.Left.Type()
		if n.Op != lang.OpAssign {
			base := n.Op.CompoundBase()
			rt, ok := unify(want.WithAccess(0), n.Right.Type())
			if !ok {
				c.errorf(diag.TypeError, n.Pos(), "incompatible operands for %v", base)
			}
			_ = rt
		}
		if !lang.CanImplicitlyConvert(n.Right.Type(), want) {
			c.errorf(diag.TypeError, n.Pos(), "cannot assign %v to %v", n.Right.Type(), want)
		} else if !n.Right.Type().Equal(want) {
			n.Right = insertCast(n.Right, want)
		}
		n.SetType(want.WithAccess(0))
		return n
	case *ast.Call:
		return c.typeCall(n)
	case *ast.Cast:
		c.typeExprInto(&n.Operand)
		return n
	case *ast.Index:
		c.typeExprInto(&n.Operand)
		c.typeExprInto(&n.Idx)
		ot := n.Operand.Type()
		if !ot.IsVector() {
			c.errorf(diag.InvalidType, n.Pos(), "cannot index non-vector type %v", ot)
		}
		n.SetType(lang.T(ot.Scalar, 1))
		return n
	case *ast.Swizzle:
		c.typeExprInto(&n.Operand)
		c.typeSwizzle(n)
		return n
	default:
		c.errorf(diag.InvalidState, e.Pos(), "unhandled expression kind %T", e)
		return e
	}
}

func (c *Checker) checkLValue(e ast.Expr) {
	switch n := e.(type) {
	case *ast.Symbol:
		sym, ok := c.st.Lookup(n.Name)
		if !ok {
			return
		}
		if sym.Storage == StorageMember && sym.Type.IsReadOnly() {
			c.errorf(diag.ReadOnlyWrite, n.Pos(), "write to read-only field %q", n.Name)
		}
		if sym.Storage == StorageGlobal {
			// globals declared const are checked at decl time; plain
			// globals are mutable function-local-style storage.
		}
	case *ast.Swizzle, *ast.Index:
		// lane-selecting lvalues: always permitted, access enforced on
		// the underlying operand when it is next visited as a Symbol.
	default:
		c.errorf(diag.InvalidArgument, e.Pos(), "expression is not assignable")
	}
}

// unify resolves the common type two operands convert to without crossing
// vector widths, choosing the higher-ranked scalar kind.
func unify(a, b lang.Type) (lang.Type, bool) {
	if a.Equal(b) {
		return a.WithAccess(0), true
	}
	width := a.Width
	if b.Width > width {
		width = b.Width
	}
	if a.Width > 1 && b.Width > 1 && a.Width != b.Width {
		return lang.Type{}, false
	}
	ra, rb := lang.ConversionRank(a), lang.ConversionRank(b)
	if ra < 0 || rb < 0 {
		return lang.Type{}, false
	}
	scalar := a.Scalar
	if rb > ra {
		scalar = b.Scalar
	}
	return lang.T(scalar, width), true
}

func (c *Checker) typeBinary(n *ast.Binary) {
	op := n.Op
	if op.IsLogical() {
		c.requireBool(n.Left)
		c.requireBool(n.Right)
		n.SetType(lang.TBool)
		return
	}
	lt, rt := n.Left.Type(), n.Right.Type()
	rtype, ok := unify(lt.WithAccess(0), rt.WithAccess(0))
	if !ok {
		c.errorf(diag.TypeError, n.Pos(), "operands of %v have incompatible types %v / %v", op, lt, rt)
		rtype = lt
	}
	if !lt.Equal(rtype) {
		n.Left = insertCast(n.Left, rtype)
	}
	if !rt.Equal(rtype) {
		n.Right = insertCast(n.Right, rtype)
	}
	if op.IsCompare() {
		n.SetType(lang.TBool)
		return
	}
	n.SetType(rtype)
}

func (c *Checker) typeCall(n *ast.Call) ast.Expr {
	for i := range n.Args {
		c.typeExprInto(&n.Args[i])
	}
	if info, ok := lang.Intrinsic(n.Callee); ok {
		return c.typeIntrinsicCall(n, info)
	}
	sym, ok := c.st.Lookup(n.Callee)
	if !ok || sym.Kind != SymFunction {
		c.errorf(diag.NoSymbol, n.Pos(), "call to undefined function %q", n.Callee)
		n.SetType(lang.TInt)
		return n
	}
	argTypes := lo.Map(n.Args, func(a ast.Expr, _ int) lang.Type { return a.Type() })
	sig, convCount, ambiguous := resolveOverload(sym.Funcs, argTypes)
	if sig == nil {
		c.errorf(diag.NoSymbol, n.Pos(), "no overload of %q matches argument types %v", n.Callee, argTypes)
		n.SetType(lang.TInt)
		return n
	}
	if ambiguous {
		c.errorf(diag.SymbolCollision, n.Pos(), "call to %q is ambiguous between overloads", n.Callee)
	}
	_ = convCount
	for i, pt := range sig.Params {
		if !n.Args[i].Type().Equal(pt) {
			n.Args[i] = insertCast(n.Args[i], pt)
		}
	}
	n.SetType(sig.RetType)
	return n
}

// typeIntrinsicCall types one of the fixed math/pack intrinsics. Unlike a
// user function, an intrinsic has no single declared signature: the
// float-ish intrinsics are polymorphic over float/double at any width, and
// the packed intrinsics fix their lane shape to int4 with vsrlw's second
// operand a broadcast scalar shift.
func (c *Checker) typeIntrinsicCall(n *ast.Call, info lang.IntrinsicInfo) ast.Expr {
	if len(n.Args) != info.Arity {
		c.errorf(diag.InvalidArgument, n.Pos(), "%s expects %d argument(s), got %d", info.Name, info.Arity, len(n.Args))
		n.SetType(lang.TInt)
		return n
	}
	if info.Packed {
		if !n.Args[0].Type().Equal(lang.TInt4) {
			c.errorf(diag.InvalidType, n.Pos(), "%s requires an int4 first argument, got %v", info.Name, n.Args[0].Type())
		}
		if info.Kind == lang.VSrlW {
			if !n.Args[1].Type().Equal(lang.TInt) {
				c.errorf(diag.InvalidType, n.Pos(), "%s requires a scalar int shift amount, got %v", info.Name, n.Args[1].Type())
			}
		} else if !n.Args[1].Type().Equal(lang.TInt4) {
			c.errorf(diag.InvalidType, n.Pos(), "%s requires an int4 second argument, got %v", info.Name, n.Args[1].Type())
		}
		n.SetType(lang.TInt4)
		return n
	}
	rt := n.Args[0].Type().WithAccess(0)
	if !rt.IsFloating() {
		c.errorf(diag.InvalidType, n.Pos(), "%s requires a float or double argument, got %v", info.Name, rt)
		rt = lang.TDouble
	}
	for i := 1; i < len(n.Args); i++ {
		unified, ok := unify(rt, n.Args[i].Type())
		if !ok {
			c.errorf(diag.TypeError, n.Pos(), "%s argument %d has incompatible type %v", info.Name, i, n.Args[i].Type())
			continue
		}
		rt = unified
		if !n.Args[i].Type().Equal(rt) {
			n.Args[i] = insertCast(n.Args[i], rt)
		}
	}
	n.SetType(rt)
	return n
}

// resolveOverload picks the candidate signature needing the fewest implicit
// conversions, preferring an exact match over any conversion at all; a tie
// among the non-exact candidates is reported as ambiguous.
func resolveOverload(candidates []*FuncSig, args []lang.Type) (best *FuncSig, conversions int, ambiguous bool) {
	type scored struct {
		sig   *FuncSig
		convs int
	}
	var viable []scored
	for _, sig := range candidates {
		if len(sig.Params) != len(args) {
			continue
		}
		n := 0
		ok := true
		for i, pt := range sig.Params {
			if args[i].Equal(pt) {
				continue
			}
			if !lang.CanImplicitlyConvert(args[i], pt) {
				ok = false
				break
			}
			n++
		}
		if ok {
			viable = append(viable, scored{sig, n})
		}
	}
	if len(viable) == 0 {
		return nil, 0, false
	}
	bestN := viable[0].convs
	for _, v := range viable {
		if v.convs < bestN {
			bestN = v.convs
		}
	}
	var tied []scored
	for _, v := range viable {
		if v.convs == bestN {
			tied = append(tied, v)
		}
	}
	if len(tied) > 1 {
		return tied[0].sig, bestN, true
	}
	return tied[0].sig, bestN, false
}

var swizzleDomains = [][]byte{
	[]byte("xyzw"),
	[]byte("rgba"),
	[]byte("stpq"),
}

func laneIndex(ch byte) (domain, lane int, ok bool) {
	for d, set := range swizzleDomains {
		for i, c := range set {
			if c == ch {
				return d, i, true
			}
		}
	}
	return 0, 0, false
}

func (c *Checker) typeSwizzle(n *ast.Swizzle) {
	ot := n.Operand.Type()
	if !ot.IsVector() {
		c.errorf(diag.InvalidSwizzle, n.Pos(), "cannot swizzle non-vector type %v", ot)
		n.SetType(ot)
		return
	}
	if len(n.Mask) < 1 || len(n.Mask) > 4 {
		c.errorf(diag.InvalidSwizzle, n.Pos(), "swizzle mask %q must be 1-4 characters", n.Mask)
		n.SetType(ot)
		return
	}
	lanes := make([]int, 0, len(n.Mask))
	domain := -1
	for i := 0; i < len(n.Mask); i++ {
		d, lane, ok := laneIndex(n.Mask[i])
		if !ok {
			c.errorf(diag.InvalidSwizzle, n.Pos(), "invalid swizzle character %q in mask %q", string(n.Mask[i]), n.Mask)
			n.SetType(ot)
			return
		}
		if domain == -1 {
			domain = d
		} else if domain != d {
			c.errorf(diag.InvalidSwizzle, n.Pos(), "swizzle mask %q mixes lane-name domains", n.Mask)
			n.SetType(ot)
			return
		}
		if lane >= ot.Width {
			c.errorf(diag.InvalidSwizzle, n.Pos(), "swizzle lane %q out of range for %v", string(n.Mask[i]), ot)
			n.SetType(ot)
			return
		}
		lanes = append(lanes, lane)
	}
	n.Lanes = lanes
	n.SetType(lang.T(ot.Scalar, len(lanes)))
}
