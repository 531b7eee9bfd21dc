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

// Package fold implements the AST optimizer: constant folding over
// lang.Const plus a handful of algebraic identities, run to a fixed point
// the way a worklist-driven simplification pass drives itself on a CFG,
// adapted here to one typed AST instead of a CFG of SSA values. A second,
// lighter pass prunes unreachable statements and dead branches.
package fold

import (
	"math"

	"github.com/mpsl-lang/mpsl/internal/ast"
	"github.com/mpsl-lang/mpsl/internal/diag"
	"github.com/mpsl-lang/mpsl/internal/lang"
)

// maxRounds bounds the fixed-point loop: it runs until a fixed point or
// this iteration cap, whichever comes first. Real programs settle in a
// handful of rounds; this is only a backstop against a rewrite cycle.
const maxRounds = 64

// Optimizer runs the fold pass over an already type-checked Program and
// collects any fold-time errors (currently only literal division/modulo
// by zero).
type Optimizer struct {
	errs []*diag.Error
}

func New() *Optimizer { return &Optimizer{} }

func (o *Optimizer) Errors() []*diag.Error { return o.errs }

// Run folds every global initializer and function body in prog in place,
// iterating until a round makes no further change.
func (o *Optimizer) Run(prog *ast.Program) {
	for round := 0; round < maxRounds; round++ {
		changed := false
		for _, g := range prog.Globals {
			if g.Init != nil {
				ni, c := o.foldExpr(g.Init)
				g.Init = ni
				changed = changed || c
			}
		}
		for _, fn := range prog.Functions {
			if o.foldBlock(fn.Body) {
				changed = true
			}
		}
		if !changed {
			return
		}
	}
}

// -----------------------------------------------------------------------
// Statements

func isTerminator(s ast.Stmt) bool {
	switch s.(type) {
	case *ast.Return, *ast.Break, *ast.Continue:
		return true
	}
	return false
}

// foldBlock folds every statement in b, drops dead expression statements,
// and prunes statements made unreachable by a preceding terminator.
func (o *Optimizer) foldBlock(b *ast.Block) bool {
	changed := false
	out := b.Stmts[:0]
	terminated := false
	for _, s := range b.Stmts {
		if terminated {
			changed = true
			continue
		}
		ns, c := o.foldStmt(s)
		if c {
			changed = true
		}
		if ns == nil {
			changed = true
			continue
		}
		out = append(out, ns)
		if isTerminator(ns) {
			terminated = true
		}
	}
	b.Stmts = out
	return changed
}

func (o *Optimizer) foldStmt(s ast.Stmt) (ast.Stmt, bool) {
	switch n := s.(type) {
	case *ast.VarDecl:
		if n.Init != nil {
			ni, c := o.foldExpr(n.Init)
			n.Init = ni
			return n, c
		}
		return n, false
	case *ast.Return:
		if n.Value != nil {
			nv, c := o.foldExpr(n.Value)
			n.Value = nv
			return n, c
		}
		return n, false
	case *ast.If:
		nc, cc := o.foldExpr(n.Cond)
		n.Cond = nc
		changed := cc || o.foldBlock(n.Then)
		if n.Else != nil {
			ne, ec := o.foldStmt(n.Else)
			n.Else = ne
			changed = changed || ec
		}
		if imm, ok := n.Cond.(*ast.Imm); ok {
			if imm.Value.AsBool() {
				return n.Then, true
			}
			return n.Else, true
		}
		return n, changed
	case *ast.For:
		changed := false
		if n.Init != nil {
			ni, c := o.foldStmt(n.Init)
			n.Init = ni
			changed = changed || c
		}
		if n.Cond != nil {
			nc, c := o.foldExpr(n.Cond)
			n.Cond = nc
			changed = changed || c
		}
		if n.Post != nil {
			np, c := o.foldStmt(n.Post)
			n.Post = np
			changed = changed || c
		}
		changed = o.foldBlock(n.Body) || changed
		if imm, ok := n.Cond.(*ast.Imm); ok && !imm.Value.AsBool() {
			if n.Init != nil {
				return n.Init, true
			}
			return nil, true
		}
		return n, changed
	case *ast.While:
		nc, c := o.foldExpr(n.Cond)
		n.Cond = nc
		changed := c || o.foldBlock(n.Body)
		if imm, ok := n.Cond.(*ast.Imm); ok && !imm.Value.AsBool() {
			return nil, true
		}
		return n, changed
	case *ast.DoWhile:
		changed := o.foldBlock(n.Body)
		nc, c := o.foldExpr(n.Cond)
		n.Cond = nc
		changed = changed || c
		if imm, ok := n.Cond.(*ast.Imm); ok && !imm.Value.AsBool() {
			// body already runs exactly once unconditionally; the loop
			// around it is now dead
			return n.Body, true
		}
		return n, changed
	case *ast.Block:
		return n, o.foldBlock(n)
	case *ast.ExprStmt:
		nx, c := o.foldExpr(n.X)
		n.X = nx
		if !hasSideEffect(nx) {
			return nil, true
		}
		return n, c
	case *ast.Break, *ast.Continue:
		return n, false
	default:
		return n, false
	}
}

func hasSideEffect(e ast.Expr) bool {
	switch n := e.(type) {
	case *ast.Assign, *ast.Call:
		return true
	case *ast.Unary:
		return n.Op == lang.OpInc || n.Op == lang.OpDec || hasSideEffect(n.Operand)
	case *ast.Binary:
		return hasSideEffect(n.Left) || hasSideEffect(n.Right)
	case *ast.Ternary:
		return hasSideEffect(n.Cond) || hasSideEffect(n.Then) || hasSideEffect(n.Else)
	case *ast.Cast:
		return hasSideEffect(n.Operand)
	case *ast.Index:
		return hasSideEffect(n.Operand) || hasSideEffect(n.Idx)
	case *ast.Swizzle:
		return hasSideEffect(n.Operand)
	default:
		return false
	}
}

// -----------------------------------------------------------------------
// Expressions

func (o *Optimizer) foldExpr(e ast.Expr) (ast.Expr, bool) {
	switch n := e.(type) {
	case *ast.Imm, *ast.Symbol:
		return e, false
	case *ast.Unary:
		operand, changed := o.foldExpr(n.Operand)
		n.Operand = operand
		if imm, ok := operand.(*ast.Imm); ok && n.Op != lang.OpInc && n.Op != lang.OpDec {
			if v, ok := foldUnary(n.Op, n.Type(), imm.Value); ok {
				return immNode(n.Pos(), n.Type(), v), true
			}
		}
		return n, changed
	case *ast.Binary:
		l, lc := o.foldExpr(n.Left)
		r, rc := o.foldExpr(n.Right)
		n.Left, n.Right = l, r
		changed := lc || rc
		if rewritten, ok := tryAlgebraic(n.Op, l, r); ok {
			return rewritten, true
		}
		li, lok := l.(*ast.Imm)
		ri, rok := r.(*ast.Imm)
		if lok && rok {
			if v, ferr, ok := foldBinaryImm(n.Pos(), n.Op, li.Value.Type, n.Type(), li.Value, ri.Value); ok {
				return immNode(n.Pos(), n.Type(), v), true
			} else if ferr != nil {
				o.errs = append(o.errs, ferr)
			}
		}
		return n, changed
	case *ast.Ternary:
		cond, cc := o.foldExpr(n.Cond)
		then, tc := o.foldExpr(n.Then)
		els, ec := o.foldExpr(n.Else)
		n.Cond, n.Then, n.Else = cond, then, els
		changed := cc || tc || ec
		if imm, ok := cond.(*ast.Imm); ok {
			if imm.Value.AsBool() {
				return then, true
			}
			return els, true
		}
		return n, changed
	case *ast.Assign:
		r, rc := o.foldExpr(n.Right)
		n.Right = r
		l, lc := o.foldExpr(n.Left)
		n.Left = l
		return n, rc || lc
	case *ast.Call:
		changed := false
		allImm := true
		args := make([]lang.Const, len(n.Args))
		for i, a := range n.Args {
			na, c := o.foldExpr(a)
			n.Args[i] = na
			if c {
				changed = true
			}
			if imm, ok := na.(*ast.Imm); ok {
				args[i] = imm.Value
			} else {
				allImm = false
			}
		}
		if allImm {
			if info, ok := lang.Intrinsic(n.Callee); ok && info.Fold != nil {
				if v, ok := info.Fold(n.Type(), args); ok {
					return immNode(n.Pos(), n.Type(), v), true
				}
			}
		}
		return n, changed
	case *ast.Cast:
		operand, c := o.foldExpr(n.Operand)
		n.Operand = operand
		if imm, ok := operand.(*ast.Imm); ok {
			v := foldCast(n.Type(), imm.Value)
			return immNode(n.Pos(), n.Type(), v), true
		}
		return n, c
	case *ast.Index:
		operand, oc := o.foldExpr(n.Operand)
		idx, ic := o.foldExpr(n.Idx)
		n.Operand, n.Idx = operand, idx
		changed := oc || ic
		if imm, ok := operand.(*ast.Imm); ok {
			if ii, ok := idx.(*ast.Imm); ok {
				lane := int(ii.Value.AsInt())
				if lane >= 0 && lane < imm.Value.Type.Width {
					v := lang.Const{Type: n.Type()}
					v = v.WithLane(0, imm.Value.Lane(lane))
					return immNode(n.Pos(), n.Type(), v), true
				}
			}
		}
		return n, changed
	case *ast.Swizzle:
		operand, c := o.foldExpr(n.Operand)
		n.Operand = operand
		if imm, ok := operand.(*ast.Imm); ok && len(n.Lanes) > 0 {
			v := lang.Const{Type: n.Type()}
			for i, lane := range n.Lanes {
				v = v.WithLane(i, imm.Value.Lane(lane))
			}
			return immNode(n.Pos(), n.Type(), v), true
		}
		return n, c
	default:
		return e, false
	}
}

func immNode(pos diag.Pos, t lang.Type, v lang.Const) *ast.Imm {
	n := &ast.Imm{Value: v}
	n.P = pos
	n.T = t
	return n
}

// -----------------------------------------------------------------------
// Algebraic identities, applied only when provably safe for both integers
// and floats. A drop of the non-literal operand is only valid when that
// operand has no side effect to preserve.

func tryAlgebraic(op lang.Op, l, r ast.Expr) (ast.Expr, bool) {
	li, lok := l.(*ast.Imm)
	ri, rok := r.(*ast.Imm)
	switch op {
	case lang.OpAdd:
		if lok && isZero(li.Value) {
			return r, true
		}
		if rok && isZero(ri.Value) {
			return l, true
		}
	case lang.OpSub:
		if rok && isZero(ri.Value) {
			return l, true
		}
	case lang.OpMul:
		if lok && isOne(li.Value) {
			return r, true
		}
		if rok && isOne(ri.Value) {
			return l, true
		}
		// x*0 -> 0 is unsafe for float/double (NaN/Inf*0 = NaN), so it is
		// restricted to integral operands.
		if lok && isZero(li.Value) && isIntLike(li.Value.Type) && !hasSideEffect(r) {
			return li, true
		}
		if rok && isZero(ri.Value) && isIntLike(ri.Value.Type) && !hasSideEffect(l) {
			return ri, true
		}
	case lang.OpDiv:
		if rok && isOne(ri.Value) {
			return l, true
		}
	case lang.OpLogAnd:
		if lok && !li.Value.AsBool() && !hasSideEffect(r) {
			return li, true
		}
		if lok && li.Value.AsBool() {
			return r, true
		}
		if rok && !ri.Value.AsBool() && !hasSideEffect(l) {
			return ri, true
		}
	case lang.OpLogOr:
		if lok && li.Value.AsBool() && !hasSideEffect(r) {
			return li, true
		}
		if lok && !li.Value.AsBool() {
			return r, true
		}
		if rok && ri.Value.AsBool() && !hasSideEffect(l) {
			return ri, true
		}
	}
	return nil, false
}

func isIntLike(t lang.Type) bool {
	return t.Scalar == lang.Int || t.Scalar == lang.Bool
}

func isZero(c lang.Const) bool {
	if c.Type.Width == 0 {
		return false
	}
	for i := 0; i < c.Type.Width; i++ {
		if c.Lane(i) != 0 {
			return false
		}
	}
	return true
}

func isOne(c lang.Const) bool {
	if c.Type.Width == 0 {
		return false
	}
	for i := 0; i < c.Type.Width; i++ {
		if c.Lane(i) != 1 {
			return false
		}
	}
	return true
}

// -----------------------------------------------------------------------
// Constant evaluation: integer wraparound is Go's native int32 semantics,
// float/double follow Go's native IEEE-754 float32/float64 arithmetic.

func foldUnary(op lang.Op, t lang.Type, v lang.Const) (lang.Const, bool) {
	out := lang.Const{Type: t}
	switch op {
	case lang.OpNeg:
		switch t.Scalar {
		case lang.Double:
			for i := 0; i < t.Width; i++ {
				out.F64[i] = -v.F64[i]
			}
		case lang.Float:
			for i := 0; i < t.Width; i++ {
				out.I32[i] = int32(math.Float32bits(-math.Float32frombits(uint32(v.I32[i]))))
			}
		default:
			for i := 0; i < t.Width; i++ {
				out.I32[i] = -v.I32[i]
			}
		}
		return out, true
	case lang.OpBitNot:
		for i := 0; i < t.Width; i++ {
			out.I32[i] = ^v.I32[i]
		}
		return out, true
	case lang.OpLogNot:
		return lang.ConstBool(!v.AsBool()), true
	}
	return lang.Const{}, false
}

// foldBinaryImm constant-folds a binary op over two literal operands.
// operandType is the (equal, post-cast) operand type; resultType is the
// node's own type, which differs from operandType for compares and
// logical ops (always bool).
func foldBinaryImm(pos diag.Pos, op lang.Op, operandType, resultType lang.Type, a, b lang.Const) (lang.Const, *diag.Error, bool) {
	if op.IsLogical() {
		av, bv := a.AsBool(), b.AsBool()
		r := av && bv
		if op == lang.OpLogOr {
			r = av || bv
		}
		return lang.ConstBool(r), nil, true
	}
	if op.IsCompare() {
		return foldCompare(op, operandType, a, b), nil, true
	}
	switch operandType.Scalar {
	case lang.Double:
		return foldArithDouble(op, operandType, a, b)
	case lang.Float:
		return foldArithFloat(op, operandType, a, b)
	default:
		return foldArithInt(pos, op, operandType, a, b)
	}
}

func foldCompare(op lang.Op, t lang.Type, a, b lang.Const) lang.Const {
	var av, bv float64
	if t.Scalar == lang.Int || t.Scalar == lang.Bool {
		av, bv = float64(a.I32[0]), float64(b.I32[0])
	} else {
		av, bv = a.Lane(0), b.Lane(0)
	}
	var r bool
	switch op {
	case lang.OpEq:
		r = av == bv
	case lang.OpNe:
		r = av != bv
	case lang.OpLt:
		r = av < bv
	case lang.OpLe:
		r = av <= bv
	case lang.OpGt:
		r = av > bv
	case lang.OpGe:
		r = av >= bv
	}
	return lang.ConstBool(r)
}

func foldArithInt(pos diag.Pos, op lang.Op, t lang.Type, a, b lang.Const) (lang.Const, *diag.Error, bool) {
	out := lang.Const{Type: t}
	for i := 0; i < t.Width; i++ {
		x, y := a.I32[i], b.I32[i]
		switch op {
		case lang.OpAdd:
			out.I32[i] = x + y
		case lang.OpSub:
			out.I32[i] = x - y
		case lang.OpMul:
			out.I32[i] = x * y
		case lang.OpDiv:
			if y == 0 {
				return lang.Const{}, diag.New(diag.InvalidArgument, pos, "division by zero in constant expression"), false
			}
			out.I32[i] = x / y
		case lang.OpMod:
			if y == 0 {
				return lang.Const{}, diag.New(diag.InvalidArgument, pos, "modulo by zero in constant expression"), false
			}
			out.I32[i] = x % y
		case lang.OpBitAnd:
			out.I32[i] = x & y
		case lang.OpBitOr:
			out.I32[i] = x | y
		case lang.OpBitXor:
			out.I32[i] = x ^ y
		case lang.OpShl:
			out.I32[i] = x << uint(y&31)
		case lang.OpShr:
			out.I32[i] = x >> uint(y&31)
		default:
			return lang.Const{}, nil, false
		}
	}
	return out, nil, true
}

func foldArithFloat(op lang.Op, t lang.Type, a, b lang.Const) (lang.Const, *diag.Error, bool) {
	out := lang.Const{Type: t}
	for i := 0; i < t.Width; i++ {
		x := math.Float32frombits(uint32(a.I32[i]))
		y := math.Float32frombits(uint32(b.I32[i]))
		var r float32
		switch op {
		case lang.OpAdd:
			r = x + y
		case lang.OpSub:
			r = x - y
		case lang.OpMul:
			r = x * y
		case lang.OpDiv:
			r = x / y // IEEE-754: division by zero yields +-Inf/NaN, not a fold error
		default:
			return lang.Const{}, nil, false
		}
		out.I32[i] = int32(math.Float32bits(r))
	}
	return out, nil, true
}

func foldArithDouble(op lang.Op, t lang.Type, a, b lang.Const) (lang.Const, *diag.Error, bool) {
	out := lang.Const{Type: t}
	for i := 0; i < t.Width; i++ {
		x, y := a.F64[i], b.F64[i]
		var r float64
		switch op {
		case lang.OpAdd:
			r = x + y
		case lang.OpSub:
			r = x - y
		case lang.OpMul:
			r = x * y
		case lang.OpDiv:
			r = x / y
		default:
			return lang.Const{}, nil, false
		}
		out.F64[i] = r
	}
	return out, nil, true
}

func foldCast(t lang.Type, v lang.Const) lang.Const {
	out := lang.Const{Type: t}
	srcWidth := v.Type.Width
	if srcWidth == 0 {
		srcWidth = 1
	}
	for i := 0; i < t.Width; i++ {
		lane := v.Lane(i % srcWidth)
		switch t.Scalar {
		case lang.Double:
			out.F64[i] = lane
		case lang.Float:
			out.I32[i] = int32(math.Float32bits(float32(lane)))
		case lang.Bool:
			r := int32(0)
			if lane != 0 {
				r = 1
			}
			out.I32[i] = r
		default:
			out.I32[i] = int32(lane)
		}
	}
	return out
}
