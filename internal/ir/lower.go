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
package ir

import (
	"github.com/mpsl-lang/mpsl/internal/ast"
	"github.com/mpsl-lang/mpsl/internal/lang"
	"github.com/mpsl-lang/mpsl/internal/xutil"
)

// retMemberName is the reserved WO-only layout member a function's `return
// expr;` stores into.
const retMemberName = "@ret"

// MemberInfo mirrors one resolved Layout member for the lowerer; it carries
// just enough to build a Mem operand, so this package never has to import
// the root package or sema.
type MemberInfo struct {
	Name   string
	Type   lang.Type
	Offset int
}

// Layout is the narrow view of a program's bound argument frame that
// lowering needs.
type Layout interface {
	Members() []MemberInfo
}

// LocalRef addresses one local variable's or parameter's slot in the
// function's private local frame, the same base+offset shape as Mem but in
// a distinct address space (the backend gives it a stack-relative base
// register instead of the layout pointer).
type LocalRef struct {
	T      lang.Type
	Offset int
	Name   string
}

func (l *LocalRef) Kind() ObjKind   { return KindLocal }
func (l *LocalRef) Type() lang.Type { return l.T }

type scope struct {
	vars map[string]*LocalRef
}

func newScope() *scope { return &scope{vars: make(map[string]*LocalRef)} }

// loopCtx records the jump targets for the innermost enclosing loop's
// break/continue statements.
type loopCtx struct {
	continueTo int
	breakTo    int
}

// Lowerer walks one analyzed ast.Function and emits its IR body.
//
// Local variables and parameters are modeled as frame slots (LocalRef),
// fetched and stored explicitly on every read/write, rather than chased
// through SSA phi insertion across loop back edges: a loop body's `x = x +
// 1` needs the header's condition check to see each iteration's updated
// value, which plain single-assignment Vars can't express without a
// dominator-based renaming pass. Reads always re-fetch, so a loop's back
// edge is correct by construction with no extra machinery. Var (true single
// assignment) is reserved for straight-line sub-expression temporaries and
// for the two constructs that merge two values at one control-flow point
// within a single expression — ternary and short-circuit && / || — which
// lower to an explicit Phi instead.
//
// Layout members are different: they are the function's true external
// inputs, so a read is cached in fetch and reused by later reads of the
// same member in the block that issued it; a read from any other block
// issues a fresh fetch, and a write to that member invalidates the entry.
type Lowerer struct {
	fn         *Func
	members    map[string]MemberInfo
	scopes     []*scope
	fetch      map[string]*Var
	cur        *Block
	loops      []loopCtx
	localBytes int
}

// Lower builds the IR for one analyzed function body.
func Lower(fnAst *ast.Function, layout Layout) *Func {
	lw := &Lowerer{
		fn:      NewFunc(fnAst.Name),
		members: make(map[string]MemberInfo),
		fetch:   make(map[string]*Var),
	}
	for _, m := range layout.Members() {
		lw.members[m.Name] = m
	}

	entry := lw.fn.NewBlock(BlockGoto, "entry")
	lw.fn.Entry = entry.Id
	lw.cur = entry
	lw.pushScope()

	for i, p := range fnAst.Params {
		pv := lw.fn.NewVar(p.Type)
		inst := lw.cur.Emit(OpParam, RoleMov, WidthClassFor(p.Type), pv)
		inst.Index = i
		slot := lw.newLocal(p.Name, p.Type)
		lw.cur.Emit(OpStore, RoleStore, WidthClassFor(p.Type), nil, slot, pv)
	}

	lw.lowerBlock(fnAst.Body)
	if blockOpen(lw.cur) {
		lw.cur.Emit(OpRet, RoleRet, ScalarWidth, nil)
		lw.cur.Kind = BlockReturn
	}
	lw.popScope()
	lw.fn.LocalBytes = lw.localBytes
	return lw.fn
}

// blockOpen reports whether b still needs a fallthrough successor wired: it
// has no outgoing edge yet and was not sealed by a return.
func blockOpen(b *Block) bool {
	return b.Kind != BlockReturn && len(b.Succs) == 0
}

func (lw *Lowerer) pushScope() { lw.scopes = append(lw.scopes, newScope()) }
func (lw *Lowerer) popScope()  { lw.scopes = lw.scopes[:len(lw.scopes)-1] }

func (lw *Lowerer) newLocal(name string, t lang.Type) *LocalRef {
	lw.localBytes = xutil.Align(lw.localBytes, t.Align())
	slot := &LocalRef{T: t, Offset: lw.localBytes, Name: name}
	lw.localBytes += t.Size()
	lw.scopes[len(lw.scopes)-1].vars[name] = slot
	return slot
}

func (lw *Lowerer) lookupLocal(name string) (*LocalRef, bool) {
	for i := len(lw.scopes) - 1; i >= 0; i-- {
		if v, ok := lw.scopes[i].vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// -----------------------------------------------------------------------
// Statements

func (lw *Lowerer) lowerBlock(b *ast.Block) {
	for _, s := range b.Stmts {
		lw.lowerStmt(s)
		if !blockOpen(lw.cur) {
			return // rest of this (already terminator-pruned) block is unreachable
		}
	}
}

func (lw *Lowerer) lowerStmt(s ast.Stmt) {
	switch n := s.(type) {
	case *ast.VarDecl:
		lw.lowerVarDecl(n)
	case *ast.Return:
		lw.lowerReturn(n)
	case *ast.If:
		lw.lowerIf(n)
	case *ast.For:
		lw.lowerFor(n)
	case *ast.While:
		lw.lowerWhile(n)
	case *ast.DoWhile:
		lw.lowerDoWhile(n)
	case *ast.Break:
		lw.lowerBreak()
	case *ast.Continue:
		lw.lowerContinue()
	case *ast.Block:
		lw.pushScope()
		lw.lowerBlock(n)
		lw.popScope()
	case *ast.ExprStmt:
		lw.lowerExpr(n.X)
	default:
		xutil.Unimplement()
	}
}

func (lw *Lowerer) lowerVarDecl(n *ast.VarDecl) {
	slot := lw.newLocal(n.Name, n.Type)
	var val Obj
	if n.Init != nil {
		val = lw.lowerExpr(n.Init)
	} else {
		val = &Imm{T: n.Type, Value: lang.Const{Type: n.Type}}
	}
	lw.cur.Emit(OpStore, RoleStore, WidthClassFor(n.Type), nil, slot, val)
}

func (lw *Lowerer) lowerReturn(n *ast.Return) {
	if n.Value != nil {
		v := lw.lowerExpr(n.Value)
		if m, ok := lw.members[retMemberName]; ok {
			lw.cur.Emit(OpStore, RoleStore, WidthClassFor(m.Type), nil,
				&Mem{T: m.Type, Offset: m.Offset, Name: retMemberName}, v)
		}
	}
	lw.cur.Emit(OpRet, RoleRet, ScalarWidth, nil)
	lw.cur.Kind = BlockReturn
}

func (lw *Lowerer) lowerBreak() {
	lp := lw.loops[len(lw.loops)-1]
	target := lw.fn.Block(lp.breakTo)
	lw.fn.WireTo(lw.cur, target)
	lw.cur.Emit(OpJump, RoleBranch, ScalarWidth, nil, &BlockRef{Block: target.Id})
}

func (lw *Lowerer) lowerContinue() {
	lp := lw.loops[len(lw.loops)-1]
	target := lw.fn.Block(lp.continueTo)
	lw.fn.WireTo(lw.cur, target)
	lw.cur.Emit(OpJump, RoleBranch, ScalarWidth, nil, &BlockRef{Block: target.Id})
}

func (lw *Lowerer) lowerIf(n *ast.If) {
	condBlk := lw.cur
	cond := lw.lowerExpr(n.Cond)
	condBlk = lw.cur // cond evaluation may itself have branched (e.g. &&/||)
	condBlk.Kind = BlockIf
	condBlk.Ctrl = cond

	thenBlk := lw.fn.NewBlock(BlockGoto, "if.then")
	mergeBlk := lw.fn.NewBlock(BlockGoto, "if.end")
	condBlk.Emit(OpBranch, RoleBranch, ScalarWidth, nil, cond, &BlockRef{Block: thenBlk.Id})

	var elseBlk *Block
	if n.Else != nil {
		elseBlk = lw.fn.NewBlock(BlockGoto, "if.else")
		lw.fn.WireTo(condBlk, thenBlk)
		lw.fn.WireTo(condBlk, elseBlk)
	} else {
		lw.fn.WireTo(condBlk, thenBlk)
		lw.fn.WireTo(condBlk, mergeBlk)
	}

	lw.cur = thenBlk
	lw.pushScope()
	lw.lowerBlock(n.Then)
	lw.popScope()
	if blockOpen(lw.cur) {
		lw.fn.WireTo(lw.cur, mergeBlk)
		lw.cur.Emit(OpJump, RoleBranch, ScalarWidth, nil, &BlockRef{Block: mergeBlk.Id})
	}

	if n.Else != nil {
		lw.cur = elseBlk
		lw.lowerStmt(n.Else)
		if blockOpen(lw.cur) {
			lw.fn.WireTo(lw.cur, mergeBlk)
			lw.cur.Emit(OpJump, RoleBranch, ScalarWidth, nil, &BlockRef{Block: mergeBlk.Id})
		}
	}

	lw.cur = mergeBlk
}

func (lw *Lowerer) lowerFor(n *ast.For) {
	lw.pushScope()
	preheader := lw.cur
	if n.Init != nil {
		lw.lowerStmt(n.Init)
		preheader = lw.cur
	}

	header := lw.fn.NewBlock(BlockGoto, "for.header")
	body := lw.fn.NewBlock(BlockGoto, "for.body")
	latch := lw.fn.NewBlock(BlockGoto, "for.latch")
	exit := lw.fn.NewBlock(BlockGoto, "for.exit")

	lw.fn.WireTo(preheader, header)
	preheader.Emit(OpJump, RoleBranch, ScalarWidth, nil, &BlockRef{Block: header.Id})

	lw.cur = header
	if n.Cond != nil {
		cond := lw.lowerExpr(n.Cond)
		header = lw.cur
		header.Kind = BlockIf
		header.Ctrl = cond
		header.Emit(OpBranch, RoleBranch, ScalarWidth, nil, cond, &BlockRef{Block: body.Id})
		lw.fn.WireTo(header, body)
		lw.fn.WireTo(header, exit)
	} else {
		header.Emit(OpJump, RoleBranch, ScalarWidth, nil, &BlockRef{Block: body.Id})
		lw.fn.WireTo(header, body)
	}

	lw.loops = append(lw.loops, loopCtx{continueTo: latch.Id, breakTo: exit.Id})
	lw.cur = body
	lw.pushScope()
	lw.lowerBlock(n.Body)
	lw.popScope()
	if blockOpen(lw.cur) {
		lw.fn.WireTo(lw.cur, latch)
		lw.cur.Emit(OpJump, RoleBranch, ScalarWidth, nil, &BlockRef{Block: latch.Id})
	}
	lw.loops = lw.loops[:len(lw.loops)-1]

	lw.cur = latch
	if n.Post != nil {
		lw.lowerStmt(n.Post)
	}
	if blockOpen(lw.cur) {
		lw.fn.WireTo(lw.cur, header)
		lw.cur.Emit(OpJump, RoleBranch, ScalarWidth, nil, &BlockRef{Block: header.Id})
	}

	lw.cur = exit
	lw.popScope()
}

func (lw *Lowerer) lowerWhile(n *ast.While) {
	preheader := lw.cur
	header := lw.fn.NewBlock(BlockGoto, "while.header")
	body := lw.fn.NewBlock(BlockGoto, "while.body")
	exit := lw.fn.NewBlock(BlockGoto, "while.exit")

	lw.fn.WireTo(preheader, header)
	preheader.Emit(OpJump, RoleBranch, ScalarWidth, nil, &BlockRef{Block: header.Id})

	lw.cur = header
	cond := lw.lowerExpr(n.Cond)
	header = lw.cur
	header.Kind = BlockIf
	header.Ctrl = cond
	header.Emit(OpBranch, RoleBranch, ScalarWidth, nil, cond, &BlockRef{Block: body.Id})
	lw.fn.WireTo(header, body)
	lw.fn.WireTo(header, exit)

	lw.loops = append(lw.loops, loopCtx{continueTo: header.Id, breakTo: exit.Id})
	lw.cur = body
	lw.pushScope()
	lw.lowerBlock(n.Body)
	lw.popScope()
	if blockOpen(lw.cur) {
		lw.fn.WireTo(lw.cur, header)
		lw.cur.Emit(OpJump, RoleBranch, ScalarWidth, nil, &BlockRef{Block: header.Id})
	}
	lw.loops = lw.loops[:len(lw.loops)-1]

	lw.cur = exit
}

func (lw *Lowerer) lowerDoWhile(n *ast.DoWhile) {
	preheader := lw.cur
	body := lw.fn.NewBlock(BlockGoto, "do.body")
	header := lw.fn.NewBlock(BlockGoto, "do.header")
	exit := lw.fn.NewBlock(BlockGoto, "do.exit")

	lw.fn.WireTo(preheader, body)
	preheader.Emit(OpJump, RoleBranch, ScalarWidth, nil, &BlockRef{Block: body.Id})

	lw.loops = append(lw.loops, loopCtx{continueTo: header.Id, breakTo: exit.Id})
	lw.cur = body
	lw.pushScope()
	lw.lowerBlock(n.Body)
	lw.popScope()
	if blockOpen(lw.cur) {
		lw.fn.WireTo(lw.cur, header)
		lw.cur.Emit(OpJump, RoleBranch, ScalarWidth, nil, &BlockRef{Block: header.Id})
	}
	lw.loops = lw.loops[:len(lw.loops)-1]

	lw.cur = header
	cond := lw.lowerExpr(n.Cond)
	header = lw.cur
	header.Kind = BlockIf
	header.Ctrl = cond
	header.Emit(OpBranch, RoleBranch, ScalarWidth, nil, cond, &BlockRef{Block: body.Id})
	lw.fn.WireTo(header, body)
	lw.fn.WireTo(header, exit)

	lw.cur = exit
}

// -----------------------------------------------------------------------
// Expressions

func (lw *Lowerer) lowerExpr(e ast.Expr) Obj {
	switch n := e.(type) {
	case *ast.Imm:
		return &Imm{T: n.Type(), Value: n.Value}
	case *ast.Symbol:
		return lw.readSymbol(n.Name, n.Type())
	case *ast.Unary:
		return lw.lowerUnary(n)
	case *ast.Binary:
		return lw.lowerBinary(n)
	case *ast.Ternary:
		return lw.lowerTernary(n)
	case *ast.Assign:
		return lw.lowerAssign(n)
	case *ast.Call:
		return lw.lowerCall(n)
	case *ast.Cast:
		return lw.lowerCast(n)
	case *ast.Index:
		return lw.lowerIndex(n)
	case *ast.Swizzle:
		return lw.lowerSwizzle(n)
	}
	xutil.Unimplement()
	return nil
}

func (lw *Lowerer) readSymbol(name string, t lang.Type) Obj {
	if slot, ok := lw.lookupLocal(name); ok {
		v := lw.fn.NewVar(slot.T)
		lw.cur.Emit(OpFetch, RoleFetch, WidthClassFor(slot.T), v, slot)
		return v
	}
	if m, ok := lw.members[name]; ok {
		if cached, ok := lw.fetch[name]; ok {
			for _, inst := range lw.cur.Insts {
				if inst.Result == cached {
					return cached
				}
			}
		}
		v := lw.fn.NewVar(m.Type)
		lw.cur.Emit(OpFetch, RoleFetch, WidthClassFor(m.Type), v, &Mem{T: m.Type, Offset: m.Offset, Name: name})
		lw.fetch[name] = v
		return v
	}
	xutil.ShouldNotReachHere()
	return nil
}

// storeLValue writes val through lhs, returning val: an Assign yields the
// value it stored.
func (lw *Lowerer) storeLValue(lhs ast.Expr, val Obj) Obj {
	switch e := lhs.(type) {
	case *ast.Symbol:
		if slot, ok := lw.lookupLocal(e.Name); ok {
			lw.cur.Emit(OpStore, RoleStore, WidthClassFor(slot.T), nil, slot, val)
			return val
		}
		if m, ok := lw.members[e.Name]; ok {
			lw.cur.Emit(OpStore, RoleStore, WidthClassFor(m.Type), nil,
				&Mem{T: m.Type, Offset: m.Offset, Name: e.Name}, val)
			delete(lw.fetch, e.Name) // a write invalidates any cached read of this member
			return val
		}
		xutil.ShouldNotReachHere()
	case *ast.Swizzle:
		return lw.storeSwizzle(e, val)
	case *ast.Index:
		return lw.storeIndex(e, val)
	}
	xutil.Unimplement()
	return nil
}

func (lw *Lowerer) lowerUnary(n *ast.Unary) Obj {
	switch n.Op {
	case lang.OpInc, lang.OpDec:
		old := lw.lowerExpr(n.Operand)
		opType := n.Operand.Type().WithAccess(0)
		one := &Imm{T: opType, Value: oneConst(opType)}
		base := lang.OpAdd
		if n.Op == lang.OpDec {
			base = lang.OpSub
		}
		newVal := lw.emitBinaryOp(opType, base, old, one)
		lw.storeLValue(n.Operand, newVal)
		if n.Postfix {
			return old
		}
		return newVal
	case lang.OpNeg:
		v := lw.lowerExpr(n.Operand)
		r := lw.fn.NewVar(n.Type())
		lw.cur.Emit(OpNeg, RoleArith, WidthClassFor(n.Type()), r, v)
		return r
	case lang.OpBitNot:
		v := lw.lowerExpr(n.Operand)
		r := lw.fn.NewVar(n.Type())
		lw.cur.Emit(OpNot, RoleArith, WidthClassFor(n.Type()), r, v)
		return r
	case lang.OpLogNot:
		v := lw.lowerExpr(n.Operand)
		r := lw.fn.NewVar(n.Type())
		lw.cur.Emit(OpLogNot, RoleArith, ScalarWidth, r, v)
		return r
	}
	xutil.Unimplement()
	return nil
}

func oneConst(t lang.Type) lang.Const {
	switch t.Scalar {
	case lang.Double:
		return lang.ConstDouble(1)
	case lang.Float:
		return lang.ConstFloat(1)
	default:
		return lang.ConstInt(1)
	}
}

func (lw *Lowerer) lowerBinary(n *ast.Binary) Obj {
	if n.Op.IsShortCircuit() {
		return lw.lowerShortCircuit(n)
	}
	l := lw.lowerExpr(n.Left)
	r := lw.lowerExpr(n.Right)
	return lw.emitBinaryOp(n.Left.Type(), n.Op, l, r)
}

// lowerShortCircuit lowers && / || to a branch diamond: the left operand
// decides whether the right one is ever evaluated, and the result merges
// at one Phi.
func (lw *Lowerer) lowerShortCircuit(n *ast.Binary) Obj {
	l := lw.lowerExpr(n.Left)
	lhsBlk := lw.cur
	rhsBlk := lw.fn.NewBlock(BlockGoto, "sc.rhs")
	mergeBlk := lw.fn.NewBlock(BlockGoto, "sc.merge")

	lhsBlk.Kind = BlockIf
	lhsBlk.Ctrl = l
	shortCircuitsTrue := n.Op == lang.OpLogOr
	if shortCircuitsTrue {
		lhsBlk.Emit(OpBranch, RoleBranch, ScalarWidth, nil, l, &BlockRef{Block: mergeBlk.Id})
		lw.fn.WireTo(lhsBlk, mergeBlk)
		lw.fn.WireTo(lhsBlk, rhsBlk)
	} else {
		lhsBlk.Emit(OpBranch, RoleBranch, ScalarWidth, nil, l, &BlockRef{Block: rhsBlk.Id})
		lw.fn.WireTo(lhsBlk, rhsBlk)
		lw.fn.WireTo(lhsBlk, mergeBlk)
	}

	lw.cur = rhsBlk
	r := lw.lowerExpr(n.Right)
	lw.fn.WireTo(rhsBlk, mergeBlk)
	rhsBlk.Emit(OpJump, RoleBranch, ScalarWidth, nil, &BlockRef{Block: mergeBlk.Id})

	lw.cur = mergeBlk
	shortImm := &Imm{T: lang.TBool, Value: lang.ConstBool(shortCircuitsTrue)}
	result := lw.fn.NewVar(lang.TBool)
	// Phi args follow mergeBlk.Preds order: lhsBlk's edge was wired first.
	mergeBlk.Emit(OpPhi, RoleMov, ScalarWidth, result, shortImm, r)
	return result
}

func (lw *Lowerer) lowerTernary(n *ast.Ternary) Obj {
	cond := lw.lowerExpr(n.Cond)
	condBlk := lw.cur
	condBlk.Kind = BlockIf
	condBlk.Ctrl = cond

	thenBlk := lw.fn.NewBlock(BlockGoto, "sel.then")
	elseBlk := lw.fn.NewBlock(BlockGoto, "sel.else")
	mergeBlk := lw.fn.NewBlock(BlockGoto, "sel.merge")
	condBlk.Emit(OpBranch, RoleBranch, ScalarWidth, nil, cond, &BlockRef{Block: thenBlk.Id})
	lw.fn.WireTo(condBlk, thenBlk)
	lw.fn.WireTo(condBlk, elseBlk)

	lw.cur = thenBlk
	thenVal := lw.lowerExpr(n.Then)
	lw.fn.WireTo(thenBlk, mergeBlk)
	thenBlk.Emit(OpJump, RoleBranch, ScalarWidth, nil, &BlockRef{Block: mergeBlk.Id})

	lw.cur = elseBlk
	elseVal := lw.lowerExpr(n.Else)
	lw.fn.WireTo(elseBlk, mergeBlk)
	elseBlk.Emit(OpJump, RoleBranch, ScalarWidth, nil, &BlockRef{Block: mergeBlk.Id})

	lw.cur = mergeBlk
	result := lw.fn.NewVar(n.Type())
	mergeBlk.Emit(OpPhi, RoleMov, WidthClassFor(n.Type()), result, thenVal, elseVal)
	return result
}

func (lw *Lowerer) lowerAssign(n *ast.Assign) Obj {
	if n.Op == lang.OpAssign {
		rhs := lw.lowerExpr(n.Right)
		return lw.storeLValue(n.Left, rhs)
	}
	base := n.Op.CompoundBase()
	cur := lw.lowerExpr(n.Left)
	rhs := lw.lowerExpr(n.Right)
	combined := lw.emitBinaryOp(n.Left.Type().WithAccess(0), base, cur, rhs)
	return lw.storeLValue(n.Left, combined)
}

func (lw *Lowerer) lowerCall(n *ast.Call) Obj {
	args := make([]Obj, len(n.Args))
	for i, a := range n.Args {
		args[i] = lw.lowerExpr(a)
	}
	if info, ok := lang.Intrinsic(n.Callee); ok {
		r := lw.fn.NewVar(n.Type())
		lw.cur.Emit(intrinsicOp(info.Kind), RoleArith, WidthClassFor(n.Type()), r, args...)
		return r
	}
	r := lw.fn.NewVar(n.Type())
	inst := lw.cur.Emit(OpCall, RoleCall, WidthClassFor(n.Type()), r, args...)
	inst.Callee = n.Callee
	return r
}

func intrinsicOp(k lang.IntrinsicKind) Op {
	switch k {
	case lang.Sqrt:
		return OpSqrt
	case lang.Abs:
		return OpAbs
	case lang.Min:
		return OpMin
	case lang.Max:
		return OpMax
	case lang.Floor:
		return OpFloor
	case lang.Ceil:
		return OpCeil
	case lang.Round:
		return OpRound
	case lang.Trunc:
		return OpTrunc
	case lang.Pow:
		return OpPow
	case lang.Exp:
		return OpExp
	case lang.Log:
		return OpLog
	case lang.Sin:
		return OpSin
	case lang.Cos:
		return OpCos
	case lang.Tan:
		return OpTan
	case lang.VAddW:
		return OpVAddW
	case lang.VMulW:
		return OpVMulW
	case lang.VSrlW:
		return OpVSrlW
	}
	xutil.Unimplement()
	return OpNone
}

func (lw *Lowerer) lowerCast(n *ast.Cast) Obj {
	v := lw.lowerExpr(n.Operand)
	r := lw.fn.NewVar(n.Type())
	lw.cur.Emit(OpCvt, RoleCvt, WidthClassFor(n.Type()), r, v)
	return r
}

func (lw *Lowerer) lowerIndex(n *ast.Index) Obj {
	base := lw.lowerExpr(n.Operand)
	idx := lw.lowerExpr(n.Idx)
	r := lw.fn.NewVar(n.Type())
	lw.cur.Emit(OpIndex, RoleArith, WidthClassFor(n.Type()), r, base, idx)
	return r
}

// storeIndex blends val into base at a dynamic lane index. The backend
// tells this apart from a static swizzle-store by argument shape: three
// Args and no resolved Lanes, versus two Args plus Lanes for a swizzle.
func (lw *Lowerer) storeIndex(e *ast.Index, val Obj) Obj {
	base := lw.lowerExpr(e.Operand)
	idx := lw.lowerExpr(e.Idx)
	r := lw.fn.NewVar(e.Operand.Type())
	lw.cur.Emit(OpBlend, RoleArith, WidthClassFor(e.Operand.Type()), r, base, val, idx)
	lw.storeLValue(e.Operand, r)
	return val
}

func (lw *Lowerer) lowerSwizzle(n *ast.Swizzle) Obj {
	base := lw.lowerExpr(n.Operand)
	r := lw.fn.NewVar(n.Type())
	inst := lw.cur.Emit(OpSwizzle, RoleArith, WidthClassFor(n.Type()), r, base)
	inst.Lanes = n.Lanes
	return r
}

// storeSwizzle blends val's lanes into base at the statically resolved mask
// positions, keeping base's other lanes.
func (lw *Lowerer) storeSwizzle(e *ast.Swizzle, val Obj) Obj {
	base := lw.lowerExpr(e.Operand)
	r := lw.fn.NewVar(e.Operand.Type())
	inst := lw.cur.Emit(OpBlend, RoleArith, WidthClassFor(e.Operand.Type()), r, base, val)
	inst.Lanes = e.Lanes
	lw.storeLValue(e.Operand, r)
	return val
}

// -----------------------------------------------------------------------
// Shared binary-op emission

func irOpFor(op lang.Op) (Op, Role) {
	switch op {
	case lang.OpAdd:
		return OpAdd, RoleArith
	case lang.OpSub:
		return OpSub, RoleArith
	case lang.OpMul:
		return OpMul, RoleArith
	case lang.OpDiv:
		return OpDiv, RoleArith
	case lang.OpMod:
		return OpMod, RoleArith
	case lang.OpBitAnd:
		return OpAnd, RoleArith
	case lang.OpBitOr:
		return OpOr, RoleArith
	case lang.OpBitXor:
		return OpXor, RoleArith
	case lang.OpShl:
		return OpShl, RoleArith
	case lang.OpShr:
		return OpShr, RoleArith
	case lang.OpEq:
		return OpCmpEq, RoleCmp
	case lang.OpNe:
		return OpCmpNe, RoleCmp
	case lang.OpLt:
		return OpCmpLt, RoleCmp
	case lang.OpLe:
		return OpCmpLe, RoleCmp
	case lang.OpGt:
		return OpCmpGt, RoleCmp
	case lang.OpGe:
		return OpCmpGe, RoleCmp
	}
	xutil.Unimplement()
	return OpNone, RoleArith
}

func (lw *Lowerer) emitBinaryOp(t lang.Type, op lang.Op, a, b Obj) *Var {
	irop, role := irOpFor(op)
	resT := t
	if role == RoleCmp {
		resT = lang.TBool.WithAccess(0)
		if t.IsVector() {
			resT = lang.TQBool4
		}
	}
	v := lw.fn.NewVar(resT)
	lw.cur.Emit(irop, role, WidthClassFor(t), v, a, b)
	return v
}
