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
package codegen

import (
	"fmt"
	"math"

	"github.com/mpsl-lang/mpsl/internal/ir"
	"github.com/mpsl-lang/mpsl/internal/lang"
	"github.com/mpsl-lang/mpsl/internal/xutil"
)

// LIRBlock mirrors one ir.Block after instruction selection: same Id and
// the same block-index Preds/Succs shape, which sidesteps the cyclic
// pointer references a back-edge would otherwise require.
type LIRBlock struct {
	Id    int
	Insts []*Instruction
	Succs []int
	Preds []int

	bodyEnd int // len(Insts) right after its own body, before its terminator
}

// LIRFunc is one selected function, ready for register allocation.
type LIRFunc struct {
	Name      string
	Blocks    []*LIRBlock
	Entry     int
	NumVRegs  int
	FrameSize int    // bytes of LocalRef stack frame, carried from ir.Lowerer
	Texts     []Text // rodata literal pool referenced by this function's Text operands
}

// selector threads the state of one function's instruction selection: the
// virtual-register map for every ir.Var, the rodata literal pool, and the
// running instruction id counter LSRA numbers positions from.
type selector struct {
	fn        *LIRFunc
	vregs     map[*ir.Var]Register
	nextVReg  int
	nextInst  int
	texts     []Text
	cur       *LIRBlock
	compareOf map[Register]ir.Op // result reg of a just-selected compare -> its ir condition
}

// Select lowers fn into x86-64 LIR block by block, resolving each Phi into
// moves inserted at the end of its predecessor blocks rather than carrying
// Phi nodes any further through the pipeline.
func Select(fn *ir.Func, localBytes int) *LIRFunc {
	s := &selector{
		fn:        &LIRFunc{Name: fn.Name, Entry: fn.Entry, FrameSize: localBytes},
		vregs:     map[*ir.Var]Register{},
		compareOf: map[Register]ir.Op{},
	}
	for _, b := range fn.Blocks {
		s.fn.Blocks = append(s.fn.Blocks, &LIRBlock{Id: b.Id, Succs: append([]int{}, b.Succs...), Preds: append([]int{}, b.Preds...)})
	}
	for _, b := range fn.Blocks {
		s.cur = s.fn.Blocks[b.Id]
		s.lowerBlock(b)
		s.cur.bodyEnd = len(s.cur.Insts)
		s.lowerControl(b)
	}
	s.fn.NumVRegs = s.nextVReg
	s.fn.Texts = s.texts
	return s.fn
}

func (s *selector) newVReg(t *LIRType) Register {
	r := Register{Index: s.nextVReg, Virtual: true, Type: t}
	s.nextVReg++
	return r
}

func (s *selector) vreg(v *ir.Var) Register {
	if r, ok := s.vregs[v]; ok {
		return r
	}
	r := s.newVReg(GetLIRType(v.Type()))
	s.vregs[v] = r
	return r
}

func (s *selector) emit(op LIROp, result IOperand, args ...IOperand) *Instruction {
	inst := &Instruction{Op: op, Result: result, Args: args, Id: s.nextInst}
	s.nextInst++
	s.cur.Insts = append(s.cur.Insts, inst)
	return inst
}

// operand resolves an ir.Obj to its LIR operand, materializing a Fetch for
// Mem/LocalRef reads and a constant load for Imm.
func (s *selector) operand(o ir.Obj) IOperand {
	switch v := o.(type) {
	case *ir.Var:
		return s.vreg(v)
	case *ir.Imm:
		return s.constOperand(v.T, v.Value)
	default:
		xutil.ShouldNotReachHere()
	}
	return nil
}

func (s *selector) constOperand(t lang.Type, c lang.Const) IOperand {
	lt := GetLIRType(t)
	switch {
	case t.IsIntegral() && t.IsScalar():
		return Imm{Type: lt, Value: int64(c.AsInt())}
	case t.Scalar == lang.Float && t.IsScalar():
		txt := s.internText(TextFloat, f32bits(float32(c.AsDouble())))
		r := s.newVReg(LIRTypeVector16S)
		s.emit(LIR_Mov, r, txt)
		return r
	case t.Scalar == lang.Double && t.IsScalar():
		txt := s.internText(TextDouble, f64bits(c.AsDouble()))
		r := s.newVReg(LIRTypeVector16D)
		s.emit(LIR_Mov, r, txt)
		return r
	default:
		// wide vector constants: load each lane and shuffle it into place.
		r := s.newVReg(lt)
		for i := 0; i < t.Width; i++ {
			lane := s.constOperand(lang.T(t.Scalar, 1), laneConst(t, c, i))
			s.emit(LIR_Shuffle, r, lane, Imm{Type: LIRTypeDWord, Value: int64(i)})
		}
		return r
	}
}

func laneConst(t lang.Type, c lang.Const, i int) lang.Const {
	switch t.Scalar {
	case lang.Double:
		return lang.ConstDouble(c.Lane(i))
	case lang.Float:
		return lang.ConstFloat(c.Lane(i))
	default:
		return lang.ConstInt(int32(c.Lane(i)))
	}
}

func (s *selector) internText(kind TextKind, value string) Text {
	id := len(s.texts)
	t := Text{Id: id, Kind: kind, Value: value}
	s.texts = append(s.texts, t)
	return t
}

// f32bits/f64bits render a float/double constant as the hex bit pattern
// the encoder's rodata pass parses back out with strconv, so the literal's
// exact bits survive the Text round-trip rather than a decimal re-parse.
func f32bits(f float32) string { return fmt.Sprintf("%#08x", math.Float32bits(f)) }
func f64bits(f float64) string { return fmt.Sprintf("%#016x", math.Float64bits(f)) }

// lowerBlock selects every non-terminator instruction of b in order. Phi
// resolution happens here rather than in a separate pass: each OpPhi names
// one result Var merged from b.Preds, so lowerPhi inserts the move each
// predecessor needs straight into that predecessor's already-selected
// LIRBlock, at its bodyEnd (after its straight-line body, before its
// terminator).
func (s *selector) lowerBlock(b *ir.Block) {
	for _, inst := range b.Insts {
		s.lowerInst(b, inst)
	}
}

func (s *selector) lowerInst(b *ir.Block, inst *ir.Inst) {
	switch inst.Op {
	case ir.OpPhi:
		s.lowerPhi(b, inst)
	case ir.OpFetch:
		s.lowerFetch(inst)
	case ir.OpStore:
		s.lowerStore(inst)
	case ir.OpMov:
		dst := s.vreg(inst.Result)
		s.emit(LIR_Mov, dst, s.operand(inst.Args[0]))
	case ir.OpCvt:
		dst := s.vreg(inst.Result)
		s.emit(LIR_Cvt, dst, s.operand(inst.Args[0]))
	case ir.OpCall:
		s.lowerCall(inst)
	case ir.OpRet:
		// value materialized here; LIR_Ret itself is emitted by lowerControl
		if len(inst.Args) > 0 {
			s.operand(inst.Args[0])
		}
	case ir.OpSwizzle:
		s.lowerSwizzle(inst)
	case ir.OpIndex:
		s.lowerIndex(inst)
	case ir.OpBlend:
		s.lowerBlendInst(inst)
	case ir.OpVAddW, ir.OpVMulW, ir.OpVSrlW:
		s.lowerPacked(inst)
	case ir.OpSqrt, ir.OpAbs, ir.OpMin, ir.OpMax, ir.OpFloor, ir.OpCeil,
		ir.OpRound, ir.OpTrunc, ir.OpPow, ir.OpExp, ir.OpLog,
		ir.OpSin, ir.OpCos, ir.OpTan:
		s.lowerIntrinsic(inst)
	case ir.OpLogNot, ir.OpNot, ir.OpNeg:
		s.lowerUnaryArith(inst)
	default:
		s.lowerArithmetic(inst)
	}
}

var binOpTable = map[ir.Op]LIROp{
	ir.OpAdd: LIR_Add, ir.OpSub: LIR_Sub, ir.OpMul: LIR_Mul, ir.OpDiv: LIR_Div,
	ir.OpMod: LIR_Mod, ir.OpAnd: LIR_And, ir.OpOr: LIR_Or, ir.OpXor: LIR_Xor,
	ir.OpShl: LIR_LShift, ir.OpShr: LIR_RShift,
	ir.OpCmpEq: LIR_CmpEQ, ir.OpCmpNe: LIR_CmpNE, ir.OpCmpLt: LIR_CmpLT,
	ir.OpCmpLe: LIR_CmpLE, ir.OpCmpGt: LIR_CmpGT, ir.OpCmpGe: LIR_CmpGE,
}

// lowerArithmetic synthesizes the x86 two-address shape: move the left
// operand into a fresh result register, then apply the op against the
// right operand in place, since x86-64's ALU ops always overwrite their
// left/destination operand.
func (s *selector) lowerArithmetic(inst *ir.Inst) {
	lirOp, ok := binOpTable[inst.Op]
	if !ok {
		xutil.Unimplement()
	}
	lt := GetLIRType(inst.Result.Type())
	dst := s.newVReg(lt)
	left := s.operand(inst.Args[0])
	right := s.operand(inst.Args[1])
	s.emit(LIR_Mov, dst, left)
	if lirOp == LIR_LShift || lirOp == LIR_RShift {
		// the shift count must sit in CL regardless of the shifted
		// operand's own width.
		cl := CL
		s.emit(LIR_Mov, cl, right)
		s.emit(lirOp, dst, cl)
	} else {
		s.emit(lirOp, dst, right)
	}
	if inst.Role == ir.RoleCmp {
		s.compareOf[dst] = inst.Op
	}
	s.vregs[inst.Result] = dst
}

func (s *selector) lowerUnaryArith(inst *ir.Inst) {
	lt := GetLIRType(inst.Result.Type())
	dst := s.newVReg(lt)
	s.emit(LIR_Mov, dst, s.operand(inst.Args[0]))
	switch inst.Op {
	case ir.OpNeg:
		s.emit(LIR_Neg, dst, dst)
	case ir.OpNot:
		s.emit(LIR_Not, dst, dst)
	case ir.OpLogNot:
		s.emit(LIR_LogNot, dst, dst)
	}
	s.vregs[inst.Result] = dst
}

// lowerPhi resolves a Phi into one Mov per predecessor, inserted at the end
// of that predecessor's own straight-line body but before its terminator
// (predBlk may already have been fully selected, terminator included, by
// the time this runs, since Phis live in the merge block which is always
// selected after its predecessors in fn.Blocks order).
func (s *selector) lowerPhi(b *ir.Block, inst *ir.Inst) {
	dst := s.vreg(inst.Result)
	for i, arg := range inst.Args {
		predBlk := s.fn.Blocks[b.Preds[i]]
		mv := &Instruction{Op: LIR_Mov, Result: dst, Args: []IOperand{s.operand(arg)}, Id: s.nextInst}
		s.nextInst++
		at := predBlk.bodyEnd
		predBlk.Insts = append(predBlk.Insts[:at], append([]*Instruction{mv}, predBlk.Insts[at:]...)...)
		predBlk.bodyEnd++
	}
}

// addrFor resolves a Mem (a Layout member, addressed off the frame pointer
// RDI the calling convention hands the compiled entry point) or a LocalRef
// (the lowerer's private per-function frame, addressed off RBP) to an x86
// Addr operand. The two address spaces never alias, matching ir.KindMem
// and ir.KindLocal's own separation.
func addrFor(o ir.Obj) Addr {
	switch v := o.(type) {
	case *ir.Mem:
		return Addr{Type: GetLIRType(v.T), Base: RDI, Disp: Offset{Value: v.Offset}}
	case *ir.LocalRef:
		return Addr{Type: GetLIRType(v.T), Base: RBP, Disp: Offset{Value: -v.Offset}}
	}
	xutil.ShouldNotReachHere()
	return Addr{}
}

func (s *selector) lowerFetch(inst *ir.Inst) {
	dst := s.vreg(inst.Result)
	s.emit(LIR_Load, dst, addrFor(inst.Args[0]))
}

func (s *selector) lowerStore(inst *ir.Inst) {
	val := s.operand(inst.Args[1])
	s.emit(LIR_Store, addrFor(inst.Args[0]), val)
}

func (s *selector) lowerCall(inst *ir.Inst) {
	var args []IOperand
	for _, a := range inst.Args {
		args = append(args, s.operand(a))
	}
	var result IOperand = NoReg
	if inst.Result != nil {
		result = s.vreg(inst.Result)
	}
	s.emit(LIR_Call, result, args...).Callee = inst.Callee
}

var intrinsicTable = map[ir.Op]LIROp{
	ir.OpSqrt: LIR_Sqrt, ir.OpAbs: LIR_Abs, ir.OpMin: LIR_Min, ir.OpMax: LIR_Max,
	ir.OpFloor: LIR_Floor, ir.OpCeil: LIR_Ceil, ir.OpRound: LIR_Round, ir.OpTrunc: LIR_Trunc,
	ir.OpPow: LIR_Pow, ir.OpExp: LIR_Exp, ir.OpLog: LIR_Log,
	ir.OpSin: LIR_Sin, ir.OpCos: LIR_Cos, ir.OpTan: LIR_Tan,
}

func (s *selector) lowerIntrinsic(inst *ir.Inst) {
	lirOp, ok := intrinsicTable[inst.Op]
	if !ok {
		xutil.Unimplement()
	}
	var args []IOperand
	for _, a := range inst.Args {
		args = append(args, s.operand(a))
	}
	dst := s.newVReg(GetLIRType(inst.Result.Type()))
	s.emit(lirOp, dst, args...)
	s.vregs[inst.Result] = dst
}

func (s *selector) lowerPacked(inst *ir.Inst) {
	var lirOp LIROp
	switch inst.Op {
	case ir.OpVAddW:
		lirOp = LIR_VAddW
	case ir.OpVMulW:
		lirOp = LIR_VMulW
	case ir.OpVSrlW:
		lirOp = LIR_VSrlW
	}
	dst := s.newVReg(LIRTypeVector16I)
	left := s.operand(inst.Args[0])
	right := s.operand(inst.Args[1])
	s.emit(LIR_Mov, dst, left)
	s.emit(lirOp, dst, right)
	s.vregs[inst.Result] = dst
}

// lowerSwizzle handles a read-position OpSwizzle: a static lane
// permutation with Lanes resolved at lowering time, one arg, no runtime
// index.
func (s *selector) lowerSwizzle(inst *ir.Inst) {
	dst := s.newVReg(GetLIRType(inst.Result.Type()))
	s.emit(LIR_Shuffle, dst, s.operand(inst.Args[0])).Lanes = inst.Lanes
	s.vregs[inst.Result] = dst
}

func (s *selector) lowerIndex(inst *ir.Inst) {
	dst := s.newVReg(GetLIRType(inst.Result.Type()))
	base := s.operand(inst.Args[0])
	idx := s.operand(inst.Args[1])
	s.emit(LIR_Shuffle, dst, base, idx)
	s.vregs[inst.Result] = dst
}

// lowerBlendInst handles lvalue-shaped OpBlend per lower.go's convention:
// two args + Lanes is a static swizzle-store, three args + no Lanes is a
// dynamic index-store (see internal/ir's lowering doc).
func (s *selector) lowerBlendInst(inst *ir.Inst) {
	dst := s.newVReg(GetLIRType(inst.Result.Type()))
	var args []IOperand
	for _, a := range inst.Args {
		args = append(args, s.operand(a))
	}
	blend := s.emit(LIR_Blend, dst, args...)
	if len(inst.Lanes) > 0 {
		blend.Lanes = inst.Lanes
	}
	s.vregs[inst.Result] = dst
}

// lowerControl selects b's terminator: BlockGoto is an unconditional jump
// (emitted even when b's single successor is the next block in program
// order), BlockReturn emits a bare Ret (the returned expression was
// already written to the @ret Layout member by an ordinary OpStore earlier
// in the block, so nothing needs moving into an ABI return register here),
// and BlockIf either branches directly off a comparison's flags or, for a
// non-compare Ctrl, first synthesizes a zero/nonzero test (the "test %al,
// %al; jnz" idiom).
func (s *selector) lowerControl(b *ir.Block) {
	switch b.Kind {
	case ir.BlockGoto:
		if len(b.Succs) == 1 {
			s.emit(LIR_Jmp, NoReg, Label{Name: blockLabel(b.Succs[0])})
		}
	case ir.BlockReturn:
		s.emit(LIR_Ret, NoReg)
	case ir.BlockIf:
		thenLabel := Label{Name: blockLabel(b.Succs[0])}
		elseLabel := Label{Name: blockLabel(b.Succs[1])}
		ctrl := s.operand(b.Ctrl)
		if reg, ok := ctrl.(Register); ok {
			if cond, ok := s.compareOf[reg]; ok {
				// the comparison already set flags appropriately; branch
				// straight off its condition instead of re-testing a
				// materialized boolean.
				s.emit(condJumpOp(cond, reg.Type != nil && reg.Type.isFP()), NoReg, thenLabel)
				s.emit(LIR_Jmp, NoReg, elseLabel)
				return
			}
		}
		// non-compare Ctrl (a plain bool Var/Imm): test its value for
		// nonzero before branching.
		s.emit(LIR_Test, NoReg, ctrl, ctrl)
		s.emit(LIR_Jnz, NoReg, thenLabel)
		s.emit(LIR_Jmp, NoReg, elseLabel)
	}
}

func blockLabel(id int) string {
	return "L" + itoa(id)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
