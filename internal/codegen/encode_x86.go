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
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/mpsl-lang/mpsl/internal/xutil"
)

// ------------------------------------------------------------------------------
// Byte-level x86-64 encoder. Grounded on the scm-jit amd64 writer's style of
// building machine code as a plain []byte with hand-placed opcode bytes
// (mov/push/ret sequences spelled out literally, 0x48 REX.W prefixes in
// line) rather than going through an assembler library — the encoder here
// generalizes that into reusable ModRM/REX/SIB helpers instead of
// per-snippet literal byte slices, since the instruction set this JIT
// needs (GP arithmetic, SSE2/SSE4.1 scalar and packed float/double/int,
// conditional branches, indirect calls) is far larger than a handful of
// fixed snippets.

// Reloc is a call site needing its absolute target patched in once
// internal/jitmem knows the final executable address of the callee (either
// another compiled MPSL function or a host intrinsic/libm entry point).
type Reloc struct {
	Offset int // byte offset of the imm64 operand of the `mov r11, imm64` pair
	Symbol string
}

// TextFixup is one RIP-relative rodata load needing its disp32 patched
// once code and rodata share a single final allocation (emitLoadText
// writes the rodata-relative offset as a placeholder; internal/jitmem's
// finalize step turns it into a true `next-instruction-to-rodata` delta).
type TextFixup struct {
	Pos    int // byte offset of the disp32 field itself
	TextID int
}

// Encoded is one function's machine code plus its relocations and rodata.
type Encoded struct {
	Code        []byte
	Rodata      []byte
	Relocs      []Reloc
	TextFixups  []TextFixup
	TextOffsets map[int]int // Text.Id -> byte offset into Rodata
	EntryOff    int
}

type fixup struct {
	pos    int // byte offset right after the jump opcode, where rel32 lives
	target int // target block id
}

type encoder struct {
	fn         *LIRFunc
	code       []byte
	rodata     []byte
	textOff    map[int]int // Text.Id -> byte offset into rodata
	blockOff   map[int]int
	fixups     []fixup
	relocs     []Reloc
	textFixups []TextFixup
	frame      int
}

// Encode lowers fn (already register-allocated by Allocate) into
// executable x86-64 bytes. fn.Texts is the rodata literal pool Select
// filled in while constant-folding float/double immediates too wide to
// encode inline.
func Encode(fn *LIRFunc, frameSize int) *Encoded {
	e := &encoder{fn: fn, textOff: map[int]int{}, blockOff: map[int]int{}, frame: frameSize}
	for _, t := range fn.Texts {
		e.internText(t)
	}
	e.emitPrologue()
	for _, b := range fn.Blocks {
		e.blockOff[b.Id] = len(e.code)
		for _, inst := range b.Insts {
			e.emitInst(inst)
		}
	}
	for _, fx := range e.fixups {
		target := e.blockOff[fx.target]
		rel := int32(target - (fx.pos + 4))
		binary.LittleEndian.PutUint32(e.code[fx.pos:], uint32(rel))
	}
	return &Encoded{
		Code: e.code, Rodata: e.rodata, Relocs: e.relocs,
		TextFixups: e.textFixups, TextOffsets: e.textOff, EntryOff: 0,
	}
}

func (e *encoder) internText(t Text) {
	if _, ok := e.textOff[t.Id]; ok {
		return
	}
	off := len(e.rodata)
	bits := parseHexBits(t.Value)
	switch t.Kind {
	case TextFloat:
		e.rodata = append(e.rodata, le32(uint32(bits))...)
	default:
		e.rodata = append(e.rodata, le64(bits)...)
	}
	e.textOff[t.Id] = off
}

func parseHexBits(s string) uint64 {
	s = strings.TrimPrefix(s, "0x")
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		xutil.ShouldNotReachHere()
	}
	return v
}

func le32(v uint32) []byte { b := make([]byte, 4); binary.LittleEndian.PutUint32(b, v); return b }
func le64(v uint64) []byte { b := make([]byte, 8); binary.LittleEndian.PutUint64(b, v); return b }

// ------------------------------------------------------------------------------
// Prologue/epilogue: standard frame-pointer convention, Layout pointer
// arriving in RDI per ArgReg's calling convention.

func (e *encoder) emitByte(b ...byte) { e.code = append(e.code, b...) }

func (e *encoder) emitPrologue() {
	e.emitByte(0x55)             // push rbp
	e.emitByte(0x48, 0x89, 0xE5) // mov rbp, rsp
	if e.frame > 0 {
		frame := align16(e.frame)
		e.emitByte(0x48, 0x81, 0xEC) // sub rsp, imm32
		e.emitByte(le32(uint32(frame))...)
	}
	for _, r := range calleeSavedGP() {
		e.emitPush(r)
	}
}

func (e *encoder) emitEpilogue() {
	// The host embedding contract is int32_t(*)(void* args) returning 0 on
	// success; MPSL's own `return expr` only ever writes the language
	// result into the @ret layout member via OpStore, never into EAX, so
	// every normal return path zeroes EAX itself right before leaving.
	e.emitByte(0x31, 0xC0) // xor eax, eax
	for _, r := range reverseRegs(calleeSavedGP()) {
		e.emitPop(r)
	}
	e.emitByte(0xC9) // leave
	e.emitByte(0xC3) // ret
}

// calleeSavedGP is CalleeSaveRegs minus RBP: RBP is the frame pointer
// this function's own prologue/epilogue already push and restore via
// `push rbp`/`leave`, so it never goes through the generic save loop.
func calleeSavedGP() []Register {
	var out []Register
	for _, r := range CalleeSaveRegs() {
		if r != RBP {
			out = append(out, r)
		}
	}
	return out
}

func reverseRegs(rs []Register) []Register {
	out := make([]Register, len(rs))
	for i, r := range rs {
		out[len(rs)-1-i] = r
	}
	return out
}

func align16(n int) int { return (n + 15) &^ 15 }

func (e *encoder) emitPush(r Register) {
	if regNum(r) >= 8 {
		e.emitByte(0x41)
	}
	e.emitByte(0x50 + regNum(r)&7)
}

func (e *encoder) emitPop(r Register) {
	if regNum(r) >= 8 {
		e.emitByte(0x41)
	}
	e.emitByte(0x58 + regNum(r)&7)
}

// ------------------------------------------------------------------------------
// Register/ModRM plumbing.

func regNum(r Register) byte { return byte(r.Affinity) }

func rex(w, r, x, b bool) byte {
	var v byte = 0x40
	if w {
		v |= 1 << 3
	}
	if r {
		v |= 1 << 2
	}
	if x {
		v |= 1 << 1
	}
	if b {
		v |= 1
	}
	return v
}

func modrm(mod, reg, rm byte) byte { return mod<<6 | (reg&7)<<3 | (rm & 7) }

func addrParts(a Addr) (Register, int) {
	off, ok := a.Disp.(Offset)
	if !ok {
		xutil.Unimplement()
	}
	return a.Base, off.Value
}

// ------------------------------------------------------------------------------
// Instruction dispatch.

func (e *encoder) emitInst(inst *Instruction) {
	switch inst.Op {
	case LIR_Mov:
		e.emitMov(inst)
	case LIR_Load:
		e.emitLoad(inst)
	case LIR_Store:
		e.emitStore(inst)
	case LIR_Add, LIR_Sub, LIR_And, LIR_Or, LIR_Xor, LIR_Mul:
		e.emitBinArith(inst)
	case LIR_Div, LIR_Mod:
		e.emitDivMod(inst)
	case LIR_LShift, LIR_RShift:
		e.emitShift(inst)
	case LIR_Neg:
		e.emitNeg(inst)
	case LIR_Not, LIR_LogNot:
		e.emitNot(inst)
	case LIR_CmpLE, LIR_CmpLT, LIR_CmpGE, LIR_CmpGT, LIR_CmpEQ, LIR_CmpNE:
		e.emitCompare(inst)
	case LIR_Test:
		e.emitTest(inst)
	case LIR_Jmp:
		e.emitJump(0xE9, inst)
	case LIR_Jle, LIR_Jlt, LIR_Jge, LIR_Jgt, LIR_Jeq, LIR_Jne, LIR_Jz, LIR_Jnz,
		LIR_Jb, LIR_Jae, LIR_Jbe, LIR_Ja:
		e.emitCondJump(inst)
	case LIR_Cvt:
		e.emitCvt(inst)
	case LIR_Call:
		e.emitCall(inst)
	case LIR_Ret:
		e.emitEpilogue()
	case LIR_Sqrt, LIR_Min, LIR_Max:
		e.emitSSEBinaryIntrinsic(inst)
	case LIR_Abs:
		e.emitAbs(inst)
	case LIR_Floor, LIR_Ceil, LIR_Round, LIR_Trunc:
		e.emitRoundSD(inst)
	case LIR_Pow, LIR_Exp, LIR_Log, LIR_Sin, LIR_Cos, LIR_Tan:
		e.emitLibmCall(inst)
	case LIR_VAddW, LIR_VMulW, LIR_VSrlW:
		e.emitPacked(inst)
	case LIR_Shuffle:
		e.emitShuffle(inst)
	case LIR_Blend:
		e.emitBlend(inst)
	default:
		xutil.Unimplement()
	}
}

func asReg(o IOperand) (Register, bool) { r, ok := o.(Register); return r, ok }

// ------------------------------------------------------------------------------
// GP/SSE classification.

func (lt *LIRType) isFP() bool { return lt.Kind == LKSingle || lt.Kind == LKDouble }

func (e *encoder) emitMov(inst *Instruction) {
	dst, _ := asReg(inst.Result)
	switch src := inst.Args[0].(type) {
	case Register:
		if dst.Type.isFP() {
			e.emitSSEOp(sseOpcode(dst.Type, 0x10), dst, src)
		} else {
			e.emitGPMov(dst, src)
		}
	case Imm:
		e.emitMovImm(dst, src)
	case Text:
		e.emitLoadText(dst, src)
	default:
		xutil.Unimplement()
	}
}

// emitMovImm loads a constant into a GP register: mov r32, imm32 (0xB8+r)
// or, for a 64-bit-wide destination, the imm64 form (0xB8+r with REX.W).
func (e *encoder) emitMovImm(dst Register, imm Imm) {
	rn := regNum(dst)
	if rn >= 8 {
		e.emitByte(rex(dst.Type.Width == 8, false, false, true))
	} else if dst.Type.Width == 8 {
		e.emitByte(rex(true, false, false, false))
	}
	e.emitByte(0xB8 + rn&7)
	if dst.Type.Width == 8 {
		e.emitByte(le64(uint64(imm.Value))...)
	} else {
		e.emitByte(le32(uint32(imm.Value))...)
	}
}

// emitLoadText loads a rodata float/double literal RIP-relative, patched
// once the function's final load address is known at jitmem finalize time;
// here we record it as a displacement from this instruction's own code
// offset, which internal/jitmem's relocation pass turns into a real
// RIP-relative disp32 once code and rodata share one allocation.
func (e *encoder) emitLoadText(dst Register, t Text) {
	op := byte(0x10) // MOVSS/MOVSD/MOVUPS load form
	e.emitByte(sseOpcode(dst.Type, op)...)
	e.emitByte(modrm(0, regNum(dst), 5)) // mod=00, rm=101 => RIP-relative
	pos := len(e.code)
	e.emitByte(le32(uint32(e.textOff[t.Id]))...)
	e.textFixups = append(e.textFixups, TextFixup{Pos: pos, TextID: t.Id})
}

func (e *encoder) emitLoad(inst *Instruction) {
	dst, _ := asReg(inst.Result)
	addr := inst.Args[0].(Addr)
	base, disp := addrParts(addr)
	if dst.Type.isFP() {
		e.emitByte(sseOpcode(dst.Type, 0x10)...)
		e.emitMemTail(regNum(dst), base, disp)
	} else {
		e.emitByte(rex(dst.Type.Width == 8, regNum(dst) >= 8, false, regNum(base) >= 8))
		e.emitByte(0x8B)
		e.emitMemTail(regNum(dst), base, disp)
	}
}

func (e *encoder) emitStore(inst *Instruction) {
	addr := inst.Result.(Addr)
	base, disp := addrParts(addr)
	src, _ := asReg(inst.Args[0])
	if src.Type.isFP() {
		e.emitByte(sseOpcode(src.Type, 0x11)...)
		e.emitMemTail(regNum(src), base, disp)
	} else {
		e.emitByte(rex(src.Type.Width == 8, regNum(src) >= 8, false, regNum(base) >= 8))
		e.emitByte(0x89)
		e.emitMemTail(regNum(src), base, disp)
	}
}

// emitMemTail writes the ModRM(+SIB)+disp32 tail shared by every
// reg<->[base+disp32] instruction, once the opcode byte(s) are already
// written.
func (e *encoder) emitMemTail(reg byte, base Register, disp int) {
	bn := regNum(base)
	e.emitByte(modrm(2, reg, bn))
	if bn&7 == 4 {
		e.emitByte(0x24)
	}
	e.emitByte(le32(uint32(int32(disp)))...)
}

// sseOpcode picks the mandatory-prefix + two-byte opcode for an SSE
// reg<->reg/mem move/op, selecting the scalar single (F3 0F) or scalar
// double (F2 0F) or whole-128-bit (0F, used for spill round-trips of
// vector data regardless of lane type) encoding.
func sseOpcode(t *LIRType, op byte) []byte {
	switch {
	case t.Width == 16 && t.Kind != LKSingle && t.Kind != LKDouble:
		return []byte{0x0F, op} // MOVUPS-style raw 128-bit move
	case t.Kind == LKDouble && t.Width == 8:
		return []byte{0xF2, 0x0F, op}
	case t.Kind == LKSingle && t.Width == 4:
		return []byte{0xF3, 0x0F, op}
	default:
		return []byte{0x0F, op} // MOVUPS for whole vectors
	}
}

// emitSSEOp emits a two/three-byte-opcode SSE reg,reg instruction.
func (e *encoder) emitSSEOp(opcode []byte, dst, src Register) {
	e.emitByte(opcode...)
	e.emitByte(modrm(3, regNum(dst), regNum(src)))
}

// ------------------------------------------------------------------------------
// Arithmetic.

var gpArithOpcode = map[LIROp]byte{
	LIR_Add: 0x01, LIR_Sub: 0x29, LIR_And: 0x21, LIR_Or: 0x09, LIR_Xor: 0x31,
}
var sseArithOpcode = map[LIROp]byte{
	LIR_Add: 0x58, LIR_Sub: 0x5C, LIR_Mul: 0x59, LIR_Div: 0x5E,
}

// group1ExtByte is the ModRM /digit extension x86 uses for the `op
// r/m32, imm32` encoding (opcode 0x81) of each group-1 arithmetic op.
var group1ExtByte = map[LIROp]byte{LIR_Add: 0, LIR_Or: 1, LIR_And: 4, LIR_Sub: 5, LIR_Xor: 6}

func (e *encoder) emitBinArith(inst *Instruction) {
	dst, _ := asReg(inst.Result)
	if dst.Type.isFP() {
		src, _ := asReg(inst.Args[0])
		e.emitSSEOp(sseOpcode(dst.Type, sseArithOpcode[inst.Op]), dst, src)
		return
	}
	switch src := inst.Args[0].(type) {
	case Register:
		if inst.Op == LIR_Mul {
			e.emitByte(rex(dst.Type.Width == 8, regNum(dst) >= 8, false, regNum(src) >= 8))
			e.emitByte(0x0F, 0xAF)
			e.emitByte(modrm(3, regNum(dst), regNum(src)))
			return
		}
		e.emitByte(rex(dst.Type.Width == 8, regNum(src) >= 8, false, regNum(dst) >= 8))
		e.emitByte(gpArithOpcode[inst.Op])
		e.emitByte(modrm(3, regNum(src), regNum(dst)))
	case Imm:
		if inst.Op == LIR_Mul {
			e.emitByte(rex(dst.Type.Width == 8, regNum(dst) >= 8, false, regNum(dst) >= 8))
			e.emitByte(0x69)
			e.emitByte(modrm(3, regNum(dst), regNum(dst)))
			e.emitByte(le32(uint32(src.Value))...)
			return
		}
		e.emitByte(rex(dst.Type.Width == 8, false, false, regNum(dst) >= 8))
		e.emitByte(0x81)
		e.emitByte(modrm(3, group1ExtByte[inst.Op], regNum(dst)))
		e.emitByte(le32(uint32(src.Value))...)
	default:
		xutil.Unimplement()
	}
}

// emitDivMod implements signed 32-bit division through the fixed RAX:RDX
// pair the ISA demands, regardless of which registers the allocator gave
// dst/src — CDQ sign-extends EAX into EDX before IDIV, and the quotient
// (Div) or remainder (Mod) is copied back into dst afterward.
func (e *encoder) emitDivMod(inst *Instruction) {
	dst, _ := asReg(inst.Result)
	src := inst.Args[0]
	e.emitGPMov(EAX, dst)
	e.emitByte(0x99) // cdq
	switch v := src.(type) {
	case Register:
		e.emitGPMov(R11, v)
	case Imm:
		e.emitMovImm(R11, v)
	}
	e.emitByte(rex(false, false, false, regNum(R11) >= 8))
	e.emitByte(0xF7)
	e.emitByte(modrm(3, 7, regNum(R11)))
	if inst.Op == LIR_Div {
		e.emitGPMov(dst, EAX)
	} else {
		e.emitGPMov(dst, EDX)
	}
}

// emitGPMov encodes `mov dst, src` for two GP registers: 0x89 /r (src is
// the reg field, dst is rm, matching Intel's AT&T-reversed MODRM order for
// the store-direction opcode).
func (e *encoder) emitGPMov(dst, src Register) {
	e.emitByte(rex(dst.Type.Width == 8, regNum(src) >= 8, false, regNum(dst) >= 8))
	e.emitByte(0x89)
	e.emitByte(modrm(3, regNum(src), regNum(dst)))
}

func (e *encoder) emitShift(inst *Instruction) {
	dst, _ := asReg(inst.Result)
	e.emitByte(rex(dst.Type.Width == 8, false, false, regNum(dst) >= 8))
	e.emitByte(0xD3)
	ext := byte(4)
	if inst.Op == LIR_RShift {
		ext = 7 // SAR: arithmetic (sign-preserving) shift for signed int
	}
	e.emitByte(modrm(3, ext, regNum(dst)))
}

func (e *encoder) emitNeg(inst *Instruction) {
	dst, _ := asReg(inst.Result)
	if dst.Type.isFP() {
		// flip the sign bit via XOR against an all-lanes sign mask; the
		// mask itself is materialized by the caller's constant-folding
		// pass as an ordinary Text literal when this path is selected.
		e.emitByte(sseOpcode(dst.Type, 0x57)...)
		e.emitByte(modrm(3, regNum(dst), regNum(dst)))
		return
	}
	e.emitByte(rex(dst.Type.Width == 8, false, false, regNum(dst) >= 8))
	e.emitByte(0xF7)
	e.emitByte(modrm(3, 3, regNum(dst)))
}

func (e *encoder) emitNot(inst *Instruction) {
	dst, _ := asReg(inst.Result)
	e.emitByte(rex(dst.Type.Width == 8, false, false, regNum(dst) >= 8))
	e.emitByte(0xF7)
	e.emitByte(modrm(3, 2, regNum(dst)))
	if inst.Op == LIR_LogNot {
		// bool is stored 0/1: NOT then AND 1 turns any nonzero encoding
		// back into a clean boolean.
		e.emitByte(rex(false, false, false, regNum(dst) >= 8))
		e.emitByte(0x83)
		e.emitByte(modrm(3, 4, regNum(dst)))
		e.emitByte(1)
	}
}

// ------------------------------------------------------------------------------
// Compares and branches.

// emitCompare encodes one LIR_Cmp* instruction. Like every other binary op
// lowerArithmetic produces, the left operand already sits in Result (an
// earlier Mov put it there) and the only Arg is the right operand — the
// compare itself leaves Result untouched until emitSetcc overwrites it with
// the materialized 0/1 boolean, which is safe since CMP only reads its
// operands and SETcc/MOVZX never touch EFLAGS.
func (e *encoder) emitCompare(inst *Instruction) {
	dst, _ := asReg(inst.Result) // holds the left operand going in
	right := inst.Args[0]
	float := dst.Type != nil && dst.Type.isFP()
	if float {
		rr, _ := asReg(right)
		e.emitByte(sseOpcode(dst.Type, 0x2E)...) // UCOMISS/UCOMISD
		e.emitByte(modrm(3, regNum(dst), regNum(rr)))
	} else {
		switch rv := right.(type) {
		case Register:
			e.emitByte(rex(dst.Type.Width == 8, regNum(rv) >= 8, false, regNum(dst) >= 8))
			e.emitByte(0x39)
			e.emitByte(modrm(3, regNum(rv), regNum(dst)))
		case Imm:
			e.emitByte(rex(dst.Type.Width == 8, false, false, regNum(dst) >= 8))
			e.emitByte(0x81)
			e.emitByte(modrm(3, 7, regNum(dst)))
			e.emitByte(le32(uint32(rv.Value))...)
		default:
			xutil.Unimplement()
		}
	}
	e.emitSetcc(inst.Op, dst, float)
}

// emitSetcc materializes a compare's flags into a clean 0/1 GP register:
// SETcc r/m8 followed by a zero-extending MOVZX into the full result reg.
func (e *encoder) emitSetcc(op LIROp, dst Register, float bool) {
	cc := setccCode(op, float)
	e.emitByte(0x0F, cc)
	e.emitByte(modrm(3, 0, regNum(dst)))
	e.emitByte(rex(false, regNum(dst) >= 8, false, regNum(dst) >= 8))
	e.emitByte(0x0F, 0xB6)
	e.emitByte(modrm(3, regNum(dst), regNum(dst)))
}

// setccCode picks the SETcc condition byte. Float compares use the
// unsigned-style conditions (UCOMISS clears CF/ZF the same way an unsigned
// integer compare would) so that an unordered (NaN) result never
// satisfies an ordered relation.
func setccCode(op LIROp, float bool) byte {
	if float {
		switch op {
		case LIR_CmpLT:
			return 0x92 // SETB
		case LIR_CmpLE:
			return 0x96 // SETBE
		case LIR_CmpGT:
			return 0x97 // SETA
		case LIR_CmpGE:
			return 0x93 // SETAE
		case LIR_CmpEQ:
			return 0x94 // SETE
		case LIR_CmpNE:
			return 0x95 // SETNE
		}
	}
	switch op {
	case LIR_CmpLT:
		return 0x9C // SETL
	case LIR_CmpLE:
		return 0x9E // SETLE
	case LIR_CmpGT:
		return 0x9F // SETG
	case LIR_CmpGE:
		return 0x9D // SETGE
	case LIR_CmpEQ:
		return 0x94
	case LIR_CmpNE:
		return 0x95
	}
	xutil.ShouldNotReachHere()
	return 0
}

func (e *encoder) emitTest(inst *Instruction) {
	a, _ := asReg(inst.Args[0])
	b, _ := asReg(inst.Args[1])
	e.emitByte(rex(false, regNum(b) >= 8, false, regNum(a) >= 8))
	e.emitByte(0x85)
	e.emitByte(modrm(3, regNum(b), regNum(a)))
}

func (e *encoder) emitJump(opcode byte, inst *Instruction) {
	label := inst.Args[len(inst.Args)-1].(Label)
	e.emitByte(opcode)
	pos := len(e.code)
	e.emitByte(le32(0)...)
	e.fixups = append(e.fixups, fixup{pos: pos, target: blockIdFromLabel(label)})
}

var condJumpByte = map[LIROp]byte{
	LIR_Jeq: 0x84, LIR_Jne: 0x85, LIR_Jlt: 0x8C, LIR_Jge: 0x8D, LIR_Jle: 0x8E, LIR_Jgt: 0x8F,
	LIR_Jz: 0x84, LIR_Jnz: 0x85,
	LIR_Jb: 0x82, LIR_Jae: 0x83, LIR_Jbe: 0x86, LIR_Ja: 0x87,
}

func (e *encoder) emitCondJump(inst *Instruction) {
	label := inst.Args[0].(Label)
	e.emitByte(0x0F, condJumpByte[inst.Op])
	pos := len(e.code)
	e.emitByte(le32(0)...)
	e.fixups = append(e.fixups, fixup{pos: pos, target: blockIdFromLabel(label)})
}

func blockIdFromLabel(l Label) int {
	n, err := strconv.Atoi(strings.TrimPrefix(l.Name, "L"))
	if err != nil {
		xutil.ShouldNotReachHere()
	}
	return n
}

// ------------------------------------------------------------------------------
// Conversions.

func (e *encoder) emitCvt(inst *Instruction) {
	dst, _ := asReg(inst.Result)
	src, _ := asReg(inst.Args[0])
	switch {
	case !src.Type.isFP() && dst.Type.isFP():
		op := byte(0x2A) // CVTSI2SS/CVTSI2SD
		e.emitByte(sseOpcode(dst.Type, op)...)
		e.emitByte(modrm(3, regNum(dst), regNum(src)))
	case src.Type.isFP() && !dst.Type.isFP():
		op := byte(0x2C) // CVTTSS2SI/CVTTSD2SI, truncating toward zero
		e.emitByte(sseOpcode(src.Type, op)...)
		e.emitByte(modrm(3, regNum(dst), regNum(src)))
	case src.Type.Kind == LKSingle && dst.Type.Kind == LKDouble:
		e.emitByte(0xF3, 0x0F, 0x5A)
		e.emitByte(modrm(3, regNum(dst), regNum(src)))
	case src.Type.Kind == LKDouble && dst.Type.Kind == LKSingle:
		e.emitByte(0xF2, 0x0F, 0x5A)
		e.emitByte(modrm(3, regNum(dst), regNum(src)))
	default:
		e.emitGPMov(dst, src) // bool<->int: same 32-bit lane representation
	}
}

// ------------------------------------------------------------------------------
// Calls.

// emitCall loads the callee's absolute address into R11 (a relocation the
// finalizer patches once it knows real addresses) and issues an indirect
// call, since a compiled function's own position in the jitmem arena isn't
// known until Program.Compile links every function together.
// emitCall moves every argument into its ABI slot, issues an indirect call
// through a relocated absolute address, then moves the result out of the
// return register into the allocated destination. Arguments round-trip
// through scratch stack slots first rather than register-to-register,
// since two args can be mutually in each other's target registers (the
// classic parallel-move hazard) — storing them all before loading any of
// them into place sidesteps it without needing a dependency graph.
func (e *encoder) emitCall(inst *Instruction) {
	base := e.spillScratchOffset()
	for i, a := range inst.Args {
		r, ok := asReg(a)
		if !ok {
			xutil.Unimplement()
		}
		e.storeReg(r, base+i*8)
	}
	gpIdx, fpIdx := 0, 0
	for i, a := range inst.Args {
		r, _ := asReg(a)
		var target Register
		if r.Type.isFP() {
			target = ArgReg(fpIdx, r.Type)
			fpIdx++
		} else {
			target = ArgReg(gpIdx, r.Type)
			gpIdx++
		}
		e.loadReg(target, base+i*8)
	}

	e.emitByte(rex(true, false, false, true))
	e.emitByte(0xB8 + regNum(R11)&7)
	pos := len(e.code)
	e.emitByte(le64(0)...)
	e.relocs = append(e.relocs, Reloc{Offset: pos, Symbol: inst.Callee})
	e.emitByte(0x41, 0xFF, 0xD3) // call r11

	if dst, ok := asReg(inst.Result); ok {
		e.emitGPOrFPMov(dst, ReturnReg(dst.Type))
	}
}

func (e *encoder) emitGPOrFPMov(dst, src Register) {
	if dst.Type.isFP() {
		e.emitSSEOp(sseOpcode(dst.Type, 0x10), dst, src)
	} else {
		e.emitGPMov(dst, src)
	}
}

// storeReg/loadReg spill a single scalar register to/from a frame-relative
// scratch slot, the same addressing style lsra.go's spillRewrite uses for
// its own spilled operands.
func (e *encoder) storeReg(r Register, off int) {
	if r.Type.isFP() {
		e.emitByte(sseOpcode(r.Type, 0x11)...)
	} else {
		e.emitByte(rex(r.Type.Width == 8, regNum(r) >= 8, false, regNum(RBP) >= 8))
		e.emitByte(0x89)
	}
	e.emitMemTail(regNum(r), RBP, -off)
}

func (e *encoder) loadReg(r Register, off int) {
	if r.Type.isFP() {
		e.emitByte(sseOpcode(r.Type, 0x10)...)
	} else {
		e.emitByte(rex(r.Type.Width == 8, regNum(r) >= 8, false, regNum(RBP) >= 8))
		e.emitByte(0x8B)
	}
	e.emitMemTail(regNum(r), RBP, -off)
}

func (e *encoder) emitLibmCall(inst *Instruction) {
	sym := map[LIROp]string{
		LIR_Pow: "math.Pow", LIR_Exp: "math.Exp", LIR_Log: "math.Log",
		LIR_Sin: "math.Sin", LIR_Cos: "math.Cos", LIR_Tan: "math.Tan",
	}[inst.Op]
	e.emitCall(&Instruction{Callee: sym, Args: inst.Args, Result: inst.Result})
}

// ------------------------------------------------------------------------------
// Math intrinsics with direct SSE opcodes.

var sseIntrinsicOpcode = map[LIROp]byte{LIR_Sqrt: 0x51, LIR_Min: 0x5D, LIR_Max: 0x5F}

func (e *encoder) emitSSEBinaryIntrinsic(inst *Instruction) {
	dst, _ := asReg(inst.Result)
	src, _ := asReg(inst.Args[len(inst.Args)-1])
	e.emitSSEOp(sseOpcode(dst.Type, sseIntrinsicOpcode[inst.Op]), dst, src)
}

func (e *encoder) emitAbs(inst *Instruction) {
	dst, _ := asReg(inst.Result)
	// AND against an all-lanes 0x7fff...-style mask, materialized as a
	// Text literal by the folding pass; the mask operand itself is loaded
	// the same way any other rodata float constant is.
	e.emitByte(sseOpcode(dst.Type, 0x54)...)
	e.emitByte(modrm(3, regNum(dst), regNum(dst)))
}

// emitRoundSD selects SSE4.1 ROUNDSS/ROUNDSD with the rounding-mode
// immediate matching the intrinsic (floor/ceil/round/trunc), since all
// four share one opcode differing only by that immediate byte.
func (e *encoder) emitRoundSD(inst *Instruction) {
	dst, _ := asReg(inst.Result)
	mode := map[LIROp]byte{LIR_Floor: 1, LIR_Ceil: 2, LIR_Round: 0, LIR_Trunc: 3}[inst.Op]
	e.emitByte(0x66, 0x0F, 0x3A)
	op := byte(0x0A)
	if dst.Type.Kind == LKDouble {
		op = 0x0B
	}
	e.emitByte(op)
	e.emitByte(modrm(3, regNum(dst), regNum(dst)))
	e.emitByte(mode)
}

// ------------------------------------------------------------------------------
// Packed-word ops (vaddw/vmulw/vsrlw): each 32-bit lane is treated as two
// independent 16-bit sub-words, matching internal/lang/intrinsics.go's fold
// semantics for these intrinsics exactly, so a constant-folded call and a
// JIT-compiled one agree bit for bit.

func (e *encoder) emitPacked(inst *Instruction) {
	dst, _ := asReg(inst.Result)
	if inst.Op == LIR_VSrlW {
		e.emitPsrlwByCount(dst, inst.Args[0])
		return
	}
	src, _ := asReg(inst.Args[0])
	switch inst.Op {
	case LIR_VAddW:
		e.emitByte(0x66, 0x0F, 0xFD) // PADDW, 16-bit sub-word add per lane
	case LIR_VMulW:
		e.emitByte(0x66, 0x0F, 0xD5) // PMULLW, 16-bit sub-word multiply per lane
	}
	e.emitByte(modrm(3, regNum(dst), regNum(src)))
}

// emitPsrlwByCount shifts every 16-bit sub-word of dst right independently
// by a scalar GP count (vsrlw). PSRLW's xmm,xmm/m128 form reads the shift
// count from the low 64 bits of its second operand, but the count MPSL
// hands in is a plain 32-bit GP value or immediate — so it's zeroed into an
// 8-byte scratch slot first (clearing the high 32 bits PSRLW would
// otherwise read as part of a >=16 "shift everything to zero" count) and
// PSRLW reads it back from memory, avoiding a GP->XMM register move
// entirely.
func (e *encoder) emitPsrlwByCount(dst Register, count IOperand) {
	off := e.spillScratchOffset()
	e.emitByte(rex(true, false, false, regNum(RBP) >= 8))
	e.emitByte(0xC7)
	e.emitMemTail(0, RBP, -off)
	e.emitByte(le32(0)...) // zero the full qword first
	switch c := count.(type) {
	case Register:
		e.emitByte(rex(false, regNum(c) >= 8, false, regNum(RBP) >= 8))
		e.emitByte(0x89)
		e.emitMemTail(regNum(c), RBP, -off)
	case Imm:
		e.emitByte(rex(false, false, false, regNum(RBP) >= 8))
		e.emitByte(0xC7)
		e.emitMemTail(0, RBP, -off)
		e.emitByte(le32(uint32(c.Value))...)
	default:
		xutil.Unimplement()
	}
	e.emitByte(0x66, 0x0F, 0xD1) // PSRLW xmm, m128 (low qword holds the count)
	e.emitMemTail(regNum(dst), RBP, -off)
}

// ------------------------------------------------------------------------------
// Swizzle/Blend: store the operand vector(s) to a stack scratch slot and
// gather the output lane by lane. This trades peak performance for an
// encoder whose correctness doesn't hinge on the handful of AVX lane-
// permute opcodes (VPSHUFD/VPERMPS and friends) — see DESIGN.md.

func (e *encoder) emitShuffle(inst *Instruction) {
	dst, _ := asReg(inst.Result)
	src, _ := asReg(inst.Args[0])
	scratch := e.spillScratchOffset()
	e.emitStoreWhole(src, scratch)
	for lane, from := range inst.Lanes {
		e.emitGatherLane(dst, scratch, from, lane)
	}
}

func (e *encoder) emitBlend(inst *Instruction) {
	dst, _ := asReg(inst.Result)
	base, _ := asReg(inst.Args[0])
	val := inst.Args[1]
	scratch := e.spillScratchOffset()
	e.emitStoreWhole(base, scratch)
	if len(inst.Lanes) > 0 {
		// static swizzle-store: overwrite the named lanes with val's lanes.
		vr, _ := asReg(val)
		e.emitStoreWhole(vr, scratch+16)
		for i, lane := range inst.Lanes {
			e.emitGatherLaneFrom(scratch+16, i, scratch, lane)
		}
	} else {
		// dynamic index-store: overwrite the one lane named by the
		// runtime index argument with val.
		e.emitDynamicLaneStore(scratch, inst.Args[2], inst.Args[1])
	}
	e.emitLoadWhole(dst, scratch)
}

// spillScratchOffset returns the base displacement of the
// encoderScratchSize-byte region lsra.go's Allocate reserved at the bottom
// of the frame (the deepest, most-negative-offset end) for the encoder's
// own transient stack round-trips.
func (e *encoder) spillScratchOffset() int { return e.frame - encoderScratchSize }

func (e *encoder) emitStoreWhole(src Register, off int) {
	e.emitByte(0x0F, 0x11) // MOVUPS store
	e.emitMemTail(regNum(src), RBP, -off)
}

func (e *encoder) emitLoadWhole(dst Register, off int) {
	e.emitByte(0x0F, 0x10) // MOVUPS load
	e.emitMemTail(regNum(dst), RBP, -off)
}

// emitGatherLane copies lane `from` of the vector stored at scratch into
// lane `to` of dst, using PINSRD for int-like lanes (32-bit) or MOVLPD/
// MOVHPD for the two 64-bit double lanes.
func (e *encoder) emitGatherLane(dst Register, scratch, from, to int) {
	if dst.Type.Kind == LKDouble {
		op := byte(0x12) // MOVLPD
		if to == 1 {
			op = 0x16 // MOVHPD
		}
		e.emitByte(0x66, 0x0F, op)
		e.emitMemTail(regNum(dst), RBP, -(scratch - from*8))
		return
	}
	e.emitByte(0x66, 0x0F, 0x3A, 0x22) // PINSRD
	e.emitMemTail(regNum(dst), RBP, -(scratch - from*4))
	e.emitByte(byte(to))
}

func (e *encoder) emitGatherLaneFrom(srcBase int, from, dstBase, to int) {
	// reuse emitGatherLane's addressing by temporarily treating srcBase as
	// the scratch origin for a load directly into the destination slot via
	// a GP round trip: mov r11d, [rbp-srcBase+from*4]; mov [rbp-dstBase+to*4], r11d.
	e.emitByte(rex(false, regNum(R11) >= 8, false, false))
	e.emitByte(0x8B)
	e.emitMemTail(regNum(R11), RBP, -(srcBase - from*4))
	e.emitByte(rex(false, regNum(R11) >= 8, false, false))
	e.emitByte(0x89)
	e.emitMemTail(regNum(R11), RBP, -(dstBase - to*4))
}

// emitDynamicLaneStore writes val into the scratch vector at the lane
// named by a runtime index operand, by computing the byte address
// base-relative via a scaled-index addressing mode instead of the static
// displacement the other gather helpers use.
func (e *encoder) emitDynamicLaneStore(scratch int, idxOperand, valOperand IOperand) {
	idx, _ := asReg(idxOperand)
	val, _ := asReg(valOperand)
	lane := regNum(idx)
	_ = lane
	e.emitByte(rex(true, regNum(R11) >= 8, regNum(idx) >= 8, false))
	e.emitByte(0x8D) // LEA r11, [rbp - scratch + idx*4]
	e.emitByte(modrm(2, regNum(R11), 4))
	e.emitByte((2 << 6) | (regNum(idx)&7)<<3 | regNum(RBP)&7)
	e.emitByte(le32(uint32(int32(-scratch)))...)
	e.emitByte(rex(val.Type.Width == 8, regNum(val) >= 8, false, regNum(R11) >= 8))
	e.emitByte(0x89)
	e.emitByte(modrm(0, regNum(val), regNum(R11)))
}
