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

import "github.com/mpsl-lang/mpsl/internal/xutil"

// Reference
// https://web.stanford.edu/class/cs107/resources/x86-64-reference.pdf
// https://www.cs.cmu.edu/afs/cs/academic/class/15213-s20/www/recitations/x86-cheat-sheet.pdf

var (
	BadReg = Register{Index: -1, Name: "badreg", Type: LIRTypeVoid}
	NoReg  = Register{Index: -1, Name: "noreg", Type: LIRTypeVoid}

	// 64-bit general-purpose registers, used for Mem/LocalRef base addresses
	// and the Context/Layout argument pointers threaded through every call.
	RAX = Register{Index: -1, Name: "rax", Type: LIRTypeQWord, Affinity: 0}
	RBX = Register{Index: -1, Name: "rbx", Type: LIRTypeQWord, Affinity: 1}
	RCX = Register{Index: -1, Name: "rcx", Type: LIRTypeQWord, Affinity: 2}
	RDX = Register{Index: -1, Name: "rdx", Type: LIRTypeQWord, Affinity: 3}
	RSI = Register{Index: -1, Name: "rsi", Type: LIRTypeQWord, Affinity: 4}
	RDI = Register{Index: -1, Name: "rdi", Type: LIRTypeQWord, Affinity: 5}
	RSP = Register{Index: -1, Name: "rsp", Type: LIRTypeQWord, Affinity: 6}
	RBP = Register{Index: -1, Name: "rbp", Type: LIRTypeQWord, Affinity: 7}
	R8  = Register{Index: -1, Name: "r8", Type: LIRTypeQWord, Affinity: 8}
	R9  = Register{Index: -1, Name: "r9", Type: LIRTypeQWord, Affinity: 9}
	R10 = Register{Index: -1, Name: "r10", Type: LIRTypeQWord, Affinity: 10}
	R11 = Register{Index: -1, Name: "r11", Type: LIRTypeQWord, Affinity: 11}
	R12 = Register{Index: -1, Name: "r12", Type: LIRTypeQWord, Affinity: 12}
	R13 = Register{Index: -1, Name: "r13", Type: LIRTypeQWord, Affinity: 13}
	R14 = Register{Index: -1, Name: "r14", Type: LIRTypeQWord, Affinity: 14}
	R15 = Register{Index: -1, Name: "r15", Type: LIRTypeQWord, Affinity: 15}
	RIP = Register{Index: -1, Name: "rip", Type: LIRTypeQWord, Affinity: 16}

	// 32-bit views, used for int/bool scalars.
	EAX  = Register{Index: -1, Name: "eax", Type: LIRTypeDWord, Affinity: 0}
	EBX  = Register{Index: -1, Name: "ebx", Type: LIRTypeDWord, Affinity: 1}
	ECX  = Register{Index: -1, Name: "ecx", Type: LIRTypeDWord, Affinity: 2}
	EDX  = Register{Index: -1, Name: "edx", Type: LIRTypeDWord, Affinity: 3}
	ESI  = Register{Index: -1, Name: "esi", Type: LIRTypeDWord, Affinity: 4}
	EDI  = Register{Index: -1, Name: "edi", Type: LIRTypeDWord, Affinity: 5}
	ESP  = Register{Index: -1, Name: "esp", Type: LIRTypeDWord, Affinity: 6}
	EBP  = Register{Index: -1, Name: "ebp", Type: LIRTypeDWord, Affinity: 7}
	R8D  = Register{Index: -1, Name: "r8d", Type: LIRTypeDWord, Affinity: 8}
	R9D  = Register{Index: -1, Name: "r9d", Type: LIRTypeDWord, Affinity: 9}
	R10D = Register{Index: -1, Name: "r10d", Type: LIRTypeDWord, Affinity: 10}
	R11D = Register{Index: -1, Name: "r11d", Type: LIRTypeDWord, Affinity: 11}
	R12D = Register{Index: -1, Name: "r12d", Type: LIRTypeDWord, Affinity: 12}
	R13D = Register{Index: -1, Name: "r13d", Type: LIRTypeDWord, Affinity: 13}
	R14D = Register{Index: -1, Name: "r14d", Type: LIRTypeDWord, Affinity: 14}
	R15D = Register{Index: -1, Name: "r15d", Type: LIRTypeDWord, Affinity: 15}

	// 8-bit views: CL is the fixed shift-count register the x86 ISA demands
	// regardless of the shifted operand's width.
	AL  = Register{Index: -1, Name: "al", Type: LIRTypeByte, Affinity: 0}
	CL  = Register{Index: -1, Name: "cl", Type: LIRTypeByte, Affinity: 2}
	DL  = Register{Index: -1, Name: "dl", Type: LIRTypeByte, Affinity: 3}
	SIL = Register{Index: -1, Name: "sil", Type: LIRTypeByte, Affinity: 4}
	DIL = Register{Index: -1, Name: "dil", Type: LIRTypeByte, Affinity: 5}
	R8B = Register{Index: -1, Name: "r8b", Type: LIRTypeByte, Affinity: 8}
	R9B = Register{Index: -1, Name: "r9b", Type: LIRTypeByte, Affinity: 9}

	// XMM registers, aliased three ways over the same sixteen physical
	// slots: packed single, packed double, packed integer/qbool-mask. A
	// scalar float/double lives in lane 0 of the *S/*D alias.
	XMM0S, XMM0D, XMM0I    = xmm(0)
	XMM1S, XMM1D, XMM1I    = xmm(1)
	XMM2S, XMM2D, XMM2I    = xmm(2)
	XMM3S, XMM3D, XMM3I    = xmm(3)
	XMM4S, XMM4D, XMM4I    = xmm(4)
	XMM5S, XMM5D, XMM5I    = xmm(5)
	XMM6S, XMM6D, XMM6I    = xmm(6)
	XMM7S, XMM7D, XMM7I    = xmm(7)
	XMM8S, XMM8D, XMM8I    = xmm(8)
	XMM9S, XMM9D, XMM9I    = xmm(9)
	XMM10S, XMM10D, XMM10I = xmm(10)
	XMM11S, XMM11D, XMM11I = xmm(11)
	XMM12S, XMM12D, XMM12I = xmm(12)
	XMM13S, XMM13D, XMM13I = xmm(13)
	XMM14S, XMM14D, XMM14I = xmm(14)
	XMM15S, XMM15D, XMM15I = xmm(15)
)

func xmm(affinity int) (s, d, i Register) {
	name := xmmName(affinity)
	return Register{Index: -1, Name: name, Type: LIRTypeVector16S, Affinity: affinity},
		Register{Index: -1, Name: name, Type: LIRTypeVector16D, Affinity: affinity},
		Register{Index: -1, Name: name, Type: LIRTypeVector16I, Affinity: affinity}
}

// xmmName avoids pulling in fmt for a single digit-appending helper used
// only at package-init time.
func xmmName(affinity int) string {
	digits := "0123456789"
	if affinity < 10 {
		return "xmm" + string(digits[affinity])
	}
	return "xmm1" + string(digits[affinity-10])
}

var AllRegisters = []Register{
	RAX, RBX, RCX, RDX, RSI, RDI, RSP, RBP, R8, R9, R10, R11, R12, R13, R14, R15, RIP,
	EAX, EBX, ECX, EDX, ESI, EDI, ESP, EBP, R8D, R9D, R10D, R11D, R12D, R13D, R14D, R15D,
	AL, CL, DL, SIL, DIL, R8B, R9B,
	XMM0S, XMM1S, XMM2S, XMM3S, XMM4S, XMM5S, XMM6S, XMM7S, XMM8S, XMM9S, XMM10S, XMM11S, XMM12S, XMM13S, XMM14S, XMM15S,
	XMM0D, XMM1D, XMM2D, XMM3D, XMM4D, XMM5D, XMM6D, XMM7D, XMM8D, XMM9D, XMM10D, XMM11D, XMM12D, XMM13D, XMM14D, XMM15D,
	XMM0I, XMM1I, XMM2I, XMM3I, XMM4I, XMM5I, XMM6I, XMM7I, XMM8I, XMM9I, XMM10I, XMM11I, XMM12I, XMM13I, XMM14I, XMM15I,
}

// Cast reinterprets r under a different width/kind of the same physical
// slot, e.g. RAX -> EAX or XMM0S -> XMM0D.
func (r Register) Cast(t *LIRType) Register {
	for _, reg := range AllRegisters {
		if reg.Affinity == r.Affinity && reg.Type == t && !reg.IsHigh {
			return reg
		}
	}
	return NoReg
}

func isXMM(t *LIRType) bool {
	return t == LIRTypeVector16S || t == LIRTypeVector16D || t == LIRTypeVector16I || t == LIRTypeVector32
}

// ReturnReg is the register one Func's return value arrives in, per the
// System V AMD64 ABI Program's trampoline targets (RAX for integers, XMM0
// for everything float/double/vector-shaped).
func ReturnReg(t *LIRType) Register {
	switch {
	case t == LIRTypeVoid:
		return NoReg
	case t == LIRTypeByte:
		return AL
	case t == LIRTypeDWord:
		return EAX
	case t == LIRTypeQWord:
		return RAX
	case isXMM(t):
		return XMM0S.Cast(t)
	default:
		xutil.ShouldNotReachHere()
	}
	return BadReg
}

// CallerSaveRegs lists the registers a call clobbers: the SysV volatile set
// plus every XMM register (all sixteen are caller-saved on x86-64).
func CallerSaveRegs() []Register {
	return []Register{
		RAX, RCX, RDX, RSI, RDI, R8, R9, R10, R11,
		XMM0S, XMM1S, XMM2S, XMM3S, XMM4S, XMM5S, XMM6S, XMM7S,
		XMM8S, XMM9S, XMM10S, XMM11S, XMM12S, XMM13S, XMM14S, XMM15S,
	}
}

// CalleeSaveRegs lists the registers a callee must preserve across a call.
func CalleeSaveRegs() []Register {
	return []Register{RBX, RBP, R12, R13, R14, R15}
}

// ArgReg implements the System V AMD64 integer/SSE argument-register
// assignment a Program's compiled entry point and its intrinsic/libm calls
// both follow: up to six integer args in RDI/RSI/RDX/RCX/R8/R9, up to eight
// float/double/vector args in XMM0-7.
func ArgReg(idx int, t *LIRType) Register {
	if isXMM(t) {
		xmmArgs := []Register{XMM0S, XMM1S, XMM2S, XMM3S, XMM4S, XMM5S, XMM6S, XMM7S}
		if idx >= len(xmmArgs) {
			xutil.Unimplement()
		}
		return xmmArgs[idx].Cast(t)
	}
	intArgs := []Register{RDI, RSI, RDX, RCX, R8, R9}
	if idx >= len(intArgs) {
		xutil.Unimplement()
	}
	switch t {
	case LIRTypeDWord:
		return intArgs[idx].Cast(LIRTypeDWord)
	case LIRTypeByte:
		return intArgs[idx].Cast(LIRTypeByte)
	default:
		return intArgs[idx]
	}
}
