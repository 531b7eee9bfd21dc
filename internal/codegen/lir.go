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

// Package codegen lowers internal/ir into x86-64 machine code: a low-level
// IR (LIR) in two-operand x86 shape, a linear-scan register allocator, an
// instruction-selection pass from ir.Func to LIR, and a byte-level x86/SSE2
// encoder finalized into executable memory by internal/jitmem.
package codegen

import (
	"fmt"

	"github.com/mpsl-lang/mpsl/internal/ir"
	"github.com/mpsl-lang/mpsl/internal/lang"
	"github.com/mpsl-lang/mpsl/internal/xutil"
)

// ------------------------------------------------------------------------------
// Low-level Intermediate Representation (LIR)
//
// LIR is a three-operand form for operators, with the first operand being
// the result of the operation. x86-64 uses a two-operand form for most
// instructions, where the right operand doubles as the result, so selection
// synthesizes a fresh virtual register and a Mov ahead of the real op:
// mov v3, v1
// add v3, v2
// It's a bit of a misnomer on x86-64 but keeps one IR shape usable for other
// two- or three-operand targets too.
type LIROp int

const (
	LIR_Add LIROp = iota
	LIR_Sub
	LIR_Mul
	LIR_Div
	LIR_Mod
	LIR_And
	LIR_Or
	LIR_Xor
	LIR_Not
	LIR_Neg
	LIR_LShift
	LIR_RShift
	LIR_CmpLE
	LIR_CmpLT
	LIR_CmpGE
	LIR_CmpGT
	LIR_CmpEQ
	LIR_CmpNE
	LIR_LogNot
	LIR_Mov
	LIR_Cvt // scalar widen/narrow, int<->float<->double
	LIR_Load
	LIR_Store
	LIR_Ret
	LIR_Jmp
	LIR_Jle
	LIR_Jlt
	LIR_Jge
	LIR_Jgt
	LIR_Jeq
	LIR_Jne
	LIR_Jz
	LIR_Jnz
	// unsigned-flags counterparts of Jle/Jlt/Jge/Jgt, selected instead
	// whenever the compare feeding the branch was UCOMISS/UCOMISD rather
	// than an integer CMP — ordered float compares set flags the same way
	// an unsigned integer compare would, not a signed one.
	LIR_Jb
	LIR_Jae
	LIR_Jbe
	LIR_Ja
	LIR_Test
	LIR_Call
	// packed-lane int4 ops
	LIR_VAddW
	LIR_VMulW
	LIR_VSrlW
	// math intrinsics — selected inline (sqrt/min/max/floor/.../trunc
	// have direct SSE2 opcodes) or as out-of-line libm calls (pow/exp/log/
	// sin/cos/tan have none)
	LIR_Sqrt
	LIR_Abs
	LIR_Min
	LIR_Max
	LIR_Floor
	LIR_Ceil
	LIR_Round
	LIR_Trunc
	LIR_Pow
	LIR_Exp
	LIR_Log
	LIR_Sin
	LIR_Cos
	LIR_Tan
	// lane shuffles, swizzle/blend lowering
	LIR_Shuffle // static lane permutation, Lanes fixed at selection time
	LIR_Blend   // lane replace: static (Lanes, two Args) or runtime-indexed (third Arg is the index)
)

var lirOpNames = map[LIROp]string{
	LIR_Add: "add", LIR_Sub: "sub", LIR_Mul: "mul", LIR_Div: "div", LIR_Mod: "mod",
	LIR_And: "and", LIR_Or: "or", LIR_Xor: "xor", LIR_Not: "not", LIR_Neg: "neg",
	LIR_LShift: "lshift", LIR_RShift: "rshift",
	LIR_CmpLE: "cmple", LIR_CmpLT: "cmplt", LIR_CmpGE: "cmpge", LIR_CmpGT: "cmpgt",
	LIR_CmpEQ: "cmpeq", LIR_CmpNE: "cmpne", LIR_LogNot: "lognot",
	LIR_Mov: "mov", LIR_Cvt: "cvt", LIR_Load: "load", LIR_Store: "store",
	LIR_Ret: "ret", LIR_Jmp: "jmp", LIR_Jle: "jle", LIR_Jlt: "jl", LIR_Jge: "jge",
	LIR_Jgt: "jg", LIR_Jeq: "je", LIR_Jne: "jne", LIR_Jz: "jz", LIR_Jnz: "jnz",
	LIR_Jb: "jb", LIR_Jae: "jae", LIR_Jbe: "jbe", LIR_Ja: "ja",
	LIR_Test: "test", LIR_Call: "call",
	LIR_VAddW: "vaddw", LIR_VMulW: "vmulw", LIR_VSrlW: "vsrlw",
	LIR_Sqrt: "sqrt", LIR_Abs: "abs", LIR_Min: "min", LIR_Max: "max",
	LIR_Floor: "floor", LIR_Ceil: "ceil", LIR_Round: "round", LIR_Trunc: "trunc",
	LIR_Pow: "pow", LIR_Exp: "exp", LIR_Log: "log",
	LIR_Sin: "sin", LIR_Cos: "cos", LIR_Tan: "tan",
	LIR_Shuffle: "shuffle", LIR_Blend: "blend",
}

func (x LIROp) String() string {
	if s, ok := lirOpNames[x]; ok {
		return s
	}
	xutil.Unimplement()
	return ""
}

// IsCondJump reports whether x is one of the ten conditional jumps produced
// by condJumpOp.
func (x LIROp) IsCondJump() bool {
	switch x {
	case LIR_Jle, LIR_Jlt, LIR_Jge, LIR_Jgt, LIR_Jeq, LIR_Jne, LIR_Jb, LIR_Jae, LIR_Jbe, LIR_Ja:
		return true
	}
	return false
}

// condOp and condJumpOp map an ir.Op compare opcode to its LIR compare/jump
// counterpart. condJumpOp backs selection.go's direct compare-to-branch
// fast path; condOp has no caller (the encoder's setcc sequence picks its
// condition code from the LIR compare op via setccCode).
func condOp(op ir.Op) LIROp {
	switch op {
	case ir.OpCmpLe:
		return LIR_CmpLE
	case ir.OpCmpLt:
		return LIR_CmpLT
	case ir.OpCmpGe:
		return LIR_CmpGE
	case ir.OpCmpGt:
		return LIR_CmpGT
	case ir.OpCmpEq:
		return LIR_CmpEQ
	case ir.OpCmpNe:
		return LIR_CmpNE
	}
	xutil.ShouldNotReachHere()
	return 0
}

// condJumpOp additionally takes whether the feeding compare was float: an
// ordered float compare (UCOMISS/UCOMISD) sets flags the unsigned way, so
// Lt/Le/Ge/Gt need the unsigned Jcc family instead of the signed one; Eq/Ne
// read the same flag bits either way.
func condJumpOp(op ir.Op, float bool) LIROp {
	switch op {
	case ir.OpCmpLe:
		if float {
			return LIR_Jbe
		}
		return LIR_Jle
	case ir.OpCmpLt:
		if float {
			return LIR_Jb
		}
		return LIR_Jlt
	case ir.OpCmpGe:
		if float {
			return LIR_Jae
		}
		return LIR_Jge
	case ir.OpCmpGt:
		if float {
			return LIR_Ja
		}
		return LIR_Jgt
	case ir.OpCmpEq:
		return LIR_Jeq
	case ir.OpCmpNe:
		return LIR_Jne
	}
	xutil.ShouldNotReachHere()
	return 0
}

// Instruction is one LIR instruction: an opcode, its result operand, and its
// argument operands in two-operand x86 shape (for a two-address ALU op,
// Result is also the left/destination operand, which selection moves in
// first, and Args holds the right/source operand).
type Instruction struct {
	Op      LIROp
	Result  IOperand
	Args    []IOperand
	Comment string
	Callee  string // valid when Op == LIR_Call
	Lanes   []int  // valid when Op == LIR_Shuffle or LIR_Blend

	Id int
}

func (i *Instruction) String() string {
	if i.Comment != "" {
		return fmt.Sprintf("%s %v, %v  ; %s", i.Op, i.Result, i.Args, i.Comment)
	}
	return fmt.Sprintf("%s %v, %v", i.Op, i.Result, i.Args)
}

// ------------------------------------------------------------------------------
// LIR operand types

// LIRKind distinguishes how a register-width IOperand's bit pattern is
// interpreted by the instructions that touch it: general-purpose integer,
// packed/scalar single-precision float, or packed/scalar double. An XMM
// register might as easily hold a packed int4 or qbool4 mask as a float4,
// so this needs a third kind beyond a plain int/float split.
type LIRKind int

const (
	LKInt LIRKind = iota
	LKSingle
	LKDouble
)

type LIRType struct {
	Width int // in bytes
	Kind  LIRKind
}

var (
	LIRTypeBottom    = &LIRType{-1, LKInt} // not even a type
	LIRTypeVoid      = &LIRType{0, LKInt}
	LIRTypeByte      = &LIRType{1, LKInt}
	LIRTypeWord      = &LIRType{2, LKInt}
	LIRTypeDWord     = &LIRType{4, LKInt}  // int, bool scalars: GP register
	LIRTypeQWord     = &LIRType{8, LKInt}  // pointers, Mem/LocalRef bases
	LIRTypeVector16I = &LIRType{16, LKInt} // XMM: int2/3/4, bool vectors, qbool4
	LIRTypeVector16S = &LIRType{16, LKSingle}
	LIRTypeVector16D = &LIRType{16, LKDouble}
	LIRTypeVector32  = &LIRType{32, LKDouble} // double3/double4, 32-byte Value
)

func (x *LIRType) IsValid() bool { return x != LIRTypeBottom }

// GetLIRType maps a Value-level lang.Type onto the LIRType that carries it
// through codegen, following the same scalar/vector lane layout lang.Type
// describes.
func GetLIRType(t lang.Type) *LIRType {
	switch {
	case t.IsVoid():
		return LIRTypeVoid
	case t.IsScalar() && (t.Scalar == lang.Bool || t.Scalar == lang.Int):
		return LIRTypeDWord
	case t.IsScalar() && t.Scalar == lang.Float:
		return LIRTypeVector16S
	case t.IsScalar() && t.Scalar == lang.Double:
		return LIRTypeVector16D
	case t.IsVector() && (t.Scalar == lang.Bool || t.Scalar == lang.Int || t.Scalar == lang.QBool):
		return LIRTypeVector16I
	case t.IsVector() && t.Scalar == lang.Float:
		return LIRTypeVector16S
	case t.IsVector() && t.Scalar == lang.Double && t.Size() <= 16:
		return LIRTypeVector16D
	case t.IsVector() && t.Scalar == lang.Double:
		return LIRTypeVector32
	default:
		xutil.Unimplement()
	}
	return nil
}

type IOperand interface {
	String() string
	GetType() *LIRType
}

// Label is a mangleable intra-function branch target, e.g. L0, L1.
type Label struct {
	Name string
}

// Symbol is an un-mangleable external name, e.g. a callee function or a
// libm entry point.
type Symbol struct {
	Name string
}

// Register is either physical or virtual; almost every register this
// package produces before allocation is virtual.
type Register struct {
	Type     *LIRType
	Index    int
	Name     string
	Virtual  bool
	Affinity int
	IsHigh   bool
}

type TextKind int

const (
	TextFloat TextKind = iota
	TextDouble
	TextVector
)

// Text is a read-only-section literal: a float/double constant or a packed
// vector constant too wide to fit an Imm, referenced RIP-relative.
type Text struct {
	Id    int
	Kind  TextKind
	Value string
}

// Imm is a small immediate value, e.g. mov $123, %rax => $123. Vector and
// double constants are too wide for an immediate encoding and are loaded
// via Text instead.
type Imm struct {
	Type  *LIRType
	Value int64
}

// Offset is a bare displacement, e.g. 8(%rbp) => 8.
type Offset struct {
	Value int
}

// Addr is a memory operand: Base + Index*Scale + Disp, e.g. 8(%rbp) or
// lit_0(%rip).
type Addr struct {
	Type  *LIRType
	Base  Register
	Index Register
	Scale int
	Disp  IOperand // Offset or Symbol
}

func (x Register) GetType() *LIRType { return x.Type }
func (x Addr) GetType() *LIRType     { return x.Type }
func (x Imm) GetType() *LIRType      { return x.Type }
func (x Offset) GetType() *LIRType   { return LIRTypeBottom }
func (x Label) GetType() *LIRType    { return LIRTypeBottom }
func (x Symbol) GetType() *LIRType   { return LIRTypeBottom }
func (x Text) GetType() *LIRType     { return LIRTypeBottom }

func (x Register) String() string {
	if x.Virtual {
		return fmt.Sprintf("v%d", x.Index)
	}
	return x.Name
}
func (x Imm) String() string    { return fmt.Sprintf("$%d", x.Value) }
func (x Offset) String() string { return fmt.Sprintf("%d", x.Value) }
func (x Addr) String() string   { return fmt.Sprintf("%s[%s*%d]+%v", x.Base, x.Index, x.Scale, x.Disp) }
func (x Label) String() string  { return x.Name }
func (x Symbol) String() string { return x.Name }
func (x Text) String() string   { return x.Value }
