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

// Package ir holds MPSL's typed three-address intermediate representation:
// a CFG of blocks, each an ordered instruction list, with CFG edges and
// branch targets modeled as block-index "weak" references instead of
// owning *Block pointers — a loop's back edge would otherwise be a cyclic
// pointer structure, which a plain index sidesteps.
package ir

import (
	"fmt"

	"github.com/mpsl-lang/mpsl/internal/lang"
)

// Op is an IR instruction opcode.
type Op int

const (
	OpNone Op = iota
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpAnd
	OpOr
	OpXor
	OpNot
	OpNeg
	OpShl
	OpShr
	OpCmpEq
	OpCmpNe
	OpCmpLt
	OpCmpLe
	OpCmpGt
	OpCmpGe
	OpLogNot
	OpMov
	OpCvt
	OpFetch
	OpStore
	OpCall
	OpRet
	OpSwizzle
	OpIndex
	OpVAddW
	OpVMulW
	OpVSrlW
	OpSqrt
	OpAbs
	OpMin
	OpMax
	OpFloor
	OpCeil
	OpRound
	OpTrunc
	OpPow
	OpExp
	OpLog
	OpSin
	OpCos
	OpTan
	OpJump
	OpBranch
	OpParam
	OpPhi
	OpBlend
)

func (op Op) String() string {
	if s, ok := opNames[op]; ok {
		return s
	}
	return "<bad op>"
}

var opNames = map[Op]string{
	OpAdd: "Add", OpSub: "Sub", OpMul: "Mul", OpDiv: "Div", OpMod: "Mod",
	OpAnd: "And", OpOr: "Or", OpXor: "Xor", OpNot: "Not", OpNeg: "Neg",
	OpShl: "Shl", OpShr: "Shr",
	OpCmpEq: "CmpEq", OpCmpNe: "CmpNe", OpCmpLt: "CmpLt", OpCmpLe: "CmpLe",
	OpCmpGt: "CmpGt", OpCmpGe: "CmpGe", OpLogNot: "LogNot",
	OpMov: "Mov", OpCvt: "Cvt", OpFetch: "Fetch", OpStore: "Store",
	OpCall: "Call", OpRet: "Ret", OpSwizzle: "Swizzle", OpIndex: "Index",
	OpVAddW: "VAddW", OpVMulW: "VMulW", OpVSrlW: "VSrlW",
	OpSqrt: "Sqrt", OpAbs: "Abs", OpMin: "Min", OpMax: "Max",
	OpFloor: "Floor", OpCeil: "Ceil", OpRound: "Round", OpTrunc: "Trunc",
	OpPow: "Pow", OpExp: "Exp", OpLog: "Log", OpSin: "Sin", OpCos: "Cos",
	OpTan: "Tan", OpJump: "Jump", OpBranch: "Branch", OpParam: "Param",
	OpPhi: "Phi", OpBlend: "Blend",
}

// Role groups an opcode for DCE purity and for the backend's
// instruction-selection dispatch: store/call/ret/arith/cmp/mov/cvt are
// each a distinct role even when several ops share one role.
type Role int

const (
	RoleArith Role = iota
	RoleCmp
	RoleMov
	RoleCvt
	RoleFetch
	RoleStore
	RoleCall
	RoleRet
	RoleBranch
)

// WidthClass is the backend vector-width tag.
type WidthClass int

const (
	ScalarWidth WidthClass = iota
	Vec128
	Vec256
)

// WidthClassFor picks Vec128 for vectors whose total Value size is <= 16
// bytes and Vec256 above that, matching lang.Type.Size()'s own 16/32-byte
// Value layout.
func WidthClassFor(t lang.Type) WidthClass {
	if !t.IsVector() {
		return ScalarWidth
	}
	if t.Size() > 16 {
		return Vec256
	}
	return Vec128
}

// -----------------------------------------------------------------------
// Operands

// ObjKind discriminates an IR operand: Var, Imm, Mem, or BlockRef, plus
// LocalRef for the lowerer's private per-function local frame (see
// lower.go).
type ObjKind int

const (
	KindVar ObjKind = iota
	KindImm
	KindMem
	KindBlockRef
	KindLocal
)

// Obj is an IR operand, modeled as a tagged variant the same way the AST
// nodes are.
type Obj interface {
	Kind() ObjKind
	Type() lang.Type
}

// Var is a typed virtual register. Lowering never redefines a Var once
// created — single assignment per register — and Uses is maintained by
// Block.Emit/Block.RemoveInst and drives the DCE pass's liveness check.
type Var struct {
	T    lang.Type
	id   int
	Uses int
}

func (v *Var) Kind() ObjKind   { return KindVar }
func (v *Var) Type() lang.Type { return v.T }
func (v *Var) ID() int         { return v.id }

// Imm is a typed constant operand.
type Imm struct {
	T     lang.Type
	Value lang.Const
}

func (i *Imm) Kind() ObjKind   { return KindImm }
func (i *Imm) Type() lang.Type { return i.T }

// Mem is a base+offset reference into the argument frame backing one
// Layout member.
type Mem struct {
	T      lang.Type
	Offset int
	Name   string
}

func (m *Mem) Kind() ObjKind   { return KindMem }
func (m *Mem) Type() lang.Type { return m.T }

// BlockRef names a branch target by block index rather than an owning
// *Block pointer: a loop's body always points back to its header, which
// would otherwise be a cyclic pointer reference.
type BlockRef struct {
	Block int
}

func (b *BlockRef) Kind() ObjKind   { return KindBlockRef }
func (b *BlockRef) Type() lang.Type { return lang.TVoid }

// -----------------------------------------------------------------------
// Instructions

// Inst is one typed three-address IR instruction. Result is the single
// Var it defines, kept as its own field (not Args[0]) so DCE's "does this
// instruction define anything live" check never has to guess which
// operand position holds the result.
type Inst struct {
	Op     Op
	Role   Role
	Width  WidthClass
	Result *Var
	Args   []Obj
	Block  int
	Callee string // valid when Op == OpCall: the callee function's name
	Index  int    // valid when Op == OpParam: positional parameter index
	Lanes  []int  // valid when Op == OpSwizzle or a static OpBlend: resolved lane indices
}

func (i *Inst) String() string {
	if i.Result != nil {
		return fmt.Sprintf("v%d = %v", i.Result.id, i.Op)
	}
	return i.Op.String()
}

// -----------------------------------------------------------------------
// Blocks and CFG

// BlockKind is a block's terminator shape.
type BlockKind int

const (
	BlockGoto BlockKind = iota
	BlockIf
	BlockReturn
)

// Block is one basic block: an owned, ordered instruction list plus CFG
// edges to other blocks within the same Func, held as indices (see
// BlockRef) rather than pointers.
type Block struct {
	Id    int
	Kind  BlockKind
	Insts []*Inst
	Succs []int
	Preds []int
	Ctrl  Obj // branch condition, set when Kind == BlockIf
	Name  string
}

// Emit appends a new instruction to b, bumping the use count of any Var
// arguments.
func (b *Block) Emit(op Op, role Role, width WidthClass, result *Var, args ...Obj) *Inst {
	inst := &Inst{Op: op, Role: role, Width: width, Result: result, Args: args, Block: b.Id}
	for _, a := range args {
		if v, ok := a.(*Var); ok {
			v.Uses++
		}
	}
	b.Insts = append(b.Insts, inst)
	return inst
}

// RemoveInst drops the instruction at idx, decrementing the use count of
// any Var arguments it held.
func (b *Block) RemoveInst(idx int) {
	inst := b.Insts[idx]
	for _, a := range inst.Args {
		if v, ok := a.(*Var); ok {
			v.Uses--
		}
	}
	b.Insts = append(b.Insts[:idx], b.Insts[idx+1:]...)
}

// -----------------------------------------------------------------------
// Function

// Func is one lowered function: an ordered block list plus the entry
// block index.
type Func struct {
	Name       string
	Blocks     []*Block
	Entry      int
	LocalBytes int // size of the LocalRef frame this function's body needs
	nextVar    int
}

func NewFunc(name string) *Func {
	return &Func{Name: name}
}

func (f *Func) NewBlock(kind BlockKind, name string) *Block {
	b := &Block{Id: len(f.Blocks), Kind: kind, Name: name}
	f.Blocks = append(f.Blocks, b)
	return b
}

func (f *Func) NewVar(t lang.Type) *Var {
	v := &Var{T: t, id: f.nextVar}
	f.nextVar++
	return v
}

// WireTo adds a CFG edge from -> to, recording it on both sides as block
// indices.
func (f *Func) WireTo(from, to *Block) {
	from.Succs = append(from.Succs, to.Id)
	to.Preds = append(to.Preds, from.Id)
}

func (f *Func) Block(i int) *Block { return f.Blocks[i] }

func (b *Block) String() string {
	s := fmt.Sprintf("b%d:", b.Id)
	for _, inst := range b.Insts {
		s += fmt.Sprintf("\n\t%v", inst)
	}
	return s
}

func (f *Func) String() string {
	s := fmt.Sprintf("func %s:\n", f.Name)
	for _, b := range f.Blocks {
		s += fmt.Sprintf("%s\n", b.String())
	}
	return s
}
