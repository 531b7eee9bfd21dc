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
package ir_test

import (
	"strings"
	"testing"

	"github.com/mpsl-lang/mpsl/internal/ast"
	"github.com/mpsl-lang/mpsl/internal/ir"
	"github.com/mpsl-lang/mpsl/internal/lang"
	"github.com/mpsl-lang/mpsl/internal/sema"
)

// testLayout is shared by sema.Layout and ir.Layout: both just want a
// Members() slice, differing only in element type, so two thin adapters
// over the same backing slice keep a test's layout declaration in one
// place.
type testMember struct {
	Name   string
	Type   lang.Type
	Offset int
}

type semaLayout []testMember

func (l semaLayout) Members() []sema.LayoutMember {
	out := make([]sema.LayoutMember, len(l))
	for i, m := range l {
		out[i] = sema.LayoutMember{Name: m.Name, Type: m.Type, Offset: m.Offset}
	}
	return out
}

type irLayout []testMember

func (l irLayout) Members() []ir.MemberInfo {
	out := make([]ir.MemberInfo, len(l))
	for i, m := range l {
		out[i] = ir.MemberInfo{Name: m.Name, Type: m.Type, Offset: m.Offset}
	}
	return out
}

// lowerMain parses, typechecks and lowers src's main function against a
// layout built from members, returning the resulting Func.
func lowerMain(t *testing.T, src string, members []testMember) *ir.Func {
	t.Helper()
	p := ast.NewParser(strings.NewReader(src))
	prog := p.Parse()
	if errs := p.Errors(); len(errs) > 0 {
		t.Fatalf("parse errors: %v", errs)
	}
	if errs := sema.NewChecker(semaLayout(members)).Check(prog); len(errs) > 0 {
		t.Fatalf("sema errors: %v", errs)
	}
	for _, fn := range prog.Functions {
		if fn.Name == "main" {
			return ir.Lower(fn, irLayout(members))
		}
	}
	t.Fatal("no main function found")
	return nil
}

func countInsts(fn *ir.Func) int {
	n := 0
	for _, b := range fn.Blocks {
		n += len(b.Insts)
	}
	return n
}

func TestLowerStraightLineArithmetic(t *testing.T) {
	members := []testMember{
		{Name: "a", Type: lang.TInt, Offset: 0},
		{Name: "b", Type: lang.TInt, Offset: 4},
		{Name: sema.RetMemberName, Type: lang.TInt, Offset: 8},
	}
	fn := lowerMain(t, `int main() { return a + b * 2; }`, members)

	if len(fn.Blocks) != 1 {
		t.Fatalf("got %d blocks, want 1 (no branches in a straight-line body)", len(fn.Blocks))
	}
	entry := fn.Block(fn.Entry)
	if entry.Kind != ir.BlockReturn {
		t.Fatalf("entry block kind = %v, want BlockReturn", entry.Kind)
	}

	var sawStoreToRet, sawMul, sawAdd, sawRet bool
	for _, inst := range entry.Insts {
		switch inst.Op {
		case ir.OpMul:
			sawMul = true
		case ir.OpAdd:
			sawAdd = true
		case ir.OpRet:
			sawRet = true
		case ir.OpStore:
			if m, ok := inst.Args[0].(*ir.Mem); ok && m.Name == "@ret" {
				sawStoreToRet = true
			}
		}
	}
	if !sawMul || !sawAdd || !sawRet || !sawStoreToRet {
		t.Fatalf("missing expected instruction in %v", entry)
	}
}

func TestLowerIfElseWiresBothSuccessors(t *testing.T) {
	members := []testMember{
		{Name: "flag", Type: lang.TBool, Offset: 0},
		{Name: sema.RetMemberName, Type: lang.TInt, Offset: 4},
	}
	fn := lowerMain(t, `
int main() {
	if (flag) {
		return 1;
	} else {
		return 2;
	}
}
`, members)

	entry := fn.Block(fn.Entry)
	if entry.Kind != ir.BlockIf {
		t.Fatalf("entry block kind = %v, want BlockIf", entry.Kind)
	}
	if len(entry.Succs) != 2 {
		t.Fatalf("entry has %d successors, want 2 (then + else)", len(entry.Succs))
	}
	for _, succID := range entry.Succs {
		succ := fn.Block(succID)
		if len(succ.Preds) != 1 || succ.Preds[0] != entry.Id {
			t.Fatalf("block %d preds = %v, want [%d]", succID, succ.Preds, entry.Id)
		}
		if succ.Kind != ir.BlockReturn {
			t.Fatalf("block %d kind = %v, want BlockReturn", succID, succ.Kind)
		}
	}
}

func TestLowerWhileLoopBackEdge(t *testing.T) {
	members := []testMember{
		{Name: "n", Type: lang.TInt, Offset: 0},
		{Name: sema.RetMemberName, Type: lang.TInt, Offset: 4},
	}
	fn := lowerMain(t, `
int main() {
	int i = 0;
	while (i < n) {
		i = i + 1;
	}
	return i;
}
`, members)

	var header *ir.Block
	for _, b := range fn.Blocks {
		if b.Name == "while.header" {
			header = b
		}
	}
	if header == nil {
		t.Fatal("no while.header block found")
	}
	// The loop body's latch jumps back to the header, so the header must
	// appear among its own successors' successors by way of a Pred back
	// edge recorded on header itself.
	sawBackEdge := false
	for _, predID := range header.Preds {
		if predID != fn.Entry && predID >= header.Id {
			sawBackEdge = true
		}
	}
	if !sawBackEdge {
		t.Fatalf("while.header preds = %v, want a back edge from the loop body", header.Preds)
	}
}

func TestWidthClassForScalarAndVectors(t *testing.T) {
	if got := ir.WidthClassFor(lang.TInt); got != ir.ScalarWidth {
		t.Fatalf("WidthClassFor(int) = %v, want ScalarWidth", got)
	}
	if got := ir.WidthClassFor(lang.TInt4); got != ir.Vec128 {
		t.Fatalf("WidthClassFor(int4) = %v, want Vec128", got)
	}
	if got := ir.WidthClassFor(lang.TDouble4); got != ir.Vec256 {
		t.Fatalf("WidthClassFor(double4) = %v, want Vec256 (8 bytes/lane * 4 > 16)", got)
	}
}

func TestEmitBumpsUsesAndRemoveInstDecrements(t *testing.T) {
	fn := ir.NewFunc("f")
	b := fn.NewBlock(ir.BlockGoto, "entry")
	v := fn.NewVar(lang.TInt)
	one := &ir.Imm{T: lang.TInt, Value: lang.ConstInt(1)}

	inst := b.Emit(ir.OpAdd, ir.RoleArith, ir.ScalarWidth, fn.NewVar(lang.TInt), v, one)
	if v.Uses != 1 {
		t.Fatalf("Var.Uses after Emit = %d, want 1", v.Uses)
	}

	idx := -1
	for i, in := range b.Insts {
		if in == inst {
			idx = i
		}
	}
	if idx < 0 {
		t.Fatal("emitted instruction not found in block")
	}
	b.RemoveInst(idx)
	if v.Uses != 0 {
		t.Fatalf("Var.Uses after RemoveInst = %d, want 0", v.Uses)
	}
	if len(b.Insts) != 0 {
		t.Fatalf("block has %d instructions after RemoveInst, want 0", len(b.Insts))
	}
}

func TestWireToRecordsBothDirections(t *testing.T) {
	fn := ir.NewFunc("f")
	a := fn.NewBlock(ir.BlockGoto, "a")
	b := fn.NewBlock(ir.BlockGoto, "b")
	fn.WireTo(a, b)

	if len(a.Succs) != 1 || a.Succs[0] != b.Id {
		t.Fatalf("a.Succs = %v, want [%d]", a.Succs, b.Id)
	}
	if len(b.Preds) != 1 || b.Preds[0] != a.Id {
		t.Fatalf("b.Preds = %v, want [%d]", b.Preds, a.Id)
	}
}

func TestDCERemovesUnusedPureInstruction(t *testing.T) {
	fn := ir.NewFunc("f")
	b := fn.NewBlock(ir.BlockGoto, "entry")
	dead := fn.NewVar(lang.TInt)
	b.Emit(ir.OpAdd, ir.RoleArith, ir.ScalarWidth, dead,
		&ir.Imm{T: lang.TInt, Value: lang.ConstInt(1)},
		&ir.Imm{T: lang.TInt, Value: lang.ConstInt(2)})
	b.Emit(ir.OpRet, ir.RoleRet, ir.ScalarWidth, nil)

	if n := ir.DCE(fn); n != 1 {
		t.Fatalf("DCE removed %d instructions, want 1", n)
	}
	if len(b.Insts) != 1 {
		t.Fatalf("block has %d instructions after DCE, want 1 (only Ret survives)", len(b.Insts))
	}
	if b.Insts[0].Op != ir.OpRet {
		t.Fatalf("surviving instruction = %v, want Ret", b.Insts[0].Op)
	}
}

func TestDCEPreservesStoreEvenWhenResultUnused(t *testing.T) {
	fn := ir.NewFunc("f")
	b := fn.NewBlock(ir.BlockGoto, "entry")
	b.Emit(ir.OpStore, ir.RoleStore, ir.ScalarWidth, nil,
		&ir.Mem{T: lang.TInt, Offset: 0, Name: "x"},
		&ir.Imm{T: lang.TInt, Value: lang.ConstInt(1)})
	b.Emit(ir.OpRet, ir.RoleRet, ir.ScalarWidth, nil)

	before := countInsts(fn)
	if n := ir.DCE(fn); n != 0 {
		t.Fatalf("DCE removed %d instructions, want 0 (store is pinned)", n)
	}
	if after := countInsts(fn); after != before {
		t.Fatalf("instruction count changed from %d to %d", before, after)
	}
}

func TestDCECascadesThroughADeadChain(t *testing.T) {
	// v2 = v1 + 1; v1 = 2 (both dead): a single sweep only clears v2 (whose
	// use count was already zero); removing v2's instruction then drops
	// v1's use count to zero too, so DCE must iterate to a fixed point
	// rather than stopping after one pass.
	fn := ir.NewFunc("f")
	b := fn.NewBlock(ir.BlockGoto, "entry")
	v1 := fn.NewVar(lang.TInt)
	b.Emit(ir.OpMov, ir.RoleMov, ir.ScalarWidth, v1, &ir.Imm{T: lang.TInt, Value: lang.ConstInt(2)})
	v2 := fn.NewVar(lang.TInt)
	b.Emit(ir.OpAdd, ir.RoleArith, ir.ScalarWidth, v2, v1, &ir.Imm{T: lang.TInt, Value: lang.ConstInt(1)})
	b.Emit(ir.OpRet, ir.RoleRet, ir.ScalarWidth, nil)

	if n := ir.DCE(fn); n != 2 {
		t.Fatalf("DCE removed %d instructions, want 2 (both v1's and v2's defs)", n)
	}
	if len(b.Insts) != 1 || b.Insts[0].Op != ir.OpRet {
		t.Fatalf("surviving instructions = %v, want only Ret", b.Insts)
	}
}
