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
package codegen_test

import (
	"strings"
	"testing"

	"github.com/mpsl-lang/mpsl/internal/ast"
	"github.com/mpsl-lang/mpsl/internal/codegen"
	"github.com/mpsl-lang/mpsl/internal/ir"
	"github.com/mpsl-lang/mpsl/internal/lang"
	"github.com/mpsl-lang/mpsl/internal/sema"
)

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

// selectMain parses, typechecks, lowers and selects src's main function,
// returning the LIRFunc ready for allocation.
func selectMain(t *testing.T, src string, members []testMember) *codegen.LIRFunc {
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
			irFn := ir.Lower(fn, irLayout(members))
			return codegen.Select(irFn, irFn.LocalBytes)
		}
	}
	t.Fatal("no main function found")
	return nil
}

func TestGetLIRTypeMapsScalarsAndVectors(t *testing.T) {
	cases := []struct {
		name string
		t    lang.Type
		want *codegen.LIRType
	}{
		{"void", lang.TVoid, codegen.LIRTypeVoid},
		{"int", lang.TInt, codegen.LIRTypeDWord},
		{"bool", lang.TBool, codegen.LIRTypeDWord},
		{"float", lang.TFloat, codegen.LIRTypeVector16S},
		{"double", lang.TDouble, codegen.LIRTypeVector16D},
		{"int4", lang.TInt4, codegen.LIRTypeVector16I},
		{"float4", lang.TFloat4, codegen.LIRTypeVector16S},
		{"double2", lang.TDouble2, codegen.LIRTypeVector16D},
		{"double4", lang.TDouble4, codegen.LIRTypeVector32},
	}
	for _, c := range cases {
		if got := codegen.GetLIRType(c.t); got != c.want {
			t.Errorf("GetLIRType(%s) = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestRegisterCastReinterpretsSameSlot(t *testing.T) {
	if got := codegen.RAX.Cast(codegen.LIRTypeDWord); got != codegen.EAX {
		t.Fatalf("RAX.Cast(DWord) = %v, want EAX", got)
	}
	if got := codegen.XMM0S.Cast(codegen.LIRTypeVector16D); got != codegen.XMM0D {
		t.Fatalf("XMM0S.Cast(Vector16D) = %v, want XMM0D", got)
	}
}

func TestReturnRegPicksABIRegisterByClass(t *testing.T) {
	if got := codegen.ReturnReg(codegen.LIRTypeDWord); got != codegen.EAX {
		t.Fatalf("ReturnReg(DWord) = %v, want EAX", got)
	}
	if got := codegen.ReturnReg(codegen.LIRTypeVector16S); got != codegen.XMM0S {
		t.Fatalf("ReturnReg(Vector16S) = %v, want XMM0S", got)
	}
	if got := codegen.ReturnReg(codegen.LIRTypeVoid); got != codegen.NoReg {
		t.Fatalf("ReturnReg(Void) = %v, want NoReg", got)
	}
}

func TestArgRegAssignsDistinctRegistersPerIndex(t *testing.T) {
	a := codegen.ArgReg(0, codegen.LIRTypeQWord)
	b := codegen.ArgReg(1, codegen.LIRTypeQWord)
	if a == b {
		t.Fatal("ArgReg(0) and ArgReg(1) returned the same register")
	}
	if a != codegen.RDI {
		t.Fatalf("ArgReg(0, QWord) = %v, want RDI", a)
	}
	if got := codegen.ArgReg(0, codegen.LIRTypeVector16S); got != codegen.XMM0S {
		t.Fatalf("ArgReg(0, Vector16S) = %v, want XMM0S", got)
	}
}

func TestSelectProducesOneLIRBlockPerIRBlock(t *testing.T) {
	members := []testMember{
		{Name: "a", Type: lang.TInt, Offset: 0},
		{Name: sema.RetMemberName, Type: lang.TInt, Offset: 4},
	}
	lf := selectMain(t, `int main() { return a + 1; }`, members)
	if len(lf.Blocks) != 1 {
		t.Fatalf("got %d LIR blocks, want 1", len(lf.Blocks))
	}
	if lf.Blocks[0].Id != lf.Entry {
		t.Fatalf("block id %d != entry %d", lf.Blocks[0].Id, lf.Entry)
	}
}

func TestAllocateAssignsOnlyPhysicalRegisters(t *testing.T) {
	members := []testMember{
		{Name: "a", Type: lang.TInt, Offset: 0},
		{Name: "b", Type: lang.TInt, Offset: 4},
		{Name: sema.RetMemberName, Type: lang.TInt, Offset: 8},
	}
	lf := selectMain(t, `int main() { return (a + b) * (a - b) + a * b; }`, members)
	result := codegen.Allocate(lf)
	if result.FrameSize < lf.FrameSize {
		t.Fatalf("FrameSize %d < input LocalBytes %d", result.FrameSize, lf.FrameSize)
	}

	for _, b := range lf.Blocks {
		for _, inst := range b.Insts {
			if r, ok := inst.Result.(codegen.Register); ok && r.Virtual {
				t.Fatalf("instruction %v still has a virtual result register after Allocate", inst)
			}
			for _, a := range inst.Args {
				if r, ok := a.(codegen.Register); ok && r.Virtual {
					t.Fatalf("instruction %v still has a virtual arg register after Allocate", inst)
				}
			}
		}
	}
}

func TestAllocateHandlesManyLiveValuesBySpilling(t *testing.T) {
	// More live temporaries than the allocator's free GP pool (11 registers)
	// forces at least one spill; Allocate must still finish and leave no
	// virtual registers behind.
	members := []testMember{
		{Name: "a", Type: lang.TInt, Offset: 0},
		{Name: sema.RetMemberName, Type: lang.TInt, Offset: 4},
	}
	lf := selectMain(t, `
int main() {
	int v0 = a + 1;
	int v1 = a + 2;
	int v2 = a + 3;
	int v3 = a + 4;
	int v4 = a + 5;
	int v5 = a + 6;
	int v6 = a + 7;
	int v7 = a + 8;
	int v8 = a + 9;
	int v9 = a + 10;
	int v10 = a + 11;
	int v11 = a + 12;
	int v12 = a + 13;
	return v0 + v1 + v2 + v3 + v4 + v5 + v6 + v7 + v8 + v9 + v10 + v11 + v12;
}
`, members)
	codegen.Allocate(lf)
	for _, b := range lf.Blocks {
		for _, inst := range b.Insts {
			if r, ok := inst.Result.(codegen.Register); ok && r.Virtual {
				t.Fatalf("instruction %v still has a virtual result register after Allocate", inst)
			}
		}
	}
}
