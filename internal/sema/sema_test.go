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
package sema_test

import (
	"strings"
	"testing"

	"github.com/mpsl-lang/mpsl/internal/ast"
	"github.com/mpsl-lang/mpsl/internal/diag"
	"github.com/mpsl-lang/mpsl/internal/lang"
	"github.com/mpsl-lang/mpsl/internal/sema"
)

// testLayout is a minimal sema.Layout for these tests.
type testLayout []sema.LayoutMember

func (l testLayout) Members() []sema.LayoutMember { return l }

func parse(t *testing.T, src string) *ast.Program {
	t.Helper()
	p := ast.NewParser(strings.NewReader(src))
	prog := p.Parse()
	if errs := p.Errors(); len(errs) > 0 {
		t.Fatalf("parse errors: %v", errs)
	}
	return prog
}

func firstKind(t *testing.T, errs []*diag.Error) diag.ErrorKind {
	t.Helper()
	if len(errs) == 0 {
		t.Fatal("expected at least one error, got none")
	}
	return errs[0].Kind
}

func TestWellTypedProgramHasNoErrors(t *testing.T) {
	prog := parse(t, `
int add(int a, int b) { return a + b; }
int main() { return add(1, 2); }
`)
	if errs := sema.NewChecker(nil).Check(prog); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
}

func TestMissingMainIsNoSymbol(t *testing.T) {
	prog := parse(t, `int helper() { return 1; }`)
	errs := sema.NewChecker(nil).Check(prog)
	if got := firstKind(t, errs); got != diag.NoSymbol {
		t.Fatalf("error kind = %v, want NoSymbol", got)
	}
}

func TestMainWithParamsIsInvalidArgument(t *testing.T) {
	prog := parse(t, `int main(int x) { return x; }`)
	errs := sema.NewChecker(nil).Check(prog)
	if got := firstKind(t, errs); got != diag.InvalidArgument {
		t.Fatalf("error kind = %v, want InvalidArgument", got)
	}
}

func TestFallsOffEndIsReturnedNoValue(t *testing.T) {
	prog := parse(t, `
int main() {
	if (true) {
		return 1;
	}
}
`)
	errs := sema.NewChecker(nil).Check(prog)
	if got := firstKind(t, errs); got != diag.ReturnedNoValue {
		t.Fatalf("error kind = %v, want ReturnedNoValue", got)
	}
}

func TestBareReturnFromNonVoidIsReturnedNoValue(t *testing.T) {
	prog := parse(t, `int main() { return; }`)
	errs := sema.NewChecker(nil).Check(prog)
	if got := firstKind(t, errs); got != diag.ReturnedNoValue {
		t.Fatalf("error kind = %v, want ReturnedNoValue", got)
	}
}

func TestValueReturnFromVoidIsTypeError(t *testing.T) {
	prog := parse(t, `void main() { return 1; }`)
	errs := sema.NewChecker(nil).Check(prog)
	if got := firstKind(t, errs); got != diag.TypeError {
		t.Fatalf("error kind = %v, want TypeError", got)
	}
}

func TestMainMissingRetMemberIsInvalidState(t *testing.T) {
	layout := testLayout{{Name: "x", Type: lang.TInt, Offset: 0}}
	prog := parse(t, `int main() { return 1; }`)
	errs := sema.NewChecker(layout).Check(prog)
	if got := firstKind(t, errs); got != diag.InvalidState {
		t.Fatalf("error kind = %v, want InvalidState", got)
	}
}

func TestReadOfWriteOnlyMemberIsRejected(t *testing.T) {
	layout := testLayout{
		{Name: "out", Type: lang.TInt.WithAccess(lang.AccessWO), Offset: 0},
		{Name: sema.RetMemberName, Type: lang.TInt, Offset: 4},
	}
	prog := parse(t, `
int main() {
	int x = out;
	return x;
}
`)
	errs := sema.NewChecker(layout).Check(prog)
	if got := firstKind(t, errs); got != diag.WriteOnlyRead {
		t.Fatalf("error kind = %v, want WriteOnlyRead", got)
	}
}

func TestWriteToReadOnlyMemberIsRejected(t *testing.T) {
	layout := testLayout{
		{Name: "a", Type: lang.TInt.WithAccess(lang.AccessRO), Offset: 0},
		{Name: sema.RetMemberName, Type: lang.TInt, Offset: 4},
	}
	prog := parse(t, `
int main() {
	a = 2;
	return a;
}
`)
	errs := sema.NewChecker(layout).Check(prog)
	if got := firstKind(t, errs); got != diag.ReadOnlyWrite {
		t.Fatalf("error kind = %v, want ReadOnlyWrite", got)
	}
}

func TestNarrowingConversionIsTypeError(t *testing.T) {
	prog := parse(t, `
int main() {
	double d = 1.0;
	int x = d;
	return x;
}
`)
	errs := sema.NewChecker(nil).Check(prog)
	if got := firstKind(t, errs); got != diag.TypeError {
		t.Fatalf("error kind = %v, want TypeError", got)
	}
}

func TestImplicitWideningInsertsNoError(t *testing.T) {
	prog := parse(t, `
double main() {
	int x = 1;
	double d = x;
	return d;
}
`)
	if errs := sema.NewChecker(nil).Check(prog); len(errs) != 0 {
		t.Fatalf("unexpected errors for a widening conversion: %v", errs)
	}
}

func TestUndeclaredSymbolIsNoSymbol(t *testing.T) {
	prog := parse(t, `int main() { return undeclared; }`)
	errs := sema.NewChecker(nil).Check(prog)
	if got := firstKind(t, errs); got != diag.NoSymbol {
		t.Fatalf("error kind = %v, want NoSymbol", got)
	}
}

func TestSelfRecursiveCallSiteIsNotRecursionLimit(t *testing.T) {
	// Check() calls checkFunction once per top-level function; it never
	// re-enters a callee's body from a Call site, so a self-recursive
	// function's single mention of its own name must not by itself trip
	// funcDepth's recursion-limit guard (that guard targets deeply nested
	// checker recursion, not call-graph cycles at runtime).
	prog := parse(t, `
int rec() { return rec(); }
int main() { return rec(); }
`)
	if errs := sema.NewChecker(nil).Check(prog); len(errs) != 0 {
		t.Fatalf("unexpected errors from a single level of self-recursion: %v", errs)
	}
}
