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
package diag_test

import (
	"strings"
	"testing"

	"github.com/mpsl-lang/mpsl/internal/diag"
)

func TestErrorKindStringAndFatal(t *testing.T) {
	if diag.TypeError.String() != "TypeError" {
		t.Fatalf("TypeError.String() = %q", diag.TypeError.String())
	}
	if diag.ErrorKind(999).String() != "<unknown error>" {
		t.Fatalf("unknown kind String() = %q, want the fallback", diag.ErrorKind(999).String())
	}
	for _, k := range []diag.ErrorKind{diag.OutOfMemory, diag.JitFailed, diag.InvalidState} {
		if !k.IsFatal() {
			t.Errorf("%v.IsFatal() = false, want true", k)
		}
	}
	for _, k := range []diag.ErrorKind{diag.TypeError, diag.SyntaxError, diag.NoSymbol} {
		if k.IsFatal() {
			t.Errorf("%v.IsFatal() = true, want false", k)
		}
	}
}

func TestErrorFormattingWithAndWithoutPosition(t *testing.T) {
	noPos := diag.New(diag.NoSymbol, diag.Pos{}, "undeclared %q", "x")
	if got, want := noPos.Error(), `NoSymbol: undeclared "x"`; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
	withPos := diag.New(diag.TypeError, diag.Pos{Line: 3, Column: 5}, "bad type")
	if got, want := withPos.Error(), "TypeError at 3:5: bad type"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

type recordingSink struct {
	msgs []diag.Message
}

func (s *recordingSink) Log(m diag.Message) { s.msgs = append(s.msgs, m) }

func TestEmitNilSinkIsNoop(t *testing.T) {
	// Must not panic when no sink is installed.
	diag.Emit(nil, 0, diag.Message{Category: diag.CategoryError})
}

func TestEmitErrorsAlwaysFlowRegardlessOfOptions(t *testing.T) {
	sink := &recordingSink{}
	diag.Emit(sink, 0, diag.Message{Category: diag.CategoryError, Header: "boom"})
	diag.Emit(sink, 0, diag.Message{Category: diag.CategoryWarning, Header: "careful"})
	if len(sink.msgs) != 2 {
		t.Fatalf("got %d messages, want 2 (errors/warnings bypass option gating)", len(sink.msgs))
	}
}

func TestEmitDebugCategoriesGatedByOptionBit(t *testing.T) {
	sink := &recordingSink{}
	diag.Emit(sink, 0, diag.Message{Category: diag.CategoryAstInitial})
	if len(sink.msgs) != 0 {
		t.Fatal("AstInitial emitted with no DebugAST/Verbose option set")
	}
	diag.Emit(sink, diag.DebugAST, diag.Message{Category: diag.CategoryAstInitial})
	if len(sink.msgs) != 1 {
		t.Fatal("AstInitial not emitted with DebugAST set")
	}
}

func TestEmitVerboseUnlocksEveryDebugCategory(t *testing.T) {
	sink := &recordingSink{}
	for _, cat := range []diag.Category{diag.CategoryAstFinal, diag.CategoryIrFinal, diag.CategoryMachineCode} {
		diag.Emit(sink, diag.Verbose, diag.Message{Category: cat})
	}
	if len(sink.msgs) != 3 {
		t.Fatalf("got %d messages under Verbose, want 3", len(sink.msgs))
	}
}

func TestOptionsHasChecksIndividualBits(t *testing.T) {
	opts := diag.DebugAST | diag.DisableAVX2
	if !opts.Has(diag.DebugAST) {
		t.Fatal("Has(DebugAST) = false")
	}
	if opts.Has(diag.DebugIR) {
		t.Fatal("Has(DebugIR) = true, want false")
	}
}

func TestRenderMachineCodeDecodesKnownInstruction(t *testing.T) {
	// 0xC3 is `ret` in every x86 mode.
	out := diag.RenderMachineCode([]byte{0xC3}, true)
	if !strings.Contains(strings.ToLower(out), "ret") {
		t.Fatalf("RenderMachineCode(ret) = %q, want it to mention \"ret\"", out)
	}
}

func TestRenderMachineCodeFallsBackToByteOnUndecodable(t *testing.T) {
	// 0x0F 0x0B is a valid two-byte opcode (ud2) but an isolated stray 0x0F
	// with no valid following byte should still produce output without
	// panicking, falling back to a raw BYTE directive.
	out := diag.RenderMachineCode([]byte{0x0F}, true)
	if out == "" {
		t.Fatal("RenderMachineCode returned empty output for an undecodable byte")
	}
}
