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
package mpsl_test

import (
	"encoding/binary"
	"math"
	"testing"
	"unsafe"

	"github.com/mpsl-lang/mpsl"
	"github.com/mpsl-lang/mpsl/internal/lang"
)

// argsBlock is a 16-byte-aligned byte buffer big enough to back a Layout:
// the caller owns the args memory, and generated code assumes 16-byte
// alignment for its vector loads/stores.
type argsBlock struct {
	raw []byte
}

func newArgsBlock(size int) *argsBlock {
	buf := make([]byte, size+16)
	off := -uintptr(unsafe.Pointer(&buf[0])) & 15
	return &argsBlock{raw: buf[off : off+uintptr(size)]}
}

func (a *argsBlock) ptr() unsafe.Pointer { return unsafe.Pointer(&a.raw[0]) }

func (a *argsBlock) putInt32(off int, v int32) {
	binary.LittleEndian.PutUint32(a.raw[off:], uint32(v))
}
func (a *argsBlock) getInt32(off int) int32 {
	return int32(binary.LittleEndian.Uint32(a.raw[off:]))
}
func (a *argsBlock) putFloat32(off int, v float32) {
	binary.LittleEndian.PutUint32(a.raw[off:], math.Float32bits(v))
}
func (a *argsBlock) getFloat32(off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(a.raw[off:]))
}
func (a *argsBlock) putFloat64(off int, v float64) {
	binary.LittleEndian.PutUint64(a.raw[off:], math.Float64bits(v))
}
func (a *argsBlock) getFloat64(off int) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(a.raw[off:]))
}

// TestIntArithmetic covers the basic int arithmetic scenario: a `main`
// that reads two int members and writes their combination to the
// reserved @ret member.
func TestIntArithmetic(t *testing.T) {
	const src = `
int main() {
	return a + b * 2;
}
`
	layout := mpsl.NewLayout().
		AddMember("a", lang.TInt, 0).
		AddMember("b", lang.TInt, 4).
		AddMember(mpsl.RetMemberName, lang.TInt, 8)

	ctx := mpsl.NewContext()
	defer ctx.Release()

	prog, err := mpsl.Compile(ctx, src, 0, layout, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	defer prog.Release()

	args := newArgsBlock(16)
	args.putInt32(0, 7)
	args.putInt32(4, 3)

	if code := prog.Run(args.ptr()); code != mpsl.Ok {
		t.Fatalf("Run returned %v", code)
	}
	if got, want := args.getInt32(8), int32(13); got != want {
		t.Fatalf("@ret = %d, want %d", got, want)
	}
}

// TestSqrtAndPreIncrement covers the `sqrt` + `++x` scenario over floats.
func TestSqrtAndPreIncrement(t *testing.T) {
	const src = `
float main() {
	float x = sqrt(value);
	++x;
	return x;
}
`
	layout := mpsl.NewLayout().
		AddMember("value", lang.TFloat, 0).
		AddMember(mpsl.RetMemberName, lang.TFloat, 4)

	ctx := mpsl.NewContext()
	defer ctx.Release()

	prog, err := mpsl.Compile(ctx, src, 0, layout, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	defer prog.Release()

	args := newArgsBlock(16)
	args.putFloat32(0, 9.0)

	if code := prog.Run(args.ptr()); code != mpsl.Ok {
		t.Fatalf("Run returned %v", code)
	}
	want := float32(4.0) // sqrt(9) + 1
	if got := args.getFloat32(4); got != want {
		t.Fatalf("@ret = %v, want %v", got, want)
	}
}

// TestPackedAlphaBlend covers the int4 alpha-blend scenario: vmulw/vaddw/
// vsrlw treat each 32-bit lane as two independent 16-bit sub-words, so the
// expected result is hand-computed sub-word-wise rather than as plain
// 32-bit arithmetic, and any JIT encoding that picks the 32-bit-lane
// opcodes instead (PADDD/PMULLD/PSRLD) would produce a different, wrong
// value here.
func TestPackedAlphaBlend(t *testing.T) {
	const src = `
int4 main() {
	const int inv = 0x01000100;
	int4 x = vmulw(bg, inv - alpha);
	int4 y = vmulw(fg, alpha);
	return vsrlw(vaddw(x, y), 8);
}
`
	layout := mpsl.NewLayout().
		AddMember("bg", lang.TInt4, 0).
		AddMember("fg", lang.TInt4, 16).
		AddMember("alpha", lang.TInt4, 32).
		AddMember(mpsl.RetMemberName, lang.TInt4, 48)

	ctx := mpsl.NewContext()
	defer ctx.Release()

	prog, err := mpsl.Compile(ctx, src, 0, layout, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	defer prog.Release()

	args := newArgsBlock(64)
	for lane := 0; lane < 4; lane++ {
		args.putInt32(0+lane*4, 0x00FF00FF)
		args.putInt32(16+lane*4, 0)
		args.putInt32(32+lane*4, 0x00800080)
	}

	if code := prog.Run(args.ptr()); code != mpsl.Ok {
		t.Fatalf("Run returned %v", code)
	}
	// Sub-word-wise: inv-alpha = 0x00800080; bg*that = 0x7F807F80 per lane
	// (0xFF*0x80 = 0x7F80 in each 16-bit sub-word, no cross-sub-word
	// carry); fg*alpha = 0; vaddw keeps 0x7F807F80; vsrlw by 8 per
	// sub-word yields 0x007F007F.
	const want = int32(0x007F007F)
	for lane := 0; lane < 4; lane++ {
		if got := args.getInt32(48 + lane*4); got != want {
			t.Fatalf("lane %d blended to %#x, want %#x", lane, uint32(got), uint32(want))
		}
	}
}

// TestReadOnlyWriteIsRejected covers the ReadOnlyWrite error: writing to a
// layout member that was never given write access must fail typechecking,
// not silently corrupt host memory.
func TestReadOnlyWriteIsRejected(t *testing.T) {
	const src = `
int main() {
	a = 1;
	return a;
}
`
	layout := mpsl.NewLayout().
		AddMember("a", lang.TInt.WithAccess(lang.AccessRO), 0).
		AddMember(mpsl.RetMemberName, lang.TInt, 4)

	ctx := mpsl.NewContext()
	defer ctx.Release()

	_, err := mpsl.Compile(ctx, src, 0, layout, nil)
	if err == nil {
		t.Fatal("Compile succeeded, want ReadOnlyWrite")
	}
	if err.Kind != mpsl.ReadOnlyWrite {
		t.Fatalf("error kind = %v, want ReadOnlyWrite", err.Kind)
	}
}

// TestReturnedNoValueIsRejected covers the ReturnedNoValue error: a
// non-void function with a path that falls off the end without a return.
func TestReturnedNoValueIsRejected(t *testing.T) {
	const src = `
int main() {
	if (flag) {
		return 1;
	}
}
`
	layout := mpsl.NewLayout().
		AddMember("flag", lang.TBool, 0).
		AddMember(mpsl.RetMemberName, lang.TInt, 4)

	ctx := mpsl.NewContext()
	defer ctx.Release()

	_, err := mpsl.Compile(ctx, src, 0, layout, nil)
	if err == nil {
		t.Fatal("Compile succeeded, want ReturnedNoValue")
	}
	if err.Kind != mpsl.ReturnedNoValue {
		t.Fatalf("error kind = %v, want ReturnedNoValue", err.Kind)
	}
}

// TestMissingMainIsRejected covers the "program has no main function"
// case, which Compile must reject before ever reaching codegen.
func TestMissingMainIsRejected(t *testing.T) {
	const src = `
int helper() {
	return 1;
}
`
	layout := mpsl.NewLayout().AddMember(mpsl.RetMemberName, lang.TInt, 0)

	ctx := mpsl.NewContext()
	defer ctx.Release()

	_, err := mpsl.Compile(ctx, src, 0, layout, nil)
	if err == nil {
		t.Fatal("Compile succeeded, want NoSymbol")
	}
	if err.Kind != mpsl.NoSymbol {
		t.Fatalf("error kind = %v, want NoSymbol", err.Kind)
	}
}

// TestContextRefcounting covers the Context reference-counting contract: a
// Retain is balanced by one extra Release, but over-releasing a Context
// panics like the double-free it would be.
func TestContextRefcounting(t *testing.T) {
	ctx := mpsl.NewContext()
	ctx.Retain()
	ctx.Release()
	ctx.Release()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on over-release")
		}
	}()
	ctx.Release()
}
