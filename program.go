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
package mpsl

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"strings"
	"unsafe"

	"github.com/mpsl-lang/mpsl/internal/ast"
	"github.com/mpsl-lang/mpsl/internal/codegen"
	"github.com/mpsl-lang/mpsl/internal/diag"
	"github.com/mpsl-lang/mpsl/internal/fold"
	"github.com/mpsl-lang/mpsl/internal/ir"
	"github.com/mpsl-lang/mpsl/internal/jitmem"
	"github.com/mpsl-lang/mpsl/internal/sema"
)

// mainFuncName is the one entry point a compiled Program runs; every
// other top-level function in the source only exists to be called from
// main or from one another.
const mainFuncName = "main"

// Program is one compiled, JIT-finalized MPSL translation unit. It holds a
// strong reference to its Context's runtime for as long as it's alive.
type Program struct {
	ctx     *Context
	buf     []byte
	entries map[string]uintptr // function name -> absolute entry address
	main    uintptr
}

// Compile runs the full pipeline — parse, typecheck, fold, lower, select,
// allocate, encode, link, finalize — over source against layout, using
// ctx's code allocator. sink may be nil; opts gates which dump categories
// it receives.
func Compile(ctx *Context, source string, opts Options, layout *Layout, sink Sink) (*Program, *Error) {
	ctx.Retain()

	p := ast.NewParser(strings.NewReader(source))
	prog := p.Parse()
	for _, e := range p.Errors() {
		emitLog(sink, opts, errMessage(e))
	}
	if errs := p.Errors(); len(errs) > 0 {
		ctx.Release()
		return nil, errs[0]
	}
	emitLog(sink, opts, diag.Message{Category: diag.CategoryAstInitial, Header: "AST (initial)", Body: dumpAST(prog)})

	checker := sema.NewChecker(semaLayout{layout})
	if errs := checker.Check(prog); len(errs) > 0 {
		for _, e := range errs {
			emitLog(sink, opts, errMessage(e))
		}
		ctx.Release()
		return nil, errs[0]
	}

	optimizer := fold.New()
	optimizer.Run(prog)
	if errs := optimizer.Errors(); len(errs) > 0 {
		for _, e := range errs {
			emitLog(sink, opts, errMessage(e))
		}
		ctx.Release()
		return nil, errs[0]
	}
	emitLog(sink, opts, diag.Message{Category: diag.CategoryAstFinal, Header: "AST (folded)", Body: dumpAST(prog)})

	var hasMain bool
	encoded := make(map[string]*codegen.Encoded)
	order := make([]string, 0, len(prog.Functions))
	for _, fnAst := range prog.Functions {
		if fnAst.Name == mainFuncName {
			hasMain = true
		}
		fn := ir.Lower(fnAst, irLayout{layout})
		emitLog(sink, opts, diag.Message{Category: diag.CategoryIrInitial, Header: "IR " + fn.Name, Body: fn.String()})
		ir.DCE(fn)
		emitLog(sink, opts, diag.Message{Category: diag.CategoryIrFinal, Header: "IR " + fn.Name, Body: fn.String()})

		lir := codegen.Select(fn, fn.LocalBytes)
		alloc := codegen.Allocate(lir)
		enc := codegen.Encode(lir, alloc.FrameSize)
		emitLog(sink, opts, diag.Message{Category: diag.CategoryMachineCode, Header: "asm " + fn.Name, Body: diag.RenderMachineCode(enc.Code, true)})

		encoded[fn.Name] = enc
		order = append(order, fn.Name)
	}
	if !hasMain {
		err := diag.New(diag.NoSymbol, diag.Pos{}, "program has no main function")
		emitLog(sink, opts, errMessage(err))
		ctx.Release()
		return nil, err
	}

	buf, entries, err := link(ctx, order, encoded)
	if err != nil {
		emitLog(sink, opts, errMessage(err))
		ctx.Release()
		return nil, err
	}

	return &Program{ctx: ctx, buf: buf, entries: entries, main: entries[mainFuncName]}, nil
}

// link lays every function's code+rodata into one code-allocator region,
// patches intra-program calls and rodata loads to the addresses that
// placement fixed, resolves libm relocations against the host math
// package, and seals the region executable.
func link(ctx *Context, order []string, encoded map[string]*codegen.Encoded) ([]byte, map[string]uintptr, *diag.Error) {
	total := 0
	codeOff := make(map[string]int, len(order))
	rodataOff := make(map[string]int, len(order))
	for _, name := range order {
		enc := encoded[name]
		codeOff[name] = total
		total += len(enc.Code)
		total = align8(total)
		rodataOff[name] = total
		total += len(enc.Rodata)
		total = align8(total)
	}

	buf, merr := ctx.heap.Alloc(total)
	if merr != nil {
		return nil, nil, diag.New(diag.OutOfMemory, diag.Pos{}, "%v", merr)
	}
	for _, name := range order {
		enc := encoded[name]
		copy(buf[codeOff[name]:], enc.Code)
		copy(buf[rodataOff[name]:], enc.Rodata)
	}

	base := uintptr(unsafe.Pointer(&buf[0]))
	entries := make(map[string]uintptr, len(order))
	for _, name := range order {
		entries[name] = base + uintptr(codeOff[name])
	}

	for _, name := range order {
		enc := encoded[name]
		for _, fx := range enc.TextFixups {
			pos := codeOff[name] + fx.Pos
			rodataAbs := rodataOff[name] + enc.TextOffsets[fx.TextID]
			rel := int32(rodataAbs - (pos + 4))
			binary.LittleEndian.PutUint32(buf[pos:], uint32(rel))
		}
		for _, rl := range enc.Relocs {
			pos := codeOff[name] + rl.Offset
			var addr uintptr
			if target, ok := entries[rl.Symbol]; ok {
				addr = target
			} else if libmAddr, ok := libmSymbols[rl.Symbol]; ok {
				addr = libmAddr
			} else {
				return nil, nil, diag.New(diag.JitFailed, diag.Pos{}, "unresolved call target %q", rl.Symbol)
			}
			binary.LittleEndian.PutUint64(buf[pos:], uint64(addr))
		}
	}

	if err := ctx.heap.Seal(); err != nil {
		return nil, nil, diag.New(diag.JitFailed, diag.Pos{}, "%v", err)
	}
	return buf, entries, nil
}

func align8(n int) int { return (n + 7) &^ 7 }

// libmSymbols resolves the backend's libm intrinsic call targets
// (emitLibmCall's "math.Pow" etc. symbol names) to the host math
// package's actual compiled entry points. reflect.ValueOf(fn).Pointer()
// returns a function value's code address rather than a closure
// pointer, and for every one of these signatures — float64 in, float64
// out, no more than two parameters — Go's internal ABI happens to place
// arguments and the result in the same XMM registers System V does, so
// the backend's ordinary relocated-call sequence reaches them directly
// with no trampoline.
var libmSymbols = map[string]uintptr{
	"math.Pow": reflect.ValueOf(math.Pow).Pointer(),
	"math.Exp": reflect.ValueOf(math.Exp).Pointer(),
	"math.Log": reflect.ValueOf(math.Log).Pointer(),
	"math.Sin": reflect.ValueOf(math.Sin).Pointer(),
	"math.Cos": reflect.ValueOf(math.Cos).Pointer(),
	"math.Tan": reflect.ValueOf(math.Tan).Pointer(),
}

// Run invokes the compiled program's main against args, the host-owned,
// 16-byte-aligned memory block backing this Program's Layout. Safe to
// call concurrently from multiple goroutines as long as each supplies its
// own args block.
func (p *Program) Run(args unsafe.Pointer) ErrorKind {
	return ErrorKind(jitmem.CallLayout(p.main, args))
}

// Release drops this Program's strong reference to its Context. The
// generated code itself lives for the Context's lifetime (this package
// does not implement per-program code reclamation — see DESIGN.md).
func (p *Program) Release() {
	p.ctx.Release()
}

func errMessage(e *diag.Error) diag.Message {
	pos := e.Pos
	return diag.Message{Category: diag.CategoryError, Header: e.Kind.String(), Body: e.Msg, Pos: &pos}
}

func dumpAST(prog *ast.Program) string {
	var b strings.Builder
	for _, fn := range prog.Functions {
		fmt.Fprintf(&b, "%v\n", fn)
	}
	return b.String()
}
