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

// Package mpsl is the embedding facade over the compiler/JIT pipeline:
// Context owns the long-lived, reference-counted runtime state (CPU
// feature probe, code allocator); Layout (layout.go) describes one
// program's args block; Program (program.go) runs the pipeline end to end
// and owns the generated code.
package mpsl

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/cpu"

	"github.com/mpsl-lang/mpsl/internal/diag"
	"github.com/mpsl-lang/mpsl/internal/jitmem"
)

// Features records which backend-relevant instruction set extensions the
// host CPU supports, gated further by the Options bits a particular
// Compile call passes (`DisableSSE4_1`/`DisableAVX`/`DisableAVX2`).
type Features struct {
	SSE41 bool
	AVX   bool
	AVX2  bool
}

func detectFeatures() Features {
	return Features{
		SSE41: cpu.X86.HasSSE41,
		AVX:   cpu.X86.HasAVX,
		AVX2:  cpu.X86.HasAVX2,
	}
}

// Context is the reference-counted runtime every Program compiles against:
// NewContext constructs it with reference count 1, Retain copies increment
// it, and the last Release tears down the code allocator. The zero Context
// is not valid; use NewContext.
type Context struct {
	refs     int32
	heap     *jitmem.Heap
	features Features
	mu       sync.Mutex
	released bool
}

// NewContext constructs a Context with reference count 1.
func NewContext() *Context {
	return &Context{refs: 1, heap: jitmem.NewHeap(), features: detectFeatures()}
}

// Retain increments the reference count and returns c, mirroring the
// value-semantics "copy increments" contract for embedders that hand a
// Context to more than one Program.
func (c *Context) Retain() *Context {
	atomic.AddInt32(&c.refs, 1)
	return c
}

// Release decrements the reference count; the last Release tears down the
// code allocator. Calling Release more times than the Context has been
// retained is a host programming error and panics, the same way a
// double-free would.
func (c *Context) Release() {
	n := atomic.AddInt32(&c.refs, -1)
	if n < 0 {
		panic("mpsl: Context released more times than retained")
	}
	if n == 0 {
		c.mu.Lock()
		defer c.mu.Unlock()
		if !c.released {
			c.heap.Release()
			c.released = true
		}
	}
}

// Features reports the CPU extensions this Context's backend may target.
func (c *Context) Features() Features { return c.features }

// emitLog reports msg through sink if the pipeline stage calling it has
// one; Program.Compile uses this as its one chokepoint for every
// CategoryError/Warning/AstInitial/... message.
func emitLog(sink diag.Sink, opts diag.Options, msg diag.Message) {
	diag.Emit(sink, opts, msg)
}

// The embedding API's error/log/options vocabulary lives in internal/diag,
// which callers outside this module cannot import directly; these aliases
// and re-exported constants are how Compile's opts/sink parameters and
// Run's returned error code stay usable from outside the module without
// duplicating diag's definitions.
type (
	ErrorKind = diag.ErrorKind
	Error     = diag.Error
	Options   = diag.Options
	Sink      = diag.Sink
	Message   = diag.Message
	Category  = diag.Category
)

const (
	Verbose       = diag.Verbose
	DebugAST      = diag.DebugAST
	DebugIR       = diag.DebugIR
	DebugASM      = diag.DebugASM
	DisableSSE4_1 = diag.DisableSSE4_1
	DisableAVX    = diag.DisableAVX
	DisableAVX2   = diag.DisableAVX2
)

const (
	CategoryError       = diag.CategoryError
	CategoryWarning     = diag.CategoryWarning
	CategoryAstInitial  = diag.CategoryAstInitial
	CategoryAstFinal    = diag.CategoryAstFinal
	CategoryIrInitial   = diag.CategoryIrInitial
	CategoryIrFinal     = diag.CategoryIrFinal
	CategoryMachineCode = diag.CategoryMachineCode
)

const (
	Ok              = diag.Ok
	OutOfMemory     = diag.OutOfMemory
	InvalidArgument = diag.InvalidArgument
	InvalidState    = diag.InvalidState
	AbortedByLog    = diag.AbortedByLog
	RecursionLimit  = diag.RecursionLimit
	SyntaxError     = diag.SyntaxError
	TypeError       = diag.TypeError
	NoSymbol        = diag.NoSymbol
	SymbolCollision = diag.SymbolCollision
	InvalidType     = diag.InvalidType
	InvalidSwizzle  = diag.InvalidSwizzle
	ReturnedNoValue = diag.ReturnedNoValue
	UnreachableCode = diag.UnreachableCode
	WriteOnlyRead   = diag.WriteOnlyRead
	ReadOnlyWrite   = diag.ReadOnlyWrite
	JitFailed       = diag.JitFailed
)
