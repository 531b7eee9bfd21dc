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

import "sort"

// ------------------------------------------------------------------------------
// Linear-scan register allocation.
//
// This deliberately builds one contiguous live range per virtual register
// rather than the full Wimmer/Mossenbock algorithm's split-interval model
// (a Range linked list per Interval, active/inactive/handled work lists).
// That simplification is sound here because ir.Var is single-assignment
// for everything except a Phi result (one dst register written once per
// predecessor, read once at the merge point — still one contiguous span
// in program order); every value that would otherwise need split ranges
// across a loop back edge already lives in a LocalRef stack slot instead
// of a Var (see internal/ir/lower.go), so the hard case split intervals
// exist to handle never reaches this pass.

// interval is one virtual register's conservative live range: the
// instruction position of its first def/use through its last.
type interval struct {
	vreg    int
	lt      *LIRType
	start   int
	end     int
	reg     Register
	spilled bool
	slot    int
}

// AllocResult is the rewritten form of a selected function, with every
// virtual register replaced by a physical one or a stack slot.
type AllocResult struct {
	FrameSize int // bytes, including the LocalRef frame and any spill slots
}

const spillSlotSize = 16 // one slot per spill, wide enough for any LIRType

// encoderScratchSize reserves room at the bottom of the frame for the
// encoder's own transient stack round-trips: moving call arguments into
// their ABI registers (encode_x86.go's emitCall) and gathering Shuffle/
// Blend lanes (emitShuffle/emitBlend). Neither shows up as a vreg spill,
// so Allocate has to set this space aside itself.
const encoderScratchSize = 64

// Allocate assigns physical registers to every virtual register in fn,
// rewriting fn.Blocks in place, and returns the final frame size. GP
// virtual registers compete over RAX, RBX, RCX, RDX, RSI and R8-R12
// (RDI holds the Layout base pointer and R13-R15 are reserved as spill
// scratch registers); XMM virtual registers
// compete over XMM0-12 (XMM13-15 reserved likewise).
func Allocate(fn *LIRFunc) *AllocResult {
	intervals := buildIntervals(fn)
	order := make([]*interval, 0, len(intervals))
	for _, iv := range intervals {
		order = append(order, iv)
	}
	sort.Slice(order, func(i, j int) bool { return order[i].start < order[j].start })

	spillBase := fn.FrameSize
	nextSlot := 0
	allocSlot := func() int {
		s := nextSlot
		nextSlot++
		return s
	}

	// R13-R15/XMM13-XMM15 are reserved as spill scratch registers (see
	// spillRewrite) and never enter the allocatable pool.
	gpFree := []Register{RAX, RBX, RCX, RDX, RSI, R8, R9, R10, R11, R12}
	xmmFree := []Register{XMM0S, XMM1S, XMM2S, XMM3S, XMM4S, XMM5S, XMM6S, XMM7S,
		XMM8S, XMM9S, XMM10S, XMM11S, XMM12S}

	var activeGP, activeXMM []*interval

	popFree := func(pool *[]Register) (Register, bool) {
		if len(*pool) == 0 {
			return BadReg, false
		}
		r := (*pool)[0]
		*pool = (*pool)[1:]
		return r, true
	}
	pushFree := func(pool *[]Register, r Register) {
		*pool = append(*pool, r)
	}

	expire := func(active *[]*interval, pool *[]Register, pos int) {
		kept := (*active)[:0]
		for _, iv := range *active {
			if iv.end < pos {
				pushFree(pool, iv.reg)
			} else {
				kept = append(kept, iv)
			}
		}
		*active = kept
	}

	insertActive := func(active *[]*interval, iv *interval) {
		i := sort.Search(len(*active), func(i int) bool { return (*active)[i].end >= iv.end })
		*active = append(*active, nil)
		copy((*active)[i+1:], (*active)[i:])
		(*active)[i] = iv
	}

	for _, iv := range order {
		xmm := isXMM(iv.lt)
		active, pool := &activeGP, &gpFree
		if xmm {
			active, pool = &activeXMM, &xmmFree
		}
		expire(active, pool, iv.start)

		if r, ok := popFree(pool); ok {
			iv.reg = r.Cast(iv.lt)
			insertActive(active, iv)
			continue
		}

		// no free register of this class: spill whichever of iv or the
		// active interval with the furthest end has the weaker claim.
		if len(*active) > 0 {
			victim := (*active)[len(*active)-1]
			if victim.end > iv.end {
				iv.reg = victim.reg
				victim.spilled = true
				victim.slot = allocSlot()
				(*active)[len(*active)-1] = iv
				// re-sort the tail since iv's end may differ from victim's
				sort.Slice(*active, func(i, j int) bool { return (*active)[i].end < (*active)[j].end })
				continue
			}
		}
		iv.spilled = true
		iv.slot = allocSlot()
	}

	spillRewrite(fn, intervals, spillBase)

	return &AllocResult{FrameSize: spillBase + nextSlot*spillSlotSize + encoderScratchSize}
}

// buildIntervals computes one conservative contiguous live range per
// virtual register by flattening fn's blocks into a single linear position
// order and recording every def/use position it appears at.
func buildIntervals(fn *LIRFunc) map[int]*interval {
	intervals := map[int]*interval{}
	touch := func(r Register, pos int) {
		if !r.Virtual {
			return
		}
		iv, ok := intervals[r.Index]
		if !ok {
			iv = &interval{vreg: r.Index, lt: r.Type, start: pos, end: pos}
			intervals[r.Index] = iv
		}
		if pos < iv.start {
			iv.start = pos
		}
		if pos > iv.end {
			iv.end = pos
		}
	}

	pos := 0
	for _, b := range fn.Blocks {
		for _, inst := range b.Insts {
			if r, ok := inst.Result.(Register); ok {
				touch(r, pos)
			}
			for _, a := range inst.Args {
				if r, ok := a.(Register); ok {
					touch(r, pos)
				}
			}
			pos++
		}
	}
	return intervals
}

// argScratchGP/resultScratchGP and their XMM counterparts are the fixed
// registers spilled operands round-trip through, so the rewrite never
// needs a second allocation pass. Two distinct arg-scratch slots cover
// every shape this selector emits (binary ops take at most one spilled
// arg, Blend/Call take at most two simultaneously-spilled args); the
// result always gets its own third slot since a def and its instruction's
// reads are live at the same time (e.g. lowerUnaryArith's in-place
// "Neg dst, dst").
var (
	argScratchGP  = [2]Register{R14, R13}
	resultScratch = R15
	argScratchFP  = [2]Register{XMM14S, XMM13S}
	resultScratchFP = XMM15S
)

func spillRewrite(fn *LIRFunc, intervals map[int]*interval, spillBase int) {
	slotAddr := func(iv *interval) Addr {
		off := spillBase + iv.slot*spillSlotSize
		return Addr{Type: iv.lt, Base: RBP, Disp: Offset{Value: -off}}
	}

	for _, b := range fn.Blocks {
		var out []*Instruction
		for _, inst := range b.Insts {
			var pre, post []*Instruction
			argSlot := 0

			for i, a := range inst.Args {
				r, ok := a.(Register)
				if !ok || !r.Virtual {
					continue
				}
				iv := intervals[r.Index]
				if iv.spilled {
					scratch := argScratch(iv.lt, argSlot)
					argSlot++
					pre = append(pre, &Instruction{Op: LIR_Load, Result: scratch, Args: []IOperand{slotAddr(iv)}})
					inst.Args[i] = scratch
				} else {
					inst.Args[i] = iv.reg
				}
			}

			if r, ok := inst.Result.(Register); ok && r.Virtual {
				iv := intervals[r.Index]
				if iv.spilled {
					scratch := resultScratchFor(iv.lt)
					inst.Result = scratch
					post = append(post, &Instruction{Op: LIR_Store, Result: slotAddr(iv), Args: []IOperand{scratch}})
				} else {
					inst.Result = iv.reg
				}
			}

			out = append(out, pre...)
			out = append(out, inst)
			out = append(out, post...)
		}
		b.Insts = out
	}
}

func argScratch(lt *LIRType, slot int) Register {
	if isXMM(lt) {
		return argScratchFP[slot].Cast(lt)
	}
	return argScratchGP[slot].Cast(lt)
}

func resultScratchFor(lt *LIRType) Register {
	if isXMM(lt) {
		return resultScratchFP.Cast(lt)
	}
	return resultScratch.Cast(lt)
}
