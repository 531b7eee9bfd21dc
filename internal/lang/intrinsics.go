package lang

import "math"

// IntrinsicKind names one of the fixed math/pack intrinsics.
type IntrinsicKind int

const (
	IntrinsicNone IntrinsicKind = iota
	Sqrt
	Abs
	Min
	Max
	Floor
	Ceil
	Round
	Trunc
	Pow
	Exp
	Log
	Sin
	Cos
	Tan
	VAddW // packed 16-bit-lane add within a 4x int32 vector register
	VMulW // packed 16-bit-lane multiply (low 16 bits of the 32-bit product)
	VSrlW // packed 16-bit-lane logical shift right
)

// FoldFunc constant-folds an intrinsic call given already-folded literal
// arguments; ok is false if the intrinsic does not fold (never happens for
// the intrinsics below, all of which are pure).
type FoldFunc func(t Type, args []Const) (Const, bool)

// IntrinsicInfo is one row of the static intrinsic table: arity and the
// hook the AST optimizer calls to fold a literal invocation.
type IntrinsicInfo struct {
	Kind   IntrinsicKind
	Name   string
	Arity  int
	Fold   FoldFunc
	Packed bool // operates on int4 lanes as 16-bit sub-words, not float math
}

func unaryFloatFold(f func(float64) float64) FoldFunc {
	return func(t Type, args []Const) (Const, bool) {
		return mapLanes(t, args[0], f), true
	}
}

func binaryFloatFold(f func(a, b float64) float64) FoldFunc {
	return func(t Type, args []Const) (Const, bool) {
		return zipLanes(t, args[0], args[1], f), true
	}
}

func mapLanes(t Type, a Const, f func(float64) float64) Const {
	out := Const{Type: t}
	for i := 0; i < t.Width; i++ {
		out = out.WithLane(i, f(a.Lane(i)))
	}
	return out
}

func zipLanes(t Type, a, b Const, f func(x, y float64) float64) Const {
	out := Const{Type: t}
	for i := 0; i < t.Width; i++ {
		out = out.WithLane(i, f(a.Lane(i), b.Lane(i)))
	}
	return out
}

func packedWordOp(f func(a, b uint16) uint16) FoldFunc {
	return func(t Type, args []Const) (Const, bool) {
		a, b := args[0], args[1]
		out := Const{Type: t}
		for lane := 0; lane < t.Width; lane++ {
			av := uint32(a.I32[lane])
			bv := uint32(b.I32[lane])
			var rLo, rHi uint16
			rLo = f(uint16(av), uint16(bv))
			rHi = f(uint16(av>>16), uint16(bv>>16))
			out.I32[lane] = int32(uint32(rHi)<<16 | uint32(rLo))
		}
		return out, true
	}
}

var intrinsicTable = map[string]IntrinsicInfo{
	"sqrt":  {Sqrt, "sqrt", 1, unaryFloatFold(math.Sqrt), false},
	"abs":   {Abs, "abs", 1, unaryFloatFold(math.Abs), false},
	"min":   {Min, "min", 2, binaryFloatFold(math.Min), false},
	"max":   {Max, "max", 2, binaryFloatFold(math.Max), false},
	"floor": {Floor, "floor", 1, unaryFloatFold(math.Floor), false},
	"ceil":  {Ceil, "ceil", 1, unaryFloatFold(math.Ceil), false},
	"round": {Round, "round", 1, unaryFloatFold(math.Round), false},
	"trunc": {Trunc, "trunc", 1, unaryFloatFold(math.Trunc), false},
	"pow":   {Pow, "pow", 2, binaryFloatFold(math.Pow), false},
	"exp":   {Exp, "exp", 1, unaryFloatFold(math.Exp), false},
	"log":   {Log, "log", 1, unaryFloatFold(math.Log), false},
	"sin":   {Sin, "sin", 1, unaryFloatFold(math.Sin), false},
	"cos":   {Cos, "cos", 1, unaryFloatFold(math.Cos), false},
	"tan":   {Tan, "tan", 1, unaryFloatFold(math.Tan), false},

	"vaddw": {VAddW, "vaddw", 2, packedWordOp(func(a, b uint16) uint16 { return a + b }), true},
	"vmulw": {VMulW, "vmulw", 2, packedWordOp(func(a, b uint16) uint16 { return a * b }), true},
	"vsrlw": {VSrlW, "vsrlw", 2, packedShiftRight, true},
}

// vsrlw's second operand is a scalar shift amount broadcast to every lane,
// not a per-lane value, so it gets its own fold hook instead of
// packedWordOp's lane-zip shape.
func packedShiftRight(t Type, args []Const) (Const, bool) {
	a := args[0]
	shift := uint(args[1].AsInt())
	out := Const{Type: t}
	for lane := 0; lane < t.Width; lane++ {
		av := uint32(a.I32[lane])
		lo := uint16(av) >> shift
		hi := uint16(av>>16) >> shift
		out.I32[lane] = int32(uint32(hi)<<16 | uint32(lo))
	}
	return out, true
}

// Intrinsic looks up an intrinsic by its source-level name.
func Intrinsic(name string) (IntrinsicInfo, bool) {
	info, ok := intrinsicTable[name]
	return info, ok
}
