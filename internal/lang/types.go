// Package lang holds the static, read-only-after-init descriptor tables
// that the rest of the pipeline consults: scalar/vector type descriptors,
// operator precedence/arity/category, and math/pack intrinsic signatures.
//
// Everything here is built once at package init and never mutated, so it
// needs no locking: global state as a read-only static table.
package lang

import "fmt"

// ScalarKind is the low-bits scalar identifier of a packed type flag.
type ScalarKind uint8

const (
	Void ScalarKind = iota
	Bool
	Int
	Float
	Double
	QBool  // packed 4x bool mask, produced by vector compares
	Object // opaque host handle, reserved for future layout member kinds
	numScalarKinds
)

func (k ScalarKind) String() string {
	switch k {
	case Void:
		return "void"
	case Bool:
		return "bool"
	case Int:
		return "int"
	case Float:
		return "float"
	case Double:
		return "double"
	case QBool:
		return "qbool"
	case Object:
		return "object"
	default:
		return "<bad scalar kind>"
	}
}

// scalarSize is the size in bytes of one lane of each scalar kind.
var scalarSize = [numScalarKinds]int{
	Void:   0,
	Bool:   4, // stored as a 32-bit lane inside the Value union
	Int:    4,
	Float:  4,
	Double: 8,
	QBool:  4,
	Object: 8,
}

// Access carries the RO/WO member-access flags. A member with neither bit
// set is read-write; @ret is reserved WO-only.
type Access uint8

const (
	AccessNone Access = 0
	AccessRO   Access = 1 << 0
	AccessWO   Access = 1 << 1
)

// Type is the packed type descriptor every expression and symbol carries.
// Width is 1 for scalars, 2/3/4 for vectors.
type Type struct {
	Scalar ScalarKind
	Width  int
	Access Access
}

func T(scalar ScalarKind, width int) Type { return Type{Scalar: scalar, Width: width} }

// Predefined scalar and vector types. Internal names spell out the scalar
// kind and width separately even though MPSL surface syntax spells the
// same type as one identifier, "int4" (see internal/token's keyword
// table).
var (
	TVoid = T(Void, 1)

	TBool  = T(Bool, 1)
	TBool2 = T(Bool, 2)
	TBool3 = T(Bool, 3)
	TBool4 = T(Bool, 4)

	TInt  = T(Int, 1)
	TInt2 = T(Int, 2)
	TInt3 = T(Int, 3)
	TInt4 = T(Int, 4)

	TFloat  = T(Float, 1)
	TFloat2 = T(Float, 2)
	TFloat3 = T(Float, 3)
	TFloat4 = T(Float, 4)

	TDouble  = T(Double, 1)
	TDouble2 = T(Double, 2)
	TDouble3 = T(Double, 3)
	TDouble4 = T(Double, 4)

	TQBool4 = T(QBool, 4)
)

func (t Type) IsVoid() bool   { return t.Scalar == Void }
func (t Type) IsVector() bool { return t.Width > 1 }
func (t Type) IsScalar() bool { return t.Width == 1 }
func (t Type) IsFloating() bool {
	return t.Scalar == Float || t.Scalar == Double
}
func (t Type) IsIntegral() bool {
	return t.Scalar == Bool || t.Scalar == Int || t.Scalar == QBool
}

// WithAccess returns a copy of t carrying the given access flags, used when
// a Layout member is declared RO/WO.
func (t Type) WithAccess(a Access) Type {
	t.Access = a
	return t
}

func (t Type) IsReadOnly() bool  { return t.Access&AccessRO != 0 }
func (t Type) IsWriteOnly() bool { return t.Access&AccessWO != 0 }

// LaneSize is the size in bytes of a single lane (component) of t.
func (t Type) LaneSize() int { return scalarSize[t.Scalar] }

// Size is the total size in bytes of a host Value holding t: up to four
// 32-bit lanes or two 64-bit lanes fit in 16 bytes, doubles at width 3/4
// spill into a second 16-byte slot.
func (t Type) Size() int {
	if t.IsVoid() {
		return 0
	}
	if t.Scalar == Double && t.Width > 2 {
		return 32
	}
	return 16
}

// Align is the natural alignment of t: scalars align to their own size,
// vectors of width >= 2 align to 16 bytes.
func (t Type) Align() int {
	if t.IsVector() {
		return 16
	}
	if t.IsVoid() {
		return 1
	}
	return t.LaneSize()
}

func (t Type) Equal(o Type) bool {
	return t.Scalar == o.Scalar && t.Width == o.Width
}

func (t Type) String() string {
	if t.Width == 1 {
		return t.Scalar.String()
	}
	return fmt.Sprintf("%s%d", t.Scalar, t.Width)
}

// rank orders scalar kinds along the implicit-conversion lattice:
// bool ⊂ int ⊂ float ⊂ double. Higher rank never implicitly narrows to
// lower rank.
var rank = map[ScalarKind]int{
	Bool:   0,
	Int:    1,
	Float:  2,
	Double: 3,
}

// ConversionRank reports t's position in the implicit lattice, or -1 if t
// has no position in it (QBool/Object/void never implicitly convert).
func ConversionRank(t Type) int {
	if r, ok := rank[t.Scalar]; ok {
		return r
	}
	return -1
}

// CanImplicitlyConvert reports whether a value of type `from` may be used
// where `to` is expected without an explicit cast: same width (or scalar
// broadcast into a vector target) and non-decreasing lattice rank.
func CanImplicitlyConvert(from, to Type) bool {
	if from.Equal(to) {
		return true
	}
	fr, tr := ConversionRank(from), ConversionRank(to)
	if fr < 0 || tr < 0 {
		return false
	}
	if fr > tr {
		return false // narrowing is never implicit
	}
	if from.Width == to.Width {
		return true
	}
	// scalar -> vector broadcast is allowed; vector width mixing is not.
	return from.Width == 1 && to.Width > 1
}
