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
package ast

import (
	"unsafe"

	"github.com/mpsl-lang/mpsl/internal/xutil"
)

// alloc carves a zeroed T out of the arena instead of letting it escape to
// the regular heap. One compilation's whole tree is released in a single
// Reset/Release instead of being collected node by node.
func alloc[T any](a *xutil.Arena) *T {
	var zero T
	size := int(unsafe.Sizeof(zero))
	align := int(unsafe.Alignof(zero))
	buf := a.AllocZeroed(size, align)
	return (*T)(unsafe.Pointer(unsafe.SliceData(buf)))
}
