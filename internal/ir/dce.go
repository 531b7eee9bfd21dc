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
package ir

import "github.com/samber/lo"

// isPure reports whether inst may be dropped when its result is unused.
// Stores, calls and returns are pinned regardless of use count — they are
// kept for their side effect, not their result.
func isPure(inst *Inst) bool {
	switch inst.Role {
	case RoleStore, RoleCall, RoleRet:
		return false
	}
	return true
}

// DCE removes dead instructions from every block of fn to a fixed point
// and reports how many it removed. An instruction is removed only when
// (a) it is pure (not store/call/ret) and (b) the Var it defines — its
// sole result operand — has a use count of zero. Keeping Result as its
// own field rather than overloading Args[0] means this check never has to
// guess which operand position holds the result.
func DCE(fn *Func) int {
	removed := 0
	for changed := true; changed; {
		changed = false
		for _, b := range fn.Blocks {
			before := len(b.Insts)
			kept := lo.Filter(b.Insts, func(inst *Inst, _ int) bool {
				dead := isPure(inst) && inst.Result != nil && inst.Result.Uses == 0
				if dead {
					for _, a := range inst.Args {
						if v, ok := a.(*Var); ok {
							v.Uses--
						}
					}
				}
				return !dead
			})
			if len(kept) != before {
				removed += before - len(kept)
				changed = true
				b.Insts = kept
			}
		}
	}
	return removed
}
