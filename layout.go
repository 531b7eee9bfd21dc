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
	"fmt"

	"github.com/mpsl-lang/mpsl/internal/ir"
	"github.com/mpsl-lang/mpsl/internal/lang"
	"github.com/mpsl-lang/mpsl/internal/sema"
)

// RetMemberName is the reserved write-only member every Program's `main`
// return value is written into.
const RetMemberName = sema.RetMemberName

// Member describes one host-visible field of a Layout: its name, its
// MPSL type, and the byte offset into the caller's args block.
type Member struct {
	Name   string
	Type   lang.Type
	Offset int
}

// Layout is the host-authored description of one program's args block:
// a flat set of named, typed, offset-addressed members a compiled
// function reads its inputs from and writes its outputs (and @ret) to.
// A Layout has no implicit finalize step of its own — AddMember just
// appends, and Program.Compile is what actually freezes it by handing the
// member list to the checker and lowerer.
type Layout struct {
	members []Member
	byName  map[string]int
}

// NewLayout returns an empty Layout ready to receive AddMember calls.
func NewLayout() *Layout {
	return &Layout{byName: make(map[string]int)}
}

// AddMember registers one named, typed, offset-addressed field. It panics
// if name collides with an existing member — that is a host programming
// error, not a source diagnostic, so it never goes through the ErrorKind
// taxonomy.
func (l *Layout) AddMember(name string, t lang.Type, offset int) *Layout {
	if _, dup := l.byName[name]; dup {
		panic(fmt.Sprintf("mpsl: layout member %q already added", name))
	}
	l.byName[name] = len(l.members)
	l.members = append(l.members, Member{Name: name, Type: t, Offset: offset})
	return l
}

// Members returns every registered member in insertion order.
func (l *Layout) Members() []Member {
	return l.members
}

// semaMembers adapts Members() to internal/sema's narrower Layout shape.
func (l *Layout) semaMembers() []sema.LayoutMember {
	out := make([]sema.LayoutMember, len(l.members))
	for i, m := range l.members {
		out[i] = sema.LayoutMember{Name: m.Name, Type: m.Type, Offset: m.Offset}
	}
	return out
}

// irMembers adapts Members() to internal/ir's narrower Layout shape.
func (l *Layout) irMembers() []ir.MemberInfo {
	out := make([]ir.MemberInfo, len(l.members))
	for i, m := range l.members {
		out[i] = ir.MemberInfo{Name: m.Name, Type: m.Type, Offset: m.Offset}
	}
	return out
}

// semaLayout and irLayout are the thin adapter views Program.Compile hands
// to sema.NewChecker and ir.Lower respectively — both packages declare
// their own narrow Layout interface so neither imports this facade
// package, and a Layout satisfies both through these wrapper types rather
// than by exposing two conflicting Members() signatures itself.
type semaLayout struct{ l *Layout }

func (s semaLayout) Members() []sema.LayoutMember { return s.l.semaMembers() }

type irLayout struct{ l *Layout }

func (s irLayout) Members() []ir.MemberInfo { return s.l.irMembers() }
