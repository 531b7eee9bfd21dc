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
package jitmem

import (
	"testing"
	"unsafe"
)

// TestAllocSealCall writes "mov rax, rdi; add rax, 1; ret" into a fresh
// Heap, seals it, and calls through CallLayout to confirm the RDI-in,
// RAX-out convention round-trips.
func TestAllocSealCall(t *testing.T) {
	h := NewHeap()
	defer h.Release()

	code := []byte{
		0x48, 0x89, 0xf8, // mov rax, rdi
		0x48, 0x83, 0xc0, 0x01, // add rax, 1
		0xc3, // ret
	}
	buf, err := h.Alloc(len(code))
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	copy(buf, code)

	if err := h.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	entry := EntryPoint(buf, 0)
	got := CallLayout(entry, unsafe.Pointer(uintptr(41)))
	if got != 42 {
		t.Fatalf("CallLayout = %d, want 42", got)
	}
}

func TestAllocRoundsToPage(t *testing.T) {
	h := NewHeap()
	defer h.Release()

	buf, err := h.Alloc(1)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if len(buf) != 1 {
		t.Fatalf("Alloc(1) returned slice of length %d, want 1", len(buf))
	}
	if cap(buf) != pageSize {
		t.Fatalf("Alloc(1) reserved %d bytes, want one page (%d)", cap(buf), pageSize)
	}
}

func TestReleaseIsIdempotentFriendly(t *testing.T) {
	h := NewHeap()
	if _, err := h.Alloc(16); err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := h.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := h.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
}
