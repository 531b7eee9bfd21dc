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

// Package jitmem is MPSL's executable code allocator: pages are mmap'd
// RW, filled in by the backend, then mprotect'd to RX before any call
// into them. A Context keeps one Heap for its whole lifetime and releases
// every page it owns on Context teardown.
package jitmem

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

const pageSize = 4096

// region is one mmap'd span, carved into fixed-address allocations that
// never move (a relocation inside one function's code can safely hold a
// pointer into another's once both are placed).
type region struct {
	base []byte // RW until sealed, RX after
	used int
	next *region
}

// Heap is a free-growing pool of executable pages. The zero Heap is not
// ready to use; call NewHeap. All methods are safe for concurrent use,
// guarded by an internal mutex.
type Heap struct {
	mu      sync.Mutex
	regions []*region
	sealed  bool
}

func NewHeap() *Heap {
	return &Heap{}
}

// Alloc reserves n bytes of RW memory sized to a whole number of pages and
// returns it as a writable slice. The caller (the backend's finalize step)
// fills in code and rodata, patches relocations against the addresses
// Alloc reports, then calls Seal to flip the page executable.
func (h *Heap) Alloc(n int) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	size := (n + pageSize - 1) &^ (pageSize - 1)
	if size == 0 {
		size = pageSize
	}
	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("jitmem: mmap %d bytes: %w", size, err)
	}
	r := &region{base: buf, used: n}
	h.regions = append(h.regions, r)
	return buf[:n], nil
}

// Seal mprotects every region this Heap has allocated to PROT_READ|PROT_EXEC,
// finalizing all code placed in it so far. It must run after every Alloc'd
// buffer that will be called into has been fully written and relocated —
// once sealed, none of the Heap's regions are writable again.
func (h *Heap) Seal() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.regions {
		if err := unix.Mprotect(r.base, unix.PROT_READ|unix.PROT_EXEC); err != nil {
			return fmt.Errorf("jitmem: mprotect: %w", err)
		}
	}
	h.sealed = true
	return nil
}

// Release unmaps every page the Heap owns. After Release the Heap and any
// pointer obtained from it must not be used.
func (h *Heap) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var firstErr error
	for _, r := range h.regions {
		if err := unix.Munmap(r.base); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	h.regions = nil
	return firstErr
}

// EntryPoint returns a callable function pointer at byte offset off into
// buf, the slice a prior Alloc returned. buf must belong to a Heap that
// has since been Seal'd, or the returned pointer is not executable.
func EntryPoint(buf []byte, off int) uintptr {
	return uintptr(unsafe.Pointer(&buf[off]))
}

// callSysV is implemented in call_amd64.s: it calls entry under the SysV
// AMD64 convention with arg in RDI and returns whatever the callee left in
// RAX (an integer, or an integer-reinterpreted float/double/Mem pointer —
// callers that need the floating result decode it from the returned bits).
func callSysV(entry uintptr, arg uintptr) uintptr

// CallLayout invokes a Sealed entry point with layout as its single RDI
// argument — the convention every compiled MPSL function's `main` uses,
// since its Layout base pointer is the only thing a Program.Run needs to
// pass across the boundary (every other value flows through Layout
// members, not further arguments).
func CallLayout(entry uintptr, layout unsafe.Pointer) uintptr {
	return callSysV(entry, uintptr(layout))
}
