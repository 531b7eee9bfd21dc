// Package strtab implements the interned string table shared by a Context's
// built-in symbol table and every program compiled against it. Interning
// means symbol lookups compare integer ids instead of string bytes.
package strtab

import "hash/fnv"

// ID identifies one interned string within a Table. The zero ID is never
// issued by Intern, so it doubles as an "absent" sentinel.
type ID uint32

// Table is a string interner backed by an FNV-1a hashed index: a map from
// hash to a bucket holding the chain of candidate ids with that hash.
type Table struct {
	strings []string       // id -> string, id 0 unused
	index   map[uint64]int // fnv hash -> slot in buckets
	buckets [][]ID         // hash bucket -> candidate ids (collision chain)
}

func New() *Table {
	t := &Table{
		strings: make([]string, 1, 64), // slot 0 reserved
		index:   make(map[uint64]int, 64),
	}
	return t
}

func hashOf(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// Intern returns the ID for s, allocating a new one if s was not seen
// before. Equal strings always return the same ID.
func (t *Table) Intern(s string) ID {
	h := hashOf(s)
	if slot, ok := t.index[h]; ok {
		for _, id := range t.buckets[slot] {
			if t.strings[id] == s {
				return id
			}
		}
		id := ID(len(t.strings))
		t.strings = append(t.strings, s)
		t.buckets[slot] = append(t.buckets[slot], id)
		return id
	}
	id := ID(len(t.strings))
	t.strings = append(t.strings, s)
	slot := len(t.buckets)
	t.buckets = append(t.buckets, []ID{id})
	t.index[h] = slot
	return id
}

// Lookup returns the ID for s without interning it; ok is false if s was
// never interned.
func (t *Table) Lookup(s string) (ID, bool) {
	h := hashOf(s)
	slot, ok := t.index[h]
	if !ok {
		return 0, false
	}
	for _, id := range t.buckets[slot] {
		if t.strings[id] == s {
			return id, true
		}
	}
	return 0, false
}

// String returns the string an ID was interned from.
func (t *Table) String(id ID) string {
	return t.strings[id]
}
