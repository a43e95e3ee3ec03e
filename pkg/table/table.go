// Package table implements the open-addressed, tombstone-bearing hash
// table used identically for two purposes: the VM's string-interning set
// and its globals map (spec.md §4.2). Both uses share this single
// implementation rather than reaching for Go's built-in map, because
// interning needs to probe candidate byte sequences against stored keys
// *before* deciding whether to allocate a new string — a lookup shape a
// plain map can't express (see DESIGN.md for the alternatives considered).
package table

import "github.com/wisplang/wisp/pkg/object"

const (
	maxLoad     = 0.75
	minCapacity = 8
)

type entry struct {
	key   *object.ObjString
	value object.Value
	// tombstone marks a deleted slot: empty key, but distinguishable from
	// a never-used slot so probe chains stay intact.
	tombstone bool
}

// Table is an open-addressed hash table with linear probing and
// tombstone-based deletion.
type Table struct {
	entries []entry
	count   int // live entries + tombstones, for load-factor accounting
}

// New returns an empty table.
func New() *Table {
	return &Table{}
}

// Count returns the number of live entries (tombstones excluded).
func (t *Table) Count() int {
	live := 0
	for _, e := range t.entries {
		if e.key != nil {
			live++
		}
	}
	return live
}

func findEntry(entries []entry, key *object.ObjString) *entry {
	capacity := len(entries)
	bucket := int(key.Hash % uint32(capacity))
	var tombstone *entry
	for {
		e := &entries[bucket]
		if e.key == nil {
			if !e.tombstone {
				if tombstone != nil {
					return tombstone
				}
				return e
			}
			if tombstone == nil {
				tombstone = e
			}
		} else if e.key == key {
			return e
		}
		bucket = (bucket + 1) % capacity
	}
}

func (t *Table) adjustCapacity(capacity int) {
	entries := make([]entry, capacity)
	t.count = 0
	for _, old := range t.entries {
		if old.key == nil {
			continue
		}
		dst := findEntry(entries, old.key)
		dst.key = old.key
		dst.value = old.value
		t.count++
	}
	t.entries = entries
}

// Set inserts or overwrites key → value. Returns true iff key was not
// already present.
func (t *Table) Set(key *object.ObjString, value object.Value) bool {
	if float64(t.count+1) > float64(len(t.entries))*maxLoad {
		capacity := minCapacity
		if len(t.entries) > 0 {
			capacity = len(t.entries) * 2
		}
		t.adjustCapacity(capacity)
	}

	e := findEntry(t.entries, key)
	isNewKey := e.key == nil
	if isNewKey && !e.tombstone {
		t.count++
	}
	e.key = key
	e.value = value
	e.tombstone = false
	return isNewKey
}

// Get looks up key. Returns the value and true if present.
func (t *Table) Get(key *object.ObjString) (object.Value, bool) {
	if len(t.entries) == 0 {
		return object.Nil, false
	}
	e := findEntry(t.entries, key)
	if e.key == nil {
		return object.Nil, false
	}
	return e.value, true
}

// Delete installs a tombstone at key's slot. Returns true iff key was
// present.
func (t *Table) Delete(key *object.ObjString) bool {
	if len(t.entries) == 0 {
		return false
	}
	e := findEntry(t.entries, key)
	if e.key == nil {
		return false
	}
	e.key = nil
	e.tombstone = true
	return true
}

// AddAll copies every live entry of t into dest.
func (t *Table) AddAll(dest *Table) {
	for _, e := range t.entries {
		if e.key != nil {
			dest.Set(e.key, e.value)
		}
	}
}

// FindString probes for a key with the given bytes and hash without
// allocating a candidate ObjString first. This is what lets string
// interning dedupe before touching the heap.
func (t *Table) FindString(s string, hash uint32) *object.ObjString {
	if len(t.entries) == 0 {
		return nil
	}
	capacity := len(t.entries)
	bucket := int(hash % uint32(capacity))
	for {
		e := &t.entries[bucket]
		if e.key == nil {
			if !e.tombstone {
				return nil
			}
		} else if e.key.Hash == hash && e.key.Chars == s {
			return e.key
		}
		bucket = (bucket + 1) % capacity
	}
}

// Intern returns the single ObjString for s, allocating and registering a
// new one only on the first occurrence. This is copy_string/take_string
// collapsed into one operation: Go strings are immutable and already
// garbage collected, so there is no separate "free the incoming buffer on
// hit" step to model.
func (t *Table) Intern(s string) *object.ObjString {
	hash := object.HashString(s)
	if interned := t.FindString(s, hash); interned != nil {
		return interned
	}
	str := object.NewString(s)
	t.Set(str, object.Nil)
	return str
}
