package value

// Table is the open-addressed, linear-probing hash table used for the
// globals table, dictionary objects, class method tables, and instance
// field tables (spec.md §3). Keys are interned strings compared by
// pointer identity; a deleted entry becomes a tombstone (Key == nil,
// Value == Bool(true)) so that later probes for a different key that
// hashed into the same bucket still find it. Tombstones count toward
// the load factor but are dropped on resize.
type Table struct {
	count   int // live entries + tombstones
	entries []entry
}

type entry struct {
	key   *String
	value Value
}

const tableMaxLoad = 0.75

func isTombstone(e entry) bool {
	return e.key == nil && e.value.kind == KindBool && e.value.b
}

// Count returns the number of live (non-tombstone) entries.
func (t *Table) Count() int {
	live := 0
	for _, e := range t.entries {
		if e.key != nil {
			live++
		}
	}
	return live
}

// Get looks up key, returning its value and whether it was present.
func (t *Table) Get(key *String) (Value, bool) {
	if len(t.entries) == 0 {
		return Nil, false
	}
	e := t.find(key)
	if e.key == nil {
		return Nil, false
	}
	return e.value, true
}

// Set binds key to val, growing the table if needed. It returns true if
// this created a brand new key.
func (t *Table) Set(key *String, val Value) bool {
	if float64(t.count+1) > float64(len(t.entries))*tableMaxLoad {
		t.grow(growCapacity(len(t.entries)))
	}
	idx := t.findIndex(key)
	e := &t.entries[idx]
	isNew := e.key == nil
	if isNew && !isTombstone(*e) {
		t.count++
	}
	e.key = key
	e.value = val
	return isNew
}

// Delete removes key, leaving a tombstone so probing stays correct.
func (t *Table) Delete(key *String) bool {
	if len(t.entries) == 0 {
		return false
	}
	idx := t.findIndex(key)
	e := &t.entries[idx]
	if e.key == nil {
		return false
	}
	e.key = nil
	e.value = Bool(true)
	return true
}

// AddAll copies every live entry of from into t, used by INHERIT to copy
// a superclass's method table into a subclass.
func (t *Table) AddAll(from *Table) {
	for _, e := range from.entries {
		if e.key != nil {
			t.Set(e.key, e.value)
		}
	}
}

// Each calls fn for every live entry; used by the keys() dictionary
// native and by Stringify when printing a dictionary.
func (t *Table) Each(fn func(key *String, val Value)) {
	for _, e := range t.entries {
		if e.key != nil {
			fn(e.key, e.value)
		}
	}
}

// FindString looks up the canonical interned string with the given
// bytes and precomputed hash, without needing a *String key to compare
// pointer identity against. Used only by the interner.
func (t *Table) FindString(chars string, hash uint32) *String {
	if len(t.entries) == 0 {
		return nil
	}
	mask := uint32(len(t.entries) - 1)
	index := hash & mask
	for {
		e := &t.entries[index]
		if e.key == nil {
			if !isTombstone(*e) {
				return nil
			}
		} else if e.key.Hash == hash && e.key.Chars == chars {
			return e.key
		}
		index = (index + 1) & mask
	}
}

// removeWhite drops every entry whose key object was not marked during
// the last GC trace, implementing the interner's weak-reference
// discipline (spec.md §4.6): it must not keep dead strings alive.
func (t *Table) removeWhite() {
	for i := range t.entries {
		e := &t.entries[i]
		if e.key != nil && !e.key.marked {
			e.key = nil
			e.value = Bool(true)
		}
	}
}

func (t *Table) find(key *String) entry {
	idx := t.findIndex(key)
	return t.entries[idx]
}

func (t *Table) findIndex(key *String) uint32 {
	mask := uint32(len(t.entries) - 1)
	index := key.Hash & mask
	var tombstone *uint32
	for {
		e := &t.entries[index]
		if e.key == nil {
			if !isTombstone(*e) {
				if tombstone != nil {
					return *tombstone
				}
				return index
			}
			if tombstone == nil {
				i := index
				tombstone = &i
			}
		} else if e.key == key {
			return index
		}
		index = (index + 1) & mask
	}
}

func growCapacity(cap int) int {
	if cap < 8 {
		return 8
	}
	return cap * 2
}

func (t *Table) grow(newCap int) {
	newEntries := make([]entry, newCap)
	old := t.entries
	t.entries = newEntries
	t.count = 0
	for _, e := range old {
		if e.key == nil {
			continue
		}
		idx := t.findIndex(e.key)
		t.entries[idx] = e
		t.count++
	}
}
