package attrs

import "slices"

// Pair is a key/value pair read from a stored snapshot.
type Pair struct {
	Key   string
	Value any
}

// Entry is a read-only view of one attribute and its tracking flags.
type Entry struct {
	Key     string
	Value   any
	Dirty   bool
	Initial bool
}

type entry struct {
	key     string
	value   any
	dirty   bool
	initial bool
}

// Collection is an ordered key/value container that records which entries
// changed since it was loaded.
type Collection struct {
	index    map[string]int
	entries  []*entry
	removed  []string
	dirtyAll bool
	isNew    bool
}

// New creates an empty collection for a session that has no stored state.
// Collections built this way always encode in full mode.
func New() *Collection {
	return &Collection{
		index: make(map[string]int),
		isNew: true,
	}
}

// FromSnapshot rebuilds a collection from the entries of a stored full snapshot.
// Every entry starts clean and is flagged as initial.
//
// Duplicate keys keep the position of their first occurrence and the value of the last.
func FromSnapshot(pairs []Pair) *Collection {
	c := &Collection{
		index:   make(map[string]int, len(pairs)),
		entries: make([]*entry, 0, len(pairs)),
	}
	for _, p := range pairs {
		if i, ok := c.index[p.Key]; ok {
			c.entries[i].value = p.Value
			continue
		}
		c.index[p.Key] = len(c.entries)
		c.entries = append(c.entries, &entry{key: p.Key, value: p.Value, initial: true})
	}
	return c
}

// Len returns the number of live entries.
func (c *Collection) Len() int {
	return len(c.entries)
}

// Keys returns the live keys in insertion order.
func (c *Collection) Keys() []string {
	keys := make([]string, len(c.entries))
	for i, e := range c.entries {
		keys[i] = e.key
	}
	return keys
}

// Has reports whether key is present. It does not affect dirty tracking.
func (c *Collection) Has(key string) bool {
	_, ok := c.index[key]
	return ok
}

// Get returns the value stored under key.
//
// Reading a value whose type is not known to be immutable marks the entry dirty,
// since the caller may mutate it in place through the returned reference.
func (c *Collection) Get(key string) (any, bool) {
	i, ok := c.index[key]
	if !ok {
		return nil, false
	}
	e := c.entries[i]
	markDirtyOnRead(e)
	return e.value, true
}

// At returns the value at position i with the same dirty-on-read rule as Get.
// It panics if i is out of range.
func (c *Collection) At(i int) any {
	e := c.entries[i]
	markDirtyOnRead(e)
	return e.value
}

// Set inserts or replaces the value under key and marks it dirty.
// Setting a key that was removed earlier in the same request cancels the removal.
//
// A key re-set after such a removal is the one exception to "entries added
// after construction are not initial": the stored copy still exists, so the
// entry stays initial and a second Remove queues the key again instead of
// leaving the stale value in the store.
func (c *Collection) Set(key string, value any) {
	if i, ok := c.index[key]; ok {
		e := c.entries[i]
		e.value = value
		e.dirty = true
		return
	}

	initial := c.unqueueRemoved(key)

	c.index[key] = len(c.entries)
	c.entries = append(c.entries, &entry{key: key, value: value, dirty: true, initial: initial})
}

// SetAt replaces the value at position i and marks it dirty.
// It panics if i is out of range.
func (c *Collection) SetAt(i int, value any) {
	e := c.entries[i]
	e.value = value
	e.dirty = true
}

// Remove deletes key. Keys that came from the stored snapshot are queued so the
// store deletes them too; keys created during this request leave no trace.
func (c *Collection) Remove(key string) {
	i, ok := c.index[key]
	if !ok {
		return
	}
	c.RemoveAt(i)
}

// RemoveAt deletes the entry at position i. It panics if i is out of range.
func (c *Collection) RemoveAt(i int) {
	e := c.entries[i]

	c.entries = slices.Delete(c.entries, i, i+1)
	delete(c.index, e.key)
	for j := i; j < len(c.entries); j++ {
		c.index[c.entries[j].key] = j
	}

	if e.initial {
		c.removed = append(c.removed, e.key)
	}
}

// Clear removes every entry and forces the next encode into full mode.
func (c *Collection) Clear() {
	for _, e := range c.entries {
		if e.initial {
			c.removed = append(c.removed, e.key)
		}
	}
	c.entries = c.entries[:0]
	clear(c.index)
	c.dirtyAll = true
}

// IsDirty reports whether anything changed since the collection was loaded.
func (c *Collection) IsDirty() bool {
	if c.dirtyAll {
		return true
	}
	for _, e := range c.entries {
		if e.dirty {
			return true
		}
	}
	return false
}

// SetDirty sets or clears the collection-wide dirty flag.
func (c *Collection) SetDirty(dirty bool) {
	c.dirtyAll = dirty
}

// IsNew reports whether the collection was created empty rather than from a snapshot.
func (c *Collection) IsNew() bool {
	return c.isNew
}

// DirtyAll reports whether the collection-wide dirty flag is set.
func (c *Collection) DirtyAll() bool {
	return c.dirtyAll
}

// AllDirty reports whether every live entry is dirty. It is true for an empty collection.
func (c *Collection) AllDirty() bool {
	for _, e := range c.entries {
		if !e.dirty {
			return false
		}
	}
	return true
}

// Entries returns a snapshot of the live entries in order without touching dirty flags.
func (c *Collection) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	for i, e := range c.entries {
		out[i] = Entry{Key: e.key, Value: e.value, Dirty: e.dirty, Initial: e.initial}
	}
	return out
}

// RemovedKeys returns the snapshot keys queued for deletion, in removal order.
func (c *Collection) RemovedKeys() []string {
	return slices.Clone(c.removed)
}

func (c *Collection) unqueueRemoved(key string) bool {
	i := slices.Index(c.removed, key)
	if i < 0 {
		return false
	}
	c.removed = slices.Delete(c.removed, i, i+1)
	return true
}

func markDirtyOnRead(e *entry) {
	if Immutable(e.value) {
		return
	}
	e.dirty = true
}
