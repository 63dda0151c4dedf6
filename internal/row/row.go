// Package row holds a table row that is being assembled before it becomes an
// INSERT statement.
package row

import "strings"

type Entry struct {
	Column     string
	SourcePath string
	Value      string
	Key        bool
	// Insert is false when the entry has been excluded from the statement.
	Insert           bool
	MultiSelect      bool
	MultiSelectTable string
	// RecordID is the generated row id of the row the key came from.
	RecordID string
}

// Row is an ordered list of entries. Key entries can be rewritten but never
// removed or excluded.
type Row struct {
	entries []Entry
}

func New(capacity int) *Row {
	return &Row{entries: make([]Entry, 0, capacity)}
}

// FromKeys starts a row with a copy of the given key entries.
func FromKeys(keys []Entry) *Row {
	r := New(len(keys) + 1)
	for _, k := range keys {
		r.Append(k)
	}
	return r
}

func (r *Row) Append(e Entry) {
	e.Insert = true
	r.entries = append(r.entries, e)
}

func (r *Row) Count() int { return len(r.entries) }

// Get returns a copy of the entry at index.
func (r *Row) Get(index int) Entry {
	return r.entries[index]
}

func (r *Row) Value(index int) string {
	return r.entries[index].Value
}

func (r *Row) Column(index int) string {
	return r.entries[index].Column
}

func (r *Row) IsKey(index int) bool {
	return r.entries[index].Key
}

func (r *Row) SetValue(index int, v string) {
	r.entries[index].Value = v
}

// Exclude drops a non-key entry from the statement. It reports whether the
// entry was excluded.
func (r *Row) Exclude(index int) bool {
	if r.entries[index].Key {
		return false
	}
	r.entries[index].Insert = false
	return true
}

// IndexOfColumn returns the index of the first entry named column, ignoring
// case, or -1.
func (r *Row) IndexOfColumn(column string) int {
	for i := range r.entries {
		if strings.EqualFold(r.entries[i].Column, column) {
			return i
		}
	}
	return -1
}

// Keys returns copies of the key entries in row order.
func (r *Row) Keys() []Entry {
	var keys []Entry
	for _, e := range r.entries {
		if e.Key {
			keys = append(keys, e)
		}
	}
	return keys
}

// Entries returns copies of the entries that go into the statement.
func (r *Row) Entries() []Entry {
	included := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.Insert {
			included = append(included, e)
		}
	}
	return included
}
