// Package metadata implements the ordered multimap of string keys to string
// values attached to documents.
package metadata

import (
	"strings"

	"github.com/gsa-connectors/adaptor/go/skerr"
)

// Entry is one key/value pair.
type Entry struct {
	Name  string
	Value string
}

// Metadata is an ordered multimap from names to values. The zero value is
// empty and ready to use. Metadata is not safe for concurrent mutation.
type Metadata struct {
	entries []Entry
	frozen  bool
}

// New returns empty Metadata.
func New() *Metadata {
	return &Metadata{}
}

// Add appends a value for the given name, keeping insertion order. Names and
// values must be non-empty after trimming.
func (m *Metadata) Add(name, value string) error {
	if m.frozen {
		return skerr.Fmt("metadata is frozen")
	}
	if strings.TrimSpace(name) == "" {
		return skerr.Fmt("metadata name must not be empty")
	}
	m.entries = append(m.entries, Entry{Name: name, Value: value})
	return nil
}

// Set replaces all values of the given name with a single value. The new
// entry takes the position of the first previous entry with that name, or is
// appended if the name was absent.
func (m *Metadata) Set(name, value string) error {
	if m.frozen {
		return skerr.Fmt("metadata is frozen")
	}
	if strings.TrimSpace(name) == "" {
		return skerr.Fmt("metadata name must not be empty")
	}
	out := m.entries[:0]
	replaced := false
	for _, e := range m.entries {
		if e.Name == name {
			if !replaced {
				out = append(out, Entry{Name: name, Value: value})
				replaced = true
			}
			continue
		}
		out = append(out, e)
	}
	m.entries = out
	if !replaced {
		m.entries = append(m.entries, Entry{Name: name, Value: value})
	}
	return nil
}

// Get returns the values for the given name, in insertion order.
func (m *Metadata) Get(name string) []string {
	var ret []string
	for _, e := range m.entries {
		if e.Name == name {
			ret = append(ret, e.Value)
		}
	}
	return ret
}

// GetFirst returns the first value for the given name, or "".
func (m *Metadata) GetFirst(name string) string {
	for _, e := range m.entries {
		if e.Name == name {
			return e.Value
		}
	}
	return ""
}

// Keys returns the distinct names in first-insertion order.
func (m *Metadata) Keys() []string {
	seen := map[string]bool{}
	var ret []string
	for _, e := range m.entries {
		if !seen[e.Name] {
			seen[e.Name] = true
			ret = append(ret, e.Name)
		}
	}
	return ret
}

// Entries returns all entries in insertion order. The returned slice is a
// copy.
func (m *Metadata) Entries() []Entry {
	ret := make([]Entry, len(m.entries))
	copy(ret, m.entries)
	return ret
}

// Len returns the number of entries.
func (m *Metadata) Len() int {
	return len(m.entries)
}

// Copy returns an unfrozen deep copy.
func (m *Metadata) Copy() *Metadata {
	return &Metadata{entries: m.Entries()}
}

// Freeze marks the metadata immutable. Further Add/Set calls fail. Used by
// the document server once the response is committed.
func (m *Metadata) Freeze() {
	m.frozen = true
}

// IsFrozen reports whether Freeze has been called.
func (m *Metadata) IsFrozen() bool {
	return m.frozen
}

// Equal reports whether two metadata hold the same entries in the same
// order.
func (m *Metadata) Equal(other *Metadata) bool {
	if m.Len() != other.Len() {
		return false
	}
	for i, e := range m.entries {
		if other.entries[i] != e {
			return false
		}
	}
	return true
}

// TrimmedEqual compares the two metadata after trimming whitespace from
// every name and value, still respecting order.
func (m *Metadata) TrimmedEqual(other *Metadata) bool {
	if m.Len() != other.Len() {
		return false
	}
	for i, e := range m.entries {
		o := other.entries[i]
		if strings.TrimSpace(e.Name) != strings.TrimSpace(o.Name) ||
			strings.TrimSpace(e.Value) != strings.TrimSpace(o.Value) {
			return false
		}
	}
	return true
}
