package util

import "sort"

// StringSet is a set of strings represented by the keys of a map.
type StringSet map[string]bool

// NewStringSet returns the given list of strings as a StringSet.
func NewStringSet(lists ...[]string) StringSet {
	ret := StringSet{}
	for _, list := range lists {
		for _, entry := range list {
			ret[entry] = true
		}
	}
	return ret
}

// Keys returns the keys of a StringSet, in no particular order.
func (s StringSet) Keys() []string {
	ret := make([]string, 0, len(s))
	for v := range s {
		ret = append(ret, v)
	}
	return ret
}

// SortedKeys returns the keys of a StringSet in sorted order.
func (s StringSet) SortedKeys() []string {
	ret := s.Keys()
	sort.Strings(ret)
	return ret
}

// Copy returns a copy of the StringSet.
func (s StringSet) Copy() StringSet {
	ret := make(StringSet, len(s))
	for k, v := range s {
		ret[k] = v
	}
	return ret
}

// Intersect returns a new StringSet containing the strings that are present
// in both sets.
func (s StringSet) Intersect(other StringSet) StringSet {
	ret := make(StringSet, len(s))
	for v := range s {
		if other[v] {
			ret[v] = true
		}
	}
	return ret
}

// Union returns a new StringSet containing the strings present in either set.
func (s StringSet) Union(other StringSet) StringSet {
	ret := s.Copy()
	for v := range other {
		ret[v] = true
	}
	return ret
}
