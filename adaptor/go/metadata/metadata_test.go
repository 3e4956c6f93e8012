package metadata

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddAndGet(t *testing.T) {
	m := New()
	require.NoError(t, m.Add("author", "alice"))
	require.NoError(t, m.Add("tag", "one"))
	require.NoError(t, m.Add("tag", "two"))

	require.Equal(t, []string{"one", "two"}, m.Get("tag"))
	require.Equal(t, "alice", m.GetFirst("author"))
	require.Equal(t, []string{"author", "tag"}, m.Keys())
	require.Equal(t, 3, m.Len())

	require.Error(t, m.Add("  ", "x"))
}

func TestSet_ReplacesInPlace(t *testing.T) {
	m := New()
	require.NoError(t, m.Add("a", "1"))
	require.NoError(t, m.Add("b", "2"))
	require.NoError(t, m.Add("a", "3"))

	require.NoError(t, m.Set("a", "9"))
	require.Equal(t, []Entry{{"a", "9"}, {"b", "2"}}, m.Entries())

	require.NoError(t, m.Set("c", "new"))
	require.Equal(t, "new", m.GetFirst("c"))
}

func TestFreeze(t *testing.T) {
	m := New()
	require.NoError(t, m.Add("a", "1"))
	m.Freeze()
	require.True(t, m.IsFrozen())
	require.Error(t, m.Add("b", "2"))
	require.Error(t, m.Set("a", "2"))

	// A copy is mutable again.
	c := m.Copy()
	require.NoError(t, c.Add("b", "2"))
	require.Equal(t, 1, m.Len())
}

func TestEqual(t *testing.T) {
	a := New()
	require.NoError(t, a.Add("k", "v"))
	b := New()
	require.NoError(t, b.Add("k", " v "))

	require.False(t, a.Equal(b))
	require.True(t, a.TrimmedEqual(b))

	require.NoError(t, b.Add("k2", "v2"))
	require.False(t, a.TrimmedEqual(b))
}
