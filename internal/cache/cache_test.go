package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	a := Key("evidence", "claim", "10")
	assert.Equal(t, a, Key("evidence", "claim", "10"))
	assert.NotEqual(t, a, Key("evidence", "claim1", "0"))
	assert.NotEqual(t, a, Key("external", "claim", "10"))
	assert.Contains(t, a, "verdict:evidence:v1:")
}

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Minute)

	require.NoError(t, c.Set("k", []byte("v"), 0))
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)
	assert.Equal(t, 1, c.Len())

	require.NoError(t, c.Delete("k"))
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestDiskCache_Expiry(t *testing.T) {
	dir := t.TempDir()
	c := NewDiskCache(dir, time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(Key("evidence", "q"), []byte("payload"), 0))
	got, ok := c.Get(Key("evidence", "q"))
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), got)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get(Key("evidence", "q"))
	assert.False(t, ok)
}

func TestDiskCache_ClearKeepsForeignFiles(t *testing.T) {
	dir := t.TempDir()
	foreign := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(foreign, []byte("keep"), 0o644))

	c := NewDiskCache(dir, time.Minute)
	require.NoError(t, c.Set("a", []byte("1"), 0))
	require.NoError(t, c.Clear())

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.FileExists(t, foreign)
	assert.NoError(t, c.Delete("missing"))
}

func TestLayeredCache_PromotesBackHits(t *testing.T) {
	front := NewMemoryCache(time.Minute, time.Minute)
	back := NewDiskCache(t.TempDir(), time.Minute)
	c := NewLayeredCache(front, back)

	require.NoError(t, back.Set("k", []byte("v"), 0))
	_, ok := front.Get("k")
	require.False(t, ok)

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	_, ok = front.Get("k")
	assert.True(t, ok, "back-layer hit should be promoted")
}

func TestJSONHelpers(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Minute)
	type item struct{ Text string }

	require.NoError(t, SetJSON(c, "k", []item{{Text: "a"}}, 0))
	var out []item
	require.True(t, GetJSON(c, "k", &out))
	assert.Equal(t, []item{{Text: "a"}}, out)

	require.NoError(t, c.Set("bad", []byte("{"), 0))
	assert.False(t, GetJSON(c, "bad", &out))
}
