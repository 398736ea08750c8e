package kv

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestEngine(t *testing.T) Engine {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "kv")
	e, err := Open(DefaultConfig(dir), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestCollectionPutGet(t *testing.T) {
	e := openTestEngine(t)
	c := e.OpenCollection("custom_names")

	require.NoError(t, c.Put("greek", []byte("alpha")))
	v, err := c.Get("greek")
	require.NoError(t, err)
	require.Equal(t, []byte("alpha"), v)
}

func TestCollectionGetMissing(t *testing.T) {
	e := openTestEngine(t)
	c := e.OpenCollection("custom_names")

	_, err := c.Get("missing")
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestCollectionDeleteIdempotent(t *testing.T) {
	e := openTestEngine(t)
	c := e.OpenCollection("custom_names")
	require.NoError(t, c.Put("greek", []byte("alpha")))

	existed, err := c.Delete("greek")
	require.NoError(t, err)
	require.True(t, existed)

	existed, err = c.Delete("greek")
	require.NoError(t, err)
	require.False(t, existed)

	_, err = c.Get("greek")
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestCollectionsAreIsolated(t *testing.T) {
	e := openTestEngine(t)
	a := e.OpenCollection("a")
	b := e.OpenCollection("b")

	require.NoError(t, a.Put("k", []byte("from-a")))
	_, err := b.Get("k")
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestScanPrefixOrderAndStop(t *testing.T) {
	e := openTestEngine(t)
	c := e.OpenCollection("events")

	keys := []string{"runtime_event_0001_0001", "runtime_event_0001_0002", "runtime_event_0002_0001"}
	for _, k := range keys {
		require.NoError(t, c.Put(k, []byte(k)))
	}

	var seen []string
	err := c.ScanPrefix("runtime_event_", func(key string, value []byte) bool {
		seen = append(seen, key)
		return len(seen) < 2
	})
	require.NoError(t, err)
	require.Equal(t, []string{"runtime_event_0001_0001", "runtime_event_0001_0002"}, seen)
}

func TestFlushReportsBytes(t *testing.T) {
	e := openTestEngine(t)
	c := e.OpenCollection("custom_names")
	require.NoError(t, c.Put("greek", []byte("alpha")))

	n, err := e.Flush()
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, int64(0))
}
