package client

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCookieDumpRestore(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{ClusterID: "zk1/tera", CookiePath: dir}
	cfg.withDefaults()

	cache := testCache(t)
	cache.Update(tabletAt("a", "n", "s1"))
	cache.Update(tabletAt("n", "", "s2"))

	store := newCookieStore(cfg, "t1", 1700000000000)
	store.Dump(cache)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	name := entries[0].Name()
	require.Regexp(t, `^t1-1700000000000-[0-9a-f]{8}$`, name)

	restored := testCache(t)
	store.Restore(restored)

	// restore(dump(cache)) is a subset of the cache: nothing invented
	require.ElementsMatch(t, cache.Entries(), restored.Entries())
	addr, _, ok := restored.Route("m", 1, 0, 0)
	require.True(t, ok)
	require.Equal(t, "s1", addr)
}

func TestCookieTableMismatchIgnored(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{ClusterID: "zk1/tera", CookiePath: dir}
	cfg.withDefaults()

	cache := testCache(t)
	cache.Update(tabletAt("a", "", "s1"))
	newCookieStore(cfg, "t1", 5).Dump(cache)

	// same file, different table name refuses to seed
	path := filepath.Join(dir, newCookieStore(cfg, "t1", 5).fileName())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	other := newCookieStore(cfg, "t2", 5)
	require.NoError(t, os.WriteFile(filepath.Join(dir, other.fileName()), data, 0o644))

	restored := testCache(t)
	other.Restore(restored)
	require.Empty(t, restored.Entries())
}

func TestCookieDumpSkipsWhenLocked(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{ClusterID: "c", CookiePath: dir}
	cfg.withDefaults()

	cache := testCache(t)
	cache.Update(tabletAt("a", "", "s1"))

	store := newCookieStore(cfg, "t1", 7)
	require.NoError(t, os.WriteFile(store.lockPath(), nil, 0o644))
	store.Dump(cache)

	_, err := os.Stat(store.filePath())
	require.True(t, os.IsNotExist(err))
	require.NoError(t, os.Remove(store.lockPath()))

	store.Dump(cache)
	_, err = os.Stat(store.filePath())
	require.NoError(t, err)
}
