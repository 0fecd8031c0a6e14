package kvstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zmyer/tera/util"
)

func newTestStore(t *testing.T) Store {
	path, err := util.GenTmpPath()
	require.NoError(t, err)
	store, err := NewKVStore(context.Background(), &Option{
		Path:            path,
		CreateIfMissing: true,
		ColumnFamilies:  []CF{"gc", "user"},
	})
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func TestKVStoreSetGetDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.SetRaw(ctx, "gc", []byte("k1"), []byte("v1")))
	value, err := store.GetRaw(ctx, "gc", []byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), value)

	_, err = store.GetRaw(ctx, "gc", []byte("absent"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Delete(ctx, "gc", []byte("k1")))
	_, err = store.GetRaw(ctx, "gc", []byte("k1"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestKVStoreListPrefix(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, kv := range [][2]string{
		{"d/t1/1", "a"}, {"d/t1/2", "b"}, {"d/t2/1", "c"}, {"l/t1/1", "d"},
	} {
		require.NoError(t, store.SetRaw(ctx, "gc", []byte(kv[0]), []byte(kv[1])))
	}

	var keys []string
	require.NoError(t, store.List(ctx, "gc", []byte("d/t1/"), func(key, value []byte) bool {
		keys = append(keys, string(key))
		return true
	}))
	require.Equal(t, []string{"d/t1/1", "d/t1/2"}, keys)
}

func TestKVStoreWriteBatch(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.SetRaw(ctx, "user", []byte("old"), []byte("x")))

	batch := store.NewWriteBatch()
	batch.Put("user", []byte("k1"), []byte("v1"))
	batch.Put("gc", []byte("k2"), []byte("v2"))
	batch.Delete("user", []byte("old"))
	require.Equal(t, 3, batch.Count())
	require.NoError(t, store.Write(ctx, batch))
	batch.Close()

	value, err := store.GetRaw(ctx, "user", []byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), value)
	_, err = store.GetRaw(ctx, "user", []byte("old"))
	require.ErrorIs(t, err, ErrNotFound)
}
