package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := Open(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestGetSet(t *testing.T) {
	store, mr := testStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Hour))
	val, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)

	mr.FastForward(2 * time.Hour)
	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestDeleteAndExists(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), 0))
	ok, err := store.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Delete(ctx, "k"))
	ok, err = store.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, store.Delete(ctx, "k"), "deleting an absent key is not an error")
}

func TestDeletePattern(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "geocode:reverse:a", []byte("1"), 0))
	require.NoError(t, store.Set(ctx, "geocode:reverse:b", []byte("2"), 0))
	require.NoError(t, store.Set(ctx, "other:c", []byte("3"), 0))

	n, err := store.CountPattern(ctx, "geocode:*")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	deleted, err := store.DeletePattern(ctx, "geocode:*")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	ok, err := store.Exists(ctx, "other:c")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNilStoreIsUnavailable(t *testing.T) {
	var store *Store
	ctx := context.Background()

	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, store.Set(ctx, "k", nil, 0), ErrUnavailable)
	assert.Nil(t, store.Client())
	assert.NoError(t, store.Close())
}

func TestOpenUnreachable(t *testing.T) {
	_, err := Open(context.Background(), "127.0.0.1:1", "", 0)
	assert.Error(t, err)
}
