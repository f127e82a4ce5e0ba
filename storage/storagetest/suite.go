// Package storagetest provides the conformance suite for storage.Store
// implementations.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/offlinekit/storage"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) storage.Store

// Run executes every conformance check against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("PutGet", func(t *testing.T) { testPutGet(t, newStore(t)) })
	t.Run("Overwrite", func(t *testing.T) { testOverwrite(t, newStore(t)) })
	t.Run("MissingKey", func(t *testing.T) { testMissingKey(t, newStore(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("List", func(t *testing.T) { testList(t, newStore(t)) })
	t.Run("Isolation", func(t *testing.T) { testIsolation(t, newStore(t)) })
	t.Run("Concurrent", func(t *testing.T) { testConcurrent(t, newStore(t)) })
}

func testPutGet(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "offlinekit.sync_queue", []byte(`[{"id":"1"}]`)))

	got, err := s.Get(ctx, "offlinekit.sync_queue")
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"1"}]`, string(got))

	require.NoError(t, s.Put(ctx, "tasks/42?view=full", []byte{0, 1, 2}))
	got, err = s.Get(ctx, "tasks/42?view=full")
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2}, got)
}

func testOverwrite(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "k", []byte("first")))
	require.NoError(t, s.Put(ctx, "k", []byte("second")))

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))
}

func testMissingKey(t *testing.T, s storage.Store) {
	_, err := s.Get(context.Background(), "absent")
	require.Error(t, err)
	assert.True(t, storage.IsNotFound(err), "got %v", err)
}

func testDelete(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "k", []byte("v")))
	require.NoError(t, s.Delete(ctx, "k"))

	_, err := s.Get(ctx, "k")
	assert.True(t, storage.IsNotFound(err))

	assert.NoError(t, s.Delete(ctx, "k"))
}

func testList(t *testing.T, s storage.Store) {
	ctx := context.Background()

	keys, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys)

	for _, k := range []string{"queue.b", "queue.a", "other"} {
		require.NoError(t, s.Put(ctx, k, []byte("x")))
	}

	keys, err = s.List(ctx, "queue.")
	require.NoError(t, err)
	assert.Equal(t, []string{"queue.a", "queue.b"}, keys)

	keys, err = s.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"other", "queue.a", "queue.b"}, keys)
}

func testIsolation(t *testing.T, s storage.Store) {
	ctx := context.Background()
	data := []byte("original")
	require.NoError(t, s.Put(ctx, "k", data))
	data[0] = 'X'

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "original", string(got))

	got[0] = 'Y'
	again, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "original", string(again))
}

func testConcurrent(t *testing.T, s storage.Store) {
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i)
			for j := 0; j < 20; j++ {
				assert.NoError(t, s.Put(ctx, key, []byte(fmt.Sprint(j))))
				_, err := s.Get(ctx, key)
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	keys, err := s.List(ctx, "k")
	require.NoError(t, err)
	assert.Len(t, keys, 8)
}
