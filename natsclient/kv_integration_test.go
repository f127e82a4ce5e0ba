//go:build integration

package natsclient

import (
	"context"
	"errors"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKVStore_Integration(t *testing.T) {
	testClient := NewTestClient(t, WithKV())
	client := testClient.Client
	ctx := context.Background()

	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:  "offlinekit-test",
		History: 5,
	})
	require.NoError(t, err)

	// Creating again returns the existing bucket.
	_, err = client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "offlinekit-test"})
	require.NoError(t, err)

	kv := client.NewKVStore(bucket)

	t.Run("create get delete", func(t *testing.T) {
		_, err := kv.Create(ctx, "offlinekit.sync_queue", []byte("[]"))
		require.NoError(t, err)

		entry, err := kv.Get(ctx, "offlinekit.sync_queue")
		require.NoError(t, err)
		assert.Equal(t, "[]", string(entry.Value))

		require.NoError(t, kv.Delete(ctx, "offlinekit.sync_queue"))
		_, err = kv.Get(ctx, "offlinekit.sync_queue")
		assert.True(t, IsKVNotFoundError(err))

		assert.NoError(t, kv.Delete(ctx, "never-existed"))
	})

	t.Run("update with retry creates and updates", func(t *testing.T) {
		err := kv.UpdateWithRetry(ctx, "counter", func(current []byte) ([]byte, error) {
			assert.Nil(t, current)
			return []byte("1"), nil
		})
		require.NoError(t, err)

		err = kv.UpdateWithRetry(ctx, "counter", func(current []byte) ([]byte, error) {
			assert.Equal(t, "1", string(current))
			return []byte("2"), nil
		})
		require.NoError(t, err)
	})

	t.Run("update function error is not retried", func(t *testing.T) {
		calls := 0
		err := kv.UpdateWithRetry(ctx, "counter", func([]byte) ([]byte, error) {
			calls++
			return nil, errors.New("nope")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("conflicting revision", func(t *testing.T) {
		rev, err := kv.Create(ctx, "cas", []byte("a"))
		require.NoError(t, err)
		_, err = kv.Update(ctx, "cas", []byte("b"), rev)
		require.NoError(t, err)
		_, err = kv.Update(ctx, "cas", []byte("c"), rev)
		assert.ErrorIs(t, err, ErrKVRevisionMismatch)
	})

	t.Run("keys by prefix", func(t *testing.T) {
		_, _ = kv.Create(ctx, "queue.a", []byte("1"))
		_, _ = kv.Create(ctx, "queue.b", []byte("1"))
		keys, err := kv.Keys(ctx, "queue.")
		require.NoError(t, err)
		assert.Equal(t, []string{"queue.a", "queue.b"}, keys)
	})
}
