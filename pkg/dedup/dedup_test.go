package dedup

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/offlinekit/errors"
)

func TestGroup_CollapsesConcurrentCalls(t *testing.T) {
	g := New(time.Second)
	var calls int32
	release := make(chan struct{})

	const n = 50
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _, err := g.Do(context.Background(), "tasks/1", func(context.Context) ([]byte, error) {
				atomic.AddInt32(&calls, 1)
				<-release
				return []byte("payload"), nil
			})
			assert.NoError(t, err)
			results[i] = string(v)
		}(i)
	}

	require.Eventually(t, func() bool { return g.Waiters("tasks/1") == n }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, r := range results {
		assert.Equal(t, "payload", r)
	}
	assert.Empty(t, g.InFlight())
}

func TestGroup_DistinctKeysRunIndependently(t *testing.T) {
	g := New(0)
	var calls int32

	var wg sync.WaitGroup
	for _, key := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			_, _, err := g.Do(context.Background(), key, func(context.Context) ([]byte, error) {
				atomic.AddInt32(&calls, 1)
				return nil, nil
			})
			assert.NoError(t, err)
		}(key)
	}
	wg.Wait()

	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGroup_FailureReleasesKey(t *testing.T) {
	g := New(0)
	boom := stderrors.New("boom")

	_, _, err := g.Do(context.Background(), "k", func(context.Context) ([]byte, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	v, _, err := g.Do(context.Background(), "k", func(context.Context) ([]byte, error) {
		return []byte("second"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "second", string(v))
}

func TestGroup_CallerCancellationOnlyAffectsCaller(t *testing.T) {
	g := New(time.Second)
	release := make(chan struct{})
	var sharedCtxErr atomic.Value

	leaderDone := make(chan []byte)
	go func() {
		v, _, _ := g.Do(context.Background(), "k", func(ctx context.Context) ([]byte, error) {
			<-release
			if ctx.Err() != nil {
				sharedCtxErr.Store(ctx.Err())
			}
			return []byte("done"), nil
		})
		leaderDone <- v
	}()
	require.Eventually(t, func() bool { return g.Waiters("k") == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	followerErr := make(chan error)
	go func() {
		_, _, err := g.Do(ctx, "k", func(context.Context) ([]byte, error) {
			t.Error("follower must not start a second call")
			return nil, nil
		})
		followerErr <- err
	}()
	require.Eventually(t, func() bool { return g.Waiters("k") == 2 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-followerErr, context.Canceled)

	close(release)
	assert.Equal(t, "done", string(<-leaderDone))
	assert.Nil(t, sharedCtxErr.Load())
}

func TestGroup_TimeoutIsRetryable(t *testing.T) {
	g := New(20 * time.Millisecond)

	_, _, err := g.Do(context.Background(), "slow", func(ctx context.Context) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	require.Error(t, err)
	assert.Equal(t, errors.KindTimeout, errors.KindOf(err))
	assert.True(t, errors.IsRetryable(err))
}

func TestDo_Typed(t *testing.T) {
	g := New(0)
	v, _, err := Do(context.Background(), g, "n", func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestDo_CancelledBeforeStart(t *testing.T) {
	g := New(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, _, err := g.Do(ctx, "k", func(context.Context) ([]byte, error) {
		called = true
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
