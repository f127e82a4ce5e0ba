// Package dedup collapses concurrent identical fetches into a single call.
//
// A Group allows at most one in-flight call per key. Callers that arrive while a
// call is running wait for and share its result. The key is forgotten as soon as
// the call settles, success or failure, so a failed fetch never blocks later
// ones. Results are not retained; persistence is the cache's job.
//
// The shared call does not inherit any single caller's cancellation: it runs on
// a detached context bounded by the group's timeout, and a caller whose own
// context ends simply stops waiting.
package dedup

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/c360/offlinekit/errors"
)

// Group deduplicates calls by key.
type Group struct {
	sf      singleflight.Group
	timeout time.Duration

	mu       sync.Mutex
	inflight map[string]int // waiters per key
}

// New creates a Group. A positive timeout bounds every shared call; the timeout
// surfaces as a retryable timeout error.
func New(timeout time.Duration) *Group {
	return &Group{timeout: timeout, inflight: make(map[string]int)}
}

// Do runs fn once for all concurrent callers with the same key. shared reports
// whether the result was delivered to more than one caller.
func (g *Group) Do(ctx context.Context, key string, fn func(context.Context) ([]byte, error)) ([]byte, bool, error) {
	return Do(ctx, g, key, fn)
}

// InFlight returns the keys with a call currently running.
func (g *Group) InFlight() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	keys := make([]string, 0, len(g.inflight))
	for k := range g.inflight {
		keys = append(keys, k)
	}
	return keys
}

// Waiters returns the number of callers currently waiting on key.
func (g *Group) Waiters(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inflight[key]
}

func (g *Group) track(key string, delta int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inflight[key] += delta
	if g.inflight[key] <= 0 {
		delete(g.inflight, key)
	}
}

// Do is the typed form of Group.Do.
func Do[T any](ctx context.Context, g *Group, key string, fn func(context.Context) (T, error)) (T, bool, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}

	ch := g.sf.DoChan(key, func() (interface{}, error) {
		callCtx := context.WithoutCancel(ctx)
		if g.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(callCtx, g.timeout)
			defer cancel()
		}
		v, err := fn(callCtx)
		if err != nil && callCtx.Err() == context.DeadlineExceeded && errors.KindOf(err) == errors.KindUnknown {
			err = errors.NewTimeoutError(err)
		}
		return v, err
	})
	g.track(key, 1)
	defer g.track(key, -1)

	select {
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Shared, res.Err
		}
		v, ok := res.Val.(T)
		if !ok {
			return zero, res.Shared, errors.WrapFatal(nil, "dedup", "Do",
				"shared result has a different type for key "+key)
		}
		return v, res.Shared, nil
	}
}
