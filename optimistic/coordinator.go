// Package optimistic applies speculative writes to cached values before the
// server confirms them, and undoes them when it does not.
//
// Patches on the same cache key form a stack in begin order. Each patch's
// snapshot is the value it saw when it began, including the effect of any
// earlier pending patch. Rolling back the newest patch restores its snapshot
// verbatim. Rolling back an older one rebases: the newer patches are re-applied
// on top of the older patch's snapshot, so a rollback never clobbers state a
// still-pending later patch produced.
//
// A committed patch that still has older pending patches below it stays on the
// stack as confirmed, so a later rebase keeps its effect. When the last patch
// on a key settles and any of them committed, the entry is invalidated and the
// refetch hook reconciles it with the server.
package optimistic

import (
	"context"
	"log/slog"
	"sync"

	"github.com/c360/offlinekit/errors"
	"github.com/c360/offlinekit/metric"
	"github.com/c360/offlinekit/pkg/cache"
)

const componentName = "optimistic"

// ErrAlreadySettled is returned when a patch is committed or rolled back twice.
var ErrAlreadySettled = errors.New("patch already settled")

// Refetcher reloads the value for a store key from the server.
type Refetcher func(ctx context.Context, storeKey string) error

type patch struct {
	key      string
	store    *cache.Store
	setOpts  []cache.SetOption
	snapshot []byte
	existed  bool
	apply    func(raw []byte, found bool) ([]byte, error)

	committed bool
	settled   bool
}

// Coordinator tracks the pending patches of every key.
type Coordinator struct {
	mu        sync.Mutex
	stacks    map[string][]*patch
	confirmed map[string]bool
	refetch   Refetcher
	logger    *slog.Logger
	metrics   *metric.Metrics
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRefetcher sets the hook called after a key's patches are confirmed.
func WithRefetcher(fn Refetcher) Option {
	return func(c *Coordinator) {
		c.refetch = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics counts settled patches by result.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(c *Coordinator) {
		if registry != nil {
			c.metrics = registry.CoreMetrics()
		}
	}
}

// New creates a coordinator.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		stacks:    make(map[string][]*patch),
		confirmed: make(map[string]bool),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Handle settles one patch.
type Handle struct {
	c *Coordinator
	p *patch
}

// Key returns the store key the patch applies to.
func (h *Handle) Key() string {
	return h.p.key
}

// Begin snapshots the value of key in ns, applies update to it and stores the
// result immediately. update receives the current value and whether one was
// cached.
func Begin[V any](c *Coordinator, ns *cache.Namespace[V], key string, update func(current V, found bool) (V, error), opts ...cache.SetOption) (*Handle, error) {
	if update == nil {
		return nil, errors.WrapInvalid(nil, componentName, "Begin", "update function cannot be nil")
	}
	codec := ns.Codec()
	apply := func(raw []byte, found bool) ([]byte, error) {
		var current V
		if found {
			v, err := codec.Unmarshal(raw)
			if err != nil {
				return nil, errors.WrapInvalid(err, componentName, "Begin", "decode cached value")
			}
			current = v
		}
		next, err := update(current, found)
		if err != nil {
			return nil, err
		}
		return codec.Marshal(next)
	}
	return c.begin(ns.Store(), ns.Key(key), apply, opts)
}

func (c *Coordinator) begin(store *cache.Store, key string, apply func([]byte, bool) ([]byte, error), opts []cache.SetOption) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, found := store.Peek(key)
	p := &patch{
		key:      key,
		store:    store,
		setOpts:  opts,
		snapshot: append([]byte(nil), raw...),
		existed:  found,
		apply:    apply,
	}

	next, err := apply(raw, found)
	if err != nil {
		return nil, err
	}
	if err := store.Set(key, next, opts...); err != nil {
		return nil, err
	}

	c.stacks[key] = append(c.stacks[key], p)
	c.logger.Debug("Optimistic patch applied", "key", key, "depth", len(c.stacks[key]))
	return &Handle{c: c, p: p}, nil
}

// Commit confirms the patch. When no other patch on the key is pending the
// entry is invalidated and refetched.
func (h *Handle) Commit(ctx context.Context) error {
	c := h.c
	c.mu.Lock()
	if h.p.settled {
		c.mu.Unlock()
		return errors.WrapInvalid(ErrAlreadySettled, componentName, "Commit", "commit "+h.p.key)
	}
	h.p.settled = true
	h.p.committed = true
	reconcile := c.trimLocked(h.p.key)
	c.mu.Unlock()

	c.record("committed")
	if reconcile {
		c.reconcile(ctx, h.p)
	}
	return nil
}

// Rollback undoes the patch.
func (h *Handle) Rollback() error {
	return h.rollback(context.Background())
}

func (h *Handle) rollback(ctx context.Context) error {
	c := h.c
	c.mu.Lock()
	if h.p.settled {
		c.mu.Unlock()
		return errors.WrapInvalid(ErrAlreadySettled, componentName, "Rollback", "roll back "+h.p.key)
	}
	h.p.settled = true

	stack := c.stacks[h.p.key]
	idx := indexOf(stack, h.p)
	base, existed := h.p.snapshot, h.p.existed
	for _, later := range stack[idx+1:] {
		later.snapshot, later.existed = base, existed
		next, err := later.apply(base, existed)
		if err != nil {
			// The later patch can no longer apply; its effect is dropped and it
			// rolls back to this base.
			c.logger.Warn("Optimistic patch could not be rebased", "key", h.p.key, "error", err)
			continue
		}
		base, existed = next, true
	}
	c.restoreLocked(h.p, base, existed)
	c.stacks[h.p.key] = append(stack[:idx:idx], stack[idx+1:]...)
	reconcile := c.trimLocked(h.p.key)
	c.mu.Unlock()

	c.record("rolled_back")
	if reconcile {
		c.reconcile(ctx, h.p)
	}
	return nil
}

// Settle commits on a nil error and rolls back otherwise.
func (h *Handle) Settle(ctx context.Context, err error) error {
	if err == nil {
		return h.Commit(ctx)
	}
	return h.rollback(ctx)
}

// Pending returns the number of unsettled patches on store key.
func (c *Coordinator) Pending(storeKey string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, p := range c.stacks[storeKey] {
		if !p.settled {
			n++
		}
	}
	return n
}

func (c *Coordinator) restoreLocked(p *patch, value []byte, existed bool) {
	if !existed {
		p.store.Remove(p.key)
		return
	}
	if err := p.store.Set(p.key, value, p.setOpts...); err != nil {
		c.logger.Warn("Optimistic rollback failed, invalidating entry", "key", p.key, "error", err)
		p.store.Remove(p.key)
	}
}

// trimLocked drops confirmed patches from the bottom of the key's stack. It
// reports whether the stack emptied after any patch on the key committed.
func (c *Coordinator) trimLocked(key string) bool {
	stack := c.stacks[key]
	for len(stack) > 0 && stack[0].committed {
		c.confirmed[key] = true
		stack = stack[1:]
	}
	if len(stack) > 0 {
		c.stacks[key] = stack
		return false
	}
	delete(c.stacks, key)
	confirmed := c.confirmed[key]
	delete(c.confirmed, key)
	return confirmed
}

func (c *Coordinator) reconcile(ctx context.Context, p *patch) {
	p.store.Remove(p.key)
	if c.refetch == nil {
		return
	}
	if err := c.refetch(ctx, p.key); err != nil {
		c.logger.Warn("Refetch after optimistic commit failed", "key", p.key, "error", err)
	}
}

func (c *Coordinator) record(result string) {
	if c.metrics != nil {
		c.metrics.RecordPatch(result)
	}
}

func indexOf(stack []*patch, p *patch) int {
	for i, q := range stack {
		if q == p {
			return i
		}
	}
	return -1
}
