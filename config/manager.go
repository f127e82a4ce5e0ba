package config

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/offlinekit/errors"
)

// DefaultKey is the KV key holding the shared configuration document.
const DefaultKey = "offlinekit.config"

// KeyValue is the subset of jetstream.KeyValue the Manager needs.
type KeyValue interface {
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Watch(ctx context.Context, keys string, opts ...jetstream.WatchOpt) (jetstream.KeyWatcher, error)
}

// Update is delivered to subscribers after a revision is accepted.
type Update struct {
	Key      string
	Revision uint64
	Config   Config
}

// Manager keeps a SafeConfig in step with a KV key. Invalid revisions are
// logged and ignored so the last good configuration stays active.
type Manager struct {
	kv     KeyValue
	key    string
	config *SafeConfig
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers []chan Update
	watcher     jetstream.KeyWatcher
	shutdownCh  chan struct{}
	wg          sync.WaitGroup
	started     atomic.Bool
	stopped     atomic.Bool
}

// NewManager creates a Manager seeded with initial. An empty key selects
// DefaultKey.
func NewManager(kv KeyValue, key string, initial Config, logger *slog.Logger) (*Manager, error) {
	if kv == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "config", "NewManager", "kv bucket is required")
	}
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	if key == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		kv:         kv,
		key:        key,
		config:     NewSafeConfig(initial),
		logger:     logger.With("component", "config-manager", "key", key),
		shutdownCh: make(chan struct{}),
	}, nil
}

// Config returns the live configuration.
func (m *Manager) Config() *SafeConfig {
	return m.config
}

// OnChange returns a channel receiving accepted updates. Slow subscribers
// miss updates rather than block the watcher. The channel is closed by Stop.
func (m *Manager) OnChange() <-chan Update {
	ch := make(chan Update, 4)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped.Load() {
		close(ch)
		return ch
	}
	m.subscribers = append(m.subscribers, ch)
	return ch
}

// Start begins watching the key for new revisions.
func (m *Manager) Start(ctx context.Context) error {
	if m.stopped.Load() {
		return errors.WrapFatal(errors.ErrShuttingDown, "config", "Start", "manager stopped")
	}
	if !m.started.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "config", "Start", "start manager")
	}

	watcher, err := m.kv.Watch(ctx, m.key, jetstream.UpdatesOnly())
	if err != nil {
		m.started.Store(false)
		return errors.WrapTransient(err, "config", "Start", "watch key")
	}

	m.mu.Lock()
	m.watcher = watcher
	m.mu.Unlock()

	m.wg.Add(1)
	go m.processWatcher(ctx, watcher)
	m.logger.Info("Watching configuration")
	return nil
}

// Publish writes cfg to the key so every Manager watching it picks it up.
func (m *Manager) Publish(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return errors.WrapInvalid(err, "config", "Publish", "encode config")
	}
	if _, err := m.kv.Put(ctx, m.key, data); err != nil {
		return errors.WrapTransient(err, "config", "Publish", "put config")
	}
	return nil
}

// Stop stops watching and closes subscriber channels.
func (m *Manager) Stop(timeout time.Duration) error {
	if !m.stopped.CompareAndSwap(false, true) {
		return nil
	}
	close(m.shutdownCh)

	m.mu.RLock()
	watcher := m.watcher
	m.mu.RUnlock()
	if watcher != nil {
		_ = watcher.Stop()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		m.logger.Warn("Config manager shutdown timeout", "timeout", timeout)
	}

	m.mu.Lock()
	for _, ch := range m.subscribers {
		close(ch)
	}
	m.subscribers = nil
	m.mu.Unlock()
	return nil
}

func (m *Manager) processWatcher(ctx context.Context, watcher jetstream.KeyWatcher) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.shutdownCh:
			return
		case entry, ok := <-watcher.Updates():
			if !ok {
				return
			}
			if entry == nil || entry.Operation() != jetstream.KeyValuePut {
				continue
			}
			m.handleUpdate(entry.Key(), entry.Revision(), entry.Value())
		}
	}
}

// handleUpdate overlays the revision onto the current configuration so a
// partial document only changes the fields it names.
func (m *Manager) handleUpdate(key string, revision uint64, value []byte) {
	if m.stopped.Load() {
		return
	}

	next := m.config.Get()
	if err := decodeInto(&next, value); err != nil {
		m.logger.Error("Rejected configuration revision", "revision", revision, "error", err)
		return
	}
	if err := m.config.Update(next); err != nil {
		m.logger.Error("Rejected configuration revision", "revision", revision, "error", err)
		return
	}
	m.logger.Info("Configuration updated", "revision", revision)

	update := Update{Key: key, Revision: revision, Config: next}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.subscribers {
		if m.stopped.Load() {
			return
		}
		select {
		case ch <- update:
		default:
		}
	}
}
