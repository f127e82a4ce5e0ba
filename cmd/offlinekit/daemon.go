package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/offlinekit/config"
	"github.com/c360/offlinekit/offline"
	"github.com/c360/offlinekit/storage/memstore"
)

// daemon owns the running Subsystem and swaps it when a configuration
// revision arrives.
type daemon struct {
	deps   offline.Deps
	logger *slog.Logger

	mu  sync.RWMutex
	cfg config.Config
	sys *offline.Subsystem
}

func newDaemon(cfg config.Config, deps offline.Deps, logger *slog.Logger) *daemon {
	// The memory backend outlives subsystem restarts so a reload keeps the queue.
	if deps.Storage == nil && cfg.Storage.Backend == config.StorageMemory {
		deps.Storage = memstore.New()
	}
	return &daemon{cfg: cfg, deps: deps, logger: logger}
}

func (d *daemon) open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	sys, err := offline.Open(ctx, d.cfg, d.deps)
	if err != nil {
		return err
	}
	d.sys = sys
	return nil
}

func (d *daemon) current() *offline.Subsystem {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sys
}

// reload restarts the subsystem with cfg. Queued operations carry over through
// storage. On failure the previous configuration is reopened.
func (d *daemon) reload(ctx context.Context, cfg config.Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cfg.Storage != d.cfg.Storage {
		d.logger.Warn("Storage settings changed, restart required to apply them")
		cfg.Storage = d.cfg.Storage
	}

	if err := d.sys.Close(30 * time.Second); err != nil {
		d.logger.Warn("Closing subsystem for reload failed", "error", err)
	}

	sys, err := offline.Open(ctx, cfg, d.deps)
	if err != nil {
		prev, perr := offline.Open(ctx, d.cfg, d.deps)
		if perr != nil {
			d.logger.Error("Reopening previous configuration failed", "error", perr)
			return perr
		}
		d.sys = prev
		return err
	}

	d.cfg = cfg
	d.sys = sys
	d.logger.Info("Configuration reloaded", "config", cfg.Redacted())
	return nil
}

func (d *daemon) close(timeout time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sys == nil {
		return
	}
	if err := d.sys.Close(timeout); err != nil {
		d.logger.Warn("Subsystem close failed", "error", err)
	}
}
