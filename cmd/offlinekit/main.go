// Package main implements the offlinekit daemon. It runs the resilient cache
// and offline sync subsystem against a remote resource API and exposes health,
// metrics and queue management over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/offlinekit/config"
	"github.com/c360/offlinekit/metric"
	"github.com/c360/offlinekit/natsclient"
	"github.com/c360/offlinekit/offline"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "offlinekit"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	cliCfg, logger, shouldExit, err := initializeCLI(args, stdout)
	if shouldExit || err != nil {
		return err
	}

	cfg, err := loadConfiguration(cliCfg)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		logger.Info("Configuration is valid", "config", cfg.Redacted())
		return nil
	}

	registry := metric.NewMetricsRegistry()

	var natsClient *natsclient.Client
	if cfg.NATS.URL != "" {
		natsClient, err = connectToNATS(ctx, cfg, registry, logger)
		if err != nil {
			return err
		}
		defer natsClient.Close(context.WithoutCancel(ctx))
	}

	d := newDaemon(cfg, offline.Deps{Logger: logger, Metrics: registry, NATS: natsClient}, logger)
	if err := d.open(ctx); err != nil {
		return fmt.Errorf("open offline subsystem: %w", err)
	}
	defer d.close(cliCfg.ShutdownTimeout)

	var changes <-chan config.Update
	if cliCfg.WatchConfig {
		if natsClient == nil {
			return fmt.Errorf("--watch-config requires nats.url")
		}
		manager, err := setupConfigManager(ctx, cfg, natsClient, logger)
		if err != nil {
			return err
		}
		defer manager.Stop(5 * time.Second)
		changes = manager.OnChange()
	}

	return runWithSignalHandling(ctx, d, registry, cliCfg, changes)
}

// initializeCLI parses flags and sets up logging
func initializeCLI(args []string, stdout io.Writer) (*CLIConfig, *slog.Logger, bool, error) {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	cliCfg, err := parseFlags(fs, args)
	if err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		fs.SetOutput(stdout)
		printDetailedHelp(fs)
		return nil, nil, true, nil
	}

	logger := setupLogger(stdout, cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	logger.Info("Starting offlinekit",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// loadConfiguration reads the config file, if any, and applies environment
// overrides.
func loadConfiguration(cliCfg *CLIConfig) (config.Config, error) {
	cfg := config.DefaultConfig()
	if cliCfg.ConfigPath != "" {
		loaded, err := config.Load(cliCfg.ConfigPath)
		if err != nil {
			return config.Config{}, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	if err := cfg.ApplyEnv(config.EnvPrefix); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// connectToNATS establishes the shared NATS connection and waits for it to be
// ready.
func connectToNATS(
	ctx context.Context,
	cfg config.Config,
	registry *metric.MetricsRegistry,
	logger *slog.Logger,
) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithMetrics(registry),
		natsclient.WithLogger(natsclient.SlogLogger(logger)),
		natsclient.WithName(appName),
	}
	if cfg.NATS.Name != "" {
		opts = append(opts, natsclient.WithName(cfg.NATS.Name))
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}
	if cfg.NATS.DrainTimeout > 0 {
		opts = append(opts, natsclient.WithDrainTimeout(cfg.NATS.DrainTimeout.Std()))
	}

	client, err := natsclient.NewClient(cfg.NATS.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	logger.Info("Connecting to NATS")
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		_ = client.Close(ctx)
		return nil, fmt.Errorf("NATS connection timeout: %w", err)
	}
	return client, nil
}

// setupConfigManager creates and starts the KV-backed config manager
func setupConfigManager(
	ctx context.Context,
	cfg config.Config,
	client *natsclient.Client,
	logger *slog.Logger,
) (*config.Manager, error) {
	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Storage.Bucket + "-config",
		Description: "offlinekit shared configuration",
		History:     5,
	})
	if err != nil {
		return nil, fmt.Errorf("create config bucket: %w", err)
	}

	manager, err := config.NewManager(bucket, config.DefaultKey, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create config manager: %w", err)
	}
	if err := manager.Start(ctx); err != nil {
		return nil, fmt.Errorf("start config manager: %w", err)
	}
	return manager, nil
}

// runWithSignalHandling serves HTTP, applies config revisions and waits for a
// shutdown signal.
func runWithSignalHandling(
	ctx context.Context,
	d *daemon,
	registry *metric.MetricsRegistry,
	cliCfg *CLIConfig,
	changes <-chan config.Update,
) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	var serveErr <-chan error
	if cliCfg.HTTPAddr != "" {
		srv, err := newHTTPServer(cliCfg, d, registry)
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		serveErr = startHTTPServer(srv, d.logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				d.logger.Warn("HTTP server shutdown failed", "error", err)
			}
		}()
	}

	d.logger.Info("offlinekit started", "online", d.current().Online(), "queued", d.current().QueueLength())

	for {
		select {
		case <-signalCtx.Done():
			d.logger.Info("Received shutdown signal")
			return nil
		case err := <-serveErr:
			return fmt.Errorf("http server: %w", err)
		case update, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			if err := d.reload(signalCtx, update.Config); err != nil {
				d.logger.Error("Configuration revision not applied", "revision", update.Revision, "error", err)
			}
		}
	}
}
