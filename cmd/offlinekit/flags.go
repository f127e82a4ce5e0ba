package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	Debug           bool
	HTTPAddr        string
	TLSCert         string
	TLSKey          string
	TLSClientCA     string
	ShutdownTimeout time.Duration
	WatchConfig     bool
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags(fs *flag.FlagSet, args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}

	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("OFFLINEKIT_CONFIG", ""),
		"Path to a JSON or YAML configuration file, empty for defaults (env: OFFLINEKIT_CONFIG)")

	fs.StringVar(&cfg.ConfigPath, "c",
		getEnv("OFFLINEKIT_CONFIG", ""),
		"Path to a JSON or YAML configuration file, empty for defaults (env: OFFLINEKIT_CONFIG)")

	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("OFFLINEKIT_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: OFFLINEKIT_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("OFFLINEKIT_LOG_FORMAT", "json"),
		"Log format: json, text (env: OFFLINEKIT_LOG_FORMAT)")

	fs.BoolVar(&cfg.Debug, "debug",
		getEnvBool("OFFLINEKIT_DEBUG", false),
		"Enable debug mode (env: OFFLINEKIT_DEBUG)")

	fs.StringVar(&cfg.HTTPAddr, "http-addr",
		getEnv("OFFLINEKIT_HTTP_ADDR", ":8080"),
		"Listen address for health, metrics and queue endpoints, empty to disable (env: OFFLINEKIT_HTTP_ADDR)")

	fs.StringVar(&cfg.TLSCert, "tls-cert",
		getEnv("OFFLINEKIT_TLS_CERT", ""),
		"Serve HTTPS with this certificate (env: OFFLINEKIT_TLS_CERT)")

	fs.StringVar(&cfg.TLSKey, "tls-key",
		getEnv("OFFLINEKIT_TLS_KEY", ""),
		"Private key for --tls-cert (env: OFFLINEKIT_TLS_KEY)")

	fs.StringVar(&cfg.TLSClientCA, "tls-client-ca",
		getEnv("OFFLINEKIT_TLS_CLIENT_CA", ""),
		"Require client certificates signed by this CA (env: OFFLINEKIT_TLS_CLIENT_CA)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("OFFLINEKIT_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: OFFLINEKIT_SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cfg.WatchConfig, "watch-config",
		getEnvBool("OFFLINEKIT_WATCH_CONFIG", false),
		"Follow configuration revisions published to NATS KV (env: OFFLINEKIT_WATCH_CONFIG)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() {
		printDetailedHelp(fs)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	validFormats := []string{"json", "text"}
	if !contains(validFormats, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return fmt.Errorf("--tls-cert and --tls-key must be set together")
	}

	if cfg.TLSClientCA != "" && cfg.TLSCert == "" {
		return fmt.Errorf("--tls-client-ca requires --tls-cert")
	}

	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}

	return nil
}

func printDetailedHelp(fs *flag.FlagSet) {
	out := fs.Output()
	_, _ = fmt.Fprintf(out, `%s - resilient cache and offline sync daemon

Usage: %s [options]

Options:
`, appName, os.Args[0])
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(out, `
Examples:
  # Run with defaults against a remote API
  OFFLINEKIT_REMOTE_URL=https://api.example.com %s

  # Run with a config file and text logs
  %s --config=/etc/offlinekit/config.yaml --log-format=text

  # Persist the queue in NATS KV and follow config revisions
  export OFFLINEKIT_NATS_URL=nats://localhost:4222
  export OFFLINEKIT_STORAGE_BACKEND=nats
  %s --watch-config

  # Validate configuration only
  %s --config=config.json --validate

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
