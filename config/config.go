package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/c360/offlinekit/errors"
	"github.com/c360/offlinekit/pkg/cache"
	"github.com/c360/offlinekit/pkg/codec"
	"github.com/c360/offlinekit/pkg/retry"
	"github.com/c360/offlinekit/pkg/tlsutil"
)

// Storage backends
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageNATS   = "nats"
)

// Connectivity sources
const (
	SourceManual = "manual"
	SourceNATS   = "nats"
	SourceProbe  = "probe"
)

// Duration is a time.Duration that reads a duration string or integer
// milliseconds and writes integer milliseconds.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	v, err := cache.ParseDurationField(data, "duration")
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).Milliseconds())
}

// Config is the complete subsystem configuration.
type Config struct {
	MaxEntries           int      `json:"maxEntries"`
	DefaultTTL           Duration `json:"defaultTtlMs"`
	CompressionThreshold int      `json:"compressionThresholdBytes"`
	Compression          string   `json:"compression"`

	MaxRetries  int      `json:"maxRetries"`
	BackoffBase Duration `json:"backoffBaseMs"`
	BackoffCap  Duration `json:"backoffCapMs"`

	RequestTimeout Duration `json:"requestTimeoutMs"`
	DrainWorkers   int      `json:"drainWorkers"`
	EventHistory   int      `json:"eventHistory"`

	Remote       RemoteConfig       `json:"remote"`
	Storage      StorageConfig      `json:"storage"`
	Connectivity ConnectivityConfig `json:"connectivity"`
	NATS         NATSConfig         `json:"nats"`
}

// RemoteConfig configures the HTTP resource API client.
type RemoteConfig struct {
	BaseURL   string  `json:"baseUrl,omitempty"`
	Token     string  `json:"token,omitempty"`
	RateLimit float64 `json:"rateLimit,omitempty"` // requests per second, 0 = unlimited
	Burst     int     `json:"burst,omitempty"`
	// TLS applies to the API client and the connectivity probe.
	TLS tlsutil.ClientConfig `json:"tls,omitempty"`
}

// StorageConfig selects the durable queue backend.
type StorageConfig struct {
	Backend string `json:"backend"`
	Dir     string `json:"dir,omitempty"`
	Bucket  string `json:"bucket,omitempty"`
}

// ConnectivityConfig selects the connectivity source.
type ConnectivityConfig struct {
	Source        string   `json:"source"`
	ProbeURL      string   `json:"probeUrl,omitempty"`
	ProbeInterval Duration `json:"probeIntervalMs,omitempty"`
}

// NATSConfig configures the NATS connection used by the nats storage backend
// and connectivity source.
type NATSConfig struct {
	URL      string `json:"url,omitempty"`
	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`
	// DrainTimeout bounds how long Close waits for pending publishes.
	DrainTimeout Duration `json:"drainTimeoutMs,omitempty"`
}

// DefaultConfig returns the defaults: 50 entries, 5 minute TTL, 10 KB
// compression threshold, 3 retries, 2 s base and 5 min cap backoff.
func DefaultConfig() Config {
	policy := retry.DefaultPolicy()
	return Config{
		MaxEntries:           cache.DefaultMaxEntries,
		DefaultTTL:           Duration(cache.DefaultTTL),
		CompressionThreshold: cache.DefaultCompressionThreshold,
		Compression:          codec.NameZstd,
		MaxRetries:           policy.MaxRetries,
		BackoffBase:          Duration(policy.Base),
		BackoffCap:           Duration(policy.Cap),
		RequestTimeout:       Duration(30 * time.Second),
		DrainWorkers:         4,
		EventHistory:         100,
		Storage:              StorageConfig{Backend: StorageMemory, Bucket: "offlinekit"},
		Connectivity:         ConnectivityConfig{Source: SourceManual, ProbeInterval: Duration(15 * time.Second)},
	}
}

// CacheConfig returns the cache store section.
func (c Config) CacheConfig() cache.Config {
	return cache.Config{
		MaxEntries:           c.MaxEntries,
		DefaultTTL:           c.DefaultTTL.Std(),
		CompressionThreshold: c.CompressionThreshold,
		Compression:          c.Compression,
	}
}

// RetryPolicy returns the queue backoff policy.
func (c Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		Base:       c.BackoffBase.Std(),
		Cap:        c.BackoffCap.Std(),
		MaxRetries: c.MaxRetries,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := c.CacheConfig().Validate(); err != nil {
		return err
	}
	if err := c.RetryPolicy().Validate(); err != nil {
		return err
	}
	if c.RequestTimeout < 0 {
		return invalid("requestTimeoutMs must not be negative, got %v", c.RequestTimeout.Std())
	}
	if c.DrainWorkers <= 0 {
		return invalid("drainWorkers must be positive, got %d", c.DrainWorkers)
	}
	if c.EventHistory <= 0 {
		return invalid("eventHistory must be positive, got %d", c.EventHistory)
	}
	if c.NATS.DrainTimeout < 0 {
		return invalid("nats.drainTimeoutMs must not be negative, got %v", c.NATS.DrainTimeout.Std())
	}
	if c.Remote.RateLimit < 0 {
		return invalid("remote.rateLimit must not be negative, got %v", c.Remote.RateLimit)
	}
	if err := c.Remote.TLS.Validate(); err != nil {
		return err
	}

	switch c.Storage.Backend {
	case StorageMemory:
	case StorageFile:
		if c.Storage.Dir == "" {
			return invalid("storage.dir is required for the file backend")
		}
	case StorageNATS:
		if c.Storage.Bucket == "" {
			return invalid("storage.bucket is required for the nats backend")
		}
		if c.NATS.URL == "" {
			return invalid("nats.url is required for the nats backend")
		}
	default:
		return invalid("unknown storage.backend %q", c.Storage.Backend)
	}

	switch c.Connectivity.Source {
	case SourceManual:
	case SourceNATS:
		if c.NATS.URL == "" {
			return invalid("nats.url is required for the nats connectivity source")
		}
	case SourceProbe:
		if c.Connectivity.ProbeURL == "" {
			return invalid("connectivity.probeUrl is required for the probe source")
		}
	default:
		return invalid("unknown connectivity.source %q", c.Connectivity.Source)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate", fmt.Sprintf(format, args...))
}

// Redacted returns a copy with credentials masked, for logging.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "***"
	}
	c.Remote.Token = mask(c.Remote.Token)
	c.NATS.Password = mask(c.NATS.Password)
	c.NATS.Token = mask(c.NATS.Token)
	return c
}

// String returns the redacted configuration as JSON.
func (c Config) String() string {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return string(data)
}

// SafeConfig provides thread-safe access to a Config.
type SafeConfig struct {
	mu     sync.RWMutex
	config Config
}

// NewSafeConfig wraps cfg.
func NewSafeConfig(cfg Config) *SafeConfig {
	return &SafeConfig{config: cfg}
}

// Get returns a copy of the current configuration.
func (sc *SafeConfig) Get() Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config
}

// Update replaces the configuration after validating it.
func (sc *SafeConfig) Update(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "config", "Update", "validate")
	}
	sc.mu.Lock()
	sc.config = cfg
	sc.mu.Unlock()
	return nil
}

// normalize trims string enums so "File " and "file" mean the same.
func (c *Config) normalize() {
	c.Compression = strings.ToLower(strings.TrimSpace(c.Compression))
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	c.Connectivity.Source = strings.ToLower(strings.TrimSpace(c.Connectivity.Source))
}
