package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/offlinekit/errors"
)

// EnvPrefix is the default prefix for environment overrides.
const EnvPrefix = "OFFLINEKIT"

// Load reads a JSON or YAML file over DefaultConfig and validates the result.
// Fields absent from the file keep their defaults.
func Load(path string) (Config, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return Config{}, errors.WrapInvalid(err, "config", "Load", "read file")
	}

	if ext := strings.ToLower(filepath.Ext(path)); ext == ".yaml" || ext == ".yml" {
		data, err = yamlToJSON(data)
		if err != nil {
			return Config{}, errors.WrapInvalid(err, "config", "Load", "parse yaml")
		}
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes a JSON document over DefaultConfig and validates it.
func Parse(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := decodeInto(&cfg, data); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decodeInto overlays data onto cfg.
func decodeInto(cfg *Config, data []byte) error {
	if err := validateJSONDepth(data); err != nil {
		return errors.WrapInvalid(err, "config", "Parse", "check nesting")
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return errors.WrapInvalid(errors.Join(errors.ErrParsingFailed, err), "config", "Parse", "decode json")
	}
	cfg.normalize()
	return nil
}

// yamlToJSON converts a YAML document to JSON so a single set of struct tags
// and the Duration decoder serve both formats.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return json.Marshal(doc)
}

// envBinding maps an environment suffix onto a field setter.
type envBinding struct {
	suffix string
	set    func(c *Config, value string) error
}

var envBindings = []envBinding{
	{"MAX_ENTRIES", intField(func(c *Config) *int { return &c.MaxEntries })},
	{"DEFAULT_TTL", durationField(func(c *Config) *Duration { return &c.DefaultTTL })},
	{"COMPRESSION_THRESHOLD", intField(func(c *Config) *int { return &c.CompressionThreshold })},
	{"COMPRESSION", stringField(func(c *Config) *string { return &c.Compression })},
	{"MAX_RETRIES", intField(func(c *Config) *int { return &c.MaxRetries })},
	{"BACKOFF_BASE", durationField(func(c *Config) *Duration { return &c.BackoffBase })},
	{"BACKOFF_CAP", durationField(func(c *Config) *Duration { return &c.BackoffCap })},
	{"REQUEST_TIMEOUT", durationField(func(c *Config) *Duration { return &c.RequestTimeout })},
	{"DRAIN_WORKERS", intField(func(c *Config) *int { return &c.DrainWorkers })},
	{"EVENT_HISTORY", intField(func(c *Config) *int { return &c.EventHistory })},
	{"REMOTE_URL", stringField(func(c *Config) *string { return &c.Remote.BaseURL })},
	{"REMOTE_TOKEN", stringField(func(c *Config) *string { return &c.Remote.Token })},
	{"STORAGE_BACKEND", stringField(func(c *Config) *string { return &c.Storage.Backend })},
	{"STORAGE_DIR", stringField(func(c *Config) *string { return &c.Storage.Dir })},
	{"STORAGE_BUCKET", stringField(func(c *Config) *string { return &c.Storage.Bucket })},
	{"CONNECTIVITY_SOURCE", stringField(func(c *Config) *string { return &c.Connectivity.Source })},
	{"PROBE_URL", stringField(func(c *Config) *string { return &c.Connectivity.ProbeURL })},
	{"NATS_URL", stringField(func(c *Config) *string { return &c.NATS.URL })},
	{"NATS_TOKEN", stringField(func(c *Config) *string { return &c.NATS.Token })},
	{"NATS_USER", stringField(func(c *Config) *string { return &c.NATS.Username })},
	{"NATS_PASSWORD", stringField(func(c *Config) *string { return &c.NATS.Password })},
}

// ApplyEnv overrides fields from <prefix>_<NAME> environment variables, e.g.
// OFFLINEKIT_MAX_ENTRIES=100 or OFFLINEKIT_BACKOFF_BASE=500ms. Unset and empty
// variables are ignored. The result is validated.
func (c *Config) ApplyEnv(prefix string) error {
	if prefix == "" {
		prefix = EnvPrefix
	}
	for _, b := range envBindings {
		key := prefix + "_" + b.suffix
		value, ok := os.LookupEnv(key)
		if !ok || value == "" {
			continue
		}
		if err := validateEnvVar(key, value); err != nil {
			return errors.WrapInvalid(err, "config", "ApplyEnv", "validate "+key)
		}
		if err := b.set(c, strings.TrimSpace(value)); err != nil {
			return errors.WrapInvalid(err, "config", "ApplyEnv", "parse "+key)
		}
	}
	c.normalize()
	return c.Validate()
}

func intField(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, value string) error {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("not an integer: %q", value)
		}
		*field(c) = n
		return nil
	}
}

func stringField(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, value string) error {
		*field(c) = value
		return nil
	}
}

// durationField accepts "750ms"-style strings or bare milliseconds.
func durationField(field func(*Config) *Duration) func(*Config, string) error {
	return func(c *Config, value string) error {
		if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
			*field(c) = Duration(time.Duration(ms) * time.Millisecond)
			return nil
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("not a duration: %q", value)
		}
		*field(c) = Duration(d)
		return nil
	}
}
