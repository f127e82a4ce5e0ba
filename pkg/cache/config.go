package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360/offlinekit/errors"
	"github.com/c360/offlinekit/pkg/codec"
)

// Defaults for a Store.
const (
	DefaultMaxEntries           = 50
	DefaultTTL                  = 5 * time.Minute
	DefaultCompressionThreshold = 10 * 1024
)

// Config contains configuration for Store creation.
type Config struct {
	// MaxEntries bounds the number of stored entries.
	MaxEntries int `json:"max_entries"`

	// DefaultTTL applies to entries set without WithTTL.
	DefaultTTL time.Duration `json:"default_ttl"`

	// CompressionThreshold is the serialized size in bytes above which values are
	// compressed. Negative disables compression.
	CompressionThreshold int `json:"compression_threshold_bytes"`

	// Compression names the codec: zstd (default), s2 or none.
	Compression string `json:"compression"`
}

// DefaultConfig returns a default cache configuration.
func DefaultConfig() Config {
	return Config{
		MaxEntries:           DefaultMaxEntries,
		DefaultTTL:           DefaultTTL,
		CompressionThreshold: DefaultCompressionThreshold,
		Compression:          codec.NameZstd,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.MaxEntries <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate",
			fmt.Sprintf("max_entries must be positive, got %d", c.MaxEntries))
	}
	if c.DefaultTTL <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate",
			fmt.Sprintf("default_ttl must be positive, got %v", c.DefaultTTL))
	}
	if _, err := codec.ByName(c.Compression); err != nil {
		return err
	}
	return nil
}

// UnmarshalJSON supports duration strings (e.g., "5m", "30s") in addition to
// integer milliseconds for default_ttl.
func (c *Config) UnmarshalJSON(data []byte) error {
	type Alias Config

	aux := &struct {
		DefaultTTL json.RawMessage `json:"default_ttl,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(c),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if len(aux.DefaultTTL) > 0 {
		ttl, err := ParseDurationField(aux.DefaultTTL, "default_ttl")
		if err != nil {
			return err
		}
		c.DefaultTTL = ttl
	}
	return nil
}

// ParseDurationField parses a JSON duration field that can be either:
// - A string (duration like "1h", "5m", "30s")
// - An integer number of milliseconds
func ParseDurationField(data json.RawMessage, fieldName string) (time.Duration, error) {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		duration, err := time.ParseDuration(str)
		if err != nil {
			return 0, fmt.Errorf("invalid duration string for %s: %w", fieldName, err)
		}
		return duration, nil
	}

	var ms int64
	if err := json.Unmarshal(data, &ms); err != nil {
		return 0, fmt.Errorf("field %s must be either a duration string (e.g., '5s') or integer milliseconds", fieldName)
	}
	return time.Duration(ms) * time.Millisecond, nil
}
