package cache

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name     string
		jsonData string
		want     Config
		wantErr  bool
	}{
		{
			name:     "duration string",
			jsonData: `{"max_entries": 100, "default_ttl": "30s", "compression_threshold_bytes": 2048, "compression": "s2"}`,
			want:     Config{MaxEntries: 100, DefaultTTL: 30 * time.Second, CompressionThreshold: 2048, Compression: "s2"},
		},
		{
			name:     "integer milliseconds",
			jsonData: `{"max_entries": 10, "default_ttl": 5000}`,
			want:     Config{MaxEntries: 10, DefaultTTL: 5 * time.Second},
		},
		{
			name:     "bad duration",
			jsonData: `{"default_ttl": "soon"}`,
			wantErr:  true,
		},
		{
			name:     "wrong type",
			jsonData: `{"default_ttl": true}`,
			wantErr:  true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var got Config
			err := json.Unmarshal([]byte(test.jsonData), &got)
			if test.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.want, got)
		})
	}
}

func TestConfig_UnmarshalKeepsDefaults(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, json.Unmarshal([]byte(`{"max_entries": 7}`), &cfg))

	assert.Equal(t, 7, cfg.MaxEntries)
	assert.Equal(t, DefaultTTL, cfg.DefaultTTL)
	assert.Equal(t, DefaultCompressionThreshold, cfg.CompressionThreshold)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.DefaultTTL = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.MaxEntries = -1
	assert.Error(t, cfg.Validate())
}
