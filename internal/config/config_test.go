package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/qrlens/internal/bitmap"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "native", cfg.Decoder.Backend)
	assert.Equal(t, "top_down", cfg.Decoder.RowOrder)
	assert.InDelta(t, 2.5, cfg.Decoder.MinModulePitch, 1e-9)
	assert.Equal(t, 4, cfg.Decoder.MaxUpscale)
	assert.Equal(t, 250, cfg.Scanner.SlowDecodeMS)
	assert.True(t, cfg.Scanner.Dedupe)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.False(t, cfg.Server.RateLimit.Enabled)
	assert.Positive(t, cfg.Batch.Workers)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "invalid log level"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "invalid log format"},
		{"bad output format", func(c *Config) { c.Output.Format = "xml" }, "invalid output format"},
		{"unknown backend", func(c *Config) { c.Decoder.Backend = "tesseract" }, "decoder.backend"},
		{"zxing backend", func(c *Config) { c.Decoder.Backend = "zxing" }, ""},
		{"bad row order", func(c *Config) { c.Decoder.RowOrder = "sideways" }, "decoder.row_order"},
		{"negative pitch", func(c *Config) { c.Decoder.MinModulePitch = -1 }, "min_module_pitch"},
		{"zero upscale", func(c *Config) { c.Decoder.MaxUpscale = 0 }, "max_upscale"},
		{"negative slow decode", func(c *Config) { c.Scanner.SlowDecodeMS = -5 }, "slow_decode_ms"},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"zero upload", func(c *Config) { c.Server.MaxUploadMB = 0 }, "max upload"},
		{"zero timeout", func(c *Config) { c.Server.TimeoutSec = 0 }, "invalid timeout"},
		{"negative cache", func(c *Config) { c.Server.CacheSize = -1 }, "cache_size"},
		{"rate limit without rate", func(c *Config) {
			c.Server.RateLimit.Enabled = true
			c.Server.RateLimit.RequestsPerSecond = 0
		}, "requests_per_second"},
		{"rate limit zero burst", func(c *Config) {
			c.Server.RateLimit.Enabled = true
			c.Server.RateLimit.Burst = 0
		}, "burst"},
		{"disabled rate limit ignores values", func(c *Config) {
			c.Server.RateLimit.RequestsPerSecond = 0
			c.Server.RateLimit.Burst = 0
		}, ""},
		{"zero frame size", func(c *Config) { c.Server.WebSocket.MaxFrameBytes = 0 }, "max_frame_bytes"},
		{"zero workers", func(c *Config) { c.Batch.Workers = 0 }, "batch workers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConversions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Decoder.TryHarder = true
	cfg.Decoder.Mirror = true
	cfg.Decoder.RowOrder = "bottom_up"
	cfg.Scanner.SlowDecodeMS = 40
	cfg.Batch.Workers = 3

	opts := cfg.BarcodeOptions()
	assert.True(t, opts.TryHarder)
	assert.True(t, opts.Mirror)
	assert.False(t, opts.CenterCrop)
	assert.Equal(t, 4, opts.MaxUpscale)

	assert.Equal(t, 40*time.Millisecond, cfg.ScannerOptions().SlowDecode)
	assert.Equal(t, bitmap.BottomUp, cfg.RowOrder())
	assert.Equal(t, 3, cfg.ToParallelConfig().MaxWorkers)

	cfg.Decoder.RowOrder = "nonsense"
	assert.Equal(t, bitmap.TopDown, cfg.RowOrder())
}

func TestLoad_NoConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := NewLoaderWith(viper.New()).Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), *cfg)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qrlens.yaml")
	content := `
log_level: debug
decoder:
  backend: zxing
  try_harder: true
  row_order: bottom_up
server:
  port: 9090
  rate_limit:
    enabled: true
    burst: 5
pdf:
  pages: 1-3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	l := NewLoaderWith(viper.New())
	cfg, err := l.LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, l.GetConfigFileUsed())

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "zxing", cfg.Decoder.Backend)
	assert.True(t, cfg.Decoder.TryHarder)
	assert.Equal(t, "bottom_up", cfg.Decoder.RowOrder)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Server.RateLimit.Enabled)
	assert.Equal(t, 5, cfg.Server.RateLimit.Burst)
	assert.InDelta(t, 10.0, cfg.Server.RateLimit.RequestsPerSecond, 1e-9)
	assert.Equal(t, "1-3", cfg.PDF.Pages)
	assert.Equal(t, "localhost", cfg.Server.Host)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("QRLENS_LOG_LEVEL", "warn")
	t.Setenv("QRLENS_SERVER_PORT", "7070")
	t.Setenv("QRLENS_DECODER_MIRROR", "true")
	t.Setenv("QRLENS_SCANNER_SLOW_DECODE_MS", "15")

	cfg, err := NewLoaderWith(viper.New()).Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.True(t, cfg.Decoder.Mirror)
	assert.Equal(t, 15, cfg.Scanner.SlowDecodeMS)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := NewLoaderWith(viper.New()).LoadWithFile(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("log_level: [unterminated"), 0o644))
	_, err = NewLoaderWith(viper.New()).LoadWithFile(bad)
	assert.Error(t, err)

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("server:\n  port: 0\n"), 0o644))
	_, err = NewLoaderWith(viper.New()).LoadWithFile(invalid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")

	cfg, err := NewLoaderWith(viper.New()).LoadWithFileWithoutValidation(invalid)
	require.NoError(t, err)
	assert.Zero(t, cfg.Server.Port)
}

func TestYAMLRoundTrip(t *testing.T) {
	in := DefaultConfig()
	in.Decoder.CenterCrop = true
	in.Server.WebSocket.FramesPerSecond = 12.5

	data, err := yaml.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), "center_crop: true")

	path := filepath.Join(t.TempDir(), "qrlens.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	out, err := NewLoaderWith(viper.New()).LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, in, *out)
}

func TestGetConfigSearchPaths(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	paths := GetConfigSearchPaths()
	assert.Equal(t, ".", paths[0])
	assert.Contains(t, paths, filepath.Join("/xdg", "qrlens"))
	assert.Equal(t, "/etc/qrlens", paths[len(paths)-1])
}
