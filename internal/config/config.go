package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MeKo-Tech/qrlens/internal/barcode"
	"github.com/MeKo-Tech/qrlens/internal/bitmap"
	"github.com/MeKo-Tech/qrlens/internal/pipeline"
	"github.com/MeKo-Tech/qrlens/internal/scanner"
)

// Config represents the complete configuration for the qrlens application.
// It covers every command (image, pdf, frames, serve) and is loaded from
// configuration files, environment variables and command-line flags.
type Config struct {
	// Global settings
	LogLevel  string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format" json:"log_format"`
	Verbose   bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	Decoder DecoderConfig `mapstructure:"decoder" yaml:"decoder" json:"decoder"`
	Scanner ScannerConfig `mapstructure:"scanner" yaml:"scanner" json:"scanner"`
	Output  OutputConfig  `mapstructure:"output" yaml:"output" json:"output"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server" json:"server"`
	PDF     PDFConfig     `mapstructure:"pdf" yaml:"pdf" json:"pdf"`
	Batch   BatchConfig   `mapstructure:"batch" yaml:"batch" json:"batch"`
}

// DecoderConfig selects the decoding backend and its pre-processing.
type DecoderConfig struct {
	Backend        string  `mapstructure:"backend" yaml:"backend" json:"backend"`
	TryHarder      bool    `mapstructure:"try_harder" yaml:"try_harder" json:"try_harder"`
	RowOrder       string  `mapstructure:"row_order" yaml:"row_order" json:"row_order"`
	MinModulePitch float64 `mapstructure:"min_module_pitch" yaml:"min_module_pitch" json:"min_module_pitch"`
	MaxUpscale     int     `mapstructure:"max_upscale" yaml:"max_upscale" json:"max_upscale"`
	CenterCrop     bool    `mapstructure:"center_crop" yaml:"center_crop" json:"center_crop"`
	Mirror         bool    `mapstructure:"mirror" yaml:"mirror" json:"mirror"`
}

// ScannerConfig contains settings for the frame scanner.
type ScannerConfig struct {
	SlowDecodeMS int  `mapstructure:"slow_decode_ms" yaml:"slow_decode_ms" json:"slow_decode_ms"`
	Dedupe       bool `mapstructure:"dedupe" yaml:"dedupe" json:"dedupe"`
}

// OutputConfig contains output formatting settings.
type OutputConfig struct {
	Format string `mapstructure:"format" yaml:"format" json:"format"`
	File   string `mapstructure:"file" yaml:"file" json:"file"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string          `mapstructure:"host" yaml:"host" json:"host"`
	Port            int             `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string          `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int             `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int             `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int             `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	CacheSize       int             `mapstructure:"cache_size" yaml:"cache_size" json:"cache_size"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
	WebSocket       WebSocketConfig `mapstructure:"websocket" yaml:"websocket" json:"websocket"`
}

// RateLimitConfig contains per-client request limiting settings.
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `mapstructure:"burst" yaml:"burst" json:"burst"`
	MaxClients        int     `mapstructure:"max_clients" yaml:"max_clients" json:"max_clients"`
}

// WebSocketConfig limits frame streaming sessions.
type WebSocketConfig struct {
	MaxFrameBytes   int     `mapstructure:"max_frame_bytes" yaml:"max_frame_bytes" json:"max_frame_bytes"`
	FramesPerSecond float64 `mapstructure:"frames_per_second" yaml:"frames_per_second" json:"frames_per_second"`
}

// PDFConfig contains PDF processing settings.
type PDFConfig struct {
	Pages string `mapstructure:"pages" yaml:"pages" json:"pages"`
}

// BatchConfig controls the parallel file decoder used by `qrlens image`.
type BatchConfig struct {
	Workers         int  `mapstructure:"workers" yaml:"workers" json:"workers"`
	ContinueOnError bool `mapstructure:"continue_on_error" yaml:"continue_on_error" json:"continue_on_error"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	bo := barcode.DefaultOptions()
	return Config{
		LogLevel:  "info",
		LogFormat: "json",
		Decoder: DecoderConfig{
			Backend:        barcode.BackendNative,
			RowOrder:       bitmap.TopDown.String(),
			MinModulePitch: bo.MinModulePitch,
			MaxUpscale:     bo.MaxUpscale,
		},
		Scanner: ScannerConfig{
			SlowDecodeMS: int(scanner.DefaultOptions().SlowDecode / time.Millisecond),
			Dedupe:       true,
		},
		Output: OutputConfig{
			Format: "text",
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     50,
			TimeoutSec:      30,
			ShutdownTimeout: 10,
			CacheSize:       256,
			RateLimit: RateLimitConfig{
				Enabled:           false,
				RequestsPerSecond: 10,
				Burst:             20,
				MaxClients:        1024,
			},
			WebSocket: WebSocketConfig{
				MaxFrameBytes:   16 << 20,
				FramesPerSecond: 30,
			},
		},
		Batch: BatchConfig{
			Workers: pipeline.DefaultParallelConfig().MaxWorkers,
		},
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}
	validLogFormats := []string{"json", "text"}
	if c.LogFormat != "" && !slices.Contains(validLogFormats, c.LogFormat) {
		return fmt.Errorf("invalid log format: %s (must be one of: %s)", c.LogFormat, strings.Join(validLogFormats, ", "))
	}

	validFormats := []string{"text", "json", "csv"}
	if c.Output.Format != "" && !slices.Contains(validFormats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(validFormats, ", "))
	}

	if err := c.Decoder.validate(); err != nil {
		return err
	}
	if c.Scanner.SlowDecodeMS < 0 {
		return fmt.Errorf("invalid scanner.slow_decode_ms: %d (must not be negative)", c.Scanner.SlowDecodeMS)
	}
	if err := c.Server.validate(); err != nil {
		return err
	}
	if c.Batch.Workers <= 0 {
		return fmt.Errorf("invalid batch workers: %d (must be positive)", c.Batch.Workers)
	}
	return nil
}

func (d DecoderConfig) validate() error {
	if _, err := barcode.NewBackend(d.Backend, nil); err != nil {
		return fmt.Errorf("invalid decoder.backend: %w", err)
	}
	if _, err := bitmap.ParseRowOrder(d.RowOrder); err != nil {
		return fmt.Errorf("invalid decoder.row_order: %w", err)
	}
	if d.MinModulePitch < 0 {
		return fmt.Errorf("invalid decoder.min_module_pitch: %.2f (must not be negative)", d.MinModulePitch)
	}
	if d.MaxUpscale < 1 || d.MaxUpscale > 16 {
		return fmt.Errorf("invalid decoder.max_upscale: %d (must be between 1 and 16)", d.MaxUpscale)
	}
	return nil
}

func (s ServerConfig) validate() error {
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", s.Port)
	}
	if s.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", s.MaxUploadMB)
	}
	if s.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", s.TimeoutSec)
	}
	if s.CacheSize < 0 {
		return fmt.Errorf("invalid server.cache_size: %d (must not be negative)", s.CacheSize)
	}
	if s.RateLimit.Enabled {
		if s.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("invalid rate_limit.requests_per_second: %.2f (must be positive)", s.RateLimit.RequestsPerSecond)
		}
		if s.RateLimit.Burst <= 0 {
			return fmt.Errorf("invalid rate_limit.burst: %d (must be positive)", s.RateLimit.Burst)
		}
		if s.RateLimit.MaxClients <= 0 {
			return fmt.Errorf("invalid rate_limit.max_clients: %d (must be positive)", s.RateLimit.MaxClients)
		}
	}
	if s.WebSocket.MaxFrameBytes <= 0 {
		return fmt.Errorf("invalid websocket.max_frame_bytes: %d (must be positive)", s.WebSocket.MaxFrameBytes)
	}
	if s.WebSocket.FramesPerSecond < 0 {
		return fmt.Errorf("invalid websocket.frames_per_second: %.2f (must not be negative)", s.WebSocket.FramesPerSecond)
	}
	return nil
}

// BarcodeOptions converts the decoder section into per-call backend options.
func (c *Config) BarcodeOptions() barcode.Options {
	return barcode.Options{
		TryHarder:      c.Decoder.TryHarder,
		CenterCrop:     c.Decoder.CenterCrop,
		Mirror:         c.Decoder.Mirror,
		MinModulePitch: c.Decoder.MinModulePitch,
		MaxUpscale:     c.Decoder.MaxUpscale,
	}
}

// ScannerOptions converts the scanner section into scanner.Options. Logger
// and Observer are left for the caller.
func (c *Config) ScannerOptions() scanner.Options {
	return scanner.Options{SlowDecode: time.Duration(c.Scanner.SlowDecodeMS) * time.Millisecond}
}

// RowOrder returns the configured pixel row order, defaulting to top-down.
func (c *Config) RowOrder() bitmap.RowOrder {
	order, err := bitmap.ParseRowOrder(c.Decoder.RowOrder)
	if err != nil {
		return bitmap.TopDown
	}
	return order
}

// ToParallelConfig converts the batch section for the file decoder pool.
func (c *Config) ToParallelConfig() pipeline.ParallelConfig {
	cfg := pipeline.DefaultParallelConfig()
	cfg.MaxWorkers = c.Batch.Workers
	cfg.ContinueOnError = c.Batch.ContinueOnError
	return cfg
}
