package server

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/thejerf/suture/v4"

	"github.com/MeKo-Tech/qrlens/internal/pdf"
	"github.com/MeKo-Tech/qrlens/internal/pipeline"
	"github.com/MeKo-Tech/qrlens/internal/qrcode"
	"github.com/MeKo-Tech/qrlens/internal/scanner"
)

// pipelineInterface defines the methods needed by the server from a pipeline.
type pipelineInterface interface {
	ProcessImage(ctx context.Context, img image.Image) (*pipeline.ImageResult, error)
	ProcessPDFBytes(ctx context.Context, name string, data []byte, opts pdf.Options) (*pipeline.PDFResult, error)
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	pipeline    pipelineInterface
	corsOrigin  string
	maxUploadMB int64
	timeout     time.Duration
	pdfPages    string

	decoder      scanner.Decoder
	scannerOpts  scanner.Options
	maxFrame     int
	framesPerSec float64
	dedupe       bool

	rateLimiter *RateLimiter
	cache       *resultCache
	sessions    *xsync.MapOf[string, *session]
	supervisor  *suture.Supervisor
	log         *slog.Logger
}

// Config holds server configuration.
type Config struct {
	CORSOrigin  string
	MaxUploadMB int64
	TimeoutSec  int
	CacheSize   int
	PDFPages    string

	RateLimit RateLimitConfig

	// Frame streaming.
	MaxFrameBytes   int
	FramesPerSecond float64
	Dedupe          bool
	DecoderOptions  qrcode.Options
	ScannerOptions  scanner.Options

	Logger *slog.Logger
}

// RateLimitConfig configures per-client request limiting.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	Burst             int
	MaxClients        int
}

// Response types for API endpoints.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	Time     string `json:"time"`
	Sessions int    `json:"sessions"`
}

// ScanResponse wraps an image scan. Success is true whenever the image was
// scanned, even if it held no symbol.
type ScanResponse struct {
	Success bool                  `json:"success"`
	Result  *pipeline.ImageResult `json:"result,omitempty"`
	Cached  bool                  `json:"cached,omitempty"`
	Error   string                `json:"error,omitempty"`
}

// PDFScanResponse wraps a PDF scan.
type PDFScanResponse struct {
	Success bool                `json:"success"`
	Result  *pipeline.PDFResult `json:"result,omitempty"`
	Symbols int                 `json:"symbols"`
	Error   string              `json:"error,omitempty"`
}

// SessionInfo describes one open frame streaming session.
type SessionInfo struct {
	ID         string        `json:"id"`
	RemoteAddr string        `json:"remote_addr"`
	Started    time.Time     `json:"started"`
	Stats      scanner.Stats `json:"stats"`
	Delivered  uint64        `json:"delivered"`
}

// SessionsResponse lists the open sessions.
type SessionsResponse struct {
	Sessions []SessionInfo `json:"sessions"`
	Count    int           `json:"count"`
}

// NewServer creates a server scanning uploads with pl. Frame sessions
// decode with dec; a nil dec uses a native decoder built from
// config.DecoderOptions.
func NewServer(config Config, pl pipelineInterface, dec scanner.Decoder) (*Server, error) {
	if pl == nil {
		return nil, errors.New("server requires a pipeline")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if dec == nil {
		opts := config.DecoderOptions
		if opts.Logger == nil {
			opts.Logger = logger
		}
		dec = qrcode.NewDecoder(opts)
	}
	if config.MaxUploadMB <= 0 {
		config.MaxUploadMB = 50
	}

	cache, err := newResultCache(config.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("result cache: %w", err)
	}

	s := &Server{
		pipeline:     pl,
		corsOrigin:   config.CORSOrigin,
		maxUploadMB:  config.MaxUploadMB,
		timeout:      time.Duration(config.TimeoutSec) * time.Second,
		pdfPages:     config.PDFPages,
		decoder:      dec,
		scannerOpts:  config.ScannerOptions,
		maxFrame:     config.MaxFrameBytes,
		framesPerSec: config.FramesPerSecond,
		dedupe:       config.Dedupe,
		cache:        cache,
		sessions:     xsync.NewMapOf[string, *session](),
		log:          logger,
	}
	if s.scannerOpts.Logger == nil {
		s.scannerOpts.Logger = logger
	}
	s.scannerOpts.Observer = frameObserver{}

	if rl := config.RateLimit; rl.Enabled {
		s.rateLimiter, err = NewRateLimiter(rl.RequestsPerSecond, rl.Burst, rl.MaxClients)
		if err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	s.supervisor = suture.New("frame-sessions", suture.Spec{
		EventHook: func(e suture.Event) {
			logger.Debug("Session supervisor event", "event", e.String())
		},
	})
	return s, nil
}

// Supervisor returns the supervisor owning the per-session scanner workers.
// It must be served, usually under the application's root supervisor,
// before frame sessions can decode.
func (s *Server) Supervisor() *suture.Supervisor {
	return s.supervisor
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return mux
}
