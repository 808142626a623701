package cmd

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/thejerf/suture/v4"

	"github.com/MeKo-Tech/qrlens/internal/server"
)

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and WebSocket decode server",
		Long: `Start an HTTP server that decodes QR codes in uploads and streamed frames.

The server provides the following endpoints:
  GET  /health       - Health check
  POST /scan/image   - Decode an uploaded image (multipart field "image")
  POST /scan/pdf     - Decode the images of an uploaded PDF (multipart field "pdf")
  GET  /ws/frames    - WebSocket frame streaming with pushed results
  GET  /ws/sessions  - List open frame sessions
  GET  /metrics      - Prometheus metrics

Examples:
  qrlens serve
  qrlens serve --port 8080
  qrlens serve --host 0.0.0.0 --port 3000 --rate-limit-enabled`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runServe(cmd)
		},
	}

	cmd.Flags().StringP("host", "H", "localhost", "server host")
	cmd.Flags().IntP("port", "p", 8080, "server port")
	cmd.Flags().String("cors-origin", "*", "CORS allowed origin")
	cmd.Flags().Int("max-upload-size", 50, "maximum upload size in MB")
	cmd.Flags().Int("timeout", 30, "request timeout in seconds")
	cmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	cmd.Flags().Int("cache-size", 256, "number of upload results to cache (0 disables)")
	cmd.Flags().String("pdf-pages", "", "default page range for PDF uploads")
	cmd.Flags().Bool("rate-limit-enabled", false, "enable per-client rate limiting")
	cmd.Flags().Float64("requests-per-second", 10, "sustained requests per second per client")
	cmd.Flags().Int("burst", 20, "request burst per client")
	cmd.Flags().Float64("frames-per-second", 30, "maximum frames per second per WebSocket session (0 = unlimited)")
	return cmd
}

func (a *app) runServe(cmd *cobra.Command) error {
	cfg := a.cfg.Server
	flags := cmd.Flags()

	if flags.Changed("host") {
		cfg.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("cors-origin") {
		cfg.CORSOrigin, _ = flags.GetString("cors-origin")
	}
	if flags.Changed("max-upload-size") {
		cfg.MaxUploadMB, _ = flags.GetInt("max-upload-size")
	}
	if flags.Changed("timeout") {
		cfg.TimeoutSec, _ = flags.GetInt("timeout")
	}
	if flags.Changed("shutdown-timeout") {
		cfg.ShutdownTimeout, _ = flags.GetInt("shutdown-timeout")
	}
	if flags.Changed("cache-size") {
		cfg.CacheSize, _ = flags.GetInt("cache-size")
	}
	if flags.Changed("rate-limit-enabled") {
		cfg.RateLimit.Enabled, _ = flags.GetBool("rate-limit-enabled")
	}
	if flags.Changed("requests-per-second") {
		cfg.RateLimit.RequestsPerSecond, _ = flags.GetFloat64("requests-per-second")
	}
	if flags.Changed("burst") {
		cfg.RateLimit.Burst, _ = flags.GetInt("burst")
	}
	if flags.Changed("frames-per-second") {
		cfg.WebSocket.FramesPerSecond, _ = flags.GetFloat64("frames-per-second")
	}
	pdfPages := a.cfg.PDF.Pages
	if flags.Changed("pdf-pages") {
		pdfPages, _ = flags.GetString("pdf-pages")
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", cfg.Port)
	}

	pl, err := a.newPipeline()
	if err != nil {
		return err
	}
	srv, err := server.NewServer(server.Config{
		CORSOrigin:  cfg.CORSOrigin,
		MaxUploadMB: int64(cfg.MaxUploadMB),
		TimeoutSec:  cfg.TimeoutSec,
		CacheSize:   cfg.CacheSize,
		PDFPages:    pdfPages,
		RateLimit: server.RateLimitConfig{
			Enabled:           cfg.RateLimit.Enabled,
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
			MaxClients:        cfg.RateLimit.MaxClients,
		},
		MaxFrameBytes:   cfg.WebSocket.MaxFrameBytes,
		FramesPerSecond: cfg.WebSocket.FramesPerSecond,
		Dedupe:          a.cfg.Scanner.Dedupe,
		DecoderOptions:  a.decoderOptions(),
		ScannerOptions:  a.cfg.ScannerOptions(),
		Logger:          a.log,
	}, pl, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	httpSvc := server.NewHTTPService(addr, srv, time.Duration(cfg.ShutdownTimeout)*time.Second)
	httpSvc.ReadTimeout = time.Duration(cfg.TimeoutSec) * time.Second

	root := suture.New("qrlens", suture.Spec{
		EventHook: func(e suture.Event) {
			a.log.Warn("Supervisor event", "event", e.String())
		},
	})
	root.Add(srv.Supervisor())
	root.Add(httpSvc)

	ctx := cmd.Context()
	a.log.Info("Starting qrlens server", "addr", addr, "backend", pl.Backend.Name(),
		"rate_limit", cfg.RateLimit.Enabled, "cache_size", cfg.CacheSize)

	err = root.Serve(ctx)
	switch {
	case errors.Is(err, suture.ErrTerminateSupervisorTree):
		if herr := httpSvc.Err(); herr != nil {
			return herr
		}
		return err
	case ctx.Err() != nil:
		a.log.Info("Graceful shutdown completed")
		return nil
	default:
		return err
	}
}
