package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/qrlens/internal/barcode"
	"github.com/MeKo-Tech/qrlens/internal/config"
	"github.com/MeKo-Tech/qrlens/internal/pipeline"
	"github.com/MeKo-Tech/qrlens/internal/qrcode"
	"github.com/MeKo-Tech/qrlens/internal/version"
)

// app is the state shared by the subcommands of one root command. Every
// root gets its own viper instance so repeated in-process executions do not
// leak flag values into each other.
type app struct {
	cfgFile string
	loader  *config.Loader
	cfg     *config.Config
	log     *slog.Logger
}

// NewRootCommand builds the qrlens command tree.
func NewRootCommand() *cobra.Command {
	a := &app{loader: config.NewLoaderWith(viper.New())}

	rootCmd := &cobra.Command{
		Use:   "qrlens",
		Short: "Locate and decode QR codes in images, PDFs and camera frames",
		Long: `qrlens finds QR symbols in raster images and decodes their content.

It provides:
- Batch decoding of image files with text, JSON or CSV output
- Decoding of images embedded in PDF documents
- A frame scanner that consumes an image sequence the way a camera feed would
- An HTTP and WebSocket server with Prometheus metrics

Examples:
  qrlens image ticket.png
  qrlens image scans/ --format csv --output codes.csv
  qrlens pdf invoice.pdf --pages 1-2
  qrlens frames recording/ --fps 15
  qrlens serve --port 8080`,
		Version:      version.String(),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd, true)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	rootCmd.SetVersionTemplate("{{.Version}}\n")

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "",
		"config file (default is search in ., $HOME, $HOME/.config/qrlens, /etc/qrlens)")
	pf.BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "json", "log format (json, text)")
	pf.String("backend", barcode.BackendNative, "decoder backend (native, zxing)")
	pf.Bool("try-harder", false, "scan every row for finder patterns (slower)")
	pf.Bool("center-crop", false, "decode only the largest centred square")
	pf.Bool("mirror", false, "flip images horizontally before decoding")

	rootCmd.AddCommand(
		newImageCommand(a),
		newPDFCommand(a),
		newFramesCommand(a),
		newServeCommand(a),
		newConfigCommand(a),
		newVersionCommand(),
	)
	return rootCmd
}

// Execute runs the root command with a context cancelled on SIGINT or
// SIGTERM. It is called by main.main.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// init resolves the configuration and installs the logger.
func (a *app) init(cmd *cobra.Command, validate bool) error {
	v := a.loader.GetViper()
	flags := cmd.Root().PersistentFlags()
	bindings := []struct {
		key  string
		flag string
	}{
		{"verbose", "verbose"},
		{"log_level", "log-level"},
		{"log_format", "log-format"},
		{"decoder.backend", "backend"},
		{"decoder.try_harder", "try-harder"},
		{"decoder.center_crop", "center-crop"},
		{"decoder.mirror", "mirror"},
	}
	for _, b := range bindings {
		if err := v.BindPFlag(b.key, flags.Lookup(b.flag)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", b.flag, err)
		}
	}

	var err error
	if validate {
		a.cfg, err = a.loader.LoadWithFile(a.cfgFile)
	} else {
		a.cfg, err = a.loader.LoadWithFileWithoutValidation(a.cfgFile)
	}
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}

	a.log = newLogger(cmd.ErrOrStderr(), a.cfg)
	slog.SetDefault(a.log)
	return nil
}

// newLogger writes structured logs to w so that stdout stays reserved for
// results.
func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	var level slog.Level
	if cfg.Verbose {
		level = slog.LevelDebug
	} else {
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// newPipeline builds the file/PDF pipeline for the configured backend.
func (a *app) newPipeline() (*pipeline.Pipeline, error) {
	backend, err := barcode.NewBackend(a.cfg.Decoder.Backend, a.log)
	if err != nil {
		return nil, err
	}
	pl, err := pipeline.New(backend, a.cfg.BarcodeOptions(), a.log)
	if err != nil {
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}
	return pl, nil
}

// decoderOptions configures the frame decoder used by the scanner.
func (a *app) decoderOptions() qrcode.Options {
	opts := qrcode.DefaultOptions()
	opts.TryHarder = a.cfg.Decoder.TryHarder
	opts.Logger = a.log
	return opts
}

// writeOutput sends out to file, or to the command's stdout when file is
// empty.
func writeOutput(cmd *cobra.Command, out, file string) error {
	if file != "" {
		if err := os.WriteFile(file, []byte(out+"\n"), 0o600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		_, err := fmt.Fprintf(cmd.ErrOrStderr(), "Results written to %s\n", file)
		return err
	}
	if out == "" {
		return nil
	}
	if _, err := fmt.Fprintln(cmd.OutOrStdout(), out); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func validateFormat(format string, allowed ...string) error {
	for _, f := range allowed {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid output format: %s (must be one of: %s)", format, strings.Join(allowed, ", "))
}
