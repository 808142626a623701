package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/qrlens/internal/pipeline"
	"github.com/MeKo-Tech/qrlens/internal/utils"
)

func newImageCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "image <file|dir>...",
		Short: "Decode QR codes in image files",
		Long: `Decode the QR symbols in one or more image files. Directories are expanded
to the supported images they contain. An image without a symbol is not an
error; it simply produces no output line.

Supported formats: JPEG, PNG, GIF, BMP, TIFF, WebP

Examples:
  qrlens image ticket.png
  qrlens image scans/ --format json
  qrlens image *.png --format csv --output codes.csv --workers 4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runImage(cmd, args)
		},
	}

	cmd.Flags().StringP("format", "f", "text", "output format (text, json, csv)")
	cmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	cmd.Flags().String("overlay-dir", "", "directory to write overlay images with symbol outlines")
	cmd.Flags().IntP("workers", "w", 0, "parallel workers (default: batch.workers)")
	cmd.Flags().Bool("continue-on-error", false, "keep going when a file cannot be read")
	cmd.Flags().Bool("progress", false, "print a progress bar to stderr")
	return cmd
}

func (a *app) runImage(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return errors.New("no input files provided")
	}

	format := a.cfg.Output.Format
	if cmd.Flags().Changed("format") {
		format, _ = cmd.Flags().GetString("format")
	}
	outputFile := a.cfg.Output.File
	if cmd.Flags().Changed("output") {
		outputFile, _ = cmd.Flags().GetString("output")
	}
	if err := validateFormat(format, pipeline.FormatText, pipeline.FormatJSON, pipeline.FormatCSV); err != nil {
		return err
	}

	pc := a.cfg.ToParallelConfig()
	if cmd.Flags().Changed("workers") {
		pc.MaxWorkers, _ = cmd.Flags().GetInt("workers")
	}
	if cmd.Flags().Changed("continue-on-error") {
		pc.ContinueOnError, _ = cmd.Flags().GetBool("continue-on-error")
	}
	if pc.MaxWorkers <= 0 {
		return fmt.Errorf("invalid worker count: %d (must be positive)", pc.MaxWorkers)
	}
	if progress, _ := cmd.Flags().GetBool("progress"); progress {
		pc.ProgressCallback = pipeline.NewConsoleProgressCallback(cmd.ErrOrStderr(), "Scanning")
	} else {
		pc.ProgressCallback = pipeline.NewLogProgressCallback(a.log, slog.LevelDebug)
	}
	pc.ErrorHandler = func(_ int, path string, err error) {
		a.log.Warn("Skipping file", "path", path, "error", err)
	}

	paths, err := utils.ExpandImagePaths(args)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return errors.New("no supported images found")
	}
	for _, p := range paths {
		if !utils.IsSupportedImage(p) {
			return fmt.Errorf("unsupported image format: %s", p)
		}
	}

	pl, err := a.newPipeline()
	if err != nil {
		return err
	}

	start := time.Now()
	results, err := pl.ProcessFilesParallel(cmd.Context(), paths, pc)
	if err != nil && !pc.ContinueOnError {
		return err
	}
	stats := pipeline.CalculateParallelStats(results, time.Since(start), pc.MaxWorkers)
	a.log.Debug("Batch finished",
		"images", stats.TotalImages, "with_symbols", stats.WithSymbols, "failed", stats.FailedImages,
		"workers", stats.WorkerCount, "duration_ms", stats.TotalDuration.Milliseconds())

	if dir, _ := cmd.Flags().GetString("overlay-dir"); dir != "" {
		if err := writeOverlays(cmd, dir, results); err != nil {
			return err
		}
	}

	out, err := pipeline.Format(results, format)
	if err != nil {
		return err
	}
	return writeOutput(cmd, out, outputFile)
}

// writeOverlays saves a copy of every image with decoded symbols, outlined.
func writeOverlays(cmd *cobra.Command, dir string, results []*pipeline.ImageResult) error {
	for _, res := range results {
		if !res.Found() {
			continue
		}
		img, _, err := utils.LoadImage(res.Source)
		if err != nil {
			return err
		}
		ov := pipeline.RenderOverlay(img, res)
		if ov == nil {
			continue
		}
		base := filepath.Base(res.Source)
		outPath := filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base))+"_overlay.png")
		if err := utils.SavePNG(outPath, ov); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(cmd.ErrOrStderr(), "Saved overlay: %s\n", outPath); err != nil {
			return err
		}
	}
	return nil
}
