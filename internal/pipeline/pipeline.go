// Package pipeline scans whole images, files and PDF documents with a
// barcode backend, sequentially or on a worker pool.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/qrlens/internal/barcode"
	"github.com/MeKo-Tech/qrlens/internal/qrerr"
	"github.com/MeKo-Tech/qrlens/internal/utils"
)

// Pipeline ties a backend to its decode options. It is safe for concurrent
// use when the backend is.
type Pipeline struct {
	Backend     barcode.Backend
	Options     barcode.Options
	Constraints utils.ImageConstraints

	log *slog.Logger
}

// New returns a pipeline. A nil logger falls back to slog.Default.
func New(backend barcode.Backend, opts barcode.Options, logger *slog.Logger) (*Pipeline, error) {
	if backend == nil {
		return nil, errors.New("pipeline requires a backend")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		Backend:     backend,
		Options:     opts,
		Constraints: utils.DefaultImageConstraints(),
		log:         logger,
	}, nil
}

// ProcessImage scans img. Expected decode failures are reported through
// ImageResult.Reason; only invalid input and cancellation return an error.
func (p *Pipeline) ProcessImage(ctx context.Context, img image.Image) (*ImageResult, error) {
	if p == nil || p.Backend == nil {
		return nil, errors.New("pipeline not initialized")
	}
	if err := utils.ValidateImageConstraints(img, p.Constraints); err != nil {
		return nil, err
	}

	start := time.Now()
	res := &ImageResult{Width: img.Bounds().Dx(), Height: img.Bounds().Dy()}

	symbols, err := p.Backend.Decode(ctx, img, p.Options)
	res.Processing.DecodeNs = time.Since(start).Nanoseconds()
	res.Processing.TotalNs = res.Processing.DecodeNs

	switch {
	case err == nil:
		res.Symbols = symbols
	case qrerr.IsExpected(err):
		res.Symbols = []barcode.Result{}
		res.Reason = qrerr.KindOf(err)
		p.log.Debug("No symbol decoded", "backend", p.Backend.Name(), "reason", res.Reason, "error", err)
	default:
		return nil, fmt.Errorf("%s backend: %w", p.Backend.Name(), err)
	}
	return res, nil
}

// ProcessFile loads and scans one image file.
func (p *Pipeline) ProcessFile(ctx context.Context, path string) (*ImageResult, error) {
	start := time.Now()
	img, _, err := utils.LoadImage(path)
	if err != nil {
		return nil, err
	}
	loadNs := time.Since(start).Nanoseconds()

	res, err := p.ProcessImage(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	res.Source = path
	res.Processing.LoadNs = loadNs
	res.Processing.TotalNs = time.Since(start).Nanoseconds()

	p.log.Debug("Scanned image", "path", path, "symbols", len(res.Symbols),
		"duration_ms", time.Duration(res.Processing.TotalNs).Milliseconds())
	return res, nil
}
