// Package qrcode runs the full recognition pipeline over a binary bitmap:
// finder location, corner building, grid sampling, format recovery,
// unmasking, Reed-Solomon correction and data stream decoding.
package qrcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/qrlens/internal/bitmap"
	"github.com/MeKo-Tech/qrlens/internal/bitstream"
	"github.com/MeKo-Tech/qrlens/internal/codeword"
	"github.com/MeKo-Tech/qrlens/internal/corner"
	"github.com/MeKo-Tech/qrlens/internal/finder"
	"github.com/MeKo-Tech/qrlens/internal/mask"
	"github.com/MeKo-Tech/qrlens/internal/qrerr"
	"github.com/MeKo-Tech/qrlens/internal/reedsolomon"
	"github.com/MeKo-Tech/qrlens/internal/sampler"
	"github.com/MeKo-Tech/qrlens/internal/symbol"
)

// Stage names used for timings and logs.
const (
	StageFinder    = "finder"
	StageSample    = "sample"
	StageFormat    = "format"
	StageCodewords = "codewords"
	StageRS        = "rs"
	StageBitstream = "bitstream"
)

// Options configures a Decoder.
type Options struct {
	// TryHarder scans every row for finder patterns.
	TryHarder bool

	// MaxCorners caps the number of ranked finder triples tried per frame.
	MaxCorners int

	Logger *slog.Logger
}

// DefaultOptions returns the options used by the CLI and server.
func DefaultOptions() Options {
	return Options{MaxCorners: 6}
}

// Decoder decodes at most one symbol per bitmap. It holds no per-frame
// state and is safe for concurrent use.
type Decoder struct {
	opts Options
	rs   *reedsolomon.Decoder
	log  *slog.Logger
}

// NewDecoder returns a decoder with opts.
func NewDecoder(opts Options) *Decoder {
	if opts.MaxCorners <= 0 {
		opts.MaxCorners = DefaultOptions().MaxCorners
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Decoder{
		opts: opts,
		rs:   reedsolomon.NewDecoder(reedsolomon.QRField),
		log:  log,
	}
}

// Decode returns the first symbol that decodes from bm.
func (d *Decoder) Decode(ctx context.Context, bm *bitmap.BinaryBitmap) (*Result, error) {
	res, _, err := d.DecodeWithDiagnostics(ctx, bm)
	return res, err
}

// DecodeWithDiagnostics is Decode plus what the pipeline saw on the way.
// Corners are tried in ranked order and, for each, the estimated version
// and its neighbours. The error returned on failure is the one that got
// furthest down the pipeline.
func (d *Decoder) DecodeWithDiagnostics(ctx context.Context, bm *bitmap.BinaryBitmap) (*Result, Diagnostics, error) {
	var diag Diagnostics
	if bm == nil {
		return nil, diag, qrerr.New(qrerr.ErrInvalidInput, "qrcode", "nil bitmap")
	}

	stop := diag.Timings.Start(StageFinder)
	diag.Finders = finder.Locate(bm, finder.Options{TryHarder: d.opts.TryHarder})
	corners := corner.Candidates(diag.Finders)
	stop()

	if len(corners) > d.opts.MaxCorners {
		corners = corners[:d.opts.MaxCorners]
	}
	diag.Corners = len(corners)
	if len(corners) == 0 {
		return nil, diag, qrerr.New(qrerr.ErrGeometryInvalid, "qrcode", "%d finder patterns form no corner", len(diag.Finders))
	}

	var best error
	for _, c := range corners {
		if err := ctx.Err(); err != nil {
			return nil, diag, err
		}
		estimate, err := c.InitialVersionNumber()
		if err != nil {
			best = furthest(best, err)
			continue
		}
		for _, n := range versionCandidates(estimate) {
			diag.Attempts++
			res, err := d.decodeAt(bm, c, n, &diag.Timings)
			if err == nil {
				res.Timings = diag.Timings
				d.log.Debug("Symbol decoded",
					append([]any{"version", res.Version, "ec_level", res.ECLevel.String(),
						"corrected", res.CorrectedErrors, "attempts", diag.Attempts},
						diag.Timings.LogAttrs()...)...)
				return res, diag, nil
			}
			d.log.Debug("Decode attempt failed", "version", n, "kind", qrerr.KindOf(err), "error", err)
			best = furthest(best, err)
		}
	}
	return nil, diag, best
}

// versionCandidates lists the estimate first, then its neighbours.
func versionCandidates(estimate int) []int {
	out := []int{estimate}
	for _, n := range []int{estimate + 1, estimate - 1} {
		if n >= 1 && n <= 40 {
			out = append(out, n)
		}
	}
	return out
}

// stageRank orders failure kinds by how far the attempt progressed.
var stageRank = []error{
	qrerr.ErrGeometryInvalid,
	qrerr.ErrFormatUnrecoverable,
	qrerr.ErrGridMismatch,
	qrerr.ErrUncorrectableBlock,
	qrerr.ErrMalformedDataStream,
}

func rank(err error) int {
	for i, kind := range stageRank {
		if errors.Is(err, kind) {
			return i
		}
	}
	return -1
}

func furthest(current, next error) error {
	if current == nil || rank(next) > rank(current) {
		return next
	}
	return current
}

// decodeAt samples c as version n and runs the rest of the pipeline.
func (d *Decoder) decodeAt(bm *bitmap.BinaryBitmap, c corner.Corner, n int, timings stageTimer) (*Result, error) {
	v, err := symbol.VersionForNumber(n)
	if err != nil {
		return nil, qrerr.Wrap(qrerr.ErrGeometryInvalid, "qrcode", err)
	}

	stop := timings.Start(StageSample)
	m, err := sampler.NewMapping(bm, c, v)
	var g *symbol.Grid
	if err == nil {
		g, err = m.Sample(bm, v)
	}
	stop()
	if err != nil {
		return nil, err
	}

	res, err := d.decodeGrid(g, timings)
	if err != nil {
		return nil, err
	}
	res.Corners = [4]sampler.Point{
		{X: c.TopLeft.Col, Y: c.TopLeft.Row},
		{X: c.TopRight.Col, Y: c.TopRight.Row},
		{X: c.BottomLeft.Col, Y: c.BottomLeft.Row},
		m.BottomRight,
	}
	res.AlignmentFound = m.AlignmentFound
	return res, nil
}

// DecodeGrid decodes an already sampled module grid. The grid is unmasked
// in place.
func (d *Decoder) DecodeGrid(g *symbol.Grid) (*Result, error) {
	return d.decodeGrid(g, stageSink{})
}

type stageTimer interface {
	Start(name string) func()
}

type stageSink struct{}

func (stageSink) Start(string) func() { return func() {} }

func (d *Decoder) decodeGrid(g *symbol.Grid, timings stageTimer) (*Result, error) {
	if g == nil {
		return nil, qrerr.New(qrerr.ErrInvalidInput, "qrcode", "nil grid")
	}

	stop := timings.Start(StageFormat)
	v, err := symbol.ReadVersion(g)
	var info symbol.FormatInfo
	if err == nil {
		info, err = symbol.ReadFormat(g)
	}
	stop()
	if err != nil {
		return nil, err
	}

	stop = timings.Start(StageCodewords)
	err = mask.Apply(g, info.Mask)
	var blocks []codeword.ECBlock
	if err == nil {
		var raw []byte
		raw, err = codeword.Read(g)
		if err == nil {
			blocks, err = codeword.Split(raw, v, info.Level)
		}
	}
	stop()
	if err != nil {
		return nil, err
	}

	stop = timings.Start(StageRS)
	corrected, err := d.correct(blocks)
	stop()
	if err != nil {
		return nil, err
	}
	data := codeword.Join(blocks)

	stop = timings.Start(StageBitstream)
	segs, err := bitstream.Decode(data, v.Number)
	stop()
	if err != nil {
		return nil, err
	}

	return &Result{
		Text:             segs.Text,
		Bytes:            data,
		Version:          v.Number,
		ECLevel:          info.Level,
		Mask:             info.Mask,
		ECI:              segs.ECI,
		FNC1:             segs.FNC1,
		CorrectedErrors:  corrected,
		Segments:         segs.Segments,
		StructuredAppend: segs.StructuredAppend,
		DecodedAt:        time.Now(),
	}, nil
}

// correct runs Reed-Solomon over every block and writes the corrected data
// codewords back.
func (d *Decoder) correct(blocks []codeword.ECBlock) (int, error) {
	total := 0
	for i := range blocks {
		cw := blocks[i].Codewords()
		n, err := d.rs.Decode(cw, len(blocks[i].EC))
		if err != nil {
			return 0, fmt.Errorf("block %d of %d: %w", i+1, len(blocks), err)
		}
		for j := range blocks[i].Data {
			blocks[i].Data[j] = byte(cw[j])
		}
		total += n
	}
	return total, nil
}
