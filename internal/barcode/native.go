package barcode

import (
	"context"
	"image"
	"log/slog"
	"math"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/qrlens/internal/bitmap"
	"github.com/MeKo-Tech/qrlens/internal/qrcode"
	"github.com/MeKo-Tech/qrlens/internal/qrerr"
)

// Native decodes QR symbols with this module's own pipeline.
type Native struct {
	normal    *qrcode.Decoder
	tryHarder *qrcode.Decoder
	log       *slog.Logger
}

// NewNative returns the native backend. A nil logger means slog.Default().
func NewNative(logger *slog.Logger) *Native {
	if logger == nil {
		logger = slog.Default()
	}
	opts := qrcode.DefaultOptions()
	opts.Logger = logger
	hard := opts
	hard.TryHarder = true
	return &Native{
		normal:    qrcode.NewDecoder(opts),
		tryHarder: qrcode.NewDecoder(hard),
		log:       logger,
	}
}

// Name implements Backend.
func (n *Native) Name() string { return BackendNative }

// Decode implements Backend. When the first pass fails and the finders it
// saw are finer than opts.MinModulePitch, the image is upscaled so that the
// pitch reaches the minimum and decoded once more.
func (n *Native) Decode(ctx context.Context, img image.Image, opts Options) ([]Result, error) {
	if img == nil {
		return nil, qrerr.New(qrerr.ErrInvalidInput, "barcode", "nil image")
	}
	p := prepare(img, opts)
	dec := n.normal
	if opts.TryHarder {
		dec = n.tryHarder
	}

	res, diag, err := n.decodeImage(ctx, dec, p.img)
	scale := 1.0
	if err != nil && qrerr.IsExpected(err) {
		if factor := upscaleFactor(diag.MinModuleSize(), opts); factor > 1 {
			b := p.img.Bounds()
			n.log.Debug("Retrying decode upscaled", "pitch", diag.MinModuleSize(), "factor", factor)
			up := imaging.Resize(p.img, b.Dx()*factor, b.Dy()*factor, imaging.Lanczos)
			scale = float64(factor)
			res, _, err = n.decodeImage(ctx, dec, up)
		}
	}
	if err != nil {
		return nil, err
	}
	return []Result{n.toResult(res, p, scale)}, nil
}

// DecodeBitmap runs the pipeline on an already binarized frame.
func (n *Native) DecodeBitmap(ctx context.Context, bm *bitmap.BinaryBitmap, tryHarder bool) (*qrcode.Result, error) {
	dec := n.normal
	if tryHarder {
		dec = n.tryHarder
	}
	return dec.Decode(ctx, bm)
}

func (n *Native) decodeImage(ctx context.Context, dec *qrcode.Decoder, img image.Image) (*qrcode.Result, qrcode.Diagnostics, error) {
	bm, err := bitmap.Binarize(bitmap.FromImage(img, bitmap.TopDown))
	if err != nil {
		return nil, qrcode.Diagnostics{}, err
	}
	return dec.DecodeWithDiagnostics(ctx, bm)
}

// upscaleFactor returns ceil(min/pitch) capped at MaxUpscale, or 1 when no
// retry is warranted.
func upscaleFactor(pitch float64, opts Options) int {
	if pitch <= 0 || opts.MinModulePitch <= 0 || pitch >= opts.MinModulePitch {
		return 1
	}
	f := int(math.Ceil(opts.MinModulePitch / pitch))
	if opts.MaxUpscale > 0 {
		f = min(f, opts.MaxUpscale)
	}
	return max(f, 1)
}

func (n *Native) toResult(r *qrcode.Result, p prepared, scale float64) Result {
	pts := make([]Point, 0, len(r.Corners))
	for _, c := range r.Corners {
		pts = append(pts, p.toSource(c.X, c.Y, scale))
	}
	return Result{
		Format:          FormatQR,
		Text:            r.Text,
		Bytes:           r.Bytes,
		Points:          pts,
		BBox:            rectFromPoints(pts),
		Version:         r.Version,
		ECLevel:         r.ECLevel.String(),
		CorrectedErrors: r.CorrectedErrors,
		Backend:         BackendNative,
	}
}
