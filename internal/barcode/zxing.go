package barcode

import (
	"context"
	"image"

	"github.com/makiuchi-d/gozxing"
	zxingqr "github.com/makiuchi-d/gozxing/qrcode"

	"github.com/MeKo-Tech/qrlens/internal/qrerr"
)

// ZXing decodes with the gozxing port of ZXing. It serves as a reference
// when comparing against the native pipeline.
type ZXing struct{}

// NewZXing returns the gozxing backend.
func NewZXing() *ZXing { return &ZXing{} }

// Name implements Backend.
func (z *ZXing) Name() string { return BackendZXing }

// Decode implements Backend.
func (z *ZXing) Decode(ctx context.Context, img image.Image, opts Options) ([]Result, error) {
	if img == nil {
		return nil, qrerr.New(qrerr.ErrInvalidInput, "zxing", "nil image")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := prepare(img, opts)

	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_POSSIBLE_FORMATS: []gozxing.BarcodeFormat{gozxing.BarcodeFormat_QR_CODE},
	}
	if opts.TryHarder {
		hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}

	source := gozxing.NewLuminanceSourceFromImage(p.img)
	bmp, err := gozxing.NewBinaryBitmap(gozxing.NewHybridBinarizer(source))
	if err != nil {
		return nil, qrerr.Wrap(qrerr.ErrInvalidInput, "zxing", err)
	}

	r, err := zxingqr.NewQRCodeReader().Decode(bmp, hints)
	if err != nil {
		return nil, zxingError(err)
	}

	var pts []Point
	for _, rp := range r.GetResultPoints() {
		pts = append(pts, p.toSource(rp.GetX(), rp.GetY(), 1))
	}
	level, _ := r.GetResultMetadata()[gozxing.ResultMetadataType_ERROR_CORRECTION_LEVEL].(string)

	return []Result{{
		Format:  FormatQR,
		Text:    r.GetText(),
		Bytes:   r.GetRawBytes(),
		Points:  pts,
		BBox:    rectFromPoints(pts),
		ECLevel: level,
		Backend: BackendZXing,
	}}, nil
}

// zxingError maps gozxing exceptions onto the decode failure kinds.
func zxingError(err error) error {
	switch err.(type) {
	case gozxing.NotFoundException:
		return qrerr.Wrap(qrerr.ErrGeometryInvalid, "zxing", err)
	case gozxing.ChecksumException:
		return qrerr.Wrap(qrerr.ErrUncorrectableBlock, "zxing", err)
	case gozxing.FormatException:
		return qrerr.Wrap(qrerr.ErrFormatUnrecoverable, "zxing", err)
	default:
		return qrerr.Wrap(qrerr.ErrMalformedDataStream, "zxing", err)
	}
}
