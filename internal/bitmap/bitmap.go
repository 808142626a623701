// Package bitmap turns raw RGB frames into one-bit module masks.
package bitmap

import (
	"fmt"
	"image"

	"github.com/MeKo-Tech/qrlens/internal/qrerr"
	xdraw "golang.org/x/image/draw"
)

// RowOrder tells the binarizer which buffer row holds the top of the picture.
type RowOrder int

const (
	// TopDown buffers store the top picture row first.
	TopDown RowOrder = iota
	// BottomUp buffers store the bottom picture row first (camera textures, BMP).
	BottomUp
)

// String implements fmt.Stringer.
func (o RowOrder) String() string {
	switch o {
	case TopDown:
		return "top_down"
	case BottomUp:
		return "bottom_up"
	default:
		return fmt.Sprintf("RowOrder(%d)", int(o))
	}
}

// ParseRowOrder maps a configuration value onto a RowOrder.
func ParseRowOrder(s string) (RowOrder, error) {
	switch s {
	case "", "top_down", "topdown":
		return TopDown, nil
	case "bottom_up", "bottomup":
		return BottomUp, nil
	default:
		return TopDown, fmt.Errorf("unknown row order %q (must be top_down or bottom_up)", s)
	}
}

// PixelBuffer is a row-major frame of RGB triples. It is owned by the caller
// and never modified by the pipeline.
type PixelBuffer struct {
	Pix    []uint8
	Width  int
	Height int
	Order  RowOrder
}

// Validate checks the buffer dimensions against its pixel slice.
func (b PixelBuffer) Validate() error {
	if b.Pix == nil {
		return qrerr.New(qrerr.ErrInvalidInput, "binarize", "nil pixel buffer")
	}
	if b.Width <= 0 || b.Height <= 0 {
		return qrerr.New(qrerr.ErrInvalidInput, "binarize", "invalid dimensions %dx%d", b.Width, b.Height)
	}
	if want := b.Width * b.Height * 3; len(b.Pix) < want {
		return qrerr.New(qrerr.ErrInvalidInput, "binarize", "pixel buffer holds %d bytes, need %d", len(b.Pix), want)
	}
	return nil
}

// FromImage copies img into a PixelBuffer with the requested row order.
func FromImage(img image.Image, order RowOrder) PixelBuffer {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Rect.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		xdraw.Copy(rgba, image.Point{}, img, b, xdraw.Src, nil)
	}

	w, h := b.Dx(), b.Dy()
	pix := make([]uint8, w*h*3)
	for y := 0; y < h; y++ {
		srcRow := rgba.Pix[y*rgba.Stride : y*rgba.Stride+w*4]
		dstY := y
		if order == BottomUp {
			dstY = h - 1 - y
		}
		dst := pix[dstY*w*3 : (dstY+1)*w*3]
		for x := 0; x < w; x++ {
			dst[x*3] = srcRow[x*4]
			dst[x*3+1] = srcRow[x*4+1]
			dst[x*3+2] = srcRow[x*4+2]
		}
	}
	return PixelBuffer{Pix: pix, Width: w, Height: h, Order: order}
}

// BinaryBitmap is a width x height grid of dark (true) and light modules.
// Row 0 is always the visual top of the picture.
type BinaryBitmap struct {
	Width  int
	Height int

	// Threshold, Min and Max are the luminance statistics used to build the bitmap.
	Threshold int
	Min       int
	Max       int

	bits []bool
}

// NewBinaryBitmap wraps an existing dark-module slice laid out row-major.
func NewBinaryBitmap(width, height int, bits []bool) (*BinaryBitmap, error) {
	if width <= 0 || height <= 0 || len(bits) != width*height {
		return nil, qrerr.New(qrerr.ErrInvalidInput, "bitmap", "bits length %d does not match %dx%d", len(bits), width, height)
	}
	return &BinaryBitmap{Width: width, Height: height, bits: bits}, nil
}

// Get reports whether (x, y) is dark. Out-of-range points are light.
func (bm *BinaryBitmap) Get(x, y int) bool {
	if x < 0 || y < 0 || x >= bm.Width || y >= bm.Height {
		return false
	}
	return bm.bits[y*bm.Width+x]
}

// Row returns a read-only view of row y.
func (bm *BinaryBitmap) Row(y int) []bool {
	return bm.bits[y*bm.Width : (y+1)*bm.Width]
}
