package barcode

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// prepared is an image after the optional crop and mirror, plus the mapping
// of its coordinates back onto the caller's image.
type prepared struct {
	img      image.Image
	offset   image.Point
	mirrored bool
	width    int
}

func prepare(img image.Image, opts Options) prepared {
	b := img.Bounds()
	p := prepared{img: img, offset: b.Min, width: b.Dx()}
	if opts.CenterCrop && b.Dx() != b.Dy() {
		side := min(b.Dx(), b.Dy())
		p.img = imaging.CropCenter(img, side, side)
		p.offset = image.Pt(b.Min.X+(b.Dx()-side)/2, b.Min.Y+(b.Dy()-side)/2)
		p.width = side
	}
	if opts.Mirror {
		p.img = imaging.FlipH(p.img)
		p.mirrored = true
	}
	return p
}

// toSource maps a point of the prepared image, optionally scaled by scale,
// back onto the original image.
func (p prepared) toSource(x, y, scale float64) Point {
	x, y = x/scale, y/scale
	if p.mirrored {
		x = float64(p.width) - x
	}
	return Point{
		X: p.offset.X + int(math.Round(x)),
		Y: p.offset.Y + int(math.Round(y)),
	}
}
