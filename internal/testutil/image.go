package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/MeKo-Tech/qrlens/internal/bitmap"
	"github.com/MeKo-Tech/qrlens/internal/sampler"
)

// TextImage draws text centred on a white canvas. It contains no finder-like
// structure and is the usual negative fixture.
func TextImage(text string, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	face := basicfont.Face7x13
	drawer := &font.Drawer{Dst: img, Src: &image.Uniform{C: color.Black}, Face: face}
	textWidth := font.MeasureString(face, text).Ceil()
	textHeight := face.Metrics().Height.Ceil()
	drawer.Dot = fixed.P((width-textWidth)/2, (height+textHeight)/2)
	drawer.DrawString(text)
	return img
}

// Rotate turns img counter-clockwise by deg degrees onto a white background.
func Rotate(img image.Image, deg float64) *image.NRGBA {
	return imaging.Rotate(img, deg, color.White)
}

// AddNoise adds uniform per-channel sensor noise in [-amplitude, amplitude],
// drawn from a seeded generator so fixtures are reproducible.
func AddNoise(img image.Image, amplitude uint8, seed uint64) *image.NRGBA {
	out := imaging.Clone(img)
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	span := 2*int(amplitude) + 1
	jitter := func(v uint8) uint8 {
		n := int(v) + rng.IntN(span) - int(amplitude)
		return uint8(min(255, max(0, n))) //nolint:gosec // clamped to 0..255
	}
	b := out.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := out.NRGBAAt(x, y)
			out.SetNRGBA(x, y, color.NRGBA{R: jitter(c.R), G: jitter(c.G), B: jitter(c.B), A: c.A})
		}
	}
	return out
}

// Warp maps the whole of img onto the quadrilateral quad (top-left,
// top-right, bottom-right, bottom-left) of a white width x height canvas.
func Warp(img image.Image, quad [4]sampler.Point, width, height int) *image.NRGBA {
	src := imaging.Clone(img)
	sb := src.Bounds()
	w, h := float64(sb.Dx()), float64(sb.Dy())

	// Map canvas points back into the source.
	back, ok := sampler.QuadToQuad(quad, [4]sampler.Point{{X: 0, Y: 0}, {X: w, Y: 0}, {X: w, Y: h}, {X: 0, Y: h}})
	out := imaging.New(width, height, color.White)
	if !ok {
		return out
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			sx, sy := back.Apply(float64(x)+0.5, float64(y)+0.5)
			if sx < 0 || sy < 0 || sx >= w || sy >= h {
				continue
			}
			out.SetNRGBA(x, y, src.NRGBAAt(int(sx), int(sy)))
		}
	}
	return out
}

// Pad surrounds img with margin white pixels on every side.
func Pad(img image.Image, margin int) *image.NRGBA {
	b := img.Bounds()
	out := imaging.New(b.Dx()+2*margin, b.Dy()+2*margin, color.White)
	return imaging.Paste(out, img, image.Pt(margin, margin))
}

// Binarize converts img into a top-down binary bitmap.
func Binarize(t testing.TB, img image.Image) *bitmap.BinaryBitmap {
	t.Helper()
	bm, err := bitmap.Binarize(bitmap.FromImage(img, bitmap.TopDown))
	require.NoError(t, err)
	return bm
}

// SaveImage writes img as a PNG file, creating parent directories.
func SaveImage(t testing.TB, img image.Image, path string) {
	t.Helper()

	require.NoError(t, EnsureDir(filepath.Dir(path)))
	file, err := os.Create(path) //nolint:gosec // G304: Test file creation with controlled path
	require.NoError(t, err, "Failed to create file %s", path)
	defer func() {
		require.NoError(t, file.Close())
	}()

	require.NoError(t, png.Encode(file, img), "Failed to encode PNG image")
}

// EncodePNG returns img as PNG bytes.
func EncodePNG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
