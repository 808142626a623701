package utils

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

func checker(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			if (x/4+y/4)%2 == 0 {
				img.Set(x, y, color.Black)
			} else {
				img.Set(x, y, color.White)
			}
		}
	}
	return img
}

func TestIsSupportedImage(t *testing.T) {
	tests := []struct {
		path     string
		expected bool
	}{
		{"a.png", true},
		{"a.JPG", true},
		{"scan.tiff", true},
		{"frame.webp", true},
		{"texture.bmp", true},
		{"doc.pdf", false},
		{"noext", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, IsSupportedImage(tt.path), tt.path)
	}
}

func TestLoadImage_Formats(t *testing.T) {
	dir := t.TempDir()
	src := checker(32, 24)

	encoders := map[string]func(*bytes.Buffer) error{
		"a.png":  func(b *bytes.Buffer) error { return png.Encode(b, src) },
		"a.bmp":  func(b *bytes.Buffer) error { return bmp.Encode(b, src) },
		"a.tiff": func(b *bytes.Buffer) error { return tiff.Encode(b, src, nil) },
	}
	for name, enc := range encoders {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, enc(&buf))
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

			img, meta, err := LoadImage(path)
			require.NoError(t, err)
			assert.Equal(t, 32, meta.Width)
			assert.Equal(t, 24, meta.Height)
			assert.Equal(t, int64(buf.Len()), meta.SizeBytes)
			assert.Equal(t, path, meta.Path)

			r, _, _, _ := img.At(0, 0).RGBA()
			assert.Zero(t, r)
		})
	}
}

func TestLoadImage_Errors(t *testing.T) {
	var ipe *ImageProcessingError

	_, _, err := LoadImage("")
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, "load", ipe.Operation)

	_, _, err = LoadImage("file.pdf")
	require.ErrorAs(t, err, &ipe)
	assert.Contains(t, err.Error(), "unsupported format")

	_, _, err = LoadImage(filepath.Join(t.TempDir(), "missing.png"))
	require.ErrorAs(t, err, &ipe)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	garbage := filepath.Join(t.TempDir(), "garbage.png")
	require.NoError(t, os.WriteFile(garbage, []byte("not an image"), 0o644))
	_, _, err = LoadImage(garbage)
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, "decode", ipe.Operation)
}

func TestDecodeImageBytes(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, checker(8, 8)))

	img, meta, err := DecodeImageBytes(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "png", meta.Format)
	assert.Equal(t, int64(buf.Len()), meta.SizeBytes)
	assert.Equal(t, 8, img.Bounds().Dx())
}

func TestValidateImageConstraints(t *testing.T) {
	c := DefaultImageConstraints()
	assert.NoError(t, ValidateImageConstraints(checker(21, 21), c))
	assert.Error(t, ValidateImageConstraints(checker(20, 40), c))
	assert.Error(t, ValidateImageConstraints(nil, c))
	assert.Error(t, ValidateImageConstraints(checker(30, 30), ImageConstraints{MaxPixels: 100}))
}

func TestExpandImagePaths(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.png", "a.png", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.png"), 0o755))
	single := filepath.Join(dir, "b.png")

	paths, err := ExpandImagePaths([]string{single, dir})
	require.NoError(t, err)
	assert.Equal(t, []string{single, filepath.Join(dir, "a.png"), filepath.Join(dir, "b.png")}, paths)

	_, err = ExpandImagePaths([]string{filepath.Join(dir, "nope")})
	assert.Error(t, err)
}

func TestSavePNGAndDraw(t *testing.T) {
	img := CloneRGBA(image.NewGray(image.Rect(5, 5, 25, 25)))
	assert.Equal(t, image.Rect(0, 0, 20, 20), img.Bounds())

	red := color.RGBA{R: 255, A: 255}
	DrawRect(img, image.Rect(2, 2, 10, 10), red, 1)
	DrawMarker(img, image.Pt(19, 19), red, 3)
	assert.Equal(t, red, img.RGBAAt(2, 5))
	assert.Equal(t, red, img.RGBAAt(18, 18))
	assert.NotEqual(t, red, img.RGBAAt(5, 5))

	path := filepath.Join(t.TempDir(), "nested", "out.png")
	require.NoError(t, SavePNG(path, img))
	_, meta, err := LoadImage(path)
	require.NoError(t, err)
	assert.Equal(t, 20, meta.Width)
}
