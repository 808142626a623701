package qrcode

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/qrlens/internal/bitmap"
	"github.com/MeKo-Tech/qrlens/internal/bitstream"
	"github.com/MeKo-Tech/qrlens/internal/qrerr"
	"github.com/MeKo-Tech/qrlens/internal/sampler"
	"github.com/MeKo-Tech/qrlens/internal/symbol"
	"github.com/MeKo-Tech/qrlens/internal/testutil"
)

func decode(t *testing.T, bm *bitmap.BinaryBitmap) (*Result, error) {
	t.Helper()
	return NewDecoder(DefaultOptions()).Decode(context.Background(), bm)
}

func TestDecode_HelloClean(t *testing.T) {
	s := testutil.MustEncodeQR(t, "HELLO", testutil.QROptions{Level: "M"})
	bm := testutil.Binarize(t, s.Image(4, 4))

	res, err := decode(t, bm)
	require.NoError(t, err)
	assert.Equal(t, "HELLO", res.Text)
	assert.Equal(t, 1, res.Version)
	assert.Equal(t, symbol.ECLevelM, res.ECLevel)
	assert.Zero(t, res.CorrectedErrors)
	assert.Equal(t, -1, res.ECI)
	assert.Len(t, res.Bytes, 16)
	assert.False(t, res.DecodedAt.IsZero())

	// Finder centres sit 3.5 modules in from the symbol corner.
	assert.InDelta(t, 7.5*4, res.Corners[0].X, 1.5)
	assert.InDelta(t, 7.5*4, res.Corners[0].Y, 1.5)

	_, ok := res.Timings.Get(StageRS)
	assert.True(t, ok)
}

func TestDecode_RotatedWithFlippedCodewords(t *testing.T) {
	s := testutil.MustEncodeQR(t, "HELLO", testutil.QROptions{Level: "M"})
	require.NoError(t, s.FlipCodewords(2, 9))

	img := testutil.Rotate(s.Image(6, 4), 15)
	res, err := decode(t, testutil.Binarize(t, img))
	require.NoError(t, err)
	assert.Equal(t, "HELLO", res.Text)
	assert.Equal(t, 2, res.CorrectedErrors)
}

func TestDecode_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		level   string
		pitch   int
		rotate  float64
		noise   uint8
		warp    bool
		version int
	}{
		{"numeric L", "0123456789012345678901234567890", "L", 4, 0, 0, false, 1},
		{"url Q rotated", "https://example.com/qrlens?frame=42", "Q", 5, 30, 0, false, 0},
		{"alignment H", "version two or larger needs the alignment pattern", "H", 5, 0, 0, false, 0},
		{"upside down", "UPSIDE DOWN 180", "M", 5, 180, 0, false, 0},
		{"perspective", "perspective keystone", "M", 6, 0, 0, true, 0},
		{"sensor noise", "sensor noise", "H", 5, 10, 60, false, 0},
		{"version 7", "a longer payload that forces the encoder past version six so both version information copies are present in the symbol and must agree with the estimate from geometry", "M", 4, 0, 0, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testutil.MustEncodeQR(t, tt.text, testutil.QROptions{Level: tt.level})
			img := testutil.Pad(s.Image(tt.pitch, 4), 2*tt.pitch)
			if tt.rotate != 0 {
				img = testutil.Rotate(img, tt.rotate)
			}
			if tt.warp {
				side := float64(img.Bounds().Dx())
				quad := [4]sampler.Point{
					{X: 30, Y: 20},
					{X: side + 30, Y: 30},
					{X: side + 20, Y: side + 35},
					{X: 25, Y: side + 25},
				}
				img = testutil.Warp(img, quad, int(side)+60, int(side)+60)
			}
			if tt.noise > 0 {
				img = testutil.AddNoise(img, tt.noise, 11)
			}

			res, err := NewDecoder(Options{TryHarder: true}).Decode(context.Background(), testutil.Binarize(t, img))
			require.NoError(t, err)
			assert.Equal(t, tt.text, res.Text)
			assert.Equal(t, s.Version, res.Version)
			if tt.version != 0 {
				assert.Equal(t, tt.version, res.Version)
			}
		})
	}
}

func TestDecode_CapacityPerBlock(t *testing.T) {
	text := "capacity check across several interleaved blocks"
	s := testutil.MustEncodeQR(t, text, testutil.QROptions{Level: "Q"})
	v, err := symbol.VersionForNumber(s.Version)
	require.NoError(t, err)
	lb := v.Blocks(symbol.ECLevelQ)
	capacity := lb.ECPerBlock / 2

	t.Run("at capacity", func(t *testing.T) {
		damaged := s.Clone()
		for b := 0; b < lb.NumBlocks(); b++ {
			idx, err := damaged.BlockCodewords(symbol.ECLevelQ, b)
			require.NoError(t, err)
			require.NoError(t, damaged.FlipCodewords(idx[:capacity]...))
		}
		res, err := decode(t, testutil.Binarize(t, damaged.Image(4, 4)))
		require.NoError(t, err)
		assert.Equal(t, text, res.Text)
		assert.Equal(t, capacity*lb.NumBlocks(), res.CorrectedErrors)
	})

	t.Run("beyond capacity", func(t *testing.T) {
		damaged := s.Clone()
		idx, err := damaged.BlockCodewords(symbol.ECLevelQ, 0)
		require.NoError(t, err)
		require.NoError(t, damaged.FlipCodewords(idx[:capacity+1]...))

		res, err := decode(t, testutil.Binarize(t, damaged.Image(4, 4)))
		assert.Nil(t, res)
		assert.ErrorIs(t, err, qrerr.ErrUncorrectableBlock)
	})
}

func TestDecode_NoSymbol(t *testing.T) {
	tests := []struct {
		name string
		bm   func(t *testing.T) *bitmap.BinaryBitmap
	}{
		{"text only", func(t *testing.T) *bitmap.BinaryBitmap {
			return testutil.Binarize(t, testutil.TextImage("nothing to see", 320, 120))
		}},
		{"uniform", func(t *testing.T) *bitmap.BinaryBitmap {
			bm, err := bitmap.NewBinaryBitmap(64, 64, make([]bool, 64*64))
			require.NoError(t, err)
			return bm
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, diag, err := NewDecoder(DefaultOptions()).DecodeWithDiagnostics(context.Background(), tt.bm(t))
			assert.Nil(t, res)
			assert.ErrorIs(t, err, qrerr.ErrGeometryInvalid)
			assert.True(t, qrerr.IsExpected(err))
			assert.Zero(t, diag.Attempts)
		})
	}

	_, err := decode(t, nil)
	assert.ErrorIs(t, err, qrerr.ErrInvalidInput)
}

func TestDecode_Cancelled(t *testing.T) {
	s := testutil.MustEncodeQR(t, "HELLO", testutil.QROptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDecoder(DefaultOptions()).Decode(ctx, testutil.Binarize(t, s.Image(4, 4)))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecodeGrid(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		opts     testutil.QROptions
		expectEC int
	}{
		{"ascii", "grid level decode", testutil.QROptions{Level: "L"}, -1},
		{"utf-8 with ECI", "Grüße aus Köln", testutil.QROptions{Level: "M", Charset: "UTF-8"}, 26},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testutil.MustEncodeQR(t, tt.text, tt.opts)
			g, err := s.Grid()
			require.NoError(t, err)

			res, err := NewDecoder(DefaultOptions()).DecodeGrid(g)
			require.NoError(t, err)
			assert.Equal(t, tt.text, res.Text)
			assert.Equal(t, tt.expectEC, res.ECI)
			require.NotEmpty(t, res.Segments)
			assert.Equal(t, bitstream.ModeByte, res.Segments[len(res.Segments)-1].Mode)
		})
	}

	_, err := NewDecoder(DefaultOptions()).DecodeGrid(nil)
	assert.ErrorIs(t, err, qrerr.ErrInvalidInput)
}

func TestDiagnostics_MinModuleSize(t *testing.T) {
	s := testutil.MustEncodeQR(t, "HELLO", testutil.QROptions{})
	_, diag, err := NewDecoder(DefaultOptions()).DecodeWithDiagnostics(context.Background(), testutil.Binarize(t, s.Image(5, 4)))
	require.NoError(t, err)
	assert.Len(t, diag.Finders, 3)
	assert.InDelta(t, 5.0, diag.MinModuleSize(), 0.5)
	assert.Equal(t, 1, diag.Attempts)
	assert.Zero(t, Diagnostics{}.MinModuleSize())
}

func TestFurthest(t *testing.T) {
	geom := qrerr.New(qrerr.ErrGeometryInvalid, "corner", "x")
	rs := qrerr.New(qrerr.ErrUncorrectableBlock, "rs", "x")
	data := qrerr.New(qrerr.ErrMalformedDataStream, "bitstream", "x")

	assert.Equal(t, geom, furthest(nil, geom))
	assert.Equal(t, rs, furthest(geom, rs))
	assert.Equal(t, rs, furthest(rs, geom))
	assert.Equal(t, data, furthest(rs, data))
	assert.Equal(t, []int{1, 2}, versionCandidates(1))
	assert.Equal(t, []int{40, 39}, versionCandidates(40))
	assert.Equal(t, []int{7, 8, 6}, versionCandidates(7))
}
