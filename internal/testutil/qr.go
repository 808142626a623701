package testutil

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/makiuchi-d/gozxing"
	qrwriter "github.com/makiuchi-d/gozxing/qrcode"
	"github.com/makiuchi-d/gozxing/qrcode/decoder"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/qrlens/internal/codeword"
	"github.com/MeKo-Tech/qrlens/internal/symbol"
)

// Symbol is a module matrix produced by the reference encoder, before it is
// drawn into an image.
type Symbol struct {
	// Modules is indexed [row][col]; true is dark.
	Modules [][]bool
	Version int
}

// QROptions selects the encoder settings.
type QROptions struct {
	// Level is one of L, M, Q, H. Empty means M.
	Level string

	// Charset, when set, is passed to the encoder, which then writes an
	// ECI designator for anything other than ISO-8859-1.
	Charset string
}

var levels = map[string]decoder.ErrorCorrectionLevel{
	"L": decoder.ErrorCorrectionLevel_L,
	"M": decoder.ErrorCorrectionLevel_M,
	"Q": decoder.ErrorCorrectionLevel_Q,
	"H": decoder.ErrorCorrectionLevel_H,
}

// EncodeQR encodes text with the gozxing writer at one pixel per module and
// no quiet zone.
func EncodeQR(text string, opts QROptions) (*Symbol, error) {
	level := opts.Level
	if level == "" {
		level = "M"
	}
	ec, ok := levels[level]
	if !ok {
		return nil, fmt.Errorf("unknown EC level %q", level)
	}

	hints := map[gozxing.EncodeHintType]interface{}{
		gozxing.EncodeHintType_ERROR_CORRECTION: ec,
		gozxing.EncodeHintType_MARGIN:           0,
	}
	if opts.Charset != "" {
		hints[gozxing.EncodeHintType_CHARACTER_SET] = opts.Charset
	}

	bm, err := qrwriter.NewQRCodeWriter().Encode(text, gozxing.BarcodeFormat_QR_CODE, 0, 0, hints)
	if err != nil {
		return nil, fmt.Errorf("qr render: %w", err)
	}

	dim := bm.GetWidth()
	v, err := symbol.VersionForDimension(dim)
	if err != nil {
		return nil, fmt.Errorf("qr render: %w", err)
	}
	mods := make([][]bool, dim)
	for r := range mods {
		mods[r] = make([]bool, dim)
		for c := range mods[r] {
			mods[r][c] = bm.Get(c, r)
		}
	}
	return &Symbol{Modules: mods, Version: v.Number}, nil
}

// MustEncodeQR is EncodeQR for tests.
func MustEncodeQR(t testing.TB, text string, opts QROptions) *Symbol {
	t.Helper()
	s, err := EncodeQR(text, opts)
	require.NoError(t, err)
	return s
}

// Dimension is the side length in modules.
func (s *Symbol) Dimension() int { return len(s.Modules) }

// Clone returns an independent copy.
func (s *Symbol) Clone() *Symbol {
	c := &Symbol{Version: s.Version, Modules: make([][]bool, len(s.Modules))}
	for r := range s.Modules {
		c.Modules[r] = append([]bool(nil), s.Modules[r]...)
	}
	return c
}

// FlipCodewords inverts all eight modules of each codeword index, counted in
// placement order. Each flip corrupts exactly one codeword.
func (s *Symbol) FlipCodewords(indices ...int) error {
	v, err := symbol.VersionForNumber(s.Version)
	if err != nil {
		return err
	}
	positions := codeword.Positions(v)
	for _, idx := range indices {
		if idx < 0 || idx >= len(positions) {
			return fmt.Errorf("codeword %d outside 0..%d", idx, len(positions)-1)
		}
		for _, cell := range positions[idx] {
			s.Modules[cell.Row][cell.Col] = !s.Modules[cell.Row][cell.Col]
		}
	}
	return nil
}

// BlockCodewords returns the placement indices of the codewords belonging
// to block b (data first, then EC) for the given level.
func (s *Symbol) BlockCodewords(level symbol.ECLevel, b int) ([]int, error) {
	v, err := symbol.VersionForNumber(s.Version)
	if err != nil {
		return nil, err
	}
	lb := v.Blocks(level)
	n := lb.NumBlocks()
	if b < 0 || b >= n {
		return nil, fmt.Errorf("block %d outside 0..%d", b, n-1)
	}

	var sizes []int
	for _, g := range lb.Groups {
		for i := 0; i < g.Count; i++ {
			sizes = append(sizes, g.DataCodewords)
		}
	}
	short := sizes[0]

	var out []int
	for i := 0; i < short; i++ {
		out = append(out, i*n+b)
	}
	next := short * n
	for i := range sizes {
		if sizes[i] > short {
			if i == b {
				out = append(out, next)
			}
			next++
		}
	}
	for i := 0; i < lb.ECPerBlock; i++ {
		out = append(out, next+i*n+b)
	}
	return out, nil
}

// Grid copies the modules into a symbol grid.
func (s *Symbol) Grid() (*symbol.Grid, error) {
	v, err := symbol.VersionForNumber(s.Version)
	if err != nil {
		return nil, err
	}
	g := symbol.NewGrid(v)
	for r, row := range s.Modules {
		for c, dark := range row {
			g.Set(r, c, dark)
		}
	}
	return g, nil
}

// Image draws the symbol at pitch pixels per module inside a quiet zone of
// quiet modules.
func (s *Symbol) Image(pitch, quiet int) *image.RGBA {
	dim := s.Dimension()
	side := (dim + 2*quiet) * pitch
	img := image.NewRGBA(image.Rect(0, 0, side, side))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	black := &image.Uniform{C: color.Black}
	for r, row := range s.Modules {
		for c, dark := range row {
			if !dark {
				continue
			}
			x0, y0 := (c+quiet)*pitch, (r+quiet)*pitch
			draw.Draw(img, image.Rect(x0, y0, x0+pitch, y0+pitch), black, image.Point{}, draw.Src)
		}
	}
	return img
}
