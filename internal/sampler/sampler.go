// Package sampler maps a located symbol from image space onto its module grid.
package sampler

import (
	"math"

	"github.com/MeKo-Tech/qrlens/internal/bitmap"
	"github.com/MeKo-Tech/qrlens/internal/corner"
	"github.com/MeKo-Tech/qrlens/internal/qrerr"
	"github.com/MeKo-Tech/qrlens/internal/symbol"
)

// Mapping is the module-to-image transform chosen for one corner and version.
type Mapping struct {
	Transform Transform

	// Alignment is the image position of the bottom-right alignment pattern
	// when one was found.
	Alignment      Point
	AlignmentFound bool

	// BottomRight is the image point anchoring the fourth corner of the
	// mapping, either the alignment centre or the extrapolated finder centre.
	BottomRight Point
}

// NewMapping builds the perspective transform for c assuming version v. The
// fourth anchor is the alignment pattern when v has one and it is found near
// its predicted position; otherwise the bottom-right finder position is
// extrapolated from the other three.
func NewMapping(bm *bitmap.BinaryBitmap, c corner.Corner, v *symbol.Version) (Mapping, error) {
	if bm == nil || v == nil {
		return Mapping{}, qrerr.New(qrerr.ErrInvalidInput, "sampler", "nil bitmap or version")
	}
	dim := float64(v.Dimension())

	tl := Point{X: c.TopLeft.Col, Y: c.TopLeft.Row}
	tr := Point{X: c.TopRight.Col, Y: c.TopRight.Row}
	bl := Point{X: c.BottomLeft.Col, Y: c.BottomLeft.Row}

	m := Mapping{
		BottomRight: Point{X: tr.X - tl.X + bl.X, Y: tr.Y - tl.Y + bl.Y},
	}
	brModule := Point{X: dim - 3.5, Y: dim - 3.5}

	if len(v.AlignmentCenters) > 0 {
		// The alignment centre sits three modules in from the finder centres.
		f := 1 - 3/(dim-7)
		est := Point{
			X: tl.X + f*(m.BottomRight.X-tl.X),
			Y: tl.Y + f*(m.BottomRight.Y-tl.Y),
		}
		if p, ok := FindAlignment(bm, est, c.ModuleSize()); ok {
			m.Alignment, m.AlignmentFound = p, true
			m.BottomRight = p
			brModule = Point{X: dim - 6.5, Y: dim - 6.5}
		}
	}

	from := [4]Point{{X: 3.5, Y: 3.5}, {X: dim - 3.5, Y: 3.5}, brModule, {X: 3.5, Y: dim - 3.5}}
	to := [4]Point{tl, tr, m.BottomRight, bl}
	t, ok := QuadToQuad(from, to)
	if !ok {
		return Mapping{}, qrerr.New(qrerr.ErrGeometryInvalid, "sampler", "degenerate quadrilateral")
	}
	m.Transform = t
	return m, nil
}

// Sample reads every module centre of v through m into a new grid.
func (m Mapping) Sample(bm *bitmap.BinaryBitmap, v *symbol.Version) (*symbol.Grid, error) {
	g := symbol.NewGrid(v)
	dim := g.Dimension
	for row := 0; row < dim; row++ {
		for col := 0; col < dim; col++ {
			fx, fy := m.Transform.Apply(float64(col)+0.5, float64(row)+0.5)
			x, y, ok := nudge(fx, fy, bm.Width, bm.Height)
			if !ok {
				return nil, qrerr.New(qrerr.ErrGeometryInvalid, "sampler",
					"module (%d,%d) maps to (%.1f,%.1f) outside %dx%d image", row, col, fx, fy, bm.Width, bm.Height)
			}
			g.Set(row, col, bm.Get(x, y))
		}
	}
	return g, nil
}

// Sample maps c onto the module grid of v and samples it.
func Sample(bm *bitmap.BinaryBitmap, c corner.Corner, v *symbol.Version) (*symbol.Grid, error) {
	m, err := NewMapping(bm, c, v)
	if err != nil {
		return nil, err
	}
	return m.Sample(bm, v)
}

// nudge truncates (fx, fy) to a pixel and pulls points at most one pixel
// outside the image back onto its edge.
func nudge(fx, fy float64, w, h int) (int, int, bool) {
	if math.IsNaN(fx) || math.IsNaN(fy) {
		return 0, 0, false
	}
	if fx < -1 || fy < -1 || fx >= float64(w+1) || fy >= float64(h+1) {
		return 0, 0, false
	}
	x, y := int(fx), int(fy)
	switch {
	case fx < 0:
		x = 0
	case x >= w:
		x = w - 1
	}
	switch {
	case fy < 0:
		y = 0
	case y >= h:
		y = h - 1
	}
	return x, y, true
}
