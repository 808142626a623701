package sampler

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/qrlens/internal/bitmap"
	"github.com/MeKo-Tech/qrlens/internal/corner"
	"github.com/MeKo-Tech/qrlens/internal/finder"
	"github.com/MeKo-Tech/qrlens/internal/qrerr"
	"github.com/MeKo-Tech/qrlens/internal/symbol"
)

// symbolModules lays out finders, timing and the bottom-right alignment
// pattern of v, and fills the remaining cells with 2x2 blocks so that no
// data region imitates a 1:1:1 run.
func symbolModules(t *testing.T, v *symbol.Version, withAlignment bool) [][]bool {
	t.Helper()
	dim := v.Dimension()
	mods := make([][]bool, dim)
	for r := range mods {
		mods[r] = make([]bool, dim)
		for c := range mods[r] {
			mods[r][c] = (r/2+c/2)%2 == 0
		}
	}

	finderAt := func(top, left int) {
		for r := -1; r <= 7; r++ {
			for c := -1; c <= 7; c++ {
				rr, cc := top+r, left+c
				if rr < 0 || cc < 0 || rr >= dim || cc >= dim {
					continue
				}
				ring := max(absInt(r-3), absInt(c-3))
				mods[rr][cc] = ring != 2 && ring != 4
			}
		}
	}
	finderAt(0, 0)
	finderAt(0, dim-7)
	finderAt(dim-7, 0)

	for i := 8; i < dim-8; i++ {
		mods[6][i] = i%2 == 0
		mods[i][6] = i%2 == 0
	}

	if len(v.AlignmentCenters) > 0 {
		ac := dim - 7
		for r := -2; r <= 2; r++ {
			for c := -2; c <= 2; c++ {
				ring := max(absInt(r), absInt(c))
				mods[ac+r][ac+c] = withAlignment && ring != 1
			}
		}
	}
	return mods
}

// render draws mods at pitch pixels per module, offset by margin and rotated
// by deg about the image centre. It returns the bitmap and a function mapping
// module coordinates to image coordinates.
func render(t *testing.T, mods [][]bool, pitch, margin, deg float64) (*bitmap.BinaryBitmap, func(u, v float64) Point) {
	t.Helper()
	dim := float64(len(mods))
	side := int(math.Ceil((dim*pitch + 2*margin) * 1.5))
	cx, cy := float64(side)/2, float64(side)/2
	origin := cx - dim*pitch/2
	sin, cos := math.Sincos(deg * math.Pi / 180)

	toImage := func(u, v float64) Point {
		x, y := origin+u*pitch-cx, origin+v*pitch-cy
		return Point{X: cx + x*cos - y*sin, Y: cy + x*sin + y*cos}
	}

	bits := make([]bool, side*side)
	for py := 0; py < side; py++ {
		for px := 0; px < side; px++ {
			x, y := float64(px)+0.5-cx, float64(py)+0.5-cy
			// Inverse rotation back into the unrotated symbol.
			ux := (cx + x*cos + y*sin - origin) / pitch
			uy := (cy - x*sin + y*cos - origin) / pitch
			if ux < 0 || uy < 0 || ux >= dim || uy >= dim {
				continue
			}
			bits[py*side+px] = mods[int(uy)][int(ux)]
		}
	}
	bm, err := bitmap.NewBinaryBitmap(side, side, bits)
	require.NoError(t, err)
	return bm, toImage
}

func cornerFor(t *testing.T, toImage func(u, v float64) Point, dim int, pitch float64) corner.Corner {
	t.Helper()
	at := func(u, v float64) finder.Candidate {
		p := toImage(u, v)
		return finder.Candidate{Row: p.Y, Col: p.X, ModuleSizeH: pitch, ModuleSizeV: pitch, Count: 3}
	}
	d := float64(dim)
	c, err := corner.Build(at(3.5, 3.5), at(d-3.5, 3.5), at(3.5, d-3.5))
	require.NoError(t, err)
	return c
}

func assertGridMatches(t *testing.T, g *symbol.Grid, mods [][]bool) {
	t.Helper()
	mismatches := 0
	for r := range mods {
		for c := range mods[r] {
			if g.Get(r, c) != mods[r][c] {
				mismatches++
			}
		}
	}
	assert.Zero(t, mismatches, "sampled grid differs from the rendered symbol")
}

func TestSample(t *testing.T) {
	tests := []struct {
		name           string
		version        int
		pitch          float64
		deg            float64
		withAlignment  bool
		expectAlignHit bool
	}{
		{"v1 upright", 1, 4, 0, false, false},
		{"v1 rotated", 1, 6, 12, false, false},
		{"v2 upright", 2, 5, 0, true, true},
		{"v3 rotated", 3, 6, 8, true, true},
		{"v4 rotated 90", 4, 4, 90, true, true},
		{"v3 missing alignment", 3, 5, 0, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := symbol.VersionForNumber(tt.version)
			require.NoError(t, err)

			mods := symbolModules(t, v, tt.withAlignment)
			bm, toImage := render(t, mods, tt.pitch, 4*tt.pitch, tt.deg)
			c := cornerFor(t, toImage, v.Dimension(), tt.pitch)

			m, err := NewMapping(bm, c, v)
			require.NoError(t, err)
			assert.Equal(t, tt.expectAlignHit, m.AlignmentFound)
			if tt.expectAlignHit {
				ac := float64(v.Dimension()) - 6.5
				want := toImage(ac, ac)
				assert.InDelta(t, want.X, m.Alignment.X, tt.pitch/2)
				assert.InDelta(t, want.Y, m.Alignment.Y, tt.pitch/2)
			}

			g, err := Sample(bm, c, v)
			require.NoError(t, err)
			assert.Equal(t, v.Dimension(), g.Dimension)
			assertGridMatches(t, g, mods)
		})
	}
}

func TestSample_OutsideImage(t *testing.T) {
	v, err := symbol.VersionForNumber(1)
	require.NoError(t, err)
	bm, err := bitmap.NewBinaryBitmap(100, 100, make([]bool, 100*100))
	require.NoError(t, err)

	cand := func(row, col float64) finder.Candidate {
		return finder.Candidate{Row: row, Col: col, ModuleSizeH: 4, ModuleSizeV: 4, Count: 1}
	}
	// The top-left finder centre two pixels from the edge puts the first
	// module centre well outside the image.
	c, err := corner.Build(cand(2, 2), cand(2, 58), cand(58, 2))
	require.NoError(t, err)

	g, err := Sample(bm, c, v)
	assert.Nil(t, g)
	assert.ErrorIs(t, err, qrerr.ErrGeometryInvalid)
}

func TestSample_NilInput(t *testing.T) {
	_, err := NewMapping(nil, corner.Corner{}, nil)
	assert.ErrorIs(t, err, qrerr.ErrInvalidInput)
}

func TestNudge(t *testing.T) {
	tests := []struct {
		fx, fy       float64
		expectX      int
		expectY      int
		expectInside bool
	}{
		{5.7, 3.2, 5, 3, true},
		{-0.5, 3, 0, 3, true},
		{9.9, 10.5, 9, 9, true},
		{-1.5, 3, 0, 0, false},
		{3, 11.2, 0, 0, false},
		{math.NaN(), 1, 0, 0, false},
		{math.Inf(1), 1, 0, 0, false},
	}
	for _, tt := range tests {
		x, y, ok := nudge(tt.fx, tt.fy, 10, 10)
		assert.Equal(t, tt.expectInside, ok, "(%v,%v)", tt.fx, tt.fy)
		if tt.expectInside {
			assert.Equal(t, tt.expectX, x)
			assert.Equal(t, tt.expectY, y)
		}
	}
}

func TestQuadToQuad(t *testing.T) {
	from := [4]Point{{3.5, 3.5}, {21.5, 3.5}, {18.5, 18.5}, {3.5, 21.5}}
	tests := []struct {
		name string
		to   [4]Point
	}{
		{"affine", [4]Point{{10, 10}, {100, 10}, {85, 85}, {10, 100}}},
		{"perspective", [4]Point{{12, 8}, {110, 20}, {90, 95}, {5, 104}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, ok := QuadToQuad(from, tt.to)
			require.True(t, ok)
			for i := range from {
				x, y := tr.Apply(from[i].X, from[i].Y)
				assert.InDelta(t, tt.to[i].X, x, 1e-6)
				assert.InDelta(t, tt.to[i].Y, y, 1e-6)
			}
		})
	}

	degenerate := []struct {
		name string
		to   [4]Point
	}{
		{"collapsed", [4]Point{{0, 0}, {0, 0}, {0, 0}, {0, 0}}},
		{"collinear parallelogram", [4]Point{{0, 0}, {10, 0}, {20, 0}, {10, 0}}},
	}
	for _, tt := range degenerate {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := QuadToQuad(from, tt.to)
			assert.False(t, ok)
			_, ok = QuadToQuad(tt.to, from)
			assert.False(t, ok)
		})
	}
}

func TestFindAlignment_NoPattern(t *testing.T) {
	bm, err := bitmap.NewBinaryBitmap(60, 60, make([]bool, 60*60))
	require.NoError(t, err)
	_, ok := FindAlignment(bm, Point{X: 30, Y: 30}, 4)
	assert.False(t, ok)

	_, ok = FindAlignment(bm, Point{X: 30, Y: 30}, 0.5)
	assert.False(t, ok)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
