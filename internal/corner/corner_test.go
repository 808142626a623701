package corner

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/qrlens/internal/finder"
	"github.com/MeKo-Tech/qrlens/internal/qrerr"
)

func cand(row, col, pitch float64) finder.Candidate {
	return finder.Candidate{Row: row, Col: col, ModuleSizeH: pitch, ModuleSizeV: pitch, Count: 2}
}

// symbolFinders places the three finders of a version v symbol, rotated
// clockwise by deg around its top-left finder.
func symbolFinders(v int, pitch, deg float64) (tl, tr, bl finder.Candidate) {
	span := float64(17+4*v-7) * pitch
	rad := deg * math.Pi / 180
	sin, cos := math.Sin(rad), math.Cos(rad)
	ox, oy := 500.0, 500.0
	tl = cand(oy, ox, pitch)
	tr = cand(oy+span*sin, ox+span*cos, pitch)
	bl = cand(oy+span*cos, ox-span*sin, pitch)
	return tl, tr, bl
}

func TestBuild_AssignsRoles(t *testing.T) {
	tl, tr, bl := symbolFinders(2, 4, 0)

	c, err := Build(tl, tr, bl)
	require.NoError(t, err)
	assert.Equal(t, tl, c.TopLeft)
	assert.Equal(t, tr, c.TopRight)
	assert.Equal(t, bl, c.BottomLeft)
	assert.InDelta(t, 18*4, c.TopLineLength, 1e-9)
	assert.InDelta(t, 18*4, c.LeftLineLength, 1e-9)
	assert.InDelta(t, 0, c.TopLineDeltaY, 1e-9)
}

func TestBuild_SwapsMirroredRoles(t *testing.T) {
	tl, tr, bl := symbolFinders(1, 3, 0)

	// Passing bottom-left in the top-right slot is corrected in the result
	// and leaves the arguments untouched.
	in1, in2 := bl, tr
	c, err := Build(tl, in1, in2)
	require.NoError(t, err)
	assert.Equal(t, tr, c.TopRight)
	assert.Equal(t, bl, c.BottomLeft)
	assert.Equal(t, bl, in1)
	assert.Equal(t, tr, in2)
}

func TestBuild_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		a, b, c finder.Candidate
	}{
		{"collinear", cand(0, 0, 3), cand(0, 60, 3), cand(0, 120, 3)},
		{"edges too unequal", cand(0, 0, 3), cand(0, 100, 3), cand(70, 0, 3)},
		{"angle off by ten degrees", cand(0, 0, 3), cand(0, 100, 3), cand(100*math.Cos(10*math.Pi/180), 100*math.Sin(10*math.Pi/180), 3)},
		{"coincident", cand(5, 5, 3), cand(5, 5, 3), cand(5, 5, 3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.a, tt.b, tt.c)
			assert.ErrorIs(t, err, qrerr.ErrGeometryInvalid)
		})
	}
}

func TestBuild_PermutationInvariant(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("every ordering yields the same roles", prop.ForAll(
		func(v int, pitch, deg float64) bool {
			tl, tr, bl := symbolFinders(v, pitch, deg)
			want, err := Build(tl, tr, bl)
			if err != nil {
				return false
			}
			orders := [][3]finder.Candidate{
				{tl, tr, bl}, {tl, bl, tr}, {tr, tl, bl},
				{tr, bl, tl}, {bl, tl, tr}, {bl, tr, tl},
			}
			for _, o := range orders {
				got, err := Build(o[0], o[1], o[2])
				if err != nil {
					return false
				}
				if got.TopLeft != want.TopLeft || got.TopRight != want.TopRight || got.BottomLeft != want.BottomLeft {
					return false
				}
			}
			return want.TopLeft == tl && want.TopRight == tr && want.BottomLeft == bl
		},
		gen.IntRange(1, 40),
		gen.Float64Range(1, 8),
		gen.Float64Range(-180, 180),
	))

	properties.Property("rejection does not depend on ordering", prop.ForAll(
		func(skew float64) bool {
			a := cand(0, 0, 3)
			b := cand(0, 100, 3)
			c := cand(100, skew, 3)
			_, e1 := Build(a, b, c)
			_, e2 := Build(c, a, b)
			_, e3 := Build(b, c, a)
			_, e4 := Build(a, c, b)
			return (e1 == nil) == (e2 == nil) && (e2 == nil) == (e3 == nil) && (e3 == nil) == (e4 == nil)
		},
		gen.Float64Range(-40, 40),
	))

	properties.TestingRun(t)
}

func TestInitialVersionNumber(t *testing.T) {
	for v := 1; v <= 40; v++ {
		for _, pitch := range []float64{1.5, 3, 5} {
			tl, tr, bl := symbolFinders(v, pitch, 0)
			c, err := Build(tl, tr, bl)
			require.NoError(t, err)

			got, err := c.InitialVersionNumber()
			require.NoError(t, err, "version %d pitch %.1f", v, pitch)
			assert.Equal(t, v, got, "pitch %.1f", pitch)
		}
	}
}

func TestInitialVersionNumber_Rotated(t *testing.T) {
	// A 90 degree turn exercises the vertical pitch branches.
	for _, v := range []int{1, 7, 22, 40} {
		tl, tr, bl := symbolFinders(v, 4, 90)
		tr.ModuleSizeV, tr.ModuleSizeH = 4, 9
		c, err := Build(tl, tr, bl)
		require.NoError(t, err)
		got, err := c.InitialVersionNumber()
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestInitialVersionNumber_OutOfRange(t *testing.T) {
	// Finders almost touching each other: fewer modules than version 1.
	c, err := Build(cand(0, 0, 4), cand(0, 40, 4), cand(40, 0, 4))
	require.NoError(t, err)
	_, err = c.InitialVersionNumber()
	assert.ErrorIs(t, err, qrerr.ErrGeometryInvalid)

	// Tiny pitch relative to the spacing: beyond version 40.
	c, err = Build(cand(0, 0, 1), cand(0, 400, 1), cand(400, 0, 1))
	require.NoError(t, err)
	_, err = c.InitialVersionNumber()
	assert.ErrorIs(t, err, qrerr.ErrGeometryInvalid)
}

func TestCandidates_RanksConsistentPitchFirst(t *testing.T) {
	tl, tr, bl := symbolFinders(3, 4, 0)
	// A stray finder of a different size that also forms a right angle.
	stray := cand(tl.Row+22*4, tl.Col+22*4, 9)

	corners := Candidates([]finder.Candidate{stray, tl, tr, bl})
	require.NotEmpty(t, corners)
	assert.Equal(t, tl, corners[0].TopLeft)
	assert.Equal(t, tr, corners[0].TopRight)
	assert.Equal(t, bl, corners[0].BottomLeft)

	assert.Empty(t, Candidates([]finder.Candidate{tl, tr}))
}
