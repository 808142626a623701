// Package corner assembles three finder patterns into the top-left,
// top-right and bottom-left corners of a QR symbol.
package corner

import (
	"math"
	"sort"

	"github.com/MeKo-Tech/qrlens/internal/finder"
	"github.com/MeKo-Tech/qrlens/internal/qrerr"
)

const (
	// SideLengthRatio is the minimum ratio of the shorter edge to the longer one.
	SideLengthRatio = 0.8

	// maxCandidates bounds the triple enumeration in Candidates.
	maxCandidates = 8
)

// RightAngleTolerance is tan(4°): the largest accepted deviation of the left
// edge from perpendicular, measured after rotating the top edge onto the x axis.
var RightAngleTolerance = math.Tan(4 * math.Pi / 180)

// Corner is a validated finder triple. Values are immutable once built.
type Corner struct {
	TopLeft    finder.Candidate
	TopRight   finder.Candidate
	BottomLeft finder.Candidate

	TopLineDeltaX  float64
	TopLineDeltaY  float64
	TopLineLength  float64
	LeftLineDeltaX float64
	LeftLineDeltaY float64
	LeftLineLength float64
}

func newCorner(tl, tr, bl finder.Candidate) Corner {
	c := Corner{TopLeft: tl, TopRight: tr, BottomLeft: bl}
	c.TopLineDeltaX = tr.Col - tl.Col
	c.TopLineDeltaY = tr.Row - tl.Row
	c.TopLineLength = math.Hypot(c.TopLineDeltaX, c.TopLineDeltaY)
	c.LeftLineDeltaX = bl.Col - tl.Col
	c.LeftLineDeltaY = bl.Row - tl.Row
	c.LeftLineLength = math.Hypot(c.LeftLineDeltaX, c.LeftLineDeltaY)
	return c
}

// Build tries each cyclic assignment of a, b and c to the corner roles and
// returns the first one forming a near-square right angle. If the left edge
// ends up above the top edge the top-right and bottom-left roles are swapped
// so that the symbol reads clockwise in image space.
func Build(a, b, c finder.Candidate) (Corner, error) {
	tl, tr, bl := a, b, c
	for i := 0; i < 3; i++ {
		if i != 0 {
			tl, tr, bl = tr, bl, tl
		}

		topDX, topDY := tr.Col-tl.Col, tr.Row-tl.Row
		leftDX, leftDY := bl.Col-tl.Col, bl.Row-tl.Row
		topLen := math.Hypot(topDX, topDY)
		leftLen := math.Hypot(leftDX, leftDY)
		if topLen == 0 || leftLen == 0 {
			continue
		}
		if math.Min(topLen, leftLen) < SideLengthRatio*math.Max(topLen, leftLen) {
			continue
		}

		sin, cos := topDY/topLen, topDX/topLen
		rotX := cos*leftDX + sin*leftDY
		rotY := -sin*leftDX + cos*leftDY
		if math.Abs(rotX/leftLen) > RightAngleTolerance {
			continue
		}

		if rotY < 0 {
			return newCorner(tl, bl, tr), nil
		}
		return newCorner(tl, tr, bl), nil
	}
	return Corner{}, qrerr.New(qrerr.ErrGeometryInvalid, "corner", "finders do not form a right angle")
}

// InitialVersionNumber estimates the symbol version from the finder spacing
// and module pitch.
func (c Corner) InitialVersionNumber() (int, error) {
	top := 7.0
	if math.Abs(c.TopLineDeltaX) >= math.Abs(c.TopLineDeltaY) {
		top += c.TopLineLength * c.TopLineLength /
			(math.Abs(c.TopLineDeltaX) * 0.5 * (c.TopLeft.ModuleSizeH + c.TopRight.ModuleSizeH))
	} else {
		top += c.TopLineLength * c.TopLineLength /
			(math.Abs(c.TopLineDeltaY) * 0.5 * (c.TopLeft.ModuleSizeV + c.TopRight.ModuleSizeV))
	}

	left := 7.0
	if math.Abs(c.LeftLineDeltaY) >= math.Abs(c.LeftLineDeltaX) {
		left += c.LeftLineLength * c.LeftLineLength /
			(math.Abs(c.LeftLineDeltaY) * 0.5 * (c.TopLeft.ModuleSizeV + c.BottomLeft.ModuleSizeV))
	} else {
		left += c.LeftLineLength * c.LeftLineLength /
			(math.Abs(c.LeftLineDeltaX) * 0.5 * (c.TopLeft.ModuleSizeH + c.BottomLeft.ModuleSizeH))
	}

	avg := 0.5 * (top + left)
	if math.IsNaN(avg) || math.IsInf(avg, 0) || avg > 1000 {
		return 0, qrerr.New(qrerr.ErrGeometryInvalid, "corner", "degenerate module pitch")
	}
	version := (int(math.RoundToEven(avg)) - 15) / 4
	if version < 1 || version > 40 {
		return 0, qrerr.New(qrerr.ErrGeometryInvalid, "corner", "estimated version %d out of range", version)
	}
	return version, nil
}

// ModuleSize is the mean pitch of the three finders.
func (c Corner) ModuleSize() float64 {
	return (c.TopLeft.ModuleSize() + c.TopRight.ModuleSize() + c.BottomLeft.ModuleSize()) / 3
}

type scored struct {
	corner Corner
	score  float64
}

// Candidates builds every valid corner from cands, best first. Triples whose
// finders agree on module pitch and whose edges are closest to equal rank
// highest. Only the most confirmed candidates take part.
func Candidates(cands []finder.Candidate) []Corner {
	if len(cands) < 3 {
		return nil
	}
	if len(cands) > maxCandidates {
		cands = cands[:maxCandidates]
	}

	var found []scored
	for i := 0; i < len(cands)-2; i++ {
		for j := i + 1; j < len(cands)-1; j++ {
			for k := j + 1; k < len(cands); k++ {
				c, err := Build(cands[i], cands[j], cands[k])
				if err != nil {
					continue
				}
				found = append(found, scored{corner: c, score: c.score()})
			}
		}
	}

	sort.SliceStable(found, func(a, b int) bool { return found[a].score < found[b].score })
	out := make([]Corner, len(found))
	for i, s := range found {
		out[i] = s.corner
	}
	return out
}

func (c Corner) score() float64 {
	sizes := []float64{c.TopLeft.ModuleSize(), c.TopRight.ModuleSize(), c.BottomLeft.ModuleSize()}
	lo, hi := sizes[0], sizes[0]
	for _, s := range sizes[1:] {
		lo = math.Min(lo, s)
		hi = math.Max(hi, s)
	}
	mean := (sizes[0] + sizes[1] + sizes[2]) / 3
	pitchSpread := (hi - lo) / mean

	edgeSpread := math.Abs(c.TopLineLength-c.LeftLineLength) / math.Max(c.TopLineLength, c.LeftLineLength)
	return pitchSpread + edgeSpread
}
