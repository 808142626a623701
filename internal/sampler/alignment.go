package sampler

import (
	"math"

	"github.com/MeKo-Tech/qrlens/internal/bitmap"
)

// alignmentWindows are the search half-widths, in modules, tried in order.
var alignmentWindows = []float64{4, 8, 16}

// FindAlignment searches for the bottom-right alignment pattern around its
// estimated position est, widening the window on each miss.
func FindAlignment(bm *bitmap.BinaryBitmap, est Point, pitch float64) (Point, bool) {
	if pitch < 1 {
		return Point{}, false
	}
	for _, w := range alignmentWindows {
		allowance := int(w * pitch)
		left := max(0, int(est.X)-allowance)
		top := max(0, int(est.Y)-allowance)
		right := min(bm.Width-1, int(est.X)+allowance)
		bottom := min(bm.Height-1, int(est.Y)+allowance)
		if right-left < int(3*pitch) || bottom-top < int(3*pitch) {
			continue
		}
		if p, ok := searchAlignment(bm, left, top, right, bottom, pitch); ok {
			return p, true
		}
	}
	return Point{}, false
}

type alignmentHit struct {
	p     Point
	count int
}

// searchAlignment scans rows outward from the middle of the window for a
// light:dark:light run of about one module each, the slice through the
// centre of an alignment pattern. A hit confirmed by two rows wins;
// otherwise the first hit is used.
func searchAlignment(bm *bitmap.BinaryBitmap, left, top, right, bottom int, pitch float64) (Point, bool) {
	var hits []alignmentHit
	mid := (top + bottom) / 2
	height := bottom - top + 1

	for k := 0; k < height; k++ {
		y := mid + (k+1)/2
		if k%2 == 1 {
			y = mid - (k+1)/2
		}
		if y < top || y > bottom {
			continue
		}

		var runs [3]int
		state := 0
		x := left
		// Start on the first light pixel so that runs[0] is light.
		for x <= right && bm.Get(x, y) {
			x++
		}
		for ; x <= right; x++ {
			dark := bm.Get(x, y)
			switch {
			case state == 1 && dark, state != 1 && !dark:
				runs[state]++
				continue
			case state == 0 || state == 1:
				state++
				runs[state]++
				continue
			}
			// state 2 ended by a dark pixel
			if p, ok := confirmAlignment(bm, runs, x, y, pitch); ok {
				if found, done := recordHit(&hits, p, pitch); done {
					return found, true
				}
			}
			runs = [3]int{runs[2], 1, 0}
			state = 1
		}
	}
	if len(hits) > 0 {
		return hits[0].p, true
	}
	return Point{}, false
}

func matchesAlignment(runs [3]int, pitch float64) bool {
	variance := pitch / 2
	for _, r := range runs {
		if math.Abs(float64(r)-pitch) >= variance {
			return false
		}
	}
	return true
}

func confirmAlignment(bm *bitmap.BinaryBitmap, runs [3]int, end, y int, pitch float64) (Point, bool) {
	if !matchesAlignment(runs, pitch) {
		return Point{}, false
	}
	cx := float64(end-runs[2]) - float64(runs[1])/2
	cy, ok := crossCheckAlignment(bm, int(cx), y, 2*runs[1], pitch)
	if !ok {
		return Point{}, false
	}
	return Point{X: cx, Y: cy}, true
}

// recordHit merges p into hits and reports the merged point once it has been
// seen twice.
func recordHit(hits *[]alignmentHit, p Point, pitch float64) (Point, bool) {
	for i, h := range *hits {
		if math.Abs(h.p.X-p.X) <= pitch && math.Abs(h.p.Y-p.Y) <= pitch {
			merged := Point{X: (h.p.X*float64(h.count) + p.X) / float64(h.count+1), Y: (h.p.Y*float64(h.count) + p.Y) / float64(h.count+1)}
			(*hits)[i] = alignmentHit{p: merged, count: h.count + 1}
			return merged, true
		}
	}
	*hits = append(*hits, alignmentHit{p: p, count: 1})
	return Point{}, false
}

// crossCheckAlignment measures the light:dark:light run through column x and
// returns the vertical centre of the dark run.
func crossCheckAlignment(bm *bitmap.BinaryBitmap, x, startY, maxCount int, pitch float64) (float64, bool) {
	var runs [3]int
	h := bm.Height

	y := startY
	for y >= 0 && bm.Get(x, y) && runs[1] <= maxCount {
		runs[1]++
		y--
	}
	if y < 0 || runs[1] > maxCount {
		return 0, false
	}
	for y >= 0 && !bm.Get(x, y) && runs[0] <= maxCount {
		runs[0]++
		y--
	}
	if runs[0] > maxCount {
		return 0, false
	}

	y = startY + 1
	for y < h && bm.Get(x, y) && runs[1] <= maxCount {
		runs[1]++
		y++
	}
	if y == h || runs[1] > maxCount {
		return 0, false
	}
	for y < h && !bm.Get(x, y) && runs[2] <= maxCount {
		runs[2]++
		y++
	}
	if runs[2] > maxCount {
		return 0, false
	}

	total := runs[0] + runs[1] + runs[2]
	expected := 3 * pitch
	if 5*math.Abs(float64(total)-expected) >= 2*expected {
		return 0, false
	}
	if !matchesAlignment(runs, pitch) {
		return 0, false
	}
	return float64(y-runs[2]) - float64(runs[1])/2, true
}
