// Package finder locates QR finder patterns: the nested squares whose scan
// lines read dark:light:dark:light:dark in a 1:1:3:1:1 ratio.
package finder

import (
	"math"
	"sort"

	"github.com/MeKo-Tech/qrlens/internal/bitmap"
)

const (
	// maxModules bounds the row skip so that the smallest finder of a large
	// symbol is still crossed by at least one scanned row.
	maxModules = 97
	minSkip    = 3
)

// Candidate is a confirmed finder pattern centre in image space.
type Candidate struct {
	Row float64
	Col float64

	// ModuleSizeH and ModuleSizeV are the estimated module pitch along the
	// image axes, measured as the width of the whole pattern divided by 7.
	ModuleSizeH float64
	ModuleSizeV float64

	// Count is the number of scan hits merged into this candidate.
	Count int
}

// ModuleSize is the mean of the horizontal and vertical pitch.
func (c Candidate) ModuleSize() float64 {
	return (c.ModuleSizeH + c.ModuleSizeV) / 2
}

// Options tunes the scan.
type Options struct {
	// TryHarder scans every row instead of skipping.
	TryHarder bool

	// SkipDiagonal disables the diagonal cross check.
	SkipDiagonal bool
}

type locator struct {
	bm   *bitmap.BinaryBitmap
	opts Options
	hits []Candidate
}

// Locate returns every finder pattern found in bm, most confirmed first.
func Locate(bm *bitmap.BinaryBitmap, opts Options) []Candidate {
	if bm == nil || bm.Width < 7 || bm.Height < 7 {
		return nil
	}
	l := &locator{bm: bm, opts: opts}

	skip := (3 * bm.Height) / (4 * maxModules)
	if skip < minSkip {
		skip = minSkip
	}
	if opts.TryHarder {
		skip = 1
	}

	for y := skip - 1; y < bm.Height; y += skip {
		l.scanRow(y)
	}

	sort.SliceStable(l.hits, func(i, j int) bool { return l.hits[i].Count > l.hits[j].Count })
	return l.hits
}

func (l *locator) scanRow(y int) {
	var runs [5]int
	state := 0
	row := l.bm.Row(y)

	for x, dark := range row {
		if dark {
			if state&1 == 1 {
				state++
			}
			runs[state]++
			continue
		}
		if state&1 == 1 {
			runs[state]++
			continue
		}
		if state != 4 {
			state++
			runs[state]++
			continue
		}
		if matchesRatio(runs) {
			l.confirm(runs, y, x)
		}
		// Slide the window two runs along: the last dark:light pair becomes
		// the first pair of the next candidate.
		runs = [5]int{runs[2], runs[3], runs[4], 1, 0}
		state = 3
	}
	if state == 4 && matchesRatio(runs) {
		l.confirm(runs, y, len(row))
	}
}

// matchesRatio applies a ±50% tolerance to each single-module run and
// ±1.5 modules to the centre run.
func matchesRatio(runs [5]int) bool {
	total := 0
	for _, r := range runs {
		if r == 0 {
			return false
		}
		total += r
	}
	if total < 7 {
		return false
	}
	module := float64(total) / 7
	variance := module / 2
	return math.Abs(module-float64(runs[0])) < variance &&
		math.Abs(module-float64(runs[1])) < variance &&
		math.Abs(3*module-float64(runs[2])) < 3*variance &&
		math.Abs(module-float64(runs[3])) < variance &&
		math.Abs(module-float64(runs[4])) < variance
}

func matchesRatioDiagonal(runs [5]int) bool {
	total := 0
	for _, r := range runs {
		if r == 0 {
			return false
		}
		total += r
	}
	if total < 7 {
		return false
	}
	module := float64(total) / 7
	variance := module / 1.333
	return math.Abs(module-float64(runs[0])) < variance &&
		math.Abs(module-float64(runs[1])) < variance &&
		math.Abs(3*module-float64(runs[2])) < 3*variance &&
		math.Abs(module-float64(runs[3])) < variance &&
		math.Abs(module-float64(runs[4])) < variance
}

func sum(runs [5]int) int {
	return runs[0] + runs[1] + runs[2] + runs[3] + runs[4]
}

// centreFromEnd converts the coordinate just past the last run into the
// centre of the middle run.
func centreFromEnd(runs [5]int, end int) float64 {
	return float64(end-runs[4]-runs[3]) - float64(runs[2])/2
}

// confirm cross-checks a horizontal hit ending at column x of row y and
// records it.
func (l *locator) confirm(runs [5]int, y, x int) bool {
	hTotal := sum(runs)
	col := centreFromEnd(runs, x)

	row, vTotal, ok := l.crossCheckVertical(y, int(col), runs[2], hTotal)
	if !ok {
		return false
	}

	// Re-measure horizontally through the refined centre row.
	col, hTotal, ok = l.crossCheckHorizontal(int(col), int(row), runs[2], hTotal)
	if !ok {
		return false
	}

	if !l.opts.SkipDiagonal && !l.crossCheckDiagonal(int(row), int(col)) {
		return false
	}

	hit := Candidate{
		Row:         row,
		Col:         col,
		ModuleSizeH: float64(hTotal) / 7,
		ModuleSizeV: float64(vTotal) / 7,
		Count:       1,
	}
	for i, c := range l.hits {
		if c.near(hit) {
			l.hits[i] = c.merge(hit)
			return true
		}
	}
	l.hits = append(l.hits, hit)
	return true
}

// crossCheckVertical walks up and down from (col, startRow) and returns the
// refined centre row and the vertical pattern size.
func (l *locator) crossCheckVertical(startRow, col, maxCount, originalTotal int) (float64, int, bool) {
	var runs [5]int
	h := l.bm.Height

	y := startRow
	for y >= 0 && l.bm.Get(col, y) {
		runs[2]++
		y--
	}
	if y < 0 {
		return 0, 0, false
	}
	for y >= 0 && !l.bm.Get(col, y) && runs[1] <= maxCount {
		runs[1]++
		y--
	}
	if y < 0 || runs[1] > maxCount {
		return 0, 0, false
	}
	for y >= 0 && l.bm.Get(col, y) && runs[0] <= maxCount {
		runs[0]++
		y--
	}
	if runs[0] > maxCount {
		return 0, 0, false
	}

	y = startRow + 1
	for y < h && l.bm.Get(col, y) {
		runs[2]++
		y++
	}
	if y == h {
		return 0, 0, false
	}
	for y < h && !l.bm.Get(col, y) && runs[3] <= maxCount {
		runs[3]++
		y++
	}
	if y == h || runs[3] > maxCount {
		return 0, 0, false
	}
	for y < h && l.bm.Get(col, y) && runs[4] <= maxCount {
		runs[4]++
		y++
	}
	if runs[4] > maxCount {
		return 0, 0, false
	}

	// A vertical extent wildly different from the horizontal one is not a
	// square pattern, though perspective may stretch it somewhat.
	total := sum(runs)
	if 5*absInt(total-originalTotal) >= 2*originalTotal {
		return 0, 0, false
	}
	if !matchesRatio(runs) {
		return 0, 0, false
	}
	return centreFromEnd(runs, y), total, true
}

// crossCheckHorizontal repeats the row measurement through row.
func (l *locator) crossCheckHorizontal(startCol, row, maxCount, originalTotal int) (float64, int, bool) {
	var runs [5]int
	w := l.bm.Width

	x := startCol
	for x >= 0 && l.bm.Get(x, row) {
		runs[2]++
		x--
	}
	if x < 0 {
		return 0, 0, false
	}
	for x >= 0 && !l.bm.Get(x, row) && runs[1] <= maxCount {
		runs[1]++
		x--
	}
	if x < 0 || runs[1] > maxCount {
		return 0, 0, false
	}
	for x >= 0 && l.bm.Get(x, row) && runs[0] <= maxCount {
		runs[0]++
		x--
	}
	if runs[0] > maxCount {
		return 0, 0, false
	}

	x = startCol + 1
	for x < w && l.bm.Get(x, row) {
		runs[2]++
		x++
	}
	if x == w {
		return 0, 0, false
	}
	for x < w && !l.bm.Get(x, row) && runs[3] <= maxCount {
		runs[3]++
		x++
	}
	if x == w || runs[3] > maxCount {
		return 0, 0, false
	}
	for x < w && l.bm.Get(x, row) && runs[4] <= maxCount {
		runs[4]++
		x++
	}
	if runs[4] > maxCount {
		return 0, 0, false
	}

	total := sum(runs)
	if 5*absInt(total-originalTotal) >= originalTotal {
		return 0, 0, false
	}
	if !matchesRatio(runs) {
		return 0, 0, false
	}
	return centreFromEnd(runs, x), total, true
}

// crossCheckDiagonal walks the top-left to bottom-right diagonal through
// (row, col). Finder patterns keep their ratio along the diagonal; most
// false positives from text and texture do not.
func (l *locator) crossCheckDiagonal(row, col int) bool {
	var runs [5]int

	i := 0
	for row >= i && col >= i && l.bm.Get(col-i, row-i) {
		runs[2]++
		i++
	}
	if runs[2] == 0 {
		return false
	}
	for row >= i && col >= i && !l.bm.Get(col-i, row-i) {
		runs[1]++
		i++
	}
	if runs[1] == 0 {
		return false
	}
	for row >= i && col >= i && l.bm.Get(col-i, row-i) {
		runs[0]++
		i++
	}
	if runs[0] == 0 {
		return false
	}

	w, h := l.bm.Width, l.bm.Height
	i = 1
	for row+i < h && col+i < w && l.bm.Get(col+i, row+i) {
		runs[2]++
		i++
	}
	for row+i < h && col+i < w && !l.bm.Get(col+i, row+i) {
		runs[3]++
		i++
	}
	if runs[3] == 0 {
		return false
	}
	for row+i < h && col+i < w && l.bm.Get(col+i, row+i) {
		runs[4]++
		i++
	}
	if runs[4] == 0 {
		return false
	}
	return matchesRatioDiagonal(runs)
}

func (c Candidate) near(o Candidate) bool {
	module := math.Max(o.ModuleSizeH, o.ModuleSizeV)
	if math.Abs(o.Row-c.Row) > module || math.Abs(o.Col-c.Col) > module {
		return false
	}
	diff := math.Abs(o.ModuleSize() - c.ModuleSize())
	return diff <= 1.0 || diff <= c.ModuleSize()
}

func (c Candidate) merge(o Candidate) Candidate {
	n := float64(c.Count + o.Count)
	wc, wo := float64(c.Count)/n, float64(o.Count)/n
	return Candidate{
		Row:         c.Row*wc + o.Row*wo,
		Col:         c.Col*wc + o.Col*wo,
		ModuleSizeH: c.ModuleSizeH*wc + o.ModuleSizeH*wo,
		ModuleSizeV: c.ModuleSizeV*wc + o.ModuleSizeV*wo,
		Count:       c.Count + o.Count,
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
