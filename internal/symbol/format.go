package symbol

import (
	"math/bits"

	"github.com/MeKo-Tech/qrlens/internal/qrerr"
)

const (
	// FormatMask is XORed onto the 15-bit format word before placement.
	FormatMask = 0x5412

	formatGenerator  = 0x537
	versionGenerator = 0x1F25

	maxInfoDistance = 3
)

// FormatInfo is the decoded 5-bit format word.
type FormatInfo struct {
	Level ECLevel
	Mask  int
}

// formatWords[d] is the masked 15-bit word carrying data bits d.
var formatWords = func() [32]int {
	var out [32]int
	for d := range out {
		out[d] = (d<<10 | bchRemainder(d<<10, formatGenerator)) ^ FormatMask
	}
	return out
}()

// versionWords[i] is the 18-bit word for version i+7.
var versionWords = func() [34]int {
	var out [34]int
	for i := range out {
		v := i + 7
		out[i] = v<<12 | bchRemainder(v<<12, versionGenerator)
	}
	return out
}()

// bchRemainder divides value by the generator polynomial over GF(2).
func bchRemainder(value, generator int) int {
	gLen := bits.Len(uint(generator))
	for bits.Len(uint(value)) >= gLen {
		value ^= generator << (bits.Len(uint(value)) - gLen)
	}
	return value
}

// FormatWord returns the masked 15-bit format word for level and mask.
func FormatWord(level ECLevel, mask int) int {
	return formatWords[level.Bits()<<3|mask&0x07]
}

// VersionWord returns the 18-bit version word for versions 7 to 40.
func VersionWord(number int) int {
	if number < 7 || number > 40 {
		return 0
	}
	return versionWords[number-7]
}

// ReadFormat decodes the format information from its two copies. Both
// copies are matched against the masked words first. Only when neither is
// within correction distance are they retried with the mask removed, so
// symbols written without the mask still decode without weakening the
// 3-bit correction of masked words.
func ReadFormat(g *Grid) (FormatInfo, error) {
	first, second := formatBits(g)

	best, bestDist := closestFormat(first, second)
	if bestDist > maxInfoDistance {
		best, bestDist = closestFormat(first^FormatMask, second^FormatMask)
	}
	if best < 0 || bestDist > maxInfoDistance {
		return FormatInfo{}, qrerr.New(qrerr.ErrFormatUnrecoverable, "format", "no format word within distance %d", maxInfoDistance)
	}
	return FormatInfo{Level: ECLevelFromBits(best >> 3), Mask: best & 0x07}, nil
}

// closestFormat returns the data bits of the format word nearest to either
// read, and its distance.
func closestFormat(reads ...int) (int, int) {
	best, bestDist := -1, 32
	for _, raw := range reads {
		for d, word := range formatWords {
			if dist := bits.OnesCount(uint(raw ^ word)); dist < bestDist {
				best, bestDist = d, dist
			}
		}
	}
	return best, bestDist
}

// Cell is a (row, col) module address.
type Cell struct {
	Row, Col int
}

// FormatCells lists the module positions of both format copies, most
// significant bit first.
func FormatCells(dim int) (first, second [15]Cell) {
	i := 0
	for col := 0; col <= 5; col++ {
		first[i] = Cell{8, col}
		i++
	}
	first[6] = Cell{8, 7}
	first[7] = Cell{8, 8}
	first[8] = Cell{7, 8}
	i = 9
	for row := 5; row >= 0; row-- {
		first[i] = Cell{row, 8}
		i++
	}

	// The second copy is split between the bottom-left and top-right finders.
	i = 0
	for row := dim - 1; row >= dim-7; row-- {
		second[i] = Cell{row, 8}
		i++
	}
	for col := dim - 8; col < dim; col++ {
		second[i] = Cell{8, col}
		i++
	}
	return first, second
}

func formatBits(g *Grid) (int, int) {
	first, second := FormatCells(g.Dimension)
	return readCells(g, first[:]), readCells(g, second[:])
}

func readCells(g *Grid, cells []Cell) int {
	acc := 0
	for _, c := range cells {
		acc <<= 1
		if g.Get(c.Row, c.Col) {
			acc |= 1
		}
	}
	return acc
}

// ReadVersion returns the version recorded in the grid. Versions below 7
// carry no version information and are implied by the dimension. Larger
// versions must decode from either copy to the version the grid was
// sampled with.
func ReadVersion(g *Grid) (*Version, error) {
	implied, err := VersionForDimension(g.Dimension)
	if err != nil {
		return nil, qrerr.Wrap(qrerr.ErrFormatUnrecoverable, "version", err)
	}
	if implied.Number < 7 {
		return implied, nil
	}

	topRight, bottomLeft := versionBits(g)
	for _, raw := range []int{topRight, bottomLeft} {
		n, ok := decodeVersionWord(raw)
		if ok && n == implied.Number {
			return implied, nil
		}
	}
	return nil, qrerr.New(qrerr.ErrFormatUnrecoverable, "version", "version information disagrees with estimate %d", implied.Number)
}

func decodeVersionWord(raw int) (int, bool) {
	best, bestDist := 0, 32
	for i, word := range versionWords {
		dist := bits.OnesCount(uint(raw ^ word))
		if dist < bestDist {
			best, bestDist = i+7, dist
		}
	}
	return best, bestDist <= maxInfoDistance
}

// VersionCells lists the module positions of the top-right and bottom-left
// version copies, most significant bit first.
func VersionCells(dim int) (topRight, bottomLeft [18]Cell) {
	i := 0
	for a := 5; a >= 0; a-- {
		for b := dim - 9; b >= dim-11; b-- {
			topRight[i] = Cell{a, b}
			bottomLeft[i] = Cell{b, a}
			i++
		}
	}
	return topRight, bottomLeft
}

func versionBits(g *Grid) (int, int) {
	topRight, bottomLeft := VersionCells(g.Dimension)
	return readCells(g, topRight[:]), readCells(g, bottomLeft[:])
}
