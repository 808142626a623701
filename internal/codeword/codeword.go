// Package codeword reads codewords out of an unmasked module grid and
// splits them into Reed-Solomon blocks.
package codeword

import (
	"github.com/MeKo-Tech/qrlens/internal/qrerr"
	"github.com/MeKo-Tech/qrlens/internal/symbol"
)

// ECBlock is one Reed-Solomon block: its data codewords followed by EC
// codewords.
type ECBlock struct {
	Data []byte
	EC   []byte

	// Capacity is the number of codeword errors the block can correct.
	Capacity int
}

// Codewords returns data and EC codewords as one RS word.
func (b ECBlock) Codewords() []int {
	out := make([]int, 0, len(b.Data)+len(b.EC))
	for _, c := range b.Data {
		out = append(out, int(c))
	}
	for _, c := range b.EC {
		out = append(out, int(c))
	}
	return out
}

// traverse lists the non-function cells in placement order: two-column
// strips from the right edge, alternately upward and downward, skipping
// the vertical timing column.
func traverse(dim int, isFunction func(row, col int) bool) []symbol.Cell {
	cells := make([]symbol.Cell, 0, dim*dim)
	up := true
	for right := dim - 1; right > 0; right -= 2 {
		if right == 6 {
			right--
		}
		for k := 0; k < dim; k++ {
			row := k
			if up {
				row = dim - 1 - k
			}
			for dx := 0; dx < 2; dx++ {
				col := right - dx
				if !isFunction(row, col) {
					cells = append(cells, symbol.Cell{Row: row, Col: col})
				}
			}
		}
		up = !up
	}
	return cells
}

// Positions returns the cells of every codeword bit of v, eight per
// codeword, most significant bit first. Remainder cells are not included.
func Positions(v *symbol.Version) [][8]symbol.Cell {
	mask := v.FunctionMask()
	dim := v.Dimension()
	cells := traverse(dim, func(row, col int) bool { return mask[row*dim+col] })

	out := make([][8]symbol.Cell, v.TotalCodewords)
	for i := range out {
		copy(out[i][:], cells[i*8:i*8+8])
	}
	return out
}

// Read extracts the raw codewords of an unmasked grid.
func Read(g *symbol.Grid) ([]byte, error) {
	if g.Version == nil || g.Dimension != g.Version.Dimension() {
		return nil, qrerr.New(qrerr.ErrGridMismatch, "codeword", "grid dimension %d does not match its version", g.Dimension)
	}

	cells := traverse(g.Dimension, g.IsFunction)
	total := g.Version.TotalCodewords
	if len(cells)/8 != total {
		return nil, qrerr.New(qrerr.ErrGridMismatch, "codeword", "read %d codewords, version %d holds %d", len(cells)/8, g.Version.Number, total)
	}

	out := make([]byte, total)
	for i := 0; i < total*8; i++ {
		if g.Get(cells[i].Row, cells[i].Col) {
			out[i/8] |= 0x80 >> (i % 8)
		}
	}
	return out, nil
}

// Split deals interleaved codewords back into their blocks. Data codewords
// are interleaved across all blocks, the extra codeword of each longer block
// follows, then the EC codewords.
func Split(raw []byte, v *symbol.Version, level symbol.ECLevel) ([]ECBlock, error) {
	if len(raw) != v.TotalCodewords {
		return nil, qrerr.New(qrerr.ErrGridMismatch, "codeword", "got %d codewords, version %d holds %d", len(raw), v.Number, v.TotalCodewords)
	}

	lb := v.Blocks(level)
	var blocks []ECBlock
	for _, grp := range lb.Groups {
		for i := 0; i < grp.Count; i++ {
			blocks = append(blocks, ECBlock{
				Data:     make([]byte, grp.DataCodewords),
				EC:       make([]byte, lb.ECPerBlock),
				Capacity: lb.ECPerBlock / 2,
			})
		}
	}

	shortLen := len(blocks[0].Data)
	next := 0
	for i := 0; i < shortLen; i++ {
		for b := range blocks {
			blocks[b].Data[i] = raw[next]
			next++
		}
	}
	for b := range blocks {
		if len(blocks[b].Data) > shortLen {
			blocks[b].Data[shortLen] = raw[next]
			next++
		}
	}
	for i := 0; i < lb.ECPerBlock; i++ {
		for b := range blocks {
			blocks[b].EC[i] = raw[next]
			next++
		}
	}
	return blocks, nil
}

// Interleave is the inverse of Split.
func Interleave(blocks []ECBlock) []byte {
	if len(blocks) == 0 {
		return nil
	}
	var out []byte
	longest := 0
	for _, b := range blocks {
		longest = max(longest, len(b.Data))
	}
	for i := 0; i < longest; i++ {
		for _, b := range blocks {
			if i < len(b.Data) {
				out = append(out, b.Data[i])
			}
		}
	}
	for i := range blocks[0].EC {
		for _, b := range blocks {
			out = append(out, b.EC[i])
		}
	}
	return out
}

// Join concatenates the data codewords of blocks in order.
func Join(blocks []ECBlock) []byte {
	var out []byte
	for _, b := range blocks {
		out = append(out, b.Data...)
	}
	return out
}
