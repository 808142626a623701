// Package mask removes the data mask from a sampled symbol.
package mask

import (
	"github.com/MeKo-Tech/qrlens/internal/qrerr"
	"github.com/MeKo-Tech/qrlens/internal/symbol"
)

// Patterns is the number of data mask patterns.
const Patterns = 8

// condition reports whether the mask flips the module at row i, column j.
var condition = [Patterns]func(i, j int) bool{
	func(i, j int) bool { return (i+j)%2 == 0 },
	func(i, _ int) bool { return i%2 == 0 },
	func(_, j int) bool { return j%3 == 0 },
	func(i, j int) bool { return (i+j)%3 == 0 },
	func(i, j int) bool { return (i/2+j/3)%2 == 0 },
	func(i, j int) bool { return (i*j)%2+(i*j)%3 == 0 },
	func(i, j int) bool { return ((i*j)%2+(i*j)%3)%2 == 0 },
	func(i, j int) bool { return ((i+j)%2+(i*j)%3)%2 == 0 },
}

// Flips reports whether pattern inverts the module at (row, col).
func Flips(pattern, row, col int) bool {
	if pattern < 0 || pattern >= Patterns {
		return false
	}
	return condition[pattern](row, col)
}

// Apply XORs pattern onto every non-function module of g. Applying the same
// pattern twice restores the grid.
func Apply(g *symbol.Grid, pattern int) error {
	if pattern < 0 || pattern >= Patterns {
		return qrerr.New(qrerr.ErrInvalidInput, "mask", "pattern %d out of range 0-7", pattern)
	}
	cond := condition[pattern]
	for row := 0; row < g.Dimension; row++ {
		for col := 0; col < g.Dimension; col++ {
			if !g.IsFunction(row, col) && cond(row, col) {
				g.Flip(row, col)
			}
		}
	}
	return nil
}
