package symbol

// Grid is the sampled module matrix of one symbol. Cells are addressed by
// (row, col) with row 0 at the top. The function mask marks finder, timing,
// alignment, format and version cells, which carry no data.
type Grid struct {
	Version   *Version
	Dimension int

	modules  []bool
	function []bool
}

// NewGrid returns an all-light grid for v with its function mask in place.
func NewGrid(v *Version) *Grid {
	dim := v.Dimension()
	return &Grid{
		Version:   v,
		Dimension: dim,
		modules:   make([]bool, dim*dim),
		function:  v.FunctionMask(),
	}
}

func (g *Grid) inside(row, col int) bool {
	return row >= 0 && col >= 0 && row < g.Dimension && col < g.Dimension
}

// Get reports whether the module at (row, col) is dark.
func (g *Grid) Get(row, col int) bool {
	if !g.inside(row, col) {
		return false
	}
	return g.modules[row*g.Dimension+col]
}

// Set stores one sampled module.
func (g *Grid) Set(row, col int, dark bool) {
	if g.inside(row, col) {
		g.modules[row*g.Dimension+col] = dark
	}
}

// Flip inverts one module.
func (g *Grid) Flip(row, col int) {
	if g.inside(row, col) {
		g.modules[row*g.Dimension+col] = !g.modules[row*g.Dimension+col]
	}
}

// IsFunction reports whether (row, col) is a function module.
func (g *Grid) IsFunction(row, col int) bool {
	if !g.inside(row, col) {
		return true
	}
	return g.function[row*g.Dimension+col]
}

// Clone returns an independent copy.
func (g *Grid) Clone() *Grid {
	c := *g
	c.modules = append([]bool(nil), g.modules...)
	return &c
}

// FunctionMask returns the row-major function-module mask for v.
func (v *Version) FunctionMask() []bool {
	dim := v.Dimension()
	mask := make([]bool, dim*dim)
	region := func(top, left, height, width int) {
		for r := top; r < top+height; r++ {
			for c := left; c < left+width; c++ {
				mask[r*dim+c] = true
			}
		}
	}

	// Finders with separators and format information. The bottom-left
	// block also covers the dark module at (dim-8, 8).
	region(0, 0, 9, 9)
	region(0, dim-8, 9, 8)
	region(dim-8, 0, 8, 9)

	n := len(v.AlignmentCenters)
	for i, row := range v.AlignmentCenters {
		for j, col := range v.AlignmentCenters {
			// Skip the three positions overlapping the finders.
			if (i == 0 && j == 0) || (i == 0 && j == n-1) || (i == n-1 && j == 0) {
				continue
			}
			region(row-2, col-2, 5, 5)
		}
	}

	region(6, 8, 1, dim-16)
	region(8, 6, dim-16, 1)

	if v.Number >= 7 {
		region(0, dim-11, 6, 3)
		region(dim-11, 0, 3, 6)
	}
	return mask
}

// DataModules counts the cells available for codewords.
func (v *Version) DataModules() int {
	n := 0
	for _, f := range v.FunctionMask() {
		if !f {
			n++
		}
	}
	return n
}
