package reedsolomon

import (
	"github.com/MeKo-Tech/qrlens/internal/qrerr"
)

// Decoder corrects codeword blocks in place.
type Decoder struct {
	field *Field
}

// NewDecoder returns a decoder over field.
func NewDecoder(field *Field) *Decoder {
	return &Decoder{field: field}
}

// Decode corrects up to ecCount/2 errors in block, whose last ecCount entries
// are the EC codewords, and returns how many codewords it changed. On error
// the block is left as it was.
func (d *Decoder) Decode(block []int, ecCount int) (int, error) {
	if ecCount <= 0 || ecCount >= len(block) || len(block) > 255 {
		return 0, qrerr.New(qrerr.ErrInvalidInput, "rs", "block of %d with %d EC codewords", len(block), ecCount)
	}
	for i, c := range block {
		if c < 0 || c > 255 {
			return 0, qrerr.New(qrerr.ErrInvalidInput, "rs", "codeword %d value %d out of range", i, c)
		}
	}

	syndromes, clean := d.syndromes(block, ecCount)
	if clean {
		return 0, nil
	}

	locator, length := d.berlekampMassey(syndromes)
	degree := len(locator) - 1
	if degree != length {
		return 0, qrerr.New(qrerr.ErrUncorrectableBlock, "rs", "locator degree %d does not match register length %d", degree, length)
	}
	if degree > ecCount/2 {
		return 0, qrerr.New(qrerr.ErrUncorrectableBlock, "rs", "locator degree %d exceeds capacity %d", degree, ecCount/2)
	}

	positions := d.chienSearch(locator, len(block))
	if len(positions) != degree {
		return 0, qrerr.New(qrerr.ErrUncorrectableBlock, "rs", "found %d roots for locator of degree %d", len(positions), degree)
	}

	magnitudes, err := d.forney(syndromes, locator, positions, len(block))
	if err != nil {
		return 0, err
	}

	saved := append([]int(nil), block...)
	for k, pos := range positions {
		block[pos] ^= magnitudes[k]
	}
	if _, ok := d.syndromes(block, ecCount); !ok {
		copy(block, saved)
		return 0, qrerr.New(qrerr.ErrUncorrectableBlock, "rs", "residual syndrome after correcting %d codewords", len(positions))
	}
	return len(positions), nil
}

// syndromes evaluates the received polynomial at α^0 .. α^(ecCount-1).
func (d *Decoder) syndromes(block []int, ecCount int) ([]int, bool) {
	s := make([]int, ecCount)
	clean := true
	for i := range s {
		s[i] = d.field.evalHigh(block, d.field.Exp(i))
		if s[i] != 0 {
			clean = false
		}
	}
	return s, clean
}

// berlekampMassey returns the error locator Λ(x), lowest degree first and
// trimmed to its true degree, together with the LFSR length.
func (d *Decoder) berlekampMassey(s []int) ([]int, int) {
	f := d.field
	c := []int{1}
	b := []int{1}
	length, m, lastDisc := 0, 1, 1

	for n := range s {
		disc := s[n]
		for i := 1; i <= length && i < len(c); i++ {
			disc ^= f.Mul(c[i], s[n-i])
		}
		if disc == 0 {
			m++
			continue
		}

		scale := f.Div(disc, lastDisc)
		next := make([]int, max(len(c), len(b)+m))
		copy(next, c)
		for i, coef := range b {
			next[i+m] ^= f.Mul(scale, coef)
		}

		if 2*length <= n {
			b = c
			length = n + 1 - length
			lastDisc = disc
			m = 1
		} else {
			m++
		}
		c = next
	}

	for len(c) > 1 && c[len(c)-1] == 0 {
		c = c[:len(c)-1]
	}
	return c, length
}

// chienSearch returns the block indices i whose power n-1-i is a root
// position of the locator.
func (d *Decoder) chienSearch(locator []int, n int) []int {
	var positions []int
	for i := 0; i < n; i++ {
		power := n - 1 - i
		if d.field.evalLow(locator, d.field.Exp(255-power)) == 0 {
			positions = append(positions, i)
		}
	}
	return positions
}

// forney computes the error value at each position.
func (d *Decoder) forney(s, locator, positions []int, n int) ([]int, error) {
	f := d.field

	// Ω(x) = S(x)Λ(x) mod x^len(s)
	omega := make([]int, len(s))
	for i, sc := range s {
		for j, lc := range locator {
			if i+j < len(omega) {
				omega[i+j] ^= f.Mul(sc, lc)
			}
		}
	}

	// Formal derivative: only odd powers survive in characteristic 2.
	deriv := make([]int, max(len(locator)-1, 1))
	for i := 1; i < len(locator); i += 2 {
		deriv[i-1] = locator[i]
	}

	out := make([]int, len(positions))
	for k, pos := range positions {
		xk := f.Exp(n - 1 - pos)
		xkInv := f.Inv(xk)
		den := f.evalLow(deriv, xkInv)
		if den == 0 {
			return nil, qrerr.New(qrerr.ErrUncorrectableBlock, "rs", "zero locator derivative at position %d", pos)
		}
		out[k] = f.Mul(xk, f.Div(f.evalLow(omega, xkInv), den))
		if out[k] == 0 {
			return nil, qrerr.New(qrerr.ErrUncorrectableBlock, "rs", "zero error magnitude at position %d", pos)
		}
	}
	return out, nil
}
