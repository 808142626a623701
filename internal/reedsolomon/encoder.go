package reedsolomon

import (
	"sync"

	"github.com/MeKo-Tech/qrlens/internal/qrerr"
)

// Encoder computes EC codewords. Generator polynomials are cached per degree.
type Encoder struct {
	field *Field

	mu         sync.Mutex
	generators map[int][]int
}

// NewEncoder returns an encoder over field.
func NewEncoder(field *Field) *Encoder {
	return &Encoder{field: field, generators: map[int][]int{0: {1}}}
}

// generator returns Π (x - α^i) for i < degree, highest degree first.
func (e *Encoder) generator(degree int) []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if g, ok := e.generators[degree]; ok {
		return g
	}
	g := []int{1}
	for i := 0; i < degree; i++ {
		next := make([]int, len(g)+1)
		root := e.field.Exp(i)
		for j, c := range g {
			next[j] ^= c
			next[j+1] ^= e.field.Mul(c, root)
		}
		g = next
	}
	e.generators[degree] = g
	return g
}

// Encode fills the last ecCount entries of block with EC codewords for the
// data codewords before them.
func (e *Encoder) Encode(block []int, ecCount int) error {
	dataLen := len(block) - ecCount
	if ecCount <= 0 || dataLen <= 0 || len(block) > 255 {
		return qrerr.New(qrerr.ErrInvalidInput, "rs", "cannot encode %d data with %d EC codewords", dataLen, ecCount)
	}
	gen := e.generator(ecCount)
	rem := make([]int, ecCount)
	for _, c := range block[:dataLen] {
		factor := c ^ rem[0]
		copy(rem, rem[1:])
		rem[ecCount-1] = 0
		if factor == 0 {
			continue
		}
		for i := range rem {
			rem[i] ^= e.field.Mul(gen[i+1], factor)
		}
	}
	copy(block[dataLen:], rem)
	return nil
}
