// Package reedsolomon implements Reed-Solomon error correction over GF(256)
// as used by QR symbols: primitive polynomial 0x11D and generator roots
// α^0, α^1, ...
package reedsolomon

// Field is GF(2^8) built from a primitive polynomial.
type Field struct {
	exp [512]int
	log [256]int
}

// QRField is the field used by QR symbols: x^8 + x^4 + x^3 + x^2 + 1.
var QRField = NewField(0x11D)

// NewField builds log and antilog tables for primitive.
func NewField(primitive int) *Field {
	f := &Field{}
	x := 1
	for i := 0; i < 255; i++ {
		f.exp[i] = x
		f.log[x] = i
		x <<= 1
		if x >= 256 {
			x ^= primitive
		}
	}
	// The doubled table lets Mul skip the modulo.
	for i := 255; i < 512; i++ {
		f.exp[i] = f.exp[i-255]
	}
	return f
}

// Exp returns α^n for any n >= 0.
func (f *Field) Exp(n int) int {
	return f.exp[n%255]
}

// Log returns the discrete logarithm of a non-zero element.
func (f *Field) Log(a int) int {
	return f.log[a]
}

// Mul multiplies two field elements.
func (f *Field) Mul(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return f.exp[f.log[a]+f.log[b]]
}

// Inv returns the multiplicative inverse of a non-zero element.
func (f *Field) Inv(a int) int {
	return f.exp[255-f.log[a]]
}

// Div divides a by a non-zero b.
func (f *Field) Div(a, b int) int {
	if a == 0 {
		return 0
	}
	return f.exp[f.log[a]+255-f.log[b]]
}

// evalLow evaluates a polynomial stored lowest degree first at x.
func (f *Field) evalLow(p []int, x int) int {
	r := 0
	for i := len(p) - 1; i >= 0; i-- {
		r = f.Mul(r, x) ^ p[i]
	}
	return r
}

// evalHigh evaluates a polynomial stored highest degree first at x, which is
// how codeword blocks are laid out.
func (f *Field) evalHigh(p []int, x int) int {
	r := 0
	for _, c := range p {
		r = f.Mul(r, x) ^ c
	}
	return r
}
