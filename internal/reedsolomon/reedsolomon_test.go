package reedsolomon

import (
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/qrlens/internal/qrerr"
)

func TestField(t *testing.T) {
	f := QRField
	assert.Equal(t, 1, f.Exp(0))
	assert.Equal(t, 2, f.Exp(1))
	assert.Equal(t, 0x1D, f.Exp(8))
	assert.Equal(t, 1, f.Exp(255))

	for a := 1; a < 256; a++ {
		assert.Equal(t, 1, f.Mul(a, f.Inv(a)), "a=%d", a)
		assert.Equal(t, a, f.Div(f.Mul(a, 7), 7))
		assert.Equal(t, a, f.Exp(f.Log(a)))
	}
	assert.Equal(t, 0, f.Mul(0, 9))
	assert.Equal(t, 0, f.Div(0, 9))
}

// helloBlock is version 1-M "HELLO": 16 data and 10 EC codewords.
var helloBlock = []int{
	0x20, 0x2B, 0x0B, 0x78, 0xCC, 0x00, 0xEC, 0x11, 0xEC, 0x11, 0xEC, 0x11, 0xEC, 0x11, 0xEC, 0x11,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

func encoded(t *testing.T, data []int, ecCount int) []int {
	t.Helper()
	block := append(append([]int(nil), data...), make([]int, ecCount)...)
	require.NoError(t, NewEncoder(QRField).Encode(block, ecCount))
	return block
}

func TestEncoder_ProducesCodeword(t *testing.T) {
	block := append([]int(nil), helloBlock...)
	require.NoError(t, NewEncoder(QRField).Encode(block, 10))

	// Every generator root is a root of a valid codeword.
	for i := 0; i < 10; i++ {
		assert.Equal(t, 0, QRField.evalHigh(block, QRField.Exp(i)))
	}

	err := NewEncoder(QRField).Encode([]int{1, 2}, 2)
	assert.ErrorIs(t, err, qrerr.ErrInvalidInput)
}

func TestDecode_Clean(t *testing.T) {
	block := encoded(t, helloBlock[:16], 10)
	want := append([]int(nil), block...)

	n, err := NewDecoder(QRField).Decode(block, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, want, block)
}

func TestDecode_UpToCapacity(t *testing.T) {
	dec := NewDecoder(QRField)
	tests := []struct {
		name      string
		positions []int
	}{
		{"single data error", []int{3}},
		{"single EC error", []int{24}},
		{"first and last", []int{0, 25}},
		{"capacity", []int{1, 5, 9, 14, 20}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := encoded(t, helloBlock[:16], 10)
			block := append([]int(nil), want...)
			for _, p := range tt.positions {
				block[p] ^= 0x5A
			}
			n, err := dec.Decode(block, 10)
			require.NoError(t, err)
			assert.Equal(t, len(tt.positions), n)
			assert.Equal(t, want, block)
		})
	}
}

func TestDecode_BeyondCapacity(t *testing.T) {
	want := encoded(t, helloBlock[:16], 10)
	block := append([]int(nil), want...)
	for _, p := range []int{0, 2, 4, 6, 8, 10} {
		block[p] ^= 0xFF
	}
	damaged := append([]int(nil), block...)

	_, err := NewDecoder(QRField).Decode(block, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, qrerr.ErrUncorrectableBlock)
	assert.Equal(t, damaged, block, "block restored on failure")
}

func TestDecode_InvalidInput(t *testing.T) {
	dec := NewDecoder(QRField)
	_, err := dec.Decode([]int{1, 2, 3}, 0)
	assert.ErrorIs(t, err, qrerr.ErrInvalidInput)
	_, err = dec.Decode([]int{1, 2, 3}, 3)
	assert.ErrorIs(t, err, qrerr.ErrInvalidInput)
	_, err = dec.Decode([]int{1, 300, 3}, 1)
	assert.ErrorIs(t, err, qrerr.ErrInvalidInput)
}

func TestDecode_Properties(t *testing.T) {
	properties := gopter.NewProperties(nil)
	enc := NewEncoder(QRField)
	dec := NewDecoder(QRField)

	properties.Property("corrects any pattern of at most ecCount/2 errors", prop.ForAll(
		func(dataLen, ecCount int, seed int64) bool {
			rng := rand.New(rand.NewSource(seed))
			block := make([]int, dataLen+ecCount)
			for i := 0; i < dataLen; i++ {
				block[i] = rng.Intn(256)
			}
			if enc.Encode(block, ecCount) != nil {
				return false
			}
			want := append([]int(nil), block...)

			errs := rng.Intn(ecCount/2 + 1)
			for _, p := range rng.Perm(len(block))[:errs] {
				block[p] ^= 1 + rng.Intn(255)
			}
			n, err := dec.Decode(block, ecCount)
			if err != nil || n != errs {
				return false
			}
			for i := range want {
				if block[i] != want[i] {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 120),
		gen.IntRange(2, 30),
		gen.Int64(),
	))

	properties.Property("capacity plus one never yields a wrong clean block", prop.ForAll(
		func(seed int64) bool {
			rng := rand.New(rand.NewSource(seed))
			const dataLen, ecCount = 20, 8
			block := make([]int, dataLen+ecCount)
			for i := 0; i < dataLen; i++ {
				block[i] = rng.Intn(256)
			}
			if enc.Encode(block, ecCount) != nil {
				return false
			}
			for _, p := range rng.Perm(len(block))[:ecCount/2+1] {
				block[p] ^= 1 + rng.Intn(255)
			}
			_, err := dec.Decode(block, ecCount)
			if err != nil {
				return qrerr.KindOf(err) == qrerr.KindRS
			}
			// A miscorrection onto another codeword is possible in
			// principle; it must at least be a valid codeword.
			_, clean := dec.syndromes(block, ecCount)
			return clean
		},
		gen.Int64(),
	))

	properties.TestingRun(t)
}
