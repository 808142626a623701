package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/qrlens/internal/symbol"
)

func TestEncodeQR(t *testing.T) {
	s := MustEncodeQR(t, "HELLO", QROptions{Level: "M"})
	assert.Equal(t, 1, s.Version)
	assert.Equal(t, 21, s.Dimension())

	// Finder corners are dark, the separator next to them light.
	assert.True(t, s.Modules[0][0])
	assert.True(t, s.Modules[0][20])
	assert.True(t, s.Modules[20][0])
	assert.False(t, s.Modules[7][7])

	_, err := EncodeQR("HELLO", QROptions{Level: "X"})
	assert.Error(t, err)
}

func TestSymbolImage(t *testing.T) {
	s := MustEncodeQR(t, "HELLO", QROptions{})
	img := s.Image(3, 4)
	assert.Equal(t, (21+8)*3, img.Bounds().Dx())

	bm := Binarize(t, img)
	assert.True(t, bm.Get(4*3+1, 4*3+1))
	assert.False(t, bm.Get(1, 1))
}

func TestFlipCodewords(t *testing.T) {
	s := MustEncodeQR(t, "HELLO", QROptions{})
	flipped := s.Clone()
	require.NoError(t, flipped.FlipCodewords(0, 5))

	diff := 0
	for r := range s.Modules {
		for c := range s.Modules[r] {
			if s.Modules[r][c] != flipped.Modules[r][c] {
				diff++
			}
		}
	}
	assert.Equal(t, 16, diff)
	assert.Error(t, flipped.FlipCodewords(26))
}

func TestBlockCodewords(t *testing.T) {
	// Version 5-Q: two blocks of 15 and two of 16 data codewords, 18 EC each.
	s := &Symbol{Version: 5}
	idx, err := s.BlockCodewords(symbol.ECLevelQ, 0)
	require.NoError(t, err)
	require.Len(t, idx, 15+18)
	assert.Equal(t, []int{0, 4, 8}, idx[:3])
	assert.Equal(t, 62, idx[15])

	idx, err = s.BlockCodewords(symbol.ECLevelQ, 3)
	require.NoError(t, err)
	require.Len(t, idx, 16+18)
	assert.Equal(t, 61, idx[15])
	assert.Equal(t, 65, idx[16])

	_, err = s.BlockCodewords(symbol.ECLevelQ, 4)
	assert.Error(t, err)
}

func TestTextImageAndSave(t *testing.T) {
	img := TextImage("no symbol here", 200, 80)
	path := filepath.Join(t.TempDir(), "text.png")
	SaveImage(t, img, path)
	assert.True(t, FileExists(path))
	assert.NotEmpty(t, EncodePNG(t, AddNoise(img, 40, 7)))
}
