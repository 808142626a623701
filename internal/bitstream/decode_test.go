package bitstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/qrlens/internal/qrerr"
)

type bitWriter struct {
	bits []bool
}

func (w *bitWriter) put(v, n int) *bitWriter {
	for i := n - 1; i >= 0; i-- {
		w.bits = append(w.bits, v>>i&1 == 1)
	}
	return w
}

func (w *bitWriter) bytes() []byte {
	out := make([]byte, (len(w.bits)+7)/8)
	for i, b := range w.bits {
		if b {
			out[i/8] |= 0x80 >> (i % 8)
		}
	}
	return out
}

func TestDecode_Hello(t *testing.T) {
	data := []byte{0x20, 0x2B, 0x0B, 0x78, 0xCC, 0x00, 0xEC, 0x11, 0xEC, 0x11, 0xEC, 0x11, 0xEC, 0x11, 0xEC, 0x11}
	segs, err := Decode(data, 1)
	require.NoError(t, err)
	assert.Equal(t, "HELLO", segs.Text)
	require.Len(t, segs.Segments, 1)
	assert.Equal(t, ModeAlphanumeric, segs.Segments[0].Mode)
	assert.Equal(t, -1, segs.ECI)
	assert.Equal(t, 1, segs.SymbologyModifier())
}

func TestDecode_Modes(t *testing.T) {
	tests := []struct {
		name    string
		version int
		stream  *bitWriter
		text    string
		check   func(t *testing.T, s *Segments)
	}{
		{
			name:    "numeric",
			version: 1,
			stream:  new(bitWriter).put(1, 4).put(8, 10).put(12, 10).put(345, 10).put(67, 7).put(0, 4),
			text:    "01234567",
		},
		{
			name:    "numeric single digit with large version",
			version: 30,
			stream:  new(bitWriter).put(1, 4).put(1, 14).put(7, 4),
			text:    "7",
		},
		{
			name:    "byte utf8",
			version: 1,
			stream:  new(bitWriter).put(4, 4).put(3, 8).put(0xC3, 8).put(0xA9, 8).put('x', 8).put(0, 4),
			text:    "éx",
			check: func(t *testing.T, s *Segments) {
				assert.Equal(t, "UTF-8", s.Segments[0].Charset)
				assert.Equal(t, [][]byte{{0xC3, 0xA9, 'x'}}, s.ByteSegments())
			},
		},
		{
			name:    "byte latin1 fallback",
			version: 1,
			stream:  new(bitWriter).put(4, 4).put(2, 8).put(0xE9, 8).put('t', 8),
			text:    "ét",
		},
		{
			name:    "eci windows-1251",
			version: 1,
			stream:  new(bitWriter).put(7, 4).put(22, 8).put(4, 4).put(2, 8).put(0xC0, 8).put(0xE1, 8).put(0, 4),
			text:    "\u0410\u0431",
			check: func(t *testing.T, s *Segments) {
				assert.Equal(t, 22, s.ECI)
				assert.Equal(t, 2, s.SymbologyModifier())
			},
		},
		{
			name:    "eci two byte designator",
			version: 1,
			stream:  new(bitWriter).put(7, 4).put(0x80, 8).put(26, 8).put(4, 4).put(1, 8).put('a', 8),
			text:    "a",
			check: func(t *testing.T, s *Segments) {
				assert.Equal(t, 26, s.ECI)
			},
		},
		{
			name:    "kanji",
			version: 1,
			stream:  new(bitWriter).put(8, 4).put(2, 8).put(3487, 13).put(6826, 13).put(0, 4),
			text:    "点茗",
		},
		{
			name:    "hanzi",
			version: 1,
			stream:  new(bitWriter).put(0xD, 4).put(1, 4).put(1, 8).put(960, 13),
			text:    "啊",
		},
		{
			name:    "fnc1 first with group separator",
			version: 1,
			stream:  new(bitWriter).put(5, 4).put(2, 4).put(5, 9).put(0*45+1, 11).put(38*45+0, 11).put(2, 6),
			text:    "01\x1d02",
			check: func(t *testing.T, s *Segments) {
				assert.Equal(t, FNC1First, s.FNC1)
				assert.Equal(t, 3, s.SymbologyModifier())
			},
		},
		{
			name:    "structured append",
			version: 1,
			stream:  new(bitWriter).put(3, 4).put(0x13, 8).put(0xA5, 8).put(1, 4).put(1, 10).put(9, 4),
			text:    "9",
			check: func(t *testing.T, s *Segments) {
				require.NotNil(t, s.StructuredAppend)
				assert.Equal(t, StructuredAppend{Index: 1, Total: 4, Parity: 0xA5}, *s.StructuredAppend)
			},
		},
		{
			name:    "mixed segments",
			version: 1,
			stream:  new(bitWriter).put(1, 4).put(2, 10).put(42, 7).put(2, 4).put(1, 9).put(10, 6).put(0, 4),
			text:    "42A",
			check: func(t *testing.T, s *Segments) {
				assert.Len(t, s.Segments, 2)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segs, err := Decode(tt.stream.bytes(), tt.version)
			require.NoError(t, err)
			assert.Equal(t, tt.text, segs.Text)
			if tt.check != nil {
				tt.check(t, segs)
			}
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		stream *bitWriter
	}{
		{"unknown mode", new(bitWriter).put(6, 4).put(0, 12)},
		{"truncated count", new(bitWriter).put(4, 4).put(1, 3)},
		{"numeric group too large", new(bitWriter).put(1, 4).put(3, 10).put(1000, 10)},
		{"numeric digit too large", new(bitWriter).put(1, 4).put(1, 10).put(12, 4)},
		{"byte overrun", new(bitWriter).put(4, 4).put(10, 8).put('a', 8)},
		{"alphanumeric out of table", new(bitWriter).put(2, 4).put(1, 9).put(50, 6)},
		{"kanji overrun", new(bitWriter).put(8, 4).put(3, 8).put(1, 13)},
		{"unknown eci", new(bitWriter).put(7, 4).put(99, 8).put(0, 4)},
		{"bad eci designator", new(bitWriter).put(7, 4).put(0xE0, 8).put(0, 16)},
		{"hanzi subset", new(bitWriter).put(0xD, 4).put(2, 4).put(0, 8)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.stream.bytes(), 1)
			require.Error(t, err)
			assert.ErrorIs(t, err, qrerr.ErrMalformedDataStream)
		})
	}
}

func TestDecode_ShortTailEndsStream(t *testing.T) {
	// No terminator: the last segment ends exactly on a byte boundary.
	segs, err := Decode(new(bitWriter).put(2, 4).put(2, 9).put(10*45+11, 11).bytes(), 1)
	require.NoError(t, err)
	assert.Equal(t, "AB", segs.Text)
}

func TestCountBits(t *testing.T) {
	tests := []struct {
		mode    Mode
		version int
		bits    int
	}{
		{ModeNumeric, 1, 10}, {ModeNumeric, 10, 12}, {ModeNumeric, 27, 14},
		{ModeAlphanumeric, 9, 9}, {ModeAlphanumeric, 26, 11}, {ModeAlphanumeric, 40, 13},
		{ModeByte, 9, 8}, {ModeByte, 10, 16}, {ModeByte, 40, 16},
		{ModeKanji, 1, 8}, {ModeKanji, 20, 10}, {ModeKanji, 35, 12},
		{ModeECI, 5, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.bits, tt.mode.CountBits(tt.version), "%s v%d", tt.mode, tt.version)
	}
}

func TestGuessCharset(t *testing.T) {
	assert.Equal(t, "ISO-8859-1", guessCharset([]byte("plain")).Name)
	assert.Equal(t, "UTF-8", guessCharset([]byte("grüße")).Name)
	assert.Equal(t, "Shift_JIS", guessCharset([]byte{0x93, 0x5F, 0xE4, 0xAA}).Name)
	assert.Equal(t, "ISO-8859-1", guessCharset([]byte{'c', 0xE9}).Name)
}
