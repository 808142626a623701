package bitstream

import (
	"fmt"

	"github.com/MeKo-Tech/qrlens/internal/qrerr"
)

// Mode is a 4-bit segment mode indicator.
type Mode int

const (
	ModeTerminator         Mode = 0x0
	ModeNumeric            Mode = 0x1
	ModeAlphanumeric       Mode = 0x2
	ModeStructuredAppend   Mode = 0x3
	ModeByte               Mode = 0x4
	ModeFNC1FirstPosition  Mode = 0x5
	ModeECI                Mode = 0x7
	ModeKanji              Mode = 0x8
	ModeFNC1SecondPosition Mode = 0x9
	ModeHanzi              Mode = 0xD
)

// countBits holds the character count width for versions 1-9, 10-26 and 27-40.
var countBits = map[Mode][3]int{
	ModeNumeric:      {10, 12, 14},
	ModeAlphanumeric: {9, 11, 13},
	ModeByte:         {8, 16, 16},
	ModeKanji:        {8, 10, 12},
	ModeHanzi:        {8, 10, 12},
}

func modeForBits(bits int) (Mode, error) {
	switch m := Mode(bits); m {
	case ModeTerminator, ModeNumeric, ModeAlphanumeric, ModeStructuredAppend, ModeByte,
		ModeFNC1FirstPosition, ModeECI, ModeKanji, ModeFNC1SecondPosition, ModeHanzi:
		return m, nil
	}
	return 0, qrerr.New(qrerr.ErrMalformedDataStream, "bitstream", "unknown mode indicator %#x", bits)
}

// CountBits is the width of the character count field of m in a symbol of
// the given version. Modes without a count return 0.
func (m Mode) CountBits(version int) int {
	widths, ok := countBits[m]
	if !ok {
		return 0
	}
	switch {
	case version <= 9:
		return widths[0]
	case version <= 26:
		return widths[1]
	default:
		return widths[2]
	}
}

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case ModeTerminator:
		return "terminator"
	case ModeNumeric:
		return "numeric"
	case ModeAlphanumeric:
		return "alphanumeric"
	case ModeStructuredAppend:
		return "structured_append"
	case ModeByte:
		return "byte"
	case ModeFNC1FirstPosition:
		return "fnc1_first"
	case ModeECI:
		return "eci"
	case ModeKanji:
		return "kanji"
	case ModeFNC1SecondPosition:
		return "fnc1_second"
	case ModeHanzi:
		return "hanzi"
	default:
		return fmt.Sprintf("Mode(%#x)", int(m))
	}
}
