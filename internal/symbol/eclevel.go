package symbol

import (
	"fmt"
	"strings"
)

// ECLevel is one of the four error correction levels. The numeric value is
// the row index into the version tables, not the format-information bits.
type ECLevel int

const (
	ECLevelL ECLevel = iota
	ECLevelM
	ECLevelQ
	ECLevelH
)

// levelForBits maps the two format-information bits onto a level.
var levelForBits = [4]ECLevel{ECLevelM, ECLevelL, ECLevelH, ECLevelQ}

// ECLevelFromBits decodes the two EC bits of the format information.
func ECLevelFromBits(bits int) ECLevel {
	return levelForBits[bits&0x03]
}

// Bits returns the format-information encoding of the level.
func (l ECLevel) Bits() int {
	for bits, lv := range levelForBits {
		if lv == l {
			return bits
		}
	}
	return 0
}

// String implements fmt.Stringer.
func (l ECLevel) String() string {
	switch l {
	case ECLevelL:
		return "L"
	case ECLevelM:
		return "M"
	case ECLevelQ:
		return "Q"
	case ECLevelH:
		return "H"
	default:
		return fmt.Sprintf("ECLevel(%d)", int(l))
	}
}

// ParseECLevel accepts the single-letter level names in any case.
func ParseECLevel(s string) (ECLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "L":
		return ECLevelL, nil
	case "M":
		return ECLevelM, nil
	case "Q":
		return ECLevelQ, nil
	case "H":
		return ECLevelH, nil
	default:
		return ECLevelL, fmt.Errorf("unknown error correction level %q", s)
	}
}
