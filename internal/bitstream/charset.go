package bitstream

import (
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/encoding/unicode"
)

// Charset is a character set selectable through an ECI designator.
type Charset struct {
	Name     string
	encoding encoding.Encoding
}

var (
	charsetCp437     = &Charset{"Cp437", charmap.CodePage437}
	charsetISO8859_1 = &Charset{"ISO-8859-1", charmap.ISO8859_1}
	charsetShiftJIS  = &Charset{"Shift_JIS", japanese.ShiftJIS}
	charsetUTF8      = &Charset{"UTF-8", unicode.UTF8}
	charsetGB18030   = &Charset{"GB18030", simplifiedchinese.GB18030}
)

// eciCharsets maps ECI assignment numbers onto charsets. 0-3 are the legacy
// Cp437 and ISO-8859-1 designators.
var eciCharsets = map[int]*Charset{
	0:   charsetCp437,
	1:   charsetISO8859_1,
	2:   charsetCp437,
	3:   charsetISO8859_1,
	4:   {"ISO-8859-2", charmap.ISO8859_2},
	5:   {"ISO-8859-3", charmap.ISO8859_3},
	6:   {"ISO-8859-4", charmap.ISO8859_4},
	7:   {"ISO-8859-5", charmap.ISO8859_5},
	8:   {"ISO-8859-6", charmap.ISO8859_6},
	9:   {"ISO-8859-7", charmap.ISO8859_7},
	10:  {"ISO-8859-8", charmap.ISO8859_8},
	11:  {"ISO-8859-9", charmap.ISO8859_9},
	12:  {"ISO-8859-10", charmap.ISO8859_10},
	13:  {"ISO-8859-11", charmap.Windows874},
	15:  {"ISO-8859-13", charmap.ISO8859_13},
	16:  {"ISO-8859-14", charmap.ISO8859_14},
	17:  {"ISO-8859-15", charmap.ISO8859_15},
	18:  {"ISO-8859-16", charmap.ISO8859_16},
	20:  charsetShiftJIS,
	21:  {"windows-1250", charmap.Windows1250},
	22:  {"windows-1251", charmap.Windows1251},
	23:  {"windows-1252", charmap.Windows1252},
	24:  {"windows-1256", charmap.Windows1256},
	25:  {"UTF-16BE", unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)},
	26:  charsetUTF8,
	27:  {"US-ASCII", charmap.ISO8859_1},
	28:  {"Big5", traditionalchinese.Big5},
	29:  charsetGB18030,
	30:  {"EUC-KR", korean.EUCKR},
	170: {"US-ASCII", charmap.ISO8859_1},
}

// CharsetForECI returns the charset assigned to an ECI value.
func CharsetForECI(value int) (*Charset, bool) {
	cs, ok := eciCharsets[value]
	return cs, ok
}

// Decode converts raw bytes in this charset to UTF-8. Bytes the charset
// cannot represent are replaced rather than failing the whole symbol.
func (c *Charset) Decode(raw []byte) string {
	out, err := c.encoding.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

// guessCharset picks a charset for a byte segment without an ECI: UTF-8 when
// the bytes are valid UTF-8 with at least one multi-byte sequence, Shift_JIS
// when they look like Shift_JIS text, otherwise ISO-8859-1.
func guessCharset(raw []byte) *Charset {
	if len(raw) >= 3 && raw[0] == 0xEF && raw[1] == 0xBB && raw[2] == 0xBF {
		return charsetUTF8
	}
	multiByte := false
	for _, b := range raw {
		if b >= 0x80 {
			multiByte = true
			break
		}
	}
	if !multiByte {
		return charsetISO8859_1
	}
	if utf8.Valid(raw) {
		return charsetUTF8
	}
	if looksLikeShiftJIS(raw) {
		return charsetShiftJIS
	}
	return charsetISO8859_1
}

// looksLikeShiftJIS reports whether raw is well-formed Shift_JIS containing
// a run of at least two double-byte or half-width katakana characters.
func looksLikeShiftJIS(raw []byte) bool {
	run, best := 0, 0
	for i := 0; i < len(raw); i++ {
		b := raw[i]
		switch {
		case b < 0x80:
			run = 0
		case b >= 0xA1 && b <= 0xDF:
			run++
		case (b >= 0x81 && b <= 0x9F) || (b >= 0xE0 && b <= 0xEF):
			if i+1 >= len(raw) {
				return false
			}
			t := raw[i+1]
			if t < 0x40 || t == 0x7F || t > 0xFC {
				return false
			}
			i++
			run++
		default:
			return false
		}
		best = max(best, run)
	}
	return best >= 2
}
