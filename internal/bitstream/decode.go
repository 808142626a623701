// Package bitstream decodes the data codewords of a QR symbol into text.
package bitstream

import (
	"strconv"
	"strings"

	"github.com/MeKo-Tech/qrlens/internal/qrerr"
)

const alphanumericTable = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ $%*+-./:"

const (
	hanziSubsetGB2312 = 1

	groupSeparator = 0x1D
)

// FNC1 records which FNC1 mode indicator, if any, was present.
type FNC1 int

const (
	FNC1None FNC1 = iota
	FNC1First
	FNC1Second
)

// StructuredAppend is the header of one symbol of a multi-symbol message.
type StructuredAppend struct {
	Index  int
	Total  int
	Parity int
}

// Segment is one decoded run of a single mode.
type Segment struct {
	Mode    Mode
	Text    string
	Raw     []byte
	Charset string
}

// Segments is the decoded content of a symbol.
type Segments struct {
	Text     string
	Segments []Segment

	// ECI is the first ECI designator seen, or -1.
	ECI              int
	FNC1             FNC1
	StructuredAppend *StructuredAppend
}

// ByteSegments returns the raw bytes of every byte-mode segment.
func (s *Segments) ByteSegments() [][]byte {
	var out [][]byte
	for _, seg := range s.Segments {
		if seg.Mode == ModeByte {
			out = append(out, seg.Raw)
		}
	}
	return out
}

// SymbologyModifier is the AIM symbology identifier modifier (the digit in
// "]Qn") implied by the ECI and FNC1 flags.
func (s *Segments) SymbologyModifier() int {
	mod := 1
	switch s.FNC1 {
	case FNC1First:
		mod = 3
	case FNC1Second:
		mod = 5
	}
	if s.ECI >= 0 {
		mod++
	}
	return mod
}

type decoder struct {
	r       *bitReader
	version int
	out     *Segments
	text    strings.Builder
	charset *Charset
}

// Decode parses the mode-segmented data stream of a symbol of the given
// version. The stream ends at a terminator or when fewer than four bits
// remain.
func Decode(data []byte, version int) (*Segments, error) {
	d := &decoder{
		r:       newBitReader(data),
		version: version,
		out:     &Segments{ECI: -1},
	}
	for {
		if d.r.available() < 4 {
			break
		}
		bits, err := d.r.read(4)
		if err != nil {
			return nil, err
		}
		mode, err := modeForBits(bits)
		if err != nil {
			return nil, err
		}
		if mode == ModeTerminator {
			break
		}
		if err := d.segment(mode); err != nil {
			return nil, err
		}
	}
	d.out.Text = d.text.String()
	return d.out, nil
}

func (d *decoder) segment(mode Mode) error {
	switch mode {
	case ModeFNC1FirstPosition:
		d.out.FNC1 = FNC1First
		return nil
	case ModeFNC1SecondPosition:
		// The application indicator follows and is not part of the text.
		if _, err := d.r.read(8); err != nil {
			return err
		}
		d.out.FNC1 = FNC1Second
		return nil
	case ModeStructuredAppend:
		seq, err := d.r.read(8)
		if err != nil {
			return err
		}
		parity, err := d.r.read(8)
		if err != nil {
			return err
		}
		d.out.StructuredAppend = &StructuredAppend{Index: seq >> 4, Total: seq&0x0F + 1, Parity: parity}
		return nil
	case ModeECI:
		return d.eci()
	}

	if mode == ModeHanzi {
		subset, err := d.r.read(4)
		if err != nil {
			return err
		}
		if subset != hanziSubsetGB2312 {
			return qrerr.New(qrerr.ErrMalformedDataStream, "bitstream", "unsupported hanzi subset %d", subset)
		}
	}

	count, err := d.r.read(mode.CountBits(d.version))
	if err != nil {
		return err
	}

	var seg Segment
	switch mode {
	case ModeNumeric:
		seg, err = d.numeric(count)
	case ModeAlphanumeric:
		seg, err = d.alphanumeric(count)
	case ModeByte:
		seg, err = d.bytes(count)
	case ModeKanji:
		seg, err = d.doubleByte(count, ModeKanji)
	case ModeHanzi:
		seg, err = d.doubleByte(count, ModeHanzi)
	default:
		return qrerr.New(qrerr.ErrMalformedDataStream, "bitstream", "mode %s cannot carry data", mode)
	}
	if err != nil {
		return err
	}
	seg.Mode = mode
	d.out.Segments = append(d.out.Segments, seg)
	d.text.WriteString(seg.Text)
	return nil
}

func (d *decoder) eci() error {
	first, err := d.r.read(8)
	if err != nil {
		return err
	}
	var value int
	switch {
	case first&0x80 == 0:
		value = first
	case first&0xC0 == 0x80:
		second, err := d.r.read(8)
		if err != nil {
			return err
		}
		value = (first&0x3F)<<8 | second
	case first&0xE0 == 0xC0:
		rest, err := d.r.read(16)
		if err != nil {
			return err
		}
		value = (first&0x1F)<<16 | rest
	default:
		return qrerr.New(qrerr.ErrMalformedDataStream, "bitstream", "invalid ECI designator %#x", first)
	}

	cs, ok := CharsetForECI(value)
	if !ok {
		return qrerr.New(qrerr.ErrMalformedDataStream, "bitstream", "unsupported ECI %d", value)
	}
	d.charset = cs
	if d.out.ECI < 0 {
		d.out.ECI = value
	}
	return nil
}

func (d *decoder) numeric(count int) (Segment, error) {
	var sb strings.Builder
	for count > 0 {
		digits, width, limit := 3, 10, 1000
		switch count {
		case 2:
			digits, width, limit = 2, 7, 100
		case 1:
			digits, width, limit = 1, 4, 10
		}
		v, err := d.r.read(width)
		if err != nil {
			return Segment{}, err
		}
		if v >= limit {
			return Segment{}, qrerr.New(qrerr.ErrMalformedDataStream, "bitstream", "numeric group %d out of range", v)
		}
		s := strconv.Itoa(v)
		sb.WriteString(strings.Repeat("0", digits-len(s)))
		sb.WriteString(s)
		count -= digits
	}
	return Segment{Text: sb.String()}, nil
}

func alphanumericChar(v int) (byte, error) {
	if v >= len(alphanumericTable) {
		return 0, qrerr.New(qrerr.ErrMalformedDataStream, "bitstream", "alphanumeric value %d out of range", v)
	}
	return alphanumericTable[v], nil
}

func (d *decoder) alphanumeric(count int) (Segment, error) {
	buf := make([]byte, 0, count)
	for count >= 2 {
		v, err := d.r.read(11)
		if err != nil {
			return Segment{}, err
		}
		hi, err := alphanumericChar(v / 45)
		if err != nil {
			return Segment{}, err
		}
		lo, err := alphanumericChar(v % 45)
		if err != nil {
			return Segment{}, err
		}
		buf = append(buf, hi, lo)
		count -= 2
	}
	if count == 1 {
		v, err := d.r.read(6)
		if err != nil {
			return Segment{}, err
		}
		c, err := alphanumericChar(v)
		if err != nil {
			return Segment{}, err
		}
		buf = append(buf, c)
	}

	if d.out.FNC1 != FNC1None {
		buf = expandFNC1(buf)
	}
	return Segment{Text: string(buf)}, nil
}

// expandFNC1 maps a lone '%' to the GS1 group separator and "%%" to '%'.
func expandFNC1(buf []byte) []byte {
	out := make([]byte, 0, len(buf))
	for i := 0; i < len(buf); i++ {
		if buf[i] != '%' {
			out = append(out, buf[i])
			continue
		}
		if i+1 < len(buf) && buf[i+1] == '%' {
			out = append(out, '%')
			i++
			continue
		}
		out = append(out, groupSeparator)
	}
	return out
}

func (d *decoder) bytes(count int) (Segment, error) {
	if 8*count > d.r.available() {
		return Segment{}, qrerr.New(qrerr.ErrMalformedDataStream, "bitstream", "byte segment of %d overruns the stream", count)
	}
	raw := make([]byte, count)
	for i := range raw {
		v, _ := d.r.read(8)
		raw[i] = byte(v)
	}
	cs := d.charset
	if cs == nil {
		cs = guessCharset(raw)
	}
	return Segment{Text: cs.Decode(raw), Raw: raw, Charset: cs.Name}, nil
}

// doubleByte decodes 13-bit kanji (Shift_JIS) or hanzi (GB2312) characters.
func (d *decoder) doubleByte(count int, mode Mode) (Segment, error) {
	if 13*count > d.r.available() {
		return Segment{}, qrerr.New(qrerr.ErrMalformedDataStream, "bitstream", "%s segment of %d overruns the stream", mode, count)
	}
	raw := make([]byte, 0, 2*count)
	for i := 0; i < count; i++ {
		v, _ := d.r.read(13)
		var code int
		if mode == ModeKanji {
			code = (v/0xC0)<<8 | v%0xC0
			if code < 0x1F00 {
				code += 0x8140
			} else {
				code += 0xC140
			}
		} else {
			code = (v/0x60)<<8 | v%0x60
			if code < 0x0A00 {
				code += 0xA1A1
			} else {
				code += 0xA6A1
			}
		}
		raw = append(raw, byte(code>>8), byte(code))
	}

	cs := charsetShiftJIS
	if mode == ModeHanzi {
		cs = charsetGB18030
	}
	return Segment{Text: cs.Decode(raw), Raw: raw, Charset: cs.Name}, nil
}
