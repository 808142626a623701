package bitstream

import "github.com/MeKo-Tech/qrlens/internal/qrerr"

// bitReader reads big-endian bit fields from a byte slice.
type bitReader struct {
	data []byte
	pos  int // in bits
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{data: data}
}

// available is the number of unread bits.
func (r *bitReader) available() int {
	return 8*len(r.data) - r.pos
}

// read returns the next n bits, n <= 32.
func (r *bitReader) read(n int) (int, error) {
	if n < 0 || n > 32 || n > r.available() {
		return 0, qrerr.New(qrerr.ErrMalformedDataStream, "bitstream", "need %d bits at offset %d, %d left", n, r.pos, r.available())
	}
	v := 0
	for i := 0; i < n; i++ {
		b := r.data[r.pos>>3] >> (7 - r.pos&7) & 1
		v = v<<1 | int(b)
		r.pos++
	}
	return v, nil
}
