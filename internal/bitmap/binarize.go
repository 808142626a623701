package bitmap

// Luminance returns the integer luminance used for thresholding.
func Luminance(r, g, b uint8) int {
	return (30*int(r) + 59*int(g) + 11*int(b)) / 100
}

// Binarize converts buf with a single global threshold halfway between the
// darkest and lightest luminance. A pixel is dark iff its luminance is below
// the threshold, so a uniform frame comes out entirely light.
func Binarize(buf PixelBuffer) (*BinaryBitmap, error) {
	if err := buf.Validate(); err != nil {
		return nil, err
	}

	w, h := buf.Width, buf.Height
	lum := make([]uint8, w*h)
	minL, maxL := 255, 0

	for sy := 0; sy < h; sy++ {
		y := sy
		if buf.Order == BottomUp {
			y = h - 1 - sy
		}
		src := buf.Pix[sy*w*3 : (sy+1)*w*3]
		dst := lum[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			l := Luminance(src[x*3], src[x*3+1], src[x*3+2])
			if l < minL {
				minL = l
			}
			if l > maxL {
				maxL = l
			}
			dst[x] = uint8(l) //nolint:gosec // luminance of 8-bit channels stays within 0..255
		}
	}

	threshold := (minL + maxL) / 2
	bits := make([]bool, w*h)
	for i, l := range lum {
		bits[i] = int(l) < threshold
	}

	return &BinaryBitmap{
		Width:     w,
		Height:    h,
		Threshold: threshold,
		Min:       minL,
		Max:       maxL,
		bits:      bits,
	}, nil
}
