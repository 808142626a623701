// Package barcode defines the pluggable decoder contract shared by the CLI,
// the HTTP server and the frame scanner, with a native QR backend built on
// this module's pipeline and a gozxing backend for cross-checking.
package barcode

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strings"
)

// Format represents a barcode symbology.
type Format int

const (
	FormatUnknown Format = iota
	FormatQR
	FormatDataMatrix
	FormatAztec
	FormatPDF417
)

var formatNames = map[Format]string{
	FormatUnknown:    "unknown",
	FormatQR:         "qr",
	FormatDataMatrix: "datamatrix",
	FormatAztec:      "aztec",
	FormatPDF417:     "pdf417",
}

// String implements fmt.Stringer.
func (f Format) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// MarshalText encodes the format by name.
func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText accepts the names written by MarshalText, including
// "unknown".
func (f *Format) UnmarshalText(b []byte) error {
	if string(b) == formatNames[FormatUnknown] {
		*f = FormatUnknown
		return nil
	}
	parsed, err := ParseFormat(string(b))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// ParseFormat maps a name such as "qr" onto a Format.
func ParseFormat(s string) (Format, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for f, name := range formatNames {
		if name == want && f != FormatUnknown {
			return f, nil
		}
	}
	return FormatUnknown, fmt.Errorf("unknown barcode format %q", s)
}

// Options controls backend decoding behavior.
type Options struct {
	// TryHarder enables more exhaustive search (slower but more robust).
	TryHarder bool

	// CenterCrop restricts decoding to the largest centred square.
	CenterCrop bool

	// Mirror flips the image horizontally before decoding, for front
	// cameras that deliver mirrored frames.
	Mirror bool

	// MinModulePitch is the finder pitch in pixels below which the native
	// backend upscales and retries. Zero disables the retry.
	MinModulePitch float64

	// MaxUpscale caps the retry scale factor.
	MaxUpscale int
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{MinModulePitch: 2.5, MaxUpscale: 4}
}

// Point is an integer point in image coordinates.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Result represents a decoded barcode.
type Result struct {
	Format          Format          `json:"format"`
	Text            string          `json:"text"`
	Bytes           []byte          `json:"-"`
	Points          []Point         `json:"points,omitempty"`
	BBox            image.Rectangle `json:"-"`
	Version         int             `json:"version,omitempty"`
	ECLevel         string          `json:"ec_level,omitempty"`
	CorrectedErrors int             `json:"corrected_errors"`
	Backend         string          `json:"backend"`
}

// Backend is a pluggable barcode decoder implementation. A frame without a
// decodable symbol yields an error for which qrerr.IsExpected is true.
type Backend interface {
	Name() string
	Decode(ctx context.Context, img image.Image, opts Options) ([]Result, error)
}

// Backend names accepted by NewBackend.
const (
	BackendNative = "native"
	BackendZXing  = "zxing"
)

// NewBackend returns the backend registered under name. A nil logger
// falls back to slog.Default.
func NewBackend(name string, logger *slog.Logger) (Backend, error) {
	switch strings.ToLower(name) {
	case "", BackendNative:
		return NewNative(logger), nil
	case BackendZXing:
		return NewZXing(), nil
	default:
		return nil, fmt.Errorf("unknown barcode backend %q (must be native or zxing)", name)
	}
}

func rectFromPoints(pts []Point) image.Rectangle {
	if len(pts) == 0 {
		return image.Rectangle{}
	}
	minX, minY := pts[0].X, pts[0].Y
	maxX, maxY := pts[0].X, pts[0].Y
	for _, p := range pts[1:] {
		minX, minY = min(minX, p.X), min(minY, p.Y)
		maxX, maxY = max(maxX, p.X), max(maxY, p.Y)
	}
	return image.Rect(minX, minY, maxX+1, maxY+1)
}
