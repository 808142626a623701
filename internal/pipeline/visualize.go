package pipeline

import (
	"image"
	"image/color"

	"github.com/MeKo-Tech/qrlens/internal/utils"
)

// Overlay colors.
var (
	BoxColor    = color.RGBA{R: 255, A: 255}
	MarkerColor = color.RGBA{G: 200, A: 255}
)

// RenderOverlay copies img and draws each symbol's bounding box and anchor
// points onto the copy.
func RenderOverlay(img image.Image, res *ImageResult) *image.RGBA {
	if img == nil {
		return nil
	}
	dst := utils.CloneRGBA(img)
	if res == nil {
		return dst
	}
	thickness := max(1, min(dst.Bounds().Dx(), dst.Bounds().Dy())/200)
	for _, s := range res.Symbols {
		utils.DrawRect(dst, s.BBox, BoxColor, thickness)
		for _, p := range s.Points {
			utils.DrawMarker(dst, image.Pt(p.X, p.Y), MarkerColor, 2*thickness+3)
		}
	}
	return dst
}
