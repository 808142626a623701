package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MeKo-Tech/qrlens/internal/pdf"
	"github.com/MeKo-Tech/qrlens/internal/utils"
)

// ProcessPDF extracts the embedded images of filename and scans each.
func (p *Pipeline) ProcessPDF(ctx context.Context, filename string, opts pdf.Options) (*PDFResult, error) {
	if filename == "" {
		return nil, errors.New("filename cannot be empty")
	}
	start := time.Now()
	images, err := pdf.ExtractImages(ctx, filename, opts)
	if err != nil {
		return nil, err
	}
	return p.scanPDFImages(ctx, filename, images, start)
}

// ProcessPDFBytes is ProcessPDF for an uploaded document.
func (p *Pipeline) ProcessPDFBytes(ctx context.Context, name string, data []byte, opts pdf.Options) (*PDFResult, error) {
	start := time.Now()
	images, err := pdf.ExtractImagesFromBytes(ctx, data, opts)
	if err != nil {
		return nil, err
	}
	return p.scanPDFImages(ctx, name, images, start)
}

func (p *Pipeline) scanPDFImages(ctx context.Context, name string, images []pdf.PageImage, start time.Time) (*PDFResult, error) {
	res := &PDFResult{Filename: name}
	res.Processing.ExtractionNs = time.Since(start).Nanoseconds()

	for _, pi := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(res.Pages) == 0 || res.Pages[len(res.Pages)-1].PageNumber != pi.Page {
			res.Pages = append(res.Pages, PDFPageResult{PageNumber: pi.Page})
		}
		page := &res.Pages[len(res.Pages)-1]

		ir, err := p.ProcessImage(ctx, pi.Image)
		if err != nil {
			var ipe *utils.ImageProcessingError
			if !errors.As(err, &ipe) {
				return nil, fmt.Errorf("page %d image %d: %w", pi.Page, pi.Index, err)
			}
			// Thumbnails and masks below the size floor are skipped.
			ir = &ImageResult{Error: ipe.Error()}
		}
		ir.Source = fmt.Sprintf("page %d image %d", pi.Page, pi.Index)
		page.Images = append(page.Images, *ir)
	}

	res.TotalPages = len(res.Pages)
	res.Processing.TotalNs = time.Since(start).Nanoseconds()
	p.log.Debug("Scanned PDF", "file", name, "pages", res.TotalPages, "images", len(images),
		"symbols", len(res.Symbols()))
	return res, nil
}
