package pipeline

import "github.com/MeKo-Tech/qrlens/internal/barcode"

// ImageResult is the outcome of scanning one image. A frame without a
// symbol is not an error: Symbols is empty and Reason names the failure
// kind that ended the attempt.
type ImageResult struct {
	Source  string           `json:"source,omitempty"`
	Width   int              `json:"width"`
	Height  int              `json:"height"`
	Symbols []barcode.Result `json:"symbols"`
	Reason  string           `json:"reason,omitempty"`
	Error   string           `json:"error,omitempty"`

	Processing struct {
		LoadNs   int64 `json:"load_ns"`
		DecodeNs int64 `json:"decode_ns"`
		TotalNs  int64 `json:"total_ns"`
	} `json:"processing"`
}

// Found reports whether at least one symbol was decoded.
func (r *ImageResult) Found() bool {
	return r != nil && len(r.Symbols) > 0
}

// PDFResult is the outcome of scanning every extracted image of a PDF.
type PDFResult struct {
	Filename   string          `json:"filename"`
	TotalPages int             `json:"total_pages"`
	Pages      []PDFPageResult `json:"pages"`
	Processing struct {
		ExtractionNs int64 `json:"extraction_ns"`
		TotalNs      int64 `json:"total_ns"`
	} `json:"processing"`
}

// PDFPageResult groups the images of one page.
type PDFPageResult struct {
	PageNumber int           `json:"page_number"`
	Images     []ImageResult `json:"images"`
}

// Symbols flattens every decoded symbol of the document in page order.
func (r *PDFResult) Symbols() []barcode.Result {
	var out []barcode.Result
	for _, p := range r.Pages {
		for _, img := range p.Images {
			out = append(out, img.Symbols...)
		}
	}
	return out
}
