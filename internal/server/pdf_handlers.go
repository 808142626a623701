package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MeKo-Tech/qrlens/internal/pdf"
	"github.com/MeKo-Tech/qrlens/internal/pipeline"
)

// scanPDFHandler extracts the images embedded in an uploaded PDF and scans
// each. The optional form field pages selects a page range such as "1-3,5".
func (s *Server) scanPDFHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, filename, ok := s.readUpload(w, r, "pdf")
	if !ok {
		scanRequestsTotal.WithLabelValues("pdf", "error").Inc()
		return
	}

	opts := pdf.Options{Pages: r.FormValue("pages"), Password: r.FormValue("password")}
	if opts.Pages == "" {
		opts.Pages = s.pdfPages
	}

	ctx := r.Context()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := s.pipeline.ProcessPDFBytes(ctx, filename, data, opts)
	elapsed := time.Since(start)
	if err != nil {
		scanRequestsTotal.WithLabelValues("pdf", "error").Inc()
		switch {
		case pdf.IsPasswordError(err):
			s.writeErrorResponse(w, "PDF is encrypted; supply the password field", http.StatusUnauthorized)
		case errors.Is(err, context.DeadlineExceeded):
			s.writeErrorResponse(w, "Scan timed out", http.StatusGatewayTimeout)
		case errors.Is(err, pdf.ErrInvalidPageRange):
			s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		default:
			s.logger().Warn("PDF scan failed", "file", filename, "error", err)
			s.writeErrorResponse(w, fmt.Sprintf("PDF processing failed: %v", err), http.StatusUnprocessableEntity)
		}
		return
	}

	symbols := res.Symbols()
	scanDuration.WithLabelValues("pdf").Observe(elapsed.Seconds())
	if len(symbols) > 0 {
		scanRequestsTotal.WithLabelValues("pdf", "decoded").Inc()
	} else {
		scanRequestsTotal.WithLabelValues("pdf", "empty").Inc()
	}

	switch requestFormat(r) {
	case pipeline.FormatText:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		s.writePDFTextResponse(w, res)
	default:
		s.writeJSON(w, http.StatusOK, PDFScanResponse{Success: true, Result: res, Symbols: len(symbols)})
	}
}

// writePDFTextResponse writes a plain text representation of PDF results.
func (s *Server) writePDFTextResponse(w io.Writer, result *pipeline.PDFResult) {
	var output strings.Builder

	fmt.Fprintf(&output, "File: %s\n", result.Filename)
	fmt.Fprintf(&output, "Pages with images: %d\n", result.TotalPages)
	fmt.Fprintf(&output, "Processing Time: %v\n\n", time.Duration(result.Processing.TotalNs).Round(time.Millisecond))

	for _, page := range result.Pages {
		fmt.Fprintf(&output, "Page %d:\n", page.PageNumber)
		for _, img := range page.Images {
			switch {
			case img.Error != "":
				fmt.Fprintf(&output, "  %s (%dx%d): skipped: %s\n", img.Source, img.Width, img.Height, img.Error)
			case !img.Found():
				fmt.Fprintf(&output, "  %s (%dx%d): no symbol (%s)\n", img.Source, img.Width, img.Height, img.Reason)
			default:
				for _, sym := range img.Symbols {
					fmt.Fprintf(&output, "  %s (%dx%d): %s v%d-%s %q\n",
						img.Source, img.Width, img.Height, sym.Format, sym.Version, sym.ECLevel, sym.Text)
				}
			}
		}
	}

	if _, err := io.WriteString(w, output.String()); err != nil {
		s.logger().Error("Error writing response", "error", err)
	}
}
