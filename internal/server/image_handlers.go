package server

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MeKo-Tech/qrlens/internal/pipeline"
	"github.com/MeKo-Tech/qrlens/internal/utils"
)

const (
	formatOverlay = "overlay"
)

// scanImageHandler decodes the symbols in an uploaded image. An image
// without a symbol is a successful scan with an empty result list.
func (s *Server) scanImageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, filename, ok := s.readUpload(w, r, "image")
	if !ok {
		scanRequestsTotal.WithLabelValues("image", "error").Inc()
		return
	}
	format := requestFormat(r)

	key := cacheKey(data)
	if res, hit := s.cache.get(key); hit && format != formatOverlay {
		res.Source = filename
		s.writeImageResponse(w, format, res, true)
		return
	}

	img, _, err := utils.DecodeImageBytes(data)
	if err != nil {
		scanRequestsTotal.WithLabelValues("image", "error").Inc()
		s.writeErrorResponse(w, "Invalid image format", http.StatusBadRequest)
		return
	}

	res, ok := s.scanImage(w, r, img)
	if !ok {
		return
	}
	res.Source = filename
	s.cache.add(key, res)

	if format == formatOverlay {
		s.writeOverlay(w, img, res)
		return
	}
	s.writeImageResponse(w, format, res, false)
}

// scanImage runs the pipeline under the request timeout and writes an
// error response on failure.
func (s *Server) scanImage(w http.ResponseWriter, r *http.Request, img image.Image) (*pipeline.ImageResult, bool) {
	ctx := r.Context()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := s.pipeline.ProcessImage(ctx, img)
	elapsed := time.Since(start)
	if err != nil {
		scanRequestsTotal.WithLabelValues("image", "error").Inc()
		var ipe *utils.ImageProcessingError
		switch {
		case errors.As(err, &ipe):
			s.writeErrorResponse(w, ipe.Error(), http.StatusBadRequest)
		case errors.Is(err, context.DeadlineExceeded):
			s.writeErrorResponse(w, "Scan timed out", http.StatusGatewayTimeout)
		default:
			s.logger().Error("Image scan failed", "error", err)
			s.writeErrorResponse(w, fmt.Sprintf("Scan failed: %v", err), http.StatusInternalServerError)
		}
		return nil, false
	}
	observeScan("image", res, elapsed)
	return res, true
}

// readUpload parses the multipart form and returns the bytes of field.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request, field string) ([]byte, string, bool) {
	limit := s.maxUploadMB * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(limit); err != nil {
		s.handleFormParseError(w, err)
		return nil, "", false
	}

	file, header, err := r.FormFile(field)
	if err != nil {
		s.writeErrorResponse(w, fmt.Sprintf("No %s file provided", field), http.StatusBadRequest)
		return nil, "", false
	}
	defer func() { _ = file.Close() }()

	if header.Size > limit {
		s.writeErrorResponse(w, "File too large", http.StatusRequestEntityTooLarge)
		return nil, "", false
	}
	uploadSizeBytes.WithLabelValues(field).Observe(float64(header.Size))

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeErrorResponse(w, "Failed to read upload", http.StatusInternalServerError)
		return nil, "", false
	}
	return data, header.Filename, true
}

func (s *Server) handleFormParseError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
		s.writeErrorResponse(w, "File too large", http.StatusRequestEntityTooLarge)
		return
	}
	s.writeErrorResponse(w, "Failed to parse form data", http.StatusBadRequest)
}

func (s *Server) writeImageResponse(w http.ResponseWriter, format string, res *pipeline.ImageResult, cached bool) {
	results := []*pipeline.ImageResult{res}
	switch format {
	case pipeline.FormatCSV:
		out, err := pipeline.ToCSV(results)
		if err != nil {
			http.Error(w, fmt.Sprintf("formatting failed: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		_, _ = io.WriteString(w, out)
	case pipeline.FormatText:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, pipeline.ToPlainText(results))
	default:
		s.writeJSON(w, http.StatusOK, ScanResponse{Success: true, Result: res, Cached: cached})
	}
}

// writeOverlay responds with a PNG of the upload with symbol outlines drawn.
func (s *Server) writeOverlay(w http.ResponseWriter, img image.Image, res *pipeline.ImageResult) {
	ov := pipeline.RenderOverlay(img, res)
	if ov == nil {
		http.Error(w, "overlay failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, ov); err != nil {
		s.logger().Error("Failed to encode overlay", "error", err)
	}
}
