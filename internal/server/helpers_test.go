package server

import (
	"bytes"
	"context"
	"image"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/qrlens/internal/barcode"
	"github.com/MeKo-Tech/qrlens/internal/pdf"
	"github.com/MeKo-Tech/qrlens/internal/pipeline"
	"github.com/MeKo-Tech/qrlens/internal/qrcode"
	"github.com/MeKo-Tech/qrlens/internal/testutil"
)

// mockPipeline returns canned results and counts calls.
type mockPipeline struct {
	imageResult *pipeline.ImageResult
	imageErr    error
	pdfResult   *pipeline.PDFResult
	pdfErr      error

	imageCalls int
	pdfOpts    pdf.Options
}

func (m *mockPipeline) ProcessImage(_ context.Context, img image.Image) (*pipeline.ImageResult, error) {
	m.imageCalls++
	if m.imageErr != nil {
		return nil, m.imageErr
	}
	res := *m.imageResult
	res.Width, res.Height = img.Bounds().Dx(), img.Bounds().Dy()
	return &res, nil
}

func (m *mockPipeline) ProcessPDFBytes(_ context.Context, name string, _ []byte, opts pdf.Options) (*pipeline.PDFResult, error) {
	m.pdfOpts = opts
	if m.pdfErr != nil {
		return nil, m.pdfErr
	}
	res := *m.pdfResult
	res.Filename = name
	return &res, nil
}

// newTestServer builds a server around the native decoder.
func newTestServer(t *testing.T, mutate func(*Config)) *Server {
	t.Helper()
	pl, err := pipeline.New(barcode.NewNative(nil), barcode.DefaultOptions(), nil)
	require.NoError(t, err)

	cfg := Config{CORSOrigin: "*", MaxUploadMB: 5, TimeoutSec: 10, CacheSize: 16, DecoderOptions: qrcode.DefaultOptions()}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewServer(cfg, pl, nil)
	require.NoError(t, err)
	return s
}

// qrPNG renders text as a PNG QR symbol.
func qrPNG(t *testing.T, text string) []byte {
	t.Helper()
	return testutil.EncodePNG(t, testutil.MustEncodeQR(t, text, testutil.QROptions{Level: "M"}).Image(4, 4))
}

// multipartRequest creates a multipart POST carrying data in field.
func multipartRequest(t *testing.T, target, field, filename string, data []byte, extra map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	for key, value := range extra {
		require.NoError(t, writer.WriteField(key, value))
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}
