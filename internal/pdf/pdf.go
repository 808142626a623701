// Package pdf pulls embedded raster images out of PDF documents so they can
// be scanned for symbols.
package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/MeKo-Tech/qrlens/internal/utils"
)

// ErrInvalidPageRange is returned for a malformed page selection.
var ErrInvalidPageRange = errors.New("invalid page range")

// Options controls extraction.
type Options struct {
	// Pages selects pages like "1-3,7". Empty means all pages.
	Pages string

	// Password opens encrypted documents.
	Password string
}

// PageImage is one embedded image.
type PageImage struct {
	Page  int
	Index int
	Name  string
	Image image.Image
}

// ExtractImages extracts every decodable image from the PDF at filename.
func ExtractImages(ctx context.Context, filename string, opts Options) ([]PageImage, error) {
	pages, err := parsePageRange(opts.Pages)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidPageRange, opts.Pages, err)
	}

	f, err := os.Open(filename) //nolint:gosec // G304: reading a user-provided PDF path is expected
	if err != nil {
		return nil, fmt.Errorf("failed to extract images from PDF: %w", err)
	}
	defer func() { _ = f.Close() }()

	return extract(ctx, f, pages, opts.Password)
}

// ExtractImagesFromBytes is ExtractImages for an in-memory document, as
// received by an upload handler.
func ExtractImagesFromBytes(ctx context.Context, data []byte, opts Options) ([]PageImage, error) {
	pages, err := parsePageRange(opts.Pages)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidPageRange, opts.Pages, err)
	}
	return extract(ctx, bytes.NewReader(data), pages, opts.Password)
}

func extract(ctx context.Context, rs io.ReadSeeker, pages []int, password string) ([]PageImage, error) {
	conf := model.NewDefaultConfiguration()
	if password != "" {
		conf.UserPW = password
		conf.OwnerPW = password
	}

	var selected []string
	for _, p := range pages {
		selected = append(selected, strconv.Itoa(p))
	}

	var out []PageImage
	perPage := make(map[int]int)
	digest := func(img model.Image, _ bool, _ int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		decoded, _, err := utils.DecodeImage(img)
		if err != nil {
			// Masks and exotic colour spaces come out undecodable; skip them.
			return nil
		}
		out = append(out, PageImage{Page: img.PageNr, Index: perPage[img.PageNr], Name: img.Name, Image: decoded})
		perPage[img.PageNr]++
		return nil
	}

	if err := api.ExtractImages(rs, selected, digest, conf); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("failed to extract images from PDF: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Page != out[j].Page {
			return out[i].Page < out[j].Page
		}
		return out[i].Index < out[j].Index
	})
	return out, nil
}

// IsPasswordError reports whether err came from a missing or wrong password.
func IsPasswordError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "password") || strings.Contains(msg, "encrypt") || strings.Contains(msg, "decrypt")
}

// parsePageRange parses a page range string like "1-5" or "1,3,5". Pages
// are 1-based.
func parsePageRange(pageRange string) ([]int, error) {
	if strings.TrimSpace(pageRange) == "" {
		return nil, nil
	}

	var pages []int
	for _, part := range strings.Split(pageRange, ",") {
		tokenPages, err := parseRangeToken(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		pages = append(pages, tokenPages...)
	}
	return pages, nil
}

// parseRangeToken parses either "3" or "1-5".
func parseRangeToken(part string) ([]int, error) {
	if part == "" {
		return nil, errors.New("empty page token")
	}
	if !strings.Contains(part, "-") {
		page, err := strconv.Atoi(part)
		if err != nil || page < 1 {
			return nil, fmt.Errorf("invalid page number: %s", part)
		}
		return []int{page}, nil
	}

	bounds := strings.Split(part, "-")
	if len(bounds) != 2 {
		return nil, fmt.Errorf("invalid range format: %s", part)
	}
	start, err := strconv.Atoi(strings.TrimSpace(bounds[0]))
	if err != nil || start < 1 {
		return nil, fmt.Errorf("invalid start page: %s", bounds[0])
	}
	end, err := strconv.Atoi(strings.TrimSpace(bounds[1]))
	if err != nil || end < 1 {
		return nil, fmt.Errorf("invalid end page: %s", bounds[1])
	}
	if start > end {
		return nil, fmt.Errorf("start page %d greater than end page %d", start, end)
	}
	out := make([]int, 0, end-start+1)
	for i := start; i <= end; i++ {
		out = append(out, i)
	}
	return out, nil
}
