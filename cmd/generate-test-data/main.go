package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/MeKo-Tech/qrlens/internal/testutil"
	"github.com/MeKo-Tech/qrlens/internal/utils"
)

// fixture records what a generated image should decode to.
type fixture struct {
	Name     string   `json:"name"`
	File     string   `json:"file"`
	Texts    []string `json:"texts"`
	ECLevel  string   `json:"ec_level,omitempty"`
	Version  int      `json:"version,omitempty"`
	Variant  string   `json:"variant"`
	Expected string   `json:"expected"`
}

type qrFixture struct {
	name    string
	text    string
	level   string
	variant string
}

var qrFixtures = []qrFixture{
	{"hello_m", "HELLO", "M", "clean"},
	{"numeric_l", "0123456789012345", "L", "clean"},
	{"url_q", "https://example.com/tickets?id=42", "Q", "clean"},
	{"long_h", "The quick brown fox jumps over the lazy dog 0123456789", "H", "clean"},
	{"rotated_90", "ROTATED", "M", "rot90"},
	{"rotated_17", "SKEWED", "Q", "rot17"},
	{"noisy", "NOISY", "H", "noise"},
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	var (
		generateImages = flag.Bool("images", true, "Generate QR test images and fixtures")
		generateFrames = flag.Bool("frames", true, "Generate a frame sequence for the frames command")
		generatePDF    = flag.Bool("pdf", true, "Generate a PDF with one QR image per page")
		outDir         = flag.String("out", "testdata", "Output directory, relative to the project root")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Generate QR test data for qrlens.\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	root, err := testutil.GetProjectRoot()
	if err != nil {
		slog.Error("Failed to find project root", "error", err)
		os.Exit(1)
	}
	if err := os.Chdir(root); err != nil {
		slog.Error("Failed to change to project root", "error", err)
		os.Exit(1)
	}

	steps := []struct {
		enabled bool
		name    string
		fn      func(string) error
	}{
		{*generateImages, "images", generateQRImages},
		{*generateFrames, "frames", generateFrameSequence},
		{*generatePDF, "pdf", generateQRPDF},
	}
	for _, step := range steps {
		if !step.enabled {
			continue
		}
		slog.Info("Generating test data", "kind", step.name, "dir", *outDir)
		if err := step.fn(*outDir); err != nil {
			slog.Error("Failed to generate test data", "kind", step.name, "error", err)
			os.Exit(1)
		}
	}
	slog.Info("Test data generation completed")
}

func render(text, level string) (image.Image, int, error) {
	sym, err := testutil.EncodeQR(text, testutil.QROptions{Level: level})
	if err != nil {
		return nil, 0, fmt.Errorf("encode %q: %w", text, err)
	}
	return sym.Image(4, 4), sym.Version, nil
}

// generateQRImages writes qr/*.png plus a fixtures/qr.json manifest,
// including one image without a symbol.
func generateQRImages(out string) error {
	dir := filepath.Join(out, "qr")
	if err := testutil.EnsureDir(dir); err != nil {
		return err
	}

	var fixtures []fixture
	for i, s := range qrFixtures {
		img, version, err := render(s.text, s.level)
		if err != nil {
			return err
		}
		switch s.variant {
		case "rot90":
			img = testutil.Rotate(testutil.Pad(img, 8), 90)
		case "rot17":
			img = testutil.Rotate(testutil.Pad(img, 24), 17)
		case "noise":
			img = testutil.AddNoise(img, 40, uint64(i)+1) //nolint:gosec // small index
		}
		file := s.name + ".png"
		if err := utils.SavePNG(filepath.Join(dir, file), img); err != nil {
			return err
		}
		fixtures = append(fixtures, fixture{
			Name: s.name, File: "qr/" + file, Texts: []string{s.text},
			ECLevel: s.level, Version: version, Variant: s.variant, Expected: "decoded",
		})
	}

	if err := utils.SavePNG(filepath.Join(dir, "no_symbol.png"), testutil.TextImage("no code here", 240, 120)); err != nil {
		return err
	}
	fixtures = append(fixtures, fixture{
		Name: "no_symbol", File: "qr/no_symbol.png", Variant: "text", Expected: "geometry",
	})

	return writeManifest(filepath.Join(out, "fixtures"), "qr.json", fixtures)
}

// generateFrameSequence writes frames/NNNN.png: a run of one text, a gap
// without a symbol, then a second text.
func generateFrameSequence(out string) error {
	dir := filepath.Join(out, "frames")
	if err := testutil.EnsureDir(dir); err != nil {
		return err
	}
	first, _, err := render("FRAME-A", "M")
	if err != nil {
		return err
	}
	second, _, err := render("FRAME-B", "M")
	if err != nil {
		return err
	}
	blank := testutil.TextImage("", first.Bounds().Dx(), first.Bounds().Dy())

	sequence := []image.Image{first, first, first, blank, second, second}
	for i, img := range sequence {
		noisy := testutil.AddNoise(img, 12, uint64(i)+100) //nolint:gosec // small index
		if err := utils.SavePNG(filepath.Join(dir, fmt.Sprintf("%04d.png", i+1)), noisy); err != nil {
			return err
		}
	}
	return nil
}

// generateQRPDF writes pdf/qr_pages.pdf with one symbol per page.
func generateQRPDF(out string) error {
	dir := filepath.Join(out, "pdf")
	if err := testutil.EnsureDir(dir); err != nil {
		return err
	}
	tmp, err := os.MkdirTemp("", "qrlens-pdf-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(tmp) }()

	var pages []string
	for i, text := range []string{"PAGE ONE", "PAGE TWO", "PAGE THREE"} {
		img, _, err := render(text, "M")
		if err != nil {
			return err
		}
		path := filepath.Join(tmp, fmt.Sprintf("page%d.png", i+1))
		if err := utils.SavePNG(path, img); err != nil {
			return err
		}
		pages = append(pages, path)
	}
	target := filepath.Join(dir, "qr_pages.pdf")
	_ = os.Remove(target)
	if err := api.ImportImagesFile(pages, target, nil, nil); err != nil {
		return fmt.Errorf("build pdf: %w", err)
	}
	return nil
}

func writeManifest(dir, name string, fixtures []fixture) error {
	if err := testutil.EnsureDir(dir); err != nil {
		return err
	}
	data, err := json.MarshalIndent(fixtures, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), data, 0o600)
}
