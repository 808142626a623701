package support

import (
	"fmt"
	"image"
	"path/filepath"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/qrlens/internal/testutil"
	"github.com/MeKo-Tech/qrlens/internal/utils"
)

const (
	fixturePitch = 4
	fixtureQuiet = 4
)

func renderQR(text, level string) (image.Image, error) {
	sym, err := testutil.EncodeQR(text, testutil.QROptions{Level: level})
	if err != nil {
		return nil, fmt.Errorf("encode %q: %w", text, err)
	}
	return sym.Image(fixturePitch, fixtureQuiet), nil
}

func (testCtx *TestContext) save(name string, img image.Image) error {
	path, err := testCtx.ensureParent(name)
	if err != nil {
		return err
	}
	return utils.SavePNG(path, img)
}

func (testCtx *TestContext) aQRImageEncoding(name, text string) error {
	return testCtx.aQRImageEncodingAtLevel(name, text, "M")
}

func (testCtx *TestContext) aQRImageEncodingAtLevel(name, text, level string) error {
	img, err := renderQR(text, level)
	if err != nil {
		return err
	}
	return testCtx.save(name, img)
}

func (testCtx *TestContext) aRotatedQRImage(name, text string, degrees int) error {
	img, err := renderQR(text, "Q")
	if err != nil {
		return err
	}
	return testCtx.save(name, testutil.Rotate(testutil.Pad(img, 16), float64(degrees)))
}

func (testCtx *TestContext) aNoisyQRImage(name, text string) error {
	img, err := renderQR(text, "H")
	if err != nil {
		return err
	}
	return testCtx.save(name, testutil.AddNoise(img, 40, 7))
}

func (testCtx *TestContext) anImageWithoutAQRCode(name string) error {
	return testCtx.save(name, testutil.TextImage("no code here", 240, 120))
}

// aFrameSequenceIn writes one numbered PNG per table row. The single column
// holds the text to encode; an empty cell produces a frame without a
// symbol.
func (testCtx *TestContext) aFrameSequenceIn(dir string, table *godog.Table) error {
	size := 0
	var frames []image.Image
	for i, row := range table.Rows {
		if len(row.Cells) == 0 {
			continue
		}
		text := row.Cells[0].Value
		if i == 0 && text == "text" {
			continue
		}
		if text == "" {
			frames = append(frames, nil)
			continue
		}
		img, err := renderQR(text, "M")
		if err != nil {
			return err
		}
		size = max(size, img.Bounds().Dx())
		frames = append(frames, img)
	}
	if size == 0 {
		size = 120
	}

	for i, img := range frames {
		if img == nil {
			img = testutil.TextImage("", size, size)
		}
		if err := testCtx.save(filepath.Join(dir, fmt.Sprintf("%04d.png", i+1)), img); err != nil {
			return err
		}
	}
	return nil
}

// RegisterImageSteps registers the image fixture steps.
func (testCtx *TestContext) RegisterImageSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a QR image "([^"]*)" encoding "([^"]*)"$`, testCtx.aQRImageEncoding)
	sc.Step(`^a QR image "([^"]*)" encoding "([^"]*)" at error correction level ([LMQH])$`,
		testCtx.aQRImageEncodingAtLevel)
	sc.Step(`^a QR image "([^"]*)" encoding "([^"]*)" rotated by (-?\d+) degrees$`, testCtx.aRotatedQRImage)
	sc.Step(`^a noisy QR image "([^"]*)" encoding "([^"]*)"$`, testCtx.aNoisyQRImage)
	sc.Step(`^an image "([^"]*)" without a QR code$`, testCtx.anImageWithoutAQRCode)
	sc.Step(`^a frame sequence in "([^"]*)":$`, testCtx.aFrameSequenceIn)
}
