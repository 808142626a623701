package support

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cucumber/godog"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// aPDFWithQRPages builds a PDF with one QR image per table row, in order.
func (testCtx *TestContext) aPDFWithQRPages(name string, table *godog.Table) error {
	staging, err := os.MkdirTemp(testCtx.TempDir, "pdf-pages-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(staging) }()

	var pages []string
	for i, row := range table.Rows {
		if len(row.Cells) == 0 {
			continue
		}
		text := row.Cells[0].Value
		if i == 0 && text == "text" {
			continue
		}
		page := filepath.Join(staging, fmt.Sprintf("page%03d.png", len(pages)+1))
		if err := testCtx.aQRImageEncoding(page, text); err != nil {
			return err
		}
		pages = append(pages, page)
	}
	if len(pages) == 0 {
		return fmt.Errorf("PDF %s needs at least one page", name)
	}

	path, err := testCtx.ensureParent(name)
	if err != nil {
		return err
	}
	if err := api.ImportImagesFile(pages, path, nil, nil); err != nil {
		return fmt.Errorf("failed to build PDF %s: %w", name, err)
	}
	return nil
}

// anEncryptedPDF encrypts an existing PDF in place with user password pw.
func (testCtx *TestContext) anEncryptedPDF(name, pw string) error {
	conf := model.NewAESConfiguration(pw, pw, 256)
	path := testCtx.Path(name)
	if err := api.EncryptFile(path, "", conf); err != nil {
		return fmt.Errorf("failed to encrypt %s: %w", name, err)
	}
	return nil
}

// RegisterPDFSteps registers the PDF fixture steps.
func (testCtx *TestContext) RegisterPDFSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a PDF "([^"]*)" with QR pages:$`, testCtx.aPDFWithQRPages)
	sc.Step(`^the PDF "([^"]*)" is encrypted with password "([^"]*)"$`, testCtx.anEncryptedPDF)
}
