package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/qrlens/internal/pdf"
	"github.com/MeKo-Tech/qrlens/internal/pipeline"
)

func newPDFCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pdf <file>",
		Short: "Decode QR codes in the images embedded in a PDF",
		Long: `Extract the raster images embedded in a PDF document and decode the QR
symbols they contain. Vector-drawn symbols are not rendered and therefore
not found.

Examples:
  qrlens pdf invoice.pdf
  qrlens pdf scans.pdf --pages 1-3,7 --format json
  qrlens pdf locked.pdf --password secret`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runPDF(cmd, args[0])
		},
	}

	cmd.Flags().StringP("format", "f", "text", "output format (text, json, csv)")
	cmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	cmd.Flags().String("pages", "", "page range to process, e.g. 1-3,5 (default: all pages)")
	cmd.Flags().String("password", "", "password for encrypted documents")
	return cmd
}

func (a *app) runPDF(cmd *cobra.Command, file string) error {
	format := a.cfg.Output.Format
	if cmd.Flags().Changed("format") {
		format, _ = cmd.Flags().GetString("format")
	}
	outputFile := a.cfg.Output.File
	if cmd.Flags().Changed("output") {
		outputFile, _ = cmd.Flags().GetString("output")
	}
	if err := validateFormat(format, pipeline.FormatText, pipeline.FormatJSON, pipeline.FormatCSV); err != nil {
		return err
	}

	opts := pdf.Options{Pages: a.cfg.PDF.Pages}
	if cmd.Flags().Changed("pages") {
		opts.Pages, _ = cmd.Flags().GetString("pages")
	}
	opts.Password, _ = cmd.Flags().GetString("password")

	pl, err := a.newPipeline()
	if err != nil {
		return err
	}
	res, err := pl.ProcessPDF(cmd.Context(), file, opts)
	if err != nil {
		if pdf.IsPasswordError(err) {
			return fmt.Errorf("%s is encrypted or the password is wrong (use --password): %w", file, err)
		}
		return err
	}

	images := pdfImages(res)
	a.log.Debug("PDF scanned", "file", file, "pages", res.TotalPages, "images", len(images),
		"symbols", len(res.Symbols()))

	var out string
	if format == pipeline.FormatJSON {
		out, err = pipeline.ToJSON(res)
	} else {
		out, err = pipeline.Format(images, format)
	}
	if err != nil {
		return err
	}
	return writeOutput(cmd, out, outputFile)
}

// pdfImages flattens the per-page results in page order.
func pdfImages(res *pipeline.PDFResult) []*pipeline.ImageResult {
	var out []*pipeline.ImageResult
	for i := range res.Pages {
		for j := range res.Pages[i].Images {
			out = append(out, &res.Pages[i].Images[j])
		}
	}
	return out
}
