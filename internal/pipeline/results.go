package pipeline

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Output formats accepted by Format.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Format renders results in the named output format.
func Format(results []*ImageResult, format string) (string, error) {
	switch format {
	case "", FormatText:
		return ToPlainText(results), nil
	case FormatJSON:
		return ToJSON(results)
	case FormatCSV:
		return ToCSV(results)
	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
}

// ToJSON serializes results to indented JSON.
func ToJSON(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ToPlainText prints one decoded text per line. With several inputs each
// line is prefixed by its source.
func ToPlainText(results []*ImageResult) string {
	var lines []string
	for _, r := range results {
		if r == nil {
			continue
		}
		for _, s := range r.Symbols {
			if len(results) > 1 && r.Source != "" {
				lines = append(lines, r.Source+": "+s.Text)
			} else {
				lines = append(lines, s.Text)
			}
		}
	}
	return strings.Join(lines, "\n")
}

// ToCSV exports one row per symbol, or one row with an empty text for an
// image without symbols.
func ToCSV(results []*ImageResult) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"source", "format", "text", "version", "ec_level", "corrected_errors", "x", "y", "w", "h", "reason"})
	for _, r := range results {
		if r == nil {
			continue
		}
		if len(r.Symbols) == 0 {
			reason := r.Reason
			if r.Error != "" {
				reason = r.Error
			}
			_ = w.Write([]string{r.Source, "", "", "", "", "", "", "", "", "", reason})
			continue
		}
		for _, s := range r.Symbols {
			_ = w.Write([]string{
				r.Source,
				s.Format.String(),
				s.Text,
				strconv.Itoa(s.Version),
				s.ECLevel,
				strconv.Itoa(s.CorrectedErrors),
				strconv.Itoa(s.BBox.Min.X),
				strconv.Itoa(s.BBox.Min.Y),
				strconv.Itoa(s.BBox.Dx()),
				strconv.Itoa(s.BBox.Dy()),
				"",
			})
		}
	}
	w.Flush()
	return buf.String(), w.Error()
}
