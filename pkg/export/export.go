// Package export renders tabular reschedule data as downloadable files.
package export

import (
	"fmt"
	"strings"
)

// Format identifies a file format.
type Format string

const (
	FormatCSV Format = "csv"
	FormatPDF Format = "pdf"
)

// ParseFormat normalises a user supplied format, defaulting to CSV.
func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", raw)
	}
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatPDF {
		return "application/pdf"
	}
	return "text/csv; charset=utf-8"
}

// Dataset defines tabular export content. Sections are rendered one after another
// with their own title.
type Dataset struct {
	Headers  []string
	Sections []Section
}

// Section is a titled group of rows sharing the dataset headers.
type Section struct {
	Title string
	Rows  [][]string
}

// Renderer turns a dataset into bytes.
type Renderer interface {
	Render(data Dataset, title string) ([]byte, error)
}

// RendererFor returns the renderer for f.
func RendererFor(f Format) Renderer {
	if f == FormatPDF {
		return NewPDFExporter()
	}
	return NewCSVExporter()
}

func (d Dataset) validate() error {
	if len(d.Headers) == 0 {
		return fmt.Errorf("export requires at least one header")
	}
	for _, section := range d.Sections {
		for i, row := range section.Rows {
			if len(row) != len(d.Headers) {
				return fmt.Errorf("section %q row %d has %d cells, want %d", section.Title, i, len(row), len(d.Headers))
			}
		}
	}
	return nil
}
