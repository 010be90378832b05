package parser

import (
	"fmt"
	"strings"
)

// Extractor turns raw document bytes into positioned rows.
type Extractor interface {
	Rows(data []byte) ([]Row, error)
	SupportedFormats() []string
}

// Registry maps file formats to extractors.
type Registry struct {
	extractors map[string]Extractor
}

// NewRegistry builds a registry with the built-in PDF and XLSX extractors.
func NewRegistry() *Registry {
	r := &Registry{extractors: map[string]Extractor{}}
	r.Register(&PDFExtractor{})
	r.Register(&XLSXExtractor{})
	return r
}

// Register adds an extractor for every format it supports.
func (r *Registry) Register(e Extractor) {
	for _, f := range e.SupportedFormats() {
		r.extractors[f] = e
	}
}

// Get returns the extractor for a format such as "pdf" or "xlsx".
func (r *Registry) Get(format string) (Extractor, error) {
	e, ok := r.extractors[strings.ToLower(format)]
	if !ok {
		return nil, fmt.Errorf("parser: no extractor for format %q", format)
	}
	return e, nil
}

// DetectFormat guesses the format from a filename extension, falling back
// to content sniffing: XLSX workbooks are zip archives ("PK"), everything
// else is assumed to be PDF.
func DetectFormat(filename string, data []byte) string {
	if i := strings.LastIndex(filename, "."); i >= 0 {
		switch strings.ToLower(filename[i+1:]) {
		case "xlsx", "xls":
			return "xlsx"
		case "pdf":
			return "pdf"
		}
	}
	if len(data) >= 2 && data[0] == 'P' && data[1] == 'K' {
		return "xlsx"
	}
	return "pdf"
}

// PDFExtractor reads positioned rows from the PDF text layer.
type PDFExtractor struct{}

func (*PDFExtractor) SupportedFormats() []string      { return []string{"pdf"} }
func (*PDFExtractor) Rows(data []byte) ([]Row, error) { return ExtractRows(data) }

// XLSXExtractor reads rows from spreadsheet exports.
type XLSXExtractor struct{}

func (*XLSXExtractor) SupportedFormats() []string      { return []string{"xlsx", "xls"} }
func (*XLSXExtractor) Rows(data []byte) ([]Row, error) { return ExtractRowsXLSX(data) }
