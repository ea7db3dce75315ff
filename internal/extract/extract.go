// Package extract turns document files into plain text plus metadata, one
// extractor per supported format.
package extract

import (
	"context"
	"fmt"

	"github.com/maxzrff/KnowledgeMCP/internal/model"
)

// Result is the outcome of extracting one file.
type Result struct {
	Text     string
	Metadata map[string]interface{}
	Method   model.ProcessingMethod
}

// Options tune a single extraction.
type Options struct {
	// ForceOCR short-circuits the PDF OCR decision.
	ForceOCR bool
}

// Extractor produces text and metadata from a file path. Implementations are
// stateless and safe for concurrent use.
type Extractor interface {
	Extract(ctx context.Context, path string, opts Options) (*Result, error)
}

// OCRRunner is the slice of the OCR service the extractors need.
type OCRRunner interface {
	ImageText(ctx context.Context, path string) (string, float64, error)
	PDFText(ctx context.Context, path string) (string, float64, error)
}

// Registry dispatches extraction by document format.
type Registry struct {
	extractors map[model.Format]Extractor
}

// NewRegistry wires the per-format extractors. ocr may be nil, in which case
// the PDF extractor never falls back to OCR and images yield no text.
func NewRegistry(ocr OCRRunner) *Registry {
	return &Registry{
		extractors: map[model.Format]Extractor{
			model.FormatPDF:  &PDFExtractor{OCR: ocr},
			model.FormatDOCX: &DOCXExtractor{},
			model.FormatPPTX: &PPTXExtractor{},
			model.FormatXLSX: &XLSXExtractor{},
			model.FormatHTML: &HTMLExtractor{},
			model.FormatJPG:  &ImageExtractor{ImageFormat: model.FormatJPG, OCR: ocr},
			model.FormatPNG:  &ImageExtractor{ImageFormat: model.FormatPNG, OCR: ocr},
			model.FormatSVG:  &SVGExtractor{},
		},
	}
}

// Extract runs the extractor registered for format.
func (r *Registry) Extract(ctx context.Context, path string, format model.Format, opts Options) (*Result, error) {
	ex, ok := r.extractors[format]
	if !ok {
		return nil, fmt.Errorf("%w: no extractor for %s", model.ErrUnsupportedFormat, format)
	}
	return ex.Extract(ctx, path, opts)
}
