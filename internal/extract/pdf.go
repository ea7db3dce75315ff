package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/maxzrff/KnowledgeMCP/internal/model"
	"github.com/maxzrff/KnowledgeMCP/internal/ocr"
)

// PDFExtractor extracts PDF text with a smart OCR fallback: when the
// baseline extraction looks like a scan (too short or too much garbage), the
// pages are rasterized and recognized instead.
type PDFExtractor struct {
	OCR OCRRunner
}

func (e *PDFExtractor) Extract(ctx context.Context, path string, opts Options) (*Result, error) {
	text, metadata, err := e.extractText(path)
	if err != nil {
		return nil, err
	}

	if e.OCR != nil && ocr.Needed(text, opts.ForceOCR) {
		ocrText, confidence, ocrErr := e.OCR.PDFText(ctx, path)
		if ocrErr == nil {
			metadata["ocr_used"] = true
			metadata["ocr_confidence"] = confidence
			return &Result{Text: ocrText, Metadata: metadata, Method: model.MethodOCR}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// OCR failure is not fatal; fall back to whatever the baseline
		// extraction produced.
		metadata["ocr_failed"] = true
		metadata["ocr_error"] = ocrErr.Error()
	}

	if _, ok := metadata["ocr_failed"]; !ok {
		metadata["ocr_used"] = false
	}
	return &Result{Text: text, Metadata: metadata, Method: model.MethodTextExtraction}, nil
}

func (e *PDFExtractor) extractText(path string) (string, map[string]interface{}, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", nil, fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer f.Close()

	pageCount := reader.NumPage()
	metadata := map[string]interface{}{
		"format":     string(model.FormatPDF),
		"page_count": pageCount,
	}
	if info := reader.Trailer().Key("Info"); !info.IsNull() {
		for key, field := range map[string]string{"Title": "title", "Author": "author", "Subject": "subject"} {
			if v := info.Key(key); v.Kind() == pdf.String && v.RawString() != "" {
				metadata[field] = v.RawString()
			}
		}
	}

	var parts []string
	fonts := make(map[string]*pdf.Font)
	for i := 1; i <= pageCount; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(fonts)
		if err != nil {
			// A single unreadable page does not fail the document.
			continue
		}
		if strings.TrimSpace(pageText) != "" {
			parts = append(parts, pageText)
		}
	}
	return strings.Join(parts, "\n\n"), metadata, nil
}
