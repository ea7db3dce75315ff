package extract

import (
	"archive/zip"
	"context"
	"fmt"
	"strings"

	"github.com/maxzrff/KnowledgeMCP/internal/model"
)

// DOCXExtractor extracts paragraph text from word/document.xml.
type DOCXExtractor struct{}

func (e *DOCXExtractor) Extract(ctx context.Context, path string, _ Options) (*Result, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open docx %s: %w", path, err)
	}
	defer archive.Close()

	data, err := ooxmlPart(archive, "word/document.xml")
	if err != nil {
		return nil, fmt.Errorf("read docx %s: %w", path, err)
	}
	paragraphs, err := textRuns(data, "t", "p")
	if err != nil {
		return nil, fmt.Errorf("parse docx %s: %w", path, err)
	}

	metadata := map[string]interface{}{
		"format":          string(model.FormatDOCX),
		"paragraph_count": len(paragraphs),
	}
	ooxmlCoreProperties(archive, metadata)

	return &Result{
		Text:     strings.Join(paragraphs, "\n\n"),
		Metadata: metadata,
		Method:   model.MethodTextExtraction,
	}, nil
}
