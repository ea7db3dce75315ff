package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/maxzrff/KnowledgeMCP/internal/model"
)

// XLSXExtractor flattens every sheet to tab-separated rows, one block per
// sheet prefixed with the sheet name.
type XLSXExtractor struct{}

func (e *XLSXExtractor) Extract(ctx context.Context, path string, _ Options) (*Result, error) {
	workbook, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open xlsx %s: %w", path, err)
	}
	defer workbook.Close()

	sheets := workbook.GetSheetList()
	var parts []string
	for _, sheet := range sheets {
		rows, err := workbook.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q in %s: %w", sheet, path, err)
		}
		parts = append(parts, "Sheet: "+sheet)
		for _, row := range rows {
			line := strings.Join(row, "\t")
			if strings.TrimSpace(line) != "" {
				parts = append(parts, line)
			}
		}
		parts = append(parts, "")
	}

	metadata := map[string]interface{}{
		"format":      string(model.FormatXLSX),
		"sheet_count": len(sheets),
		"sheets":      sheets,
	}

	return &Result{
		Text:     strings.Join(parts, "\n"),
		Metadata: metadata,
		Method:   model.MethodTextExtraction,
	}, nil
}
