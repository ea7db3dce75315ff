package extract

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/maxzrff/KnowledgeMCP/internal/model"
)

// HTMLExtractor strips markup, scripts and styles and keeps the rendered
// text, plus title and author/description meta tags.
type HTMLExtractor struct{}

func (e *HTMLExtractor) Extract(ctx context.Context, path string, _ Options) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open html %s: %w", path, err)
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("parse html %s: %w", path, err)
	}

	metadata := map[string]interface{}{
		"format": string(model.FormatHTML),
	}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		metadata["title"] = title
	}
	doc.Find("meta").Each(func(_ int, sel *goquery.Selection) {
		name, _ := sel.Attr("name")
		content, _ := sel.Attr("content")
		switch name {
		case "author":
			metadata["author"] = content
		case "description":
			metadata["description"] = content
		}
	})

	doc.Find("script, style").Remove()

	var lines []string
	for _, line := range strings.Split(doc.Find("body").Text(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	text := strings.Join(lines, "\n")
	if text == "" {
		// Fragment without a body element; fall back to the whole tree.
		for _, line := range strings.Split(doc.Text(), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				lines = append(lines, line)
			}
		}
		text = strings.Join(lines, "\n")
	}

	return &Result{
		Text:     text,
		Metadata: metadata,
		Method:   model.MethodTextExtraction,
	}, nil
}
