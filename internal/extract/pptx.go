package extract

import (
	"archive/zip"
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/maxzrff/KnowledgeMCP/internal/model"
)

// slide parts are ppt/slides/slide1.xml, slide2.xml, ... and must be read in
// numeric order, not lexicographic.
var slidePartPattern = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// PPTXExtractor extracts shape text from every slide.
type PPTXExtractor struct{}

func (e *PPTXExtractor) Extract(ctx context.Context, path string, _ Options) (*Result, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open pptx %s: %w", path, err)
	}
	defer archive.Close()

	type slide struct {
		number int
		name   string
	}
	var slides []slide
	for _, file := range archive.File {
		m := slidePartPattern.FindStringSubmatch(file.Name)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		slides = append(slides, slide{number: n, name: file.Name})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].number < slides[j].number })

	var parts []string
	for _, s := range slides {
		data, err := ooxmlPart(archive, s.name)
		if err != nil {
			continue
		}
		shapes, err := textRuns(data, "t", "p")
		if err != nil {
			continue
		}
		for _, shape := range shapes {
			if strings.TrimSpace(shape) != "" {
				parts = append(parts, shape)
			}
		}
	}

	metadata := map[string]interface{}{
		"format":      string(model.FormatPPTX),
		"slide_count": len(slides),
	}
	ooxmlCoreProperties(archive, metadata)

	return &Result{
		Text:     strings.Join(parts, "\n\n"),
		Metadata: metadata,
		Method:   model.MethodTextExtraction,
	}, nil
}
