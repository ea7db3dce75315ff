package extract

import (
	"context"
	"encoding/xml"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/maxzrff/KnowledgeMCP/internal/model"
)

// ImageExtractor handles raster images. When OCR is available the image is
// recognized; otherwise it contributes metadata only and downstream marks
// the document complete with zero chunks.
type ImageExtractor struct {
	ImageFormat model.Format
	OCR         OCRRunner
}

func (e *ImageExtractor) Extract(ctx context.Context, path string, _ Options) (*Result, error) {
	metadata := map[string]interface{}{
		"format": string(e.ImageFormat),
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image %s: %w", path, err)
	}
	cfg, imgFormat, err := image.DecodeConfig(f)
	f.Close()
	if err == nil {
		metadata["width"] = cfg.Width
		metadata["height"] = cfg.Height
		metadata["mode"] = imgFormat
	}

	if e.OCR == nil {
		return &Result{Metadata: metadata, Method: model.MethodImageAnalysis}, nil
	}

	text, confidence, err := e.OCR.ImageText(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		metadata["ocr_failed"] = true
		metadata["ocr_error"] = err.Error()
		return &Result{Metadata: metadata, Method: model.MethodImageAnalysis}, nil
	}
	metadata["ocr_used"] = true
	metadata["ocr_confidence"] = confidence
	return &Result{Text: text, Metadata: metadata, Method: model.MethodOCR}, nil
}

// svgRoot captures the dimension attributes of the <svg> element.
type svgRoot struct {
	Width   string `xml:"width,attr"`
	Height  string `xml:"height,attr"`
	ViewBox string `xml:"viewBox,attr"`
}

// SVGExtractor reports vector image metadata; SVG content is not rasterized
// for OCR.
type SVGExtractor struct{}

func (e *SVGExtractor) Extract(ctx context.Context, path string, _ Options) (*Result, error) {
	metadata := map[string]interface{}{
		"format": string(model.FormatSVG),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open svg %s: %w", path, err)
	}
	var root svgRoot
	if err := xml.Unmarshal(data, &root); err == nil {
		if root.Width != "" {
			metadata["width"] = root.Width
		}
		if root.Height != "" {
			metadata["height"] = root.Height
		}
		if root.ViewBox != "" {
			metadata["view_box"] = root.ViewBox
		}
	}

	return &Result{Metadata: metadata, Method: model.MethodImageAnalysis}, nil
}
