// Package ocr provides tesseract-backed text recognition for images and
// scanned PDFs.
package ocr

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/gen2brain/go-fitz"
	"github.com/otiai10/gosseract/v2"
)

const (
	// rasterDPI is the resolution PDF pages are rendered at before
	// recognition.
	rasterDPI = 300

	// minTextLength is the extracted-text length below which OCR kicks in.
	minTextLength = 100

	// minAlnumRatio is the alphanumeric-or-whitespace ratio below which
	// extracted text is considered garbage.
	minAlnumRatio = 0.7
)

// Service runs OCR with a pooled tesseract client and a bounded page worker
// pool.
type Service struct {
	language string
	workers  int
	pool     sync.Pool
	logger   *log.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLanguage sets the tesseract language (default "eng").
func WithLanguage(lang string) Option {
	return func(s *Service) {
		if lang != "" {
			s.language = lang
		}
	}
}

// WithWorkers bounds the per-PDF page recognition pool (default 2, floor 1).
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New builds an OCR service.
func New(opts ...Option) *Service {
	s := &Service{
		language: "eng",
		workers:  2,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.pool.New = func() interface{} {
		client := gosseract.NewClient()
		if err := client.SetLanguage(s.language); err != nil {
			s.logf("ocr: set language %q: %v", s.language, err)
		}
		return client
	}
	return s
}

func (s *Service) logf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// Needed reports whether recognized text quality warrants OCR: forced,
// shorter than 100 characters after trimming, or less than 70% alphanumeric
// or whitespace content.
func Needed(text string, force bool) bool {
	if force {
		return true
	}
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < minTextLength {
		return true
	}
	alnum := 0
	total := 0
	for _, r := range text {
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			alnum++
		}
	}
	if total == 0 {
		return true
	}
	return float64(alnum)/float64(total) < minAlnumRatio
}

// ImageText recognizes text in an image file. The returned confidence is the
// mean per-word confidence scaled into [0,1].
func (s *Service) ImageText(ctx context.Context, path string) (string, float64, error) {
	type result struct {
		text       string
		confidence float64
		err        error
	}
	done := make(chan result, 1)
	go func() {
		text, conf, err := s.recognizeFile(path)
		done <- result{text, conf, err}
	}()
	select {
	case <-ctx.Done():
		return "", 0, ctx.Err()
	case r := <-done:
		return r.text, r.confidence, r.err
	}
}

func (s *Service) recognizeFile(path string) (string, float64, error) {
	client := s.pool.Get().(*gosseract.Client)
	defer s.pool.Put(client)

	if err := client.SetImage(path); err != nil {
		return "", 0, fmt.Errorf("set image %s: %w", path, err)
	}
	text, err := client.Text()
	if err != nil {
		return "", 0, fmt.Errorf("recognize %s: %w", path, err)
	}

	confidence := 0.0
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err == nil && len(boxes) > 0 {
		sum := 0.0
		for _, box := range boxes {
			sum += box.Confidence
		}
		confidence = sum / float64(len(boxes)) / 100.0
	}
	return text, confidence, nil
}

type pageResult struct {
	page       int
	text       string
	confidence float64
	err        error
}

// PDFText rasterizes every page of a PDF at 300 DPI and recognizes them on
// the worker pool. Page texts are joined with blank lines in page order and
// the confidence is the mean of per-page confidences.
func (s *Service) PDFText(ctx context.Context, path string) (string, float64, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return "", 0, fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer doc.Close()

	tmpDir, err := os.MkdirTemp("", "knowledge-ocr-*")
	if err != nil {
		return "", 0, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	pageCount := doc.NumPage()
	if pageCount == 0 {
		return "", 0, nil
	}

	jobs := make(chan int)
	results := make(chan pageResult, pageCount)

	var render sync.Mutex
	var wg sync.WaitGroup
	workers := s.workers
	if workers > pageCount {
		workers = pageCount
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for page := range jobs {
				results <- s.processPage(doc, &render, tmpDir, page)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for page := 0; page < pageCount; page++ {
			select {
			case <-ctx.Done():
				return
			case jobs <- page:
			}
		}
	}()

	wg.Wait()
	close(results)

	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	collected := make([]pageResult, 0, pageCount)
	for r := range results {
		if r.err != nil {
			return "", 0, fmt.Errorf("page %d: %w", r.page+1, r.err)
		}
		collected = append(collected, r)
	}
	sort.Slice(collected, func(i, j int) bool { return collected[i].page < collected[j].page })

	texts := make([]string, 0, len(collected))
	sum := 0.0
	for _, r := range collected {
		texts = append(texts, r.text)
		sum += r.confidence
	}
	confidence := 0.0
	if len(collected) > 0 {
		confidence = sum / float64(len(collected))
	}
	s.logf("ocr: %s: %d pages, confidence %.2f", filepath.Base(path), len(collected), confidence)
	return strings.Join(texts, "\n\n"), confidence, nil
}

// processPage renders one page to a temp PNG and recognizes it. Rendering is
// serialized because fitz documents are not safe for concurrent use;
// recognition runs in parallel.
func (s *Service) processPage(doc *fitz.Document, render *sync.Mutex, tmpDir string, page int) pageResult {
	render.Lock()
	img, err := doc.ImageDPI(page, rasterDPI)
	render.Unlock()
	if err != nil {
		return pageResult{page: page, err: fmt.Errorf("rasterize: %w", err)}
	}

	imgPath := filepath.Join(tmpDir, fmt.Sprintf("page-%04d.png", page))
	if err := writePNG(imgPath, img); err != nil {
		return pageResult{page: page, err: err}
	}
	defer os.Remove(imgPath)

	text, confidence, err := s.recognizeFile(imgPath)
	if err != nil {
		return pageResult{page: page, err: err}
	}
	return pageResult{page: page, text: text, confidence: confidence}
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return nil
}
