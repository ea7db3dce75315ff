// Package knowledge orchestrates the ingest pipeline and owns the in-memory
// document, task and context registries.
package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maxzrff/KnowledgeMCP/internal/chunker"
	"github.com/maxzrff/KnowledgeMCP/internal/config"
	"github.com/maxzrff/KnowledgeMCP/internal/extract"
	"github.com/maxzrff/KnowledgeMCP/internal/model"
	"github.com/maxzrff/KnowledgeMCP/internal/vectorstore"
)

// minExtractedChars is the threshold below which a document is considered
// to have no usable text and completes with zero chunks.
const minExtractedChars = 10

// taskSteps is the number of pipeline stages tracked per async task:
// extract, chunk, embed, store.
const taskSteps = 4

// Embedder encodes texts; the query path may be cached.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Extractor dispatches per-format text extraction.
type Extractor interface {
	Extract(ctx context.Context, path string, format model.Format, opts extract.Options) (*extract.Result, error)
}

// Chunker splits text into passages.
type Chunker func(text, strategy string, chunkSize, overlap int) ([]string, error)

// Service coordinates extraction, chunking, embedding and vector writes.
type Service struct {
	cfg       *config.Config
	extractor Extractor
	embedder  Embedder
	index     vectorstore.Index
	chunk     Chunker
	logger    *log.Logger

	mu        sync.RWMutex
	documents map[string]*model.Document
	tasks     map[string]*model.ProcessingTask
	contexts  map[string]*model.Context

	// sem bounds concurrently running async pipelines.
	sem chan struct{}
	wg  sync.WaitGroup
}

// NewService wires a knowledge service. chunk may be nil to use the default
// splitter.
func NewService(cfg *config.Config, extractor Extractor, embedder Embedder, index vectorstore.Index, chunk Chunker, logger *log.Logger) *Service {
	if chunk == nil {
		chunk = chunker.Split
	}
	s := &Service{
		cfg:       cfg,
		extractor: extractor,
		embedder:  embedder,
		index:     index,
		chunk:     chunk,
		logger:    logger,
		documents: make(map[string]*model.Document),
		tasks:     make(map[string]*model.ProcessingTask),
		contexts:  make(map[string]*model.Context),
		sem:       make(chan struct{}, cfg.Processing.MaxConcurrentTasks),
	}
	s.seedDefaultContext()
	return s
}

func (s *Service) logf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// Wait blocks until all in-flight async pipelines finish. Used by shutdown
// and tests.
func (s *Service) Wait() {
	s.wg.Wait()
}

// AddDocument validates and registers a file, then processes it inline or in
// the background. The returned id is a task id when async is true and a
// document id otherwise; for a deduplicated file it is always the existing
// document id with dedup=true.
func (s *Service) AddDocument(ctx context.Context, path string, metadata map[string]interface{}, async, forceOCR bool, contexts []string) (id string, dedup bool, err error) {
	if len(contexts) == 0 {
		contexts = []string{model.DefaultContext}
	}
	for _, name := range contexts {
		if err := model.ValidateContextName(name); err != nil {
			return "", false, fmt.Errorf("context %q: %w", name, err)
		}
		if !s.ContextExists(name) {
			return "", false, fmt.Errorf("context %q: %w", name, model.ErrNotFound)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", false, fmt.Errorf("file %s: %w", path, model.ErrNotFound)
	}
	if info.IsDir() {
		return "", false, fmt.Errorf("%s is a directory: %w", path, model.ErrInvalidFilename)
	}
	if info.Size() == 0 {
		return "", false, fmt.Errorf("file %s: %w", path, model.ErrEmptyFile)
	}
	if info.Size() > s.cfg.MaxFileSizeBytes() {
		return "", false, fmt.Errorf("file %s is %d bytes, limit %d: %w", path, info.Size(), s.cfg.MaxFileSizeBytes(), model.ErrFileTooLarge)
	}
	filename := filepath.Base(path)
	if err := model.ValidateFilename(filename); err != nil {
		return "", false, err
	}
	format, ok := model.FormatForExtension(filepath.Ext(path))
	if !ok {
		return "", false, fmt.Errorf("extension %q: %w", filepath.Ext(path), model.ErrUnsupportedFormat)
	}

	contentHash, err := hashFile(path)
	if err != nil {
		return "", false, err
	}

	s.mu.Lock()
	for _, doc := range s.documents {
		if doc.ContentHash == contentHash {
			s.mu.Unlock()
			s.logf("knowledge: duplicate of %s detected, returning %s", doc.Filename, doc.ID)
			return doc.ID, true, nil
		}
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	doc := model.NewDocument(filename, absPath, contentHash, format, info.Size(), contexts, metadata)
	s.documents[doc.ID] = doc
	s.mu.Unlock()

	if !async {
		if err := s.process(ctx, doc, nil, forceOCR); err != nil {
			return doc.ID, false, err
		}
		return doc.ID, false, nil
	}

	task := model.NewProcessingTask(doc.ID, taskSteps)
	s.mu.Lock()
	s.tasks[task.TaskID] = task
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sem <- struct{}{}
		defer func() { <-s.sem }()
		s.runTask(context.Background(), task, doc, forceOCR)
	}()
	s.logf("knowledge: queued %s as task %s", doc.Filename, task.TaskID)
	return task.TaskID, false, nil
}

func (s *Service) runTask(ctx context.Context, task *model.ProcessingTask, doc *model.Document, forceOCR bool) {
	s.setTaskState(task, model.TaskRunning, 0, "")
	if err := s.process(ctx, doc, task, forceOCR); err != nil {
		s.failTask(task, err)
		s.logf("knowledge: processing %s failed: %v", doc.Filename, err)
		return
	}
	s.completeTask(task)
	s.logf("knowledge: processing %s completed", doc.Filename)
}

// process runs the shared pipeline: extract, chunk, embed, store. Both the
// sync and async paths land here; task may be nil.
func (s *Service) process(ctx context.Context, doc *model.Document, task *model.ProcessingTask, forceOCR bool) error {
	s.setDocumentStatus(doc, model.StatusProcessing, "")

	s.advanceTask(task, 1, "Extracting text")
	result, err := s.extractor.Extract(ctx, doc.FilePath, doc.Format, extract.Options{ForceOCR: forceOCR || s.cfg.OCR.ForceOCR})
	if err != nil {
		s.setDocumentStatus(doc, model.StatusFailed, err.Error())
		return fmt.Errorf("extract %s: %w", doc.Filename, err)
	}

	// Contexts is snapshotted under the lock because DeleteContext rewrites
	// the slice in place on another goroutine.
	s.mu.Lock()
	doc.ProcessingMethod = result.Method
	for k, v := range result.Metadata {
		doc.Metadata[k] = v
	}
	contexts := append([]string(nil), doc.Contexts...)
	s.mu.Unlock()

	if len(strings.TrimSpace(result.Text)) < minExtractedChars {
		s.logf("knowledge: no usable text in %s", doc.Filename)
		s.setDocumentStatus(doc, model.StatusCompleted, "")
		return nil
	}

	s.advanceTask(task, 2, "Chunking text")
	chunks, err := s.chunk(result.Text, s.cfg.Chunking.Strategy, s.cfg.Chunking.ChunkSize, s.cfg.Chunking.ChunkOverlap)
	if err != nil {
		s.setDocumentStatus(doc, model.StatusFailed, err.Error())
		return fmt.Errorf("chunk %s: %w", doc.Filename, err)
	}
	if len(chunks) == 0 {
		s.logf("knowledge: no chunks produced from %s", doc.Filename)
		s.setDocumentStatus(doc, model.StatusCompleted, "")
		return nil
	}

	s.advanceTask(task, 3, "Generating embeddings")
	vectors, err := s.embedder.Embed(ctx, chunks)
	if err != nil {
		s.setDocumentStatus(doc, model.StatusFailed, err.Error())
		return fmt.Errorf("embed %s: %w", doc.Filename, err)
	}

	s.advanceTask(task, 4, "Storing vectors")
	for _, contextName := range contexts {
		if err := s.storeChunks(ctx, doc, contextName, chunks, vectors); err != nil {
			s.setDocumentStatus(doc, model.StatusFailed, err.Error())
			return err
		}
		s.bumpContextCount(contextName, 1)
	}

	s.mu.Lock()
	doc.ChunkCount = len(chunks)
	doc.ProcessingStatus = model.StatusCompleted
	doc.DateModified = time.Now().UTC()
	s.mu.Unlock()
	s.logf("knowledge: %s: %d chunks across %d contexts", doc.Filename, len(chunks), len(contexts))
	return nil
}

// storeChunks writes one batch of records for a (document, context) pair.
func (s *Service) storeChunks(ctx context.Context, doc *model.Document, contextName string, chunks []string, vectors [][]float32) error {
	if err := s.index.EnsureCollection(ctx, contextName); err != nil {
		return fmt.Errorf("store %s in context %q: %w", doc.Filename, contextName, err)
	}
	records := make([]vectorstore.Record, 0, len(chunks))
	for i, chunk := range chunks {
		records = append(records, vectorstore.Record{
			ID:     fmt.Sprintf("%s_%s", contextName, uuid.New().String()),
			Vector: vectors[i],
			Text:   chunk,
			Metadata: map[string]interface{}{
				"document_id":       doc.ID,
				"filename":          doc.Filename,
				"chunk_index":       i,
				"context":           contextName,
				"format":            string(doc.Format),
				"processing_method": string(doc.ProcessingMethod),
				"content_hash":      doc.ContentHash,
				"size_bytes":        doc.SizeBytes,
			},
		})
	}
	if err := s.index.Add(ctx, contextName, records); err != nil {
		return fmt.Errorf("store %s in context %q: %w", doc.Filename, contextName, err)
	}
	return nil
}

// Search embeds the query and delegates to the vector store, one context or
// all of them merged. Cosine distance is converted to relevance = 1 - d.
func (s *Service) Search(ctx context.Context, query string, topK int, minRelevance float64, contextName string) ([]model.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, model.ErrEmptyQuery
	}
	if topK < 1 {
		topK = 10
	}
	if contextName != "" && !s.ContextExists(contextName) {
		return nil, fmt.Errorf("context %q: %w", contextName, model.ErrNotFound)
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := s.index.Search(ctx, vector, topK, nil, contextName)
	if err != nil {
		return nil, err
	}

	results := make([]model.SearchResult, 0, len(hits))
	for _, hit := range hits {
		relevance := 1 - hit.Distance
		if relevance < minRelevance {
			continue
		}
		results = append(results, model.SearchResult{
			ChunkID:          hit.ID,
			DocumentID:       metaString(hit.Metadata, "document_id"),
			Filename:         metaString(hit.Metadata, "filename"),
			ChunkText:        hit.Text,
			RelevanceScore:   relevance,
			ChunkIndex:       metaInt(hit.Metadata, "chunk_index"),
			Context:          metaString(hit.Metadata, "context"),
			Format:           metaString(hit.Metadata, "format"),
			ProcessingMethod: metaString(hit.Metadata, "processing_method"),
		})
	}
	s.logf("knowledge: search %q returned %d results", truncate(query, 50), len(results))
	return results, nil
}

// GetDocument returns a copy of a registered document.
func (s *Service) GetDocument(id string) (*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, model.ErrNotFound)
	}
	return cloneDocument(doc), nil
}

// ListDocuments returns all documents, optionally filtered to one context,
// ordered by date added.
func (s *Service) ListDocuments(contextName string) []*model.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Document, 0, len(s.documents))
	for _, doc := range s.documents {
		if contextName != "" && !containsString(doc.Contexts, contextName) {
			continue
		}
		out = append(out, cloneDocument(doc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DateAdded.Before(out[j].DateAdded) })
	return out
}

// RemoveDocument deletes a document's vectors from every context it belongs
// to and drops it from the registry. Returns the number of chunks removed.
func (s *Service) RemoveDocument(ctx context.Context, id string) (int, error) {
	// Snapshot everything needed under the lock; DeleteContext rewrites
	// doc.Contexts in place concurrently.
	s.mu.RLock()
	doc, ok := s.documents[id]
	var contexts []string
	var chunkCount int
	var filename string
	if ok {
		contexts = append([]string(nil), doc.Contexts...)
		chunkCount = doc.ChunkCount
		filename = doc.Filename
	}
	s.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("document %s: %w", id, model.ErrNotFound)
	}

	for _, contextName := range contexts {
		if err := s.index.DeleteByDocument(ctx, contextName, id); err != nil {
			// Keep going; a missing collection must not strand the
			// registry entry.
			s.logf("knowledge: delete vectors of %s from context %q: %v", id, contextName, err)
			continue
		}
		s.bumpContextCount(contextName, -1)
	}

	s.mu.Lock()
	delete(s.documents, id)
	s.mu.Unlock()
	s.logf("knowledge: removed document %s (%s)", id, filename)
	return chunkCount, nil
}

// Clear resets the vector store and empties the registries. Context records
// survive with zeroed counts.
func (s *Service) Clear(ctx context.Context) (int, error) {
	if err := s.index.Reset(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	count := len(s.documents)
	s.documents = make(map[string]*model.Document)
	s.tasks = make(map[string]*model.ProcessingTask)
	now := time.Now().UTC()
	for _, c := range s.contexts {
		c.DocumentCount = 0
		c.UpdatedAt = now
	}
	s.mu.Unlock()
	s.logf("knowledge: cleared %d documents", count)
	return count, nil
}

// DeleteContext drops a context's collection and record. Documents that
// belonged only to that context leave the registry; documents in other
// contexts keep their remaining memberships.
func (s *Service) DeleteContext(ctx context.Context, name string) error {
	if name == model.DefaultContext {
		return fmt.Errorf("%w: %q", model.ErrReservedContext, name)
	}
	if !s.ContextExists(name) {
		return fmt.Errorf("context %q: %w", name, model.ErrNotFound)
	}

	if err := s.index.DeleteCollection(ctx, name); err != nil {
		// The collection may never have been materialized.
		s.logf("knowledge: drop collection for context %q: %v", name, err)
	}

	s.mu.Lock()
	delete(s.contexts, name)
	for id, doc := range s.documents {
		doc.Contexts = removeString(doc.Contexts, name)
		if len(doc.Contexts) == 0 {
			delete(s.documents, id)
		}
	}
	s.mu.Unlock()
	s.logf("knowledge: deleted context %q", name)
	return nil
}

// Statistics summarizes the registry for knowledge-status.
type Statistics struct {
	DocumentCount            int            `json:"document_count"`
	TotalChunks              int            `json:"total_chunks"`
	TotalSizeMB              float64        `json:"total_size_mb"`
	AverageChunksPerDocument float64        `json:"average_chunks_per_document"`
	Completed                int            `json:"completed"`
	Failed                   int            `json:"failed"`
	Formats                  map[string]int `json:"formats"`
}

// GetStatistics aggregates over the document registry.
func (s *Service) GetStatistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Statistics{Formats: make(map[string]int)}
	for _, format := range model.AllFormats() {
		stats.Formats[string(format)] = 0
	}
	var totalBytes int64
	for _, doc := range s.documents {
		stats.DocumentCount++
		stats.TotalChunks += doc.ChunkCount
		totalBytes += doc.SizeBytes
		stats.Formats[string(doc.Format)]++
		switch doc.ProcessingStatus {
		case model.StatusCompleted:
			stats.Completed++
		case model.StatusFailed:
			stats.Failed++
		}
	}
	stats.TotalSizeMB = float64(totalBytes) / (1024 * 1024)
	if stats.DocumentCount > 0 {
		stats.AverageChunksPerDocument = float64(stats.TotalChunks) / float64(stats.DocumentCount)
	}
	return stats
}

// Healthy reports whether the vector store answers.
func (s *Service) Healthy(ctx context.Context) bool {
	return s.index.Ping(ctx) == nil
}

func (s *Service) setDocumentStatus(doc *model.Document, status model.ProcessingStatus, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc.ProcessingStatus = status
	doc.ErrorMessage = errMsg
	doc.DateModified = time.Now().UTC()
}

// hashFile computes the SHA-256 of a file in 8 KiB blocks.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	h := sha256.New()
	buf := make([]byte, 8192)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func cloneDocument(doc *model.Document) *model.Document {
	copied := *doc
	copied.Contexts = append([]string(nil), doc.Contexts...)
	copied.Metadata = make(map[string]interface{}, len(doc.Metadata))
	for k, v := range doc.Metadata {
		copied.Metadata[k] = v
	}
	return &copied
}

func containsString(list []string, target string) bool {
	for _, item := range list {
		if item == target {
			return true
		}
	}
	return false
}

func removeString(list []string, target string) []string {
	out := list[:0]
	for _, item := range list {
		if item != target {
			out = append(out, item)
		}
	}
	return out
}

func metaString(metadata map[string]interface{}, key string) string {
	if v, ok := metadata[key].(string); ok {
		return v
	}
	return ""
}

func metaInt(metadata map[string]interface{}, key string) int {
	switch v := metadata[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
