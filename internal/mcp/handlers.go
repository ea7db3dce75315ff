package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/maxzrff/KnowledgeMCP/internal/model"
)

// Tool handlers. Each builds a JSON envelope with a leading "success" flag;
// domain failures (missing documents, unconfirmed destructive calls) are
// reported inside a success=false envelope rather than as protocol errors,
// so callers always get a parseable result. Only malformed arguments
// surface as toolExecutionError.

func newEnvelopeResult(envelope map[string]interface{}) toolCallResult {
	text, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		text = []byte(fmt.Sprintf(`{"success": false, "error": "internal_error", "message": %q}`, err.Error()))
	}
	return toolCallResult{
		Content:           []toolContentItem{{Type: "text", Text: string(text)}},
		StructuredContent: envelope,
	}
}

func errorEnvelope(err error) map[string]interface{} {
	return map[string]interface{}{
		"success": false,
		"error":   model.ErrorKind(err),
		"message": err.Error(),
	}
}

func invalidArgument(err error) *toolExecutionError {
	return &toolExecutionError{Code: "INVALID_FIELD", Message: err.Error(), Retryable: false}
}

func missingArgument(key string) *toolExecutionError {
	return &toolExecutionError{Code: "MISSING_FIELD", Message: key + " is required", Retryable: false}
}

func (s *Server) handleAddTool(ctx context.Context, args map[string]interface{}) (toolCallResult, *toolExecutionError) {
	allowed := map[string]struct{}{"file_path": {}, "metadata": {}, "force_ocr": {}, "async": {}, "contexts": {}}
	if err := assertNoUnknownArguments(args, allowed); err != nil {
		return toolCallResult{}, invalidArgument(err)
	}
	filePath, present, err := parseRequiredString(args, "file_path")
	if err != nil {
		return toolCallResult{}, invalidArgument(err)
	}
	if !present {
		return toolCallResult{}, missingArgument("file_path")
	}
	metadata, err := parseOptionalObject(args, "metadata")
	if err != nil {
		return toolCallResult{}, invalidArgument(err)
	}
	forceOCR, err := parseOptionalBool(args, "force_ocr", false)
	if err != nil {
		return toolCallResult{}, invalidArgument(err)
	}
	async, err := parseOptionalBool(args, "async", true)
	if err != nil {
		return toolCallResult{}, invalidArgument(err)
	}
	contextsArg, err := parseOptionalString(args, "contexts")
	if err != nil {
		return toolCallResult{}, invalidArgument(err)
	}
	contexts := splitContexts(contextsArg)

	id, dedup, err := s.knowledge.AddDocument(ctx, filePath, metadata, async, forceOCR, contexts)
	if err != nil {
		return newEnvelopeResult(errorEnvelope(err)), nil
	}

	// A duplicate returns the existing document id, never a task, so the
	// synchronous envelope applies even for async requests.
	if async && !dedup {
		return newEnvelopeResult(map[string]interface{}{
			"success":   true,
			"task_id":   id,
			"message":   "Document queued for processing",
			"contexts":  contexts,
			"force_ocr": forceOCR,
		}), nil
	}

	envelope := map[string]interface{}{
		"success":           true,
		"document_id":       id,
		"filename":          nil,
		"contexts":          contexts,
		"chunks_created":    0,
		"processing_method": nil,
	}
	if doc, docErr := s.knowledge.GetDocument(id); docErr == nil {
		envelope["filename"] = doc.Filename
		envelope["contexts"] = doc.Contexts
		envelope["chunks_created"] = doc.ChunkCount
		if doc.ProcessingMethod != "" {
			envelope["processing_method"] = string(doc.ProcessingMethod)
		}
	}
	return newEnvelopeResult(envelope), nil
}

func splitContexts(raw string) []string {
	contexts := make([]string, 0, 2)
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			contexts = append(contexts, part)
		}
	}
	if len(contexts) == 0 {
		contexts = []string{model.DefaultContext}
	}
	return contexts
}

func (s *Server) handleSearchTool(ctx context.Context, args map[string]interface{}) (toolCallResult, *toolExecutionError) {
	allowed := map[string]struct{}{"query": {}, "top_k": {}, "min_relevance": {}, "context": {}}
	if err := assertNoUnknownArguments(args, allowed); err != nil {
		return toolCallResult{}, invalidArgument(err)
	}
	query, present, err := parseRequiredString(args, "query")
	if err != nil {
		return toolCallResult{}, invalidArgument(err)
	}
	if !present {
		return toolCallResult{}, missingArgument("query")
	}
	topK, err := parseOptionalInteger(args, "top_k", 10)
	if err != nil {
		return toolCallResult{}, invalidArgument(err)
	}
	minRelevance, err := parseOptionalNumber(args, "min_relevance", 0.0)
	if err != nil {
		return toolCallResult{}, invalidArgument(err)
	}
	contextName, err := parseOptionalString(args, "context")
	if err != nil {
		return toolCallResult{}, invalidArgument(err)
	}

	results, err := s.knowledge.Search(ctx, query, topK, minRelevance, contextName)
	if err != nil {
		return newEnvelopeResult(errorEnvelope(err)), nil
	}

	scope := contextName
	if scope == "" {
		scope = "all"
	}
	return newEnvelopeResult(map[string]interface{}{
		"success":       true,
		"query":         query,
		"context":       scope,
		"total_results": len(results),
		"results":       results,
	}), nil
}

func (s *Server) handleShowTool(_ context.Context, args map[string]interface{}) (toolCallResult, *toolExecutionError) {
	allowed := map[string]struct{}{"limit": {}, "context": {}}
	if err := assertNoUnknownArguments(args, allowed); err != nil {
		return toolCallResult{}, invalidArgument(err)
	}
	limit, err := parseOptionalInteger(args, "limit", 100)
	if err != nil {
		return toolCallResult{}, invalidArgument(err)
	}
	contextName, err := parseOptionalString(args, "context")
	if err != nil {
		return toolCallResult{}, invalidArgument(err)
	}

	documents := s.knowledge.ListDocuments(contextName)
	total := len(documents)
	if limit >= 0 && limit < len(documents) {
		documents = documents[:limit]
	}

	serialized := make([]map[string]interface{}, 0, len(documents))
	for _, doc := range documents {
		entry := map[string]interface{}{
			"id":                doc.ID,
			"filename":          doc.Filename,
			"format":            string(doc.Format),
			"size_bytes":        doc.SizeBytes,
			"chunk_count":       doc.ChunkCount,
			"contexts":          doc.Contexts,
			"processing_status": string(doc.ProcessingStatus),
			"processing_method": nil,
			"date_added":        doc.DateAdded.Format(time.RFC3339),
			"ocr_used":          false,
			"ocr_confidence":    nil,
		}
		if doc.ProcessingMethod != "" {
			entry["processing_method"] = string(doc.ProcessingMethod)
		}
		if used, ok := doc.Metadata["ocr_used"].(bool); ok {
			entry["ocr_used"] = used
		}
		if confidence, ok := doc.Metadata["ocr_confidence"]; ok {
			entry["ocr_confidence"] = confidence
		}
		serialized = append(serialized, entry)
	}

	scope := contextName
	if scope == "" {
		scope = "all"
	}
	return newEnvelopeResult(map[string]interface{}{
		"success":     true,
		"context":     scope,
		"total_count": total,
		"documents":   serialized,
	}), nil
}

func (s *Server) handleRemoveTool(ctx context.Context, args map[string]interface{}) (toolCallResult, *toolExecutionError) {
	allowed := map[string]struct{}{"document_id": {}, "confirm": {}}
	if err := assertNoUnknownArguments(args, allowed); err != nil {
		return toolCallResult{}, invalidArgument(err)
	}
	confirm, err := parseOptionalBool(args, "confirm", false)
	if err != nil {
		return toolCallResult{}, invalidArgument(err)
	}
	if !confirm {
		return newEnvelopeResult(map[string]interface{}{
			"success": false,
			"error":   "confirmation_required",
			"message": "Set confirm=true to remove document",
		}), nil
	}
	documentID, present, err := parseRequiredString(args, "document_id")
	if err != nil {
		return toolCallResult{}, invalidArgument(err)
	}
	if !present {
		return toolCallResult{}, missingArgument("document_id")
	}

	doc, err := s.knowledge.GetDocument(documentID)
	if err != nil {
		return newEnvelopeResult(map[string]interface{}{
			"success": false,
			"error":   "not_found",
			"message": "Document not found: " + documentID,
		}), nil
	}

	chunksRemoved, err := s.knowledge.RemoveDocument(ctx, documentID)
	if err != nil {
		return newEnvelopeResult(errorEnvelope(err)), nil
	}
	return newEnvelopeResult(map[string]interface{}{
		"success":        true,
		"message":        "Removed document: " + doc.Filename,
		"chunks_removed": chunksRemoved,
	}), nil
}

func (s *Server) handleClearTool(ctx context.Context, args map[string]interface{}) (toolCallResult, *toolExecutionError) {
	allowed := map[string]struct{}{"confirm": {}}
	if err := assertNoUnknownArguments(args, allowed); err != nil {
		return toolCallResult{}, invalidArgument(err)
	}
	confirm, err := parseOptionalBool(args, "confirm", false)
	if err != nil {
		return toolCallResult{}, invalidArgument(err)
	}
	if !confirm {
		return newEnvelopeResult(map[string]interface{}{
			"success": false,
			"error":   "confirmation_required",
			"message": "Set confirm=true to clear knowledge base",
		}), nil
	}

	count, err := s.knowledge.Clear(ctx)
	if err != nil {
		return newEnvelopeResult(errorEnvelope(err)), nil
	}
	return newEnvelopeResult(map[string]interface{}{
		"success":           true,
		"message":           fmt.Sprintf("Cleared knowledge base: %d documents removed", count),
		"documents_removed": count,
	}), nil
}

func (s *Server) handleStatusTool(ctx context.Context, args map[string]interface{}) (toolCallResult, *toolExecutionError) {
	if err := assertNoUnknownArguments(args, map[string]struct{}{}); err != nil {
		return toolCallResult{}, invalidArgument(err)
	}

	stats := s.knowledge.GetStatistics()
	connected := s.knowledge.Healthy(ctx)
	health := "healthy"
	if !connected {
		health = "degraded"
	}

	return newEnvelopeResult(map[string]interface{}{
		"success": true,
		"knowledge_base": map[string]interface{}{
			"name":                        model.DefaultContext,
			"document_count":              stats.DocumentCount,
			"total_chunks":                stats.TotalChunks,
			"total_size_mb":               stats.TotalSizeMB,
			"average_chunks_per_document": stats.AverageChunksPerDocument,
		},
		"health": map[string]interface{}{
			"status":                 health,
			"vector_db_connected":    connected,
			"embedding_model_loaded": true,
		},
	}), nil
}

func (s *Server) handleTaskStatusTool(_ context.Context, args map[string]interface{}) (toolCallResult, *toolExecutionError) {
	allowed := map[string]struct{}{"task_id": {}}
	if err := assertNoUnknownArguments(args, allowed); err != nil {
		return toolCallResult{}, invalidArgument(err)
	}
	taskID, present, err := parseRequiredString(args, "task_id")
	if err != nil {
		return toolCallResult{}, invalidArgument(err)
	}
	if !present {
		return toolCallResult{}, missingArgument("task_id")
	}

	task, err := s.knowledge.GetTask(taskID)
	if err != nil {
		return newEnvelopeResult(map[string]interface{}{
			"success": false,
			"error":   "not_found",
			"message": "Task not found: " + taskID,
		}), nil
	}

	envelope := map[string]interface{}{
		"success":      true,
		"task_id":      task.TaskID,
		"status":       string(task.Status),
		"progress":     task.Progress,
		"current_step": task.CurrentStep,
		"error":        nil,
	}
	if task.Error != "" {
		envelope["error"] = task.Error
	}
	return newEnvelopeResult(envelope), nil
}

func (s *Server) handleContextCreateTool(_ context.Context, args map[string]interface{}) (toolCallResult, *toolExecutionError) {
	allowed := map[string]struct{}{"name": {}, "description": {}, "metadata": {}}
	if err := assertNoUnknownArguments(args, allowed); err != nil {
		return toolCallResult{}, invalidArgument(err)
	}
	name, present, err := parseRequiredString(args, "name")
	if err != nil {
		return toolCallResult{}, invalidArgument(err)
	}
	if !present {
		return toolCallResult{}, missingArgument("name")
	}
	description, err := parseOptionalString(args, "description")
	if err != nil {
		return toolCallResult{}, invalidArgument(err)
	}
	metadata, err := parseOptionalObject(args, "metadata")
	if err != nil {
		return toolCallResult{}, invalidArgument(err)
	}

	created, err := s.knowledge.CreateContext(name, description, metadata)
	if err != nil {
		return newEnvelopeResult(errorEnvelope(err)), nil
	}
	return newEnvelopeResult(map[string]interface{}{
		"success": true,
		"context": map[string]interface{}{
			"name":           created.Name,
			"description":    created.Description,
			"created_at":     created.CreatedAt.Format(time.RFC3339),
			"document_count": created.DocumentCount,
		},
	}), nil
}

func (s *Server) handleContextListTool(_ context.Context, args map[string]interface{}) (toolCallResult, *toolExecutionError) {
	if err := assertNoUnknownArguments(args, map[string]struct{}{}); err != nil {
		return toolCallResult{}, invalidArgument(err)
	}

	contexts := s.knowledge.ListContexts()
	serialized := make([]map[string]interface{}, 0, len(contexts))
	for _, c := range contexts {
		serialized = append(serialized, map[string]interface{}{
			"name":           c.Name,
			"description":    c.Description,
			"document_count": c.DocumentCount,
			"created_at":     c.CreatedAt.Format(time.RFC3339),
			"updated_at":     c.UpdatedAt.Format(time.RFC3339),
		})
	}
	return newEnvelopeResult(map[string]interface{}{
		"success":     true,
		"total_count": len(serialized),
		"contexts":    serialized,
	}), nil
}

func (s *Server) handleContextShowTool(_ context.Context, args map[string]interface{}) (toolCallResult, *toolExecutionError) {
	allowed := map[string]struct{}{"name": {}}
	if err := assertNoUnknownArguments(args, allowed); err != nil {
		return toolCallResult{}, invalidArgument(err)
	}
	name, present, err := parseRequiredString(args, "name")
	if err != nil {
		return toolCallResult{}, invalidArgument(err)
	}
	if !present {
		return toolCallResult{}, missingArgument("name")
	}

	contextRecord, err := s.knowledge.GetContext(name)
	if err != nil {
		return newEnvelopeResult(errorEnvelope(err)), nil
	}

	documents := s.knowledge.ListDocuments(name)
	serialized := make([]map[string]interface{}, 0, len(documents))
	for _, doc := range documents {
		serialized = append(serialized, map[string]interface{}{
			"id":                doc.ID,
			"filename":          doc.Filename,
			"format":            string(doc.Format),
			"size_bytes":        doc.SizeBytes,
			"chunk_count":       doc.ChunkCount,
			"processing_status": string(doc.ProcessingStatus),
		})
	}
	return newEnvelopeResult(map[string]interface{}{
		"success": true,
		"context": map[string]interface{}{
			"name":           contextRecord.Name,
			"description":    contextRecord.Description,
			"document_count": contextRecord.DocumentCount,
			"created_at":     contextRecord.CreatedAt.Format(time.RFC3339),
			"updated_at":     contextRecord.UpdatedAt.Format(time.RFC3339),
		},
		"documents": serialized,
	}), nil
}

func (s *Server) handleContextDeleteTool(ctx context.Context, args map[string]interface{}) (toolCallResult, *toolExecutionError) {
	allowed := map[string]struct{}{"name": {}, "confirm": {}}
	if err := assertNoUnknownArguments(args, allowed); err != nil {
		return toolCallResult{}, invalidArgument(err)
	}
	name, present, err := parseRequiredString(args, "name")
	if err != nil {
		return toolCallResult{}, invalidArgument(err)
	}
	if !present {
		return toolCallResult{}, missingArgument("name")
	}
	confirm, err := parseOptionalBool(args, "confirm", false)
	if err != nil {
		return toolCallResult{}, invalidArgument(err)
	}
	if !confirm {
		return newEnvelopeResult(map[string]interface{}{
			"success": false,
			"error":   "confirmation_required",
			"message": "Context deletion requires confirm=true",
		}), nil
	}

	if err := s.knowledge.DeleteContext(ctx, name); err != nil {
		return newEnvelopeResult(errorEnvelope(err)), nil
	}
	return newEnvelopeResult(map[string]interface{}{
		"success": true,
		"message": "Deleted context: " + name,
		"context": name,
	}), nil
}
