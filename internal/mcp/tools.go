package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/maxzrff/KnowledgeMCP/internal/protocol"
)

// toolOrder fixes the order tools are reported by tools/list.
var toolOrder = []string{
	protocol.ToolNameAdd,
	protocol.ToolNameSearch,
	protocol.ToolNameShow,
	protocol.ToolNameRemove,
	protocol.ToolNameClear,
	protocol.ToolNameStatus,
	protocol.ToolNameTaskStatus,
	protocol.ToolNameContextCreate,
	protocol.ToolNameContextList,
	protocol.ToolNameContextShow,
	protocol.ToolNameContextDelete,
}

type toolHandler func(context.Context, map[string]interface{}) (toolCallResult, *toolExecutionError)

type toolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`

	handler toolHandler
}

type toolsCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

type toolCallResult struct {
	Content           []toolContentItem `json:"content"`
	StructuredContent interface{}       `json:"structuredContent,omitempty"`
	IsError           bool              `json:"isError,omitempty"`
}

type toolContentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type toolExecutionError struct {
	Code      string
	Message   string
	Retryable bool
}

func (s *Server) buildToolRegistry() map[string]toolDefinition {
	return map[string]toolDefinition{
		protocol.ToolNameAdd: {
			Name:        protocol.ToolNameAdd,
			Description: "Add a document or image to the knowledge base for semantic search",
			InputSchema: addInputSchema(),
			handler:     s.handleAddTool,
		},
		protocol.ToolNameSearch: {
			Name:        protocol.ToolNameSearch,
			Description: "Search the knowledge base using natural language query",
			InputSchema: searchInputSchema(),
			handler:     s.handleSearchTool,
		},
		protocol.ToolNameShow: {
			Name:        protocol.ToolNameShow,
			Description: "List all documents in the knowledge base",
			InputSchema: showInputSchema(),
			handler:     s.handleShowTool,
		},
		protocol.ToolNameRemove: {
			Name:        protocol.ToolNameRemove,
			Description: "Remove a specific document from the knowledge base",
			InputSchema: removeInputSchema(),
			handler:     s.handleRemoveTool,
		},
		protocol.ToolNameClear: {
			Name:        protocol.ToolNameClear,
			Description: "Clear all documents from the knowledge base",
			InputSchema: clearInputSchema(),
			handler:     s.handleClearTool,
		},
		protocol.ToolNameStatus: {
			Name:        protocol.ToolNameStatus,
			Description: "Get knowledge base statistics and status",
			InputSchema: emptyInputSchema(),
			handler:     s.handleStatusTool,
		},
		protocol.ToolNameTaskStatus: {
			Name:        protocol.ToolNameTaskStatus,
			Description: "Get status of an async processing task",
			InputSchema: taskStatusInputSchema(),
			handler:     s.handleTaskStatusTool,
		},
		protocol.ToolNameContextCreate: {
			Name:        protocol.ToolNameContextCreate,
			Description: "Create a new context for organizing documents",
			InputSchema: contextCreateInputSchema(),
			handler:     s.handleContextCreateTool,
		},
		protocol.ToolNameContextList: {
			Name:        protocol.ToolNameContextList,
			Description: "List all contexts in the knowledge base",
			InputSchema: emptyInputSchema(),
			handler:     s.handleContextListTool,
		},
		protocol.ToolNameContextShow: {
			Name:        protocol.ToolNameContextShow,
			Description: "Show details of a specific context including its documents",
			InputSchema: contextShowInputSchema(),
			handler:     s.handleContextShowTool,
		},
		protocol.ToolNameContextDelete: {
			Name:        protocol.ToolNameContextDelete,
			Description: "Delete a context and all its vectors (documents remain in other contexts)",
			InputSchema: contextDeleteInputSchema(),
			handler:     s.handleContextDeleteTool,
		},
	}
}

// toolList returns the registry in toolOrder for tools/list.
func (s *Server) toolList() []toolDefinition {
	tools := make([]toolDefinition, 0, len(s.tools))
	for _, name := range toolOrder {
		if tool, ok := s.tools[name]; ok {
			tools = append(tools, tool)
		}
	}
	if len(tools) == 0 {
		names := make([]string, 0, len(s.tools))
		for name := range s.tools {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			tools = append(tools, s.tools[name])
		}
	}
	return tools
}

func (s *Server) processToolsCall(ctx context.Context, rawParams json.RawMessage, id interface{}) *rpcResponse {
	params, err := parseToolsCallParams(rawParams)
	if err != nil {
		canonicalCode := "INVALID_FIELD"
		var vErr validationError
		if errors.As(err, &vErr) && vErr.canonicalCode != "" {
			canonicalCode = vErr.canonicalCode
		}
		return &rpcResponse{
			JSONRPC: "2.0",
			ID:      id,
			Error: &rpcError{
				Code:    -32600,
				Message: err.Error(),
				Data: &rpcErrorData{
					Code:      canonicalCode,
					Retryable: false,
				},
			},
		}
	}

	tool, ok := s.tools[params.Name]
	if !ok {
		return &rpcResponse{
			JSONRPC: "2.0",
			ID:      id,
			Error: &rpcError{
				Code:    -32601,
				Message: fmt.Sprintf("Unknown tool: %s", params.Name),
			},
		}
	}

	result, toolErr := tool.handler(ctx, params.Arguments)
	if toolErr != nil {
		result = newToolErrorResult(*toolErr)
	}
	return &rpcResponse{JSONRPC: "2.0", ID: id, Result: result}
}

type validationError struct {
	message       string
	canonicalCode string
}

func (e validationError) Error() string { return e.message }

func parseToolsCallParams(raw json.RawMessage) (toolsCallParams, error) {
	if len(raw) == 0 {
		return toolsCallParams{}, validationError{
			message:       "params is required",
			canonicalCode: "MISSING_FIELD",
		}
	}

	var params toolsCallParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return toolsCallParams{}, validationError{
			message:       "invalid tools/call params",
			canonicalCode: "INVALID_FIELD",
		}
	}

	params.Name = strings.TrimSpace(params.Name)
	if params.Name == "" {
		return toolsCallParams{}, validationError{
			message:       "tools/call params.name is required",
			canonicalCode: "MISSING_FIELD",
		}
	}
	if params.Arguments == nil {
		params.Arguments = map[string]interface{}{}
	}

	return params, nil
}

func newToolErrorResult(toolErr toolExecutionError) toolCallResult {
	text := fmt.Sprintf("ERROR: %s: %s", toolErr.Code, toolErr.Message)
	return toolCallResult{
		IsError: true,
		Content: []toolContentItem{
			{Type: "text", Text: text},
		},
		StructuredContent: map[string]interface{}{
			"error": map[string]interface{}{
				"code":      toolErr.Code,
				"message":   toolErr.Message,
				"retryable": toolErr.Retryable,
			},
		},
	}
}

// Input schemas. Hand-built maps keep the wire shape explicit.

func addInputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"file_path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the document or image file",
			},
			"metadata": map[string]interface{}{
				"type":        "object",
				"description": "Additional metadata (author, title, tags)",
				"default":     map[string]interface{}{},
			},
			"force_ocr": map[string]interface{}{
				"type":        "boolean",
				"description": "Force OCR even if text extraction available",
				"default":     false,
			},
			"async": map[string]interface{}{
				"type":        "boolean",
				"description": "Process asynchronously and return task ID",
				"default":     true,
			},
			"contexts": map[string]interface{}{
				"type":        "string",
				"description": "Comma-separated list of context names (e.g., 'aws,healthcare'). Defaults to 'default'",
				"default":     "default",
			},
		},
		"required": []string{"file_path"},
	}
}

func searchInputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Natural language search query",
			},
			"top_k": map[string]interface{}{
				"type":        "integer",
				"description": "Number of results to return",
				"default":     10,
				"minimum":     1,
				"maximum":     50,
			},
			"min_relevance": map[string]interface{}{
				"type":        "number",
				"description": "Minimum relevance score threshold (0.0 to 1.0)",
				"default":     0.0,
				"minimum":     0.0,
				"maximum":     1.0,
			},
			"context": map[string]interface{}{
				"type":        "string",
				"description": "Optional context name to search within (omit to search all contexts)",
			},
		},
		"required": []string{"query"},
	}
}

func showInputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of documents to return",
				"default":     100,
			},
			"context": map[string]interface{}{
				"type":        "string",
				"description": "Optional context name to filter documents (omit to show all)",
			},
		},
	}
}

func removeInputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"document_id": map[string]interface{}{
				"type":        "string",
				"description": "ID of the document to remove",
			},
			"confirm": map[string]interface{}{
				"type":        "boolean",
				"description": "Confirmation flag for destructive operation",
				"default":     false,
			},
		},
		"required": []string{"document_id", "confirm"},
	}
}

func clearInputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"confirm": map[string]interface{}{
				"type":        "boolean",
				"description": "Confirmation flag for destructive operation",
				"default":     false,
			},
		},
		"required": []string{"confirm"},
	}
}

func emptyInputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func taskStatusInputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task_id": map[string]interface{}{
				"type":        "string",
				"description": "Task ID from async operation",
			},
		},
		"required": []string{"task_id"},
	}
}

func contextCreateInputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name": map[string]interface{}{
				"type":        "string",
				"description": "Unique context name (alphanumeric, dash, underscore, 1-64 chars)",
			},
			"description": map[string]interface{}{
				"type":        "string",
				"description": "Optional description of the context",
			},
			"metadata": map[string]interface{}{
				"type":        "object",
				"description": "Optional metadata dictionary",
				"default":     map[string]interface{}{},
			},
		},
		"required": []string{"name"},
	}
}

func contextShowInputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name": map[string]interface{}{
				"type":        "string",
				"description": "Context name",
			},
		},
		"required": []string{"name"},
	}
}

func contextDeleteInputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name": map[string]interface{}{
				"type":        "string",
				"description": "Context name to delete",
			},
			"confirm": map[string]interface{}{
				"type":        "boolean",
				"description": "Confirmation flag for destructive operation",
				"default":     false,
			},
		},
		"required": []string{"name", "confirm"},
	}
}

// Argument parsing helpers. Tool arguments arrive as decoded JSON, so
// numbers are float64.

func assertNoUnknownArguments(args map[string]interface{}, allowed map[string]struct{}) error {
	for key := range args {
		if _, ok := allowed[key]; !ok {
			return fmt.Errorf("unknown argument: %s", key)
		}
	}
	return nil
}

func parseRequiredString(args map[string]interface{}, key string) (string, bool, error) {
	raw, ok := args[key]
	if !ok {
		return "", false, nil
	}
	value, ok := raw.(string)
	if !ok {
		return "", true, fmt.Errorf("%s must be a string", key)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", true, fmt.Errorf("%s must be a non-empty string", key)
	}
	return value, true, nil
}

func parseOptionalString(args map[string]interface{}, key string) (string, error) {
	raw, ok := args[key]
	if !ok {
		return "", nil
	}
	value, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	return strings.TrimSpace(value), nil
}

func parseOptionalBool(args map[string]interface{}, key string, defaultValue bool) (bool, error) {
	raw, ok := args[key]
	if !ok {
		return defaultValue, nil
	}
	v, ok := raw.(bool)
	if !ok {
		return false, fmt.Errorf("%s must be a boolean", key)
	}
	return v, nil
}

func parseOptionalObject(args map[string]interface{}, key string) (map[string]interface{}, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil, nil
	}
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%s must be an object", key)
	}
	return obj, nil
}

func parseInteger(value interface{}, field string) (int, error) {
	switch v := value.(type) {
	case float64:
		if math.Trunc(v) != v {
			return 0, fmt.Errorf("%s must be an integer", field)
		}
		if v < math.MinInt || v > math.MaxInt {
			return 0, fmt.Errorf("%s is out of range", field)
		}
		return int(v), nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("%s must be an integer", field)
	}
}

func parseOptionalInteger(args map[string]interface{}, key string, defaultValue int) (int, error) {
	raw, ok := args[key]
	if !ok {
		return defaultValue, nil
	}
	return parseInteger(raw, key)
}

func parseOptionalNumber(args map[string]interface{}, key string, defaultValue float64) (float64, error) {
	raw, ok := args[key]
	if !ok {
		return defaultValue, nil
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("%s must be a number", key)
	}
}
