package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxzrff/KnowledgeMCP/internal/config"
	"github.com/maxzrff/KnowledgeMCP/internal/knowledge"
	"github.com/maxzrff/KnowledgeMCP/internal/model"
	"github.com/maxzrff/KnowledgeMCP/internal/protocol"
)

// fakeKnowledge is a canned KnowledgeService for handler tests.
type fakeKnowledge struct {
	documents map[string]*model.Document
	tasks     map[string]*model.ProcessingTask
	contexts  []*model.Context
	results   []model.SearchResult
	stats     knowledge.Statistics
	healthy   bool
	addErr    error
	searchErr error
	cleared   int
}

func newFakeKnowledge() *fakeKnowledge {
	return &fakeKnowledge{
		documents: map[string]*model.Document{},
		tasks:     map[string]*model.ProcessingTask{},
		contexts:  []*model.Context{model.NewContext(model.DefaultContext, "Default context for all documents", nil)},
		healthy:   true,
	}
}

func (f *fakeKnowledge) AddDocument(_ context.Context, path string, _ map[string]interface{}, async, _ bool, _ []string) (string, bool, error) {
	if f.addErr != nil {
		return "", false, f.addErr
	}
	if async {
		return "task-1", false, nil
	}
	return "doc-1", false, nil
}

func (f *fakeKnowledge) GetDocument(id string) (*model.Document, error) {
	doc, ok := f.documents[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, model.ErrNotFound)
	}
	return doc, nil
}

func (f *fakeKnowledge) ListDocuments(contextName string) []*model.Document {
	out := make([]*model.Document, 0, len(f.documents))
	for _, doc := range f.documents {
		out = append(out, doc)
	}
	return out
}

func (f *fakeKnowledge) RemoveDocument(_ context.Context, id string) (int, error) {
	doc, ok := f.documents[id]
	if !ok {
		return 0, fmt.Errorf("document %s: %w", id, model.ErrNotFound)
	}
	delete(f.documents, id)
	return doc.ChunkCount, nil
}

func (f *fakeKnowledge) Clear(_ context.Context) (int, error) {
	count := len(f.documents)
	f.documents = map[string]*model.Document{}
	f.cleared++
	return count, nil
}

func (f *fakeKnowledge) Search(_ context.Context, query string, _ int, _ float64, _ string) ([]model.SearchResult, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.results, nil
}

func (f *fakeKnowledge) GetStatistics() knowledge.Statistics { return f.stats }

func (f *fakeKnowledge) Healthy(_ context.Context) bool { return f.healthy }

func (f *fakeKnowledge) GetTask(id string) (*model.ProcessingTask, error) {
	task, ok := f.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}
	return task, nil
}

func (f *fakeKnowledge) CreateContext(name, description string, metadata map[string]interface{}) (*model.Context, error) {
	for _, c := range f.contexts {
		if c.Name == name {
			return nil, fmt.Errorf("%w: %q", model.ErrDuplicateContext, name)
		}
	}
	created := model.NewContext(name, description, metadata)
	f.contexts = append(f.contexts, created)
	return created, nil
}

func (f *fakeKnowledge) ListContexts() []*model.Context { return f.contexts }

func (f *fakeKnowledge) GetContext(name string) (*model.Context, error) {
	for _, c := range f.contexts {
		if c.Name == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("context %q: %w", name, model.ErrNotFound)
}

func (f *fakeKnowledge) DeleteContext(_ context.Context, name string) error {
	for i, c := range f.contexts {
		if c.Name == name {
			f.contexts = append(f.contexts[:i], f.contexts[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("context %q: %w", name, model.ErrNotFound)
}

func newTestServer(t *testing.T) (*Server, *fakeKnowledge) {
	t.Helper()
	fake := newFakeKnowledge()
	return NewServer(config.Default(), fake, nil), fake
}

func postJSON(t *testing.T, handler http.Handler, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, protocol.DefaultMCPPath, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

// initializeSession performs the MCP handshake and returns the minted
// session id.
func initializeSession(t *testing.T, handler http.Handler) string {
	t.Helper()
	rec := postJSON(t, handler, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sessionID := rec.Header().Get(protocol.MCPSessionHeader)
	require.NotEmpty(t, sessionID)
	return sessionID
}

func callTool(t *testing.T, handler http.Handler, name string, args map[string]interface{}) map[string]interface{} {
	t.Helper()
	params, err := json.Marshal(map[string]interface{}{"name": name, "arguments": args})
	require.NoError(t, err)
	body := fmt.Sprintf(`{"jsonrpc":"2.0","id":7,"method":"tools/call","params":%s}`, params)
	rec := postJSON(t, handler, body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	return decodeResponse(t, rec)
}

func structuredContent(t *testing.T, resp map[string]interface{}) map[string]interface{} {
	t.Helper()
	result, ok := resp["result"].(map[string]interface{})
	require.True(t, ok, "response has no result: %v", resp)
	content, ok := result["structuredContent"].(map[string]interface{})
	require.True(t, ok, "result has no structuredContent: %v", result)
	return content
}

func TestInitialize(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	rec := postJSON(t, handler, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse(t, rec)
	result := resp["result"].(map[string]interface{})
	assert.Equal(t, protocol.Version, result["protocolVersion"])
	serverInfo := result["serverInfo"].(map[string]interface{})
	assert.Equal(t, protocol.ServerName, serverInfo["name"])
	assert.Equal(t, protocol.ServerVersion, serverInfo["version"])

	sessionID := rec.Header().Get(protocol.MCPSessionHeader)
	assert.GreaterOrEqual(t, len(sessionID), 32)
	assert.Equal(t, 1, srv.SessionCount())
}

func TestToolsList(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := postJSON(t, srv.Handler(), `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse(t, rec)
	tools := resp["result"].(map[string]interface{})["tools"].([]interface{})
	require.Len(t, tools, len(toolOrder))
	for i, raw := range tools {
		tool := raw.(map[string]interface{})
		assert.Equal(t, toolOrder[i], tool["name"])
		assert.NotEmpty(t, tool["description"])
		assert.NotNil(t, tool["inputSchema"])
	}
}

func TestPing(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := postJSON(t, srv.Handler(), `{"jsonrpc":"2.0","id":3,"method":"ping"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.NotNil(t, resp["result"])
	assert.Nil(t, resp["error"])
}

func TestUnknownMethod(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := postJSON(t, srv.Handler(), `{"jsonrpc":"2.0","id":4,"method":"resources/list"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	rpcErr := resp["error"].(map[string]interface{})
	assert.Equal(t, float64(-32601), rpcErr["code"])
	assert.Equal(t, "Method not found: resources/list", rpcErr["message"])
}

func TestUnknownTool(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := callTool(t, srv.Handler(), "knowledge-bogus", nil)
	rpcErr := resp["error"].(map[string]interface{})
	assert.Equal(t, float64(-32601), rpcErr["code"])
	assert.Equal(t, "Unknown tool: knowledge-bogus", rpcErr["message"])
}

func TestParseError(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := postJSON(t, srv.Handler(), `{not json`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	rpcErr := resp["error"].(map[string]interface{})
	assert.Equal(t, float64(-32700), rpcErr["code"])
}

func TestNotificationsOnly(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := postJSON(t, srv.Handler(), `{"jsonrpc":"2.0","method":"notifications/initialized"}`, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Zero(t, rec.Body.Len())
}

func TestInvalidOrigin(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := postJSON(t, srv.Handler(), `{"jsonrpc":"2.0","id":1,"method":"ping"}`,
		map[string]string{"Origin": "http://evil.example.com"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid origin")

	rec = postJSON(t, srv.Handler(), `{"jsonrpc":"2.0","id":1,"method":"ping"}`,
		map[string]string{"Origin": "http://localhost:3000"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBatchRequest(t *testing.T) {
	srv, _ := newTestServer(t)
	body := `[{"jsonrpc":"2.0","id":1,"method":"ping"},{"jsonrpc":"2.0","id":2,"method":"tools/list"}]`
	rec := postJSON(t, srv.Handler(), body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var responses []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &responses))
	require.Len(t, responses, 2)
	assert.Equal(t, float64(1), responses[0]["id"])
	assert.Equal(t, float64(2), responses[1]["id"])
}

func TestSSEResponse(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := postJSON(t, srv.Handler(), `{"jsonrpc":"2.0","id":1,"method":"ping"}`,
		map[string]string{"Accept": "application/json, text/event-stream"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "event: message\ndata: "))
}

func TestSessionLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()
	sessionID := initializeSession(t, handler)

	// DELETE without a session header.
	req := httptest.NewRequest(http.MethodDelete, protocol.DefaultMCPPath, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// DELETE the live session.
	req = httptest.NewRequest(http.MethodDelete, protocol.DefaultMCPPath, nil)
	req.Header.Set(protocol.MCPSessionHeader, sessionID)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, srv.SessionCount())

	// A second DELETE finds nothing.
	req = httptest.NewRequest(http.MethodDelete, protocol.DefaultMCPPath, nil)
	req.Header.Set(protocol.MCPSessionHeader, sessionID)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Session not found")
}

func TestUnknownSessionAdopted(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := postJSON(t, srv.Handler(), `{"jsonrpc":"2.0","id":1,"method":"ping"}`,
		map[string]string{protocol.MCPSessionHeader: "stale-session-id"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, srv.SessionCount())
}

func TestStrictSessions(t *testing.T) {
	cfg := config.Default()
	cfg.MCP.StrictSessions = true
	srv := NewServer(cfg, newFakeKnowledge(), nil)

	rec := postJSON(t, srv.Handler(), `{"jsonrpc":"2.0","id":1,"method":"ping"}`,
		map[string]string{protocol.MCPSessionHeader: "stale-session-id"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Session not found")
}

func TestGetRequiresSSEAccept(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, protocol.DefaultMCPPath, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestGetUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, protocol.DefaultMCPPath, nil)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set(protocol.MCPSessionHeader, "no-such-session")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearchTool(t *testing.T) {
	srv, fake := newTestServer(t)
	fake.results = []model.SearchResult{{
		ChunkID:        "c1",
		DocumentID:     "d1",
		Filename:       "guide.pdf",
		ChunkText:      "relevant passage",
		RelevanceScore: 0.92,
	}}

	resp := callTool(t, srv.Handler(), protocol.ToolNameSearch, map[string]interface{}{"query": "how to"})
	envelope := structuredContent(t, resp)
	assert.Equal(t, true, envelope["success"])
	assert.Equal(t, "how to", envelope["query"])
	assert.Equal(t, "all", envelope["context"])
	assert.Equal(t, float64(1), envelope["total_results"])
}

func TestSearchToolDomainError(t *testing.T) {
	srv, fake := newTestServer(t)
	fake.searchErr = model.ErrEmptyQuery

	resp := callTool(t, srv.Handler(), protocol.ToolNameSearch, map[string]interface{}{"query": "  "})
	envelope := structuredContent(t, resp)
	assert.Equal(t, false, envelope["success"])
	assert.Equal(t, "invalid_query", envelope["error"])
	// Domain failures are plain results, not protocol errors.
	result := resp["result"].(map[string]interface{})
	assert.Nil(t, result["isError"])
}

func TestSearchToolBadArgumentType(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := callTool(t, srv.Handler(), protocol.ToolNameSearch, map[string]interface{}{"query": 42})
	result := resp["result"].(map[string]interface{})
	assert.Equal(t, true, result["isError"])
	content := result["content"].([]interface{})[0].(map[string]interface{})
	assert.Contains(t, content["text"], "ERROR: INVALID_FIELD")
}

func TestSearchToolMissingQuery(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := callTool(t, srv.Handler(), protocol.ToolNameSearch, map[string]interface{}{})
	result := resp["result"].(map[string]interface{})
	assert.Equal(t, true, result["isError"])
	content := result["content"].([]interface{})[0].(map[string]interface{})
	assert.Contains(t, content["text"], "ERROR: MISSING_FIELD")
}

func TestAddToolAsync(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := callTool(t, srv.Handler(), protocol.ToolNameAdd, map[string]interface{}{
		"file_path": "/tmp/report.pdf",
		"contexts":  "default, aws",
	})
	envelope := structuredContent(t, resp)
	assert.Equal(t, true, envelope["success"])
	assert.Equal(t, "task-1", envelope["task_id"])
	assert.Equal(t, "Document queued for processing", envelope["message"])
	assert.Equal(t, []interface{}{"default", "aws"}, envelope["contexts"])
}

func TestAddToolSync(t *testing.T) {
	srv, fake := newTestServer(t)
	fake.documents["doc-1"] = &model.Document{
		ID:               "doc-1",
		Filename:         "report.pdf",
		Contexts:         []string{"default"},
		ChunkCount:       5,
		ProcessingMethod: model.MethodTextExtraction,
	}

	resp := callTool(t, srv.Handler(), protocol.ToolNameAdd, map[string]interface{}{
		"file_path": "/tmp/report.pdf",
		"async":     false,
	})
	envelope := structuredContent(t, resp)
	assert.Equal(t, true, envelope["success"])
	assert.Equal(t, "doc-1", envelope["document_id"])
	assert.Equal(t, "report.pdf", envelope["filename"])
	assert.Equal(t, float64(5), envelope["chunks_created"])
	assert.Equal(t, "text_extraction", envelope["processing_method"])
}

func TestAddToolDomainError(t *testing.T) {
	srv, fake := newTestServer(t)
	fake.addErr = fmt.Errorf("file /tmp/nope.pdf: %w", model.ErrNotFound)

	resp := callTool(t, srv.Handler(), protocol.ToolNameAdd, map[string]interface{}{"file_path": "/tmp/nope.pdf"})
	envelope := structuredContent(t, resp)
	assert.Equal(t, false, envelope["success"])
	assert.Equal(t, "not_found", envelope["error"])
}

func TestRemoveToolConfirmationGate(t *testing.T) {
	srv, fake := newTestServer(t)
	fake.documents["doc-1"] = &model.Document{ID: "doc-1", Filename: "report.pdf", ChunkCount: 3}

	resp := callTool(t, srv.Handler(), protocol.ToolNameRemove, map[string]interface{}{"document_id": "doc-1"})
	envelope := structuredContent(t, resp)
	assert.Equal(t, false, envelope["success"])
	assert.Equal(t, "Set confirm=true to remove document", envelope["message"])

	resp = callTool(t, srv.Handler(), protocol.ToolNameRemove, map[string]interface{}{
		"document_id": "doc-1", "confirm": true,
	})
	envelope = structuredContent(t, resp)
	assert.Equal(t, true, envelope["success"])
	assert.Equal(t, "Removed document: report.pdf", envelope["message"])
	assert.Equal(t, float64(3), envelope["chunks_removed"])
}

func TestRemoveToolNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := callTool(t, srv.Handler(), protocol.ToolNameRemove, map[string]interface{}{
		"document_id": "ghost", "confirm": true,
	})
	envelope := structuredContent(t, resp)
	assert.Equal(t, false, envelope["success"])
	assert.Equal(t, "Document not found: ghost", envelope["message"])
}

func TestClearToolConfirmationGate(t *testing.T) {
	srv, fake := newTestServer(t)
	fake.documents["doc-1"] = &model.Document{ID: "doc-1"}

	resp := callTool(t, srv.Handler(), protocol.ToolNameClear, nil)
	envelope := structuredContent(t, resp)
	assert.Equal(t, false, envelope["success"])
	assert.Equal(t, "Set confirm=true to clear knowledge base", envelope["message"])
	assert.Equal(t, 0, fake.cleared)

	resp = callTool(t, srv.Handler(), protocol.ToolNameClear, map[string]interface{}{"confirm": true})
	envelope = structuredContent(t, resp)
	assert.Equal(t, true, envelope["success"])
	assert.Equal(t, float64(1), envelope["documents_removed"])
	assert.Equal(t, 1, fake.cleared)
}

func TestStatusTool(t *testing.T) {
	srv, fake := newTestServer(t)
	fake.stats = knowledge.Statistics{
		DocumentCount:            2,
		TotalChunks:              10,
		TotalSizeMB:              1.5,
		AverageChunksPerDocument: 5,
	}

	resp := callTool(t, srv.Handler(), protocol.ToolNameStatus, nil)
	envelope := structuredContent(t, resp)
	kb := envelope["knowledge_base"].(map[string]interface{})
	assert.Equal(t, float64(2), kb["document_count"])
	assert.Equal(t, float64(10), kb["total_chunks"])
	health := envelope["health"].(map[string]interface{})
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, true, health["vector_db_connected"])

	fake.healthy = false
	resp = callTool(t, srv.Handler(), protocol.ToolNameStatus, nil)
	health = structuredContent(t, resp)["health"].(map[string]interface{})
	assert.Equal(t, "degraded", health["status"])
	assert.Equal(t, false, health["vector_db_connected"])
}

func TestTaskStatusTool(t *testing.T) {
	srv, fake := newTestServer(t)
	fake.tasks["task-1"] = &model.ProcessingTask{
		TaskID:      "task-1",
		Status:      model.TaskRunning,
		Progress:    0.5,
		CurrentStep: "Generating embeddings",
	}

	resp := callTool(t, srv.Handler(), protocol.ToolNameTaskStatus, map[string]interface{}{"task_id": "task-1"})
	envelope := structuredContent(t, resp)
	assert.Equal(t, true, envelope["success"])
	assert.Equal(t, "running", envelope["status"])
	assert.Equal(t, 0.5, envelope["progress"])
	assert.Equal(t, "Generating embeddings", envelope["current_step"])
	assert.Nil(t, envelope["error"])

	resp = callTool(t, srv.Handler(), protocol.ToolNameTaskStatus, map[string]interface{}{"task_id": "ghost"})
	envelope = structuredContent(t, resp)
	assert.Equal(t, false, envelope["success"])
	assert.Equal(t, "Task not found: ghost", envelope["message"])
}

func TestContextTools(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	resp := callTool(t, handler, protocol.ToolNameContextCreate, map[string]interface{}{
		"name": "aws", "description": "cloud docs",
	})
	envelope := structuredContent(t, resp)
	assert.Equal(t, true, envelope["success"])
	created := envelope["context"].(map[string]interface{})
	assert.Equal(t, "aws", created["name"])
	assert.Equal(t, "cloud docs", created["description"])

	resp = callTool(t, handler, protocol.ToolNameContextList, nil)
	envelope = structuredContent(t, resp)
	assert.Equal(t, float64(2), envelope["total_count"])

	resp = callTool(t, handler, protocol.ToolNameContextShow, map[string]interface{}{"name": "aws"})
	envelope = structuredContent(t, resp)
	assert.Equal(t, true, envelope["success"])

	// Deletion needs confirm=true.
	resp = callTool(t, handler, protocol.ToolNameContextDelete, map[string]interface{}{"name": "aws"})
	envelope = structuredContent(t, resp)
	assert.Equal(t, false, envelope["success"])
	assert.Equal(t, "Context deletion requires confirm=true", envelope["message"])

	resp = callTool(t, handler, protocol.ToolNameContextDelete, map[string]interface{}{
		"name": "aws", "confirm": true,
	})
	envelope = structuredContent(t, resp)
	assert.Equal(t, true, envelope["success"])
	assert.Equal(t, "Deleted context: aws", envelope["message"])
}

func TestShowTool(t *testing.T) {
	srv, fake := newTestServer(t)
	fake.documents["doc-1"] = &model.Document{
		ID:               "doc-1",
		Filename:         "scan.pdf",
		Format:           model.FormatPDF,
		ChunkCount:       4,
		Contexts:         []string{"default"},
		ProcessingStatus: model.StatusCompleted,
		DateAdded:        time.Now().UTC(),
		Metadata:         map[string]interface{}{"ocr_used": true, "ocr_confidence": 0.88},
	}

	resp := callTool(t, srv.Handler(), protocol.ToolNameShow, nil)
	envelope := structuredContent(t, resp)
	assert.Equal(t, true, envelope["success"])
	assert.Equal(t, "all", envelope["context"])
	assert.Equal(t, float64(1), envelope["total_count"])
	documents := envelope["documents"].([]interface{})
	require.Len(t, documents, 1)
	entry := documents[0].(map[string]interface{})
	assert.Equal(t, "scan.pdf", entry["filename"])
	assert.Equal(t, true, entry["ocr_used"])
	assert.Equal(t, 0.88, entry["ocr_confidence"])
}

func TestServeStdio(t *testing.T) {
	srv, _ := newTestServer(t)

	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
	}, "\n") + "\n"

	var out bytes.Buffer
	require.NoError(t, srv.ServeStdio(context.Background(), strings.NewReader(input), &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, float64(1), first["id"])
	result := first["result"].(map[string]interface{})
	assert.Equal(t, protocol.Version, result["protocolVersion"])

	var second map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	tools := second["result"].(map[string]interface{})["tools"].([]interface{})
	assert.Len(t, tools, len(toolOrder))
}

func TestRateLimit(t *testing.T) {
	cfg := config.Default()
	cfg.MCP.RateLimitRPS = 1
	cfg.MCP.RateLimitBurst = 2
	srv := NewServer(cfg, newFakeKnowledge(), nil)
	handler := srv.Handler()

	body := `{"jsonrpc":"2.0","id":1,"method":"ping"}`
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, protocol.DefaultMCPPath, strings.NewReader(body))
		req.RemoteAddr = "203.0.113.9:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	req := httptest.NewRequest(http.MethodPost, protocol.DefaultMCPPath, strings.NewReader(body))
	req.RemoteAddr = "203.0.113.9:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Loopback clients are never throttled.
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, protocol.DefaultMCPPath, strings.NewReader(body))
		req.RemoteAddr = "127.0.0.1:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}
}
