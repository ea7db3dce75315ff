package mcp

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/maxzrff/KnowledgeMCP/internal/config"
	"github.com/maxzrff/KnowledgeMCP/internal/knowledge"
	"github.com/maxzrff/KnowledgeMCP/internal/model"
	"github.com/maxzrff/KnowledgeMCP/internal/protocol"
)

const (
	// ssePingInterval paces keepalive events on GET streams.
	ssePingInterval = 30 * time.Second

	maxBodyBytes = 4 << 20
)

// KnowledgeService is the surface the tool handlers need from the
// knowledge layer.
type KnowledgeService interface {
	AddDocument(ctx context.Context, path string, metadata map[string]interface{}, async, forceOCR bool, contexts []string) (string, bool, error)
	GetDocument(id string) (*model.Document, error)
	ListDocuments(contextName string) []*model.Document
	RemoveDocument(ctx context.Context, id string) (int, error)
	Clear(ctx context.Context) (int, error)
	Search(ctx context.Context, query string, topK int, minRelevance float64, contextName string) ([]model.SearchResult, error)
	GetStatistics() knowledge.Statistics
	Healthy(ctx context.Context) bool
	GetTask(id string) (*model.ProcessingTask, error)
	CreateContext(name, description string, metadata map[string]interface{}) (*model.Context, error)
	ListContexts() []*model.Context
	GetContext(name string) (*model.Context, error)
	DeleteContext(ctx context.Context, name string) error
}

var _ KnowledgeService = (*knowledge.Service)(nil)

type session struct {
	createdAt    time.Time
	lastActivity time.Time
}

// Server speaks MCP over Streamable HTTP and stdio.
type Server struct {
	cfg       *config.Config
	knowledge KnowledgeService
	tools     map[string]toolDefinition
	limiter   *ipRateLimiter
	logger    *log.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// NewServer wires the tool registry against the knowledge service.
func NewServer(cfg *config.Config, svc KnowledgeService, logger *log.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		knowledge: svc,
		limiter:   newIPRateLimiter(cfg.MCP.RateLimitRPS, cfg.MCP.RateLimitBurst),
		logger:    logger,
		sessions:  make(map[string]*session),
	}
	s.tools = s.buildToolRegistry()
	return s
}

func (s *Server) logf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// Handler returns the HTTP handler serving the MCP endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(protocol.DefaultMCPPath, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			s.handlePost(w, r)
		case http.MethodGet:
			s.handleGet(w, r)
		case http.MethodDelete:
			s.handleDelete(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	return mux
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.allow(realIP(r)) {
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{"error": "Too many requests"})
		return
	}
	if origin := r.Header.Get("Origin"); origin != "" && !isValidOrigin(origin) {
		writeJSON(w, http.StatusForbidden, map[string]interface{}{"error": "Invalid origin"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, parseError())
		return
	}
	msgs, batch, err := parseMessages(body)
	if err != nil {
		s.logf("mcp: invalid JSON from %s: %v", realIP(r), err)
		writeJSON(w, http.StatusBadRequest, parseError())
		return
	}

	sessionID := r.Header.Get(protocol.MCPSessionHeader)
	if sessionID != "" && !s.touchSession(sessionID) {
		if s.cfg.MCP.StrictSessions {
			writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": "Session not found"})
			return
		}
		// Permissive mode adopts unknown ids, so clients survive a
		// server restart without re-initializing.
		s.createSession(sessionID)
		s.logf("mcp: created session on demand: %s", sessionID)
	}

	isInit := isInitialize(msgs)
	if isInit && sessionID == "" {
		sessionID = newSessionID()
		s.createSession(sessionID)
		s.logf("mcp: created new session: %s", sessionID)
	}

	if !hasRequests(msgs) {
		// Only notifications or responses.
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		s.streamResponse(w, r, msgs, batch, sessionID)
		return
	}

	payload := s.processMessages(r.Context(), msgs, batch)
	if isInit && sessionID != "" {
		w.Header().Set(protocol.MCPSessionHeader, sessionID)
	}
	writeJSON(w, http.StatusOK, payload)
}

// streamResponse answers a POST over SSE: one message event carrying the
// full JSON-RPC response, then the stream closes.
func (s *Server) streamResponse(w http.ResponseWriter, r *http.Request, msgs []rpcRequest, batch bool, sessionID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "streaming unsupported"})
		return
	}
	payload := s.processMessages(r.Context(), msgs, batch)
	data, err := json.Marshal(payload)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "encode response"})
		return
	}

	if sessionID != "" {
		w.Header().Set(protocol.MCPSessionHeader, sessionID)
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
	flusher.Flush()
}

// handleGet opens a server-to-client SSE stream. No server-initiated
// messages exist yet, so the stream only carries keepalive pings.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if origin := r.Header.Get("Origin"); origin != "" && !isValidOrigin(origin) {
		writeJSON(w, http.StatusForbidden, map[string]interface{}{"error": "Invalid origin"})
		return
	}
	if !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sessionID := r.Header.Get(protocol.MCPSessionHeader)
	if sessionID != "" && !s.touchSession(sessionID) {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": "Session not found"})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(ssePingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, "event: ping\ndata: \n\n")
			flusher.Flush()
		}
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(protocol.MCPSessionHeader)
	if sessionID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	_, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()

	if ok {
		s.logf("mcp: terminated session: %s", sessionID)
		w.WriteHeader(http.StatusOK)
		return
	}
	writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": "Session not found"})
}

func (s *Server) createSession(id string) {
	now := time.Now()
	s.mu.Lock()
	s.sessions[id] = &session{createdAt: now, lastActivity: now}
	s.mu.Unlock()
}

// touchSession refreshes a session's activity time, reporting whether the
// session exists.
func (s *Server) touchSession(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if ok {
		sess.lastActivity = time.Now()
	}
	return ok
}

// SessionCount reports live sessions, for diagnostics.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// newSessionID mints a 32-byte URL-safe random id.
func newSessionID() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// isValidOrigin guards against DNS rebinding: only loopback origins are
// accepted.
func isValidOrigin(origin string) bool {
	for _, host := range []string{"localhost", "127.0.0.1", "[::1]"} {
		if strings.Contains(origin, host) {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// Headers are out; nothing left to do.
		return
	}
}

// Serve blocks while handling HTTP on the listener. Cancel ctx to initiate
// graceful shutdown; in-flight requests are allowed to drain. WriteTimeout
// stays zero because SSE streams outlive any fixed deadline.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	janitorCtx, cancelJanitor := context.WithCancel(ctx)
	defer cancelJanitor()
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-janitorCtx.Done():
				return
			case <-ticker.C:
				s.limiter.cleanup(10 * time.Minute)
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(listener) }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
