package mcp

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/maxzrff/KnowledgeMCP/internal/protocol"
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// hasID distinguishes requests from notifications. A literal null id still
// counts as present, mirroring the JSON-RPC member check.
func (r rpcRequest) hasID() bool {
	return len(r.ID) > 0
}

func (r rpcRequest) idValue() interface{} {
	if !r.hasID() {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(r.ID, &v); err != nil {
		return nil
	}
	return v
}

type rpcResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
}

type rpcError struct {
	Code    int           `json:"code"`
	Message string        `json:"message"`
	Data    *rpcErrorData `json:"data,omitempty"`
}

type rpcErrorData struct {
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
}

func parseError() *rpcResponse {
	return &rpcResponse{
		JSONRPC: "2.0",
		ID:      nil,
		Error:   &rpcError{Code: -32700, Message: "Parse error"},
	}
}

func invalidRequest(id interface{}) *rpcResponse {
	return &rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpcError{Code: -32600, Message: "Invalid Request"},
	}
}

// parseMessages decodes a request body into its messages. batch reports
// whether the body was a JSON array.
func parseMessages(body []byte) (msgs []rpcRequest, batch bool, err error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &msgs); err != nil {
			return nil, true, err
		}
		return msgs, true, nil
	}
	var msg rpcRequest
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return nil, false, err
	}
	return []rpcRequest{msg}, false, nil
}

// hasRequests reports whether any message expects a response.
func hasRequests(msgs []rpcRequest) bool {
	for _, msg := range msgs {
		if msg.Method != "" && msg.hasID() {
			return true
		}
	}
	return false
}

func isInitialize(msgs []rpcRequest) bool {
	for _, msg := range msgs {
		if msg.Method == "initialize" {
			return true
		}
	}
	return false
}

// processMessages dispatches every message and collects responses.
// Notifications produce none; the result is nil when nothing answered.
// A batch yields a JSON array even for a single response.
func (s *Server) processMessages(ctx context.Context, msgs []rpcRequest, batch bool) interface{} {
	responses := make([]*rpcResponse, 0, len(msgs))
	for _, msg := range msgs {
		if resp := s.processMessage(ctx, msg); resp != nil {
			responses = append(responses, resp)
		}
	}
	if len(responses) == 0 {
		return nil
	}
	if batch {
		return responses
	}
	return responses[0]
}

func (s *Server) processMessage(ctx context.Context, msg rpcRequest) *rpcResponse {
	if msg.Method == "" {
		return invalidRequest(msg.idValue())
	}

	// Notifications get handled without a reply.
	if !msg.hasID() {
		switch msg.Method {
		case "notifications/initialized", "notifications/cancelled":
		default:
			s.logf("mcp: ignoring notification %q", msg.Method)
		}
		return nil
	}

	id := msg.idValue()
	switch msg.Method {
	case "initialize":
		return &rpcResponse{
			JSONRPC: "2.0",
			ID:      id,
			Result: map[string]interface{}{
				"protocolVersion": protocol.Version,
				"capabilities": map[string]interface{}{
					"tools": map[string]interface{}{},
				},
				"serverInfo": map[string]interface{}{
					"name":    protocol.ServerName,
					"version": protocol.ServerVersion,
				},
			},
		}
	case "ping":
		return &rpcResponse{JSONRPC: "2.0", ID: id, Result: map[string]interface{}{}}
	case "tools/list":
		return &rpcResponse{
			JSONRPC: "2.0",
			ID:      id,
			Result:  map[string]interface{}{"tools": s.toolList()},
		}
	case "tools/call":
		return s.processToolsCall(ctx, msg.Params, id)
	default:
		return &rpcResponse{
			JSONRPC: "2.0",
			ID:      id,
			Error:   &rpcError{Code: -32601, Message: "Method not found: " + msg.Method},
		}
	}
}
