// Package protocol holds the MCP wire constants shared by the server,
// transports and CLI.
package protocol

const (
	// Version is the MCP protocol revision this server speaks.
	Version = "2025-03-26"

	ServerName    = "knowledge-server"
	ServerVersion = "1.0.0"
)

const (
	ToolNameAdd           = "knowledge-add"
	ToolNameSearch        = "knowledge-search"
	ToolNameShow          = "knowledge-show"
	ToolNameRemove        = "knowledge-remove"
	ToolNameClear         = "knowledge-clear"
	ToolNameStatus        = "knowledge-status"
	ToolNameTaskStatus    = "knowledge-task-status"
	ToolNameContextCreate = "knowledge-context-create"
	ToolNameContextList   = "knowledge-context-list"
	ToolNameContextShow   = "knowledge-context-show"
	ToolNameContextDelete = "knowledge-context-delete"
)

const (
	DefaultMCPPath = "/mcp"

	MCPSessionHeader = "MCP-Session-Id"
)
