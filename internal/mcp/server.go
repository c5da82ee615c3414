// Package mcp implements the Model Context Protocol server for Engram
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mnemohq/engram/internal/memory"
)

// Version is stamped by the build; surfaced in the initialize response.
var Version = "dev"

// Server implements the MCP protocol over stdio. Every mutation it performs
// is recorded under a single session id for later review.
type Server struct {
	store     *memory.Store
	sessionID string
	scanner   *bufio.Scanner
}

// NewServer creates a new MCP server around an open store.
func NewServer(store *memory.Store) *Server {
	return &Server{
		store:     store,
		sessionID: newSessionID(),
		scanner:   bufio.NewScanner(os.Stdin),
	}
}

// SessionID returns the session key this server records mutations under.
func (s *Server) SessionID() string {
	return s.sessionID
}

func newSessionID() string {
	return fmt.Sprintf("mcp_%s_%s", time.Now().Format("20060102_150405"), uuid.NewString()[:6])
}

// Start begins the MCP server loop
func (s *Server) Start() error {
	fmt.Fprintf(os.Stderr, "🧠 Engram MCP server ready (session %s)\n", s.sessionID)

	for s.scanner.Scan() {
		line := s.scanner.Text()
		if line == "" {
			continue
		}

		var request JSONRPCRequest
		if err := json.Unmarshal([]byte(line), &request); err != nil {
			s.sendError(nil, -32700, "Parse error", err.Error())
			continue
		}

		s.handleRequest(&request)
	}

	return s.scanner.Err()
}

// Stop gracefully shuts down the server
func (s *Server) Stop() {
	if s.store != nil {
		s.store.Close()
	}
}

// handleRequest processes a JSON-RPC request
func (s *Server) handleRequest(req *JSONRPCRequest) {
	ctx := context.Background()

	switch req.Method {
	case "initialize":
		s.handleInitialize(req)
	case "tools/list":
		s.handleToolsList(req)
	case "tools/call":
		s.handleToolCall(ctx, req)
	case "resources/list":
		s.handleResourcesList(req)
	case "resources/read":
		s.handleResourceRead(ctx, req)
	default:
		s.sendError(req.ID, -32601, "Method not found", req.Method)
	}
}

// handleInitialize responds to the initialize request
func (s *Server) handleInitialize(req *JSONRPCRequest) {
	result := map[string]interface{}{
		"protocolVersion": "2024-11-05",
		"capabilities": map[string]interface{}{
			"tools":     map[string]interface{}{},
			"resources": map[string]interface{}{},
		},
		"serverInfo": map[string]interface{}{
			"name":    "engram-mcp",
			"version": Version,
		},
	}
	s.sendResult(req.ID, result)
}

// handleToolsList returns available tools
func (s *Server) handleToolsList(req *JSONRPCRequest) {
	tools := []map[string]interface{}{
		{
			"name":        "read_memory",
			"description": "Read a memory by URI. Returns the body, recall metadata, child paths one level down, and aliases. Supports system://boot, system://index, and system://recent.",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"uri": map[string]interface{}{
						"type":        "string",
						"description": "Address like core://projects/engram",
					},
				},
				"required": []string{"uri"},
			},
		},
		{
			"name":        "create_memory",
			"description": "Store a new memory at a path. The parent path must already exist for nested paths.",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"domain": map[string]interface{}{
						"type":        "string",
						"description": "Target domain (must be in the allow-list)",
					},
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Slash-separated path within the domain",
					},
					"body": map[string]interface{}{
						"type":        "string",
						"description": "The memory text",
					},
					"priority": map[string]interface{}{
						"type":        "integer",
						"description": "Importance weight, lower = more important (default 100)",
					},
					"disclosure": map[string]interface{}{
						"type":        "string",
						"description": "When this memory should be recalled",
					},
				},
				"required": []string{"domain", "path", "body"},
			},
		},
		{
			"name":        "update_memory",
			"description": "Revise a memory. 'patch' replaces an exact fragment that occurs exactly once; 'append' adds a new line at the end. The old version stays recoverable until the session is approved.",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"uri": map[string]interface{}{
						"type":        "string",
						"description": "Address of the memory to update",
					},
					"mode": map[string]interface{}{
						"type":        "string",
						"description": "One of: 'patch', 'append'. Omit for a metadata-only change.",
					},
					"old": map[string]interface{}{
						"type":        "string",
						"description": "patch mode: the exact fragment to replace",
					},
					"new": map[string]interface{}{
						"type":        "string",
						"description": "Replacement text (patch) or text to append",
					},
					"priority": map[string]interface{}{
						"type":        "integer",
						"description": "New importance weight for this path",
					},
					"disclosure": map[string]interface{}{
						"type":        "string",
						"description": "New recall trigger for this path",
					},
				},
				"required": []string{"uri"},
			},
		},
		{
			"name":        "delete_memory",
			"description": "Remove a path. The underlying content is kept for audit; paths with children cannot be deleted.",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"uri": map[string]interface{}{
						"type":        "string",
						"description": "Address of the path to remove",
					},
				},
				"required": []string{"uri"},
			},
		},
		{
			"name":        "add_alias",
			"description": "Add a second address for an existing memory. The alias has its own priority and disclosure.",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"source_uri": map[string]interface{}{
						"type":        "string",
						"description": "Existing address whose content the alias shares",
					},
					"domain": map[string]interface{}{
						"type":        "string",
						"description": "Domain of the new alias",
					},
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Path of the new alias",
					},
					"priority": map[string]interface{}{
						"type":        "integer",
						"description": "Importance weight for the alias (default 100)",
					},
					"disclosure": map[string]interface{}{
						"type":        "string",
						"description": "Recall trigger for the alias",
					},
				},
				"required": []string{"source_uri", "domain", "path"},
			},
		},
		{
			"name":        "search_memory",
			"description": "Case-insensitive substring search over memory bodies and URIs.",
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"keyword": map[string]interface{}{
						"type":        "string",
						"description": "Text to look for",
					},
				},
				"required": []string{"keyword"},
			},
		},
	}

	s.sendResult(req.ID, map[string]interface{}{"tools": tools})
}

// handleToolCall executes a tool
func (s *Server) handleToolCall(ctx context.Context, req *JSONRPCRequest) {
	var params struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	}

	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.sendError(req.ID, -32602, "Invalid params", err.Error())
		return
	}

	var result interface{}
	var err error

	switch params.Name {
	case "read_memory":
		result, err = s.toolReadMemory(ctx, params.Arguments)
	case "create_memory":
		result, err = s.toolCreateMemory(ctx, params.Arguments)
	case "update_memory":
		result, err = s.toolUpdateMemory(ctx, params.Arguments)
	case "delete_memory":
		result, err = s.toolDeleteMemory(ctx, params.Arguments)
	case "add_alias":
		result, err = s.toolAddAlias(ctx, params.Arguments)
	case "search_memory":
		result, err = s.toolSearchMemory(ctx, params.Arguments)
	default:
		s.sendError(req.ID, -32602, "Unknown tool", params.Name)
		return
	}

	if err != nil {
		s.sendResult(req.ID, map[string]interface{}{
			"content": []map[string]interface{}{
				{"type": "text", "text": fmt.Sprintf("Error: %v", err)},
			},
			"isError": true,
		})
		return
	}

	// Format result as MCP content
	text, _ := json.MarshalIndent(result, "", "  ")
	s.sendResult(req.ID, map[string]interface{}{
		"content": []map[string]interface{}{
			{"type": "text", "text": string(text)},
		},
	})
}

// Tool implementations

func (s *Server) toolReadMemory(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	uri, ok := args["uri"].(string)
	if !ok || uri == "" {
		return nil, fmt.Errorf("uri is required")
	}
	return s.store.Resolve(ctx, uri)
}

func (s *Server) toolCreateMemory(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	domain, _ := args["domain"].(string)
	path, _ := args["path"].(string)
	body, _ := args["body"].(string)
	if domain == "" || path == "" || body == "" {
		return nil, fmt.Errorf("domain, path, and body are required")
	}

	priority := 100
	if pf, ok := args["priority"].(float64); ok {
		priority = int(pf)
	}
	disclosure, _ := args["disclosure"].(string)

	p, err := s.store.Create(ctx, s.sessionID, domain, path, body, priority, disclosure)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"uri":        p.URI(),
		"content_id": p.ContentID,
	}, nil
}

func (s *Server) toolUpdateMemory(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	uri, ok := args["uri"].(string)
	if !ok || uri == "" {
		return nil, fmt.Errorf("uri is required")
	}

	req := memory.UpdateRequest{}
	if mode, ok := args["mode"].(string); ok {
		req.Mode = mode
	}
	if old, ok := args["old"].(string); ok {
		req.Old = old
	}
	if newText, ok := args["new"].(string); ok {
		req.New = newText
	}
	if pf, ok := args["priority"].(float64); ok {
		p := int(pf)
		req.Priority = &p
	}
	if d, ok := args["disclosure"].(string); ok {
		req.Disclosure = &d
	}

	result, err := s.store.Update(ctx, s.sessionID, uri, req)
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{
		"uri":        result.Path.URI(),
		"content_id": result.Path.ContentID,
	}
	if result.BodyChanged {
		out["new_content_id"] = result.NewContentID
	}
	return out, nil
}

func (s *Server) toolDeleteMemory(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	uri, ok := args["uri"].(string)
	if !ok || uri == "" {
		return nil, fmt.Errorf("uri is required")
	}
	if err := s.store.Delete(ctx, s.sessionID, uri); err != nil {
		return nil, err
	}
	return map[string]interface{}{"ok": true, "uri": uri}, nil
}

func (s *Server) toolAddAlias(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	sourceURI, _ := args["source_uri"].(string)
	domain, _ := args["domain"].(string)
	path, _ := args["path"].(string)
	if sourceURI == "" || domain == "" || path == "" {
		return nil, fmt.Errorf("source_uri, domain, and path are required")
	}

	priority := 100
	if pf, ok := args["priority"].(float64); ok {
		priority = int(pf)
	}
	disclosure, _ := args["disclosure"].(string)

	p, err := s.store.AddAlias(ctx, s.sessionID, sourceURI, domain, path, priority, disclosure)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"uri":        p.URI(),
		"content_id": p.ContentID,
	}, nil
}

func (s *Server) toolSearchMemory(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	keyword, ok := args["keyword"].(string)
	if !ok || strings.TrimSpace(keyword) == "" {
		return nil, fmt.Errorf("keyword is required")
	}
	results, err := s.store.Search(ctx, keyword)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"results": results,
		"count":   len(results),
	}, nil
}

// handleResourcesList returns available resources
func (s *Server) handleResourcesList(req *JSONRPCRequest) {
	resources := []map[string]interface{}{
		{
			"uri":         "system://boot",
			"name":        "Boot Set",
			"description": "Concatenated boot memories in priority order",
			"mimeType":    "text/markdown",
		},
		{
			"uri":         "system://index",
			"name":        "Full Index",
			"description": "Every path across all domains",
			"mimeType":    "text/markdown",
		},
		{
			"uri":         "system://recent",
			"name":        "Recently Modified",
			"description": "Most recently touched paths, newest first",
			"mimeType":    "text/markdown",
		},
	}

	s.sendResult(req.ID, map[string]interface{}{"resources": resources})
}

// handleResourceRead reads a resource
func (s *Server) handleResourceRead(ctx context.Context, req *JSONRPCRequest) {
	var params struct {
		URI string `json:"uri"`
	}

	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.sendError(req.ID, -32602, "Invalid params", err.Error())
		return
	}

	node, err := s.store.Resolve(ctx, params.URI)
	if err != nil {
		s.sendError(req.ID, -32602, "Unknown resource", params.URI)
		return
	}

	s.sendResult(req.ID, map[string]interface{}{
		"contents": []map[string]interface{}{
			{
				"uri":      params.URI,
				"mimeType": "text/markdown",
				"text":     node.Body,
			},
		},
	})
}

// JSON-RPC types and helpers

type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (s *Server) sendResult(id interface{}, result interface{}) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
	data, _ := json.Marshal(resp)
	fmt.Println(string(data))
}

func (s *Server) sendError(id interface{}, code int, message, data string) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &RPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
	respData, _ := json.Marshal(resp)
	fmt.Println(string(respData))
}
