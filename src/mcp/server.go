package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"desktop-commander/src/desktop"
	"desktop-commander/src/input"
	"desktop-commander/src/worker"
)

const (
	ProtocolVersion = "2024-11-05"
	ServerName      = "desktop-commander"

	screenInfoURI = "screen://info"
)

const instructions = `Desktop automation server.

Tools:
- get_screen: capture a screenshot (image + metadata)
- analyze_screen: find text or images on screen and their positions
- use_mouse: click, move, drag, scroll at coordinates
- use_keyboard: type text, press keys, hotkey combos

Workflow: get_screen to see the current state, analyze_screen to locate
elements, then use_mouse/use_keyboard to act on them. Repeat as needed.`

// Clipboard reads and writes clipboard text.
type Clipboard interface {
	Read() (string, error)
	Write(text string) error
}

// Tool is one callable MCP tool.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
	Handler     func(ctx context.Context, args json.RawMessage) *ToolResult
}

// ToolResult is a tools/call result.
type ToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Content is one item of a tool result: text, or base64 image data.
type Content struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MIMEType string `json:"mimeType,omitempty"`
}

// Options wires the server's collaborators. Input and Clipboard may be nil;
// the tools that need them then report an error result.
type Options struct {
	Commander *desktop.Commander
	Input     input.Controller
	Clipboard Clipboard
	// Pool runs tool calls. Without one they run on the caller's goroutine.
	Pool    *worker.Pool
	Version string
}

// Server routes JSON-RPC methods to MCP handlers.
type Server struct {
	commander *desktop.Commander
	input     input.Controller
	clipboard Clipboard
	pool      *worker.Pool
	version   string
	now       func() time.Time

	tools []*Tool
	index map[string]*Tool
}

// NewServer builds a server and registers its tools.
func NewServer(opts Options) *Server {
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	s := &Server{
		commander: opts.Commander,
		input:     opts.Input,
		clipboard: opts.Clipboard,
		pool:      opts.Pool,
		version:   version,
		now:       time.Now,
		index:     make(map[string]*Tool),
	}
	s.registerTools()
	return s
}

func (s *Server) register(t *Tool) {
	s.tools = append(s.tools, t)
	s.index[t.Name] = t
}

// Dispatch runs tools/call on the worker pool and everything else inline.
// A full pool answers with a server-busy error instead of queueing.
func (s *Server) Dispatch(ctx context.Context, msg *Message, reply func(*Message)) {
	if msg.Method != "tools/call" || s.pool == nil {
		reply(s.handleRecovered(ctx, msg))
		return
	}
	ok := s.pool.Submit(ctx, "tools/call", func(ctx context.Context) {
		reply(s.handleRecovered(ctx, msg))
	})
	if !ok {
		if msg.IsNotification() {
			reply(nil)
			return
		}
		reply(errorResponse(msg.ID, CodeServerBusy, "Server busy: too many tool calls in flight"))
	}
}

// handleRecovered is Handle with a panic turned into an internal error, so
// reply still runs exactly once.
func (s *Server) handleRecovered(ctx context.Context, msg *Message) (resp *Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("MCP: PANIC handling %s: %v", msg.Method, r)
			resp = nil
			if !msg.IsNotification() {
				resp = errorResponse(msg.ID, CodeInternalError, "Internal error: %v", r)
			}
		}
	}()
	return s.Handle(ctx, msg)
}

// Handle processes one message synchronously and returns the response, or
// nil for notifications.
func (s *Server) Handle(ctx context.Context, msg *Message) *Message {
	if msg.JSONRPC != "2.0" {
		if msg.IsNotification() {
			return nil
		}
		return errorResponse(msg.ID, CodeInvalidRequest, "Invalid request: jsonrpc must be \"2.0\"")
	}

	var resp *Message
	switch msg.Method {
	case "initialize":
		resp = resultResponse(msg.ID, map[string]interface{}{
			"protocolVersion": ProtocolVersion,
			"capabilities": map[string]interface{}{
				"tools":     map[string]interface{}{},
				"resources": map[string]interface{}{},
			},
			"serverInfo":   map[string]string{"name": ServerName, "version": s.version},
			"instructions": instructions,
		})
	case "notifications/initialized", "notifications/cancelled":
		return nil
	case "ping":
		resp = resultResponse(msg.ID, map[string]interface{}{})
	case "tools/list":
		resp = resultResponse(msg.ID, map[string]interface{}{"tools": s.listTools()})
	case "tools/call":
		resp = s.handleToolCall(ctx, msg)
	case "resources/list":
		resp = resultResponse(msg.ID, map[string]interface{}{
			"resources": []map[string]string{{
				"uri":         screenInfoURI,
				"name":        "screen_info",
				"description": "Current screen size and mouse position",
				"mimeType":    "text/plain",
			}},
		})
	case "resources/read":
		resp = s.handleResourceRead(msg)
	default:
		resp = errorResponse(msg.ID, CodeMethodNotFound, "Method not found: %s", msg.Method)
	}

	if msg.IsNotification() {
		return nil
	}
	return resp
}

func (s *Server) listTools() []map[string]interface{} {
	tools := make([]map[string]interface{}, 0, len(s.tools))
	for _, t := range s.tools {
		tools = append(tools, map[string]interface{}{
			"name":        t.Name,
			"description": t.Description,
			"inputSchema": t.InputSchema,
		})
	}
	return tools
}

func (s *Server) handleToolCall(ctx context.Context, msg *Message) *Message {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return errorResponse(msg.ID, CodeInvalidParams, "Invalid params: %v", err)
	}

	tool, ok := s.index[params.Name]
	if !ok {
		return errorResponse(msg.ID, CodeInvalidParams, "Tool not found: %s", params.Name)
	}

	start := time.Now()
	result := tool.Handler(ctx, params.Arguments)
	log.Printf("MCP: tool %s finished in %s (isError=%v)", params.Name, time.Since(start).Round(time.Millisecond), result.IsError)
	return resultResponse(msg.ID, result)
}

func (s *Server) handleResourceRead(msg *Message) *Message {
	var params struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return errorResponse(msg.ID, CodeInvalidParams, "Invalid params: %v", err)
	}
	if params.URI != screenInfoURI {
		return errorResponse(msg.ID, CodeInvalidParams, "Unknown resource: %s", params.URI)
	}

	info := s.commander.ScreenInfo()
	text := fmt.Sprintf("Screen: %dx%d, Mouse: (%d, %d)", info.Screen.Width, info.Screen.Height, info.Mouse.X, info.Mouse.Y)
	return resultResponse(msg.ID, map[string]interface{}{
		"contents": []map[string]string{{
			"uri":      screenInfoURI,
			"mimeType": "text/plain",
			"text":     text,
		}},
	})
}
