package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	// CodeServerBusy is returned when the tool-call queue is full.
	CodeServerBusy = -32000
)

const maxMessageBytes = 16 * 1024 * 1024

var nullID = json.RawMessage("null")

// Message is a JSON-RPC 2.0 request, notification or response.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObj       `json:"error,omitempty"`
}

// ErrorObj is a JSON-RPC 2.0 error object.
type ErrorObj struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// IsNotification reports whether msg expects no response.
func (m *Message) IsNotification() bool {
	return len(m.ID) == 0
}

func errorResponse(id json.RawMessage, code int, format string, args ...interface{}) *Message {
	if len(id) == 0 {
		id = nullID
	}
	return &Message{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &ErrorObj{Code: code, Message: fmt.Sprintf(format, args...)},
	}
}

func resultResponse(id json.RawMessage, v interface{}) *Message {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResponse(id, CodeInternalError, "failed to encode result: %v", err)
	}
	return &Message{JSONRPC: "2.0", ID: id, Result: data}
}

// Dispatcher handles one inbound message and calls reply exactly once,
// with nil when there is nothing to send back.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *Message, reply func(*Message))
}

var errStdinClosed = errors.New("stdin closed")

// StdioTransport speaks newline-delimited JSON-RPC over a reader/writer pair.
// Reads happen on one goroutine; writes may come from any goroutine.
type StdioTransport struct {
	reader *bufio.Reader
	writer io.Writer
	mu     sync.Mutex
}

// NewStdioTransport creates a new stdio transport.
func NewStdioTransport(stdin io.Reader, stdout io.Writer) *StdioTransport {
	return &StdioTransport{
		reader: bufio.NewReaderSize(stdin, 64*1024),
		writer: stdout,
	}
}

// ReadMessage reads the next non-empty line as a message. A line that is not
// valid JSON-RPC yields an error wrapping the parse failure.
func (t *StdioTransport) ReadMessage() (*Message, error) {
	for {
		line, err := t.reader.ReadBytes('\n')
		if len(line) > maxMessageBytes {
			return nil, fmt.Errorf("message exceeds %d bytes", maxMessageBytes)
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if err == io.EOF {
				return nil, errStdinClosed
			}
			if err != nil {
				return nil, fmt.Errorf("failed to read line: %w", err)
			}
			continue
		}

		var msg Message
		if jerr := json.Unmarshal(line, &msg); jerr != nil {
			return nil, &parseError{err: jerr}
		}
		return &msg, nil
	}
}

type parseError struct{ err error }

func (e *parseError) Error() string { return "failed to parse JSON: " + e.err.Error() }
func (e *parseError) Unwrap() error { return e.err }

// WriteMessage writes msg followed by a newline.
func (t *StdioTransport) WriteMessage(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	data = append(data, '\n')

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Serve reads messages until stdin closes or ctx is done, handing each to d.
func (t *StdioTransport) Serve(ctx context.Context, d Dispatcher) error {
	type inbound struct {
		msg *Message
		err error
	}
	incoming := make(chan inbound)

	go func() {
		for {
			msg, err := t.ReadMessage()
			select {
			case incoming <- inbound{msg: msg, err: err}:
			case <-ctx.Done():
				return
			}
			var perr *parseError
			if err != nil && !errors.As(err, &perr) {
				return
			}
		}
	}()

	reply := func(resp *Message) {
		if resp == nil {
			return
		}
		if err := t.WriteMessage(resp); err != nil {
			log.Printf("MCP: error writing message: %v", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			log.Println("MCP: stdio transport stopping (context cancelled)")
			return nil
		case in := <-incoming:
			var perr *parseError
			switch {
			case in.err == nil:
				d.Dispatch(ctx, in.msg, reply)
			case errors.Is(in.err, errStdinClosed):
				log.Println("MCP: stdin closed, exiting")
				return nil
			case errors.As(in.err, &perr):
				log.Printf("MCP: %v", in.err)
				reply(errorResponse(nil, CodeParseError, "Parse error: %v", perr.err))
			default:
				return in.err
			}
		}
	}
}
