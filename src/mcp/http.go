package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionHeader carries the session id assigned on initialize.
const SessionHeader = "Mcp-Session-Id"

const shutdownTimeout = 5 * time.Second

// HTTPTransport serves JSON-RPC over POST /mcp. Each POST carries one
// message and receives its response in the body.
type HTTPTransport struct {
	addr string

	mu       sync.RWMutex
	sessions map[string]time.Time
}

// NewHTTPTransport creates a transport listening on addr.
func NewHTTPTransport(addr string) *HTTPTransport {
	return &HTTPTransport{
		addr:     addr,
		sessions: make(map[string]time.Time),
	}
}

// Handler returns the HTTP handler for d, exposed for tests and embedding.
func (t *HTTPTransport) Handler(d Dispatcher) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			t.handleMessage(w, r, d)
		case http.MethodDelete:
			t.handleDelete(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/health", t.handleHealth)
	return mux
}

// Serve listens until ctx is done, then shuts down gracefully.
func (t *HTTPTransport) Serve(ctx context.Context, d Dispatcher) error {
	srv := &http.Server{
		Addr:              t.addr,
		Handler:           t.Handler(d),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("MCP: HTTP transport listening on %s", t.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http transport: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Println("MCP: HTTP transport shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (t *HTTPTransport) handleMessage(w http.ResponseWriter, r *http.Request, d Dispatcher) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes+1))
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to read body: %v", err), http.StatusBadRequest)
		return
	}
	if len(body) > maxMessageBytes {
		http.Error(w, "Message too large", http.StatusRequestEntityTooLarge)
		return
	}

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		writeJSON(w, http.StatusOK, errorResponse(nil, CodeParseError, "Parse error: %v", err))
		return
	}

	if msg.Method == "initialize" {
		id := uuid.NewString()
		t.mu.Lock()
		t.sessions[id] = time.Now()
		t.mu.Unlock()
		w.Header().Set(SessionHeader, id)
		log.Printf("MCP: new HTTP session %s", id)
	} else if sid := r.Header.Get(SessionHeader); sid != "" && !t.hasSession(sid) {
		http.Error(w, "Unknown session", http.StatusNotFound)
		return
	}

	replies := make(chan *Message, 1)
	d.Dispatch(r.Context(), &msg, func(resp *Message) { replies <- resp })

	select {
	case resp := <-replies:
		if resp == nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	case <-r.Context().Done():
		log.Printf("MCP: client went away before %s completed", msg.Method)
	}
}

func (t *HTTPTransport) handleDelete(w http.ResponseWriter, r *http.Request) {
	sid := r.Header.Get(SessionHeader)
	t.mu.Lock()
	_, ok := t.sessions[sid]
	delete(t.sessions, sid)
	t.mu.Unlock()
	if !ok {
		http.Error(w, "Unknown session", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (t *HTTPTransport) handleHealth(w http.ResponseWriter, r *http.Request) {
	t.mu.RLock()
	n := len(t.sessions)
	t.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "sessions": n})
}

func (t *HTTPTransport) hasSession(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.sessions[id]
	return ok
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("MCP: error encoding response: %v", err)
	}
}
