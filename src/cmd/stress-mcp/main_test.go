package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"desktop-commander/src/mcp"
)

func TestNewRootCmdDefaults(t *testing.T) {
	opts := &stressOptions{}
	cmd := newRootCmd(opts)
	if err := cmd.ParseFlags([]string{}); err != nil {
		t.Fatalf("ParseFlags failed: %v", err)
	}
	if opts.n != 50 {
		t.Fatalf("Expected default n=50, got %d", opts.n)
	}
	if opts.tool != "get_screen_info" {
		t.Fatalf("Expected default tool=get_screen_info, got %q", opts.tool)
	}
	if opts.deadline != 5*time.Second {
		t.Fatalf("Expected default deadline=5s, got %v", opts.deadline)
	}
}

func TestNewRootCmdCustomFlags(t *testing.T) {
	opts := &stressOptions{}
	cmd := newRootCmd(opts)
	if err := cmd.ParseFlags([]string{"--n", "3", "--tool", "set_speed", "--deadline", "7s", "--url", "http://x/mcp"}); err != nil {
		t.Fatalf("ParseFlags failed: %v", err)
	}
	if opts.n != 3 || opts.tool != "set_speed" || opts.deadline != 7*time.Second || opts.url != "http://x/mcp" {
		t.Fatalf("Unexpected options %+v", opts)
	}
}

func TestRunCountsOutcomes(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg mcp.Message
		_ = json.NewDecoder(r.Body).Decode(&msg)
		if msg.Method == "initialize" {
			w.Header().Set(mcp.SessionHeader, "s1")
			_ = json.NewEncoder(w).Encode(&mcp.Message{JSONRPC: "2.0", ID: msg.ID, Result: json.RawMessage("{}")})
			return
		}
		if r.Header.Get(mcp.SessionHeader) != "s1" {
			http.Error(w, "Unknown session", http.StatusNotFound)
			return
		}
		resp := &mcp.Message{JSONRPC: "2.0", ID: msg.ID, Result: json.RawMessage("{}")}
		if atomic.AddInt32(&calls, 1)%2 == 0 {
			resp = &mcp.Message{JSONRPC: "2.0", ID: msg.ID, Error: &mcp.ErrorObj{Code: mcp.CodeServerBusy, Message: "busy"}}
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	var out bytes.Buffer
	stats, err := runWithOptions(context.Background(), stressOptions{n: 4, url: srv.URL, tool: "ping", deadline: time.Second}, &out)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if stats.ok != 2 || stats.busy != 2 || stats.failed != 0 {
		t.Errorf("Unexpected stats %+v", stats)
	}
	if !strings.HasPrefix(out.String(), "launched=4 ok=2 busy=2 err=0") {
		t.Errorf("Unexpected summary %q", out.String())
	}
}

func TestRunFailsWithoutServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	if _, err := runWithOptions(context.Background(), stressOptions{n: 1, url: srv.URL, deadline: time.Second}, &bytes.Buffer{}); err == nil {
		t.Error("Expected initialize error")
	}
}
