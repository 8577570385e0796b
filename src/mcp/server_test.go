package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"desktop-commander/src/desktop"
	"desktop-commander/src/input"
	"desktop-commander/src/ocr"
	"desktop-commander/src/screenshot"
	"desktop-commander/src/worker"
)

type screenStub struct{}

func (screenStub) Grab(region *screenshot.Region) (*image.RGBA, error) {
	if region != nil {
		return image.NewRGBA(image.Rect(0, 0, region.Width, region.Height)), nil
	}
	return image.NewRGBA(image.Rect(0, 0, 64, 48)), nil
}

type engineStub struct{ table *ocr.Table }

func (e engineStub) Recognize(img image.Image, lang string, psm int) (*ocr.Table, error) {
	return e.table, nil
}

type fakeInput struct {
	mu      sync.Mutex
	x, y    int
	pause   time.Duration
	actions []string
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeInput) record(a string) {
	f.mu.Lock()
	f.actions = append(f.actions, a)
	f.mu.Unlock()
}

func (f *fakeInput) Move(x, y int, d time.Duration) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.x, f.y = x, y
	f.mu.Unlock()
	f.record("move")
}
func (f *fakeInput) Click(b input.Button, clicks int, interval time.Duration) { f.record("click:" + string(b)) }
func (f *fakeInput) Drag(fx, fy, tx, ty int, b input.Button, d time.Duration) error {
	f.mu.Lock()
	f.x, f.y = tx, ty
	f.mu.Unlock()
	f.record("drag")
	return nil
}
func (f *fakeInput) Scroll(amount int) { f.record("scroll") }
func (f *fakeInput) TypeText(text string, interval time.Duration) { f.record("type:" + text) }
func (f *fakeInput) PressKey(k string, n int, i time.Duration) error {
	f.record("press:" + k)
	return nil
}
func (f *fakeInput) Hotkey(keys []string) error {
	_, _, err := input.SplitHotkey(keys)
	if err == nil {
		f.record("hotkey")
	}
	return err
}
func (f *fakeInput) Location() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.x, f.y
}
func (f *fakeInput) ScreenSize() (int, int) { return 64, 48 }
func (f *fakeInput) SetPause(d time.Duration) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	old := f.pause
	f.pause = input.ClampPause(d)
	return old
}
func (f *fakeInput) Pause() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pause
}

type memClipboard struct {
	text string
	err  error
}

func (c *memClipboard) Read() (string, error) { return c.text, c.err }
func (c *memClipboard) Write(text string) error {
	if c.err != nil {
		return c.err
	}
	c.text = text
	return nil
}

func newTestServer(pool *worker.Pool) (*Server, *fakeInput, *memClipboard, *desktop.Commander) {
	in := &fakeInput{pause: input.DefaultPause}
	clip := &memClipboard{}
	table := &ocr.Table{Rows: []ocr.Row{
		{Text: "Submit", Conf: ocr.Confidence{Value: 92, Valid: true}, Left: 10, Top: 10, Width: 50, Height: 20},
		{Text: "sub", Conf: ocr.Confidence{Value: 20, Valid: true}, Left: 200, Top: 200, Width: 30, Height: 15},
	}}
	cmd := desktop.New(screenStub{}, desktop.Options{Engine: engineStub{table: table}, Pointer: in})
	return NewServer(Options{Commander: cmd, Input: in, Clipboard: clip, Pool: pool}), in, clip, cmd
}

func call(t *testing.T, s *Server, tool string, args string) *ToolResult {
	t.Helper()
	params := `{"name":"` + tool + `","arguments":` + args + `}`
	resp := s.Handle(context.Background(), &Message{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "tools/call", Params: json.RawMessage(params)})
	if resp == nil || resp.Error != nil {
		t.Fatalf("tools/call %s failed: %+v", tool, resp)
	}
	var result ToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	return &result
}

func decodeText(t *testing.T, r *ToolResult) map[string]interface{} {
	t.Helper()
	if len(r.Content) == 0 {
		t.Fatal("Empty tool result")
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(r.Content[len(r.Content)-1].Text), &out); err != nil {
		t.Fatalf("decode text content %q: %v", r.Content[0].Text, err)
	}
	return out
}

func TestInitializeAndList(t *testing.T) {
	s, _, _, _ := newTestServer(nil)

	resp := s.Handle(context.Background(), &Message{JSONRPC: "2.0", ID: json.RawMessage(`"a"`), Method: "initialize"})
	if resp.Error != nil || !strings.Contains(string(resp.Result), ProtocolVersion) {
		t.Fatalf("Unexpected initialize response %s", resp.Result)
	}
	if string(resp.ID) != `"a"` {
		t.Errorf("Response id mismatch: %s", resp.ID)
	}

	if s.Handle(context.Background(), &Message{JSONRPC: "2.0", Method: "notifications/initialized"}) != nil {
		t.Error("Notifications must not be answered")
	}

	resp = s.Handle(context.Background(), &Message{JSONRPC: "2.0", ID: json.RawMessage(`2`), Method: "tools/list"})
	var list struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &list); err != nil {
		t.Fatalf("decode tools/list: %v", err)
	}
	want := []string{"get_screen", "analyze_screen", "use_mouse", "use_keyboard", "get_screen_info", "set_speed", "clipboard"}
	if len(list.Tools) != len(want) {
		t.Fatalf("Expected %d tools, got %d", len(want), len(list.Tools))
	}
	for i, name := range want {
		if list.Tools[i].Name != name {
			t.Errorf("Tool %d: expected %s, got %s", i, name, list.Tools[i].Name)
		}
	}
}

func TestUnknownMethodAndTool(t *testing.T) {
	s, _, _, _ := newTestServer(nil)

	resp := s.Handle(context.Background(), &Message{JSONRPC: "2.0", ID: json.RawMessage(`3`), Method: "bogus"})
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Errorf("Expected method not found, got %+v", resp)
	}

	resp = s.Handle(context.Background(), &Message{JSONRPC: "2.0", ID: json.RawMessage(`4`), Method: "tools/call", Params: json.RawMessage(`{"name":"nope"}`)})
	if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Errorf("Expected invalid params, got %+v", resp)
	}

	resp = s.Handle(context.Background(), &Message{ID: json.RawMessage(`5`), Method: "ping"})
	if resp.Error == nil || resp.Error.Code != CodeInvalidRequest {
		t.Errorf("Expected invalid request without jsonrpc version, got %+v", resp)
	}
}

func TestAnalyzeScreenTool(t *testing.T) {
	s, _, _, _ := newTestServer(nil)

	res := call(t, s, "analyze_screen", `{"find_text":"sub","confidence":0.3}`)
	if res.IsError {
		t.Fatalf("Unexpected error: %+v", res)
	}
	out := decodeText(t, res)
	elements := out["elements"].([]interface{})
	if len(elements) != 1 {
		t.Fatalf("Expected one element above 0.3, got %v", elements)
	}
	el := elements[0].(map[string]interface{})
	if el["text"] != "Submit" || el["x"].(float64) != 35 || el["y"].(float64) != 20 {
		t.Errorf("Unexpected element %v", el)
	}

	res = call(t, s, "analyze_screen", `{"confidence":1.5}`)
	if !res.IsError {
		t.Error("Out-of-range confidence should be rejected")
	}
}

func TestGetScreenTool(t *testing.T) {
	s, _, _, _ := newTestServer(nil)

	res := call(t, s, "get_screen", `{"region":{"x":1,"y":2,"width":10,"height":8}}`)
	if res.IsError || len(res.Content) != 2 {
		t.Fatalf("Unexpected result %+v", res)
	}
	if res.Content[0].Type != "image" || res.Content[0].MIMEType != "image/jpeg" || res.Content[0].Data == "" {
		t.Errorf("Unexpected image content %+v", res.Content[0])
	}
	meta := decodeText(t, res)
	if meta["width"].(float64) != 10 || meta["height"].(float64) != 8 {
		t.Errorf("Unexpected metadata %v", meta)
	}

	res = call(t, s, "get_screen", `{"region":{"x":1,"y":2}}`)
	if !res.IsError || !strings.Contains(res.Content[0].Text, "region must have keys: x, y, width, height") {
		t.Errorf("Expected region error, got %+v", res)
	}
}

func TestUseMouseValidationAndInvalidation(t *testing.T) {
	s, in, _, cmd := newTestServer(nil)

	for _, args := range []string{
		`{"action":"move","x":5}`,
		`{"action":"drag","x":1,"y":1}`,
		`{"action":"scroll"}`,
		`{"action":"wiggle"}`,
		`{"action":"click","button":"thumb"}`,
	} {
		if res := call(t, s, "use_mouse", args); !res.IsError {
			t.Errorf("Expected error for %s", args)
		}
	}
	if len(in.actions) != 0 {
		t.Errorf("Invalid calls must not act, got %v", in.actions)
	}

	if _, err := cmd.Observe(nil, 50, ""); err != nil {
		t.Fatalf("Observe failed: %v", err)
	}
	res := call(t, s, "use_mouse", `{"action":"click","x":30,"y":40,"button":"right"}`)
	if res.IsError {
		t.Fatalf("Click failed: %+v", res)
	}
	out := decodeText(t, res)
	mouse := out["mouse"].(map[string]interface{})
	if mouse["x"].(float64) != 30 || mouse["y"].(float64) != 40 || out["button"] != "right" {
		t.Errorf("Unexpected click result %v", out)
	}
	if _, ok := cmd.CacheAgeMs(); ok {
		t.Error("Input actions should invalidate the frame cache")
	}

	res = call(t, s, "use_mouse", `{"action":"drag","x":1,"y":2,"end_x":9,"end_y":8}`)
	out = decodeText(t, res)
	if res.IsError || out["end"].(map[string]interface{})["x"].(float64) != 9 {
		t.Errorf("Unexpected drag result %v", out)
	}
}

func TestUseKeyboardTool(t *testing.T) {
	s, in, _, _ := newTestServer(nil)

	if res := call(t, s, "use_keyboard", `{"action":"type"}`); !res.IsError {
		t.Error("type without text should fail")
	}
	if res := call(t, s, "use_keyboard", `{"action":"hotkey","keys":[]}`); !res.IsError {
		t.Error("hotkey without keys should fail")
	}

	out := decodeText(t, call(t, s, "use_keyboard", `{"action":"type","text":"héllo"}`))
	if out["characters"].(float64) != 5 {
		t.Errorf("Expected 5 characters, got %v", out["characters"])
	}
	out = decodeText(t, call(t, s, "use_keyboard", `{"action":"hotkey","keys":["ctrl","c"]}`))
	if out["combo"] != "ctrl+c" {
		t.Errorf("Expected combo ctrl+c, got %v", out["combo"])
	}
	if len(in.actions) != 2 {
		t.Errorf("Expected two actions, got %v", in.actions)
	}
}

func TestSetSpeedAndInfo(t *testing.T) {
	s, _, _, _ := newTestServer(nil)

	out := decodeText(t, call(t, s, "set_speed", `{"pause_ms":5000}`))
	if out["old_pause_ms"].(float64) != 50 || out["new_pause_ms"].(float64) != 500 {
		t.Errorf("Unexpected set_speed result %v", out)
	}

	info := decodeText(t, call(t, s, "get_screen_info", `{}`))
	if info["pause_ms"].(float64) != 500 || info["cache_age_ms"] != nil {
		t.Errorf("Unexpected info %v", info)
	}
	if _, ok := info["cache"].(map[string]interface{})["captures"]; !ok {
		t.Errorf("Expected cache stats in %v", info)
	}
}

func TestClipboardTool(t *testing.T) {
	s, _, clip, _ := newTestServer(nil)

	if res := call(t, s, "clipboard", `{"action":"write"}`); !res.IsError {
		t.Error("write without text should fail")
	}
	call(t, s, "clipboard", `{"action":"write","text":"copied"}`)
	out := decodeText(t, call(t, s, "clipboard", `{"action":"read"}`))
	if out["text"] != "copied" {
		t.Errorf("Expected clipboard text, got %v", out)
	}

	clip.err = errors.New("no display")
	if res := call(t, s, "clipboard", `{"action":"read"}`); !res.IsError {
		t.Error("Clipboard failure should surface as a tool error")
	}
}

func TestResourceRead(t *testing.T) {
	s, in, _, _ := newTestServer(nil)
	in.x, in.y = 3, 4

	resp := s.Handle(context.Background(), &Message{JSONRPC: "2.0", ID: json.RawMessage(`7`), Method: "resources/read", Params: json.RawMessage(`{"uri":"screen://info"}`)})
	if resp.Error != nil || !strings.Contains(string(resp.Result), "Screen: 64x48, Mouse: (3, 4)") {
		t.Errorf("Unexpected resource response %s", resp.Result)
	}
}

func TestDispatchBusy(t *testing.T) {
	pool := worker.New(1, 1)
	s, in, _, _ := newTestServer(pool)
	in.block = make(chan struct{})
	in.entered = make(chan struct{}, 4)

	replies := make(chan *Message, 3)
	reply := func(m *Message) { replies <- m }
	move := func(id string) *Message {
		return &Message{JSONRPC: "2.0", ID: json.RawMessage(id), Method: "tools/call",
			Params: json.RawMessage(`{"name":"use_mouse","arguments":{"action":"move","x":1,"y":1}}`)}
	}

	s.Dispatch(context.Background(), move("1"), reply)
	<-in.entered
	s.Dispatch(context.Background(), move("2"), reply)
	s.Dispatch(context.Background(), move("3"), reply)

	busy := <-replies
	if busy.Error == nil || busy.Error.Code != CodeServerBusy || string(busy.ID) != "3" {
		t.Fatalf("Expected busy error for request 3, got %+v", busy)
	}

	close(in.block)
	for i := 0; i < 2; i++ {
		if m := <-replies; m.Error != nil {
			t.Errorf("Unexpected error %+v", m.Error)
		}
	}
	pool.Close()
}

func TestStdioServe(t *testing.T) {
	s, _, _, _ := newTestServer(nil)
	in := strings.NewReader(strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		``,
		`not json`,
		`{"jsonrpc":"2.0","id":2,"method":"ping"}`,
	}, "\n"))
	var out bytes.Buffer

	if err := NewStdioTransport(in, &out).Serve(context.Background(), s); err != nil {
		t.Fatalf("Serve failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected 3 responses, got %d: %q", len(lines), out.String())
	}
	if !strings.Contains(lines[1], `"id":null`) || !strings.Contains(lines[1], `"code":-32700`) {
		t.Errorf("Expected parse error with null id, got %s", lines[1])
	}
	if !strings.Contains(lines[2], `"id":2`) {
		t.Errorf("Expected ping response, got %s", lines[2])
	}
}

func TestHTTPTransport(t *testing.T) {
	s, _, _, _ := newTestServer(nil)
	srv := httptest.NewServer(NewHTTPTransport("").Handler(s))
	defer srv.Close()

	post := func(body, session string) *http.Response {
		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/mcp", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if session != "" {
			req.Header.Set(SessionHeader, session)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("POST failed: %v", err)
		}
		return resp
	}

	resp := post(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`, "")
	session := resp.Header.Get(SessionHeader)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || session == "" {
		t.Fatalf("Expected session on initialize, got %d %q", resp.StatusCode, session)
	}

	resp = post(`{"jsonrpc":"2.0","method":"notifications/initialized"}`, session)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("Expected 202 for notification, got %d", resp.StatusCode)
	}

	resp = post(`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"get_screen_info","arguments":{}}}`, session)
	var msg Message
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if msg.Error != nil || !strings.Contains(string(msg.Result), "screen") {
		t.Errorf("Unexpected tools/call response %+v", msg)
	}

	resp = post(`{"jsonrpc":"2.0","id":3,"method":"ping"}`, "not-a-session")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown session, got %d", resp.StatusCode)
	}

	getResp, err := http.Get(srv.URL + "/mcp")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	getResp.Body.Close()
	if getResp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for GET, got %d", getResp.StatusCode)
	}
}

type panicGrabber struct{}

func (panicGrabber) Grab(region *screenshot.Region) (*image.RGBA, error) {
	panic("display backend crashed")
}

func TestDispatchRepliesAfterPanic(t *testing.T) {
	for _, pooled := range []bool{false, true} {
		var pool *worker.Pool
		if pooled {
			pool = worker.New(1, 1)
		}
		cmd := desktop.New(panicGrabber{}, desktop.Options{Pointer: &fakeInput{}})
		s := NewServer(Options{Commander: cmd, Pool: pool})

		replies := make(chan *Message, 1)
		s.Dispatch(context.Background(), &Message{JSONRPC: "2.0", ID: json.RawMessage(`9`), Method: "tools/call",
			Params: json.RawMessage(`{"name":"get_screen","arguments":{}}`)}, func(m *Message) { replies <- m })

		select {
		case m := <-replies:
			if m == nil || m.Error == nil || m.Error.Code != CodeInternalError || string(m.ID) != "9" {
				t.Errorf("pooled=%v: expected internal error for request 9, got %+v", pooled, m)
			}
		case <-time.After(2 * time.Second):
			t.Errorf("pooled=%v: no reply after a panicking tool call", pooled)
		}
		if pool != nil {
			pool.Close()
		}
	}
}

type failingReader struct{ reads atomic.Int32 }

func (r *failingReader) Read(p []byte) (int, error) {
	r.reads.Add(1)
	return 0, errors.New("pipe broken")
}

func TestStdioServeStopsReadingAfterError(t *testing.T) {
	s, _, _, _ := newTestServer(nil)
	in := &failingReader{}

	err := NewStdioTransport(in, &bytes.Buffer{}).Serve(context.Background(), s)
	if err == nil || !strings.Contains(err.Error(), "pipe broken") {
		t.Fatalf("Expected read error, got %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if n := in.reads.Load(); n != 1 {
		t.Errorf("Reader kept reading after Serve returned: %d reads", n)
	}
}
