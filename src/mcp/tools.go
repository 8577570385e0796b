package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"desktop-commander/src/apperr"
	"desktop-commander/src/desktop"
	"desktop-commander/src/input"
	"desktop-commander/src/screenshot"
)

const defaultDragDuration = 300 * time.Millisecond

func (s *Server) registerTools() {
	s.register(&Tool{
		Name:        "get_screen",
		Description: "Capture a screenshot of the screen, or of a region, as a JPEG image with screen and mouse metadata.",
		InputSchema: object(map[string]interface{}{
			"region":  prop("object", "Capture region only: {x, y, width, height}. Omit for fullscreen."),
			"quality": prop("integer", "JPEG quality 1-100. Lower is smaller. Default 50."),
		}),
		Handler: s.getScreen,
	})
	s.register(&Tool{
		Name:        "analyze_screen",
		Description: "Find text (OCR) or a template image on screen. Returns matching elements with clickable x,y centers, best first. With no query, lists all recognized text.",
		InputSchema: object(map[string]interface{}{
			"find_text":  prop("string", "Search for elements containing this text (case-insensitive)."),
			"find_image": prop("string", "Path to a template image to locate on screen."),
			"confidence": prop("number", "Minimum confidence 0.0-1.0. Default 0.4 for text, 0.8 for images."),
			"use_cache":  prop("boolean", "Reuse OCR data from a screen captured in the last 500ms. Default true."),
		}),
		Handler: s.analyzeScreen,
	})
	s.register(&Tool{
		Name:        "use_mouse",
		Description: "Click, move, drag or scroll the mouse. Returns the final mouse position.",
		InputSchema: object(map[string]interface{}{
			"action":   enumProp("Mouse action", "click", "move", "drag", "scroll"),
			"x":        prop("integer", "Target X coordinate (required for move and drag)."),
			"y":        prop("integer", "Target Y coordinate (required for move and drag)."),
			"button":   enumProp("Mouse button for click/drag", "left", "right", "middle"),
			"clicks":   prop("integer", "Number of clicks (2 for double-click). Default 1."),
			"end_x":    prop("integer", "Drag end X (drag only)."),
			"end_y":    prop("integer", "Drag end Y (drag only)."),
			"amount":   prop("integer", "Scroll amount: positive up, negative down (scroll only)."),
			"duration": prop("number", "Movement duration in seconds (0 = instant)."),
		}, "action"),
		Handler: s.useMouse,
	})
	s.register(&Tool{
		Name:        "use_keyboard",
		Description: "Type text, press a key, or press a key combination.",
		InputSchema: object(map[string]interface{}{
			"action":   enumProp("Keyboard action", "type", "press", "hotkey"),
			"text":     prop("string", "Text to type (type only)."),
			"key":      prop("string", "Key to press: enter, tab, escape, backspace, up, f1, ... (press only)."),
			"keys":     map[string]interface{}{"type": "array", "items": map[string]string{"type": "string"}, "description": "Key combination, e.g. [\"ctrl\", \"c\"] (hotkey only)."},
			"presses":  prop("integer", "Times to press the key. Default 1."),
			"interval": prop("number", "Delay between keystrokes in seconds. Default 0.05."),
		}, "action"),
		Handler: s.useKeyboard,
	})
	s.register(&Tool{
		Name:        "get_screen_info",
		Description: "Screen size, mouse position and frame cache state, without taking a screenshot.",
		InputSchema: object(map[string]interface{}{}),
		Handler:     s.getScreenInfo,
	})
	s.register(&Tool{
		Name:        "set_speed",
		Description: "Set the pause between input actions in milliseconds (10-500). Lower is faster but may outrun the UI.",
		InputSchema: object(map[string]interface{}{
			"pause_ms": prop("integer", "Pause between actions in milliseconds. Default 50."),
		}),
		Handler: s.setSpeed,
	})
	s.register(&Tool{
		Name:        "clipboard",
		Description: "Read or write clipboard text.",
		InputSchema: object(map[string]interface{}{
			"action": enumProp("Clipboard action", "read", "write"),
			"text":   prop("string", "Text to write (write only)."),
		}, "action"),
		Handler: s.useClipboard,
	})
}

func (s *Server) getScreen(ctx context.Context, raw json.RawMessage) *ToolResult {
	var args struct {
		Region  json.RawMessage `json:"region"`
		Quality *int            `json:"quality"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return toolError("get_screen", err)
	}
	region, err := screenshot.ParseRegion(args.Region)
	if err != nil {
		return toolError("get_screen", err)
	}
	quality := screenshot.DefaultQuality
	if args.Quality != nil {
		if *args.Quality < 1 || *args.Quality > 100 {
			return toolError("get_screen", apperr.Invalid("get_screen", "quality must be between 1 and 100, got %d", *args.Quality))
		}
		quality = *args.Quality
	}

	obs, err := s.commander.Observe(region, quality, screenshot.FormatJPEG)
	if err != nil {
		return toolError("get_screen", err)
	}
	meta, _ := json.Marshal(obs)
	return &ToolResult{Content: []Content{
		{Type: "image", Data: base64.StdEncoding.EncodeToString(obs.Image), MIMEType: screenshot.MIMEType(obs.Format)},
		{Type: "text", Text: string(meta)},
	}}
}

func (s *Server) analyzeScreen(ctx context.Context, raw json.RawMessage) *ToolResult {
	var args struct {
		FindText   string   `json:"find_text"`
		FindImage  string   `json:"find_image"`
		Confidence *float64 `json:"confidence"`
		UseCache   *bool    `json:"use_cache"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return toolError("analyze_screen", err)
	}

	req := desktop.AnalyzeRequest{
		FindText:   args.FindText,
		FindImage:  args.FindImage,
		Confidence: desktop.DefaultAnalyzeConfidence,
		UseCache:   args.UseCache == nil || *args.UseCache,
	}
	switch {
	case args.Confidence != nil:
		if *args.Confidence < 0 || *args.Confidence > 1 {
			return toolError("analyze_screen", apperr.Invalid("analyze_screen", "confidence must be between 0.0 and 1.0, got %v", *args.Confidence))
		}
		req.Confidence = *args.Confidence
	case args.FindImage != "":
		// Zero selects the template default.
		req.Confidence = 0
	}

	res, err := s.commander.Analyze(req)
	if err != nil {
		return toolError("analyze_screen", err)
	}
	return jsonResult(res)
}

func (s *Server) useMouse(ctx context.Context, raw json.RawMessage) *ToolResult {
	var args struct {
		Action   string  `json:"action"`
		X        *int    `json:"x"`
		Y        *int    `json:"y"`
		Button   string  `json:"button"`
		Clicks   *int    `json:"clicks"`
		EndX     *int    `json:"end_x"`
		EndY     *int    `json:"end_y"`
		Amount   *int    `json:"amount"`
		Duration float64 `json:"duration"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return toolError("use_mouse", err)
	}
	if s.input == nil {
		return toolError("use_mouse", apperr.Unavailable("use_mouse", "input control is not available", nil))
	}
	button, err := input.ParseButton(args.Button)
	if err != nil {
		return toolError("use_mouse", err)
	}
	buttonLabel := strings.ToLower(strings.TrimSpace(args.Button))
	if buttonLabel == "" {
		buttonLabel = "left"
	}
	clicks := 1
	if args.Clicks != nil {
		if *args.Clicks < 1 {
			return toolError("use_mouse", apperr.Invalid("use_mouse", "clicks must be at least 1, got %d", *args.Clicks))
		}
		clicks = *args.Clicks
	}
	if args.Duration < 0 {
		return toolError("use_mouse", apperr.Invalid("use_mouse", "duration must not be negative"))
	}
	duration := seconds(args.Duration)
	hasXY := args.X != nil && args.Y != nil

	result := map[string]interface{}{
		"action":    args.Action,
		"success":   true,
		"timestamp": s.timestamp(),
	}

	switch args.Action {
	case "click":
		if hasXY {
			s.input.Move(*args.X, *args.Y, duration)
			result["x"], result["y"] = *args.X, *args.Y
		} else {
			result["x"], result["y"] = s.input.Location()
		}
		s.input.Click(button, clicks, 0)
		result["button"] = buttonLabel
		result["clicks"] = clicks

	case "move":
		if !hasXY {
			return toolError("use_mouse", apperr.Invalid("use_mouse", "move action requires x and y coordinates"))
		}
		s.input.Move(*args.X, *args.Y, duration)
		result["x"], result["y"] = *args.X, *args.Y

	case "drag":
		if !hasXY {
			return toolError("use_mouse", apperr.Invalid("use_mouse", "drag action requires x and y (start position)"))
		}
		if args.EndX == nil || args.EndY == nil {
			return toolError("use_mouse", apperr.Invalid("use_mouse", "drag action requires end_x and end_y (end position)"))
		}
		if duration == 0 {
			duration = defaultDragDuration
		}
		if err := s.input.Drag(*args.X, *args.Y, *args.EndX, *args.EndY, button, duration); err != nil {
			return toolError("use_mouse", err)
		}
		result["start"] = map[string]int{"x": *args.X, "y": *args.Y}
		result["end"] = map[string]int{"x": *args.EndX, "y": *args.EndY}
		result["button"] = buttonLabel

	case "scroll":
		if args.Amount == nil {
			return toolError("use_mouse", apperr.Invalid("use_mouse", "scroll action requires amount parameter"))
		}
		if hasXY {
			s.input.Move(*args.X, *args.Y, 0)
		}
		s.input.Scroll(*args.Amount)
		result["x"], result["y"] = s.input.Location()
		result["amount"] = *args.Amount

	default:
		return toolError("use_mouse", apperr.Invalid("use_mouse", "unknown action: %q", args.Action))
	}

	s.commander.Invalidate()
	mx, my := s.input.Location()
	result["mouse"] = map[string]int{"x": mx, "y": my}
	return jsonResult(result)
}

func (s *Server) useKeyboard(ctx context.Context, raw json.RawMessage) *ToolResult {
	var args struct {
		Action   string   `json:"action"`
		Text     string   `json:"text"`
		Key      string   `json:"key"`
		Keys     []string `json:"keys"`
		Presses  *int     `json:"presses"`
		Interval *float64 `json:"interval"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return toolError("use_keyboard", err)
	}
	if s.input == nil {
		return toolError("use_keyboard", apperr.Unavailable("use_keyboard", "input control is not available", nil))
	}
	interval := 50 * time.Millisecond
	if args.Interval != nil {
		if *args.Interval < 0 {
			return toolError("use_keyboard", apperr.Invalid("use_keyboard", "interval must not be negative"))
		}
		interval = seconds(*args.Interval)
	}

	result := map[string]interface{}{
		"action":    args.Action,
		"success":   true,
		"timestamp": s.timestamp(),
	}

	switch args.Action {
	case "type":
		if args.Text == "" {
			return toolError("use_keyboard", apperr.Invalid("use_keyboard", "type action requires text parameter"))
		}
		s.input.TypeText(args.Text, interval)
		result["text"] = args.Text
		result["characters"] = utf8.RuneCountInString(args.Text)

	case "press":
		if strings.TrimSpace(args.Key) == "" {
			return toolError("use_keyboard", apperr.Invalid("use_keyboard", "press action requires key parameter"))
		}
		presses := 1
		if args.Presses != nil {
			if *args.Presses < 1 {
				return toolError("use_keyboard", apperr.Invalid("use_keyboard", "presses must be at least 1, got %d", *args.Presses))
			}
			presses = *args.Presses
		}
		if err := s.input.PressKey(args.Key, presses, interval); err != nil {
			return toolError("use_keyboard", err)
		}
		result["key"] = args.Key
		result["presses"] = presses

	case "hotkey":
		if len(args.Keys) == 0 {
			return toolError("use_keyboard", apperr.Invalid("use_keyboard", "hotkey action requires keys parameter"))
		}
		if err := s.input.Hotkey(args.Keys); err != nil {
			return toolError("use_keyboard", err)
		}
		result["keys"] = args.Keys
		result["combo"] = strings.Join(args.Keys, "+")

	default:
		return toolError("use_keyboard", apperr.Invalid("use_keyboard", "unknown action: %q", args.Action))
	}

	s.commander.Invalidate()
	return jsonResult(result)
}

func (s *Server) getScreenInfo(ctx context.Context, raw json.RawMessage) *ToolResult {
	info := s.commander.ScreenInfo()
	out := map[string]interface{}{
		"screen":       info.Screen,
		"mouse":        info.Mouse,
		"cache_age_ms": info.CacheAgeMs,
		"cache":        info.Cache,
	}
	if s.input != nil {
		out["pause_ms"] = s.input.Pause().Milliseconds()
	}
	return jsonResult(out)
}

func (s *Server) setSpeed(ctx context.Context, raw json.RawMessage) *ToolResult {
	var args struct {
		PauseMs *int `json:"pause_ms"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return toolError("set_speed", err)
	}
	if s.input == nil {
		return toolError("set_speed", apperr.Unavailable("set_speed", "input control is not available", nil))
	}
	ms := int(input.DefaultPause / time.Millisecond)
	if args.PauseMs != nil {
		ms = *args.PauseMs
	}

	old := s.input.SetPause(time.Duration(ms) * time.Millisecond)
	return jsonResult(map[string]int64{
		"old_pause_ms": old.Milliseconds(),
		"new_pause_ms": s.input.Pause().Milliseconds(),
	})
}

func (s *Server) useClipboard(ctx context.Context, raw json.RawMessage) *ToolResult {
	var args struct {
		Action string  `json:"action"`
		Text   *string `json:"text"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return toolError("clipboard", err)
	}
	if s.clipboard == nil {
		return toolError("clipboard", apperr.Unavailable("clipboard", "clipboard is not available", nil))
	}

	switch args.Action {
	case "read":
		text, err := s.clipboard.Read()
		if err != nil {
			return toolError("clipboard", apperr.Unavailable("clipboard", "read failed", err))
		}
		return jsonResult(map[string]interface{}{"action": "read", "text": text})
	case "write":
		if args.Text == nil {
			return toolError("clipboard", apperr.Invalid("clipboard", "write action requires text parameter"))
		}
		if err := s.clipboard.Write(*args.Text); err != nil {
			return toolError("clipboard", apperr.Unavailable("clipboard", "write failed", err))
		}
		return jsonResult(map[string]interface{}{"action": "write", "characters": utf8.RuneCountInString(*args.Text)})
	default:
		return toolError("clipboard", apperr.Invalid("clipboard", "unknown action: %q", args.Action))
	}
}

func (s *Server) timestamp() float64 {
	return float64(s.now().UnixNano()) / float64(time.Second)
}

func decodeArgs(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperr.Invalid("arguments", "malformed arguments: %v", err)
	}
	return nil
}

func toolError(tool string, err error) *ToolResult {
	log.Printf("MCP: %s failed: %v", tool, err)
	return &ToolResult{
		IsError: true,
		Content: []Content{{Type: "text", Text: fmt.Sprintf("Error in %s: %v", tool, err)}},
	}
}

func jsonResult(v interface{}) *ToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return toolError("encode", err)
	}
	return &ToolResult{Content: []Content{{Type: "text", Text: string(data)}}}
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

func object(props map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func prop(typ, description string) map[string]interface{} {
	return map[string]interface{}{"type": typ, "description": description}
}

func enumProp(description string, values ...string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "enum": values, "description": description}
}
