package hotkey

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	gohook "github.com/robotn/gohook"
)

// Listen registers a global hotkey (e.g. "Ctrl+Alt+Shift+Q") and calls
// callback the first time it is pressed. The hook is torn down when ctx is
// done.
func Listen(ctx context.Context, hotkeyConfig string, callback func()) error {
	keys := parseHotkey(hotkeyConfig)
	if len(keys) == 0 {
		return fmt.Errorf("no keys in hotkey configuration %q", hotkeyConfig)
	}
	if callback == nil {
		return fmt.Errorf("hotkey %q has no callback", hotkeyConfig)
	}
	log.Printf("Hotkey: parsed %q as %v", hotkeyConfig, keys)

	var once sync.Once
	gohook.Register(gohook.KeyDown, keys, func(ev gohook.Event) {
		log.Printf("Hotkey: %s pressed", hotkeyConfig)
		once.Do(callback)
	})

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("PANIC in hotkey goroutine: %v", r)
			}
		}()

		evChan := gohook.Start()
		if evChan == nil {
			log.Printf("Hotkey: gohook.Start() returned nil channel")
			return
		}
		select {
		case <-gohook.Process(evChan):
		case <-ctx.Done():
			gohook.End()
		}
		log.Printf("Hotkey: listener for %s stopped", hotkeyConfig)
	}()
	return nil
}

// parseHotkey converts a hotkey string like "Ctrl+Alt+q" to gohook key names.
func parseHotkey(hotkeyConfig string) []string {
	parts := strings.Split(strings.ToLower(hotkeyConfig), "+")
	var keys []string

	for _, part := range parts {
		part = strings.TrimSpace(part)
		switch part {
		case "":
			continue
		case "ctrl", "control":
			keys = append(keys, "ctrl")
		case "alt", "option":
			keys = append(keys, "alt")
		case "shift":
			keys = append(keys, "shift")
		case "win", "cmd", "super", "meta":
			keys = append(keys, "cmd")
		case "escape":
			keys = append(keys, "esc")
		default:
			keys = append(keys, part)
		}
	}

	return keys
}
