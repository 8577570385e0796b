package input

import (
	"strings"

	"desktop-commander/src/apperr"
)

// keyAliases maps common key spellings onto robotgo key names.
var keyAliases = map[string]string{
	"escape":     "esc",
	"return":     "enter",
	"del":        "delete",
	"pgup":       "pageup",
	"pgdn":       "pagedown",
	"page_up":    "pageup",
	"page_down":  "pagedown",
	"control":    "ctrl",
	"option":     "alt",
	"win":        "cmd",
	"super":      "cmd",
	"meta":       "cmd",
	"command":    "cmd",
	"arrowup":    "up",
	"arrowdown":  "down",
	"arrowleft":  "left",
	"arrowright": "right",
	"spacebar":   "space",
}

var modifierKeys = map[string]bool{
	"ctrl":  true,
	"alt":   true,
	"shift": true,
	"cmd":   true,
}

// NormalizeKey lowercases key and resolves aliases.
func NormalizeKey(key string) string {
	k := strings.ToLower(strings.TrimSpace(key))
	if alias, ok := keyAliases[k]; ok {
		return alias
	}
	return k
}

// SplitHotkey turns ["ctrl", "shift", "t"] into the tapped key "t" and its
// modifiers. The tapped key is the last non-modifier; a combination made only
// of modifiers taps the last one.
func SplitHotkey(keys []string) (string, []string, error) {
	var norm []string
	for _, k := range keys {
		if n := NormalizeKey(k); n != "" {
			norm = append(norm, n)
		}
	}
	if len(norm) == 0 {
		return "", nil, apperr.Invalid("use_keyboard", "hotkey action requires keys parameter")
	}

	tap := len(norm) - 1
	for i := len(norm) - 1; i >= 0; i-- {
		if !modifierKeys[norm[i]] {
			tap = i
			break
		}
	}

	mods := make([]string, 0, len(norm)-1)
	for i, k := range norm {
		if i != tap {
			mods = append(mods, k)
		}
	}
	return norm[tap], mods, nil
}
