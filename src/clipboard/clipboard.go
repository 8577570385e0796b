package clipboard

import (
	"fmt"
	"sync"

	"golang.design/x/clipboard"
)

var (
	initOnce sync.Once
	initErr  error
	mu       sync.Mutex
)

// Init prepares the system clipboard. It is safe to call more than once;
// Read and Write call it themselves.
func Init() error {
	initOnce.Do(func() {
		initErr = clipboard.Init()
	})
	return initErr
}

// Write performs a mutex-guarded clipboard write to prevent corruption under parallel writes.
func Write(text string) error {
	if err := Init(); err != nil {
		return fmt.Errorf("clipboard unavailable: %w", err)
	}
	mu.Lock()
	defer mu.Unlock()
	clipboard.Write(clipboard.FmtText, []byte(text))
	return nil
}

// Read returns the clipboard text, or "" when it holds no text.
func Read() (string, error) {
	if err := Init(); err != nil {
		return "", fmt.Errorf("clipboard unavailable: %w", err)
	}
	mu.Lock()
	defer mu.Unlock()
	return string(clipboard.Read(clipboard.FmtText)), nil
}

// System adapts the package functions to an interface value.
type System struct{}

func (System) Read() (string, error) { return Read() }
func (System) Write(text string) error { return Write(text) }
