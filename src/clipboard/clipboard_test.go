package clipboard

import (
	"testing"
)

func TestWriteThenRead(t *testing.T) {
	// Needs a display; headless runs only log.
	if err := Write("desktop-commander test"); err != nil {
		t.Logf("Failed to write to clipboard: %v", err)
		return
	}
	got, err := Read()
	if err != nil {
		t.Logf("Failed to read clipboard: %v", err)
		return
	}
	if got != "desktop-commander test" {
		t.Logf("Clipboard returned %q (another process may own it)", got)
	}
}
