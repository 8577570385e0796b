package logutil

import (
	"bytes"
	"log"
	"os"
	"strings"
	"testing"
)

func TestSetupToFallback(t *testing.T) {
	defer log.SetOutput(os.Stderr)

	var buf bytes.Buffer
	SetupTo(false, &buf)
	log.Printf("Pipeline: hello")
	if !strings.Contains(buf.String(), "Pipeline: hello") {
		t.Errorf("Expected log line in fallback writer, got %q", buf.String())
	}
}

func TestArchiveName(t *testing.T) {
	if got := archiveName(2); !strings.HasSuffix(got, "desktop_commander.log.2") {
		t.Errorf("Unexpected archive name %q", got)
	}
}
