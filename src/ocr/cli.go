package ocr

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"desktop-commander/src/apperr"
)

var fallbackTesseractPaths = []string{
	"/usr/bin/tesseract",
	"/usr/local/bin/tesseract",
}

// CLI runs the tesseract binary and parses its TSV output.
type CLI struct {
	path string
}

// NewCLI resolves the tesseract binary, preferring explicitCmd when it exists.
func NewCLI(explicitCmd string) (*CLI, error) {
	path, err := ResolveTesseractCmd(explicitCmd)
	if err != nil {
		return nil, err
	}
	return &CLI{path: path}, nil
}

// Path returns the resolved binary.
func (c *CLI) Path() string { return c.path }

// ResolveTesseractCmd finds a usable tesseract binary. The explicit command
// wins when it exists, then PATH, then common install locations.
func ResolveTesseractCmd(explicitCmd string) (string, error) {
	if explicitCmd = strings.TrimSpace(explicitCmd); explicitCmd != "" {
		if _, err := os.Stat(explicitCmd); err == nil {
			return explicitCmd, nil
		}
		log.Printf("OCR: TESSERACT_CMD %s not found, searching PATH", explicitCmd)
	}
	if resolved, err := exec.LookPath("tesseract"); err == nil {
		return resolved, nil
	}
	for _, candidate := range fallbackTesseractPaths {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", apperr.Unavailable("ocr",
		"Tesseract binary not found. Install tesseract-ocr or set TESSERACT_CMD to the binary path", nil)
}

// Recognize implements Engine.
func (c *CLI) Recognize(img image.Image, lang string, pageSegMode int) (*Table, error) {
	startTime := time.Now()

	var input bytes.Buffer
	if err := png.Encode(&input, img); err != nil {
		return nil, fmt.Errorf("failed to encode image for OCR: %w", err)
	}
	if lang == "" {
		lang = DefaultLanguage
	}

	cmd := exec.Command(c.path, "stdin", "stdout", "-l", lang, "--psm", strconv.Itoa(pageSegMode), "tsv")
	cmd.Stdin = &input
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("tesseract failed: %w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil, apperr.Unavailable("ocr", "failed to run "+c.path, err)
	}

	table, err := ParseTSV(&stdout)
	if err != nil {
		return nil, err
	}
	log.Printf("OCR: tesseract CLI produced %d rows in %v", table.Len(), time.Since(startTime))
	return table, nil
}

// ParseTSV reads tesseract's TSV output. Rows keep engine order; a
// non-numeric conf column becomes an invalid Confidence, and a malformed
// geometry column becomes zero.
func ParseTSV(r io.Reader) (*Table, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read TSV header: %w", err)
		}
		return &Table{}, nil
	}

	columns := map[string]int{}
	for i, name := range strings.Split(strings.TrimRight(scanner.Text(), "\r"), "\t") {
		columns[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{"left", "top", "width", "height", "conf", "text"} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("TSV header missing column %q", required)
		}
	}

	table := &Table{}
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		field := func(name string) string {
			if idx := columns[name]; idx < len(fields) {
				return fields[idx]
			}
			return ""
		}
		table.Rows = append(table.Rows, Row{
			Text:   field("text"),
			Conf:   ParseConfidence(field("conf")),
			Left:   atoi(field("left")),
			Top:    atoi(field("top")),
			Width:  atoi(field("width")),
			Height: atoi(field("height")),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read TSV: %w", err)
	}
	return table, nil
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}
