package ocr

import (
	"fmt"
	"image"
	"strconv"
	"strings"
)

const (
	DefaultLanguage    = "eng"
	DefaultPageSegMode = 3 // fully automatic page segmentation

	EngineGosseract = "gosseract"
	EngineCLI       = "cli"
)

// Confidence is a per-token engine score on the 0-100 scale. Valid is false
// when the engine reported something that is not a number.
type Confidence struct {
	Value float64
	Valid bool
}

// ParseConfidence parses an engine confidence string. Unparseable input
// yields an invalid Confidence rather than an error.
func ParseConfidence(s string) Confidence {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return Confidence{}
	}
	return Confidence{Value: v, Valid: true}
}

// Score maps the confidence to [0,1]. Invalid and negative values score 0.
func (c Confidence) Score() float64 {
	if !c.Valid || c.Value <= 0 {
		return 0
	}
	s := c.Value / 100
	if s > 1 {
		return 1
	}
	return s
}

// Row is one recognized token with its box in image pixel space.
type Row struct {
	Text   string
	Conf   Confidence
	Left   int
	Top    int
	Width  int
	Height int
}

// Table is the unprocessed per-token output of one OCR pass.
type Table struct {
	Rows []Row
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Engine turns a raster image into a token table.
type Engine interface {
	Recognize(img image.Image, lang string, pageSegMode int) (*Table, error)
}

// Options selects and configures an engine.
type Options struct {
	Engine       string
	TesseractCmd string
}

// New returns the engine named by opts.Engine. The CLI engine resolves its
// binary eagerly so a missing tesseract surfaces at startup.
func New(opts Options) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Engine)) {
	case "", EngineGosseract:
		return NewTesseract(), nil
	case EngineCLI:
		cli, err := NewCLI(opts.TesseractCmd)
		if err != nil {
			return nil, err
		}
		return cli, nil
	default:
		return nil, fmt.Errorf("unknown OCR engine %q (must be %q or %q)", opts.Engine, EngineGosseract, EngineCLI)
	}
}
