package ocr

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"log"
	"time"

	"github.com/otiai10/gosseract/v2"

	"desktop-commander/src/apperr"
)

// Tesseract runs OCR in-process through libtesseract.
type Tesseract struct{}

// NewTesseract returns the gosseract-backed engine.
func NewTesseract() *Tesseract {
	return &Tesseract{}
}

// Recognize implements Engine. A fresh client is used per call since
// gosseract clients are not safe for concurrent use.
func (t *Tesseract) Recognize(img image.Image, lang string, pageSegMode int) (*Table, error) {
	startTime := time.Now()

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode image for OCR: %w", err)
	}

	client := gosseract.NewClient()
	defer client.Close()

	if lang == "" {
		lang = DefaultLanguage
	}
	if err := client.SetLanguage(lang); err != nil {
		return nil, apperr.Unavailable("ocr", "failed to set tesseract language "+lang, err)
	}
	if err := client.SetPageSegMode(gosseract.PageSegMode(pageSegMode)); err != nil {
		return nil, fmt.Errorf("failed to set page segmentation mode %d: %w", pageSegMode, err)
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, apperr.Unavailable("ocr", "tesseract OCR failed", err)
	}

	table := &Table{Rows: make([]Row, 0, len(boxes))}
	for _, b := range boxes {
		table.Rows = append(table.Rows, Row{
			Text:   b.Word,
			Conf:   Confidence{Value: b.Confidence, Valid: true},
			Left:   b.Box.Min.X,
			Top:    b.Box.Min.Y,
			Width:  b.Box.Dx(),
			Height: b.Box.Dy(),
		})
	}

	log.Printf("OCR: gosseract recognized %d words in %v", len(table.Rows), time.Since(startTime))
	return table, nil
}
