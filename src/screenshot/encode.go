package screenshot

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"strings"
)

const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"

	// DefaultQuality is the JPEG quality used when the caller passes none.
	DefaultQuality = 50
)

// Encode compresses img as JPEG or PNG and returns the bytes with the
// normalized format tag. Quality only applies to JPEG and is clamped to 1-100.
func Encode(img image.Image, format string, quality int) ([]byte, string, error) {
	var buf bytes.Buffer

	switch normalizeFormat(format) {
	case FormatPNG:
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, "", fmt.Errorf("failed to encode image as PNG: %w", err)
		}
		return buf.Bytes(), FormatPNG, nil
	case FormatJPEG:
		if quality <= 0 {
			quality = DefaultQuality
		}
		if quality > 100 {
			quality = 100
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, "", fmt.Errorf("failed to encode image as JPEG: %w", err)
		}
		return buf.Bytes(), FormatJPEG, nil
	default:
		return nil, "", fmt.Errorf("unsupported image format: %q", format)
	}
}

// MIMEType returns the media type for a format tag.
func MIMEType(format string) string {
	if normalizeFormat(format) == FormatPNG {
		return "image/png"
	}
	return "image/jpeg"
}

func normalizeFormat(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "jpeg", "jpg":
		return FormatJPEG
	case "png":
		return FormatPNG
	default:
		return format
	}
}
