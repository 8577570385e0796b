package template

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"log"
	"os"

	"gocv.io/x/gocv"

	"desktop-commander/src/apperr"
)

// ErrNotFound is returned when no location reaches the requested confidence.
var ErrNotFound = errors.New("template not found on screen")

const (
	DefaultConfidence = 0.8
	defaultMaxMatches = 100
)

// Matcher locates a template image inside a larger image.
type Matcher interface {
	Locate(img image.Image, templatePath string, confidence float64, grayscale bool) ([]image.Rectangle, error)
}

// CV matches with normalized cross-correlation via OpenCV.
type CV struct {
	MaxMatches int
}

// NewCV returns an OpenCV-backed matcher.
func NewCV() *CV {
	return &CV{MaxMatches: defaultMaxMatches}
}

// Locate returns every non-overlapping location whose correlation score is at
// least confidence, in scan order of decreasing score. It returns ErrNotFound
// when there is none.
func (m *CV) Locate(img image.Image, templatePath string, confidence float64, grayscale bool) ([]image.Rectangle, error) {
	if _, err := os.Stat(templatePath); err != nil {
		return nil, apperr.Invalid("find_image", "template image %s not readable: %v", templatePath, err)
	}

	readFlag := gocv.IMReadColor
	if grayscale {
		readFlag = gocv.IMReadGrayScale
	}
	templ := gocv.IMRead(templatePath, readFlag)
	if templ.Empty() {
		return nil, apperr.Invalid("find_image", "template image %s could not be decoded", templatePath)
	}
	defer templ.Close()

	rgba, err := gocv.ImageToMatRGBA(img)
	if err != nil {
		return nil, fmt.Errorf("failed to convert screen image: %w", err)
	}
	defer rgba.Close()

	screen := gocv.NewMat()
	defer screen.Close()
	if grayscale {
		gocv.CvtColor(rgba, &screen, gocv.ColorRGBAToGray)
	} else {
		gocv.CvtColor(rgba, &screen, gocv.ColorRGBAToBGR)
	}

	if templ.Cols() > screen.Cols() || templ.Rows() > screen.Rows() {
		return nil, ErrNotFound
	}

	result := gocv.NewMat()
	defer result.Close()
	mask := gocv.NewMat()
	defer mask.Close()
	gocv.MatchTemplate(screen, templ, &result, gocv.TmCcoeffNormed, mask)

	limit := m.MaxMatches
	if limit <= 0 {
		limit = defaultMaxMatches
	}

	w, h := templ.Cols(), templ.Rows()
	var found []image.Rectangle
	for len(found) < limit {
		_, maxVal, _, maxLoc := gocv.MinMaxLoc(result)
		if float64(maxVal) < confidence {
			break
		}
		found = append(found, image.Rect(maxLoc.X, maxLoc.Y, maxLoc.X+w, maxLoc.Y+h))

		// Suppress every origin whose box would overlap this hit.
		suppress := image.Rect(maxLoc.X-w+1, maxLoc.Y-h+1, maxLoc.X+w, maxLoc.Y+h)
		gocv.Rectangle(&result, suppress, color.RGBA{}, -1)
	}

	if len(found) == 0 {
		return nil, ErrNotFound
	}
	log.Printf("Template: %s matched %d location(s) at confidence>=%.2f", templatePath, len(found), confidence)
	return found, nil
}
