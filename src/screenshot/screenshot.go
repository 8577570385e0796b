package screenshot

import (
	"fmt"
	"image"

	"github.com/kbinani/screenshot"
)

// Region represents a screen region to capture, in absolute virtual-screen pixels.
type Region struct {
	X      int
	Y      int
	Width  int
	Height int
}

// Rect returns the region as an image.Rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Grabber produces raw screen images. A nil region means the whole screen,
// returned with its bounds at the virtual-screen position (the origin is
// negative when a display sits left of or above the primary). Region images
// may have any origin; the region itself gives their position.
type Grabber interface {
	Grab(region *Region) (*image.RGBA, error)
}

// Screen grabs from the live display.
type Screen struct{}

// Grab implements Grabber.
func (Screen) Grab(region *Region) (*image.RGBA, error) {
	if region == nil {
		return Capture()
	}
	return CaptureRegion(*region)
}

// Capture captures the entire virtual screen across all active displays.
// The image bounds are the union of the display bounds.
func Capture() (*image.RGBA, error) {
	union, err := virtualBounds()
	if err != nil {
		return nil, err
	}
	img, err := screenshot.CaptureRect(union)
	if err != nil {
		return nil, fmt.Errorf("failed to capture screen: %w", err)
	}
	img.Rect = img.Rect.Add(union.Min.Sub(img.Rect.Min))
	return img, nil
}

// CaptureRegion captures a specific region of the screen
func CaptureRegion(region Region) (*image.RGBA, error) {
	if region.Width <= 0 || region.Height <= 0 {
		return nil, fmt.Errorf("invalid region dimensions: width=%d, height=%d", region.Width, region.Height)
	}

	img, err := screenshot.CaptureRect(region.Rect())
	if err != nil {
		return nil, fmt.Errorf("failed to capture region: %w", err)
	}
	return img, nil
}

func virtualBounds() (image.Rectangle, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return image.Rectangle{}, fmt.Errorf("no active displays found")
	}
	union := screenshot.GetDisplayBounds(0)
	for i := 1; i < n; i++ {
		union = union.Union(screenshot.GetDisplayBounds(i))
	}
	return union, nil
}
