package perception

import (
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"desktop-commander/src/ocr"
	"desktop-commander/src/screenshot"
)

// StaleAfter is the maximum age at which a cached frame or its OCR payload
// may be reused. A frame older than this is treated as absent.
const StaleAfter = 500 * time.Millisecond

// CachedFrame is one full-screen capture. Image, Origin, CapturedAt, Width
// and Height never change after construction; the OCR payload is attached at
// most once and only read under the owning cache's lock.
type CachedFrame struct {
	// Image always has a zero origin; Origin is where its top-left pixel
	// sits in screen coordinates.
	Image      *image.RGBA
	Origin     image.Point
	CapturedAt time.Time
	Width      int
	Height     int

	ocr *ocr.Table
}

func (f *CachedFrame) isStale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(f.CapturedAt) > maxAge
}

// CacheStats is a point-in-time snapshot of frame cache activity.
type CacheStats struct {
	Captures    uint64 `json:"captures"`
	Hits        uint64 `json:"hits"`
	OCRAttached uint64 `json:"ocr_attached"`
	OCRDropped  uint64 `json:"ocr_dropped"`
}

// FrameCache holds at most one full-screen frame. Every operation takes one
// mutex for a pointer swap or timestamp comparison; capture runs outside it,
// so racing callers may both capture and the last writer wins.
type FrameCache struct {
	grabber screenshot.Grabber
	now     func() time.Time

	mu    sync.Mutex
	frame *CachedFrame

	captures    atomic.Uint64
	hits        atomic.Uint64
	ocrAttached atomic.Uint64
	ocrDropped  atomic.Uint64
}

// NewFrameCache returns an empty cache capturing through g.
func NewFrameCache(g screenshot.Grabber) *FrameCache {
	return &FrameCache{grabber: g, now: time.Now}
}

// SetClock replaces the time source. Tests use it to step time.
func (c *FrameCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Capture returns a frame. Region captures are always fresh and never stored.
// A full-screen request reuses the stored frame unless force is set or the
// frame is stale; otherwise it captures and replaces the stored frame.
func (c *FrameCache) Capture(region *screenshot.Region, force bool) (*CachedFrame, error) {
	if region == nil && !force {
		if frame, ok := c.GetFresh(StaleAfter); ok {
			c.hits.Add(1)
			return frame, nil
		}
	}

	img, err := c.grabber.Grab(region)
	if err != nil {
		return nil, fmt.Errorf("capture failed: %w", err)
	}
	c.captures.Add(1)

	origin := img.Bounds().Min
	if region != nil {
		origin = image.Pt(region.X, region.Y)
	}
	img = zeroOrigin(img)

	c.mu.Lock()
	defer c.mu.Unlock()

	frame := &CachedFrame{
		Image:      img,
		Origin:     origin,
		CapturedAt: c.now(),
		Width:      img.Bounds().Dx(),
		Height:     img.Bounds().Dy(),
	}
	if region == nil {
		c.frame = frame
	}
	return frame, nil
}

// GetFresh returns the stored frame if its age is at most maxAge. It never
// captures.
func (c *FrameCache) GetFresh(maxAge time.Duration) (*CachedFrame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.frame == nil || c.frame.isStale(c.now(), maxAge) {
		return nil, false
	}
	return c.frame, true
}

// Invalidate discards the stored frame and its OCR payload.
func (c *FrameCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frame = nil
}

// AttachOCR stores table on frame if frame is still the current one and has
// no payload yet. Otherwise the table is dropped. Reports whether it attached.
func (c *FrameCache) AttachOCR(frame *CachedFrame, table *ocr.Table) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if frame == nil || c.frame != frame || frame.ocr != nil {
		c.ocrDropped.Add(1)
		return false
	}
	frame.ocr = table
	c.ocrAttached.Add(1)
	return true
}

// GetCachedOCR returns the payload of the stored frame if the frame is fresh
// and a payload is attached.
func (c *FrameCache) GetCachedOCR() (*ocr.Table, bool) {
	table, _, ok := c.cachedOCR()
	return table, ok
}

// cachedOCR is GetCachedOCR plus the screen origin of the frame the payload
// was recognized on.
func (c *FrameCache) cachedOCR() (*ocr.Table, image.Point, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.frame == nil || c.frame.ocr == nil || c.frame.isStale(c.now(), StaleAfter) {
		return nil, image.Point{}, false
	}
	return c.frame.ocr, c.frame.Origin, true
}

// Age returns how old the stored frame is, regardless of staleness.
func (c *FrameCache) Age() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.frame == nil {
		return 0, false
	}
	return c.now().Sub(c.frame.CapturedAt), true
}

// Stats returns activity counters.
func (c *FrameCache) Stats() CacheStats {
	return CacheStats{
		Captures:    c.captures.Load(),
		Hits:        c.hits.Load(),
		OCRAttached: c.ocrAttached.Load(),
		OCRDropped:  c.ocrDropped.Load(),
	}
}

// zeroOrigin returns a view of img whose bounds start at (0,0), sharing its
// pixels. An RGBA's Pix always begins at Rect.Min.
func zeroOrigin(img *image.RGBA) *image.RGBA {
	if img.Rect.Min == (image.Point{}) {
		return img
	}
	return &image.RGBA{
		Pix:    img.Pix,
		Stride: img.Stride,
		Rect:   image.Rect(0, 0, img.Rect.Dx(), img.Rect.Dy()),
	}
}
