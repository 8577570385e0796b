// Package desktop is the query facade the tool layer talks to. It owns the
// frame cache and perception pipeline and shapes their results for callers.
package desktop

import (
	"log"
	"strings"
	"time"

	"desktop-commander/src/ocr"
	"desktop-commander/src/perception"
	"desktop-commander/src/screenshot"
	"desktop-commander/src/template"
)

const (
	// DefaultAnalyzeConfidence is the text floor applied by Analyze callers
	// that do not pass one.
	DefaultAnalyzeConfidence = 0.4
	// MaxScanElements caps a full-screen scan.
	MaxScanElements = 50
)

// Pointer reports pointer and display geometry.
type Pointer interface {
	Location() (int, int)
	ScreenSize() (int, int)
}

type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Observation is an encoded screenshot plus the geometry needed to act on it.
type Observation struct {
	Image  []byte `json:"-"`
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	MouseX int    `json:"mouse_x"`
	MouseY int    `json:"mouse_y"`
}

// AnalyzeRequest selects one of three analysis paths: template search when
// FindImage is set, text search when FindText is set, a full scan otherwise.
type AnalyzeRequest struct {
	FindText   string
	FindImage  string
	Confidence float64
	UseCache   bool
	// Color matches templates in color instead of grayscale.
	Color bool
}

// Element is one entry of an analysis, with its clickable center.
type Element struct {
	Type       string                 `json:"type"`
	Text       *string                `json:"text,omitempty"`
	X          int                    `json:"x"`
	Y          int                    `json:"y"`
	BBox       perception.BoundingBox `json:"bbox"`
	Confidence float64                `json:"confidence"`
}

// Analysis is the Analyze result. FromCache is absent for template searches
// and TotalDetected is set only for full scans.
type Analysis struct {
	Screen        Size      `json:"screen"`
	Mouse         Point     `json:"mouse"`
	Elements      []Element `json:"elements"`
	CacheAgeMs    *float64  `json:"cache_age_ms"`
	Timestamp     float64   `json:"timestamp"`
	FromCache     *bool     `json:"from_cache,omitempty"`
	TotalDetected *int      `json:"total_detected,omitempty"`
}

// Info is the cheap status snapshot served without capturing.
type Info struct {
	Screen     Size                  `json:"screen"`
	Mouse      Point                 `json:"mouse"`
	CacheAgeMs *float64              `json:"cache_age_ms"`
	Cache      perception.CacheStats `json:"cache"`
}

// Options wires the collaborators. Engine and Matcher may be nil; the
// queries that need them then fail with CollaboratorUnavailable.
type Options struct {
	Engine      ocr.Engine
	Matcher     template.Matcher
	Pointer     Pointer
	Language    string
	PageSegMode int
}

// Commander is the composition root for perception. It is safe for
// concurrent use.
type Commander struct {
	cache    *perception.FrameCache
	pipeline *perception.Pipeline
	pointer  Pointer
	lang     string
	now      func() time.Time
}

// New builds a Commander capturing through grabber.
func New(grabber screenshot.Grabber, opts Options) *Commander {
	cache := perception.NewFrameCache(grabber)
	lang := strings.TrimSpace(opts.Language)
	if lang == "" {
		lang = ocr.DefaultLanguage
	}
	return &Commander{
		cache: cache,
		pipeline: perception.NewPipeline(cache, perception.Options{
			Engine:      opts.Engine,
			Matcher:     opts.Matcher,
			PageSegMode: opts.PageSegMode,
		}),
		pointer: opts.Pointer,
		lang:    lang,
		now:     time.Now,
	}
}

// SetClock replaces the time source of the commander and its cache.
func (c *Commander) SetClock(now func() time.Time) {
	c.now = now
	c.cache.SetClock(now)
}

// Invalidate drops the cached frame. Callers do this after driving input,
// since the screen is expected to change.
func (c *Commander) Invalidate() { c.cache.Invalidate() }

// CacheAgeMs reports the stored frame's age in milliseconds even when it is
// past the staleness threshold.
func (c *Commander) CacheAgeMs() (float64, bool) {
	age, ok := c.cache.Age()
	if !ok {
		return 0, false
	}
	return float64(age) / float64(time.Millisecond), true
}

// Observe captures the screen (or region) and encodes it. A full-screen
// observation reuses a fresh cached frame.
func (c *Commander) Observe(region *screenshot.Region, quality int, format string) (*Observation, error) {
	frame, err := c.cache.Capture(region, region != nil)
	if err != nil {
		return nil, err
	}
	data, fmtName, err := screenshot.Encode(frame.Image, format, quality)
	if err != nil {
		return nil, err
	}

	mouse := c.mouse()
	log.Printf("Desktop: observed %dx%d frame, %d bytes %s", frame.Width, frame.Height, len(data), fmtName)
	return &Observation{
		Image:  data,
		Format: fmtName,
		Width:  frame.Width,
		Height: frame.Height,
		MouseX: mouse.X,
		MouseY: mouse.Y,
	}, nil
}

// Analyze runs the template, text or scan path chosen by req.
func (c *Commander) Analyze(req AnalyzeRequest) (*Analysis, error) {
	out := &Analysis{
		Screen:     c.screen(),
		Mouse:      c.mouse(),
		Elements:   []Element{},
		CacheAgeMs: c.cacheAgePtr(),
		Timestamp:  float64(c.now().UnixNano()) / float64(time.Second),
	}

	switch {
	case req.FindImage != "":
		conf := req.Confidence
		if conf == 0 {
			conf = template.DefaultConfidence
		}
		matches, err := c.pipeline.FindTemplate(req.FindImage, conf, !req.Color)
		if err != nil {
			return nil, err
		}
		out.Elements = toElements(matches, "image")
		return out, nil

	case req.FindText != "":
		if req.UseCache {
			if cached := c.pipeline.FindTextCached(req.FindText, req.Confidence); len(cached) > 0 {
				out.Elements = toElements(cached, "text")
				out.FromCache = boolPtr(true)
				return out, nil
			}
		}
		matches, err := c.pipeline.FindText(req.FindText, c.lang, nil, req.Confidence)
		if err != nil {
			return nil, err
		}
		out.Elements = toElements(matches, "text")
		out.FromCache = boolPtr(false)
		return out, nil
	}

	if !req.UseCache {
		c.cache.Invalidate()
	}
	all, fromCache, err := c.pipeline.ScanAll(c.lang, req.UseCache)
	if err != nil {
		return nil, err
	}
	out.Elements = toElements(perception.Top(all, req.Confidence, MaxScanElements), "text")
	total := len(all)
	out.TotalDetected = &total
	out.FromCache = boolPtr(fromCache)
	return out, nil
}

// ScreenInfo reports display size, pointer position and cache telemetry
// without capturing.
func (c *Commander) ScreenInfo() Info {
	return Info{
		Screen:     c.screen(),
		Mouse:      c.mouse(),
		CacheAgeMs: c.cacheAgePtr(),
		Cache:      c.cache.Stats(),
	}
}

func (c *Commander) screen() Size {
	if c.pointer == nil {
		return Size{}
	}
	w, h := c.pointer.ScreenSize()
	return Size{Width: w, Height: h}
}

func (c *Commander) mouse() Point {
	if c.pointer == nil {
		return Point{}
	}
	x, y := c.pointer.Location()
	return Point{X: x, Y: y}
}

func (c *Commander) cacheAgePtr() *float64 {
	age, ok := c.CacheAgeMs()
	if !ok {
		return nil
	}
	return &age
}

func toElements(matches []perception.Match, kind string) []Element {
	out := make([]Element, 0, len(matches))
	for _, m := range matches {
		cx, cy := m.BBox.Center()
		out = append(out, Element{
			Type:       kind,
			Text:       m.Text,
			X:          cx,
			Y:          cy,
			BBox:       m.BBox,
			Confidence: m.Confidence,
		})
	}
	return out
}

func boolPtr(b bool) *bool { return &b }
