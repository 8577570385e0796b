package perception

import (
	"errors"
	"fmt"
	"log"

	"desktop-commander/src/apperr"
	"desktop-commander/src/ocr"
	"desktop-commander/src/screenshot"
	"desktop-commander/src/template"
)

// DefaultTextConfidence is the floor used by text searches when the caller
// has no opinion.
const DefaultTextConfidence = 0.35

// Pipeline turns "find X" and "dump everything" requests into ranked matches,
// reusing the frame cache's frame and OCR payload where allowed.
type Pipeline struct {
	cache       *FrameCache
	engine      ocr.Engine
	matcher     template.Matcher
	pageSegMode int
}

// Options configures a Pipeline. A nil Engine or Matcher makes the
// corresponding queries fail with CollaboratorUnavailable.
type Options struct {
	Engine      ocr.Engine
	Matcher     template.Matcher
	PageSegMode int
}

// NewPipeline wires a pipeline around cache.
func NewPipeline(cache *FrameCache, opts Options) *Pipeline {
	psm := opts.PageSegMode
	if psm <= 0 {
		psm = ocr.DefaultPageSegMode
	}
	return &Pipeline{
		cache:       cache,
		engine:      opts.Engine,
		matcher:     opts.Matcher,
		pageSegMode: psm,
	}
}

// Cache returns the frame cache the pipeline reads through.
func (p *Pipeline) Cache() *FrameCache { return p.cache }

// FindText captures a fresh frame (restricted to region when set), runs OCR
// and returns tokens containing query with confidence >= minConfidence,
// ranked. Boxes are offset by the frame origin into screen coordinates.
func (p *Pipeline) FindText(query, lang string, region *screenshot.Region, minConfidence float64) ([]Match, error) {
	frame, table, err := p.recognize(lang, region)
	if err != nil {
		return nil, err
	}

	if region == nil {
		p.cache.AttachOCR(frame, table)
	}

	matches := searchTable(table, query, minConfidence, frame.Origin)
	log.Printf("Pipeline: FindText %q matched %d of %d tokens", query, len(matches), table.Len())
	return matches, nil
}

// FindBestText returns the highest-confidence FindText result, or nil.
func (p *Pipeline) FindBestText(query, lang string, region *screenshot.Region, minConfidence float64) (*Match, error) {
	matches, err := p.FindText(query, lang, region, minConfidence)
	if err != nil || len(matches) == 0 {
		return nil, err
	}
	best := matches[0]
	return &best, nil
}

// FindTextCached searches only the OCR payload attached to the current
// fresh frame. It never captures or runs OCR; no payload means no matches.
func (p *Pipeline) FindTextCached(query string, minConfidence float64) []Match {
	table, origin, ok := p.cache.cachedOCR()
	if !ok {
		return []Match{}
	}
	return searchTable(table, query, minConfidence, origin)
}

// ScanAll returns every token with visible text, unfiltered by confidence.
// With useCache it serves the cached payload when one exists; otherwise it
// forces a full-screen capture, runs OCR once and attaches the result.
// fromCache reports which path served the call.
func (p *Pipeline) ScanAll(lang string, useCache bool) (matches []Match, fromCache bool, err error) {
	if useCache {
		if table, origin, ok := p.cache.cachedOCR(); ok {
			return tableToMatches(table, origin), true, nil
		}
	}

	frame, table, err := p.recognize(lang, nil)
	if err != nil {
		return nil, false, err
	}
	p.cache.AttachOCR(frame, table)

	matches = tableToMatches(table, frame.Origin)
	log.Printf("Pipeline: ScanAll kept %d of %d tokens", len(matches), table.Len())
	return matches, false, nil
}

// FindTemplate locates templatePath on a fresh full-screen capture. Template
// hits are not cached. Not finding the template yields an empty list.
func (p *Pipeline) FindTemplate(templatePath string, confidence float64, grayscale bool) ([]Match, error) {
	if p.matcher == nil {
		return nil, apperr.Unavailable("find_image", "no template matcher configured", nil)
	}

	frame, err := p.cache.Capture(nil, true)
	if err != nil {
		return nil, err
	}

	rects, err := p.matcher.Locate(frame.Image, templatePath, confidence, grayscale)
	if errors.Is(err, template.ErrNotFound) {
		return []Match{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("template matching failed: %w", err)
	}

	matches := make([]Match, 0, len(rects))
	for _, r := range rects {
		r = r.Add(frame.Origin)
		matches = append(matches, Match{
			BBox:       BoundingBox{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()},
			Confidence: confidence,
		})
	}
	return matches, nil
}

func (p *Pipeline) recognize(lang string, region *screenshot.Region) (*CachedFrame, *ocr.Table, error) {
	if p.engine == nil {
		return nil, nil, apperr.Unavailable("ocr", "no OCR engine configured", nil)
	}
	if lang == "" {
		lang = ocr.DefaultLanguage
	}

	frame, err := p.cache.Capture(region, true)
	if err != nil {
		return nil, nil, err
	}
	table, err := p.engine.Recognize(frame.Image, lang, p.pageSegMode)
	if err != nil {
		return nil, nil, fmt.Errorf("OCR failed: %w", err)
	}
	return frame, table, nil
}
