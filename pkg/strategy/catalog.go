package strategy

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // template decoding
	_ "image/png"
	"math"
	"os"
	"time"

	"github.com/optics-suite/optics/pkg/backend"
	"github.com/optics-suite/optics/pkg/errcode"
)

// Request is one locate attempt against one strategy.
type Request struct {
	Value string      // identifier with scheme prefix stripped
	Kind  Kind        // classification of the original identifier
	Index int         // zero-based match index
	Frame image.Image // AOI-cropped frame, set for frame-based strategies
}

// Result is one located element with its provenance.
type Result struct {
	Match    backend.Match
	Strategy string
	Source   string
}

// AssertSpec is one presence check dispatched to a strategy.
type AssertSpec struct {
	Values []string      // identifiers, prefixes stripped
	Kind   Kind          // caller-declared kind
	Budget time.Duration // slice of the overall deadline for this strategy
	All    bool          // true requires every value present
}

// Strategy locates elements one way. Instances are bound to their backing
// source at construction; declaration order of the backends breaks priority
// ties.
type Strategy interface {
	Name() string
	// Priority orders the catalog; lower runs first.
	Priority() int
	Supports(kind Kind) bool
	// NeedsFrame marks strategies operating on screenshots rather than the
	// UI tree; the manager supplies Request.Frame for them.
	NeedsFrame() bool
	Locate(ctx context.Context, req Request) ([]Result, error)
}

// Asserter is implemented by strategies usable for presence assertion.
type Asserter interface {
	AssertPresence(ctx context.Context, spec AssertSpec) (backend.AssertResult, error)
}

// FrameProvider captures full frames for frame-based strategies.
type FrameProvider func(ctx context.Context) (image.Image, error)

// xpathStrategy resolves XPath identifiers through one element source.
type xpathStrategy struct {
	source backend.ElementSource
}

func (s *xpathStrategy) Name() string         { return "xpath:" + s.source.Name() }
func (s *xpathStrategy) Priority() int        { return 1 }
func (s *xpathStrategy) Supports(k Kind) bool { return k == KindXPath }
func (s *xpathStrategy) NeedsFrame() bool     { return false }

func (s *xpathStrategy) Locate(ctx context.Context, req Request) ([]Result, error) {
	m, err := s.source.Locate(ctx, req.Value, req.Index)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errcode.New(errcode.ElementNotFound).WithDetails(req.Value)
	}
	return []Result{{Match: *m, Strategy: s.Name(), Source: s.source.Name()}}, nil
}

func (s *xpathStrategy) AssertPresence(ctx context.Context, spec AssertSpec) (backend.AssertResult, error) {
	asserter, ok := s.source.(backend.ElementAsserter)
	if !ok {
		return s.pollPresence(ctx, spec)
	}
	return asserter.AssertElements(ctx, backend.AssertRequest{
		Locators: spec.Values,
		Timeout:  int(spec.Budget / time.Millisecond),
		All:      spec.All,
	})
}

// pollPresence emulates assert_elements by repeated locates until the budget
// runs out.
func (s *xpathStrategy) pollPresence(ctx context.Context, spec AssertSpec) (backend.AssertResult, error) {
	deadline := time.Now().Add(spec.Budget)
	for {
		found := s.checkOnce(ctx, spec)
		if found {
			return backend.AssertResult{Found: true, FoundAtMS: time.Now().UnixMilli()}, nil
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return backend.AssertResult{}, nil
		}
		select {
		case <-ctx.Done():
			return backend.AssertResult{}, nil
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (s *xpathStrategy) checkOnce(ctx context.Context, spec AssertSpec) bool {
	matched := 0
	for _, v := range spec.Values {
		if m, err := s.source.Locate(ctx, v, 0); err == nil && m != nil {
			if !spec.All {
				return true
			}
			matched++
		} else if spec.All {
			return false
		}
	}
	return spec.All && matched == len(spec.Values)
}

// directStrategy uses a source's native locator for Text, CSS and ID kinds.
type directStrategy struct {
	xpathStrategy
}

func newDirectStrategy(source backend.ElementSource) *directStrategy {
	return &directStrategy{xpathStrategy{source: source}}
}

func (s *directStrategy) Name() string  { return "direct:" + s.source.Name() }
func (s *directStrategy) Priority() int { return 2 }
func (s *directStrategy) Supports(k Kind) bool {
	return k == KindText || k == KindCSS || k == KindID
}

func (s *directStrategy) Locate(ctx context.Context, req Request) ([]Result, error) {
	m, err := s.source.Locate(ctx, req.Value, req.Index)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errcode.New(errcode.ElementNotFound).WithDetails(req.Value)
	}
	return []Result{{Match: *m, Strategy: s.Name(), Source: s.source.Name()}}, nil
}

// textDetectStrategy finds text occurrences in a frame via an OCR engine.
type textDetectStrategy struct {
	detector backend.TextDetector
	frames   FrameProvider
}

func (s *textDetectStrategy) Name() string         { return "ocr:" + s.detector.Name() }
func (s *textDetectStrategy) Priority() int        { return 3 }
func (s *textDetectStrategy) Supports(k Kind) bool { return k == KindText }
func (s *textDetectStrategy) NeedsFrame() bool     { return true }

func (s *textDetectStrategy) Locate(ctx context.Context, req Request) ([]Result, error) {
	regions, err := s.detector.DetectText(ctx, req.Frame, req.Value)
	if err != nil {
		return nil, err
	}
	if len(regions) == 0 {
		return nil, errcode.New(errcode.ElementNotFound).WithDetails(req.Value)
	}
	if req.Index >= len(regions) {
		return nil, errcode.Newf(errcode.ElementNotFound,
			"Element not found: index %d beyond %d matches", req.Index, len(regions))
	}
	out := make([]Result, 0, len(regions)-req.Index)
	for _, r := range regions[req.Index:] {
		p := r.Center
		out = append(out, Result{
			Match:    backend.Match{Point: &p},
			Strategy: s.Name(),
			Source:   s.detector.Name(),
		})
	}
	return out, nil
}

func (s *textDetectStrategy) AssertPresence(ctx context.Context, spec AssertSpec) (backend.AssertResult, error) {
	deadline := time.Now().Add(spec.Budget)
	for {
		frame, err := s.frames(ctx)
		if err == nil && frame != nil {
			if found := s.frameHasAll(ctx, frame, spec); found {
				return backend.AssertResult{
					Found:     true,
					FoundAtMS: time.Now().UnixMilli(),
					Annotated: frame,
				}, nil
			}
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return backend.AssertResult{}, nil
		}
		select {
		case <-ctx.Done():
			return backend.AssertResult{}, nil
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (s *textDetectStrategy) frameHasAll(ctx context.Context, frame image.Image, spec AssertSpec) bool {
	matched := 0
	for _, v := range spec.Values {
		regions, err := s.detector.DetectText(ctx, frame, v)
		if err == nil && len(regions) > 0 {
			if !spec.All {
				return true
			}
			matched++
		} else if spec.All {
			return false
		}
	}
	return spec.All && matched == len(spec.Values)
}

// imageDetectStrategy finds a template image inside a frame.
type imageDetectStrategy struct {
	detector  backend.ImageDetector
	frames    FrameProvider
	templates map[string]string // image name → file path
}

func (s *imageDetectStrategy) Name() string         { return "image:" + s.detector.Name() }
func (s *imageDetectStrategy) Priority() int        { return 4 }
func (s *imageDetectStrategy) Supports(k Kind) bool { return k == KindImage }
func (s *imageDetectStrategy) NeedsFrame() bool     { return true }

func (s *imageDetectStrategy) Locate(ctx context.Context, req Request) ([]Result, error) {
	tmpl, err := s.loadTemplate(req.Value)
	if err != nil {
		return nil, err
	}
	regions, err := s.detector.DetectImage(ctx, req.Frame, tmpl)
	if err != nil {
		return nil, err
	}
	if len(regions) == 0 || req.Index >= len(regions) {
		return nil, errcode.New(errcode.ElementNotFound).WithDetails(req.Value)
	}
	out := make([]Result, 0, len(regions)-req.Index)
	for _, r := range regions[req.Index:] {
		p := r.Center
		out = append(out, Result{
			Match:    backend.Match{Point: &p},
			Strategy: s.Name(),
			Source:   s.detector.Name(),
		})
	}
	return out, nil
}

// loadTemplate resolves an image name through the session template map and
// decodes the file.
func (s *imageDetectStrategy) loadTemplate(name string) (image.Image, error) {
	path, ok := s.templates[name]
	if !ok {
		path = name
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errcode.Newf(errcode.ElementNotFound,
			"Element not found: template image %q unavailable", name)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errcode.Wrap(errcode.ElementInvalid, fmt.Errorf("decoding template %q: %w", name, err))
	}
	return img, nil
}

func (s *imageDetectStrategy) AssertPresence(ctx context.Context, spec AssertSpec) (backend.AssertResult, error) {
	deadline := time.Now().Add(spec.Budget)
	for {
		if s.check(ctx, spec) {
			return backend.AssertResult{Found: true, FoundAtMS: time.Now().UnixMilli()}, nil
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return backend.AssertResult{}, nil
		}
		select {
		case <-ctx.Done():
			return backend.AssertResult{}, nil
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (s *imageDetectStrategy) check(ctx context.Context, spec AssertSpec) bool {
	frame, err := s.frames(ctx)
	if err != nil || frame == nil {
		return false
	}
	matched := 0
	for _, v := range spec.Values {
		tmpl, err := s.loadTemplate(v)
		if err != nil {
			if spec.All {
				return false
			}
			continue
		}
		regions, err := s.detector.DetectImage(ctx, frame, tmpl)
		if err == nil && len(regions) > 0 {
			if !spec.All {
				return true
			}
			matched++
		} else if spec.All {
			return false
		}
	}
	return spec.All && matched == len(spec.Values)
}

// budget computes the per-strategy slice of the remaining deadline:
// ceil(remaining / strategies), clipped to the remaining time.
func budget(remaining time.Duration, strategies int) time.Duration {
	if strategies <= 1 {
		return remaining
	}
	slice := time.Duration(math.Ceil(float64(remaining) / float64(strategies)))
	if slice > remaining {
		return remaining
	}
	return slice
}
