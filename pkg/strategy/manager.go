package strategy

import (
	"context"
	"image"
	"log/slog"
	"sort"
	"time"

	"github.com/optics-suite/optics/pkg/backend"
	"github.com/optics-suite/optics/pkg/errcode"
)

// Rule selects how assert-presence combines multiple elements.
type Rule string

const (
	RuleAny Rule = "any"
	RuleAll Rule = "all"
)

// LocateOptions tune one locate call.
type LocateOptions struct {
	AOI   *AOI
	Index int
}

// Manager builds the strategy catalog from a session's backend registry and
// answers locate and presence queries against it.
type Manager struct {
	strategies []Strategy
	frames     FrameProvider
	logger     *slog.Logger
}

// NewManager walks the registry's element sources and detectors and
// constructs the catalog: per source an XPath and a direct strategy, per
// text detector an OCR strategy, per image detector a template-match
// strategy. driver provides frames when no source can.
func NewManager(reg *backend.Registry, driver backend.Driver, templates map[string]string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{logger: logger}
	m.frames = frameProvider(reg, driver)

	for _, src := range reg.Sources() {
		m.strategies = append(m.strategies, &xpathStrategy{source: src})
		m.strategies = append(m.strategies, newDirectStrategy(src))
	}
	for _, det := range reg.TextDetectors() {
		m.strategies = append(m.strategies, &textDetectStrategy{detector: det, frames: m.frames})
	}
	for _, det := range reg.ImageDetectors() {
		m.strategies = append(m.strategies, &imageDetectStrategy{
			detector:  det,
			frames:    m.frames,
			templates: templates,
		})
	}

	// stable keeps backend declaration order within one priority
	sort.SliceStable(m.strategies, func(i, j int) bool {
		return m.strategies[i].Priority() < m.strategies[j].Priority()
	})
	return m
}

// frameProvider prefers the first screenshot-capable source, falling back to
// the session driver.
func frameProvider(reg *backend.Registry, driver backend.Driver) FrameProvider {
	for _, src := range reg.Sources() {
		if sp, ok := src.(backend.ScreenshotProvider); ok {
			return sp.CaptureScreenshot
		}
	}
	if driver != nil {
		return driver.Screenshot
	}
	return func(ctx context.Context) (image.Image, error) {
		return nil, errcode.New(errcode.DriverNotInitialized).
			WithDetails("no screenshot-capable backend")
	}
}

// Strategies exposes the ordered catalog.
func (m *Manager) Strategies() []Strategy { return m.strategies }

// Frames exposes the manager's frame provider, shared with the screenshot
// pipeline.
func (m *Manager) Frames() FrameProvider { return m.frames }

// Locate classifies value and returns a cursor that lazily walks applicable
// strategies in priority order, yielding one result at a time. An invalid
// AOI fails immediately with E0205.
func (m *Manager) Locate(ctx context.Context, value string, opts LocateOptions) (*Cursor, error) {
	kind, cleaned := Classify(value)

	aoi := opts.AOI
	if aoi != nil {
		if err := aoi.Validate(); err != nil {
			return nil, err
		}
		if aoi.IsFull() {
			aoi = nil
		}
	}

	var applicable []Strategy
	for _, s := range m.strategies {
		if s.Supports(kind) {
			applicable = append(applicable, s)
		}
	}
	m.logger.Debug("Locate started",
		"element", value, "kind", kind, "strategies", len(applicable))

	return &Cursor{
		manager:    m,
		ctx:        ctx,
		strategies: applicable,
		req:        Request{Value: cleaned, Kind: kind, Index: opts.Index},
		aoi:        aoi,
		element:    value,
	}, nil
}

// Cursor is the lazy locate sequence. Next yields results strategy by
// strategy; after Next returns false, Err reports E0201 when nothing was
// yielded at all and X0201 when the caller consumed every result without
// succeeding.
type Cursor struct {
	manager    *Manager
	ctx        context.Context
	strategies []Strategy
	req        Request
	aoi        *AOI
	element    string

	buf     []Result
	next    int // catalog position
	yielded int
	done    bool
}

// Next returns the next locate result. It runs strategies on demand,
// buffering multi-match results.
func (c *Cursor) Next() (Result, bool) {
	for {
		if len(c.buf) > 0 {
			r := c.buf[0]
			c.buf = c.buf[1:]
			c.yielded++
			return r, true
		}
		if c.next >= len(c.strategies) {
			c.done = true
			return Result{}, false
		}
		s := c.strategies[c.next]
		c.next++
		results, err := c.run(s)
		if err != nil {
			c.manager.logger.Debug("Strategy failed",
				"strategy", s.Name(), "element", c.element, "error", err)
			continue
		}
		c.buf = results
	}
}

// run executes one strategy, capturing and cropping a frame when needed.
func (c *Cursor) run(s Strategy) ([]Result, error) {
	req := c.req
	var origin backend.Point
	if s.NeedsFrame() {
		frame, err := c.manager.frames(c.ctx)
		if err != nil {
			return nil, err
		}
		if c.aoi != nil {
			frame, origin = c.aoi.Crop(frame)
		}
		req.Frame = frame
	}
	results, err := s.Locate(c.ctx, req)
	if err != nil {
		return nil, err
	}
	if origin != (backend.Point{}) {
		for i := range results {
			if results[i].Match.Point != nil {
				p := shift(*results[i].Match.Point, origin)
				results[i].Match.Point = &p
			}
		}
	}
	return results, nil
}

// Err reports the exhaustion outcome after Next has returned false.
func (c *Cursor) Err() error {
	if !c.done {
		return nil
	}
	if c.yielded == 0 {
		return errcode.New(errcode.ElementNotFound).WithDetails(c.element)
	}
	return errcode.Newf(errcode.ElementExhausted,
		"Element %q not found after exhausting %d candidates", c.element, c.yielded)
}

// AssertPresence verifies that elements are present within timeout. The
// remaining wall-clock time is split across assert-capable strategies as
// ceil(remaining/remaining_strategies); the first positive sighting wins.
// Deadline expiry is E0201.
func (m *Manager) AssertPresence(ctx context.Context, elements []string, kind Kind, timeout time.Duration, rule Rule) (backend.AssertResult, error) {
	deadline := time.Now().Add(timeout)

	values := make([]string, len(elements))
	for i, e := range elements {
		_, values[i] = Classify(e)
	}

	var asserters []Asserter
	for _, s := range m.strategies {
		a, ok := s.(Asserter)
		if !ok || !s.Supports(kind) {
			continue
		}
		asserters = append(asserters, a)
	}
	if len(asserters) == 0 {
		return backend.AssertResult{}, errcode.New(errcode.ElementNotFound).
			WithDetails("no strategy supports presence assertion for kind " + string(kind))
	}

	for i, a := range asserters {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		spec := AssertSpec{
			Values: values,
			Kind:   kind,
			Budget: budget(remaining, len(asserters)-i),
			All:    rule == RuleAll,
		}
		attemptCtx, cancel := context.WithTimeout(ctx, spec.Budget)
		res, err := a.AssertPresence(attemptCtx, spec)
		cancel()
		if err != nil {
			m.logger.Debug("Presence assertion errored", "error", err)
			continue
		}
		if res.Found {
			return res, nil
		}
	}
	return backend.AssertResult{}, errcode.Newf(errcode.ElementNotFound,
		"Elements %v not present within %s", elements, timeout)
}
