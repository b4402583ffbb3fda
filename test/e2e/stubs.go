package e2e

import (
	"context"
	"image"
	"image/color"
	"sync"

	"github.com/optics-suite/optics/pkg/backend"
	"github.com/optics-suite/optics/pkg/errcode"
)

// testFrame renders a gradient so frame validity checks never flag it blank.
func testFrame() image.Image {
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x*4 + y) % 256)})
		}
	}
	return img
}

// StubDriver is an in-memory drive-capable backend recording every
// interaction it receives.
type StubDriver struct {
	id string

	mu       sync.Mutex
	launches int
	closes   int
	releases int
	presses  []backend.Point
	typed    []string
}

func NewStubDriver(id string) *StubDriver {
	return &StubDriver{id: id}
}

func (d *StubDriver) ID() string { return d.id }

func (d *StubDriver) LaunchApp(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.launches++
	return nil
}

func (d *StubDriver) CloseApp(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	return nil
}

func (d *StubDriver) PressCoordinate(ctx context.Context, p backend.Point) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.presses = append(d.presses, p)
	return nil
}

func (d *StubDriver) LongPressCoordinate(ctx context.Context, p backend.Point, millis int) error {
	return d.PressCoordinate(ctx, p)
}

func (d *StubDriver) EnterText(ctx context.Context, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.typed = append(d.typed, text)
	return nil
}

func (d *StubDriver) PageSource(ctx context.Context) (string, error) {
	return "<hierarchy/>", nil
}

func (d *StubDriver) Screenshot(ctx context.Context) (image.Image, error) {
	return testFrame(), nil
}

func (d *StubDriver) Release(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.releases++
	return nil
}

// Presses returns the coordinates pressed so far, in order.
func (d *StubDriver) Presses() []backend.Point {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]backend.Point(nil), d.presses...)
}

// Typed returns the text entered so far, in order.
func (d *StubDriver) Typed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.typed...)
}

func (d *StubDriver) Launches() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.launches
}

func (d *StubDriver) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

func (d *StubDriver) Releases() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.releases
}

// StubUISource resolves locators against a fixed table and records every
// attempt. Unknown locators miss with an element-not-found error, which is
// what drives candidate fallback in the scenarios.
type StubUISource struct {
	mu    sync.Mutex
	name  string
	known map[string]backend.Point
	calls []string
}

func NewStubUISource() *StubUISource {
	return &StubUISource{known: make(map[string]backend.Point)}
}

// setName stamps the registry key the factory constructed this source under.
func (s *StubUISource) setName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
}

func (s *StubUISource) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

func (s *StubUISource) PageSource(ctx context.Context) (string, error) {
	return "<hierarchy/>", nil
}

func (s *StubUISource) Locate(ctx context.Context, locator string, index int) (*backend.Match, error) {
	s.mu.Lock()
	s.calls = append(s.calls, locator)
	p, ok := s.known[locator]
	s.mu.Unlock()
	if !ok {
		return nil, errcode.New(errcode.ElementNotFound).WithDetails(locator)
	}
	return &backend.Match{Point: &p}, nil
}

// Know teaches the source to resolve locator to a hit at p.
func (s *StubUISource) Know(locator string, p backend.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.known[locator] = p
}

// Calls returns every locator this source was asked to resolve, in order.
func (s *StubUISource) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// CallsFor counts locate attempts for one locator.
func (s *StubUISource) CallsFor(locator string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == locator {
			n++
		}
	}
	return n
}
