package keyword

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/optics-suite/optics/pkg/backend"
	"github.com/optics-suite/optics/pkg/element"
	"github.com/optics-suite/optics/pkg/strategy"
	"github.com/optics-suite/optics/pkg/suite"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func solidImage(w, h int, c color.Gray) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, c)
		}
	}
	return img
}

type stubDriver struct {
	id       string
	pressed  []backend.Point
	held     []backend.Point
	heldMS   []int
	typed    []string
	closed   int
	released int
	source   string
	shot     image.Image
	shotErr  error
}

func (d *stubDriver) ID() string                          { return d.id }
func (d *stubDriver) LaunchApp(context.Context) error     { return nil }
func (d *stubDriver) CloseApp(context.Context) error      { d.closed++; return nil }
func (d *stubDriver) Release(context.Context) error       { d.released++; return nil }
func (d *stubDriver) EnterText(_ context.Context, s string) error {
	d.typed = append(d.typed, s)
	return nil
}

func (d *stubDriver) PressCoordinate(_ context.Context, p backend.Point) error {
	d.pressed = append(d.pressed, p)
	return nil
}

func (d *stubDriver) LongPressCoordinate(_ context.Context, p backend.Point, millis int) error {
	d.held = append(d.held, p)
	d.heldMS = append(d.heldMS, millis)
	return nil
}

func (d *stubDriver) PageSource(context.Context) (string, error) { return d.source, nil }

func (d *stubDriver) Screenshot(context.Context) (image.Image, error) {
	if d.shotErr != nil {
		return nil, d.shotErr
	}
	return d.shot, nil
}

// stubSource resolves locators from a fixed table and records interactions.
type stubSource struct {
	name    string
	matches map[string][]backend.Match
	tapped  []backend.Handle
	typed   []string
	items   []backend.ScreenElement
}

func (s *stubSource) Name() string                              { return s.name }
func (s *stubSource) PageSource(context.Context) (string, error) { return "<hierarchy/>", nil }

func (s *stubSource) Locate(_ context.Context, locator string, index int) (*backend.Match, error) {
	ms := s.matches[locator]
	if index >= len(ms) {
		return nil, fmt.Errorf("no match for %q at index %d", locator, index)
	}
	m := ms[index]
	return &m, nil
}

func (s *stubSource) Tap(_ context.Context, h backend.Handle) error {
	s.tapped = append(s.tapped, h)
	return nil
}

func (s *stubSource) TypeText(_ context.Context, h backend.Handle, text string) error {
	s.tapped = append(s.tapped, h)
	s.typed = append(s.typed, text)
	return nil
}

func (s *stubSource) InteractableElements(context.Context) ([]backend.ScreenElement, error) {
	return s.items, nil
}

// bareSource locates but cannot list or act on elements.
type bareSource struct {
	name string
}

func (s *bareSource) Name() string                              { return s.name }
func (s *bareSource) PageSource(context.Context) (string, error) { return "", nil }
func (s *bareSource) Locate(context.Context, string, int) (*backend.Match, error) {
	return nil, fmt.Errorf("no match")
}

// fakeRuntime satisfies Runtime with in-memory artifact sinks.
type fakeRuntime struct {
	id        string
	driver    *stubDriver
	driverErr error
	backends  *backend.Registry
	elements  *element.Store
	locator   *strategy.Manager
	registry  *Registry
	logger    *slog.Logger

	savedShots    []string
	pageSources   []string
	interactables [][]backend.ScreenElement
	apiRecords    []APIRecord
	apis          map[string]suite.APICall
}

func (f *fakeRuntime) SessionID() string { return f.id }

func (f *fakeRuntime) Driver() (backend.Driver, error) {
	if f.driverErr != nil {
		return nil, f.driverErr
	}
	return f.driver, nil
}

func (f *fakeRuntime) Backends() *backend.Registry  { return f.backends }
func (f *fakeRuntime) Elements() *element.Store     { return f.elements }
func (f *fakeRuntime) Locator() *strategy.Manager   { return f.locator }
func (f *fakeRuntime) Bridge() *backend.AsyncBridge { return nil }
func (f *fakeRuntime) Keywords() *Registry          { return f.registry }
func (f *fakeRuntime) Logger() *slog.Logger         { return f.logger }
func (f *fakeRuntime) OutputDir() string            { return "" }

func (f *fakeRuntime) SaveScreenshot(keyword string, _ image.Image) (string, error) {
	f.savedShots = append(f.savedShots, keyword)
	return "/out/" + keyword + ".jpg", nil
}

func (f *fakeRuntime) AppendPageSource(source string) error {
	f.pageSources = append(f.pageSources, source)
	return nil
}

func (f *fakeRuntime) WriteInteractables(items []backend.ScreenElement) error {
	f.interactables = append(f.interactables, items)
	return nil
}

func (f *fakeRuntime) RecordAPICall(rec APIRecord) error {
	f.apiRecords = append(f.apiRecords, rec)
	return nil
}

func (f *fakeRuntime) API(name string) (suite.APICall, bool) {
	call, ok := f.apis[name]
	return call, ok
}

// newFakeRuntime wires a runtime around one stub source registered under a
// test-unique backend name.
func newFakeRuntime(t *testing.T, src *stubSource) *fakeRuntime {
	t.Helper()
	logger := testLogger()
	if src.name == "" {
		src.name = "stub-" + t.Name()
	}
	backend.RegisterFactory(src.name, func(backend.InstanceConfig) (any, error) {
		return src, nil
	})
	reg, err := backend.NewRegistry([]backend.InstanceConfig{{Name: src.name}}, logger)
	require.NoError(t, err)

	driver := &stubDriver{
		id:     "drv-1",
		source: "<hierarchy/>",
		shot:   solidImage(4, 4, color.Gray{Y: 200}),
	}
	registry := NewRegistry(logger)
	registry.RegisterProvider(DriverProvider{})
	registry.RegisterProvider(FlowProvider{})

	return &fakeRuntime{
		id:       "sess-kw",
		driver:   driver,
		backends: reg,
		elements: element.NewStore(logger),
		locator:  strategy.NewManager(reg, driver, nil, logger),
		registry: registry,
		logger:   logger,
		apis:     map[string]suite.APICall{},
	}
}

func invocation(args ...string) *Invocation {
	return &Invocation{Args: args, Raw: args}
}
