package strategy

import (
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optics-suite/optics/pkg/backend"
	"github.com/optics-suite/optics/pkg/errcode"
)

// stubSource locates from a fixed map and optionally provides frames.
type stubSource struct {
	mu      sync.Mutex
	name    string
	matches map[string]*backend.Match
	frame   image.Image
	calls   []string
	// locate succeeds only from this call count on, 0 = always
	succeedAfter int
	count        int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) PageSource(context.Context) (string, error) { return "<root/>", nil }

func (s *stubSource) Locate(_ context.Context, locator string, index int) (*backend.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, locator)
	s.count++
	if s.succeedAfter > 0 && s.count < s.succeedAfter {
		return nil, errcode.New(errcode.ElementNotFound).WithDetails(locator)
	}
	m, ok := s.matches[locator]
	if !ok {
		return nil, errcode.New(errcode.ElementNotFound).WithDetails(locator)
	}
	return m, nil
}

func (s *stubSource) CaptureScreenshot(context.Context) (image.Image, error) {
	if s.frame == nil {
		return image.NewRGBA(image.Rect(0, 0, 200, 400)), nil
	}
	return s.frame, nil
}

func (s *stubSource) locateCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// stubOCR reports fixed regions per searched text.
type stubOCR struct {
	mu    sync.Mutex
	name  string
	found map[string][]backend.TextRegion
	calls int
}

func (o *stubOCR) Name() string { return o.name }

func (o *stubOCR) DetectText(_ context.Context, _ image.Image, text string) ([]backend.TextRegion, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	return o.found[text], nil
}

// stubMatcher reports fixed regions for any template.
type stubMatcher struct {
	name    string
	regions []backend.ImageRegion
}

func (m *stubMatcher) Name() string { return m.name }

func (m *stubMatcher) DetectImage(context.Context, image.Image, image.Image) ([]backend.ImageRegion, error) {
	return m.regions, nil
}

func managerWith(t *testing.T, configs []backend.InstanceConfig, templates map[string]string) *Manager {
	t.Helper()
	reg, err := backend.NewRegistry(configs, nil)
	require.NoError(t, err)
	return NewManager(reg, nil, templates, nil)
}

func registerStub(t *testing.T, name string, inst any) {
	t.Helper()
	backend.RegisterFactory(name, func(backend.InstanceConfig) (any, error) {
		return inst, nil
	})
}

func TestManagerCatalogOrder(t *testing.T) {
	registerStub(t, "src-one", &stubSource{name: "src-one"})
	registerStub(t, "src-two", &stubSource{name: "src-two"})
	registerStub(t, "ocr-one", &stubOCR{name: "ocr-one"})

	m := managerWith(t, []backend.InstanceConfig{
		{Name: "src-one"}, {Name: "src-two"}, {Name: "ocr-one"},
	}, nil)

	var names []string
	for _, s := range m.Strategies() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{
		"xpath:src-one", "xpath:src-two",
		"direct:src-one", "direct:src-two",
		"ocr:ocr-one",
	}, names, "priority first, declaration order breaks ties")
}

func TestLocateYieldsFirstStrategyResult(t *testing.T) {
	src := &stubSource{
		name:    "src",
		matches: map[string]*backend.Match{"//button": {Point: &backend.Point{X: 10, Y: 20}}},
	}
	registerStub(t, "locate-src", src)
	m := managerWith(t, []backend.InstanceConfig{{Name: "locate-src"}}, nil)

	cur, err := m.Locate(context.Background(), "//button", LocateOptions{})
	require.NoError(t, err)

	res, ok := cur.Next()
	require.True(t, ok)
	assert.Equal(t, "xpath:src", res.Strategy)
	assert.Equal(t, 10, res.Match.Point.X)
	assert.NoError(t, cur.Err(), "no exhaustion error while results remain consumable")
}

func TestLocateNothingYieldedIsElementNotFound(t *testing.T) {
	src := &stubSource{name: "src", matches: map[string]*backend.Match{}}
	registerStub(t, "empty-src", src)
	m := managerWith(t, []backend.InstanceConfig{{Name: "empty-src"}}, nil)

	cur, err := m.Locate(context.Background(), "//ghost", LocateOptions{})
	require.NoError(t, err)

	_, ok := cur.Next()
	require.False(t, ok)
	assert.True(t, errcode.Is(cur.Err(), errcode.ElementNotFound))
}

func TestLocateCallerExhaustionIsX0201(t *testing.T) {
	ocr := &stubOCR{
		name: "ocr",
		found: map[string][]backend.TextRegion{
			"OK": {
				{Text: "OK", Center: backend.Point{X: 5, Y: 5}},
				{Text: "OK", Center: backend.Point{X: 50, Y: 50}},
			},
		},
	}
	src := &stubSource{name: "shots"} // frame provider, no matches
	registerStub(t, "exh-src", src)
	registerStub(t, "exh-ocr", ocr)
	m := managerWith(t, []backend.InstanceConfig{{Name: "exh-src"}, {Name: "exh-ocr"}}, nil)

	cur, err := m.Locate(context.Background(), "OK", LocateOptions{})
	require.NoError(t, err)

	yielded := 0
	for {
		_, ok := cur.Next()
		if !ok {
			break
		}
		yielded++ // caller tries each result and fails
	}

	assert.Equal(t, 2, yielded)
	require.Error(t, cur.Err())
	assert.True(t, errcode.Is(cur.Err(), errcode.ElementExhausted))
}

func TestLocateIsLazyAcrossStrategies(t *testing.T) {
	src := &stubSource{
		name:    "src",
		matches: map[string]*backend.Match{"OK": {Point: &backend.Point{X: 1, Y: 1}}},
	}
	ocr := &stubOCR{
		name:  "ocr",
		found: map[string][]backend.TextRegion{"OK": {{Center: backend.Point{X: 9, Y: 9}}}},
	}
	registerStub(t, "lazy-src", src)
	registerStub(t, "lazy-ocr", ocr)
	m := managerWith(t, []backend.InstanceConfig{{Name: "lazy-src"}, {Name: "lazy-ocr"}}, nil)

	cur, err := m.Locate(context.Background(), "OK", LocateOptions{})
	require.NoError(t, err)

	res, ok := cur.Next()
	require.True(t, ok)
	assert.Equal(t, "direct:src", res.Strategy)
	assert.Zero(t, ocr.calls, "later strategies must not run until demanded")

	res, ok = cur.Next()
	require.True(t, ok)
	assert.Equal(t, "ocr:ocr", res.Strategy)
	assert.Equal(t, 1, ocr.calls)
}

func TestLocateInvalidAOI(t *testing.T) {
	registerStub(t, "aoi-src", &stubSource{name: "src"})
	m := managerWith(t, []backend.InstanceConfig{{Name: "aoi-src"}}, nil)

	_, err := m.Locate(context.Background(), "OK", LocateOptions{
		AOI: &AOI{X: 60, Y: 0, Width: 50, Height: 50},
	})

	require.Error(t, err)
	assert.True(t, errcode.Is(err, errcode.ElementInvalid))
}

func TestLocateShiftsCoordinatesByCropOrigin(t *testing.T) {
	// frame 200x400, AOI {25,15,50,50} crops at origin (50,60); the
	// detector sees the cropped frame and reports (100,200) relative to it
	src := &stubSource{name: "shots", frame: image.NewRGBA(image.Rect(0, 0, 200, 400))}
	ocr := &stubOCR{
		name:  "ocr",
		found: map[string][]backend.TextRegion{"OK": {{Center: backend.Point{X: 100, Y: 200}}}},
	}
	registerStub(t, "shift-src", src)
	registerStub(t, "shift-ocr", ocr)
	m := managerWith(t, []backend.InstanceConfig{{Name: "shift-src"}, {Name: "shift-ocr"}}, nil)

	cur, err := m.Locate(context.Background(), "OK", LocateOptions{
		AOI: &AOI{X: 25, Y: 15, Width: 50, Height: 50},
	})
	require.NoError(t, err)

	// the direct strategy has no match; the OCR strategy yields the shifted point
	res, ok := cur.Next()
	require.True(t, ok)
	assert.Equal(t, "ocr:ocr", res.Strategy)
	assert.Equal(t, 150, res.Match.Point.X)
	assert.Equal(t, 260, res.Match.Point.Y)
}

func TestLocateFullScreenAOIEqualsUnset(t *testing.T) {
	src := &stubSource{name: "shots"}
	ocr := &stubOCR{
		name:  "ocr",
		found: map[string][]backend.TextRegion{"OK": {{Center: backend.Point{X: 7, Y: 8}}}},
	}
	registerStub(t, "full-src", src)
	registerStub(t, "full-ocr", ocr)
	m := managerWith(t, []backend.InstanceConfig{{Name: "full-src"}, {Name: "full-ocr"}}, nil)

	cur, err := m.Locate(context.Background(), "OK", LocateOptions{
		AOI: &AOI{X: 0, Y: 0, Width: 100, Height: 100},
	})
	require.NoError(t, err)

	res, ok := cur.Next()
	require.True(t, ok)
	assert.Equal(t, 7, res.Match.Point.X, "full-screen AOI must not shift coordinates")
	assert.Equal(t, 8, res.Match.Point.Y)
}

func TestImageStrategyLoadsTemplate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logo.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	require.NoError(t, f.Close())

	src := &stubSource{name: "shots"}
	matcher := &stubMatcher{
		name:    "match",
		regions: []backend.ImageRegion{{Center: backend.Point{X: 33, Y: 44}, Confidence: 0.9}},
	}
	registerStub(t, "tpl-src", src)
	registerStub(t, "tpl-match", matcher)
	m := managerWith(t,
		[]backend.InstanceConfig{{Name: "tpl-src"}, {Name: "tpl-match"}},
		map[string]string{"logo.png": path})

	cur, err := m.Locate(context.Background(), "logo.png", LocateOptions{})
	require.NoError(t, err)

	res, ok := cur.Next()
	require.True(t, ok)
	assert.Equal(t, "image:match", res.Strategy)
	assert.Equal(t, 33, res.Match.Point.X)
}

func TestImageStrategyMissingTemplate(t *testing.T) {
	src := &stubSource{name: "shots"}
	matcher := &stubMatcher{name: "match"}
	registerStub(t, "miss-src", src)
	registerStub(t, "miss-match", matcher)
	m := managerWith(t, []backend.InstanceConfig{{Name: "miss-src"}, {Name: "miss-match"}}, nil)

	cur, err := m.Locate(context.Background(), "absent.png", LocateOptions{})
	require.NoError(t, err)

	_, ok := cur.Next()
	require.False(t, ok)
	assert.True(t, errcode.Is(cur.Err(), errcode.ElementNotFound))
}

func TestAssertPresenceAnyReturnsOnFirstSighting(t *testing.T) {
	src := &stubSource{
		name:    "src",
		matches: map[string]*backend.Match{"//ok": {Point: &backend.Point{X: 1, Y: 1}}},
	}
	registerStub(t, "ap-src", src)
	m := managerWith(t, []backend.InstanceConfig{{Name: "ap-src"}}, nil)

	start := time.Now()
	res, err := m.AssertPresence(context.Background(),
		[]string{"//ok", "//missing"}, KindXPath, 2*time.Second, RuleAny)

	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Less(t, time.Since(start), time.Second, "any-rule returns on first sighting")
}

func TestAssertPresenceAllRequiresEveryElement(t *testing.T) {
	src := &stubSource{
		name:    "src",
		matches: map[string]*backend.Match{"//ok": {Point: &backend.Point{X: 1, Y: 1}}},
	}
	registerStub(t, "ap-all-src", src)
	m := managerWith(t, []backend.InstanceConfig{{Name: "ap-all-src"}}, nil)

	start := time.Now()
	_, err := m.AssertPresence(context.Background(),
		[]string{"//ok", "//missing"}, KindXPath, 300*time.Millisecond, RuleAll)

	require.Error(t, err)
	assert.True(t, errcode.Is(err, errcode.ElementNotFound), "deadline expiry is E0201")
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond, "all-rule holds until the deadline")
	assert.Less(t, elapsed, time.Second, "wall clock stays near the requested timeout")
}

func TestAssertPresenceSucceedsOnLaterPoll(t *testing.T) {
	src := &stubSource{
		name:         "src",
		matches:      map[string]*backend.Match{"//late": {Point: &backend.Point{X: 1, Y: 1}}},
		succeedAfter: 3,
	}
	registerStub(t, "ap-late-src", src)
	m := managerWith(t, []backend.InstanceConfig{{Name: "ap-late-src"}}, nil)

	res, err := m.AssertPresence(context.Background(),
		[]string{"//late"}, KindXPath, 2*time.Second, RuleAny)

	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.GreaterOrEqual(t, len(src.locateCalls()), 3)
}

func TestBudgetSplitsRemainingTime(t *testing.T) {
	assert.Equal(t, time.Second, budget(time.Second, 1))
	assert.Equal(t, 500*time.Millisecond, budget(time.Second, 2))
	assert.Equal(t, 334*time.Millisecond, budget(1001*time.Millisecond, 3).Round(time.Millisecond))
	assert.LessOrEqual(t, budget(100*time.Millisecond, 3), 100*time.Millisecond)
}
