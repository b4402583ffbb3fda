package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optics-suite/optics/pkg/backend"
	"github.com/optics-suite/optics/pkg/config"
	"github.com/optics-suite/optics/pkg/errcode"
	"github.com/optics-suite/optics/pkg/events"
	"github.com/optics-suite/optics/pkg/keyword"
	"github.com/optics-suite/optics/pkg/suite"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sessDriver struct {
	id        string
	launchErr error
	launched  atomic.Bool
	released  atomic.Int32
}

func (d *sessDriver) ID() string { return d.id }
func (d *sessDriver) LaunchApp(context.Context) error {
	if d.launchErr != nil {
		return d.launchErr
	}
	d.launched.Store(true)
	return nil
}
func (d *sessDriver) CloseApp(context.Context) error { return nil }

func (d *sessDriver) PressCoordinate(context.Context, backend.Point) error { return nil }

func (d *sessDriver) LongPressCoordinate(context.Context, backend.Point, int) error { return nil }

func (d *sessDriver) EnterText(context.Context, string) error { return nil }

func (d *sessDriver) PageSource(context.Context) (string, error) { return "<root/>", nil }
func (d *sessDriver) Screenshot(context.Context) (image.Image, error) {
	return image.NewGray(image.Rect(0, 0, 4, 4)), nil
}
func (d *sessDriver) Release(context.Context) error {
	d.released.Add(1)
	return nil
}

// registerDriver binds a fresh stub driver factory under a per-test name and
// returns the matching instance config.
func registerDriver(t *testing.T, drv *sessDriver) backend.InstanceConfig {
	t.Helper()
	name := "sess-" + strings.ToLower(t.Name())
	backend.RegisterFactory(name, func(backend.InstanceConfig) (any, error) {
		return drv, nil
	})
	return backend.InstanceConfig{Name: name}
}

func newTestSession(t *testing.T, drv *sessDriver, ts *suite.Suite) *Session {
	t.Helper()
	cfg := config.SessionConfig{
		ProjectPath:   t.TempDir(),
		DriverSources: []backend.InstanceConfig{registerDriver(t, drv)},
	}
	s, err := New(context.Background(), cfg, config.DefaultGlobal(), ts,
		keyword.NewRegistry(testLogger()), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Terminate(context.Background()) })
	return s
}

func TestNewSeedsStoreAndLaunchesDriver(t *testing.T) {
	drv := &sessDriver{id: "drv-99"}
	ts := &suite.Suite{Elements: map[string][]string{
		"login_button": {"text:Login", "//android.widget.Button"},
	}}
	s := newTestSession(t, drv, ts)

	assert.True(t, drv.launched.Load())
	assert.Equal(t, "drv-99", s.DriverID())

	first, ok := s.Elements().GetFirst("login_button")
	require.True(t, ok)
	assert.Equal(t, "text:Login", first)

	info, err := os.Stat(s.OutputDir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNewDriverLaunchFailure(t *testing.T) {
	drv := &sessDriver{id: "drv-1", launchErr: errcode.New(errcode.DriverStartFailed)}
	cfg := config.SessionConfig{
		ProjectPath:   t.TempDir(),
		DriverSources: []backend.InstanceConfig{registerDriver(t, drv)},
	}
	_, err := New(context.Background(), cfg, config.DefaultGlobal(), nil,
		keyword.NewRegistry(testLogger()), testLogger())
	require.Error(t, err)
	assert.Equal(t, errcode.DriverStartFailed, errcode.CodeOf(err))
}

func TestNewWithoutDriver(t *testing.T) {
	cfg := config.SessionConfig{ProjectPath: t.TempDir()}
	s, err := New(context.Background(), cfg, config.DefaultGlobal(), nil,
		keyword.NewRegistry(testLogger()), testLogger())
	require.NoError(t, err)
	defer s.Terminate(context.Background())

	assert.Empty(t, s.DriverID())
	_, err = s.Driver()
	assert.Equal(t, errcode.DriverNotInitialized, errcode.CodeOf(err))
}

func TestTerminateIdempotentAndWritesReport(t *testing.T) {
	drv := &sessDriver{id: "drv-1"}
	s := newTestSession(t, drv, nil)

	s.Bus().Publish(events.Event{
		EntityType: events.EntityTestCase,
		EntityID:   "tc-1",
		Name:       "Login flow",
		Status:     events.StatusPass,
	})

	require.NoError(t, s.Terminate(context.Background()))
	require.NoError(t, s.Terminate(context.Background()))
	assert.Equal(t, int32(1), drv.released.Load())

	reportPath := filepath.Join(s.OutputDir(), "junit_output_"+s.ID()+".xml")
	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `tests="1"`)
	assert.Contains(t, string(data), "Login flow")
}

func TestInlineTemplatesMaterialized(t *testing.T) {
	onDisk := filepath.Join(t.TempDir(), "logo.png")
	require.NoError(t, os.WriteFile(onDisk, []byte("png-bytes"), 0o644))

	drv := &sessDriver{id: "drv-1"}
	ts := &suite.Suite{Templates: map[string]string{
		"on_disk": onDisk,
		"inline":  base64.StdEncoding.EncodeToString([]byte("inline-image-bytes")),
	}}
	s := newTestSession(t, drv, ts)

	path, ok := s.TemplatePath("on_disk")
	require.True(t, ok)
	assert.Equal(t, onDisk, path)

	inlinePath, ok := s.TemplatePath("inline")
	require.True(t, ok)
	require.NotEqual(t, ts.Templates["inline"], inlinePath)
	data, err := os.ReadFile(inlinePath)
	require.NoError(t, err)
	assert.Equal(t, "inline-image-bytes", string(data))

	require.NoError(t, s.Terminate(context.Background()))
	_, err = os.Stat(inlinePath)
	assert.True(t, os.IsNotExist(err))
}

func TestSaveScreenshot(t *testing.T) {
	s := newTestSession(t, &sessDriver{id: "drv-1"}, nil)

	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 180
	}
	path, err := s.SaveScreenshot("capture_screenshot", img)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "-capture_screenshot.jpg"), path)
	assert.Equal(t, s.OutputDir(), filepath.Dir(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestAppendPageSource(t *testing.T) {
	s := newTestSession(t, &sessDriver{id: "drv-1"}, nil)

	require.NoError(t, s.AppendPageSource("<first/>"))
	require.NoError(t, s.AppendPageSource("<second/>"))

	data, err := os.ReadFile(filepath.Join(s.OutputDir(), "page_sources_log.xml"))
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "<first/>")
	assert.Contains(t, text, "<second/>")
	assert.Less(t, strings.Index(text, "<first/>"), strings.Index(text, "<second/>"))
}

func TestWriteInteractables(t *testing.T) {
	s := newTestSession(t, &sessDriver{id: "drv-1"}, nil)

	items := []backend.ScreenElement{
		{Name: "Login", Kind: "button", Locator: "//btn[1]", X: 10, Y: 20, Width: 80, Height: 40},
	}
	require.NoError(t, s.WriteInteractables(items))

	data, err := os.ReadFile(filepath.Join(s.OutputDir(), "interactable_elements.json"))
	require.NoError(t, err)
	var decoded []backend.ScreenElement
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, items[0], decoded[0])
}

func TestRecordAPICall(t *testing.T) {
	s := newTestSession(t, &sessDriver{id: "drv-1"}, nil)

	rec := keyword.APIRecord{
		Name:            "login",
		Method:          http.MethodPost,
		URL:             "https://api.test/v1/login",
		RequestHeaders:  map[string]string{"Content-Type": "application/json"},
		RequestBody:     `{"user":"alice"}`,
		Status:          200,
		ResponseHeaders: map[string]string{"Content-Type": "application/json"},
		ResponseBody:    `{"token":"abc"}`,
		StartedAt:       time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
		Elapsed:         125 * time.Millisecond,
	}
	require.NoError(t, s.RecordAPICall(rec))

	logData, err := os.ReadFile(filepath.Join(s.OutputDir(), "api_details.log"))
	require.NoError(t, err)
	assert.Contains(t, string(logData), "POST https://api.test/v1/login -> 200")

	harData, err := os.ReadFile(filepath.Join(s.OutputDir(), "api_details.har"))
	require.NoError(t, err)
	var har struct {
		Log struct {
			Version string `json:"version"`
			Entries []struct {
				Time    float64 `json:"time"`
				Request struct {
					Method string `json:"method"`
					URL    string `json:"url"`
				} `json:"request"`
				Response struct {
					Status int `json:"status"`
				} `json:"response"`
			} `json:"entries"`
		} `json:"log"`
	}
	require.NoError(t, json.Unmarshal(harData, &har))
	assert.Equal(t, "1.2", har.Log.Version)
	require.Len(t, har.Log.Entries, 1)
	assert.Equal(t, "POST", har.Log.Entries[0].Request.Method)
	assert.Equal(t, 200, har.Log.Entries[0].Response.Status)
	assert.InDelta(t, 125.0, har.Log.Entries[0].Time, 0.001)

	// A second record keeps both entries.
	rec.Name = "profile"
	rec.URL = "https://api.test/v1/profile"
	require.NoError(t, s.RecordAPICall(rec))
	harData, err = os.ReadFile(filepath.Join(s.OutputDir(), "api_details.har"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(harData, &har))
	assert.Len(t, har.Log.Entries, 2)
}

func TestManagerLifecycle(t *testing.T) {
	mgr := NewManager(config.DefaultGlobal(), keyword.NewRegistry(testLogger()), testLogger())

	drv := &sessDriver{id: "drv-1"}
	cfg := config.SessionConfig{
		ProjectPath:   t.TempDir(),
		DriverSources: []backend.InstanceConfig{registerDriver(t, drv)},
	}
	s, err := mgr.Create(context.Background(), cfg, nil)
	require.NoError(t, err)

	got, err := mgr.Get(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)
	assert.Equal(t, 1, mgr.Len())
	assert.Equal(t, []string{s.ID()}, mgr.List())

	_, err = mgr.Get("nope")
	require.EqualError(t, err, "session not found: nope")

	require.NoError(t, mgr.Terminate(context.Background(), s.ID()))
	assert.Equal(t, int32(1), drv.released.Load())
	_, err = mgr.Get(s.ID())
	require.Error(t, err)

	err = mgr.Terminate(context.Background(), s.ID())
	require.EqualError(t, err, "session not found: "+s.ID())
}

func TestManagerTerminateAll(t *testing.T) {
	mgr := NewManager(config.DefaultGlobal(), keyword.NewRegistry(testLogger()), testLogger())

	var drivers []*sessDriver
	for i := 0; i < 2; i++ {
		drv := &sessDriver{id: "drv"}
		drivers = append(drivers, drv)
		name := "sess-all-" + strings.ToLower(t.Name()) + string(rune('a'+i))
		backend.RegisterFactory(name, func(backend.InstanceConfig) (any, error) {
			return drv, nil
		})
		cfg := config.SessionConfig{
			ProjectPath:   t.TempDir(),
			DriverSources: []backend.InstanceConfig{{Name: name}},
		}
		_, err := mgr.Create(context.Background(), cfg, nil)
		require.NoError(t, err)
	}
	require.Equal(t, 2, mgr.Len())

	mgr.TerminateAll(context.Background())
	assert.Equal(t, 0, mgr.Len())
	for _, drv := range drivers {
		assert.Equal(t, int32(1), drv.released.Load())
	}
}
