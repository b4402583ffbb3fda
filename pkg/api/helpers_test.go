package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/optics-suite/optics/pkg/backend"
	"github.com/optics-suite/optics/pkg/config"
	"github.com/optics-suite/optics/pkg/keyword"
	"github.com/optics-suite/optics/pkg/scheduler"
	"github.com/optics-suite/optics/pkg/session"
	"github.com/optics-suite/optics/pkg/suite"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer wires a server around a fresh manager, registry and runner.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := testLogger()
	reg := keyword.NewRegistry(logger)
	mgr := session.NewManager(config.DefaultGlobal(), reg, logger)
	runner := scheduler.NewRunner(logger)
	s := NewServer(mgr, reg, runner, config.DefaultGlobal(), logger)
	t.Cleanup(func() { mgr.TerminateAll(context.Background()) })
	t.Cleanup(runner.Stop)
	return s
}

// registerKeyword adds a fixture callable to the server's registry.
func registerKeyword(s *Server, name string, fn keyword.Func, params ...keyword.Param) {
	s.keywords.Register(keyword.Definition{Name: name, Params: params, Fn: fn})
}

// newSession creates a driverless session bound to a temp project dir.
func newSession(t *testing.T, s *Server, ts *suite.Suite) *session.Session {
	t.Helper()
	cfg := config.SessionConfig{ProjectPath: t.TempDir()}
	sess, err := s.manager.Create(context.Background(), cfg, ts)
	require.NoError(t, err)
	return sess
}

// singleStepSuite builds a suite of one test case running one module with
// the given steps.
func singleStepSuite(t *testing.T, steps ...suite.StepDef) *suite.Suite {
	t.Helper()
	def := suite.NewDefinition()
	def.Modules["main_flow"] = suite.ModuleDef{Name: "main_flow", Steps: steps}
	def.TestCases = []suite.TestCaseDef{{Name: "TC1", ModuleNames: []string{"main_flow"}}}
	ts, err := def.Build()
	require.NoError(t, err)
	return ts
}

// apiDriver is a no-op driver for session start tests.
type apiDriver struct{ id string }

func (d *apiDriver) ID() string { return d.id }

func (d *apiDriver) LaunchApp(context.Context) error { return nil }

func (d *apiDriver) CloseApp(context.Context) error { return nil }

func (d *apiDriver) PressCoordinate(context.Context, backend.Point) error { return nil }

func (d *apiDriver) LongPressCoordinate(context.Context, backend.Point, int) error { return nil }

func (d *apiDriver) EnterText(context.Context, string) error { return nil }

func (d *apiDriver) PageSource(context.Context) (string, error) { return "<root/>", nil }

func (d *apiDriver) Screenshot(context.Context) (image.Image, error) {
	return image.NewGray(image.Rect(0, 0, 2, 2)), nil
}

func (d *apiDriver) Release(context.Context) error { return nil }

// registerDriverFactory binds a stub driver under a per-test backend name
// and returns that name for use in a session config.
func registerDriverFactory(t *testing.T, drv *apiDriver) string {
	t.Helper()
	name := "api-" + strings.ToLower(t.Name())
	backend.RegisterFactory(name, func(backend.InstanceConfig) (any, error) {
		return drv, nil
	})
	return name
}

// doRequest routes one request through the full echo stack.
func doRequest(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), "body: %s", rec.Body.String())
}
