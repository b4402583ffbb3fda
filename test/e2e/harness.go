// Package e2e boots the complete server stack — session manager, suite
// runner, HTTP+SSE API — against in-process backend fixtures and drives it
// over real HTTP the way an external client would.
package e2e

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/optics-suite/optics/pkg/api"
	"github.com/optics-suite/optics/pkg/backend"
	"github.com/optics-suite/optics/pkg/config"
	"github.com/optics-suite/optics/pkg/keyword"
	"github.com/optics-suite/optics/pkg/scheduler"
	"github.com/optics-suite/optics/pkg/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testAppConfig collects the knobs tests can turn before boot.
type testAppConfig struct {
	global   config.Global
	keywords []keyword.Definition
}

// TestAppOption customizes the app under test.
type TestAppOption func(*testAppConfig)

// WithGlobal mutates the global config before the stack is built.
func WithGlobal(mutate func(*config.Global)) TestAppOption {
	return func(cfg *testAppConfig) {
		mutate(&cfg.global)
	}
}

// WithKeyword registers an extra keyword definition alongside the builtins.
// Fixture keywords let scenarios control execution timing.
func WithKeyword(def keyword.Definition) TestAppOption {
	return func(cfg *testAppConfig) {
		cfg.keywords = append(cfg.keywords, def)
	}
}

// TestApp is a fully wired server instance listening on a random local port,
// plus the backend fixtures sessions will be built from.
type TestApp struct {
	Global   config.Global
	Keywords *keyword.Registry
	Manager  *session.Manager
	Runner   *scheduler.Runner
	Server   *api.Server
	BaseURL  string

	// Driver and UI are the fixture backends every session started through
	// this app's kinds is composed of.
	Driver     *StubDriver
	UI         *StubUISource
	DriverKind string
	UIKind     string
}

// NewTestApp assembles the stack the same way cmd/optics does, binds it to
// 127.0.0.1:0 and tears everything down via t.Cleanup.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	cfg := testAppConfig{global: config.DefaultGlobal()}
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := testLogger()

	keywords := keyword.NewRegistry(logger)
	keywords.RegisterProvider(keyword.DriverProvider{})
	keywords.RegisterProvider(keyword.FlowProvider{})
	keywords.RegisterProvider(keyword.APIProvider{})
	for _, def := range cfg.keywords {
		keywords.Register(def)
	}

	manager := session.NewManager(cfg.global, keywords, logger)
	runner := scheduler.NewRunner(logger)
	server := api.NewServer(manager, keywords, runner, cfg.global, logger)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		if err := server.StartWithListener(ln); err != nil {
			t.Errorf("server exited: %v", err)
		}
	}()

	app := &TestApp{
		Global:   cfg.global,
		Keywords: keywords,
		Manager:  manager,
		Runner:   runner,
		Server:   server,
		BaseURL:  "http://" + ln.Addr().String(),
	}
	app.registerStubBackends(t)

	t.Cleanup(func() {
		runner.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		manager.TerminateAll(shutdownCtx)
		if err := server.Shutdown(shutdownCtx); err != nil {
			t.Errorf("server shutdown: %v", err)
		}
	})
	return app
}

// registerStubBackends binds this test's driver and UI source under factory
// kinds derived from the test name, so parallel tests never collide on the
// process-global factory table.
func (app *TestApp) registerStubBackends(t *testing.T) {
	t.Helper()
	base := strings.ToLower(strings.ReplaceAll(t.Name(), "/", "-"))

	app.Driver = NewStubDriver("drv-" + base)
	app.DriverKind = "e2e-driver-" + base
	backend.RegisterFactory(app.DriverKind, func(backend.InstanceConfig) (any, error) {
		return app.Driver, nil
	})

	app.UI = NewStubUISource()
	app.UIKind = "e2e-ui-" + base
	backend.RegisterFactory(app.UIKind, func(cfg backend.InstanceConfig) (any, error) {
		app.UI.setName(cfg.Name)
		return app.UI, nil
	})
}

// StartSession posts a session config and returns the new session id.
func (app *TestApp) StartSession(t *testing.T, body map[string]any) string {
	t.Helper()
	res := app.postJSON(t, "/v1/sessions/start", body, http.StatusCreated)
	id, _ := res["session_id"].(string)
	require.NotEmpty(t, id, "start response carried no session_id: %v", res)
	return id
}

// StartProjectSession starts a session rooted at dir, composed of the app's
// stub driver and UI source.
func (app *TestApp) StartProjectSession(t *testing.T, dir string) string {
	t.Helper()
	return app.StartSession(t, map[string]any{
		"project_path":     dir,
		"driver_sources":   []map[string]any{{"name": app.DriverKind}},
		"elements_sources": []map[string]any{{"name": app.UIKind}},
	})
}

// RunSuite requests a suite run and returns the execution id.
func (app *TestApp) RunSuite(t *testing.T, sessionID string, dryRun bool) string {
	t.Helper()
	body := map[string]any{}
	if dryRun {
		body["dry_run"] = true
	}
	res := app.postJSON(t, "/v1/sessions/"+sessionID+"/run", body, http.StatusAccepted)
	id, _ := res["execution_id"].(string)
	require.NotEmpty(t, id, "run response carried no execution_id: %v", res)
	return id
}

// StopSession terminates the session and asserts the stop contract.
func (app *TestApp) StopSession(t *testing.T, sessionID string) {
	t.Helper()
	res := app.deleteJSON(t, "/v1/sessions/"+sessionID+"/stop", http.StatusOK)
	require.Equal(t, "Session terminated", res["message"])
}

// WriteSuite drops a suite file into dir so session start discovers it.
func WriteSuite(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
