// Package session owns the per-session composition: backend registry,
// primary driver, element store, strategy catalog, event bus, report writer
// and artifact sinks. A Session implements keyword.Runtime, the surface
// keyword callables execute against.
package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/optics-suite/optics/pkg/backend"
	"github.com/optics-suite/optics/pkg/config"
	"github.com/optics-suite/optics/pkg/element"
	"github.com/optics-suite/optics/pkg/errcode"
	"github.com/optics-suite/optics/pkg/events"
	"github.com/optics-suite/optics/pkg/keyword"
	"github.com/optics-suite/optics/pkg/report"
	"github.com/optics-suite/optics/pkg/screenshot"
	"github.com/optics-suite/optics/pkg/strategy"
	"github.com/optics-suite/optics/pkg/suite"
)

// Session is one isolated execution context. Nothing in it is shared across
// sessions except the read-only keyword registry.
type Session struct {
	id     string
	cfg    config.SessionConfig
	global config.Global
	logger *slog.Logger

	backends *backend.Registry
	driver   backend.Driver
	store    *element.Store
	locator  *strategy.Manager
	keywords *keyword.Registry
	bus      *events.Bus
	junit    *report.JUnitWriter
	bridge   *backend.AsyncBridge

	testSuite    *suite.Suite
	outputDir    string
	templates    map[string]string
	templatesDir string

	mu       sync.Mutex
	pipeline *screenshot.Pipeline
	har      []harEntry

	createdAt time.Time
	termOnce  sync.Once
	termErr   error
}

var _ keyword.Runtime = (*Session)(nil)

// New composes and starts a session: builds the backend registry, seeds the
// element store from the suite, opens the bus and report writer, and
// launches the primary driver when one is declared.
func New(ctx context.Context, cfg config.SessionConfig, global config.Global, ts *suite.Suite, kws *keyword.Registry, logger *slog.Logger) (*Session, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	id := uuid.New().String()
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session_id", id)

	outputRoot := global.OutputRoot
	if outputRoot == "" {
		outputRoot = config.DefaultGlobal().OutputRoot
	}
	outputDir := filepath.Join(cfg.ProjectPath, outputRoot, id)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating session output dir: %w", err)
	}

	reg, err := backend.NewRegistry(cfg.Instances(), logger)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:        id,
		cfg:       cfg,
		global:    global,
		logger:    logger,
		backends:  reg,
		store:     element.NewStore(logger),
		keywords:  kws,
		testSuite: ts,
		outputDir: outputDir,
		createdAt: time.Now(),
	}

	if ts != nil {
		for name, values := range ts.Elements {
			s.store.Set(name, values)
		}
	}
	templates, tmpDir, err := materializeTemplates(id, ts)
	if err != nil {
		return nil, err
	}
	s.templates = templates
	s.templatesDir = tmpDir

	s.bus = events.NewBus(id, global.EventQueueSize, logger)
	if cfg.ReportEnabled() {
		s.junit = report.NewJUnitWriter(id, outputDir, logger)
		if err := s.bus.Subscribe("junit_writer", s.junit); err != nil {
			return nil, err
		}
	}
	s.bridge = backend.NewAsyncBridge(backend.DefaultBridgeTimeout, logger)

	if drv, derr := reg.PrimaryDriver(); derr == nil {
		if err := drv.LaunchApp(ctx); err != nil {
			s.teardownPartial()
			return nil, errcode.Wrap(errcode.DriverStartFailed, err)
		}
		s.driver = drv
	} else {
		logger.Info("Session has no drive-capable backend")
	}
	s.locator = strategy.NewManager(reg, s.driver, s.templates, logger)

	logger.Info("Session created",
		"output_dir", outputDir,
		"backends", len(cfg.Instances()),
		"elements", s.store.Len())
	return s, nil
}

// teardownPartial unwinds a half-constructed session after a create failure.
func (s *Session) teardownPartial() {
	s.bridge.Stop()
	s.bus.Shutdown()
	if s.templatesDir != "" {
		_ = os.RemoveAll(s.templatesDir)
	}
}

// materializeTemplates maps template names to file paths. Values that are
// not existing files but decode as base64 image data are written into a
// session temp directory, removed at terminate.
func materializeTemplates(id string, ts *suite.Suite) (map[string]string, string, error) {
	if ts == nil || len(ts.Templates) == 0 {
		return nil, "", nil
	}
	out := make(map[string]string, len(ts.Templates))
	tmpDir := ""
	for name, value := range ts.Templates {
		if _, err := os.Stat(value); err == nil {
			out[name] = value
			continue
		}
		raw, decErr := base64.StdEncoding.DecodeString(value)
		if decErr != nil {
			// Keep the path as declared; the image strategy reports the
			// missing file when the template is actually used.
			out[name] = value
			continue
		}
		if tmpDir == "" {
			dir, err := os.MkdirTemp("", "optics-templates-"+id)
			if err != nil {
				return nil, "", fmt.Errorf("creating template dir: %w", err)
			}
			tmpDir = dir
		}
		path := filepath.Join(tmpDir, name)
		if err := os.WriteFile(path, raw, 0o644); err != nil {
			return nil, "", fmt.Errorf("writing inline template %s: %w", name, err)
		}
		out[name] = path
	}
	return out, tmpDir, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// SessionID implements keyword.Runtime.
func (s *Session) SessionID() string { return s.id }

// Driver returns the launched primary driver.
func (s *Session) Driver() (backend.Driver, error) {
	if s.driver == nil {
		return nil, errcode.New(errcode.DriverNotInitialized)
	}
	return s.driver, nil
}

// DriverID returns the driver session identifier, empty without a driver.
func (s *Session) DriverID() string {
	if s.driver == nil {
		return ""
	}
	return s.driver.ID()
}

func (s *Session) Backends() *backend.Registry  { return s.backends }
func (s *Session) Elements() *element.Store     { return s.store }
func (s *Session) Locator() *strategy.Manager   { return s.locator }
func (s *Session) Bridge() *backend.AsyncBridge { return s.bridge }
func (s *Session) Keywords() *keyword.Registry  { return s.keywords }
func (s *Session) Logger() *slog.Logger         { return s.logger }
func (s *Session) OutputDir() string            { return s.outputDir }
func (s *Session) Bus() *events.Bus             { return s.bus }
func (s *Session) Suite() *suite.Suite          { return s.testSuite }
func (s *Session) Config() config.SessionConfig { return s.cfg }
func (s *Session) CreatedAt() time.Time         { return s.createdAt }

// API implements keyword.Runtime.
func (s *Session) API(name string) (suite.APICall, bool) {
	if s.testSuite == nil {
		return suite.APICall{}, false
	}
	call, ok := s.testSuite.APIs[name]
	return call, ok
}

// TemplatePath resolves a template image name.
func (s *Session) TemplatePath(name string) (string, bool) {
	path, ok := s.templates[name]
	return path, ok
}

// StartCapture begins the screenshot stream for this session. A second call
// while one runs is rejected.
func (s *Session) StartCapture(ctx context.Context, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pipeline != nil {
		return fmt.Errorf("capture stream already running for session %s", s.id)
	}
	interval := time.Duration(s.global.ScreenshotIntervalMS) * time.Millisecond
	threshold := s.global.DedupThreshold
	if threshold == 0 {
		threshold = screenshot.DefaultSimilarityThreshold
	}
	s.pipeline = screenshot.Start(ctx, screenshot.Source(s.locator.Frames()), screenshot.Options{
		Interval:  interval,
		Timeout:   timeout,
		Dedup:     true,
		Threshold: threshold,
	}, s.logger)
	s.logger.Info("Screenshot capture started", "timeout", timeout)
	return nil
}

// NextFrame pulls the next captured frame, blocking until one arrives, the
// stream ends, or ctx is done.
func (s *Session) NextFrame(ctx context.Context) (screenshot.Frame, bool) {
	s.mu.Lock()
	p := s.pipeline
	s.mu.Unlock()
	if p == nil {
		return screenshot.Frame{}, false
	}
	return p.Next(ctx)
}

// StopCapture halts the stream. Safe to call at any time.
func (s *Session) StopCapture() {
	s.mu.Lock()
	p := s.pipeline
	s.pipeline = nil
	s.mu.Unlock()
	if p != nil {
		p.Stop()
		s.logger.Info("Screenshot capture stopped",
			"dropped", p.Dropped(), "deduped", p.Deduped())
	}
}

// Terminate releases everything the session owns: capture stream, async
// bridge, driver, bus (which flushes and closes the report writer), and the
// inline-template temp directory. Idempotent.
func (s *Session) Terminate(ctx context.Context) error {
	s.termOnce.Do(func() {
		s.logger.Info("Terminating session")
		s.StopCapture()
		s.bridge.Stop()
		if s.driver != nil {
			if err := s.driver.Release(ctx); err != nil {
				s.logger.Warn("Driver release failed", "error", err)
				s.termErr = err
			}
		}
		s.bus.Shutdown()
		if s.templatesDir != "" {
			if err := os.RemoveAll(s.templatesDir); err != nil {
				s.logger.Warn("Removing template dir failed", "error", err)
			}
		}
		s.logger.Info("Session terminated")
	})
	return s.termErr
}
