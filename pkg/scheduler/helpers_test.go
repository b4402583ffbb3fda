package scheduler

import (
	"image"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optics-suite/optics/pkg/backend"
	"github.com/optics-suite/optics/pkg/element"
	"github.com/optics-suite/optics/pkg/errcode"
	"github.com/optics-suite/optics/pkg/events"
	"github.com/optics-suite/optics/pkg/keyword"
	"github.com/optics-suite/optics/pkg/strategy"
	"github.com/optics-suite/optics/pkg/suite"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// schedRuntime is the minimal runtime a scheduler touches: an element store
// and a keyword registry. Everything driver-shaped is absent; fixture
// keywords never reach for it.
type schedRuntime struct {
	store  *element.Store
	reg    *keyword.Registry
	logger *slog.Logger
}

func (r *schedRuntime) SessionID() string { return "sess-sched" }

func (r *schedRuntime) Driver() (backend.Driver, error) {
	return nil, errcode.New(errcode.DriverNotInitialized)
}

func (r *schedRuntime) Backends() *backend.Registry  { return nil }
func (r *schedRuntime) Elements() *element.Store     { return r.store }
func (r *schedRuntime) Locator() *strategy.Manager   { return nil }
func (r *schedRuntime) Bridge() *backend.AsyncBridge { return nil }
func (r *schedRuntime) Keywords() *keyword.Registry  { return r.reg }
func (r *schedRuntime) Logger() *slog.Logger         { return r.logger }
func (r *schedRuntime) OutputDir() string            { return "" }

func (r *schedRuntime) SaveScreenshot(string, image.Image) (string, error) { return "", nil }
func (r *schedRuntime) AppendPageSource(string) error                      { return nil }
func (r *schedRuntime) WriteInteractables([]backend.ScreenElement) error   { return nil }
func (r *schedRuntime) RecordAPICall(keyword.APIRecord) error              { return nil }
func (r *schedRuntime) API(string) (suite.APICall, bool)                   { return suite.APICall{}, false }

// eventRecorder captures bus deliveries for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) OnEvent(ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *eventRecorder) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

// statuses returns the ordered status sequence recorded for one entity.
func (r *eventRecorder) statuses(entityID string) []events.Status {
	var out []events.Status
	for _, ev := range r.all() {
		if ev.EntityID == entityID {
			out = append(out, ev.Status)
		}
	}
	return out
}

// byName returns events recorded for entities with the given display name.
func (r *eventRecorder) byName(name string) []events.Event {
	var out []events.Event
	for _, ev := range r.all() {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// terminal returns the last terminal event recorded for one entity.
func (r *eventRecorder) terminal(entityID string) (events.Event, bool) {
	var last events.Event
	found := false
	for _, ev := range r.all() {
		if ev.EntityID == entityID && ev.Status.Terminal() {
			last = ev
			found = true
		}
	}
	return last, found
}

// harness bundles the runtime, bus and recorder one scheduler test needs.
type harness struct {
	rt    *schedRuntime
	bus   *events.Bus
	rec   *eventRecorder
	sched *Scheduler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := testLogger()
	rt := &schedRuntime{
		store:  element.NewStore(logger),
		reg:    keyword.NewRegistry(logger),
		logger: logger,
	}
	bus := events.NewBus("sess-sched", 0, logger)
	t.Cleanup(bus.Shutdown)

	rec := &eventRecorder{}
	require.NoError(t, bus.Subscribe("recorder", rec))

	return &harness{
		rt:    rt,
		bus:   bus,
		rec:   rec,
		sched: New(rt, bus, Options{Logger: logger}),
	}
}

// drain shuts the bus down so every published event reaches the recorder.
func (h *harness) drain() { h.bus.Shutdown() }

// register adds a fixture keyword.
func (h *harness) register(name string, fn keyword.Func, params ...keyword.Param) {
	h.rt.reg.Register(keyword.Definition{Name: name, Params: params, Fn: fn})
}

// callCounter records fixture keyword invocations.
type callCounter struct {
	mu    sync.Mutex
	calls [][]string
}

func (c *callCounter) record(inv *keyword.Invocation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, append([]string(nil), inv.Args...))
}

func (c *callCounter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *callCounter) argsAt(i int) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.calls) {
		return nil
	}
	return c.calls[i]
}

// buildSuite produces a single test case "TC1" running module "M1" with the
// given steps.
func buildSuite(t *testing.T, steps ...suite.StepDef) *suite.Suite {
	t.Helper()
	def := suite.NewDefinition()
	def.Modules["M1"] = suite.ModuleDef{Name: "M1", Steps: steps}
	def.TestCases = []suite.TestCaseDef{{Name: "TC1", ModuleNames: []string{"M1"}}}
	ts, err := def.Build()
	require.NoError(t, err)
	return ts
}

func firstKeyword(ts *suite.Suite) *suite.Keyword {
	return ts.TestCases.Modules.Keywords
}

// assertRunningPrecedesTerminal checks that every terminal event for an
// entity follows a RUNNING event for the same entity.
func assertRunningPrecedesTerminal(t *testing.T, evs []events.Event) {
	t.Helper()
	running := make(map[string]bool)
	for _, ev := range evs {
		switch {
		case ev.Status == events.StatusRunning:
			running[ev.EntityID] = true
		case ev.Status.Terminal():
			assert.True(t, running[ev.EntityID],
				"terminal %s for entity %s (%s) without prior RUNNING", ev.Status, ev.EntityID, ev.Name)
		}
	}
}
