// Package report renders a session's execution events into a JUnit-style XML
// document. The writer subscribes to the session bus, mirrors the execution
// tree as it runs, and flushes the pretty-printed document on shutdown.
package report

import (
	"encoding/xml"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/optics-suite/optics/pkg/events"
)

// SensitivePrefix marks an argument whose value must never appear in a
// report.
const SensitivePrefix = "@:"

// Redacted replaces sensitive argument values in the written document.
const Redacted = "****"

const timeLayout = "2006-01-02 15:04:05.000"

type junitReport struct {
	XMLName xml.Name      `xml:"testsuites"`
	Suites  []*junitSuite `xml:"testsuite"`
}

type junitSuite struct {
	Name     string       `xml:"name,attr"`
	Tests    int          `xml:"tests,attr"`
	Failures int          `xml:"failures,attr"`
	Errors   int          `xml:"errors,attr"`
	Skipped  int          `xml:"skipped,attr"`
	Time     float64      `xml:"time,attr"`
	Cases    []*junitCase `xml:"testcase"`
}

type junitCase struct {
	Name      string         `xml:"name,attr"`
	Status    string         `xml:"status,attr"`
	StartTime string         `xml:"starttime,attr,omitempty"`
	EndTime   string         `xml:"endtime,attr,omitempty"`
	Elapsed   float64        `xml:"elapsed,attr"`
	Modules   []*junitModule `xml:"module"`
}

type junitModule struct {
	Name      string          `xml:"name,attr"`
	Status    string          `xml:"status,attr"`
	StartTime string          `xml:"starttime,attr,omitempty"`
	EndTime   string          `xml:"endtime,attr,omitempty"`
	Elapsed   float64         `xml:"elapsed,attr"`
	Keywords  []*junitKeyword `xml:"keyword"`
}

type junitKeyword struct {
	Name      string        `xml:"name,attr"`
	Status    string        `xml:"status,attr"`
	StartTime string        `xml:"starttime,attr,omitempty"`
	EndTime   string        `xml:"endtime,attr,omitempty"`
	Elapsed   float64       `xml:"elapsed,attr"`
	Arguments string        `xml:"arguments,omitempty"`
	Log       string        `xml:"log,omitempty"`
	Failure   *junitFailure `xml:"failure,omitempty"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
}

// JUnitWriter accumulates one session's execution tree and writes it as
// junit_output_<session>.xml. It implements events.Subscriber, Flusher and
// Closer, so a bus shutdown flushes and closes it automatically.
type JUnitWriter struct {
	sessionID string
	path      string
	logger    *slog.Logger

	mu       sync.Mutex
	report   junitReport
	suite    *junitSuite
	cases    map[string]*junitCase
	modules  map[string]*junitModule
	keywords map[string]*junitKeyword
	closed   bool
}

// NewJUnitWriter creates a writer whose document lands in dir.
func NewJUnitWriter(sessionID, dir string, logger *slog.Logger) *JUnitWriter {
	if logger == nil {
		logger = slog.Default()
	}
	suite := &junitSuite{Name: "session_" + sessionID}
	w := &JUnitWriter{
		sessionID: sessionID,
		path:      filepath.Join(dir, fmt.Sprintf("junit_output_%s.xml", sessionID)),
		logger:    logger,
		suite:     suite,
		cases:     make(map[string]*junitCase),
		modules:   make(map[string]*junitModule),
		keywords:  make(map[string]*junitKeyword),
	}
	w.report.Suites = []*junitSuite{suite}
	return w
}

// Path returns where Flush writes the document.
func (w *JUnitWriter) Path() string { return w.path }

// OnEvent mirrors one execution event into the document tree. Suite counters
// move on every terminal test-case event.
func (w *JUnitWriter) OnEvent(ev events.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	switch ev.EntityType {
	case events.EntityTestCase:
		tc := w.ensureCase(ev.EntityID, ev.Name)
		tc.Status = string(ev.Status)
		applyTimes(&tc.StartTime, &tc.EndTime, &tc.Elapsed, ev)
		if ev.Status.Terminal() {
			w.count(ev)
		}
	case events.EntityModule:
		m := w.ensureModule(ev)
		m.Status = string(ev.Status)
		applyTimes(&m.StartTime, &m.EndTime, &m.Elapsed, ev)
	case events.EntityKeyword:
		k := w.ensureKeyword(ev)
		k.Status = string(ev.Status)
		applyTimes(&k.StartTime, &k.EndTime, &k.Elapsed, ev)
		if len(ev.Args) > 0 {
			k.Arguments = redactArgs(ev.Args)
		}
		if len(ev.Logs) > 0 {
			lines := strings.Join(ev.Logs, "\n")
			if k.Log == "" {
				k.Log = lines
			} else {
				k.Log += "\n" + lines
			}
		}
		switch ev.Status {
		case events.StatusFail, events.StatusError:
			k.Failure = &junitFailure{Message: ev.Message}
		case events.StatusPass:
			k.Failure = nil // a retried keyword that passed is not a failure
		}
	}
	return nil
}

func (w *JUnitWriter) ensureCase(id, name string) *junitCase {
	if tc, ok := w.cases[id]; ok {
		if name != "" {
			tc.Name = name
		}
		return tc
	}
	tc := &junitCase{Name: name}
	w.cases[id] = tc
	w.suite.Cases = append(w.suite.Cases, tc)
	return tc
}

func (w *JUnitWriter) ensureModule(ev events.Event) *junitModule {
	if m, ok := w.modules[ev.EntityID]; ok {
		if ev.Name != "" {
			m.Name = ev.Name
		}
		return m
	}
	m := &junitModule{Name: ev.Name}
	w.modules[ev.EntityID] = m
	// A module event may beat its test case's first event; materialize the
	// parent so nothing is lost.
	tc := w.ensureCase(ev.ParentID, "")
	tc.Modules = append(tc.Modules, m)
	return m
}

func (w *JUnitWriter) ensureKeyword(ev events.Event) *junitKeyword {
	if k, ok := w.keywords[ev.EntityID]; ok {
		if ev.Name != "" {
			k.Name = ev.Name
		}
		return k
	}
	k := &junitKeyword{Name: ev.Name}
	w.keywords[ev.EntityID] = k
	m, ok := w.modules[ev.ParentID]
	if !ok {
		m = &junitModule{}
		w.modules[ev.ParentID] = m
		tc := w.ensureCase("", "")
		tc.Modules = append(tc.Modules, m)
	}
	m.Keywords = append(m.Keywords, k)
	return k
}

func (w *JUnitWriter) count(ev events.Event) {
	w.suite.Tests++
	switch ev.Status {
	case events.StatusFail:
		w.suite.Failures++
	case events.StatusError:
		w.suite.Errors++
	case events.StatusSkipped:
		w.suite.Skipped++
	}
	w.suite.Time += ev.Elapsed
}

func applyTimes(start, end *string, elapsed *float64, ev events.Event) {
	if ev.StartTime != nil {
		*start = ev.StartTime.Format(timeLayout)
	}
	if ev.EndTime != nil {
		*end = ev.EndTime.Format(timeLayout)
	}
	if ev.Elapsed > 0 {
		*elapsed = ev.Elapsed
	}
}

// redactArgs joins arguments for the report, masking sensitive values.
func redactArgs(args []string) string {
	out := make([]string, len(args))
	for i, a := range args {
		if strings.HasPrefix(a, SensitivePrefix) {
			out[i] = Redacted
		} else {
			out[i] = a
		}
	}
	return strings.Join(out, ", ")
}

// Flush pretty-prints the document to its path.
func (w *JUnitWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *JUnitWriter) flushLocked() error {
	body, err := xml.MarshalIndent(&w.report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling report for session %s: %w", w.sessionID, err)
	}
	doc := append([]byte(xml.Header), body...)
	doc = append(doc, '\n')
	if err := os.WriteFile(w.path, doc, 0o644); err != nil {
		return fmt.Errorf("writing report %s: %w", w.path, err)
	}
	w.logger.Info("Report written",
		"session_id", w.sessionID, "path", w.path, "tests", w.suite.Tests)
	return nil
}

// Close flushes once and drops later events. Safe to call repeatedly.
func (w *JUnitWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.flushLocked()
}

// Snapshot returns current counters, for the API status surface.
func (w *JUnitWriter) Snapshot() (tests, failures, errors, skipped int, elapsed time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.suite.Tests, w.suite.Failures, w.suite.Errors, w.suite.Skipped,
		time.Duration(w.suite.Time * float64(time.Second))
}
