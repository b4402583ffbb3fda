// Package scheduler walks a session's execution tree and turns it into
// lifecycle events. Test cases, modules and keywords are visited in order by
// a single goroutine; every node publishes RUNNING before its terminal
// status on the session bus. Control commands (retry, skip, add, pause,
// resume) are consumed at suspension points between keywords via a
// non-blocking poll, so external clients steer a run without ever blocking
// it.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/optics-suite/optics/pkg/events"
	"github.com/optics-suite/optics/pkg/keyword"
	"github.com/optics-suite/optics/pkg/suite"
)

const (
	// DefaultCombinationCap bounds callable invocations per keyword run.
	DefaultCombinationCap = 20

	// pausePollInterval is how often a paused walk re-checks for a resume
	// command.
	pausePollInterval = 100 * time.Millisecond
)

// Scheduler executes one suite walk (or ad-hoc keyword) against a session
// runtime. Instances are single-use and single-threaded: the runner
// serializes runs per session.
type Scheduler struct {
	rt     keyword.Runtime
	bus    *events.Bus
	logger *slog.Logger

	combinationCap int
	executionID    string

	// pending holds polled commands awaiting their target node, keyed by
	// entity id. Pause and resume act on the walk directly and are never
	// stored.
	pending map[string][]events.Command
	paused  bool
}

// Options tune one scheduler instance.
type Options struct {
	// CombinationCap bounds callable invocations per keyword run.
	// Zero or negative selects DefaultCombinationCap.
	CombinationCap int
	Logger         *slog.Logger
}

// New creates a scheduler bound to a session runtime and its event bus.
func New(rt keyword.Runtime, bus *events.Bus, opts Options) *Scheduler {
	capLimit := opts.CombinationCap
	if capLimit <= 0 {
		capLimit = DefaultCombinationCap
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		rt:             rt,
		bus:            bus,
		logger:         logger.With("session_id", rt.SessionID()),
		combinationCap: capLimit,
		executionID:    uuid.New().String(),
		pending:        make(map[string][]events.Command),
	}
}

// ExecutionID identifies this scheduler's run in published events.
func (s *Scheduler) ExecutionID() string { return s.executionID }

// Summary aggregates the outcome of one suite walk.
type Summary struct {
	ExecutionID string        `json:"execution_id"`
	Total       int           `json:"total"`
	Passed      int           `json:"passed"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	Elapsed     time.Duration `json:"-"`
}

// Run walks every test case of the suite, executing keywords against the
// session runtime. A keyword failure fails its module and test case; the
// walk then continues with the next test case. Returns ctx.Err() when the
// walk was canceled mid-run.
func (s *Scheduler) Run(ctx context.Context, ts *suite.Suite) (*Summary, error) {
	return s.walk(ctx, ts, false)
}

// ────────────────────────────────────────────────────────────
// Tree walk
// ────────────────────────────────────────────────────────────

func (s *Scheduler) walk(ctx context.Context, ts *suite.Suite, dry bool) (*Summary, error) {
	logger := s.logger.With("execution_id", s.executionID, "dry_run", dry)
	logger.Info("Execution started")

	start := time.Now()
	s.publish(events.Event{
		EntityType: events.EntityExecution,
		EntityID:   s.executionID,
		Name:       "execution",
		Status:     events.StatusRunning,
		Extra:      map[string]any{"dry_run": dry},
	})

	sum := &Summary{ExecutionID: s.executionID}
	for tc := ts.TestCases; tc != nil; tc = tc.Next {
		if err := ctx.Err(); err != nil {
			sum.Elapsed = time.Since(start)
			s.publish(events.Event{
				EntityType: events.EntityExecution,
				EntityID:   s.executionID,
				Name:       "execution",
				Status:     events.StatusError,
				Message:    "execution canceled",
				Elapsed:    sum.Elapsed.Seconds(),
			})
			logger.Warn("Execution canceled", "completed_test_cases", sum.Total)
			return sum, err
		}

		s.runTestCase(ctx, tc, dry)

		sum.Total++
		switch tc.State {
		case events.StatusPass:
			sum.Passed++
		case events.StatusSkipped:
			sum.Skipped++
		default:
			sum.Failed++
		}
	}

	sum.Elapsed = time.Since(start)
	status := events.StatusPass
	if sum.Failed > 0 {
		status = events.StatusFail
	}
	s.publish(events.Event{
		EntityType: events.EntityExecution,
		EntityID:   s.executionID,
		Name:       "execution",
		Status:     status,
		Elapsed:    sum.Elapsed.Seconds(),
		Extra: map[string]any{
			"total":   sum.Total,
			"passed":  sum.Passed,
			"failed":  sum.Failed,
			"skipped": sum.Skipped,
		},
	})
	logger.Info("Execution finished",
		"status", status,
		"total", sum.Total,
		"passed", sum.Passed,
		"failed", sum.Failed,
		"elapsed", sum.Elapsed)
	return sum, nil
}

// runTestCase walks the module list. The first module failure fails the
// test case; remaining modules are not run.
func (s *Scheduler) runTestCase(ctx context.Context, tc *suite.TestCase, dry bool) {
	logger := s.logger.With("test_case", tc.Name)
	logger.Info("Test case started")

	start := time.Now()
	tc.State = events.StatusRunning
	s.publish(events.Event{
		EntityType: events.EntityTestCase,
		EntityID:   tc.ID,
		Name:       tc.Name,
		Status:     events.StatusRunning,
		ParentID:   s.executionID,
	})

	for mod := tc.Modules; mod != nil; mod = mod.Next {
		if err := s.runModule(ctx, mod, dry); err != nil {
			tc.State = events.StatusFail
			tc.FailureReason = fmt.Sprintf("module %q failed: %s", mod.Name, mod.FailureReason)
			break
		}
	}

	end := time.Now()
	elapsed := end.Sub(start)
	if tc.State != events.StatusFail {
		tc.State = events.StatusPass
	}
	s.publish(events.Event{
		EntityType: events.EntityTestCase,
		EntityID:   tc.ID,
		Name:       tc.Name,
		Status:     tc.State,
		Message:    tc.FailureReason,
		ParentID:   s.executionID,
		StartTime:  &start,
		EndTime:    &end,
		Elapsed:    elapsed.Seconds(),
	})
	logger.Info("Test case finished", "status", tc.State, "elapsed", elapsed)
}

// runModule walks the keyword list, honoring suspension points between
// keywords. Returns an error when a keyword fails, which fails the module.
func (s *Scheduler) runModule(ctx context.Context, mod *suite.Module, dry bool) error {
	start := time.Now()
	mod.State = events.StatusRunning
	s.publish(events.Event{
		EntityType: events.EntityModule,
		EntityID:   mod.ID,
		Name:       mod.Name,
		Status:     events.StatusRunning,
		ParentID:   mod.ParentID,
	})

	for kw := mod.Keywords; kw != nil; kw = kw.Next {
		if err := s.suspensionPoint(ctx); err != nil {
			mod.State = events.StatusError
			mod.FailureReason = "execution canceled"
			s.finishModule(mod, start)
			return err
		}

		if s.takeSkip(kw.ID) {
			s.skipKeyword(kw)
			s.applyAdds(kw)
			continue
		}

		out := s.runKeywordNode(ctx, kw, dry)
		if out.failed() {
			mod.State = events.StatusFail
			mod.FailureReason = fmt.Sprintf("keyword %q failed: %s", kw.Name, out.message)
			s.finishModule(mod, start)
			return fmt.Errorf("%s", mod.FailureReason)
		}
		s.applyAdds(kw)
	}

	mod.State = events.StatusPass
	s.finishModule(mod, start)
	return nil
}

// finishModule publishes the module's terminal event from its node state.
func (s *Scheduler) finishModule(mod *suite.Module, start time.Time) {
	end := time.Now()
	s.publish(events.Event{
		EntityType: events.EntityModule,
		EntityID:   mod.ID,
		Name:       mod.Name,
		Status:     mod.State,
		Message:    mod.FailureReason,
		ParentID:   mod.ParentID,
		StartTime:  &start,
		EndTime:    &end,
		Elapsed:    end.Sub(start).Seconds(),
	})
}

// skipKeyword marks a node skipped without invoking it. RUNNING is published
// first so terminal events always follow one.
func (s *Scheduler) skipKeyword(kw *suite.Keyword) {
	s.logger.Info("Keyword skipped by command", "keyword", kw.Name, "entity_id", kw.ID)
	now := time.Now()
	s.publish(events.Event{
		EntityType: events.EntityKeyword,
		EntityID:   kw.ID,
		Name:       kw.Name,
		Status:     events.StatusRunning,
		ParentID:   kw.ParentID,
		Args:       kw.Params,
	})
	kw.State = events.StatusSkipped
	s.publish(events.Event{
		EntityType: events.EntityKeyword,
		EntityID:   kw.ID,
		Name:       kw.Name,
		Status:     events.StatusSkipped,
		Message:    "skipped by command",
		ParentID:   kw.ParentID,
		Args:       kw.Params,
		StartTime:  &now,
		EndTime:    &now,
	})
}

// publish stamps and enqueues one event.
func (s *Scheduler) publish(ev events.Event) {
	ev.Timestamp = time.Now()
	s.bus.Publish(ev)
}
