package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/optics-suite/optics/pkg/events"
	"github.com/optics-suite/optics/pkg/keyword"
	"github.com/optics-suite/optics/pkg/suite"
)

// Target is the session surface a background run needs. *session.Session
// satisfies it.
type Target interface {
	keyword.Runtime
	Bus() *events.Bus
	Suite() *suite.Suite
}

// Runner launches suite executions in the background and tracks at most one
// active run per session. Stop cancels everything and waits for the run
// goroutines to drain.
type Runner struct {
	logger *slog.Logger

	mu      sync.RWMutex
	active  map[string]*run
	stopped bool

	stopOnce sync.Once
	wg       sync.WaitGroup
}

// run pairs an execution with its cancel function for manual cancellation.
type run struct {
	executionID string
	dry         bool
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewRunner returns an idle runner.
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		logger: logger,
		active: make(map[string]*run),
	}
}

// Start launches a suite run (or dry run) for the target session in the
// background and returns its execution id. A session with a run already in
// flight is rejected.
func (r *Runner) Start(t Target, opts Options, dry bool) (string, error) {
	sessionID := t.SessionID()

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return "", fmt.Errorf("runner is stopped")
	}
	if _, busy := r.active[sessionID]; busy {
		r.mu.Unlock()
		return "", fmt.Errorf("session %s already has an active run", sessionID)
	}

	sched := New(t, t.Bus(), opts)
	ctx, cancel := context.WithCancel(context.Background())
	rn := &run{
		executionID: sched.ExecutionID(),
		dry:         dry,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	r.active[sessionID] = rn
	r.wg.Add(1)
	r.mu.Unlock()

	r.logger.Info("Run started",
		"session_id", sessionID, "execution_id", rn.executionID, "dry_run", dry)

	go func() {
		defer r.wg.Done()
		defer close(rn.done)
		defer cancel()

		var err error
		if dry {
			_, err = sched.DryRun(ctx, t.Suite())
		} else {
			_, err = sched.Run(ctx, t.Suite())
		}
		if err != nil {
			r.logger.Warn("Run ended early",
				"session_id", sessionID, "execution_id", rn.executionID, "error", err)
		}

		r.mu.Lock()
		if r.active[sessionID] == rn {
			delete(r.active, sessionID)
		}
		r.mu.Unlock()
	}()

	return rn.executionID, nil
}

// Cancel triggers context cancellation for the session's active run.
// Returns false when no run is in flight.
func (r *Runner) Cancel(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rn, ok := r.active[sessionID]; ok {
		rn.cancel()
		return true
	}
	return false
}

// Active returns the execution id of the session's in-flight run, if any.
func (r *Runner) Active(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rn, ok := r.active[sessionID]; ok {
		return rn.executionID, true
	}
	return "", false
}

// Wait blocks until the session's active run finishes. Returns immediately
// when none is in flight.
func (r *Runner) Wait(sessionID string) {
	r.mu.RLock()
	rn, ok := r.active[sessionID]
	r.mu.RUnlock()
	if ok {
		<-rn.done
	}
}

// Stop cancels all active runs and waits for their goroutines to finish.
// Safe to call more than once.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.stopped = true
		active := make([]string, 0, len(r.active))
		for id, rn := range r.active {
			active = append(active, id)
			rn.cancel()
		}
		r.mu.Unlock()

		if len(active) > 0 {
			r.logger.Info("Waiting for active runs to finish", "session_ids", active)
		}
		r.wg.Wait()
		r.logger.Info("Runner stopped")
	})
}
