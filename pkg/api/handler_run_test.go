package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optics-suite/optics/pkg/config"
	"github.com/optics-suite/optics/pkg/events"
	"github.com/optics-suite/optics/pkg/keyword"
	"github.com/optics-suite/optics/pkg/session"
	"github.com/optics-suite/optics/pkg/suite"
)

func TestRunSuiteHandler(t *testing.T) {
	s := newTestServer(t)
	registerKeyword(s, "noop",
		func(context.Context, keyword.Runtime, *keyword.Invocation) (any, error) {
			return nil, nil
		})
	ts := singleStepSuite(t, suite.StepDef{Keyword: "noop"})
	sess := newSession(t, s, ts)

	rec := doRequest(t, s, http.MethodPost, "/v1/sessions/"+sess.ID()+"/run",
		RunSuiteRequest{})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp RunSuiteResponse
	decodeJSON(t, rec, &resp)
	assert.NotEmpty(t, resp.ExecutionID)
	assert.Equal(t, sess.ID(), resp.SessionID)
	assert.Equal(t, "started", resp.Status)
	assert.False(t, resp.DryRun)

	s.runner.Wait(sess.ID())
	_, active := s.runner.Active(sess.ID())
	assert.False(t, active)
	assert.Equal(t, events.StatusPass, ts.TestCases.State)
}

// A second run for the same session is rejected while the first is in
// flight; the listing exposes the active execution id.
func TestRunSuiteHandlerConflict(t *testing.T) {
	s := newTestServer(t)

	release := make(chan struct{})
	registerKeyword(s, "blocker",
		func(ctx context.Context, _ keyword.Runtime, _ *keyword.Invocation) (any, error) {
			select {
			case <-release:
				return nil, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		})
	ts := singleStepSuite(t, suite.StepDef{Keyword: "blocker"})
	sess := newSession(t, s, ts)

	rec := doRequest(t, s, http.MethodPost, "/v1/sessions/"+sess.ID()+"/run",
		RunSuiteRequest{})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var first RunSuiteResponse
	decodeJSON(t, rec, &first)

	rec = doRequest(t, s, http.MethodPost, "/v1/sessions/"+sess.ID()+"/run",
		RunSuiteRequest{})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "active run")

	rec = doRequest(t, s, http.MethodGet, "/v1/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing SessionListResponse
	decodeJSON(t, rec, &listing)
	require.Equal(t, 1, listing.Count)
	assert.Equal(t, first.ExecutionID, listing.Sessions[0].ActiveExecution)

	close(release)
	s.runner.Wait(sess.ID())

	rec = doRequest(t, s, http.MethodPost, "/v1/sessions/"+sess.ID()+"/run",
		RunSuiteRequest{})
	assert.Equal(t, http.StatusAccepted, rec.Code, "a finished run frees the session")
	s.runner.Wait(sess.ID())
}

// A dry run verifies the suite without invoking callables.
func TestRunSuiteHandlerDryRun(t *testing.T) {
	s := newTestServer(t)

	invoked := 0
	registerKeyword(s, "press_element",
		func(context.Context, keyword.Runtime, *keyword.Invocation) (any, error) {
			invoked++
			return nil, nil
		},
		keyword.Param{Name: "element", Type: keyword.TypeString, Required: true})
	ts := singleStepSuite(t, suite.StepDef{Keyword: "press_element", Params: []string{"//button"}})
	sess := newSession(t, s, ts)

	rec := doRequest(t, s, http.MethodPost, "/v1/sessions/"+sess.ID()+"/run",
		RunSuiteRequest{DryRun: true})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp RunSuiteResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "dry_run_started", resp.Status)
	assert.True(t, resp.DryRun)

	s.runner.Wait(sess.ID())
	assert.Zero(t, invoked, "dry runs must not invoke callables")
}

func TestRunSuiteHandlerUnknownSession(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/v1/sessions/nope/run", RunSuiteRequest{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "session not found")
}

// A server assembled without a runner refuses background runs.
func TestRunSuiteHandlerNoRunner(t *testing.T) {
	logger := testLogger()
	reg := keyword.NewRegistry(logger)
	mgr := session.NewManager(config.DefaultGlobal(), reg, logger)
	t.Cleanup(func() { mgr.TerminateAll(context.Background()) })
	s := NewServer(mgr, reg, nil, config.DefaultGlobal(), logger)

	rec := doRequest(t, s, http.MethodPost, "/v1/sessions/x/run", RunSuiteRequest{})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "runner not available")
}

func TestCommandHandler(t *testing.T) {
	s := newTestServer(t)
	sess := newSession(t, s, nil)

	rec := doRequest(t, s, http.MethodPost, "/v1/sessions/"+sess.ID()+"/command",
		CommandRequest{Kind: "pause"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp CommandResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, sess.ID(), resp.SessionID)
	assert.Equal(t, "pause", resp.Kind)
	assert.Equal(t, "accepted", resp.Status)

	cmd, ok := sess.Bus().PollCommand()
	require.True(t, ok, "command must be queued on the session bus")
	assert.Equal(t, events.CommandPause, cmd.Kind)

	rec = doRequest(t, s, http.MethodPost, "/v1/sessions/"+sess.ID()+"/command",
		CommandRequest{
			Kind:     "add",
			EntityID: "node-7",
			Params:   map[string]any{"keyword": "sleep", "params": []any{"1"}},
		})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	cmd, ok = sess.Bus().PollCommand()
	require.True(t, ok)
	assert.Equal(t, events.CommandAdd, cmd.Kind)
	assert.Equal(t, "node-7", cmd.EntityID)
	assert.Equal(t, "sleep", cmd.Params["keyword"])
}

func TestCommandHandlerValidation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		body   CommandRequest
		errMsg string
	}{
		{
			name:   "unknown kind",
			body:   CommandRequest{Kind: "explode"},
			errMsg: "unknown command kind",
		},
		{
			name:   "retry without entity",
			body:   CommandRequest{Kind: "retry"},
			errMsg: "entity_id is required",
		},
		{
			name:   "skip without entity",
			body:   CommandRequest{Kind: "skip"},
			errMsg: "entity_id is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, s, http.MethodPost, "/v1/sessions/whatever/command", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.errMsg)
		})
	}

	t.Run("unknown session", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodPost, "/v1/sessions/nope/command",
			CommandRequest{Kind: "pause"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
