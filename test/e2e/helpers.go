package e2e

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/optics-suite/optics/pkg/events"
)

const (
	waitTimeout  = 10 * time.Second
	pollInterval = 25 * time.Millisecond
)

// doJSON issues one request and decodes the JSON body, returning the status
// code alongside. Non-JSON bodies come back as nil maps.
func (app *TestApp) doJSON(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, app.BaseURL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &decoded)
	}
	return resp.StatusCode, decoded
}

func (app *TestApp) postJSON(t *testing.T, path string, body any, expectedStatus int) map[string]any {
	t.Helper()
	status, decoded := app.doJSON(t, http.MethodPost, path, body)
	require.Equal(t, expectedStatus, status, "POST %s: %v", path, decoded)
	return decoded
}

func (app *TestApp) getJSON(t *testing.T, path string, expectedStatus int) map[string]any {
	t.Helper()
	status, decoded := app.doJSON(t, http.MethodGet, path, nil)
	require.Equal(t, expectedStatus, status, "GET %s: %v", path, decoded)
	return decoded
}

func (app *TestApp) deleteJSON(t *testing.T, path string, expectedStatus int) map[string]any {
	t.Helper()
	status, decoded := app.doJSON(t, http.MethodDelete, path, nil)
	require.Equal(t, expectedStatus, status, "DELETE %s: %v", path, decoded)
	return decoded
}

// EventStream consumes one session's SSE feed in the background, collecting
// decoded events until the server closes the stream or the test ends.
type EventStream struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	events []events.Event
	closed bool
}

// OpenEventStream subscribes to the session's event stream and starts
// collecting. The stream is torn down via t.Cleanup.
func (app *TestApp) OpenEventStream(t *testing.T, sessionID string) *EventStream {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		app.BaseURL+"/v1/sessions/"+sessionID+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	st := &EventStream{cancel: cancel, done: make(chan struct{})}
	go st.readLoop(resp.Body)
	t.Cleanup(st.Close)
	return st
}

// readLoop decodes "data: <json>" frames, dropping heartbeats.
func (st *EventStream) readLoop(body io.ReadCloser) {
	defer close(st.done)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue // blank frame separators
		}
		var ev events.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		if ev.Status == events.StatusHeartbeat {
			continue
		}
		st.mu.Lock()
		st.events = append(st.events, ev)
		st.mu.Unlock()
	}
}

// Events returns a snapshot of everything received so far.
func (st *EventStream) Events() []events.Event {
	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]events.Event(nil), st.events...)
}

// WaitFor blocks until an event matching pred arrives and returns it.
func (st *EventStream) WaitFor(t *testing.T, desc string, pred func(events.Event) bool) events.Event {
	t.Helper()
	var found events.Event
	require.Eventually(t, func() bool {
		for _, ev := range st.Events() {
			if pred(ev) {
				found = ev
				return true
			}
		}
		return false
	}, waitTimeout, pollInterval, "waiting for %s", desc)
	return found
}

// WaitForTerminal blocks until the entity publishes a terminal status.
func (st *EventStream) WaitForTerminal(t *testing.T, entityType events.EntityType, name string) events.Event {
	t.Helper()
	return st.WaitFor(t, string(entityType)+" "+name+" terminal", func(ev events.Event) bool {
		return ev.EntityType == entityType && ev.Name == name && ev.Status.Terminal()
	})
}

// WaitForEnd blocks until the server closes the stream.
func (st *EventStream) WaitForEnd(t *testing.T) {
	t.Helper()
	select {
	case <-st.done:
	case <-time.After(waitTimeout):
		t.Fatal("event stream did not end")
	}
}

// Close cancels the subscription and waits for the read loop to drain.
// Safe to call twice; the harness registers it as a cleanup.
func (st *EventStream) Close() {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		<-st.done
		return
	}
	st.closed = true
	st.mu.Unlock()
	st.cancel()
	<-st.done
}

// eventsFor filters a snapshot down to one entity id, preserving order.
func eventsFor(evs []events.Event, entityID string) []events.Event {
	var out []events.Event
	for _, ev := range evs {
		if ev.EntityID == entityID {
			out = append(out, ev)
		}
	}
	return out
}

// terminalByName finds the terminal event for the named entity.
func terminalByName(evs []events.Event, entityType events.EntityType, name string) (events.Event, bool) {
	for _, ev := range evs {
		if ev.EntityType == entityType && ev.Name == name && ev.Status.Terminal() {
			return ev, true
		}
	}
	return events.Event{}, false
}

// assertRunningPrecedesTerminal checks the ordering invariant: no entity may
// publish a terminal status before its RUNNING.
func assertRunningPrecedesTerminal(t *testing.T, evs []events.Event) {
	t.Helper()
	running := make(map[string]bool)
	for _, ev := range evs {
		switch {
		case ev.Status == events.StatusRunning:
			running[ev.EntityID] = true
		case ev.Status.Terminal():
			require.True(t, running[ev.EntityID],
				"terminal %s for %s %q (%s) arrived without a prior RUNNING",
				ev.Status, ev.EntityType, ev.Name, ev.EntityID)
		}
	}
}
