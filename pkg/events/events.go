package events

import "time"

// EntityType identifies which node of the execution tree an event describes.
type EntityType string

const (
	EntityTestCase  EntityType = "test_case"
	EntityModule    EntityType = "module"
	EntityKeyword   EntityType = "keyword"
	EntityExecution EntityType = "execution"
)

// Status is the lifecycle state carried on events and test nodes.
type Status string

const (
	StatusNotRun    Status = "NOT_RUN"
	StatusRunning   Status = "RUNNING"
	StatusPass      Status = "PASS"
	StatusFail      Status = "FAIL"
	StatusError     Status = "ERROR"
	StatusSkipped   Status = "SKIPPED"
	StatusRetrying  Status = "RETRYING"
	StatusHeartbeat Status = "HEARTBEAT" // stream keepalive only, never stored on nodes
)

// Terminal reports whether s ends an entity's current run.
func (s Status) Terminal() bool {
	switch s {
	case StatusPass, StatusFail, StatusError, StatusSkipped:
		return true
	}
	return false
}

// Event is the immutable execution record published on the session bus.
type Event struct {
	EntityType EntityType     `json:"entity_type"`          // test_case, module, keyword, execution
	EntityID   string         `json:"entity_id"`            // node UUID
	Name       string         `json:"name"`                 // display name
	Status     Status         `json:"status"`               // lifecycle state
	Message    string         `json:"message,omitempty"`    // failure reason or note
	ParentID   string         `json:"parent_id,omitempty"`  // enclosing node UUID
	Extra      map[string]any `json:"extra,omitempty"`      // free-form context
	Timestamp  time.Time      `json:"timestamp"`            // publication time
	Args       []string       `json:"args,omitempty"`       // keyword arguments as run
	StartTime  *time.Time     `json:"start_time,omitempty"` // set on terminal keyword events
	EndTime    *time.Time     `json:"end_time,omitempty"`
	Elapsed    float64        `json:"elapsed,omitempty"` // seconds
	Logs       []string       `json:"logs,omitempty"`    // per-keyword log lines
}

// CommandKind selects the scheduler control operation.
type CommandKind string

const (
	CommandRetry  CommandKind = "retry"
	CommandAdd    CommandKind = "add"
	CommandSkip   CommandKind = "skip"
	CommandPause  CommandKind = "pause"
	CommandResume CommandKind = "resume"
)

// Command is a control message consumed by the scheduler at suspension
// points.
type Command struct {
	Kind     CommandKind    `json:"kind"`
	EntityID string         `json:"entity_id"`           // target node UUID
	Params   map[string]any `json:"params,omitempty"`    // kind-specific payload
	ParentID string         `json:"parent_id,omitempty"` // insertion parent for add
}
