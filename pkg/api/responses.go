package api

import (
	"time"

	"github.com/optics-suite/optics/pkg/keyword"
)

// StartSessionResponse is returned by POST /v1/sessions/start.
type StartSessionResponse struct {
	SessionID string `json:"session_id"`
	DriverID  string `json:"driver_id,omitempty"`
	Status    string `json:"status"`
}

// SessionInfo is one entry in the session listing.
type SessionInfo struct {
	SessionID       string    `json:"session_id"`
	DriverID        string    `json:"driver_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	ActiveExecution string    `json:"active_execution,omitempty"`
}

// SessionListResponse is returned by GET /v1/sessions.
type SessionListResponse struct {
	Sessions []SessionInfo `json:"sessions"`
	Count    int           `json:"count"`
}

// StopSessionResponse is returned by DELETE /v1/sessions/:id/stop.
type StopSessionResponse struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// ElementsResponse is returned by GET /v1/sessions/:id/elements.
type ElementsResponse struct {
	Elements map[string][]string `json:"elements"`
	Count    int                 `json:"count"`
}

// RunSuiteResponse is returned by POST /v1/sessions/:id/run.
type RunSuiteResponse struct {
	ExecutionID string `json:"execution_id"`
	SessionID   string `json:"session_id"`
	Status      string `json:"status"`
	DryRun      bool   `json:"dry_run,omitempty"`
}

// CommandResponse is returned by POST /v1/sessions/:id/command.
type CommandResponse struct {
	SessionID string `json:"session_id"`
	Kind      string `json:"kind"`
	Status    string `json:"status"`
}

// KeywordCatalogResponse is returned by GET /v1/keywords.
type KeywordCatalogResponse struct {
	Keywords []keyword.Definition `json:"keywords"`
	Count    int                  `json:"count"`
}

// HealthResponse is returned by GET /.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Sessions int    `json:"sessions"`
}
