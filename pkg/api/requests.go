package api

// ActionRequest is the HTTP request body for POST /v1/sessions/:id/action.
type ActionRequest struct {
	Mode    string   `json:"mode,omitempty"` // only "keyword" is supported
	Keyword string   `json:"keyword"`
	Params  []string `json:"params,omitempty"`
}

// RunSuiteRequest is the HTTP request body for POST /v1/sessions/:id/run.
type RunSuiteRequest struct {
	DryRun bool `json:"dry_run,omitempty"`
}

// CommandRequest is the HTTP request body for POST /v1/sessions/:id/command.
// Kind is one of retry, add, skip, pause, resume; retry/add/skip address a
// node by entity_id.
type CommandRequest struct {
	Kind     string         `json:"kind"`
	EntityID string         `json:"entity_id,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
	ParentID string         `json:"parent_id,omitempty"`
}
