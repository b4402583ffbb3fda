// Package keyword maps normalized keyword names to callables and mirrors
// each callable's parameter shape into a metadata record for the public
// catalog. Built-in keywords are contributed by providers; a session binds
// the registry to its runtime at execution time.
package keyword

import (
	"image"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/optics-suite/optics/pkg/backend"
	"github.com/optics-suite/optics/pkg/element"
	"github.com/optics-suite/optics/pkg/errcode"
	"github.com/optics-suite/optics/pkg/strategy"
	"github.com/optics-suite/optics/pkg/suite"
)

// ParamType is the declared value shape of a keyword parameter.
type ParamType string

const (
	TypeString ParamType = "string"
	TypeInt    ParamType = "int"
	TypeFloat  ParamType = "float"
	TypeBool   ParamType = "bool"
	TypeList   ParamType = "list"
)

// Param describes one parameter of a keyword callable. The slice of params
// on a Definition is the catalog entry external clients see.
type Param struct {
	Name     string    `json:"name"`
	Type     ParamType `json:"type"`
	Default  string    `json:"default,omitempty"`
	Required bool      `json:"required"`
	Variadic bool      `json:"variadic,omitempty"`
}

// Definition binds a keyword name to its callable and parameter metadata.
type Definition struct {
	Name    string  `json:"name"`
	Summary string  `json:"summary,omitempty"`
	Params  []Param `json:"params"`
	// RawIndices marks parameter positions that must reach the callable
	// without variable substitution.
	RawIndices map[int]bool `json:"-"`
	Fn         Func         `json:"-"`
}

// RawParams returns the raw-parameter positions in ascending order.
func (d Definition) RawParams() []int {
	if len(d.RawIndices) == 0 {
		return nil
	}
	out := make([]int, 0, len(d.RawIndices))
	for i, raw := range d.RawIndices {
		if raw {
			out = append(out, i)
		}
	}
	sort.Ints(out)
	return out
}

// Provider contributes a set of keyword definitions to a registry.
type Provider interface {
	Keywords() []Definition
}

// Registry maps normalized keyword names to definitions. Registration
// happens at session construction; lookups afterwards are concurrent.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Definition
	logger *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byName: make(map[string]Definition),
		logger: logger,
	}
}

// Register adds one definition under its normalized name. A duplicate name
// logs a warning and keeps the last registration.
func (r *Registry) Register(def Definition) {
	name := suite.NormalizeKeyword(def.Name)
	if name == "" || def.Fn == nil {
		r.logger.Warn("Ignoring unusable keyword definition", "name", def.Name)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		r.logger.Warn("Duplicate keyword registration, keeping last",
			"code", string(errcode.KeywordDuplicate), "keyword", name)
	}
	def.Name = name
	r.byName[name] = def
}

// RegisterProvider registers every definition the provider contributes.
func (r *Registry) RegisterProvider(p Provider) {
	for _, def := range p.Keywords() {
		r.Register(def)
	}
}

// Lookup finds a definition by name, normalizing first.
func (r *Registry) Lookup(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byName[suite.NormalizeKeyword(name)]
	return def, ok
}

// Names returns all registered keyword names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the catalog sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.byName))
	for _, def := range r.byName {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Len returns the number of registered keywords.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// Matcher adapts the registry for suite step splitting.
func (r *Registry) Matcher() suite.KeywordMatcher {
	return func(normalized string) bool {
		r.mu.RLock()
		defer r.mu.RUnlock()
		_, ok := r.byName[normalized]
		return ok
	}
}

// APIRecord captures one executed API exchange for the session's
// api_details artifacts.
type APIRecord struct {
	Name            string
	Method          string
	URL             string
	RequestHeaders  map[string]string
	RequestBody     string
	Status          int
	ResponseHeaders map[string]string
	ResponseBody    string
	StartedAt       time.Time
	Elapsed         time.Duration
}

// Runtime is the per-session surface keyword callables run against.
// Implemented by the session package to avoid an import cycle.
type Runtime interface {
	SessionID() string
	Driver() (backend.Driver, error)
	Backends() *backend.Registry
	Elements() *element.Store
	Locator() *strategy.Manager
	Bridge() *backend.AsyncBridge
	Keywords() *Registry
	Logger() *slog.Logger

	// Artifact sinks under the session output directory.
	OutputDir() string
	SaveScreenshot(keyword string, img image.Image) (string, error)
	AppendPageSource(source string) error
	WriteInteractables(items []backend.ScreenElement) error
	RecordAPICall(rec APIRecord) error

	// API returns a declared API call by name.
	API(name string) (suite.APICall, bool)
}
