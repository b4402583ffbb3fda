// Package suite models executable test suites: the linked node tree the
// scheduler walks, plus parsers for the CSV and YAML on-disk formats.
package suite

import (
	"github.com/google/uuid"

	"github.com/optics-suite/optics/pkg/errcode"
	"github.com/optics-suite/optics/pkg/events"
)

// DefaultMaxAttempts bounds retry commands per node.
const DefaultMaxAttempts = 3

// Keyword is one executable step. Nodes form a singly linked list under
// their module.
type Keyword struct {
	ID            string
	Name          string // as written in the suite; normalized at lookup
	ParentID      string
	State         events.Status
	AttemptCount  int
	MaxAttempts   int
	FailureReason string
	Params        []string
	Next          *Keyword
}

// Module is an ordered keyword list. Modules under a test case are clones of
// the shared module definition, so state is per test case.
type Module struct {
	ID            string
	Name          string
	ParentID      string
	State         events.Status
	AttemptCount  int
	MaxAttempts   int
	FailureReason string
	Keywords      *Keyword
	Next          *Module
}

// TestCase heads one linked module list.
type TestCase struct {
	ID            string
	Name          string
	State         events.Status
	AttemptCount  int
	MaxAttempts   int
	FailureReason string
	Modules       *Module
	Next          *TestCase
}

// APICall is a declared HTTP call invocable by the invoke_api keyword.
type APICall struct {
	Name    string            `yaml:"-" json:"name"`
	Method  string            `yaml:"method" json:"method"`
	URL     string            `yaml:"url" json:"url"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Body    string            `yaml:"body,omitempty" json:"body,omitempty"`
	// Extract maps element-store names to response JSON fields.
	Extract map[string]string `yaml:"extract,omitempty" json:"extract,omitempty"`
}

// Suite is a fully instantiated execution tree plus its lookup tables.
type Suite struct {
	TestCases *TestCase
	Elements  map[string][]string
	APIs      map[string]APICall
	Templates map[string]string // image name → file path
}

// StepDef is one keyword line in a module definition.
type StepDef struct {
	Keyword string
	Params  []string
}

// ModuleDef is a reusable module: test cases reference it by name and get
// their own clone.
type ModuleDef struct {
	Name  string
	Steps []StepDef
}

// TestCaseDef is a parsed test case: a name plus ordered module references.
type TestCaseDef struct {
	Name        string
	ModuleNames []string
}

// Definition is the parsed, pre-instantiation form of a suite. Parsers for
// the on-disk formats fill it; Build turns it into the executable tree.
type Definition struct {
	TestCases []TestCaseDef
	Modules   map[string]ModuleDef
	Elements  map[string][]string
	APIs      map[string]APICall
	Templates map[string]string
}

// NewDefinition returns an empty definition ready for merging.
func NewDefinition() *Definition {
	return &Definition{
		Modules:   make(map[string]ModuleDef),
		Elements:  make(map[string][]string),
		APIs:      make(map[string]APICall),
		Templates: make(map[string]string),
	}
}

// Merge folds other into d. Test cases append; same-name modules replace;
// element lists append.
func (d *Definition) Merge(other *Definition) {
	d.TestCases = append(d.TestCases, other.TestCases...)
	for name, m := range other.Modules {
		d.Modules[name] = m
	}
	for name, vals := range other.Elements {
		d.Elements[name] = append(d.Elements[name], vals...)
	}
	for name, api := range other.APIs {
		d.APIs[name] = api
	}
	for name, path := range other.Templates {
		d.Templates[name] = path
	}
}

// Build instantiates the execution tree. Every module reference clones the
// definition so per-test-case state stays independent. A reference to an
// unknown module is E0601.
func (d *Definition) Build() (*Suite, error) {
	s := &Suite{
		Elements:  make(map[string][]string, len(d.Elements)),
		APIs:      make(map[string]APICall, len(d.APIs)),
		Templates: make(map[string]string, len(d.Templates)),
	}
	for name, vals := range d.Elements {
		s.Elements[name] = append([]string(nil), vals...)
	}
	for name, api := range d.APIs {
		api.Name = name
		s.APIs[name] = api
	}
	for name, path := range d.Templates {
		s.Templates[name] = path
	}

	var tail *TestCase
	for _, tcDef := range d.TestCases {
		tc := &TestCase{
			ID:          uuid.New().String(),
			Name:        tcDef.Name,
			State:       events.StatusNotRun,
			MaxAttempts: DefaultMaxAttempts,
		}
		var modTail *Module
		for _, modName := range tcDef.ModuleNames {
			def, ok := d.Modules[modName]
			if !ok {
				return nil, errcode.Newf(errcode.ModuleNotFound,
					"Module %q referenced by test case %q is not defined", modName, tcDef.Name)
			}
			mod := instantiateModule(def, tc.ID)
			if modTail == nil {
				tc.Modules = mod
			} else {
				modTail.Next = mod
			}
			modTail = mod
		}
		if tail == nil {
			s.TestCases = tc
		} else {
			tail.Next = tc
		}
		tail = tc
	}
	return s, nil
}

// instantiateModule clones a module definition into fresh nodes.
func instantiateModule(def ModuleDef, parentID string) *Module {
	mod := &Module{
		ID:          uuid.New().String(),
		Name:        def.Name,
		ParentID:    parentID,
		State:       events.StatusNotRun,
		MaxAttempts: DefaultMaxAttempts,
	}
	var tail *Keyword
	for _, step := range def.Steps {
		kw := &Keyword{
			ID:          uuid.New().String(),
			Name:        step.Keyword,
			ParentID:    mod.ID,
			State:       events.StatusNotRun,
			MaxAttempts: DefaultMaxAttempts,
			Params:      append([]string(nil), step.Params...),
		}
		if tail == nil {
			mod.Keywords = kw
		} else {
			tail.Next = kw
		}
		tail = kw
	}
	return mod
}

// InsertAfter splices kw in directly after cur.
func (cur *Keyword) InsertAfter(kw *Keyword) {
	kw.ParentID = cur.ParentID
	kw.Next = cur.Next
	cur.Next = kw
}

// InsertAfter splices mod in directly after cur.
func (cur *Module) InsertAfter(mod *Module) {
	mod.ParentID = cur.ParentID
	mod.Next = cur.Next
	cur.Next = mod
}

// NewKeywordNode builds a standalone keyword node, used by the scheduler for
// ad-hoc single-keyword runs and Add commands.
func NewKeywordNode(name string, params []string) *Keyword {
	return &Keyword{
		ID:          uuid.New().String(),
		Name:        name,
		State:       events.StatusNotRun,
		MaxAttempts: DefaultMaxAttempts,
		Params:      append([]string(nil), params...),
	}
}
