package keyword

import (
	"context"
	"strconv"
	"time"

	"github.com/optics-suite/optics/pkg/element"
	"github.com/optics-suite/optics/pkg/errcode"
)

// FlowProvider contributes the control-flow keywords that never touch a
// driver.
type FlowProvider struct{}

func (FlowProvider) Keywords() []Definition {
	return []Definition{
		{
			Name:    "sleep",
			Summary: "Pause execution for a number of seconds.",
			Params: []Param{
				{Name: "seconds", Type: TypeFloat, Required: true},
			},
			Fn: sleepKeyword,
		},
		{
			Name:    "run_loop",
			Summary: "Invoke another keyword a fixed number of times.",
			Params: []Param{
				{Name: "count", Type: TypeInt, Required: true},
				{Name: "keyword", Type: TypeString, Required: true},
				{Name: "params", Type: TypeList, Variadic: true},
			},
			Fn: runLoop,
		},
		{
			Name:    "set_variable",
			Summary: "Store a value list under a name in the element store.",
			Params: []Param{
				{Name: "name", Type: TypeString, Required: true},
				{Name: "values", Type: TypeList, Required: true, Variadic: true},
			},
			RawIndices: map[int]bool{0: true},
			Fn:         setVariable,
		},
		{
			Name:    "clear_variable",
			Summary: "Remove a name from the element store.",
			Params: []Param{
				{Name: "name", Type: TypeString, Required: true},
			},
			RawIndices: map[int]bool{0: true},
			Fn:         clearVariable,
		},
	}
}

func sleepKeyword(ctx context.Context, _ Runtime, inv *Invocation) (any, error) {
	v, err := inv.Require(0, "seconds")
	if err != nil {
		return nil, err
	}
	seconds, err := strconv.ParseFloat(v, 64)
	if err != nil || seconds < 0 {
		return nil, errcode.Newf(errcode.KeywordBadParams,
			"sleep duration must be a non-negative number, got %q", v)
	}
	select {
	case <-time.After(time.Duration(seconds * float64(time.Second))):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func runLoop(ctx context.Context, rt Runtime, inv *Invocation) (any, error) {
	v, err := inv.Require(0, "count")
	if err != nil {
		return nil, err
	}
	count, err := strconv.Atoi(v)
	if err != nil || count < 0 {
		return nil, errcode.Newf(errcode.KeywordBadParams,
			"run_loop count must be a non-negative integer, got %q", v)
	}
	name, err := inv.Require(1, "keyword")
	if err != nil {
		return nil, err
	}
	target, ok := rt.Keywords().Lookup(name)
	if !ok {
		return nil, errcode.New(errcode.KeywordNotFound).WithDetails(name)
	}
	rest := inv.Rest(2)
	for i := 0; i < count; i++ {
		sub := &Invocation{Args: rest, Kwargs: inv.Kwargs, Raw: rest}
		// Inner errors propagate unchanged so element-family codes keep
		// their candidate-fallback meaning at the run_loop call site.
		if _, err := target.Fn(ctx, rt, sub); err != nil {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return count, nil
}

// variableName accepts both a bare name and its ${name} spelling.
func variableName(raw string) string {
	if name, ok := element.VarName(raw); ok {
		return name
	}
	return raw
}

func setVariable(_ context.Context, rt Runtime, inv *Invocation) (any, error) {
	raw, err := inv.Require(0, "name")
	if err != nil {
		return nil, err
	}
	values := inv.Rest(1)
	if len(values) == 0 {
		return nil, errcode.New(errcode.KeywordBadParams).
			WithDetails("set_variable requires at least one value")
	}
	name := variableName(raw)
	rt.Elements().Set(name, values)
	return name, nil
}

func clearVariable(_ context.Context, rt Runtime, inv *Invocation) (any, error) {
	raw, err := inv.Require(0, "name")
	if err != nil {
		return nil, err
	}
	name := variableName(raw)
	rt.Elements().Remove(name)
	return name, nil
}
