package keyword

import (
	"context"
	"strconv"

	"github.com/optics-suite/optics/pkg/errcode"
)

// Func executes one keyword call against a session runtime.
type Func func(ctx context.Context, rt Runtime, inv *Invocation) (any, error)

// Invocation carries the arguments of one keyword call after candidate
// selection and variable substitution.
type Invocation struct {
	Args   []string          // positional arguments in declaration order
	Kwargs map[string]string // key=value arguments
	Raw    []string          // parameter strings before substitution
}

// Get returns the argument for a parameter at position i with the given
// name. A positional argument wins over a keyword argument.
func (inv *Invocation) Get(i int, name string) (string, bool) {
	if i >= 0 && i < len(inv.Args) {
		return inv.Args[i], true
	}
	if v, ok := inv.Kwargs[name]; ok {
		return v, true
	}
	return "", false
}

// GetDefault is Get with a fallback value.
func (inv *Invocation) GetDefault(i int, name, def string) string {
	if v, ok := inv.Get(i, name); ok {
		return v
	}
	return def
}

// Int reads an integer parameter. A present but non-integer value yields
// an invalid-parameters error.
func (inv *Invocation) Int(i int, name string, def int) (int, error) {
	v, ok := inv.Get(i, name)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errcode.Newf(errcode.KeywordBadParams,
			"parameter %q must be an integer, got %q", name, v)
	}
	return n, nil
}

// Float reads a float parameter. A present but non-numeric value yields an
// invalid-parameters error.
func (inv *Invocation) Float(i int, name string, def float64) (float64, error) {
	v, ok := inv.Get(i, name)
	if !ok {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, errcode.Newf(errcode.KeywordBadParams,
			"parameter %q must be a number, got %q", name, v)
	}
	return f, nil
}

// Require returns the argument for a required parameter or an
// invalid-parameters error naming it.
func (inv *Invocation) Require(i int, name string) (string, error) {
	v, ok := inv.Get(i, name)
	if !ok || v == "" {
		return "", errcode.Newf(errcode.KeywordBadParams,
			"parameter %q is required", name)
	}
	return v, nil
}

// Rest returns the positional arguments from index i on.
func (inv *Invocation) Rest(i int) []string {
	if i >= len(inv.Args) {
		return nil
	}
	return inv.Args[i:]
}
