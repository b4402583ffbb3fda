package element

import (
	"regexp"
	"strings"

	"github.com/optics-suite/optics/pkg/errcode"
)

var (
	// varExact matches a parameter that is exactly one ${name} reference.
	varExact = regexp.MustCompile(`^\$\{([^}]+)\}$`)
	// varEmbedded matches every ${name} occurrence inside a larger string.
	varEmbedded = regexp.MustCompile(`\$\{([^}]+)\}`)
)

// VarName returns the referenced element name when s is exactly ${name}.
func VarName(s string) (string, bool) {
	m := varExact.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// IsVar reports whether s is exactly one ${name} reference.
func IsVar(s string) bool {
	_, ok := VarName(s)
	return ok
}

// Substitute replaces every embedded ${name} occurrence in s with the
// first stored value for name. A reference to an undefined name is E0702.
func (s *Store) Substitute(in string) (string, error) {
	if !strings.Contains(in, "${") {
		return in, nil
	}

	var missing string
	out := varEmbedded.ReplaceAllStringFunc(in, func(match string) string {
		name := match[2 : len(match)-1]
		val, ok := s.GetFirst(name)
		if !ok {
			if missing == "" {
				missing = name
			}
			return match
		}
		return val
	})
	if missing != "" {
		return "", errcode.Newf(errcode.ParamResolution,
			"Parameter resolution failed: %q is not defined", missing).
			WithDetails(missing)
	}
	return out, nil
}

// Expand returns the candidate list for one parameter string: the full
// stored list when in is exactly ${name}, otherwise a singleton of in
// unchanged. An exact reference to an undefined or empty name returns nil.
func (s *Store) Expand(in string) []string {
	name, ok := VarName(in)
	if !ok {
		return []string{in}
	}
	return s.Get(name)
}
