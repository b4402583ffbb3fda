package suite

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// KeywordMatcher reports whether a normalized keyword name is registered.
// The YAML parser uses it to split step lines into keyword text and
// parameter tokens.
type KeywordMatcher func(normalized string) bool

// stringList accepts either a YAML scalar or a sequence of scalars.
type stringList []string

func (l *stringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*l = []string{node.Value}
		return nil
	case yaml.SequenceNode:
		var vals []string
		if err := node.Decode(&vals); err != nil {
			return err
		}
		*l = vals
		return nil
	default:
		return fmt.Errorf("line %d: expected scalar or sequence", node.Line)
	}
}

// yamlSuite mirrors the on-disk YAML layout. Test cases and modules are
// ordered lists of single-key mappings.
type yamlSuite struct {
	TestCases []map[string][]string `yaml:"Test Cases"`
	Modules   []map[string][]string `yaml:"Modules"`
	Elements  map[string]stringList `yaml:"Elements"`
	API       map[string]APICall    `yaml:"api"`
	APIs      map[string]APICall    `yaml:"apis"`
	Templates map[string]string     `yaml:"Templates"`
}

// ParseYAMLSuite reads the YAML suite format. known drives keyword/parameter
// splitting of step lines; nil falls back to heuristics.
func ParseYAMLSuite(data []byte, known KeywordMatcher) (*Definition, error) {
	var doc yamlSuite
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing yaml suite: %w", err)
	}

	def := NewDefinition()
	for _, entry := range doc.TestCases {
		if len(entry) != 1 {
			return nil, fmt.Errorf("test case entries must be single-key mappings, got %d keys", len(entry))
		}
		for name, moduleNames := range entry {
			def.TestCases = append(def.TestCases, TestCaseDef{
				Name:        name,
				ModuleNames: moduleNames,
			})
		}
	}
	for _, entry := range doc.Modules {
		if len(entry) != 1 {
			return nil, fmt.Errorf("module entries must be single-key mappings, got %d keys", len(entry))
		}
		for name, lines := range entry {
			mod := ModuleDef{Name: name}
			for _, line := range lines {
				kw, params := SplitStep(line, known)
				if kw == "" {
					continue
				}
				mod.Steps = append(mod.Steps, StepDef{Keyword: kw, Params: params})
			}
			def.Modules[name] = mod
		}
	}
	for name, vals := range doc.Elements {
		def.Elements[name] = append(def.Elements[name], vals...)
	}
	for name, api := range doc.API {
		def.APIs[name] = api
	}
	for name, api := range doc.APIs {
		def.APIs[name] = api
	}
	for name, path := range doc.Templates {
		def.Templates[name] = path
	}
	return def, nil
}

// NormalizeKeyword lowercases and replaces spaces with underscores, the
// canonical registry form.
func NormalizeKeyword(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

type stepToken struct {
	text   string
	quoted bool
}

// SplitStep divides a step line into keyword text and parameter tokens. With
// a matcher, the longest token prefix forming a known keyword wins. Without
// one, the keyword ends at the first parameter-looking token (a ${...}
// reference, a quoted string, or a key=value pair), defaulting to the first
// token alone.
func SplitStep(line string, known KeywordMatcher) (string, []string) {
	tokens := tokenizeStep(line)
	if len(tokens) == 0 {
		return "", nil
	}

	boundary := -1
	if known != nil {
		for n := len(tokens); n >= 1; n-- {
			if anyQuoted(tokens[:n]) {
				continue
			}
			if known(NormalizeKeyword(joinTokens(tokens[:n]))) {
				boundary = n
				break
			}
		}
	}
	if boundary < 0 {
		boundary = 1
		for i := 1; i < len(tokens); i++ {
			if paramLooking(tokens[i]) {
				boundary = i
				break
			}
		}
	}

	params := make([]string, 0, len(tokens)-boundary)
	for _, tok := range tokens[boundary:] {
		params = append(params, tok.text)
	}
	return joinTokens(tokens[:boundary]), params
}

func anyQuoted(tokens []stepToken) bool {
	for _, tok := range tokens {
		if tok.quoted {
			return true
		}
	}
	return false
}

func joinTokens(tokens []stepToken) string {
	parts := make([]string, len(tokens))
	for i, tok := range tokens {
		parts[i] = tok.text
	}
	return strings.Join(parts, " ")
}

// paramLooking recognizes tokens that can only be parameters.
func paramLooking(tok stepToken) bool {
	if tok.quoted {
		return true
	}
	s := tok.text
	if strings.HasPrefix(s, "${") {
		return true
	}
	if strings.Contains(s, "=") && !strings.HasPrefix(s, "/") && !strings.HasPrefix(s, "(") {
		return true
	}
	return false
}

// tokenizeStep splits on whitespace, keeping double-quoted runs as one token
// with the quotes stripped.
func tokenizeStep(line string) []stepToken {
	var tokens []stepToken
	var cur strings.Builder
	inQuote := false
	quoted := false

	flush := func() {
		if cur.Len() > 0 || quoted {
			tokens = append(tokens, stepToken{text: cur.String(), quoted: quoted})
			cur.Reset()
			quoted = false
		}
	}

	for _, r := range line {
		switch {
		case r == '"':
			if inQuote {
				inQuote = false
			} else {
				inQuote = true
				quoted = true
			}
		case (r == ' ' || r == '\t') && !inQuote:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}
