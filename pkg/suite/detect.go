package suite

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileKind is what a suite input file turned out to contain.
type FileKind string

const (
	FileUnknown      FileKind = "unknown"
	FileTestCasesCSV FileKind = "test_cases_csv"
	FileModulesCSV   FileKind = "modules_csv"
	FileElementsCSV  FileKind = "elements_csv"
	FileSuiteYAML    FileKind = "suite_yaml"
	FileConfigYAML   FileKind = "config_yaml"
)

// DetectFile classifies content by inspecting it, never by file name. CSV
// kinds are recognized by their header sets, YAML config by the presence of
// driver_sources plus an elements-sources key, any other YAML with suite
// keys as a suite.
func DetectFile(content []byte) FileKind {
	trimmed := bytes.TrimLeft(content, " \t\r\n")
	if len(trimmed) == 0 {
		return FileUnknown
	}

	if kind := detectCSVHeader(trimmed); kind != FileUnknown {
		return kind
	}

	var doc map[string]any
	if err := yaml.Unmarshal(content, &doc); err != nil || len(doc) == 0 {
		return FileUnknown
	}
	if _, ok := doc["driver_sources"]; ok {
		if hasAny(doc, "elements_sources", "element_sources") {
			return FileConfigYAML
		}
	}
	if hasAny(doc, "Test Cases", "Modules", "Elements", "api", "apis") {
		return FileSuiteYAML
	}
	return FileUnknown
}

func hasAny(doc map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := doc[k]; ok {
			return true
		}
	}
	return false
}

func detectCSVHeader(content []byte) FileKind {
	line := content
	if i := bytes.IndexByte(content, '\n'); i >= 0 {
		line = content[:i]
	}
	fields := strings.Split(strings.TrimSpace(string(line)), ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	switch {
	case len(fields) >= 2 && strings.EqualFold(fields[0], "test_case") && strings.EqualFold(fields[1], "test_step"):
		return FileTestCasesCSV
	case len(fields) >= 2 && strings.EqualFold(fields[0], "module_name") && strings.EqualFold(fields[1], "module_step"):
		return FileModulesCSV
	case len(fields) >= 2 && strings.EqualFold(fields[0], "Element_Name") && strings.EqualFold(fields[1], "Element_ID"):
		return FileElementsCSV
	}
	return FileUnknown
}

// LoadFiles reads each path, detects its kind and merges everything into one
// definition. Config files in the list are skipped (the config loader owns
// them); unknown content is an error naming the file.
func LoadFiles(paths []string, known KeywordMatcher) (*Definition, error) {
	def := NewDefinition()
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading suite file: %w", err)
		}
		part, err := parseByKind(content, known)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if part != nil {
			def.Merge(part)
		}
	}
	return def, nil
}

// LoadDirectory loads every .csv/.yaml/.yml file under dir, in sorted order.
func LoadDirectory(dir string, known KeywordMatcher) (*Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading suite directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".csv", ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return LoadFiles(paths, known)
}

func parseByKind(content []byte, known KeywordMatcher) (*Definition, error) {
	switch DetectFile(content) {
	case FileTestCasesCSV:
		return ParseTestCasesCSV(bytes.NewReader(content))
	case FileModulesCSV:
		return ParseModulesCSV(bytes.NewReader(content))
	case FileElementsCSV:
		return ParseElementsCSV(bytes.NewReader(content))
	case FileSuiteYAML:
		return ParseYAMLSuite(content, known)
	case FileConfigYAML:
		return nil, nil
	default:
		return nil, fmt.Errorf("unrecognized suite file content")
	}
}
