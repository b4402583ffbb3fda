package suite

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// readCSV loads all records with variable-width rows.
func readCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("csv file is empty")
	}
	return records, nil
}

func headerIs(header []string, want ...string) bool {
	if len(header) < len(want) {
		return false
	}
	for i, w := range want {
		if !strings.EqualFold(strings.TrimSpace(header[i]), w) {
			return false
		}
	}
	return true
}

// ParseTestCasesCSV reads test_case,test_step rows. Rows sharing a test_case
// value form its ordered module list; an empty test_case cell continues the
// previous row's case.
func ParseTestCasesCSV(r io.Reader) (*Definition, error) {
	records, err := readCSV(r)
	if err != nil {
		return nil, err
	}
	if !headerIs(records[0], "test_case", "test_step") {
		return nil, fmt.Errorf("expected header test_case,test_step, got %v", records[0])
	}

	def := NewDefinition()
	index := make(map[string]int)
	current := ""
	for _, rec := range records[1:] {
		if len(rec) < 2 {
			continue
		}
		name := strings.TrimSpace(rec[0])
		step := DecodeCell(strings.TrimSpace(rec[1]))
		if name == "" {
			name = current
		}
		if name == "" || step == "" {
			continue
		}
		current = name
		i, ok := index[name]
		if !ok {
			def.TestCases = append(def.TestCases, TestCaseDef{Name: name})
			i = len(def.TestCases) - 1
			index[name] = i
		}
		def.TestCases[i].ModuleNames = append(def.TestCases[i].ModuleNames, step)
	}
	return def, nil
}

// ParseModulesCSV reads module_name,module_step,param_* rows. Rows sharing a
// module_name form its ordered step list; trailing empty param cells are
// dropped, interior ones kept.
func ParseModulesCSV(r io.Reader) (*Definition, error) {
	records, err := readCSV(r)
	if err != nil {
		return nil, err
	}
	if !headerIs(records[0], "module_name", "module_step") {
		return nil, fmt.Errorf("expected header module_name,module_step, got %v", records[0])
	}

	def := NewDefinition()
	var order []string
	current := ""
	steps := make(map[string][]StepDef)
	for _, rec := range records[1:] {
		if len(rec) < 2 {
			continue
		}
		name := strings.TrimSpace(rec[0])
		kw := strings.TrimSpace(rec[1])
		if name == "" {
			name = current
		}
		if name == "" || kw == "" {
			continue
		}
		current = name
		if _, seen := steps[name]; !seen {
			order = append(order, name)
		}

		params := make([]string, 0, len(rec)-2)
		for _, cell := range rec[2:] {
			params = append(params, DecodeCell(cell))
		}
		for len(params) > 0 && params[len(params)-1] == "" {
			params = params[:len(params)-1]
		}
		steps[name] = append(steps[name], StepDef{Keyword: kw, Params: params})
	}
	for _, name := range order {
		def.Modules[name] = ModuleDef{Name: name, Steps: steps[name]}
	}
	return def, nil
}

// ParseElementsCSV reads Element_Name,Element_ID[,Element_ID_*] rows. Extra
// ID columns and repeated rows both extend the ordered fallback list.
func ParseElementsCSV(r io.Reader) (*Definition, error) {
	records, err := readCSV(r)
	if err != nil {
		return nil, err
	}
	if !headerIs(records[0], "Element_Name", "Element_ID") {
		return nil, fmt.Errorf("expected header Element_Name,Element_ID, got %v", records[0])
	}

	def := NewDefinition()
	for _, rec := range records[1:] {
		if len(rec) < 2 {
			continue
		}
		name := strings.TrimSpace(rec[0])
		if name == "" {
			continue
		}
		for _, cell := range rec[1:] {
			val := DecodeCell(strings.TrimSpace(cell))
			if val != "" {
				def.Elements[name] = append(def.Elements[name], val)
			}
		}
	}
	return def, nil
}
