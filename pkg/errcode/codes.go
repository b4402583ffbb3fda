package errcode

import "net/http"

// Code is a stable error code: prefix E (error), W (warning) or
// X (exhausted/terminal) followed by four digits. The leading digit of the
// numeric part selects the category.
type Code string

// Category groups codes by subsystem.
type Category string

const (
	CategoryDriver     Category = "driver"
	CategoryElement    Category = "element"
	CategoryScreenshot Category = "screenshot"
	CategoryKeyword    Category = "keyword"
	CategoryConfig     Category = "config"
	CategoryModule     Category = "module"
	CategoryTest       Category = "test"
	CategoryGeneral    Category = "general"
)

const (
	// Driver (01xx)
	DriverNotInitialized Code = "E0101"
	DriverStartFailed    Code = "E0102" // also async bridge timeout

	// Element (02xx)
	ElementNotFound  Code = "E0201"
	ElementExhausted Code = "X0201"
	ElementInvalid   Code = "E0205"

	// Screenshot (03xx)
	ScreenshotEmpty   Code = "E0303"
	ScreenshotDropped Code = "W0301"

	// Keyword (04xx)
	KeywordFailed    Code = "E0401"
	KeywordException Code = "X0401"
	KeywordNotFound  Code = "E0402"
	KeywordBadParams Code = "E0403"
	KeywordDuplicate Code = "W0401"

	// Config (05xx)
	ConfigMissingFiles Code = "E0501"

	// Module (06xx)
	ModuleNotFound Code = "E0601"

	// Test (07xx)
	ParamResolution Code = "E0702"

	// General (08xx)
	Unexpected Code = "E0801"
)

type entry struct {
	message  string
	category Category
	status   int
}

var registry = map[Code]entry{
	DriverNotInitialized: {"Driver not initialized", CategoryDriver, http.StatusInternalServerError},
	DriverStartFailed:    {"Failed to start session", CategoryDriver, http.StatusInternalServerError},
	ElementNotFound:      {"Element not found", CategoryElement, http.StatusNotFound},
	ElementExhausted:     {"Element not found after all fallbacks", CategoryElement, http.StatusInternalServerError},
	ElementInvalid:       {"Invalid element parameters", CategoryElement, http.StatusBadRequest},
	ScreenshotEmpty:      {"Empty or black screenshot", CategoryScreenshot, http.StatusInternalServerError},
	ScreenshotDropped:    {"Screenshot frame dropped", CategoryScreenshot, http.StatusInternalServerError},
	KeywordFailed:        {"Keyword action failed", CategoryKeyword, http.StatusInternalServerError},
	KeywordException:     {"Keyword action failed with exception", CategoryKeyword, http.StatusInternalServerError},
	KeywordNotFound:      {"Keyword not found", CategoryKeyword, http.StatusNotFound},
	KeywordBadParams:     {"Invalid keyword parameters", CategoryKeyword, http.StatusBadRequest},
	KeywordDuplicate:     {"Duplicate keyword registration", CategoryKeyword, http.StatusConflict},
	ConfigMissingFiles:   {"Missing required files", CategoryConfig, http.StatusBadRequest},
	ModuleNotFound:       {"Module not found", CategoryModule, http.StatusNotFound},
	ParamResolution:      {"Parameter resolution failed", CategoryTest, http.StatusNotFound},
	Unexpected:           {"Unexpected error", CategoryGeneral, http.StatusInternalServerError},
}

// CategoryOf returns the category a code belongs to. Unknown codes map to
// the general category.
func CategoryOf(code Code) Category {
	if e, ok := registry[code]; ok {
		return e.category
	}
	return CategoryGeneral
}

// DefaultMessage returns the registry message for a code.
func DefaultMessage(code Code) string {
	if e, ok := registry[code]; ok {
		return e.message
	}
	return registry[Unexpected].message
}

// DefaultStatus returns the HTTP status a code maps to.
func DefaultStatus(code Code) int {
	if e, ok := registry[code]; ok {
		return e.status
	}
	return http.StatusInternalServerError
}
