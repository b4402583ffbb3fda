// Package backend defines the capability contracts backend instances
// implement and the per-session registry that composes them. Concrete
// drivers (Appium, Selenium, OCR engines, image matchers) live outside this
// module; tests provide fixtures.
package backend

import (
	"context"
	"image"
)

// Capability names one of the roles a backend instance can fill.
type Capability string

const (
	CapabilityDrive         Capability = "drive"
	CapabilityElementSource Capability = "element_source"
	CapabilityTextDetect    Capability = "text_detect"
	CapabilityImageDetect   Capability = "image_detect"
)

// Point is an absolute screen coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Handle is an opaque element reference owned by the source that produced
// it. Only that source can act on it.
type Handle any

// Match is one located element: either a coordinate or a source-owned
// handle. Consumers branch on which field is set.
type Match struct {
	Point  *Point
	Handle Handle
}

// Driver is the primary UI actuator a session owns.
type Driver interface {
	// ID returns the underlying driver session identifier.
	ID() string
	LaunchApp(ctx context.Context) error
	CloseApp(ctx context.Context) error
	PressCoordinate(ctx context.Context, p Point) error
	LongPressCoordinate(ctx context.Context, p Point, millis int) error
	EnterText(ctx context.Context, text string) error
	PageSource(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) (image.Image, error)
	// Release frees the driver session. Called exactly once at session
	// termination.
	Release(ctx context.Context) error
}

// ElementSource locates elements against a live UI tree or page source.
type ElementSource interface {
	Name() string
	PageSource(ctx context.Context) (string, error)
	// Locate resolves a locator to the index-th match.
	Locate(ctx context.Context, locator string, index int) (*Match, error)
}

// ScreenshotProvider is implemented by sources that can capture frames
// themselves. Sources without it fall back to the session driver.
type ScreenshotProvider interface {
	CaptureScreenshot(ctx context.Context) (image.Image, error)
}

// Interactor is implemented by sources whose handles can be acted on
// directly.
type Interactor interface {
	Tap(ctx context.Context, h Handle) error
	TypeText(ctx context.Context, h Handle, text string) error
}

// AssertRequest asks a source to verify that elements are present.
type AssertRequest struct {
	Locators []string // all must match under RuleAll, any one under RuleAny
	Timeout  int      // milliseconds the source may spend
	All      bool     // true = every locator, false = any locator
}

// AssertResult reports a presence check.
type AssertResult struct {
	Found     bool
	FoundAtMS int64       // unix millis of the sighting, 0 when unknown
	Annotated image.Image // frame with matches marked, optional
}

// ElementAsserter is implemented by sources with a native presence check.
type ElementAsserter interface {
	AssertElements(ctx context.Context, req AssertRequest) (AssertResult, error)
}

// ScreenElement is one interactable element reported by a source.
type ScreenElement struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Locator string `json:"locator"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
}

// ElementLister is implemented by sources that can enumerate interactable
// elements.
type ElementLister interface {
	InteractableElements(ctx context.Context) ([]ScreenElement, error)
}

// TextRegion is one OCR text sighting inside a frame.
type TextRegion struct {
	Text       string
	Center     Point
	Confidence float64
}

// TextDetector finds text occurrences inside a frame (OCR engine contract).
type TextDetector interface {
	Name() string
	DetectText(ctx context.Context, frame image.Image, text string) ([]TextRegion, error)
}

// ImageRegion is one template-match sighting inside a frame.
type ImageRegion struct {
	Center     Point
	Confidence float64
}

// ImageDetector finds template-image occurrences inside a frame.
type ImageDetector interface {
	Name() string
	DetectImage(ctx context.Context, frame, template image.Image) ([]ImageRegion, error)
}

// CapabilityReporter lets an instance declare its capabilities explicitly.
// Without it, capabilities are discovered by interface satisfaction; an
// instance that embeds an interface but stubs its methods must report the
// narrower set here to opt out.
type CapabilityReporter interface {
	Capabilities() []Capability
}
