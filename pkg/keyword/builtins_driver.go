package keyword

import (
	"context"
	"time"

	"github.com/optics-suite/optics/pkg/backend"
	"github.com/optics-suite/optics/pkg/errcode"
	"github.com/optics-suite/optics/pkg/screenshot"
	"github.com/optics-suite/optics/pkg/strategy"
)

// DriverProvider contributes the UI-interaction keywords backed by the
// session driver and strategy manager.
type DriverProvider struct{}

func (DriverProvider) Keywords() []Definition {
	return []Definition{
		{
			Name:    "press_element",
			Summary: "Locate an element and tap its first resolvable match.",
			Params: []Param{
				{Name: "element", Type: TypeString, Required: true},
				{Name: "index", Type: TypeInt, Default: "0"},
			},
			Fn: pressElement,
		},
		{
			Name:    "long_press_element",
			Summary: "Locate an element and hold a press on it.",
			Params: []Param{
				{Name: "element", Type: TypeString, Required: true},
				{Name: "duration_ms", Type: TypeInt, Default: "1000"},
				{Name: "index", Type: TypeInt, Default: "0"},
			},
			Fn: longPressElement,
		},
		{
			Name:    "enter_text",
			Summary: "Focus an element and type text into it.",
			Params: []Param{
				{Name: "element", Type: TypeString, Required: true},
				{Name: "text", Type: TypeString, Required: true},
				{Name: "index", Type: TypeInt, Default: "0"},
			},
			Fn: enterText,
		},
		{
			Name:    "validate_element",
			Summary: "Assert that elements are present on screen within a timeout.",
			Params: []Param{
				{Name: "elements", Type: TypeList, Required: true, Variadic: true},
				{Name: "timeout", Type: TypeInt, Default: "20"},
				{Name: "rule", Type: TypeString, Default: "any"},
			},
			Fn: validateElement,
		},
		{
			Name:    "capture_screenshot",
			Summary: "Capture the current screen and store it as an artifact.",
			Params: []Param{
				{Name: "name", Type: TypeString, Default: "screenshot"},
			},
			Fn: captureScreenshot,
		},
		{
			Name:    "get_page_source",
			Summary: "Fetch the current page source and append it to the session log.",
			Params:  []Param{},
			Fn:      getPageSource,
		},
		{
			Name:    "get_screen_elements",
			Summary: "List the interactable elements currently on screen.",
			Params:  []Param{},
			Fn:      getScreenElements,
		},
		{
			Name:    "get_driver_id",
			Summary: "Return the underlying driver session identifier.",
			Params:  []Param{},
			Fn:      getDriverID,
		},
		{
			Name:    "close_and_terminate_app",
			Summary: "Close the application under test.",
			Params:  []Param{},
			Fn:      closeApp,
		},
	}
}

// locateFirst resolves an identifier to its first match via the strategy
// catalog. Failures carry element-family codes so the scheduler can fall
// back to the next candidate.
func locateFirst(ctx context.Context, rt Runtime, value string, index int) (strategy.Result, error) {
	cursor, err := rt.Locator().Locate(ctx, value, strategy.LocateOptions{Index: index})
	if err != nil {
		return strategy.Result{}, err
	}
	res, ok := cursor.Next()
	if !ok {
		return strategy.Result{}, cursor.Err()
	}
	return res, nil
}

// tap acts on one located match: coordinates go to the driver, handles to
// the source that produced them.
func tap(ctx context.Context, rt Runtime, res strategy.Result) error {
	if res.Match.Point != nil {
		drv, err := rt.Driver()
		if err != nil {
			return err
		}
		return drv.PressCoordinate(ctx, *res.Match.Point)
	}
	inst, ok := rt.Backends().Instance(res.Source)
	if !ok {
		return errcode.Newf(errcode.Unexpected, "source %q not in registry", res.Source)
	}
	actor, ok := inst.(backend.Interactor)
	if !ok {
		return errcode.New(errcode.KeywordFailed).
			WithDetails("source " + res.Source + " cannot act on its matches")
	}
	return actor.Tap(ctx, res.Match.Handle)
}

func pressElement(ctx context.Context, rt Runtime, inv *Invocation) (any, error) {
	value, err := inv.Require(0, "element")
	if err != nil {
		return nil, err
	}
	index, err := inv.Int(1, "index", 0)
	if err != nil {
		return nil, err
	}
	res, err := locateFirst(ctx, rt, value, index)
	if err != nil {
		return nil, err
	}
	return nil, tap(ctx, rt, res)
}

func longPressElement(ctx context.Context, rt Runtime, inv *Invocation) (any, error) {
	value, err := inv.Require(0, "element")
	if err != nil {
		return nil, err
	}
	millis, err := inv.Int(1, "duration_ms", 1000)
	if err != nil {
		return nil, err
	}
	index, err := inv.Int(2, "index", 0)
	if err != nil {
		return nil, err
	}
	res, err := locateFirst(ctx, rt, value, index)
	if err != nil {
		return nil, err
	}
	if res.Match.Point == nil {
		return nil, errcode.New(errcode.KeywordFailed).
			WithDetails("long press needs a coordinate match")
	}
	drv, err := rt.Driver()
	if err != nil {
		return nil, err
	}
	return nil, drv.LongPressCoordinate(ctx, *res.Match.Point, millis)
}

func enterText(ctx context.Context, rt Runtime, inv *Invocation) (any, error) {
	value, err := inv.Require(0, "element")
	if err != nil {
		return nil, err
	}
	text, err := inv.Require(1, "text")
	if err != nil {
		return nil, err
	}
	index, err := inv.Int(2, "index", 0)
	if err != nil {
		return nil, err
	}
	res, err := locateFirst(ctx, rt, value, index)
	if err != nil {
		return nil, err
	}
	// Handles type directly into the element; coordinate matches focus by
	// tapping first, then type through the driver.
	if res.Match.Handle != nil {
		if inst, ok := rt.Backends().Instance(res.Source); ok {
			if actor, ok := inst.(backend.Interactor); ok {
				return nil, actor.TypeText(ctx, res.Match.Handle, text)
			}
		}
	}
	if err := tap(ctx, rt, res); err != nil {
		return nil, err
	}
	drv, err := rt.Driver()
	if err != nil {
		return nil, err
	}
	return nil, drv.EnterText(ctx, text)
}

func validateElement(ctx context.Context, rt Runtime, inv *Invocation) (any, error) {
	elements := inv.Rest(0)
	if len(elements) == 0 {
		return nil, errcode.New(errcode.KeywordBadParams).
			WithDetails("validate_element requires at least one element")
	}
	timeout, err := inv.Int(-1, "timeout", 20)
	if err != nil {
		return nil, err
	}
	rule := strategy.Rule(inv.GetDefault(-1, "rule", string(strategy.RuleAny)))
	if rule != strategy.RuleAny && rule != strategy.RuleAll {
		return nil, errcode.Newf(errcode.KeywordBadParams,
			"rule must be %q or %q", strategy.RuleAny, strategy.RuleAll)
	}
	kind, _ := strategy.Classify(elements[0])
	res, err := rt.Locator().AssertPresence(ctx, elements, kind,
		time.Duration(timeout)*time.Second, rule)
	if err != nil {
		return nil, err
	}
	if res.Annotated != nil {
		if _, err := rt.SaveScreenshot("validate_element", res.Annotated); err != nil {
			rt.Logger().Warn("Saving annotated screenshot failed", "error", err)
		}
	}
	return res.Found, nil
}

func captureScreenshot(ctx context.Context, rt Runtime, inv *Invocation) (any, error) {
	name := inv.GetDefault(0, "name", "screenshot")
	drv, err := rt.Driver()
	if err != nil {
		return nil, err
	}
	img, err := drv.Screenshot(ctx)
	if err != nil {
		return nil, errcode.Wrap(errcode.ScreenshotEmpty, err)
	}
	if screenshot.IsBlank(img) {
		return nil, errcode.New(errcode.ScreenshotEmpty)
	}
	return rt.SaveScreenshot(name, img)
}

func getPageSource(ctx context.Context, rt Runtime, _ *Invocation) (any, error) {
	drv, err := rt.Driver()
	if err != nil {
		return nil, err
	}
	src, err := drv.PageSource(ctx)
	if err != nil {
		return nil, errcode.Wrap(errcode.KeywordFailed, err)
	}
	if err := rt.AppendPageSource(src); err != nil {
		rt.Logger().Warn("Appending page source failed", "error", err)
	}
	return src, nil
}

func getScreenElements(ctx context.Context, rt Runtime, _ *Invocation) (any, error) {
	for _, source := range rt.Backends().Sources() {
		lister, ok := source.(backend.ElementLister)
		if !ok {
			continue
		}
		items, err := lister.InteractableElements(ctx)
		if err != nil {
			return nil, errcode.Wrap(errcode.KeywordFailed, err)
		}
		if err := rt.WriteInteractables(items); err != nil {
			rt.Logger().Warn("Writing interactable elements failed", "error", err)
		}
		return items, nil
	}
	return nil, errcode.New(errcode.KeywordFailed).
		WithDetails("no element source can enumerate screen elements")
}

func getDriverID(_ context.Context, rt Runtime, _ *Invocation) (any, error) {
	drv, err := rt.Driver()
	if err != nil {
		return nil, err
	}
	return drv.ID(), nil
}

func closeApp(ctx context.Context, rt Runtime, _ *Invocation) (any, error) {
	drv, err := rt.Driver()
	if err != nil {
		return nil, err
	}
	return nil, drv.CloseApp(ctx)
}
