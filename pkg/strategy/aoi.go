package strategy

import (
	"image"

	"github.com/optics-suite/optics/pkg/backend"
	"github.com/optics-suite/optics/pkg/errcode"
)

// AOI is an area of interest in screen percentages. All four fields must be
// set together; X+Width and Y+Height may not exceed 100.
type AOI struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// IsFull reports whether a covers the entire screen, which is equivalent to
// no AOI at all.
func (a AOI) IsFull() bool {
	return a.X == 0 && a.Y == 0 && a.Width == 100 && a.Height == 100
}

// Validate enforces the percentage constraints; violations are E0205.
func (a AOI) Validate() error {
	for _, v := range []float64{a.X, a.Y, a.Width, a.Height} {
		if v < 0 || v > 100 {
			return errcode.Newf(errcode.ElementInvalid,
				"Invalid AOI: component %.2f outside [0,100]", v)
		}
	}
	if a.X+a.Width > 100 {
		return errcode.Newf(errcode.ElementInvalid,
			"Invalid AOI: x+width = %.2f exceeds 100", a.X+a.Width)
	}
	if a.Y+a.Height > 100 {
		return errcode.Newf(errcode.ElementInvalid,
			"Invalid AOI: y+height = %.2f exceeds 100", a.Y+a.Height)
	}
	return nil
}

// Rect converts the percentages to a pixel rectangle within bounds.
func (a AOI) Rect(bounds image.Rectangle) image.Rectangle {
	w := float64(bounds.Dx())
	h := float64(bounds.Dy())
	x0 := bounds.Min.X + int(a.X/100*w)
	y0 := bounds.Min.Y + int(a.Y/100*h)
	x1 := x0 + int(a.Width/100*w)
	y1 := y0 + int(a.Height/100*h)
	return image.Rect(x0, y0, x1, y1).Intersect(bounds)
}

// Crop cuts the AOI rectangle out of frame and returns the cropped frame
// plus the crop origin for coordinate shifting. The cropped frame is
// re-based to (0,0) so detector coordinates are relative to the crop.
func (a AOI) Crop(frame image.Image) (image.Image, backend.Point) {
	r := a.Rect(frame.Bounds())
	origin := backend.Point{X: r.Min.X, Y: r.Min.Y}
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := 0; y < r.Dy(); y++ {
		for x := 0; x < r.Dx(); x++ {
			out.Set(x, y, frame.At(r.Min.X+x, r.Min.Y+y))
		}
	}
	return out, origin
}

// shift translates p by the crop origin.
func shift(p backend.Point, origin backend.Point) backend.Point {
	return backend.Point{X: p.X + origin.X, Y: p.Y + origin.Y}
}
