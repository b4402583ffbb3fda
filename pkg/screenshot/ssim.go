// Package screenshot provides the per-session frame pipeline: a producer
// capturing frames at the source's natural rate, a bounded queue that drops
// the oldest frame under pressure, and an optional deduplication stage that
// discards near-identical adjacent frames.
package screenshot

import (
	"image"
	"image/color"
)

// SSIM constants for 8-bit luminance, standard K1/K2.
const (
	ssimC1 = (0.01 * 255) * (0.01 * 255)
	ssimC2 = (0.03 * 255) * (0.03 * 255)
)

// SSIM computes the global structural similarity of two frames over their
// grayscale luminance. 1.0 means identical; frames of different sizes score
// 0.
func SSIM(a, b image.Image) float64 {
	if a == nil || b == nil {
		return 0
	}
	ba, bb := a.Bounds(), b.Bounds()
	if ba.Dx() != bb.Dx() || ba.Dy() != bb.Dy() || ba.Dx() == 0 || ba.Dy() == 0 {
		return 0
	}

	ga := grayValues(a)
	gb := grayValues(b)
	n := float64(len(ga))

	var sumA, sumB float64
	for i := range ga {
		sumA += ga[i]
		sumB += gb[i]
	}
	meanA := sumA / n
	meanB := sumB / n

	var varA, varB, cov float64
	for i := range ga {
		da := ga[i] - meanA
		db := gb[i] - meanB
		varA += da * da
		varB += db * db
		cov += da * db
	}
	varA /= n
	varB /= n
	cov /= n

	num := (2*meanA*meanB + ssimC1) * (2*cov + ssimC2)
	den := (meanA*meanA + meanB*meanB + ssimC1) * (varA + varB + ssimC2)
	return num / den
}

// grayValues flattens an image to 8-bit luminance values.
func grayValues(img image.Image) []float64 {
	b := img.Bounds()
	out := make([]float64, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			out = append(out, float64(g.Y))
		}
	}
	return out
}

// IsBlank reports whether a frame is unusable: nil, zero-sized, or uniformly
// near-black.
func IsBlank(img image.Image) bool {
	if img == nil {
		return true
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return true
	}
	var sum float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			sum += float64(g.Y)
		}
	}
	mean := sum / float64(b.Dx()*b.Dy())
	return mean < 2.0
}
