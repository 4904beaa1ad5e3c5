package label

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// Background is the fill used for letterbox borders and transparent pixels.
var Background = color.NRGBA{R: 255, G: 255, B: 255, A: 255}

// Placement is where a scaled source lands on the target canvas.
type Placement struct {
	Width   int
	Height  int
	OffsetX int
	OffsetY int
}

// Fit scales a source rectangle to fit inside the target while keeping its
// aspect ratio, then centers it. Small sources are scaled up. Both scaled
// dimensions stay within [1, target].
func Fit(srcW, srcH, dstW, dstH int) Placement {
	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return Placement{}
	}
	scale := math.Min(float64(dstW)/float64(srcW), float64(dstH)/float64(srcH))
	w := clamp(int(math.Round(float64(srcW)*scale)), 1, dstW)
	h := clamp(int(math.Round(float64(srcH)*scale)), 1, dstH)
	return Placement{
		Width:   w,
		Height:  h,
		OffsetX: (dstW - w) / 2,
		OffsetY: (dstH - h) / 2,
	}
}

// Letterbox renders src onto a white dstW x dstH canvas at its Fit placement.
// Alpha is composited over the background.
func Letterbox(src image.Image, dstW, dstH int) *image.NRGBA {
	canvas := imaging.New(dstW, dstH, Background)
	b := src.Bounds()
	pl := Fit(b.Dx(), b.Dy(), dstW, dstH)
	if pl.Width == 0 {
		return canvas
	}
	scaled := imaging.Resize(src, pl.Width, pl.Height, imaging.Lanczos)
	return imaging.Overlay(canvas, scaled, image.Pt(pl.OffsetX, pl.OffsetY), 1.0)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
