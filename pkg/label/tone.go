package label

import (
	"image"

	"github.com/disintegration/imaging"
)

// Fixed enhancement applied before thresholding, contrast first.
const (
	contrastBoost = 20.0
	sharpenSigma  = 1.0
)

// ToneMap converts a composited canvas into a 1-bit bitmap: a pixel is black
// when its enhanced luminance is below threshold.
func ToneMap(canvas image.Image, threshold uint8) *Bitmap {
	gray := imaging.Grayscale(canvas)
	enhanced := imaging.AdjustContrast(gray, contrastBoost)
	enhanced = imaging.Sharpen(enhanced, sharpenSigma)
	return binarize(enhanced, threshold)
}

// binarize performs a global threshold on a grayscale NRGBA image, where all
// three channels already carry the luminance.
func binarize(img *image.NRGBA, threshold uint8) *Bitmap {
	b := img.Bounds()
	out := NewBitmap(b.Dx(), b.Dy())
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < b.Dx(); x++ {
			if row[x*4] < threshold {
				out.SetBlack(x, y)
			}
		}
	}
	return out
}
