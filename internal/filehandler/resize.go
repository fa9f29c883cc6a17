package filehandler

import (
	"image"

	"golang.org/x/image/draw"
)

// ResizeToFit scales img so its longest side is maxDimension, keeping the
// aspect ratio. Images that already fit are returned unchanged.
func ResizeToFit(img image.Image, maxDimension int) image.Image {
	bounds := img.Bounds()
	newWidth, newHeight := fitDimensions(bounds.Dx(), bounds.Dy(), maxDimension)
	if newWidth == bounds.Dx() && newHeight == bounds.Dy() {
		return img
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
	return resized
}

// fitDimensions calculates new dimensions maintaining aspect ratio.
func fitDimensions(width, height, maxDimension int) (int, int) {
	if width <= maxDimension && height <= maxDimension {
		return width, height
	}

	if width > height {
		newHeight := max(1, int(float64(height)*float64(maxDimension)/float64(width)))
		return maxDimension, newHeight
	}

	newWidth := max(1, int(float64(width)*float64(maxDimension)/float64(height)))
	return newWidth, maxDimension
}
