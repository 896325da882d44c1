// Package raster turns an image into the ordered list of pixel writes that
// reproduce it on the canvas.
package raster

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"pixel-embedder/internal/canvas"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// AlphaCutoff is the minimum alpha a sample needs to be part of the artwork.
const AlphaCutoff = 128

// Decode decodes any registered image format (PNG, JPEG, GIF, BMP, WebP).
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// Rasterize decodes r, fits it into a maxDimension square and returns one
// write per opaque sample, anchored at (originX, originY), in row-major order.
// Undecodable input yields an empty slice.
func Rasterize(r io.Reader, originX, originY, maxDimension int) []canvas.PixelWrite {
	img, err := Decode(r)
	if err != nil {
		return []canvas.PixelWrite{}
	}
	return RasterizeImage(img, originX, originY, maxDimension)
}

// RasterizeBytes is Rasterize over an in-memory image.
func RasterizeBytes(data []byte, originX, originY, maxDimension int) []canvas.PixelWrite {
	return Rasterize(bytes.NewReader(data), originX, originY, maxDimension)
}

// RasterizeImage is Rasterize for an already decoded image.
func RasterizeImage(img image.Image, originX, originY, maxDimension int) []canvas.PixelWrite {
	b := img.Bounds()
	w, h := Dimensions(b.Dx(), b.Dy(), maxDimension)
	if w == 0 || h == 0 {
		return []canvas.PixelWrite{}
	}

	src := img
	if w != b.Dx() || h != b.Dy() {
		dst := image.NewNRGBA(image.Rect(0, 0, w, h))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
		src = dst
	}
	origin := src.Bounds().Min

	pixels := make([]canvas.PixelWrite, 0, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBAModel.Convert(src.At(origin.X+x, origin.Y+y)).(color.NRGBA)
			if c.A < AlphaCutoff {
				continue
			}
			pixels = append(pixels, canvas.PixelWrite{
				X:     originX + x,
				Y:     originY + y,
				Color: canvas.RGB(c.R, c.G, c.B),
			})
		}
	}
	return pixels
}

// Dimensions returns the size of a width×height image scaled uniformly so
// that its larger side equals maxDimension. The smaller side is floored and
// never drops below 1. Zero-sized inputs or limits return 0, 0.
func Dimensions(width, height, maxDimension int) (int, int) {
	if width <= 0 || height <= 0 || maxDimension <= 0 {
		return 0, 0
	}
	if width >= height {
		return maxDimension, max(1, height*maxDimension/width)
	}
	return max(1, width*maxDimension/height), maxDimension
}
