package imaging

import (
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/anthonynsimon/bild/adjust"
	"github.com/anthonynsimon/bild/effect"
	"github.com/disintegration/imaging"
)

// PrepareOptions controls the clean-up applied to a page before OCR.
type PrepareOptions struct {
	// MaxDimension downscales the page so neither side exceeds it.
	// 0 keeps the original size.
	MaxDimension int

	// Contrast is a bild contrast change in the range -1..1. 0 disables it.
	Contrast float64

	// Grayscale converts the page to 8-bit gray.
	Grayscale bool
}

// Flatten composites an image with transparency onto a white page and
// returns an opaque image. Opaque images are returned unchanged.
// Transparent pixels become paper white.
func Flatten(img image.Image) image.Image {
	if isOpaque(img) {
		return img
	}
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}

func isOpaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	return false
}

// Prepare applies PrepareOptions to a page and returns the result. The
// returned scale is new width / original width, used to map recognizer
// coordinates back to the original page.
func Prepare(img image.Image, opts PrepareOptions) (image.Image, float64) {
	out := Flatten(img)
	scale := 1.0

	b := out.Bounds()
	if opts.MaxDimension > 0 && (b.Dx() > opts.MaxDimension || b.Dy() > opts.MaxDimension) {
		out = imaging.Fit(out, opts.MaxDimension, opts.MaxDimension, imaging.Lanczos)
		scale = float64(out.Bounds().Dx()) / float64(b.Dx())
	}
	if opts.Contrast != 0 {
		out = adjust.Contrast(out, opts.Contrast)
	}
	if opts.Grayscale {
		out = effect.Grayscale(out)
	}
	return out, scale
}

// IsGrayscale reports whether every sampled pixel has equal RGB channels.
// Large images are sampled on a grid of at most 256x256 points.
func IsGrayscale(img image.Image) bool {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return true
	}
	b := img.Bounds()
	stepX, stepY := max(1, b.Dx()/256), max(1, b.Dy()/256)
	for y := b.Min.Y; y < b.Max.Y; y += stepY {
		for x := b.Min.X; x < b.Max.X; x += stepX {
			r, g, bl, _ := img.At(x, y).RGBA()
			if r>>8 != g>>8 || g>>8 != bl>>8 {
				return false
			}
		}
	}
	return true
}

// CountColors counts distinct 8-bit colors, stopping once limit is exceeded.
func CountColors(img image.Image, limit int) int {
	seen := make(map[uint32]struct{}, limit+1)
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			seen[(r>>8)<<16|(g>>8)<<8|bl>>8] = struct{}{}
			if len(seen) > limit {
				return len(seen)
			}
		}
	}
	return len(seen)
}

// EncodeJPEG writes img as JPEG with the given quality (1-100).
func EncodeJPEG(w io.Writer, img image.Image, quality int) error {
	if err := imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return nil
}

// EncodePNG writes img as PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	if err := imaging.Encode(w, img, imaging.PNG); err != nil {
		return fmt.Errorf("failed to encode png: %w", err)
	}
	return nil
}

// SavePNG writes img to path as PNG.
func SavePNG(path string, img image.Image) error {
	if err := imaging.Save(img, path); err != nil {
		return fmt.Errorf("failed to save image: %w", err)
	}
	return nil
}
