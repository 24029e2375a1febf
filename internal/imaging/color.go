package imaging

import (
	"fmt"
	"image"
	"sort"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// RGBColor represents an RGB color with 8-bit components.
type RGBColor struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// Hex returns the color as "#RRGGBB".
func (c RGBColor) Hex() string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

func (c RGBColor) colorful() colorful.Color {
	return colorful.Color{R: float64(c.R) / 255, G: float64(c.G) / 255, B: float64(c.B) / 255}
}

// ColorFrequency represents a quantized color and how often it occurs.
type ColorFrequency struct {
	Hex        string   `json:"hex"`        // Hex color "#RRGGBB" (quantized)
	Percentage float64  `json:"percentage"` // Percentage of pixels with this color (0-100)
	RGB        RGBColor `json:"rgb"`        // RGB components (quantized)
}

// DominantColors returns up to count of the most common colors in img,
// most frequent first.
//
// Parameters:
//   - img: The page to analyze.
//   - count: Maximum number of colors to return.
//   - sampleStep: Only every sampleStep-th pixel in each direction is
//     counted. Values below 1 count every pixel.
//
// # Color Quantization
//
// Each component is quantized to a multiple of 16 so that scanner noise on
// the same paper or ink tone is grouped together:
//
//	quantized = (original / 16) * 16
func DominantColors(img image.Image, count, sampleStep int) []ColorFrequency {
	if sampleStep < 1 {
		sampleStep = 1
	}
	bounds := img.Bounds()

	counts := make(map[RGBColor]int)
	total := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y += sampleStep {
		for x := bounds.Min.X; x < bounds.Max.X; x += sampleStep {
			r, g, b, _ := img.At(x, y).RGBA()
			key := RGBColor{
				R: uint8((r >> 8) / 16 * 16),
				G: uint8((g >> 8) / 16 * 16),
				B: uint8((b >> 8) / 16 * 16),
			}
			counts[key]++
			total++
		}
	}
	if total == 0 {
		return nil
	}

	colors := make([]ColorFrequency, 0, len(counts))
	for c, n := range counts {
		colors = append(colors, ColorFrequency{
			Hex:        c.Hex(),
			Percentage: float64(n) / float64(total) * 100,
			RGB:        c,
		})
	}
	sort.Slice(colors, func(i, j int) bool {
		if colors[i].Percentage == colors[j].Percentage {
			return colors[i].Hex < colors[j].Hex
		}
		return colors[i].Percentage > colors[j].Percentage
	})

	if len(colors) > count {
		colors = colors[:count]
	}
	return colors
}

// Background returns the paper color of a page: its dominant quantized
// color. An empty image reports white.
func Background(img image.Image) RGBColor {
	step := max(1, min(img.Bounds().Dx(), img.Bounds().Dy())/200)
	colors := DominantColors(img, 1, step)
	if len(colors) == 0 {
		return RGBColor{R: 255, G: 255, B: 255}
	}
	return colors[0].RGB
}

// DefaultInkDistance is the CIE L*a*b* distance from the paper color at
// which a pixel counts as ink.
const DefaultInkDistance = 0.25

// DefaultBlankThreshold is the ink coverage below which a page is blank.
const DefaultBlankThreshold = 0.001

// InkCoverage returns the fraction (0-1) of pixels whose perceptual
// distance from the page background exceeds inkDistance.
//
// Distances are measured in CIE L*a*b* with go-colorful, so light colored
// paper and faint scanner noise are not mistaken for ink. Large pages are
// sampled on a grid of roughly 400 points per side.
func InkCoverage(img image.Image, inkDistance float64) float64 {
	if inkDistance <= 0 {
		inkDistance = DefaultInkDistance
	}
	bounds := img.Bounds()
	if bounds.Empty() {
		return 0
	}
	bg := Background(img).colorful()

	stepX := max(1, bounds.Dx()/400)
	stepY := max(1, bounds.Dy()/400)

	ink, total := 0, 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y += stepY {
		for x := bounds.Min.X; x < bounds.Max.X; x += stepX {
			c, ok := colorful.MakeColor(img.At(x, y))
			total++
			if !ok {
				continue
			}
			if c.DistanceLab(bg) > inkDistance {
				ink++
			}
		}
	}
	return float64(ink) / float64(total)
}

// IsBlank reports whether the page carries less ink than threshold
// (a fraction, e.g. 0.001 for 0.1% of the page).
func IsBlank(img image.Image, threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultBlankThreshold
	}
	return InkCoverage(img, DefaultInkDistance) < threshold
}
