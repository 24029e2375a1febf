// Package hocr reads and writes hOCR, the HTML-based format OCR engines use
// to report recognized text together with its position on the page.
//
// Only the parts of the format the batch driver needs are modeled: a page
// holds lines, a line holds words, and every element carries a bounding box
// in page pixel coordinates.
package hocr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNoPage is returned when a document has no ocr_page element.
var ErrNoPage = errors.New("hocr: no ocr_page element")

// BBox is a bounding box in pixels; (X1,Y1) is the top-left corner and
// (X2,Y2) the bottom-right corner, exclusive.
type BBox struct {
	X1 int `json:"x1" yaml:"x1"`
	Y1 int `json:"y1" yaml:"y1"`
	X2 int `json:"x2" yaml:"x2"`
	Y2 int `json:"y2" yaml:"y2"`
}

// Width returns X2-X1.
func (b BBox) Width() int { return b.X2 - b.X1 }

// Height returns Y2-Y1.
func (b BBox) Height() int { return b.Y2 - b.Y1 }

// Empty reports whether the box has no area.
func (b BBox) Empty() bool { return b.X2 <= b.X1 || b.Y2 <= b.Y1 }

// Union returns the smallest box containing b and o. An empty receiver
// yields o.
func (b BBox) Union(o BBox) BBox {
	if b.Empty() {
		return o
	}
	if o.Empty() {
		return b
	}
	return BBox{
		X1: min(b.X1, o.X1),
		Y1: min(b.Y1, o.Y1),
		X2: max(b.X2, o.X2),
		Y2: max(b.Y2, o.Y2),
	}
}

// Scale multiplies every coordinate by f, rounding to the nearest pixel.
func (b BBox) Scale(f float64) BBox {
	r := func(v int) int { return int(float64(v)*f + 0.5) }
	return BBox{X1: r(b.X1), Y1: r(b.Y1), X2: r(b.X2), Y2: r(b.Y2)}
}

// String formats the box as an hOCR "bbox" property.
func (b BBox) String() string {
	return fmt.Sprintf("bbox %d %d %d %d", b.X1, b.Y1, b.X2, b.Y2)
}

// Word is a recognized word.
type Word struct {
	Text string `json:"text"`
	BBox BBox   `json:"bbox"`
	// Confidence is the engine's x_wconf value, 0-100.
	Confidence float64 `json:"confidence"`
}

// Line is a line of words in reading order.
type Line struct {
	BBox  BBox   `json:"bbox"`
	Words []Word `json:"words"`
}

// Text joins the words of the line with single spaces.
func (l Line) Text() string {
	parts := make([]string, 0, len(l.Words))
	for _, w := range l.Words {
		parts = append(parts, w.Text)
	}
	return strings.Join(parts, " ")
}

// Page is one recognized page.
type Page struct {
	ID         string `json:"id"`
	ImageName  string `json:"image_name"`
	PageNumber int    `json:"page_number"`
	BBox       BBox   `json:"bbox"`
	Lines      []Line `json:"lines"`
}

// NewPage returns an empty page of the given pixel size.
func NewPage(imageName string, pageNumber, width, height int) *Page {
	return &Page{
		ID:         fmt.Sprintf("page_%d", pageNumber),
		ImageName:  imageName,
		PageNumber: pageNumber,
		BBox:       BBox{X2: width, Y2: height},
	}
}

// Text returns the page text, one line per row.
func (p *Page) Text() string {
	lines := make([]string, 0, len(p.Lines))
	for _, l := range p.Lines {
		if t := l.Text(); t != "" {
			lines = append(lines, t)
		}
	}
	return strings.Join(lines, "\n")
}

// WordCount returns the number of words on the page.
func (p *Page) WordCount() int {
	n := 0
	for _, l := range p.Lines {
		n += len(l.Words)
	}
	return n
}

// Words returns every word on the page in reading order.
func (p *Page) Words() []Word {
	out := make([]Word, 0, p.WordCount())
	for _, l := range p.Lines {
		out = append(out, l.Words...)
	}
	return out
}

// MeanConfidence returns the average word confidence, or 0 for an empty page.
func (p *Page) MeanConfidence() float64 {
	n, sum := 0, 0.0
	for _, l := range p.Lines {
		for _, w := range l.Words {
			sum += w.Confidence
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Scale maps every box on the page by f. Engines that ran on a downscaled
// image report coordinates that need 1/scale to match the original page.
func (p *Page) Scale(f float64) {
	if f == 1 || f <= 0 {
		return
	}
	p.BBox = p.BBox.Scale(f)
	for i := range p.Lines {
		l := &p.Lines[i]
		l.BBox = l.BBox.Scale(f)
		for j := range l.Words {
			l.Words[j].BBox = l.Words[j].BBox.Scale(f)
		}
	}
}

// ParseTitle splits an hOCR title attribute into its properties.
//
//	ParseTitle(`bbox 10 20 30 40; x_wconf 96`)
//	// map[bbox:[10 20 30 40] x_wconf:[96]]
//
// Quoted values such as image "scan 1.png" keep their inner spaces.
func ParseTitle(title string) map[string][]string {
	props := make(map[string][]string)
	for _, part := range strings.Split(title, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, rest, _ := strings.Cut(part, " ")
		rest = strings.TrimSpace(rest)
		if strings.HasPrefix(rest, `"`) && strings.HasSuffix(rest, `"`) && len(rest) >= 2 {
			props[key] = []string{rest[1 : len(rest)-1]}
			continue
		}
		props[key] = strings.Fields(rest)
	}
	return props
}

// ParseBBox reads the bbox property of a title attribute.
func ParseBBox(title string) (BBox, bool) {
	vals, ok := ParseTitle(title)["bbox"]
	if !ok || len(vals) != 4 {
		return BBox{}, false
	}
	var n [4]int
	for i, v := range vals {
		x, err := strconv.Atoi(v)
		if err != nil {
			return BBox{}, false
		}
		n[i] = x
	}
	return BBox{X1: n[0], Y1: n[1], X2: n[2], Y2: n[3]}, true
}
