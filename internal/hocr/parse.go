package hocr

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// lineClasses are the hOCR classes treated as text lines.
var lineClasses = []string{"ocr_line", "ocrx_line", "ocr_header", "ocr_caption", "ocr_textfloat"}

// Parse reads an hOCR document and returns its first page.
func Parse(r io.Reader) (*Page, error) {
	pages, err := ParseAll(r)
	if err != nil {
		return nil, err
	}
	return pages[0], nil
}

// ParseAll reads every ocr_page of an hOCR document.
func ParseAll(r io.Reader) ([]*Page, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse hocr: %w", err)
	}

	var pages []*Page
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && hasClass(n, "ocr_page") {
			pages = append(pages, parsePage(n, len(pages)+1))
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if len(pages) == 0 {
		return nil, ErrNoPage
	}
	return pages, nil
}

func parsePage(n *html.Node, ordinal int) *Page {
	title := attr(n, "title")
	props := ParseTitle(title)

	p := &Page{
		ID:         attr(n, "id"),
		PageNumber: ordinal,
	}
	if p.ID == "" {
		p.ID = fmt.Sprintf("page_%d", ordinal)
	}
	if bb, ok := ParseBBox(title); ok {
		p.BBox = bb
	}
	if v, ok := props["image"]; ok && len(v) > 0 {
		p.ImageName = strings.Join(v, " ")
	}
	if v, ok := props["ppageno"]; ok && len(v) == 1 {
		if n, err := strconv.Atoi(v[0]); err == nil {
			p.PageNumber = n + 1
		}
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case hasAnyClass(n, lineClasses):
				if l, ok := parseLine(n); ok {
					p.Lines = append(p.Lines, l)
				}
				return
			case hasClass(n, "ocrx_word"):
				if w, ok := parseWord(n); ok {
					p.Lines = append(p.Lines, Line{BBox: w.BBox, Words: []Word{w}})
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c)
	}
	return p
}

func parseLine(n *html.Node) (Line, bool) {
	var l Line
	if bb, ok := ParseBBox(attr(n, "title")); ok {
		l.BBox = bb
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && hasClass(n, "ocrx_word") {
			if w, ok := parseWord(n); ok {
				l.Words = append(l.Words, w)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c)
	}

	if len(l.Words) == 0 {
		return Line{}, false
	}
	if l.BBox.Empty() {
		for _, w := range l.Words {
			l.BBox = l.BBox.Union(w.BBox)
		}
	}
	return l, true
}

func parseWord(n *html.Node) (Word, bool) {
	text := strings.TrimSpace(textContent(n))
	if text == "" {
		return Word{}, false
	}
	title := attr(n, "title")
	w := Word{Text: text}
	if bb, ok := ParseBBox(title); ok {
		w.BBox = bb
	}
	if v, ok := ParseTitle(title)["x_wconf"]; ok && len(v) == 1 {
		if c, err := strconv.ParseFloat(v[0], 64); err == nil {
			w.Confidence = c
		}
	}
	return w, true
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func hasAnyClass(n *html.Node, classes []string) bool {
	for _, c := range classes {
		if hasClass(n, c) {
			return true
		}
	}
	return false
}
