package hocr

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
)

// System is written to the ocr-system meta tag.
var System = "ocr-batch"

const header = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html PUBLIC "-//W3C//DTD XHTML 1.0 Transitional//EN"
    "http://www.w3.org/TR/xhtml1/DTD/xhtml1-transitional.dtd">
<html xmlns="http://www.w3.org/1999/xhtml" xml:lang="en" lang="en">
 <head>
  <title></title>
  <meta http-equiv="Content-Type" content="text/html;charset=utf-8"/>
  <meta name="ocr-system" content="%s"/>
  <meta name="ocr-capabilities" content="ocr_page ocr_line ocrx_word"/>
 </head>
 <body>
`

const footer = ` </body>
</html>
`

// Write emits the page as a complete XHTML hOCR document.
func (p *Page) Write(w io.Writer) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, header, html.EscapeString(System))

	title := p.BBox.String()
	if p.ImageName != "" {
		title = fmt.Sprintf(`image "%s"; %s`, p.ImageName, title)
	}
	title += fmt.Sprintf("; ppageno %d", max(0, p.PageNumber-1))

	id := p.ID
	if id == "" {
		id = fmt.Sprintf("page_%d", p.PageNumber)
	}
	fmt.Fprintf(&buf, "  <div class=\"ocr_page\" id=\"%s\" title=\"%s\">\n",
		html.EscapeString(id), html.EscapeString(title))

	for i, l := range p.Lines {
		fmt.Fprintf(&buf, "   <span class=\"ocr_line\" id=\"line_%d_%d\" title=\"%s\">",
			p.PageNumber, i+1, l.BBox)
		for j, wd := range l.Words {
			if j > 0 {
				buf.WriteByte(' ')
			}
			fmt.Fprintf(&buf, "<span class=\"ocrx_word\" id=\"word_%d_%d_%d\" title=\"%s; x_wconf %d\">%s</span>",
				p.PageNumber, i+1, j+1, wd.BBox, int(wd.Confidence+0.5), html.EscapeString(wd.Text))
		}
		buf.WriteString("</span>\n")
	}

	buf.WriteString("  </div>\n")
	buf.WriteString(footer)

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write hocr: %w", err)
	}
	return nil
}

// WriteFile writes the page to path, creating parent directories.
func (p *Page) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create hocr directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create hocr file: %w", err)
	}
	if err := p.Write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadFile parses the first page of the hOCR file at path.
func ReadFile(path string) (*Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open hocr file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}
