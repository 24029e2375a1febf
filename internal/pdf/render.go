package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"os"
	"path/filepath"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/ironsheep/ocr-batch/internal/hocr"
	"github.com/ironsheep/ocr-batch/internal/imaging"
)

// PointsPerInch is the PDF user space unit.
const PointsPerInch = 72.0

// DefaultJPEGQuality is used when Options.JPEGQuality is zero.
const DefaultJPEGQuality = 85

// paletteLimit is the color count up to which a page is embedded as PNG.
const paletteLimit = 16

// ErrNoPages is returned when an empty document is written.
var ErrNoPages = errors.New("pdf: document has no pages")

// Options controls how scanned pages are embedded.
type Options struct {
	// JPEGQuality is used for photographic pages (1-100).
	JPEGQuality int

	// Debug puts the text layer on top of a half-transparent scan and
	// outlines every word box in red.
	Debug bool

	Title   string
	Creator string
}

// Document is a searchable PDF built from page images and their hOCR
// text. Each page holds two optional content groups: "OCR" with the
// recognized words and "Scan" with the image. In normal mode the text is
// drawn first and covered by the image, so it can be searched and copied
// but is not visible.
type Document struct {
	pdf       *fpdf.Fpdf
	opts      Options
	ocrLayer  int
	scanLayer int
	translate func(string) string
	pages     int
}

// NewDocument returns an empty document.
func NewDocument(opts Options) *Document {
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = DefaultJPEGQuality
	}
	if opts.Creator == "" {
		opts.Creator = hocr.System
	}

	pdf := fpdf.New("P", "pt", "A4", "")
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetCellMargin(0)
	pdf.SetCreator(opts.Creator, true)
	if opts.Title != "" {
		pdf.SetTitle(opts.Title, true)
	}
	pdf.SetCreationDate(time.Now())
	pdf.SetFont("Helvetica", "", 12)

	return &Document{
		pdf:       pdf,
		opts:      opts,
		ocrLayer:  pdf.AddLayer("OCR", true),
		scanLayer: pdf.AddLayer("Scan", true),
		translate: pdf.UnicodeTranslatorFromDescriptor(""),
	}
}

// PageCount returns the number of pages added so far.
func (d *Document) PageCount() int { return d.pages }

// AddPage appends one scanned page.
//
// Parameters:
//   - img: The page image. Transparent images are flattened onto white.
//   - page: Recognized text in img pixel coordinates. nil adds an image-only
//     page.
//   - dpi: Resolution of img. The page size is width/dpi by height/dpi
//     inches, so the PDF keeps the physical size of the original.
//
// Returns:
//   - error: Non-nil if dpi is not positive or the image cannot be encoded.
//
// # Image Encoding
//
// Pages with at most 16 distinct colors (bitonal scans, line art) are
// embedded losslessly as PNG. Everything else is JPEG at
// Options.JPEGQuality, in gray when the page has no color.
func (d *Document) AddPage(img image.Image, page *hocr.Page, dpi int) error {
	if dpi <= 0 {
		return fmt.Errorf("invalid dpi %d", dpi)
	}
	img = to8Bit(imaging.Flatten(img))
	b := img.Bounds()
	if b.Empty() {
		return fmt.Errorf("empty page image")
	}

	scale := PointsPerInch / float64(dpi)
	w := float64(b.Dx()) * scale
	h := float64(b.Dy()) * scale
	d.pdf.AddPageFormat("P", fpdf.SizeType{Wd: w, Ht: h})
	d.pages++

	if d.opts.Debug {
		if err := d.addImageLayer(img, w, h); err != nil {
			return err
		}
		d.addTextLayer(page, scale)
	} else {
		d.addTextLayer(page, scale)
		if err := d.addImageLayer(img, w, h); err != nil {
			return err
		}
	}
	return d.pdf.Error()
}

func (d *Document) addImageLayer(img image.Image, w, h float64) error {
	var buf bytes.Buffer
	imageType := "JPG"
	if imaging.CountColors(img, paletteLimit) <= paletteLimit {
		imageType = "PNG"
		if err := imaging.EncodePNG(&buf, img); err != nil {
			return err
		}
	} else {
		if imaging.IsGrayscale(img) {
			img = toGray(img)
		}
		if err := imaging.EncodeJPEG(&buf, img, d.opts.JPEGQuality); err != nil {
			return err
		}
	}

	name := fmt.Sprintf("page%04d", d.pages)
	opts := fpdf.ImageOptions{ImageType: imageType}

	pdf := d.pdf
	pdf.BeginLayer(d.scanLayer)
	defer pdf.EndLayer()

	pdf.RegisterImageOptionsReader(name, opts, &buf)
	if d.opts.Debug {
		pdf.SetAlpha(0.5, "Normal")
		defer pdf.SetAlpha(1.0, "Normal")
	}
	pdf.ImageOptions(name, 0, 0, w, h, false, opts, 0, "")
	return pdf.Error()
}

// addTextLayer writes every word at its box, stretched horizontally so the
// rendered string spans the box width.
func (d *Document) addTextLayer(page *hocr.Page, scale float64) {
	if page == nil || page.WordCount() == 0 {
		return
	}
	pdf := d.pdf
	pdf.BeginLayer(d.ocrLayer)
	defer pdf.EndLayer()

	if d.opts.Debug {
		pdf.SetDrawColor(255, 0, 0)
		pdf.SetLineWidth(0.5)
	}

	for _, line := range page.Lines {
		// Words on a line share one font size so the text layer reads evenly.
		lineHeight := float64(line.BBox.Height()) * scale
		for _, word := range line.Words {
			if word.BBox.Empty() {
				continue
			}
			text := d.translate(word.Text)
			x := float64(word.BBox.X1) * scale
			y := float64(word.BBox.Y1) * scale
			w := float64(word.BBox.Width()) * scale
			h := float64(word.BBox.Height()) * scale

			size := h
			if lineHeight > 0 && lineHeight < 2*h {
				size = lineHeight
			}
			pdf.SetFontSize(size)

			if d.opts.Debug {
				pdf.Rect(x, y, w, h, "D")
			}

			sw := pdf.GetStringWidth(text)
			if sw <= 0 {
				continue
			}
			pdf.TransformBegin()
			pdf.TransformScale(100*w/sw, 100, x, y)
			pdf.Text(x, y+h*0.8, text)
			pdf.TransformEnd()
		}
	}
}

// Write encodes the document to path, creating parent directories.
func (d *Document) Write(path string) error {
	if d.pages == 0 {
		return ErrNoPages
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := d.pdf.OutputFileAndClose(path); err != nil {
		return fmt.Errorf("failed to write pdf %s: %w", path, err)
	}
	return nil
}

// RenderPage writes a one-page searchable PDF for img and its text.
func RenderPage(path string, img image.Image, page *hocr.Page, dpi int, opts Options) error {
	doc := NewDocument(opts)
	if err := doc.AddPage(img, page, dpi); err != nil {
		return fmt.Errorf("failed to render page: %w", err)
	}
	return doc.Write(path)
}

// to8Bit converts 16-bit images, which the PDF PNG reader rejects.
func to8Bit(img image.Image) image.Image {
	switch img.(type) {
	case *image.Gray16:
		return toGray(img)
	case *image.RGBA64, *image.NRGBA64:
		b := img.Bounds()
		out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
		return out
	}
	return img
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
