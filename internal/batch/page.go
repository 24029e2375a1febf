package batch

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"github.com/ironsheep/ocr-batch/internal/hocr"
	"github.com/ironsheep/ocr-batch/internal/imaging"
	"github.com/ironsheep/ocr-batch/internal/ocr"
	"github.com/ironsheep/ocr-batch/internal/pdf"
)

type pageResult struct {
	pdf     string // one-page PDF in the job temp dir
	hocrOut string // hOCR output, when requested
	words   int
	blank   bool
	err     error
}

// processPage runs one page through load, recognition, hOCR output and
// PDF rendering.
func (p *Processor) processPage(ctx context.Context, j job, t pageTask, tempDir string, progress func(Stage)) pageResult {
	var res pageResult
	progress(StageStart)

	img, err := p.cache.Load(t.path)
	if err != nil {
		res.err = err
		return res
	}
	defer p.cache.Evict(t.path)

	b := img.Bounds()
	dpi := t.dpi
	if dpi <= 0 {
		meta, _ := imaging.ReadDPI(t.path)
		dpi = imaging.ResolveDPI(p.cfg.DPI, meta, b.Dx(), b.Dy())
	}

	flat := imaging.Flatten(img)
	prepared, scale := imaging.Prepare(flat, p.cfg.Prepare)
	progress(StageLoaded)

	imageName := filepath.Base(t.source)
	if j.kind == kindPDF {
		imageName = filepath.Base(t.path)
	}

	var page *hocr.Page
	if p.cfg.SkipBlank && imaging.IsBlank(prepared, imaging.DefaultBlankThreshold) {
		p.logger.Debug().Str("file", t.path).Msg("blank page, skipping recognition")
		page = hocr.NewPage(imageName, t.number, b.Dx(), b.Dy())
		res.blank = true
	} else {
		page, err = p.recognize(ctx, t, prepared, img, scale, dpi, imageName, tempDir)
		if err != nil {
			res.err = err
			return res
		}
	}
	res.words = page.WordCount()
	progress(StageRecognized)

	if p.cfg.HOCR {
		out := j.hocrPath(t.number, t.source)
		if err := page.WriteFile(out); err != nil {
			res.err = err
			return res
		}
		res.hocrOut = out
	}
	progress(StageSaved)

	if p.cfg.PDF {
		out := filepath.Join(tempDir, fmt.Sprintf("page_%05d.pdf", t.number))
		if err := pdf.RenderPage(out, flat, page, dpi, p.cfg.Render); err != nil {
			res.err = err
			return res
		}
		res.pdf = out
	}
	progress(StageDone)
	return res
}

// recognize runs the engine on the prepared page and maps the result back
// to the pixel grid of the original image.
func (p *Processor) recognize(ctx context.Context, t pageTask, prepared, original image.Image, scale float64, dpi int, imageName, tempDir string) (*hocr.Page, error) {
	path := t.path
	if prepared != original || !engineReadable(path) {
		path = filepath.Join(tempDir, fmt.Sprintf("page_%05d_ocr.png", t.number))
		if err := imaging.SavePNG(path, prepared); err != nil {
			return nil, err
		}
	}

	pb := prepared.Bounds()
	in := ocr.Input{
		Path:       path,
		ImageName:  imageName,
		Width:      pb.Dx(),
		Height:     pb.Dy(),
		DPI:        int(float64(dpi)*scale + 0.5),
		PageNumber: t.number,
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.PageTimeout)
	defer cancel()
	page, err := p.engine.Recognize(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", p.engine.Name(), err)
	}

	if scale != 1 && scale > 0 {
		page.Scale(1 / scale)
	}
	ob := original.Bounds()
	page.BBox = hocr.BBox{X2: ob.Dx(), Y2: ob.Dy()}
	return page, nil
}

// engineReadable reports whether an engine can read path as decoded.
// JPEGs may carry an EXIF orientation that the loader has applied.
func engineReadable(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".tif", ".tiff", ".bmp":
		return true
	}
	return false
}
