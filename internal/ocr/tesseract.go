package ocr

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"github.com/rs/zerolog"

	"github.com/ironsheep/ocr-batch/internal/hocr"
)

// TesseractEngine recognizes pages with the Tesseract library through
// gosseract.
//
// A fresh client is created for every page. gosseract clients hold a
// TessBaseAPI handle that must not be shared between goroutines, so the
// engine itself stays safe for concurrent use.
//
// # Cancellation
//
// Tesseract cannot be interrupted once it started. Recognize returns as
// soon as ctx is done, and the abandoned recognition finishes in the
// background and releases its client.
type TesseractEngine struct {
	cfg           Config
	logger        zerolog.Logger
	clientFactory func() *gosseract.Client
}

// NewTesseractEngine returns a Tesseract-backed engine.
func NewTesseractEngine(cfg Config, logger zerolog.Logger) *TesseractEngine {
	return &TesseractEngine{
		cfg:           cfg.withDefaults(),
		logger:        logger,
		clientFactory: gosseract.NewClient,
	}
}

// Name returns "tesseract".
func (e *TesseractEngine) Name() string { return EngineTesseract }

// Close is a no-op; clients are released after every page.
func (e *TesseractEngine) Close() error { return nil }

type tessResult struct {
	page *hocr.Page
	err  error
}

// Recognize runs Tesseract on in.Path and returns the parsed hOCR page.
//
// Parameters:
//   - ctx: Bounds how long the caller waits for the result.
//   - in: The page image. DPI, when set, is passed as user_defined_dpi so
//     Tesseract does not have to guess the character size.
//
// Returns:
//   - *hocr.Page: Lines and words with pixel bounding boxes and x_wconf
//     confidences.
//   - error: Non-nil if the language data is missing, the image cannot be
//     read or recognition fails.
//
// # Fallback
//
// If the hOCR renderer fails, word boxes from the RIL_WORD iterator are
// used instead, one line per word.
func (e *TesseractEngine) Recognize(ctx context.Context, in Input) (*hocr.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	done := make(chan tessResult, 1)
	go func() {
		page, err := e.recognize(in)
		done <- tessResult{page, err}
	}()

	select {
	case <-ctx.Done():
		e.logger.Warn().Str("file", in.Path).Msg("abandoning tesseract run after timeout")
		return nil, ctx.Err()
	case r := <-done:
		return r.page, r.err
	}
}

func (e *TesseractEngine) recognize(in Input) (*hocr.Page, error) {
	client := e.clientFactory()
	defer client.Close()

	if e.cfg.TessdataPrefix != "" {
		if err := client.SetTessdataPrefix(e.cfg.TessdataPrefix); err != nil {
			return nil, fmt.Errorf("failed to set tessdata prefix: %w", err)
		}
	}
	if err := client.SetLanguage(e.cfg.Languages()...); err != nil {
		return nil, fmt.Errorf("failed to set language: %w", err)
	}
	if e.cfg.PageSegMode > 0 {
		if err := client.SetPageSegMode(gosseract.PageSegMode(e.cfg.PageSegMode)); err != nil {
			return nil, fmt.Errorf("failed to set page segmentation mode: %w", err)
		}
	}
	if in.DPI > 0 {
		if err := client.SetVariable(gosseract.SettableVariable("user_defined_dpi"), fmt.Sprint(in.DPI)); err != nil {
			return nil, fmt.Errorf("failed to set dpi: %w", err)
		}
	}
	if err := client.SetImage(in.Path); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	if in.ImageName == "" {
		in.ImageName = filepath.Base(in.Path)
	}

	out, err := client.HOCRText()
	if err == nil {
		page, perr := hocr.Parse(strings.NewReader(out))
		if perr == nil {
			return finishPage(page, in), nil
		}
		e.logger.Debug().Err(perr).Str("file", in.Path).Msg("unreadable hocr output, using word boxes")
	} else {
		e.logger.Debug().Err(err).Str("file", in.Path).Msg("hocr renderer failed, using word boxes")
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("OCR failed: %w", err)
	}
	page := hocr.NewPage(in.ImageName, max(1, in.PageNumber), in.Width, in.Height)
	for _, box := range boxes {
		if strings.TrimSpace(box.Word) == "" {
			continue
		}
		bb := hocr.BBox{X1: box.Box.Min.X, Y1: box.Box.Min.Y, X2: box.Box.Max.X, Y2: box.Box.Max.Y}
		page.Lines = append(page.Lines, hocr.Line{
			BBox:  bb,
			Words: []hocr.Word{{Text: box.Word, BBox: bb, Confidence: box.Confidence}},
		})
	}
	return finishPage(page, in), nil
}

func tesseractVersion() (string, error) {
	v := gosseract.Version()
	if v == "" {
		return "", fmt.Errorf("%w: tesseract library reported no version", ErrUnavailable)
	}
	return "tesseract " + v, nil
}
