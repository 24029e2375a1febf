package ocr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ironsheep/ocr-batch/internal/hocr"
)

// Engine names accepted by New.
const (
	EngineTesseract = "tesseract"
	EngineCommand   = "command"
)

// Default recognizer models passed to command engines.
const (
	DefaultDetectionModel   = "db_resnet50"
	DefaultRecognitionModel = "parseq"
)

// ErrUnavailable is returned when the selected engine cannot run on this host.
var ErrUnavailable = errors.New("ocr engine unavailable")

// Input describes one page image handed to an engine.
type Input struct {
	// Path is the image file to recognize.
	Path string

	// ImageName is recorded in the hOCR page; defaults to the base of Path.
	ImageName string

	// Width and Height are the pixel size of the image, used when the engine
	// does not report a page box.
	Width  int
	Height int

	// DPI is the page resolution. 0 lets the engine guess.
	DPI int

	// PageNumber is 1-based.
	PageNumber int
}

// Engine recognizes text on page images and reports it as an hOCR page.
//
// Implementations must be safe for concurrent use; the batch driver calls
// Recognize from several workers at once.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, in Input) (*hocr.Page, error)
	Close() error
}

// Config selects and configures an engine.
type Config struct {
	// Engine is EngineTesseract (default) or EngineCommand.
	Engine string

	// Language is a Tesseract language code; several can be joined with
	// "+", e.g. "eng+deu".
	Language string

	// TessdataPrefix points Tesseract at a custom tessdata directory.
	TessdataPrefix string

	// PageSegMode is the Tesseract page segmentation mode (0-13).
	// 0 keeps the library default.
	PageSegMode int

	// DetectionModel and RecognitionModel are passed to command engines.
	DetectionModel   string
	RecognitionModel string

	// Command and Args run an external recognizer that prints hOCR on
	// stdout. Args are text/template strings; see CommandEngine.
	Command string
	Args    []string
}

func (c Config) withDefaults() Config {
	if c.Engine == "" {
		c.Engine = EngineTesseract
	}
	if c.Language == "" {
		c.Language = "eng"
	}
	if c.DetectionModel == "" {
		c.DetectionModel = DefaultDetectionModel
	}
	if c.RecognitionModel == "" {
		c.RecognitionModel = DefaultRecognitionModel
	}
	return c
}

// Languages splits Language on "+".
func (c Config) Languages() []string {
	var out []string
	for _, l := range strings.Split(c.Language, "+") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// New builds the engine selected by cfg.Engine.
func New(cfg Config, logger zerolog.Logger) (Engine, error) {
	cfg = cfg.withDefaults()
	logger = logger.With().Str("component", "ocr").Str("engine", cfg.Engine).Logger()

	switch cfg.Engine {
	case EngineTesseract:
		return NewTesseractEngine(cfg, logger), nil
	case EngineCommand:
		return NewCommandEngine(cfg, logger)
	}
	return nil, fmt.Errorf("unknown ocr engine %q", cfg.Engine)
}

// Available reports whether the engine selected by cfg can run here, and
// a short description (library version or resolved command path).
func Available(cfg Config) (string, error) {
	cfg = cfg.withDefaults()
	switch cfg.Engine {
	case EngineTesseract:
		return tesseractVersion()
	case EngineCommand:
		path, err := lookPath(cfg.Command)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrUnavailable, cfg.Command, err)
		}
		return path, nil
	}
	return "", fmt.Errorf("unknown ocr engine %q", cfg.Engine)
}

// finishPage fills in what the engine left out of a recognized page.
func finishPage(p *hocr.Page, in Input) *hocr.Page {
	if p.BBox.Empty() {
		p.BBox = hocr.BBox{X2: in.Width, Y2: in.Height}
	}
	if in.PageNumber > 0 {
		p.PageNumber = in.PageNumber
		p.ID = fmt.Sprintf("page_%d", in.PageNumber)
	}
	if in.ImageName != "" {
		p.ImageName = in.ImageName
	}
	return p
}
