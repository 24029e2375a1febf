package batch

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/ironsheep/ocr-batch/internal/ghostscript"
	"github.com/ironsheep/ocr-batch/internal/imaging"
	"github.com/ironsheep/ocr-batch/internal/ocr"
	"github.com/ironsheep/ocr-batch/internal/pdf"
	"github.com/ironsheep/ocr-batch/internal/settings"
)

// Defaults for Config fields left zero.
const (
	DefaultOperationTimeout = 600 * time.Second
	DefaultPageTimeout      = 60 * time.Second
	DefaultRasterDPI        = 300
)

// Config controls a batch run.
type Config struct {
	// Output is the directory that receives session directories.
	Output string

	// PDF and HOCR select the outputs. At least one must be set.
	PDF  bool
	HOCR bool

	// DPI overrides the resolution of every page. 0 reads it from image
	// metadata or guesses it from the page size, and rasterizes PDFs at
	// DefaultRasterDPI.
	DPI int

	// Workers is the number of pages recognized at once.
	Workers int

	// OperationTimeout bounds one file (a folder of images or a PDF).
	OperationTimeout time.Duration

	// PageTimeout bounds one engine call.
	PageTimeout time.Duration

	// SkipBlank leaves pages without ink out of recognition. They are kept
	// in the PDF as image-only pages.
	SkipBlank bool

	Prepare imaging.PrepareOptions
	Render  pdf.Options

	Compress    bool
	Compression ghostscript.Options

	// Archive moves the sources of a successful run below ArchiveDir.
	Archive    bool
	ArchiveDir string

	Progress         ProgressFunc
	ProgressInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = DefaultOperationTimeout
	}
	if c.PageTimeout <= 0 {
		c.PageTimeout = DefaultPageTimeout
	}
	return c
}

// Validate checks the combination of options.
func (c Config) Validate() error {
	if c.Output == "" {
		return fmt.Errorf("output directory is required")
	}
	if !c.PDF && !c.HOCR {
		return fmt.Errorf("output formats must be 'pdf', 'hocr', or both")
	}
	if c.Archive && c.ArchiveDir == "" {
		return fmt.Errorf("archive directory is required when archiving is enabled")
	}
	return nil
}

// Summary lists the options recorded in the run report.
func (c Config) Summary() map[string]any {
	formats := []string{}
	if c.PDF {
		formats = append(formats, "pdf")
	}
	if c.HOCR {
		formats = append(formats, "hocr")
	}
	dpi := "auto"
	if c.DPI > 0 {
		dpi = fmt.Sprint(c.DPI)
	}
	m := map[string]any{
		"formats":           strings.Join(formats, "+"),
		"dpi":               dpi,
		"workers":           c.Workers,
		"operation_timeout": c.OperationTimeout.String(),
		"page_timeout":      c.PageTimeout.String(),
		"skip_blank":        c.SkipBlank,
		"compress":          c.Compress,
		"archive":           c.Archive,
	}
	if c.Compress {
		m["compression_type"] = c.Compression.Type
		m["compression_quality"] = c.Compression.Quality
	}
	return m
}

// FromSettings builds a Config for output from the stored settings.
func FromSettings(s *settings.Settings, output string) Config {
	g := s.General
	// An invalid format leaves both outputs off and fails Validate.
	formats, _ := settings.ParseOutputFormat(g.OutputFormat)
	return Config{
		Output:           output,
		PDF:              formats.PDF,
		HOCR:             formats.HOCR,
		DPI:              s.DPIOverride(),
		Workers:          s.Performance.ThreadCount,
		OperationTimeout: s.Performance.OperationTimeout,
		PageTimeout:      s.Performance.ChunkTimeout,
		SkipBlank:        g.SkipBlank,
		Prepare: imaging.PrepareOptions{
			MaxDimension: g.MaxImageSize,
			Contrast:     g.Contrast,
			Grayscale:    g.Grayscale,
		},
		Render:   pdf.Options{JPEGQuality: g.JPEGQuality, Debug: g.PDFDebug},
		Compress: g.CompressEnabled,
		Compression: ghostscript.Options{
			Quality: g.CompressionQuality,
			Type:    g.CompressionType,
		},
		Archive: g.ArchiveEnabled,
	}
}

// EngineConfig builds the OCR engine configuration from the settings.
func EngineConfig(s *settings.Settings) ocr.Config {
	g := s.General
	return ocr.Config{
		Engine:           g.Engine,
		Language:         g.Language,
		TessdataPrefix:   s.Paths.Tessdata,
		PageSegMode:      g.PageSegmentation,
		DetectionModel:   g.DetectionModel,
		RecognitionModel: g.RecognitionModel,
		Command:          g.EngineCommand,
		Args:             g.EngineArgs,
	}
}
