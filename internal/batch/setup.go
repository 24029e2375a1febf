package batch

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ironsheep/ocr-batch/internal/ghostscript"
	"github.com/ironsheep/ocr-batch/internal/ocr"
	"github.com/ironsheep/ocr-batch/internal/settings"
)

// ErrNoOutput is returned when no output directory is given or remembered.
var ErrNoOutput = errors.New("no output directory")

// Dirs resolves the output and archive directories for a run in mode.
// Explicit values win over the ones remembered in the settings.
func Dirs(s *settings.Settings, mode Mode, output, archive string) (string, string, error) {
	if output == "" {
		output = s.LastOutput(string(mode))
	}
	if output == "" {
		return "", "", fmt.Errorf("%w for %s mode", ErrNoOutput, mode)
	}
	if archive == "" {
		archive = s.LastArchive(string(mode))
	}
	return output, archive, nil
}

// NewFromSettings builds a Processor with the engine selected in the
// settings. Ghostscript is used for PDF rasterization and compression when
// it can be found; otherwise the pdfcpu fallbacks apply. Close releases the
// engine.
func NewFromSettings(s *settings.Settings, cfg Config, logger zerolog.Logger, opts ...Option) (*Processor, error) {
	if cfg.Archive && cfg.ArchiveDir == "" {
		logger.Warn().Msg("archiving enabled but no archive directory set, archiving disabled")
		cfg.Archive = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	engine, err := ocr.New(EngineConfig(s), logger)
	if err != nil {
		return nil, err
	}

	if gs, err := ghostscript.New(s.Paths.Ghostscript, logger.With().Str("component", "ghostscript").Logger()); err == nil {
		opts = append([]Option{WithRasterizer(gs), WithCompressor(gs)}, opts...)
	} else {
		logger.Info().Err(err).Msg("ghostscript unavailable, using embedded page images for PDF input")
	}

	p, err := New(cfg, engine, logger, opts...)
	if err != nil {
		engine.Close()
		return nil, err
	}
	p.ownsEngine = true
	return p, nil
}

// Close releases the engine when the Processor created it.
func (p *Processor) Close() error {
	if !p.ownsEngine {
		return nil
	}
	return p.engine.Close()
}

// EngineName returns the name of the OCR engine.
func (p *Processor) EngineName() string {
	return p.engine.Name()
}
