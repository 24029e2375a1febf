package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ironsheep/ocr-batch/internal/batch"
	"github.com/ironsheep/ocr-batch/internal/ghostscript"
	"github.com/ironsheep/ocr-batch/internal/hocr"
	"github.com/ironsheep/ocr-batch/internal/imaging"
	"github.com/ironsheep/ocr-batch/internal/ocr"
	"github.com/ironsheep/ocr-batch/internal/pdf"
	"github.com/ironsheep/ocr-batch/internal/settings"
	"github.com/ironsheep/ocr-batch/internal/sysinfo"
)

func decode(args json.RawMessage, v interface{}) error {
	if len(args) == 0 || string(args) == "null" {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func required(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", name)
	}
	return nil
}

// === Batch OCR ===

type ocrProcessArgs struct {
	Path    string `json:"path"`
	Output  string `json:"output"`
	Format  string `json:"format"`
	DPI     int    `json:"dpi"`
	Archive string `json:"archive"`
}

func (s *Server) handleOCRProcess(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a ocrProcessArgs
	if err := decode(args, &a); err != nil {
		return nil, err
	}
	if err := required(argPath, a.Path); err != nil {
		return nil, err
	}

	mode, err := batch.DetectMode(a.Path)
	if err != nil {
		return nil, err
	}
	output, archive, err := batch.Dirs(s.settings, mode, a.Output, a.Archive)
	if err != nil {
		return nil, err
	}

	cfg := batch.FromSettings(s.settings, output)
	if a.Format != "" {
		f, err := settings.ParseOutputFormat(a.Format)
		if err != nil {
			return nil, err
		}
		cfg.PDF, cfg.HOCR = f.PDF, f.HOCR
	}
	if a.DPI > 0 {
		cfg.DPI = a.DPI
	}
	cfg.ArchiveDir = archive

	s.runMu.Lock()
	defer s.runMu.Unlock()

	p, err := s.newProcessor(cfg)
	if err != nil {
		return nil, err
	}
	defer p.Close()

	res, err := p.Run(ctx, a.Path)
	if res == nil {
		return nil, err
	}
	s.remember(mode, a.Path, output, archive)
	if err != nil {
		return nil, fmt.Errorf("%w after %d of %d files, see %s", err, res.Processed, res.Total, res.SessionDir)
	}
	return res, nil
}

// remember stores the directories of a run so later calls can omit them.
func (s *Server) remember(mode batch.Mode, input, output, archive string) {
	if abs, err := filepath.Abs(input); err == nil {
		input = abs
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	s.settings.RememberRun(string(mode), input, output, archive)
	if err := s.settings.Save(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to save settings")
	}
}

type ocrImageArgs struct {
	Path string `json:"path"`
	DPI  int    `json:"dpi"`
}

type ocrLine struct {
	Text string    `json:"text"`
	BBox hocr.BBox `json:"bbox"`
}

type ocrImageResult struct {
	Path       string    `json:"path"`
	Engine     string    `json:"engine"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	DPI        int       `json:"dpi"`
	Words      int       `json:"words"`
	Confidence float64   `json:"mean_confidence"`
	Text       string    `json:"text"`
	Lines      []ocrLine `json:"lines"`
}

func (s *Server) handleOCRImage(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a ocrImageArgs
	if err := decode(args, &a); err != nil {
		return nil, err
	}
	if err := required(argPath, a.Path); err != nil {
		return nil, err
	}

	img, err := s.cache.Load(a.Path)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	meta, _ := imaging.ReadDPI(a.Path)
	dpi := imaging.ResolveDPI(a.DPI, meta, b.Dx(), b.Dy())

	// The engine reads files; hand it the decoded, upright pixels.
	tmp, err := os.MkdirTemp("", "ocr-image-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)
	path := filepath.Join(tmp, "page.png")
	if err := imaging.SavePNG(path, imaging.Flatten(img)); err != nil {
		return nil, err
	}

	engine, err := s.newEngine()
	if err != nil {
		return nil, err
	}
	defer engine.Close()

	page, err := engine.Recognize(ctx, ocr.Input{
		Path:       path,
		ImageName:  filepath.Base(a.Path),
		Width:      b.Dx(),
		Height:     b.Dy(),
		DPI:        dpi,
		PageNumber: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", engine.Name(), err)
	}

	res := ocrImageResult{
		Path:       a.Path,
		Engine:     engine.Name(),
		Width:      b.Dx(),
		Height:     b.Dy(),
		DPI:        dpi,
		Words:      page.WordCount(),
		Confidence: page.MeanConfidence(),
		Text:       page.Text(),
		Lines:      make([]ocrLine, 0, len(page.Lines)),
	}
	for _, l := range page.Lines {
		res.Lines = append(res.Lines, ocrLine{Text: l.Text(), BBox: l.BBox})
	}
	return res, nil
}

type imageInfoArgs struct {
	Path string `json:"path"`
}

func (s *Server) handleImageInfo(_ context.Context, args json.RawMessage) (interface{}, error) {
	var a imageInfoArgs
	if err := decode(args, &a); err != nil {
		return nil, err
	}
	if err := required(argPath, a.Path); err != nil {
		return nil, err
	}
	return imaging.LoadImageInfo(s.cache, a.Path)
}

// === PDF tools ===

type pdfCompressArgs struct {
	Input   string `json:"input"`
	Output  string `json:"output"`
	Quality int    `json:"quality"`
	Type    string `json:"type"`
	Workers int    `json:"workers"`
}

type pdfCompressResult struct {
	Input        string  `json:"input"`
	Output       string  `json:"output"`
	Method       string  `json:"method"`
	InitialBytes int64   `json:"initial_bytes"`
	FinalBytes   int64   `json:"final_bytes"`
	Ratio        float64 `json:"ratio"`
	Reverted     bool    `json:"reverted"`
	Elapsed      string  `json:"elapsed"`
}

type pdfCompressTreeResult struct {
	Input  string                 `json:"input"`
	Output string                 `json:"output"`
	Result ghostscript.TreeResult `json:"result"`
}

func (s *Server) handlePDFCompress(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a pdfCompressArgs
	if err := decode(args, &a); err != nil {
		return nil, err
	}
	if err := required(argInput, a.Input); err != nil {
		return nil, err
	}
	if err := required(argOutput, a.Output); err != nil {
		return nil, err
	}

	g := s.settings.General
	opts := ghostscript.Options{Quality: g.CompressionQuality, Type: g.CompressionType}
	if a.Quality > 0 {
		opts.Quality = a.Quality
	}
	if a.Type != "" {
		opts.Type = strings.ToLower(a.Type)
	}
	workers := a.Workers
	if workers <= 0 {
		workers = s.settings.Performance.ThreadCount
	}

	info, err := os.Stat(a.Input)
	if err != nil {
		return nil, fmt.Errorf("failed to stat input: %w", err)
	}

	gs, gsErr := s.newGhostscript()
	if info.IsDir() {
		if gsErr != nil {
			return nil, gsErr
		}
		tree, err := gs.CompressTree(ctx, a.Input, a.Output, opts, workers)
		if err != nil {
			return nil, err
		}
		return pdfCompressTreeResult{Input: a.Input, Output: a.Output, Result: tree}, nil
	}

	res := pdfCompressResult{Input: a.Input, Output: a.Output, Method: "ghostscript"}
	var cr ghostscript.CompressResult
	if gsErr == nil {
		cr, err = gs.Compress(ctx, a.Input, a.Output, opts)
	} else {
		if !errors.Is(gsErr, ghostscript.ErrNotFound) {
			return nil, gsErr
		}
		res.Method = "pdfcpu"
		cr, err = optimize(ctx, a.Input, a.Output)
	}
	if err != nil {
		return nil, err
	}
	res.InitialBytes = cr.InitialBytes
	res.FinalBytes = cr.FinalBytes
	res.Ratio = cr.Ratio()
	res.Reverted = cr.Reverted
	res.Elapsed = cr.Elapsed.String()
	return res, nil
}

// optimize is the compression used when Ghostscript is missing.
func optimize(ctx context.Context, in, out string) (ghostscript.CompressResult, error) {
	var res ghostscript.CompressResult
	before, err := os.Stat(in)
	if err != nil {
		return res, fmt.Errorf("failed to stat input: %w", err)
	}
	if err := pdf.Optimize(ctx, in, out); err != nil {
		return res, err
	}
	after, err := os.Stat(out)
	if err != nil {
		return res, fmt.Errorf("failed to stat output: %w", err)
	}
	res.InitialBytes = before.Size()
	res.FinalBytes = after.Size()
	return res, nil
}

// === Sessions and host ===

type sessionReportArgs struct {
	Path string `json:"path"`
}

func (s *Server) handleSessionReport(_ context.Context, args json.RawMessage) (interface{}, error) {
	var a sessionReportArgs
	if err := decode(args, &a); err != nil {
		return nil, err
	}
	if err := required(argPath, a.Path); err != nil {
		return nil, err
	}
	path := a.Path
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, batch.ReportFile)
	}
	return batch.ReadReport(path)
}

type systemDiagnosticsArgs struct {
	Quick *bool `json:"quick"`
}

type diagnosticsResult struct {
	*sysinfo.Report
	RecommendedWorkers int `json:"recommended_workers"`
	ConfiguredWorkers  int `json:"configured_workers"`
}

func (s *Server) handleSystemDiagnostics(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a systemDiagnosticsArgs
	if err := decode(args, &a); err != nil {
		return nil, err
	}
	quick := a.Quick == nil || *a.Quick

	r := s.collector.Collect(ctx, sysinfo.Options{
		Engine:          batch.EngineConfig(s.settings),
		GhostscriptPath: s.settings.Paths.Ghostscript,
		DiskPath:        s.settings.Paths.OutputFolder,
		Quick:           quick,
	})
	return diagnosticsResult{
		Report:             r,
		RecommendedWorkers: r.RecommendedWorkers(),
		ConfiguredWorkers:  s.settings.Performance.ThreadCount,
	}, nil
}
