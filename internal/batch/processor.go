package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ironsheep/ocr-batch/internal/ghostscript"
	"github.com/ironsheep/ocr-batch/internal/imaging"
	"github.com/ironsheep/ocr-batch/internal/ocr"
	"github.com/ironsheep/ocr-batch/internal/pdf"
)

// ErrCancelled is returned with the partial result of a cancelled run.
var ErrCancelled = errors.New("batch cancelled")

// compressionSlack is how much larger than the uncompressed PDF a
// compressed one may be and still be kept.
const compressionSlack = 1.1

// Rasterizer turns the pages of a PDF into page_NNNN image files.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdf, dir string, dpi int) ([]string, error)
}

// Compressor rewrites a PDF into a smaller one.
type Compressor interface {
	Compress(ctx context.Context, in, out string, opts ghostscript.Options) (ghostscript.CompressResult, error)
}

// Processor runs batches through an OCR engine.
type Processor struct {
	cfg        Config
	engine     ocr.Engine
	rasterizer Rasterizer
	compressor Compressor
	cache      *imaging.ImageCache
	logger     zerolog.Logger
	now        func() time.Time
	ownsEngine bool
}

// Option customizes a Processor.
type Option func(*Processor)

// WithRasterizer sets the PDF rasterizer, usually Ghostscript.
func WithRasterizer(r Rasterizer) Option {
	return func(p *Processor) { p.rasterizer = r }
}

// WithCompressor sets the PDF compressor, usually Ghostscript.
func WithCompressor(c Compressor) Option {
	return func(p *Processor) { p.compressor = c }
}

// WithClock replaces time.Now for session naming.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// New returns a Processor. Without a rasterizer, scanned PDFs are read by
// extracting their page images; without a compressor, pdfcpu's optimizer
// is used when compression is enabled.
func New(cfg Config, engine ocr.Engine, logger zerolog.Logger, opts ...Option) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if engine == nil {
		return nil, fmt.Errorf("no ocr engine")
	}
	p := &Processor{
		cfg:        cfg.withDefaults(),
		engine:     engine,
		rasterizer: extractRasterizer{},
		compressor: optimizeCompressor{},
		cache:      imaging.NewImageCache(),
		logger:     logger.With().Str("component", "batch").Logger(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

type jobKind string

const (
	kindFolder jobKind = "folder"
	kindPDF    jobKind = "pdf"
	kindImage  jobKind = "image"
)

// job is one output document.
type job struct {
	name    string
	kind    jobKind
	sources []string
	pdfOut  string
	// hocrPath returns the output hOCR path for page n from source src.
	hocrPath func(n int, src string) string
}

// Run processes input, which may be an image, a PDF or a directory.
//
// Parameters:
//   - ctx: Cancelling it stops dispatching pages; the result then has
//     status cancelled and ErrCancelled is returned with it.
//   - input: The file or directory to process.
//
// Returns:
//   - *Result: Per-file outcome, also written to report.yaml in the
//     session directory. Nil only when the run could not start.
//   - error: Non-nil if the input is missing or unsupported, the session
//     cannot be created, or the run was cancelled.
func (p *Processor) Run(ctx context.Context, input string) (*Result, error) {
	mode, err := DetectMode(input)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(input)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve input: %w", err)
	}

	// Discovery runs before the session exists so it cannot see it.
	var inv *Inventory
	if mode == ModeFolder {
		inv, err = Discover(abs, p.cfg.Output, p.cfg.ArchiveDir)
		if err != nil {
			return nil, err
		}
	}

	return p.execute(ctx, abs, mode, func(s *Session) ([]job, string) {
		switch mode {
		case ModeSingle:
			return []job{imageJob(s, abs)}, ""
		case ModePDF:
			return []job{pdfJob(s, PDFFile{Path: abs, Rel: filepath.Base(filepath.Dir(abs))})}, ""
		}
		var jobs []job
		for _, f := range inv.Folders {
			jobs = append(jobs, folderJob(s, f))
		}
		for _, f := range inv.PDFs {
			jobs = append(jobs, pdfJob(s, f))
		}
		return jobs, inv.Root
	})
}

// RunFiles processes a list of images and PDFs as one session, each file
// becoming its own output document. PDFs keep their directory relative to
// root in the output tree, and archiving preserves paths relative to root.
func (p *Processor) RunFiles(ctx context.Context, root string, files []string) (*Result, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	var paths []string
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", f, err)
		}
		if !Supported(abs) {
			p.logger.Warn().Str("file", abs).Msg("skipping unsupported file")
			continue
		}
		paths = append(paths, abs)
	}

	return p.execute(ctx, root, ModeFiles, func(s *Session) ([]job, string) {
		jobs := make([]job, 0, len(paths))
		for _, path := range paths {
			if !isPDF(path) {
				jobs = append(jobs, imageJob(s, path))
				continue
			}
			rel, err := filepath.Rel(root, filepath.Dir(path))
			if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
				rel = filepath.Base(filepath.Dir(path))
			}
			jobs = append(jobs, pdfJob(s, PDFFile{Path: path, Rel: rel}))
		}
		return jobs, root
	})
}

// execute creates the session, runs the planned jobs and finishes the
// run with archiving and the report.
func (p *Processor) execute(ctx context.Context, input string, mode Mode, plan func(*Session) ([]job, string)) (*Result, error) {
	session, err := NewSession(p.cfg.Output, p.now())
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := session.Cleanup(); err != nil {
			p.logger.Warn().Err(err).Msg("cleanup failed")
		}
	}()

	result := &Result{
		SessionID:  session.ID,
		SessionDir: session.Dir,
		Input:      input,
		Mode:       mode,
		Engine:     p.engine.Name(),
		Started:    session.Started,
		Settings:   p.cfg.Summary(),
	}
	jobs, archiveRoot := plan(session)

	for _, j := range jobs {
		result.Total += len(j.sources)
	}
	p.logger.Info().
		Str("input", input).
		Str("mode", string(mode)).
		Int("files", result.Total).
		Str("session", session.Dir).
		Msg("starting batch")

	rep := newReporter(p.cfg.Progress, p.cfg.ProgressInterval)
	filesDone := 0
	for i, j := range jobs {
		if ctx.Err() != nil {
			break
		}
		rep.file(Progress{FilesDone: filesDone, FilesTotal: result.Total, File: j.name, Stage: StageStart})

		fr := p.runJob(ctx, session, j, i, rep, filesDone, result.Total)
		result.Files = append(result.Files, fr)
		filesDone += len(j.sources)

		processed, failed := tally(j, fr)
		result.Processed += processed
		result.Failed += failed
		rep.file(Progress{FilesDone: filesDone, FilesTotal: result.Total, File: j.name, Stage: StageDone, FilePercent: 100})
	}

	switch {
	case ctx.Err() != nil:
		result.Status = StatusCancelled
	case result.Total == 0:
		result.Status = StatusNoFiles
	case result.Failed > 0:
		result.Status = StatusPartial
	default:
		result.Status = StatusSuccess
	}

	if p.cfg.Archive && result.Status == StatusSuccess {
		var sources []string
		for _, j := range jobs {
			sources = append(sources, j.sources...)
		}
		moved, err := Archive(sources, archiveRoot, p.cfg.ArchiveDir)
		result.Archived = moved
		if err != nil {
			p.logger.Error().Err(err).Msg("archiving failed")
		} else {
			p.logger.Info().Int("files", len(moved)).Str("dir", p.cfg.ArchiveDir).Msg("archived sources")
		}
	}

	result.Finished = p.now()
	if err := WriteReport(session.ReportPath(), result); err != nil {
		p.logger.Error().Err(err).Msg("failed to write report")
	}

	p.logger.Info().
		Str("status", string(result.Status)).
		Int("processed", result.Processed).
		Int("failed", result.Failed).
		Int("total", result.Total).
		Dur("elapsed", result.Finished.Sub(result.Started)).
		Msg("batch finished")

	if result.Status == StatusCancelled {
		return result, ErrCancelled
	}
	return result, nil
}

// tally splits the sources of a finished job into processed and failed
// ones. Images map to one page each; a PDF is a single source and counts
// as failed when any of its pages failed.
func tally(j job, fr FileResult) (processed, failed int) {
	n := len(j.sources)
	switch fr.Status {
	case FileSuccess:
		return n, 0
	case FilePartial:
		if j.kind == kindPDF {
			return 0, n
		}
		failed = min(fr.PagesFailed, n)
		return n - failed, failed
	case FileFailed:
		return 0, n
	}
	return 0, 0
}

func imageJob(s *Session, path string) job {
	stem := stem(path)
	return job{
		name:    filepath.Base(path),
		kind:    kindImage,
		sources: []string{path},
		pdfOut:  filepath.Join(s.PDFDir, stem+".pdf"),
		hocrPath: func(int, string) string {
			return filepath.Join(s.HOCRDir, stem+".hocr")
		},
	}
}

func folderJob(s *Session, f Folder) job {
	return job{
		name:    f.Rel,
		kind:    kindFolder,
		sources: f.Images,
		pdfOut:  filepath.Join(s.PDFDir, f.Rel, f.Name+".pdf"),
		hocrPath: func(_ int, src string) string {
			return filepath.Join(s.HOCRDir, f.Rel, stem(src)+".hocr")
		},
	}
}

func pdfJob(s *Session, f PDFFile) job {
	stem := stem(f.Path)
	return job{
		name:    filepath.Base(f.Path),
		kind:    kindPDF,
		sources: []string{f.Path},
		pdfOut:  filepath.Join(s.PDFDir, f.Rel, stem+"_ocr.pdf"),
		hocrPath: func(n int, _ string) string {
			return filepath.Join(s.HOCRDir, f.Rel, stem, fmt.Sprintf("%s_page_%04d.hocr", stem, n))
		},
	}
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// pageTask is one page of a job.
type pageTask struct {
	path   string
	source string
	number int
	// dpi is fixed for rasterized PDF pages and 0 for images.
	dpi int
}

func (p *Processor) runJob(parent context.Context, s *Session, j job, index int, rep *reporter, filesDone, filesTotal int) FileResult {
	start := time.Now()
	fr := FileResult{Name: j.name, Kind: string(j.kind), Sources: j.sources}
	log := p.logger.With().Str("file", j.name).Logger()

	ctx, cancel := context.WithTimeout(parent, p.cfg.OperationTimeout)
	defer cancel()

	tempDir := filepath.Join(s.TempDir, fmt.Sprintf("job_%04d", index+1))
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		fr.Status = FileFailed
		fr.Error = err.Error()
		return fr
	}
	defer os.RemoveAll(tempDir)

	tasks, err := p.pageTasks(ctx, j, tempDir)
	if err != nil {
		log.Error().Err(err).Msg("failed to prepare pages")
		fr.Status = FileFailed
		if parent.Err() != nil {
			fr.Status = FileCancelled
		}
		fr.Error = err.Error()
		fr.Elapsed = time.Since(start)
		return fr
	}
	fr.Pages = len(tasks)

	results := make([]pageResult, len(tasks))
	var pagesDone atomic.Int64
	grp := new(errgroup.Group)
	grp.SetLimit(p.cfg.Workers)
	for i, t := range tasks {
		if ctx.Err() != nil {
			results[i].err = ctx.Err()
			continue
		}
		grp.Go(func() error {
			progress := func(stage Stage) {
				rep.page(Progress{
					FilesDone:  filesDone,
					FilesTotal: filesTotal,
					File:       j.name,
					Stage:      stage,
					Page:       t.number,
					Pages:      len(tasks),
				}, int(pagesDone.Load()))
			}
			results[i] = p.processPage(ctx, j, t, tempDir, progress)
			pagesDone.Add(1)
			return nil
		})
	}
	grp.Wait()

	var pagePDFs []string
	var errs []error
	for i, r := range results {
		if r.err != nil {
			fr.PagesFailed++
			errs = append(errs, fmt.Errorf("page %d: %w", tasks[i].number, r.err))
			log.Error().Err(r.err).Int("page", tasks[i].number).Str("source", tasks[i].source).Msg("page failed")
			continue
		}
		if r.blank {
			fr.BlankPages++
		}
		fr.Words += r.words
		if r.hocrOut != "" {
			fr.Outputs = append(fr.Outputs, r.hocrOut)
		}
		if r.pdf != "" {
			pagePDFs = append(pagePDFs, r.pdf)
		}
	}

	ok := fr.Pages - fr.PagesFailed
	if ok > 0 && p.cfg.PDF {
		comp, err := p.finishPDF(ctx, pagePDFs, tempDir, j.pdfOut)
		fr.Compression = comp
		if err != nil {
			log.Error().Err(err).Msg("failed to build pdf")
			errs = append(errs, err)
			ok = 0
		} else {
			fr.Outputs = append(fr.Outputs, j.pdfOut)
		}
	}

	switch {
	case parent.Err() != nil:
		fr.Status = FileCancelled
	case ok == 0:
		fr.Status = FileFailed
	case fr.PagesFailed > 0:
		fr.Status = FilePartial
	default:
		fr.Status = FileSuccess
	}
	if len(errs) > 0 {
		fr.Error = errors.Join(errs...).Error()
	}
	fr.Elapsed = time.Since(start)

	log.Info().
		Str("status", string(fr.Status)).
		Int("pages", fr.Pages).
		Int("failed_pages", fr.PagesFailed).
		Int("words", fr.Words).
		Dur("elapsed", fr.Elapsed).
		Msg("file finished")
	return fr
}

// pageTasks lists the pages of a job, rasterizing PDFs into tempDir.
func (p *Processor) pageTasks(ctx context.Context, j job, tempDir string) ([]pageTask, error) {
	if j.kind != kindPDF {
		tasks := make([]pageTask, len(j.sources))
		for i, src := range j.sources {
			tasks[i] = pageTask{path: src, source: src, number: i + 1}
		}
		return tasks, nil
	}

	src := j.sources[0]
	dpi := p.cfg.DPI
	if dpi <= 0 {
		dpi = DefaultRasterDPI
	}
	pages, err := p.rasterizer.Rasterize(ctx, src, filepath.Join(tempDir, "raster"), dpi)
	if err != nil {
		return nil, err
	}
	_, extracted := p.rasterizer.(extractRasterizer)
	tasks := make([]pageTask, 0, len(pages))
	for i, path := range pages {
		n, ok := ghostscript.PageNumber(path)
		if !ok {
			n = i + 1
		}
		t := pageTask{path: path, source: src, number: n, dpi: dpi}
		if extracted {
			// Embedded images keep their own resolution.
			t.dpi = p.cfg.DPI
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// finishPDF merges the page PDFs and optionally compresses the result
// into out.
func (p *Processor) finishPDF(ctx context.Context, pages []string, tempDir, out string) (*Compression, error) {
	merged := filepath.Join(tempDir, "merged.pdf")
	if err := pdf.Merge(ctx, pages, merged); err != nil {
		return nil, err
	}

	final := merged
	var comp *Compression
	if p.cfg.Compress {
		compressed := filepath.Join(tempDir, "compressed.pdf")
		res, err := p.compressor.Compress(ctx, merged, compressed, p.cfg.Compression)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.logger.Warn().Err(err).Str("file", out).Msg("compression failed, keeping uncompressed pdf")
		} else {
			comp = &Compression{
				InitialBytes: res.InitialBytes,
				FinalBytes:   res.FinalBytes,
				Method:       compressorName(p.compressor),
			}
			if float64(res.FinalBytes) <= float64(res.InitialBytes)*compressionSlack {
				comp.Kept = true
				final = compressed
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return comp, fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.Rename(final, out); err != nil {
		return comp, fmt.Errorf("failed to move pdf into place: %w", err)
	}
	return comp, nil
}

func compressorName(c Compressor) string {
	switch c.(type) {
	case *ghostscript.Ghostscript:
		return "ghostscript"
	case optimizeCompressor:
		return "pdfcpu"
	}
	return fmt.Sprintf("%T", c)
}

// extractRasterizer reads scanned PDFs without Ghostscript.
type extractRasterizer struct{}

func (extractRasterizer) Rasterize(ctx context.Context, in, dir string, _ int) ([]string, error) {
	return pdf.ExtractPageImages(ctx, in, dir)
}

// optimizeCompressor compresses with pdfcpu when Ghostscript is missing.
type optimizeCompressor struct{}

func (optimizeCompressor) Compress(ctx context.Context, in, out string, _ ghostscript.Options) (ghostscript.CompressResult, error) {
	start := time.Now()
	var res ghostscript.CompressResult
	info, err := os.Stat(in)
	if err != nil {
		return res, err
	}
	res.InitialBytes = info.Size()
	if err := pdf.Optimize(ctx, in, out); err != nil {
		return res, err
	}
	outInfo, err := os.Stat(out)
	if err != nil {
		return res, err
	}
	res.FinalBytes = outInfo.Size()
	res.Elapsed = time.Since(start)
	return res, nil
}
