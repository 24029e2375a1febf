package batch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/ironsheep/ocr-batch/internal/ghostscript"
	"github.com/ironsheep/ocr-batch/internal/hocr"
	"github.com/ironsheep/ocr-batch/internal/imaging"
	"github.com/ironsheep/ocr-batch/internal/ocr"
	"github.com/ironsheep/ocr-batch/internal/pdf"
)

// fakeEngine returns one word per page and records its inputs.
type fakeEngine struct {
	mu     sync.Mutex
	inputs []ocr.Input
	// fail lists image names that fail recognition.
	fail  map[string]bool
	delay time.Duration
}

func (e *fakeEngine) Name() string { return "fake" }
func (e *fakeEngine) Close() error { return nil }

func (e *fakeEngine) Recognize(ctx context.Context, in ocr.Input) (*hocr.Page, error) {
	e.mu.Lock()
	e.inputs = append(e.inputs, in)
	e.mu.Unlock()

	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.fail[in.ImageName] {
		return nil, errors.New("recognition failed")
	}
	page := hocr.NewPage(in.ImageName, in.PageNumber, in.Width, in.Height)
	box := hocr.BBox{X1: 10, Y1: 10, X2: in.Width / 2, Y2: 30}
	page.Lines = []hocr.Line{{BBox: box, Words: []hocr.Word{{Text: "hello", BBox: box, Confidence: 90}}}}
	return page, nil
}

func (e *fakeEngine) calls() []ocr.Input {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ocr.Input(nil), e.inputs...)
}

// fakeRasterizer writes pages PNG pages per PDF.
type fakeRasterizer struct {
	pages int
	err   error
}

func (r fakeRasterizer) Rasterize(_ context.Context, _ string, dir string, _ int) ([]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	var out []string
	for i := 1; i <= r.pages; i++ {
		path := filepath.Join(dir, fmt.Sprintf("page_%04d.png", i))
		if err := writePNG(path, createTestImage(200, 260, "PAGE")); err != nil {
			return nil, err
		}
		out = append(out, path)
	}
	return out, nil
}

// fakeCompressor writes an output of ratio times the input size.
type fakeCompressor struct {
	ratio float64
	err   error
}

func (c fakeCompressor) Compress(_ context.Context, in, out string, _ ghostscript.Options) (ghostscript.CompressResult, error) {
	if c.err != nil {
		return ghostscript.CompressResult{}, c.err
	}
	info, err := os.Stat(in)
	if err != nil {
		return ghostscript.CompressResult{}, err
	}
	data, err := os.ReadFile(in)
	if err != nil {
		return ghostscript.CompressResult{}, err
	}
	size := int(float64(info.Size()) * c.ratio)
	if size > len(data) {
		data = append(data, make([]byte, size-len(data))...)
	}
	if err := os.WriteFile(out, data[:size], 0o644); err != nil {
		return ghostscript.CompressResult{}, err
	}
	return ghostscript.CompressResult{InitialBytes: info.Size(), FinalBytes: int64(size)}, nil
}

// createTestImage creates a white page with text drawn in basicfont.
func createTestImage(width, height int, text string) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{color.White}, image.Point{}, draw.Src)
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.Black),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(10), Y: fixed.I(20)},
	}
	d.DrawString(text)
	return img
}

func writePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

func writeImage(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, writePNG(path, createTestImage(200, 260, strings.ToUpper(filepath.Base(path)))))
	return path
}

func writeFile(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4\n"), 0o644))
	return path
}

var fixedNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func newProcessor(t *testing.T, cfg Config, engine ocr.Engine, opts ...Option) *Processor {
	t.Helper()
	if cfg.Output == "" {
		cfg.Output = t.TempDir()
	}
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	p, err := New(cfg, engine, zerolog.Nop(), opts...)
	require.NoError(t, err)
	return p
}

func TestDetectMode(t *testing.T) {
	dir := t.TempDir()
	img := writeImage(t, filepath.Join(dir, "scan.png"))
	doc := writeFile(t, filepath.Join(dir, "doc.PDF"))
	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, nil, 0o644))

	tests := []struct {
		path string
		want Mode
		err  error
	}{
		{dir, ModeFolder, nil},
		{img, ModeSingle, nil},
		{doc, ModePDF, nil},
		{txt, "", imaging.ErrUnsupported},
		{filepath.Join(dir, "missing.png"), "", ErrNoInput},
	}
	for _, tt := range tests {
		t.Run(filepath.Base(tt.path), func(t *testing.T) {
			got, err := DetectMode(tt.path)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDiscover(t *testing.T) {
	root := filepath.Join(t.TempDir(), "Scans")
	writeImage(t, filepath.Join(root, "b.png"))
	writeImage(t, filepath.Join(root, "A.png"))
	writeImage(t, filepath.Join(root, "2024", "Q1", "p2.png"))
	writeImage(t, filepath.Join(root, "2024", "Q1", "p10.png"))
	writeFile(t, filepath.Join(root, "2024", "contract.pdf"))
	writeImage(t, filepath.Join(root, ".thumbs", "x.png"))
	writeImage(t, filepath.Join(root, ".hidden.png"))
	writeImage(t, filepath.Join(root, "OCR_Session_20240101_000000", "pdf", "old.png"))
	writeImage(t, filepath.Join(root, "out", "done.png"))
	require.NoError(t, os.WriteFile(filepath.Join(root, "readme.txt"), nil, 0o644))

	inv, err := Discover(root, filepath.Join(root, "out"))
	require.NoError(t, err)

	require.Len(t, inv.Folders, 2)
	assert.Equal(t, "Scans", inv.Folders[0].Rel)
	assert.Equal(t, "Scans", inv.Folders[0].Name)
	assert.Equal(t, []string{filepath.Join(root, "A.png"), filepath.Join(root, "b.png")}, inv.Folders[0].Images)

	assert.Equal(t, filepath.Join("2024", "Q1"), inv.Folders[1].Rel)
	assert.Equal(t, "Q1", inv.Folders[1].Name)
	assert.Len(t, inv.Folders[1].Images, 2)

	require.Len(t, inv.PDFs, 1)
	assert.Equal(t, "2024", inv.PDFs[0].Rel)
	assert.Equal(t, 5, inv.Files())
}

func TestNewSession(t *testing.T) {
	out := t.TempDir()
	s1, err := NewSession(out, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "OCR_Session_20250314_092653"), s1.Dir)
	assert.DirExists(t, s1.PDFDir)
	assert.DirExists(t, s1.HOCRDir)
	assert.DirExists(t, s1.TempDir)
	assert.Len(t, s1.ID, 36)

	s2, err := NewSession(out, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, s1.Dir+"_2", s2.Dir)
	assert.NotEqual(t, s1.ID, s2.ID)

	require.NoError(t, s1.Cleanup())
	assert.NoDirExists(t, s1.TempDir)
}

func TestConfig_Validate(t *testing.T) {
	assert.Error(t, Config{PDF: true}.Validate())
	assert.Error(t, Config{Output: "out"}.Validate())
	assert.Error(t, Config{Output: "out", PDF: true, Archive: true}.Validate())
	assert.NoError(t, Config{Output: "out", HOCR: true}.Validate())

	_, err := New(Config{Output: "out", PDF: true}, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestRun_SingleImage(t *testing.T) {
	in := writeImage(t, filepath.Join(t.TempDir(), "receipt.png"))
	engine := &fakeEngine{}
	p := newProcessor(t, Config{PDF: true, HOCR: true, Workers: 2}, engine)

	res, err := p.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, ModeSingle, res.Mode)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 1, res.Processed)

	pdfOut := filepath.Join(res.SessionDir, "pdf", "receipt.pdf")
	hocrOut := filepath.Join(res.SessionDir, "hocr", "receipt.hocr")
	assert.ElementsMatch(t, []string{pdfOut, hocrOut}, res.Outputs())

	n, err := pdf.PageCount(pdfOut)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	page, err := hocr.ReadFile(hocrOut)
	require.NoError(t, err)
	assert.Equal(t, "hello", page.Text())
	assert.Equal(t, "receipt.png", page.ImageName)

	assert.NoDirExists(t, filepath.Join(res.SessionDir, "temp"))
	require.Len(t, engine.calls(), 1)
	assert.Equal(t, in, engine.calls()[0].Path)

	report, err := ReadReport(filepath.Join(res.SessionDir, "report.yaml"))
	require.NoError(t, err)
	assert.Equal(t, res.SessionID, report.SessionID)
	assert.Equal(t, StatusSuccess, report.Status)
	assert.Equal(t, "fake", report.Engine)
	require.Len(t, report.Files, 1)
	assert.Equal(t, FileSuccess, report.Files[0].Status)
	assert.Equal(t, 1, report.Files[0].Words)
}

func TestRun_FolderLayout(t *testing.T) {
	root := filepath.Join(t.TempDir(), "Inbox")
	writeImage(t, filepath.Join(root, "p1.png"))
	writeImage(t, filepath.Join(root, "p2.png"))
	writeImage(t, filepath.Join(root, "letters", "l1.png"))
	writeImage(t, filepath.Join(root, "letters", "l2.png"))
	writeImage(t, filepath.Join(root, "letters", "l3.png"))

	var mu sync.Mutex
	var events []Progress
	cfg := Config{
		PDF:      true,
		HOCR:     true,
		Workers:  3,
		Progress: func(p Progress) { mu.Lock(); events = append(events, p); mu.Unlock() },
	}
	p := newProcessor(t, cfg, &fakeEngine{})

	res, err := p.Run(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 5, res.Total)
	assert.Equal(t, 5, res.Processed)

	rootPDF := filepath.Join(res.SessionDir, "pdf", "Inbox", "Inbox.pdf")
	lettersPDF := filepath.Join(res.SessionDir, "pdf", "letters", "letters.pdf")
	n, err := pdf.PageCount(rootPDF)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = pdf.PageCount(lettersPDF)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.FileExists(t, filepath.Join(res.SessionDir, "hocr", "Inbox", "p1.hocr"))
	assert.FileExists(t, filepath.Join(res.SessionDir, "hocr", "letters", "l3.hocr"))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, events)
	assert.Equal(t, StageStart, events[0].Stage)
	last := events[len(events)-1]
	assert.Equal(t, StageDone, last.Stage)
	assert.Equal(t, 5, last.FilesDone)
	assert.Equal(t, 100, last.FilePercent)
}

func TestRun_PDFInput(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "contracts")
	in := writeFile(t, filepath.Join(dir, "lease.pdf"))
	engine := &fakeEngine{}
	p := newProcessor(t, Config{PDF: true, HOCR: true, DPI: 200}, engine, WithRasterizer(fakeRasterizer{pages: 3}))

	res, err := p.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, ModePDF, res.Mode)

	out := filepath.Join(res.SessionDir, "pdf", "contracts", "lease_ocr.pdf")
	n, err := pdf.PageCount(out)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for i := 1; i <= 3; i++ {
		assert.FileExists(t, filepath.Join(res.SessionDir, "hocr", "contracts", "lease", fmt.Sprintf("lease_page_%04d.hocr", i)))
	}
	for _, in := range engine.calls() {
		assert.Equal(t, 200, in.DPI)
	}
	assert.Equal(t, 3, res.Files[0].Pages)
}

func TestRun_PDFRasterizeFails(t *testing.T) {
	in := writeFile(t, filepath.Join(t.TempDir(), "broken.pdf"))
	p := newProcessor(t, Config{PDF: true}, &fakeEngine{}, WithRasterizer(fakeRasterizer{err: errors.New("gs exploded")}))

	res, err := p.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, res.Status)
	require.Len(t, res.Files, 1)
	assert.Equal(t, FileFailed, res.Files[0].Status)
	assert.Contains(t, res.Files[0].Error, "gs exploded")
}

func TestRun_PageFailureIsPartial(t *testing.T) {
	root := filepath.Join(t.TempDir(), "batch")
	writeImage(t, filepath.Join(root, "good.png"))
	writeImage(t, filepath.Join(root, "bad.png"))
	writeImage(t, filepath.Join(root, "only", "bad.png"))

	p := newProcessor(t, Config{PDF: true}, &fakeEngine{fail: map[string]bool{"bad.png": true}})
	res, err := p.Run(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, res.Status)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 2, res.Failed)

	byName := map[string]FileResult{}
	for _, f := range res.Files {
		byName[f.Name] = f
	}
	assert.Equal(t, FilePartial, byName["batch"].Status)
	assert.Equal(t, 1, byName["batch"].PagesFailed)
	assert.Contains(t, byName["batch"].Error, "recognition failed")
	assert.Equal(t, FileFailed, byName["only"].Status)

	n, err := pdf.PageCount(filepath.Join(res.SessionDir, "pdf", "batch", "batch.pdf"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoFileExists(t, filepath.Join(res.SessionDir, "pdf", "only", "only.pdf"))
}

func TestRun_NoFiles(t *testing.T) {
	res, err := newProcessor(t, Config{PDF: true}, &fakeEngine{}).Run(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, StatusNoFiles, res.Status)
}

func TestRun_Cancelled(t *testing.T) {
	root := t.TempDir()
	writeImage(t, filepath.Join(root, "a.png"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := newProcessor(t, Config{PDF: true}, &fakeEngine{}).Run(ctx, root)
	assert.ErrorIs(t, err, ErrCancelled)
	require.NotNil(t, res)
	assert.Equal(t, StatusCancelled, res.Status)
	assert.FileExists(t, filepath.Join(res.SessionDir, "report.yaml"))
}

func TestRun_PageTimeout(t *testing.T) {
	in := writeImage(t, filepath.Join(t.TempDir(), "slow.png"))
	p := newProcessor(t, Config{PDF: true, PageTimeout: 20 * time.Millisecond}, &fakeEngine{delay: 5 * time.Second})

	start := time.Now()
	res, err := p.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, StatusPartial, res.Status)
	assert.Contains(t, res.Files[0].Error, context.DeadlineExceeded.Error())
}

func TestRun_SkipBlank(t *testing.T) {
	dir := t.TempDir()
	blank := image.NewRGBA(image.Rect(0, 0, 200, 260))
	draw.Draw(blank, blank.Bounds(), &image.Uniform{color.White}, image.Point{}, draw.Src)
	in := filepath.Join(dir, "empty.png")
	require.NoError(t, writePNG(in, blank))

	engine := &fakeEngine{}
	res, err := newProcessor(t, Config{PDF: true, SkipBlank: true}, engine).Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Empty(t, engine.calls())
	assert.Equal(t, 1, res.Files[0].BlankPages)
	assert.FileExists(t, filepath.Join(res.SessionDir, "pdf", "empty.pdf"))
}

func TestRun_DownscaledRecognition(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "large.png")
	require.NoError(t, writePNG(in, createTestImage(800, 1000, "LARGE PAGE")))

	engine := &fakeEngine{}
	cfg := Config{HOCR: true, DPI: 300, Prepare: imaging.PrepareOptions{MaxDimension: 500}}
	res, err := newProcessor(t, cfg, engine).Run(context.Background(), in)
	require.NoError(t, err)

	calls := engine.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, 400, calls[0].Width)
	assert.Equal(t, 500, calls[0].Height)
	assert.Equal(t, 150, calls[0].DPI)
	assert.NotEqual(t, in, calls[0].Path)

	page, err := hocr.ReadFile(filepath.Join(res.SessionDir, "hocr", "large.hocr"))
	require.NoError(t, err)
	assert.Equal(t, hocr.BBox{X2: 800, Y2: 1000}, page.BBox)
	assert.Equal(t, hocr.BBox{X1: 20, Y1: 20, X2: 400, Y2: 60}, page.Lines[0].Words[0].BBox)
}

func TestRun_Compression(t *testing.T) {
	tests := []struct {
		name  string
		comp  Compressor
		kept  bool
		track bool
	}{
		{"smaller", fakeCompressor{ratio: 0.5}, true, true},
		{"slightly larger", fakeCompressor{ratio: 1.05}, true, true},
		{"much larger", fakeCompressor{ratio: 1.5}, false, true},
		{"failure", fakeCompressor{err: errors.New("no gs")}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := writeImage(t, filepath.Join(t.TempDir(), "doc.png"))
			cfg := Config{PDF: true, Compress: true, Compression: ghostscript.Options{Quality: 50, Type: "jpeg"}}
			res, err := newProcessor(t, cfg, &fakeEngine{}, WithCompressor(tt.comp)).Run(context.Background(), in)
			require.NoError(t, err)
			assert.Equal(t, StatusSuccess, res.Status)

			c := res.Files[0].Compression
			if !tt.track {
				assert.Nil(t, c)
				return
			}
			require.NotNil(t, c)
			assert.Equal(t, tt.kept, c.Kept)

			info, err := os.Stat(filepath.Join(res.SessionDir, "pdf", "doc.pdf"))
			require.NoError(t, err)
			if tt.kept {
				assert.Equal(t, c.FinalBytes, info.Size())
			} else {
				assert.Equal(t, c.InitialBytes, info.Size())
			}
		})
	}
}

func TestRun_ArchiveOnSuccess(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "in")
	a := writeImage(t, filepath.Join(root, "a.png"))
	b := writeImage(t, filepath.Join(root, "sub", "b.png"))
	archive := filepath.Join(base, "archive")

	cfg := Config{PDF: true, Output: filepath.Join(base, "out"), Archive: true, ArchiveDir: archive}
	res, err := newProcessor(t, cfg, &fakeEngine{}).Run(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)

	assert.NoFileExists(t, a)
	assert.NoFileExists(t, b)
	assert.FileExists(t, filepath.Join(archive, "a.png"))
	assert.FileExists(t, filepath.Join(archive, "sub", "b.png"))
	assert.Len(t, res.Archived, 2)
}

func TestRun_NoArchiveOnPartial(t *testing.T) {
	base := t.TempDir()
	in := writeImage(t, filepath.Join(base, "bad.png"))
	cfg := Config{PDF: true, Archive: true, ArchiveDir: filepath.Join(base, "archive")}

	res, err := newProcessor(t, cfg, &fakeEngine{fail: map[string]bool{"bad.png": true}}).Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, res.Status)
	assert.FileExists(t, in)
	assert.Empty(t, res.Archived)
}

func TestRunFiles(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "inbox")
	img := writeImage(t, filepath.Join(root, "note.png"))
	doc := writeFile(t, filepath.Join(root, "letters", "scan.pdf"))
	txt := writeFile(t, filepath.Join(root, "readme.txt"))
	archive := filepath.Join(base, "archive")

	cfg := Config{PDF: true, HOCR: true, Output: filepath.Join(base, "out"), Archive: true, ArchiveDir: archive}
	p := newProcessor(t, cfg, &fakeEngine{}, WithRasterizer(fakeRasterizer{pages: 2}))

	res, err := p.RunFiles(context.Background(), root, []string{img, doc, txt})
	require.NoError(t, err)
	assert.Equal(t, ModeFiles, res.Mode)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 2, res.Total)
	assert.FileExists(t, filepath.Join(res.SessionDir, "pdf", "note.pdf"))
	assert.FileExists(t, filepath.Join(res.SessionDir, "pdf", "letters", "scan_ocr.pdf"))
	assert.FileExists(t, filepath.Join(archive, "letters", "scan.pdf"))
	assert.FileExists(t, filepath.Join(archive, "note.png"))
	assert.FileExists(t, txt)
}

func TestRunFiles_Empty(t *testing.T) {
	res, err := newProcessor(t, Config{PDF: true}, &fakeEngine{}).RunFiles(context.Background(), t.TempDir(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusNoFiles, res.Status)
}

func TestArchive_ExistingTarget(t *testing.T) {
	base := t.TempDir()
	src := writeImage(t, filepath.Join(base, "in", "x.png"))
	writeImage(t, filepath.Join(base, "archive", "x.png"))

	moved, err := Archive([]string{src}, "", filepath.Join(base, "archive"))
	assert.Error(t, err)
	assert.Empty(t, moved)
	assert.FileExists(t, src)
}

func TestReporter_ThrottlesPages(t *testing.T) {
	var got []Progress
	r := newReporter(func(p Progress) { got = append(got, p) }, time.Hour)

	r.file(Progress{Stage: StageStart})
	for i := 0; i < 10; i++ {
		r.page(Progress{Stage: StageRecognized, Pages: 4}, 1)
	}
	r.file(Progress{Stage: StageDone, FilePercent: 100})

	require.Len(t, got, 3)
	assert.Equal(t, (100+50)/4, got[1].FilePercent)
	assert.Equal(t, StageDone, got[2].Stage)

	// A nil callback is ignored.
	newReporter(nil, 0).page(Progress{}, 0)
}

func TestStagePercent(t *testing.T) {
	assert.Equal(t, 0, StageStart.Percent())
	assert.Equal(t, 25, StageLoaded.Percent())
	assert.Equal(t, 50, StageRecognized.Percent())
	assert.Equal(t, 75, StageSaved.Percent())
	assert.Equal(t, 100, StageDone.Percent())
}

func TestTally(t *testing.T) {
	folder := job{kind: kindFolder, sources: []string{"a.png", "b.png", "c.png"}}
	scan := job{kind: kindPDF, sources: []string{"scan.pdf"}}

	tests := []struct {
		name          string
		j             job
		fr            FileResult
		wantProcessed int
		wantFailed    int
	}{
		{"folder success", folder, FileResult{Status: FileSuccess, Pages: 3}, 3, 0},
		{"folder partial", folder, FileResult{Status: FilePartial, Pages: 3, PagesFailed: 1}, 2, 1},
		{"folder failed", folder, FileResult{Status: FileFailed, Pages: 3, PagesFailed: 3}, 0, 3},
		{"pdf success", scan, FileResult{Status: FileSuccess, Pages: 12}, 1, 0},
		{"pdf partial", scan, FileResult{Status: FilePartial, Pages: 12, PagesFailed: 2}, 0, 1},
		{"cancelled", folder, FileResult{Status: FileCancelled}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			processed, failed := tally(tt.j, tt.fr)
			assert.Equal(t, tt.wantProcessed, processed)
			assert.Equal(t, tt.wantFailed, failed)
		})
	}
}
