package ghostscript

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// smallPDF is the size below which the conservative profile is used.
	smallPDF = 1 << 20

	// lenientPDF is the size below which a 5% growth is tolerated.
	lenientPDF = 2 << 20
)

// Options controls PDF compression.
type Options struct {
	// Quality from 0 (smallest) to 100 (best).
	Quality int

	// Type is the image filter: jpeg, jpeg2000, lzw, flate or png.
	// Unknown values behave like jpeg.
	Type string
}

// CompressResult describes one compressed file.
type CompressResult struct {
	InitialBytes int64
	FinalBytes   int64

	// Reverted is true when compression grew the file and the original
	// was copied to the output instead.
	Reverted bool

	Elapsed time.Duration
}

// Ratio returns the size reduction in percent. Negative values mean the
// file grew.
func (r CompressResult) Ratio() float64 {
	if r.InitialBytes == 0 {
		return 0
	}
	return (1 - float64(r.FinalBytes)/float64(r.InitialBytes)) * 100
}

// CompressArgs builds the pdfwrite arguments for a file of initialBytes.
//
// Files under 1 MiB get a conservative /ebook profile without image
// downsampling. Larger files are downsampled to a resolution chosen from
// the quality (72, 150, 300 or 600 dpi) and re-encoded with the filter
// named by opts.Type. Quality below 30 adds the /ebook preset and above 90
// the /prepress preset.
func CompressArgs(in, out string, initialBytes int64, opts Options) []string {
	q := max(0, min(100, opts.Quality))
	small := initialBytes < smallPDF

	var level, resolution, jpegQ int
	if small {
		level = clamp((100-q)/20, 0, 9)
		resolution = 150
		if q > 50 {
			resolution = 300
		}
		jpegQ = clamp(q+20, 70, 100)
	} else {
		level = clamp((100-q)/11, 0, 9)
		switch {
		case q <= 30:
			resolution = 72
		case q <= 60:
			resolution = 150
		case q <= 85:
			resolution = 300
		default:
			resolution = 600
		}
		jpegQ = clamp(q, 5, 100)
	}

	args := []string{"-sDEVICE=pdfwrite", "-dNOPAUSE", "-dQUIET", "-dBATCH", "-dSAFER"}
	if small {
		args = append(args,
			"-dPDFSETTINGS=/ebook",
			"-dCompatibilityLevel=1.4",
			"-dCompressFonts=true",
			"-dSubsetFonts=true",
			"-dCompressStreams=false",
			"-dAutoRotatePages=/None",
			"-dPreserveStructure=true",
			"-dDownsampleColorImages=false",
			"-dDownsampleGrayImages=false",
			"-dDownsampleMonoImages=false",
		)
	} else {
		args = append(args,
			"-dCompatibilityLevel=1.5",
			"-dPDFSETTINGS=/default",
			"-dPrinted=false",
			"-dCompressFonts=true",
			"-dCompressPages=true",
			"-dCompressStreams=true",
			"-dAutoRotatePages=/None",
			"-dPreserveStructure=true",
			"-dEmbedAllFonts=true",
			"-dSubsetFonts=true",
			fmt.Sprintf("-dCompressLevel=%d", level),
		)
		for _, kind := range []string{"Color", "Gray", "Mono"} {
			args = append(args,
				"-d"+kind+"ImageDownsampleType=/Bicubic",
				fmt.Sprintf("-d%sImageResolution=%d", kind, resolution),
				"-dDownsample"+kind+"Images=true",
				"-d"+kind+"ImageDownsampleThreshold=1.0",
			)
			if kind != "Mono" {
				args = append(args, "-dEncode"+kind+"Images=true")
			}
		}
		args = append(args, filterArgs(strings.ToLower(opts.Type), q, jpegQ)...)
	}

	switch {
	case q < 30:
		args = append(args, "-dPDFSETTINGS=/ebook")
	case q > 90:
		args = append(args, "-dPDFSETTINGS=/prepress")
	}
	return append(args, "-sOutputFile="+out, in)
}

func filterArgs(kind string, quality, jpegQ int) []string {
	depth := 24
	if quality < 85 {
		depth = 8
	}
	filter := func(name string) []string {
		return []string{
			"-dAutoFilterColorImages=false",
			"-dColorImageFilter=/" + name,
			"-dAutoFilterGrayImages=false",
			"-dGrayImageFilter=/" + name,
		}
	}
	switch kind {
	case "jpeg2000":
		return append(filter("JPXEncode"),
			fmt.Sprintf("-dJPEGQ=%d", jpegQ),
			"-dColorConversionStrategy=/LeaveColorUnchanged",
			fmt.Sprintf("-dColorImageDepth=%d", depth))
	case "lzw":
		return append(filter("LZWEncode"),
			"-dLZWPredictor=2",
			"-dColorConversionStrategy=/LeaveColorUnchanged")
	case "flate", "png":
		return append(filter("FlateEncode"),
			"-dFlatePrediction=2",
			"-dColorConversionStrategy=/LeaveColorUnchanged")
	default:
		return append(filter("DCTEncode"),
			fmt.Sprintf("-dJPEGQ=%d", jpegQ),
			"-dColorConversionStrategy=/LeaveColorUnchanged",
			fmt.Sprintf("-dColorImageDepth=%d", depth))
	}
}

func clamp(v, lo, hi int) int { return max(lo, min(hi, v)) }

// Compress rewrites in to out with Ghostscript's pdfwrite device.
//
// When the result is larger than the original (by more than 5% for inputs
// under 2 MiB, at all otherwise) the original is copied to out and the
// result is marked Reverted.
func (g *Ghostscript) Compress(ctx context.Context, in, out string, opts Options) (CompressResult, error) {
	start := time.Now()
	var res CompressResult

	info, err := os.Stat(in)
	if err != nil {
		return res, fmt.Errorf("failed to stat input: %w", err)
	}
	if filepath.Clean(in) == filepath.Clean(out) {
		return res, fmt.Errorf("compress: input and output must differ")
	}
	res.InitialBytes = info.Size()

	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return res, fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := g.run(ctx, CompressArgs(in, out, res.InitialBytes, opts)...); err != nil {
		os.Remove(out)
		return res, err
	}

	outInfo, err := os.Stat(out)
	if err != nil {
		return res, fmt.Errorf("ghostscript produced no output: %w", err)
	}
	res.FinalBytes = outInfo.Size()

	threshold := 0.0
	if res.InitialBytes < lenientPDF {
		threshold = 0.05
	}
	if float64(res.FinalBytes) > float64(res.InitialBytes)*(1+threshold) {
		if err := copyFile(in, out); err != nil {
			return res, err
		}
		res.FinalBytes = res.InitialBytes
		res.Reverted = true
	}
	res.Elapsed = time.Since(start)

	g.Logger.Info().
		Str("file", filepath.Base(in)).
		Int64("initial_bytes", res.InitialBytes).
		Int64("final_bytes", res.FinalBytes).
		Float64("ratio", res.Ratio()).
		Bool("reverted", res.Reverted).
		Dur("elapsed", res.Elapsed).
		Msg("compressed pdf")
	return res, nil
}

// TreeResult summarizes CompressTree.
type TreeResult struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// CompressTree compresses every PDF below inDir into the same relative
// path below outDir, running at most workers files at once. Individual
// failures are logged and counted; the returned error is only non-nil when
// the tree cannot be walked or ctx ends.
func (g *Ghostscript) CompressTree(ctx context.Context, inDir, outDir string, opts Options, workers int) (TreeResult, error) {
	var files []string
	err := filepath.WalkDir(inDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".pdf") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return TreeResult{}, fmt.Errorf("failed to scan %s: %w", inDir, err)
	}

	result := TreeResult{Total: len(files)}
	if len(files) == 0 {
		g.Logger.Info().Str("dir", inDir).Msg("no pdf files found")
		return result, nil
	}

	var succeeded, failed atomic.Int64
	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(max(1, workers))
	for _, in := range files {
		rel, err := filepath.Rel(inDir, in)
		if err != nil {
			return result, err
		}
		out := filepath.Join(outDir, rel)
		grp.Go(func() error {
			if grpCtx.Err() != nil {
				return grpCtx.Err()
			}
			if _, err := g.Compress(grpCtx, in, out, opts); err != nil {
				if grpCtx.Err() != nil {
					return grpCtx.Err()
				}
				g.Logger.Error().Err(err).Str("file", in).Msg("compression failed")
				failed.Add(1)
				return nil
			}
			succeeded.Add(1)
			return nil
		})
	}
	err = grp.Wait()

	result.Succeeded = int(succeeded.Load())
	result.Failed = int(failed.Load())
	g.Logger.Info().
		Int("total", result.Total).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Msg("compression finished")
	return result, err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}
