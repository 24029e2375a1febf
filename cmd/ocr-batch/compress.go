package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ironsheep/ocr-batch/internal/ghostscript"
)

var compressOpts struct {
	quality int
	kind    string
	workers int
}

var compressCmd = &cobra.Command{
	Use:   "compress <input> <output>",
	Short: "Compress a PDF or a directory of PDFs with Ghostscript",
	Long: `Compress a PDF into output, or every PDF below an input directory into
the same relative paths below the output directory.

Small files keep their images untouched; larger ones are downsampled and
re-encoded with the chosen filter. A file that would grow is copied as is.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		defer e.close()

		in, out := args[0], args[1]
		info, err := os.Stat(in)
		if err != nil {
			return fmt.Errorf("failed to stat input: %w", err)
		}

		opts := ghostscript.Options{
			Quality: e.settings.General.CompressionQuality,
			Type:    e.settings.General.CompressionType,
		}
		if cmd.Flags().Changed("quality") {
			opts.Quality = compressOpts.quality
		}
		if cmd.Flags().Changed("type") {
			opts.Type = strings.ToLower(compressOpts.kind)
		}
		workers := compressOpts.workers
		if workers <= 0 {
			workers = e.settings.Performance.ThreadCount
		}

		gs, err := ghostscript.New(e.settings.Paths.Ghostscript, e.logger.With().Str("component", "ghostscript").Logger())
		if err != nil {
			if errors.Is(err, ghostscript.ErrNotFound) {
				return fmt.Errorf("%w: install Ghostscript or set paths.ghostscript", err)
			}
			return err
		}

		w := cmd.OutOrStdout()
		if info.IsDir() {
			res, err := gs.CompressTree(cmd.Context(), in, out, opts, workers)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "Compressed %d of %d PDFs into %s\n", res.Succeeded, res.Total, out)
			if res.Failed > 0 {
				return fmt.Errorf("%w: %d PDFs failed", errIncomplete, res.Failed)
			}
			return nil
		}

		res, err := gs.Compress(cmd.Context(), in, out, opts)
		if err != nil {
			return err
		}
		verdict := "compressed"
		if res.Reverted {
			verdict = "kept original size"
		}
		fmt.Fprintf(w, "%s: %s -> %s (%s) in %s\n", verdict,
			humanize.IBytes(uint64(res.InitialBytes)), humanize.IBytes(uint64(res.FinalBytes)),
			ratio(res.InitialBytes, res.FinalBytes), res.Elapsed.Round(time.Millisecond))
		return nil
	},
}

func init() {
	f := compressCmd.Flags()
	f.IntVarP(&compressOpts.quality, "quality", "q", 0, "image quality 1-100 (default from settings)")
	f.StringVarP(&compressOpts.kind, "type", "t", "", "image filter: jpeg, jpeg2000, lzw, flate or png (default from settings)")
	f.IntVarP(&compressOpts.workers, "workers", "j", 0, "files compressed in parallel for a directory")
}
