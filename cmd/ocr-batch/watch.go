package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ironsheep/ocr-batch/internal/batch"
	"github.com/ironsheep/ocr-batch/internal/watch"
)

var watchOpts struct {
	runOptions
	settle    time.Duration
	recursive bool
	existing  bool
}

var watchCmd = &cobra.Command{
	Use:   "watch <folder>",
	Short: "OCR files dropped into a folder as they arrive",
	Long: `Watch a folder, typically a scanner's drop folder, and run OCR on new images
and PDFs once they have stopped changing. Each batch of settled files becomes
one session below the output directory.

Enable archiving so processed files leave the folder; otherwise a file is
only processed again after it changes.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		defer e.close()

		root, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		if err := watchOpts.apply(cmd, e.settings); err != nil {
			return err
		}
		cfg, err := watchOpts.config(e.settings, batch.ModeFolder, e.logger)
		if err != nil {
			return err
		}

		p, err := batch.NewFromSettings(e.settings, cfg, e.logger)
		if err != nil {
			return err
		}
		defer p.Close()

		e.settings.RememberRun(string(batch.ModeFolder), root, cfg.Output, cfg.ArchiveDir)
		if err := e.settings.Save(); err != nil {
			e.logger.Warn().Err(err).Msg("failed to save settings")
		}

		w, err := watch.New(root, watch.Options{
			Settle:          watchOpts.settle,
			Recursive:       watchOpts.recursive,
			ProcessExisting: watchOpts.existing,
			Skip:            []string{cfg.Output, cfg.ArchiveDir},
			Filter:          batch.Supported,
		}, e.logger)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		return w.Run(cmd.Context(), func(ctx context.Context, files []string) error {
			res, err := p.RunFiles(ctx, root, files)
			if res == nil {
				return err
			}
			if perr := printResult(out, res, watchOpts.jsonOut); perr != nil {
				e.logger.Warn().Err(perr).Msg("failed to print result")
			}
			return resultError(res, err)
		})
	},
}

func init() {
	watchOpts.addFlags(watchCmd)
	f := watchCmd.Flags()
	f.BoolVar(&watchOpts.jsonOut, "json", false, "print each batch result as JSON")
	f.DurationVar(&watchOpts.settle, "settle", watch.DefaultSettle, "quiet time before a new file is processed")
	f.BoolVarP(&watchOpts.recursive, "recursive", "r", false, "also watch subfolders")
	f.BoolVar(&watchOpts.existing, "existing", false, "process files already in the folder at start")
}
