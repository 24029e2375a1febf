package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ironsheep/ocr-batch/internal/batch"
	"github.com/ironsheep/ocr-batch/internal/settings"
)

// runOptions are the batch flags shared by run and watch.
type runOptions struct {
	output     string
	archiveDir string
	archive    bool
	format     string
	dpi        int
	workers    int
	compress   bool
	skipBlank  bool
	engine     string
	language   string
	debugPDF   bool
	contrast   float64
	grayscale  bool
	jsonOut    bool
}

func (o *runOptions) addFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&o.output, "output", "o", "", "directory that receives the session (default: last used)")
	f.StringVar(&o.archiveDir, "archive-dir", "", "move sources here after a successful run (default: last used)")
	f.BoolVar(&o.archive, "archive", false, "archive sources after a successful run")
	f.StringVarP(&o.format, "format", "f", "", "output format: PDF, HOCR or PDF+HOCR")
	f.IntVar(&o.dpi, "dpi", 0, "fixed page resolution, one of "+allowedDPI()+" (0 detects per image)")
	f.IntVarP(&o.workers, "workers", "j", 0, "pages recognized in parallel")
	f.BoolVar(&o.compress, "compress", false, "compress the finished PDFs")
	f.BoolVar(&o.skipBlank, "skip-blank", true, "skip recognition on blank pages")
	f.StringVar(&o.engine, "engine", "", "OCR engine: tesseract or command")
	f.StringVarP(&o.language, "lang", "l", "", "recognition language, e.g. eng or eng+deu")
	f.BoolVar(&o.debugPDF, "debug-pdf", false, "draw the text layer visibly over a faded image")
	f.Float64Var(&o.contrast, "contrast", 0, "contrast change before recognition, -1 to 1")
	f.BoolVar(&o.grayscale, "grayscale", false, "convert pages to gray before recognition")
}

func allowedDPI() string {
	parts := make([]string, len(settings.AllowedDPI))
	for i, n := range settings.AllowedDPI {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ", ")
}

// apply copies the flags the user set onto the settings, so that the
// effective values are also the ones remembered afterwards.
func (o *runOptions) apply(cmd *cobra.Command, st *settings.Settings) error {
	f := cmd.Flags()
	g := &st.General
	if f.Changed("format") {
		if _, err := settings.ParseOutputFormat(o.format); err != nil {
			return err
		}
		g.OutputFormat = strings.ToUpper(o.format)
	}
	if f.Changed("dpi") {
		switch {
		case o.dpi == 0:
			g.DPI = settings.DPIAuto
		case slices.Contains(settings.AllowedDPI, o.dpi):
			g.DPI = strconv.Itoa(o.dpi)
		default:
			return fmt.Errorf("%w: --dpi %d, use one of %s", settings.ErrInvalid, o.dpi, allowedDPI())
		}
	}
	if f.Changed("archive") {
		g.ArchiveEnabled = o.archive
	}
	if f.Changed("compress") {
		g.CompressEnabled = o.compress
	}
	if f.Changed("skip-blank") {
		g.SkipBlank = o.skipBlank
	}
	if f.Changed("engine") {
		g.Engine = o.engine
	}
	if f.Changed("lang") {
		g.Language = o.language
	}
	if f.Changed("debug-pdf") {
		g.PDFDebug = o.debugPDF
	}
	if f.Changed("contrast") {
		g.Contrast = o.contrast
	}
	if f.Changed("grayscale") {
		g.Grayscale = o.grayscale
	}
	if f.Changed("workers") && o.workers > 0 {
		st.Performance.ThreadCount = o.workers
	}
	return st.Validate()
}

// config builds the batch configuration for a run in mode.
func (o *runOptions) config(st *settings.Settings, mode batch.Mode, logger zerolog.Logger) (batch.Config, error) {
	output, archive, err := batch.Dirs(st, mode, o.output, o.archiveDir)
	if err != nil {
		return batch.Config{}, fmt.Errorf("%w, pass --output", err)
	}
	cfg := batch.FromSettings(st, output)
	cfg.ArchiveDir = archive
	if o.dpi > 0 {
		cfg.DPI = o.dpi
	}
	cfg.Progress = func(p batch.Progress) {
		logger.Info().
			Str("file", p.File).
			Int("done", p.FilesDone).
			Int("total", p.FilesTotal).
			Int("percent", p.FilePercent).
			Msg(string(p.Stage))
	}
	return cfg, nil
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run <image|pdf|folder>",
	Short: "OCR an image, a PDF or a folder tree",
	Long: `Run OCR over the input and write a new OCR_Session_<timestamp> directory
below the output location with searchable PDFs, hOCR files and report.yaml.

A folder produces one PDF per directory of images and one PDF per PDF found.
The output and archive directories are remembered per input kind.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		defer e.close()

		input := args[0]
		mode, err := batch.DetectMode(input)
		if err != nil {
			return err
		}
		if err := runOpts.apply(cmd, e.settings); err != nil {
			return err
		}
		cfg, err := runOpts.config(e.settings, mode, e.logger)
		if err != nil {
			return err
		}

		p, err := batch.NewFromSettings(e.settings, cfg, e.logger)
		if err != nil {
			return err
		}
		defer p.Close()

		res, runErr := p.Run(cmd.Context(), input)
		if res == nil {
			return runErr
		}

		abs, _ := filepath.Abs(input)
		e.settings.RememberRun(string(mode), abs, cfg.Output, cfg.ArchiveDir)
		if err := e.settings.Save(); err != nil {
			e.logger.Warn().Err(err).Msg("failed to save settings")
		}

		if err := printResult(cmd.OutOrStdout(), res, runOpts.jsonOut); err != nil {
			return err
		}
		return resultError(res, runErr)
	},
}

func init() {
	runOpts.addFlags(runCmd)
	runCmd.Flags().BoolVar(&runOpts.jsonOut, "json", false, "print the result as JSON")
}

// resultError turns a finished run into the command error.
func resultError(res *batch.Result, runErr error) error {
	if runErr != nil {
		return runErr
	}
	switch res.Status {
	case batch.StatusSuccess, batch.StatusNoFiles:
		return nil
	}
	return fmt.Errorf("%w: %d of %d files failed, see %s", errIncomplete, res.Failed, res.Total,
		filepath.Join(res.SessionDir, batch.ReportFile))
}

// printResult writes a summary table, or the whole result as JSON.
func printResult(w io.Writer, res *batch.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Fprintf(w, "Session: %s\n", res.SessionDir)
	fmt.Fprintf(w, "Status:  %s (%d processed, %d failed, %d total)\n", res.Status, res.Processed, res.Failed, res.Total)
	if len(res.Files) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nNAME\tKIND\tSTATUS\tPAGES\tWORDS\tTIME\tNOTE")
	for _, f := range res.Files {
		note := f.Error
		if note == "" && f.Compression != nil && f.Compression.Kept {
			note = fmt.Sprintf("compressed %s", ratio(f.Compression.InitialBytes, f.Compression.FinalBytes))
		}
		if f.BlankPages > 0 {
			note = strings.TrimSpace(fmt.Sprintf("%s %d blank", note, f.BlankPages))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			f.Name, f.Kind, f.Status, f.Pages, f.Words, f.Elapsed.Round(10*time.Millisecond), note)
	}
	if len(res.Archived) > 0 {
		fmt.Fprintf(tw, "\n%d source files archived\n", len(res.Archived))
	}
	return tw.Flush()
}

func ratio(before, after int64) string {
	if before <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.0f%%", 100*float64(after)/float64(before))
}
