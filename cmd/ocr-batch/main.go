package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ironsheep/ocr-batch/internal/batch"
	"github.com/ironsheep/ocr-batch/internal/logging"
	"github.com/ironsheep/ocr-batch/internal/settings"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Global flags.
var (
	cfgFile  string
	logLevel string
	logFile  string
	noColor  bool
)

var rootCmd = &cobra.Command{
	Use:   "ocr-batch",
	Short: "Batch OCR for scanned images and PDFs",
	Long: `ocr-batch turns scanned images and image-only PDFs into searchable PDFs
and hOCR files. It processes a single image, a PDF or a whole folder tree,
and can watch a scanner drop folder or serve its tools over MCP.

Settings are read from config.yaml (see "ocr-batch config show") and can be
overridden with OCRBATCH_ environment variables and command flags.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "settings file (default "+settings.DefaultFileName+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (default from settings)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write JSON logs to this file")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored console logs")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(compressCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(diagCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(exitCode(err))
}

// errIncomplete is returned by commands whose run finished with failures.
var errIncomplete = errors.New("run finished with failures")

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, batch.ErrCancelled), errors.Is(err, context.Canceled):
		return 130
	case errors.Is(err, errIncomplete):
		return 2
	}
	return 1
}

// env is what every command needs.
type env struct {
	settings *settings.Settings
	logger   zerolog.Logger
	closeLog func() error
}

// setup loads and validates the settings and builds the logger. Flags
// override the log settings stored in the file.
func setup() (*env, error) {
	st, err := settings.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", st.Path(), err)
	}

	level := logLevel
	if level == "" {
		level = st.General.LogLevel
	}
	file := logFile
	if file == "" {
		file = st.General.LogFile
	}
	logger, closeLog, err := logging.New(logging.Options{Level: level, File: file, NoColor: noColor})
	if err != nil {
		return nil, err
	}
	return &env{settings: st, logger: logger, closeLog: closeLog}, nil
}

func (e *env) close() {
	if err := e.closeLog(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to close log file: %v\n", err)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "ocr-batch %s\n", Version)
		fmt.Fprintf(out, "  Build time: %s\n", BuildTime)
		fmt.Fprintf(out, "  Git commit: %s\n", GitCommit)
	},
}
