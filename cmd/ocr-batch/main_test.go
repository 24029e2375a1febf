package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironsheep/ocr-batch/internal/batch"
	"github.com/ironsheep/ocr-batch/internal/settings"
	"github.com/ironsheep/ocr-batch/internal/sysinfo"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 1, exitCode(errors.New("boom")))
	assert.Equal(t, 2, exitCode(fmt.Errorf("%w: 1 of 3 files failed", errIncomplete)))
	assert.Equal(t, 130, exitCode(batch.ErrCancelled))
	assert.Equal(t, 130, exitCode(context.Canceled))
}

func TestResultError(t *testing.T) {
	assert.NoError(t, resultError(&batch.Result{Status: batch.StatusSuccess}, nil))
	assert.NoError(t, resultError(&batch.Result{Status: batch.StatusNoFiles}, nil))

	err := resultError(&batch.Result{Status: batch.StatusPartial, Failed: 1, Total: 3, SessionDir: "/out/s"}, nil)
	assert.ErrorIs(t, err, errIncomplete)
	assert.Contains(t, err.Error(), filepath.Join("/out/s", batch.ReportFile))

	assert.ErrorIs(t, resultError(&batch.Result{Status: batch.StatusCancelled}, batch.ErrCancelled), batch.ErrCancelled)
}

func TestPrintResult(t *testing.T) {
	res := &batch.Result{
		SessionDir: "/out/OCR_Session_20250314_092653",
		Status:     batch.StatusPartial,
		Total:      3,
		Processed:  2,
		Failed:     1,
		Files: []batch.FileResult{
			{Name: "invoices", Kind: "folder", Status: batch.FileSuccess, Pages: 2, Words: 40, Elapsed: 1500 * time.Millisecond,
				Compression: &batch.Compression{InitialBytes: 1000, FinalBytes: 400, Kept: true}},
			{Name: "scan.pdf", Kind: "pdf", Status: batch.FileFailed, Error: "tesseract failed"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, printResult(&buf, res, false))
	out := buf.String()
	assert.Contains(t, out, "OCR_Session_20250314_092653")
	assert.Contains(t, out, "partial (2 processed, 1 failed, 3 total)")
	assert.Contains(t, out, "compressed 40%")
	assert.Contains(t, out, "tesseract failed")

	buf.Reset()
	require.NoError(t, printResult(&buf, res, true))
	assert.True(t, strings.HasPrefix(buf.String(), "{"))
	assert.Contains(t, buf.String(), `"status": "partial"`)
}

func TestRunOptions_Apply(t *testing.T) {
	st, err := settings.Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	st.General.SkipBlank = true

	var o runOptions
	cmd := &cobra.Command{Use: "test"}
	o.addFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--format", "pdf+hocr", "--lang", "deu", "-j", "3", "--compress"}))
	require.NoError(t, o.apply(cmd, st))

	assert.Equal(t, "PDF+HOCR", st.General.OutputFormat)
	assert.Equal(t, "deu", st.General.Language)
	assert.Equal(t, 3, st.Performance.ThreadCount)
	assert.True(t, st.General.CompressEnabled)
	// Flags left unset keep the stored values.
	assert.True(t, st.General.SkipBlank)

	cmd = &cobra.Command{Use: "test"}
	o = runOptions{}
	o.addFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--format", "docx"}))
	assert.Error(t, o.apply(cmd, st))
}

func TestRunOptions_ApplyDPIAndPreprocessing(t *testing.T) {
	st, err := settings.Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	parse := func(args ...string) error {
		var o runOptions
		cmd := &cobra.Command{Use: "test"}
		o.addFlags(cmd)
		require.NoError(t, cmd.ParseFlags(args))
		return o.apply(cmd, st)
	}

	require.NoError(t, parse("--dpi", "400", "--contrast", "0.3", "--grayscale"))
	assert.Equal(t, "400", st.General.DPI)
	assert.Equal(t, 400, st.DPIOverride())
	assert.InDelta(t, 0.3, st.General.Contrast, 1e-9)
	assert.True(t, st.General.Grayscale)

	cfg, err := (&runOptions{output: "/out"}).config(st, batch.ModeFolder, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 400, cfg.DPI)
	assert.InDelta(t, 0.3, cfg.Prepare.Contrast, 1e-9)
	assert.True(t, cfg.Prepare.Grayscale)

	err = parse("--dpi", "123")
	assert.ErrorIs(t, err, settings.ErrInvalid)
	assert.Equal(t, "400", st.General.DPI)

	require.NoError(t, parse("--dpi", "0"))
	assert.Equal(t, settings.DPIAuto, st.General.DPI)

	assert.ErrorIs(t, parse("--contrast", "2"), settings.ErrInvalid)
}

func TestRunOptions_Config(t *testing.T) {
	st, err := settings.Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	o := runOptions{dpi: 300}
	_, err = o.config(st, batch.ModeFolder, zerolog.Nop())
	assert.ErrorIs(t, err, batch.ErrNoOutput)

	o.output = "/out"
	cfg, err := o.config(st, batch.ModeFolder, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "/out", cfg.Output)
	assert.Equal(t, 300, cfg.DPI)
	assert.NotNil(t, cfg.Progress)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "ocr-batch dev")
	assert.Contains(t, out, "Git commit")
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings", "config.yaml")
	defer func() { cfgFile = "" }()

	out, err := execute(t, "config", "init", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)
	assert.FileExists(t, path)

	_, err = execute(t, "config", "init", "-c", path)
	assert.ErrorContains(t, err, "already exists")

	out, err = execute(t, "config", "show", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "output_format")
	assert.Contains(t, out, "thread_count")
}

func TestPrintDiagnostics(t *testing.T) {
	r := &sysinfo.Report{
		Host:        sysinfo.HostInfo{Hostname: "scanner-pc", OS: "linux", Arch: "amd64"},
		CPU:         sysinfo.CPUInfo{Model: "Xeon", PhysicalCores: 4, LogicalCores: 8},
		Memory:      sysinfo.MemoryInfo{Total: 16 << 30, Available: 8 << 30},
		Engine:      sysinfo.Component{Name: "tesseract", Available: true, Detail: "5.3.0"},
		Ghostscript: sysinfo.Component{Name: "ghostscript", Error: "ghostscript not found"},
		Warnings:    []string{"Ghostscript not found"},
	}
	var buf bytes.Buffer
	require.NoError(t, printDiagnostics(&buf, r, 4))
	out := buf.String()
	assert.Contains(t, out, "scanner-pc")
	assert.Contains(t, out, "4 cores / 8 threads")
	assert.Contains(t, out, "8.0 GiB available of 16 GiB")
	assert.Contains(t, out, "unavailable (ghostscript not found)")
	assert.Contains(t, out, "4 configured, 8 recommended")
	assert.Contains(t, out, "warnings:")
}
