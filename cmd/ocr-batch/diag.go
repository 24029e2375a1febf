package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ironsheep/ocr-batch/internal/batch"
	"github.com/ironsheep/ocr-batch/internal/sysinfo"
)

var diagOpts struct {
	jsonOut bool
	full    bool
	output  string
}

var diagCmd = &cobra.Command{
	Use:   "diag",
	Short: "Report host resources and OCR tool availability",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		defer e.close()

		disk := diagOpts.output
		if disk == "" {
			disk = e.settings.Paths.OutputFolder
		}
		r := sysinfo.NewCollector(e.logger).Collect(cmd.Context(), sysinfo.Options{
			Engine:          batch.EngineConfig(e.settings),
			GhostscriptPath: e.settings.Paths.Ghostscript,
			DiskPath:        disk,
			Quick:           !diagOpts.full,
		})

		w := cmd.OutOrStdout()
		if diagOpts.jsonOut {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(r)
		}
		return printDiagnostics(w, r, e.settings.Performance.ThreadCount)
	},
}

func init() {
	f := diagCmd.Flags()
	f.BoolVar(&diagOpts.jsonOut, "json", false, "print the report as JSON")
	f.BoolVar(&diagOpts.full, "full", false, "include a one second CPU usage sample")
	f.StringVarP(&diagOpts.output, "output", "o", "", "directory whose free space is checked (default: last folder output)")
}

func printDiagnostics(w io.Writer, r *sysinfo.Report, workers int) error {
	fmt.Fprintf(w, "Host:        %s (%s %s, %s/%s)\n", r.Host.Hostname, r.Host.Platform, r.Host.PlatformVersion, r.Host.OS, r.Host.Arch)
	fmt.Fprintf(w, "CPU:         %s, %d cores / %d threads\n", r.CPU.Model, r.CPU.PhysicalCores, r.CPU.LogicalCores)
	if r.CPU.UsagePercent > 0 {
		fmt.Fprintf(w, "CPU usage:   %.0f%%\n", r.CPU.UsagePercent)
	}
	fmt.Fprintf(w, "Memory:      %s available of %s\n", humanize.IBytes(r.Memory.Available), humanize.IBytes(r.Memory.Total))
	fmt.Fprintf(w, "Disk:        %s free at %s\n", humanize.IBytes(r.Disk.Free), r.Disk.Path)
	fmt.Fprintf(w, "Engine:      %s\n", component(r.Engine))
	fmt.Fprintf(w, "Ghostscript: %s\n", component(r.Ghostscript))
	fmt.Fprintf(w, "Workers:     %d configured, %d recommended\n", workers, r.RecommendedWorkers())
	if len(r.Warnings) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	out, err := yaml.Marshal(map[string][]string{"warnings": r.Warnings})
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

func component(c sysinfo.Component) string {
	if c.Available {
		return c.Detail
	}
	return "unavailable (" + c.Error + ")"
}
