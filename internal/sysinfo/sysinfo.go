// Package sysinfo collects a diagnostics report about the host and the
// external tools a batch depends on.
package sysinfo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/ironsheep/ocr-batch/internal/ghostscript"
	"github.com/ironsheep/ocr-batch/internal/ocr"
)

// Minimum resources below which a warning is added to the report.
const (
	minMemoryBytes = 4 << 30
	minFreeDisk    = 1 << 30
	minCores       = 2
)

// Report is the result of Collect.
type Report struct {
	Timestamp   time.Time   `json:"timestamp" yaml:"timestamp"`
	Host        HostInfo    `json:"host" yaml:"host"`
	CPU         CPUInfo     `json:"cpu" yaml:"cpu"`
	Memory      MemoryInfo  `json:"memory" yaml:"memory"`
	Disk        DiskInfo    `json:"disk" yaml:"disk"`
	Runtime     RuntimeInfo `json:"runtime" yaml:"runtime"`
	Engine      Component   `json:"engine" yaml:"engine"`
	Ghostscript Component   `json:"ghostscript" yaml:"ghostscript"`
	Warnings    []string    `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

type HostInfo struct {
	Hostname        string `json:"hostname" yaml:"hostname"`
	OS              string `json:"os" yaml:"os"`
	Platform        string `json:"platform" yaml:"platform"`
	PlatformVersion string `json:"platform_version" yaml:"platform_version"`
	Arch            string `json:"arch" yaml:"arch"`
	Uptime          uint64 `json:"uptime_seconds" yaml:"uptime_seconds"`
	Error           string `json:"error,omitempty" yaml:"error,omitempty"`
}

type CPUInfo struct {
	Model         string  `json:"model" yaml:"model"`
	PhysicalCores int     `json:"physical_cores" yaml:"physical_cores"`
	LogicalCores  int     `json:"logical_cores" yaml:"logical_cores"`
	MHz           float64 `json:"mhz,omitempty" yaml:"mhz,omitempty"`
	UsagePercent  float64 `json:"usage_percent,omitempty" yaml:"usage_percent,omitempty"`
	Error         string  `json:"error,omitempty" yaml:"error,omitempty"`
}

type MemoryInfo struct {
	Total       uint64  `json:"total" yaml:"total"`
	Available   uint64  `json:"available" yaml:"available"`
	Used        uint64  `json:"used" yaml:"used"`
	UsedPercent float64 `json:"used_percent" yaml:"used_percent"`
	Error       string  `json:"error,omitempty" yaml:"error,omitempty"`
}

type DiskInfo struct {
	Path        string  `json:"path" yaml:"path"`
	Total       uint64  `json:"total" yaml:"total"`
	Free        uint64  `json:"free" yaml:"free"`
	UsedPercent float64 `json:"used_percent" yaml:"used_percent"`
	Error       string  `json:"error,omitempty" yaml:"error,omitempty"`
}

type RuntimeInfo struct {
	GoVersion  string `json:"go_version" yaml:"go_version"`
	GOMAXPROCS int    `json:"gomaxprocs" yaml:"gomaxprocs"`
}

// Component is an external dependency and whether it can be used.
type Component struct {
	Name      string `json:"name" yaml:"name"`
	Available bool   `json:"available" yaml:"available"`
	Detail    string `json:"detail,omitempty" yaml:"detail,omitempty"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Options controls Collect.
type Options struct {
	// Engine is the OCR engine configuration to check.
	Engine ocr.Config

	// GhostscriptPath overrides the located Ghostscript binary.
	GhostscriptPath string

	// DiskPath is where free space is measured, usually the output
	// location. Defaults to the working directory.
	DiskPath string

	// Quick skips the one second CPU usage sample.
	Quick bool
}

// Collector gathers the report. The probe functions are fields so tests
// can run without the real host and tools.
type Collector struct {
	logger zerolog.Logger

	engineProbe func(ocr.Config) (string, error)
	gsProbe     func(ctx context.Context, path string) (string, error)
}

// NewCollector returns a Collector probing the real engine and Ghostscript.
func NewCollector(logger zerolog.Logger) *Collector {
	return &Collector{
		logger:      logger.With().Str("component", "sysinfo").Logger(),
		engineProbe: ocr.Available,
		gsProbe:     probeGhostscript,
	}
}

// Collect builds the report. Failures of individual probes are recorded
// in the report rather than returned.
func (c *Collector) Collect(ctx context.Context, opts Options) *Report {
	r := &Report{
		Timestamp: time.Now(),
		Runtime: RuntimeInfo{
			GoVersion:  runtime.Version(),
			GOMAXPROCS: runtime.GOMAXPROCS(0),
		},
	}

	c.collectHost(ctx, r)
	c.collectCPU(ctx, r, opts.Quick)
	c.collectMemory(ctx, r)
	c.collectDisk(ctx, r, opts.DiskPath)

	r.Engine = Component{Name: engineName(opts.Engine)}
	if detail, err := c.engineProbe(opts.Engine); err != nil {
		r.Engine.Error = err.Error()
		r.Warnings = append(r.Warnings, fmt.Sprintf("OCR engine %s is not available", r.Engine.Name))
	} else {
		r.Engine.Available = true
		r.Engine.Detail = detail
	}

	r.Ghostscript = Component{Name: "ghostscript"}
	if detail, err := c.gsProbe(ctx, opts.GhostscriptPath); err != nil {
		r.Ghostscript.Error = err.Error()
		r.Warnings = append(r.Warnings, "Ghostscript not found: PDF input uses embedded page images and compression is limited")
	} else {
		r.Ghostscript.Available = true
		r.Ghostscript.Detail = detail
	}

	r.Warnings = append(r.Warnings, resourceWarnings(r)...)
	c.logger.Debug().Int("warnings", len(r.Warnings)).Msg("diagnostics collected")
	return r
}

func (c *Collector) collectHost(ctx context.Context, r *Report) {
	r.Host.OS = runtime.GOOS
	r.Host.Arch = runtime.GOARCH
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to read host info")
		r.Host.Error = err.Error()
		r.Host.Hostname, _ = os.Hostname()
		return
	}
	r.Host.Hostname = info.Hostname
	r.Host.Platform = info.Platform
	r.Host.PlatformVersion = info.PlatformVersion
	r.Host.Uptime = info.Uptime
	if info.KernelArch != "" {
		r.Host.Arch = info.KernelArch
	}
}

func (c *Collector) collectCPU(ctx context.Context, r *Report, quick bool) {
	r.CPU.LogicalCores = runtime.NumCPU()
	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		r.CPU.LogicalCores = n
	}
	if n, err := cpu.CountsWithContext(ctx, false); err == nil {
		r.CPU.PhysicalCores = n
	}

	infos, err := cpu.InfoWithContext(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to read cpu info")
		r.CPU.Error = err.Error()
	} else if len(infos) > 0 {
		r.CPU.Model = infos[0].ModelName
		r.CPU.MHz = infos[0].Mhz
	}

	if quick {
		return
	}
	if pct, err := cpu.PercentWithContext(ctx, time.Second, false); err == nil && len(pct) > 0 {
		r.CPU.UsagePercent = pct[0]
	}
}

func (c *Collector) collectMemory(ctx context.Context, r *Report) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to read memory info")
		r.Memory.Error = err.Error()
		return
	}
	r.Memory.Total = vm.Total
	r.Memory.Available = vm.Available
	r.Memory.Used = vm.Used
	r.Memory.UsedPercent = vm.UsedPercent
}

func (c *Collector) collectDisk(ctx context.Context, r *Report, path string) {
	if path == "" {
		path = "."
	}
	// The output location may not exist yet; measure its nearest parent.
	for {
		if _, err := os.Stat(path); err == nil {
			break
		}
		parent := filepath.Dir(path)
		if parent == path {
			break
		}
		path = parent
	}
	r.Disk.Path = path
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		c.logger.Warn().Err(err).Str("path", path).Msg("failed to read disk usage")
		r.Disk.Error = err.Error()
		return
	}
	r.Disk.Total = usage.Total
	r.Disk.Free = usage.Free
	r.Disk.UsedPercent = usage.UsedPercent
}

func resourceWarnings(r *Report) []string {
	var w []string
	if r.Memory.Error == "" && r.Memory.Total > 0 && r.Memory.Total < minMemoryBytes {
		w = append(w, fmt.Sprintf("low memory: %s, large scans may fail", humanize.IBytes(r.Memory.Total)))
	}
	if r.CPU.LogicalCores > 0 && r.CPU.LogicalCores < minCores {
		w = append(w, "single core CPU: pages are processed one at a time")
	}
	if r.Disk.Error == "" && r.Disk.Total > 0 && r.Disk.Free < minFreeDisk {
		w = append(w, fmt.Sprintf("low disk space at %s: %s free", r.Disk.Path, humanize.IBytes(r.Disk.Free)))
	}
	return w
}

func engineName(cfg ocr.Config) string {
	if cfg.Engine == "" {
		return ocr.EngineTesseract
	}
	if cfg.Engine == ocr.EngineCommand && cfg.Command != "" {
		return cfg.Engine + " (" + cfg.Command + ")"
	}
	return cfg.Engine
}

func probeGhostscript(ctx context.Context, path string) (string, error) {
	gs, err := ghostscript.New(path, zerolog.Nop())
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	version, err := gs.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s (%s)", version, gs.Path), nil
}

// RecommendedWorkers suggests a page worker count: one per logical core,
// capped by memory at roughly 512 MiB per worker.
func (r *Report) RecommendedWorkers() int {
	n := r.CPU.LogicalCores
	if n < 1 {
		n = 1
	}
	if r.Memory.Available > 0 {
		if byMem := int(r.Memory.Available / (512 << 20)); byMem < n {
			n = byMem
		}
	}
	if n < 1 {
		n = 1
	}
	return n
}
