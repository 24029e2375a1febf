// Package settings is the persistent key-value settings store.
//
// Settings are read once at start-up and written back when a run finishes,
// so the last used input, output and archive directories are remembered
// between runs. Keys live in three sections (general, paths, performance)
// and can be overridden from the environment with the OCRBATCH_ prefix,
// e.g. OCRBATCH_GENERAL_DPI=300. Such overrides last for one process and
// are not written back by Save.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment overrides.
const EnvPrefix = "OCRBATCH"

// DefaultFileName is the settings file used when no path is given.
const DefaultFileName = "config.yaml"

// DPIAuto lets the batch driver pick the resolution per image.
const DPIAuto = "Auto"

// Output format values accepted by general.output_format.
const (
	FormatPDF     = "PDF"
	FormatHOCR    = "HOCR"
	FormatPDFHOCR = "PDF+HOCR"
)

// AllowedDPI lists the selectable resolutions besides Auto.
var AllowedDPI = []int{72, 96, 150, 200, 240, 250, 300, 350, 400, 450, 500, 600, 800, 900, 1200}

// CompressionTypes lists the accepted general.compression_type values.
var CompressionTypes = []string{"jpeg", "jpeg2000", "lzw", "flate", "png"}

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid settings")

// General holds the [general] section.
type General struct {
	DPI                string
	OutputFormat       string
	Engine             string
	Language           string
	DetectionModel     string
	RecognitionModel   string
	EngineCommand      string
	EngineArgs         []string
	PageSegmentation   int
	CompressEnabled    bool
	CompressionType    string
	CompressionQuality int
	ArchiveEnabled     bool
	LogLevel           string
	LogFile            string
	SkipBlank          bool
	MaxImageSize       int
	JPEGQuality        int
	PDFDebug           bool
	Contrast           float64
	Grayscale          bool
}

// Paths holds the [paths] section.
type Paths struct {
	Single        string
	Folder        string
	PDF           string
	OutputSingle  string
	OutputFolder  string
	OutputPDF     string
	ArchiveSingle string
	ArchiveFolder string
	ArchivePDF    string
	Tessdata      string
	Ghostscript   string
}

// Performance holds the [performance] section.
type Performance struct {
	ThreadCount      int
	OperationTimeout time.Duration
	ChunkTimeout     time.Duration
}

// Settings is the loaded settings store.
type Settings struct {
	General     General
	Paths       Paths
	Performance Performance

	path string
	v    *viper.Viper
	// loaded holds the values as first read, to tell changes made by
	// the program from values that came from the environment.
	loaded map[string]interface{}
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"general.dpi":                 DPIAuto,
		"general.output_format":       FormatPDF,
		"general.engine":              "tesseract",
		"general.language":            "eng",
		"general.detection_model":     "db_resnet50",
		"general.recognition_model":   "parseq",
		"general.engine_command":      "",
		"general.engine_args":         []string{},
		"general.page_segmentation":   3,
		"general.compress_enabled":    false,
		"general.compression_type":    "jpeg",
		"general.compression_quality": 100,
		"general.archive_enabled":     false,
		"general.log_level":           "info",
		"general.log_file":            "",
		"general.skip_blank":          true,
		"general.max_image_size":      0,
		"general.jpeg_quality":        85,
		"general.pdf_debug":           false,
		"general.contrast":            0.0,
		"general.grayscale":           false,

		"paths.single":         "",
		"paths.folder":         "",
		"paths.pdf":            "",
		"paths.output_single":  "",
		"paths.output_folder":  "",
		"paths.output_pdf":     "",
		"paths.archive_single": "",
		"paths.archive_folder": "",
		"paths.archive_pdf":    "",
		"paths.tessdata":       "",
		"paths.ghostscript":    "",

		"performance.thread_count":      logicalCPUs(),
		"performance.operation_timeout": 600,
		"performance.chunk_timeout":     60,
	}
}

// Load reads settings from path. A missing file yields the defaults; the
// file is created on the first Save.
func Load(path string) (*Settings, error) {
	if path == "" {
		path = DefaultFileName
	}

	v := viper.New()
	for k, val := range defaults() {
		v.SetDefault(k, val)
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read settings %s: %w", path, err)
		}
	}

	s := &Settings{path: path, v: v}
	s.pull()
	s.loaded = s.values()
	return s, nil
}

// Path returns the file the settings are saved to.
func (s *Settings) Path() string {
	return s.path
}

func (s *Settings) pull() {
	v := s.v
	s.General = General{
		DPI:                normalizeDPI(v.GetString("general.dpi")),
		OutputFormat:       v.GetString("general.output_format"),
		Engine:             v.GetString("general.engine"),
		Language:           v.GetString("general.language"),
		DetectionModel:     v.GetString("general.detection_model"),
		RecognitionModel:   v.GetString("general.recognition_model"),
		EngineCommand:      v.GetString("general.engine_command"),
		EngineArgs:         v.GetStringSlice("general.engine_args"),
		PageSegmentation:   v.GetInt("general.page_segmentation"),
		CompressEnabled:    v.GetBool("general.compress_enabled"),
		CompressionType:    strings.ToLower(v.GetString("general.compression_type")),
		CompressionQuality: v.GetInt("general.compression_quality"),
		ArchiveEnabled:     v.GetBool("general.archive_enabled"),
		LogLevel:           v.GetString("general.log_level"),
		LogFile:            v.GetString("general.log_file"),
		SkipBlank:          v.GetBool("general.skip_blank"),
		MaxImageSize:       v.GetInt("general.max_image_size"),
		JPEGQuality:        v.GetInt("general.jpeg_quality"),
		PDFDebug:           v.GetBool("general.pdf_debug"),
		Contrast:           v.GetFloat64("general.contrast"),
		Grayscale:          v.GetBool("general.grayscale"),
	}
	s.Paths = Paths{
		Single:        v.GetString("paths.single"),
		Folder:        v.GetString("paths.folder"),
		PDF:           v.GetString("paths.pdf"),
		OutputSingle:  v.GetString("paths.output_single"),
		OutputFolder:  v.GetString("paths.output_folder"),
		OutputPDF:     v.GetString("paths.output_pdf"),
		ArchiveSingle: v.GetString("paths.archive_single"),
		ArchiveFolder: v.GetString("paths.archive_folder"),
		ArchivePDF:    v.GetString("paths.archive_pdf"),
		Tessdata:      v.GetString("paths.tessdata"),
		Ghostscript:   v.GetString("paths.ghostscript"),
	}
	s.Performance = Performance{
		ThreadCount:      v.GetInt("performance.thread_count"),
		OperationTimeout: seconds(v.GetInt("performance.operation_timeout")),
		ChunkTimeout:     seconds(v.GetInt("performance.chunk_timeout")),
	}
	if s.Performance.ThreadCount < 1 {
		s.Performance.ThreadCount = logicalCPUs()
	}
}

// values flattens the typed settings into section.key pairs.
func (s *Settings) values() map[string]interface{} {
	g, p, perf := s.General, s.Paths, s.Performance
	return map[string]interface{}{
		"general.dpi":                 g.DPI,
		"general.output_format":       g.OutputFormat,
		"general.engine":              g.Engine,
		"general.language":            g.Language,
		"general.detection_model":     g.DetectionModel,
		"general.recognition_model":   g.RecognitionModel,
		"general.engine_command":      g.EngineCommand,
		"general.engine_args":         slices.Clone(g.EngineArgs),
		"general.page_segmentation":   g.PageSegmentation,
		"general.compress_enabled":    g.CompressEnabled,
		"general.compression_type":    g.CompressionType,
		"general.compression_quality": g.CompressionQuality,
		"general.archive_enabled":     g.ArchiveEnabled,
		"general.log_level":           g.LogLevel,
		"general.log_file":            g.LogFile,
		"general.skip_blank":          g.SkipBlank,
		"general.max_image_size":      g.MaxImageSize,
		"general.jpeg_quality":        g.JPEGQuality,
		"general.pdf_debug":           g.PDFDebug,
		"general.contrast":            g.Contrast,
		"general.grayscale":           g.Grayscale,

		"paths.single":         p.Single,
		"paths.folder":         p.Folder,
		"paths.pdf":            p.PDF,
		"paths.output_single":  p.OutputSingle,
		"paths.output_folder":  p.OutputFolder,
		"paths.output_pdf":     p.OutputPDF,
		"paths.archive_single": p.ArchiveSingle,
		"paths.archive_folder": p.ArchiveFolder,
		"paths.archive_pdf":    p.ArchivePDF,
		"paths.tessdata":       p.Tessdata,
		"paths.ghostscript":    p.Ghostscript,

		"performance.thread_count":      perf.ThreadCount,
		"performance.operation_timeout": int(perf.OperationTimeout / time.Second),
		"performance.chunk_timeout":     int(perf.ChunkTimeout / time.Second),
	}
}

func (s *Settings) push() {
	for k, val := range s.values() {
		s.v.Set(k, val)
	}
}

// envName is the environment variable that overrides key.
func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Save writes the settings file. Values changed since Load are written;
// values that are unchanged and come from an OCRBATCH_ variable keep
// what the file had, so an override for one run is not persisted.
func (s *Settings) Save() error {
	file := viper.New()
	for k, val := range defaults() {
		file.SetDefault(k, val)
	}
	file.SetConfigFile(s.path)
	file.SetConfigType("yaml")
	if err := file.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to read settings %s: %w", s.path, err)
		}
	}

	current := s.values()
	for k, val := range current {
		_, fromEnv := os.LookupEnv(envName(k))
		if fromEnv && reflect.DeepEqual(val, s.loaded[k]) {
			continue
		}
		file.Set(k, val)
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create settings directory: %w", err)
		}
	}
	if err := file.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("failed to write settings %s: %w", s.path, err)
	}
	s.loaded = current
	return nil
}

// Validate reports the first invalid value.
func (s *Settings) Validate() error {
	g := s.General
	if _, err := ParseOutputFormat(g.OutputFormat); err != nil {
		return err
	}
	if g.DPI != DPIAuto {
		n, err := strconv.Atoi(g.DPI)
		if err != nil || !slices.Contains(AllowedDPI, n) {
			return fmt.Errorf("%w: dpi %q", ErrInvalid, g.DPI)
		}
	}
	if g.CompressionQuality < 0 || g.CompressionQuality > 100 {
		return fmt.Errorf("%w: compression_quality %d outside 0-100", ErrInvalid, g.CompressionQuality)
	}
	if !slices.Contains(CompressionTypes, g.CompressionType) {
		return fmt.Errorf("%w: compression_type %q", ErrInvalid, g.CompressionType)
	}
	if g.JPEGQuality < 1 || g.JPEGQuality > 100 {
		return fmt.Errorf("%w: jpeg_quality %d outside 1-100", ErrInvalid, g.JPEGQuality)
	}
	switch g.Engine {
	case "tesseract":
	case "command":
		if g.EngineCommand == "" {
			return fmt.Errorf("%w: engine_command is required for the command engine", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: engine %q", ErrInvalid, g.Engine)
	}
	if g.Contrast < -1 || g.Contrast > 1 {
		return fmt.Errorf("%w: contrast %g outside -1..1", ErrInvalid, g.Contrast)
	}
	if g.MaxImageSize < 0 {
		return fmt.Errorf("%w: max_image_size must not be negative", ErrInvalid)
	}
	if s.Performance.OperationTimeout <= 0 || s.Performance.ChunkTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalid)
	}
	return nil
}

// OutputFormats reports which outputs the current output_format asks for.
func (s *Settings) OutputFormats() (pdf, hocr bool, err error) {
	f, err := ParseOutputFormat(s.General.OutputFormat)
	if err != nil {
		return false, false, err
	}
	return f.PDF, f.HOCR, nil
}

// DPIOverride returns the fixed DPI, or 0 when the setting is Auto.
func (s *Settings) DPIOverride() int {
	if s.General.DPI == DPIAuto {
		return 0
	}
	n, err := strconv.Atoi(s.General.DPI)
	if err != nil {
		return 0
	}
	return n
}

// RememberRun records the directories used by a run for the given mode
// ("single", "folder" or "pdf").
func (s *Settings) RememberRun(mode, input, output, archive string) {
	switch mode {
	case "single":
		s.Paths.Single = input
		s.Paths.OutputSingle = output
		if archive != "" {
			s.Paths.ArchiveSingle = archive
		}
	case "folder":
		s.Paths.Folder = input
		s.Paths.OutputFolder = output
		if archive != "" {
			s.Paths.ArchiveFolder = archive
		}
	case "pdf":
		s.Paths.PDF = input
		s.Paths.OutputPDF = output
		if archive != "" {
			s.Paths.ArchivePDF = archive
		}
	}
}

// LastOutput returns the remembered output directory for a mode.
func (s *Settings) LastOutput(mode string) string {
	switch mode {
	case "single":
		return s.Paths.OutputSingle
	case "folder":
		return s.Paths.OutputFolder
	case "pdf":
		return s.Paths.OutputPDF
	}
	return ""
}

// LastArchive returns the remembered archive directory for a mode.
func (s *Settings) LastArchive(mode string) string {
	switch mode {
	case "single":
		return s.Paths.ArchiveSingle
	case "folder":
		return s.Paths.ArchiveFolder
	case "pdf":
		return s.Paths.ArchivePDF
	}
	return ""
}

// AllSettings returns the effective values keyed by section.key.
func (s *Settings) AllSettings() map[string]interface{} {
	s.push()
	return s.v.AllSettings()
}

// OutputFormat is a parsed general.output_format value.
type OutputFormat struct {
	PDF  bool
	HOCR bool
}

// ParseOutputFormat accepts PDF, HOCR and PDF+HOCR in any case.
func ParseOutputFormat(value string) (OutputFormat, error) {
	switch strings.ToUpper(strings.ReplaceAll(value, " ", "")) {
	case FormatPDF:
		return OutputFormat{PDF: true}, nil
	case FormatHOCR:
		return OutputFormat{HOCR: true}, nil
	case FormatPDFHOCR, "HOCR+PDF":
		return OutputFormat{PDF: true, HOCR: true}, nil
	}
	return OutputFormat{}, fmt.Errorf("%w: output_format %q", ErrInvalid, value)
}

// normalizeDPI turns unknown values into Auto.
func normalizeDPI(value string) string {
	value = strings.TrimSpace(value)
	if strings.EqualFold(value, DPIAuto) || value == "" {
		return DPIAuto
	}
	n, err := strconv.Atoi(value)
	if err != nil || !slices.Contains(AllowedDPI, n) {
		return DPIAuto
	}
	return strconv.Itoa(n)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func logicalCPUs() int {
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		return runtime.NumCPU()
	}
	return n
}
