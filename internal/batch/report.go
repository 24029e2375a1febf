package batch

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Status is the outcome of a run.
type Status string

const (
	StatusNoFiles   Status = "no_files"
	StatusSuccess   Status = "success"
	StatusPartial   Status = "partial"
	StatusCancelled Status = "cancelled"
)

// FileStatus is the outcome of one file.
type FileStatus string

const (
	FileSuccess   FileStatus = "success"
	FilePartial   FileStatus = "partial" // some pages failed
	FileFailed    FileStatus = "failed"
	FileCancelled FileStatus = "cancelled"
)

// Compression records what compression did to a PDF output.
type Compression struct {
	InitialBytes int64  `yaml:"initial_bytes" json:"initial_bytes"`
	FinalBytes   int64  `yaml:"final_bytes" json:"final_bytes"`
	Kept         bool   `yaml:"kept" json:"kept"`
	Method       string `yaml:"method" json:"method"`
}

// FileResult is the report entry for one folder, PDF or image.
type FileResult struct {
	Name        string        `yaml:"name" json:"name"`
	Kind        string        `yaml:"kind" json:"kind"`
	Sources     []string      `yaml:"sources" json:"sources"`
	Status      FileStatus    `yaml:"status" json:"status"`
	Pages       int           `yaml:"pages" json:"pages"`
	PagesFailed int           `yaml:"pages_failed,omitempty" json:"pages_failed,omitempty"`
	BlankPages  int           `yaml:"blank_pages,omitempty" json:"blank_pages,omitempty"`
	Words       int           `yaml:"words" json:"words"`
	Outputs     []string      `yaml:"outputs,omitempty" json:"outputs,omitempty"`
	Compression *Compression  `yaml:"compression,omitempty" json:"compression,omitempty"`
	Error       string        `yaml:"error,omitempty" json:"error,omitempty"`
	Elapsed     time.Duration `yaml:"elapsed" json:"elapsed"`
}

// Result is the outcome of a run. It is also the run report.
type Result struct {
	SessionID  string         `yaml:"session_id" json:"session_id"`
	SessionDir string         `yaml:"session_dir" json:"session_dir"`
	Input      string         `yaml:"input" json:"input"`
	Mode       Mode           `yaml:"mode" json:"mode"`
	Engine     string         `yaml:"engine" json:"engine"`
	Status     Status         `yaml:"status" json:"status"`
	Started    time.Time      `yaml:"started" json:"started"`
	Finished   time.Time      `yaml:"finished" json:"finished"`
	Total      int            `yaml:"total" json:"total"`
	Processed  int            `yaml:"processed" json:"processed"`
	Failed     int            `yaml:"failed" json:"failed"`
	Settings   map[string]any `yaml:"settings" json:"settings"`
	Files      []FileResult   `yaml:"files" json:"files"`
	Archived   []string       `yaml:"archived,omitempty" json:"archived,omitempty"`
}

// Outputs returns every output file of the run.
func (r *Result) Outputs() []string {
	var out []string
	for _, f := range r.Files {
		out = append(out, f.Outputs...)
	}
	return out
}

// WriteReport writes r as YAML to path.
func WriteReport(path string, r *Result) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// ReadReport reads a report written by WriteReport.
func ReadReport(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	var r Result
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return &r, nil
}
