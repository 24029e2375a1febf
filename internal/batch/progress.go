package batch

import (
	"time"

	"golang.org/x/time/rate"
)

// Stage is a step of the per-page pipeline.
type Stage string

const (
	StageStart      Stage = "start"
	StageLoaded     Stage = "loaded"
	StageRecognized Stage = "recognized"
	StageSaved      Stage = "saved"
	StageDone       Stage = "done"
)

// Percent is the share of a page completed when the stage is reached.
func (s Stage) Percent() int {
	switch s {
	case StageLoaded:
		return 25
	case StageRecognized:
		return 50
	case StageSaved:
		return 75
	case StageDone:
		return 100
	}
	return 0
}

// Progress is one progress event.
type Progress struct {
	FilesDone  int
	FilesTotal int

	// File is the folder name, PDF or image being processed.
	File  string
	Stage Stage

	// FilePercent is 0-100 across all pages of File.
	FilePercent int

	Page  int
	Pages int
}

// ProgressFunc receives progress events. Page events come from worker
// goroutines but never overlap.
type ProgressFunc func(Progress)

// DefaultProgressInterval limits page events to one per second.
const DefaultProgressInterval = time.Second

type reporter struct {
	fn        ProgressFunc
	sometimes *rate.Sometimes
}

func newReporter(fn ProgressFunc, interval time.Duration) *reporter {
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	return &reporter{fn: fn, sometimes: &rate.Sometimes{Interval: interval}}
}

// file delivers a file boundary event.
func (r *reporter) file(p Progress) {
	if r.fn == nil {
		return
	}
	r.fn(p)
}

// page delivers a page event unless one was sent within the interval.
func (r *reporter) page(p Progress, pagesDone int) {
	if r.fn == nil {
		return
	}
	if p.Pages > 0 {
		p.FilePercent = (pagesDone*100 + p.Stage.Percent()) / p.Pages
	}
	r.sometimes.Do(func() { r.fn(p) })
}
