package batch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

const (
	sessionPrefix = "OCR_Session_"
	sessionLayout = "20060102_150405"
)

// ReportFile is the name of the run report inside a session directory.
const ReportFile = "report.yaml"

// Session is the output tree of one run:
//
//	<output>/OCR_Session_YYYYMMDD_HHMMSS/
//	    pdf/      searchable PDFs
//	    hocr/     hOCR files
//	    temp/     intermediate files, removed by Cleanup
//	    report.yaml
type Session struct {
	ID      string
	Dir     string
	PDFDir  string
	HOCRDir string
	TempDir string
	Started time.Time
}

// NewSession creates the session directories below output. A second run
// in the same second gets a numeric suffix.
func NewSession(output string, now time.Time) (*Session, error) {
	base := filepath.Join(output, sessionPrefix+now.Format(sessionLayout))
	dir := base
	for i := 2; ; i++ {
		err := os.MkdirAll(filepath.Dir(dir), 0o755)
		if err == nil {
			err = os.Mkdir(dir, 0o755)
		}
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrExist) || i > 100 {
			return nil, fmt.Errorf("failed to create session directory: %w", err)
		}
		dir = fmt.Sprintf("%s_%d", base, i)
	}

	s := &Session{
		ID:      uuid.NewString(),
		Dir:     dir,
		PDFDir:  filepath.Join(dir, "pdf"),
		HOCRDir: filepath.Join(dir, "hocr"),
		TempDir: filepath.Join(dir, "temp"),
		Started: now,
	}
	for _, d := range []string{s.PDFDir, s.HOCRDir, s.TempDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", d, err)
		}
	}
	return s, nil
}

// Cleanup removes the temp directory.
func (s *Session) Cleanup() error {
	if err := os.RemoveAll(s.TempDir); err != nil {
		return fmt.Errorf("failed to remove temp files: %w", err)
	}
	return nil
}

// ReportPath is where the run report is written.
func (s *Session) ReportPath() string {
	return filepath.Join(s.Dir, ReportFile)
}
