package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/rs/zerolog"

	"github.com/ironsheep/ocr-batch/internal/hocr"
)

// lookPath is a package-level variable so tests can stub binary discovery.
var lookPath = exec.LookPath

// waitDelay bounds how long a killed recognizer may keep its output pipes open.
const waitDelay = 2 * time.Second

// CommandArgs is the data available to CommandEngine argument templates.
type CommandArgs struct {
	Input       string // page image path
	Output      string // hOCR file the command may write instead of stdout
	DPI         int
	Page        int
	Language    string
	Detection   string // detection model name, e.g. db_resnet50
	Recognition string // recognition model name, e.g. parseq
}

// CommandEngine runs an external recognizer for every page, such as a
// DocTR script, and reads its hOCR output.
//
// Each argument is a text/template evaluated against CommandArgs:
//
//	engine_command: python3
//	engine_args: [doctr_hocr.py, --det, "{{ .Detection }}", --reco, "{{ .Recognition }}", "{{ .Input }}"]
//
// Every list element is one argument, so paths containing spaces need no
// quoting.
//
// The hOCR document is read from stdout, or from {{.Output}} when any
// argument references it. The process is started without a shell and is
// killed when the context ends.
type CommandEngine struct {
	cfg       Config
	logger    zerolog.Logger
	path      string
	templates []*template.Template
	useOutput bool
}

// NewCommandEngine resolves cfg.Command and compiles the argument templates.
func NewCommandEngine(cfg Config, logger zerolog.Logger) (*CommandEngine, error) {
	cfg = cfg.withDefaults()
	if cfg.Command == "" {
		return nil, fmt.Errorf("%w: no recognizer command configured", ErrUnavailable)
	}
	path, err := lookPath(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, cfg.Command, err)
	}

	e := &CommandEngine{cfg: cfg, logger: logger, path: path}
	for i, arg := range cfg.Args {
		tmpl, err := template.New(fmt.Sprintf("arg%d", i)).Option("missingkey=error").Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid recognizer argument %q: %w", arg, err)
		}
		e.templates = append(e.templates, tmpl)
		if strings.Contains(arg, ".Output") {
			e.useOutput = true
		}
	}
	return e, nil
}

// Name returns "command".
func (e *CommandEngine) Name() string { return EngineCommand }

// Close is a no-op.
func (e *CommandEngine) Close() error { return nil }

// Args renders the argument templates for one page.
func (e *CommandEngine) Args(data CommandArgs) ([]string, error) {
	args := make([]string, 0, len(e.templates))
	for _, tmpl := range e.templates {
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("failed to render recognizer argument: %w", err)
		}
		args = append(args, buf.String())
	}
	return args, nil
}

// Recognize runs the recognizer on in.Path and parses its hOCR output.
func (e *CommandEngine) Recognize(ctx context.Context, in Input) (*hocr.Page, error) {
	data := CommandArgs{
		Input:       in.Path,
		DPI:         in.DPI,
		Page:        in.PageNumber,
		Language:    e.cfg.Language,
		Detection:   e.cfg.DetectionModel,
		Recognition: e.cfg.RecognitionModel,
	}
	if e.useOutput {
		dir, err := os.MkdirTemp("", "ocr-batch-cmd-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create temp dir: %w", err)
		}
		defer os.RemoveAll(dir)
		data.Output = filepath.Join(dir, "page.hocr")
	}

	args, err := e.Args(data)
	if err != nil {
		return nil, err
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	e.logger.Debug().Str("file", in.Path).Strs("args", args).Msg("running recognizer")
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 500 {
			msg = msg[len(msg)-500:]
		}
		return nil, fmt.Errorf("recognizer %s failed: %w: %s", filepath.Base(e.path), err, msg)
	}

	var page *hocr.Page
	if e.useOutput {
		page, err = hocr.ReadFile(data.Output)
	} else {
		page, err = hocr.Parse(&stdout)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read recognizer output: %w", err)
	}

	if in.ImageName == "" {
		in.ImageName = filepath.Base(in.Path)
	}
	return finishPage(page, in), nil
}
