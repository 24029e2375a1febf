package ghostscript

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrNotFound is returned when no Ghostscript executable can be located.
var ErrNotFound = errors.New("ghostscript not found")

// Runner executes a program and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs programs with os/exec, without a shell.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = 2 * time.Second
	err := cmd.Run()
	if err != nil && ctx.Err() != nil {
		return out.Bytes(), ctx.Err()
	}
	return out.Bytes(), err
}

// Stubbed by tests.
var (
	lookPath    = exec.LookPath
	goos        = runtime.GOOS
	windowsDirs = []string{"C:/Program Files/gs", "C:/Program Files (x86)/gs"}
)

var versionPattern = regexp.MustCompile(`\d+(\.\d+)*`)

// Locate finds the Ghostscript command line executable.
//
// On Unix this is "gs" on PATH. On Windows gswin64c.exe or gswin32c.exe on
// PATH is preferred, then the newest versioned installation below
// C:/Program Files/gs (e.g. gs10.02.1/bin/gswin64c.exe).
func Locate() (string, error) {
	if goos != "windows" {
		if p, err := lookPath("gs"); err == nil {
			return p, nil
		}
		return "", ErrNotFound
	}

	for _, name := range []string{"gswin64c.exe", "gswin32c.exe"} {
		if p, err := lookPath(name); err == nil {
			return p, nil
		}
	}

	type install struct {
		version []int
		path    string
	}
	var found []install
	for _, base := range windowsDirs {
		entries, err := os.ReadDir(base)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			for _, exe := range []string{"gswin64c.exe", "gswin32c.exe"} {
				p := filepath.Join(base, e.Name(), "bin", exe)
				if _, err := os.Stat(p); err == nil {
					found = append(found, install{parseVersion(e.Name()), p})
					break
				}
			}
		}
	}
	if len(found) == 0 {
		return "", ErrNotFound
	}
	sort.Slice(found, func(i, j int) bool {
		return compareVersions(found[i].version, found[j].version) > 0
	})
	return found[0].path, nil
}

func parseVersion(name string) []int {
	m := versionPattern.FindString(name)
	if m == "" {
		return []int{0}
	}
	var v []int
	for _, part := range strings.Split(m, ".") {
		n, _ := strconv.Atoi(part)
		v = append(v, n)
	}
	return v
}

func compareVersions(a, b []int) int {
	for i := 0; i < len(a) || i < len(b); i++ {
		var x, y int
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		if x != y {
			if x > y {
				return 1
			}
			return -1
		}
	}
	return 0
}

// Ghostscript runs a located Ghostscript binary.
type Ghostscript struct {
	Path   string
	Runner Runner
	Logger zerolog.Logger
}

// New returns a Ghostscript for path, or for the located binary when path
// is empty.
func New(path string, logger zerolog.Logger) (*Ghostscript, error) {
	if path == "" {
		p, err := Locate()
		if err != nil {
			return nil, err
		}
		path = p
	} else if _, err := os.Stat(path); err != nil {
		p, lerr := lookPath(path)
		if lerr != nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		path = p
	}
	return &Ghostscript{Path: path, Runner: ExecRunner{}, Logger: logger}, nil
}

// Version returns the output of "gs --version".
func (g *Ghostscript) Version(ctx context.Context) (string, error) {
	out, err := g.Runner.Run(ctx, g.Path, "--version")
	if err != nil {
		return "", fmt.Errorf("failed to query ghostscript version: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (g *Ghostscript) run(ctx context.Context, args ...string) error {
	g.Logger.Debug().Strs("args", args).Msg("running ghostscript")
	out, err := g.Runner.Run(ctx, g.Path, args...)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := strings.TrimSpace(string(out))
		if len(msg) > 500 {
			msg = msg[len(msg)-500:]
		}
		return fmt.Errorf("ghostscript failed: %w: %s", err, msg)
	}
	return nil
}
