package pdf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var configOnce sync.Once

// configuration returns a relaxed pdfcpu configuration that never touches
// the user's config directory.
func configuration() *model.Configuration {
	configOnce.Do(api.DisableConfigDir)
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// Merge concatenates inputs, in order, into out.
//
// A single input is copied unchanged. out is written to a temporary file in
// the same directory first and renamed, so a failed merge never leaves a
// truncated PDF behind.
func Merge(ctx context.Context, inputs []string, out string) error {
	if len(inputs) == 0 {
		return ErrNoPages
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp := out + ".partial"
	defer os.Remove(tmp)

	if len(inputs) == 1 {
		if err := copyFile(inputs[0], tmp); err != nil {
			return err
		}
	} else if err := api.MergeCreateFile(inputs, tmp, false, configuration()); err != nil {
		return fmt.Errorf("failed to merge %d pages: %w", len(inputs), err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Rename(tmp, out); err != nil {
		return fmt.Errorf("failed to move merged pdf into place: %w", err)
	}
	return nil
}

// PageCount returns the number of pages in a PDF file.
func PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to count pages of %s: %w", path, err)
	}
	return n, nil
}

// Validate checks that path is a readable PDF.
func Validate(path string) error {
	if err := api.ValidateFile(path, configuration()); err != nil {
		return fmt.Errorf("invalid pdf %s: %w", path, err)
	}
	return nil
}

// Optimize rewrites in to out with pdfcpu's optimizer, which removes
// duplicate objects and unused resources. It is the fallback compressor
// when Ghostscript is not installed; images are not resampled.
func Optimize(ctx context.Context, in, out string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if in == out {
		return errors.New("optimize: input and output must differ")
	}
	if err := api.OptimizeFile(in, out, configuration()); err != nil {
		return fmt.Errorf("failed to optimize %s: %w", in, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}
