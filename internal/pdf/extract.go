package pdf

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ExtractPageImages writes the first embedded image of every page of in to
// dir as page_NNNN.<ext> and returns the paths in page order.
//
// This reads scanned PDFs without a rasterizer: a scanner stores each page
// as one full-page image. Pages without images are skipped, so the result
// may be shorter than the page count.
func ExtractPageImages(ctx context.Context, in, dir string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}

	f, err := os.Open(in)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", in, err)
	}
	defer f.Close()

	var (
		mu    sync.Mutex
		pages = make(map[int]string)
	)
	digest := func(img model.Image, _ bool, _ int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		mu.Lock()
		_, seen := pages[img.PageNr]
		mu.Unlock()
		if seen {
			return nil
		}

		ext := strings.ToLower(img.FileType)
		if ext == "" {
			ext = "png"
		}
		path := filepath.Join(dir, fmt.Sprintf("page_%04d.%s", img.PageNr, ext))
		out, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		if _, err := io.Copy(out, img); err != nil {
			out.Close()
			return fmt.Errorf("failed to write page %d image: %w", img.PageNr, err)
		}
		if err := out.Close(); err != nil {
			return err
		}

		mu.Lock()
		pages[img.PageNr] = path
		mu.Unlock()
		return nil
	}

	if err := api.ExtractImages(f, nil, digest, configuration()); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to extract images from %s: %w", in, err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("no page images found in %s", filepath.Base(in))
	}

	numbers := make([]int, 0, len(pages))
	for n := range pages {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	paths := make([]string, len(numbers))
	for i, n := range numbers {
		paths[i] = pages[n]
	}
	return paths, nil
}
