package ghostscript

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

type device struct {
	name string
	ext  string
	args []string
}

var rasterDevices = []device{
	{name: "png16m", ext: ".png"},
	{name: "jpeg", ext: ".jpg", args: []string{"-dJPEGQ=95"}},
}

// Rasterize renders every page of pdf into dir as page_0001.png,
// page_0002.png, ... at dpi and returns the files in page order.
//
// The png16m device is tried first. If it fails, partial output is removed
// and the pages are rendered with the jpeg device instead.
func (g *Ghostscript) Rasterize(ctx context.Context, pdf, dir string, dpi int) ([]string, error) {
	if dpi <= 0 {
		return nil, fmt.Errorf("invalid dpi %d", dpi)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create raster directory: %w", err)
	}

	var lastErr error
	for _, dev := range rasterDevices {
		args := []string{
			"-dQUIET", "-dNOPAUSE", "-dBATCH", "-dSAFER",
			"-sDEVICE=" + dev.name,
			fmt.Sprintf("-r%d", dpi),
		}
		args = append(args, dev.args...)
		args = append(args,
			"-sOutputFile="+filepath.Join(dir, "page_%04d"+dev.ext),
			pdf,
		)

		err := g.run(ctx, args...)
		if err == nil {
			pages, lerr := listPages(dir, dev.ext)
			if lerr != nil {
				return nil, lerr
			}
			if len(pages) > 0 {
				return pages, nil
			}
			err = fmt.Errorf("no pages rendered from %s", filepath.Base(pdf))
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		g.Logger.Warn().Err(err).Str("device", dev.name).Str("file", pdf).Msg("rasterization failed")
		removePages(dir, dev.ext)
		lastErr = err
	}
	return nil, fmt.Errorf("failed to rasterize %s: %w", pdf, lastErr)
}

// PageNumber extracts n from a page_NNNN file name. ok is false for other
// names.
func PageNumber(path string) (n int, ok bool) {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	num, found := strings.CutPrefix(base, "page_")
	if !found {
		return 0, false
	}
	n, err := strconv.Atoi(num)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func listPages(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list rendered pages: %w", err)
	}
	type page struct {
		n    int
		path string
	}
	var pages []page
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ext) {
			continue
		}
		if n, ok := PageNumber(e.Name()); ok {
			pages = append(pages, page{n, filepath.Join(dir, e.Name())})
		}
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].n < pages[j].n })

	paths := make([]string, len(pages))
	for i, p := range pages {
		paths[i] = p.path
	}
	return paths, nil
}

func removePages(dir, ext string) {
	pages, _ := listPages(dir, ext)
	for _, p := range pages {
		os.Remove(p)
	}
}
