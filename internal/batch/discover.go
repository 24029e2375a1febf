package batch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ironsheep/ocr-batch/internal/imaging"
)

// Mode is the kind of input a run processes.
type Mode string

const (
	ModeSingle Mode = "single" // one image
	ModeFolder Mode = "folder" // a directory tree of images and PDFs
	ModePDF    Mode = "pdf"    // one PDF
	ModeFiles  Mode = "files"  // a list of files, see Processor.RunFiles
)

// ErrNoInput is returned when the input path does not exist.
var ErrNoInput = errors.New("input not found")

// DetectMode chooses the mode for path.
func DetectMode(path string) (Mode, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNoInput, path)
		}
		return "", fmt.Errorf("failed to stat input: %w", err)
	}
	switch {
	case info.IsDir():
		return ModeFolder, nil
	case isPDF(path):
		return ModePDF, nil
	case imaging.IsSupported(path):
		return ModeSingle, nil
	}
	return "", fmt.Errorf("%w: %s", imaging.ErrUnsupported, filepath.Ext(path))
}

func isPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

// Supported reports whether path is a PDF or an image a run can process.
func Supported(path string) bool {
	return isPDF(path) || imaging.IsSupported(path)
}

// Folder is the images of one directory, which become one PDF.
type Folder struct {
	// Dir is the absolute directory.
	Dir string

	// Rel is the output subdirectory. Images directly in the input root use
	// the root's base name.
	Rel string

	// Name is the output PDF name without extension.
	Name string

	// Images are sorted by file name.
	Images []string
}

// PDFFile is one PDF found during discovery.
type PDFFile struct {
	Path string
	Rel  string
}

// Inventory is everything Discover found below a root.
type Inventory struct {
	Root    string
	Folders []Folder
	PDFs    []PDFFile
}

// Files returns the number of source files.
func (inv *Inventory) Files() int {
	n := len(inv.PDFs)
	for _, f := range inv.Folders {
		n += len(f.Images)
	}
	return n
}

// Discover walks root and groups supported images by directory and lists
// PDFs. Hidden entries, session directories and the directories in skip
// (typically the output and archive locations) are ignored.
func Discover(root string, skip ...string) (*Inventory, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	skipped := make(map[string]bool, len(skip))
	for _, s := range skip {
		if s == "" {
			continue
		}
		if abs, err := filepath.Abs(s); err == nil {
			skipped[abs] = true
		}
	}

	rootName := filepath.Base(root)
	inv := &Inventory{Root: root}
	byDir := make(map[string]*Folder)

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if path != root && strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && (skipped[path] || strings.HasPrefix(name, sessionPrefix)) {
				return filepath.SkipDir
			}
			return nil
		}

		dir := filepath.Dir(path)
		rel, err := filepath.Rel(root, dir)
		if err != nil {
			return err
		}
		if rel == "." {
			rel = rootName
		}

		switch {
		case isPDF(path):
			inv.PDFs = append(inv.PDFs, PDFFile{Path: path, Rel: rel})
		case imaging.IsSupported(path):
			f, ok := byDir[dir]
			if !ok {
				f = &Folder{Dir: dir, Rel: rel, Name: filepath.Base(rel)}
				byDir[dir] = f
			}
			f.Images = append(f.Images, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}

	for _, f := range byDir {
		sort.Slice(f.Images, func(i, j int) bool {
			return strings.ToLower(filepath.Base(f.Images[i])) < strings.ToLower(filepath.Base(f.Images[j]))
		})
		inv.Folders = append(inv.Folders, *f)
	}
	sort.Slice(inv.Folders, func(i, j int) bool { return inv.Folders[i].Dir < inv.Folders[j].Dir })
	sort.Slice(inv.PDFs, func(i, j int) bool { return inv.PDFs[i].Path < inv.PDFs[j].Path })
	return inv, nil
}
