package batch

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Archive moves every source below dest and returns the new paths.
//
// With a root, each file keeps its path relative to root; otherwise it is
// placed directly in dest under its base name. Moves across file systems
// fall back to copy and remove. Archiving stops at the first failure.
func Archive(sources []string, root, dest string) ([]string, error) {
	moved := make([]string, 0, len(sources))
	for _, src := range sources {
		rel := filepath.Base(src)
		if root != "" {
			r, err := filepath.Rel(root, src)
			if err != nil {
				return moved, fmt.Errorf("failed to archive %s: %w", src, err)
			}
			rel = r
		}
		dst := filepath.Join(dest, rel)
		if err := moveFile(src, dst); err != nil {
			return moved, fmt.Errorf("failed to archive %s: %w", src, err)
		}
		moved = append(moved, dst)
	}
	return moved, nil
}

func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("%s already exists", dst)
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	info, err := in.Stat()
	if err != nil {
		in.Close()
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		in.Close()
		return err
	}
	_, err = io.Copy(out, in)
	in.Close()
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		return err
	}
	os.Chtimes(dst, info.ModTime(), info.ModTime())
	return os.Remove(src)
}
