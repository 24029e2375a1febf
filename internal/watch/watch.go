// Package watch turns a directory into a hot folder: files dropped into it
// are collected until they stop changing and then handed to a handler as
// one batch.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultSettle is how long a file must be quiet before it is handed on.
const DefaultSettle = 2 * time.Second

// Handler processes a batch of settled files. An error is logged and the
// files are retried once they change again.
type Handler func(ctx context.Context, files []string) error

// Options configures a Watcher.
type Options struct {
	// Settle is the quiet period after the last event for a file.
	Settle time.Duration

	// Recursive watches subdirectories, including ones created later.
	Recursive bool

	// ProcessExisting queues the files already present when Run starts.
	ProcessExisting bool

	// Skip lists directories whose contents are ignored, typically the
	// output and archive locations when they live inside the root.
	Skip []string

	// Filter selects the files to hand on. Nil accepts every file.
	Filter func(path string) bool
}

// Watcher watches one root directory.
type Watcher struct {
	root   string
	opts   Options
	fsw    *fsnotify.Watcher
	logger zerolog.Logger

	mu      sync.Mutex
	dirs    map[string]bool
	pending map[string]time.Time
	handled map[string]time.Time // path -> mod time when last handled
	skip    map[string]bool
	kick    chan struct{}
	done    chan struct{}

	closeOnce sync.Once
}

// New creates a Watcher on root. Nothing is delivered until Run is called.
func New(root string, opts Options, logger zerolog.Logger) (*Watcher, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat watch root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch root %s is not a directory", root)
	}
	if opts.Settle <= 0 {
		opts.Settle = DefaultSettle
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	w := &Watcher{
		root:    root,
		opts:    opts,
		fsw:     fsw,
		logger:  logger.With().Str("component", "watch").Logger(),
		dirs:    make(map[string]bool),
		pending: make(map[string]time.Time),
		handled: make(map[string]time.Time),
		skip:    make(map[string]bool),
		kick:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	for _, s := range opts.Skip {
		if s == "" {
			continue
		}
		if abs, err := filepath.Abs(s); err == nil {
			w.skip[abs] = true
		}
	}

	if err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Root returns the absolute watched directory.
func (w *Watcher) Root() string { return w.root }

// Dirs returns the watched directories, sorted.
func (w *Watcher) Dirs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	dirs := make([]string, 0, len(w.dirs))
	for d := range w.dirs {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs
}

// Close stops the underlying watcher. Run returns once it notices.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() { err = w.fsw.Close() })
	return err
}

// Run delivers settled files to handler until ctx is cancelled or the
// watcher is closed. The handler runs on Run's goroutine, so batches never
// overlap; events arriving meanwhile are queued for the next batch.
func (w *Watcher) Run(ctx context.Context, handler Handler) error {
	defer w.Close()

	var wg sync.WaitGroup
	collectCtx, stop := context.WithCancel(ctx)
	defer func() {
		stop()
		wg.Wait()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.collect(collectCtx)
	}()

	if w.opts.ProcessExisting {
		if err := w.queueExisting(); err != nil {
			return err
		}
	}

	w.logger.Info().Str("root", w.root).Dur("settle", w.opts.Settle).Msg("watching")

	// The timer stays on the earliest pending deadline. New events never
	// push it back, so a steady stream of drops cannot starve files that
	// have already settled.
	timer := time.NewTimer(w.opts.Settle)
	timer.Stop()
	armed := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.done:
			return nil
		case <-w.kick:
			if !armed {
				timer.Reset(w.opts.Settle)
				armed = true
			}
		case <-timer.C:
			armed = false
			files, wait := w.ready(time.Now())
			if wait > 0 {
				timer.Reset(wait)
				armed = true
			}
			if len(files) == 0 {
				continue
			}
			w.logger.Info().Int("files", len(files)).Msg("processing batch")
			if err := handler(ctx, files); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				w.logger.Error().Err(err).Int("files", len(files)).Msg("batch failed")
			}
			w.markHandled(files)
		}
	}
}

// collect reads raw events until the watcher closes.
func (w *Watcher) collect(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("watcher error")
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	if w.ignored(path) {
		return
	}
	w.logger.Debug().Str("path", path).Str("op", ev.Op.String()).Msg("event")

	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.mu.Lock()
		delete(w.pending, path)
		delete(w.handled, path)
		delete(w.dirs, path)
		w.mu.Unlock()
		return
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
	default:
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.IsDir() {
		if ev.Has(fsnotify.Create) && w.opts.Recursive {
			if err := w.addTree(path); err != nil {
				w.logger.Warn().Err(err).Str("dir", path).Msg("failed to watch new directory")
			}
			// Files may have landed before the watch was added.
			if err := w.queueTree(path); err != nil {
				w.logger.Warn().Err(err).Str("dir", path).Msg("failed to scan new directory")
			}
		}
		return
	}
	w.enqueue(path, time.Now())
}

func (w *Watcher) enqueue(path string, at time.Time) {
	if !w.accept(path) {
		return
	}
	w.mu.Lock()
	w.pending[path] = at
	w.mu.Unlock()
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// ready removes and returns the pending files that have been quiet for the
// settle period. wait is the time until the next pending file settles.
func (w *Watcher) ready(now time.Time) (files []string, wait time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, last := range w.pending {
		quiet := now.Sub(last)
		if quiet < w.opts.Settle {
			if d := w.opts.Settle - quiet; wait == 0 || d < wait {
				wait = d
			}
			continue
		}
		delete(w.pending, path)
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if mod, ok := w.handled[path]; ok && mod.Equal(info.ModTime()) {
			continue
		}
		files = append(files, path)
	}
	sort.Strings(files)
	return files, wait
}

// markHandled records the mod times of files still in place after a batch
// so that unchanged leftovers are not processed again.
func (w *Watcher) markHandled(files []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, path := range files {
		if info, err := os.Stat(path); err == nil {
			w.handled[path] = info.ModTime()
		}
	}
}

func (w *Watcher) accept(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	return w.opts.Filter == nil || w.opts.Filter(path)
}

// ignored reports whether path is inside a skipped directory.
func (w *Watcher) ignored(path string) bool {
	for dir := range w.skip {
		if path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// addTree watches dir, and its subdirectories when recursive.
func (w *Watcher) addTree(dir string) error {
	if !w.opts.Recursive {
		return w.addDir(dir)
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if (path != dir && strings.HasPrefix(d.Name(), ".")) || w.ignored(path) {
			return filepath.SkipDir
		}
		return w.addDir(path)
	})
}

func (w *Watcher) addDir(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dirs[dir] {
		return nil
	}
	if err := w.fsw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	w.dirs[dir] = true
	w.logger.Debug().Str("dir", dir).Msg("watching directory")
	return nil
}

func (w *Watcher) queueExisting() error {
	return w.queueTree(w.root)
}

// queueTree enqueues the accepted files below dir as if they had just
// been written.
func (w *Watcher) queueTree(dir string) error {
	now := time.Now()
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if path == dir {
				return nil
			}
			if !w.opts.Recursive || strings.HasPrefix(d.Name(), ".") || w.ignored(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			w.enqueue(path, now)
		}
		return nil
	})
}
