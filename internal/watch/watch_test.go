package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSettle = 50 * time.Millisecond

// recorder collects the batches delivered to a handler.
type recorder struct {
	mu      sync.Mutex
	batches [][]string
	got     chan struct{}
}

func newRecorder() *recorder {
	return &recorder{got: make(chan struct{}, 16)}
}

func (r *recorder) handle(_ context.Context, files []string) error {
	r.mu.Lock()
	r.batches = append(r.batches, files)
	r.mu.Unlock()
	r.got <- struct{}{}
	return nil
}

func (r *recorder) files() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []string
	for _, b := range r.batches {
		all = append(all, b...)
	}
	return all
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.got:
	case <-time.After(5 * time.Second):
		t.Fatal("no batch delivered")
	}
}

func imagesOnly(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".png")
}

func start(t *testing.T, root string, opts Options, h Handler) (*Watcher, func()) {
	t.Helper()
	if opts.Settle == 0 {
		opts.Settle = testSettle
	}
	w, err := New(root, opts, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, h) }()

	return w, func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("Run did not return after cancel")
		}
	}
}

func write(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
	return path
}

func TestNew_Errors(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"), Options{}, zerolog.Nop())
	assert.Error(t, err)

	file := write(t, filepath.Join(t.TempDir(), "a.png"))
	_, err = New(file, Options{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestWatcher_DeliversNewFiles(t *testing.T) {
	root := t.TempDir()
	rec := newRecorder()
	_, stop := start(t, root, Options{Filter: imagesOnly}, rec.handle)
	defer stop()

	// Give the event loop a moment to start before writing.
	time.Sleep(20 * time.Millisecond)
	a := write(t, filepath.Join(root, "a.png"))
	b := write(t, filepath.Join(root, "b.png"))
	write(t, filepath.Join(root, "notes.txt"))
	write(t, filepath.Join(root, ".hidden.png"))

	rec.wait(t)
	// Both files usually settle together, but allow a second batch.
	deadline := time.Now().Add(2 * time.Second)
	for len(rec.files()) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.ElementsMatch(t, []string{a, b}, rec.files())
}

func TestWatcher_ProcessExisting(t *testing.T) {
	root := t.TempDir()
	a := write(t, filepath.Join(root, "a.png"))
	write(t, filepath.Join(root, "sub", "b.png"))

	rec := newRecorder()
	_, stop := start(t, root, Options{ProcessExisting: true, Filter: imagesOnly}, rec.handle)
	defer stop()

	rec.wait(t)
	assert.Equal(t, []string{a}, rec.files())
}

func TestWatcher_Recursive(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "out")
	require.NoError(t, os.MkdirAll(out, 0o755))
	existing := write(t, filepath.Join(root, "old", "a.png"))

	rec := newRecorder()
	w, stop := start(t, root, Options{
		Recursive:       true,
		ProcessExisting: true,
		Skip:            []string{out},
		Filter:          imagesOnly,
	}, rec.handle)
	defer stop()

	rec.wait(t)
	assert.Equal(t, []string{existing}, rec.files())
	assert.NotContains(t, w.Dirs(), out)

	nested := write(t, filepath.Join(root, "new", "deep", "b.png"))
	write(t, filepath.Join(out, "c.png"))

	rec.wait(t)
	assert.Contains(t, rec.files(), nested)
	assert.NotContains(t, rec.files(), filepath.Join(out, "c.png"))
	assert.Contains(t, w.Dirs(), filepath.Join(root, "new"))
}

func TestWatcher_CloseEndsRun(t *testing.T) {
	w, err := New(t.TempDir(), Options{Settle: testSettle}, zerolog.Nop())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- w.Run(context.Background(), func(context.Context, []string) error { return nil })
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, w.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestReady(t *testing.T) {
	root := t.TempDir()
	w, err := New(root, Options{Settle: time.Second}, zerolog.Nop())
	require.NoError(t, err)
	defer w.Close()

	now := time.Now()
	old := write(t, filepath.Join(root, "old.png"))
	fresh := write(t, filepath.Join(root, "fresh.png"))
	gone := filepath.Join(root, "gone.png")
	w.pending[old] = now.Add(-2 * time.Second)
	w.pending[fresh] = now.Add(-300 * time.Millisecond)
	w.pending[gone] = now.Add(-2 * time.Second)

	files, wait := w.ready(now)
	assert.Equal(t, []string{old}, files)
	assert.Equal(t, 700*time.Millisecond, wait)
	assert.Contains(t, w.pending, fresh)
	assert.NotContains(t, w.pending, gone)

	// Unchanged files are not handed on twice.
	w.markHandled(files)
	w.pending[old] = now.Add(-2 * time.Second)
	files, _ = w.ready(now)
	assert.Empty(t, files)
}

func TestWatcher_SteadyDropsDoNotDelaySettledFiles(t *testing.T) {
	root := t.TempDir()
	rec := newRecorder()
	_, stop := start(t, root, Options{Settle: 200 * time.Millisecond, Filter: imagesOnly}, rec.handle)
	defer stop()

	first := write(t, filepath.Join(root, "page_001.png"))
	feederDone := make(chan struct{})
	go func() {
		defer close(feederDone)
		for i := 2; i <= 15; i++ {
			time.Sleep(80 * time.Millisecond)
			os.WriteFile(filepath.Join(root, fmt.Sprintf("page_%03d.png", i)), []byte("data"), 0o644)
		}
	}()

	rec.wait(t)
	select {
	case <-feederDone:
		t.Fatal("first batch arrived only after the feeder stopped")
	default:
	}
	assert.Contains(t, rec.files(), first)
	<-feederDone
}
