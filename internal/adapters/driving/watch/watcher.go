// Package watch uploads plan documents dropped into an inbox directory.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/custodia-labs/planaudit/internal/core/domain"
	"github.com/custodia-labs/planaudit/internal/logger"
)

// DefaultDebounce is how long a file must stay quiet before it is uploaded.
const DefaultDebounce = 500 * time.Millisecond

// Uploader receives the documents found in the inbox.
type Uploader interface {
	Upload(ctx context.Context, filename string, data []byte) (*domain.UploadResult, error)
}

// Result reports the outcome of one inbox upload.
type Result struct {
	Path   string
	Upload *domain.UploadResult
	Err    error
}

// Watcher uploads new and modified files of one directory.
// Hidden files, directories and unsupported extensions are ignored.
type Watcher struct {
	dir      string
	uploader Uploader
	types    map[string]bool
	debounce time.Duration
	notify   func(Result)

	mu      sync.Mutex
	pending map[string]*time.Timer
	wg      sync.WaitGroup
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithTypes limits uploads to files with the given extensions.
func WithTypes(types []string) Option {
	return func(w *Watcher) {
		w.types = make(map[string]bool, len(types))
		for _, t := range types {
			w.types[strings.TrimPrefix(strings.ToLower(t), ".")] = true
		}
	}
}

// WithDebounce sets the quiet period before a changed file is uploaded.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithNotify registers a callback invoked after every upload attempt.
func WithNotify(fn func(Result)) Option {
	return func(w *Watcher) {
		w.notify = fn
	}
}

// New creates a watcher for dir.
func New(dir string, uploader Uploader, opts ...Option) *Watcher {
	w := &Watcher{
		dir:      dir,
		uploader: uploader,
		debounce: DefaultDebounce,
		pending:  make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run uploads the files already in the directory, then watches it until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	info, err := os.Stat(w.dir)
	if err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: watch %s: not a directory", domain.ErrInvalidArgument, w.dir)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	logger.Info("watching %s for plans", w.dir)

	w.scan(ctx)

	defer w.wait()
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if path, ok := w.accept(event); ok {
				w.schedule(ctx, path)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch %s: %v", w.dir, err)
		}
	}
}

// scan uploads the files present when watching starts.
func (w *Watcher) scan(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		logger.Warn("scan %s: %v", w.dir, err)
		return
	}
	for _, e := range entries {
		path := filepath.Join(w.dir, e.Name())
		if !e.IsDir() && w.wants(path) {
			w.upload(ctx, path)
		}
	}
}

// accept filters events down to created or written plan files.
func (w *Watcher) accept(event fsnotify.Event) (string, bool) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return "", false
	}
	if !w.wants(event.Name) {
		return "", false
	}
	info, err := os.Stat(event.Name)
	if err != nil || info.IsDir() {
		return "", false
	}
	return event.Name, true
}

func (w *Watcher) wants(path string) bool {
	if isHidden(filepath.Base(path)) {
		return false
	}
	if w.types == nil {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	return w.types[ext]
}

// schedule uploads path once it has been quiet for the debounce period.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		if t.Stop() {
			t.Reset(w.debounce)
			return
		}
	}

	var timer *time.Timer
	w.wg.Add(1)
	timer = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()

		w.mu.Lock()
		if w.pending[path] == timer {
			delete(w.pending, path)
		}
		w.mu.Unlock()

		if ctx.Err() == nil {
			w.upload(ctx, path)
		}
	})
	w.pending[path] = timer
}

// wait stops pending timers and waits for running uploads.
func (w *Watcher) wait() {
	w.mu.Lock()
	for path, t := range w.pending {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.pending, path)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Watcher) upload(ctx context.Context, path string) {
	res := Result{Path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		res.Err = fmt.Errorf("read %s: %w", path, err)
	} else {
		res.Upload, res.Err = w.uploader.Upload(ctx, filepath.Base(path), data)
	}

	if res.Err != nil {
		logger.Warn("inbox upload %s: %v", path, res.Err)
	} else {
		logger.Info("inbox upload %s: plan %s (%d chunks, reused=%t)",
			path, res.Upload.PlanID, res.Upload.ChunkCount, res.Upload.Reused)
	}

	if w.notify != nil {
		w.notify(res)
	}
}

// isHidden reports whether name starts with a dot. "." and ".." are not hidden.
func isHidden(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}
