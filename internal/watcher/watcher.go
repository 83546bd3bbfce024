// Package watcher hands trace files dropped into an inbox directory to a
// handler once they stop changing.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/tinytelemetry/rutrace/internal/intake"
)

// DefaultSettle is how long a file must stay unchanged before it is handled.
const DefaultSettle = 2 * time.Second

// FailedDir is the inbox subdirectory that receives files the handler
// rejected.
const FailedDir = "failed"

// Handler consumes one settled inbox file.
type Handler func(ctx context.Context, path string) error

// Config configures a Watcher.
type Config struct {
	Settle time.Duration
	Logger *zap.Logger
}

// Watcher watches one inbox directory. Handled files are removed; files
// the handler fails on are moved to the failed subdirectory.
type Watcher struct {
	dir     string
	settle  time.Duration
	handle  Handler
	log     *zap.Logger
	fsw     *fsnotify.Watcher
	pending map[string]time.Time
}

// New creates the inbox directory if needed and starts watching it.
func New(dir string, handle Handler, cfg Config) (*Watcher, error) {
	if err := os.MkdirAll(filepath.Join(dir, FailedDir), 0o755); err != nil {
		return nil, fmt.Errorf("watcher: create inbox: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watcher: watch %s: %w", dir, err)
	}
	if cfg.Settle <= 0 {
		cfg.Settle = DefaultSettle
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{
		dir:     dir,
		settle:  cfg.Settle,
		handle:  handle,
		log:     log.Named("watcher"),
		fsw:     fsw,
		pending: make(map[string]time.Time),
	}, nil
}

// Run blocks until ctx is cancelled. Files already in the inbox when Run
// starts are handled like new arrivals.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("watcher: scan inbox: %w", err)
	}
	now := time.Now()
	for _, e := range entries {
		if !e.IsDir() {
			w.track(filepath.Join(w.dir, e.Name()), now)
		}
	}

	ticker := time.NewTicker(max(w.settle/4, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			switch {
			case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
				w.track(ev.Name, time.Now())
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				delete(w.pending, ev.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("fsnotify error", zap.Error(err))
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

func (w *Watcher) track(path string, at time.Time) {
	if !intake.IsCandidate(path) {
		return
	}
	w.pending[path] = at
}

// flush handles every file whose last change is older than the settle
// window.
func (w *Watcher) flush(ctx context.Context) {
	now := time.Now()
	for path, last := range w.pending {
		if now.Sub(last) < w.settle {
			continue
		}
		delete(w.pending, path)
		if ctx.Err() != nil {
			return
		}
		w.process(ctx, path)
	}
}

func (w *Watcher) process(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	log := w.log.With(zap.String("path", path))
	if err := w.handle(ctx, path); err != nil {
		log.Warn("inbox file rejected", zap.Error(err))
		target := filepath.Join(w.dir, FailedDir, filepath.Base(path))
		if rerr := os.Rename(path, target); rerr != nil {
			log.Error("move rejected file", zap.Error(rerr))
		}
		return
	}
	log.Info("inbox file accepted")
	if err := os.Remove(path); err != nil {
		log.Error("remove accepted file", zap.Error(err))
	}
}
