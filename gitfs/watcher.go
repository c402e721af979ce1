package gitfs

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultDebounce batches a burst of filesystem events into one sync pass.
const defaultDebounce = 2 * time.Second

// Watcher observes the working tree and publishes local changes
// automatically: after a quiet period following a burst of edits, pending
// changes are committed and pushed.
type Watcher struct {
	backend  *Backend
	fsw      *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger
}

// WatchOptions configures a Watcher.
type WatchOptions struct {
	// Debounce is the quiet period after the last event before a sync pass
	// runs. Zero selects the default.
	Debounce time.Duration
}

// Watch creates a Watcher over the backend's working tree. Every existing
// directory is registered; directories created later are added as their
// create events arrive.
func (b *Backend) Watch(opts WatchOptions) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	w := &Watcher{
		backend:  b,
		fsw:      fsw,
		debounce: debounce,
		logger:   b.logger,
	}

	if err := w.addRecursive(b.local.Root()); err != nil {
		fsw.Close()

		return nil, err
	}

	return w, nil
}

// addRecursive registers path and every directory below it, skipping git
// metadata.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			return nil
		}

		if d.Name() == ".git" {
			return filepath.SkipDir
		}

		return w.fsw.Add(path)
	})
}

// Run processes events until the context is canceled. Each burst of changes
// is followed, after the debounce interval, by one push batching everything
// since the previous pass.
func (w *Watcher) Run(ctx context.Context) error {
	var timer *time.Timer

	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}

			if !w.relevant(event) {
				continue
			}

			w.logger.Debug("working tree changed",
				slog.String("path", event.Name), slog.String("op", event.Op.String()))

			// New directories must be registered before events inside them
			// can be observed.
			if event.Has(fsnotify.Create) {
				if err := w.addRecursive(event.Name); err != nil {
					w.logger.Debug("watch registration failed", slog.String("path", event.Name))
				}
			}

			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-fire:
			timer = nil
			fire = nil

			if err := w.backend.Push(ctx, "Auto-commit local changes"); err != nil {
				w.logger.Error("auto-sync failed", slog.String("error", err.Error()))
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}

			w.logger.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}

// relevant filters out git metadata, the session lock, and bare chmod noise.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}

	rel, err := filepath.Rel(w.backend.local.Root(), event.Name)
	if err != nil {
		return false
	}

	rel = filepath.ToSlash(rel)

	if rel == ".git" || strings.HasPrefix(rel, ".git/") {
		return false
	}

	// Temp files from atomic stream writes are renamed away immediately.
	if strings.HasPrefix(filepath.Base(rel), ".syncvault-write-") {
		return false
	}

	return true
}

// Close stops event delivery and releases the underlying watches.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
