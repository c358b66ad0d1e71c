// Package watch re-runs work when watched files change.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/logflow/dqengine/internal/logging"
	dqerrors "github.com/logflow/dqengine/pkg/errors"
)

// DefaultDebounce collapses bursts of writes, e.g. editors saving in steps.
const DefaultDebounce = 500 * time.Millisecond

// Options configures a Watcher.
type Options struct {
	Debounce time.Duration
	// OnChange is called once per settled change of a watched file. Calls
	// for different files may overlap; calls for one file do not.
	OnChange func(ctx context.Context, path string) error
	OnError  func(path string, err error)
	Logger   logrus.FieldLogger
}

// Watcher monitors files for changes.
type Watcher struct {
	watcher *fsnotify.Watcher
	opts    Options
	logger  logrus.FieldLogger

	mu    sync.Mutex
	files map[string]*fileState
}

type fileState struct {
	lastModified time.Time
	size         int64
	processing   bool
	timer        *time.Timer
}

// New creates a watcher.
func New(opts Options) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, dqerrors.Wrap(err, dqerrors.CodeStorage, "failed to create watcher")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	return &Watcher{
		watcher: fsWatcher,
		opts:    opts,
		logger:  logging.OrDiscard(opts.Logger),
		files:   make(map[string]*fileState),
	}, nil
}

// Watch adds a file. Its directory is watched so that editors that replace
// the file are noticed.
func (w *Watcher) Watch(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return dqerrors.Wrap(err, dqerrors.CodeStorage, "failed to resolve path").WithContext("path", path)
	}
	stat, err := os.Stat(absPath)
	if err != nil {
		return dqerrors.Wrap(err, dqerrors.CodeStorage, "failed to stat file").WithContext("path", path)
	}

	w.mu.Lock()
	w.files[absPath] = &fileState{lastModified: stat.ModTime(), size: stat.Size()}
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(absPath)); err != nil {
		return dqerrors.Wrap(err, dqerrors.CodeStorage, "failed to watch directory").WithContext("path", path)
	}
	w.logger.WithField("path", absPath).Debug("watching file")
	return nil
}

// Run dispatches changes until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.stopTimers()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			absPath, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}
			w.schedule(ctx, absPath)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.fail("", err)
		}
	}
}

func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	state, ok := w.files[path]
	if !ok {
		return
	}
	if state.timer != nil {
		state.timer.Stop()
	}
	state.timer = time.AfterFunc(w.opts.Debounce, func() {
		w.handleChange(ctx, path, state)
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, state := range w.files {
		if state.timer != nil {
			state.timer.Stop()
		}
	}
}

func (w *Watcher) handleChange(ctx context.Context, path string, state *fileState) {
	if ctx.Err() != nil {
		return
	}
	stat, err := os.Stat(path)
	if err != nil {
		w.fail(path, err)
		return
	}

	w.mu.Lock()
	if state.processing || (stat.ModTime().Equal(state.lastModified) && stat.Size() == state.size) {
		w.mu.Unlock()
		return
	}
	state.processing = true
	state.lastModified = stat.ModTime()
	state.size = stat.Size()
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		state.processing = false
		w.mu.Unlock()
	}()

	w.logger.WithField("path", path).Info("file changed")
	if w.opts.OnChange != nil {
		if err := w.opts.OnChange(ctx, path); err != nil {
			w.fail(path, err)
		}
	}
}

func (w *Watcher) fail(path string, err error) {
	w.logger.WithError(err).WithField("path", path).Warn("watch error")
	if w.opts.OnError != nil {
		w.opts.OnError(path, err)
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
