// Package yamlstore keeps a store.Store in a YAML file of section, key and value maps.
package yamlstore

import (
	"context"
	stderrors "errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/c360/gii/errors"
	"github.com/c360/gii/store"
)

// DefaultDebounce is how long Watch waits for more file events before reloading
const DefaultDebounce = 100 * time.Millisecond

// File is a store backed by a YAML file. Changes stay in memory until Save.
type File struct {
	*store.Memory
	path     string
	debounce time.Duration
	logger   *slog.Logger
}

// Option configures a File
type Option func(*File)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(f *File) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithDebounce sets the debounce window of Watch
func WithDebounce(d time.Duration) Option {
	return func(f *File) {
		if d > 0 {
			f.debounce = d
		}
	}
}

// New creates a store for path without reading it
func New(path string, opts ...Option) *File {
	f := &File{
		Memory:   store.NewMemory(),
		path:     path,
		debounce: DefaultDebounce,
		logger:   slog.Default().With("component", "yamlstore"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Open creates a store for path and loads it. A missing file is an empty store.
func Open(path string, opts ...Option) (*File, error) {
	f := New(path, opts...)
	if _, err := f.Load(); err != nil {
		return nil, err
	}
	return f, nil
}

// Path returns the file path
func (f *File) Path() string { return f.path }

// Load replaces the content with the file and reports whether it changed
func (f *File) Load() (bool, error) {
	raw, err := os.ReadFile(f.path)
	if stderrors.Is(err, os.ErrNotExist) {
		return f.Replace(store.Data{}), nil
	}
	if err != nil {
		return false, errors.WrapTransient(err, "File", "Load", "read "+f.path)
	}
	var d store.Data
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return false, errors.WrapInvalid(err, "File", "Load", "decode "+f.path)
	}
	return f.Replace(d), nil
}

// Save writes the content to the file through a temporary file and a rename
func (f *File) Save() error {
	raw, err := yaml.Marshal(f.Snapshot())
	if err != nil {
		return errors.Wrap(err, "File", "Save", "encode")
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.WrapTransient(err, "File", "Save", "create directory")
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*")
	if err != nil {
		return errors.WrapTransient(err, "File", "Save", "create temporary file")
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.WrapTransient(err, "File", "Save", "write temporary file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.WrapTransient(err, "File", "Save", "close temporary file")
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return errors.WrapTransient(err, "File", "Save", "replace "+f.path)
	}
	return nil
}

// Watch reloads the file whenever it changes on disk and calls onChange when the
// content differs afterwards. Bursts of events within the debounce window cause
// one reload. Watch blocks until ctx is done.
func (f *File) Watch(ctx context.Context, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.WrapTransient(err, "File", "Watch", "create watcher")
	}
	defer w.Close()

	// The directory is watched since saving replaces the file.
	if err := w.Add(filepath.Dir(f.path)); err != nil {
		return errors.WrapTransient(err, "File", "Watch", "watch "+filepath.Dir(f.path))
	}
	name := filepath.Clean(f.path)

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name || ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(f.debounce)
			} else {
				timer.Reset(f.debounce)
			}
			timerC = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn("File watch error", "path", f.path, "error", err)
		case <-timerC:
			timer, timerC = nil, nil
			changed, err := f.Load()
			if err != nil {
				f.logger.Warn("Reload failed", "path", f.path, "error", err)
				continue
			}
			if changed {
				f.logger.Debug("Store reloaded", "path", f.path)
				if onChange != nil {
					onChange()
				}
			}
		}
	}
}
