// Package watcher observes the current profile's asset sub-directory for
// changes made outside the application and publishes external-change
// events. It never mutates the listing itself: listing freshness stays
// driven by save, open, and switch.
package watcher

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/baselight/baselight/internal/capability"
	"github.com/baselight/baselight/internal/events"
	"github.com/baselight/baselight/internal/logging"
)

// Pather is implemented by directory capabilities backed by a real
// filesystem path. Capabilities without one cannot be watched.
type Pather interface {
	Path() string
}

// Watcher forwards filesystem change notifications as broadcaster events.
type Watcher struct {
	fs          *fsnotify.Watcher
	broadcaster *events.Broadcaster

	mu      sync.Mutex
	watched string
	profile string
	done    chan struct{}
}

// New creates a watcher publishing to the given broadcaster.
func New(broadcaster *events.Broadcaster) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fs:          fs,
		broadcaster: broadcaster,
		done:        make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// WatchDirectory replaces the watched directory with the given capability's
// backing path. Capabilities without a filesystem path (e.g. S3) are
// silently skipped — watching is best-effort.
func (w *Watcher) WatchDirectory(profileName string, dir capability.Directory) {
	p, ok := dir.(Pather)
	if !ok {
		logging.Debug("directory capability has no filesystem path, not watching",
			zap.String("profile", profileName))
		w.Unwatch()
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watched != "" {
		w.fs.Remove(w.watched)
		w.watched = ""
	}
	if err := w.fs.Add(p.Path()); err != nil {
		logging.Error("watch failed",
			zap.String("path", p.Path()),
			zap.Error(err))
		return
	}
	w.watched = p.Path()
	w.profile = profileName
	logging.Debug("watching asset directory",
		zap.String("profile", profileName),
		zap.String("path", p.Path()))
}

// Unwatch stops watching the current directory, if any.
func (w *Watcher) Unwatch() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watched != "" {
		w.fs.Remove(w.watched)
		w.watched = ""
		w.profile = ""
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fs.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			// Ignore chmod noise and staged temp files.
			if ev.Op == fsnotify.Chmod {
				continue
			}
			w.mu.Lock()
			profileName := w.profile
			w.mu.Unlock()
			w.broadcaster.Publish(events.Event{
				Type:    events.EventExternalChange,
				Profile: profileName,
				Name:    ev.Name,
			})
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logging.Error("watcher error", zap.Error(err))
		case <-w.done:
			return
		}
	}
}
