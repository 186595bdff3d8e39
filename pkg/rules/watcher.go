package rules

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher reloads a Matcher's ruleset whenever its backing file changes,
// implementing the "signalled reload" authoring facet: a reload swaps the
// Matcher's atomic pointer, so any incident already mid-match keeps running
// against the snapshot it started with.
type Watcher struct {
	matcher *Matcher
	path    string
	log     *logrus.Logger
	fsw     *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher watches the directory containing path and reloads matcher on
// any write/create event targeting it.
func NewWatcher(matcher *Matcher, path string, log *logrus.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}

	return &Watcher{
		matcher: matcher,
		path:    path,
		log:     log,
		fsw:     fsw,
		done:    make(chan struct{}),
	}, nil
}

// Start runs the watch loop in a background goroutine until Close is called.
func (w *Watcher) Start() {
	go func() {
		for {
			select {
			case event, ok := <-w.fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(w.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := w.matcher.LoadFile(w.path); err != nil {
					w.log.WithError(err).Warn("rule reload failed, keeping previous ruleset")
				} else {
					w.log.WithField("path", w.path).Info("rules reloaded")
				}
			case err, ok := <-w.fsw.Errors:
				if !ok {
					return
				}
				w.log.WithError(err).Warn("rule watcher error")
			case <-w.done:
				return
			}
		}
	}()
}

// Close stops the watch loop and releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
