package supervisor

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of filesystem events an editor save
// typically produces.
const reloadDebounce = 200 * time.Millisecond

// ReloadWatcher watches a record's project root for script changes and
// arms the engine's auto-reload the first time one lands. Observers can
// subscribe to change notifications for things like decoration refresh.
type ReloadWatcher struct {
	proc    *Process
	watcher *fsnotify.Watcher
	exts    []string

	mu        sync.Mutex
	armed     bool
	timer     *time.Timer
	changeFns []func(path string)
	closed    bool
}

// WatchForReload starts watching p's project root recursively. exts is the
// set of file extensions that count as scripts; empty means ".rpy".
func WatchForReload(p *Process, exts []string) (*ReloadWatcher, error) {
	if len(exts) == 0 {
		exts = []string{".rpy"}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &ReloadWatcher{proc: p, watcher: watcher, exts: exts}

	err = filepath.WalkDir(p.ProjectRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := watcher.Add(path); err != nil {
				slog.Debug("Cannot watch directory", "path", path, "error", err)
			}
		}
		return nil
	})
	if err != nil {
		watcher.Close()
		return nil, err
	}

	go w.run()
	p.OnExit(func() { w.Close() })

	return w, nil
}

// OnChange registers fn for every debounced script change.
func (w *ReloadWatcher) OnChange(fn func(path string)) {
	w.mu.Lock()
	w.changeFns = append(w.changeFns, fn)
	w.mu.Unlock()
}

func (w *ReloadWatcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) {
				// New directories need to be picked up for recursion.
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.watcher.Add(event.Name)
					continue
				}
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !w.scriptFile(event.Name) {
				continue
			}
			w.scheduleNotify(event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Debug("Watcher error", "project", w.proc.ProjectRoot, "error", err)
		}
	}
}

func (w *ReloadWatcher) scriptFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range w.exts {
		if ext == e {
			return true
		}
	}
	return false
}

func (w *ReloadWatcher) scheduleNotify(path string) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(reloadDebounce, func() { w.notify(path) })
	w.mu.Unlock()
}

func (w *ReloadWatcher) notify(path string) {
	w.mu.Lock()
	arm := !w.armed
	w.armed = true
	fns := append(([]func(string))(nil), w.changeFns...)
	w.mu.Unlock()

	if arm {
		if err := w.proc.SetAutoReload(); err != nil {
			slog.Warn("Failed to arm auto-reload", "id", w.proc.ID, "error", err)
			// Try again on the next change.
			w.mu.Lock()
			w.armed = false
			w.mu.Unlock()
		} else {
			slog.Info("Auto-reload armed", "id", w.proc.ID)
		}
	}

	for _, fn := range fns {
		fn(path)
	}
}

// Close stops the watcher. Safe to call more than once.
func (w *ReloadWatcher) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	w.watcher.Close()
}
