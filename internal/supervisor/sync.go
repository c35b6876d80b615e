package supervisor

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Editor is the narrow view of a text editor the synchronizer needs. All
// lines at this boundary are 0-indexed; the wire protocol is 1-indexed and
// the synchronizer converts.
type Editor interface {
	// Cursor returns the focused document's absolute path and line, or
	// ok=false when no document is focused.
	Cursor() (path string, line int, ok bool)

	// Reveal opens the document and moves the caret to the given line.
	Reveal(path string, line int) error

	// OnSelectionChange subscribes to cursor movement. programmatic is
	// true for changes the editor was told to make (e.g. by Reveal), so
	// the synchronizer can filter out its own echoes. The returned
	// function removes the subscription.
	OnSelectionChange(fn func(path string, line int, programmatic bool)) (cancel func())
}

// SyncOptions tunes the synchronizer.
type SyncOptions struct {
	// Debounce is how long the editor cursor must rest before a warp is
	// sent. Zero sends immediately.
	Debounce time.Duration

	// PushOnActivate sends one warp from the editor's current position
	// when a record becomes active.
	PushOnActivate bool
}

// CursorSync keeps exactly one active record's execution position and the
// editor's cursor position converging, without feedback loops. It refuses
// to activate while more than one record is live, and deactivates itself
// when a second record appears: deterministic single-target sync beats
// guessing.
type CursorSync struct {
	manager *ProcessManager
	editor  Editor
	opts    SyncOptions

	mu           sync.Mutex
	active       *Process
	cancelSel    func()
	cancelMsg    func()
	cancelWatch  func()
	pendingTimer *time.Timer
}

func NewCursorSync(manager *ProcessManager, editor Editor, opts SyncOptions) *CursorSync {
	return &CursorSync{manager: manager, editor: editor, opts: opts}
}

// Active returns the record currently being synchronized, or nil.
func (cs *CursorSync) Active() *Process {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.active
}

// Set activates synchronization against p.
func (cs *CursorSync) Set(p *Process) error {
	if p.Dead() {
		return ErrProcessDied
	}
	if cs.manager.Len() > 1 {
		return fmt.Errorf("%w: refusing to follow", ErrAmbiguousTarget)
	}

	cs.mu.Lock()
	cs.stopLocked()
	cs.active = p

	cs.cancelSel = cs.editor.OnSelectionChange(func(path string, line int, programmatic bool) {
		if programmatic {
			return
		}
		cs.scheduleWarp(p, path, line)
	})
	cs.cancelMsg = p.OnMessage(func(msg Message) {
		if m, ok := msg.(CurrentLine); ok {
			cs.revealCurrentLine(m)
		}
	})
	cs.cancelWatch = cs.manager.OnAttach(func(other *Process) {
		if other != p {
			slog.Info("Second process attached, cursor follow off", "active", p.ID, "new", other.ID)
			cs.Off()
		}
	})
	p.OnExit(func() {
		cs.mu.Lock()
		if cs.active == p {
			cs.stopLocked()
		}
		cs.mu.Unlock()
	})
	cs.mu.Unlock()

	if cs.opts.PushOnActivate {
		if path, line, ok := cs.editor.Cursor(); ok {
			cs.sendWarp(p, path, line)
		}
	}
	return nil
}

// Off deactivates synchronization and clears the active record.
func (cs *CursorSync) Off() {
	cs.mu.Lock()
	cs.stopLocked()
	cs.mu.Unlock()
}

func (cs *CursorSync) stopLocked() {
	if cs.cancelSel != nil {
		cs.cancelSel()
		cs.cancelSel = nil
	}
	if cs.cancelMsg != nil {
		cs.cancelMsg()
		cs.cancelMsg = nil
	}
	if cs.cancelWatch != nil {
		cs.cancelWatch()
		cs.cancelWatch = nil
	}
	if cs.pendingTimer != nil {
		cs.pendingTimer.Stop()
		cs.pendingTimer = nil
	}
	cs.active = nil
}

// scheduleWarp debounces editor movement so scrolling through a file does
// not flood the engine.
func (cs *CursorSync) scheduleWarp(p *Process, path string, line int) {
	if cs.opts.Debounce <= 0 {
		cs.sendWarp(p, path, line)
		return
	}

	cs.mu.Lock()
	if cs.active != p {
		cs.mu.Unlock()
		return
	}
	if cs.pendingTimer != nil {
		cs.pendingTimer.Stop()
	}
	cs.pendingTimer = time.AfterFunc(cs.opts.Debounce, func() {
		cs.sendWarp(p, path, line)
	})
	cs.mu.Unlock()
}

// sendWarp pushes one editor position to the engine. line is 0-indexed.
// An identical warp spec to the last one sent for this record is skipped,
// so staying on the same line costs no IPC traffic.
func (cs *CursorSync) sendWarp(p *Process, path string, line int) {
	rel := relativizePath(path, p.ProjectRoot)
	spec := fmt.Sprintf("%s:%d", rel, line+1)

	p.mu.Lock()
	if p.lastWarp == spec {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	if err := p.WarpToLine(rel, line+1); err != nil {
		slog.Warn("Warp failed", "id", p.ID, "spec", spec, "error", err)
		return
	}

	p.mu.Lock()
	p.lastWarp = spec
	p.mu.Unlock()
}

// revealCurrentLine moves the editor to where the engine is executing. If
// the caret is already on that line, it is left alone to preserve the
// user's horizontal position.
func (cs *CursorSync) revealCurrentLine(m CurrentLine) {
	line := m.Line - 1
	if path, cur, ok := cs.editor.Cursor(); ok && path == m.Path && cur == line {
		return
	}
	if err := cs.editor.Reveal(m.Path, line); err != nil {
		slog.Warn("Reveal failed", "path", m.Path, "line", line, "error", err)
	}
}

// relativizePath renders path relative to root with forward slashes, the
// form the engine expects in warp specs. Paths outside root pass through
// unchanged.
func relativizePath(path, root string) string {
	if root == "" {
		return path
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}
