package daemon

import (
	"encoding/json"
	"sync"
)

// BridgeEditor adapts an editor plugin speaking the control socket to the
// supervisor's Editor interface. The plugin reports selection changes with
// CURSOR commands and receives reveal instructions on the EVENTS stream;
// lines are 0-indexed in both directions, matching the editor boundary.
type BridgeEditor struct {
	mu      sync.Mutex
	path    string
	line    int
	focused bool
	selFns  map[int]func(path string, line int, programmatic bool)
	nextSub int
	subs    map[chan string]struct{}
}

// EditorEvent is one frame on the EVENTS stream.
type EditorEvent struct {
	Event string `json:"event"`
	Path  string `json:"path"`
	Line  int    `json:"line"`
}

func NewBridgeEditor() *BridgeEditor {
	return &BridgeEditor{
		selFns: make(map[int]func(string, int, bool)),
		subs:   make(map[chan string]struct{}),
	}
}

// ReportCursor records a user-driven selection change from the plugin.
func (e *BridgeEditor) ReportCursor(path string, line int) {
	e.fireSelection(path, line, false)
}

func (e *BridgeEditor) fireSelection(path string, line int, programmatic bool) {
	e.mu.Lock()
	e.path = path
	e.line = line
	e.focused = true
	fns := make([]func(string, int, bool), 0, len(e.selFns))
	for _, fn := range e.selFns {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(path, line, programmatic)
	}
}

func (e *BridgeEditor) Cursor() (string, int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.path, e.line, e.focused
}

// Reveal forwards the instruction to every subscribed plugin and records
// the resulting position as a programmatic change, so the synchronizer
// does not echo it back to the engine.
func (e *BridgeEditor) Reveal(path string, line int) error {
	frame, err := json.Marshal(EditorEvent{Event: "reveal", Path: path, Line: line})
	if err != nil {
		return err
	}

	e.mu.Lock()
	for ch := range e.subs {
		select {
		case ch <- string(frame) + "\n":
		default:
		}
	}
	e.mu.Unlock()

	e.fireSelection(path, line, true)
	return nil
}

func (e *BridgeEditor) OnSelectionChange(fn func(path string, line int, programmatic bool)) (cancel func()) {
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.selFns[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.selFns, id)
		e.mu.Unlock()
	}
}

// SubscribeEvents attaches an EVENTS stream client.
func (e *BridgeEditor) SubscribeEvents() chan string {
	ch := make(chan string, 100)
	e.mu.Lock()
	e.subs[ch] = struct{}{}
	e.mu.Unlock()
	return ch
}

func (e *BridgeEditor) UnsubscribeEvents(ch chan string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.subs[ch]; ok {
		delete(e.subs, ch)
		close(ch)
	}
}
