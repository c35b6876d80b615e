package supervisor

import (
	"bufio"
	"errors"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// fakeEditor is an in-memory Editor with a scriptable cursor.
type fakeEditor struct {
	mu      sync.Mutex
	path    string
	line    int
	focused bool
	reveals []Cursor
	selFns  map[int]func(string, int, bool)
	nextSub int
}

func newFakeEditor() *fakeEditor {
	return &fakeEditor{selFns: make(map[int]func(string, int, bool))}
}

func (e *fakeEditor) Cursor() (string, int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.path, e.line, e.focused
}

func (e *fakeEditor) Reveal(path string, line int) error {
	e.mu.Lock()
	e.path, e.line, e.focused = path, line, true
	e.reveals = append(e.reveals, Cursor{Path: path, Line: line})
	fns := e.listeners()
	e.mu.Unlock()
	for _, fn := range fns {
		fn(path, line, true)
	}
	return nil
}

func (e *fakeEditor) OnSelectionChange(fn func(string, int, bool)) func() {
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

func (e *fakeEditor) listeners() []func(string, int, bool) {
	fns := make([]func(string, int, bool), 0, len(e.selFns))
	for _, fn := range e.selFns {
		fns = append(fns, fn)
	}
	return fns
}

// moveTo simulates the user moving the caret.
func (e *fakeEditor) moveTo(path string, line int) {
	e.mu.Lock()
	e.path, e.line, e.focused = path, line, true
	fns := e.listeners()
	e.mu.Unlock()
	for _, fn := range fns {
		fn(path, line, false)
	}
}

func (e *fakeEditor) revealCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.reveals)
}

// collectFrames drains newline-delimited frames from the engine side of a
// pipe into a buffered channel.
func collectFrames(conn net.Conn) <-chan string {
	frames := make(chan string, 16)
	go func() {
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				close(frames)
				return
			}
			frames <- line
		}
	}()
	return frames
}

func TestSync_WarpOnCursorMove(t *testing.T) {
	quietLogger(t)
	m, procs := newTestManager(t, 1)
	p := procs[0]
	frames := collectFrames(attachPipe(t, p))

	editor := newFakeEditor()
	cs := NewCursorSync(m, editor, SyncOptions{})
	if err := cs.Set(p); err != nil {
		t.Fatalf("set: %v", err)
	}
	defer cs.Off()

	editor.moveTo(filepath.Join(p.ProjectRoot, "game", "script.rpy"), 9)

	select {
	case frame := <-frames:
		want := `{"type":"warp_to_line","file":"game/script.rpy","line":10}` + "\n"
		if frame != want {
			t.Errorf("frame mismatch:\n got %q\nwant %q", frame, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no warp frame received")
	}
}

func TestSync_IdenticalWarpSkipped(t *testing.T) {
	quietLogger(t)
	m, procs := newTestManager(t, 1)
	p := procs[0]
	frames := collectFrames(attachPipe(t, p))

	editor := newFakeEditor()
	cs := NewCursorSync(m, editor, SyncOptions{})
	if err := cs.Set(p); err != nil {
		t.Fatalf("set: %v", err)
	}
	defer cs.Off()

	path := filepath.Join(p.ProjectRoot, "script.rpy")
	editor.moveTo(path, 4)
	editor.moveTo(path, 4)
	editor.moveTo(path, 5)

	var got []string
	deadline := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case f := <-frames:
			got = append(got, f)
		case <-deadline:
			t.Fatalf("expected 2 frames, got %d: %v", len(got), got)
		}
	}

	select {
	case f := <-frames:
		t.Fatalf("duplicate warp was sent: %q", f)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSync_DebounceCollapsesBursts(t *testing.T) {
	quietLogger(t)
	m, procs := newTestManager(t, 1)
	p := procs[0]
	frames := collectFrames(attachPipe(t, p))

	editor := newFakeEditor()
	cs := NewCursorSync(m, editor, SyncOptions{Debounce: 100 * time.Millisecond})
	if err := cs.Set(p); err != nil {
		t.Fatalf("set: %v", err)
	}
	defer cs.Off()

	path := filepath.Join(p.ProjectRoot, "script.rpy")
	for line := 0; line < 5; line++ {
		editor.moveTo(path, line)
	}

	select {
	case frame := <-frames:
		want := `{"type":"warp_to_line","file":"script.rpy","line":5}` + "\n"
		if frame != want {
			t.Errorf("expected only the final position, got %q", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("debounced warp never fired")
	}

	select {
	case f := <-frames:
		t.Fatalf("burst produced extra warp: %q", f)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestSync_RevealPreservesCaretOnSameLine(t *testing.T) {
	quietLogger(t)
	m, procs := newTestManager(t, 1)
	p := procs[0]
	attachPipe(t, p)

	editor := newFakeEditor()
	cs := NewCursorSync(m, editor, SyncOptions{})
	if err := cs.Set(p); err != nil {
		t.Fatalf("set: %v", err)
	}
	defer cs.Off()

	// Engine reports line 10 (1-indexed); the editor reveals 0-indexed 9.
	p.applyMessage(CurrentLine{Path: "/proj/script.rpy", RelativePath: "script.rpy", Line: 10})
	waitFor(t, 2*time.Second, func() bool { return editor.revealCount() == 1 },
		"reveal never happened")
	if editor.reveals[0].Line != 9 {
		t.Errorf("revealed line %d, want 9", editor.reveals[0].Line)
	}

	// Same position again: the caret is already there, so no second reveal.
	p.applyMessage(CurrentLine{Path: "/proj/script.rpy", RelativePath: "script.rpy", Line: 10})
	time.Sleep(100 * time.Millisecond)
	if n := editor.revealCount(); n != 1 {
		t.Errorf("expected exactly 1 reveal, got %d", n)
	}
}

func TestSync_RefusesAmbiguousTarget(t *testing.T) {
	quietLogger(t)
	m, procs := newTestManager(t, 1, 2)

	cs := NewCursorSync(m, newFakeEditor(), SyncOptions{})
	err := cs.Set(procs[0])
	if !errors.Is(err, ErrAmbiguousTarget) {
		t.Fatalf("expected ErrAmbiguousTarget, got %v", err)
	}
	if cs.Active() != nil {
		t.Error("refused activation must leave no active record")
	}
}

func TestSync_RefusesDeadProcess(t *testing.T) {
	quietLogger(t)
	m, procs := newTestManager(t, 1)
	procs[0].markDead(nil)

	cs := NewCursorSync(m, newFakeEditor(), SyncOptions{})
	if err := cs.Set(procs[0]); !errors.Is(err, ErrProcessDied) {
		t.Fatalf("expected ErrProcessDied, got %v", err)
	}
}

func TestSync_SecondAttachDeactivates(t *testing.T) {
	quietLogger(t)
	m, procs := newTestManager(t, 1)

	cs := NewCursorSync(m, newFakeEditor(), SyncOptions{})
	if err := cs.Set(procs[0]); err != nil {
		t.Fatalf("set: %v", err)
	}

	m.Add(newProcess(2, 0, t.TempDir(), testTimeouts()))

	waitFor(t, 2*time.Second, func() bool { return cs.Active() == nil },
		"second attach did not deactivate follow")
}

func TestSync_ExitDeactivates(t *testing.T) {
	quietLogger(t)
	m, procs := newTestManager(t, 1)

	cs := NewCursorSync(m, newFakeEditor(), SyncOptions{})
	if err := cs.Set(procs[0]); err != nil {
		t.Fatalf("set: %v", err)
	}

	procs[0].markDead(nil)

	waitFor(t, 2*time.Second, func() bool { return cs.Active() == nil },
		"process exit did not deactivate follow")
}

func TestSync_OffStopsWarps(t *testing.T) {
	quietLogger(t)
	m, procs := newTestManager(t, 1)
	p := procs[0]
	frames := collectFrames(attachPipe(t, p))

	editor := newFakeEditor()
	cs := NewCursorSync(m, editor, SyncOptions{})
	if err := cs.Set(p); err != nil {
		t.Fatalf("set: %v", err)
	}
	cs.Off()

	editor.moveTo(filepath.Join(p.ProjectRoot, "script.rpy"), 3)

	select {
	case f := <-frames:
		t.Fatalf("warp sent after Off: %q", f)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestRelativizePath(t *testing.T) {
	cases := []struct {
		path, root, want string
	}{
		{"/proj/game/script.rpy", "/proj", "game/script.rpy"},
		{"/proj/script.rpy", "/proj", "script.rpy"},
		{"/elsewhere/script.rpy", "/proj", "/elsewhere/script.rpy"},
		{"/proj/script.rpy", "", "/proj/script.rpy"},
	}
	for _, c := range cases {
		if got := relativizePath(c.path, c.root); got != c.want {
			t.Errorf("relativizePath(%q, %q) = %q, want %q", c.path, c.root, got, c.want)
		}
	}
}

// End-to-end: a warp sent directly to the engine makes it report its new
// position, and the editor reveals the 0-indexed equivalent exactly once,
// including when the engine repeats itself.
func TestSync_WarpRevealsEditorOnce(t *testing.T) {
	quietLogger(t)
	m, procs := newTestManager(t, 42)
	p := procs[0]
	s := startTestServer(t, m)

	engine := dialHandshake(t, s.Port(), "nonce: 42\n\n")
	waitFor(t, 2*time.Second, p.Connected, "engine never bound")
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := engine.Read(buf); err != nil {
				return
			}
		}
	}()

	editor := newFakeEditor()
	editor.moveTo("/proj/other.rpy", 0)
	cs := NewCursorSync(m, editor, SyncOptions{})
	if err := cs.Set(p); err != nil {
		t.Fatalf("set: %v", err)
	}
	defer cs.Off()

	if err := p.WarpToLine("script.rpy", 10); err != nil {
		t.Fatalf("warp: %v", err)
	}
	report := `{"type":"current_line","path":"/proj/script.rpy","relative_path":"script.rpy","line":10}` + "\n"
	engine.Write([]byte(report))

	waitFor(t, 2*time.Second, func() bool { return editor.revealCount() == 1 },
		"reveal never happened")
	if editor.reveals[0].Path != "/proj/script.rpy" || editor.reveals[0].Line != 9 {
		t.Errorf("revealed %s:%d, want /proj/script.rpy:9", editor.reveals[0].Path, editor.reveals[0].Line)
	}

	engine.Write([]byte(report))
	time.Sleep(150 * time.Millisecond)
	if n := editor.revealCount(); n != 1 {
		t.Errorf("duplicate report caused %d reveals, want 1", n)
	}
}

// End-to-end: an engine connects through the socket server, the user warps
// to a line, the engine echoes its new position, and the editor caret is
// left alone because it already sits there.
func TestSync_RoundTrip(t *testing.T) {
	quietLogger(t)
	m, procs := newTestManager(t, 42)
	p := procs[0]
	s := startTestServer(t, m)

	engine := dialHandshake(t, s.Port(), "nonce: 42\n\n")
	waitFor(t, 2*time.Second, p.Connected, "engine never bound")
	frames := collectFrames(engine)

	editor := newFakeEditor()
	cs := NewCursorSync(m, editor, SyncOptions{})
	if err := cs.Set(p); err != nil {
		t.Fatalf("set: %v", err)
	}
	defer cs.Off()

	scriptPath := filepath.Join(p.ProjectRoot, "script.rpy")
	editor.moveTo(scriptPath, 9)

	select {
	case frame := <-frames:
		want := `{"type":"warp_to_line","file":"script.rpy","line":10}` + "\n"
		if frame != want {
			t.Fatalf("frame mismatch:\n got %q\nwant %q", frame, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("engine never received the warp")
	}

	// The engine lands on the line and reports back.
	engine.Write([]byte(`{"type":"current_line","path":"` + scriptPath + `","relative_path":"script.rpy","line":10}` + "\n"))

	// The caret is already at 0-indexed 9, so the echo produces no reveal
	// and no further warp.
	time.Sleep(150 * time.Millisecond)
	if n := editor.revealCount(); n != 0 {
		t.Errorf("echoed position caused %d reveals, want 0", n)
	}
	select {
	case f := <-frames:
		t.Fatalf("feedback loop: engine received %q", f)
	default:
	}
}
