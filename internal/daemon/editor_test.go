package daemon

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestBridgeEditor_CursorTracksReports(t *testing.T) {
	e := NewBridgeEditor()

	if _, _, ok := e.Cursor(); ok {
		t.Error("fresh editor should have no focused document")
	}

	e.ReportCursor("/proj/script.rpy", 12)
	path, line, ok := e.Cursor()
	if !ok || path != "/proj/script.rpy" || line != 12 {
		t.Errorf("cursor = %q:%d ok=%v", path, line, ok)
	}
}

func TestBridgeEditor_SelectionListeners(t *testing.T) {
	e := NewBridgeEditor()

	type change struct {
		path         string
		line         int
		programmatic bool
	}
	var seen []change
	cancel := e.OnSelectionChange(func(path string, line int, programmatic bool) {
		seen = append(seen, change{path, line, programmatic})
	})

	e.ReportCursor("/proj/a.rpy", 1)
	e.Reveal("/proj/b.rpy", 2)
	cancel()
	e.ReportCursor("/proj/c.rpy", 3)

	if len(seen) != 2 {
		t.Fatalf("saw %d changes, want 2", len(seen))
	}
	if seen[0].programmatic {
		t.Error("ReportCursor must be user-driven")
	}
	if !seen[1].programmatic {
		t.Error("Reveal must be flagged programmatic")
	}
}

func TestBridgeEditor_RevealBroadcastsEvent(t *testing.T) {
	e := NewBridgeEditor()
	ch := e.SubscribeEvents()
	defer e.UnsubscribeEvents(ch)

	if err := e.Reveal("/proj/script.rpy", 9); err != nil {
		t.Fatalf("reveal: %v", err)
	}

	select {
	case frame := <-ch:
		if !strings.HasSuffix(frame, "\n") {
			t.Errorf("frame not newline terminated: %q", frame)
		}
		var ev EditorEvent
		if err := json.Unmarshal([]byte(frame), &ev); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		if ev.Event != "reveal" || ev.Path != "/proj/script.rpy" || ev.Line != 9 {
			t.Errorf("unexpected event %+v", ev)
		}
	default:
		t.Fatal("no event broadcast")
	}
}

func TestBridgeEditor_UnsubscribeClosesChannel(t *testing.T) {
	e := NewBridgeEditor()
	ch := e.SubscribeEvents()

	e.UnsubscribeEvents(ch)
	if _, open := <-ch; open {
		t.Error("expected channel to be closed")
	}
	e.UnsubscribeEvents(ch)
}
