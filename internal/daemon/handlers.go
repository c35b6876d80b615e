package daemon

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.olrik.dev/stagehand/internal/core"
	"go.olrik.dev/stagehand/internal/supervisor"
)

// labelsWaitTimeout bounds how long LABELS blocks for an engine that has
// not reported its jump targets yet.
const labelsWaitTimeout = 3 * time.Second

func (d *Daemon) timeouts() supervisor.Timeouts {
	return supervisor.Timeouts{
		SocketWait:   core.Config.SocketWaitTimeout(),
		Send:         core.Config.SendTimeout(),
		PollInterval: core.Config.PollInterval(),
	}
}

// resolveTarget finds the process a command applies to: an explicit id, or
// the most recently added record when none is given.
func (d *Daemon) resolveTarget(idArg string) (*supervisor.Process, error) {
	if idArg == "" {
		return d.manager.At(-1)
	}
	id, err := strconv.Atoi(idArg)
	if err != nil {
		return nil, fmt.Errorf("%w: bad id %q", supervisor.ErrNotFound, idArg)
	}
	return d.manager.Get(id)
}

// optionalTarget pulls a trailing id argument if present.
func optionalTarget(args []string, after int) string {
	if len(args) > after {
		return args[after]
	}
	return ""
}

// handleLaunch spawns a managed engine process:
// LAUNCH <project_root> <cmd> [args...]
func (d *Daemon) handleLaunch(args []string) Response {
	response := Response{}
	if len(args) < 2 {
		response.AddMessage("Usage: LAUNCH <project_root> <cmd> [args...]", "ERROR")
		return response
	}
	projectRoot, argv := args[0], args[1:]

	id := d.allocateID()
	p, err := supervisor.Launch(supervisor.LaunchSpec{
		ID:          id,
		Args:        argv,
		ProjectRoot: projectRoot,
		Port:        d.server.Port(),
		HistorySize: core.Config.Output.HistorySize,
	}, d.timeouts())
	if err != nil {
		response.AddMessage(fmt.Sprintf("Failed to launch: %v", err), "ERROR")
		return response
	}
	if err := d.manager.Add(p); err != nil {
		p.Kill()
		response.AddMessage(fmt.Sprintf("Failed to register process: %v", err), "ERROR")
		return response
	}
	response.AddMessage(fmt.Sprintf("Launched process %d (PID %d)", id, p.Pid), "INFO")

	if core.Config.AutoReload.Enabled {
		if w, err := supervisor.WatchForReload(p, core.Config.AutoReload.Extensions); err != nil {
			slog.Warn("Auto-reload watcher failed", "id", id, "error", err)
		} else {
			d.mu.Lock()
			d.watchers[id] = w
			d.mu.Unlock()
		}
	}

	// Wait for the engine to connect back so the caller learns whether
	// IPC is up. A timeout is not fatal: the engine may still be booting.
	switch err := p.WaitForSocket(core.Config.SocketWaitTimeout()); {
	case err == nil:
		response.AddMessage(fmt.Sprintf("Process %d connected", id), "INFO")
	case errors.Is(err, supervisor.ErrProcessDied):
		detail := ""
		if exitErr := p.ExitErr(); exitErr != nil {
			detail = ": " + exitErr.Error()
		}
		response.AddMessage(fmt.Sprintf("Process %d died before connecting%s", id, detail), "ERROR")
		return response
	default:
		response.AddMessage(fmt.Sprintf("Process %d has not connected yet", id), "WARN")
	}

	if core.Config.Sync.FollowOnLaunch {
		if err := d.cursor.Set(p); err != nil {
			response.AddMessage(fmt.Sprintf("Cursor follow not enabled: %v", err), "WARN")
		} else {
			response.AddMessage("Cursor follow on", "INFO")
		}
	}

	response.AddData(map[string]interface{}{"id": id, "pid": p.Pid})
	return response
}

// handleAdopt registers an already-running engine by pid:
// ADOPT <pid> <project_root>
func (d *Daemon) handleAdopt(args []string) Response {
	response := Response{}
	if len(args) < 2 {
		response.AddMessage("Usage: ADOPT <pid> <project_root>", "ERROR")
		return response
	}
	pid, err := strconv.Atoi(args[0])
	if err != nil {
		response.AddMessage(fmt.Sprintf("Bad pid %q", args[0]), "ERROR")
		return response
	}

	id := d.allocateID()
	p := supervisor.Adopt(id, pid, args[1], d.timeouts())
	if err := d.manager.Add(p); err != nil {
		p.Dispose()
		response.AddMessage(fmt.Sprintf("Failed to register process: %v", err), "ERROR")
		return response
	}

	response.AddMessage(fmt.Sprintf("Adopted process %d (PID %d)", id, pid), "INFO")
	response.AddData(map[string]interface{}{"id": id, "pid": pid})
	return response
}

// ProcessStatus is the status surface for one record.
type ProcessStatus struct {
	ID           int    `json:"id"`
	Pid          int    `json:"pid"`
	ProjectRoot  string `json:"project_root"`
	Managed      bool   `json:"managed"`
	Connected    bool   `json:"connected"`
	CurrentLabel string `json:"current_label,omitempty"`
	CursorPath   string `json:"cursor_path,omitempty"`
	CursorLine   int    `json:"cursor_line,omitempty"`
	Following    bool   `json:"following"`
}

func (d *Daemon) handleStatus() Response {
	response := Response{}

	procs := d.manager.Processes()
	statuses := []ProcessStatus{}
	if len(procs) == 0 {
		response.AddMessage("No processes found", "WARN")
		response.AddData(statuses)
		return response
	}

	active := d.cursor.Active()
	response.AddMessage("OK", "INFO")
	for _, p := range procs {
		status := ProcessStatus{
			ID:           p.ID,
			Pid:          p.Pid,
			ProjectRoot:  p.ProjectRoot,
			Managed:      p.Managed(),
			Connected:    p.Connected(),
			CurrentLabel: p.CurrentLabel(),
			Following:    p == active,
		}
		if cursor, ok := p.LastCursor(); ok {
			status.CursorPath = cursor.RelativePath
			status.CursorLine = cursor.Line
		}
		statuses = append(statuses, status)
	}
	response.AddData(statuses)
	return response
}

// handleLabels waits for and returns the engine's jump targets:
// LABELS [id]
func (d *Daemon) handleLabels(args []string) Response {
	response := Response{}
	p, err := d.resolveTarget(optionalTarget(args, 0))
	if err != nil {
		response.AddMessage(err.Error(), "ERROR")
		return response
	}

	labels, err := p.WaitForLabels(labelsWaitTimeout)
	if err != nil {
		response.AddMessage(fmt.Sprintf("No labels from process %d: %v", p.ID, err), "ERROR")
		return response
	}
	response.AddMessage("OK", "INFO")
	response.AddData(map[string]interface{}{"labels": labels})
	return response
}

// handleJump sends the engine to a named section: JUMP <label> [id]
func (d *Daemon) handleJump(args []string) Response {
	response := Response{}
	if len(args) < 1 {
		response.AddMessage("Usage: JUMP <label> [id]", "ERROR")
		return response
	}
	p, err := d.resolveTarget(optionalTarget(args, 1))
	if err != nil {
		response.AddMessage(err.Error(), "ERROR")
		return response
	}
	if err := p.JumpToLabel(args[0]); err != nil {
		response.AddMessage(fmt.Sprintf("Jump failed: %v", err), "ERROR")
		return response
	}
	response.AddMessage(fmt.Sprintf("Jumped process %d to '%s'", p.ID, args[0]), "INFO")
	return response
}

// handleWarp sends the engine to a source location; the line argument is
// 1-indexed: WARP <file> <line> [id]
func (d *Daemon) handleWarp(args []string) Response {
	response := Response{}
	if len(args) < 2 {
		response.AddMessage("Usage: WARP <file> <line> [id]", "ERROR")
		return response
	}
	line, err := strconv.Atoi(args[1])
	if err != nil || line < 1 {
		response.AddMessage(fmt.Sprintf("Bad line %q", args[1]), "ERROR")
		return response
	}
	p, err := d.resolveTarget(optionalTarget(args, 2))
	if err != nil {
		response.AddMessage(err.Error(), "ERROR")
		return response
	}
	if err := p.WarpToLine(args[0], line); err != nil {
		response.AddMessage(fmt.Sprintf("Warp failed: %v", err), "ERROR")
		return response
	}
	response.AddMessage(fmt.Sprintf("Warped process %d to %s:%d", p.ID, args[0], line), "INFO")
	return response
}

// handleCursor records an editor selection change; the line is 0-indexed
// and the path may contain spaces: CURSOR <line> <path...>
func (d *Daemon) handleCursor(args []string) Response {
	response := Response{}
	if len(args) < 2 {
		response.AddMessage("Usage: CURSOR <line> <path>", "ERROR")
		return response
	}
	line, err := strconv.Atoi(args[0])
	if err != nil || line < 0 {
		response.AddMessage(fmt.Sprintf("Bad line %q", args[0]), "ERROR")
		return response
	}
	path := strings.Join(args[1:], " ")
	if !filepath.IsAbs(path) {
		response.AddMessage(fmt.Sprintf("Path must be absolute: %q", path), "ERROR")
		return response
	}
	d.editor.ReportCursor(path, line)
	response.AddMessage("OK", "INFO")
	return response
}

// handleFollow activates cursor synchronization: FOLLOW [id]
func (d *Daemon) handleFollow(args []string) Response {
	response := Response{}
	p, err := d.resolveTarget(optionalTarget(args, 0))
	if err != nil {
		response.AddMessage(err.Error(), "ERROR")
		return response
	}
	if err := d.cursor.Set(p); err != nil {
		response.AddMessage(fmt.Sprintf("Cannot follow process %d: %v", p.ID, err), "ERROR")
		return response
	}
	response.AddMessage(fmt.Sprintf("Following process %d", p.ID), "INFO")
	return response
}

// handleAutoReload arms reload-on-change directly: AUTORELOAD [id]
func (d *Daemon) handleAutoReload(args []string) Response {
	response := Response{}
	p, err := d.resolveTarget(optionalTarget(args, 0))
	if err != nil {
		response.AddMessage(err.Error(), "ERROR")
		return response
	}
	if err := p.SetAutoReload(); err != nil {
		response.AddMessage(fmt.Sprintf("Auto-reload failed: %v", err), "ERROR")
		return response
	}
	response.AddMessage(fmt.Sprintf("Auto-reload armed for process %d", p.ID), "INFO")
	return response
}

// handleKill force-terminates one process or all of them: KILL <id|all>
func (d *Daemon) handleKill(args []string) Response {
	response := Response{}
	if len(args) < 1 {
		response.AddMessage("Usage: KILL <id|all>", "ERROR")
		return response
	}
	if args[0] == "all" {
		d.manager.KillAll()
		response.AddMessage("Killed all processes", "INFO")
		return response
	}
	p, err := d.resolveTarget(args[0])
	if err != nil {
		response.AddMessage(err.Error(), "ERROR")
		return response
	}
	if err := p.Kill(); err != nil {
		response.AddMessage(fmt.Sprintf("Failed to kill process %d: %v", p.ID, err), "ERROR")
		return response
	}
	response.AddMessage(fmt.Sprintf("Killed process %d", p.ID), "INFO")
	return response
}

// handleHistory returns logged lifecycle events for one process, newest
// first. The process may already be gone; events outlive records:
// HISTORY <id> [limit]
func (d *Daemon) handleHistory(args []string) Response {
	response := Response{}
	if len(args) < 1 {
		response.AddMessage("Usage: HISTORY <id> [limit]", "ERROR")
		return response
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		response.AddMessage(fmt.Sprintf("Bad id %q", args[0]), "ERROR")
		return response
	}
	limit := 20
	if len(args) >= 2 {
		if n, err := strconv.Atoi(args[1]); err == nil && n > 0 {
			limit = n
		}
	}
	if d.database == nil {
		response.AddMessage("Event log is not available", "ERROR")
		return response
	}

	events, err := d.database.RecentProcessEvents(id, limit)
	if err != nil {
		response.AddMessage(fmt.Sprintf("Event log query failed: %v", err), "ERROR")
		return response
	}
	type historyEvent struct {
		Type      string `json:"type"`
		Details   string `json:"details,omitempty"`
		Timestamp string `json:"timestamp"`
	}
	out := make([]historyEvent, 0, len(events))
	for _, e := range events {
		out = append(out, historyEvent{
			Type:      e.EventType,
			Details:   e.Details,
			Timestamp: e.Timestamp.Format(time.RFC3339),
		})
	}
	response.AddMessage("OK", "INFO")
	response.AddData(map[string]interface{}{"events": out})
	return response
}

// streamChannel copies channel traffic to the client until either side
// hangs up.
func streamChannel(conn net.Conn, ch chan string, history []string) {
	for _, chunk := range history {
		if _, err := conn.Write([]byte(chunk)); err != nil {
			return
		}
	}

	done := make(chan struct{})
	go func() {
		io.Copy(io.Discard, conn)
		close(done)
	}()

	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				return
			}
			if _, err := conn.Write([]byte(chunk)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// handleOutputStream streams a managed engine's terminal output:
// OUTPUT [id]
func (d *Daemon) handleOutputStream(conn net.Conn, args []string) {
	defer conn.Close()

	p, err := d.resolveTarget(optionalTarget(args, 0))
	if err != nil {
		fmt.Fprintf(conn, "error: %v\n", err)
		return
	}
	out := p.Output()
	if out == nil {
		fmt.Fprintf(conn, "error: process %d was adopted, no output captured\n", p.ID)
		return
	}

	ch, history := out.Subscribe(50)
	defer out.Unsubscribe(ch)
	streamChannel(conn, ch, history)
}

// handleLogStream streams daemon logs: LOGS [lines]
func (d *Daemon) handleLogStream(conn net.Conn, args []string) {
	defer conn.Close()

	historyLines := 20
	if len(args) >= 1 {
		if n, err := strconv.Atoi(args[0]); err == nil {
			historyLines = n
		}
	}

	ch, history := d.logBroadcast.Subscribe(historyLines)
	defer d.logBroadcast.Unsubscribe(ch)
	streamChannel(conn, ch, history)
}

// handleEventStream streams editor-bound events (reveal instructions) to
// the plugin: EVENTS
func (d *Daemon) handleEventStream(conn net.Conn) {
	defer conn.Close()

	ch := d.editor.SubscribeEvents()
	defer d.editor.UnsubscribeEvents(ch)
	streamChannel(conn, ch, nil)
}
