package supervisor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// WarpToLine tells the engine to move its execution/display position to a
// source location. Line is 1-indexed; callers working with editor
// coordinates convert before calling.
func (p *Process) WarpToLine(file string, line int) error {
	return p.send(warpToLineRequest{Type: msgWarpToLine, File: file, Line: line})
}

// JumpToLabel tells the engine to jump to a named section.
func (p *Process) JumpToLabel(label string) error {
	return p.send(jumpToLabelRequest{Type: msgJumpToLabel, Label: label})
}

// SetAutoReload arms the engine's reload-on-change behavior. Completion is
// fire-and-forget: the engine acknowledges by behaving differently, not by
// replying.
func (p *Process) SetAutoReload() error {
	return p.send(setAutoReloadRequest{Type: msgSetAutoReload})
}

// send serializes one request frame and writes it to the engine's socket.
// The socket wait is layered on top of the write deadline so a call made
// shortly after launch, before the engine has connected back, still
// resolves once it does.
func (p *Process) send(msg any) error {
	if err := p.WaitForSocket(p.timeouts.SocketWait); err != nil {
		return err
	}

	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		// The socket dropped between the wait and the write.
		return ErrSocketTimeout
	}

	frame, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	frame = append(frame, '\n')

	conn.SetWriteDeadline(time.Now().Add(p.timeouts.Send))
	_, err = conn.Write(frame)
	conn.SetWriteDeadline(time.Time{})
	if err != nil {
		if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
			return fmt.Errorf("%w: pid %d", ErrIPCTimeout, p.Pid)
		}
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	slog.Debug("Sent frame", "id", p.ID, "frame", string(frame[:len(frame)-1]))
	return nil
}
