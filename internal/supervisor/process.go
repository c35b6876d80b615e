package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Timeouts holds the per-record timing knobs. The zero value is unusable;
// start from DefaultTimeouts and override from config.
type Timeouts struct {
	SocketWait   time.Duration // how long a send waits for the engine to connect back
	Send         time.Duration // write deadline for a single frame
	PollInterval time.Duration // liveness poll period for adopted processes
}

var DefaultTimeouts = Timeouts{
	SocketWait:   5 * time.Second,
	Send:         1 * time.Second,
	PollInterval: 400 * time.Millisecond,
}

// Cursor is the last execution position an engine reported. Line is
// 1-indexed, matching the wire protocol.
type Cursor struct {
	Path         string
	RelativePath string
	Line         int
}

// Process is the supervisor-side handle for one external engine process.
//
// A managed process is a direct child started by Launch; its exit is
// observed via Wait and the exit code is captured. An adopted process is an
// independently-running pid; liveness is polled with a non-invasive
// existence probe, and a zombie counts as dead. Both flavors converge on
// the same dead/exit contract.
type Process struct {
	ID          int
	Pid         int
	ProjectRoot string

	timeouts Timeouts

	mu           sync.Mutex
	conn         net.Conn
	dead         bool
	exitErr      error
	labels       []string
	lastCursor   *Cursor
	currentLabel string
	lastWarp     string

	// sockReady is closed while a socket is attached and swapped for a
	// fresh channel when the socket goes away. deadCh and labelsReady
	// close at most once.
	sockReady   chan struct{}
	deadCh      chan struct{}
	labelsReady chan struct{}

	exitFns []func()
	msgFns  map[int]func(Message)
	nextSub int

	cmd        *exec.Cmd
	ptmx       *os.File
	output     *OutputBroadcaster
	pollCancel context.CancelFunc
}

func newProcess(id, pid int, projectRoot string, timeouts Timeouts) *Process {
	return &Process{
		ID:          id,
		Pid:         pid,
		ProjectRoot: projectRoot,
		timeouts:    timeouts,
		sockReady:   make(chan struct{}),
		deadCh:      make(chan struct{}),
		labelsReady: make(chan struct{}),
		msgFns:      make(map[int]func(Message)),
	}
}

// Adopt wraps an already-running engine process that stagehand did not
// spawn. The record polls for process existence until the pid disappears
// or turns into a zombie.
func Adopt(id, pid int, projectRoot string, timeouts Timeouts) *Process {
	p := newProcess(id, pid, projectRoot, timeouts)

	ctx, cancel := context.WithCancel(context.Background())
	p.pollCancel = cancel
	go p.pollLiveness(ctx)

	return p
}

// pollLiveness watches an adopted pid until it goes away.
func (p *Process) pollLiveness(ctx context.Context) {
	ticker := time.NewTicker(p.timeouts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !pidAlive(p.Pid) {
				slog.Info("Adopted process is gone", "id", p.ID, "pid", p.Pid)
				p.markDead(nil)
				return
			}
		}
	}
}

// pidAlive reports whether pid refers to a running, non-defunct process.
func pidAlive(pid int) bool {
	exists, err := process.PidExists(int32(pid))
	if err != nil || !exists {
		return false
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	statuses, err := proc.Status()
	if err != nil {
		// Existence is confirmed; treat an unreadable status as alive.
		return true
	}
	for _, s := range statuses {
		if s == process.Zombie {
			return false
		}
	}
	return true
}

// Dead reports whether the process has been observed dead.
func (p *Process) Dead() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dead
}

// Managed reports whether the process is a direct child of the supervisor.
func (p *Process) Managed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cmd != nil
}

// Connected reports whether an IPC socket is currently attached.
func (p *Process) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil
}

// ExitErr returns the wait error of a managed process, if any.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// Labels returns the jump targets the engine has reported, or ok=false if
// it has not reported any yet.
func (p *Process) Labels() ([]string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.labels == nil {
		return nil, false
	}
	out := make([]string, len(p.labels))
	copy(out, p.labels)
	return out, true
}

// LastCursor returns the last execution position the engine reported.
func (p *Process) LastCursor() (Cursor, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastCursor == nil {
		return Cursor{}, false
	}
	return *p.lastCursor, true
}

// CurrentLabel returns the last non-reserved label the engine reported.
func (p *Process) CurrentLabel() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentLabel
}

// Output returns the broadcaster carrying the engine's terminal output,
// or nil for adopted processes.
func (p *Process) Output() *OutputBroadcaster {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.output
}

// OnExit registers fn to run exactly once when the process dies.
// If the process is already dead, fn runs immediately.
func (p *Process) OnExit(fn func()) {
	p.mu.Lock()
	if p.dead {
		p.mu.Unlock()
		fn()
		return
	}
	p.exitFns = append(p.exitFns, fn)
	p.mu.Unlock()
}

// OnMessage registers fn for every decoded inbound notification and
// returns a function that removes the subscription.
func (p *Process) OnMessage(fn func(Message)) (cancel func()) {
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.msgFns[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.msgFns, id)
		p.mu.Unlock()
	}
}

// attachSocket binds an inbound connection to this record. A stale socket
// from a previous connection is closed and replaced; the newest connection
// is authoritative. br carries any bytes already buffered past the
// handshake.
func (p *Process) attachSocket(conn net.Conn, br *bufio.Reader) {
	p.mu.Lock()
	if p.dead {
		p.mu.Unlock()
		conn.Close()
		return
	}
	if p.conn != nil {
		slog.Info("Replacing stale socket", "id", p.ID)
		p.conn.Close()
	} else {
		close(p.sockReady)
	}
	p.conn = conn
	p.mu.Unlock()

	if br == nil {
		br = bufio.NewReader(conn)
	}
	go p.readLoop(conn, br)
}

// detachSocket clears the socket, but only if conn is still the
// authoritative one. A replaced socket's read loop must not clobber its
// replacement.
func (p *Process) detachSocket(conn net.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != conn {
		return
	}
	p.conn.Close()
	p.conn = nil
	if !p.dead {
		p.sockReady = make(chan struct{})
	}
}

// readLoop dispatches inbound frames until the connection drops. Malformed
// frames are logged and dropped; a single bad frame must not tear down an
// otherwise healthy connection.
func (p *Process) readLoop(conn net.Conn, br *bufio.Reader) {
	defer p.detachSocket(conn)

	scanner := bufio.NewScanner(br)
	for scanner.Scan() {
		frame := scanner.Bytes()
		if len(frame) == 0 {
			continue
		}
		msg, err := decodeMessage(frame)
		if err != nil {
			slog.Warn("Dropping bad frame", "id", p.ID, "error", err)
			continue
		}
		if msg == nil {
			slog.Debug("Ignoring unknown message type", "id", p.ID, "frame", string(frame))
			continue
		}
		p.applyMessage(msg)
	}
	if err := scanner.Err(); err != nil {
		slog.Debug("Socket read ended", "id", p.ID, "error", err)
	}
}

// applyMessage updates record state from one notification and fans it out
// to subscribers. The state update happens unconditionally; downstream
// consumption is optional.
func (p *Process) applyMessage(msg Message) {
	p.mu.Lock()
	switch m := msg.(type) {
	case CurrentLine:
		p.lastCursor = &Cursor{Path: m.Path, RelativePath: m.RelativePath, Line: m.Line}
	case CurrentLabel:
		if !reservedLabel(m.Label) {
			p.currentLabel = m.Label
		}
	case ListLabels:
		first := p.labels == nil
		p.labels = append([]string(nil), m.Labels...)
		if first {
			close(p.labelsReady)
		}
	}
	fns := make([]func(Message), 0, len(p.msgFns))
	for _, fn := range p.msgFns {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(msg)
	}
}

// WaitForSocket blocks until a socket is attached, the process dies, or
// timeout elapses, whichever comes first. Multiple callers may wait
// concurrently; all are released together.
func (p *Process) WaitForSocket(timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		p.mu.Lock()
		if p.dead {
			p.mu.Unlock()
			return ErrProcessDied
		}
		if p.conn != nil {
			p.mu.Unlock()
			return nil
		}
		ready := p.sockReady
		dead := p.deadCh
		p.mu.Unlock()

		select {
		case <-ready:
			// Re-check: the socket may already be gone again.
		case <-dead:
			return ErrProcessDied
		case <-timer.C:
			return ErrSocketTimeout
		}
	}
}

// WaitForLabels blocks until the engine has reported its jump targets, the
// process dies, or timeout elapses.
func (p *Process) WaitForLabels(timeout time.Duration) ([]string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	p.mu.Lock()
	if p.dead {
		p.mu.Unlock()
		return nil, ErrProcessDied
	}
	ready := p.labelsReady
	dead := p.deadCh
	p.mu.Unlock()

	select {
	case <-ready:
		labels, _ := p.Labels()
		return labels, nil
	case <-dead:
		return nil, ErrProcessDied
	case <-timer.C:
		return nil, ErrSocketTimeout
	}
}

// Kill forcibly terminates the whole process tree. Managed processes run in
// their own session, so signaling the process group takes out any
// intermediary the platform spawned. Killing an already-dead record is a
// no-op.
func (p *Process) Kill() error {
	p.mu.Lock()
	if p.dead {
		p.mu.Unlock()
		return nil
	}
	pid := p.Pid
	p.mu.Unlock()

	err := syscall.Kill(-pid, syscall.SIGKILL)
	if err != nil {
		// Group signal failed (no group of our own, or already reaped);
		// fall back to the single process.
		if proc, ferr := os.FindProcess(pid); ferr == nil {
			err = proc.Kill()
		}
	}
	if err != nil && !errors.Is(err, syscall.ESRCH) && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill pid %d: %w", pid, err)
	}

	p.markDead(nil)
	return nil
}

// markDead performs the monotonic false->true transition and fires exit
// listeners exactly once. exitErr, if non-nil, is the managed child's wait
// error.
func (p *Process) markDead(exitErr error) {
	p.mu.Lock()
	if p.dead {
		p.mu.Unlock()
		return
	}
	p.dead = true
	p.exitErr = exitErr
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	close(p.deadCh)
	if p.pollCancel != nil {
		p.pollCancel()
	}
	fns := p.exitFns
	p.exitFns = nil
	p.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Dispose releases the record's resources without killing the process.
// Used when the supervisor shuts down but wants to detach from, not kill,
// an externally-owned engine. No exit event is emitted.
func (p *Process) Dispose() {
	p.mu.Lock()
	if p.pollCancel != nil {
		p.pollCancel()
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	if p.ptmx != nil {
		p.ptmx.Close()
		p.ptmx = nil
	}
	p.exitFns = nil
	p.msgFns = make(map[int]func(Message))
	p.mu.Unlock()
}
