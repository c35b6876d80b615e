package supervisor

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"

	"github.com/creack/pty"
)

// Environment variables handed to a launched engine. The engine presents
// the nonce when it connects back to the port.
const (
	EnvNonce = "STAGEHAND_NONCE"
	EnvPort  = "STAGEHAND_PORT"
)

// LaunchSpec is the spawn boundary: everything the caller must supply to
// start a managed engine process.
type LaunchSpec struct {
	ID          int               // fresh registry nonce
	Args        []string          // argv; Args[0] is the executable
	ProjectRoot string            // working directory, immutable for the record's life
	Env         map[string]string // extra environment, merged over the daemon's
	Port        int               // socket server port the engine connects back to
	HistorySize int               // output ring buffer size, 0 for the default
}

// Launch spawns a managed engine process. The child runs under a PTY in
// its own session, so interactive output is captured and the whole process
// tree can be killed with one group signal. Exit is observed via Wait and
// the exit error is kept for reporting.
func Launch(spec LaunchSpec, timeouts Timeouts) (*Process, error) {
	if len(spec.Args) == 0 {
		return nil, fmt.Errorf("launch: empty argument vector")
	}

	cmd := exec.Command(spec.Args[0], spec.Args[1:]...)
	cmd.Dir = spec.ProjectRoot
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("%s=%d", EnvNonce, spec.ID),
		fmt.Sprintf("%s=%d", EnvPort, spec.Port),
	)
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	// pty.Start puts the child in its own session with the PTY as its
	// controlling terminal, which also gives it its own process group.
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("launch %s: %w", spec.Args[0], err)
	}

	p := newProcess(spec.ID, cmd.Process.Pid, spec.ProjectRoot, timeouts)
	p.cmd = cmd
	p.ptmx = ptmx
	p.output = NewOutputBroadcaster(spec.HistorySize)

	slog.Info("Launched engine process", "id", spec.ID, "pid", cmd.Process.Pid, "project", spec.ProjectRoot)

	go p.pumpOutput(ptmx)
	go p.waitManaged(cmd)

	return p, nil
}

// pumpOutput streams PTY output into the broadcaster until EOF.
func (p *Process) pumpOutput(ptmx *os.File) {
	buf := make([]byte, 4096)
	for {
		n, err := ptmx.Read(buf)
		if n > 0 {
			p.output.Broadcast(string(buf[:n]))
		}
		if err != nil {
			// EIO is the normal PTY read error once the child exits.
			if err != io.EOF {
				slog.Debug("Engine output ended", "id", p.ID, "error", err)
			}
			return
		}
	}
}

// waitManaged reaps the child and performs the dead transition. Managed
// records need no liveness polling; the OS tells us.
func (p *Process) waitManaged(cmd *exec.Cmd) {
	err := cmd.Wait()
	if err != nil {
		slog.Info("Engine process exited", "id", p.ID, "pid", p.Pid, "error", err)
	} else {
		slog.Info("Engine process exited", "id", p.ID, "pid", p.Pid)
	}
	p.markDead(err)
}
