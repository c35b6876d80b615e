package supervisor

import (
	"bufio"
	"log/slog"
	"net"
	"os"
	"testing"
	"time"
)

// quietLogger suppresses default slog output during tests and restores it after.
func quietLogger(t *testing.T) {
	t.Helper()
	old := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.Level(99)})))
	t.Cleanup(func() { slog.SetDefault(old) })
}

func testTimeouts() Timeouts {
	return Timeouts{
		SocketWait:   500 * time.Millisecond,
		Send:         200 * time.Millisecond,
		PollInterval: 50 * time.Millisecond,
	}
}

// attachPipe wires an in-memory socket into p and returns the engine side.
func attachPipe(t *testing.T, p *Process) net.Conn {
	t.Helper()
	local, remote := net.Pipe()
	p.attachSocket(local, bufio.NewReader(local))
	t.Cleanup(func() { remote.Close() })
	return remote
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}
