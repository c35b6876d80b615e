package supervisor

import (
	"errors"
	"fmt"
	"net"
	"testing"
	"time"
)

func startTestServer(t *testing.T, m *ProcessManager) *SocketServer {
	t.Helper()
	s := NewSocketServer(m)
	if err := s.Start(nil); err != nil {
		t.Fatalf("server start: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func dialHandshake(t *testing.T, port int, headers string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if _, err := conn.Write([]byte(headers)); err != nil {
		t.Fatalf("write handshake: %v", err)
	}
	return conn
}

func TestServer_HandshakeBindsSocket(t *testing.T) {
	quietLogger(t)
	m, procs := newTestManager(t, 42)
	s := startTestServer(t, m)

	dialHandshake(t, s.Port(), "nonce: 42\n\n")

	waitFor(t, 2*time.Second, procs[0].Connected, "socket never bound to record")
}

func TestServer_HandshakeWithExtraHeaders(t *testing.T) {
	quietLogger(t)
	m, procs := newTestManager(t, 7)
	s := startTestServer(t, m)

	dialHandshake(t, s.Port(), "version: 8.2.1\nNonce: 7\n\n")

	waitFor(t, 2*time.Second, procs[0].Connected, "handshake with extra headers not accepted")
}

func TestServer_UnknownNonceRejected(t *testing.T) {
	quietLogger(t)
	m, procs := newTestManager(t, 1)
	s := startTestServer(t, m)

	conn := dialHandshake(t, s.Port(), "nonce: 999\n\n")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Fatal("expected connection to be closed for unknown nonce")
	}
	if procs[0].Connected() {
		t.Error("unknown nonce must not bind to any record")
	}
}

func TestServer_MalformedHandshakeRejected(t *testing.T) {
	quietLogger(t)
	m, _ := newTestManager(t, 1)
	s := startTestServer(t, m)

	conn := dialHandshake(t, s.Port(), "no colon here\n\n")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Fatal("expected connection to be closed on malformed handshake")
	}
}

func TestServer_FramesAfterHandshakeAreDelivered(t *testing.T) {
	quietLogger(t)
	m, procs := newTestManager(t, 3)
	s := startTestServer(t, m)

	// Send the handshake and the first frame in one write, so the frame is
	// already sitting in the server's buffered reader when the socket binds.
	dialHandshake(t, s.Port(),
		"nonce: 3\n\n"+`{"type":"current_label","label":"prologue"}`+"\n")

	waitFor(t, 2*time.Second, func() bool { return procs[0].CurrentLabel() == "prologue" },
		"frame buffered behind the handshake was lost")
}

func TestServer_PortExhaustion(t *testing.T) {
	quietLogger(t)

	// Occupy a port, then offer it as the only candidate.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	taken := ln.Addr().(*net.TCPAddr).Port

	s := NewSocketServer(NewProcessManager())
	err = s.Start([]int{taken})
	if !errors.Is(err, ErrNoPortAvailable) {
		t.Fatalf("expected ErrNoPortAvailable, got %v", err)
	}
}

func TestServer_FallsBackToNextCandidate(t *testing.T) {
	quietLogger(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	taken := ln.Addr().(*net.TCPAddr).Port

	s := NewSocketServer(NewProcessManager())
	if err := s.Start([]int{taken, 0}); err != nil {
		t.Fatalf("expected fallback to succeed, got %v", err)
	}
	defer s.Close()
	if s.Port() == taken || s.Port() == 0 {
		t.Errorf("bound to unexpected port %d", s.Port())
	}
}

func TestServer_CloseDropsBoundSockets(t *testing.T) {
	quietLogger(t)
	m, procs := newTestManager(t, 11)
	s := startTestServer(t, m)

	conn := dialHandshake(t, s.Port(), "nonce: 11\n\n")
	waitFor(t, 2*time.Second, procs[0].Connected, "socket never bound")

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Error("expected bound socket to drop on server close")
	}
	if procs[0].Dead() {
		t.Error("server close must not mark records dead")
	}
}
