package supervisor

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// handshakeTimeout bounds how long an inbound connection may take to
// present its headers before we give up on it.
const handshakeTimeout = 5 * time.Second

// SocketServer accepts connections from freshly launched engine processes
// and binds each one to the record awaiting it. The session token (the
// record's id nonce) travels out-of-band as a handshake header, never
// inside the first frame.
type SocketServer struct {
	manager *ProcessManager

	mu       sync.Mutex
	listener net.Listener
	port     int
	conns    map[net.Conn]struct{}
	closed   bool
}

func NewSocketServer(manager *ProcessManager) *SocketServer {
	return &SocketServer{
		manager: manager,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Start listens on the first available candidate port on the loopback
// interface and begins accepting. An empty candidate list delegates to
// ephemeral-port allocation. It returns once the server is listening, or
// with ErrNoPortAvailable when every candidate is taken.
func (s *SocketServer) Start(ports []int) error {
	if len(ports) == 0 {
		ports = []int{0}
	}

	var listener net.Listener
	var lastErr error
	for _, port := range ports {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			lastErr = err
			continue
		}
		listener = ln
		break
	}
	if listener == nil {
		return fmt.Errorf("%w: %v", ErrNoPortAvailable, lastErr)
	}

	s.mu.Lock()
	s.listener = listener
	s.port = listener.Addr().(*net.TCPAddr).Port
	s.mu.Unlock()

	slog.Info("Socket server listening", "port", s.Port())
	go s.acceptLoop(listener)
	return nil
}

// Port returns the bound port, or 0 before Start.
func (s *SocketServer) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

func (s *SocketServer) acceptLoop(listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if !strings.Contains(err.Error(), "use of closed network connection") {
				slog.Warn("Error accepting engine connection", "error", err)
			}
			return
		}
		go s.handleConnection(conn)
	}
}

// handleConnection reads the handshake and attaches the socket to the
// matching record. A connection whose nonce matches no live record is
// unsolicited or stale; it is closed immediately and never becomes state.
func (s *SocketServer) handleConnection(conn net.Conn) {
	s.track(conn)

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	br := bufio.NewReader(conn)
	headers, err := readHandshake(br)
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		slog.Debug("Rejecting connection with bad handshake", "remote", conn.RemoteAddr(), "error", err)
		conn.Close()
		return
	}

	nonce, err := strconv.Atoi(headers["nonce"])
	if err != nil {
		slog.Debug("Rejecting connection without nonce", "remote", conn.RemoteAddr())
		conn.Close()
		return
	}

	p, err := s.manager.Get(nonce)
	if err != nil {
		slog.Debug("Rejecting connection for unknown nonce", "nonce", nonce)
		conn.Close()
		return
	}

	slog.Info("Engine connected", "id", p.ID, "remote", conn.RemoteAddr())
	p.attachSocket(conn, br)
}

// readHandshake parses "key: value" header lines terminated by a blank
// line. Keys are lowercased; unknown keys are kept for forward
// compatibility.
func readHandshake(br *bufio.Reader) (map[string]string, error) {
	headers := make(map[string]string)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("read handshake: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			return headers, nil
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("malformed handshake line %q", line)
		}
		headers[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}
}

// track remembers conn so Close can drop every bound socket. Closing an
// already-closed connection is harmless, so entries are kept for the
// server's lifetime.
func (s *SocketServer) track(conn net.Conn) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

// Close stops listening and drops all currently-bound sockets. Records
// remain valid; liveness tracking reports their deaths independently.
func (s *SocketServer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	listener := s.listener
	conns := make([]net.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.conns = make(map[net.Conn]struct{})
	s.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
	if listener != nil {
		return listener.Close()
	}
	return nil
}
