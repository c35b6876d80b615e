package daemon

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"go.olrik.dev/stagehand/internal/core"
	"go.olrik.dev/stagehand/internal/db"
	"go.olrik.dev/stagehand/internal/supervisor"
)

// Daemon owns the supervision core and exposes it on a unix control
// socket: the launch/command layer and the editor plugin are both clients.
type Daemon struct {
	manager *supervisor.ProcessManager
	server  *supervisor.SocketServer
	cursor  *supervisor.CursorSync
	editor  *BridgeEditor

	logBroadcast *supervisor.OutputBroadcaster
	database     *db.DB
	listener     net.Listener

	mu       sync.Mutex
	watchers map[int]*supervisor.ReloadWatcher
	nextID   int

	verbose      int
	shutdownOnce sync.Once
	ctx          context.Context
	cancelFunc   context.CancelFunc
}

func New() *Daemon {
	ctx, cancel := context.WithCancel(context.Background())

	manager := supervisor.NewProcessManager()
	editor := NewBridgeEditor()
	d := &Daemon{
		manager: manager,
		server:  supervisor.NewSocketServer(manager),
		editor:  editor,
		cursor: supervisor.NewCursorSync(manager, editor, supervisor.SyncOptions{
			Debounce:       core.Config.SyncDebounce(),
			PushOnActivate: core.Config.Sync.PushOnActivate,
		}),
		logBroadcast: supervisor.NewOutputBroadcaster(core.Config.Output.HistorySize),
		watchers:     make(map[int]*supervisor.ReloadWatcher),
		verbose:      core.Config.Verbose,
		ctx:          ctx,
		cancelFunc:   cancel,
	}

	manager.OnAttach(func(p *supervisor.Process) {
		if d.database != nil {
			d.database.LogProcessEvent(p.ID, "attach", fmt.Sprintf("PID: %d, project: %s", p.Pid, p.ProjectRoot))
		}
	})
	manager.OnExit(func(p *supervisor.Process) {
		details := ""
		if err := p.ExitErr(); err != nil {
			details = err.Error()
		}
		slog.Info("Process retired", "id", p.ID, "pid", p.Pid, "remaining", d.manager.Len())
		if d.database != nil {
			d.database.LogProcessEvent(p.ID, "exit", details)
		}
		d.dropWatcher(p.ID)
	})

	return d
}

// Run starts the daemon's main loop and blocks until shutdown.
func (d *Daemon) Run() {
	d.setupLogging()

	if database, err := db.Open(core.GetDBPath()); err != nil {
		slog.Error("Failed to open event log", "error", err, "path", core.GetDBPath())
	} else {
		d.database = database
		d.database.LogDaemonEvent("start", fmt.Sprintf("version: %s, PID: %d", core.FormatVersion(core.Version), os.Getpid()))
	}

	// The engine-facing socket server must be up before any LAUNCH, so
	// launched processes always have a port to connect back to.
	if err := d.server.Start(core.Config.Server.Ports); err != nil {
		slog.Error("Fatal: socket server failed to start", "error", err)
		os.Exit(1)
	}

	socketPath := core.GetSocketPath()
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		// Possibly a stale socket from a crashed daemon; if nothing
		// answers on it, remove and retry.
		if _, statErr := os.Stat(socketPath); statErr == nil {
			if conn, dialErr := net.Dial("unix", socketPath); dialErr == nil {
				conn.Close()
				slog.Error("Fatal: Daemon is already running")
				os.Exit(1)
			}
			slog.Info(fmt.Sprintf("Removing stale socket file: %s", socketPath))
			if removeErr := os.Remove(socketPath); removeErr != nil {
				slog.Error(fmt.Sprintf("Fatal: Could not remove stale socket: %v", removeErr))
				os.Exit(1)
			}
			listener, err = net.Listen("unix", socketPath)
		}
		if err != nil {
			slog.Error(fmt.Sprintf("Fatal: Could not create control socket: %v", err))
			os.Exit(1)
		}
	}

	os.WriteFile(core.GetPIDFilePath(), []byte(strconv.Itoa(os.Getpid())), 0o644)
	defer os.Remove(core.GetPIDFilePath())
	defer os.Remove(socketPath)

	d.listener = listener
	slog.Info(fmt.Sprintf("Daemon listening on %s", socketPath), "engine_port", d.server.Port())

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-shutdownChan
		slog.Info("Shutdown signal received.")
		d.shutdown()
		os.Exit(0)
	}()

	for {
		conn, err := d.listener.Accept()
		if err != nil {
			if !strings.Contains(err.Error(), "use of closed network connection") {
				slog.Info(fmt.Sprintf("Error accepting connection: %v", err))
			}
			break
		}
		go d.handleConnection(conn)
	}
}

// shutdown disposes every record (killing managed children), closes both
// sockets, and flushes the event log. Runs at most once.
func (d *Daemon) shutdown() {
	d.shutdownOnce.Do(func() {
		d.cursor.Off()
		d.cancelFunc()

		d.mu.Lock()
		for id, w := range d.watchers {
			w.Close()
			delete(d.watchers, id)
		}
		d.mu.Unlock()

		d.manager.Dispose()
		d.server.Close()

		if d.database != nil {
			d.database.LogDaemonEvent("stop", fmt.Sprintf("PID: %d", os.Getpid()))
			if err := d.database.Flush(); err != nil {
				slog.Error("Failed to flush event log", "error", err)
			}
			d.database.Close()
		}
		if d.listener != nil {
			d.listener.Close()
		}
	})
}

// allocateID hands out fresh registry nonces. Ids are never reused while
// the daemon lives.
func (d *Daemon) allocateID() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Daemon) dropWatcher(id int) {
	d.mu.Lock()
	if w, ok := d.watchers[id]; ok {
		w.Close()
		delete(d.watchers, id)
	}
	d.mu.Unlock()
}

func (d *Daemon) handleConnection(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		return
	}

	parts := strings.Fields(scanner.Text())
	if len(parts) == 0 {
		return
	}
	command, args := parts[0], parts[1:]

	// VERSION and CURSOR are chatty; everything else is worth a log line.
	if command != "VERSION" && command != "CURSOR" {
		if len(args) > 0 {
			slog.Info(fmt.Sprintf("Executing command: %s %v", command, args))
		} else {
			slog.Info(fmt.Sprintf("Executing command: %s", command))
		}
	}

	var response Response
	switch command {
	case "LAUNCH":
		response = d.handleLaunch(args)
	case "ADOPT":
		response = d.handleAdopt(args)
	case "STATUS":
		response = d.handleStatus()
	case "LABELS":
		response = d.handleLabels(args)
	case "JUMP":
		response = d.handleJump(args)
	case "WARP":
		response = d.handleWarp(args)
	case "CURSOR":
		response = d.handleCursor(args)
	case "FOLLOW":
		response = d.handleFollow(args)
	case "UNFOLLOW":
		d.cursor.Off()
		response.AddMessage("Cursor follow off", "INFO")
	case "AUTORELOAD":
		response = d.handleAutoReload(args)
	case "KILL":
		response = d.handleKill(args)
	case "HISTORY":
		response = d.handleHistory(args)
	case "OUTPUT":
		d.handleOutputStream(conn, args)
		return // raw stream, no JSON envelope
	case "LOGS":
		d.handleLogStream(conn, args)
		return
	case "EVENTS":
		d.handleEventStream(conn)
		return
	case "VERSION":
		response.AddMessage("OK", "INFO")
		response.AddData(map[string]interface{}{
			"version":     core.Version,
			"pid":         os.Getpid(),
			"engine_port": d.server.Port(),
		})
	case "STOP":
		response.AddMessage("Daemon shutting down", "INFO")
		conn.Write([]byte(response.ToJSON()))
		slog.Info("Stop command received. Shutting down daemon.")
		d.shutdown()
		os.Exit(0)
	default:
		response.AddMessage("Unknown command.", "ERROR")
	}
	conn.Write([]byte(response.ToJSON()))
}
