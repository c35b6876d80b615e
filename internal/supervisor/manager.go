package supervisor

import (
	"fmt"
	"log/slog"
	"sync"
)

// ProcessManager is the single source of truth for which engine processes
// exist. Records are kept in insertion order so At(0) and At(-1) are
// deterministic; the manager never reorders on access.
type ProcessManager struct {
	mu        sync.Mutex
	procs     []*Process
	byID      map[int]*Process
	attachFns map[int]func(*Process)
	exitFns   map[int]func(*Process)
	nextSub   int
}

func NewProcessManager() *ProcessManager {
	return &ProcessManager{
		byID:      make(map[int]*Process),
		attachFns: make(map[int]func(*Process)),
		exitFns:   make(map[int]func(*Process)),
	}
}

// Add registers a record and notifies attach listeners synchronously.
// Reusing the id of a live record is a caller error.
func (m *ProcessManager) Add(p *Process) error {
	m.mu.Lock()
	if _, exists := m.byID[p.ID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: id %d", ErrAlreadyRegistered, p.ID)
	}
	m.procs = append(m.procs, p)
	m.byID[p.ID] = p
	fns := m.attachListeners()
	m.mu.Unlock()

	// The exit hook removes the record before registry listeners fire, so
	// a listener reading Len sees the post-removal count.
	p.OnExit(func() { m.handleExit(p) })

	for _, fn := range fns {
		fn(p)
	}
	return nil
}

func (m *ProcessManager) attachListeners() []func(*Process) {
	fns := make([]func(*Process), 0, len(m.attachFns))
	for _, fn := range m.attachFns {
		fns = append(fns, fn)
	}
	return fns
}

func (m *ProcessManager) handleExit(p *Process) {
	m.mu.Lock()
	if m.byID[p.ID] != p {
		m.mu.Unlock()
		return
	}
	delete(m.byID, p.ID)
	for i, q := range m.procs {
		if q == p {
			m.procs = append(m.procs[:i], m.procs[i+1:]...)
			break
		}
	}
	fns := make([]func(*Process), 0, len(m.exitFns))
	for _, fn := range m.exitFns {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(p)
	}
}

// Get returns the live record with the given id.
func (m *ProcessManager) Get(id int) (*Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return p, nil
}

// At returns the record at the given insertion-order position. Negative
// indexes count from the end, so At(-1) is the most recently added record.
func (m *ProcessManager) At(index int) (*Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 {
		index += len(m.procs)
	}
	if index < 0 || index >= len(m.procs) {
		return nil, fmt.Errorf("%w: index out of range", ErrNotFound)
	}
	return m.procs[index], nil
}

// Len returns the number of live records.
func (m *ProcessManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.procs)
}

// Processes returns a snapshot of the live records in insertion order.
func (m *ProcessManager) Processes() []*Process {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Process, len(m.procs))
	copy(out, m.procs)
	return out
}

// OnAttach registers fn for every record added after this call and returns
// a function that removes the subscription.
func (m *ProcessManager) OnAttach(fn func(*Process)) (cancel func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.attachFns[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.attachFns, id)
		m.mu.Unlock()
	}
}

// OnExit registers fn for every record retired from the registry and
// returns a function that removes the subscription.
func (m *ProcessManager) OnExit(fn func(*Process)) (cancel func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.exitFns[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.exitFns, id)
		m.mu.Unlock()
	}
}

// KillAll kills every record, best effort. Failures are logged and do not
// abort the iteration.
func (m *ProcessManager) KillAll() {
	for _, p := range m.Processes() {
		if err := p.Kill(); err != nil {
			slog.Error("Failed to kill process", "id", p.ID, "pid", p.Pid, "error", err)
		}
	}
}

// Dispose releases every record for shutdown. Managed children are killed
// first: leaving them running orphaned is worse than losing their output.
// Adopted processes are detached, not killed.
func (m *ProcessManager) Dispose() {
	for _, p := range m.Processes() {
		if p.Managed() {
			if err := p.Kill(); err != nil {
				slog.Error("Failed to kill managed process", "id", p.ID, "error", err)
			}
		}
		p.Dispose()
	}
}
