package supervisor

import (
	"errors"
	"testing"
	"time"
)

func newTestManager(t *testing.T, ids ...int) (*ProcessManager, []*Process) {
	t.Helper()
	m := NewProcessManager()
	procs := make([]*Process, 0, len(ids))
	for _, id := range ids {
		p := newProcess(id, 0, t.TempDir(), testTimeouts())
		if err := m.Add(p); err != nil {
			t.Fatalf("add id %d: %v", id, err)
		}
		procs = append(procs, p)
	}
	return m, procs
}

func TestManager_AddRejectsDuplicateID(t *testing.T) {
	quietLogger(t)
	m, _ := newTestManager(t, 1)

	err := m.Add(newProcess(1, 0, t.TempDir(), testTimeouts()))
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
	if m.Len() != 1 {
		t.Errorf("duplicate add changed Len to %d", m.Len())
	}
}

func TestManager_AtNegativeIndex(t *testing.T) {
	quietLogger(t)
	m, procs := newTestManager(t, 1, 2, 3)

	last, err := m.At(-1)
	if err != nil {
		t.Fatalf("At(-1): %v", err)
	}
	if last != procs[2] {
		t.Errorf("At(-1) returned id %d, want %d", last.ID, procs[2].ID)
	}

	first, err := m.At(0)
	if err != nil {
		t.Fatalf("At(0): %v", err)
	}
	if first != procs[0] {
		t.Errorf("At(0) returned id %d, want %d", first.ID, procs[0].ID)
	}

	if _, err := m.At(3); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for out-of-range index, got %v", err)
	}
	if _, err := m.At(-4); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for negative out-of-range index, got %v", err)
	}
}

func TestManager_GetUnknownID(t *testing.T) {
	quietLogger(t)
	m, _ := newTestManager(t, 1)
	if _, err := m.Get(99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestManager_ExitRemovesBeforeListenersFire(t *testing.T) {
	quietLogger(t)
	m, procs := newTestManager(t, 1, 2)

	lenAtExit := make(chan int, 1)
	m.OnExit(func(p *Process) { lenAtExit <- m.Len() })

	procs[0].markDead(nil)

	select {
	case n := <-lenAtExit:
		if n != 1 {
			t.Errorf("listener observed Len %d, want 1 (record removed first)", n)
		}
	case <-time.After(time.Second):
		t.Fatal("exit listener did not fire")
	}

	if _, err := m.Get(1); !errors.Is(err, ErrNotFound) {
		t.Errorf("dead record still resolvable: %v", err)
	}
	if p, err := m.Get(2); err != nil || p != procs[1] {
		t.Errorf("surviving record lost: %v", err)
	}
}

func TestManager_AttachListenerFiresOnAdd(t *testing.T) {
	quietLogger(t)
	m := NewProcessManager()

	var seen []int
	cancel := m.OnAttach(func(p *Process) { seen = append(seen, p.ID) })

	m.Add(newProcess(5, 0, t.TempDir(), testTimeouts()))
	cancel()
	m.Add(newProcess(6, 0, t.TempDir(), testTimeouts()))

	if len(seen) != 1 || seen[0] != 5 {
		t.Errorf("attach listener saw %v, want [5]", seen)
	}
}

func TestManager_DisposeDetachesAdopted(t *testing.T) {
	quietLogger(t)
	m, procs := newTestManager(t, 1)
	remote := attachPipe(t, procs[0])

	m.Dispose()

	remote.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	if _, err := remote.Read(buf); err == nil {
		t.Error("expected engine-side socket to be closed on dispose")
	}
	if procs[0].Dead() {
		t.Error("dispose must not mark an unmanaged record dead")
	}
}
