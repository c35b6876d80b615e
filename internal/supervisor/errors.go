package supervisor

import "errors"

var (
	// ErrProcessDied means an awaited condition can never be satisfied
	// because the process is gone.
	ErrProcessDied = errors.New("process died")

	// ErrSocketTimeout means the process did not connect back in time.
	// The process may still be alive.
	ErrSocketTimeout = errors.New("timed out waiting for socket")

	// ErrIPCTimeout means a send did not complete in time.
	ErrIPCTimeout = errors.New("timed out sending message")

	// ErrTransport means the underlying socket write failed.
	ErrTransport = errors.New("transport error")

	// ErrNoPortAvailable means every candidate port was taken.
	ErrNoPortAvailable = errors.New("no port available")

	// ErrNotFound means a registry lookup by id or index missed.
	ErrNotFound = errors.New("process not found")

	// ErrAlreadyRegistered means a live record already uses that id.
	ErrAlreadyRegistered = errors.New("process id already registered")

	// ErrAmbiguousTarget means more than one process is live and the
	// caller did not pick one.
	ErrAmbiguousTarget = errors.New("more than one process is live")
)
