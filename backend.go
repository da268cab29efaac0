package serial

import (
	"fmt"
	"slices"
	"sync"
)

// Backend names a concurrency model under which blocking Reads and Writes are
// delivered.
type Backend string

const (
	BackendNone         Backend = "none"
	BackendThreadFuture Backend = "thread-future"
	BackendGreen        Backend = "green"

	// BackendCoroutine is registered by package coroutine; its handle is an
	// *async.Executor.
	BackendCoroutine Backend = "coroutine"

	// BackendEventLoop is registered by package reactor; its handle is an
	// *eventloop.Loop.
	BackendEventLoop Backend = "event-loop"
)

// BackendFactory builds the Waiter for a backend from the handle passed to
// Registry.Set. It should fail with an error wrapping ErrBackendUnavailable
// when the handle is unusable.
type BackendFactory func(handle any) (Waiter, error)

var (
	backendsMu sync.RWMutex
	backends   = make(map[Backend]BackendFactory)
)

func init() {
	RegisterBackend(BackendNone, func(any) (Waiter, error) { return DirectWaiter{}, nil })
	RegisterBackend(BackendThreadFuture, func(any) (Waiter, error) { return FutureWaiter{}, nil })
	RegisterBackend(BackendGreen, func(any) (Waiter, error) { return CooperativeWaiter{}, nil })
}

// RegisterBackend makes a backend available by name. It panics if f is nil
// or the name is already registered.
func RegisterBackend(b Backend, f BackendFactory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	if f == nil {
		panic("serial: RegisterBackend factory is nil")
	}
	if _, dup := backends[b]; dup {
		panic("serial: RegisterBackend called twice for backend " + string(b))
	}
	backends[b] = f
}

// Backends returns the sorted names of the registered backends.
func Backends() []Backend {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	list := make([]Backend, 0, len(backends))
	for b := range backends {
		list = append(list, b)
	}
	slices.Sort(list)
	return list
}

func lookupBackend(b Backend) (BackendFactory, bool) {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	f, ok := backends[b]
	return f, ok
}

// Registry holds one active backend selection. Ports resolve their Waiter
// from a Registry when they are constructed.
type Registry struct {
	mu      sync.RWMutex
	backend Backend
	handle  any
	waiter  Waiter
}

// NewRegistry returns a Registry with BackendNone active.
func NewRegistry() *Registry {
	return &Registry{backend: BackendNone, waiter: DirectWaiter{}}
}

// Set switches to backend b. The backend must be registered and must accept
// handle; otherwise Set returns an error wrapping ErrBackendUnavailable and
// the previous selection stays active.
func (r *Registry) Set(b Backend, handle any) error {
	f, ok := lookupBackend(b)
	if !ok {
		return fmt.Errorf("%w: %q is not registered", ErrBackendUnavailable, b)
	}
	w, err := f(handle)
	if err != nil {
		return fmt.Errorf("serial: set backend %q: %w", b, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backend, r.handle, r.waiter = b, handle, w
	return nil
}

// Backend returns the active backend.
func (r *Registry) Backend() Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.backend
}

// Handle returns the handle passed with the active backend, if any.
func (r *Registry) Handle() any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handle
}

// Waiter returns the Waiter built for the active backend.
func (r *Registry) Waiter() Waiter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.waiter
}

var defaultRegistry = NewRegistry()

// DefaultRegistry is the process-wide Registry used by ports constructed
// without WithRegistry or WithWaiter.
func DefaultRegistry() *Registry { return defaultRegistry }

// SetBackend sets the process-wide backend. Ports already constructed keep
// the Waiter they were built with.
func SetBackend(b Backend, handle any) error { return defaultRegistry.Set(b, handle) }

// ActiveBackend returns the process-wide backend.
func ActiveBackend() Backend { return defaultRegistry.Backend() }
