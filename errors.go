package serial

import (
	"errors"
	"fmt"
)

var (
	// ErrPlatformUnsupported is returned by New when no native handle exists
	// for the host operating system.
	ErrPlatformUnsupported = errors.New("serial: platform not supported")

	// ErrBackendUnavailable is returned when a concurrency backend is not
	// registered or rejects the handle it was given.
	ErrBackendUnavailable = errors.New("serial: backend unavailable")

	// ErrWriteFailed matches every *WriteError.
	ErrWriteFailed = errors.New("serial: write failed")

	// ErrNotOpen is returned for operations on a closed port.
	ErrNotOpen = errors.New("serial: port not open")

	// ErrConcurrentRead is returned when a read is issued while another read
	// on the same port is still pending.
	ErrConcurrentRead = errors.New("serial: concurrent read not supported")

	// ErrClosed completes a pending read when the port is closed under it.
	ErrClosed = errors.New("serial: port closed")

	// ErrInvalidConfig is returned for line settings the port or the native
	// handle cannot use.
	ErrInvalidConfig = errors.New("serial: invalid config")

	// ErrTimeout is returned by Completion.AwaitTimeout. The operation itself
	// is not cancelled.
	ErrTimeout = errors.New("serial: timed out waiting for completion")
)

// WriteError reports a nonzero status from the native write callback.
type WriteError struct {
	Status Status
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("serial: write failed: %s", e.Status)
}

// Is makes every WriteError match ErrWriteFailed, and additionally
// ErrNotOpen when the handle rejected the write because it was closed.
func (e *WriteError) Is(target error) bool {
	switch target {
	case ErrWriteFailed:
		return true
	case ErrNotOpen:
		return e.Status == StatusNotOpen
	}
	return false
}

// ListenerPanicError is reported when an event listener or completion
// callback panics. The panic does not reach the native goroutine.
type ListenerPanicError struct {
	Event string
	Value any
	Stack []byte
}

func (e *ListenerPanicError) Error() string {
	return fmt.Sprintf("serial: %s listener panicked: %v", e.Event, e.Value)
}

// Unwrap returns the panic value if it was an error.
func (e *ListenerPanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}
