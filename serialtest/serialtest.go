// Package serialtest provides a scripted native handle for testing code
// built on package serial without a device.
package serialtest

import (
	"bytes"
	"sync"
	"time"

	serial "github.com/luhtfiimanal/go-async-serial"
)

// Handle is an in-memory serial.Handle. Data is injected with Deliver, and
// writes are recorded and completed from a new goroutine with the configured
// status after the configured delay.
type Handle struct {
	mu      sync.Mutex
	open    bool
	openErr error
	status  serial.Status
	delay   time.Duration
	written [][]byte
	onData  func([]byte)
	onErr   func(error)
	pending sync.WaitGroup
}

// NewHandle returns a closed Handle whose writes succeed immediately.
func NewHandle() *Handle { return &Handle{} }

func (h *Handle) Open() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.openErr != nil {
		return h.openErr
	}
	h.open = true
	return nil
}

func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.open = false
	return nil
}

func (h *Handle) IsOpen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.open
}

func (h *Handle) Write(data []byte, done func(serial.Status)) {
	h.mu.Lock()
	status, delay := h.status, h.delay
	if !h.open {
		status = serial.StatusNotOpen
	} else {
		h.written = append(h.written, data)
	}
	h.pending.Add(1)
	h.mu.Unlock()
	go func() {
		defer h.pending.Done()
		if delay > 0 {
			time.Sleep(delay)
		}
		done(status)
	}()
}

func (h *Handle) SetDataCallback(fn func([]byte)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onData = fn
}

func (h *Handle) SetErrorCallback(fn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onErr = fn
}

// SetOpenError makes Open fail with err. A nil err restores success.
func (h *Handle) SetOpenError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.openErr = err
}

// SetWriteStatus sets the status later writes complete with on an open
// handle.
func (h *Handle) SetWriteStatus(s serial.Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = s
}

// SetWriteDelay delays the completion of later writes by d.
func (h *Handle) SetWriteDelay(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.delay = d
}

// Deliver passes a copy of data to the data callback on the calling
// goroutine, as a native reader goroutine would.
func (h *Handle) Deliver(data []byte) {
	h.mu.Lock()
	fn := h.onData
	h.mu.Unlock()
	if fn != nil {
		fn(bytes.Clone(data))
	}
}

// DeliverAfter calls Deliver from a new goroutine once d has passed.
func (h *Handle) DeliverAfter(d time.Duration, data []byte) *time.Timer {
	data = bytes.Clone(data)
	return time.AfterFunc(d, func() { h.Deliver(data) })
}

// Fail passes err to the error callback on the calling goroutine.
func (h *Handle) Fail(err error) {
	h.mu.Lock()
	fn := h.onErr
	h.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Written returns the payload of every write accepted while open, in order.
func (h *Handle) Written() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([][]byte, len(h.written))
	for i, b := range h.written {
		out[i] = bytes.Clone(b)
	}
	return out
}

// WrittenBytes returns every accepted write concatenated.
func (h *Handle) WrittenBytes() []byte {
	return bytes.Join(h.Written(), nil)
}

// Flush waits for every write completion already started to be delivered.
func (h *Handle) Flush() { h.pending.Wait() }
