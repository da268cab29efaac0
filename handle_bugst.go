//go:build darwin || freebsd || openbsd || windows

package serial

import (
	"fmt"
	"sync"

	bugst "go.bug.st/serial"
)

// readChunk is the most bytes delivered by one data callback.
const readChunk = 1024

func newNativeHandle(cfg Config) (Handle, error) {
	return &bugstHandle{cfg: cfg}, nil
}

// bugstHandle adapts a blocking go.bug.st/serial port: a reader goroutine
// loops on Read bounded by ReadTimeout, and a writer goroutine serves the
// write queue in order.
type bugstHandle struct {
	cfg Config

	cbMu   sync.RWMutex
	onData func([]byte)
	onErr  func(error)

	stateMu sync.Mutex // serializes Open and Close

	mu     sync.Mutex
	open   bool
	port   bugst.Port
	done   chan struct{}
	writes chan bugstWrite
	wg     *sync.WaitGroup // per open; the reader and writer of that open
}

type bugstWrite struct {
	data []byte
	done func(Status)
}

func (h *bugstHandle) SetDataCallback(fn func([]byte)) {
	h.cbMu.Lock()
	defer h.cbMu.Unlock()
	h.onData = fn
}

func (h *bugstHandle) SetErrorCallback(fn func(error)) {
	h.cbMu.Lock()
	defer h.cbMu.Unlock()
	h.onErr = fn
}

func (h *bugstHandle) Open() error {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.open {
		return nil
	}

	mode := &bugst.Mode{
		BaudRate: h.cfg.BaudRate,
		DataBits: h.cfg.ByteSize,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	}
	switch h.cfg.Parity {
	case ParityOdd:
		mode.Parity = bugst.OddParity
	case ParityEven:
		mode.Parity = bugst.EvenParity
	}
	if h.cfg.StopBits == 2 {
		mode.StopBits = bugst.TwoStopBits
	}

	port, err := bugst.Open(h.cfg.Device, mode)
	if err != nil {
		return fmt.Errorf("open failed: %w", err)
	}
	if h.cfg.ReadTimeout > 0 {
		if err := port.SetReadTimeout(h.cfg.ReadTimeout); err != nil {
			port.Close()
			return fmt.Errorf("set read timeout: %w", err)
		}
	}

	h.port = port
	h.done = make(chan struct{})
	h.writes = make(chan bugstWrite, 64)
	h.open = true

	h.wg = new(sync.WaitGroup)
	h.wg.Add(2)
	go h.readLoop(h.wg, port, h.done)
	go h.writeLoop(h.wg, port, h.done, h.writes)
	return nil
}

// Write hands data to the writer goroutine. It blocks only while the queue
// is full.
func (h *bugstHandle) Write(data []byte, done func(Status)) {
	h.mu.Lock()
	if !h.open {
		h.mu.Unlock()
		done(StatusNotOpen)
		return
	}
	writes, closed := h.writes, h.done
	h.mu.Unlock()
	select {
	case writes <- bugstWrite{data: data, done: done}:
	case <-closed:
		done(StatusNotOpen)
	}
}

func (h *bugstHandle) writeLoop(wg *sync.WaitGroup, port bugst.Port, done chan struct{}, writes chan bugstWrite) {
	defer wg.Done()
	for {
		select {
		case <-done:
			return
		case w := <-writes:
			if _, err := port.Write(w.data); err != nil {
				w.done(StatusFailure)
				continue
			}
			w.done(StatusSuccess)
		}
	}
}

func (h *bugstHandle) readLoop(wg *sync.WaitGroup, port bugst.Port, done chan struct{}) {
	defer wg.Done()
	buf := make([]byte, readChunk)
	for {
		n, err := port.Read(buf)
		select {
		case <-done:
			return
		default:
		}
		if err != nil {
			h.cbMu.RLock()
			fn := h.onErr
			h.cbMu.RUnlock()
			if fn != nil {
				fn(err)
			}
			return
		}
		if n == 0 {
			// read timeout
			continue
		}
		h.cbMu.RLock()
		fn := h.onData
		h.cbMu.RUnlock()
		if fn != nil {
			fn(buf[:n])
		}
	}
}

// Close closes the port, which unblocks the reader, and returns without
// waiting for the goroutines, so it may be called from a callback. Queued
// writes complete with StatusNotOpen once the writer has exited.
func (h *bugstHandle) Close() error {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	h.mu.Lock()
	if !h.open {
		h.mu.Unlock()
		return nil
	}
	h.open = false
	port, done, writes, wg := h.port, h.done, h.writes, h.wg
	h.mu.Unlock()

	close(done)
	err := port.Close()
	go func() {
		wg.Wait()
		for {
			select {
			case w := <-writes:
				w.done(StatusNotOpen)
			default:
				return
			}
		}
	}()
	return err
}
