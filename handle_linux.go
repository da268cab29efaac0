//go:build linux

package serial

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// readChunk is the most bytes delivered by one data callback.
const readChunk = 1024

func newNativeHandle(cfg Config) (Handle, error) {
	return &linuxHandle{cfg: cfg}, nil
}

// linuxHandle drives a tty in raw mode with two goroutines: a reader polling
// the device and a self-pipe, and a writer draining a FIFO of writes.
type linuxHandle struct {
	cfg Config

	cbMu   sync.RWMutex
	onData func([]byte)
	onErr  func(error)

	stateMu sync.Mutex // serializes Open and Close

	mu    sync.Mutex
	open  bool
	fd    int
	pipeR int // self-pipe read fd
	pipeW int // self-pipe write fd
	done  chan struct{}
	queue []linuxWrite
	wake  chan struct{}
	wg    *sync.WaitGroup // per open; the reader and writer of that open
}

type linuxWrite struct {
	data []byte
	done func(Status)
}

func (h *linuxHandle) SetDataCallback(fn func([]byte)) {
	h.cbMu.Lock()
	defer h.cbMu.Unlock()
	h.onData = fn
}

func (h *linuxHandle) SetErrorCallback(fn func(error)) {
	h.cbMu.Lock()
	defer h.cbMu.Unlock()
	h.onErr = fn
}

// Open opens the device in raw, non-canonical mode with VMIN=1, VTIME=0.
func (h *linuxHandle) Open() error {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.open {
		return nil
	}

	fd, err := syscall.Open(h.cfg.Device, syscall.O_RDWR|syscall.O_NOCTTY|syscall.O_NONBLOCK, 0666)
	if err != nil {
		return fmt.Errorf("open failed: %w", err)
	}
	if err := configureTermios(fd, h.cfg); err != nil {
		unix.Close(fd)
		return err
	}

	pipeFds := make([]int, 2)
	if err := unix.Pipe(pipeFds); err != nil {
		unix.Close(fd)
		return fmt.Errorf("pipe: %w", err)
	}

	h.fd, h.pipeR, h.pipeW = fd, pipeFds[0], pipeFds[1]
	h.done = make(chan struct{})
	h.wake = make(chan struct{}, 1)
	h.open = true

	h.wg = new(sync.WaitGroup)
	h.wg.Add(2)
	go h.readLoop(h.wg, fd, h.pipeR, h.done)
	go h.writeLoop(h.wg, fd, h.pipeR, h.done, h.wake)
	return nil
}

func configureTermios(fd int, cfg Config) error {
	baud, ok := baudToUnix(cfg.BaudRate)
	if !ok {
		return fmt.Errorf("%w: unsupported baud rate %d", ErrInvalidConfig, cfg.BaudRate)
	}

	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("get termios: %w", err)
	}

	// Raw mode
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.INPCK
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CSTOPB | unix.CRTSCTS
	termios.Cflag |= unix.CLOCAL | unix.CREAD

	switch cfg.ByteSize {
	case 5:
		termios.Cflag |= unix.CS5
	case 6:
		termios.Cflag |= unix.CS6
	case 7:
		termios.Cflag |= unix.CS7
	default:
		termios.Cflag |= unix.CS8
	}

	switch cfg.Parity {
	case ParityOdd:
		termios.Cflag |= unix.PARENB | unix.PARODD
		termios.Iflag |= unix.INPCK
	case ParityEven:
		termios.Cflag |= unix.PARENB
		termios.Iflag |= unix.INPCK
	}

	if cfg.StopBits == 2 {
		termios.Cflag |= unix.CSTOPB
	}

	termios.Cflag &^= unix.CBAUD
	termios.Cflag |= baud

	// Set VMIN=1, VTIME=0 for immediate reads
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		return fmt.Errorf("set termios: %w", err)
	}
	return nil
}

// Write queues data for the writer goroutine.
func (h *linuxHandle) Write(data []byte, done func(Status)) {
	h.mu.Lock()
	if !h.open {
		h.mu.Unlock()
		done(StatusNotOpen)
		return
	}
	h.queue = append(h.queue, linuxWrite{data: data, done: done})
	wake := h.wake
	h.mu.Unlock()
	select {
	case wake <- struct{}{}:
	default:
	}
}

func (h *linuxHandle) next() (linuxWrite, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.queue) == 0 {
		return linuxWrite{}, false
	}
	w := h.queue[0]
	h.queue[0] = linuxWrite{}
	h.queue = h.queue[1:]
	return w, true
}

func (h *linuxHandle) writeLoop(wg *sync.WaitGroup, fd, pipeR int, done, wake chan struct{}) {
	defer wg.Done()
	for {
		select {
		case <-done:
			return
		case <-wake:
		}
		for {
			w, ok := h.next()
			if !ok {
				break
			}
			w.done(h.writeAll(fd, pipeR, done, w.data))
		}
	}
}

// writeAll writes data to the non-blocking fd, waiting for POLLOUT at most
// WriteTimeout each time the device stalls. A zero WriteTimeout waits
// indefinitely.
func (h *linuxHandle) writeAll(fd, pipeR int, done chan struct{}, data []byte) Status {
	timeout := -1
	if h.cfg.WriteTimeout > 0 {
		timeout = int(h.cfg.WriteTimeout / time.Millisecond)
	}
	for len(data) > 0 {
		n, err := unix.Write(fd, data)
		if n > 0 {
			data = data[n:]
		}
		switch {
		case err == nil, errors.Is(err, unix.EINTR):
			continue
		case !errors.Is(err, unix.EAGAIN):
			return StatusFailure
		}
		pfd := []unix.PollFd{
			{Fd: int32(fd), Events: unix.POLLOUT},
			{Fd: int32(pipeR), Events: unix.POLLIN},
		}
		ready, err := unix.Poll(pfd, timeout)
		if err != nil && !errors.Is(err, unix.EINTR) {
			return StatusFailure
		}
		select {
		case <-done:
			return StatusNotOpen
		default:
		}
		if ready == 0 {
			return StatusIOBlock
		}
	}
	return StatusSuccess
}

func (h *linuxHandle) readLoop(wg *sync.WaitGroup, fd, pipeR int, done chan struct{}) {
	defer wg.Done()
	buf := make([]byte, readChunk)
	for {
		// Use poll to wait for data or kill signal
		pfd := []unix.PollFd{
			{Fd: int32(fd), Events: unix.POLLIN},
			{Fd: int32(pipeR), Events: unix.POLLIN},
		}
		if _, err := unix.Poll(pfd, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			h.fail(err)
			return
		}
		// Check killability
		select {
		case <-done:
			return
		default:
		}
		if pfd[1].Revents&unix.POLLIN != 0 {
			return
		}
		if pfd[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) == 0 {
			continue
		}
		n, err := unix.Read(fd, buf)
		switch {
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
			continue
		case err != nil:
			h.fail(err)
			return
		case n == 0:
			h.fail(io.EOF)
			return
		}
		h.cbMu.RLock()
		fn := h.onData
		h.cbMu.RUnlock()
		if fn != nil {
			fn(buf[:n])
		}
	}
}

func (h *linuxHandle) fail(err error) {
	h.cbMu.RLock()
	fn := h.onErr
	h.cbMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// Close stops both goroutines and returns without waiting for them, so it
// may be called from a data, error or write callback. The device is closed
// and queued writes complete with StatusNotOpen once both have exited. Safe
// to call multiple times.
func (h *linuxHandle) Close() error {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	h.mu.Lock()
	if !h.open {
		h.mu.Unlock()
		return nil
	}
	h.open = false
	queued := h.queue
	h.queue = nil
	fd, pipeR, pipeW, wg := h.fd, h.pipeR, h.pipeW, h.wg
	h.mu.Unlock()

	close(h.done)
	// Wake up poll using self-pipe
	unix.Write(pipeW, []byte{1})
	go func() {
		wg.Wait()
		unix.Close(fd)
		unix.Close(pipeR)
		unix.Close(pipeW)
		for _, w := range queued {
			w.done(StatusNotOpen)
		}
	}()
	return nil
}

func baudToUnix(baud int) (uint32, bool) {
	switch baud {
	case 50:
		return unix.B50, true
	case 75:
		return unix.B75, true
	case 110:
		return unix.B110, true
	case 134:
		return unix.B134, true
	case 150:
		return unix.B150, true
	case 200:
		return unix.B200, true
	case 300:
		return unix.B300, true
	case 600:
		return unix.B600, true
	case 1200:
		return unix.B1200, true
	case 1800:
		return unix.B1800, true
	case 2400:
		return unix.B2400, true
	case 4800:
		return unix.B4800, true
	case 9600:
		return unix.B9600, true
	case 19200:
		return unix.B19200, true
	case 38400:
		return unix.B38400, true
	case 57600:
		return unix.B57600, true
	case 115200:
		return unix.B115200, true
	case 230400:
		return unix.B230400, true
	case 460800:
		return unix.B460800, true
	case 921600:
		return unix.B921600, true
	case 1000000:
		return unix.B1000000, true
	case 2000000:
		return unix.B2000000, true
	case 4000000:
		return unix.B4000000, true
	default:
		return 0, false
	}
}
