package serial

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// Option configures a Port.
type Option func(*options)

type options struct {
	handle      Handle
	waiter      Waiter
	registry    *Registry
	logger      *Logger
	loggerSet   bool
	listenerErr func(error)
}

// WithHandle replaces the native handle, e.g. with a serialtest.Handle.
func WithHandle(h Handle) Option {
	return func(o *options) { o.handle = h }
}

// WithWaiter fixes the Waiter used by Read and Write, taking precedence over
// any registry.
func WithWaiter(w Waiter) Option {
	return func(o *options) { o.waiter = w }
}

// WithRegistry resolves the Waiter from r instead of the default registry.
func WithRegistry(r *Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(l *Logger) Option {
	return func(o *options) { o.logger, o.loggerSet = l, true }
}

// WithListenerErrorHandler receives every *ListenerPanicError recovered from
// a data listener or completion callback.
func WithListenerErrorHandler(fn func(error)) Option {
	return func(o *options) { o.listenerErr = fn }
}

// Port is an asynchronous serial port. Reads and writes complete with the
// same bytes and errors whichever delivery shape is used: blocking (Read,
// Write), callback (ReadFunc, WriteFunc) or future (ReadAsync, WriteAsync).
// It is safe for concurrent use by multiple goroutines, though only one read
// may be outstanding at a time.
type Port struct {
	cfg         Config
	handle      Handle
	waiter      Waiter
	logger      *Logger
	limiter     *limiter
	listenerErr func(error)
	events      *emitter[[]byte]
	errs        *emitter[error]
	buf         *receiveBuffer // nil when unbuffered
	dropped     atomic.Uint64

	mu      sync.Mutex
	open    bool
	closed  chan struct{} // closed by Close, replaced by Open
	pending *pendingRead
	rxErr   error // receive failure reported since Open

	lineMu   sync.Mutex
	lineRest string // received after the last line returned by ReadLine
}

// pendingRead is the single outstanding read of a Port. It is served at most
// once, by whichever of the submitting goroutine, an arrival or Close claims
// it first.
type pendingRead struct {
	c    *Completion
	size int
	sub  Subscription

	mu     sync.Mutex
	served bool
}

func (r *pendingRead) claim(get func() []byte) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.served {
		return nil
	}
	data := get()
	if data != nil {
		r.served = true
	}
	return data
}

func (r *pendingRead) cancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.served {
		return false
	}
	r.served = true
	return true
}

// New creates a closed Port for cfg. Unless WithHandle is given it creates
// the native handle for the host, failing with ErrPlatformUnsupported where
// there is none.
func New(cfg Config, opts ...Option) (*Port, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	h := o.handle
	if h == nil {
		if cfg.Device == "" {
			return nil, fmt.Errorf("%w: empty device", ErrInvalidConfig)
		}
		var err error
		if h, err = newNativeHandle(cfg); err != nil {
			return nil, err
		}
	}

	w := o.waiter
	if w == nil {
		r := o.registry
		if r == nil {
			r = DefaultRegistry()
		}
		w = r.Waiter()
	}

	logger := o.logger
	if !o.loggerSet {
		logger = defaultLogger()
	}

	p := &Port{
		cfg:         cfg,
		handle:      h,
		waiter:      w,
		logger:      logger,
		limiter:     newLimiter(),
		listenerErr: o.listenerErr,
		closed:      make(chan struct{}),
	}
	close(p.closed)
	p.events = newEmitter[[]byte](p.report)
	p.errs = newEmitter[error](p.report)
	if cfg.ReadBufSize > 0 {
		p.buf = newReceiveBuffer(cfg.ReadBufSize)
	}
	h.SetDataCallback(p.onData)
	if er, ok := h.(ErrorReporter); ok {
		er.SetErrorCallback(p.onError)
	}
	return p, nil
}

// Open creates a Port for cfg and opens it.
func Open(cfg Config, opts ...Option) (*Port, error) {
	p, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := p.Open(); err != nil {
		return nil, err
	}
	return p, nil
}

// Open opens the native handle. Opening an open port is a no-op.
func (p *Port) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.open {
		return nil
	}
	if err := p.handle.Open(); err != nil {
		return fmt.Errorf("serial: open %s: %w", p.cfg.Device, err)
	}
	p.open = true
	p.rxErr = nil
	p.closed = make(chan struct{})
	p.logger.Info().
		Str("device", p.cfg.Device).
		Int("baud", p.cfg.BaudRate).
		Int("bufsize", p.cfg.ReadBufSize).
		Log("serial port opened")
	return nil
}

// Close closes the native handle and fails a pending read with ErrClosed.
// Safe to call multiple times, and from any listener or callback.
func (p *Port) Close() error {
	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		return nil
	}
	p.open = false
	p.rxErr = nil
	close(p.closed)
	r := p.pending
	p.mu.Unlock()

	err := p.handle.Close()
	if r != nil && r.cancel() {
		p.finish(r, nil, ErrClosed)
	}
	p.logger.Info().Str("device", p.cfg.Device).Log("serial port closed")
	if err != nil {
		return fmt.Errorf("serial: close %s: %w", p.cfg.Device, err)
	}
	return nil
}

// IsOpen reports whether the port is open.
func (p *Port) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

// Config returns the configuration the port was created with.
func (p *Port) Config() Config { return p.cfg }

// Buffered returns the number of received bytes waiting in the receive
// buffer. It is always zero for an unbuffered port.
func (p *Port) Buffered() int {
	if p.buf == nil {
		return 0
	}
	return p.buf.len()
}

// Dropped returns the number of received bytes discarded because the receive
// buffer was full.
func (p *Port) Dropped() uint64 { return p.dropped.Load() }

// On subscribes fn to event. Listeners run on the goroutine that delivers
// the data, in subscription order, and must not retain data.
func (p *Port) On(event string, fn func(data []byte)) Subscription {
	return p.events.on(event, fn)
}

// Off removes the listener sub from event.
func (p *Port) Off(event string, sub Subscription) { p.events.off(event, sub) }

// RemoveAllListeners removes every listener of event. Pending reads are
// unaffected.
func (p *Port) RemoveAllListeners(event string) { p.events.offAll(event) }

// OnError subscribes fn to receive failures reported by the native handle.
func (p *Port) OnError(fn func(err error)) Subscription {
	return p.errs.on(eventError, fn)
}

// OffError removes an error listener added with OnError.
func (p *Port) OffError(sub Subscription) { p.errs.off(eventError, sub) }

// Write sends data and waits for the native handle to complete it. The
// caller may reuse data as soon as Write, WriteFunc or WriteAsync returns.
func (p *Port) Write(data []byte) error {
	c := p.WriteAsync(data)
	p.waiter.Wait(c)
	_, err := c.Result()
	return err
}

// WriteFunc sends data and calls cb with the outcome, on the goroutine that
// completes the write.
func (p *Port) WriteFunc(data []byte, cb func(err error)) {
	c := p.WriteAsync(data)
	c.AfterFunc(func() {
		_, err := c.Result()
		cb(err)
	})
}

// WriteAsync sends data and returns its pending outcome.
func (p *Port) WriteAsync(data []byte) *Completion {
	c := newCompletion(TransmissionTime(len(data), p.cfg.BaudRate), p.report)
	p.handle.Write(bytes.Clone(data), func(s Status) {
		var err error
		if s != StatusSuccess {
			err = &WriteError{Status: s}
			p.logger.Warning().
				Str("device", p.cfg.Device).
				Str("status", s.String()).
				Int("len", len(data)).
				Log("serial write failed")
		}
		c.resolve(nil, err)
	})
	return c
}

// Read returns up to size bytes, waiting for an arrival if none are
// buffered. A size of zero or less means no limit. Reads are short: a read
// is served from the buffer, or from a single arrival, never aggregated.
func (p *Port) Read(size int) ([]byte, error) {
	c := p.ReadAsync(size)
	p.waiter.Wait(c)
	return c.Result()
}

// ReadFunc reads like Read and calls cb with the outcome.
func (p *Port) ReadFunc(size int, cb func(data []byte, err error)) {
	c := p.ReadAsync(size)
	c.AfterFunc(func() { cb(c.Result()) })
}

// ReadAsync reads like Read and returns the pending outcome.
func (p *Port) ReadAsync(size int) *Completion {
	c := newCompletion(TransmissionTime(size, p.cfg.BaudRate), p.report)

	p.mu.Lock()
	switch {
	case !p.open:
		p.mu.Unlock()
		c.resolve(nil, ErrNotOpen)
		return c
	case p.pending != nil:
		p.mu.Unlock()
		c.resolve(nil, ErrConcurrentRead)
		return c
	case p.rxErr != nil:
		// no more data will arrive; serve what is left, then the failure
		err := p.rxErr
		p.mu.Unlock()
		if p.buf != nil {
			if data := p.buf.take(size); data != nil {
				c.resolve(data, nil)
				return c
			}
		}
		c.resolve(nil, err)
		return c
	}
	r := &pendingRead{c: c, size: size}
	p.pending = r
	r.sub = p.events.on(eventReadable, func(data []byte) { p.serve(r, data) })
	p.mu.Unlock()

	// data may have been buffered before the listener was in place
	if p.buf != nil {
		if data := r.claim(func() []byte { return p.buf.take(size) }); data != nil {
			p.finish(r, data, nil)
		}
	}
	return c
}

func (p *Port) serve(r *pendingRead, arrival []byte) {
	get := func() []byte { return p.buf.take(r.size) }
	if p.buf == nil {
		get = func() []byte {
			n := len(arrival)
			if r.size > 0 && r.size < n {
				n = r.size
			}
			return bytes.Clone(arrival[:n])
		}
	}
	if data := r.claim(get); data != nil {
		p.finish(r, data, nil)
	}
}

func (p *Port) finish(r *pendingRead, data []byte, err error) {
	p.mu.Lock()
	if p.pending == r {
		p.pending = nil
	}
	p.events.off(eventReadable, r.sub)
	p.mu.Unlock()
	r.c.resolve(data, err)
}

// onData is the native data callback.
func (p *Port) onData(data []byte) {
	if len(data) == 0 {
		return
	}
	if p.buf != nil {
		if n := p.buf.write(data); n > 0 {
			total := p.dropped.Add(uint64(n))
			if p.limiter.allow(logOverflow) {
				p.logger.Warning().
					Str("device", p.cfg.Device).
					Int("dropped", n).
					Uint64("total_dropped", total).
					Int("bufsize", p.cfg.ReadBufSize).
					Log("receive buffer full, dropping data")
			}
		}
	}
	p.events.emit(eventReadable, data)
	p.events.emit(EventData, data)
}

// onError is the native error callback. No more data will arrive until the
// port is reopened, so the pending read and every later one fail with err.
func (p *Port) onError(err error) {
	err = fmt.Errorf("serial: read %s: %w", p.cfg.Device, err)
	p.logger.Err().Err(err).Log("serial receive failed")
	p.mu.Lock()
	if p.open {
		p.rxErr = err
	}
	r := p.pending
	p.mu.Unlock()
	if r != nil && r.cancel() {
		p.finish(r, nil, err)
	}
	p.errs.emit(eventError, err)
}

func (p *Port) report(err error) {
	if p.limiter.allow(logListenerPanic) {
		p.logger.Err().Err(err).Str("device", p.cfg.Device).Log("listener panicked")
	}
	if p.listenerErr != nil {
		p.listenerErr(err)
	}
}

// WriteLine writes line followed by newline, blocking until it completes.
func (p *Port) WriteLine(line string, newline string) error {
	return p.Write([]byte(line + newline))
}

// ReadLine blocks until a line terminated by Config.Delimiter is received
// and returns it without the delimiter. Bytes after the delimiter are kept
// for the next ReadLine, and dropped when the port closes. It fails like
// Read on a closed port or after a receive error.
func (p *Port) ReadLine() (string, error) {
	p.lineMu.Lock()
	defer p.lineMu.Unlock()
	delim := p.cfg.delimiter()
	for {
		if idx := strings.Index(p.lineRest, delim); idx >= 0 {
			line := p.lineRest[:idx]
			p.lineRest = p.lineRest[idx+len(delim):]
			return line, nil
		}
		data, err := p.Read(0)
		if err != nil {
			if errors.Is(err, ErrClosed) || errors.Is(err, ErrNotOpen) {
				p.lineRest = ""
			}
			return "", err
		}
		p.lineRest += string(data)
	}
}

// ReadLinesLoop calls onLine for each line received, split by
// Config.Delimiter, until the port is closed or the native handle reports a
// receive error, which is passed to onError. A normal Close does not call
// onError. Received chunks queue without bound while onLine runs, so a slow
// onLine never stalls the native reader.
func (p *Port) ReadLinesLoop(onLine func(string), onError func(error)) {
	var (
		qmu   sync.Mutex
		queue [][]byte
	)
	ready := make(chan struct{}, 1)
	failed := make(chan error, 1)
	sub := p.On(EventData, func(data []byte) {
		qmu.Lock()
		queue = append(queue, bytes.Clone(data))
		qmu.Unlock()
		select {
		case ready <- struct{}{}:
		default:
		}
	})
	defer p.Off(EventData, sub)
	esub := p.OnError(func(err error) {
		select {
		case failed <- err:
		default:
		}
	})
	defer p.OffError(esub)

	p.mu.Lock()
	closed, rxErr := p.closed, p.rxErr
	p.mu.Unlock()
	if rxErr != nil {
		onError(rxErr)
		return
	}

	delim := p.cfg.delimiter()
	var pending string
	drain := func() {
		qmu.Lock()
		chunks := queue
		queue = nil
		qmu.Unlock()
		for _, data := range chunks {
			pending += string(data)
		}
		for {
			idx := strings.Index(pending, delim)
			if idx < 0 {
				return
			}
			onLine(pending[:idx])
			pending = pending[idx+len(delim):]
		}
	}
	for {
		select {
		case <-ready:
			drain()
		case err := <-failed:
			drain()
			onError(err)
			return
		case <-closed:
			return
		}
	}
}
