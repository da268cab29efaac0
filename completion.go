package serial

import (
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Completion is the pending result of one Read or Write. It is resolved
// exactly once, usually from a goroutine owned by the native handle, and is
// safe for concurrent use.
//
// A Completion is the future handed out by ReadAsync and WriteAsync. The
// Waiter implementations and the backend packages build on Done, Fired and
// AfterFunc.
type Completion struct {
	done     chan struct{}
	fired    atomic.Bool
	estimate time.Duration
	report   func(error)

	mu    sync.Mutex
	data  []byte
	err   error
	after []func()
}

func newCompletion(estimate time.Duration, report func(error)) *Completion {
	return &Completion{
		done:     make(chan struct{}),
		estimate: estimate,
		report:   report,
	}
}

// Done returns a channel that is closed once the operation completes.
func (c *Completion) Done() <-chan struct{} { return c.done }

// Fired reports whether the operation has completed.
func (c *Completion) Fired() bool { return c.fired.Load() }

// Estimate is the expected transmission time of the operation, used to size
// polling intervals.
func (c *Completion) Estimate() time.Duration { return c.estimate }

// Result returns the outcome. Before Fired reports true it returns nil, nil.
func (c *Completion) Result() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data, c.err
}

// Await blocks until the operation completes.
func (c *Completion) Await() ([]byte, error) {
	<-c.done
	return c.Result()
}

// AwaitTimeout is Await bounded by d. On timeout it returns ErrTimeout and
// the operation stays pending.
func (c *Completion) AwaitTimeout(d time.Duration) ([]byte, error) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-c.done:
		return c.Result()
	case <-t.C:
		return nil, ErrTimeout
	}
}

// AfterFunc arranges for f to run once the operation completes, on the
// goroutine that completes it. If it already has, f runs immediately on the
// calling goroutine. A panic in f is recovered and reported.
func (c *Completion) AfterFunc(f func()) {
	c.mu.Lock()
	if !c.fired.Load() {
		c.after = append(c.after, f)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.run(f)
}

func (c *Completion) resolve(data []byte, err error) bool {
	c.mu.Lock()
	if c.fired.Load() {
		c.mu.Unlock()
		return false
	}
	c.data, c.err = data, err
	after := c.after
	c.after = nil
	c.fired.Store(true)
	close(c.done)
	c.mu.Unlock()
	for _, f := range after {
		c.run(f)
	}
	return true
}

func (c *Completion) run(f func()) {
	defer func() {
		if r := recover(); r != nil && c.report != nil {
			c.report(&ListenerPanicError{Event: "completion", Value: r, Stack: debug.Stack()})
		}
	}()
	f()
}
