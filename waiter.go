package serial

import "time"

// DefaultMaxPollInterval caps the sleep slice of polling waiters.
const DefaultMaxPollInterval = 50 * time.Millisecond

// TransmissionTime estimates how long size bytes take on the wire at baud,
// counting 10 bits per byte (start, 8 data, stop) whatever the configured
// framing. It returns 0 when baud is not positive.
func TransmissionTime(size, baud int) time.Duration {
	if baud <= 0 || size <= 0 {
		return 0
	}
	return time.Duration(size) * 10 * time.Second / time.Duration(baud)
}

// PollInterval samples roughly 20 times across stt, never sleeping longer
// than maxInterval. A non-positive stt yields maxInterval.
func PollInterval(stt, maxInterval time.Duration) time.Duration {
	if maxInterval <= 0 {
		maxInterval = DefaultMaxPollInterval
	}
	d := stt / 20
	if d <= 0 || d > maxInterval {
		return maxInterval
	}
	return d
}

// Waiter suspends the caller of a blocking Read or Write until the
// Completion fires. Each concurrency backend provides one implementation; a
// Port picks its Waiter once, at construction.
type Waiter interface {
	Wait(c *Completion)
}

// DirectWaiter blocks the calling goroutine until the native callback
// delivers the result.
type DirectWaiter struct{}

// Wait blocks until c fires.
func (DirectWaiter) Wait(c *Completion) { <-c.Done() }

// FutureWaiter is the thread-future backend: callers are expected to use
// ReadAsync and WriteAsync, and the blocking calls await that same future.
type FutureWaiter struct{}

func (FutureWaiter) Wait(c *Completion) { _, _ = c.Await() }

// CooperativeWaiter never parks on the completion. It samples Fired in sleep
// slices sized from the transmission time estimate, for callers whose
// scheduler only regains control from sleeps.
type CooperativeWaiter struct {
	// Estimate overrides Completion.Estimate when set.
	Estimate func(c *Completion) time.Duration

	// MaxInterval caps each sleep, DefaultMaxPollInterval if zero.
	MaxInterval time.Duration

	// Sleep defaults to time.Sleep.
	Sleep func(time.Duration)
}

func (w CooperativeWaiter) Wait(c *Completion) {
	if c.Fired() {
		return
	}
	interval := PollInterval(w.estimate(c), w.MaxInterval)
	sleep := w.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	for !c.Fired() {
		sleep(interval)
	}
}

func (w CooperativeWaiter) estimate(c *Completion) time.Duration {
	if w.Estimate != nil {
		return w.Estimate(c)
	}
	return c.Estimate()
}
