// Package coroutine delivers serial port completions to coroutines running
// on a github.com/b97tsk/async Executor.
//
// Importing the package registers serial.BackendCoroutine, whose handle is
// the *async.Executor to run on:
//
//	var exec async.Executor
//	exec.Autorun(func() { go exec.Run() })
//	err := serial.SetBackend(serial.BackendCoroutine, &exec)
//
// Completions are never awaited by parking the executor. A coroutine checks
// the completion flag, and when it is not yet set, yields and is resumed by a
// timer after one poll interval.
package coroutine

import (
	"fmt"
	"time"

	"github.com/b97tsk/async"

	serial "github.com/luhtfiimanal/go-async-serial"
)

func init() {
	serial.RegisterBackend(serial.BackendCoroutine, func(handle any) (serial.Waiter, error) {
		e, ok := handle.(*async.Executor)
		if !ok || e == nil {
			return nil, fmt.Errorf("%w: coroutine backend needs an *async.Executor, got %T", serial.ErrBackendUnavailable, handle)
		}
		return &Waiter{Executor: e}, nil
	})
}

// Await returns a Task that ends once c has completed. Between checks the
// coroutine sleeps for serial.PollInterval of the completion's estimate,
// capped by maxInterval (serial.DefaultMaxPollInterval if zero).
func Await(c *serial.Completion, maxInterval time.Duration) async.Task {
	interval := serial.PollInterval(c.Estimate(), maxInterval)
	return func(co *async.Coroutine) async.Result {
		if c.Fired() {
			return co.End()
		}
		e := co.Executor()
		co.Escape()
		tm := time.AfterFunc(interval, func() {
			e.Spawn(async.Do(func() {
				co.Unescape()
				co.Resume()
			}))
		})
		co.CleanupFunc(func() {
			if tm.Stop() {
				co.Unescape()
			}
		})
		return co.Yield()
	}
}

// Read returns a Task that reads up to size bytes from p and then calls f
// with the outcome, on the executor.
func Read(p *serial.Port, size int, f func(data []byte, err error)) async.Task {
	return func(co *async.Coroutine) async.Result {
		c := p.ReadAsync(size)
		return co.Transition(Await(c, 0).Then(async.Do(func() { f(c.Result()) })))
	}
}

// Write returns a Task that writes data to p and then calls f with the
// outcome, on the executor.
func Write(p *serial.Port, data []byte, f func(err error)) async.Task {
	return func(co *async.Coroutine) async.Result {
		c := p.WriteAsync(data)
		return co.Transition(Await(c, 0).Then(async.Do(func() {
			_, err := c.Result()
			f(err)
		})))
	}
}

// Waiter is the serial.Waiter of the coroutine backend. Wait blocks the
// calling goroutine until a coroutine spawned on Executor has observed the
// completion. It must not be called from a task running on Executor; use
// Read and Write there.
type Waiter struct {
	Executor *async.Executor

	// MaxInterval caps each sleep, serial.DefaultMaxPollInterval if zero.
	MaxInterval time.Duration
}

// Wait blocks until a coroutine on w.Executor has seen c complete.
func (w *Waiter) Wait(c *serial.Completion) {
	if c.Fired() {
		return
	}
	done := make(chan struct{})
	w.Executor.Spawn(Await(c, w.MaxInterval).Then(async.Do(func() { close(done) })))
	<-done
}
