// Package reactor settles serial port completions on a
// github.com/joeycumines/go-eventloop Loop, as promises.
//
// Importing the package registers serial.BackendEventLoop. Its handle is an
// *eventloop.Loop or a *Reactor:
//
//	loop, _ := eventloop.New()
//	go loop.Run(ctx)
//	err := serial.SetBackend(serial.BackendEventLoop, loop)
//
// Results are always handed to the loop with Loop.Submit and never settled
// from the native handle's goroutine. Only when the loop has terminated is a
// result settled directly, so it cannot be lost.
package reactor

import (
	"fmt"

	"github.com/joeycumines/go-eventloop"

	serial "github.com/luhtfiimanal/go-async-serial"
)

func init() {
	serial.RegisterBackend(serial.BackendEventLoop, func(handle any) (serial.Waiter, error) {
		switch h := handle.(type) {
		case *Reactor:
			if h != nil {
				return h, nil
			}
		case *eventloop.Loop:
			if h != nil {
				return New(h)
			}
		}
		return nil, fmt.Errorf("%w: event-loop backend needs an *eventloop.Loop, got %T", serial.ErrBackendUnavailable, handle)
	})
}

// Reactor binds serial completions to one event loop.
type Reactor struct {
	loop *eventloop.Loop
	js   *eventloop.JS
}

// New binds a Reactor to loop. It fails with serial.ErrBackendUnavailable
// when loop cannot host promises.
func New(loop *eventloop.Loop) (*Reactor, error) {
	js, err := eventloop.NewJS(loop)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", serial.ErrBackendUnavailable, err)
	}
	return &Reactor{loop: loop, js: js}, nil
}

// Loop returns the loop results are settled on.
func (r *Reactor) Loop() *eventloop.Loop { return r.loop }

// settle runs fn on the loop once c has completed.
func (r *Reactor) settle(c *serial.Completion, fn func()) {
	c.AfterFunc(func() {
		if err := r.loop.Submit(fn); err != nil {
			fn()
		}
	})
}

// Wait blocks the calling goroutine until the loop has run a task observing
// the completion. It must not be called on the loop goroutine.
func (r *Reactor) Wait(c *serial.Completion) {
	if c.Fired() {
		return
	}
	done := make(chan struct{})
	r.settle(c, func() { close(done) })
	<-done
}

// Read returns a promise fulfilled with the bytes read, a []byte, or
// rejected with the read error.
func (r *Reactor) Read(p *serial.Port, size int) *eventloop.ChainedPromise {
	promise, resolve, reject := r.js.NewChainedPromise()
	c := p.ReadAsync(size)
	r.settle(c, func() {
		data, err := c.Result()
		if err != nil {
			reject(err)
			return
		}
		resolve(data)
	})
	return promise
}

// Write returns a promise fulfilled with nil once data is written, or
// rejected with the write error.
func (r *Reactor) Write(p *serial.Port, data []byte) *eventloop.ChainedPromise {
	promise, resolve, reject := r.js.NewChainedPromise()
	c := p.WriteAsync(data)
	r.settle(c, func() {
		if _, err := c.Result(); err != nil {
			reject(err)
			return
		}
		resolve(nil)
	})
	return promise
}
