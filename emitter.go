package serial

import (
	"runtime/debug"
	"slices"
	"sync"
)

// EventData is emitted with every chunk of bytes received by the native
// handle.
const EventData = "data"

// eventReadable carries arrivals to pending reads. It is kept apart from
// EventData so RemoveAllListeners(EventData) cannot strand a read.
const eventReadable = "\x00readable"

// eventError carries asynchronous failures reported by the native handle.
const eventError = "error"

// Subscription identifies one listener registration.
type Subscription uint64

type listener[T any] struct {
	id Subscription
	fn func(T)
}

// emitter is a publish/subscribe registry keyed by event name. Listeners run
// synchronously on the emitting goroutine, in subscription order.
type emitter[T any] struct {
	mu        sync.Mutex
	next      Subscription
	listeners map[string][]listener[T]
	report    func(error)
}

func newEmitter[T any](report func(error)) *emitter[T] {
	return &emitter[T]{
		listeners: make(map[string][]listener[T]),
		report:    report,
	}
}

func (e *emitter[T]) on(event string, fn func(T)) Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next++
	e.listeners[event] = append(e.listeners[event], listener[T]{id: e.next, fn: fn})
	return e.next
}

func (e *emitter[T]) off(event string, sub Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ls := slices.DeleteFunc(e.listeners[event], func(l listener[T]) bool { return l.id == sub })
	if len(ls) == 0 {
		delete(e.listeners, event)
		return
	}
	e.listeners[event] = ls
}

func (e *emitter[T]) offAll(event string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.listeners, event)
}

func (e *emitter[T]) count(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[event])
}

// emit calls every listener registered for event when emit was called.
// A listener may unsubscribe itself (or others) while running.
func (e *emitter[T]) emit(event string, data T) {
	e.mu.Lock()
	ls := slices.Clone(e.listeners[event])
	e.mu.Unlock()
	for _, l := range ls {
		e.call(event, l.fn, data)
	}
}

func (e *emitter[T]) call(event string, fn func(T), data T) {
	defer func() {
		if r := recover(); r != nil {
			e.fail(event, r)
		}
	}()
	fn(data)
}

func (e *emitter[T]) fail(event string, value any) {
	if e.report != nil {
		e.report(&ListenerPanicError{Event: event, Value: value, Stack: debug.Stack()})
	}
}
