package reactor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/joeycumines/go-eventloop"
	"github.com/stretchr/testify/require"

	serial "github.com/luhtfiimanal/go-async-serial"
	"github.com/luhtfiimanal/go-async-serial/reactor"
	"github.com/luhtfiimanal/go-async-serial/serialtest"
)

func newLoop(t *testing.T) *eventloop.Loop {
	t.Helper()
	loop, err := eventloop.New()
	require.NoError(t, err)
	return loop
}

func runLoop(t *testing.T, loop *eventloop.Loop) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()
	t.Cleanup(func() {
		_ = loop.Shutdown(context.Background())
		cancel()
		<-done
	})
}

func openPort(t *testing.T, handle any) (*serial.Port, *serialtest.Handle) {
	t.Helper()
	r := serial.NewRegistry()
	require.NoError(t, r.Set(serial.BackendEventLoop, handle))

	h := serialtest.NewHandle()
	cfg := serial.DefaultConfig("fake0")
	cfg.ReadBufSize = 64
	p, err := serial.Open(cfg, serial.WithHandle(h), serial.WithRegistry(r), serial.WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p, h
}

func await(t *testing.T, p *eventloop.ChainedPromise) any {
	t.Helper()
	select {
	case res := <-p.ToChannel():
		return res
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for promise")
		return nil
	}
}

func TestBackend_RejectsHandle(t *testing.T) {
	r := serial.NewRegistry()
	require.NoError(t, r.Set(serial.BackendGreen, nil))
	err := r.Set(serial.BackendEventLoop, 42)
	require.ErrorIs(t, err, serial.ErrBackendUnavailable)
	require.Equal(t, serial.BackendGreen, r.Backend())
}

func TestWaiter_BlockingReadWrite(t *testing.T) {
	loop := newLoop(t)
	runLoop(t, loop)
	p, h := openPort(t, loop)

	h.DeliverAfter(100*time.Millisecond, []byte("Hello"))
	data, err := p.Read(5)
	require.NoError(t, err)
	require.Equal(t, []byte("Hello"), data)

	require.NoError(t, p.Write([]byte("ok")))
	h.SetWriteStatus(serial.StatusFailure)
	require.ErrorIs(t, p.Write([]byte("x")), serial.ErrWriteFailed)
}

func TestReactor_ReadPromise(t *testing.T) {
	loop := newLoop(t)
	runLoop(t, loop)
	rx, err := reactor.New(loop)
	require.NoError(t, err)
	p, h := openPort(t, rx)

	promise := rx.Read(p, 5)
	require.Equal(t, eventloop.Pending, promise.State())
	h.Deliver([]byte("Hello, world!"))

	res := await(t, promise)
	require.Equal(t, eventloop.Fulfilled, promise.State())
	require.Equal(t, []byte("Hello"), res)
}

func TestReactor_WritePromiseRejected(t *testing.T) {
	loop := newLoop(t)
	runLoop(t, loop)
	rx, err := reactor.New(loop)
	require.NoError(t, err)
	p, h := openPort(t, rx)
	h.SetWriteStatus(serial.StatusFailure)

	promise := rx.Write(p, []byte("x"))
	caught := make(chan error, 1)
	promise.Catch(func(reason any) any {
		caught <- reason.(error)
		return nil
	})

	select {
	case err := <-caught:
		require.ErrorIs(t, err, serial.ErrWriteFailed)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for rejection")
	}
	require.Equal(t, eventloop.Rejected, promise.State())
}

func TestReactor_SettlesOnLoop(t *testing.T) {
	loop := newLoop(t)
	rx, err := reactor.New(loop)
	require.NoError(t, err)
	p, h := openPort(t, rx)

	// the read completes on the handle goroutine, but the loop is not running
	promise := rx.Read(p, 0)
	h.Deliver([]byte("queued"))
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, eventloop.Pending, promise.State())

	runLoop(t, loop)
	require.Equal(t, []byte("queued"), await(t, promise))
}

func TestReactor_TerminatedLoopSettlesDirectly(t *testing.T) {
	loop := newLoop(t)
	rx, err := reactor.New(loop)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()
	cancel()
	err = <-done
	require.True(t, err == nil || errors.Is(err, context.Canceled) || errors.Is(err, eventloop.ErrLoopTerminated), "run: %v", err)
	require.Eventually(t, func() bool { return loop.Submit(func() {}) != nil }, time.Second, 10*time.Millisecond)

	p, h := openPort(t, rx)
	promise := rx.Read(p, 0)
	h.Deliver([]byte("late"))
	require.Equal(t, []byte("late"), await(t, promise))
}
